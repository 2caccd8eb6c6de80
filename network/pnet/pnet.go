// Copyright (C) 2019-2024 Algorand, Inc.
// This file is part of go-algorand
//
// go-algorand is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// go-algorand is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with go-algorand.  If not, see <https://www.gnu.org/licenses/>.

// Package pnet implements the private network preamble used by libp2p: each
// side sends a random 24 byte nonce in clear and from then on XORs its output
// with XSalsa20(psk, local nonce) while decrypting its input with
// XSalsa20(psk, remote nonce).
package pnet

import (
	"crypto/cipher"
	"errors"
	"fmt"
	"io"

	"github.com/davidlazar/go-crypto/salsa20"
	ipnet "github.com/libp2p/go-libp2p/core/pnet"
	"golang.org/x/crypto/blake2b"

	"github.com/algorand/go-meshnet/network/framing"
)

// NetworkPrefix is prepended to the chain id before hashing it into a key.
const NetworkPrefix = "/coda/0.0.1/"

var (
	// ErrNonce is returned when the local nonce is set twice.
	ErrNonce = errors.New("pnet: local nonce already set")
	// ErrNotReady is returned when data is sent before the local nonce is set.
	ErrNotReady = errors.New("pnet: local nonce not set")
)

// DeriveKey returns blake2b-256(NetworkPrefix || chainID).
func DeriveKey(chainID string) framing.Key {
	return framing.Key(blake2b.Sum256([]byte(NetworkPrefix + chainID)))
}

// LoadKeyFile reads a key in the libp2p "/key/swarm/psk/1.0.0/" file format.
func LoadKeyFile(r io.Reader) (framing.Key, error) {
	psk, err := ipnet.DecodeV1PSK(r)
	if err != nil {
		return framing.Key{}, fmt.Errorf("pnet: decoding key file: %w", err)
	}
	var k framing.Key
	if len(psk) != len(k) {
		return k, fmt.Errorf("pnet: key file holds %d bytes, expected %d", len(psk), len(k))
	}
	copy(k[:], psk)
	return k, nil
}

// State is the per connection PNet layer.
type State struct {
	key framing.Key

	LocalNonce  *framing.Nonce `json:",omitempty"`
	RemoteNonce *framing.Nonce `json:",omitempty"`

	// Sent and Received count cipher bytes after the nonces.
	Sent     uint64
	Received uint64

	pending []byte
	send    cipher.Stream
	recv    cipher.Stream
}

// MakeState returns an empty PNet state keyed with psk.
func MakeState(psk framing.Key) State {
	return State{key: psk}
}

// Ready reports whether both directions are keyed.
func (s *State) Ready() bool {
	return s.send != nil && s.recv != nil
}

// SetupNonce keys the send direction and returns the bytes to write in clear.
func (s *State) SetupNonce(nonce framing.Nonce) ([]byte, error) {
	if s.LocalNonce != nil {
		return nil, ErrNonce
	}
	n := nonce
	s.LocalNonce = &n
	s.send = salsa20.New((*[32]byte)(&s.key), n[:])
	return append([]byte(nil), n[:]...), nil
}

// Incoming consumes raw bytes from the socket and returns the plaintext they
// carry. Bytes are buffered until the remote nonce is complete.
func (s *State) Incoming(data []byte) []byte {
	if s.recv == nil {
		s.pending = append(s.pending, data...)
		if len(s.pending) < framing.NonceSize {
			return nil
		}
		var n framing.Nonce
		copy(n[:], s.pending)
		s.RemoteNonce = &n
		s.recv = salsa20.New((*[32]byte)(&s.key), n[:])
		data = s.pending[framing.NonceSize:]
		s.pending = nil
	}
	if len(data) == 0 {
		return nil
	}
	out := make([]byte, len(data))
	s.recv.XORKeyStream(out, data)
	s.Received += uint64(len(data))
	return out
}

// Outgoing encrypts plaintext for the socket.
func (s *State) Outgoing(data []byte) ([]byte, error) {
	if s.send == nil {
		return nil, ErrNotReady
	}
	out := make([]byte, len(data))
	s.send.XORKeyStream(out, data)
	s.Sent += uint64(len(data))
	return out, nil
}
