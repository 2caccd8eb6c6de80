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

// Package noise runs the libp2p Noise XX handshake and the framed transport
// that follows it, without touching a socket.
package noise

import (
	"bytes"
	"errors"
	"fmt"

	flynn "github.com/flynn/noise"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/algorand/go-meshnet/network/framing"
)

// MaxPlaintext is the largest chunk sealed into one transport message.
const MaxPlaintext = 65535 - 16

var (
	// ErrDecrypt is returned when a transport message fails authentication.
	ErrDecrypt = errors.New("noise: decryption failed")
	// ErrHandshake is returned for any handshake failure.
	ErrHandshake = errors.New("noise: handshake failed")
	// ErrNotEstablished is returned when sending before the handshake finished.
	ErrNotEstablished = errors.New("noise: channel not established")
)

var cipherSuite = flynn.NewCipherSuite(flynn.DH25519, flynn.CipherChaChaPoly, flynn.HashSHA256)

// Stage tracks handshake progress.
type Stage int

const (
	// AwaitMessage1 is a responder waiting for "e".
	AwaitMessage1 Stage = iota
	// AwaitMessage2 is an initiator waiting for "e, ee, s, es".
	AwaitMessage2
	// AwaitMessage3 is a responder waiting for "s, se".
	AwaitMessage3
	// Established means both cipher states are installed.
	Established
)

func (s Stage) String() string {
	switch s {
	case AwaitMessage1:
		return "await-msg1"
	case AwaitMessage2:
		return "await-msg2"
	case AwaitMessage3:
		return "await-msg3"
	case Established:
		return "established"
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

// StaticKeypair derives the Curve25519 static key from a 32 byte seed.
func StaticKeypair(seed framing.Key) (flynn.DHKey, error) {
	return flynn.DH25519.GenerateKeypair(bytes.NewReader(seed[:]))
}

// State is one side of a Noise session.
type State struct {
	Initiator  bool
	Stage      Stage
	RemotePeer peer.ID `json:",omitempty"`

	payload []byte
	hs      *flynn.HandshakeState
	send    *flynn.CipherState
	recv    *flynn.CipherState
	buf     []byte
}

// Result is what a call to Incoming produced.
type Result struct {
	// Out holds handshake bytes destined to the remote.
	Out []byte
	// Plain holds decrypted transport data.
	Plain []byte
	// Established is set on the call that completed the handshake.
	Established bool
}

// Start creates the handshake state. For the initiator it also returns the
// first handshake message, already framed.
func Start(initiator bool, keys Keys) (*State, []byte, error) {
	static, err := StaticKeypair(keys.StaticSeed)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	hs, err := flynn.NewHandshakeState(flynn.Config{
		CipherSuite:   cipherSuite,
		Random:        bytes.NewReader(keys.EphemeralSeed[:]),
		Pattern:       flynn.HandshakeXX,
		Initiator:     initiator,
		StaticKeypair: static,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	s := &State{Initiator: initiator, hs: hs, payload: keys.Payload}
	if !initiator {
		s.Stage = AwaitMessage1
		return s, nil, nil
	}
	msg, _, _, err := hs.WriteMessage(nil, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	s.Stage = AwaitMessage2
	return s, framing.AppendU16Frame(nil, msg), nil
}

// Established reports whether transport messages can flow.
func (s *State) Established() bool {
	return s.Stage == Established
}

// Incoming consumes framed bytes from the remote.
func (s *State) Incoming(data []byte) (Result, error) {
	var res Result
	s.buf = append(s.buf, data...)
	for {
		frame, rest, ok := framing.ReadU16Frame(s.buf)
		if !ok {
			return res, nil
		}
		s.buf = rest
		if s.Stage == Established {
			plain, err := s.recv.Decrypt(nil, nil, frame)
			if err != nil {
				return res, ErrDecrypt
			}
			res.Plain = append(res.Plain, plain...)
			continue
		}
		out, err := s.handshake(frame)
		if err != nil {
			return res, err
		}
		res.Out = append(res.Out, out...)
		if s.Stage == Established {
			res.Established = true
		}
	}
}

func (s *State) handshake(msg []byte) ([]byte, error) {
	switch s.Stage {
	case AwaitMessage1:
		if _, _, _, err := s.hs.ReadMessage(nil, msg); err != nil {
			return nil, fmt.Errorf("%w: reading msg1: %v", ErrHandshake, err)
		}
		out, _, _, err := s.hs.WriteMessage(nil, s.payload)
		if err != nil {
			return nil, fmt.Errorf("%w: writing msg2: %v", ErrHandshake, err)
		}
		s.Stage = AwaitMessage3
		return framing.AppendU16Frame(nil, out), nil

	case AwaitMessage2:
		payload, _, _, err := s.hs.ReadMessage(nil, msg)
		if err != nil {
			return nil, fmt.Errorf("%w: reading msg2: %v", ErrHandshake, err)
		}
		if err := s.verify(payload); err != nil {
			return nil, err
		}
		out, cs1, cs2, err := s.hs.WriteMessage(nil, s.payload)
		if err != nil {
			return nil, fmt.Errorf("%w: writing msg3: %v", ErrHandshake, err)
		}
		s.establish(cs1, cs2)
		return framing.AppendU16Frame(nil, out), nil

	case AwaitMessage3:
		payload, cs1, cs2, err := s.hs.ReadMessage(nil, msg)
		if err != nil {
			return nil, fmt.Errorf("%w: reading msg3: %v", ErrHandshake, err)
		}
		if err := s.verify(payload); err != nil {
			return nil, err
		}
		s.establish(cs2, cs1)
		return nil, nil
	}
	panic(fmt.Sprintf("noise: handshake message in stage %v", s.Stage))
}

func (s *State) verify(payload []byte) error {
	id, err := VerifyPayload(payload, s.hs.PeerStatic())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	s.RemotePeer = id
	return nil
}

func (s *State) establish(send, recv *flynn.CipherState) {
	s.send, s.recv = send, recv
	s.hs = nil
	s.payload = nil
	s.Stage = Established
}

// Outgoing seals plaintext into one or more framed transport messages.
func (s *State) Outgoing(data []byte) ([]byte, error) {
	if s.Stage != Established {
		return nil, ErrNotEstablished
	}
	var out []byte
	for len(data) > 0 {
		n := len(data)
		if n > MaxPlaintext {
			n = MaxPlaintext
		}
		sealed, err := s.send.Encrypt(nil, nil, data[:n])
		if err != nil {
			return nil, err
		}
		out = framing.AppendU16Frame(out, sealed)
		data = data[n:]
	}
	return out, nil
}
