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

package p2p

import (
	"net/netip"
	"time"

	"github.com/algorand/go-meshnet/network/framing"
	"github.com/algorand/go-meshnet/network/noise"
)

// Service is everything the scheduler needs from the outside world: entropy,
// keys, the clock and sockets. Calls must not block on the network.
type Service interface {
	// RandomNonce returns a fresh PNet nonce.
	RandomNonce() framing.Nonce
	// NoiseKeys returns fresh handshake keys and the signed identity payload.
	NoiseKeys() (noise.Keys, error)
	// SignPublication signs bytes with the node identity key.
	SignPublication(data []byte) ([]byte, error)
	Now() time.Time
	// Send queues bytes for a socket.
	Send(addr netip.AddrPort, data []byte)
	// Close closes a socket. It is a no-op for unknown addresses.
	Close(addr netip.AddrPort)
}

func (a SendData) do(svc Service) []Action {
	svc.Send(a.Addr, a.Data)
	return nil
}

func (a CloseConnection) do(svc Service) []Action {
	svc.Close(a.Addr)
	return nil
}

func (a Disconnect) do(svc Service) []Action {
	svc.Close(a.Addr)
	return []Action{Disconnected{Addr: a.Addr}}
}

func (a PnetRequestNonce) do(svc Service) []Action {
	return []Action{PnetSetupNonce{Addr: a.Addr, Nonce: svc.RandomNonce()}}
}

func (a NoiseInit) do(svc Service) []Action {
	keys, err := svc.NoiseKeys()
	if err != nil {
		return []Action{ConnectionError{Addr: a.Addr, Err: err}}
	}
	return []Action{NoiseHandshakeStart{Addr: a.Addr, Initiator: a.Initiator, Keys: keys}}
}

func (a PubsubSign) do(svc Service) []Action {
	sig, err := svc.SignPublication(a.Data)
	if err != nil {
		return []Action{PubsubSignError{Err: err}}
	}
	return []Action{PubsubBroadcastSigned{Signature: sig}}
}
