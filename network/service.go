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

package network

import (
	"crypto/rand"
	"net/netip"
	"time"

	"github.com/algorand/go-meshnet/network/framing"
	"github.com/algorand/go-meshnet/network/noise"
)

// service is the effect side of the scheduler: entropy, keys, the clock and
// the sockets of the network. Its methods are called with the store locked.
type service struct {
	net *MeshNetwork
}

func (s service) RandomNonce() (n framing.Nonce) {
	if _, err := rand.Read(n[:]); err != nil {
		s.net.log.Panicf("network: reading entropy: %v", err)
	}
	return
}

func (s service) NoiseKeys() (noise.Keys, error) {
	var static, ephemeral framing.Key
	if _, err := rand.Read(static[:]); err != nil {
		return noise.Keys{}, err
	}
	if _, err := rand.Read(ephemeral[:]); err != nil {
		return noise.Keys{}, err
	}
	return noise.MakeKeys(s.net.identity.Key, static, ephemeral)
}

func (s service) SignPublication(data []byte) ([]byte, error) {
	return s.net.identity.Key.Sign(data)
}

func (s service) Now() time.Time {
	return time.Now()
}

func (s service) Send(addr netip.AddrPort, data []byte) {
	c, ok := s.net.conn(addr)
	if !ok {
		return
	}
	if !c.send(append([]byte(nil), data...)) {
		c.log.Warnf("network: outgoing queue full, closing")
		s.net.dropConn(c)
	}
}

func (s service) Close(addr netip.AddrPort) {
	if c, ok := s.net.conn(addr); ok {
		s.net.dropConn(c)
	}
}
