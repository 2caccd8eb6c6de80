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
	"github.com/algorand/go-meshnet/network/noise"
)

func (s *State) noiseHandshakeStart(a NoiseHandshakeStart) []Action {
	conn, ok := s.Connections[a.Addr]
	if !ok {
		return nil
	}
	if conn.Auth != nil {
		s.connLog(a.Addr).Errorf("p2p: handshake already started")
		return nil
	}
	st, out, err := noise.Start(a.Initiator, a.Keys)
	if err != nil {
		return []Action{ConnectionError{Addr: a.Addr, Err: err}}
	}
	conn.Auth = st
	var next []Action
	if len(out) > 0 {
		next = append(next, PnetOutgoingData{Addr: a.Addr, Data: out})
	}
	if len(conn.AuthBuffer) > 0 {
		next = append(next, NoiseIncomingData{Addr: a.Addr, Data: conn.AuthBuffer})
		conn.AuthBuffer = nil
	}
	return next
}

func (s *State) noiseIncomingData(a NoiseIncomingData) []Action {
	conn, ok := s.Connections[a.Addr]
	if !ok || conn.Auth == nil {
		return nil
	}
	res, err := conn.Auth.Incoming(a.Data)
	var next []Action
	if len(res.Out) > 0 {
		next = append(next, PnetOutgoingData{Addr: a.Addr, Data: res.Out})
	}
	if err != nil {
		return append(next, ConnectionError{Addr: a.Addr, Err: err})
	}
	if res.Established {
		conn.PeerID = conn.Auth.RemotePeer
		s.connLog(a.Addr).Debugf("p2p: secure channel with %s", conn.PeerID)
		next = append(next, SelectInit{Addr: a.Addr, Kind: SelectMultiplexing{Peer: conn.PeerID}})
	}
	if len(res.Plain) > 0 {
		if !conn.SelectMux.Done {
			next = append(next, SelectIncomingData{Addr: a.Addr, Kind: SelectMultiplexing{Peer: conn.PeerID}, Data: res.Plain})
		} else {
			next = append(next, YamuxIncomingData{Addr: a.Addr, Data: res.Plain})
		}
	}
	return next
}

func (s *State) noiseOutgoingData(a NoiseOutgoingData) []Action {
	conn, ok := s.Connections[a.Addr]
	if !ok {
		return nil
	}
	if conn.Auth == nil || !conn.Auth.Established() {
		s.connLog(a.Addr).Errorf("p2p: dropping %d bytes, secure channel not established", len(a.Data))
		return nil
	}
	out, err := conn.Auth.Outgoing(a.Data)
	if err != nil {
		return []Action{ConnectionError{Addr: a.Addr, Err: err}}
	}
	return []Action{PnetOutgoingData{Addr: a.Addr, Data: out}}
}
