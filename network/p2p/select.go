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
	"fmt"
	"net/netip"

	"github.com/algorand/go-meshnet/network/framing"
	"github.com/algorand/go-meshnet/network/msselect"
	"github.com/algorand/go-meshnet/network/token"
	"github.com/algorand/go-meshnet/network/yamux"
)

// negotiation returns the select state a kind refers to, and whether the
// negotiated side is the remote's initiative.
func negotiation(conn *Connection, kind SelectKind) (*msselect.State, bool) {
	switch k := kind.(type) {
	case SelectAuthentication:
		return &conn.SelectAuth, conn.Incoming
	case SelectMultiplexing:
		return &conn.SelectMux, conn.Incoming
	case SelectStream:
		st, ok := conn.Streams[k.Stream]
		if !ok {
			return nil, false
		}
		return &st.Select, st.Incoming
	}
	panic(fmt.Sprintf("p2p: unknown select kind %T", kind))
}

// selectOutgoing sends negotiation bytes through the layer below the negotiation.
func selectOutgoing(kind SelectKind, addr netip.AddrPort, data []byte) Action {
	switch k := kind.(type) {
	case SelectAuthentication:
		return PnetOutgoingData{Addr: addr, Data: data}
	case SelectMultiplexing:
		return NoiseOutgoingData{Addr: addr, Data: data}
	case SelectStream:
		return YamuxOutgoingData{Addr: addr, Stream: k.Stream, Data: data}
	}
	panic(fmt.Sprintf("p2p: unknown select kind %T", kind))
}

func (s *State) selectInit(a SelectInit) []Action {
	conn, ok := s.Connections[a.Addr]
	if !ok {
		return nil
	}
	st, _ := negotiation(conn, a.Kind)
	if st == nil {
		return nil
	}
	out := st.Init()
	if len(out) == 0 {
		return nil
	}
	return []Action{selectOutgoing(a.Kind, a.Addr, out)}
}

func (s *State) selectIncomingData(a SelectIncomingData) []Action {
	conn, ok := s.Connections[a.Addr]
	if !ok {
		return nil
	}
	st, incoming := negotiation(conn, a.Kind)
	if st == nil {
		return nil
	}
	if st.Done {
		holdEarly(conn, a.Kind, a.Data)
		return nil
	}
	res, err := st.Incoming(a.Data)
	var next []Action
	if len(res.Out) > 0 {
		next = append(next, selectOutgoing(a.Kind, a.Addr, res.Out))
	}
	if err != nil {
		return append(next, SelectError{Addr: a.Addr, Kind: a.Kind, Err: err})
	}
	if res.Done {
		next = append(next, SelectDone{
			Addr:     a.Addr,
			Kind:     a.Kind,
			Protocol: res.Protocol,
			Incoming: incoming,
			Rest:     res.Rest,
		})
	}
	return next
}

func (s *State) selectDone(a SelectDone, meta Meta) []Action {
	log := s.connLog(a.Addr)
	if a.Protocol == nil || a.Protocol.Family() != a.Kind.Family() {
		log.Errorf("p2p: %v negotiated mismatched protocol %v", a.Kind, a.Protocol)
		return nil
	}
	conn, ok := s.Connections[a.Addr]
	if !ok {
		log.Debugf("p2p: %v done for unknown connection", a.Kind)
		return nil
	}

	switch k := a.Kind.(type) {
	case SelectAuthentication:
		if conn.Auth != nil {
			log.Errorf("p2p: secure channel already installed")
			return nil
		}
		conn.AuthBuffer = prepend(a.Rest, conn.AuthBuffer)
		return []Action{NoiseInit{Addr: a.Addr, Initiator: !conn.Incoming}}

	case SelectMultiplexing:
		s.addPeer(k.Peer, a.Addr, a.Incoming, meta.Time)
		conn.PeerID = k.Peer
		if conn.Mux != nil {
			log.Errorf("p2p: muxer already installed")
			return nil
		}
		conn.Mux = yamux.MakeState(!conn.Incoming, s.cfg.Yamux)
		next := []Action{YamuxPingStream{Addr: a.Addr}}
		if rest := prepend(a.Rest, conn.MuxBuffer); len(rest) > 0 {
			next = append(next, YamuxIncomingData{Addr: a.Addr, Data: rest})
		}
		conn.MuxBuffer = nil
		return next

	case SelectStream:
		st, ok := conn.Streams[k.Stream]
		if !ok {
			return nil
		}
		kind := a.Protocol.(token.StreamKind)
		st.Kind = kind
		rest := prepend(a.Rest, st.Buffer)
		st.Buffer = nil
		var next []Action
		switch kind.(type) {
		case token.RPCKind:
			m := s.RpcOutgoingStreams
			if a.Incoming {
				m = s.RpcIncomingStreams
			}
			rpcMap(m, k.Peer)[RpcStreamKey{Addr: a.Addr, Stream: k.Stream}] = &RpcStream{Addr: a.Addr, Stream: k.Stream}
		case token.BroadcastKind:
			next = append(next, PubsubNewStream{Incoming: a.Incoming, PeerID: k.Peer, Addr: a.Addr, Stream: k.Stream})
		case token.DiscoveryKind:
		}
		if len(rest) > 0 {
			if route := streamData(a.Addr, k.Peer, k.Stream, kind, rest); route != nil {
				next = append(next, route)
			}
		}
		return next
	}
	return nil
}

func (s *State) selectError(a SelectError) []Action {
	if k, ok := a.Kind.(SelectStream); ok {
		conn, ok := s.Connections[a.Addr]
		if !ok || !s.dropStream(a.Addr, conn, k.Stream) {
			return nil
		}
		s.connLog(a.Addr).Infof("p2p: stream %d negotiation failed: %v", k.Stream, a.Err)
		return []Action{YamuxCloseStream{Addr: a.Addr, Stream: k.Stream, Reset: true}}
	}
	if !s.removeConnection(a.Addr) {
		return nil
	}
	s.connLog(a.Addr).Warnf("p2p: %v negotiation failed: %v", a.Kind, a.Err)
	return []Action{CloseConnection{Addr: a.Addr}}
}

// holdEarly keeps bytes that reached a finished negotiation before its outcome
// was handled. They are delivered after the negotiation's own trailing bytes.
func holdEarly(conn *Connection, kind SelectKind, data []byte) {
	switch k := kind.(type) {
	case SelectAuthentication:
		conn.AuthBuffer = append(conn.AuthBuffer, data...)
	case SelectMultiplexing:
		conn.MuxBuffer = append(conn.MuxBuffer, data...)
	case SelectStream:
		if st, ok := conn.Streams[k.Stream]; ok {
			st.Buffer = append(st.Buffer, data...)
		}
	}
}

func prepend(head, tail []byte) framing.Data {
	if len(head) == 0 {
		return tail
	}
	out := make(framing.Data, 0, len(head)+len(tail))
	out = append(out, head...)
	return append(out, tail...)
}
