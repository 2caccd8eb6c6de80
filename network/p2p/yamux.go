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

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/algorand/go-meshnet/network/msselect"
	"github.com/algorand/go-meshnet/network/token"
	"github.com/algorand/go-meshnet/network/yamux"
)

// broadcastProposals is what we offer, in preference order, on our
// outgoing broadcast stream.
var broadcastProposals = []token.Protocol{token.Meshsub1_1_0, token.Meshsub1_0_0, token.Floodsub1_0_0}

func (s *State) muxed(addr netip.AddrPort) (*Connection, bool) {
	conn, ok := s.Connections[addr]
	if !ok {
		return nil, false
	}
	if conn.Mux == nil {
		s.connLog(addr).Errorf("p2p: muxer not installed")
		return nil, false
	}
	return conn, true
}

func frames(addr netip.AddrPort, fs []yamux.Frame) []Action {
	next := make([]Action, 0, len(fs))
	for _, f := range fs {
		next = append(next, YamuxOutgoingFrame{Addr: addr, Frame: f})
	}
	return next
}

func (s *State) yamuxIncomingData(a YamuxIncomingData) []Action {
	conn, ok := s.Connections[a.Addr]
	if !ok {
		return nil
	}
	if conn.Mux == nil {
		conn.MuxBuffer = append(conn.MuxBuffer, a.Data...)
		return nil
	}
	fs, err := conn.Mux.Incoming(a.Data)
	next := make([]Action, 0, len(fs)+1)
	for _, f := range fs {
		next = append(next, YamuxIncomingFrame{Addr: a.Addr, Frame: f})
	}
	if err != nil {
		next = append(next, ConnectionError{Addr: a.Addr, Err: err})
	}
	return next
}

func (s *State) yamuxIncomingFrame(a YamuxIncomingFrame, meta Meta) []Action {
	conn, ok := s.muxed(a.Addr)
	if !ok {
		return nil
	}
	var next []Action
	if !conn.Mux.Init {
		next = append(next, YamuxDidInit{Addr: a.Addr})
	}
	ev, err := conn.Mux.Apply(a.Frame, meta.Time)
	if err != nil {
		return append(next, ConnectionError{Addr: a.Addr, Err: err})
	}
	next = append(next, frames(a.Addr, ev.Reply)...)

	log := s.connLog(a.Addr)
	if ev.Opened {
		conn.Streams[ev.Stream] = &Stream{
			Incoming: true,
			Select:   msselect.MakeResponder(token.FamilyStream),
		}
		next = append(next, SelectInit{Addr: a.Addr, Kind: SelectStream{Peer: conn.PeerID, Stream: ev.Stream}})
	}
	if len(ev.Data) > 0 {
		if st, ok := conn.Streams[ev.Stream]; ok {
			if st.Kind == nil {
				next = append(next, SelectIncomingData{Addr: a.Addr, Kind: SelectStream{Peer: conn.PeerID, Stream: ev.Stream}, Data: ev.Data})
			} else if route := streamData(a.Addr, conn.PeerID, ev.Stream, st.Kind, ev.Data); route != nil {
				next = append(next, route)
			}
		}
	}
	if ev.Removed {
		s.dropStream(a.Addr, conn, ev.Stream)
	}
	if ev.Pong {
		log.Debugf("p2p: muxer rtt %v", ev.RTT)
	}
	if ev.GoAway {
		log.Infof("p2p: remote muxer going away (code %d)", conn.Mux.GoAwayCode)
	}
	return next
}

// streamData routes bytes of a negotiated stream to its consumer.
func streamData(addr netip.AddrPort, id peer.ID, stream yamux.StreamID, kind token.StreamKind, data []byte) Action {
	switch kind.(type) {
	case token.RPCKind:
		return RpcIncomingData{PeerID: id, Addr: addr, Stream: stream, Data: data}
	case token.BroadcastKind:
		return PubsubIncomingData{PeerID: id, Addr: addr, Stream: stream, Data: data}
	}
	return nil
}

func (s *State) yamuxOutgoingData(a YamuxOutgoingData) []Action {
	conn, ok := s.muxed(a.Addr)
	if !ok {
		return nil
	}
	fs, err := conn.Mux.Send(a.Stream, a.Data)
	if err != nil {
		s.connLog(a.Addr).Warnf("p2p: write to stream %d: %v", a.Stream, err)
		return nil
	}
	if a.Fin {
		fin, err := conn.Mux.Close(a.Stream)
		if err != nil {
			s.connLog(a.Addr).Warnf("p2p: close stream %d: %v", a.Stream, err)
		}
		fs = append(fs, fin...)
		if _, ok := conn.Mux.Streams[a.Stream]; !ok {
			s.dropStream(a.Addr, conn, a.Stream)
		}
	}
	return frames(a.Addr, fs)
}

func (s *State) yamuxOpenStream(a YamuxOpenStream) []Action {
	conn, ok := s.muxed(a.Addr)
	if !ok {
		return nil
	}
	id, syn, err := conn.Mux.Open()
	if err != nil {
		s.connLog(a.Addr).Warnf("p2p: open %s stream: %v", a.Kind.Name(), err)
		return nil
	}
	proposals := []token.Protocol{a.Kind}
	if _, ok := a.Kind.(token.BroadcastKind); ok {
		proposals = broadcastProposals
	}
	conn.Streams[id] = &Stream{Select: msselect.MakeInitiator(proposals...)}
	return []Action{
		YamuxOutgoingFrame{Addr: a.Addr, Frame: syn},
		SelectInit{Addr: a.Addr, Kind: SelectStream{Peer: conn.PeerID, Stream: id}},
	}
}

func (s *State) yamuxPing(a YamuxPingStream, meta Meta) []Action {
	conn, ok := s.muxed(a.Addr)
	if !ok {
		return nil
	}
	return []Action{YamuxOutgoingFrame{Addr: a.Addr, Frame: conn.Mux.Ping(meta.Time)}}
}

func (s *State) yamuxCloseStream(a YamuxCloseStream) []Action {
	conn, ok := s.muxed(a.Addr)
	if !ok {
		return nil
	}
	if a.Reset {
		s.dropStream(a.Addr, conn, a.Stream)
		return []Action{YamuxOutgoingFrame{Addr: a.Addr, Frame: conn.Mux.Reset(a.Stream)}}
	}
	fs, err := conn.Mux.Close(a.Stream)
	if err != nil {
		s.connLog(a.Addr).Warnf("p2p: close stream %d: %v", a.Stream, err)
		return nil
	}
	if _, ok := conn.Mux.Streams[a.Stream]; !ok {
		s.dropStream(a.Addr, conn, a.Stream)
	}
	return frames(a.Addr, fs)
}

func (s *State) yamuxGoAway(a YamuxGoAway) []Action {
	conn, ok := s.muxed(a.Addr)
	if !ok {
		return nil
	}
	return []Action{YamuxOutgoingFrame{Addr: a.Addr, Frame: conn.Mux.GoAway(a.Code)}}
}

// yamuxDidInit marks the muxer as spoken to and opens our broadcast stream.
func (s *State) yamuxDidInit(a YamuxDidInit) []Action {
	conn, ok := s.muxed(a.Addr)
	if !ok || !conn.Mux.MarkInit() {
		return nil
	}
	return []Action{YamuxOpenStream{Addr: a.Addr, Kind: token.Meshsub1_1_0}}
}

// dropStream forgets a stream and everything keyed on it. It reports whether
// the stream was known.
func (s *State) dropStream(addr netip.AddrPort, conn *Connection, id yamux.StreamID) bool {
	if _, ok := conn.Streams[id]; !ok {
		return false
	}
	delete(conn.Streams, id)
	if conn.PeerID == "" {
		return true
	}
	k := RpcStreamKey{Addr: addr, Stream: id}
	dropRpcStream(s.RpcIncomingStreams, conn.PeerID, k)
	dropRpcStream(s.RpcOutgoingStreams, conn.PeerID, k)
	s.Pubsub.StreamClosed(conn.PeerID, addr, id)
	return true
}
