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

	"github.com/libp2p/go-libp2p/core/peer"
)

// addPeer creates a Ready peer. An existing peer keeps the connection it
// was first recorded on; removeConnection moves it when that one goes.
func (s *State) addPeer(id peer.ID, addr netip.AddrPort, incoming bool, now time.Time) {
	if _, ok := s.Peers[id]; ok {
		return
	}
	s.Peers[id] = &PeerState{
		Addr:           addr,
		Status:         PeerReady,
		IsIncoming:     incoming,
		ConnectedSince: now,
		Channels:       map[ChannelID]bool{ChannelRPC: true},
	}
}

// ReadyPeers returns the peers a muxed connection is up with.
func (s *State) ReadyPeers() []peer.ID {
	var ids []peer.ID
	for id, p := range s.Peers {
		if p.Status == PeerReady {
			ids = append(ids, id)
		}
	}
	return ids
}

func (s *State) peerBestTipUpdate(a PeerBestTipUpdate) []Action {
	p, ok := s.Peers[a.PeerID]
	if !ok || p.Status != PeerReady {
		return nil
	}
	p.BestTip = a.BestTip.Clone()
	return nil
}

func (s *State) rpcIncomingData(a RpcIncomingData) []Action {
	k := RpcStreamKey{Addr: a.Addr, Stream: a.Stream}
	st, ok := s.RpcIncomingStreams[a.PeerID][k]
	if !ok {
		st, ok = s.RpcOutgoingStreams[a.PeerID][k]
	}
	if !ok {
		return nil
	}
	st.Buffer = append(st.Buffer, a.Data...)
	return nil
}
