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
	"time"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/algorand/go-meshnet/logging"
	"github.com/algorand/go-meshnet/network/framing"
	"github.com/algorand/go-meshnet/network/msselect"
	"github.com/algorand/go-meshnet/network/noise"
	"github.com/algorand/go-meshnet/network/pnet"
	"github.com/algorand/go-meshnet/network/pubsub"
	"github.com/algorand/go-meshnet/network/token"
	"github.com/algorand/go-meshnet/network/yamux"
)

// Meta is attached to every dispatched action.
type Meta struct {
	Time time.Time
}

// Config parameterizes the scheduler.
type Config struct {
	PSK    framing.Key
	Yamux  yamux.Config
	Pubsub pubsub.Config
}

// Connection is the per socket stack, from PNet up to the muxed streams.
type Connection struct {
	Incoming bool

	Pnet       pnet.State
	SelectAuth msselect.State
	Auth       *noise.State `json:",omitempty"`
	SelectMux  msselect.State
	Mux        *yamux.State `json:",omitempty"`
	Streams    map[yamux.StreamID]*Stream

	// AuthBuffer and MuxBuffer hold bytes that arrived before the secure
	// channel, respectively the muxer, was installed.
	AuthBuffer framing.Data `json:",omitempty"`
	MuxBuffer  framing.Data `json:",omitempty"`

	// PeerID is set once the handshake proved the remote identity.
	PeerID peer.ID `json:",omitempty"`
}

// Stream is the protocol negotiation of one muxed stream. Windows and close
// flags live in the muxer under the same id.
type Stream struct {
	Incoming bool
	Select   msselect.State
	Kind     token.StreamKind `json:",omitempty"`
	// Buffer holds bytes that arrived between the end of the negotiation
	// and the handling of its outcome.
	Buffer framing.Data `json:",omitempty"`
}

// PeerStatus is the life cycle stage of a peer.
type PeerStatus int

const (
	// PeerReady is a peer with a negotiated muxer.
	PeerReady PeerStatus = iota
)

func (s PeerStatus) String() string {
	switch s {
	case PeerReady:
		return "ready"
	}
	return "unknown"
}

// ChannelID names a logical channel a peer participates in.
type ChannelID int

const (
	// ChannelRPC is the request/response channel.
	ChannelRPC ChannelID = iota
)

// PeerState is a remote node we hold a muxed connection to.
type PeerState struct {
	Addr           netip.AddrPort
	Status         PeerStatus
	IsIncoming     bool
	ConnectedSince time.Time
	Channels       map[ChannelID]bool
	BestTip        framing.Data `json:",omitempty"`
}

// RpcStreamKey names an RPC stream of a peer. Stream ids are only unique
// within one connection.
type RpcStreamKey struct {
	Addr   netip.AddrPort
	Stream yamux.StreamID
}

// MarshalText implements encoding.TextMarshaler
func (k RpcStreamKey) MarshalText() ([]byte, error) {
	return []byte(fmt.Sprintf("%s/%d", k.Addr, k.Stream)), nil
}

// RpcStream is an RPC stream and what was read from it so far.
type RpcStream struct {
	Addr   netip.AddrPort
	Stream yamux.StreamID
	Buffer framing.Data `json:",omitempty"`
}

// State is the whole network state of the node. Every entity is owned by one
// map and cross referenced by key.
type State struct {
	Identity   peer.ID
	Interfaces map[netip.Addr]bool
	// Connections holds at most one connection per remote address.
	Connections map[netip.AddrPort]*Connection
	Peers       map[peer.ID]*PeerState

	RpcIncomingStreams map[peer.ID]map[RpcStreamKey]*RpcStream
	RpcOutgoingStreams map[peer.ID]map[RpcStreamKey]*RpcStream

	Pubsub *pubsub.State

	cfg Config
	log logging.Logger
}

// MakeState returns an empty network state for the node with id identity.
func MakeState(cfg Config, identity peer.ID, now time.Time, log logging.Logger) *State {
	if cfg.Yamux == (yamux.Config{}) {
		cfg.Yamux = yamux.DefaultConfig()
	}
	if cfg.Pubsub.D == 0 {
		cfg.Pubsub = pubsub.DefaultConfig()
	}
	return &State{
		Identity:           identity,
		Interfaces:         make(map[netip.Addr]bool),
		Connections:        make(map[netip.AddrPort]*Connection),
		Peers:              make(map[peer.ID]*PeerState),
		RpcIncomingStreams: make(map[peer.ID]map[RpcStreamKey]*RpcStream),
		RpcOutgoingStreams: make(map[peer.ID]map[RpcStreamKey]*RpcStream),
		Pubsub:             pubsub.New(cfg.Pubsub, now),
		cfg:                cfg,
		log:                log,
	}
}

// Config returns the scheduler parameters.
func (s *State) Config() Config {
	return s.cfg
}

func (s *State) connLog(addr netip.AddrPort) logging.Logger {
	return s.log.With("addr", addr.String())
}

// removeConnection drops a connection and everything keyed on it. A peer
// recorded on it moves to another muxed connection to the same peer if there
// is one. It reports whether there was anything to drop.
func (s *State) removeConnection(addr netip.AddrPort) bool {
	conn, ok := s.Connections[addr]
	if !ok {
		return false
	}
	delete(s.Connections, addr)
	if conn.PeerID == "" {
		return true
	}
	id := conn.PeerID
	if p, ok := s.Peers[id]; ok && p.Addr == addr {
		if other, ok := s.muxedTo(id); ok {
			p.Addr = other
			p.IsIncoming = s.Connections[other].Incoming
			s.connLog(other).Debugf("p2p: peer %s moved from %s", id, addr)
		} else {
			delete(s.Peers, id)
		}
	}
	dropRpcStreams(s.RpcIncomingStreams, id, addr)
	dropRpcStreams(s.RpcOutgoingStreams, id, addr)
	s.Pubsub.ConnectionClosed(id, addr)
	return true
}

// muxedTo returns the lowest address of a muxed connection to id.
func (s *State) muxedTo(id peer.ID) (netip.AddrPort, bool) {
	var best netip.AddrPort
	found := false
	for addr, conn := range s.Connections {
		if conn.PeerID != id || conn.Mux == nil {
			continue
		}
		if !found || addr.Compare(best) < 0 {
			best, found = addr, true
		}
	}
	return best, found
}

func rpcMap(m map[peer.ID]map[RpcStreamKey]*RpcStream, id peer.ID) map[RpcStreamKey]*RpcStream {
	streams, ok := m[id]
	if !ok {
		streams = make(map[RpcStreamKey]*RpcStream)
		m[id] = streams
	}
	return streams
}

func dropRpcStreams(m map[peer.ID]map[RpcStreamKey]*RpcStream, id peer.ID, addr netip.AddrPort) {
	streams, ok := m[id]
	if !ok {
		return
	}
	for k := range streams {
		if k.Addr == addr {
			delete(streams, k)
		}
	}
	if len(streams) == 0 {
		delete(m, id)
	}
}

func dropRpcStream(m map[peer.ID]map[RpcStreamKey]*RpcStream, id peer.ID, k RpcStreamKey) {
	streams, ok := m[id]
	if !ok {
		return
	}
	delete(streams, k)
	if len(streams) == 0 {
		delete(m, id)
	}
}
