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

// Package token names the protocols negotiated over multistream-select and the
// tokens exchanged during that negotiation.
//
// Protocol kinds are closed sets: every Protocol is one of AuthKind, MuxKind or
// a StreamKind (RPCKind, BroadcastKind, DiscoveryKind). Callers are expected to
// switch over them exhaustively.
package token

import (
	"fmt"
)

// Family groups protocols by the negotiation that selects them.
type Family int

const (
	// FamilyAuth is negotiated right after PNet, before the secure channel.
	FamilyAuth Family = iota
	// FamilyMux is negotiated over the secure channel.
	FamilyMux
	// FamilyStream is negotiated on every multiplexed stream.
	FamilyStream
)

func (f Family) String() string {
	switch f {
	case FamilyAuth:
		return "auth"
	case FamilyMux:
		return "mux"
	case FamilyStream:
		return "stream"
	}
	return fmt.Sprintf("family(%d)", int(f))
}

// Protocol is a protocol id that can be the outcome of a negotiation.
type Protocol interface {
	// Name is the protocol id string as it appears on the wire.
	Name() string
	// Family is the negotiation this protocol belongs to.
	Family() Family
	protocol()
}

// StreamKind is the application protocol negotiated on a single stream.
type StreamKind interface {
	Protocol
	streamKind()
}

// AuthKind identifies a secure channel protocol.
type AuthKind int

// Noise is the only supported secure channel.
const Noise AuthKind = iota

// MuxKind identifies a stream multiplexer protocol.
type MuxKind int

const (
	// Yamux1_0_0 is "/yamux/1.0.0".
	Yamux1_0_0 MuxKind = iota
)

// RPCKind identifies an RPC protocol version.
type RPCKind int

const (
	// RPCv1 is the node RPC protocol.
	RPCv1 RPCKind = iota
)

// BroadcastKind identifies a gossip protocol version.
type BroadcastKind int

const (
	// Floodsub1_0_0 is "/floodsub/1.0.0".
	Floodsub1_0_0 BroadcastKind = iota
	// Meshsub1_0_0 is "/meshsub/1.0.0".
	Meshsub1_0_0
	// Meshsub1_1_0 is "/meshsub/1.1.0".
	Meshsub1_1_0
)

// DiscoveryKind identifies a peer discovery protocol.
type DiscoveryKind int

const (
	// Kademlia1_0_0 is the node's kademlia DHT.
	Kademlia1_0_0 DiscoveryKind = iota
)

// Name implements Protocol
func (k AuthKind) Name() string {
	switch k {
	case Noise:
		return "/noise"
	}
	panic(fmt.Sprintf("unknown auth kind %d", int(k)))
}

// Name implements Protocol
func (k MuxKind) Name() string {
	switch k {
	case Yamux1_0_0:
		return "/yamux/1.0.0"
	}
	panic(fmt.Sprintf("unknown mux kind %d", int(k)))
}

// Name implements Protocol
func (k RPCKind) Name() string {
	switch k {
	case RPCv1:
		return "coda/rpcs/0.0.1"
	}
	panic(fmt.Sprintf("unknown rpc kind %d", int(k)))
}

// Name implements Protocol
func (k BroadcastKind) Name() string {
	switch k {
	case Floodsub1_0_0:
		return "/floodsub/1.0.0"
	case Meshsub1_0_0:
		return "/meshsub/1.0.0"
	case Meshsub1_1_0:
		return "/meshsub/1.1.0"
	}
	panic(fmt.Sprintf("unknown broadcast kind %d", int(k)))
}

// Name implements Protocol
func (k DiscoveryKind) Name() string {
	switch k {
	case Kademlia1_0_0:
		return "/coda/kad/1.0.0"
	}
	panic(fmt.Sprintf("unknown discovery kind %d", int(k)))
}

// Family implements Protocol
func (AuthKind) Family() Family { return FamilyAuth }

// Family implements Protocol
func (MuxKind) Family() Family { return FamilyMux }

// Family implements Protocol
func (RPCKind) Family() Family { return FamilyStream }

// Family implements Protocol
func (BroadcastKind) Family() Family { return FamilyStream }

// Family implements Protocol
func (DiscoveryKind) Family() Family { return FamilyStream }

func (AuthKind) protocol()      {}
func (MuxKind) protocol()       {}
func (RPCKind) protocol()       {}
func (BroadcastKind) protocol() {}
func (DiscoveryKind) protocol() {}

func (RPCKind) streamKind()       {}
func (BroadcastKind) streamKind() {}
func (DiscoveryKind) streamKind() {}

func (k AuthKind) String() string      { return k.Name() }
func (k MuxKind) String() string       { return k.Name() }
func (k RPCKind) String() string       { return k.Name() }
func (k BroadcastKind) String() string { return k.Name() }
func (k DiscoveryKind) String() string { return k.Name() }

// All lists every protocol known to this node, in preference order per family.
func All() []Protocol {
	return []Protocol{
		Noise,
		Yamux1_0_0,
		RPCv1,
		Meshsub1_1_0,
		Meshsub1_0_0,
		Floodsub1_0_0,
		Kademlia1_0_0,
	}
}

var byName = func() map[string]Protocol {
	m := make(map[string]Protocol)
	for _, p := range All() {
		m[p.Name()] = p
	}
	return m
}()

// Lookup returns the protocol with the given wire name.
func Lookup(name string) (Protocol, bool) {
	p, ok := byName[name]
	return p, ok
}

// OfFamily filters All to the protocols of family f.
func OfFamily(f Family) []Protocol {
	var out []Protocol
	for _, p := range All() {
		if p.Family() == f {
			out = append(out, p)
		}
	}
	return out
}
