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

// Package p2p is the connection scheduler of the node. It owns every
// connection, stream and peer, and drives the layered protocol stack
// (PNet, multistream-select, Noise, Yamux, gossip) by reducing actions.
//
// Reducers never block and never perform I/O. Anything that needs the world
// outside (sockets, entropy, signing) is an effect action handled through the
// Service, whose outcome comes back as a new action.
package p2p

import (
	"fmt"
	"net/netip"

	"github.com/algorand/go-meshnet/network/msselect"
	"github.com/algorand/go-meshnet/network/pnet"
	"github.com/algorand/go-meshnet/network/token"
	"github.com/algorand/go-meshnet/network/yamux"
)

func (s *State) reduce(a Action, meta Meta) []Action {
	switch a := a.(type) {
	case InterfaceDetected:
		s.Interfaces[a.IP] = true
		return nil
	case InterfaceExpired:
		delete(s.Interfaces, a.IP)
		return nil

	case OutgoingDidConnect:
		return s.newConnection(a.Addr, false)
	case IncomingDidAccept:
		return s.newConnection(a.Addr, true)
	case IncomingDataDidReceive:
		return s.incomingData(a)
	case ConnectionError:
		return s.connectionError(a)
	case Disconnected:
		s.removeConnection(a.Addr)
		return nil

	case PnetSetupNonce:
		return s.pnetSetupNonce(a)
	case PnetIncomingData:
		return s.pnetIncomingData(a)
	case PnetOutgoingData:
		return s.pnetOutgoingData(a)

	case SelectInit:
		return s.selectInit(a)
	case SelectIncomingData:
		return s.selectIncomingData(a)
	case SelectDone:
		return s.selectDone(a, meta)
	case SelectError:
		return s.selectError(a)

	case NoiseHandshakeStart:
		return s.noiseHandshakeStart(a)
	case NoiseIncomingData:
		return s.noiseIncomingData(a)
	case NoiseOutgoingData:
		return s.noiseOutgoingData(a)

	case YamuxIncomingData:
		return s.yamuxIncomingData(a)
	case YamuxIncomingFrame:
		return s.yamuxIncomingFrame(a, meta)
	case YamuxOutgoingFrame:
		return []Action{NoiseOutgoingData{Addr: a.Addr, Data: a.Frame.Encode()}}
	case YamuxOutgoingData:
		return s.yamuxOutgoingData(a)
	case YamuxOpenStream:
		return s.yamuxOpenStream(a)
	case YamuxPingStream:
		return s.yamuxPing(a, meta)
	case YamuxCloseStream:
		return s.yamuxCloseStream(a)
	case YamuxGoAway:
		return s.yamuxGoAway(a)
	case YamuxDidInit:
		return s.yamuxDidInit(a)

	case PubsubNewStream:
		return s.pubsubNewStream(a)
	case PubsubGraft:
		return s.pubsubGraft(a)
	case PubsubBroadcast:
		return s.pubsubBroadcast(a)
	case PubsubBroadcastSigned:
		return s.pubsubBroadcastSigned(a)
	case PubsubSignError:
		return s.pubsubSignError(a)
	case PubsubIncomingData:
		return s.pubsubIncomingData(a)
	case PubsubOutgoingMessage:
		return s.pubsubOutgoingMessage(a)
	case PubsubOutgoingData:
		return s.pubsubOutgoingData(a)
	case PubsubHeartbeat:
		s.Pubsub.Maintain()
		return s.pubsubFlush()

	case PeerBestTipUpdate:
		return s.peerBestTipUpdate(a)
	case ChannelsTransactionReceived, ChannelsSnarkReceived:
		// consumed by observers
		return nil
	case RpcIncomingData:
		return s.rpcIncomingData(a)
	}
	panic(fmt.Sprintf("p2p: no reducer for %v", a))
}

func (s *State) newConnection(addr netip.AddrPort, incoming bool) []Action {
	if conn, ok := s.Connections[addr]; ok {
		s.connLog(addr).Warnf("p2p: connection already exists (incoming=%v), ignoring new incoming=%v", conn.Incoming, incoming)
		return nil
	}
	conn := &Connection{
		Incoming: incoming,
		Pnet:     pnet.MakeState(s.cfg.PSK),
		Streams:  make(map[yamux.StreamID]*Stream),
	}
	if incoming {
		conn.SelectAuth = msselect.MakeResponder(token.FamilyAuth)
		conn.SelectMux = msselect.MakeResponder(token.FamilyMux)
	} else {
		conn.SelectAuth = msselect.MakeInitiator(token.Noise)
		conn.SelectMux = msselect.MakeInitiator(token.Yamux1_0_0)
	}
	s.Connections[addr] = conn
	return []Action{PnetRequestNonce{Addr: addr}}
}

func (s *State) incomingData(a IncomingDataDidReceive) []Action {
	if a.Err != nil {
		if s.removeConnection(a.Addr) {
			s.connLog(a.Addr).Infof("p2p: connection closed: %v", a.Err)
		}
		return nil
	}
	if _, ok := s.Connections[a.Addr]; !ok {
		s.connLog(a.Addr).Debugf("p2p: dropping %d bytes for unknown connection", len(a.Data))
		return nil
	}
	return []Action{PnetIncomingData{Addr: a.Addr, Data: a.Data}}
}

func (s *State) connectionError(a ConnectionError) []Action {
	if !s.removeConnection(a.Addr) {
		return nil
	}
	s.connLog(a.Addr).Warnf("p2p: connection failed: %v", a.Err)
	return []Action{CloseConnection{Addr: a.Addr}}
}
