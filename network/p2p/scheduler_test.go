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
	"errors"
	"net/netip"
	"testing"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-varint"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/algorand/go-meshnet/logging"
	"github.com/algorand/go-meshnet/network/msselect"
	"github.com/algorand/go-meshnet/network/pnet"
	"github.com/algorand/go-meshnet/network/pubsub"
	"github.com/algorand/go-meshnet/network/token"
	"github.com/algorand/go-meshnet/network/yamux"
	"github.com/algorand/go-meshnet/test/partitiontest"
)

func newTestState(t *testing.T) (*State, Identity) {
	id, err := GenerateIdentity()
	require.NoError(t, err)
	return MakeState(testConfig(), id.ID, epoch, logging.TestingLog(t)), id
}

// muxedConnection installs a connection that finished its handshake with a
// new remote identity.
func muxedConnection(t *testing.T, s *State, addr netip.AddrPort, incoming bool) Identity {
	remote, err := GenerateIdentity()
	require.NoError(t, err)
	muxPeer(t, s, addr, incoming, remote.ID)
	return remote
}

// muxPeer installs a connection to id that finished its handshake.
func muxPeer(t *testing.T, s *State, addr netip.AddrPort, incoming bool, id peer.ID) {
	s.newConnection(addr, incoming)
	next := s.selectDone(SelectDone{
		Addr:     addr,
		Kind:     SelectMultiplexing{Peer: id},
		Protocol: token.Yamux1_0_0,
		Incoming: incoming,
	}, Meta{Time: epoch})
	require.Equal(t, []Action{YamuxPingStream{Addr: addr}}, next)
}

func TestConnectionPerAddress(t *testing.T) {
	partitiontest.PartitionTest(t)
	t.Parallel()

	log := logging.TestingLog(t)
	log.SetLevel(logging.Error)
	rapid.Check(t, func(rt *rapid.T) {
		s := MakeState(testConfig(), "self", epoch, log)
		model := make(map[netip.AddrPort]bool)
		steps := rapid.IntRange(1, 50).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			addr := testAddr(rapid.IntRange(1, 4).Draw(rt, "host"), 8302)
			switch rapid.IntRange(0, 2).Draw(rt, "op") {
			case 0:
				if _, ok := model[addr]; !ok {
					model[addr] = false
				}
				s.reduce(OutgoingDidConnect{Addr: addr}, Meta{Time: epoch})
			case 1:
				if _, ok := model[addr]; !ok {
					model[addr] = true
				}
				s.reduce(IncomingDidAccept{Addr: addr}, Meta{Time: epoch})
			case 2:
				delete(model, addr)
				s.reduce(Disconnected{Addr: addr}, Meta{Time: epoch})
			}
			if len(s.Connections) != len(model) {
				rt.Fatalf("have %d connections, want %d", len(s.Connections), len(model))
			}
			for addr, incoming := range model {
				if s.Connections[addr].Incoming != incoming {
					rt.Fatalf("connection %v changed direction", addr)
				}
			}
		}
	})
}

func TestNewConnectionRequestsNonce(t *testing.T) {
	partitiontest.PartitionTest(t)
	t.Parallel()

	s, _ := newTestState(t)
	addr := testAddr(1, 8302)
	require.Equal(t, []Action{PnetRequestNonce{Addr: addr}}, s.newConnection(addr, false))
	require.Nil(t, s.newConnection(addr, true))
	require.False(t, s.Connections[addr].Incoming)
	require.Equal(t, msselect.Initiator, s.Connections[addr].SelectAuth.Role)

	in := testAddr(2, 8302)
	s.newConnection(in, true)
	require.Equal(t, msselect.Responder, s.Connections[in].SelectAuth.Role)
}

func TestIncomingDataUnknownConnection(t *testing.T) {
	partitiontest.PartitionTest(t)
	t.Parallel()

	s, _ := newTestState(t)
	addr := testAddr(1, 8302)
	require.Nil(t, s.incomingData(IncomingDataDidReceive{Addr: addr, Data: []byte("x")}))

	s.newConnection(addr, false)
	require.Equal(t, []Action{PnetIncomingData{Addr: addr, Data: []byte("x")}},
		s.incomingData(IncomingDataDidReceive{Addr: addr, Data: []byte("x")}))

	require.Nil(t, s.incomingData(IncomingDataDidReceive{Addr: addr, Err: errors.New("reset")}))
	require.Empty(t, s.Connections)
}

func TestConnectionErrorClosesOnce(t *testing.T) {
	partitiontest.PartitionTest(t)
	t.Parallel()

	s, _ := newTestState(t)
	addr := testAddr(1, 8302)
	s.newConnection(addr, true)
	err := errors.New("boom")
	require.Equal(t, []Action{CloseConnection{Addr: addr}}, s.connectionError(ConnectionError{Addr: addr, Err: err}))
	require.Nil(t, s.connectionError(ConnectionError{Addr: addr, Err: err}))
}

func TestAddPeerIdempotent(t *testing.T) {
	partitiontest.PartitionTest(t)
	t.Parallel()

	s, _ := newTestState(t)
	first, second := testAddr(1, 8302), testAddr(2, 8302)
	remote := muxedConnection(t, s, first, false)
	s.addPeer(remote.ID, second, true, epoch.Add(1))

	require.Len(t, s.Peers, 1)
	p := s.Peers[remote.ID]
	require.Equal(t, first, p.Addr)
	require.False(t, p.IsIncoming)
	require.Equal(t, epoch, p.ConnectedSince)
	require.Equal(t, map[ChannelID]bool{ChannelRPC: true}, p.Channels)

	// dropping the other address leaves the peer alone
	s.newConnection(second, true)
	s.Connections[second].PeerID = remote.ID
	s.removeConnection(second)
	require.Contains(t, s.Peers, remote.ID)

	s.removeConnection(first)
	require.Empty(t, s.Peers)
}

func TestBestTipOnlyForReadyPeers(t *testing.T) {
	partitiontest.PartitionTest(t)
	t.Parallel()

	s, _ := newTestState(t)
	remote := muxedConnection(t, s, testAddr(1, 8302), false)
	tip := []byte("tip")
	s.peerBestTipUpdate(PeerBestTipUpdate{PeerID: remote.ID, BestTip: tip})
	tip[0] = 'x'
	require.Equal(t, "tip", string(s.Peers[remote.ID].BestTip))

	s.peerBestTipUpdate(PeerBestTipUpdate{PeerID: "nobody", BestTip: tip})
	require.NotContains(t, s.Peers, peer.ID("nobody"))
}

func TestStreamSelectDoneRouting(t *testing.T) {
	partitiontest.PartitionTest(t)
	t.Parallel()

	s, _ := newTestState(t)
	addr := testAddr(1, 8302)
	remote := muxedConnection(t, s, addr, false)
	conn := s.Connections[addr]

	conn.Streams[2] = &Stream{Incoming: true, Select: msselect.MakeResponder(token.FamilyStream)}
	next := s.selectDone(SelectDone{
		Addr:     addr,
		Kind:     SelectStream{Peer: remote.ID, Stream: 2},
		Protocol: token.RPCv1,
		Incoming: true,
		Rest:     []byte("req"),
	}, Meta{Time: epoch})
	require.Equal(t, []Action{RpcIncomingData{PeerID: remote.ID, Addr: addr, Stream: 2, Data: []byte("req")}}, next)
	require.Contains(t, s.RpcIncomingStreams[remote.ID], RpcStreamKey{Addr: addr, Stream: 2})
	require.NotContains(t, s.RpcOutgoingStreams, remote.ID)
	require.Equal(t, token.StreamKind(token.RPCv1), conn.Streams[2].Kind)

	conn.Streams[3] = &Stream{Select: msselect.MakeInitiator(token.Meshsub1_1_0)}
	next = s.selectDone(SelectDone{
		Addr:     addr,
		Kind:     SelectStream{Peer: remote.ID, Stream: 3},
		Protocol: token.Meshsub1_1_0,
	}, Meta{Time: epoch})
	require.Equal(t, []Action{PubsubNewStream{PeerID: remote.ID, Addr: addr, Stream: 3}}, next)
}

func TestSelectDoneFamilyMismatch(t *testing.T) {
	partitiontest.PartitionTest(t)
	t.Parallel()

	s, _ := newTestState(t)
	addr := testAddr(1, 8302)
	s.newConnection(addr, false)
	require.Nil(t, s.selectDone(SelectDone{Addr: addr, Kind: SelectAuthentication{}, Protocol: token.Yamux1_0_0}, Meta{Time: epoch}))
	require.Nil(t, s.Connections[addr].Auth)
}

func TestSelectErrorScope(t *testing.T) {
	partitiontest.PartitionTest(t)
	t.Parallel()

	s, _ := newTestState(t)
	addr := testAddr(1, 8302)
	remote := muxedConnection(t, s, addr, false)
	conn := s.Connections[addr]
	conn.Streams[2] = &Stream{Incoming: true, Select: msselect.MakeResponder(token.FamilyStream)}
	rpcMap(s.RpcIncomingStreams, remote.ID)[RpcStreamKey{Addr: addr, Stream: 2}] = &RpcStream{Addr: addr, Stream: 2}

	err := errors.New("na")
	next := s.selectError(SelectError{Addr: addr, Kind: SelectStream{Peer: remote.ID, Stream: 2}, Err: err})
	require.Equal(t, []Action{YamuxCloseStream{Addr: addr, Stream: 2, Reset: true}}, next)
	require.Contains(t, s.Connections, addr)
	require.NotContains(t, conn.Streams, yamux.StreamID(2))
	require.NotContains(t, s.RpcIncomingStreams, remote.ID)

	// an unknown stream is nothing to reset
	require.Nil(t, s.selectError(SelectError{Addr: addr, Kind: SelectStream{Peer: remote.ID, Stream: 2}, Err: err}))

	next = s.selectError(SelectError{Addr: addr, Kind: SelectMultiplexing{Peer: remote.ID}, Err: err})
	require.Equal(t, []Action{CloseConnection{Addr: addr}}, next)
	require.Empty(t, s.Connections)
	require.Empty(t, s.Peers)
}

func TestNoiseOutgoingBeforeEstablished(t *testing.T) {
	partitiontest.PartitionTest(t)
	t.Parallel()

	s, _ := newTestState(t)
	addr := testAddr(1, 8302)
	s.newConnection(addr, false)
	require.Nil(t, s.noiseOutgoingData(NoiseOutgoingData{Addr: addr, Data: []byte("early")}))
	require.Contains(t, s.Connections, addr)
}

func TestEarlyBytesAreHeld(t *testing.T) {
	partitiontest.PartitionTest(t)
	t.Parallel()

	s, _ := newTestState(t)
	addr := testAddr(1, 8302)
	s.newConnection(addr, true)
	conn := s.Connections[addr]
	conn.SelectAuth.Done = true

	require.Nil(t, s.selectIncomingData(SelectIncomingData{Addr: addr, Kind: SelectAuthentication{}, Data: []byte("b")}))
	next := s.selectDone(SelectDone{Addr: addr, Kind: SelectAuthentication{}, Protocol: token.Noise, Incoming: true, Rest: []byte("a")}, Meta{Time: epoch})
	require.Equal(t, []Action{NoiseInit{Addr: addr, Initiator: false}}, next)
	require.Equal(t, "ab", string(conn.AuthBuffer))
}

func TestYamuxBeforeMuxerIsBuffered(t *testing.T) {
	partitiontest.PartitionTest(t)
	t.Parallel()

	s, _ := newTestState(t)
	addr := testAddr(1, 8302)
	s.newConnection(addr, false)
	require.Nil(t, s.yamuxIncomingData(YamuxIncomingData{Addr: addr, Data: []byte{0, 2}}))
	require.Equal(t, []byte{0, 2}, []byte(s.Connections[addr].MuxBuffer))
}

func TestPubsubDroppedWithoutOutgoingStream(t *testing.T) {
	partitiontest.PartitionTest(t)
	t.Parallel()

	s, _ := newTestState(t)
	addr := testAddr(1, 8302)
	remote := muxedConnection(t, s, addr, false)

	s.pubsubNewStream(PubsubNewStream{Incoming: true, PeerID: remote.ID, Addr: addr, Stream: 2})
	s.Pubsub.Graft(remote.ID, "other")
	require.Equal(t, []peer.ID{remote.ID}, s.Pubsub.Pending())
	require.Nil(t, s.pubsubOutgoingMessage(PubsubOutgoingMessage{PeerID: remote.ID}))
	require.Empty(t, s.Pubsub.Pending())
	require.Nil(t, s.pubsubOutgoingData(PubsubOutgoingData{PeerID: remote.ID, Data: []byte("rpc")}))

	next := s.pubsubNewStream(PubsubNewStream{PeerID: remote.ID, Addr: addr, Stream: 1})
	require.Equal(t, []Action{PubsubOutgoingMessage{PeerID: remote.ID}}, next)
	next = s.pubsubOutgoingMessage(PubsubOutgoingMessage{PeerID: remote.ID})
	require.Len(t, next, 1)
	data := next[0].(PubsubOutgoingData)
	require.NotEmpty(t, data.Data)
	require.Empty(t, s.Pubsub.Pending())

	next = s.pubsubOutgoingData(data)
	require.Equal(t, []Action{YamuxOutgoingData{Addr: addr, Stream: 1, Data: data.Data}}, next)
}

func TestTwoConnectionsToOnePeer(t *testing.T) {
	partitiontest.PartitionTest(t)
	t.Parallel()

	s, _ := newTestState(t)
	a, b := testAddr(1, 8302), testAddr(1, 40000)
	remote := muxedConnection(t, s, a, false)
	muxPeer(t, s, b, true, remote.ID)
	require.Len(t, s.Peers, 1)
	require.Equal(t, a, s.Peers[remote.ID].Addr)

	openRpc := func(addr netip.AddrPort, id yamux.StreamID) {
		s.Connections[addr].Streams[id] = &Stream{Select: msselect.MakeInitiator(token.RPCv1)}
		s.selectDone(SelectDone{Addr: addr, Kind: SelectStream{Peer: remote.ID, Stream: id}, Protocol: token.RPCv1}, Meta{Time: epoch})
	}
	openRpc(a, 3)
	openRpc(b, 3)
	require.Len(t, s.RpcOutgoingStreams[remote.ID], 2)

	// stream ids are only unique within a connection
	require.True(t, s.dropStream(b, s.Connections[b], 3))
	require.Contains(t, s.RpcOutgoingStreams[remote.ID], RpcStreamKey{Addr: a, Stream: 3})
	require.NotContains(t, s.RpcOutgoingStreams[remote.ID], RpcStreamKey{Addr: b, Stream: 3})

	rpc := RpcIncomingData{PeerID: remote.ID, Addr: a, Stream: 3, Data: []byte("resp")}
	s.rpcIncomingData(rpc)
	rpc.Addr = b
	s.rpcIncomingData(rpc)
	require.Equal(t, "resp", string(s.RpcOutgoingStreams[remote.ID][RpcStreamKey{Addr: a, Stream: 3}].Buffer))

	openRpc(b, 5)
	s.reduce(Disconnected{Addr: b}, Meta{Time: epoch})
	require.Len(t, s.RpcOutgoingStreams[remote.ID], 1)
	require.Contains(t, s.RpcOutgoingStreams[remote.ID], RpcStreamKey{Addr: a, Stream: 3})
	require.Equal(t, a, s.Peers[remote.ID].Addr)

	// the peer follows the connection that is left
	muxPeer(t, s, b, true, remote.ID)
	s.reduce(Disconnected{Addr: a}, Meta{Time: epoch})
	p := s.Peers[remote.ID]
	require.NotNil(t, p)
	require.Equal(t, b, p.Addr)
	require.True(t, p.IsIncoming)
	require.Empty(t, s.RpcOutgoingStreams)
	require.Equal(t, []peer.ID{remote.ID}, s.ReadyPeers())

	s.reduce(Disconnected{Addr: b}, Meta{Time: epoch})
	require.Empty(t, s.Peers)
}

func TestPeerNotMovedToUnmuxedConnection(t *testing.T) {
	partitiontest.PartitionTest(t)
	t.Parallel()

	s, _ := newTestState(t)
	a, b := testAddr(1, 8302), testAddr(1, 40000)
	remote := muxedConnection(t, s, a, false)
	s.newConnection(b, true)
	s.Connections[b].PeerID = remote.ID

	s.removeConnection(a)
	require.Empty(t, s.Peers)
	require.Contains(t, s.Connections, b)
}

func TestBroadcastStreamsOnTwoConnections(t *testing.T) {
	partitiontest.PartitionTest(t)
	t.Parallel()

	s, _ := newTestState(t)
	a, b := testAddr(1, 8302), testAddr(1, 40000)
	remote := muxedConnection(t, s, a, true)
	muxPeer(t, s, b, false, remote.ID)

	s.pubsubNewStream(PubsubNewStream{Incoming: true, PeerID: remote.ID, Addr: a, Stream: 2})
	next := s.pubsubNewStream(PubsubNewStream{PeerID: remote.ID, Addr: b, Stream: 1})
	require.Equal(t, []Action{PubsubOutgoingMessage{PeerID: remote.ID}}, next)
	next = s.pubsubOutgoingMessage(PubsubOutgoingMessage{PeerID: remote.ID})
	require.Len(t, next, 1)
	data := next[0].(PubsubOutgoingData)
	require.Equal(t, []Action{YamuxOutgoingData{Addr: b, Stream: 1, Data: data.Data}}, s.pubsubOutgoingData(data))

	// bytes on our own outgoing stream are not the peer's publications
	require.Nil(t, s.pubsubIncomingData(PubsubIncomingData{PeerID: remote.ID, Addr: b, Stream: 1, Data: []byte{0}}))

	// losing the connection of the incoming stream keeps the outgoing one
	s.removeConnection(a)
	ref, ok := s.Pubsub.OutgoingStream(remote.ID)
	require.True(t, ok)
	require.Equal(t, b, ref.Addr)
	_, ok = s.Pubsub.IncomingStream(remote.ID)
	require.False(t, ok)
	require.Equal(t, b, s.Peers[remote.ID].Addr)
	require.Equal(t, []peer.ID{remote.ID}, s.Pubsub.MeshPeers(pubsub.Topic))
}

func TestMalformedBroadcastFrameResetsStream(t *testing.T) {
	partitiontest.PartitionTest(t)
	t.Parallel()

	s, _ := newTestState(t)
	addr := testAddr(1, 8302)
	remote := muxedConnection(t, s, addr, false)
	s.pubsubNewStream(PubsubNewStream{Incoming: true, PeerID: remote.ID, Addr: addr, Stream: 2})

	size := uint64(s.Pubsub.Config().MaxMessageSize) + 1
	next := s.pubsubIncomingData(PubsubIncomingData{PeerID: remote.ID, Addr: addr, Stream: 2, Data: varint.ToUvarint(size)})
	require.Contains(t, next, YamuxCloseStream{Addr: addr, Stream: 2, Reset: true})
	require.Contains(t, s.Connections, addr)
}

func TestPnetNonceFailureIsFatal(t *testing.T) {
	partitiontest.PartitionTest(t)
	t.Parallel()

	s, _ := newTestState(t)
	addr := testAddr(1, 8302)
	s.newConnection(addr, false)
	require.Len(t, s.pnetSetupNonce(PnetSetupNonce{Addr: addr}), 2)

	next := s.pnetSetupNonce(PnetSetupNonce{Addr: addr})
	require.Len(t, next, 1)
	ce, ok := next[0].(ConnectionError)
	require.True(t, ok)
	require.Equal(t, addr, ce.Addr)
	require.ErrorIs(t, ce.Err, pnet.ErrNonce)

	require.Equal(t, []Action{CloseConnection{Addr: addr}}, s.connectionError(ce))
	require.Empty(t, s.Connections)
}

func TestReduceUnknownActionPanics(t *testing.T) {
	partitiontest.PartitionTest(t)
	t.Parallel()

	s, _ := newTestState(t)
	require.Panics(t, func() { s.reduce(SendData{}, Meta{}) })
}
