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
	"context"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/stretchr/testify/require"

	"github.com/algorand/go-meshnet/config"
	"github.com/algorand/go-meshnet/logging"
	"github.com/algorand/go-meshnet/network/p2p"
	"github.com/algorand/go-meshnet/network/pubsub"
	"github.com/algorand/go-meshnet/test/partitiontest"
)

const defaultTestDialTimeout = 5 * time.Second

type gossipEvent struct {
	from peer.ID
	msg  pubsub.GossipMessage
}

func makeTestNetwork(t *testing.T, chainID string) (*MeshNetwork, chan gossipEvent) {
	cfg := config.GetDefaultLocal()
	cfg.ChainID = chainID
	cfg.NetAddress = "/ip4/127.0.0.1/tcp/0"
	cfg.MeshsubHeartbeatInterval = 100 * time.Millisecond
	cfg.DialTimeout = defaultTestDialTimeout

	id, err := p2p.GenerateIdentity()
	require.NoError(t, err)
	n, err := NewMeshNetwork(logging.TestingLog(t), cfg, id)
	require.NoError(t, err)

	events := make(chan gossipEvent, 16)
	n.RegisterGossipHandler(func(from peer.ID, msg pubsub.GossipMessage) {
		select {
		case events <- gossipEvent{from: from, msg: msg}:
		default:
		}
	})
	require.NoError(t, n.Start())
	t.Cleanup(n.Stop)
	return n, events
}

func hasPeer(n *MeshNetwork, id peer.ID) bool {
	for _, p := range n.Peers() {
		if p.ID == id {
			return true
		}
	}
	return false
}

func TestMeshNetworkConnectAndBroadcast(t *testing.T) {
	partitiontest.PartitionTest(t)
	t.Parallel()

	a, _ := makeTestNetwork(t, "meshnet-test")
	b, bEvents := makeTestNetwork(t, "meshnet-test")

	require.NoError(t, a.Connect(context.Background(), b.ListenAddr()))

	require.Eventually(t, func() bool {
		return hasPeer(a, b.ID()) && hasPeer(b, a.ID())
	}, 10*time.Second, 20*time.Millisecond)
	require.Eventually(t, func() bool {
		return len(a.MeshPeers()) == 1 && len(b.MeshPeers()) == 1
	}, 10*time.Second, 20*time.Millisecond)
	require.Equal(t, []peer.ID{b.ID()}, a.MeshPeers())

	for _, p := range b.Peers() {
		if p.ID == a.ID() {
			require.True(t, p.Incoming)
		}
	}

	a.Broadcast(pubsub.GossipMessage{Kind: pubsub.TransactionPoolDiff, Body: []byte("tx-1")})
	select {
	case ev := <-bEvents:
		require.Equal(t, a.ID(), ev.from)
		require.Equal(t, pubsub.TransactionPoolDiff, ev.msg.Kind)
		require.Equal(t, "tx-1", string(ev.msg.Body))
	case <-time.After(10 * time.Second):
		require.FailNow(t, "publication not delivered")
	}

	a.Broadcast(pubsub.GossipMessage{Kind: pubsub.NewState, Body: []byte("tip-7")})
	require.Eventually(t, func() bool {
		for _, p := range b.Peers() {
			if p.ID == a.ID() {
				return string(p.BestTip) == "tip-7"
			}
		}
		return false
	}, 10*time.Second, 20*time.Millisecond)
}

func TestMeshNetworkStopDisconnectsPeers(t *testing.T) {
	partitiontest.PartitionTest(t)
	t.Parallel()

	a, _ := makeTestNetwork(t, "meshnet-test")
	b, _ := makeTestNetwork(t, "meshnet-test")

	require.NoError(t, a.Connect(context.Background(), b.ListenAddr()))
	require.Eventually(t, func() bool {
		return hasPeer(b, a.ID())
	}, 10*time.Second, 20*time.Millisecond)

	a.Stop()
	require.Eventually(t, func() bool {
		return len(b.Peers()) == 0
	}, 10*time.Second, 20*time.Millisecond)
}

func TestMeshNetworkChainIDMismatch(t *testing.T) {
	partitiontest.PartitionTest(t)
	t.Parallel()

	a, _ := makeTestNetwork(t, "meshnet-test")
	b, _ := makeTestNetwork(t, "another-chain")

	require.NoError(t, a.Connect(context.Background(), b.ListenAddr()))
	require.Never(t, func() bool {
		return len(a.Peers()) > 0 || len(b.Peers()) > 0
	}, time.Second, 50*time.Millisecond)
}

func TestMeshNetworkConnectionLimit(t *testing.T) {
	partitiontest.PartitionTest(t)
	t.Parallel()

	cfg := config.GetDefaultLocal()
	cfg.NetAddress = "/ip4/127.0.0.1/tcp/0"
	cfg.MaxConnections = 1
	id, err := p2p.GenerateIdentity()
	require.NoError(t, err)
	b, err := NewMeshNetwork(logging.TestingLog(t), cfg, id)
	require.NoError(t, err)
	require.NoError(t, b.Start())
	t.Cleanup(b.Stop)

	a1, _ := makeTestNetwork(t, cfg.ChainID)
	a2, _ := makeTestNetwork(t, cfg.ChainID)

	require.NoError(t, a1.Connect(context.Background(), b.ListenAddr()))
	require.Eventually(t, func() bool {
		return hasPeer(b, a1.ID())
	}, 10*time.Second, 20*time.Millisecond)

	require.NoError(t, a2.Connect(context.Background(), b.ListenAddr()))
	require.Never(t, func() bool {
		return hasPeer(a2, b.ID())
	}, time.Second, 50*time.Millisecond)
	require.Len(t, b.Peers(), 1)
}

func TestNewMeshNetworkRejectsInvalidConfig(t *testing.T) {
	partitiontest.PartitionTest(t)
	t.Parallel()

	cfg := config.GetDefaultLocal()
	cfg.MeshsubDlo = cfg.MeshsubD + 1
	id, err := p2p.GenerateIdentity()
	require.NoError(t, err)
	_, err = NewMeshNetwork(logging.TestingLog(t), cfg, id)
	require.Error(t, err)
}
