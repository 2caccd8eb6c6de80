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
	"github.com/algorand/go-meshnet/network/p2p"
	"github.com/algorand/go-meshnet/network/pubsub"
	"github.com/algorand/go-meshnet/util/metrics"
)

var networkSentBytesTotal = metrics.MakeCounter(metrics.NetworkSentBytesTotal)
var networkReceivedBytesTotal = metrics.MakeCounter(metrics.NetworkReceivedBytesTotal)
var networkConnectionsDroppedTotal = metrics.MakeCounter(metrics.NetworkConnectionsDroppedTotal)
var networkConnectionsRejectedTotal = metrics.MakeCounter(metrics.NetworkConnectionsRejectedTotal)
var networkDialFailuresTotal = metrics.MakeCounter(metrics.NetworkDialFailuresTotal)

var networkIncomingConnections = metrics.MakeGauge(metrics.NetworkIncomingConnections)
var networkOutgoingConnections = metrics.MakeGauge(metrics.NetworkOutgoingConnections)
var networkReadyPeers = metrics.MakeGauge(metrics.NetworkReadyPeers)

var networkActionsByType = metrics.NewTagCounter(metrics.NetworkActionsTotal, "action")

var gossipPublishedTotal = metrics.MakeCounter(metrics.GossipPublishedTotal)
var gossipReceivedByKind = metrics.NewTagCounter(metrics.GossipReceivedTotal, "kind")
var gossipMeshPeers = metrics.MakeGauge(metrics.GossipMeshPeers)

// countAction updates the counters an action moves.
func countAction(a p2p.Action) {
	networkActionsByType.Inc(p2p.ActionName(a))
	switch a := a.(type) {
	case p2p.SendData:
		networkSentBytesTotal.AddUint64(uint64(len(a.Data)))
	case p2p.IncomingDataDidReceive:
		networkReceivedBytesTotal.AddUint64(uint64(len(a.Data)))
	case p2p.ConnectionError:
		networkConnectionsDroppedTotal.Inc()
	case p2p.SelectError:
		if _, stream := a.Kind.(p2p.SelectStream); !stream {
			networkConnectionsDroppedTotal.Inc()
		}
	case p2p.PubsubBroadcastSigned:
		gossipPublishedTotal.Inc()
	case p2p.PeerBestTipUpdate:
		gossipReceivedByKind.Inc(pubsub.NewState.String())
	case p2p.ChannelsTransactionReceived:
		gossipReceivedByKind.Inc(pubsub.TransactionPoolDiff.String())
	case p2p.ChannelsSnarkReceived:
		gossipReceivedByKind.Inc(pubsub.SnarkPoolDiff.String())
	}
}

func updateGauges(s *p2p.State) {
	networkReadyPeers.Set(len(s.ReadyPeers()))
	gossipMeshPeers.Set(s.Pubsub.MeshSize(pubsub.Topic))
}
