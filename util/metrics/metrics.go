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

package metrics

// MetricName describes the name and description of a single metric
type MetricName struct {
	Name        string
	Description string
}

var (
	// NetworkIncomingConnections Number of incoming connections
	NetworkIncomingConnections = MetricName{Name: "meshnet_network_incoming_connections", Description: "Number of incoming connections"}
	// NetworkOutgoingConnections Number of outgoing connections
	NetworkOutgoingConnections = MetricName{Name: "meshnet_network_outgoing_connections", Description: "Number of outgoing connections"}
	// NetworkReadyPeers Number of peers with a negotiated muxer
	NetworkReadyPeers = MetricName{Name: "meshnet_network_ready_peers", Description: "Number of peers with a negotiated muxer"}
	// NetworkSentBytesTotal Total number of bytes that were sent over the network
	NetworkSentBytesTotal = MetricName{Name: "meshnet_network_sent_bytes_total", Description: "Total number of bytes that were sent over the network"}
	// NetworkReceivedBytesTotal Total number of bytes that were received from the network
	NetworkReceivedBytesTotal = MetricName{Name: "meshnet_network_received_bytes_total", Description: "Total number of bytes that were received from the network"}
	// NetworkConnectionsDroppedTotal Total number of connections closed on a protocol error
	NetworkConnectionsDroppedTotal = MetricName{Name: "meshnet_network_connections_dropped_total", Description: "Total number of connections closed on a protocol error"}
	// NetworkConnectionsRejectedTotal Total number of incoming connections refused over the connection limit
	NetworkConnectionsRejectedTotal = MetricName{Name: "meshnet_network_connections_rejected_total", Description: "Total number of incoming connections refused over the connection limit"}
	// NetworkDialFailuresTotal Total number of failed outgoing connection attempts
	NetworkDialFailuresTotal = MetricName{Name: "meshnet_network_dial_failures_total", Description: "Total number of failed outgoing connection attempts"}
	// NetworkActionsTotal Number of scheduler actions handled, by action
	NetworkActionsTotal = MetricName{Name: "meshnet_network_actions_total", Description: "Number of scheduler actions handled"}
	// GossipPublishedTotal Number of publications signed and queued for the mesh
	GossipPublishedTotal = MetricName{Name: "meshnet_gossip_published_total", Description: "Number of publications signed and queued for the mesh"}
	// GossipReceivedTotal Number of verified publications received, by kind
	GossipReceivedTotal = MetricName{Name: "meshnet_gossip_received_total", Description: "Number of verified publications received"}
	// GossipMeshPeers Number of peers in the broadcast mesh
	GossipMeshPeers = MetricName{Name: "meshnet_gossip_mesh_peers", Description: "Number of peers in the broadcast mesh"}
)
