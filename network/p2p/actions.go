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

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/algorand/go-meshnet/network/framing"
	"github.com/algorand/go-meshnet/network/noise"
	"github.com/algorand/go-meshnet/network/pubsub"
	"github.com/algorand/go-meshnet/network/token"
	"github.com/algorand/go-meshnet/network/yamux"
)

type actionType uint8

const (
	// interfaces
	interfaceDetected actionType = iota
	interfaceExpired

	// connections
	outgoingDidConnect
	incomingDidAccept
	incomingDataDidReceive
	connectionError
	disconnect
	disconnected
	sendData
	closeConnection

	// pnet
	pnetRequestNonce
	pnetSetupNonce
	pnetIncomingData
	pnetOutgoingData

	// select
	selectInit
	selectIncomingData
	selectDone
	selectError

	// noise
	noiseInit
	noiseHandshakeStart
	noiseIncomingData
	noiseOutgoingData

	// yamux
	yamuxIncomingData
	yamuxIncomingFrame
	yamuxOutgoingFrame
	yamuxOutgoingData
	yamuxOpenStream
	yamuxPingStream
	yamuxCloseStream
	yamuxGoAway
	yamuxDidInit

	// pubsub
	pubsubNewStream
	pubsubGraft
	pubsubBroadcast
	pubsubSign
	pubsubBroadcastSigned
	pubsubSignError
	pubsubIncomingData
	pubsubOutgoingMessage
	pubsubOutgoingData
	pubsubHeartbeat

	// peers and channels
	peerBestTipUpdate
	channelsTransactionReceived
	channelsSnarkReceived
	rpcIncomingData

	numActionTypes
)

var actionTypeNames = [numActionTypes]string{
	"InterfaceDetected",
	"InterfaceExpired",
	"OutgoingDidConnect",
	"IncomingDidAccept",
	"IncomingDataDidReceive",
	"ConnectionError",
	"Disconnect",
	"Disconnected",
	"SendData",
	"CloseConnection",
	"PnetRequestNonce",
	"PnetSetupNonce",
	"PnetIncomingData",
	"PnetOutgoingData",
	"SelectInit",
	"SelectIncomingData",
	"SelectDone",
	"SelectError",
	"NoiseInit",
	"NoiseHandshakeStart",
	"NoiseIncomingData",
	"NoiseOutgoingData",
	"YamuxIncomingData",
	"YamuxIncomingFrame",
	"YamuxOutgoingFrame",
	"YamuxOutgoingData",
	"YamuxOpenStream",
	"YamuxPingStream",
	"YamuxCloseStream",
	"YamuxGoAway",
	"YamuxDidInit",
	"PubsubNewStream",
	"PubsubGraft",
	"PubsubBroadcast",
	"PubsubSign",
	"PubsubBroadcastSigned",
	"PubsubSignError",
	"PubsubIncomingData",
	"PubsubOutgoingMessage",
	"PubsubOutgoingData",
	"PubsubHeartbeat",
	"PeerBestTipUpdate",
	"ChannelsTransactionReceived",
	"ChannelsSnarkReceived",
	"RpcIncomingData",
}

func (t actionType) String() string {
	if t >= numActionTypes {
		return fmt.Sprintf("actionType(%d)", uint8(t))
	}
	return actionTypeNames[t]
}

// Action is an input to the scheduler. The set is closed: only this package
// defines actions.
type Action interface {
	t() actionType
	String() string
}

// ActionName returns the type name of a, e.g. "SendData".
func ActionName(a Action) string {
	return a.t().String()
}

// effect is an action whose handling calls out to the Service instead of
// mutating state. Outcomes come back as new actions.
type effect interface {
	Action
	do(Service) []Action
}

func connString(t actionType, addr netip.AddrPort, rest string) string {
	if rest == "" {
		return fmt.Sprintf("%v{%v}", t, addr)
	}
	return fmt.Sprintf("%v{%v %s}", t, addr, rest)
}

func bytesString(b []byte) string {
	return fmt.Sprintf("%d bytes", len(b))
}

// SelectKind says which of the three negotiations of a connection a select
// action refers to.
type SelectKind interface {
	Family() token.Family
	String() string
	selectKind()
}

// SelectAuthentication is the negotiation of the secure channel, right above PNet.
type SelectAuthentication struct{}

// SelectMultiplexing is the negotiation of the muxer, inside the secure channel.
// Peer is the remote identity proven by the handshake.
type SelectMultiplexing struct {
	Peer peer.ID
}

// SelectStream is the negotiation of the protocol of one muxed stream.
type SelectStream struct {
	Peer   peer.ID
	Stream yamux.StreamID
}

func (SelectAuthentication) Family() token.Family { return token.FamilyAuth }
func (SelectMultiplexing) Family() token.Family   { return token.FamilyMux }
func (SelectStream) Family() token.Family         { return token.FamilyStream }

func (SelectAuthentication) selectKind() {}
func (SelectMultiplexing) selectKind()   {}
func (SelectStream) selectKind()         {}

func (SelectAuthentication) String() string { return "auth" }
func (k SelectMultiplexing) String() string { return fmt.Sprintf("mux(%s)", k.Peer) }
func (k SelectStream) String() string       { return fmt.Sprintf("stream(%s, %d)", k.Peer, k.Stream) }

// InterfaceDetected reports a local address we can be reached on.
type InterfaceDetected struct {
	IP netip.Addr
}

// InterfaceExpired reports a local address that went away.
type InterfaceExpired struct {
	IP netip.Addr
}

// OutgoingDidConnect reports a completed dial.
type OutgoingDidConnect struct {
	Addr netip.AddrPort
}

// IncomingDidAccept reports an accepted connection.
type IncomingDidAccept struct {
	Addr netip.AddrPort
}

// IncomingDataDidReceive carries bytes read from a socket, or the read error.
type IncomingDataDidReceive struct {
	Addr netip.AddrPort
	Data framing.Data
	Err  error
}

// ConnectionError is a transport fatal failure in any layer of a connection.
type ConnectionError struct {
	Addr netip.AddrPort
	Err  error
}

// Disconnect asks for a connection to be closed.
type Disconnect struct {
	Addr   netip.AddrPort
	Reason string
}

// Disconnected reports that a requested disconnection completed.
type Disconnected struct {
	Addr netip.AddrPort
}

// SendData writes raw bytes to a socket.
type SendData struct {
	Addr netip.AddrPort
	Data framing.Data
}

// CloseConnection closes a socket whose state is already gone.
type CloseConnection struct {
	Addr netip.AddrPort
}

// PnetRequestNonce asks the service for the local PNet nonce.
type PnetRequestNonce struct {
	Addr netip.AddrPort
}

// PnetSetupNonce installs the local nonce and sends it.
type PnetSetupNonce struct {
	Addr  netip.AddrPort
	Nonce framing.Nonce
}

// PnetIncomingData carries ciphertext read from the socket.
type PnetIncomingData struct {
	Addr netip.AddrPort
	Data framing.Data
}

// PnetOutgoingData carries plaintext to be encrypted and written.
type PnetOutgoingData struct {
	Addr netip.AddrPort
	Data framing.Data
}

// SelectInit starts a negotiation.
type SelectInit struct {
	Addr netip.AddrPort
	Kind SelectKind
}

// SelectIncomingData feeds a negotiation.
type SelectIncomingData struct {
	Addr netip.AddrPort
	Kind SelectKind
	Data framing.Data
}

// SelectDone reports an agreed protocol. Rest holds bytes that followed the
// final token and belong to the negotiated protocol.
type SelectDone struct {
	Addr     netip.AddrPort
	Kind     SelectKind
	Protocol token.Protocol
	Incoming bool
	Rest     framing.Data
}

// SelectError reports a failed negotiation.
type SelectError struct {
	Addr netip.AddrPort
	Kind SelectKind
	Err  error
}

// NoiseInit asks the service for handshake keys.
type NoiseInit struct {
	Addr      netip.AddrPort
	Initiator bool
}

// NoiseHandshakeStart installs the handshake state.
type NoiseHandshakeStart struct {
	Addr      netip.AddrPort
	Initiator bool
	Keys      noise.Keys
}

// NoiseIncomingData carries PNet plaintext destined to the secure channel.
type NoiseIncomingData struct {
	Addr netip.AddrPort
	Data framing.Data
}

// NoiseOutgoingData carries plaintext to be sealed by the secure channel.
type NoiseOutgoingData struct {
	Addr netip.AddrPort
	Data framing.Data
}

// YamuxIncomingData carries secure channel plaintext destined to the muxer.
type YamuxIncomingData struct {
	Addr netip.AddrPort
	Data framing.Data
}

// YamuxIncomingFrame is one decoded muxer frame.
type YamuxIncomingFrame struct {
	Addr  netip.AddrPort
	Frame yamux.Frame
}

// YamuxOutgoingFrame is one muxer frame to be sealed and sent.
type YamuxOutgoingFrame struct {
	Addr  netip.AddrPort
	Frame yamux.Frame
}

// YamuxOutgoingData writes to a stream, closing our side after it if Fin.
type YamuxOutgoingData struct {
	Addr   netip.AddrPort
	Stream yamux.StreamID
	Data   framing.Data
	Fin    bool
}

// YamuxOpenStream opens a stream that will negotiate the given kind.
type YamuxOpenStream struct {
	Addr netip.AddrPort
	Kind token.StreamKind
}

// YamuxPingStream pings the remote muxer.
type YamuxPingStream struct {
	Addr netip.AddrPort
}

// YamuxCloseStream half closes a stream, or resets it.
type YamuxCloseStream struct {
	Addr   netip.AddrPort
	Stream yamux.StreamID
	Reset  bool
}

// YamuxGoAway announces that we accept no more streams on a connection.
type YamuxGoAway struct {
	Addr netip.AddrPort
	Code yamux.GoAwayCode
}

// YamuxDidInit reports the first frame from the remote muxer.
type YamuxDidInit struct {
	Addr netip.AddrPort
}

// PubsubNewStream registers a negotiated broadcast stream.
type PubsubNewStream struct {
	Incoming bool
	PeerID   peer.ID
	Addr     netip.AddrPort
	Stream   yamux.StreamID
}

// PubsubGraft adds a peer to the mesh of a topic.
type PubsubGraft struct {
	PeerID peer.ID
	Topic  string
}

// PubsubBroadcast publishes a gossip message authored by this node.
type PubsubBroadcast struct {
	Message pubsub.GossipMessage
}

// PubsubSign asks the service to sign the head of the sign queue.
type PubsubSign struct {
	Data framing.Data
}

// PubsubBroadcastSigned delivers the signature for the head of the sign queue.
type PubsubBroadcastSigned struct {
	Signature framing.Data
}

// PubsubSignError reports that signing the head of the sign queue failed.
type PubsubSignError struct {
	Err error
}

// PubsubIncomingData carries bytes read from a broadcast stream.
type PubsubIncomingData struct {
	PeerID peer.ID
	Addr   netip.AddrPort
	Stream yamux.StreamID
	Data   framing.Data
}

// PubsubOutgoingMessage flushes what is queued for a peer.
type PubsubOutgoingMessage struct {
	PeerID peer.ID
}

// PubsubOutgoingData carries an encoded RPC for a peer's outgoing broadcast stream.
type PubsubOutgoingData struct {
	PeerID peer.ID
	Data   framing.Data
}

// PubsubHeartbeat runs mesh maintenance.
type PubsubHeartbeat struct{}

// PeerBestTipUpdate records the best tip a peer announced.
type PeerBestTipUpdate struct {
	PeerID  peer.ID
	BestTip framing.Data
}

// ChannelsTransactionReceived hands transactions gossiped by a peer to higher layers.
type ChannelsTransactionReceived struct {
	PeerID peer.ID
	Body   framing.Data
}

// ChannelsSnarkReceived hands completed work gossiped by a peer to higher layers.
type ChannelsSnarkReceived struct {
	PeerID peer.ID
	Body   framing.Data
}

// RpcIncomingData carries bytes read from an RPC stream.
type RpcIncomingData struct {
	PeerID peer.ID
	Addr   netip.AddrPort
	Stream yamux.StreamID
	Data   framing.Data
}

func (InterfaceDetected) t() actionType           { return interfaceDetected }
func (InterfaceExpired) t() actionType            { return interfaceExpired }
func (OutgoingDidConnect) t() actionType          { return outgoingDidConnect }
func (IncomingDidAccept) t() actionType           { return incomingDidAccept }
func (IncomingDataDidReceive) t() actionType      { return incomingDataDidReceive }
func (ConnectionError) t() actionType             { return connectionError }
func (Disconnect) t() actionType                  { return disconnect }
func (Disconnected) t() actionType                { return disconnected }
func (SendData) t() actionType                    { return sendData }
func (CloseConnection) t() actionType             { return closeConnection }
func (PnetRequestNonce) t() actionType            { return pnetRequestNonce }
func (PnetSetupNonce) t() actionType              { return pnetSetupNonce }
func (PnetIncomingData) t() actionType            { return pnetIncomingData }
func (PnetOutgoingData) t() actionType            { return pnetOutgoingData }
func (SelectInit) t() actionType                  { return selectInit }
func (SelectIncomingData) t() actionType          { return selectIncomingData }
func (SelectDone) t() actionType                  { return selectDone }
func (SelectError) t() actionType                 { return selectError }
func (NoiseInit) t() actionType                   { return noiseInit }
func (NoiseHandshakeStart) t() actionType         { return noiseHandshakeStart }
func (NoiseIncomingData) t() actionType           { return noiseIncomingData }
func (NoiseOutgoingData) t() actionType           { return noiseOutgoingData }
func (YamuxIncomingData) t() actionType           { return yamuxIncomingData }
func (YamuxIncomingFrame) t() actionType          { return yamuxIncomingFrame }
func (YamuxOutgoingFrame) t() actionType          { return yamuxOutgoingFrame }
func (YamuxOutgoingData) t() actionType           { return yamuxOutgoingData }
func (YamuxOpenStream) t() actionType             { return yamuxOpenStream }
func (YamuxPingStream) t() actionType             { return yamuxPingStream }
func (YamuxCloseStream) t() actionType            { return yamuxCloseStream }
func (YamuxGoAway) t() actionType                 { return yamuxGoAway }
func (YamuxDidInit) t() actionType                { return yamuxDidInit }
func (PubsubNewStream) t() actionType             { return pubsubNewStream }
func (PubsubGraft) t() actionType                 { return pubsubGraft }
func (PubsubBroadcast) t() actionType             { return pubsubBroadcast }
func (PubsubSign) t() actionType                  { return pubsubSign }
func (PubsubBroadcastSigned) t() actionType       { return pubsubBroadcastSigned }
func (PubsubSignError) t() actionType             { return pubsubSignError }
func (PubsubIncomingData) t() actionType          { return pubsubIncomingData }
func (PubsubOutgoingMessage) t() actionType       { return pubsubOutgoingMessage }
func (PubsubOutgoingData) t() actionType          { return pubsubOutgoingData }
func (PubsubHeartbeat) t() actionType             { return pubsubHeartbeat }
func (PeerBestTipUpdate) t() actionType           { return peerBestTipUpdate }
func (ChannelsTransactionReceived) t() actionType { return channelsTransactionReceived }
func (ChannelsSnarkReceived) t() actionType       { return channelsSnarkReceived }
func (RpcIncomingData) t() actionType             { return rpcIncomingData }

func (a InterfaceDetected) String() string { return fmt.Sprintf("%v{%v}", a.t(), a.IP) }
func (a InterfaceExpired) String() string  { return fmt.Sprintf("%v{%v}", a.t(), a.IP) }
func (a OutgoingDidConnect) String() string {
	return connString(a.t(), a.Addr, "")
}
func (a IncomingDidAccept) String() string {
	return connString(a.t(), a.Addr, "")
}
func (a IncomingDataDidReceive) String() string {
	if a.Err != nil {
		return connString(a.t(), a.Addr, a.Err.Error())
	}
	return connString(a.t(), a.Addr, bytesString(a.Data))
}
func (a ConnectionError) String() string  { return connString(a.t(), a.Addr, fmt.Sprint(a.Err)) }
func (a Disconnect) String() string       { return connString(a.t(), a.Addr, a.Reason) }
func (a Disconnected) String() string     { return connString(a.t(), a.Addr, "") }
func (a SendData) String() string         { return connString(a.t(), a.Addr, bytesString(a.Data)) }
func (a CloseConnection) String() string  { return connString(a.t(), a.Addr, "") }
func (a PnetRequestNonce) String() string { return connString(a.t(), a.Addr, "") }
func (a PnetSetupNonce) String() string   { return connString(a.t(), a.Addr, a.Nonce.String()) }
func (a PnetIncomingData) String() string { return connString(a.t(), a.Addr, bytesString(a.Data)) }
func (a PnetOutgoingData) String() string { return connString(a.t(), a.Addr, bytesString(a.Data)) }
func (a SelectInit) String() string       { return connString(a.t(), a.Addr, a.Kind.String()) }
func (a SelectIncomingData) String() string {
	return connString(a.t(), a.Addr, a.Kind.String()+" "+bytesString(a.Data))
}
func (a SelectDone) String() string {
	return connString(a.t(), a.Addr, fmt.Sprintf("%v %s", a.Kind, a.Protocol.Name()))
}
func (a SelectError) String() string {
	return connString(a.t(), a.Addr, fmt.Sprintf("%v %v", a.Kind, a.Err))
}
func (a NoiseInit) String() string {
	return connString(a.t(), a.Addr, fmt.Sprintf("initiator=%v", a.Initiator))
}
func (a NoiseHandshakeStart) String() string {
	return connString(a.t(), a.Addr, fmt.Sprintf("initiator=%v", a.Initiator))
}
func (a NoiseIncomingData) String() string  { return connString(a.t(), a.Addr, bytesString(a.Data)) }
func (a NoiseOutgoingData) String() string  { return connString(a.t(), a.Addr, bytesString(a.Data)) }
func (a YamuxIncomingData) String() string  { return connString(a.t(), a.Addr, bytesString(a.Data)) }
func (a YamuxIncomingFrame) String() string { return connString(a.t(), a.Addr, a.Frame.String()) }
func (a YamuxOutgoingFrame) String() string { return connString(a.t(), a.Addr, a.Frame.String()) }
func (a YamuxOutgoingData) String() string {
	return connString(a.t(), a.Addr, fmt.Sprintf("stream %d %s fin=%v", a.Stream, bytesString(a.Data), a.Fin))
}
func (a YamuxOpenStream) String() string { return connString(a.t(), a.Addr, a.Kind.Name()) }
func (a YamuxPingStream) String() string { return connString(a.t(), a.Addr, "") }
func (a YamuxCloseStream) String() string {
	return connString(a.t(), a.Addr, fmt.Sprintf("stream %d reset=%v", a.Stream, a.Reset))
}
func (a YamuxGoAway) String() string  { return connString(a.t(), a.Addr, fmt.Sprintf("code %d", a.Code)) }
func (a YamuxDidInit) String() string { return connString(a.t(), a.Addr, "") }
func (a PubsubNewStream) String() string {
	return fmt.Sprintf("%v{%s %v stream %d incoming=%v}", a.t(), a.PeerID, a.Addr, a.Stream, a.Incoming)
}
func (a PubsubGraft) String() string     { return fmt.Sprintf("%v{%s %s}", a.t(), a.PeerID, a.Topic) }
func (a PubsubBroadcast) String() string { return fmt.Sprintf("%v{%v}", a.t(), a.Message.Kind) }
func (a PubsubSign) String() string      { return fmt.Sprintf("%v{%s}", a.t(), bytesString(a.Data)) }
func (a PubsubBroadcastSigned) String() string {
	return fmt.Sprintf("%v{%s}", a.t(), bytesString(a.Signature))
}
func (a PubsubSignError) String() string { return fmt.Sprintf("%v{%v}", a.t(), a.Err) }
func (a PubsubIncomingData) String() string {
	return fmt.Sprintf("%v{%s %s stream %d %s}", a.t(), a.PeerID, a.Addr, a.Stream, bytesString(a.Data))
}
func (a PubsubOutgoingMessage) String() string { return fmt.Sprintf("%v{%s}", a.t(), a.PeerID) }
func (a PubsubOutgoingData) String() string {
	return fmt.Sprintf("%v{%s %s}", a.t(), a.PeerID, bytesString(a.Data))
}
func (a PubsubHeartbeat) String() string { return a.t().String() }
func (a PeerBestTipUpdate) String() string {
	return fmt.Sprintf("%v{%s %s}", a.t(), a.PeerID, bytesString(a.BestTip))
}
func (a ChannelsTransactionReceived) String() string {
	return fmt.Sprintf("%v{%s %s}", a.t(), a.PeerID, bytesString(a.Body))
}
func (a ChannelsSnarkReceived) String() string {
	return fmt.Sprintf("%v{%s %s}", a.t(), a.PeerID, bytesString(a.Body))
}
func (a RpcIncomingData) String() string {
	return fmt.Sprintf("%v{%s %s stream %d %s}", a.t(), a.PeerID, a.Addr, a.Stream, bytesString(a.Data))
}
