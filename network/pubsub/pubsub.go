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

// Package pubsub keeps the gossip state of the node: who is in our mesh for
// each topic, what every peer is about to be sent, and which publications are
// waiting for a signature.
//
// Nothing here writes to the network. Frames for a peer accumulate in its
// client entry until Compose or Discard is called. Only peers we hold an
// outgoing broadcast stream to are queued anything they did not ask for.
package pubsub

import (
	"errors"
	"net/netip"
	"sort"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	pb "github.com/libp2p/go-libp2p-pubsub/pb"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/algorand/go-meshnet/network/yamux"
)

// Topic is the only topic this node publishes and subscribes to.
const Topic = "coda/consensus-messages/0.0.1"

// ErrNothingToSign is returned when a signature arrives with an empty sign queue.
var ErrNothingToSign = errors.New("pubsub: no publication awaiting signature")

// Config holds the mesh parameters.
type Config struct {
	// D is the desired mesh degree, Dlo and Dhi its watermarks.
	D   int
	Dlo int
	Dhi int
	// HistoryLength bounds the publications kept to answer IWANT.
	HistoryLength int
	// SeenCacheSize bounds the message ids remembered for duplicate suppression.
	SeenCacheSize int
	// PruneBackoff is advertised to peers we prune.
	PruneBackoff time.Duration
	// MaxMessageSize bounds one incoming RPC frame.
	MaxMessageSize int
}

// DefaultConfig returns the gossipsub defaults.
func DefaultConfig() Config {
	return Config{
		D:              6,
		Dlo:            5,
		Dhi:            12,
		HistoryLength:  5000,
		SeenCacheSize:  100000,
		PruneBackoff:   time.Minute,
		MaxMessageSize: 32 << 20,
	}
}

// StreamRef locates a broadcast stream: the connection it is muxed on and its
// id within that connection.
type StreamRef struct {
	Addr   netip.AddrPort
	Stream yamux.StreamID
}

// Client is what we know about one gossip peer. The two streams may live on
// different connections to the peer.
type Client struct {
	Incoming *StreamRef `json:",omitempty"`
	Outgoing *StreamRef `json:",omitempty"`
	// Message accumulates everything queued for the peer until the next flush.
	Message *pb.RPC `json:",omitempty"`

	buf []byte
}

// Received is a decoded publication for higher layers.
type Received struct {
	From    peer.ID
	Message GossipMessage
}

// State is the gossip state of the node.
type State struct {
	Clients       map[peer.ID]*Client
	Mesh          map[string]map[peer.ID]bool
	Subscriptions map[string]map[peer.ID]bool

	// SeqBase is the initial time in nanoseconds, Seq the publications since.
	SeqBase uint64
	Seq     uint64
	ToSign  []*pb.Message `json:",omitempty"`

	Received []Received `json:",omitempty"`

	seen   *lru.Cache[string, struct{}]
	mcache *lru.Cache[string, *pb.Message]
	cfg    Config
}

// New returns an empty gossip state. initialTime seeds the sequence numbers.
func New(cfg Config, initialTime time.Time) *State {
	def := DefaultConfig()
	if cfg.HistoryLength <= 0 {
		cfg.HistoryLength = def.HistoryLength
	}
	if cfg.SeenCacheSize <= 0 {
		cfg.SeenCacheSize = def.SeenCacheSize
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}
	seen, err := lru.New[string, struct{}](cfg.SeenCacheSize)
	if err != nil {
		panic(err)
	}
	mcache, err := lru.New[string, *pb.Message](cfg.HistoryLength)
	if err != nil {
		panic(err)
	}
	return &State{
		Clients:       make(map[peer.ID]*Client),
		Mesh:          map[string]map[peer.ID]bool{Topic: {}},
		Subscriptions: make(map[string]map[peer.ID]bool),
		SeqBase:       uint64(initialTime.UnixNano()),
		seen:          seen,
		mcache:        mcache,
		cfg:           cfg,
	}
}

// Config returns the mesh parameters.
func (s *State) Config() Config {
	return s.cfg
}

// MeshSize returns the number of mesh members for topic.
func (s *State) MeshSize(topic string) int {
	return len(s.Mesh[topic])
}

// MeshPeers returns the mesh members for topic in ascending order.
func (s *State) MeshPeers(topic string) []peer.ID {
	return sortedPeers(s.Mesh[topic])
}

func sortedPeers(set map[peer.ID]bool) []peer.ID {
	ids := make([]peer.ID, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (s *State) client(id peer.ID) *Client {
	c, ok := s.Clients[id]
	if !ok {
		c = &Client{}
		s.Clients[id] = c
	}
	return c
}

// NewStream records a broadcast stream to a peer. For the first outgoing
// stream we subscribe to the topic and, while the mesh is below D, graft the
// peer. It returns whether a graft was queued.
func (s *State) NewStream(id peer.ID, addr netip.AddrPort, stream yamux.StreamID, incoming bool) bool {
	c := s.client(id)
	ref := &StreamRef{Addr: addr, Stream: stream}
	if incoming {
		if c.Incoming != nil && *c.Incoming != *ref {
			c.buf = nil
		}
		c.Incoming = ref
		return false
	}
	replaced := c.Outgoing != nil
	c.Outgoing = ref
	if replaced {
		return false
	}
	subscribe := true
	topic := Topic
	rpc := c.rpc()
	rpc.Subscriptions = append(rpc.Subscriptions, &pb.RPC_SubOpts{Subscribe: &subscribe, Topicid: &topic})
	if s.MeshSize(Topic) < s.cfg.D {
		s.Graft(id, Topic)
		return true
	}
	return false
}

// StreamClosed forgets the broadcast stream stream of the connection addr.
func (s *State) StreamClosed(id peer.ID, addr netip.AddrPort, stream yamux.StreamID) {
	ref := StreamRef{Addr: addr, Stream: stream}
	s.forget(id, func(r StreamRef) bool { return r == ref })
}

// ConnectionClosed forgets every broadcast stream muxed on addr. A peer left
// with no stream at all is removed.
func (s *State) ConnectionClosed(id peer.ID, addr netip.AddrPort) {
	s.forget(id, func(r StreamRef) bool { return r.Addr == addr })
	if c, ok := s.Clients[id]; ok && c.Incoming == nil && c.Outgoing == nil {
		s.RemoveClient(id)
	}
}

func (s *State) forget(id peer.ID, match func(StreamRef) bool) {
	c, ok := s.Clients[id]
	if !ok {
		return
	}
	if c.Incoming != nil && match(*c.Incoming) {
		c.Incoming = nil
		c.buf = nil
	}
	if c.Outgoing != nil && match(*c.Outgoing) {
		c.Outgoing = nil
		c.Message = nil
		for _, members := range s.Mesh {
			delete(members, id)
		}
	}
}

// RemoveClient forgets a peer entirely.
func (s *State) RemoveClient(id peer.ID) {
	delete(s.Clients, id)
	for _, members := range s.Mesh {
		delete(members, id)
	}
	for _, subs := range s.Subscriptions {
		delete(subs, id)
	}
}

// OutgoingStream returns the stream frames for id must be written to.
func (s *State) OutgoingStream(id peer.ID) (StreamRef, bool) {
	c, ok := s.Clients[id]
	if !ok || c.Outgoing == nil {
		return StreamRef{}, false
	}
	return *c.Outgoing, true
}

// IncomingStream returns the stream the peer publishes to us on.
func (s *State) IncomingStream(id peer.ID) (StreamRef, bool) {
	c, ok := s.Clients[id]
	if !ok || c.Incoming == nil {
		return StreamRef{}, false
	}
	return *c.Incoming, true
}

// Discard drops everything queued for a peer and reports whether there was
// anything.
func (s *State) Discard(id peer.ID) bool {
	c, ok := s.Clients[id]
	if !ok || isEmpty(c.Message) {
		return false
	}
	c.Message = nil
	return true
}

// Graft adds a peer to the mesh of topic and queues the control message.
func (s *State) Graft(id peer.ID, topic string) {
	c, ok := s.Clients[id]
	if !ok {
		return
	}
	s.meshFor(topic)[id] = true
	t := topic
	ctl := c.control()
	ctl.Graft = append(ctl.Graft, &pb.ControlGraft{TopicID: &t})
}

// Prune removes a peer from the mesh of topic and queues the control message.
func (s *State) Prune(id peer.ID, topic string) {
	c, ok := s.Clients[id]
	if !ok {
		return
	}
	delete(s.Mesh[topic], id)
	t := topic
	backoff := uint64(s.cfg.PruneBackoff / time.Second)
	ctl := c.control()
	ctl.Prune = append(ctl.Prune, &pb.ControlPrune{TopicID: &t, Backoff: &backoff})
}

func (s *State) meshFor(topic string) map[peer.ID]bool {
	m, ok := s.Mesh[topic]
	if !ok {
		m = make(map[peer.ID]bool)
		s.Mesh[topic] = m
	}
	return m
}

// Publish queues a publication authored by us for signing and returns it.
func (s *State) Publish(author peer.ID, msg GossipMessage) *pb.Message {
	topic := Topic
	m := &pb.Message{
		From:  []byte(author),
		Data:  msg.Encode(),
		Seqno: seqnoBytes(s.SeqBase + s.Seq),
		Topic: &topic,
	}
	s.Seq++
	s.ToSign = append(s.ToSign, m)
	return m
}

// NextToSign returns the publication at the head of the sign queue.
func (s *State) NextToSign() (*pb.Message, bool) {
	if len(s.ToSign) == 0 {
		return nil, false
	}
	return s.ToSign[0], true
}

// Signed attaches the signature to the head of the sign queue and queues the
// publication for every mesh peer of its topic.
func (s *State) Signed(sig []byte) (*pb.Message, error) {
	m, ok := s.NextToSign()
	if !ok {
		return nil, ErrNothingToSign
	}
	s.ToSign = s.ToSign[1:]
	m.Signature = sig
	s.remember(m)
	for _, id := range s.MeshPeers(m.GetTopic()) {
		s.queuePublish(id, m)
	}
	return m, nil
}

// SignFailed drops the head of the sign queue.
func (s *State) SignFailed() (*pb.Message, error) {
	m, ok := s.NextToSign()
	if !ok {
		return nil, ErrNothingToSign
	}
	s.ToSign = s.ToSign[1:]
	return m, nil
}

func (s *State) remember(m *pb.Message) {
	id := MessageID(m)
	s.seen.Add(id, struct{}{})
	s.mcache.Add(id, m)
}

func (s *State) queuePublish(id peer.ID, m *pb.Message) {
	c, ok := s.Clients[id]
	if !ok || c.Outgoing == nil {
		return
	}
	rpc := c.rpc()
	rpc.Publish = append(rpc.Publish, m)
}

// TakeReceived returns and clears the publications decoded since the last call.
func (s *State) TakeReceived() []Received {
	r := s.Received
	s.Received = nil
	return r
}
