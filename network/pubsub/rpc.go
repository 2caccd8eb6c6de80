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

package pubsub

import (
	"errors"
	"fmt"
	"sort"

	pb "github.com/libp2p/go-libp2p-pubsub/pb"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/algorand/go-meshnet/network/framing"
)

var (
	// ErrUnknownClient is returned for data from a peer with no broadcast stream.
	ErrUnknownClient = errors.New("pubsub: unknown client")
	// ErrMalformedFrame is returned when the length prefix of an RPC frame is
	// invalid or exceeds MaxMessageSize. The stream cannot be read any further.
	ErrMalformedFrame = errors.New("pubsub: malformed rpc frame")
)

func (c *Client) rpc() *pb.RPC {
	if c.Message == nil {
		c.Message = &pb.RPC{}
	}
	return c.Message
}

func (c *Client) control() *pb.ControlMessage {
	rpc := c.rpc()
	if rpc.Control == nil {
		rpc.Control = &pb.ControlMessage{}
	}
	return rpc.Control
}

func isEmpty(rpc *pb.RPC) bool {
	if rpc == nil {
		return true
	}
	if len(rpc.Subscriptions) > 0 || len(rpc.Publish) > 0 {
		return false
	}
	ctl := rpc.Control
	return ctl == nil ||
		len(ctl.Ihave) == 0 && len(ctl.Iwant) == 0 && len(ctl.Graft) == 0 && len(ctl.Prune) == 0
}

// Pending lists, in ascending order, the peers with something queued.
func (s *State) Pending() []peer.ID {
	var ids []peer.ID
	for id, c := range s.Clients {
		if !isEmpty(c.Message) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Compose encodes and clears everything queued for a peer as one uvarint
// delimited frame. It returns nil when nothing is queued.
func (s *State) Compose(id peer.ID) ([]byte, error) {
	c, ok := s.Clients[id]
	if !ok || isEmpty(c.Message) {
		return nil, nil
	}
	raw, err := c.Message.Marshal()
	c.Message = nil
	if err != nil {
		return nil, err
	}
	return framing.AppendUvarintFrame(nil, raw), nil
}

// Incoming consumes bytes read from a peer's broadcast stream. Decoded
// publications are appended to Received and replies are queued on the clients.
func (s *State) Incoming(from peer.ID, data []byte) error {
	c, ok := s.Clients[from]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownClient, from)
	}
	c.buf = append(c.buf, data...)
	var errs []error
	for {
		frame, rest, ok, err := framing.ReadUvarintFrame(c.buf, s.cfg.MaxMessageSize)
		if err != nil {
			c.buf = nil
			errs = append(errs, fmt.Errorf("%w: %v", ErrMalformedFrame, err))
			break
		}
		if !ok {
			break
		}
		c.buf = rest
		var rpc pb.RPC
		if err := rpc.Unmarshal(frame); err != nil {
			errs = append(errs, fmt.Errorf("pubsub: decoding rpc: %w", err))
			continue
		}
		if err := s.apply(from, &rpc); err != nil {
			errs = append(errs, err)
		}
	}
	if len(c.buf) == 0 {
		c.buf = nil
	}
	s.Maintain()
	return errors.Join(errs...)
}

func (s *State) apply(from peer.ID, rpc *pb.RPC) error {
	for _, sub := range rpc.GetSubscriptions() {
		topic := sub.GetTopicid()
		if sub.GetSubscribe() {
			subs, ok := s.Subscriptions[topic]
			if !ok {
				subs = make(map[peer.ID]bool)
				s.Subscriptions[topic] = subs
			}
			subs[from] = true
		} else {
			delete(s.Subscriptions[topic], from)
			delete(s.Mesh[topic], from)
		}
	}

	var errs []error
	for _, m := range rpc.GetPublish() {
		if err := s.receivePublish(from, m); err != nil {
			errs = append(errs, err)
		}
	}

	ctl := rpc.GetControl()
	for _, g := range ctl.GetGraft() {
		s.receiveGraft(from, g.GetTopicID())
	}
	for _, p := range ctl.GetPrune() {
		delete(s.Mesh[p.GetTopicID()], from)
	}
	var want []string
	for _, ih := range ctl.GetIhave() {
		if _, ok := s.Mesh[ih.GetTopicID()]; !ok {
			continue
		}
		for _, id := range ih.GetMessageIDs() {
			if !s.seen.Contains(id) {
				want = append(want, id)
			}
		}
	}
	if len(want) > 0 {
		c := s.Clients[from].control()
		c.Iwant = append(c.Iwant, &pb.ControlIWant{MessageIDs: want})
	}
	for _, iw := range ctl.GetIwant() {
		for _, id := range iw.GetMessageIDs() {
			if m, ok := s.mcache.Get(id); ok {
				s.queuePublish(from, m)
			}
		}
	}
	return errors.Join(errs...)
}

func (s *State) receivePublish(from peer.ID, m *pb.Message) error {
	id := MessageID(m)
	if s.seen.Contains(id) {
		return nil
	}
	if _, ok := s.Mesh[m.GetTopic()]; !ok {
		return nil
	}
	if err := Verify(m); err != nil {
		return err
	}
	msg, err := DecodeGossip(m.GetData())
	if err != nil {
		return err
	}
	s.remember(m)
	s.Received = append(s.Received, Received{From: from, Message: msg})

	author := peer.ID(m.GetFrom())
	for _, p := range s.MeshPeers(m.GetTopic()) {
		if p != from && p != author {
			s.queuePublish(p, m)
		}
	}
	return nil
}

// receiveGraft admits a peer to the mesh while it is below Dhi. Peers we hold
// no outgoing stream to are pruned.
func (s *State) receiveGraft(from peer.ID, topic string) {
	mesh, ok := s.Mesh[topic]
	if _, out := s.OutgoingStream(from); !ok || !out {
		s.Prune(from, topic)
		return
	}
	if mesh[from] {
		return
	}
	if len(mesh) >= s.cfg.Dhi {
		s.Prune(from, topic)
		return
	}
	mesh[from] = true
}

// Maintain grafts subscribed peers while the mesh is below Dlo and prunes it
// back to D once it exceeds Dhi. Peers are picked in peer id order.
func (s *State) Maintain() {
	for _, topic := range s.topics() {
		mesh := s.Mesh[topic]
		if len(mesh) < s.cfg.Dlo {
			for _, id := range sortedPeers(s.Subscriptions[topic]) {
				if len(mesh) >= s.cfg.D {
					break
				}
				if mesh[id] {
					continue
				}
				if _, ok := s.OutgoingStream(id); !ok {
					continue
				}
				s.Graft(id, topic)
			}
		}
		if len(mesh) > s.cfg.Dhi {
			members := sortedPeers(mesh)
			for _, id := range members[s.cfg.D:] {
				s.Prune(id, topic)
			}
		}
	}
}

func (s *State) topics() []string {
	topics := make([]string, 0, len(s.Mesh))
	for t := range s.Mesh {
		topics = append(topics, t)
	}
	sort.Strings(topics)
	return topics
}
