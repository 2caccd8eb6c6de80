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

	"github.com/algorand/go-meshnet/network/pubsub"
)

func (s *State) pubsubNewStream(a PubsubNewStream) []Action {
	if s.Pubsub.NewStream(a.PeerID, a.Addr, a.Stream, a.Incoming) {
		s.log.With("peer", a.PeerID.String()).Debugf("p2p: grafted on new broadcast stream %d", a.Stream)
	}
	return []Action{PubsubOutgoingMessage{PeerID: a.PeerID}}
}

func (s *State) pubsubGraft(a PubsubGraft) []Action {
	s.Pubsub.Graft(a.PeerID, a.Topic)
	return []Action{PubsubOutgoingMessage{PeerID: a.PeerID}}
}

func (s *State) pubsubBroadcast(a PubsubBroadcast) []Action {
	m := s.Pubsub.Publish(s.Identity, a.Message)
	data, err := pubsub.SigningBytes(m)
	if err != nil {
		s.Pubsub.SignFailed()
		s.log.Errorf("p2p: encoding %v publication: %v", a.Message.Kind, err)
		return nil
	}
	return []Action{PubsubSign{Data: data}}
}

func (s *State) pubsubBroadcastSigned(a PubsubBroadcastSigned) []Action {
	if _, err := s.Pubsub.Signed(a.Signature); err != nil {
		s.log.Errorf("p2p: %v", err)
		return nil
	}
	return s.pubsubFlush()
}

func (s *State) pubsubSignError(a PubsubSignError) []Action {
	if _, err := s.Pubsub.SignFailed(); err != nil {
		s.log.Errorf("p2p: %v", err)
		return nil
	}
	s.log.Warnf("p2p: dropping publication, signing failed: %v", a.Err)
	return nil
}

// pubsubIncomingData feeds the gossip state with bytes from the stream a peer
// publishes on. A broken frame resets that stream.
func (s *State) pubsubIncomingData(a PubsubIncomingData) []Action {
	log := s.log.With("peer", a.PeerID.String())
	ref, ok := s.Pubsub.IncomingStream(a.PeerID)
	if !ok || ref != (pubsub.StreamRef{Addr: a.Addr, Stream: a.Stream}) {
		log.Debugf("p2p: dropping %d bytes from broadcast stream %d on %s, not the peer's incoming stream", len(a.Data), a.Stream, a.Addr)
		return nil
	}
	var next []Action
	if err := s.Pubsub.Incoming(a.PeerID, a.Data); err != nil {
		if errors.Is(err, pubsub.ErrMalformedFrame) {
			log.Warnf("p2p: resetting broadcast stream %d: %v", a.Stream, err)
			next = append(next, YamuxCloseStream{Addr: a.Addr, Stream: a.Stream, Reset: true})
		} else {
			log.Warnf("p2p: broadcast stream: %v", err)
		}
	}
	next = append(next, s.pubsubFlush()...)
	for _, r := range s.Pubsub.TakeReceived() {
		switch r.Message.Kind {
		case pubsub.NewState:
			next = append(next, PeerBestTipUpdate{PeerID: r.From, BestTip: r.Message.Body})
		case pubsub.TransactionPoolDiff:
			next = append(next, ChannelsTransactionReceived{PeerID: r.From, Body: r.Message.Body})
		case pubsub.SnarkPoolDiff:
			next = append(next, ChannelsSnarkReceived{PeerID: r.From, Body: r.Message.Body})
		}
	}
	return next
}

// pubsubFlush requests a flush for every peer with something queued.
func (s *State) pubsubFlush() []Action {
	var next []Action
	for _, id := range s.Pubsub.Pending() {
		next = append(next, PubsubOutgoingMessage{PeerID: id})
	}
	return next
}

// pubsubOutgoingMessage encodes what is queued for a peer. Without an
// outgoing broadcast stream the queue is dropped.
func (s *State) pubsubOutgoingMessage(a PubsubOutgoingMessage) []Action {
	if _, ok := s.Pubsub.OutgoingStream(a.PeerID); !ok {
		if s.Pubsub.Discard(a.PeerID) {
			s.log.With("peer", a.PeerID.String()).Debugf("p2p: dropping rpc, no outgoing broadcast stream")
		}
		return nil
	}
	data, err := s.Pubsub.Compose(a.PeerID)
	if err != nil {
		s.log.With("peer", a.PeerID.String()).Errorf("p2p: encoding rpc: %v", err)
		return nil
	}
	if len(data) == 0 {
		return nil
	}
	return []Action{PubsubOutgoingData{PeerID: a.PeerID, Data: data}}
}

// pubsubOutgoingData writes an encoded RPC on the peer's outgoing broadcast
// stream, on whichever connection that stream lives.
func (s *State) pubsubOutgoingData(a PubsubOutgoingData) []Action {
	ref, ok := s.Pubsub.OutgoingStream(a.PeerID)
	if !ok {
		s.log.With("peer", a.PeerID.String()).Debugf("p2p: dropping %d bytes, no outgoing broadcast stream", len(a.Data))
		return nil
	}
	return []Action{YamuxOutgoingData{Addr: ref.Addr, Stream: ref.Stream, Data: a.Data}}
}
