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
	"encoding/binary"
	"errors"
	"fmt"

	pb "github.com/libp2p/go-libp2p-pubsub/pb"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/algorand/go-meshnet/network/framing"
)

// SignPrefix is prepended to the encoded message before signing.
const SignPrefix = "libp2p-pubsub:"

// ErrMalformedGossip is returned for a publication whose data cannot be decoded.
var ErrMalformedGossip = errors.New("pubsub: malformed gossip message")

// GossipKind tags the body of a gossip message.
type GossipKind uint8

const (
	// NewState carries a new best tip block.
	NewState GossipKind = iota
	// SnarkPoolDiff carries completed work.
	SnarkPoolDiff
	// TransactionPoolDiff carries transactions.
	TransactionPoolDiff
)

func (k GossipKind) String() string {
	switch k {
	case NewState:
		return "new-state"
	case SnarkPoolDiff:
		return "snark-pool-diff"
	case TransactionPoolDiff:
		return "transaction-pool-diff"
	}
	return fmt.Sprintf("gossip(%d)", uint8(k))
}

// GossipMessage is the payload of a publication. The body is opaque to the network.
type GossipMessage struct {
	Kind GossipKind
	Body framing.Data
}

// Encode returns u64le(len) || kind || body.
func (m GossipMessage) Encode() []byte {
	msg := make([]byte, 0, 1+len(m.Body))
	msg = append(msg, byte(m.Kind))
	msg = append(msg, m.Body...)
	return framing.PrependU64LE(msg)
}

// DecodeGossip parses the data field of a publication.
func DecodeGossip(data []byte) (GossipMessage, error) {
	body, err := framing.SplitU64LE(data)
	if err != nil {
		return GossipMessage{}, fmt.Errorf("%w: %v", ErrMalformedGossip, err)
	}
	if len(body) == 0 {
		return GossipMessage{}, fmt.Errorf("%w: empty body", ErrMalformedGossip)
	}
	kind := GossipKind(body[0])
	if kind > TransactionPoolDiff {
		return GossipMessage{}, fmt.Errorf("%w: unknown tag %d", ErrMalformedGossip, body[0])
	}
	return GossipMessage{Kind: kind, Body: append(framing.Data(nil), body[1:]...)}, nil
}

// MessageID identifies a publication the way libp2p does by default: author || seqno.
func MessageID(m *pb.Message) string {
	return string(m.GetFrom()) + string(m.GetSeqno())
}

// SigningBytes returns the bytes an author signs for m: the prefix followed by
// the encoding of m without signature and key.
func SigningBytes(m *pb.Message) ([]byte, error) {
	unsigned := pb.Message{
		From:  m.From,
		Data:  m.Data,
		Seqno: m.Seqno,
		Topic: m.Topic,
	}
	raw, err := unsigned.Marshal()
	if err != nil {
		return nil, err
	}
	return append([]byte(SignPrefix), raw...), nil
}

// Sign signs m in place with key.
func Sign(key crypto.PrivKey, m *pb.Message) error {
	b, err := SigningBytes(m)
	if err != nil {
		return err
	}
	sig, err := key.Sign(b)
	if err != nil {
		return err
	}
	m.Signature = sig
	return nil
}

// Verify checks the signature on m against its author.
func Verify(m *pb.Message) error {
	author, err := peer.IDFromBytes(m.GetFrom())
	if err != nil {
		return fmt.Errorf("pubsub: bad author: %w", err)
	}
	var pub crypto.PubKey
	if len(m.GetKey()) > 0 {
		pub, err = crypto.UnmarshalPublicKey(m.GetKey())
	} else {
		pub, err = author.ExtractPublicKey()
	}
	if err != nil {
		return fmt.Errorf("pubsub: no author key: %w", err)
	}
	if !author.MatchesPublicKey(pub) {
		return errors.New("pubsub: key does not match author")
	}
	b, err := SigningBytes(m)
	if err != nil {
		return err
	}
	ok, err := pub.Verify(b, m.GetSignature())
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("pubsub: invalid signature")
	}
	return nil
}

func seqnoBytes(n uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, n)
}
