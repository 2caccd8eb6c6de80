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

package noise

import (
	"errors"
	"fmt"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/security/noise/pb"
	"google.golang.org/protobuf/proto"

	"github.com/algorand/go-meshnet/network/framing"
)

// SignaturePrefix is prepended to the static key before it is signed with the identity key.
const SignaturePrefix = "noise-libp2p-static-key:"

var errBadSignature = errors.New("static key signature does not verify")

// Keys is the key material a Service hands to a new handshake.
type Keys struct {
	StaticSeed    framing.Key
	EphemeralSeed framing.Key
	// Payload is the encoded handshake payload binding the static key to the identity.
	Payload framing.Data
}

// MakeKeys builds the handshake key material and signs the static key with identity.
func MakeKeys(identity crypto.PrivKey, staticSeed, ephemeralSeed framing.Key) (Keys, error) {
	static, err := StaticKeypair(staticSeed)
	if err != nil {
		return Keys{}, err
	}
	payload, err := MakePayload(identity, static.Public)
	if err != nil {
		return Keys{}, err
	}
	return Keys{StaticSeed: staticSeed, EphemeralSeed: ephemeralSeed, Payload: payload}, nil
}

// MakePayload encodes the handshake payload for the given static public key.
func MakePayload(identity crypto.PrivKey, staticPub []byte) ([]byte, error) {
	sig, err := identity.Sign(append([]byte(SignaturePrefix), staticPub...))
	if err != nil {
		return nil, fmt.Errorf("signing static key: %w", err)
	}
	pub, err := crypto.MarshalPublicKey(identity.GetPublic())
	if err != nil {
		return nil, err
	}
	return proto.Marshal(&pb.NoiseHandshakePayload{
		IdentityKey: pub,
		IdentitySig: sig,
	})
}

// VerifyPayload checks that the payload signs remoteStatic and returns the remote peer id.
func VerifyPayload(payload, remoteStatic []byte) (peer.ID, error) {
	var msg pb.NoiseHandshakePayload
	if err := proto.Unmarshal(payload, &msg); err != nil {
		return "", fmt.Errorf("decoding payload: %w", err)
	}
	pub, err := crypto.UnmarshalPublicKey(msg.GetIdentityKey())
	if err != nil {
		return "", fmt.Errorf("decoding identity key: %w", err)
	}
	ok, err := pub.Verify(append([]byte(SignaturePrefix), remoteStatic...), msg.GetIdentitySig())
	if err != nil {
		return "", err
	}
	if !ok {
		return "", errBadSignature
	}
	return peer.IDFromPublicKey(pub)
}
