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

package token

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/algorand/go-meshnet/network/framing"
	"github.com/algorand/go-meshnet/test/partitiontest"
)

func TestProtocolFamilies(t *testing.T) {
	partitiontest.PartitionTest(t)
	t.Parallel()

	require.Equal(t, []Protocol{Noise}, OfFamily(FamilyAuth))
	require.Equal(t, []Protocol{Yamux1_0_0}, OfFamily(FamilyMux))
	for _, p := range OfFamily(FamilyStream) {
		_, ok := p.(StreamKind)
		require.True(t, ok, p.Name())
	}
}

func TestLookupRoundTrip(t *testing.T) {
	partitiontest.PartitionTest(t)
	t.Parallel()

	for _, p := range All() {
		back, ok := Lookup(p.Name())
		require.True(t, ok)
		require.Equal(t, p, back)
	}
	_, ok := Lookup("/mplex/6.7.0")
	require.False(t, ok)
}

func TestParse(t *testing.T) {
	partitiontest.PartitionTest(t)
	t.Parallel()

	cases := []struct {
		wire string
		kind Kind
	}{
		{"/multistream/1.0.0\n", KindHandshake},
		{"na\n", KindNotAvailable},
		{"/libp2p/simultaneous-connect\n", KindSimultaneousConnect},
		{"/noise\n", KindProtocol},
		{"/meshsub/1.1.0\n", KindProtocol},
		{"/tls/1.0.0\n", KindUnknown},
	}
	for _, c := range cases {
		tok, err := Parse([]byte(c.wire))
		require.NoError(t, err)
		require.Equal(t, c.kind, tok.Kind, c.wire)
	}

	_, err := Parse([]byte("/noise"))
	require.ErrorIs(t, err, ErrMissingNewline)
}

func TestEncode(t *testing.T) {
	partitiontest.PartitionTest(t)
	t.Parallel()

	enc := ProtocolToken(Noise).Encode()
	require.Equal(t, append([]byte{7}, "/noise\n"...), enc)

	frame, rest, ok, err := framing.ReadUvarintFrame(enc, MaxTokenSize)
	require.NoError(t, err)
	require.True(t, ok)
	require.Empty(t, rest)
	tok, err := Parse(frame)
	require.NoError(t, err)
	require.Equal(t, Noise, tok.Protocol)
}
