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

package yamux

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/algorand/go-meshnet/test/partitiontest"
)

func TestFrameRoundTripAllCombinations(t *testing.T) {
	partitiontest.PartitionTest(t)
	t.Parallel()

	for typ := TypeData; typ <= TypeGoAway; typ++ {
		for flags := Flags(0); flags <= FlagSYN|FlagACK|FlagFIN|FlagRST; flags++ {
			f := Frame{Header: Header{Type: typ, Flags: flags, StreamID: 7, Length: 3}}
			if typ == TypeData {
				f.Payload = []byte{1, 2, 3}
			}
			back, rest, ok, err := ReadFrame(f.Encode(), DefaultWindow)
			require.NoError(t, err)
			require.True(t, ok)
			require.Empty(t, rest)
			require.Equal(t, f, back, "type %v flags %#x", typ, flags)
		}
	}
}

func TestFrameRoundTripProperty(t *testing.T) {
	partitiontest.PartitionTest(t)
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		typ := FrameType(rapid.IntRange(0, 3).Draw(t, "type"))
		flags := Flags(rapid.Uint16Range(0, 15).Draw(t, "flags"))
		id := StreamID(rapid.Uint32().Draw(t, "id"))
		h := Header{Type: typ, Flags: flags, StreamID: id}
		var payload []byte
		if typ == TypeData {
			payload = rapid.SliceOfN(rapid.Byte(), 0, 256).Draw(t, "payload")
			h.Length = uint32(len(payload))
		} else {
			h.Length = rapid.Uint32().Draw(t, "length")
		}

		enc := Frame{Header: h, Payload: payload}.Encode()
		back, rest, ok, err := ReadFrame(enc, DefaultWindow)
		if err != nil || !ok || len(rest) != 0 {
			t.Fatalf("decode: ok=%v rest=%d err=%v", ok, len(rest), err)
		}
		if back.Header != h {
			t.Fatalf("header %+v != %+v", back.Header, h)
		}
		if !bytes.Equal(back.Payload, payload) {
			t.Fatalf("payload mismatch")
		}
	})
}

func TestHeaderLayout(t *testing.T) {
	partitiontest.PartitionTest(t)
	t.Parallel()

	b := AppendHeader(nil, Header{Type: TypeWindowUpdate, Flags: FlagSYN, StreamID: 0x01020304, Length: 0x0a0b0c0d})
	require.Equal(t, []byte{0, 1, 0, 1, 1, 2, 3, 4, 0xa, 0xb, 0xc, 0xd}, b)
}

func TestInvalidFrames(t *testing.T) {
	partitiontest.PartitionTest(t)
	t.Parallel()

	b := AppendHeader(nil, Header{Type: TypePing})
	b[0] = 1
	_, _, _, err := ReadFrame(b, DefaultWindow)
	require.ErrorIs(t, err, ErrInvalidFrame)

	b = AppendHeader(nil, Header{Type: TypePing})
	b[1] = 4
	_, _, _, err = ReadFrame(b, DefaultWindow)
	require.ErrorIs(t, err, ErrInvalidFrame)

	b = AppendHeader(nil, Header{Type: TypeData, StreamID: 1, Length: DefaultWindow + 1})
	_, _, _, err = ReadFrame(b, DefaultWindow)
	require.ErrorIs(t, err, ErrInvalidFrame)
}

func TestPartialFrame(t *testing.T) {
	partitiontest.PartitionTest(t)
	t.Parallel()

	enc := Frame{Header: Header{Type: TypeData, StreamID: 1}, Payload: []byte("abcdef")}.Encode()
	for cut := 0; cut < len(enc); cut++ {
		_, rest, ok, err := ReadFrame(enc[:cut], DefaultWindow)
		require.NoError(t, err)
		require.False(t, ok)
		require.Equal(t, enc[:cut], rest)
	}
}
