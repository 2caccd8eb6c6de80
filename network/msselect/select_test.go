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

package msselect

import (
	"net"
	"testing"

	"github.com/multiformats/go-multistream"
	"github.com/stretchr/testify/require"

	"github.com/algorand/go-meshnet/network/token"
	"github.com/algorand/go-meshnet/test/partitiontest"
)

// exchange shuttles bytes between two states until both are done or one fails.
func exchange(t *testing.T, a, b *State) (resA, resB Result, err error) {
	toB := a.Init()
	toA := b.Init()
	for i := 0; i < 16 && !(a.Done && b.Done); i++ {
		if len(toB) > 0 && !b.Done {
			r, err := b.Incoming(toB)
			if err != nil {
				return resA, resB, err
			}
			toB = nil
			toA = append(toA, r.Out...)
			if r.Done {
				resB = r
			}
		}
		if len(toA) > 0 && !a.Done {
			r, err := a.Incoming(toA)
			if err != nil {
				return resA, resB, err
			}
			toA = nil
			toB = append(toB, r.Out...)
			if r.Done {
				resA = r
			}
		}
	}
	return resA, resB, nil
}

func TestNegotiateFirstProposal(t *testing.T) {
	partitiontest.PartitionTest(t)
	t.Parallel()

	a := MakeInitiator(token.Yamux1_0_0)
	b := MakeResponder(token.FamilyMux)
	ra, rb, err := exchange(t, &a, &b)
	require.NoError(t, err)
	require.True(t, ra.Done)
	require.True(t, rb.Done)
	require.Equal(t, token.Yamux1_0_0, ra.Protocol)
	require.Equal(t, token.Yamux1_0_0, rb.Protocol)
	require.True(t, a.Done)
	require.True(t, b.Done)
}

func TestNegotiateAfterRejection(t *testing.T) {
	partitiontest.PartitionTest(t)
	t.Parallel()

	// the responder only speaks streams, so the mux proposal is refused
	a := MakeInitiator(token.Yamux1_0_0, token.Meshsub1_1_0)
	a.Family = token.FamilyStream
	b := MakeResponder(token.FamilyStream)
	ra, _, err := exchange(t, &a, &b)
	require.NoError(t, err)
	require.Equal(t, token.Meshsub1_1_0, ra.Protocol)
}

func TestNegotiateExhausted(t *testing.T) {
	partitiontest.PartitionTest(t)
	t.Parallel()

	a := MakeInitiator(token.Yamux1_0_0)
	b := MakeResponder(token.FamilyStream)
	_, _, err := exchange(t, &a, &b)
	require.ErrorIs(t, err, ErrProtocolNotSupported)
}

func TestBadHeader(t *testing.T) {
	partitiontest.PartitionTest(t)
	t.Parallel()

	b := MakeResponder(token.FamilyAuth)
	b.Init()
	_, err := b.Incoming(token.AppendEncoded(nil, "/noise"))
	require.ErrorIs(t, err, ErrBadHeader)
}

func TestRestHandedOver(t *testing.T) {
	partitiontest.PartitionTest(t)
	t.Parallel()

	b := MakeResponder(token.FamilyAuth)
	b.Init()
	in := token.AppendEncoded(nil, token.Handshake)
	in = token.AppendEncoded(in, "/noise")
	in = append(in, 0, 32, 0xff)

	// one byte at a time, to cover partial tokens
	var res Result
	for i := range in {
		r, err := b.Incoming(in[i : i+1])
		require.NoError(t, err)
		if r.Done {
			res = r
			require.Equal(t, len(in)-3, i+1)
			break
		}
	}
	require.Equal(t, token.Noise, res.Protocol)
	require.Equal(t, token.ProtocolToken(token.Noise).Encode(), res.Out)

	r, err := b.Incoming([]byte{0, 32, 0xff})
	require.ErrorIs(t, err, ErrAlreadyDone)
	require.Empty(t, r.Out)
}

func TestRestAfterLastToken(t *testing.T) {
	partitiontest.PartitionTest(t)
	t.Parallel()

	b := MakeResponder(token.FamilyAuth)
	b.Init()
	in := token.AppendEncoded(nil, token.Handshake)
	in = token.AppendEncoded(in, "/noise")
	in = append(in, 0, 32, 0xff)
	r, err := b.Incoming(in)
	require.NoError(t, err)
	require.True(t, r.Done)
	require.Equal(t, []byte{0, 32, 0xff}, r.Rest)
}

// pump runs our state over a real connection.
func pump(conn net.Conn, s *State) (Result, error) {
	writes := make(chan []byte, 16)
	go func() {
		for b := range writes {
			if _, err := conn.Write(b); err != nil {
				return
			}
		}
	}()
	defer close(writes)

	writes <- s.Init()
	buf := make([]byte, 256)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			return Result{}, err
		}
		r, err := s.Incoming(buf[:n])
		if err != nil {
			return r, err
		}
		if len(r.Out) > 0 {
			writes <- r.Out
		}
		if r.Done {
			return r, nil
		}
	}
}

func TestResponderAgainstMultistream(t *testing.T) {
	partitiontest.PartitionTest(t)
	t.Parallel()

	ours, theirs := net.Pipe()
	defer ours.Close()
	defer theirs.Close()

	errc := make(chan error, 1)
	go func() {
		errc <- multistream.SelectProtoOrFail("/yamux/1.0.0", theirs)
	}()
	s := MakeResponder(token.FamilyMux)
	r, err := pump(ours, &s)
	require.NoError(t, err)
	require.Equal(t, token.Yamux1_0_0, r.Protocol)
	require.NoError(t, <-errc)
}

func TestInitiatorAgainstMultistream(t *testing.T) {
	partitiontest.PartitionTest(t)
	t.Parallel()

	ours, theirs := net.Pipe()
	defer ours.Close()
	defer theirs.Close()

	mux := multistream.NewMultistreamMuxer[string]()
	mux.AddHandler("/noise", nil)
	type negotiated struct {
		proto string
		err   error
	}
	res := make(chan negotiated, 1)
	go func() {
		proto, _, err := mux.Negotiate(theirs)
		res <- negotiated{proto, err}
	}()

	s := MakeInitiator(token.Noise)
	r, err := pump(ours, &s)
	require.NoError(t, err)
	require.Equal(t, token.Noise, r.Protocol)
	n := <-res
	require.NoError(t, n.err)
	require.Equal(t, "/noise", n.proto)
}
