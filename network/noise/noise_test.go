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
	"bytes"
	"context"
	"crypto/rand"
	"io"
	"net"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
	libp2pnoise "github.com/libp2p/go-libp2p/p2p/security/noise"
	"github.com/stretchr/testify/require"

	"github.com/algorand/go-meshnet/network/framing"
	"github.com/algorand/go-meshnet/test/partitiontest"
)

func seed(b byte) framing.Key {
	var k framing.Key
	for i := range k {
		k[i] = b ^ byte(i*7)
	}
	return k
}

func makeSide(t *testing.T, b byte) (crypto.PrivKey, peer.ID, Keys) {
	priv, _, err := crypto.GenerateEd25519Key(rand.Reader)
	require.NoError(t, err)
	id, err := peer.IDFromPrivateKey(priv)
	require.NoError(t, err)
	keys, err := MakeKeys(priv, seed(b), seed(b+1))
	require.NoError(t, err)
	return priv, id, keys
}

func handshakePair(t *testing.T) (a, b *State, idA, idB peer.ID) {
	_, idA, keysA := makeSide(t, 1)
	_, idB, keysB := makeSide(t, 50)

	a, msg1, err := Start(true, keysA)
	require.NoError(t, err)
	b, none, err := Start(false, keysB)
	require.NoError(t, err)
	require.Nil(t, none)

	r, err := b.Incoming(msg1)
	require.NoError(t, err)
	require.NotEmpty(t, r.Out)
	require.False(t, r.Established)

	// deliver msg2 split over two reads
	r1, err := a.Incoming(r.Out[:3])
	require.NoError(t, err)
	require.Empty(t, r1.Out)
	r2, err := a.Incoming(r.Out[3:])
	require.NoError(t, err)
	require.True(t, r2.Established)
	require.True(t, a.Established())

	r3, err := b.Incoming(r2.Out)
	require.NoError(t, err)
	require.True(t, r3.Established)
	require.Empty(t, r3.Out)
	return a, b, idA, idB
}

func TestHandshakeEstablishes(t *testing.T) {
	partitiontest.PartitionTest(t)
	t.Parallel()

	a, b, idA, idB := handshakePair(t)
	require.Equal(t, idB, a.RemotePeer)
	require.Equal(t, idA, b.RemotePeer)

	enc, err := a.Outgoing([]byte("ping"))
	require.NoError(t, err)
	r, err := b.Incoming(enc)
	require.NoError(t, err)
	require.Equal(t, []byte("ping"), r.Plain)

	enc, err = b.Outgoing([]byte("pong"))
	require.NoError(t, err)
	r, err = a.Incoming(enc)
	require.NoError(t, err)
	require.Equal(t, []byte("pong"), r.Plain)
}

func TestLargeMessagesAreChunked(t *testing.T) {
	partitiontest.PartitionTest(t)
	t.Parallel()

	a, b, _, _ := handshakePair(t)
	big := bytes.Repeat([]byte{0x5a}, 2*MaxPlaintext+10)
	enc, err := a.Outgoing(big)
	require.NoError(t, err)
	require.Equal(t, len(big)+3*(2+16), len(enc))

	r, err := b.Incoming(enc)
	require.NoError(t, err)
	require.Equal(t, big, r.Plain)
}

func TestTamperedMessageIsFatal(t *testing.T) {
	partitiontest.PartitionTest(t)
	t.Parallel()

	a, b, _, _ := handshakePair(t)
	enc, err := a.Outgoing([]byte("data"))
	require.NoError(t, err)
	enc[len(enc)-1] ^= 1
	_, err = b.Incoming(enc)
	require.ErrorIs(t, err, ErrDecrypt)
}

func TestOutgoingBeforeHandshake(t *testing.T) {
	partitiontest.PartitionTest(t)
	t.Parallel()

	_, _, keys := makeSide(t, 9)
	s, _, err := Start(false, keys)
	require.NoError(t, err)
	_, err = s.Outgoing([]byte{1})
	require.ErrorIs(t, err, ErrNotEstablished)
}

func TestForgedPayloadRejected(t *testing.T) {
	partitiontest.PartitionTest(t)
	t.Parallel()

	_, _, keysA := makeSide(t, 1)
	_, _, keysB := makeSide(t, 50)
	// B presents a payload signed for another static key
	_, _, other := makeSide(t, 80)
	keysB.Payload = other.Payload

	a, msg1, err := Start(true, keysA)
	require.NoError(t, err)
	b, _, err := Start(false, keysB)
	require.NoError(t, err)
	r, err := b.Incoming(msg1)
	require.NoError(t, err)
	_, err = a.Incoming(r.Out)
	require.ErrorIs(t, err, ErrHandshake)
}

func TestInitiatorAgainstLibp2p(t *testing.T) {
	partitiontest.PartitionTest(t)
	t.Parallel()

	_, ourID, keys := makeSide(t, 3)
	theirKey, _, err := crypto.GenerateEd25519Key(rand.Reader)
	require.NoError(t, err)
	theirID, err := peer.IDFromPrivateKey(theirKey)
	require.NoError(t, err)
	tpt, err := libp2pnoise.New(libp2pnoise.ID, theirKey, nil)
	require.NoError(t, err)

	ours, theirs := net.Pipe()
	defer ours.Close()
	defer theirs.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	type outcome struct {
		remote peer.ID
		got    []byte
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		sc, err := tpt.SecureInbound(ctx, theirs, "")
		if err != nil {
			done <- outcome{err: err}
			return
		}
		if _, err := sc.Write([]byte("hello")); err != nil {
			done <- outcome{err: err}
			return
		}
		buf := make([]byte, 5)
		_, err = io.ReadFull(sc, buf)
		done <- outcome{remote: sc.RemotePeer(), got: buf, err: err}
	}()

	writes := make(chan []byte, 16)
	go func() {
		for b := range writes {
			if _, err := ours.Write(b); err != nil {
				return
			}
		}
	}()
	defer close(writes)

	s, msg1, err := Start(true, keys)
	require.NoError(t, err)
	writes <- msg1

	var plain []byte
	buf := make([]byte, 4096)
	for len(plain) < 5 {
		n, err := ours.Read(buf)
		require.NoError(t, err)
		r, err := s.Incoming(buf[:n])
		require.NoError(t, err)
		if len(r.Out) > 0 {
			writes <- r.Out
		}
		plain = append(plain, r.Plain...)
	}
	require.Equal(t, "hello", string(plain))
	require.Equal(t, theirID, s.RemotePeer)

	enc, err := s.Outgoing([]byte("world"))
	require.NoError(t, err)
	writes <- enc

	o := <-done
	require.NoError(t, o.err)
	require.Equal(t, "world", string(o.got))
	require.Equal(t, ourID, o.remote)
}
