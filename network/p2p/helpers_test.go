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
	"crypto/rand"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/algorand/go-meshnet/logging"
	"github.com/algorand/go-meshnet/network/framing"
	"github.com/algorand/go-meshnet/network/noise"
	"github.com/algorand/go-meshnet/network/pnet"
)

var epoch = time.Unix(1700000000, 0)

func testAddr(i int, port uint16) netip.AddrPort {
	return netip.AddrPortFrom(netip.AddrFrom4([4]byte{10, 0, 0, byte(i)}), port)
}

func testConfig() Config {
	return Config{PSK: pnet.DeriveKey("test-chain")}
}

type sent struct {
	addr netip.AddrPort
	data []byte
}

// mockService records socket effects and answers entropy and signing requests.
type mockService struct {
	t      *testing.T
	id     Identity
	now    time.Time
	outbox []sent
	closed []netip.AddrPort
	signErr error
}

func newMockService(t *testing.T) *mockService {
	id, err := GenerateIdentity()
	require.NoError(t, err)
	return &mockService{t: t, id: id, now: epoch}
}

func (m *mockService) RandomNonce() (n framing.Nonce) {
	_, err := rand.Read(n[:])
	require.NoError(m.t, err)
	return
}

func (m *mockService) NoiseKeys() (noise.Keys, error) {
	var static, ephemeral framing.Key
	_, err := rand.Read(static[:])
	require.NoError(m.t, err)
	_, err = rand.Read(ephemeral[:])
	require.NoError(m.t, err)
	return noise.MakeKeys(m.id.Key, static, ephemeral)
}

func (m *mockService) SignPublication(data []byte) ([]byte, error) {
	if m.signErr != nil {
		return nil, m.signErr
	}
	return m.id.Key.Sign(data)
}

func (m *mockService) Now() time.Time {
	m.now = m.now.Add(time.Millisecond)
	return m.now
}

func (m *mockService) Send(addr netip.AddrPort, data []byte) {
	m.outbox = append(m.outbox, sent{addr: addr, data: append([]byte(nil), data...)})
}

func (m *mockService) Close(addr netip.AddrPort) {
	m.closed = append(m.closed, addr)
}

func (m *mockService) take() []sent {
	out := m.outbox
	m.outbox = nil
	return out
}

type testNode struct {
	store *Store
	svc   *mockService
	seen  []Action
}

func newTestNode(t *testing.T) *testNode {
	svc := newMockService(t)
	n := &testNode{svc: svc}
	n.store = NewStore(testConfig(), svc.id.ID, svc, logging.TestingLog(t))
	n.store.Observe(func(a Action, _ Meta) { n.seen = append(n.seen, a) })
	return n
}

// link is a socket between two nodes. Each side knows the other by address.
type link struct {
	a, b         *testNode
	aAddr, bAddr netip.AddrPort
}

// connect makes a dial b and delivers bytes until both sides are idle.
func connect(t *testing.T, a, b *testNode) *link {
	l := &link{a: a, b: b, aAddr: testAddr(1, 40000), bAddr: testAddr(2, 8302)}
	a.store.Dispatch(OutgoingDidConnect{Addr: l.bAddr})
	b.store.Dispatch(IncomingDidAccept{Addr: l.aAddr})
	l.pump(t)
	return l
}

func (l *link) pump(t *testing.T) {
	for i := 0; ; i++ {
		require.Less(t, i, 1000, "link did not settle")
		fromA, fromB := l.a.svc.take(), l.b.svc.take()
		if len(fromA) == 0 && len(fromB) == 0 {
			return
		}
		for _, s := range fromA {
			require.Equal(t, l.bAddr, s.addr)
			l.b.store.Dispatch(IncomingDataDidReceive{Addr: l.aAddr, Data: s.data})
		}
		for _, s := range fromB {
			require.Equal(t, l.aAddr, s.addr)
			l.a.store.Dispatch(IncomingDataDidReceive{Addr: l.bAddr, Data: s.data})
		}
	}
}

func actionsOf[T Action](seen []Action) []T {
	var out []T
	for _, a := range seen {
		if v, ok := a.(T); ok {
			out = append(out, v)
		}
	}
	return out
}
