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

package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/algorand/go-deadlock"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
	manet "github.com/multiformats/go-multiaddr/net"

	"github.com/algorand/go-meshnet/config"
	"github.com/algorand/go-meshnet/logging"
	"github.com/algorand/go-meshnet/network/framing"
	"github.com/algorand/go-meshnet/network/p2p"
	"github.com/algorand/go-meshnet/network/pubsub"
)

// GossipHandler receives verified publications. Handlers run on the dispatch
// path: they must not block and must not call back into the network.
type GossipHandler func(from peer.ID, msg pubsub.GossipMessage)

// PeerInfo is a snapshot of a ready peer.
type PeerInfo struct {
	ID             peer.ID
	Addr           netip.AddrPort
	Incoming       bool
	ConnectedSince time.Time
	BestTip        framing.Data
}

// MeshNetwork runs the connection scheduler over real TCP sockets.
type MeshNetwork struct {
	log      logging.Logger
	config   config.Local
	identity p2p.Identity
	dialer   Dialer

	storeMu deadlock.Mutex
	store   *p2p.Store

	connsMu deadlock.Mutex
	conns   map[netip.AddrPort]*meshConn

	handlersMu deadlock.RWMutex
	handlers   []GossipHandler

	listener manet.Listener

	ctx       context.Context
	ctxCancel context.CancelFunc
	wg        sync.WaitGroup
}

// NewMeshNetwork returns a network for identity. Nothing listens or dials before Start.
func NewMeshNetwork(log logging.Logger, cfg config.Local, identity p2p.Identity) (*MeshNetwork, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	schedCfg, err := MakeSchedulerConfig(cfg)
	if err != nil {
		return nil, err
	}
	n := &MeshNetwork{
		log:      log,
		config:   cfg,
		identity: identity,
		dialer:   makeDialer(cfg.DialTimeout),
		conns:    make(map[netip.AddrPort]*meshConn),
	}
	n.store = p2p.NewStore(schedCfg, identity.ID, service{net: n}, log)
	n.store.Observe(n.observe)
	return n, nil
}

// ID returns the peer id of the node.
func (n *MeshNetwork) ID() peer.ID {
	return n.identity.ID
}

// Start listens on NetAddress, announces local interfaces and dials the persistent peers.
func (n *MeshNetwork) Start() error {
	n.ctx, n.ctxCancel = context.WithCancel(context.Background())

	if n.config.NetAddress != "" {
		addr, err := multiaddr.NewMultiaddr(n.config.NetAddress)
		if err != nil {
			return fmt.Errorf("NetAddress: %w", err)
		}
		n.listener, err = manet.Listen(addr)
		if err != nil {
			return err
		}
		n.log.Infof("network: listening on %s as %s", n.listener.Multiaddr(), n.identity.ID)
		n.wg.Add(1)
		go n.acceptLoop()
	}

	n.detectInterfaces()

	for _, p := range n.config.PersistentPeerArray() {
		addr, err := multiaddr.NewMultiaddr(p)
		if err != nil {
			n.log.Warnf("network: skipping persistent peer %q: %v", p, err)
			continue
		}
		n.wg.Add(1)
		go n.maintainPeer(addr)
	}

	if n.config.MeshsubHeartbeatInterval > 0 {
		n.wg.Add(1)
		go n.heartbeatLoop(n.config.MeshsubHeartbeatInterval)
	}
	return nil
}

// Stop disconnects every socket and waits for the network goroutines to exit.
func (n *MeshNetwork) Stop() {
	if n.ctxCancel == nil {
		return
	}
	n.ctxCancel()
	if n.listener != nil {
		n.listener.Close()
	}
	n.connsMu.Lock()
	addrs := make([]netip.AddrPort, 0, len(n.conns))
	for addr := range n.conns {
		addrs = append(addrs, addr)
	}
	n.connsMu.Unlock()
	for _, addr := range addrs {
		n.dispatch(p2p.Disconnect{Addr: addr, Reason: "shutdown"})
	}
	n.wg.Wait()
}

// ListenAddr returns the address incoming connections are accepted on, or nil.
func (n *MeshNetwork) ListenAddr() multiaddr.Multiaddr {
	if n.listener == nil {
		return nil
	}
	return n.listener.Multiaddr()
}

// Connect dials addr once and hands the socket to the scheduler.
func (n *MeshNetwork) Connect(ctx context.Context, addr multiaddr.Multiaddr) error {
	c, err := n.dial(ctx, addr)
	if err != nil {
		return err
	}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.readLoop(c)
	}()
	return nil
}

// Broadcast signs msg and publishes it to the mesh.
func (n *MeshNetwork) Broadcast(msg pubsub.GossipMessage) {
	n.dispatch(p2p.PubsubBroadcast{Message: msg})
}

// RegisterGossipHandler adds fn to the receivers of verified publications.
func (n *MeshNetwork) RegisterGossipHandler(fn GossipHandler) {
	n.handlersMu.Lock()
	defer n.handlersMu.Unlock()
	n.handlers = append(n.handlers, fn)
}

// Peers returns the ready peers.
func (n *MeshNetwork) Peers() []PeerInfo {
	n.storeMu.Lock()
	defer n.storeMu.Unlock()
	s := n.store.State()
	out := make([]PeerInfo, 0, len(s.Peers))
	for _, id := range s.ReadyPeers() {
		p := s.Peers[id]
		out = append(out, PeerInfo{
			ID:             id,
			Addr:           p.Addr,
			Incoming:       p.IsIncoming,
			ConnectedSince: p.ConnectedSince,
			BestTip:        p.BestTip.Clone(),
		})
	}
	return out
}

// MeshPeers returns the peers our publications go to.
func (n *MeshNetwork) MeshPeers() []peer.ID {
	n.storeMu.Lock()
	defer n.storeMu.Unlock()
	return n.store.State().Pubsub.MeshPeers(pubsub.Topic)
}

func (n *MeshNetwork) dispatch(a p2p.Action) {
	n.storeMu.Lock()
	defer n.storeMu.Unlock()
	n.store.Dispatch(a)
	updateGauges(n.store.State())
}

func (n *MeshNetwork) observe(a p2p.Action, _ p2p.Meta) {
	countAction(a)
	var from peer.ID
	var msg pubsub.GossipMessage
	switch a := a.(type) {
	case p2p.PeerBestTipUpdate:
		from, msg = a.PeerID, pubsub.GossipMessage{Kind: pubsub.NewState, Body: a.BestTip}
	case p2p.ChannelsTransactionReceived:
		from, msg = a.PeerID, pubsub.GossipMessage{Kind: pubsub.TransactionPoolDiff, Body: a.Body}
	case p2p.ChannelsSnarkReceived:
		from, msg = a.PeerID, pubsub.GossipMessage{Kind: pubsub.SnarkPoolDiff, Body: a.Body}
	default:
		return
	}
	n.handlersMu.RLock()
	defer n.handlersMu.RUnlock()
	for _, fn := range n.handlers {
		fn(from, msg)
	}
}

func (n *MeshNetwork) conn(addr netip.AddrPort) (*meshConn, bool) {
	n.connsMu.Lock()
	defer n.connsMu.Unlock()
	c, ok := n.conns[addr]
	return c, ok
}

// register tracks a new socket and starts its writer. It fails when the
// address is taken or the connection limit is reached.
func (n *MeshNetwork) register(conn net.Conn, incoming bool) (*meshConn, error) {
	addr, ok := connAddr(conn)
	if !ok {
		return nil, fmt.Errorf("network: unsupported remote address %v", conn.RemoteAddr())
	}
	n.connsMu.Lock()
	defer n.connsMu.Unlock()
	if _, ok := n.conns[addr]; ok {
		return nil, fmt.Errorf("network: already connected to %v", addr)
	}
	if len(n.conns) >= n.config.MaxConnections {
		return nil, errConnectionLimit
	}
	c := makeMeshConn(conn, addr, incoming, n.log)
	n.conns[addr] = c
	if incoming {
		networkIncomingConnections.Add(1)
	} else {
		networkOutgoingConnections.Add(1)
	}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		c.writeLoop()
	}()
	return c, nil
}

var errConnectionLimit = errors.New("network: connection limit reached")

// dropConn forgets and closes a socket. The scheduler learns about it from the reader.
func (n *MeshNetwork) dropConn(c *meshConn) {
	n.connsMu.Lock()
	if n.conns[c.addr] == c {
		delete(n.conns, c.addr)
		if c.incoming {
			networkIncomingConnections.Add(-1)
		} else {
			networkOutgoingConnections.Add(-1)
		}
	}
	n.connsMu.Unlock()
	c.close()
}

func (n *MeshNetwork) dial(ctx context.Context, addr multiaddr.Multiaddr) (*meshConn, error) {
	conn, err := n.dialer.DialContext(ctx, addr)
	if err != nil {
		networkDialFailuresTotal.Inc()
		return nil, err
	}
	c, err := n.register(conn, false)
	if err != nil {
		conn.Close()
		return nil, err
	}
	n.dispatch(p2p.OutgoingDidConnect{Addr: c.addr})
	return c, nil
}

// readLoop feeds socket bytes to the scheduler until the socket fails.
func (n *MeshNetwork) readLoop(c *meshConn) {
	buf := make([]byte, readBufferSize)
	for {
		k, err := c.conn.Read(buf)
		if k > 0 {
			n.dispatch(p2p.IncomingDataDidReceive{Addr: c.addr, Data: append([]byte(nil), buf[:k]...)})
		}
		if err != nil {
			n.dropConn(c)
			n.dispatch(p2p.IncomingDataDidReceive{Addr: c.addr, Err: err})
			return
		}
	}
}

func (n *MeshNetwork) acceptLoop() {
	defer n.wg.Done()
	for {
		conn, err := n.listener.Accept()
		if err != nil {
			if n.ctx.Err() == nil {
				n.log.Warnf("network: accept: %v", err)
			}
			return
		}
		c, err := n.register(conn, true)
		if err != nil {
			if errors.Is(err, errConnectionLimit) {
				networkConnectionsRejectedTotal.Inc()
			}
			n.log.Infof("network: refusing %v: %v", conn.RemoteAddr(), err)
			conn.Close()
			continue
		}
		n.dispatch(p2p.IncomingDidAccept{Addr: c.addr})
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			n.readLoop(c)
		}()
	}
}

// maintainPeer keeps a persistent peer connected, redialing ReconnectInterval
// after every loss. A zero interval dials once.
func (n *MeshNetwork) maintainPeer(addr multiaddr.Multiaddr) {
	defer n.wg.Done()
	log := n.log.With("peer", addr.String())
	for {
		ctx, cancel := context.WithTimeout(n.ctx, n.config.DialTimeout)
		c, err := n.dial(ctx, addr)
		cancel()
		if err != nil {
			log.Infof("network: dial failed: %v", err)
		} else {
			n.readLoop(c)
			log.Debugf("network: persistent peer disconnected")
		}
		if n.config.ReconnectInterval <= 0 {
			return
		}
		select {
		case <-n.ctx.Done():
			return
		case <-time.After(n.config.ReconnectInterval):
		}
	}
}

func (n *MeshNetwork) heartbeatLoop(interval time.Duration) {
	defer n.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
			n.dispatch(p2p.PubsubHeartbeat{})
		}
	}
}

func (n *MeshNetwork) detectInterfaces() {
	addrs, err := manet.InterfaceMultiaddrs()
	if err != nil {
		n.log.Warnf("network: listing interfaces: %v", err)
		return
	}
	for _, a := range addrs {
		ip, err := manet.ToIP(a)
		if err != nil {
			continue
		}
		if addr, ok := netip.AddrFromSlice(ip); ok {
			n.dispatch(p2p.InterfaceDetected{IP: addr.Unmap()})
		}
	}
}
