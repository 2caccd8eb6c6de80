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
	"net"
	"net/netip"
	"sync"

	"github.com/algorand/go-meshnet/logging"
)

// outgoingQueueSize bounds the writes queued on a socket. A peer that falls
// this far behind is disconnected.
const outgoingQueueSize = 1024

const readBufferSize = 64 * 1024

// meshConn is one TCP socket and its writer.
type meshConn struct {
	addr     netip.AddrPort
	conn     net.Conn
	incoming bool
	log      logging.Logger

	out       chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func makeMeshConn(conn net.Conn, addr netip.AddrPort, incoming bool, log logging.Logger) *meshConn {
	return &meshConn{
		addr:     addr,
		conn:     conn,
		incoming: incoming,
		log:      log.With("addr", addr.String()),
		out:      make(chan []byte, outgoingQueueSize),
		closed:   make(chan struct{}),
	}
}

// connAddr returns the remote address of conn in the form the scheduler keys on.
func connAddr(conn net.Conn) (netip.AddrPort, bool) {
	tcp, ok := conn.RemoteAddr().(*net.TCPAddr)
	if !ok {
		return netip.AddrPort{}, false
	}
	ap := tcp.AddrPort()
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port()), true
}

// send queues data for the writer. It reports false when the queue is full or the socket closed.
func (c *meshConn) send(data []byte) bool {
	select {
	case <-c.closed:
		return false
	default:
	}
	select {
	case c.out <- data:
		return true
	default:
		return false
	}
}

func (c *meshConn) writeLoop() {
	for {
		select {
		case data := <-c.out:
			if _, err := c.conn.Write(data); err != nil {
				c.log.Debugf("network: write failed: %v", err)
				c.close()
				return
			}
		case <-c.closed:
			return
		}
	}
}

func (c *meshConn) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.conn.Close()
	})
}
