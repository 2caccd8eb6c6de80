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
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
	madns "github.com/multiformats/go-multiaddr-dns"
	manet "github.com/multiformats/go-multiaddr/net"
)

// maxResolveRounds bounds /dnsaddr indirections followed for one address.
const maxResolveRounds = 8

type netDialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Dialer establish tcp-level connection with the destination
type Dialer struct {
	innerDialer netDialer
	resolver    *madns.Resolver
}

func makeDialer(timeout time.Duration) Dialer {
	return Dialer{
		innerDialer: &net.Dialer{
			Timeout:   timeout,
			KeepAlive: 30 * time.Second,
		},
		resolver: madns.DefaultResolver,
	}
}

// DialContext connects to a tcp multiaddr. DNS and /dnsaddr components are
// resolved first and the resulting addresses tried in order. A trailing
// /p2p/<id> is ignored, the handshake proves who answered.
func (d *Dialer) DialContext(ctx context.Context, addr multiaddr.Multiaddr) (net.Conn, error) {
	addrs, err := d.resolve(ctx, addr)
	if err != nil {
		return nil, err
	}
	var errs []error
	for _, a := range addrs {
		network, host, err := manet.DialArgs(a)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		conn, err := d.innerDialer.DialContext(ctx, network, host)
		if err == nil {
			return conn, nil
		}
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}
	if len(errs) == 0 {
		return nil, fmt.Errorf("network: %s resolved to no dialable address", addr)
	}
	return nil, errors.Join(errs...)
}

// resolve expands addr into transport addresses without a peer id.
func (d *Dialer) resolve(ctx context.Context, addr multiaddr.Multiaddr) ([]multiaddr.Multiaddr, error) {
	var resolved []multiaddr.Multiaddr
	pending := []multiaddr.Multiaddr{addr}
	for round := 0; len(pending) > 0; round++ {
		if round == maxResolveRounds {
			return nil, fmt.Errorf("network: too many indirections resolving %s", addr)
		}
		var next []multiaddr.Multiaddr
		for _, a := range pending {
			if !madns.Matches(a) || d.resolver == nil {
				if transport, _ := peer.SplitAddr(a); transport != nil {
					resolved = append(resolved, transport)
				}
				continue
			}
			out, err := d.resolver.Resolve(ctx, a)
			if err != nil {
				return nil, fmt.Errorf("network: resolving %s: %w", a, err)
			}
			next = append(next, out...)
		}
		pending = next
	}
	return resolved, nil
}
