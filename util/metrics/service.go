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

// Package metrics provides prometheus backed counters and gauges and the
// HTTP endpoint serving them.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/algorand/go-deadlock"
)

var (
	// ErrMetricServiceAlreadyRunning Generated when we call Start and the metric service is already running
	ErrMetricServiceAlreadyRunning = errors.New("MetricService is already running")
	// ErrMetricServiceNotRunning is not currently running
	ErrMetricServiceNotRunning = errors.New("MetricService not running")
)

// ServiceConfig holds the endpoint the metrics are served on.
type ServiceConfig struct {
	ListenAddress string
	// Path defaults to /metrics
	Path string
}

// MetricService represent a single running metric server instance
type MetricService struct {
	config    ServiceConfig
	runningMu deadlock.Mutex
	running   bool
	server    *http.Server
	listener  net.Listener
	done      chan struct{}
}

// MakeMetricService creates a new metrics server at the given endpoint.
func MakeMetricService(config ServiceConfig) *MetricService {
	if config.Path == "" {
		config.Path = "/metrics"
	}
	return &MetricService{config: config}
}

// Start starts the metric server
func (server *MetricService) Start(ctx context.Context) error {
	server.runningMu.Lock()
	defer server.runningMu.Unlock()
	if server.running {
		return ErrMetricServiceAlreadyRunning
	}
	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", server.config.ListenAddress)
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle(server.config.Path, Handler())
	server.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	server.listener = listener
	server.done = make(chan struct{})
	go func(srv *http.Server, done chan struct{}) {
		defer close(done)
		srv.Serve(listener)
	}(server.server, server.done)
	server.running = true
	return nil
}

// Addr returns the address the server listens on, or nil when not running.
func (server *MetricService) Addr() net.Addr {
	server.runningMu.Lock()
	defer server.runningMu.Unlock()
	if !server.running {
		return nil
	}
	return server.listener.Addr()
}

// Shutdown the running server
func (server *MetricService) Shutdown() error {
	server.runningMu.Lock()
	defer server.runningMu.Unlock()
	if !server.running {
		return ErrMetricServiceNotRunning
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := server.server.Shutdown(ctx)
	<-server.done
	server.running = false
	return err
}
