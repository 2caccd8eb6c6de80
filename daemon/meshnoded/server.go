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

// Package meshnoded wires the mesh network, its logging and its metrics into a
// node process rooted at a data directory.
package meshnoded

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/algorand/go-deadlock"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/algorand/go-meshnet/config"
	"github.com/algorand/go-meshnet/logging"
	"github.com/algorand/go-meshnet/network"
	"github.com/algorand/go-meshnet/network/p2p"
	"github.com/algorand/go-meshnet/network/pubsub"
	"github.com/algorand/go-meshnet/util"
	"github.com/algorand/go-meshnet/util/metrics"
)

// reservedFDs covers log files, the listener and the metrics endpoint.
const reservedFDs = 64

// Server is a running node.
type Server struct {
	RootPath string

	log           logging.Logger
	cfg           config.Local
	logWriter     io.Closer
	net           *network.MeshNetwork
	metricService *metrics.MetricService
}

// Initialize sets up logging and the network. Nothing is started.
func (s *Server) Initialize(cfg config.Local) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.cfg = cfg
	s.log = logging.Base()

	liveLog, archive := cfg.ResolveLogPaths(s.RootPath)
	var logWriter io.Writer
	if cfg.LogSizeLimit > 0 {
		fmt.Println("Logging to: ", liveLog)
		w, err := logging.MakeCyclicFileWriter(liveLog, archive, cfg.LogSizeLimit)
		if err != nil {
			return err
		}
		s.logWriter = w
		logWriter = w
	} else {
		fmt.Println("Logging to: stdout")
		logWriter = os.Stdout
	}
	s.log.SetOutput(logWriter)
	s.log.SetJSONFormatter()
	s.log.SetLevel(logging.Level(cfg.BaseLoggerDebugLevel))

	deadlock.Opts.Disable = !cfg.EnableDeadlockDetection
	if !deadlock.Opts.Disable {
		setupDeadlockLogger(s.log)
	}
	if cfg.EnableP2PLogging {
		p2p.EnableP2PLogging(s.log, logging.Level(cfg.BaseLoggerDebugLevel))
	}

	fdRequired := uint64(cfg.MaxConnections) + reservedFDs
	if soft, err := util.RaiseFdSoftLimit(fdRequired); err != nil {
		s.log.Warnf("Failed to raise RLIMIT_NOFILE to %d: %v", fdRequired, err)
	} else if soft < fdRequired {
		s.log.Warnf("RLIMIT_NOFILE is %d, below the %d descriptors MaxConnections needs", soft, fdRequired)
	}

	identity, err := p2p.LoadIdentity(cfg, s.RootPath)
	if err != nil {
		return fmt.Errorf("loading node identity: %w", err)
	}
	s.net, err = network.NewMeshNetwork(s.log, cfg, identity)
	if err != nil {
		return err
	}

	if cfg.EnableMetricReporting {
		s.metricService = metrics.MakeMetricService(metrics.ServiceConfig{ListenAddress: cfg.MetricsListenAddress})
	}

	s.log.Infoln("++++++++++++++++++++++++++++++++++++++++")
	s.log.Infoln("Logging Starting")
	s.log.Infof("Version: %s", config.GetCurrentVersion().String())
	s.log.Infof("Peer ID: %s", identity.ID)
	return nil
}

// Start brings up the metrics endpoint and the network.
func (s *Server) Start() error {
	if s.metricService != nil {
		if err := s.metricService.Start(context.Background()); err != nil {
			return fmt.Errorf("metrics endpoint: %w", err)
		}
		s.log.Infof("Serving metrics on %s", s.metricService.Addr())
	}
	if err := s.net.Start(); err != nil {
		return err
	}
	s.net.RegisterGossipHandler(func(from peer.ID, msg pubsub.GossipMessage) {
		s.log.With("peer", from.String()).Debugf("gossip: %v, %d bytes", msg.Kind, len(msg.Body))
	})
	return nil
}

// Stop shuts the network and the metrics endpoint down and closes the log.
func (s *Server) Stop() {
	s.log.Infof("Node exiting")
	if s.net != nil {
		s.net.Stop()
	}
	if s.metricService != nil {
		if err := s.metricService.Shutdown(); err != nil {
			s.log.Warnf("Stopping metrics endpoint: %v", err)
		}
	}
	if s.logWriter != nil {
		s.log.SetOutput(os.Stderr)
		s.logWriter.Close()
	}
}

// Network returns the mesh network of the node.
func (s *Server) Network() *network.MeshNetwork {
	return s.net
}
