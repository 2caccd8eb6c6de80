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

package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Local holds the per-node-instance configuration settings.
// !!! WARNING !!!
//
// These versioned struct tags need to be maintained CAREFULLY and treated
// like UNIVERSAL CONSTANTS - they should not be modified once committed.
//
// New fields may be added to the Local struct, along with a version tag
// denoting a new version.
//
// !!! WARNING !!!
type Local struct {
	// Version tracks the current version of the defaults so we can migrate old -> new
	// This is specifically important whenever we decide to change the default value
	// for an existing parameter. This field tag must be updated any time we add a new version.
	Version uint32 `version[0]:"0" version[1]:"1"`

	// ChainID identifies the network. The private network key is derived from it unless PNetKey or PNetKeyFile is set.
	ChainID string `version[0]:"meshnet-devnet"`

	// PNetKey is a hex encoded 32 byte private network key. It overrides ChainID.
	PNetKey string `version[0]:""`

	// PNetKeyFile is the path of a libp2p private network key file (/key/swarm/psk/1.0.0/). It overrides ChainID and PNetKey.
	PNetKeyFile string `version[0]:""`

	// NetAddress is the multiaddr the node listens on for incoming connections, or blank to ignore incoming connections.
	NetAddress string `version[0]:"/ip4/0.0.0.0/tcp/8302"`

	// PersistentPeers is a semicolon separated list of multiaddrs the node keeps dialing.
	PersistentPeers string `version[0]:""`

	// P2PPrivateKeyLocation is an optional path to the node identity key. If empty, the key is read from or created in the data directory.
	P2PPrivateKeyLocation string `version[0]:""`

	// P2PPersistPeerID writes a generated identity key to the data directory so the peer id survives restarts.
	P2PPersistPeerID bool `version[0]:"false" version[1]:"true"`

	// MeshsubD is the desired number of peers in the gossip mesh.
	MeshsubD int `version[0]:"6"`

	// MeshsubDlo is the mesh size below which peers are grafted.
	MeshsubDlo int `version[0]:"5"`

	// MeshsubDhi is the mesh size above which peers are pruned.
	MeshsubDhi int `version[0]:"12"`

	// MeshsubHeartbeatInterval is how often mesh maintenance runs. Zero disables the timer.
	MeshsubHeartbeatInterval time.Duration `version[0]:"1000000000"`

	// MeshsubHistoryLength is the number of recent publications kept to answer IWANT requests.
	MeshsubHistoryLength int `version[0]:"5000"`

	// MeshsubSeenCacheSize is the number of message ids remembered to suppress duplicates.
	MeshsubSeenCacheSize int `version[0]:"100000"`

	// MeshsubPruneBackoff is advertised to pruned peers.
	MeshsubPruneBackoff time.Duration `version[0]:"60000000000"`

	// MeshsubMaxMessageSize bounds a single incoming gossip RPC.
	MeshsubMaxMessageSize int `version[0]:"33554432"`

	// YamuxInitialWindow is the per stream receive window. Values below 262144 are raised to it.
	YamuxInitialWindow uint32 `version[0]:"262144"`

	// YamuxMaxFrameSize bounds the payload of an outgoing data frame.
	YamuxMaxFrameSize uint32 `version[0]:"65536"`

	// MaxConnections bounds the number of simultaneous connections, incoming and outgoing.
	MaxConnections int `version[0]:"50" version[1]:"100"`

	// DialTimeout bounds an outgoing TCP connect.
	DialTimeout time.Duration `version[0]:"10000000000"`

	// ReconnectInterval is the delay before a persistent peer is dialed again.
	ReconnectInterval time.Duration `version[1]:"30000000000"`

	// BaseLoggerDebugLevel specifies the logging level for the node (node.log). The levels range from 0 (critical error / silent) to 5 (debug / verbose). The default value is 4 (Info).
	BaseLoggerDebugLevel uint32 `version[0]:"4"`

	// LogSizeLimit is the size of node.log after which it is archived. Zero logs to stdout.
	LogSizeLimit uint64 `version[0]:"1073741824"`

	// LogArchiveName is the file name node.log is moved to once full.
	LogArchiveName string `version[0]:"node.archive.log"`

	// EnableP2PLogging routes logs of the libp2p libraries into the node log.
	EnableP2PLogging bool `version[0]:"false"`

	// EnableDeadlockDetection turns on the lock order checks of go-deadlock.
	EnableDeadlockDetection bool `version[0]:"false"`

	// EnableMetricReporting serves prometheus metrics on MetricsListenAddress.
	EnableMetricReporting bool `version[0]:"false"`

	// MetricsListenAddress is the address the metrics endpoint listens on.
	MetricsListenAddress string `version[0]:":9100"`
}

// PersistentPeerArray returns the configured persistent peers.
func (cfg Local) PersistentPeerArray() []string {
	var peers []string
	for _, p := range strings.Split(cfg.PersistentPeers, ";") {
		if p = strings.TrimSpace(p); p != "" {
			peers = append(peers, p)
		}
	}
	return peers
}

// Validate reports settings that cannot work together.
func (cfg Local) Validate() error {
	var errs []error
	if !(cfg.MeshsubDlo <= cfg.MeshsubD && cfg.MeshsubD <= cfg.MeshsubDhi) {
		errs = append(errs, fmt.Errorf("mesh degrees must satisfy Dlo <= D <= Dhi, got %d, %d, %d", cfg.MeshsubDlo, cfg.MeshsubD, cfg.MeshsubDhi))
	}
	if cfg.MeshsubDlo < 1 {
		errs = append(errs, fmt.Errorf("MeshsubDlo must be positive, got %d", cfg.MeshsubDlo))
	}
	if cfg.PNetKey != "" {
		if raw, err := hex.DecodeString(cfg.PNetKey); err != nil || len(raw) != 32 {
			errs = append(errs, errors.New("PNetKey must be 64 hex characters"))
		}
	}
	if cfg.ChainID == "" && cfg.PNetKey == "" && cfg.PNetKeyFile == "" {
		errs = append(errs, errors.New("one of ChainID, PNetKey or PNetKeyFile is required"))
	}
	if cfg.MaxConnections <= 0 {
		errs = append(errs, fmt.Errorf("MaxConnections must be positive, got %d", cfg.MaxConnections))
	}
	return errors.Join(errs...)
}

// ResolveLogPaths returns the live log and archive locations under rootDir.
func (cfg Local) ResolveLogPaths(rootDir string) (liveLog, archive string) {
	return filepath.Join(rootDir, LogFilename), filepath.Join(rootDir, cfg.LogArchiveName)
}
