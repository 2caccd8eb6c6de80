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
	"fmt"
	"os"

	"github.com/algorand/go-meshnet/config"
	"github.com/algorand/go-meshnet/network/framing"
	"github.com/algorand/go-meshnet/network/p2p"
	"github.com/algorand/go-meshnet/network/pnet"
	"github.com/algorand/go-meshnet/network/pubsub"
	"github.com/algorand/go-meshnet/network/yamux"
)

// MakeSchedulerConfig builds the scheduler parameters from the node config.
// The private network key comes from PNetKeyFile, PNetKey or ChainID, in that order.
func MakeSchedulerConfig(cfg config.Local) (p2p.Config, error) {
	psk, err := privateNetworkKey(cfg)
	if err != nil {
		return p2p.Config{}, err
	}
	mux := yamux.DefaultConfig()
	if cfg.YamuxInitialWindow > mux.InitialWindow {
		mux.InitialWindow = cfg.YamuxInitialWindow
	}
	if cfg.YamuxMaxFrameSize > 0 {
		mux.MaxFrameSize = cfg.YamuxMaxFrameSize
	}
	return p2p.Config{
		PSK:   psk,
		Yamux: mux,
		Pubsub: pubsub.Config{
			D:              cfg.MeshsubD,
			Dlo:            cfg.MeshsubDlo,
			Dhi:            cfg.MeshsubDhi,
			HistoryLength:  cfg.MeshsubHistoryLength,
			SeenCacheSize:  cfg.MeshsubSeenCacheSize,
			PruneBackoff:   cfg.MeshsubPruneBackoff,
			MaxMessageSize: cfg.MeshsubMaxMessageSize,
		},
	}, nil
}

func privateNetworkKey(cfg config.Local) (framing.Key, error) {
	switch {
	case cfg.PNetKeyFile != "":
		f, err := os.Open(cfg.PNetKeyFile)
		if err != nil {
			return framing.Key{}, err
		}
		defer f.Close()
		return pnet.LoadKeyFile(f)
	case cfg.PNetKey != "":
		k, err := framing.ParseKey(cfg.PNetKey)
		if err != nil {
			return k, fmt.Errorf("PNetKey: %w", err)
		}
		return k, nil
	case cfg.ChainID != "":
		return pnet.DeriveKey(cfg.ChainID), nil
	}
	return framing.Key{}, fmt.Errorf("no private network key configured")
}
