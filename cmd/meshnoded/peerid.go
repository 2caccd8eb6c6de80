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

package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/algorand/go-meshnet/config"
	"github.com/algorand/go-meshnet/network/p2p"
	"github.com/algorand/go-meshnet/util"
)

// peerIDCmd generates, or loads, the persisted node key and prints its peer id.
var peerIDCmd = &cobra.Command{
	Use:   "peerid",
	Short: "Print the peer id of the node, creating its private key if needed",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		dataDir := dataDirectory
		if dataDir == "" {
			dataDir = "."
		}
		privKeyPath := filepath.Join(dataDir, p2p.DefaultPrivKeyPath)
		existed := util.IsFile(privKeyPath)

		identity, err := p2p.LoadIdentity(config.Local{P2PPersistPeerID: true}, dataDir)
		if err != nil {
			return fmt.Errorf("error obtaining private key: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "PeerID: %s\n", identity.ID)
		if existed {
			fmt.Fprintf(out, "Used existing key from path %s\n", privKeyPath)
		} else {
			fmt.Fprintf(out, "Private key saved to %s\n", privKeyPath)
		}
		return nil
	},
}
