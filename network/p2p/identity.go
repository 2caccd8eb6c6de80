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
	"fmt"
	"os"
	"path/filepath"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/algorand/go-meshnet/config"
	"github.com/algorand/go-meshnet/util"
)

// DefaultPrivKeyPath is the default path inside the node's root directory at which the private key
// for the node identity is found and persisted to when a new one is generated.
const DefaultPrivKeyPath = "peerIDPrivKey.pem"

// Identity is the long term key of the node and the peer id it hashes to.
type Identity struct {
	Key crypto.PrivKey
	ID  peer.ID
}

// LoadIdentity manages loading and creation of the node identity.
// It prioritizes, in this order:
//  1. user supplied path to the key,
//  2. default path inside dataDir,
//  3. generating a new key.
//
// A generated key is saved to the default path if cfg.P2PPersistPeerID.
func LoadIdentity(cfg config.Local, dataDir string) (Identity, error) {
	key, err := identityKey(cfg, dataDir)
	if err != nil {
		return Identity{}, err
	}
	return MakeIdentity(key)
}

// MakeIdentity derives the peer id of key.
func MakeIdentity(key crypto.PrivKey) (Identity, error) {
	id, err := peer.IDFromPrivateKey(key)
	if err != nil {
		return Identity{}, err
	}
	return Identity{Key: key, ID: id}, nil
}

// GenerateIdentity creates a fresh Ed25519 identity.
func GenerateIdentity() (Identity, error) {
	key, err := generatePrivKey()
	if err != nil {
		return Identity{}, err
	}
	return MakeIdentity(key)
}

func identityKey(cfg config.Local, dataDir string) (crypto.PrivKey, error) {
	if cfg.P2PPrivateKeyLocation != "" {
		return loadPrivateKeyFromFile(cfg.P2PPrivateKeyLocation)
	}
	var defaultPath string
	if dataDir != "" {
		defaultPath = filepath.Join(dataDir, DefaultPrivKeyPath)
		if util.IsFile(defaultPath) {
			return loadPrivateKeyFromFile(defaultPath)
		}
	}
	key, err := generatePrivKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate private key %w", err)
	}
	if cfg.P2PPersistPeerID && defaultPath != "" {
		return key, writePrivateKeyToFile(defaultPath, key)
	}
	return key, nil
}

// loadPrivateKeyFromFile reads raw Ed25519 key bytes from path.
func loadPrivateKeyFromFile(path string) (crypto.PrivKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return crypto.UnmarshalEd25519PrivateKey(raw)
}

func writePrivateKeyToFile(path string, key crypto.PrivKey) error {
	raw, err := key.Raw()
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0600)
}

func generatePrivKey() (crypto.PrivKey, error) {
	priv, _, err := crypto.GenerateEd25519Key(rand.Reader)
	return priv, err
}
