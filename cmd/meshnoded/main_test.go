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
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/algorand/go-meshnet/config"
	"github.com/algorand/go-meshnet/network/p2p"
	"github.com/algorand/go-meshnet/test/partitiontest"
)

// These tests share the command flag variables and run sequentially.

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	dataDirectory, logToStdout, peerOverride, listenOverride = "", false, "", ""
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	partitiontest.PartitionTest(t)

	out, err := execute(t, "version")
	require.NoError(t, err)
	require.Contains(t, out, config.GetLicenseInfo())
}

func TestPeerIDCommand(t *testing.T) {
	partitiontest.PartitionTest(t)

	dir := t.TempDir()
	out, err := execute(t, "peerid", "-d", dir)
	require.NoError(t, err)
	require.Contains(t, out, "Private key saved to")
	require.FileExists(t, filepath.Join(dir, p2p.DefaultPrivKeyPath))

	again, err := execute(t, "peerid", "-d", dir)
	require.NoError(t, err)
	require.Contains(t, again, "Used existing key from path")
	require.Equal(t, firstLine(out), firstLine(again))
}

func TestConfigInitCommand(t *testing.T) {
	partitiontest.PartitionTest(t)

	dir := t.TempDir()
	out, err := execute(t, "config", "init", "-d", dir, "-p", "/ip4/10.0.0.1/tcp/8302")
	require.NoError(t, err)
	require.Contains(t, out, "PersistentPeers")

	cfg, err := config.LoadConfigFromDisk(dir)
	require.NoError(t, err)
	require.Equal(t, []string{"/ip4/10.0.0.1/tcp/8302"}, cfg.PersistentPeerArray())
}

func TestConfigCommandRejectsInvalidConfig(t *testing.T) {
	partitiontest.PartitionTest(t)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, config.ConfigFilename), []byte(`{"MaxConnections": -1}`), 0600))
	_, err := execute(t, "config", "-d", dir)
	require.ErrorContains(t, err, "MaxConnections")
}

func TestResolveDataDirMissing(t *testing.T) {
	partitiontest.PartitionTest(t)

	t.Setenv(dataDirEnv, "")
	dataDirectory = ""
	_, err := resolveDataDir()
	require.Error(t, err)

	dataDirectory = filepath.Join(t.TempDir(), "absent")
	_, err = resolveDataDir()
	require.Error(t, err)
	dataDirectory = ""
}

func firstLine(s string) string {
	if i := bytes.IndexByte([]byte(s), '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
