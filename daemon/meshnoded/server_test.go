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

package meshnoded

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/algorand/go-meshnet/config"
	"github.com/algorand/go-meshnet/logging"
	"github.com/algorand/go-meshnet/network/p2p"
	"github.com/algorand/go-meshnet/test/partitiontest"
)

func testLocal() config.Local {
	cfg := config.GetDefaultLocal()
	cfg.NetAddress = "/ip4/127.0.0.1/tcp/0"
	cfg.EnableMetricReporting = true
	cfg.MetricsListenAddress = "127.0.0.1:0"
	return cfg
}

// The server reconfigures the base logger, so these tests do not run in parallel.
func TestServerInitializeStartStop(t *testing.T) {
	partitiontest.PartitionTest(t)

	dir := t.TempDir()
	s := Server{RootPath: dir}
	require.NoError(t, s.Initialize(testLocal()))
	require.NoError(t, s.Start())
	require.NotNil(t, s.Network().ListenAddr())
	require.NotNil(t, s.metricService.Addr())
	id := s.Network().ID()
	s.Stop()

	live, err := os.ReadFile(filepath.Join(dir, config.LogFilename))
	require.NoError(t, err)
	require.Contains(t, string(live), "Logging Starting")
	require.FileExists(t, filepath.Join(dir, p2p.DefaultPrivKeyPath))

	// the persisted key gives the same identity on restart
	s = Server{RootPath: dir}
	require.NoError(t, s.Initialize(testLocal()))
	require.Equal(t, id, s.Network().ID())
	s.Stop()
}

func TestServerInitializeRejectsInvalidConfig(t *testing.T) {
	partitiontest.PartitionTest(t)

	cfg := testLocal()
	cfg.MaxConnections = 0
	s := Server{RootPath: t.TempDir()}
	require.Error(t, s.Initialize(cfg))
}

func TestDeadlockLoggerReportsOnce(t *testing.T) {
	partitiontest.PartitionTest(t)
	t.Parallel()

	var out bytes.Buffer
	log := logging.NewLogger()
	log.SetOutput(&out)

	panicked := make(chan struct{}, 2)
	logger := &deadlockLogger{
		Logger:     log,
		Buffer:     bytes.NewBuffer(nil),
		bufferSync: make(chan struct{}, 1),
	}
	logger.panic = func() { panicked <- struct{}{} }

	_, err := logger.Write([]byte("lock order violation"))
	require.NoError(t, err)
	logger.onPotentialDeadlock()
	logger.onPotentialDeadlock()

	select {
	case <-panicked:
	case <-time.After(5 * time.Second):
		require.FailNow(t, "deadlock report not raised")
	}
	require.Never(t, func() bool { return len(panicked) > 0 }, 100*time.Millisecond, 10*time.Millisecond)
}
