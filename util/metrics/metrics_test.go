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

package metrics

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/algorand/go-meshnet/test/partitiontest"
)

func TestCounter(t *testing.T) {
	partitiontest.PartitionTest(t)
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := MakeCounterIn(reg, MetricName{Name: "test_counter_total", Description: "test"})
	c.Inc()
	c.AddUint64(41)
	require.Equal(t, 42.0, testutil.ToFloat64(c.c))

	// making it again returns the registered one
	again := MakeCounterIn(reg, MetricName{Name: "test_counter_total", Description: "test"})
	again.Inc()
	require.Equal(t, 43.0, testutil.ToFloat64(c.c))
}

func TestGauge(t *testing.T) {
	partitiontest.PartitionTest(t)
	t.Parallel()

	reg := prometheus.NewRegistry()
	g := MakeGaugeIn(reg, MetricName{Name: "test_gauge", Description: "test"})
	g.Set(5)
	g.Add(-2)
	require.Equal(t, 3.0, testutil.ToFloat64(g.g))
}

func TestTagCounter(t *testing.T) {
	partitiontest.PartitionTest(t)
	t.Parallel()

	reg := prometheus.NewRegistry()
	tc := NewTagCounterIn(reg, MetricName{Name: "test_tagged_total", Description: "test"}, "action")
	tc.Inc("SendData")
	tc.Add("SendData", 2)
	tc.Inc("Disconnect")

	expected := `
# HELP test_tagged_total test
# TYPE test_tagged_total counter
test_tagged_total{action="Disconnect"} 1
test_tagged_total{action="SendData"} 3
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "test_tagged_total"))
}

func TestMetricService(t *testing.T) {
	partitiontest.PartitionTest(t)

	NewCounter("meshnet_test_service_total", "served by the test").Inc()

	svc := MakeMetricService(ServiceConfig{ListenAddress: "127.0.0.1:0"})
	require.ErrorIs(t, svc.Shutdown(), ErrMetricServiceNotRunning)
	require.Nil(t, svc.Addr())
	require.NoError(t, svc.Start(context.Background()))
	require.ErrorIs(t, svc.Start(context.Background()), ErrMetricServiceAlreadyRunning)

	resp, err := http.Get("http://" + svc.Addr().String() + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), "meshnet_test_service_total 1")
	require.Contains(t, string(body), "go_goroutines")

	require.NoError(t, svc.Shutdown())
	require.ErrorIs(t, svc.Shutdown(), ErrMetricServiceNotRunning)
}
