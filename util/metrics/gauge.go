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
	"github.com/prometheus/client_golang/prometheus"
)

// Gauge represent a single gauge variable.
type Gauge struct {
	g prometheus.Gauge
}

// MakeGauge create a new gauge with the provided name and description.
func MakeGauge(metric MetricName) *Gauge {
	return MakeGaugeIn(nil, metric)
}

// MakeGaugeIn is MakeGauge registering with reg instead of the default registry.
func MakeGaugeIn(reg *prometheus.Registry, metric MetricName) *Gauge {
	g := prometheus.NewGauge(prometheus.GaugeOpts{Name: metric.Name, Help: metric.Description})
	return &Gauge{g: register[prometheus.Gauge](reg, g)}
}

// Set sets gauge to x
func (gauge *Gauge) Set(x int) {
	gauge.g.Set(float64(x))
}

// Add increases gauge by x, which may be negative.
func (gauge *Gauge) Add(x int) {
	gauge.g.Add(float64(x))
}
