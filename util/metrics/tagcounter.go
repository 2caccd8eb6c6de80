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

// TagCounter holds a set of counters under one name, told apart by a label.
type TagCounter struct {
	vec *prometheus.CounterVec
}

// NewTagCounter makes a counter partitioned by the label named label.
func NewTagCounter(metric MetricName, label string) *TagCounter {
	return NewTagCounterIn(nil, metric, label)
}

// NewTagCounterIn is NewTagCounter registering with reg instead of the default registry.
func NewTagCounterIn(reg *prometheus.Registry, metric MetricName, label string) *TagCounter {
	vec := prometheus.NewCounterVec(prometheus.CounterOpts{Name: metric.Name, Help: metric.Description}, []string{label})
	return &TagCounter{vec: register[*prometheus.CounterVec](reg, vec)}
}

// Add t[tag] += val
func (tc *TagCounter) Add(tag string, val uint64) {
	tc.vec.WithLabelValues(tag).Add(float64(val))
}

// Inc t[tag] += 1
func (tc *TagCounter) Inc(tag string) {
	tc.vec.WithLabelValues(tag).Inc()
}
