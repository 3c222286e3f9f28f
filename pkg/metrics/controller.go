// Copyright 2019 Intel Corporation. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metrics is the optional Prometheus exposition surface for the
// ratio controller and page migrator: a small named-collector registry
// (cmd/cipp is the registry's only caller, wiring in ControllerCollector
// under -metrics-addr) plus the collector itself.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// InitCollector lazily constructs a named Prometheus collector; it exists
// so RegisterCollector doesn't have to build the collector (and whatever
// state it closes over) until NewMetricGatherer actually assembles a
// registry.
type InitCollector func() (prometheus.Collector, error)

var builtInCollectors = make(map[string]InitCollector)

// RegisterCollector records init under name for NewMetricGatherer to pick
// up later. Registering the same name twice is a programmer error, not a
// runtime condition cmd/cipp needs to recover from.
func RegisterCollector(name string, init InitCollector) error {
	if _, found := builtInCollectors[name]; found {
		return fmt.Errorf("metrics: collector %q already registered", name)
	}
	builtInCollectors[name] = init
	return nil
}

// NewMetricGatherer builds every registered collector and returns a
// Prometheus gatherer bound to a fresh pedantic registry.
func NewMetricGatherer() (prometheus.Gatherer, error) {
	reg := prometheus.NewPedanticRegistry()

	collectors := make([]prometheus.Collector, 0, len(builtInCollectors))
	for _, init := range builtInCollectors {
		c, err := init()
		if err != nil {
			return nil, err
		}
		collectors = append(collectors, c)
	}
	reg.MustRegister(collectors...)

	return reg, nil
}

// Controller Prometheus metric names, named the same way pkg/avx keeps its
// Gauge name constants alongside the descriptor table.
const (
	CurrentRatioName     = "current_ratio"
	CurrentBandwidthName = "current_bandwidth_mbps"
	PagesMovedTotalName  = "migrator_pages_moved_total"
)

const (
	currentRatioDesc = iota
	currentBandwidthDesc
	pagesMovedDesc
	numControllerDescriptors
)

var controllerDescriptors = [numControllerDescriptors]*prometheus.Desc{
	currentRatioDesc: prometheus.NewDesc(
		CurrentRatioName,
		"Current local-node weighted-interleave ratio, in percent.",
		nil, nil,
	),
	currentBandwidthDesc: prometheus.NewDesc(
		CurrentBandwidthName,
		"Most recent aggregate read+write uncore bandwidth sample, in MB/s.",
		nil, nil,
	),
	pagesMovedDesc: prometheus.NewDesc(
		PagesMovedTotalName,
		"Cumulative number of pages the migrator has requested moved.",
		nil, nil,
	),
}

// ControllerCollector exposes the ratio controller and migrator's live
// state as a Prometheus collector, the same Describe/Collect shape as
// pkg/avx's collector. It is off by default: cmd/cipp only registers and
// serves it when -metrics-addr is set.
type ControllerCollector struct {
	// Ratio, BandwidthMBps, and PagesMoved are read on every Collect
	// call — they're expected to be backed by atomics or a small mutex
	// owned by the caller, not computed here.
	Ratio         func() float64
	BandwidthMBps func() float64
	PagesMoved    func() float64
}

// Describe implements prometheus.Collector.
func (c *ControllerCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range controllerDescriptors {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *ControllerCollector) Collect(ch chan<- prometheus.Metric) {
	if c.Ratio != nil {
		ch <- prometheus.MustNewConstMetric(controllerDescriptors[currentRatioDesc], prometheus.GaugeValue, c.Ratio())
	}
	if c.BandwidthMBps != nil {
		ch <- prometheus.MustNewConstMetric(controllerDescriptors[currentBandwidthDesc], prometheus.GaugeValue, c.BandwidthMBps())
	}
	if c.PagesMoved != nil {
		ch <- prometheus.MustNewConstMetric(controllerDescriptors[pagesMovedDesc], prometheus.CounterValue, c.PagesMoved())
	}
}

// RegisterController wires collector into the shared builtInCollectors
// registry under name, so NewMetricGatherer picks it up the same way it
// would any other named collector.
func RegisterController(name string, collector *ControllerCollector) error {
	return RegisterCollector(name, func() (prometheus.Collector, error) {
		return collector, nil
	})
}
