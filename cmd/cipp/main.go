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

// Command cipp is the interleave-ratio adaptive controller: cipp
// <sample_int_ms> <adjust_int_ms> <bw_saturation_cutoff_MBps> [migrate_flag].
package main

import (
	stdlog "log"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/yaml.v3"

	"github.com/intel/cipp/pkg/bwsample"
	"github.com/intel/cipp/pkg/log"
	"github.com/intel/cipp/pkg/metrics"
	"github.com/intel/cipp/pkg/migrator"
	"github.com/intel/cipp/pkg/ratioctl"
	"github.com/intel/cipp/pkg/ring"
	"github.com/intel/cipp/pkg/uncore"
	_ "github.com/intel/cipp/pkg/version"
	"github.com/intel/cipp/pkg/weightsink"
)

func exit(format string, a ...interface{}) {
	fmt.Fprintf(os.Stderr, "cipp: "+format+"\n", a...)
	os.Exit(-1)
}

// fileConfig is the optional -config YAML overlay: it tunes the same
// constants ratioctl.Config carries, named the way
// memtier.PolicyConfig/RoutineConfig fields are named in cmd/memtierd.
type fileConfig struct {
	MinStep           int64  `yaml:"minStep"`
	MaxStep           int64  `yaml:"maxStep"`
	Percentile        int64  `yaml:"percentile"`
	GoodStepVariant   string `yaml:"goodStepVariant"`
	ThrottleThreshold int64  `yaml:"throttleThreshold"`
}

func loadConfigFile(path string, cfg ratioctl.Config) ratioctl.Config {
	b, err := os.ReadFile(path)
	if err != nil {
		exit("reading %s: %s", path, err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(b, &fc); err != nil {
		exit("parsing %s: %s", path, err)
	}
	if fc.MinStep != 0 {
		cfg.MinStep = fc.MinStep
	}
	if fc.MaxStep != 0 {
		cfg.MaxStep = fc.MaxStep
	}
	if fc.Percentile != 0 {
		cfg.Percentile = fc.Percentile
	}
	if fc.ThrottleThreshold != 0 {
		cfg.ThrottleThreshold = fc.ThrottleThreshold
	}
	switch fc.GoodStepVariant {
	case "guarded":
		cfg.Variant = ratioctl.VariantGuarded
	case "bwImproved":
		cfg.Variant = ratioctl.VariantBWImproved
	case "bwLessInterleave", "":
		cfg.Variant = ratioctl.VariantBWLessInterleave
	default:
		exit("unknown goodStepVariant %q", fc.GoodStepVariant)
	}
	return cfg
}

func main() {
	optConfig := flag.String("config", "", "YAML file overriding the controller's step/percentile/variant constants")
	optDebug := flag.Bool("debug", false, "print debug diagnostics")
	optVerbose := flag.Bool("verbose", false, "append the consecutive-good-step count to the diagnostics line")
	optMetricsAddr := flag.String("metrics-addr", "", "if set, serve Prometheus metrics on this address (e.g. :9100)")
	flag.Parse()

	log.SetLogger(stdlog.New(os.Stderr, "", 0), "")
	log.SetDebug(*optDebug)

	args := flag.Args()
	if len(args) < 3 {
		exit("usage: cipp <sample_int_ms> <adjust_int_ms> <bw_saturation_cutoff_MBps> [migrate_flag]")
	}

	sampleMs, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || sampleMs <= 0 {
		exit("invalid sample_int_ms %q", args[0])
	}
	adjustMs, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil || adjustMs <= 0 || adjustMs < sampleMs {
		exit("invalid adjust_int_ms %q", args[1])
	}
	bwCutoff, err := strconv.ParseInt(args[2], 10, 64)
	if err != nil || bwCutoff <= 0 {
		exit("invalid bw_saturation_cutoff_MBps %q", args[2])
	}
	migrateEnabled := len(args) >= 4 && args[3] != "" && args[3] != "0" && args[3] != "false"

	cfg := ratioctl.DefaultConfig
	if *optConfig != "" {
		cfg = loadConfigFile(*optConfig, cfg)
	}

	topo, err := uncore.Discover()
	if topo == nil {
		exit("uncore discovery failed: %s", err)
	}
	if err != nil {
		log.Get().Warnf("cipp: uncore discovery skipped some IMC units: %s", err)
	}
	readGroup := uncore.OpenIMCGroup(topo, false)
	writeGroup := uncore.OpenIMCGroup(topo, true)
	defer readGroup.Close()
	defer writeGroup.Close()

	// Local tier is node 0, remote tier is node 1 (spec.md §1/§3,
	// SPEC_FULL.md §4.4): these are NUMA node ids, not the representative
	// CPU ids pkg/uncore uses for perf pinning, and must never be
	// conflated with topo.SocketCPUs.
	sink := weightsink.NewKernelSink(0, 1)

	state := ratioctl.NewState(cfg)
	currentRatio := new(int32)
	atomic.StoreInt32(currentRatio, int32(state.Ratio))

	var mig *migrator.Migrator
	var counters []*migrator.CPUCounter
	if migrateEnabled {
		mig, counters = startMigrator(currentRatio)
		defer func() {
			for _, c := range counters {
				c.Close()
			}
		}()
	}

	if *optMetricsAddr != "" {
		startMetricsServer(*optMetricsAddr, currentRatio, mig)
	}

	sampleInterval := time.Duration(sampleMs) * time.Millisecond
	adjustInterval := time.Duration(adjustMs) * time.Millisecond
	capacity := int(adjustMs / sampleMs)
	if capacity < 1 {
		capacity = 1
	}

	history := make([]int64, 0, capacity)
	adjustDeadline := time.Now().Add(adjustInterval)
	migrateDeadline := time.Now().Add(time.Duration(migrator.DefaultConfig.MigrateIntervalMs) * time.Millisecond)

	for {
		sample := bwsample.Take(readGroup, writeGroup, sampleInterval)
		history = append(history, int64(sample.Sum()))

		if mig != nil && time.Now().After(migrateDeadline) {
			mig.RunCycle(counters)
			migrateDeadline = time.Now().Add(time.Duration(migrator.DefaultConfig.MigrateIntervalMs) * time.Millisecond)
		}

		if len(history) >= capacity && time.Now().After(adjustDeadline) {
			result := ratioctl.Adjust(cfg, history, state, bwCutoff)
			state = result.State
			atomic.StoreInt32(currentRatio, int32(state.Ratio))

			local, remote := ratioctl.CommitWeights(state.Ratio)
			if err := sink.SetWeights(local, remote); err != nil {
				log.Get().Warnf("cipp: committing weights failed: %s", err)
			}

			line := fmt.Sprintf("Target ratio: %d BW Change: %d Int Change: %d BW: %d",
				state.Ratio, result.BWChange, result.IntChange, result.CurBW)
			if *optVerbose {
				line += fmt.Sprintf(" Correct: %d", state.CorrectCount)
			}
			fmt.Println(line)

			history = history[:0]
			adjustDeadline = time.Now().Add(adjustInterval)
		}
	}
}

func startMigrator(currentRatio *int32) (*migrator.Migrator, []*migrator.CPUCounter) {
	flags, err := migrator.OpenKernelPageFlags()
	if err != nil {
		log.Get().Warnf("cipp: page migrator disabled, cannot open kpageflags: %s", err)
		return nil, nil
	}

	mig := migrator.New(currentRatio, migrator.KernelMover{}, flags, migrator.DefaultConfig)

	var counters []*migrator.CPUCounter
	for cpu := 0; cpu < maxProbedCPUs; cpu++ {
		c, err := migrator.OpenL3MissCounter(cpu)
		if err != nil {
			break
		}
		if err := c.Enable(); err != nil {
			log.Get().Warnf("cipp: enabling L3-miss counter on cpu %d failed: %s", cpu, err)
		}
		counters = append(counters, c)
		go pollCounter(mig, c)
	}
	return mig, counters
}

// maxProbedCPUs bounds the online-CPU probe for the migrator's per-CPU
// PEBS counters; OpenL3MissCounter fails (and probing stops) past the
// last online CPU.
const maxProbedCPUs = 1024

func pollCounter(mig *migrator.Migrator, c *migrator.CPUCounter) {
	for {
		rec, ok := c.Reader.Next()
		if !ok {
			time.Sleep(time.Millisecond)
			continue
		}
		sample, err := ring.DecodeL3MissSample(rec.Payload)
		if err != nil {
			continue
		}
		mig.Ingest(int(sample.PID), sample.Addr, sample.PhysAddr)
	}
}

func startMetricsServer(addr string, currentRatio *int32, mig *migrator.Migrator) {
	collector := &metrics.ControllerCollector{
		Ratio: func() float64 { return float64(atomic.LoadInt32(currentRatio)) },
	}
	if mig != nil {
		collector.PagesMoved = func() float64 { return float64(atomic.LoadUint64(&mig.PagesMoved)) }
	}
	if err := metrics.RegisterController("cipp", collector); err != nil {
		log.Get().Warnf("cipp: registering metrics collector failed: %s", err)
		return
	}
	gatherer, err := metrics.NewMetricGatherer()
	if err != nil {
		log.Get().Warnf("cipp: building metrics gatherer failed: %s", err)
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Get().Warnf("cipp: metrics server on %s stopped: %s", addr, err)
		}
	}()
}
