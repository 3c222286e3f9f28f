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

// Package migrator is the optional Page Migrator: it consumes L3-miss
// load samples from per-CPU PEBS rings, maintains per-process page
// counters, and periodically re-places hot pages across the two tiers
// to match the current interleave ratio. Grounded on the page-tracking
// and move_pages idiom of pkg/memtier (addrdata.go, mover.go,
// move_linux.go) and pkg/cri/resource-manager/control/page-migrate's
// batching, generalised to spec.md §4.6's deterministic placement rule.
package migrator

import (
	"sort"
	"sync/atomic"

	"github.com/intel/cipp/pkg/log"
)

const (
	pageShift4K = 12
	pageShift2M = 21

	// countDampFactorNum/countDampFactorDen is spec.md §4.6's
	// COUNT_DAMP_FACTOR (0.67): after every
	// migration cadence, surviving counts decay by this factor so that
	// cold pages eventually drop out of the map.
	countDampFactorNum = 67
	countDampFactorDen = 100

	// maxPairsPerCycle bounds one process's (address, node) batch, per
	// spec.md §4.6 ("at most 100 000").
	maxPairsPerCycle = 100000
)

// PageInfo is one tracked page: how many samples have landed on it, its
// precomputed placement key, and whether it's a transparent huge page.
// Mirrors the Data Model entry in spec.md §3.
type PageInfo struct {
	Count      uint32
	AddrMod100 uint8
	Huge       bool
}

// Config holds the Migrator's tunables.
type Config struct {
	MigrateIntervalMs int64
}

// DefaultConfig matches spec.md §4.6's stated default.
var DefaultConfig = Config{MigrateIntervalMs: 1000}

// Migrator owns the per-process page maps and drives the sample/migrate
// cadence. It never touches the Ratio Controller's state directly: the
// two tasks communicate through a single shared atomic integer (spec.md
// §5 "Shared state"), accessed here via CurrentRatio.
type Migrator struct {
	cfg   Config
	mover Mover
	flags PageFlagsReader

	// CurrentRatio is the local weight in [0,100], written by the
	// control task and read here with relaxed atomics: the placement
	// decision is self-correcting, so no stronger ordering is needed.
	CurrentRatio *int32

	// PagesMoved is the cumulative count of pages requested moved across
	// every RunCycle, read by the optional Prometheus collector.
	PagesMoved uint64

	processes map[int]map[uint64]*PageInfo
}

// New constructs a Migrator. ratio must be the same *int32 the control
// task updates every adjustment cycle.
func New(ratio *int32, mover Mover, flags PageFlagsReader, cfg Config) *Migrator {
	return &Migrator{
		cfg:          cfg,
		mover:        mover,
		flags:        flags,
		CurrentRatio: ratio,
		processes:    make(map[int]map[uint64]*PageInfo),
	}
}

// Ingest processes one decoded L3-miss sample: it resolves the physical
// frame's flags, skips non-anonymous pages, computes the aligned base
// address and placement key, and upserts the per-process page map
// (spec.md §4.6 steps 1-4).
func (m *Migrator) Ingest(pid int, addr, physAddr uint64) {
	pfn := physAddr >> 12

	flags, err := m.flags.Flags(pfn)
	if err != nil {
		log.Get().Debugf("migrator: kpageflags lookup for pfn %#x failed: %s", pfn, err)
		return
	}
	if !isAnonymous(flags) {
		return
	}

	huge := isTransparentHuge(flags)
	shift := uint(pageShift4K)
	if huge {
		shift = pageShift2M
	}
	aligned := (addr >> shift) << shift
	addrMod100 := uint8((aligned >> shift) % 100)

	byProc, ok := m.processes[pid]
	if !ok {
		byProc = make(map[uint64]*PageInfo)
		m.processes[pid] = byProc
	}

	info, ok := byProc[aligned]
	if !ok {
		byProc[aligned] = &PageInfo{Count: 1, AddrMod100: addrMod100, Huge: huge}
		return
	}
	info.Count++
}

// placementNode is the pure function spec.md §4.6 requires: given only a
// page's addr_mod_100 and the current ratio, it always returns the same
// node. The comparison is strict less-than ("node = 0 if addr_mod_100 <
// ratio"), so a tie at addrMod100 == ratio goes to node 1 (remote).
func placementNode(addrMod100 uint8, ratio int64) int {
	if int64(addrMod100) < ratio {
		return 0
	}
	return 1
}

// RunCycle disables every counter, moves every process's tracked pages
// (in ascending address order, at most maxPairsPerCycle per process)
// toward their deterministic target node, dampens surviving counts, then
// re-enables the counters (spec.md §4.6 "Migration cadence").
func (m *Migrator) RunCycle(counters []*CPUCounter) {
	for _, c := range counters {
		if err := c.Disable(); err != nil {
			log.Get().Warnf("migrator: disabling counter on cpu %d failed: %s", c.CPU, err)
		}
	}

	ratio := int64(atomic.LoadInt32(m.CurrentRatio))
	for pid, pages := range m.processes {
		m.migrateProcess(pid, pages, ratio)
	}

	for _, c := range counters {
		if err := c.Enable(); err != nil {
			log.Get().Warnf("migrator: re-enabling counter on cpu %d failed: %s", c.CPU, err)
		}
	}
}

func (m *Migrator) migrateProcess(pid int, pages map[uint64]*PageInfo, ratio int64) {
	addrs := make([]uintptr, 0, len(pages))
	for addr := range pages {
		addrs = append(addrs, uintptr(addr))
	}
	// Deterministic iteration order keeps the (address, node) batch and
	// any future dry-run diagnostics reproducible across runs.
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })

	if len(addrs) > maxPairsPerCycle {
		addrs = addrs[:maxPairsPerCycle]
	}

	nodes := make([]int, len(addrs))
	for i, addr := range addrs {
		nodes[i] = placementNode(pages[uint64(addr)].AddrMod100, ratio)
	}

	if len(addrs) > 0 {
		if err := m.mover.MovePages(pid, addrs, nodes); err != nil {
			log.Get().Warnf("migrator: move_pages for pid %d failed: %s", pid, err)
		} else {
			atomic.AddUint64(&m.PagesMoved, uint64(len(addrs)))
		}
	}

	for addr, info := range pages {
		info.Count = uint32(uint64(info.Count) * countDampFactorNum / countDampFactorDen)
		if info.Count == 0 {
			delete(pages, addr)
		}
	}
}
