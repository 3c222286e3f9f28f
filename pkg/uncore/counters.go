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

package uncore

import (
	"encoding/binary"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/intel/cipp/pkg/log"
)

// CounterHandle is one opened hardware counter, pinned to a representative
// CPU. It is owned by exactly one Counter Backend and must be closed on
// shutdown. Reads are a 64-bit monotonic count since the last reset.
type CounterHandle struct {
	fd     int
	cpu    int
	typ    uint32
	config uint64
}

// CounterGroup is an ordered set of handles treated together for a single
// reset/enable/disable/read barrier. There's no uniqueness requirement
// across groups: the same handle may appear in more than one group.
type CounterGroup []*CounterHandle

// cxlPinnedCPU is the fixed CPU every CXL extension counter is pinned to.
const cxlPinnedCPU = 0

// Open opens one hardware counter per (type, config) pair in the given
// parallel slices, pinned to cpu. disabled=1 and inherit=1 are set on every
// attr, matching spec.md §4.1. A failure opening an individual (type,
// config) pair is logged and that pair is skipped — the call itself never
// fails outright.
func Open(cpu int, types []uint32, configs []uint64) CounterGroup {
	var group CounterGroup
	n := len(types)
	if len(configs) < n {
		n = len(configs)
	}
	for i := 0; i < n; i++ {
		h, err := openOne(cpu, types[i], configs[i])
		if err != nil {
			log.Get().Warnf("uncore: open(cpu=%d, type=%d, config=%#x) failed, skipping: %s", cpu, types[i], configs[i], err)
			continue
		}
		group = append(group, h)
	}
	return group
}

// OpenCXL opens every one of the topology's CXL extension counters, pinned
// to CPU 0, as a single undifferentiated group. It returns an empty group
// when CXL extensions were not compiled in.
func OpenCXL(topo *Topology) CounterGroup {
	if !topo.CXLEnabled {
		return nil
	}
	return Open(cxlPinnedCPU, topo.CXLTypes, topo.CXLConfigs)
}

// OpenCXLReadGroup and OpenCXLWriteGroup split the CXL extension counters
// into a read-only and write-only group, the same read/write split every
// other node gets, so the CXL node can be sampled and reported exactly
// like an IMC-backed one. Empty when CXL extensions are not compiled in.
func OpenCXLReadGroup(topo *Topology) CounterGroup {
	if !topo.CXLEnabled {
		return nil
	}
	return openIMCUnits([]IMCUnit{{Index: -1, Type: cxlIMCType, ReadConfig: cxlIMCReadConfig, CPU: cxlPinnedCPU}}, false)
}

func OpenCXLWriteGroup(topo *Topology) CounterGroup {
	if !topo.CXLEnabled {
		return nil
	}
	return openIMCUnits([]IMCUnit{{Index: -1, Type: cxlIMCType, WriteConfig: cxlIMCWriteConfig, CPU: cxlPinnedCPU}}, true)
}

// OpenIMCGroup opens the read or write CAS counter for every discovered IMC
// unit across every socket, each pinned to its own representative CPU.
// write selects cas_count_write over cas_count_read. Used where only the
// system-wide aggregate bandwidth matters (the Ratio Controller's sampler).
func OpenIMCGroup(topo *Topology, write bool) CounterGroup {
	return openIMCUnits(topo.Units, write)
}

// OpenIMCGroupForSocket is OpenIMCGroup narrowed to the IMC units whose
// representative CPU is cpu — one node's worth of memory channels. Used by
// the per-node bandwidth breakdown (cmd/bwmon).
func OpenIMCGroupForSocket(topo *Topology, cpu int, write bool) CounterGroup {
	return openIMCUnits(topo.UnitsForSocket(cpu), write)
}

func openIMCUnits(units []IMCUnit, write bool) CounterGroup {
	var group CounterGroup
	for _, unit := range units {
		config := unit.ReadConfig
		if write {
			config = unit.WriteConfig
		}
		h, err := openOne(unit.CPU, unit.Type, config)
		if err != nil {
			log.Get().Warnf("uncore: imc %d open failed, skipping: %s", unit.Index, err)
			continue
		}
		group = append(group, h)

		if unit.HasSubChannel {
			schConfig := unit.SubChannelReadConfig
			if write {
				schConfig = unit.SubChannelWriteConfig
			}
			h2, err := openOne(unit.CPU, unit.Type, schConfig)
			if err != nil {
				log.Get().Warnf("uncore: imc %d sub-channel open failed, skipping: %s", unit.Index, err)
				continue
			}
			group = append(group, h2)
		}
	}
	return group
}

func openOne(cpu int, typ uint32, config uint64) (*CounterHandle, error) {
	attr := unix.PerfEventAttr{
		Type:   typ,
		Config: config,
		Size:   uint32(unsafeSizeofPerfEventAttr),
		Bits:   unix.PerfBitDisabled | unix.PerfBitInherit,
	}
	fd, err := unix.PerfEventOpen(&attr, -1, cpu, -1, unix.PERF_FLAG_FD_CLOEXEC)
	if err != nil {
		return nil, errors.Wrapf(err, "perf_event_open(cpu=%d, type=%d, config=%#x)", cpu, typ, config)
	}
	return &CounterHandle{fd: fd, cpu: cpu, typ: typ, config: config}, nil
}

// unsafeSizeofPerfEventAttr is the wire size of unix.PerfEventAttr; the
// kernel uses it to know which fields the caller actually populated.
const unsafeSizeofPerfEventAttr = 128

// Close releases the counter's file descriptor.
func (h *CounterHandle) Close() error {
	if h == nil || h.fd < 0 {
		return nil
	}
	err := unix.Close(h.fd)
	h.fd = -1
	return err
}

// Reset issues PERF_EVENT_IOC_RESET on every handle in the group,
// best-effort: an individual ioctl failure is logged and does not abort
// the rest of the group.
func (g CounterGroup) Reset() {
	for _, h := range g {
		if err := ioctlNoArg(h.fd, unix.PERF_EVENT_IOC_RESET); err != nil {
			log.Get().Warnf("uncore: reset fd=%d failed: %s", h.fd, err)
		}
	}
}

// Enable issues PERF_EVENT_IOC_ENABLE on every handle in the group.
func (g CounterGroup) Enable() {
	for _, h := range g {
		if err := ioctlNoArg(h.fd, unix.PERF_EVENT_IOC_ENABLE); err != nil {
			log.Get().Warnf("uncore: enable fd=%d failed: %s", h.fd, err)
		}
	}
}

// Disable issues PERF_EVENT_IOC_DISABLE on every handle in the group.
func (g CounterGroup) Disable() {
	for _, h := range g {
		if err := ioctlNoArg(h.fd, unix.PERF_EVENT_IOC_DISABLE); err != nil {
			log.Get().Warnf("uncore: disable fd=%d failed: %s", h.fd, err)
		}
	}
}

// Read reads every handle's 64-bit counter and returns their sum. A read
// failure on one handle is tolerated: it contributes 0 to the sum and the
// sample degrades rather than aborting, per spec.md §7.
func (g CounterGroup) Read() uint64 {
	var sum uint64
	for _, h := range g {
		v, err := readCounter(h.fd)
		if err != nil {
			log.Get().Warnf("uncore: read fd=%d failed: %s", h.fd, err)
			continue
		}
		sum += v
	}
	return sum
}

// Close closes every handle in the group.
func (g CounterGroup) Close() {
	for _, h := range g {
		_ = h.Close()
	}
}

func ioctlNoArg(fd int, req uint) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(req), 0)
	if errno != 0 {
		return errno
	}
	return nil
}

func readCounter(fd int) (uint64, error) {
	var buf [8]byte
	n, err := unix.Read(fd, buf[:])
	if err != nil {
		return 0, err
	}
	if n != 8 {
		return 0, errors.Errorf("short read of perf counter: %d bytes", n)
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}
