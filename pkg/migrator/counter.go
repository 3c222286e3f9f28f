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

package migrator

import (
	"os"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/intel/cipp/pkg/ring"
)

// memLoadRetiredL3Miss is the raw PEBS event spec.md §4.6 names:
// MEM_LOAD_RETIRED.L3_MISS, event 0xd1, umask 0x20.
const memLoadRetiredL3Miss = 0x20d1

// l3MissSamplePeriod is the fixed sample period spec.md §4.6 mandates:
// one sample every 5000 occurrences of the event.
const l3MissSamplePeriod = 5000

// perCPURingBytes is the requested (pre-rounding) per-CPU ring size.
const perCPURingBytes = 64 * 1024

// CPUCounter is one online CPU's L3-miss sampling counter plus its mmap'd
// ring buffer reader.
type CPUCounter struct {
	CPU    int
	fd     int
	mmap   []byte
	Reader *ring.Reader
}

// OpenL3MissCounter opens a PEBS sampling counter for MEM_LOAD_RETIRED_L3_MISS
// pinned to cpu, with sample fields covering pid/tid, the load address, and
// the load's physical address (spec.md §4.6: "open a sampling counter ...
// with a sample period of 5000, sample fields including physical address
// and pid"), then mmaps its ring.
func OpenL3MissCounter(cpu int) (*CPUCounter, error) {
	attr := unix.PerfEventAttr{
		Type:        unix.PERF_TYPE_RAW,
		Config:      memLoadRetiredL3Miss,
		Sample:      l3MissSamplePeriod,
		Sample_type: unix.PERF_SAMPLE_TID | unix.PERF_SAMPLE_ADDR | unix.PERF_SAMPLE_PHYS_ADDR,
		Bits:        unix.PerfBitDisabled,
	}
	attr.Size = uint32(unsafe.Sizeof(attr))

	fd, err := unix.PerfEventOpen(&attr, -1, cpu, -1, unix.PERF_FLAG_FD_CLOEXEC)
	if err != nil {
		return nil, errors.Wrapf(err, "perf_event_open L3-miss sampler on cpu %d", cpu)
	}

	size := ring.BufferSize(perCPURingBytes, os.Getpagesize())
	mmap, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, errors.Wrapf(err, "mmap L3-miss ring on cpu %d", cpu)
	}

	return &CPUCounter{CPU: cpu, fd: fd, mmap: mmap, Reader: ring.New(mmap)}, nil
}

// Enable arms the counter (it starts disabled per PerfBitDisabled).
func (c *CPUCounter) Enable() error {
	return ioctlNoArg(c.fd, unix.PERF_EVENT_IOC_ENABLE)
}

// Disable stops sampling without tearing down the mapping, used every
// migration cadence (spec.md §4.6: "disable all sampling counters").
func (c *CPUCounter) Disable() error {
	return ioctlNoArg(c.fd, unix.PERF_EVENT_IOC_DISABLE)
}

// Close releases the mmap and the counter fd.
func (c *CPUCounter) Close() error {
	_ = unix.Munmap(c.mmap)
	return unix.Close(c.fd)
}

func ioctlNoArg(fd int, req uint) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(req), 0)
	if errno != 0 {
		return errno
	}
	return nil
}
