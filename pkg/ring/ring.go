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

// Package ring is the Sample Ring Reader shared by every consumer of a
// mmap'd perf_event ring (the migrator today; the uncore counters don't
// sample, they just count, so they never need this). Grounded on the
// forward (non-overwritable) ring reader in a vendored ebpf perf reader:
// load head under a fence, decode one record at tail, advance, never
// cross head. spec.md §4.5.
package ring

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/intel/cipp/pkg/log"
)

// Record types from linux/perf_event.h that this reader dispatches on.
// Only a handful of the full set matter here: samples are yielded,
// throttle/unthrottle are silently skipped (spec.md §4.5), everything
// else is logged once and skipped.
const (
	recordMmap       = 1
	recordLost       = 2
	recordComm       = 3
	recordExit       = 4
	recordThrottle   = 5
	recordUnthrottle = 6
	recordFork       = 7
	recordRead       = 8
	recordSample     = 9
)

// perfEventHeader mirrors struct perf_event_header: a 32-bit type, a
// 16-bit misc field, and a 16-bit total size (header included).
type perfEventHeader struct {
	Type uint32
	Misc uint16
	Size uint16
}

const perfEventHeaderSize = 8

// Reader pulls records out of one mmap'd perf_event ring buffer. It is a
// pull-style iterator: Next yields at most one record per call and never
// blocks (spec.md §9 "Lazy sequence of samples").
type Reader struct {
	meta *unix.PerfEventMmapPage
	data []byte
	mask uint64
	tail uint64

	unknownLogged bool
}

// New wraps a perf_event mmap region: the first page is the
// PerfEventMmapPage header, and [data_offset, data_offset+data_size) is
// the ring itself. mmap must already have been sized per BufferSize
// semantics (1+2^n pages) by the caller.
func New(mmap []byte) *Reader {
	meta := (*unix.PerfEventMmapPage)(unsafe.Pointer(&mmap[0]))
	data := mmap[meta.Data_offset : meta.Data_offset+meta.Data_size]
	return &Reader{
		meta: meta,
		data: data,
		mask: uint64(len(data) - 1),
		tail: atomic.LoadUint64(&meta.Data_tail),
	}
}

// Record is one decoded sample: the raw payload immediately following
// the perf_event_header, with the header's Misc bits carried along
// (some record families encode meaning there).
type Record struct {
	Misc    uint16
	Payload []byte
}

// Next issues a full memory fence, checks head against tail, and if the
// ring is non-empty decodes and returns exactly one record, advancing
// tail past it. ok is false when the ring is currently empty.
//
// Per spec.md §4.5 the reader never reads past head and assumes — as
// the kernel guarantees for these event families — that no record
// straddles the ring's wrap point.
func (r *Reader) Next() (rec Record, ok bool) {
	atomic.LoadUint64(&r.meta.Data_head) // fence: force the read below to observe a fresh head
	head := atomic.LoadUint64(&r.meta.Data_head)
	if head == r.tail {
		return Record{}, false
	}

	start := r.tail & r.mask
	hdr := decodeHeader(r.data, start)
	if hdr.Size == 0 {
		// Malformed header; nothing sane to do but stop advancing so we
		// don't spin forever on the same slot.
		return Record{}, false
	}

	payload := r.data[start+perfEventHeaderSize : start+uint64(hdr.Size)]
	r.tail += uint64(hdr.Size)
	atomic.StoreUint64(&r.meta.Data_tail, r.tail)

	switch hdr.Type {
	case recordSample:
		return Record{Misc: hdr.Misc, Payload: payload}, true
	case recordThrottle, recordUnthrottle:
		return r.Next()
	default:
		if !r.unknownLogged {
			log.Get().Debugf("ring: ignoring record type %d", hdr.Type)
			r.unknownLogged = true
		}
		return r.Next()
	}
}

func decodeHeader(data []byte, start uint64) perfEventHeader {
	buf := data[start : start+perfEventHeaderSize]
	return perfEventHeader{
		Type: binary.LittleEndian.Uint32(buf[0:4]),
		Misc: binary.LittleEndian.Uint16(buf[4:6]),
		Size: binary.LittleEndian.Uint16(buf[6:8]),
	}
}

// BufferSize rounds a requested per-CPU buffer size up to (1+2^n) pages,
// the only shape perf_event_open accepts for a ring mmap.
func BufferSize(requested, pageSize int) int {
	if pageSize <= 0 {
		pageSize = 4096
	}
	nPages := (requested + pageSize - 1) / pageSize
	if nPages < 1 {
		nPages = 1
	}
	pow := 1
	for pow < nPages {
		pow *= 2
	}
	return (pow + 1) * pageSize
}

// String helps diagnostics name a record type without consulting a table.
func (h perfEventHeader) String() string {
	return fmt.Sprintf("type=%d misc=%d size=%d", h.Type, h.Misc, h.Size)
}
