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

package ring

import (
	"encoding/binary"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"golang.org/x/sys/unix"
)

// buildMmap fabricates a metadata-header-plus-ring region with the same
// layout New expects from a real perf mmap, and writes raw records into it so
// Reader.Next can be exercised without a real kernel ring.
func buildMmap(t *testing.T, ringSize int, records [][]byte) []byte {
	t.Helper()
	metaSize := int(unsafe.Sizeof(unix.PerfEventMmapPage{}))
	buf := make([]byte, metaSize+ringSize)

	meta := (*unix.PerfEventMmapPage)(unsafe.Pointer(&buf[0]))
	meta.Data_offset = uint64(metaSize)
	meta.Data_size = uint64(ringSize)

	var head uint64
	ring := buf[metaSize:]
	for _, rec := range records {
		start := head % uint64(ringSize)
		copy(ring[start:], rec)
		head += uint64(len(rec))
	}
	meta.Data_head = head
	meta.Data_tail = 0

	return buf
}

func rawRecord(recType uint32, misc uint16, payload []byte) []byte {
	buf := make([]byte, perfEventHeaderSize+len(payload))
	binary.LittleEndian.PutUint32(buf[0:4], recType)
	binary.LittleEndian.PutUint16(buf[4:6], misc)
	binary.LittleEndian.PutUint16(buf[6:8], uint16(len(buf)))
	copy(buf[perfEventHeaderSize:], payload)
	return buf
}

func TestReaderYieldsSampleAndSkipsThrottle(t *testing.T) {
	sample := rawRecord(recordSample, 0, []byte{1, 2, 3, 4})
	throttle := rawRecord(recordThrottle, 0, nil)
	second := rawRecord(recordSample, 0, []byte{5, 6})

	mmap := buildMmap(t, 4096, [][]byte{throttle, sample, second})
	r := New(mmap)

	rec, ok := r.Next()
	assert.True(t, ok)
	assert.Equal(t, []byte{1, 2, 3, 4}, rec.Payload)

	rec, ok = r.Next()
	assert.True(t, ok)
	assert.Equal(t, []byte{5, 6}, rec.Payload)

	_, ok = r.Next()
	assert.False(t, ok)
}

func TestReaderEmptyRingYieldsFalse(t *testing.T) {
	mmap := buildMmap(t, 4096, nil)
	r := New(mmap)

	_, ok := r.Next()
	assert.False(t, ok)
}

func TestReaderSkipsUnknownRecordTypeOnce(t *testing.T) {
	unknown := rawRecord(recordComm, 0, nil)
	sample := rawRecord(recordSample, 0, []byte{9})

	mmap := buildMmap(t, 4096, [][]byte{unknown, sample})
	r := New(mmap)

	rec, ok := r.Next()
	assert.True(t, ok)
	assert.Equal(t, []byte{9}, rec.Payload)
	assert.True(t, r.unknownLogged)
}

func TestBufferSizeRoundsToPowerOfTwoPlusOnePages(t *testing.T) {
	assert.Equal(t, 2*4096, BufferSize(1, 4096))
	assert.Equal(t, 3*4096, BufferSize(4097, 4096))
	assert.Equal(t, 5*4096, BufferSize(4096*3, 4096))
}

func TestDecodeL3MissSample(t *testing.T) {
	payload := make([]byte, 24)
	binary.LittleEndian.PutUint32(payload[0:4], 4242)
	binary.LittleEndian.PutUint64(payload[8:16], 0xdead0000)
	binary.LittleEndian.PutUint64(payload[16:24], 0x12340000)

	s, err := DecodeL3MissSample(payload)
	assert.NoError(t, err)
	assert.Equal(t, uint32(4242), s.PID)
	assert.Equal(t, uint64(0xdead0000), s.Addr)
	assert.Equal(t, uint64(0x12340000), s.PhysAddr)
}

func TestDecodeL3MissSampleRejectsShortPayload(t *testing.T) {
	_, err := DecodeL3MissSample([]byte{1, 2, 3})
	assert.Error(t, err)
}
