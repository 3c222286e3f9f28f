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
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fakeFlags struct {
	byPFN map[uint64]uint64
}

func (f *fakeFlags) Flags(pfn uint64) (uint64, error) {
	return f.byPFN[pfn], nil
}

type fakeMover struct {
	lastPID   int
	lastAddrs []uintptr
	lastNodes []int
	calls     int
}

func (m *fakeMover) MovePages(pid int, addrs []uintptr, nodes []int) error {
	m.calls++
	m.lastPID = pid
	m.lastAddrs = append([]uintptr(nil), addrs...)
	m.lastNodes = append([]int(nil), nodes...)
	return nil
}

// TestPlacementNodeIsDeterministic is spec.md §8 worked example S4: a
// page whose addr_mod_100 is 32 goes local at ratio 50 and remote at
// ratio 20, and the decision depends on nothing else.
func TestPlacementNodeIsDeterministic(t *testing.T) {
	assert.Equal(t, 0, placementNode(32, 50))
	assert.Equal(t, 1, placementNode(32, 20))
}

func TestPlacementNodeBoundaryGoesRemote(t *testing.T) {
	// addr_mod_100 == ratio is not "< ratio", so it lands remote.
	assert.Equal(t, 1, placementNode(50, 50))
}

// TestIngestSkipsNonAnonymousPages pins spec.md §4.6 step 2.
func TestIngestSkipsNonAnonymousPages(t *testing.T) {
	flags := &fakeFlags{byPFN: map[uint64]uint64{0x100: 0}} // no ANON bit
	m := New(new(int32), &fakeMover{}, flags, DefaultConfig)

	m.Ingest(1234, 0x100000, 0x100<<12)

	assert.Empty(t, m.processes)
}

// TestIngestTracksAnonymousPageAndIncrementsCount exercises the upsert
// rule from spec.md §4.6 step 4: a repeat sample on the same aligned
// page increments count rather than replacing the entry.
func TestIngestTracksAnonymousPageAndIncrementsCount(t *testing.T) {
	flags := &fakeFlags{byPFN: map[uint64]uint64{0x200: kpfAnon}}
	m := New(new(int32), &fakeMover{}, flags, DefaultConfig)

	addr := uint64(0x200) << 12
	m.Ingest(99, addr, 0x200<<12)
	m.Ingest(99, addr, 0x200<<12)

	info := m.processes[99][addr]
	assert.NotNil(t, info)
	assert.Equal(t, uint32(2), info.Count)
	assert.False(t, info.Huge)
}

// TestIngestAlignsHugePagesTo2MiB exercises spec.md §4.6 step 3.
func TestIngestAlignsHugePagesTo2MiB(t *testing.T) {
	flags := &fakeFlags{byPFN: map[uint64]uint64{0x300: kpfAnon | kpfTHP}}
	m := New(new(int32), &fakeMover{}, flags, DefaultConfig)

	// An address in the middle of a 2MiB-aligned region.
	addr := uint64(1)<<21 + 0x1234
	m.Ingest(7, addr, 0x300<<12)

	var key uint64
	var info *PageInfo
	for k, v := range m.processes[7] {
		key, info = k, v
	}
	assert.NotNil(t, info)
	assert.Equal(t, uint64(1)<<21, key)
	assert.True(t, info.Huge)
}

// TestRunCycleMovesPagesAndDampensCounts covers the full migration
// cadence from spec.md §4.6: build pairs, invoke the mover, then decay
// counts by COUNT_DAMP_FACTOR and drop entries that hit zero.
func TestRunCycleMovesPagesAndDampensCounts(t *testing.T) {
	mover := &fakeMover{}
	m := New(new(int32), mover, &fakeFlags{}, DefaultConfig)
	ratio := int32(50)
	m.CurrentRatio = &ratio

	m.processes[42] = map[uint64]*PageInfo{
		0x1000: {Count: 1, AddrMod100: 10, Huge: false}, // local
		0x2000: {Count: 3, AddrMod100: 90, Huge: false}, // remote
	}

	m.RunCycle(nil)

	assert.Equal(t, 1, mover.calls)
	assert.Equal(t, 42, mover.lastPID)
	assert.Len(t, mover.lastAddrs, 2)

	// count=1 dampened by 0.67 floors to 0 and is dropped.
	_, stillTracked := m.processes[42][0x1000]
	assert.False(t, stillTracked)

	// count=3 dampened by 0.67 -> 2, survives.
	assert.Equal(t, uint32(2), m.processes[42][0x2000].Count)

	assert.Equal(t, uint64(2), atomic.LoadUint64(&m.PagesMoved))
}

func TestRunCycleSkipsMoveWhenNoPagesTracked(t *testing.T) {
	mover := &fakeMover{}
	ratio := int32(50)
	m := New(&ratio, mover, &fakeFlags{}, DefaultConfig)

	m.RunCycle(nil)

	assert.Equal(t, 0, mover.calls)
}

func TestCurrentRatioReadViaAtomic(t *testing.T) {
	ratio := int32(77)
	m := New(&ratio, &fakeMover{}, &fakeFlags{}, DefaultConfig)
	assert.Equal(t, int32(77), atomic.LoadInt32(m.CurrentRatio))
}
