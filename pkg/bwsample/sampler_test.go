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

package bwsample

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fakeGroup returns a fixed count on Read and records how many times each
// lifecycle method was invoked.
type fakeGroup struct {
	count                          uint64
	resets, enables, disables, reads int
}

func (g *fakeGroup) Reset()   { g.resets++ }
func (g *fakeGroup) Enable()  { g.enables++ }
func (g *fakeGroup) Disable() { g.disables++ }
func (g *fakeGroup) Read() uint64 {
	g.reads++
	return g.count
}

// TestTakeArithmeticMatchesWorkedExample feeds Take the CAS counts of the
// worked example S5 (1_000_000 read, 2_000_000 write). The real elapsed
// time can't be controlled without sleeping, so the absolute MB/s figure
// is not checked; the test checks that each lifecycle method runs once
// and that both rates are divided by the same window.
func TestTakeArithmeticMatchesWorkedExample(t *testing.T) {
	rd := &fakeGroup{count: 1_000_000}
	wr := &fakeGroup{count: 2_000_000}

	sample := Take(rd, wr, 1*time.Microsecond)

	// The write group has exactly double the read group's count, so their
	// MB/s ratio must be 2 regardless of the actual elapsed window.
	assert.Equal(t, 1, rd.resets)
	assert.Equal(t, 1, rd.enables)
	assert.Equal(t, 1, rd.disables)
	assert.Equal(t, 1, rd.reads)
	assert.True(t, sample.ReadMBps > 0)
	assert.True(t, sample.WriteMBps > 0)
	assert.InDelta(t, 2.0, sample.WriteMBps/sample.ReadMBps, 0.0001)
}

// TestSampleSum verifies Sum is just the field sum (used by the ratio
// controller's history).
func TestSampleSum(t *testing.T) {
	s := Sample{ReadMBps: 640, WriteMBps: 1280}
	assert.Equal(t, 1920.0, s.Sum())
}

// TestZeroElapsedWindowDoesNotDivideByZero exercises the degenerate case
// where the measured window rounds to zero microseconds.
func TestZeroElapsedWindowDoesNotDivideByZero(t *testing.T) {
	rd := &fakeGroup{count: 64}
	wr := &fakeGroup{count: 0}

	sample := Take(rd, wr, 0)

	assert.False(t, isInfOrNaN(sample.ReadMBps))
	assert.False(t, isInfOrNaN(sample.WriteMBps))
}

func isInfOrNaN(f float64) bool {
	return f != f || f > 1e300 || f < -1e300
}
