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

package ratioctl

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func repeat(v int64, n int) []int64 {
	h := make([]int64, n)
	for i := range h {
		h[i] = v
	}
	return h
}

// TestAdjustS1UnsaturatedBackOff is spec.md §8 worked example S1: an
// unsaturated link with a negative last_step backs the ratio off towards
// 100 and the committed weights hit the 255/1 special case.
func TestAdjustS1UnsaturatedBackOff(t *testing.T) {
	cfg := DefaultConfig
	state := NewState(cfg) // Ratio=100, LastBW=0, LastStep=-10, CorrectCount=0

	res := Adjust(cfg, repeat(500, 10), state, 1000)

	assert.Equal(t, int64(500), res.CurBW)
	assert.Equal(t, int64(0), res.BWChange)
	assert.Equal(t, int64(100), res.State.Ratio)
	assert.Equal(t, int64(5), res.State.LastStep)
	assert.Equal(t, int64(500), res.State.LastBW)

	local, remote := CommitWeights(res.State.Ratio)
	assert.Equal(t, uint8(255), local)
	assert.Equal(t, uint8(1), remote)
}

// TestAdjustS2SaturatedGoodStepContinues is spec.md §8 worked example S2:
// saturated, bandwidth unchanged since the last sample, previous step was
// positive — the controller must keep climbing rather than throttle,
// because a zero bw_change is stability, not a wasted step.
func TestAdjustS2SaturatedGoodStepContinues(t *testing.T) {
	cfg := DefaultConfig
	state := State{Ratio: 90, LastBW: 2000, LastStep: 5, CorrectCount: 0}

	res := Adjust(cfg, repeat(2000, 10), state, 1000)

	assert.Equal(t, int64(2000), res.CurBW)
	assert.Equal(t, int64(0), res.BWChange)
	assert.Equal(t, int64(-500), res.IntChange)
	assert.Equal(t, int64(95), res.State.Ratio)
	assert.Equal(t, int64(5), res.State.LastStep)
}

// TestAdjustS3SaturatedGoodStepContinues is spec.md §8 worked example S3:
// the same shape as S2 at a different ratio, pinning that the step size
// (not just its sign) carries forward unchanged.
func TestAdjustS3SaturatedGoodStepContinues(t *testing.T) {
	cfg := DefaultConfig
	state := State{Ratio: 80, LastBW: 3000, LastStep: 5, CorrectCount: 0}

	res := Adjust(cfg, repeat(3000, 10), state, 1000)

	assert.Equal(t, int64(85), res.State.Ratio)
	assert.Equal(t, int64(5), res.State.LastStep)
}

// TestAdjustS6StreakAccelerationDoubles is spec.md §8 worked example S6:
// three consecutive good steps double the step size and reset the streak
// counter, rather than growing unbounded.
func TestAdjustS6StreakAccelerationDoubles(t *testing.T) {
	cfg := DefaultConfig
	state := State{Ratio: 50, LastBW: 4000, LastStep: 2, CorrectCount: 2}

	res := Adjust(cfg, repeat(4000, 10), state, 1000)

	assert.Equal(t, int64(0), res.State.CorrectCount)
	assert.Equal(t, int64(4), res.State.LastStep)
	assert.Equal(t, int64(54), res.State.Ratio)
}

// TestAdjustRatioNeverLeavesValidRange is invariant 1 from spec.md §8: the
// ratio is always clamped to [0,100] regardless of how far a step would
// otherwise push it.
func TestAdjustRatioNeverLeavesValidRange(t *testing.T) {
	cfg := DefaultConfig

	low := Adjust(cfg, repeat(1, 10), State{Ratio: 1, LastBW: 100, LastStep: -10, CorrectCount: 0}, 1000)
	assert.GreaterOrEqual(t, low.State.Ratio, int64(0))
	assert.LessOrEqual(t, low.State.Ratio, int64(100))

	high := Adjust(cfg, repeat(5000, 10), State{Ratio: 99, LastBW: 5000, LastStep: 10, CorrectCount: 2}, 1000)
	assert.GreaterOrEqual(t, high.State.Ratio, int64(0))
	assert.LessOrEqual(t, high.State.Ratio, int64(100))
}

// TestAdjustStepMagnitudeIsZeroOrWithinBounds is invariant from spec.md §4.3:
// a committed step is either exactly 0 or its magnitude lies in
// [MinStep,MaxStep] (ignoring the one-time streak doubling, which this
// config never lets exceed MaxStep because clampMagnitude runs last).
func TestAdjustStepMagnitudeIsZeroOrWithinBounds(t *testing.T) {
	cfg := DefaultConfig
	cases := []State{
		{Ratio: 100, LastBW: 0, LastStep: -10, CorrectCount: 0},
		{Ratio: 90, LastBW: 2000, LastStep: 5, CorrectCount: 0},
		{Ratio: 50, LastBW: 4000, LastStep: 2, CorrectCount: 2},
		{Ratio: 20, LastBW: 10, LastStep: 0, CorrectCount: 0},
	}
	for _, st := range cases {
		res := Adjust(cfg, repeat(st.LastBW+1, 10), st, 1000)
		mag := res.State.LastStep
		if mag < 0 {
			mag = -mag
		}
		if mag != 0 {
			assert.GreaterOrEqual(t, mag, cfg.MinStep)
			assert.LessOrEqual(t, mag, cfg.MaxStep)
		}
	}
}

// TestAdjustLastBWUpdateRule is the spec.md §8 invariant that last_bw only
// advances when either the previous or the current step was non-zero —
// two consecutive zero steps must leave last_bw untouched.
func TestAdjustLastBWUpdateRule(t *testing.T) {
	cfg := DefaultConfig
	// saturated, last_step==0, and the rangeClamp result collapses under 4
	// so cur_step also lands on 0: last_bw must not move from 4000.
	state := State{Ratio: 50, LastBW: 4000, LastStep: 0, CorrectCount: 0}
	res := Adjust(cfg, repeat(4000, 10), state, 1000)

	assert.Equal(t, int64(0), res.State.LastStep)
	assert.Equal(t, int64(4000), res.State.LastBW)
}

// TestPercentileDiscardsFirstHalf is spec.md §4.3's windowing rule: only
// the back half of history contributes to the percentile.
func TestPercentileDiscardsFirstHalf(t *testing.T) {
	history := []int64{9000, 9000, 9000, 9000, 9000, 100, 200, 300, 400, 500}
	p := Percentile(history, 80)
	assert.Equal(t, int64(400), p)
}

// TestPercentileNeverReturnsZero guards the division-by-zero edge case:
// an all-zero window must still yield a usable divisor.
func TestPercentileNeverReturnsZero(t *testing.T) {
	p := Percentile(repeat(0, 10), 80)
	assert.Equal(t, int64(1), p)
}

// TestCommitWeightsSpecialCase pins the ratio=100 edge: the kernel control
// surface treats a 0 weight as 1, so at full local interleave the remote
// weight must be written as 1, not 0, while local saturates at 255.
func TestCommitWeightsSpecialCase(t *testing.T) {
	local, remote := CommitWeights(100)
	assert.Equal(t, uint8(255), local)
	assert.Equal(t, uint8(1), remote)
}

// TestCommitWeightsSumsToHundred covers the non-special-case path: local
// and remote weights always sum back to 100.
func TestCommitWeightsSumsToHundred(t *testing.T) {
	for _, ratio := range []int64{0, 1, 50, 80, 99} {
		local, remote := CommitWeights(ratio)
		assert.Equal(t, 100, int(local)+int(remote))
	}
}
