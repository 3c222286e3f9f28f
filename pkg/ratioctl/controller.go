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

// Package ratioctl is the interleave-ratio adaptive controller: a
// stateful hill-climbing search that decides, once per adjustment window,
// how to change the local:remote weighted-interleave ratio. All math here
// is integer, per spec.md §9 ("Fixed-point arithmetic"): no floats enter
// the decision path.
package ratioctl

import "sort"

// GoodStepVariant selects which "good step" predicate governs the
// saturated branch of Adjust. spec.md §4.3/§9 documents three source
// variants and requires picking exactly one; this implementation picks
// VariantBWLessInterleave, matching the worked examples in spec.md §8.
type GoodStepVariant int

const (
	// VariantBWLessInterleave is predicate (i): the bandwidth change is
	// smaller in magnitude than the interleave change, i.e. the last step
	// moved the ratio further than it cost in bandwidth. Comparing
	// magnitudes (not raw signed values) is what makes the worked
	// examples in spec.md §8 (S2, S3) resolve to "good" when bw_change is
	// 0 and interleave_change is a large negative number — a raw signed
	// comparison would call that "bad" and break those vectors.
	VariantBWLessInterleave GoodStepVariant = iota
	// VariantGuarded is predicate (ii): same as (i), but additionally
	// treats a step as good when the bandwidth dropped (bw_change > 0)
	// while the ratio moved toward local (interleave_change < 0).
	VariantGuarded
	// VariantBWImproved is predicate (iii): the step is good simply if
	// current bandwidth exceeds the last measured bandwidth.
	VariantBWImproved
)

// Config holds the constants spec.md §4.3/§8 treats as fixed across a
// controller's lifetime.
type Config struct {
	MinStep           int64
	MaxStep           int64
	Percentile        int64
	Variant           GoodStepVariant
	ThrottleThreshold int64 // percent; below this, a continuing good step is attenuated
}

// DefaultConfig matches the worked examples in spec.md §8.
var DefaultConfig = Config{
	MinStep:           2,
	MaxStep:           10,
	Percentile:        80,
	Variant:           VariantBWLessInterleave,
	ThrottleThreshold: 50,
}

// State is ControllerState from spec.md §3, persisted across adjustments.
type State struct {
	Ratio        int64 // local weight in [0,100]
	LastBW       int64 // last chosen percentile value; 0 means uninitialised
	LastStep     int64 // signed change applied last adjustment
	CorrectCount int64 // consecutive "good" steps
}

// NewState returns the initial ControllerState from spec.md §3: ratio=100,
// last_bw=0, last_step=-MaxStep, correct_count=0.
func NewState(cfg Config) State {
	return State{Ratio: 100, LastBW: 0, LastStep: -cfg.MaxStep, CorrectCount: 0}
}

// Result is the outcome of one Adjust call: the new state plus the
// diagnostics line cmd/cipp prints (spec.md §6).
type Result struct {
	State     State
	CurBW     int64
	BWChange  int64
	IntChange int64
}

// Percentile discards the first half of history (to absorb the delay
// between a weight change and the kernel re-placing pages), sorts the
// remainder, and returns the Pth-percentile value. A zero result is
// substituted with 1 to avoid a later division by zero.
func Percentile(history []int64, p int64) int64 {
	half := len(history) / 2
	remainder := append([]int64(nil), history[half:]...)
	sort.Slice(remainder, func(i, j int) bool { return remainder[i] < remainder[j] })

	n := int64(len(remainder))
	if n == 0 {
		return 1
	}
	idx := n*p/100 - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= n {
		idx = n - 1
	}
	v := remainder[idx]
	if v == 0 {
		v = 1
	}
	return v
}

// Adjust is called once SampleHistory.len == capacity. It returns the next
// ControllerState plus the diagnostics values cmd/cipp prints.
func Adjust(cfg Config, history []int64, state State, bwCutoff int64) Result {
	curBW := Percentile(history, cfg.Percentile)

	var bwChange int64
	if state.LastBW != 0 {
		bwChange = 10000 * (state.LastBW - curBW) / state.LastBW
	}
	intChange := -100 * state.LastStep

	saturated := curBW >= bwCutoff
	correct := state.CorrectCount
	var curStep int64

	switch {
	case !saturated && state.LastStep == 0 && bwChange > 0:
		curStep = rangeClamp(state.Ratio*bwChange/10000, cfg.MinStep, cfg.MaxStep/2)
		correct = 0

	case !saturated && state.LastStep <= 0:
		curStep = max64(abs64(state.LastStep)/2, cfg.MinStep)
		correct = 0

	case !saturated && state.LastStep > 0:
		curStep = state.LastStep
		correct++

	case saturated && state.LastStep == 0:
		curStep = rangeClamp(state.Ratio*bwChange/10000, cfg.MinStep, cfg.MaxStep/2)
		if abs64(curStep) < 4 {
			curStep = 0
		}
		correct = 0

	case saturated && state.Ratio == 100:
		curStep = -abs64(state.LastStep) / 2
		correct = 0

	case saturated && goodStep(cfg.Variant, bwChange, intChange, curBW, state.LastBW):
		curStep = state.LastStep
		correct++
		// Attenuate when the bandwidth swing is only a small fraction of
		// the interleave change (ratio below the threshold). A zero
		// bw_change (the system is stable, spec.md §8 S2/S3) is never
		// throttled, which is why the comparison guards on bwChange != 0:
		// see DESIGN.md.
		if bwChange != 0 && intChange != 0 {
			bwIntRatio := abs64(bwChange) * 100 / abs64(intChange)
			if bwIntRatio < cfg.ThrottleThreshold {
				curStep = bwIntRatio * state.LastStep / 100
			}
		}

	default: // saturated, step was bad
		curStep = -state.LastStep / 2
		correct = 0
	}

	// Streak acceleration: three good steps in a row doubles the step and
	// resets the counter.
	if correct >= 3 {
		curStep *= 2
		correct = 0
	}

	curStep = clampMagnitude(curStep, cfg.MinStep, cfg.MaxStep)
	newRatio := clampRatio(state.Ratio + curStep)

	newLastBW := state.LastBW
	if state.LastStep != 0 || curStep != 0 {
		newLastBW = curBW
	}

	return Result{
		State: State{
			Ratio:        newRatio,
			LastBW:       newLastBW,
			LastStep:     curStep,
			CorrectCount: correct,
		},
		CurBW:     curBW,
		BWChange:  bwChange,
		IntChange: intChange,
	}
}

// goodStep evaluates the configured "good step" predicate.
func goodStep(variant GoodStepVariant, bwChange, intChange, curBW, lastBW int64) bool {
	switch variant {
	case VariantGuarded:
		if bwChange > 0 && intChange < 0 {
			return true
		}
		return abs64(bwChange) < abs64(intChange)
	case VariantBWImproved:
		return curBW > lastBW
	default:
		return abs64(bwChange) < abs64(intChange)
	}
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

// rangeClamp raises |value| to at least min and caps it at max, preserving
// sign. A zero value is treated as positive.
func rangeClamp(value, min, max int64) int64 {
	sign := int64(1)
	if value < 0 {
		sign = -1
	}
	mag := abs64(value)
	if mag < min {
		mag = min
	}
	if mag > max {
		mag = max
	}
	return sign * mag
}

// clampMagnitude is the final step clamp from spec.md §4.3: below MinStep
// collapses to 0; above MaxStep is capped, sign preserved.
func clampMagnitude(step, min, max int64) int64 {
	if step == 0 {
		return 0
	}
	mag := abs64(step)
	if mag < min {
		return 0
	}
	if mag > max {
		if step > 0 {
			return max
		}
		return -max
	}
	return step
}

func clampRatio(ratio int64) int64 {
	if ratio < 0 {
		return 0
	}
	if ratio > 100 {
		return 100
	}
	return ratio
}

// CommitWeights returns the (local, remote) byte pair to persist for a
// given ratio, applying the 255/1 special case spec.md §4.3/§8 requires
// when ratio == 100 (the backing surface treats 0 as 1, so remote must
// never be written as 0).
func CommitWeights(ratio int64) (local, remote uint8) {
	if ratio >= 100 {
		return 255, 1
	}
	return uint8(ratio), uint8(100 - ratio)
}
