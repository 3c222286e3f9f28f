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

// Package bwsample wraps the uncore Counter Backend into a single scalar
// bandwidth figure per sample window.
package bwsample

import (
	"time"
)

// Group is the subset of uncore.CounterGroup the sampler needs. It is
// defined here, rather than depending on the concrete uncore type,
// purely so tests can inject a fake group without opening real hardware
// counters.
type Group interface {
	Reset()
	Enable()
	Disable()
	Read() uint64
}

// bytesPerCASEvent is the burst size a single CAS event represents: every
// column-address-strobe is a 64-byte memory transaction.
const bytesPerCASEvent = 64

// Sample is one sample window's read and write bandwidth, in MB/s
// (10^6-byte megabytes, not MiB).
type Sample struct {
	ReadMBps  float64
	WriteMBps float64
}

// Sum returns the read+write total for this sample.
func (s Sample) Sum() float64 {
	return s.ReadMBps + s.WriteMBps
}

// Take resets and enables readGroup and writeGroup, sleeps for window,
// disables both, reads them, and converts the counts to MB/s using the
// actual elapsed wall-clock microseconds — never the requested window —
// so scheduling jitter never inflates the estimate (spec.md §4.2).
func Take(readGroup, writeGroup Group, window time.Duration) Sample {
	readGroup.Reset()
	writeGroup.Reset()
	readGroup.Enable()
	writeGroup.Enable()
	t0 := time.Now()

	time.Sleep(window)

	readGroup.Disable()
	writeGroup.Disable()
	t1 := time.Now()

	rdCount := readGroup.Read()
	wrCount := writeGroup.Read()

	elapsedUs := float64(t1.Sub(t0).Microseconds())
	if elapsedUs <= 0 {
		elapsedUs = 1
	}

	return Sample{
		ReadMBps:  float64(rdCount*bytesPerCASEvent) / elapsedUs,
		WriteMBps: float64(wrCount*bytesPerCASEvent) / elapsedUs,
	}
}
