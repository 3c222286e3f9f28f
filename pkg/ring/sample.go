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
	"errors"
)

// L3MissSample is the subset of a PERF_RECORD_SAMPLE payload the migrator
// needs out of a MEM_LOAD_RETIRED_L3_MISS event configured with
// PERF_SAMPLE_TID | PERF_SAMPLE_ADDR | PERF_SAMPLE_PHYS_ADDR (spec.md §4.6).
type L3MissSample struct {
	PID      uint32
	Addr     uint64
	PhysAddr uint64
}

// l3MissSampleSize is PERF_SAMPLE_TID (2×u32) + PERF_SAMPLE_ADDR (u64) +
// PERF_SAMPLE_PHYS_ADDR (u64).
const l3MissSampleSize = 4 + 4 + 8 + 8

// DecodeL3MissSample unpacks a PERF_RECORD_SAMPLE payload produced by the
// sample_type configured in OpenL3MissCounter. Field order follows the
// kernel ABI's fixed PERF_SAMPLE_* enumeration order, not request order:
// tid block, then addr, then phys_addr.
func DecodeL3MissSample(payload []byte) (L3MissSample, error) {
	if len(payload) < l3MissSampleSize {
		return L3MissSample{}, errors.New("ring: short L3-miss sample payload")
	}
	pid := binary.LittleEndian.Uint32(payload[0:4])
	addr := binary.LittleEndian.Uint64(payload[8:16])
	physAddr := binary.LittleEndian.Uint64(payload[16:24])
	return L3MissSample{PID: pid, Addr: addr, PhysAddr: physAddr}, nil
}
