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

// Package uncore discovers the host's uncore integrated-memory-controller
// (IMC) performance counters and opens/controls raw hardware counters for
// them. It is the Counter Backend of the bandwidth controller: everything
// above this package works with CounterHandles and CounterGroups, never
// with perf_event_open or sysfs paths directly.
package uncore
