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

//go:build gnr

package uncore

// applyCXLExtensions enables the GNR-generation CXL.mem counters
// (spec.md §6 "Build flag GNR"). The event configuration itself lives in
// cxl_const.go, unguarded by the build tag, since OpenCXLReadGroup/
// OpenCXLWriteGroup must compile (and simply return nil) even when CXL
// support isn't compiled in.
func applyCXLExtensions(topo *Topology) {
	topo.CXLEnabled = true
	topo.CXLTypes = append([]uint32{}, cxlIMCTypes...)
	topo.CXLConfigs = append([]uint64{}, cxlIMCConfigs...)
	// Deliberately NOT folded into topo.Units/SocketCPUs: the CXL PMU is
	// pinned to CPU 0 as a scheduling convenience (spec.md §4.1), not
	// because it belongs to the socket CPU 0 represents, so grouping it
	// by CPU the way IMC units are would wrongly merge it into that
	// socket's per-node bandwidth. It gets its own node row (the "CXL
	// node" spec.md §6 describes) via OpenCXLReadGroup/OpenCXLWriteGroup.
}
