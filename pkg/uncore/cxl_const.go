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

package uncore

// Hard-wired CXL uncore event configuration for the GNR-generation
// platform (spec.md §6, "Build flag GNR"). Declared without a build tag
// because OpenCXLReadGroup/OpenCXLWriteGroup reference these identifiers
// unconditionally; only applyCXLExtensions (cxl.go / cxl_stub.go) decides
// whether a Topology actually advertises CXL support.
const (
	cxlIMCType        uint32 = 0x33
	cxlIMCReadConfig  uint64 = 0x0304
	cxlIMCWriteConfig uint64 = 0x0404
)

// cxlIMCTypes/cxlIMCConfigs are the flat (type, config) pairs OpenCXL
// exposes for a caller that just wants every CXL counter opened as a
// single undifferentiated group.
var (
	cxlIMCTypes   = []uint32{cxlIMCType, cxlIMCType}
	cxlIMCConfigs = []uint64{cxlIMCReadConfig, cxlIMCWriteConfig}
)
