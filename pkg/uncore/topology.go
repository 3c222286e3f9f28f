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

import (
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	multierror "github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/intel/cipp/pkg/log"
)

// devicePrefix is the stable sysfs location uncore IMC PMUs register
// themselves under. A var, not a const, so tests can point discovery at a
// fake device tree.
var devicePrefix = "/sys/bus/event_source/devices"

// maxIMCUnits bounds the discovery probe: spec.md mandates probing up to
// 12 IMC indices, which comfortably covers every shipping multi-socket
// platform's per-channel IMC PMU count.
const maxIMCUnits = 12

// imcUnitName is the sysfs device name template for IMC unit i.
const imcUnitName = "uncore_imc_%d"

// IMCUnit describes one discovered integrated-memory-controller PMU.
type IMCUnit struct {
	Index       int
	Type        uint32
	ReadConfig  uint64
	WriteConfig uint64
	// SubChannelReadConfig/WriteConfig are set when the platform exposes
	// SCH0/SCH1 sub-channels; the second config is always first+1.
	SubChannelReadConfig  uint64
	SubChannelWriteConfig uint64
	HasSubChannel         bool
	// CPU is this unit's own representative cpu, taken from its
	// cpumask file. Units sharing a CPU belong to the same socket/node.
	CPU int
}

// Topology is the immutable result of a discovery pass: the IMC units
// found, the representative CPU per socket, and whether CXL extensions
// were compiled in.
type Topology struct {
	Units       []IMCUnit
	SocketCPUs  []int
	CXLEnabled  bool
	CXLTypes    []uint32
	CXLConfigs  []uint64
}

// Discover probes devicePrefix for up to maxIMCUnits IMC PMUs, resolving
// each one's type and CAS event configs, and the representative CPUs for
// sockets from the cpumask file of whichever IMC is found first. A
// missing file for one IMC index is a discovery warning: that index is
// skipped and discovery continues, accumulated in a multierror so every
// skip is visible at once.
func Discover() (*Topology, error) {
	var warnings *multierror.Error
	topo := &Topology{}

	for i := 0; i < maxIMCUnits; i++ {
		dir := filepath.Join(devicePrefix, fmt.Sprintf(imcUnitName, i))
		if _, err := os.Stat(dir); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			warnings = multierror.Append(warnings, errors.Wrapf(err, "imc %d: stat failed", i))
			continue
		}

		typ, err := readDecimalFile(filepath.Join(dir, "type"))
		if err != nil {
			log.Get().Warnf("uncore: imc %d has no type file, skipping: %s", i, err)
			warnings = multierror.Append(warnings, err)
			continue
		}

		rdConfig, err := readEventConfig(filepath.Join(dir, "events", "cas_count_read"))
		if err != nil {
			log.Get().Warnf("uncore: imc %d cas_count_read unreadable, skipping: %s", i, err)
			warnings = multierror.Append(warnings, err)
			continue
		}

		wrConfig, err := readEventConfig(filepath.Join(dir, "events", "cas_count_write"))
		if err != nil {
			log.Get().Warnf("uncore: imc %d cas_count_write unreadable, skipping: %s", i, err)
			warnings = multierror.Append(warnings, err)
			continue
		}

		unit := IMCUnit{
			Index:       i,
			Type:        uint32(typ),
			ReadConfig:  rdConfig,
			WriteConfig: wrConfig,
		}
		if hasSubChannel(dir) {
			unit.HasSubChannel = true
			unit.SubChannelReadConfig = rdConfig + 1
			unit.SubChannelWriteConfig = wrConfig + 1
		}

		cpus, err := readCPUMask(filepath.Join(dir, "cpumask"))
		if err != nil {
			log.Get().Warnf("uncore: imc %d cpumask unreadable, skipping: %s", i, err)
			warnings = multierror.Append(warnings, err)
			continue
		}
		unit.CPU = cpus[0]
		topo.Units = append(topo.Units, unit)

		if !containsInt(topo.SocketCPUs, unit.CPU) {
			topo.SocketCPUs = append(topo.SocketCPUs, unit.CPU)
		}
	}

	if len(topo.Units) == 0 {
		return nil, errors.Errorf("uncore: no IMC PMUs discovered under %s (warnings: %v)", devicePrefix, warnings)
	}
	sort.Ints(topo.SocketCPUs)

	applyCXLExtensions(topo)

	return topo, warnings.ErrorOrNil()
}

func containsInt(s []int, v int) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

// UnitsForSocket returns every discovered IMC unit whose representative
// cpu is cpu — i.e. every memory channel belonging to that socket/node.
func (t *Topology) UnitsForSocket(cpu int) []IMCUnit {
	var units []IMCUnit
	for _, u := range t.Units {
		if u.CPU == cpu {
			units = append(units, u)
		}
	}
	return units
}

// hasSubChannel reports whether the IMC device directory exposes SCH0/SCH1
// sub-channel event files in addition to the base events.
func hasSubChannel(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, "events", "cas_count_read_sch0"))
	return err == nil
}

func readDecimalFile(path string) (uint64, error) {
	b, err := ioutil.ReadFile(path)
	if err != nil {
		return 0, err
	}
	s := strings.TrimSpace(string(b))
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, errors.Wrapf(err, "%s: invalid decimal value %q", path, s)
	}
	return v, nil
}

// readEventConfig parses a file of the form "event=0x04,umask=0x03" into
// the packed counter config (umask<<8)|event that perf_event_open expects.
func readEventConfig(path string) (uint64, error) {
	b, err := ioutil.ReadFile(path)
	if err != nil {
		return 0, err
	}
	line := strings.TrimSpace(string(b))
	var event, umask uint64
	for _, field := range strings.Split(line, ",") {
		kv := strings.SplitN(field, "=", 2)
		if len(kv) != 2 {
			continue
		}
		key := strings.TrimSpace(kv[0])
		val := strings.TrimSpace(kv[1])
		val = strings.TrimPrefix(val, "0x")
		n, err := strconv.ParseUint(val, 16, 16)
		if err != nil {
			return 0, errors.Wrapf(err, "%s: invalid hex value in %q", path, field)
		}
		switch key {
		case "event":
			event = n
		case "umask":
			umask = n
		}
	}
	return (umask << 8) | event, nil
}

// readCPUMask parses a comma-separated list of decimal CPU ids.
//
// Per spec.md §9 ("Hyphen-delimited CPU mask ranges"), hyphen ranges like
// "0-3" are NOT expanded here: parity with the documented baseline is
// preserved and only the first token before any hyphen is taken as a CPU
// id. Expanding ranges is an explicit Open Question left for a future,
// deliberate change (see DESIGN.md).
func readCPUMask(path string) ([]int, error) {
	b, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}
	line := strings.TrimSpace(string(b))
	if line == "" {
		return nil, errors.Errorf("%s: empty cpumask", path)
	}
	var cpus []int
	for _, tok := range strings.Split(line, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		// hyphen is treated as a single delimiter: "0-3" yields CPU 0 only.
		if idx := strings.IndexByte(tok, '-'); idx >= 0 {
			tok = tok[:idx]
		}
		cpu, err := strconv.Atoi(tok)
		if err != nil {
			return nil, errors.Wrapf(err, "%s: invalid cpu id %q", path, tok)
		}
		cpus = append(cpus, cpu)
	}
	return cpus, nil
}
