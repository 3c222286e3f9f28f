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
	"encoding/binary"
	"os"

	"github.com/pkg/errors"
)

// Page flag bits from /proc/kpageflags (linux/kernel-page-flags.h),
// named the same way pkg/memtier/consts.go names pagemap bits.
const (
	kpfAnon uint64 = 1 << 12
	kpfTHP  uint64 = 1 << 22
)

const kpageflagsEntrySize = 8

// PageFlagsReader looks up the kernel's per-PFN flag word. Abstracted so
// tests can substitute a fake table instead of /proc/kpageflags.
type PageFlagsReader interface {
	Flags(pfn uint64) (uint64, error)
}

// KernelPageFlags reads /proc/kpageflags directly, keeping the file open
// across calls since the migrator consults it once per sample.
type KernelPageFlags struct {
	f *os.File
}

// OpenKernelPageFlags opens /proc/kpageflags for random-access reads.
func OpenKernelPageFlags() (*KernelPageFlags, error) {
	f, err := os.Open("/proc/kpageflags")
	if err != nil {
		return nil, errors.Wrap(err, "open /proc/kpageflags")
	}
	return &KernelPageFlags{f: f}, nil
}

// Flags reads the one 8-byte little-endian flag word for pfn, at offset
// pfn*8 (spec.md §4.6 step 2).
func (k *KernelPageFlags) Flags(pfn uint64) (uint64, error) {
	var buf [kpageflagsEntrySize]byte
	if _, err := k.f.ReadAt(buf[:], int64(pfn*kpageflagsEntrySize)); err != nil {
		return 0, errors.Wrapf(err, "read kpageflags for pfn %#x", pfn)
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

// Close releases the underlying file handle.
func (k *KernelPageFlags) Close() error {
	return k.f.Close()
}

// isAnonymous reports whether the flags word marks the page anonymous.
func isAnonymous(flags uint64) bool {
	return flags&kpfAnon != 0
}

// isTransparentHuge reports whether the flags word marks the page as a
// transparent huge page.
func isTransparentHuge(flags uint64) bool {
	return flags&kpfTHP != 0
}
