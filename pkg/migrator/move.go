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
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// mpolMFMove is MPOL_MF_MOVE: only move pages exclusively owned by the
// target process, the same flag pkg/memtier's mover carries.
const mpolMFMove = 1 << 1

// Mover issues a batch page-move. It is an interface purely so tests can
// substitute a recorder instead of invoking move_pages(2) for real.
type Mover interface {
	MovePages(pid int, addrs []uintptr, nodes []int) error
}

// KernelMover calls move_pages(2) directly.
type KernelMover struct{}

// MovePages moves every addrs[i] to nodes[i] in pid's address space, with
// MPOL_MF_MOVE set so only pages pid exclusively owns are relocated
// (spec.md §4.6). Per-page status is intentionally discarded: a partial
// failure just means those pages stay where they are and get re-tried on
// the next cadence, which is harmless since placement is self-correcting.
func (KernelMover) MovePages(pid int, addrs []uintptr, nodes []int) error {
	count := len(addrs)
	if count == 0 {
		return nil
	}
	if len(nodes) != count {
		return errors.New("migrator: addrs/nodes length mismatch")
	}

	cNodes := make([]int32, count)
	for i, n := range nodes {
		cNodes[i] = int32(n)
	}
	status := make([]int32, count)

	_, _, errno := unix.Syscall6(
		unix.SYS_MOVE_PAGES,
		uintptr(pid),
		uintptr(count),
		uintptr(unsafe.Pointer(&addrs[0])),
		uintptr(unsafe.Pointer(&cNodes[0])),
		uintptr(unsafe.Pointer(&status[0])),
		uintptr(mpolMFMove),
	)
	if errno != 0 {
		return errors.Wrap(unix.Errno(errno), "move_pages")
	}
	return nil
}
