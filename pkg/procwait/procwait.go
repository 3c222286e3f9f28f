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

// Package procwait waits for an already-running process to exit. It is
// cmd/bwmon's exit trigger when handed a bare pid rather than a command
// line to launch: spec.md §6 calls this "a process-descriptor readiness
// wait if available, otherwise a child-reap poll." Grounded on
// pkg/memtier/madvise_linux.go's SYS_PIDFD_OPEN wrapper.
package procwait

import (
	"os"
	"strconv"
	"time"

	"golang.org/x/sys/unix"
)

// pollInterval is the fallback poll cadence when pidfd_open isn't
// available (pre-5.3 kernels).
const pollInterval = 100 * time.Millisecond

// pidfdOpen wraps SYS_PIDFD_OPEN, the same way
// pkg/memtier/madvise_linux.go's PidfdOpenSyscall does.
func pidfdOpen(pid int, flags uint) (int, error) {
	ret, _, errno := unix.Syscall(unix.SYS_PIDFD_OPEN, uintptr(pid), uintptr(flags), 0)
	if errno != 0 {
		return -1, errno
	}
	return int(ret), nil
}

// ForPID blocks until pid no longer exists. It prefers pidfd_open+poll
// (a single readiness wait, no spin loop) and falls back to polling
// /proc/<pid>'s existence when the kernel doesn't support pidfd_open.
func ForPID(pid int) error {
	fd, err := pidfdOpen(pid, 0)
	if err == nil {
		defer unix.Close(fd)
		return waitPidfdReady(fd)
	}

	for {
		if _, statErr := os.Stat("/proc/" + strconv.Itoa(pid)); os.IsNotExist(statErr) {
			return nil
		}
		time.Sleep(pollInterval)
	}
}

func waitPidfdReady(fd int) error {
	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	for {
		n, err := unix.Poll(fds, -1)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return err
		}
		if n > 0 {
			return nil
		}
	}
}

