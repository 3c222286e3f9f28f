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

package procwait

import (
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// TestForPIDReturnsAfterProcessExits runs ForPID against a short-lived
// child process. Which path it takes (pidfd wait or the /proc poll
// fallback) depends on kernel support and timing; either path must
// converge once the process is gone.
func TestForPIDReturnsAfterProcessExits(t *testing.T) {
	cmd := exec.Command("true")
	if err := cmd.Start(); err != nil {
		t.Skipf("cannot start child process in this sandbox: %s", err)
	}
	pid := cmd.Process.Pid

	done := make(chan error, 1)
	go func() { done <- ForPID(pid) }()

	// Reap the child ourselves so pidfd/proc polling actually observes
	// an exited process rather than a zombie race.
	_ = cmd.Wait()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("ForPID did not return after the process exited")
	}
}
