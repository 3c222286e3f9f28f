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

// Package weightsink persists the weighted-interleave ratio to the
// kernel's control surface. It is deliberately tiny and write-only so it
// can be swapped for a mock in tests — see spec.md §4.4.
package weightsink

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/intel/cipp/pkg/log"
)

// Sink persists a local/remote weight pair. No read-back, no other side
// effects.
type Sink interface {
	SetWeights(local, remote uint8) error
}

// weightedInterleaveRoot is the kernel's control directory for the
// weighted-interleave NUMA policy, one file per node.
const weightedInterleaveRoot = "/sys/kernel/mm/mempolicy/weighted_interleave"

// KernelSink writes to the real control files under weightedInterleaveRoot.
type KernelSink struct {
	LocalNode  int
	RemoteNode int
	root       string
}

// NewKernelSink returns a Sink bound to the given local/remote NUMA node
// ids under the default control root.
func NewKernelSink(localNode, remoteNode int) *KernelSink {
	return &KernelSink{LocalNode: localNode, RemoteNode: remoteNode, root: weightedInterleaveRoot}
}

// SetWeights writes local to the local node's control file and remote to
// the remote node's. A write failure is logged and the previous on-disk
// weight is left in place (spec.md §7: "write to kernel control surface
// fails" is non-fatal).
func (k *KernelSink) SetWeights(local, remote uint8) error {
	if err := writeNodeWeight(k.root, k.LocalNode, local); err != nil {
		log.Get().Warnf("weightsink: writing local node %d weight %d failed: %s", k.LocalNode, local, err)
		return err
	}
	if err := writeNodeWeight(k.root, k.RemoteNode, remote); err != nil {
		log.Get().Warnf("weightsink: writing remote node %d weight %d failed: %s", k.RemoteNode, remote, err)
		return err
	}
	return nil
}

func writeNodeWeight(root string, node int, weight uint8) error {
	path := filepath.Join(root, fmt.Sprintf("node%d", node))
	if err := os.WriteFile(path, []byte(fmt.Sprintf("%d", weight)), 0644); err != nil {
		return errors.Wrapf(err, "write %s", path)
	}
	return nil
}
