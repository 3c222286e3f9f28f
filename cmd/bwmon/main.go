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

// Command bwmon is the per-node uncore bandwidth monitor: bwmon
// <sample_interval_ms> [out_file] [pid_or_cmd ...].
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/intel/cipp/pkg/bwsample"
	"github.com/intel/cipp/pkg/log"
	"github.com/intel/cipp/pkg/procwait"
	"github.com/intel/cipp/pkg/uncore"
	_ "github.com/intel/cipp/pkg/version"
)

func exit(code int, format string, a ...interface{}) {
	fmt.Fprintf(os.Stderr, "bwmon: "+format+"\n", a...)
	os.Exit(code)
}

func main() {
	flag.Parse()
	args := flag.Args()
	if len(args) < 1 {
		exit(-1, "usage: bwmon <sample_interval_ms> [out_file] [pid_or_cmd ...]")
	}

	intervalMs, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || intervalMs <= 0 {
		exit(-1, "invalid sample_interval_ms %q: %s", args[0], err)
	}
	interval := time.Duration(intervalMs) * time.Millisecond

	out := os.Stdout
	var waitFn func() error

	if len(args) >= 3 {
		f, err := os.Create(args[1])
		if err != nil {
			exit(-1, "cannot create %s: %s", args[1], err)
		}
		defer f.Close()
		out = f

		waitFn = trackedProcessWaiter(args[2:])
	}

	w := bufio.NewWriter(out)
	defer w.Flush()

	topo, err := uncore.Discover()
	if topo == nil {
		exit(-1, "uncore discovery failed: %s", err)
	}
	if err != nil {
		log.Get().Warnf("bwmon: uncore discovery skipped some IMC units: %s", err)
	}

	var nodes []bwNode
	for i, cpu := range topo.SocketCPUs {
		// i is the node index spec.md §6 prints ("Node <i>"); cpu is only
		// the representative CPU pkg/uncore pins counters to for that
		// socket and must not be used as the printed node number.
		nodes = append(nodes, bwNode{
			label: fmt.Sprintf("Node %d", i),
			read:  uncore.OpenIMCGroupForSocket(topo, cpu, false),
			write: uncore.OpenIMCGroupForSocket(topo, cpu, true),
		})
	}
	if topo.CXLEnabled {
		nodes = append(nodes, bwNode{
			label: fmt.Sprintf("Node %d", len(topo.SocketCPUs)),
			read:  uncore.OpenCXLReadGroup(topo),
			write: uncore.OpenCXLWriteGroup(topo),
		})
	}
	defer func() {
		for _, n := range nodes {
			n.read.Close()
			n.write.Close()
		}
	}()

	if waitFn != nil {
		done := make(chan struct{})
		go func() {
			if err := waitFn(); err != nil {
				log.Get().Warnf("bwmon: waiting on tracked process failed: %s", err)
			}
			close(done)
		}()
		runUntil(w, nodes, interval, done)
		return
	}

	runUntil(w, nodes, interval, nil)
}

type bwNode struct {
	label string
	read  uncore.CounterGroup
	write uncore.CounterGroup
}

func runUntil(w *bufio.Writer, nodes []bwNode, interval time.Duration, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		default:
		}

		var aggregate float64
		for _, n := range nodes {
			sample := bwsample.Take(n.read, n.write, interval)
			fmt.Fprintf(w, "%s: Read %.2f Write %.2f Total %.2f MB/s\n", n.label, sample.ReadMBps, sample.WriteMBps, sample.Sum())
			aggregate += sample.Sum()
		}
		fmt.Fprintf(w, "Aggregate BW: %.2f\n\n", aggregate)
		w.Flush()
	}
}

// trackedProcessWaiter resolves the final positional argument group into a
// wait function: a bare numeric argument is an existing pid observed via
// procwait.ForPID (pidfd readiness wait, falling back to polling for
// /proc/<pid>); anything else is launched as a command and waited on directly.
func trackedProcessWaiter(argv []string) func() error {
	if len(argv) == 1 {
		if pid, err := strconv.Atoi(argv[0]); err == nil {
			return func() error { return procwait.ForPID(pid) }
		}
	}
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return func() error { return err }
	}
	return cmd.Wait
}
