// Copyright 2024 The Authors.
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

package supervisor

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"

	"github.com/ossdataworks/reaptree/pkg/cnproc"
	"github.com/ossdataworks/reaptree/pkg/reaperr"
	"github.com/ossdataworks/reaptree/pkg/reaptree"
	"github.com/ossdataworks/reaptree/pkg/rlog"
)

// Run drives the full supervisor lifecycle for watched/trigger and
// returns the process exit code: 0 once the tree has fully drained, 1 on
// any failure before or after readiness. It never returns until the tree
// is drained or a fatal subscription error occurs; spec.md's lifecycle
// has no external cancellation channel.
func Run(watched, trigger reaptree.Pid) int {
	if err := redirectStderr(); err != nil {
		rlog.Warningf("supervisor: %v", err)
	}
	if err := os.Chdir("/"); err != nil {
		rlog.Warningf("supervisor: chdir /: %v", err)
	}
	closeInheritedFDs()

	lk, err := acquireLock(watched)
	if err != nil {
		rlog.Errorf("supervisor: %v", err)
		failReadiness()
		return 1
	}
	defer lk.Unlock()

	src, err := cnproc.NewSource()
	if err != nil {
		rlog.Errorf("supervisor: %v", err)
		failReadiness()
		return 1
	}
	if err := src.Subscribe(); err != nil {
		rlog.Errorf("supervisor: %v", err)
		src.Close()
		failReadiness()
		return 1
	}

	if err := writeReadiness(); err != nil {
		rlog.Errorf("supervisor: %v", err)
		src.Unsubscribe()
		src.Close()
		return 1
	}
	rlog.Infof("supervisor: tracking watched=%d trigger=%d", watched, trigger)

	if err := redirectStdio(); err != nil {
		// fd 0/1 are inert from here on regardless; log and keep going.
		rlog.Warningf("supervisor: %v", err)
	}

	tree := reaptree.New(watched, trigger)
	runLoop(src, tree)

	if err := src.Unsubscribe(); err != nil {
		rlog.Warningf("supervisor: unsubscribe: %v", err)
	}
	src.Close()

	if !tree.Done() {
		rlog.Warningf("supervisor: exiting with %d process(es) still live under %d", tree.LiveCount(), watched)
		return 1
	}
	return 0
}

// runLoop is the single-threaded dispatch loop in spec.md §4.C: receive
// blocks until the tree reports drained, at which point the very next
// receive is non-blocking and an empty result ends the loop. There is no
// separate drain phase to implement; toggling the blocking flag on
// tree.Done() each iteration already is the drain.
func runLoop(src *cnproc.Source, tree *reaptree.Tree) {
	for {
		ev, err := src.NextEvent(tree.Done())
		if err != nil {
			if errors.Is(err, cnproc.ErrEmpty) {
				return
			}
			// The only error NextEvent can return is KindImpossible; every
			// other failure it tolerates internally per spec.md §7.
			rlog.Errorf("supervisor: %v", err)
			return
		}
		switch ev.Kind {
		case cnproc.Fork:
			tree.OnFork(ev.ParentTgid, ev.ChildTgid)
		case cnproc.Exit:
			tree.OnExit(ev.Tgid)
		}
	}
}

func writeReadiness() error {
	if _, err := unix.Write(1, []byte{'0'}); err != nil {
		return reaperr.New(reaperr.KindPipe, "write readiness byte", err)
	}
	return nil
}

// failReadiness writes a non-zero byte so the launcher's waitReady
// observes an explicit failure rather than waiting for an EOF that a
// lingering fd duplicate could delay. The write is best-effort: if fd 1
// is already gone there is nothing further to do before exiting non-zero.
func failReadiness() {
	unix.Write(1, []byte{'1'})
}
