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

// Package reaptree maintains the live parent/child graph rooted at a
// watched pid and reaps it on trigger.
//
// This is a from-scratch reimplementation of the ProcessTree class in
// proc_keeper.cxx, consolidating the watched/trigger exit handling the
// original source implemented inconsistently across variants (see
// SPEC_FULL.md §5 and §10).
package reaptree

import (
	"github.com/google/btree"

	"github.com/ossdataworks/reaptree/pkg/rlog"
)

// Pid is the unsigned kernel task identifier used throughout this package.
type Pid = uint32

// InitPid is the sentinel pid of init, the re-parenting destination. It is
// never a reap target and never counted as live.
const InitPid Pid = 1

const btreeDegree = 32

// parentEntry is a btree.Item mapping a child pid to its current parent.
// Lookups construct a parentEntry with only Child set; Less only compares
// Child, so the zero-value Parent in a lookup key never matters.
type parentEntry struct {
	Child  Pid
	Parent Pid
}

func (e parentEntry) Less(than btree.Item) bool {
	return e.Child < than.(parentEntry).Child
}

// pidItem is a btree.Item wrapping a bare pid, used for the ignored set.
type pidItem Pid

func (p pidItem) Less(than btree.Item) bool {
	return p < than.(pidItem)
}

// Killer abstracts signal delivery so tests can observe reap() without
// sending real signals, the way runsccmd.ProcessMonitor abstracts process
// start/wait so callers can substitute a logging or fake implementation.
type Killer interface {
	Kill(pid Pid) error
}

// Tree is the process-local, single-threaded tree state described in
// spec.md §3. The zero value is not usable; construct with New.
type Tree struct {
	watched Pid
	trigger Pid

	childrenOf map[Pid][]Pid
	parentOf   *btree.BTree // of parentEntry
	ignored    *btree.BTree // of pidItem

	liveCount uint64
	shooting  bool

	killer Killer

	watchedExitHandled bool
}

// Option configures a Tree at construction time.
type Option func(*Tree)

// WithKiller overrides the default SIGKILL-via-unix.Kill killer. Intended
// for tests.
func WithKiller(k Killer) Option {
	return func(t *Tree) { t.killer = k }
}

// New initializes tree state for watched pid, whose exit (along with
// trigger's) initiates reaping. live_count starts at 1: the watched
// process itself.
func New(watched, trigger Pid, opts ...Option) *Tree {
	t := &Tree{
		watched:    watched,
		trigger:    trigger,
		childrenOf: make(map[Pid][]Pid),
		parentOf:   btree.New(btreeDegree),
		ignored:    btree.New(btreeDegree),
		liveCount:  1,
		killer:     sigkillKiller{},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Watched returns the pid whose descendants this tree tracks.
func (t *Tree) Watched() Pid { return t.watched }

// LiveCount returns the number of live in-tree processes, including the
// watched process itself until its exit has been processed.
func (t *Tree) LiveCount() uint64 { return t.liveCount }

// Shooting reports whether the reap latch has fired.
func (t *Tree) Shooting() bool { return t.shooting }

// Done reports whether the tree is fully drained (invariant 3).
func (t *Tree) Done() bool { return t.liveCount == 0 }

func (t *Tree) isIgnored(pid Pid) bool {
	return t.ignored.Get(pidItem(pid)) != nil
}

func (t *Tree) parentOfPid(pid Pid) (Pid, bool) {
	item := t.parentOf.Get(parentEntry{Child: pid})
	if item == nil {
		return 0, false
	}
	return item.(parentEntry).Parent, true
}

// OnFork classifies and records a Fork(parent, child) event per the F1–F5
// table in spec.md §4.B.
func (t *Tree) OnFork(parent, child Pid) {
	switch {
	case t.isIgnored(parent): // F1
		return
	case parent != InitPid && t.isKnownParent(parent): // F2
		t.appendChild(parent, child)
		t.afterForkIfShooting()
	case t.inTreeAsChild(parent): // F3
		t.recordFreshParent(parent, child)
		t.afterForkIfShooting()
	case parent == t.watched: // F4
		t.recordFreshParent(parent, child)
		t.afterForkIfShooting()
	default: // F5
		t.ignored.ReplaceOrInsert(pidItem(parent))
		t.ignored.ReplaceOrInsert(pidItem(child))
	}
}

func (t *Tree) isKnownParent(pid Pid) bool {
	_, ok := t.childrenOf[pid]
	return ok
}

func (t *Tree) inTreeAsChild(pid Pid) bool {
	_, ok := t.parentOfPid(pid)
	return ok
}

func (t *Tree) appendChild(parent, child Pid) {
	rlog.Debugf("reaptree: fork %d -> %d (existing parent)", parent, child)
	t.childrenOf[parent] = append(t.childrenOf[parent], child)
	t.parentOf.ReplaceOrInsert(parentEntry{Child: child, Parent: parent})
	t.liveCount++
}

// recordFreshParent starts a new children_of entry for parent, the
// record_new() case in the original ProcessTree.
func (t *Tree) recordFreshParent(parent, child Pid) {
	rlog.Debugf("reaptree: fork %d -> %d (fresh parent)", parent, child)
	t.childrenOf[parent] = []Pid{child}
	t.parentOf.ReplaceOrInsert(parentEntry{Child: child, Parent: parent})
	t.liveCount++
}

func (t *Tree) afterForkIfShooting() {
	if t.shooting {
		t.Reap()
	}
}

// OnExit processes Exit(pid) per the six-step procedure in spec.md §4.B,
// with the watched/trigger paths consolidated into a single latched reap
// and a single live_count decrement (spec.md §9, §10 item 1 and 3).
func (t *Tree) OnExit(pid Pid) {
	isTrigger := pid == t.trigger
	isWatched := pid == t.watched

	if (isTrigger || isWatched) && !t.shooting {
		t.Reap()
	}
	if isWatched && !t.watchedExitHandled {
		t.watchedExitHandled = true
		t.liveCount--
		rlog.Debugf("reaptree: exit %d (watched)", pid)
	}
	if isTrigger && !isWatched {
		// trigger may be outside the tree; do not decrement for it.
		rlog.Debugf("reaptree: exit %d (trigger)", pid)
	}

	if t.isIgnored(pid) {
		t.ignored.Delete(pidItem(pid))
		return
	}

	_, wasParent := t.childrenOf[pid]
	if wasParent {
		for _, child := range t.childrenOf[pid] {
			if parent, ok := t.parentOfPid(child); ok && parent == pid {
				t.parentOf.ReplaceOrInsert(parentEntry{Child: child, Parent: InitPid})
				rlog.Debugf("reaptree: re-parent %d to init", child)
			}
		}
		delete(t.childrenOf, pid)
	}

	parent, hasParent := t.parentOfPid(pid)
	if !hasParent {
		if wasParent && pid != t.watched {
			t.liveCount--
		}
		return
	}

	if siblings, ok := t.childrenOf[parent]; ok {
		t.childrenOf[parent] = removePid(siblings, pid)
	}
	t.parentOf.Delete(parentEntry{Child: pid})
	if pid != t.watched {
		t.liveCount--
	}
}

func removePid(pids []Pid, target Pid) []Pid {
	out := pids[:0]
	for _, p := range pids {
		if p != target {
			out = append(out, p)
		}
	}
	return out
}

// Reap sends SIGKILL to every pid in parent_of (every known descendant),
// excluding init, tolerating "no such process", and latches shooting.
// Iteration order is the btree's pid order, so reap counts and logs are
// deterministic across runs (unlike Go map iteration).
func (t *Tree) Reap() int {
	t.shooting = true
	count := 0
	t.parentOf.Ascend(func(i btree.Item) bool {
		child := i.(parentEntry).Child
		if child == InitPid {
			return true
		}
		if err := t.killer.Kill(child); err != nil {
			rlog.Warningf("reaptree: failed to kill %d: %v", child, err)
		}
		count++
		return true
	})
	if count > 0 {
		rlog.Infof("reaptree: reaped %d process(es) rooted at %d", count, t.watched)
	}
	return count
}
