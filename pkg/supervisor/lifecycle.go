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

// Package supervisor runs the tracked-tree lifecycle described in
// spec.md §4.C inside the process the launcher starts: close stderr,
// open and filter the connector socket, report readiness to fd 1, drive
// the tracker loop until the watched tree is drained, then exit.
//
// The launcher already gave this process its own session (SysProcAttr.
// Setsid), which is the detach do_daemonize() in
// lcmaps_proc_tracking.c gets from its own internal fork+setsid; there is
// no second fork to perform here.
package supervisor

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gofrs/flock"
	"golang.org/x/sys/unix"

	"github.com/ossdataworks/reaptree/pkg/reaperr"
)

// lockDir holds one flock file per watched pid, so two supervisors can
// never race to track the same tree, a guarantee the original single-use,
// invoked-once-per-session C tool never needed.
const lockDir = "/run/reaptree"

func acquireLock(watched uint32) (*flock.Flock, error) {
	if err := os.MkdirAll(lockDir, 0o755); err != nil {
		return nil, reaperr.New(reaperr.KindFork, "create lock directory", err)
	}
	path := filepath.Join(lockDir, fmt.Sprintf("%d.lock", watched))
	lk := flock.New(path)
	ok, err := lk.TryLock()
	if err != nil {
		return nil, reaperr.New(reaperr.KindFork, "acquire lock", err)
	}
	if !ok {
		return nil, reaperr.New(reaperr.KindFork, "acquire lock",
			fmt.Errorf("pid %d is already being tracked by another supervisor", watched))
	}
	return lk, nil
}

// closeInheritedFDs closes every file descriptor above fd 2 this process
// might hold, the same /proc/self/fd enumeration proc_keeper_main.cxx
// performs before opening the connector socket: "0 and 1 are closed in
// proc_police_main; 2 is closed in lcmaps_proc_tracking.c's
// do_daemonize()" — fd 2 is skipped here because redirectStderr already
// pointed it at /dev/null, and sweeping it out from under that redirect
// would hand fd 2 to the next thing this process opens (the lock file,
// then the connector socket) instead of leaving it at /dev/null. Go's os
// package already marks most of its own descriptors close-on-exec, so in
// practice this mainly guards against fds the launcher's exec.Cmd had to
// leave un-cloexec to pass down (here, none beyond fd 0/1/2) and against
// whatever the hosting process had open before re-exec.
func closeInheritedFDs() {
	entries, err := os.ReadDir("/proc/self/fd")
	if err != nil {
		return
	}
	for _, e := range entries {
		fd, err := strconv.Atoi(e.Name())
		if err != nil || fd <= 2 {
			continue
		}
		unix.Close(fd)
	}
}

// redirectStderr closes fd 2 and reopens it onto /dev/null, per spec.md
// §4.C's "close stderr, reopen to null" step.
func redirectStderr() error {
	devnull, err := unix.Open("/dev/null", unix.O_WRONLY, 0)
	if err != nil {
		return reaperr.New(reaperr.KindFork, "open /dev/null", err)
	}
	defer unix.Close(devnull)
	if err := unix.Dup2(devnull, 2); err != nil {
		return reaperr.New(reaperr.KindFork, "redirect stderr", err)
	}
	return nil
}

// redirectStdio closes fds 0 and 1 and reopens them onto /dev/null, per
// spec.md §4.C's "close fds 0 and 1, reopen to null" step, which runs
// immediately after the readiness byte has been written.
func redirectStdio() error {
	devnull, err := unix.Open("/dev/null", unix.O_RDWR, 0)
	if err != nil {
		return reaperr.New(reaperr.KindFork, "open /dev/null", err)
	}
	defer unix.Close(devnull)
	if err := unix.Dup2(devnull, 0); err != nil {
		return reaperr.New(reaperr.KindFork, "redirect fd 0", err)
	}
	if err := unix.Dup2(devnull, 1); err != nil {
		return reaperr.New(reaperr.KindFork, "redirect fd 1", err)
	}
	return nil
}

// ValidatePid checks pid against the bounds spec.md §6 requires of the
// standalone binary's positional arguments: greater than 1, and no larger
// than the system's configured pid_max (get_max_pid in the original).
func ValidatePid(pid uint32) error {
	if pid <= 1 {
		return fmt.Errorf("pid %d must be greater than 1", pid)
	}
	max, err := readPidMax()
	if err != nil {
		return err
	}
	if uint64(pid) > max {
		return fmt.Errorf("pid %d exceeds system pid_max %d", pid, max)
	}
	return nil
}

func readPidMax() (uint64, error) {
	data, err := os.ReadFile("/proc/sys/kernel/pid_max")
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
}
