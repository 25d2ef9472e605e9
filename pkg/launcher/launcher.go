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

// Package launcher is the host-side half of the supervisor handshake: it
// starts a supervisor process tracking watched/trigger and blocks until
// that supervisor reports readiness or fails.
//
// A literal fork(2) here would be unsafe: by the time a host program calls
// Launch, the Go runtime already has multiple OS threads running, and only
// async-signal-safe code may run in a fork child before it execs. This
// package gets the same detach guarantee os/exec's way: Command plus
// SysProcAttr.Setsid starts the supervisor in a new session directly,
// which is what lcmaps_proc_tracking.c's fork-then-setsid achieves across
// two calls.
package launcher

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/ossdataworks/reaptree/pkg/reaperr"
	"github.com/ossdataworks/reaptree/pkg/reaptree"
	"github.com/ossdataworks/reaptree/pkg/rlog"
)

// NoUID is the sentinel mapped user id meaning "unset", per spec.md §4.D
// step 1.
const NoUID = -1

// superviseArg is the argv[1] the relaunched process recognizes; cmd's
// main dispatches on it the same way runsc/cli dispatches on a
// subcommands.Command name.
const superviseArg = "supervise"

// Launch starts a supervisor tracking watched, with trigger as the pid
// whose exit (alongside watched's) initiates reaping, and blocks until the
// supervisor reports readiness. mappedUID is the caller's authorization
// context's mapped user id; NoUID fails fast with reaperr.KindNoUid before
// any pipe or process work, per spec.md §4.D step 1.
func Launch(watched, trigger reaptree.Pid, mappedUID int) error {
	if mappedUID == NoUID {
		return reaperr.New(reaperr.KindNoUid, "launch", fmt.Errorf("no mapped user id supplied"))
	}
	if err := checkCapabilities(); err != nil {
		return err
	}

	p2cRead, p2cWrite, err := os.Pipe()
	if err != nil {
		return reaperr.New(reaperr.KindPipe, "open p2c pipe", err)
	}
	c2pRead, c2pWrite, err := os.Pipe()
	if err != nil {
		p2cRead.Close()
		p2cWrite.Close()
		return reaperr.New(reaperr.KindPipe, "open c2p pipe", err)
	}

	exe, err := os.Executable()
	if err != nil {
		p2cRead.Close()
		p2cWrite.Close()
		c2pRead.Close()
		c2pWrite.Close()
		return reaperr.New(reaperr.KindFork, "resolve own executable", err)
	}

	cmd := exec.Command(exe, superviseArg, strconv.FormatUint(uint64(watched), 10), strconv.FormatUint(uint64(trigger), 10))
	// fd 0 and fd 1 in the child are exactly the dup targets spec.md §4.D
	// step 4 names; os/exec performs the dup, so there is no separate
	// dup2-then-close-originals step to write by hand.
	cmd.Stdin = p2cRead
	cmd.Stdout = c2pWrite
	cmd.SysProcAttr = &unix.SysProcAttr{
		Setsid: true,
		Credential: &syscall.Credential{
			Uid: 0,
			Gid: 0,
		},
	}

	rlog.Infof("launcher: starting supervisor for watched=%d trigger=%d", watched, trigger)
	if err := cmd.Start(); err != nil {
		p2cRead.Close()
		p2cWrite.Close()
		c2pRead.Close()
		c2pWrite.Close()
		return reaperr.New(reaperr.KindFork, "start supervisor", err)
	}

	// The supervisor process now holds its own duplicated copies of
	// p2cRead and c2pWrite; these references of ours serve no further
	// purpose and, left open, would mask the supervisor's own exit as a
	// hang rather than an EOF on c2pRead below.
	p2cRead.Close()
	p2cWrite.Close()
	c2pWrite.Close()
	defer c2pRead.Close()

	if err := waitReady(c2pRead); err != nil {
		return err
	}
	rlog.Infof("launcher: supervisor for watched=%d reported readiness", watched)
	return nil
}

// waitReady reads until exactly one byte arrives on r, per spec.md §4.D
// step 5. '0' is success; anything else, or EOF before a byte arrives, is
// failure.
func waitReady(r io.Reader) error {
	var b [1]byte
	n, err := io.ReadFull(r, b[:])
	if n == 1 && b[0] == '0' {
		return nil
	}
	if err == nil {
		err = fmt.Errorf("supervisor reported failure byte %q", b[0])
	}
	return reaperr.New(reaperr.KindPipe, "read readiness byte", err)
}
