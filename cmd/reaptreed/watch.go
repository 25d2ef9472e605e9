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

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/google/subcommands"

	"github.com/ossdataworks/reaptree/pkg/launcher"
	"github.com/ossdataworks/reaptree/pkg/rlog"
	"github.com/ossdataworks/reaptree/pkg/supervisor"
)

// watchCmd implements subcommands.Command for the "watch" command, the
// entry point a caller runs directly: it starts a supervisor tracking
// watched_pid and blocks until that supervisor reports readiness.
type watchCmd struct {
	uid int
}

func (*watchCmd) Name() string     { return "watch" }
func (*watchCmd) Synopsis() string { return "track a pid's descendants and reap them on trigger exit" }
func (*watchCmd) Usage() string {
	return `watch [-uid id] <watched_pid> <trigger_pid>:
  Start a supervisor tracking watched_pid's process tree. When either
  watched_pid or trigger_pid exits, every tracked descendant is killed.
  Blocks until the supervisor reports it has subscribed successfully.
`
}

func (w *watchCmd) SetFlags(f *flag.FlagSet) {
	f.IntVar(&w.uid, "uid", launcher.NoUID,
		"mapped user id to authorize this watch under; defaults to this process's effective uid")
}

func (w *watchCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if f.NArg() != 2 {
		f.Usage()
		return subcommands.ExitUsageError
	}

	watched, trigger, err := parsePidArgs(f.Arg(0), f.Arg(1))
	if err != nil {
		rlog.Errorf("watch: %v", err)
		return subcommands.ExitFailure
	}

	uid := w.uid
	if uid == launcher.NoUID {
		uid = os.Geteuid()
	}

	if err := launcher.Launch(watched, trigger, uid); err != nil {
		rlog.Errorf("watch: %v", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

// parsePidArgs parses and bounds-checks the two positional pid arguments
// shared by watchCmd and superviseCmd, per spec.md §6: both must be
// greater than 1 and no larger than the system's pid_max.
func parsePidArgs(watchedArg, triggerArg string) (watched, trigger uint32, err error) {
	w, err := strconv.ParseUint(watchedArg, 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid watched pid %q: %w", watchedArg, err)
	}
	t, err := strconv.ParseUint(triggerArg, 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid trigger pid %q: %w", triggerArg, err)
	}
	if err := supervisor.ValidatePid(uint32(w)); err != nil {
		return 0, 0, fmt.Errorf("watched pid: %w", err)
	}
	if err := supervisor.ValidatePid(uint32(t)); err != nil {
		return 0, 0, fmt.Errorf("trigger pid: %w", err)
	}
	return uint32(w), uint32(t), nil
}
