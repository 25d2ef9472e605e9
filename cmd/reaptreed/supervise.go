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

	"github.com/google/subcommands"

	"github.com/ossdataworks/reaptree/pkg/rlog"
	"github.com/ossdataworks/reaptree/pkg/supervisor"
)

// superviseCmd implements subcommands.Command for the "supervise"
// command. watchCmd re-execs into this after SysProcAttr.Setsid has
// already placed the process in its own session; this command runs the
// rest of spec.md §4.C directly in the current process rather than
// forking again.
type superviseCmd struct{}

func (*superviseCmd) Name() string { return "supervise" }
func (*superviseCmd) Synopsis() string {
	return "internal: run the supervisor loop; reached only via watch's re-exec"
}
func (*superviseCmd) Usage() string {
	return `supervise <watched_pid> <trigger_pid>:
  Not a user-facing command. watch starts this with fd 0 and fd 1 already
  connected to its own readiness pipe.
`
}

func (*superviseCmd) SetFlags(*flag.FlagSet) {}

func (*superviseCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if f.NArg() != 2 {
		f.Usage()
		return subcommands.ExitUsageError
	}

	watched, trigger, err := parsePidArgs(f.Arg(0), f.Arg(1))
	if err != nil {
		rlog.Errorf("supervise: %v", err)
		return subcommands.ExitFailure
	}

	return subcommands.ExitStatus(supervisor.Run(watched, trigger))
}
