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

// Command reaptreed is the standalone binary for the process-tree reaper:
// watch a pid and its descendants, reaping the whole tree once a trigger
// pid exits.
package main

import (
	"context"
	"flag"
	"os"

	"github.com/google/subcommands"
)

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")

	subcommands.Register(new(watchCmd), "")

	// supervise is not a user-facing entry point: watchCmd re-execs this
	// same binary with "supervise" as argv[1] after starting a new
	// session, the way runsc/cli registers Boot/Gofer/Umount under its own
	// "internal use only" group for commands meant to be reached only via
	// another command's re-exec, not typed at a terminal.
	const internalGroup = "internal use only"
	subcommands.Register(new(superviseCmd), internalGroup)

	flag.Parse()
	ctx := context.Background()
	os.Exit(int(subcommands.Execute(ctx)))
}
