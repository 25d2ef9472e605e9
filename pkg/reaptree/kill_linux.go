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

//go:build linux

package reaptree

import (
	"errors"

	"golang.org/x/sys/unix"

	"github.com/ossdataworks/reaptree/pkg/reaperr"
)

// sigkillKiller is the default Killer: unconditional SIGKILL, tolerating
// ESRCH (no such process), mirroring proc_police.c's shoot_tree():
//
//	if ((kill(*it2, SIGKILL) == -1) && (errno != ESRCH)) { ... }
type sigkillKiller struct{}

func (sigkillKiller) Kill(pid Pid) error {
	err := unix.Kill(int(pid), unix.SIGKILL)
	if err == nil || errors.Is(err, unix.ESRCH) {
		return nil
	}
	return reaperr.New(reaperr.KindKill, "kill", err)
}
