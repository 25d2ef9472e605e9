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

package launcher

import (
	"fmt"

	"github.com/syndtr/gocapability/capability"

	"github.com/ossdataworks/reaptree/pkg/reaperr"
)

// requiredCaps are checked in the launcher's own effective set before any
// pipe or process work: CAP_KILL because the supervisor this launcher
// starts must be able to reach reap() on arbitrary pids, CAP_NET_ADMIN
// because binding the process-connector multicast group requires it.
// Surfacing this here turns a confusing Bind or Kill failure deep inside
// the supervisor into one clear failure before anything is spawned.
var requiredCaps = []capability.Cap{capability.CAP_KILL, capability.CAP_NET_ADMIN}

func checkCapabilities() error {
	caps, err := capability.NewPid2(0)
	if err != nil {
		return reaperr.New(reaperr.KindNoUid, "load capabilities", err)
	}
	if err := caps.Load(); err != nil {
		return reaperr.New(reaperr.KindNoUid, "load capabilities", err)
	}
	for _, c := range requiredCaps {
		if !caps.Get(capability.EFFECTIVE, c) {
			return reaperr.New(reaperr.KindNoUid, "capability check",
				fmt.Errorf("missing %s in effective set", c))
		}
	}
	return nil
}
