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

import "testing"

func TestValidatePidRejectsOutOfRange(t *testing.T) {
	for _, pid := range []uint32{0, 1} {
		if err := ValidatePid(pid); err == nil {
			t.Fatalf("ValidatePid(%d): want error, got nil", pid)
		}
	}
}

func TestValidatePidAcceptsOrdinaryPid(t *testing.T) {
	// 2 is always <= pid_max on any Linux system; this only exercises the
	// comparison, not the specific bound.
	if err := ValidatePid(2); err != nil {
		t.Fatalf("ValidatePid(2): %v", err)
	}
}

func TestValidatePidRejectsAbovePidMax(t *testing.T) {
	max, err := readPidMax()
	if err != nil {
		t.Skipf("cannot read /proc/sys/kernel/pid_max: %v", err)
	}
	if err := ValidatePid(uint32(max) + 1); err == nil {
		t.Fatalf("ValidatePid(pid_max+1): want error, got nil")
	}
}
