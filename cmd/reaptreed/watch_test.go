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

import "testing"

func TestParsePidArgsRejectsNonNumeric(t *testing.T) {
	if _, _, err := parsePidArgs("not-a-pid", "123"); err == nil {
		t.Fatalf("want error for non-numeric watched pid")
	}
}

func TestParsePidArgsRejectsOutOfRange(t *testing.T) {
	if _, _, err := parsePidArgs("1", "123"); err == nil {
		t.Fatalf("want error for watched pid <= 1")
	}
}

func TestParsePidArgsAccepts(t *testing.T) {
	watched, trigger, err := parsePidArgs("100", "200")
	if err != nil {
		t.Fatalf("parsePidArgs: %v", err)
	}
	if watched != 100 || trigger != 200 {
		t.Fatalf("got (%d, %d), want (100, 200)", watched, trigger)
	}
}
