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
	"bytes"
	"strings"
	"testing"

	"github.com/ossdataworks/reaptree/pkg/reaperr"
)

func TestWaitReadySuccess(t *testing.T) {
	if err := waitReady(bytes.NewReader([]byte{'0'})); err != nil {
		t.Fatalf("waitReady: %v", err)
	}
}

func TestWaitReadyFailureByte(t *testing.T) {
	err := waitReady(bytes.NewReader([]byte{'1'}))
	if !reaperr.Is(err, reaperr.KindPipe) {
		t.Fatalf("got %v, want KindPipe", err)
	}
}

func TestWaitReadyPrematureEOF(t *testing.T) {
	err := waitReady(bytes.NewReader(nil))
	if !reaperr.Is(err, reaperr.KindPipe) {
		t.Fatalf("got %v, want KindPipe", err)
	}
}

func TestLaunchNoUID(t *testing.T) {
	err := Launch(100, 200, NoUID)
	if !reaperr.Is(err, reaperr.KindNoUid) {
		t.Fatalf("got %v, want KindNoUid", err)
	}
	if !strings.Contains(err.Error(), "mapped user id") {
		t.Fatalf("got %v, want mapped-user-id message", err)
	}
}
