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

// Package cnproc subscribes to the kernel process connector, via the
// filtered socket pkg/procfilter opens, and decodes its datagrams into the
// fork/exit tuples pkg/reaptree consumes.
package cnproc

import "errors"

// Kind discriminates the two event shapes the filter in pkg/procfilter
// lets through.
type Kind int

const (
	Fork Kind = iota
	Exit
)

// Event is a decoded, whole-process fork or exit. Only the fields for the
// event's own Kind are meaningful.
type Event struct {
	Kind Kind

	// Fork fields.
	ParentTgid uint32
	ChildTgid  uint32

	// Exit fields.
	Tgid uint32
}

// ErrEmpty is returned by Source.NextEvent when nonblocking is set and the
// kernel has no further queued events.
var ErrEmpty = errors.New("cnproc: no event available")
