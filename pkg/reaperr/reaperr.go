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

// Package reaperr defines the error taxonomy shared by the event-source
// subscriber, the process-tree tracker, the supervisor and the launcher.
package reaperr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so callers can decide whether it is fatal
// before readiness, tolerated and logged, or fatal after readiness.
type Kind int

// The kinds below mirror the error taxonomy table.
const (
	KindNone Kind = iota
	// KindNoUid: the host did not supply a mapped user id.
	KindNoUid
	// KindPipe: pipe(2) creation, or the readiness-byte exchange over the
	// pipe, failed.
	KindPipe
	// KindFork: fork(2) failed.
	KindFork
	// KindSocketOpen: the connector socket could not be created.
	KindSocketOpen
	// KindBind: the connector socket could not be bound to the process
	// connector multicast group.
	KindBind
	// KindSockopt: enlarging the receive buffer via setsockopt(2) failed.
	KindSockopt
	// KindFilterAttach: SO_ATTACH_FILTER failed.
	KindFilterAttach
	// KindSubscribe: the listen/ignore control message failed.
	KindSubscribe
	// KindOverflow: the kernel reported the receive buffer was overrun.
	KindOverflow
	// KindRecv: a transient, non-overflow receive failure.
	KindRecv
	// KindImpossible: a message passed the in-kernel filter but failed the
	// userspace id re-check.
	KindImpossible
	// KindKill: signal delivery failed for a reason other than ESRCH.
	KindKill
)

func (k Kind) String() string {
	switch k {
	case KindNoUid:
		return "no-uid"
	case KindPipe:
		return "pipe"
	case KindFork:
		return "fork"
	case KindSocketOpen:
		return "socket-open"
	case KindBind:
		return "bind"
	case KindSockopt:
		return "sockopt"
	case KindFilterAttach:
		return "filter-attach"
	case KindSubscribe:
		return "subscribe"
	case KindOverflow:
		return "overflow"
	case KindRecv:
		return "recv"
	case KindImpossible:
		return "impossible"
	case KindKill:
		return "kill"
	default:
		return "none"
	}
}

// Error wraps an underlying error with a Kind and the operation that
// produced it.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error for kind produced during op, wrapping cause.
func New(kind Kind, op string, cause error) error {
	return &Error{Kind: kind, Op: op, Err: cause}
}

// Is reports whether err (or anything it wraps) is a reaperr.Error of kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

// Fatal reports whether kind is fatal before the supervisor has reported
// readiness to its launcher. Overflow and Recv are tolerated; everything
// else aborts setup.
func Fatal(kind Kind) bool {
	switch kind {
	case KindOverflow, KindRecv:
		return false
	default:
		return true
	}
}
