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

package cnproc

import (
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
	"golang.org/x/time/rate"

	"github.com/ossdataworks/reaptree/pkg/procfilter"
	"github.com/ossdataworks/reaptree/pkg/reaperr"
	"github.com/ossdataworks/reaptree/pkg/rlog"
)

// Source is a subscribed, filtered connector socket. The zero value is not
// usable; construct with NewSource.
type Source struct {
	fd int

	lastTimestampNs uint64
	lastCPU         uint32

	overflowLimiter *rate.Limiter
	recvLimiter     *rate.Limiter
}

// NewSource opens and filters the connector socket (pkg/procfilter.Open)
// but does not yet subscribe; callers call Subscribe once ready to
// receive.
func NewSource() (*Source, error) {
	sock, err := procfilter.Open()
	if err != nil {
		return nil, err
	}
	return &Source{
		fd: sock.GetFd(),
		// One log line per second is enough to notice a sustained fork
		// bomb or a wedged kernel without the logger itself becoming the
		// bottleneck.
		overflowLimiter: rate.NewLimiter(rate.Every(time.Second), 1),
		recvLimiter:     rate.NewLimiter(rate.Every(time.Second), 1),
	}, nil
}

// Subscribe enables the multicast feed.
func (s *Source) Subscribe() error { return s.control(mcastListen) }

// Unsubscribe disables the multicast feed. Call before Close during an
// orderly shutdown so the kernel stops queuing events for a socket about
// to disappear.
func (s *Source) Unsubscribe() error { return s.control(mcastIgnore) }

func (s *Source) control(op uint32) error {
	if _, err := unix.Write(s.fd, buildControlMessage(op)); err != nil {
		return reaperr.New(reaperr.KindSubscribe, "write control message", err)
	}
	return nil
}

// Close releases the underlying socket.
func (s *Source) Close() error {
	return unix.Close(s.fd)
}

// NextEvent performs one receive and returns the first decoded event.
// Messages that are truncated, are duplicates, or are
// kernel noop/error frames are consumed silently and the receive retried;
// so are recoverable recv(2) errors and receive-buffer overruns, both
// logged at a bounded rate rather than surfaced to the caller. When
// nonblocking is true and the kernel has nothing queued, ErrEmpty is
// returned instead of blocking. The only error NextEvent returns is
// reaperr.KindImpossible, for a datagram that should have been impossible
// given the attached filter.
func (s *Source) NextEvent(nonblocking bool) (Event, error) {
	buf := make([]byte, os.Getpagesize())
	for {
		flags := 0
		if nonblocking {
			flags = unix.MSG_DONTWAIT
		}
		n, _, err := unix.Recvfrom(s.fd, buf, flags)
		if err != nil {
			if nonblocking && (errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK)) {
				return Event{}, ErrEmpty
			}
			if errors.Is(err, unix.ENOBUFS) {
				if s.overflowLimiter.Allow() {
					rlog.Warningf("cnproc: OVERFLOW (receive buffer overrun, likely fork bomb); continuing")
				}
				continue
			}
			if s.recvLimiter.Allow() {
				rlog.Warningf("cnproc: recovering from recv error: %v", err)
			}
			continue
		}

		ev, ok, err := s.decode(buf[:n])
		if err != nil {
			return Event{}, err
		}
		if !ok {
			continue
		}
		return ev, nil
	}
}

// decode extracts one event from a single connector datagram. ok is false
// for messages that should be silently skipped (kernel noop/error frames,
// or an exact duplicate of the previous event); it is never true
// together with a non-nil error.
func (s *Source) decode(buf []byte) (ev Event, ok bool, err error) {
	if uint32(len(buf)) < procfilter.OffNlmsgType+2 {
		return Event{}, false, nil
	}
	msgType := procfilter.NativeEndian.Uint16(buf[procfilter.OffNlmsgType:])
	if msgType == unix.NLMSG_ERROR || msgType == unix.NLMSG_NOOP {
		return Event{}, false, nil
	}

	if uint32(len(buf)) < procfilter.OffCnVal+4 {
		return Event{}, false, nil
	}
	idIdx := procfilter.NativeEndian.Uint32(buf[procfilter.OffCnIdx:])
	idVal := procfilter.NativeEndian.Uint32(buf[procfilter.OffCnVal:])
	if idIdx != procfilter.CnIdxProc || idVal != procfilter.CnValProc {
		// The in-kernel filter already checks this; seeing it fail here
		// means either the filter was not attached or the kernel sent
		// something the connector protocol doesn't define.
		return Event{}, false, reaperr.New(reaperr.KindImpossible, "decode",
			fmt.Errorf("unexpected connector id %d.%d", idIdx, idVal))
	}

	if uint32(len(buf)) < procfilter.OffTimestamp+8 {
		return Event{}, false, nil
	}
	timestampNs := procfilter.NativeEndian.Uint64(buf[procfilter.OffTimestamp:])
	cpu := procfilter.NativeEndian.Uint32(buf[procfilter.OffCPU:])
	if timestampNs == s.lastTimestampNs && cpu == s.lastCPU {
		return Event{}, false, nil
	}
	s.lastTimestampNs = timestampNs
	s.lastCPU = cpu

	what := procfilter.NativeEndian.Uint32(buf[procfilter.OffWhat:])
	switch what {
	case procfilter.ProcEventFork:
		if uint32(len(buf)) < procfilter.OffForkTgid+4 {
			return Event{}, false, nil
		}
		return Event{
			Kind:       Fork,
			ParentTgid: procfilter.NativeEndian.Uint32(buf[procfilter.OffForkParentTgid:]),
			ChildTgid:  procfilter.NativeEndian.Uint32(buf[procfilter.OffForkTgid:]),
		}, true, nil
	case procfilter.ProcEventExit:
		if uint32(len(buf)) < procfilter.OffExitTgid+4 {
			return Event{}, false, nil
		}
		return Event{
			Kind: Exit,
			Tgid: procfilter.NativeEndian.Uint32(buf[procfilter.OffExitTgid:]),
		}, true, nil
	default:
		// Neither fork nor exit: the filter should never pass this, but
		// tolerate it the way the original's message_loop logs and moves
		// on rather than treating it as Impossible.
		rlog.Warningf("cnproc: unexpected event kind %#x reached userspace", what)
		return Event{}, false, nil
	}
}
