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
	"encoding/binary"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/ossdataworks/reaptree/pkg/procfilter"
	"github.com/ossdataworks/reaptree/pkg/reaperr"
)

func buildEventDatagram(nlType uint16, what uint32, ts uint64, cpu, a, b uint32) []byte {
	buf := make([]byte, procfilter.OffForkTgid+4)
	binary.LittleEndian.PutUint16(buf[procfilter.OffNlmsgType:], nlType)
	binary.LittleEndian.PutUint32(buf[procfilter.OffCnIdx:], procfilter.CnIdxProc)
	binary.LittleEndian.PutUint32(buf[procfilter.OffCnVal:], procfilter.CnValProc)
	binary.LittleEndian.PutUint32(buf[procfilter.OffWhat:], what)
	binary.LittleEndian.PutUint32(buf[procfilter.OffCPU:], cpu)
	binary.LittleEndian.PutUint64(buf[procfilter.OffTimestamp:], ts)

	switch what {
	case procfilter.ProcEventFork:
		binary.LittleEndian.PutUint32(buf[procfilter.OffForkParentTgid:], a)
		binary.LittleEndian.PutUint32(buf[procfilter.OffForkTgid:], b)
	case procfilter.ProcEventExit:
		binary.LittleEndian.PutUint32(buf[procfilter.OffExitTgid:], b)
	}
	return buf
}

func TestDecodeFork(t *testing.T) {
	s := &Source{}
	buf := buildEventDatagram(unix.NLMSG_DONE, procfilter.ProcEventFork, 1, 0, 10, 20)
	ev, ok, err := s.decode(buf)
	if err != nil || !ok {
		t.Fatalf("decode: ok=%v err=%v", ok, err)
	}
	if ev.Kind != Fork || ev.ParentTgid != 10 || ev.ChildTgid != 20 {
		t.Fatalf("got %+v", ev)
	}
}

func TestDecodeExit(t *testing.T) {
	s := &Source{}
	buf := buildEventDatagram(unix.NLMSG_DONE, procfilter.ProcEventExit, 1, 0, 0, 30)
	ev, ok, err := s.decode(buf)
	if err != nil || !ok {
		t.Fatalf("decode: ok=%v err=%v", ok, err)
	}
	if ev.Kind != Exit || ev.Tgid != 30 {
		t.Fatalf("got %+v", ev)
	}
}

func TestDecodeDeduplicatesRepeatedTimestampAndCPU(t *testing.T) {
	s := &Source{}
	buf := buildEventDatagram(unix.NLMSG_DONE, procfilter.ProcEventExit, 42, 3, 0, 99)

	if _, ok, err := s.decode(buf); err != nil || !ok {
		t.Fatalf("first decode: ok=%v err=%v", ok, err)
	}
	if _, ok, err := s.decode(buf); err != nil || ok {
		t.Fatalf("duplicate decode: ok=%v err=%v, want ok=false", ok, err)
	}
}

func TestDecodeSkipsNoopAndError(t *testing.T) {
	s := &Source{}
	for _, nlType := range []uint16{unix.NLMSG_NOOP, unix.NLMSG_ERROR} {
		buf := buildEventDatagram(nlType, procfilter.ProcEventExit, 7, 0, 0, 1)
		if _, ok, err := s.decode(buf); err != nil || ok {
			t.Fatalf("type %d: ok=%v err=%v, want skipped", nlType, ok, err)
		}
	}
}

func TestDecodeImpossibleConnectorID(t *testing.T) {
	s := &Source{}
	buf := buildEventDatagram(unix.NLMSG_DONE, procfilter.ProcEventExit, 7, 0, 0, 1)
	binary.LittleEndian.PutUint32(buf[procfilter.OffCnIdx:], 0xdead)
	_, ok, err := s.decode(buf)
	if ok || !reaperr.Is(err, reaperr.KindImpossible) {
		t.Fatalf("got ok=%v err=%v, want KindImpossible", ok, err)
	}
}
