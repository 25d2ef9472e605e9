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

package procfilter

import (
	"testing"

	"golang.org/x/net/bpf"
)

func TestCompileLength(t *testing.T) {
	filter, err := Compile()
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if len(filter) != programLen {
		t.Fatalf("got %d instructions, want %d", len(filter), programLen)
	}
}

func TestProgramTerminates(t *testing.T) {
	// Every branch must eventually reach a RetConstant: bpf.NewVM already
	// rejects out-of-range jumps and a program that does not end in a
	// return, but a direct VM run against representative inputs catches a regression in
	// the decision table itself, not just in instruction encoding.
	insns := program()
	vm, err := bpf.NewVM(insns)
	if err != nil {
		t.Fatalf("NewVM: %v", err)
	}

	accept := buildDatagram(t, true, procEventExit, 100, 100)
	out, err := vm.Run(accept)
	if err != nil {
		t.Fatalf("Run(accept exit): %v", err)
	}
	if out == 0 {
		t.Fatalf("whole-process exit event was dropped")
	}

	dropThread := buildDatagram(t, true, procEventExit, 100, 200)
	out, err = vm.Run(dropThread)
	if err != nil {
		t.Fatalf("Run(thread exit): %v", err)
	}
	if out != 0 {
		t.Fatalf("thread-only exit event was accepted")
	}

	dropBadType := buildDatagram(t, false, procEventExit, 100, 100)
	out, err = vm.Run(dropBadType)
	if err != nil {
		t.Fatalf("Run(bad type): %v", err)
	}
	if out != 0 {
		t.Fatalf("non-NLMSG_DONE datagram was accepted")
	}
}

// buildDatagram constructs a minimal, correctly-offset connector datagram
// for VM testing, in the host's native byte order (the way the kernel
// actually lays out nlmsghdr/cn_msg/proc_event in memory: these are not
// network-order wire structs, which is exactly why the filter itself
// compares against htons/htonl-converted constants). done selects whether
// the outer header is NLMSG_DONE, what is PROC_EVENT_FORK or
// PROC_EVENT_EXIT, and a/b are the relevant pid/tgid pair
// (child_pid/child_tgid for fork, process_pid/process_tgid for exit).
func buildDatagram(t *testing.T, done bool, what uint32, a, b uint32) []byte {
	t.Helper()
	buf := make([]byte, offEventData+16)

	msgType := uint16(0)
	if done {
		msgType = 3 // NLMSG_DONE
	}
	NativeEndian.PutUint16(buf[offNlmsgType:], msgType)
	NativeEndian.PutUint32(buf[offCnIdx:], cnIdxProc)
	NativeEndian.PutUint32(buf[offCnVal:], cnValProc)
	NativeEndian.PutUint32(buf[offWhat:], what)

	switch what {
	case procEventFork:
		NativeEndian.PutUint32(buf[offForkPid:], a)
		NativeEndian.PutUint32(buf[offForkTgid:], b)
	case procEventExit:
		NativeEndian.PutUint32(buf[offExitPid:], a)
		NativeEndian.PutUint32(buf[offExitTgid:], b)
	}
	return buf
}
