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

// Package procfilter opens the kernel process connector socket and attaches
// the in-kernel classic-BPF program that restricts delivery to
// thread-group-leader fork/exit events, per linux/cn_proc.h and
// linux/connector.h.
package procfilter

import "unsafe"

// Wire layout mirrors linux/netlink.h, linux/connector.h and
// linux/cn_proc.h exactly; only the fields the filter and decoder touch
// are reproduced here.

type nlMsgHdr struct {
	Len   uint32
	Type  uint16
	Flags uint16
	Seq   uint32
	Pid   uint32
}

type cbID struct {
	Idx uint32
	Val uint32
}

// cnMsgHeader is struct cn_msg without its trailing flexible `data[]`.
type cnMsgHeader struct {
	ID    cbID
	Seq   uint32
	Ack   uint32
	Len   uint16
	Flags uint16
}

// procEventHeader is struct proc_event up to (not including) its
// event_data union.
type procEventHeader struct {
	What        uint32
	CPU         uint32
	TimestampNs uint64
}

type forkProcEvent struct {
	ParentPid  uint32
	ParentTgid uint32
	ChildPid   uint32
	ChildTgid  uint32
}

type exitProcEvent struct {
	ProcessPid  uint32
	ProcessTgid uint32
	ExitCode    uint32
	ExitSignal  uint32
}

// Connector protocol constants, linux/connector.h and linux/cn_proc.h.
const (
	cnIdxProc = 0x1
	cnValProc = 0x1

	procEventFork = 0x00000001
	procEventExit = 0x80000000
)

// nlmsgLength0 is NLMSG_LENGTH(0): the 4-byte-aligned size of a bare
// nlmsghdr, i.e. where the cn_msg payload begins.
const nlmsgLength0 = 16

// Byte offsets into a connector datagram, computed from the mirrored wire
// structs above rather than hand-counted, so a struct edit cannot silently
// desynchronize the filter from the decoder.
var (
	offNlmsgType = uint32(unsafe.Offsetof(nlMsgHdr{}.Type))

	offCnIdx = nlmsgLength0 + uint32(unsafe.Offsetof(cnMsgHeader{}.ID)+unsafe.Offsetof(cbID{}.Idx))
	offCnVal = nlmsgLength0 + uint32(unsafe.Offsetof(cnMsgHeader{}.ID)+unsafe.Offsetof(cbID{}.Val))

	offData = nlmsgLength0 + uint32(unsafe.Sizeof(cnMsgHeader{}))

	offWhat      = offData + uint32(unsafe.Offsetof(procEventHeader{}.What))
	offCPU       = offData + uint32(unsafe.Offsetof(procEventHeader{}.CPU))
	offTimestamp = offData + uint32(unsafe.Offsetof(procEventHeader{}.TimestampNs))
	offEventData = offData + uint32(unsafe.Sizeof(procEventHeader{}))
	offExitPid   = offEventData + uint32(unsafe.Offsetof(exitProcEvent{}.ProcessPid))
	offExitTgid  = offEventData + uint32(unsafe.Offsetof(exitProcEvent{}.ProcessTgid))
	offForkPid        = offEventData + uint32(unsafe.Offsetof(forkProcEvent{}.ChildPid))
	offForkTgid       = offEventData + uint32(unsafe.Offsetof(forkProcEvent{}.ChildTgid))
	offForkParentTgid = offEventData + uint32(unsafe.Offsetof(forkProcEvent{}.ParentTgid))
)

func init() {
	// These offsets are load-bearing for the BPF program in filter.go; a wrong
	// value would make the kernel read garbage instead of failing loudly,
	// so pin them against hand computation from linux/cn_proc.h.
	assertOffset("nlmsg_type", offNlmsgType, 4)
	assertOffset("cn_msg.id.idx", offCnIdx, 16)
	assertOffset("cn_msg.id.val", offCnVal, 20)
	assertOffset("cn_msg.data", offData, 36)
	assertOffset("proc_event.what", offWhat, 36)
	assertOffset("proc_event.cpu", offCPU, 40)
	assertOffset("proc_event.timestamp_ns", offTimestamp, 44)
	assertOffset("proc_event.event_data", offEventData, 52)
	assertOffset("exit_proc_event.process_pid", offExitPid, 52)
	assertOffset("exit_proc_event.process_tgid", offExitTgid, 56)
	assertOffset("fork_proc_event.child_pid", offForkPid, 60)
	assertOffset("fork_proc_event.child_tgid", offForkTgid, 64)
	assertOffset("fork_proc_event.parent_tgid", offForkParentTgid, 56)
}

func assertOffset(name string, got, want uint32) {
	if got != want {
		panic("procfilter: wire offset for " + name + " drifted from linux/cn_proc.h layout")
	}
}

// Exported so pkg/cnproc's decoder reads the same datagram with the same
// offsets the filter in filter.go was compiled against; duplicating these by
// hand in two packages is exactly the kind of drift assertOffset guards
// against within this one.
const (
	CnIdxProc     = cnIdxProc
	CnValProc     = cnValProc
	ProcEventFork = procEventFork
	ProcEventExit = procEventExit
)

var (
	OffNlmsgType = offNlmsgType
	OffCnIdx     = offCnIdx
	OffCnVal     = offCnVal
	OffWhat      = offWhat
	OffCPU       = offCPU
	OffTimestamp = offTimestamp
	OffForkPid        = offForkPid
	OffForkTgid       = offForkTgid
	OffForkParentTgid = offForkParentTgid
	OffExitPid        = offExitPid
	OffExitTgid       = offExitTgid
)
