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
	"encoding/binary"
	"math/bits"
	"unsafe"

	"golang.org/x/net/bpf"
	"golang.org/x/sys/unix"

	"github.com/ossdataworks/reaptree/pkg/reaperr"
	"github.com/ossdataworks/reaptree/pkg/rlog"
)

// Instruction labels. The program is built as a flat slice; these name the
// index each block starts or ends at so the jump distances below are
// computed rather than hand-counted, the way create_filter's BPF_JUMP
// triples were hand-counted in the original (and are the likeliest spot
// for an off-by-one).
const (
	lblCheckType = iota
	_            // JumpIf
	lblCheckIdx
	_
	lblCheckVal
	_
	lblWhat
	_ // JumpIf Equal EXIT -> lblExitCheck
	_ // JumpIf Equal FORK -> fallthrough to lblForkCheck, else drop
	lblForkCheck
	_
	_
	_
	_ // JumpIfX -> accept/drop
	lblExitCheck
	_
	_
	_
	_ // JumpIfX -> accept/drop
	lblAccept
	lblDrop
	programLen
)

// skip computes the relative jump distance used by a BPF jump instruction
// at index from, whose target is index to. Classic BPF jump offsets count
// from the instruction immediately following the jump itself.
func skip(from, to int) uint8 {
	d := to - (from + 1)
	if d < 0 || d > 0xff {
		panic("procfilter: jump distance out of range")
	}
	return uint8(d)
}

// NativeEndian is this host's byte order, used to decode the connector
// datagram's in-memory kernel structs (as opposed to the classic-BPF
// filter's own comparisons, which are always big-endian regardless of
// host order — see htons/htonl below).
var NativeEndian = func() binary.ByteOrder {
	var probe uint16 = 1
	if *(*byte)(unsafe.Pointer(&probe)) == 1 {
		return binary.LittleEndian
	}
	return binary.BigEndian
}()

// htons and htonl convert a host-order value to the big-endian
// representation classic BPF's BPF_LD_ABS word/half loads compare
// against, matching the original filter's own htons/htonl calls.
func htons(v uint16) uint16 {
	if NativeEndian == binary.LittleEndian {
		return bits.ReverseBytes16(v)
	}
	return v
}

func htonl(v uint32) uint32 {
	if NativeEndian == binary.LittleEndian {
		return bits.ReverseBytes32(v)
	}
	return v
}

// program assembles the classic-BPF decision table from spec: accept a
// connector datagram iff its outer header is NLMSG_DONE, its connector id
// pair is (CN_IDX_PROC, CN_VAL_PROC), its event kind is fork or exit, and
// the relevant tgid equals the relevant pid (whole-process events only).
func program() []bpf.Instruction {
	insns := make([]bpf.Instruction, programLen)

	insns[lblCheckType] = bpf.LoadAbsolute{Off: offNlmsgType, Size: 2}
	insns[lblCheckType+1] = bpf.JumpIf{
		Cond:     bpf.JumpNotEqual,
		Val:      uint32(htons(unix.NLMSG_DONE)),
		SkipTrue: skip(lblCheckType+1, lblDrop),
	}

	insns[lblCheckIdx] = bpf.LoadAbsolute{Off: offCnIdx, Size: 4}
	insns[lblCheckIdx+1] = bpf.JumpIf{
		Cond:     bpf.JumpNotEqual,
		Val:      htonl(cnIdxProc),
		SkipTrue: skip(lblCheckIdx+1, lblDrop),
	}

	insns[lblCheckVal] = bpf.LoadAbsolute{Off: offCnVal, Size: 4}
	insns[lblCheckVal+1] = bpf.JumpIf{
		Cond:     bpf.JumpNotEqual,
		Val:      htonl(cnValProc),
		SkipTrue: skip(lblCheckVal+1, lblDrop),
	}

	insns[lblWhat] = bpf.LoadAbsolute{Off: offWhat, Size: 4}
	insns[lblWhat+1] = bpf.JumpIf{
		Cond:     bpf.JumpEqual,
		Val:      htonl(procEventExit),
		SkipTrue: skip(lblWhat+1, lblExitCheck),
	}
	insns[lblWhat+2] = bpf.JumpIf{
		Cond:      bpf.JumpEqual,
		Val:       htonl(procEventFork),
		SkipFalse: skip(lblWhat+2, lblDrop),
	}

	insns[lblForkCheck] = bpf.LoadAbsolute{Off: offForkTgid, Size: 4}
	insns[lblForkCheck+1] = bpf.StoreScratch{Src: bpf.RegA, N: 0}
	insns[lblForkCheck+2] = bpf.LoadAbsolute{Off: offForkPid, Size: 4}
	insns[lblForkCheck+3] = bpf.LoadScratch{Dst: bpf.RegX, N: 0}
	insns[lblForkCheck+4] = bpf.JumpIfX{
		Cond:      bpf.JumpEqual,
		SkipTrue:  skip(lblForkCheck+4, lblAccept),
		SkipFalse: skip(lblForkCheck+4, lblDrop),
	}

	insns[lblExitCheck] = bpf.LoadAbsolute{Off: offExitPid, Size: 4}
	insns[lblExitCheck+1] = bpf.StoreScratch{Src: bpf.RegA, N: 0}
	insns[lblExitCheck+2] = bpf.LoadAbsolute{Off: offExitTgid, Size: 4}
	insns[lblExitCheck+3] = bpf.LoadScratch{Dst: bpf.RegX, N: 0}
	insns[lblExitCheck+4] = bpf.JumpIfX{
		Cond:      bpf.JumpEqual,
		SkipTrue:  skip(lblExitCheck+4, lblAccept),
		SkipFalse: skip(lblExitCheck+4, lblDrop),
	}

	insns[lblAccept] = bpf.RetConstant{Val: 0xffffffff}
	insns[lblDrop] = bpf.RetConstant{Val: 0x0}

	return insns
}

// Compile assembles the filter program into raw instructions suitable for
// SO_ATTACH_FILTER, returning FilterAttach if the program itself is
// malformed (a bug here, not an environment failure).
func Compile() ([]unix.SockFilter, error) {
	raw, err := bpf.Assemble(program())
	if err != nil {
		return nil, reaperr.New(reaperr.KindFilterAttach, "assemble", err)
	}
	out := make([]unix.SockFilter, len(raw))
	for i, r := range raw {
		out[i] = unix.SockFilter{Code: r.Op, Jt: r.Jt, Jf: r.Jf, K: r.K}
	}
	return out, nil
}

// Attach compiles and installs the filter on fd via SO_ATTACH_FILTER.
func Attach(fd int) error {
	filter, err := Compile()
	if err != nil {
		return err
	}
	prog := unix.SockFprog{
		Len:    uint16(len(filter)),
		Filter: &filter[0],
	}
	if err := unix.SetsockoptSockFprog(fd, unix.SOL_SOCKET, unix.SO_ATTACH_FILTER, &prog); err != nil {
		return reaperr.New(reaperr.KindFilterAttach, "setsockopt(SO_ATTACH_FILTER)", err)
	}
	rlog.Debugf("procfilter: attached %d-instruction filter to fd %d", len(filter), fd)
	return nil
}
