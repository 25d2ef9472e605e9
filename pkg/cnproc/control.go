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

	"golang.org/x/sys/unix"

	"github.com/ossdataworks/reaptree/pkg/procfilter"
)

// proc_cn_mcast_op values, linux/cn_proc.h.
const (
	mcastListen uint32 = 1
	mcastIgnore uint32 = 2
)

// controlMessageLen is nlmsghdr (16) + cn_msg header (20) + one uint32 op.
const controlMessageLen = 16 + 20 + 4

// buildControlMessage lays out the single-opcode subscription message
// inform_kernel() in proc_police.c assembles field-by-field into three
// iovecs; this does the same job as one contiguous buffer, since a
// datagram netlink socket write needs no scatter-gather here.
func buildControlMessage(op uint32) []byte {
	buf := make([]byte, controlMessageLen)

	binary.LittleEndian.PutUint32(buf[0:4], controlMessageLen) // nlmsg_len
	binary.LittleEndian.PutUint16(buf[4:6], unix.NLMSG_DONE)    // nlmsg_type
	// nlmsg_flags [6:8), nlmsg_seq [8:12), nlmsg_pid [12:16) are left zero;
	// the kernel does not require a caller pid on this control path.

	binary.LittleEndian.PutUint32(buf[16:20], procfilter.CnIdxProc) // cn_msg.id.idx
	binary.LittleEndian.PutUint32(buf[20:24], procfilter.CnValProc) // cn_msg.id.val
	// cn_msg.seq [24:28), cn_msg.ack [28:32) are left zero.
	binary.LittleEndian.PutUint16(buf[32:34], 4) // cn_msg.len = sizeof(op)
	// cn_msg.flags [34:36) is left zero.

	binary.LittleEndian.PutUint32(buf[36:40], op)
	return buf
}
