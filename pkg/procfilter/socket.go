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
	"time"

	"github.com/cenkalti/backoff"
	"github.com/vishvananda/netlink/nl"
	"golang.org/x/sys/unix"

	"github.com/ossdataworks/reaptree/pkg/reaperr"
)

const (
	// minRecvBuffer is the smallest receive buffer this package will
	// accept; the kernel doubles whatever is requested, so bursts of a
	// few thousand fork/exit events don't trip ENOBUFS immediately.
	minRecvBuffer = 512 * 1024

	// bindRetryBudget bounds how long Open retries a transient bind
	// failure (e.g. another listener briefly holding the multicast
	// group) before giving up.
	bindRetryBudget = 2 * time.Second

	// cnGroupProc is the process-connector multicast group number, bit 0
	// of nl_groups (CN_IDX_PROC == 0x1).
	cnGroupProc = 1
)

// Open creates and binds the process connector socket, enlarges its
// receive buffer, marks it close-on-exec, and attaches the in-kernel
// filter. The returned socket is subscribed to no events yet; callers
// drive that separately (see pkg/cnproc).
func Open() (*nl.NetlinkSocket, error) {
	var sock *nl.NetlinkSocket
	bindOnce := func() error {
		s, err := nl.Subscribe(unix.NETLINK_CONNECTOR, cnGroupProc)
		if err != nil {
			return err
		}
		sock = s
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = bindRetryBudget
	if err := backoff.Retry(bindOnce, b); err != nil {
		return nil, reaperr.New(reaperr.KindBind, "bind process connector socket", err)
	}

	if err := sock.SetReceiveBufferSize(minRecvBuffer, true); err != nil {
		sock.Close()
		return nil, reaperr.New(reaperr.KindSockopt, "enlarge receive buffer", err)
	}
	unix.CloseOnExec(sock.GetFd())

	if err := Attach(sock.GetFd()); err != nil {
		sock.Close()
		return nil, err
	}
	return sock, nil
}
