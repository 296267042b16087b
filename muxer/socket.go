// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package muxer

import (
	"fmt"
	"net"
	"syscall"

	"golang.org/x/sys/unix"

	"flowmux/common/reporter"
)

// socketOption is an option set on the listening socket.
type socketOption struct {
	// Name is the name of the option, for logging
	Name string
	// Level is the socket level
	Level int
	// Option is the option to set to 1
	Option int
	// Mandatory tells if failing to set the option is fatal
	Mandatory bool
}

// oobMessage is the decoded content of the control messages attached to a
// datagram.
type oobMessage struct {
	// Drops is the cumulative number of datagrams dropped by the kernel
	// for this socket.
	Drops uint32
}

// listenConfig configures a listening socket with the provided options.
func listenConfig(r *reporter.Reporter, options []socketOption) *net.ListenConfig {
	return &net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var err error
			cerr := c.Control(func(fd uintptr) {
				for _, opt := range options {
					if serr := unix.SetsockoptInt(int(fd), opt.Level, opt.Option, 1); serr != nil {
						if opt.Mandatory {
							err = fmt.Errorf("cannot set %s: %w", opt.Name, serr)
							return
						}
						r.Warn().Err(serr).Str("option", opt.Name).Msg("cannot set socket option")
					}
				}
			})
			if cerr != nil {
				return cerr
			}
			return err
		},
	}
}
