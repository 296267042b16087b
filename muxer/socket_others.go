// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

//go:build !linux

package muxer

import "golang.org/x/sys/unix"

var (
	oobLength        = 0
	udpSocketOptions = []socketOption{
		{
			Name:      "SO_REUSEADDR",
			Level:     unix.SOL_SOCKET,
			Option:    unix.SO_REUSEADDR,
			Mandatory: true,
		},
	}
)

// parseSocketControlMessage always returns no drop.
func parseSocketControlMessage(_ []byte) (oobMessage, error) {
	return oobMessage{}, nil
}

// truncatedDatagram tells if the datagram may have been truncated to fit
// the receive buffer.
func truncatedDatagram(n, _, size int) bool {
	return n == size
}
