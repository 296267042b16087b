// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

//go:build linux

package muxer

import (
	"encoding/binary"
	"syscall"

	"golang.org/x/sys/unix"
)

var (
	oobLength        = syscall.CmsgSpace(4)
	udpSocketOptions = []socketOption{
		{
			// Allow a quick restart on the same address
			Name:      "SO_REUSEADDR",
			Level:     unix.SOL_SOCKET,
			Option:    unix.SO_REUSEADDR,
			Mandatory: true,
		}, {
			// Get the number of dropped datagrams
			Name:   "SO_RXQ_OVFL",
			Level:  unix.SOL_SOCKET,
			Option: unix.SO_RXQ_OVFL,
		},
	}
)

// parseSocketControlMessage parses b and extracts the number of drops
// (SO_RXQ_OVFL).
func parseSocketControlMessage(b []byte) (oobMessage, error) {
	result := oobMessage{}
	cmsgs, err := syscall.ParseSocketControlMessage(b)
	if err != nil {
		return result, err
	}
	for _, cmsg := range cmsgs {
		if cmsg.Header.Level == unix.SOL_SOCKET && cmsg.Header.Type == unix.SO_RXQ_OVFL && len(cmsg.Data) >= 4 {
			result.Drops = binary.NativeEndian.Uint32(cmsg.Data)
		}
	}
	return result, nil
}

// truncatedDatagram tells if the kernel truncated the datagram to fit the
// receive buffer.
func truncatedDatagram(_, flags, _ int) bool {
	return flags&unix.MSG_TRUNC != 0
}
