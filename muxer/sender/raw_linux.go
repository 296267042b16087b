// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

//go:build linux

package sender

import (
	"fmt"
	"net/netip"

	"golang.org/x/sys/unix"
)

// raw sends packets with an IP_HDRINCL raw socket. It requires
// CAP_NET_RAW.
type raw struct {
	fd int
}

func newRaw() (*raw, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_RAW|unix.SOCK_CLOEXEC, unix.IPPROTO_UDP)
	if err != nil {
		return nil, fmt.Errorf("cannot open raw socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_HDRINCL, 1); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("cannot set IP_HDRINCL: %w", err)
	}
	return &raw{fd: fd}, nil
}

func (s *raw) Send(destination netip.AddrPort, packet []byte) error {
	if s.fd < 0 {
		return ErrClosed
	}
	addr := destination.Addr().Unmap()
	if !addr.Is4() {
		return fmt.Errorf("cannot send to %s: not IPv4", destination)
	}
	sa := unix.SockaddrInet4{Addr: addr.As4()}
	if err := unix.Sendto(s.fd, packet, 0, &sa); err != nil {
		return fmt.Errorf("cannot send to %s: %w", destination, err)
	}
	return nil
}

func (s *raw) Close() error {
	if s.fd < 0 {
		return nil
	}
	err := unix.Close(s.fd)
	s.fd = -1
	return err
}
