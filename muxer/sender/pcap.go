// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package sender

import (
	"bufio"
	"fmt"
	"net/netip"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// pcap writes packets to a file with the raw IP link type.
type pcap struct {
	file   *os.File
	buffer *bufio.Writer
	writer *pcapgo.Writer
	now    func() time.Time
}

func newPcap(path string) (*pcap, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("cannot create %q: %w", path, err)
	}
	buffer := bufio.NewWriter(f)
	writer := pcapgo.NewWriter(buffer)
	if err := writer.WriteFileHeader(65536, layers.LinkTypeRaw); err != nil {
		f.Close()
		return nil, fmt.Errorf("cannot write pcap header to %q: %w", path, err)
	}
	return &pcap{
		file:   f,
		buffer: buffer,
		writer: writer,
		now:    time.Now,
	}, nil
}

func (s *pcap) Send(destination netip.AddrPort, packet []byte) error {
	if s.file == nil {
		return ErrClosed
	}
	ci := gopacket.CaptureInfo{
		Timestamp:     s.now(),
		CaptureLength: len(packet),
		Length:        len(packet),
	}
	if err := s.writer.WritePacket(ci, packet); err != nil {
		return fmt.Errorf("cannot write packet for %s: %w", destination, err)
	}
	return nil
}

func (s *pcap) Close() error {
	if s.file == nil {
		return nil
	}
	defer func() { s.file = nil }()
	if err := s.buffer.Flush(); err != nil {
		s.file.Close()
		return fmt.Errorf("cannot flush pcap file: %w", err)
	}
	return s.file.Close()
}
