// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

//go:build !release

package helpers

import (
	"io"
	"os"
	"testing"

	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// ReadPcapPackets reads a PCAP file with raw IP link type and returns
// each captured packet.
func ReadPcapPackets(t testing.TB, pcapfile string) [][]byte {
	t.Helper()
	f, err := os.Open(pcapfile)
	if err != nil {
		t.Fatalf("Open(%q) error:\n%+v", pcapfile, err)
	}
	defer f.Close()

	reader, err := pcapgo.NewReader(f)
	if err != nil {
		t.Fatalf("NewReader(%q) error:\n%+v", pcapfile, err)
	}
	if reader.LinkType() != layers.LinkTypeRaw {
		t.Fatalf("NewReader(%q) link type %s, expected %s",
			pcapfile, reader.LinkType(), layers.LinkTypeRaw)
	}
	packets := [][]byte{}
	for {
		data, _, err := reader.ReadPacketData()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("ReadPacketData(%q) error:\n%+v", pcapfile, err)
		}
		packets = append(packets, data)
	}
	return packets
}
