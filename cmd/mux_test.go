// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package cmd

import (
	"bytes"
	"net/netip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"flowmux/common/helpers"
	"flowmux/common/reporter"
	"flowmux/muxer"
	"flowmux/muxer/sender"
)

func TestMuxStart(t *testing.T) {
	r := reporter.NewMock(t)
	config := MuxConfiguration{}
	config.Reset()
	config.Muxer.Destinations = []netip.AddrPort{netip.MustParseAddrPort("192.0.2.1:2055")}
	if err := muxStart(r, config, true); err != nil {
		t.Fatalf("muxStart() error:\n%+v", err)
	}
}

func TestMuxStartWithoutDestination(t *testing.T) {
	r := reporter.NewMock(t)
	config := MuxConfiguration{}
	config.Reset()
	if err := muxStart(r, config, true); err == nil {
		t.Fatal("muxStart() did not error")
	}
}

func TestMuxConfiguration(t *testing.T) {
	configFile := filepath.Join(t.TempDir(), "mux.yaml")
	os.WriteFile(configFile, []byte(`---
http:
  listen: 127.0.0.1:8090
muxer:
  listen: 127.0.0.1:4739
  mode: inspected
  destinations:
    - 192.0.2.1:2055
    - 192.0.2.2:4739
  read-timeout: 500ms
  sender:
    type: pcap
    file: /tmp/flowmux.pcap
`), 0o644)
	t.Setenv("FLOWMUX_MUX_MUXER_TTL", "12")

	c := ConfigRelatedOptions{Path: configFile}
	var got MuxConfiguration
	if err := c.Parse(&bytes.Buffer{}, "mux", &got); err != nil {
		t.Fatalf("Parse() error:\n%+v", err)
	}

	var expected MuxConfiguration
	expected.Reset()
	expected.HTTP.Listen = "127.0.0.1:8090"
	expected.Muxer.Listen = "127.0.0.1:4739"
	expected.Muxer.Mode = muxer.ModeInspected
	expected.Muxer.Destinations = []netip.AddrPort{
		netip.MustParseAddrPort("192.0.2.1:2055"),
		netip.MustParseAddrPort("192.0.2.2:4739"),
	}
	expected.Muxer.ReadTimeout = 500 * time.Millisecond
	expected.Muxer.TTL = 12
	expected.Muxer.Sender.Type = sender.TypePcap
	expected.Muxer.Sender.File = "/tmp/flowmux.pcap"
	if diff := helpers.Diff(got, expected); diff != "" {
		t.Fatalf("Parse() (-got, +want):\n%s", diff)
	}
}

func TestMuxConfigurationInvalid(t *testing.T) {
	configFile := filepath.Join(t.TempDir(), "mux.yaml")
	os.WriteFile(configFile, []byte(`---
muxer:
  destinations:
    - 192.0.2.1:2055
  sender:
    type: pcap
`), 0o644)
	c := ConfigRelatedOptions{Path: configFile}
	var got MuxConfiguration
	if err := c.Parse(&bytes.Buffer{}, "mux", &got); err == nil {
		t.Fatal("Parse() did not error")
	}
}
