// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package muxer

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"flowmux/common/daemon"
	"flowmux/common/helpers"
	"flowmux/common/httpserver"
	"flowmux/common/reporter"
	"flowmux/muxer/ipfix"
	"flowmux/muxer/sender"
)

var testDestinations = []netip.AddrPort{
	netip.MustParseAddrPort("192.0.2.1:2055"),
	netip.MustParseAddrPort("192.0.2.2:4739"),
	netip.MustParseAddrPort("192.0.2.3:9995"),
}

type testMuxer struct {
	c      *Component
	r      *reporter.Reporter
	http   *httpserver.Component
	sender *sender.Mock
	conn   *net.UDPConn
}

// newTestMuxer starts a muxer listening on localhost with a mock sender.
func newTestMuxer(t *testing.T, update func(*Configuration)) testMuxer {
	t.Helper()
	r := reporter.NewMock(t)
	config := DefaultConfiguration()
	config.Listen = "127.0.0.1:0"
	config.ReadTimeout = 10 * time.Millisecond
	config.Destinations = testDestinations
	if update != nil {
		update(&config)
	}
	h := httpserver.NewMock(t, r)
	s := sender.NewMock(t)
	c, err := New(r, config, Dependencies{
		Daemon: daemon.NewMock(t),
		HTTP:   h,
		Sender: s,
	})
	if err != nil {
		t.Fatalf("New() error:\n%+v", err)
	}
	helpers.StartStop(t, c)

	conn, err := net.DialUDP("udp", nil, net.UDPAddrFromAddrPort(
		netip.MustParseAddrPort(c.LocalAddr().String())))
	if err != nil {
		t.Fatalf("DialUDP() error:\n%+v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return testMuxer{c: c, r: r, http: h, sender: s, conn: conn}
}

func (tm testMuxer) send(t *testing.T, payloads ...[]byte) {
	t.Helper()
	for _, payload := range payloads {
		if _, err := tm.conn.Write(payload); err != nil {
			t.Fatalf("Write() error:\n%+v", err)
		}
	}
}

func (tm testMuxer) exporter() netip.AddrPort {
	addr := tm.conn.LocalAddr().(*net.UDPAddr).AddrPort()
	return netip.AddrPortFrom(addr.Addr().Unmap(), addr.Port())
}

// ipfixMessage returns an IPFIX message with the provided tail.
func ipfixMessage(sequence uint32, domain uint32, tail []byte) []byte {
	out := make([]byte, ipfix.HeaderLength+len(tail))
	ipfix.Header{
		Version:             ipfix.Version,
		Length:              uint16(ipfix.HeaderLength + len(tail)),
		ExportTime:          1647335653,
		SequenceNumber:      sequence,
		ObservationDomainID: domain,
	}.Put(out)
	copy(out[ipfix.HeaderLength:], tail)
	return out
}

type decodedPacket struct {
	Source      netip.AddrPort
	Destination netip.AddrPort
	TTL         uint8
	Payload     string
}

func decodeSent(t *testing.T, sent []sender.SentPacket) []decodedPacket {
	t.Helper()
	result := []decodedPacket{}
	for _, s := range sent {
		decoded := gopacket.NewPacket(s.Packet, layers.LayerTypeIPv4, gopacket.Default)
		ip, ok := decoded.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
		if !ok {
			t.Fatalf("NewPacket() no IPv4 layer")
		}
		udp, ok := decoded.Layer(layers.LayerTypeUDP).(*layers.UDP)
		if !ok {
			t.Fatalf("NewPacket() no UDP layer")
		}
		srcIP, _ := netip.AddrFromSlice(ip.SrcIP)
		dstIP, _ := netip.AddrFromSlice(ip.DstIP)
		dst := netip.AddrPortFrom(dstIP.Unmap(), uint16(udp.DstPort))
		if dst != s.Destination {
			t.Errorf("Send() destination %s does not match packet destination %s", s.Destination, dst)
		}
		result = append(result, decodedPacket{
			Source:      netip.AddrPortFrom(srcIP.Unmap(), uint16(udp.SrcPort)),
			Destination: dst,
			TTL:         ip.TTL,
			Payload:     string(udp.Payload),
		})
	}
	return result
}

func TestRawCopyFanOut(t *testing.T) {
	tm := newTestMuxer(t, nil)
	tm.send(t, []byte("hello world!"), []byte("not IPFIX at all"))
	got := decodeSent(t, tm.sender.WaitFor(t, 6))

	expected := []decodedPacket{}
	for _, payload := range []string{"hello world!", "not IPFIX at all"} {
		for _, dst := range testDestinations {
			expected = append(expected, decodedPacket{
				Source:      tm.exporter(),
				Destination: dst,
				TTL:         5,
				Payload:     payload,
			})
		}
	}
	if diff := helpers.Diff(got, expected); diff != "" {
		t.Fatalf("sent packets (-got, +want):\n%s", diff)
	}

	gotMetrics := tm.r.GetMetrics("flowmux_muxer_",
		"datagrams_received", "bytes_received", "packets_sent", "bytes_sent", "malformed")
	expectedMetrics := map[string]string{
		`datagrams_received_total{exporter="127.0.0.1"}`:   "2",
		`bytes_received_total{exporter="127.0.0.1"}`:       "28",
		`packets_sent_total{destination="192.0.2.1:2055"}`: "2",
		`packets_sent_total{destination="192.0.2.2:4739"}`: "2",
		`packets_sent_total{destination="192.0.2.3:9995"}`: "2",
		`bytes_sent_total{destination="192.0.2.1:2055"}`:   "84",
		`bytes_sent_total{destination="192.0.2.2:4739"}`:   "84",
		`bytes_sent_total{destination="192.0.2.3:9995"}`:   "84",
	}
	if diff := helpers.Diff(gotMetrics, expectedMetrics); diff != "" {
		t.Fatalf("Metrics (-got, +want):\n%s", diff)
	}
}

func TestInspectedFanOut(t *testing.T) {
	tm := newTestMuxer(t, func(config *Configuration) {
		config.Mode = ModeInspected
		config.TTL = 64
		config.Destinations = testDestinations[:2]
	})
	messages := [][]byte{
		ipfixMessage(100, 1, []byte("first")),
		ipfixMessage(101, 1, []byte("second")),
		ipfixMessage(105, 1, []byte("third")),
		ipfixMessage(102, 1, []byte("late")),
	}
	tm.send(t, messages...)
	got := decodeSent(t, tm.sender.WaitFor(t, 8))

	expected := []decodedPacket{}
	for _, message := range messages {
		for _, dst := range testDestinations[:2] {
			expected = append(expected, decodedPacket{
				Source:      tm.exporter(),
				Destination: dst,
				TTL:         64,
				Payload:     string(message),
			})
		}
	}
	if diff := helpers.Diff(got, expected); diff != "" {
		t.Fatalf("sent packets (-got, +want):\n%s", diff)
	}

	gotMetrics := tm.r.GetMetrics("flowmux_muxer_",
		"missing", "out_of_order", "sequence_resets", "malformed")
	expectedMetrics := map[string]string{
		`missing_sequence_numbers_total{domain="1",exporter="127.0.0.1"}`: "3",
		`out_of_order_datagrams_total{domain="1",exporter="127.0.0.1"}`:   "1",
	}
	if diff := helpers.Diff(gotMetrics, expectedMetrics); diff != "" {
		t.Fatalf("Metrics (-got, +want):\n%s", diff)
	}
}

func TestMalformedDatagrams(t *testing.T) {
	tm := newTestMuxer(t, func(config *Configuration) {
		config.Mode = ModeInspected
		config.Destinations = testDestinations[:1]
	})
	withTrailing := append(ipfixMessage(1, 1, []byte("hello")), 0, 0, 0)
	badVersion := ipfixMessage(2, 1, []byte("hello"))
	badVersion[1] = 9
	tm.send(t,
		[]byte("short"),
		badVersion,
		withTrailing,
		ipfixMessage(10, 1, []byte("valid")),
	)
	got := decodeSent(t, tm.sender.WaitFor(t, 1))
	expected := []decodedPacket{
		{
			Source:      tm.exporter(),
			Destination: testDestinations[0],
			TTL:         5,
			Payload:     string(ipfixMessage(10, 1, []byte("valid"))),
		},
	}
	if diff := helpers.Diff(got, expected); diff != "" {
		t.Fatalf("sent packets (-got, +want):\n%s", diff)
	}

	// The loop is still alive
	tm.send(t, ipfixMessage(11, 1, []byte("still valid")))
	tm.sender.WaitFor(t, 2)

	gotMetrics := tm.r.GetMetrics("flowmux_muxer_", "malformed", "datagrams_received")
	expectedMetrics := map[string]string{
		`datagrams_received_total{exporter="127.0.0.1"}`:                   "5",
		`malformed_datagrams_total{error="parse",exporter="127.0.0.1"}`:     "2",
		`malformed_datagrams_total{error="serialize",exporter="127.0.0.1"}`: "1",
	}
	if diff := helpers.Diff(gotMetrics, expectedMetrics); diff != "" {
		t.Fatalf("Metrics (-got, +want):\n%s", diff)
	}
}

func TestFailingDestination(t *testing.T) {
	tm := newTestMuxer(t, nil)
	tm.sender.FailFor(testDestinations[1], errors.New("network unreachable"))
	tm.send(t, []byte("first"), []byte("second"))
	got := decodeSent(t, tm.sender.WaitFor(t, 4))

	expected := []decodedPacket{}
	for _, payload := range []string{"first", "second"} {
		for _, dst := range []netip.AddrPort{testDestinations[0], testDestinations[2]} {
			expected = append(expected, decodedPacket{
				Source:      tm.exporter(),
				Destination: dst,
				TTL:         5,
				Payload:     payload,
			})
		}
	}
	if diff := helpers.Diff(got, expected); diff != "" {
		t.Fatalf("sent packets (-got, +want):\n%s", diff)
	}

	gotMetrics := tm.r.GetMetrics("flowmux_muxer_", "send_errors", "packets_sent")
	expectedMetrics := map[string]string{
		`send_errors_total{destination="192.0.2.2:4739",error="send"}`: "2",
		`packets_sent_total{destination="192.0.2.1:2055"}`:             "2",
		`packets_sent_total{destination="192.0.2.3:9995"}`:             "2",
	}
	if diff := helpers.Diff(gotMetrics, expectedMetrics); diff != "" {
		t.Fatalf("Metrics (-got, +want):\n%s", diff)
	}
}

func TestBreaker(t *testing.T) {
	tm := newTestMuxer(t, func(config *Configuration) {
		config.Destinations = testDestinations[:2]
		config.Breaker = BreakerConfiguration{
			ErrorThreshold:   2,
			SuccessThreshold: 1,
			Timeout:          time.Hour,
		}
	})
	tm.sender.FailFor(testDestinations[0], errors.New("network unreachable"))
	for range 5 {
		tm.send(t, []byte("hello"))
	}
	sent := tm.sender.WaitFor(t, 5)
	for _, s := range sent {
		if s.Destination != testDestinations[1] {
			t.Errorf("Send() to %s, expected only %s", s.Destination, testDestinations[1])
		}
	}

	gotMetrics := tm.r.GetMetrics("flowmux_muxer_", "send_errors", "breaker")
	expectedMetrics := map[string]string{
		`send_errors_total{destination="192.0.2.1:2055",error="send"}`: "2",
		`breaker_skipped_packets_total{destination="192.0.2.1:2055"}`:  "3",
	}
	if diff := helpers.Diff(gotMetrics, expectedMetrics); diff != "" {
		t.Fatalf("Metrics (-got, +want):\n%s", diff)
	}
}

func TestHealthcheck(t *testing.T) {
	tm := newTestMuxer(t, nil)
	got := tm.r.RunHealthchecks(context.Background())
	if got.Details["muxer"].Status != reporter.HealthcheckOK {
		t.Fatalf("RunHealthchecks() muxer status: %+v", got.Details["muxer"])
	}
}

func TestStopClosesSender(t *testing.T) {
	r := reporter.NewMock(t)
	config := DefaultConfiguration()
	config.Listen = "127.0.0.1:0"
	config.ReadTimeout = 10 * time.Millisecond
	config.Destinations = testDestinations
	s := sender.NewMock(t)
	c, err := New(r, config, Dependencies{Daemon: daemon.NewMock(t), Sender: s})
	if err != nil {
		t.Fatalf("New() error:\n%+v", err)
	}
	if err := c.Start(); err != nil {
		t.Fatalf("Start() error:\n%+v", err)
	}
	if err := c.Stop(); err != nil {
		t.Fatalf("Stop() error:\n%+v", err)
	}
	if !s.Closed() {
		t.Error("Stop() did not close the sender")
	}
	// The socket is released.
	pconn, err := net.ListenPacket("udp", c.LocalAddr().String())
	if err != nil {
		t.Fatalf("ListenPacket() error:\n%+v", err)
	}
	pconn.Close()
}

func TestStartWithPcapSender(t *testing.T) {
	r := reporter.NewMock(t)
	path := filepath.Join(t.TempDir(), "out.pcap")
	config := DefaultConfiguration()
	config.Listen = "127.0.0.1:0"
	config.ReadTimeout = 10 * time.Millisecond
	config.Destinations = testDestinations[:1]
	config.Sender = sender.Configuration{Type: sender.TypePcap, File: path}
	c, err := New(r, config, Dependencies{Daemon: daemon.NewMock(t)})
	if err != nil {
		t.Fatalf("New() error:\n%+v", err)
	}
	if err := c.Start(); err != nil {
		t.Fatalf("Start() error:\n%+v", err)
	}
	conn, err := net.Dial("udp", c.LocalAddr().String())
	if err != nil {
		t.Fatalf("Dial() error:\n%+v", err)
	}
	defer conn.Close()
	if _, err := conn.Write([]byte("hello pcap")); err != nil {
		t.Fatalf("Write() error:\n%+v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		got := r.GetMetrics("flowmux_muxer_", "packets_sent")
		if got[`packets_sent_total{destination="192.0.2.1:2055"}`] == "1" {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if err := c.Stop(); err != nil {
		t.Fatalf("Stop() error:\n%+v", err)
	}
	packets := helpers.ReadPcapPackets(t, path)
	if len(packets) != 1 {
		t.Fatalf("ReadPcapPackets() got %d packets, expected 1", len(packets))
	}
}

func TestStartErrors(t *testing.T) {
	r := reporter.NewMock(t)
	config := DefaultConfiguration()
	config.Listen = "127.0.0.1:0"
	config.Destinations = testDestinations[:1]
	config.Sender = sender.Configuration{
		Type: sender.TypePcap,
		File: filepath.Join(t.TempDir(), "nothere", "out.pcap"),
	}
	c, err := New(r, config, Dependencies{Daemon: daemon.NewMock(t)})
	if err != nil {
		t.Fatalf("New() error:\n%+v", err)
	}
	if err := c.Start(); err == nil {
		t.Fatal("Start() did not error")
	}

	config.Listen = "192.0.2.1:4739"
	c, err = New(r, config, Dependencies{Daemon: daemon.NewMock(t), Sender: sender.NewMock(t)})
	if err != nil {
		t.Fatalf("New() error:\n%+v", err)
	}
	if err := c.Start(); err == nil {
		t.Fatal("Start() did not error")
	}
}

func TestNewErrors(t *testing.T) {
	r := reporter.NewMock(t)
	config := DefaultConfiguration()
	if _, err := New(r, config, Dependencies{Daemon: daemon.NewMock(t)}); err == nil {
		t.Error("New() without destination did not error")
	}
	config.Destinations = []netip.AddrPort{netip.MustParseAddrPort("[2001:db8::1]:2055")}
	if _, err := New(r, config, Dependencies{Daemon: daemon.NewMock(t)}); err == nil {
		t.Error("New() with IPv6 destination did not error")
	}
}
