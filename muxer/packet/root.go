// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

// Package packet builds IPv4/UDP datagrams carrying an arbitrary payload
// between arbitrary endpoints.
package packet

import (
	"errors"
	"fmt"
	"net/netip"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

const (
	// IPv4HeaderLength is the length of an IPv4 header without options.
	IPv4HeaderLength = 20
	// UDPHeaderLength is the length of an UDP header.
	UDPHeaderLength = 8
	// MaxPayloadLength is the largest payload fitting in an IPv4 packet.
	MaxPayloadLength = 65535 - IPv4HeaderLength - UDPHeaderLength
	// DefaultTTL is the TTL used when none is configured.
	DefaultTTL = 5
)

var (
	// ErrNotIPv4 is returned when one of the endpoints is not IPv4.
	ErrNotIPv4 = errors.New("endpoint is not IPv4")
	// ErrPayloadTooLarge is returned when the payload does not fit in an
	// IPv4 packet.
	ErrPayloadTooLarge = errors.New("payload too large")
)

// Builder builds IPv4/UDP packets.
type Builder struct {
	// TTL is the TTL of the built packets.
	TTL uint8
}

// Build returns a new IPv4/UDP packet from source to destination carrying
// the provided payload verbatim. Lengths and checksums are computed.
func (b Builder) Build(payload []byte, source, destination netip.AddrPort) ([]byte, error) {
	src := source.Addr().Unmap()
	dst := destination.Addr().Unmap()
	if !src.Is4() {
		return nil, fmt.Errorf("%w: source %s", ErrNotIPv4, source)
	}
	if !dst.Is4() {
		return nil, fmt.Errorf("%w: destination %s", ErrNotIPv4, destination)
	}
	if len(payload) > MaxPayloadLength {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(payload))
	}
	ttl := b.TTL
	if ttl == 0 {
		ttl = DefaultTTL
	}

	srcIP := src.As4()
	dstIP := dst.As4()
	ip := layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      ttl,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    srcIP[:],
		DstIP:    dstIP[:],
	}
	udp := layers.UDP{
		SrcPort: layers.UDPPort(source.Port()),
		DstPort: layers.UDPPort(destination.Port()),
	}
	if err := udp.SetNetworkLayerForChecksum(&ip); err != nil {
		return nil, fmt.Errorf("cannot build UDP layer: %w", err)
	}

	buf := gopacket.NewSerializeBufferExpectedSize(
		IPv4HeaderLength+UDPHeaderLength, len(payload))
	opts := gopacket.SerializeOptions{
		FixLengths:       true,
		ComputeChecksums: true,
	}
	if err := gopacket.SerializeLayers(buf, opts, &ip, &udp, gopacket.Payload(payload)); err != nil {
		return nil, fmt.Errorf("cannot serialize packet: %w", err)
	}
	pkt := buf.Bytes()
	// A computed UDP checksum of 0 is transmitted as all ones (RFC 768).
	checksum := pkt[IPv4HeaderLength+6 : IPv4HeaderLength+8]
	if checksum[0] == 0 && checksum[1] == 0 {
		checksum[0], checksum[1] = 0xff, 0xff
	}
	return pkt, nil
}

// Checksum computes the one's complement of the one's complement sum of b
// taken as 16-bit big-endian words. A buffer including a valid checksum
// field sums to 0.
func Checksum(b []byte) uint16 {
	var sum uint32
	for ; len(b) >= 2; b = b[2:] {
		sum += uint32(b[0])<<8 | uint32(b[1])
	}
	if len(b) == 1 {
		sum += uint32(b[0]) << 8
	}
	for sum > 0xffff {
		sum = (sum >> 16) + (sum & 0xffff)
	}
	return ^uint16(sum)
}
