// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package muxer

import (
	"fmt"
	"net/netip"
	"time"

	"flowmux/muxer/packet"
	"flowmux/muxer/sender"
)

// Configuration describes the configuration for the muxer component.
type Configuration struct {
	// Listen is the address to receive datagrams on.
	Listen string `validate:"required,listen"`
	// Destinations is the ordered list of collectors receiving a copy of
	// each datagram. Only IPv4 destinations are supported.
	Destinations []netip.AddrPort `validate:"min=1"`
	// Mode tells if datagrams are forwarded as is or inspected first.
	Mode Mode
	// TTL is the TTL of the forwarded packets.
	TTL uint8 `validate:"min=1"`
	// BufferSize is the size of the receive buffer. Larger datagrams are
	// truncated.
	BufferSize int `validate:"min=16,max=65536"`
	// ReceiveBuffer is the requested size of the socket receive buffer. When
	// 0, the kernel default is kept. The value cannot exceed
	// net.core.rmem_max.
	ReceiveBuffer uint
	// ReadTimeout bounds each wait for a datagram. It is also the maximum
	// delay to notice a stop request or to answer a healthcheck, which
	// gives up after 5 seconds.
	ReadTimeout time.Duration `validate:"min=1ms,max=4s"`
	// ProgressInterval is the number of datagrams between two progress log
	// lines. 0 disables them.
	ProgressInterval uint64
	// ReorderWindow is the distance below the expected sequence number
	// under which a datagram is considered out of order instead of
	// restarting the sequence. 0 never restarts.
	ReorderWindow uint32
	// Sender tells how to emit forwarded packets.
	Sender sender.Configuration
	// Breaker configures a circuit breaker for each destination.
	Breaker BreakerConfiguration
}

// BreakerConfiguration configures a circuit breaker for a destination. It is
// disabled when ErrorThreshold is 0.
type BreakerConfiguration struct {
	// ErrorThreshold is the number of consecutive errors opening the
	// breaker.
	ErrorThreshold int `validate:"min=0"`
	// SuccessThreshold is the number of successes closing a half-open
	// breaker.
	SuccessThreshold int `validate:"required_with=ErrorThreshold,min=0"`
	// Timeout is the time a destination is skipped when the breaker opens.
	Timeout time.Duration `validate:"required_with=ErrorThreshold,min=0"`
}

// DefaultConfiguration represents the default configuration for the muxer.
func DefaultConfiguration() Configuration {
	return Configuration{
		Listen:           "0.0.0.0:4739",
		Mode:             ModeRawCopy,
		TTL:              packet.DefaultTTL,
		BufferSize:       65536,
		ReceiveBuffer:    25 * 1024 * 1024,
		ReadTimeout:      time.Second,
		ProgressInterval: 5000,
		ReorderWindow:    1000,
		Sender:           sender.DefaultConfiguration(),
		Breaker: BreakerConfiguration{
			SuccessThreshold: 1,
			Timeout:          10 * time.Second,
		},
	}
}

// Mode is the processing mode of the muxer.
type Mode int

const (
	// ModeRawCopy forwards datagrams untouched.
	ModeRawCopy Mode = iota
	// ModeInspected parses the IPFIX header and tracks sequence numbers
	// before forwarding.
	ModeInspected
)

var modeNames = map[Mode]string{
	ModeRawCopy:   "raw-copy",
	ModeInspected: "inspected",
}

// String turns a mode into a string.
func (m Mode) String() string {
	if name, ok := modeNames[m]; ok {
		return name
	}
	return "unknown"
}

// MarshalText turns a mode into text.
func (m Mode) MarshalText() ([]byte, error) {
	if _, ok := modeNames[m]; !ok {
		return nil, fmt.Errorf("unknown mode %d", int(m))
	}
	return []byte(m.String()), nil
}

// UnmarshalText parses a mode.
func (m *Mode) UnmarshalText(input []byte) error {
	for mode, name := range modeNames {
		if name == string(input) {
			*m = mode
			return nil
		}
	}
	return fmt.Errorf("unknown mode %q", string(input))
}
