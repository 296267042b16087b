// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

// Package sender emits fully built IPv4 packets.
package sender

import (
	"errors"
	"fmt"
	"net/netip"
)

// Sender emits already built IPv4 packets. Implementations are used from a
// single goroutine.
type Sender interface {
	// Send emits the provided packet toward the destination.
	Send(destination netip.AddrPort, packet []byte) error
	// Close releases the underlying resources.
	Close() error
}

// ErrClosed is returned when sending on a closed sender.
var ErrClosed = errors.New("sender closed")

// New opens the sender described by the configuration.
func New(config Configuration) (Sender, error) {
	var (
		s   Sender
		err error
	)
	switch config.Type {
	case TypeRaw:
		s, err = newRaw()
	case TypePcap:
		s, err = newPcap(config.File)
	default:
		return nil, fmt.Errorf("unknown sender type %q", config.Type)
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}
