// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

//go:build !linux

package sender

import (
	"errors"
	"net/netip"
)

type raw struct{}

func newRaw() (*raw, error) {
	return nil, errors.New("raw sender not supported by this platform")
}

func (*raw) Send(netip.AddrPort, []byte) error { return ErrClosed }
func (*raw) Close() error                      { return nil }
