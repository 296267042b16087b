// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

//go:build !release

package sender

import (
	"net/netip"
	"sync"
	"testing"
	"time"
)

// SentPacket is a packet recorded by the mock sender.
type SentPacket struct {
	Destination netip.AddrPort
	Packet      []byte
}

// Mock is a sender recording packets in memory.
type Mock struct {
	mu       sync.Mutex
	sent     []SentPacket
	failures map[netip.AddrPort]error
	closed   bool
}

// NewMock creates a new mock sender.
func NewMock(t testing.TB) *Mock {
	t.Helper()
	return &Mock{failures: map[netip.AddrPort]error{}}
}

// FailFor makes any send to the destination return the provided error. A nil
// error restores normal operation.
func (m *Mock) FailFor(destination netip.AddrPort, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, destination)
		return
	}
	m.failures[destination] = err
}

// Send records the packet.
func (m *Mock) Send(destination netip.AddrPort, packet []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if err := m.failures[destination]; err != nil {
		return err
	}
	m.sent = append(m.sent, SentPacket{
		Destination: destination,
		Packet:      append([]byte(nil), packet...),
	})
	return nil
}

// Close marks the sender as closed.
func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Closed tells if the sender was closed.
func (m *Mock) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Sent returns a copy of the recorded packets.
func (m *Mock) Sent() []SentPacket {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentPacket(nil), m.sent...)
}

// WaitFor waits until at least count packets were recorded and returns them.
func (m *Mock) WaitFor(t testing.TB, count int) []SentPacket {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if sent := m.Sent(); len(sent) >= count {
			return sent
		}
		time.Sleep(5 * time.Millisecond)
	}
	sent := m.Sent()
	t.Fatalf("WaitFor(%d) got only %d packets", count, len(sent))
	return sent
}
