// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package muxer

import "flowmux/common/reporter"

type metrics struct {
	datagrams        *reporter.CounterVec
	bytes            *reporter.CounterVec
	datagramSizes    *reporter.SummaryVec
	malformed        *reporter.CounterVec
	truncated        *reporter.CounterVec
	receiveErrors    reporter.Counter
	kernelDrops      reporter.Counter
	packetsSent      *reporter.CounterVec
	bytesSent        *reporter.CounterVec
	sendErrors       *reporter.CounterVec
	breakerSkips     *reporter.CounterVec
	missingRecords   *reporter.CounterVec
	outOfOrder       *reporter.CounterVec
	sequenceResets   *reporter.CounterVec
	destinationCount reporter.GaugeFunc
}

func (c *Component) initMetrics() {
	c.metrics.datagrams = c.r.CounterVec(
		reporter.CounterOpts{
			Name: "datagrams_received_total",
			Help: "Datagrams received from exporters.",
		},
		[]string{"exporter"},
	)
	c.metrics.bytes = c.r.CounterVec(
		reporter.CounterOpts{
			Name: "bytes_received_total",
			Help: "Bytes received from exporters.",
		},
		[]string{"exporter"},
	)
	c.metrics.datagramSizes = c.r.SummaryVec(
		reporter.SummaryOpts{
			Name:       "datagram_size_bytes",
			Help:       "Summary of datagram sizes.",
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		},
		[]string{"exporter"},
	)
	c.metrics.malformed = c.r.CounterVec(
		reporter.CounterOpts{
			Name: "malformed_datagrams_total",
			Help: "Datagrams dropped because they cannot be processed.",
		},
		[]string{"exporter", "error"},
	)
	c.metrics.truncated = c.r.CounterVec(
		reporter.CounterOpts{
			Name: "truncated_datagrams_total",
			Help: "Datagrams filling the whole receive buffer.",
		},
		[]string{"exporter"},
	)
	c.metrics.receiveErrors = c.r.Counter(
		reporter.CounterOpts{
			Name: "receive_errors_total",
			Help: "Errors while receiving datagrams.",
		},
	)
	c.metrics.kernelDrops = c.r.Counter(
		reporter.CounterOpts{
			Name: "kernel_dropped_datagrams_total",
			Help: "Datagrams dropped by the kernel because the receive queue was full.",
		},
	)
	c.metrics.packetsSent = c.r.CounterVec(
		reporter.CounterOpts{
			Name: "packets_sent_total",
			Help: "Packets sent to destinations.",
		},
		[]string{"destination"},
	)
	c.metrics.bytesSent = c.r.CounterVec(
		reporter.CounterOpts{
			Name: "bytes_sent_total",
			Help: "Bytes sent to destinations, IP and UDP headers included.",
		},
		[]string{"destination"},
	)
	c.metrics.sendErrors = c.r.CounterVec(
		reporter.CounterOpts{
			Name: "send_errors_total",
			Help: "Errors while building or sending packets to destinations.",
		},
		[]string{"destination", "error"},
	)
	c.metrics.breakerSkips = c.r.CounterVec(
		reporter.CounterOpts{
			Name: "breaker_skipped_packets_total",
			Help: "Packets not sent because the destination breaker is open.",
		},
		[]string{"destination"},
	)
	c.metrics.missingRecords = c.r.CounterVec(
		reporter.CounterOpts{
			Name: "missing_sequence_numbers_total",
			Help: "Sequence numbers skipped by exporters.",
		},
		[]string{"exporter", "domain"},
	)
	c.metrics.outOfOrder = c.r.CounterVec(
		reporter.CounterOpts{
			Name: "out_of_order_datagrams_total",
			Help: "Datagrams received with a late or duplicated sequence number.",
		},
		[]string{"exporter", "domain"},
	)
	c.metrics.sequenceResets = c.r.CounterVec(
		reporter.CounterOpts{
			Name: "sequence_resets_total",
			Help: "Number of times the sequence baseline of an exporter was reset.",
		},
		[]string{"exporter", "domain"},
	)
	c.metrics.destinationCount = c.r.GaugeFunc(
		reporter.GaugeOpts{
			Name: "destinations",
			Help: "Number of configured destinations.",
		},
		func() float64 { return float64(len(c.config.Destinations)) },
	)
}
