// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package muxer

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"strconv"
	"time"

	"github.com/eapache/go-resiliency/breaker"

	"flowmux/common/reporter"
	"flowmux/muxer/gap"
	"flowmux/muxer/ipfix"
)

// maxHexDump is the maximum number of bytes of a malformed datagram logged.
const maxHexDump = 512

// run is the receive loop. It owns the socket, the sender and the detector.
func (c *Component) run() error {
	defer func() {
		if err := c.sender.Close(); err != nil {
			c.r.Err(err).Msg("unable to close sender")
		}
	}()
	defer c.conn.Close()

	buf := make([]byte, c.config.BufferSize)
	oob := make([]byte, oobLength)
	dying := c.t.Dying()
	var (
		count     uint64
		lastDrops uint32
	)
	for {
		// Side channels
	sideChannels:
		for {
			select {
			case <-dying:
				return nil
			case cb := <-c.healthcheckChan:
				cb(reporter.HealthcheckOK, "ok")
			case reply := <-c.exportersChan:
				reply <- c.exporters()
			default:
				break sideChannels
			}
		}

		if err := c.conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout)); err != nil {
			return fmt.Errorf("unable to set read deadline: %w", err)
		}
		n, oobn, flags, source, err := c.conn.ReadMsgUDPAddrPort(buf, oob)
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			c.metrics.receiveErrors.Inc()
			c.r.Err(err).Msg("unable to receive datagram")
			return fmt.Errorf("unable to receive datagram: %w", err)
		}

		if oobn > 0 {
			oobMsg, err := parseSocketControlMessage(oob[:oobn])
			if err != nil {
				c.errLogger.Err(err).Msg("unable to decode UDP control message")
			} else if oobMsg.Drops > lastDrops {
				c.metrics.kernelDrops.Add(float64(oobMsg.Drops - lastDrops))
				lastDrops = oobMsg.Drops
			}
		}

		c.process(buf[:n], truncatedDatagram(n, flags, len(buf)), source)

		count++
		if c.config.ProgressInterval > 0 && count%c.config.ProgressInterval == 0 {
			c.r.Debug().Uint64("datagrams", count).Msg("datagrams processed")
		}
	}
}

// process handles one datagram: payload extraction and fan-out.
func (c *Component) process(datagram []byte, full bool, source netip.AddrPort) {
	exporter := source.Addr().Unmap()
	exporterStr := exporter.String()
	c.metrics.datagrams.WithLabelValues(exporterStr).Inc()
	c.metrics.bytes.WithLabelValues(exporterStr).Add(float64(len(datagram)))
	c.metrics.datagramSizes.WithLabelValues(exporterStr).Observe(float64(len(datagram)))
	if full {
		c.metrics.truncated.WithLabelValues(exporterStr).Inc()
	}

	payload, err := c.payload(datagram, exporter, exporterStr)
	if err != nil {
		c.drop(datagram, exporterStr, err)
		return
	}

	src := netip.AddrPortFrom(exporter, source.Port())
	for i := range c.destinations {
		c.forward(&c.destinations[i], payload, src)
	}
}

// payload returns the bytes to forward for a datagram.
func (c *Component) payload(datagram []byte, exporter netip.Addr, exporterStr string) ([]byte, error) {
	if !exporter.Is4() {
		return nil, fmt.Errorf("%w: %s is not IPv4", ErrUnsupportedExporter, exporter)
	}
	if c.config.Mode == ModeRawCopy {
		return datagram, nil
	}

	header, err := ipfix.ParseHeader(datagram)
	if err != nil {
		return nil, err
	}
	id := gap.NewExporterIdentity(exporter, header.ObservationDomainID)
	report := c.detector.Detect(id, header.SequenceNumber, 1)
	c.logReport(id, exporterStr, header.SequenceNumber, report)
	return header.AppendBytes(datagram[ipfix.HeaderLength:])
}

// logReport logs and counts the outcome of the gap detection.
func (c *Component) logReport(id gap.ExporterIdentity, exporterStr string, sequence uint32, report gap.Report) {
	domain := strconv.FormatUint(uint64(id.ObservationDomainID), 10)
	switch {
	case report.FirstSeen:
		c.r.Info().
			Str("exporter", exporterStr).
			Uint32("domain", id.ObservationDomainID).
			Uint32("sequence", sequence).
			Msg("new exporter")
	case report.Missing > 0:
		c.metrics.missingRecords.WithLabelValues(exporterStr, domain).Add(float64(report.Missing))
		c.errLogger.Warn().
			Str("exporter", exporterStr).
			Uint32("domain", id.ObservationDomainID).
			Uint32("expected", report.Expected).
			Uint32("sequence", sequence).
			Uint32("missing", report.Missing).
			Msg("missing sequence numbers")
	case report.OutOfOrder:
		c.metrics.outOfOrder.WithLabelValues(exporterStr, domain).Inc()
		c.errLogger.Debug().
			Str("exporter", exporterStr).
			Uint32("domain", id.ObservationDomainID).
			Uint32("expected", report.Expected).
			Uint32("sequence", sequence).
			Msg("out of order datagram")
	case report.Reset:
		c.metrics.sequenceResets.WithLabelValues(exporterStr, domain).Inc()
		c.errLogger.Info().
			Str("exporter", exporterStr).
			Uint32("domain", id.ObservationDomainID).
			Uint32("expected", report.Expected).
			Uint32("sequence", sequence).
			Msg("sequence reset")
	}
}

// drop handles a datagram that cannot be forwarded.
func (c *Component) drop(datagram []byte, exporterStr string, err error) {
	var reason string
	switch {
	case errors.Is(err, ipfix.ErrHeaderParse):
		reason = "parse"
	case errors.Is(err, ipfix.ErrHeaderSerialize):
		reason = "serialize"
	case errors.Is(err, ErrUnsupportedExporter):
		reason = "exporter"
	default:
		reason = "unknown"
	}
	c.metrics.malformed.WithLabelValues(exporterStr, reason).Inc()
	dump := datagram
	if len(dump) > maxHexDump {
		dump = dump[:maxHexDump]
	}
	c.errLogger.Warn().
		Err(err).
		Str("exporter", exporterStr).
		Int("size", len(datagram)).
		Hex("datagram", dump).
		Msg("dropping datagram")
}

// forward builds and sends a packet to one destination. Errors only affect
// this destination.
func (c *Component) forward(dst *destination, payload []byte, source netip.AddrPort) {
	pkt, err := c.builder.Build(payload, source, dst.addr)
	if err != nil {
		c.metrics.sendErrors.WithLabelValues(dst.label, "build").Inc()
		c.errLogger.Err(err).
			Str("destination", dst.label).
			Msg("unable to build packet")
		return
	}
	send := func() error { return c.sender.Send(dst.addr, pkt) }
	if dst.breaker != nil {
		err = dst.breaker.Run(send)
		if errors.Is(err, breaker.ErrBreakerOpen) {
			c.metrics.breakerSkips.WithLabelValues(dst.label).Inc()
			c.errLogger.Warn().
				Str("destination", dst.label).
				Msg("destination breaker open")
			return
		}
	} else {
		err = send()
	}
	if err != nil {
		c.metrics.sendErrors.WithLabelValues(dst.label, "send").Inc()
		c.errLogger.Err(err).
			Str("destination", dst.label).
			Msg("unable to send packet")
		return
	}
	c.metrics.packetsSent.WithLabelValues(dst.label).Inc()
	c.metrics.bytesSent.WithLabelValues(dst.label).Add(float64(len(pkt)))
}

// exporters returns the state of the gap detector.
func (c *Component) exporters() []gap.ExporterState {
	if c.detector == nil {
		return []gap.ExporterState{}
	}
	return c.detector.Exporters()
}
