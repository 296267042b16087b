// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

// Package muxer receives flow export datagrams and replicates each of them
// to a list of collectors, keeping the exporter as source of the forwarded
// packets.
package muxer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/eapache/go-resiliency/breaker"
	"gopkg.in/tomb.v2"

	"flowmux/common/daemon"
	"flowmux/common/httpserver"
	"flowmux/common/reporter"
	"flowmux/muxer/gap"
	"flowmux/muxer/packet"
	"flowmux/muxer/sender"
)

// ErrUnsupportedExporter is returned for datagrams received from an
// exporter that cannot be used as the source of forwarded packets.
var ErrUnsupportedExporter = errors.New("unsupported exporter address")

// Component represents the muxer component.
type Component struct {
	r      *reporter.Reporter
	d      *Dependencies
	t      tomb.Tomb
	config Configuration

	builder  packet.Builder
	detector *gap.Detector
	sender   sender.Sender
	conn     *net.UDPConn
	address  net.Addr

	destinations    []destination
	errLogger       reporter.Logger
	healthcheckChan chan reporter.ChannelHealthcheckFunc
	exportersChan   chan chan<- []gap.ExporterState

	metrics metrics
}

// destination is a configured destination with its precomputed label and
// optional breaker.
type destination struct {
	addr    netip.AddrPort
	label   string
	breaker *breaker.Breaker
}

// Dependencies define the dependencies of the muxer component.
type Dependencies struct {
	Daemon daemon.Component
	HTTP   *httpserver.Component
	// Sender is used to emit packets. When nil, one is created from the
	// configuration on start.
	Sender sender.Sender
}

// New creates a new muxer component.
func New(r *reporter.Reporter, configuration Configuration, dependencies Dependencies) (*Component, error) {
	if len(configuration.Destinations) == 0 {
		return nil, errors.New("at least one destination is needed")
	}
	c := Component{
		r:      r,
		d:      &dependencies,
		config: configuration,

		builder:         packet.Builder{TTL: configuration.TTL},
		errLogger:       r.Sample(reporter.BurstSampler(time.Minute, 100)),
		healthcheckChan: make(chan reporter.ChannelHealthcheckFunc),
		exportersChan:   make(chan chan<- []gap.ExporterState),
	}
	for _, addr := range configuration.Destinations {
		addr = netip.AddrPortFrom(addr.Addr().Unmap(), addr.Port())
		if !addr.Addr().Is4() {
			return nil, fmt.Errorf("destination %s is not IPv4", addr)
		}
		dst := destination{
			addr:  addr,
			label: addr.String(),
		}
		if configuration.Breaker.ErrorThreshold > 0 {
			dst.breaker = breaker.New(
				configuration.Breaker.ErrorThreshold,
				configuration.Breaker.SuccessThreshold,
				configuration.Breaker.Timeout)
		}
		c.destinations = append(c.destinations, dst)
	}
	if configuration.Mode == ModeInspected {
		c.detector = gap.NewDetector(configuration.ReorderWindow)
	}

	c.initMetrics()
	c.d.Daemon.Track(&c.t, "muxer")
	c.r.RegisterHealthcheck("muxer", reporter.ChannelHealthcheck(c.t.Context(nil), c.healthcheckChan))
	if c.d.HTTP != nil {
		c.d.HTTP.GinRouter.GET("/api/v0/muxer/exporters", c.exportersHTTPHandler)
	}
	return &c, nil
}

// Start starts listening and forwarding datagrams.
func (c *Component) Start() error {
	c.r.Info().
		Str("listen", c.config.Listen).
		Stringer("mode", c.config.Mode).
		Int("destinations", len(c.destinations)).
		Msg("starting muxer component")

	lc := listenConfig(c.r, udpSocketOptions)
	pconn, err := lc.ListenPacket(context.Background(), "udp", c.config.Listen)
	if err != nil {
		return fmt.Errorf("unable to listen to %v: %w", c.config.Listen, err)
	}
	conn := pconn.(*net.UDPConn)
	if c.config.ReceiveBuffer > 0 {
		if err := conn.SetReadBuffer(int(c.config.ReceiveBuffer)); err != nil {
			// On Linux, this does not trigger an error when we are above net.core.rmem_max.
			c.r.Warn().
				Err(err).
				Str("listen", c.config.Listen).
				Msgf("unable to set requested buffer size (%d bytes)", c.config.ReceiveBuffer)
		}
	}

	s := c.d.Sender
	if s == nil {
		s, err = sender.New(c.config.Sender)
		if err != nil {
			conn.Close()
			return fmt.Errorf("unable to create sender: %w", err)
		}
	}

	c.conn = conn
	c.sender = s
	c.address = conn.LocalAddr()
	c.r.Info().Str("listen", c.address.String()).Msg("muxer listening")

	c.t.Go(c.run)
	return nil
}

// Stop stops the muxer component.
func (c *Component) Stop() error {
	defer c.r.Info().Msg("muxer component stopped")
	c.r.Info().Msg("stopping muxer component")
	c.t.Kill(nil)
	return c.t.Wait()
}

// LocalAddr returns the address the muxer is listening to.
func (c *Component) LocalAddr() net.Addr {
	return c.address
}
