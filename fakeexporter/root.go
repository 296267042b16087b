// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

// Package fakeexporter simulates an IPFIX exporter.
package fakeexporter

import (
	"encoding/binary"
	"fmt"
	"math/rand"
	"net"
	"time"

	"github.com/benbjohnson/clock"
	"gopkg.in/tomb.v2"

	"flowmux/common/daemon"
	"flowmux/common/reporter"
	"flowmux/muxer/ipfix"
)

// dataSetID is the set ID used for the generated data set.
const dataSetID = 256

// Component represents the fake exporter component.
type Component struct {
	r      *reporter.Reporter
	d      *Dependencies
	t      tomb.Tomb
	config Configuration

	metrics struct {
		sent    reporter.Counter
		skipped reporter.Counter
		errors  *reporter.CounterVec
	}
}

// Dependencies define the dependencies of the fake exporter component.
type Dependencies struct {
	Daemon daemon.Component
	Clock  clock.Clock
}

// New creates a new fake exporter component.
func New(r *reporter.Reporter, config Configuration, dependencies Dependencies) (*Component, error) {
	if dependencies.Clock == nil {
		dependencies.Clock = clock.New()
	}
	c := Component{
		r:      r,
		d:      &dependencies,
		config: config,
	}

	c.metrics.sent = c.r.Counter(
		reporter.CounterOpts{
			Name: "sent_messages_total",
			Help: "Number of messages sent.",
		},
	)
	c.metrics.skipped = c.r.Counter(
		reporter.CounterOpts{
			Name: "skipped_sequence_numbers_total",
			Help: "Number of sequence numbers skipped on purpose.",
		},
	)
	c.metrics.errors = c.r.CounterVec(
		reporter.CounterOpts{
			Name: "errors_total",
			Help: "Number of transmission errors.",
		},
		[]string{"error"},
	)

	c.d.Daemon.Track(&c.t, "fakeexporter")
	return &c, nil
}

// Start starts the fake exporter component.
func (c *Component) Start() error {
	c.r.Info().Str("target", c.config.Target).Msg("starting fake exporter component")
	conn, err := net.Dial("udp", c.config.Target)
	if err != nil {
		return fmt.Errorf("cannot create socket to %q: %w", c.config.Target, err)
	}

	interval := time.Duration(float64(time.Second) / c.config.PerSecond)
	ticker := c.d.Clock.Ticker(interval)
	errLogger := c.r.Sample(reporter.BurstSampler(time.Minute, 10))
	random := rand.New(rand.NewSource(c.config.Seed))

	c.t.Go(func() error {
		defer conn.Close()
		defer ticker.Stop()
		sequence := c.config.InitialSequence
		var count uint
		for {
			select {
			case <-c.t.Dying():
				return nil
			case now := <-ticker.C:
				message := c.message(random, sequence, now)
				if _, err := conn.Write(message); err != nil {
					c.metrics.errors.WithLabelValues(err.Error()).Inc()
					errLogger.Err(err).Msg("unable to send UDP payload")
				} else {
					c.metrics.sent.Inc()
				}
				sequence++
				count++
				if c.config.LossEvery > 0 && count%c.config.LossEvery == 0 {
					sequence++
					c.metrics.skipped.Inc()
				}
			}
		}
	})
	return nil
}

// message builds an IPFIX message containing one data set of random bytes.
func (c *Component) message(random *rand.Rand, sequence uint32, now time.Time) []byte {
	out := make([]byte, ipfix.HeaderLength+c.config.PayloadSize)
	ipfix.Header{
		Version:             ipfix.Version,
		Length:              uint16(len(out)),
		ExportTime:          uint32(now.Unix()),
		SequenceNumber:      sequence,
		ObservationDomainID: c.config.ObservationDomainID,
	}.Put(out)
	set := out[ipfix.HeaderLength:]
	binary.BigEndian.PutUint16(set[0:2], dataSetID)
	binary.BigEndian.PutUint16(set[2:4], uint16(len(set)))
	random.Read(set[4:])
	return out
}

// Stop stops the fake exporter component.
func (c *Component) Stop() error {
	defer c.r.Info().Msg("fake exporter component stopped")
	c.r.Info().Msg("stopping fake exporter component")
	c.t.Kill(nil)
	return c.t.Wait()
}
