// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

// Package gap detects missing records from the sequence numbers of
// consecutive messages sent by the same exporter.
package gap

import (
	"cmp"
	"fmt"
	"net/netip"
	"slices"
)

// ExporterIdentity identifies a stream of sequence numbers.
type ExporterIdentity struct {
	Address             netip.Addr
	ObservationDomainID uint32
}

// NewExporterIdentity returns the identity of an exporter. IPv4-mapped IPv6
// addresses are unmapped.
func NewExporterIdentity(address netip.Addr, domain uint32) ExporterIdentity {
	return ExporterIdentity{
		Address:             address.Unmap(),
		ObservationDomainID: domain,
	}
}

// String returns a textual representation of an identity.
func (id ExporterIdentity) String() string {
	return fmt.Sprintf("%s/%d", id.Address, id.ObservationDomainID)
}

// Report is the outcome of the analysis of one sequence number.
type Report struct {
	// Missing is the number of sequence numbers skipped.
	Missing uint32
	// FirstSeen is true when the exporter was unknown.
	FirstSeen bool
	// OutOfOrder is true when the sequence number is late or duplicated.
	OutOfOrder bool
	// Reset is true when the baseline was re-established.
	Reset bool
	// Expected is the sequence number that was expected.
	Expected uint32
}

// ExporterState is a snapshot of what is known about an exporter.
type ExporterState struct {
	Exporter     string `json:"exporter"`
	Address      string `json:"address"`
	Domain       uint32 `json:"observation-domain-id"`
	Expected     uint32 `json:"expected"`
	LastSequence uint32 `json:"last-sequence"`
	Datagrams    uint64 `json:"datagrams"`
	Missing      uint64 `json:"missing"`
	OutOfOrder   uint64 `json:"out-of-order"`
	Resets       uint64 `json:"resets"`
}

type exporterState struct {
	expected     uint32
	lastSequence uint32
	datagrams    uint64
	missing      uint64
	outOfOrder   uint64
	resets       uint64
}

// Detector tracks the expected sequence number of each exporter. It is not
// safe for concurrent use.
type Detector struct {
	reorderWindow uint32
	exporters     map[ExporterIdentity]*exporterState
}

// NewDetector creates a new detector. Late sequence numbers within
// reorderWindow of the expected one are considered out of order. Older ones
// reset the baseline. A zero window never resets.
func NewDetector(reorderWindow uint32) *Detector {
	return &Detector{
		reorderWindow: reorderWindow,
		exporters:     make(map[ExporterIdentity]*exporterState),
	}
}

// Detect checks the provided sequence number against the expected one for
// the exporter and updates the state. The increment is the quantity the
// exporter adds to the sequence number for this message, 0 is handled as 1.
//
// Distances are computed modulo 2^32 and read as signed: a jump forward of
// 2^31 or more is seen as a late datagram, hence out of order within the
// reorder window or a reset beyond it, never as missing numbers.
func (d *Detector) Detect(id ExporterIdentity, sequence uint32, increment uint32) Report {
	if increment == 0 {
		increment = 1
	}
	state, ok := d.exporters[id]
	if !ok {
		d.exporters[id] = &exporterState{
			expected:     sequence + increment,
			lastSequence: sequence,
			datagrams:    1,
		}
		return Report{FirstSeen: true, Expected: sequence}
	}

	report := Report{Expected: state.expected}
	state.datagrams++
	state.lastSequence = sequence
	delta := int32(sequence - state.expected)
	switch {
	case delta == 0:
		state.expected += increment
	case delta > 0:
		report.Missing = uint32(delta)
		state.missing += uint64(delta)
		state.expected = sequence + increment
	case d.reorderWindow == 0 || uint32(-int64(delta)) <= d.reorderWindow:
		report.OutOfOrder = true
		state.outOfOrder++
	default:
		report.Reset = true
		state.resets++
		state.expected = sequence + increment
	}
	return report
}

// Exporters returns a snapshot of the state of each known exporter, sorted by
// address and observation domain.
func (d *Detector) Exporters() []ExporterState {
	ids := make([]ExporterIdentity, 0, len(d.exporters))
	for id := range d.exporters {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b ExporterIdentity) int {
		if c := a.Address.Compare(b.Address); c != 0 {
			return c
		}
		return cmp.Compare(a.ObservationDomainID, b.ObservationDomainID)
	})
	result := make([]ExporterState, 0, len(ids))
	for _, id := range ids {
		state := d.exporters[id]
		result = append(result, ExporterState{
			Exporter:     id.String(),
			Address:      id.Address.String(),
			Domain:       id.ObservationDomainID,
			Expected:     state.expected,
			LastSequence: state.lastSequence,
			Datagrams:    state.datagrams,
			Missing:      state.missing,
			OutOfOrder:   state.outOfOrder,
			Resets:       state.resets,
		})
	}
	return result
}
