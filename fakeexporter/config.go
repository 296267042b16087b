// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package fakeexporter

// Configuration describes the configuration for the fake exporter.
type Configuration struct {
	// Target specify the IP address and port to send messages to.
	Target string `validate:"required,hostname_port"`
	// PerSecond defines how many messages are sent each second.
	PerSecond float64 `validate:"gt=0,max=100000"`
	// ObservationDomainID is the observation domain of the messages.
	ObservationDomainID uint32
	// PayloadSize is the size of the data set following the header.
	PayloadSize int `validate:"min=4,max=65000"`
	// LossEvery skips one sequence number every LossEvery messages. 0
	// disables it.
	LossEvery uint
	// InitialSequence is the sequence number of the first message.
	InitialSequence uint32
	// Seed defines a seed for the random generator producing the payload.
	Seed int64
}

// DefaultConfiguration represents the default configuration for the fake
// exporter.
func DefaultConfiguration() Configuration {
	return Configuration{
		PerSecond:           10,
		ObservationDomainID: 1,
		PayloadSize:         1000,
		InitialSequence:     1,
	}
}
