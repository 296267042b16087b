// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package sender

// Type is the type of a sender.
type Type string

const (
	// TypeRaw sends packets through a raw socket.
	TypeRaw Type = "raw"
	// TypePcap writes packets into a pcap file.
	TypePcap Type = "pcap"
)

// Configuration describes the configuration of a sender.
type Configuration struct {
	// Type is the kind of sender to use.
	Type Type `validate:"oneof=raw pcap"`
	// File is the path of the pcap file when using the pcap sender.
	File string `validate:"required_if=Type pcap"`
}

// DefaultConfiguration returns the default configuration for a sender.
func DefaultConfiguration() Configuration {
	return Configuration{
		Type: TypeRaw,
	}
}
