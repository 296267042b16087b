// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

// Package cmd handles the command-line interface for flowmux
package cmd

import (
	"github.com/spf13/cobra"
)

var debug bool

// RootCmd is the root for all commands
var RootCmd = &cobra.Command{
	Use:   "flowmux",
	Short: "IPFIX datagram fan-out",
	Long: `flowmux receives IPFIX datagrams on a UDP socket and forwards a copy of
each of them to several collectors, keeping the original exporter address.`,
	PersistentPreRun: func(*cobra.Command, []string) {
		SetupLogging(debug)
	},
	SilenceErrors: true,
	SilenceUsage:  true,
}

func init() {
	RootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false,
		"Enable debug logs")
}
