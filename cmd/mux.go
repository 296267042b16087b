// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"flowmux/common/daemon"
	"flowmux/common/httpserver"
	"flowmux/common/reporter"
	"flowmux/muxer"
)

// MuxConfiguration represents the configuration file for the mux command.
type MuxConfiguration struct {
	Reporting reporter.Configuration
	HTTP      httpserver.Configuration
	Muxer     muxer.Configuration
}

// Reset resets the configuration for the mux command to its default value.
func (c *MuxConfiguration) Reset() {
	*c = MuxConfiguration{
		HTTP:      httpserver.DefaultConfiguration(),
		Reporting: reporter.DefaultConfiguration(),
		Muxer:     muxer.DefaultConfiguration(),
	}
}

type muxOptions struct {
	ConfigRelatedOptions
	CheckMode bool
}

// MuxOptions stores the command-line option values for the mux
// command.
var MuxOptions muxOptions

var muxCmd = &cobra.Command{
	Use:   "mux [config]",
	Short: "Start the IPFIX fan-out service",
	Long: `Receive IPFIX datagrams and send a copy of each of them to all the
configured destinations, spoofing the exporter address. Without a
configuration file, the configuration is read from FLOWMUX_MUX_*
environment variables.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		config := MuxConfiguration{}
		MuxOptions.Path = ""
		if len(args) == 1 {
			MuxOptions.Path = args[0]
		}
		if err := MuxOptions.Parse(cmd.OutOrStdout(), "mux", &config); err != nil {
			return err
		}

		r, err := reporter.New(config.Reporting)
		if err != nil {
			return fmt.Errorf("unable to initialize reporter: %w", err)
		}
		return muxStart(r, config, MuxOptions.CheckMode)
	},
}

func init() {
	RootCmd.AddCommand(muxCmd)
	muxCmd.Flags().BoolVarP(&MuxOptions.ConfigRelatedOptions.Dump, "dump", "D", false,
		"Dump configuration before starting")
	muxCmd.Flags().BoolVarP(&MuxOptions.CheckMode, "check", "C", false,
		"Check configuration, but does not start")
}

func muxStart(r *reporter.Reporter, config MuxConfiguration, checkOnly bool) error {
	// Initialize the various components
	daemonComponent, err := daemon.New(r)
	if err != nil {
		return fmt.Errorf("unable to initialize daemon component: %w", err)
	}
	httpComponent, err := httpserver.New(r, "mux", config.HTTP, httpserver.Dependencies{
		Daemon: daemonComponent,
	})
	if err != nil {
		return fmt.Errorf("unable to initialize http component: %w", err)
	}
	muxerComponent, err := muxer.New(r, config.Muxer, muxer.Dependencies{
		Daemon: daemonComponent,
		HTTP:   httpComponent,
	})
	if err != nil {
		return fmt.Errorf("unable to initialize muxer component: %w", err)
	}

	// Expose some information and metrics
	addCommonHTTPHandlers(r, "mux", httpComponent)
	versionMetrics(r)

	// If we only asked for a check, stop here.
	if checkOnly {
		return nil
	}

	// Start all the components.
	components := []any{
		httpComponent,
		muxerComponent,
	}
	return StartStopComponents(r, daemonComponent, components)
}
