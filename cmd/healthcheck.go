// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package cmd

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

type healthcheckOptions struct {
	HTTP        string
	UnixService string
}

// HealthcheckOptions stores the command-line option values for the healthcheck
// command.
var HealthcheckOptions healthcheckOptions

func init() {
	RootCmd.AddCommand(healthcheckCmd)
	healthcheckCmd.Flags().StringVarP(&HealthcheckOptions.HTTP, "http", "", "",
		"HTTP host:port for health check")
	healthcheckCmd.Flags().StringVarP(&HealthcheckOptions.UnixService, "service", "", "",
		"Service to query over Unix socket")
}

var healthcheckCmd = &cobra.Command{
	Use:   "healthcheck",
	Short: "Check healthness",
	Long: `Check if flowmux is alive using the builtin HTTP endpoint. By default,
the abstract Unix socket of the local instance is queried.`,
	Args: cobra.ExactArgs(0),
	RunE: func(cmd *cobra.Command, _ []string) error {
		client := &http.Client{Timeout: 5 * time.Second}
		url := "http://unix/api/v0/healthcheck"
		if HealthcheckOptions.HTTP != "" {
			url = fmt.Sprintf("http://%s/api/v0/healthcheck", HealthcheckOptions.HTTP)
		} else {
			socket := "@flowmux"
			if HealthcheckOptions.UnixService != "" {
				socket = fmt.Sprintf("@flowmux/%s", HealthcheckOptions.UnixService)
			}
			client.Transport = &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					var d net.Dialer
					return d.DialContext(ctx, "unix", socket)
				},
			}
		}
		resp, err := client.Get(url)
		if err != nil {
			return fmt.Errorf("unable to query healthcheck: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("unhealthy: %s", resp.Status)
		}
		cmd.Println("ok")
		return nil
	},
}
