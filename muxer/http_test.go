// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package muxer

import (
	"testing"

	"github.com/gin-gonic/gin"

	"flowmux/common/helpers"
)

func TestExportersHTTPHandler(t *testing.T) {
	tm := newTestMuxer(t, func(config *Configuration) {
		config.Mode = ModeInspected
		config.Destinations = testDestinations[:1]
	})
	tm.send(t,
		ipfixMessage(1000, 7, []byte("one")),
		ipfixMessage(1003, 7, []byte("two")),
		ipfixMessage(50, 8, []byte("three")),
	)
	tm.sender.WaitFor(t, 3)

	helpers.TestHTTPEndpoints(t, tm.http.LocalAddr(), helpers.HTTPEndpointCases{
		{
			URL: "/api/v0/muxer/exporters",
			JSONOutput: gin.H{
				"mode": "inspected",
				"exporters": []gin.H{
					{
						"exporter":              "127.0.0.1/7",
						"address":               "127.0.0.1",
						"observation-domain-id": 7,
						"expected":              1004,
						"last-sequence":         1003,
						"datagrams":             2,
						"missing":               2,
						"out-of-order":          0,
						"resets":                0,
					}, {
						"exporter":              "127.0.0.1/8",
						"address":               "127.0.0.1",
						"observation-domain-id": 8,
						"expected":              51,
						"last-sequence":         50,
						"datagrams":             1,
						"missing":               0,
						"out-of-order":          0,
						"resets":                0,
					},
				},
			},
		},
	})
}

func TestExportersHTTPHandlerRawCopy(t *testing.T) {
	tm := newTestMuxer(t, nil)
	helpers.TestHTTPEndpoints(t, tm.http.LocalAddr(), helpers.HTTPEndpointCases{
		{
			URL: "/api/v0/muxer/exporters",
			JSONOutput: gin.H{
				"mode":      "raw-copy",
				"exporters": []gin.H{},
			},
		},
	})
}
