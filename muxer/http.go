// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

package muxer

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"flowmux/muxer/gap"
)

// exportersHTTPHandler returns the state of the gap detector. The request is
// answered by the receive loop.
func (c *Component) exportersHTTPHandler(gc *gin.Context) {
	reply := make(chan []gap.ExporterState, 1)
	select {
	case c.exportersChan <- reply:
	case <-c.t.Dying():
		gc.JSON(http.StatusServiceUnavailable, gin.H{"message": "muxer is stopping"})
		return
	case <-gc.Request.Context().Done():
		gc.JSON(http.StatusServiceUnavailable, gin.H{"message": "request cancelled"})
		return
	}
	gc.JSON(http.StatusOK, gin.H{
		"mode":      c.config.Mode.String(),
		"exporters": <-reply,
	})
}
