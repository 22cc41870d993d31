package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/NatureBlueee/Towow-sub000/core"
)

// RecordEcho accepts an outcome reported by an external source.
func (h *Handler) RecordEcho(c *gin.Context) {
	if h.Echoes == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "echo collection disabled"})
		return
	}
	var ev core.EchoEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid echo: " + err.Error()})
		return
	}
	if ev.ObservedAt.IsZero() {
		ev.ObservedAt = time.Now().UTC()
	}
	if err := ev.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.Echoes.Record(c.Request.Context(), ev); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "recorded", "agent_id": ev.AgentID})
}
