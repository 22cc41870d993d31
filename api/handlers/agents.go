package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/NatureBlueee/Towow-sub000/communication"
	"github.com/NatureBlueee/Towow-sub000/core"
	"github.com/NatureBlueee/Towow-sub000/profile"
)

// RegisterAgentRequest registers a general agent and optionally seeds its data.
type RegisterAgentRequest struct {
	ID         string   `json:"id"`
	SourceType string   `json:"source_type" binding:"required"`
	Lens       string   `json:"lens"`
	Scope      []string `json:"scope"`
	profile.Seed
}

// RegisterAgent - Registers a new general agent
func (h *Handler) RegisterAgent(c *gin.Context) {
	var req RegisterAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid agent data: " + err.Error()})
		return
	}
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	if _, err := h.Projector.Registry().Get(req.ID); err == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "agent " + req.ID + " already registered"})
		return
	}
	src, err := h.Projector.Source(req.SourceType)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := profile.Apply(src, req.ID, req.Seed); err != nil {
		h.fail(c, err)
		return
	}

	agent := core.AgentIdentity{
		ID:         req.ID,
		SourceType: req.SourceType,
		Type:       core.AgentGeneral,
		Lens:       strings.TrimSpace(req.Lens),
		Scope:      req.Scope,
	}
	if err := h.Projector.Registry().Register(agent); err != nil {
		h.fail(c, err)
		return
	}
	// A first projection surfaces missing data at registration time.
	if _, err := h.Projector.Snapshot(c.Request.Context(), agent.ID); err != nil {
		h.logger.WithError(err).WithField("agent_id", agent.ID).Warn("Registered agent is not projectable yet")
	}

	if h.Hub != nil {
		h.Hub.Broadcast(communication.EventAgentRegistered, agent)
	}
	c.JSON(http.StatusCreated, agent)
}

// ListAgents returns every registered agent, or the children of ?parent=.
func (h *Handler) ListAgents(c *gin.Context) {
	reg := h.Projector.Registry()
	if parent := c.Query("parent"); parent != "" {
		if _, err := reg.Get(parent); err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"agents": reg.Children(parent)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"agents": reg.All(), "total": reg.Size()})
}

// GetAgent returns one agent with its current projection fingerprint.
func (h *Handler) GetAgent(c *gin.Context) {
	id := c.Param("id")
	agent, err := h.Projector.Registry().Get(id)
	if err != nil {
		h.fail(c, err)
		return
	}
	body := gin.H{"agent": agent}
	if proj, err := h.Projector.Snapshot(c.Request.Context(), id); err == nil {
		body["fingerprint"] = proj.Vector.Fingerprint()
		body["version"] = proj.Version
	} else {
		body["projection_error"] = err.Error()
	}
	c.JSON(http.StatusOK, body)
}

// SpecializeRequest names the lens of the specialized agent to create.
type SpecializeRequest struct {
	Lens string `json:"lens" binding:"required"`
}

// SpecializeAgent seeds a specialized agent under an existing one.
func (h *Handler) SpecializeAgent(c *gin.Context) {
	if h.Crystallizer == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "specialization disabled"})
		return
	}
	var req SpecializeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid lens: " + err.Error()})
		return
	}
	child, err := h.Crystallizer.Seed(c.Request.Context(), c.Param("id"), req.Lens)
	if err != nil && child.ID == "" {
		h.fail(c, err)
		return
	}
	if err != nil {
		c.JSON(http.StatusAccepted, gin.H{"agent": child, "warning": err.Error()})
		return
	}
	if h.Hub != nil {
		h.Hub.Broadcast(communication.EventAgentRegistered, child)
	}
	c.JSON(http.StatusCreated, child)
}
