package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/NatureBlueee/Towow-sub000/communication"
	"github.com/NatureBlueee/Towow-sub000/config"
	"github.com/NatureBlueee/Towow-sub000/core"
	"github.com/NatureBlueee/Towow-sub000/echo"
	"github.com/NatureBlueee/Towow-sub000/logging"
	"github.com/NatureBlueee/Towow-sub000/metrics"
	"github.com/NatureBlueee/Towow-sub000/negotiation"
	"github.com/NatureBlueee/Towow-sub000/projector"
)

// maxWait caps the ?wait= long poll on results.
const maxWait = 60 * time.Second

// Handler serves the HTTP API over the node's components.
type Handler struct {
	Manager      *negotiation.Manager
	Projector    *projector.Projector
	Crystallizer *projector.Crystallizer
	Echoes       *echo.Collector
	Scenes       *config.Scenes
	Hub          *communication.Hub
	Metrics      *metrics.Metrics

	logger *logrus.Entry
}

// New returns a handler. Crystallizer, Echoes and Hub may be nil; their
// routes then answer 503.
func New(h Handler) *Handler {
	h.logger = logging.For("api")
	return &h
}

// statusFor maps the error taxonomy onto HTTP codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrPending):
		return http.StatusAccepted
	case errors.Is(err, core.ErrInvalidAgent), errors.Is(err, config.ErrInvalidScene),
		errors.Is(err, echo.ErrNotExternal), errors.Is(err, core.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrCancelled), errors.Is(err, negotiation.ErrIllegalTransition),
		errors.Is(err, negotiation.ErrNotCollecting), errors.Is(err, negotiation.ErrBarrierClosed),
		errors.Is(err, negotiation.ErrDuplicateResponse), errors.Is(err, negotiation.ErrUnexpectedResponder),
		errors.Is(err, echo.ErrDuplicate):
		return http.StatusConflict
	case core.IsRetryable(err):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func (h *Handler) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.WithError(err).WithField("path", c.FullPath()).Error("Request failed")
	}
	c.JSON(status, gin.H{"error": err.Error(), "retryable": core.IsRetryable(err)})
}

// SubmitSignal starts a negotiation.
func (h *Handler) SubmitSignal(c *gin.Context) {
	var req negotiation.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid signal: " + err.Error()})
		return
	}
	if req.SceneID == "" {
		req.SceneID = config.DefaultSceneID
	}
	id, err := h.Manager.Submit(c.Request.Context(), req)
	if err != nil {
		if statusFor(err) == http.StatusInternalServerError {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"negotiation_id": id})
}

// GetResult returns the outcome, or 202 with the current state while open.
// ?wait=10s long-polls until the negotiation closes.
func (h *Handler) GetResult(c *gin.Context) {
	id := c.Param("id")
	if w := c.Query("wait"); w != "" {
		d, err := time.ParseDuration(w)
		if err != nil || d <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid wait duration"})
			return
		}
		if d > maxWait {
			d = maxWait
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), d)
		defer cancel()
		if _, err := h.Manager.Wait(ctx, id); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			h.fail(c, err)
			return
		}
	}
	o, err := h.Manager.Result(id)
	if errors.Is(err, core.ErrPending) {
		c.JSON(http.StatusAccepted, gin.H{"status": "pending", "negotiation_id": id, "state": o.State, "round": o.Rounds})
		return
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

// ListSignals returns the negotiations held in memory.
func (h *Handler) ListSignals(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"negotiations": h.Manager.List(), "active": h.Manager.Active()})
}

// CancelSignal cancels an open negotiation.
func (h *Handler) CancelSignal(c *gin.Context) {
	id := c.Param("id")
	if err := h.Manager.Cancel(id); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"negotiation_id": id, "state": negotiation.StateCancelled})
}

// RetrySignal re-enters a failed negotiation.
func (h *Handler) RetrySignal(c *gin.Context) {
	o, err := h.Manager.Retry(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	status := http.StatusOK
	if !o.State.Closed() {
		status = http.StatusAccepted
	}
	c.JSON(status, o)
}

// OfferRequest is an offer or a decline pushed by an external agent.
type OfferRequest struct {
	AgentID    string  `json:"agent_id" binding:"required"`
	Content    string  `json:"content"`
	Confidence float64 `json:"confidence"`
	Decline    bool    `json:"decline"`
}

// SubmitOffer delivers an external agent's offer to the open barrier.
func (h *Handler) SubmitOffer(c *gin.Context) {
	var req OfferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid offer: " + err.Error()})
		return
	}
	id := c.Param("id")
	if req.Decline {
		if err := h.Manager.Decline(id, req.AgentID); err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "declined"})
		return
	}
	offer := core.Offer{AgentID: req.AgentID, Content: req.Content, Confidence: req.Confidence}
	if err := offer.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.Manager.SubmitOffer(id, offer); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

// Health reports liveness and a few gauges.
func (h *Handler) Health(c *gin.Context) {
	body := gin.H{"status": "ok", "active_negotiations": h.Manager.Active()}
	if h.Projector != nil {
		body["agents"] = h.Projector.Registry().Size()
	}
	if h.Hub != nil {
		body["ws_clients"] = h.Hub.Clients()
	}
	c.JSON(http.StatusOK, body)
}
