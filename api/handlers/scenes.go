package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/NatureBlueee/Towow-sub000/core"
)

// SceneRequest is the body of PUT /api/scenes/:id. collect_timeout uses Go
// duration syntax ("30s").
type SceneRequest struct {
	KStar          int    `json:"k_star"`
	LensTemplate   string `json:"lens_template"`
	MinResponders  int    `json:"min_responders"`
	CollectTimeout string `json:"collect_timeout"`
	Adaptive       bool   `json:"adaptive"`
}

func (h *Handler) ListScenes(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"scenes": h.Scenes.List(), "default": h.Scenes.Scene("")})
}

func (h *Handler) GetScene(c *gin.Context) {
	c.JSON(http.StatusOK, h.Scenes.Scene(c.Param("id")))
}

// PutScene registers or replaces a scene.
func (h *Handler) PutScene(c *gin.Context) {
	var req SceneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid scene: " + err.Error()})
		return
	}
	sc := core.Scene{
		ID:            c.Param("id"),
		KStar:         req.KStar,
		LensTemplate:  req.LensTemplate,
		MinResponders: req.MinResponders,
		Adaptive:      req.Adaptive,
	}
	if req.CollectTimeout != "" {
		d, err := time.ParseDuration(req.CollectTimeout)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid collect_timeout: " + err.Error()})
			return
		}
		sc.CollectTimeout = d
	}
	if err := h.Scenes.Put(sc); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sc)
}
