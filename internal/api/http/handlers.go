package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/microdeck/host/internal/engine"
	"github.com/microdeck/host/internal/infrastructure/monitoring"
)

// Handlers contains all HTTP handlers
type Handlers struct {
	engine  *engine.Engine
	metrics *monitoring.Metrics
	cartDir string
}

// NewHandlers creates a new handler set
func NewHandlers(eng *engine.Engine, metrics *monitoring.Metrics, cartDir string) *Handlers {
	return &Handlers{
		engine:  eng,
		metrics: metrics,
		cartDir: cartDir,
	}
}

// Root handles the service banner
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "Microdeck Host",
		"version": "0.3.0",
	})
}

// Health handles detailed health check
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"script": gin.H{
			"state":   h.engine.State().String(),
			"updates": h.engine.GetTotalUpdates(),
			"ups":     h.engine.CurrentUPS(),
		},
		"uptime_seconds": h.metrics.UptimeSeconds(),
	})
}

// Stats returns aggregate host statistics for dashboards
func (h *Handlers) Stats(c *gin.Context) {
	snap := h.metrics.GetSnapshot()

	avgDuration := 0.0
	if snap.RequestCount > 0 {
		avgDuration = snap.TotalDuration / float64(snap.RequestCount)
	}

	c.JSON(http.StatusOK, gin.H{
		"requests": gin.H{
			"total":            snap.TotalRequests,
			"errors":           snap.TotalErrors,
			"avg_duration_sec": avgDuration,
		},
		"connections": snap.ActiveConnections,
		"script": gin.H{
			"state":   h.engine.State().String(),
			"updates": h.engine.GetTotalUpdates(),
			"ups":     h.engine.CurrentUPS(),
		},
		"uptime_seconds": h.metrics.UptimeSeconds(),
	})
}

// ScriptStatus reports the loaded cart's state and scheduler settings
func (h *Handlers) ScriptStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"state":       h.engine.State().String(),
		"cart_id":     h.engine.CartID(),
		"updates":     h.engine.GetTotalUpdates(),
		"ups":         h.engine.CurrentUPS(),
		"update_rate": h.engine.GetTargetUpdateRate(),
		"render_rate": h.engine.GetTargetRenderRate(),
	})
}

// LoadScript loads a cart from a path
func (h *Handlers) LoadScript(c *gin.Context) {
	var req struct {
		Path string `json:"path" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if !h.engine.Load(req.Path) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error": "cart failed to load",
			"path":  req.Path,
		})
		return
	}
	h.scriptResult(c, true)
}

// StartScript starts the loaded cart
func (h *Handlers) StartScript(c *gin.Context) {
	h.scriptResult(c, h.engine.Start())
}

// StopScript stops the cart
func (h *Handlers) StopScript(c *gin.Context) {
	h.scriptResult(c, h.engine.Stop())
}

// PauseScript suspends the running cart
func (h *Handlers) PauseScript(c *gin.Context) {
	h.scriptResult(c, h.engine.Pause())
}

// ResumeScript continues a paused cart
func (h *Handlers) ResumeScript(c *gin.Context) {
	h.scriptResult(c, h.engine.Resume())
}

// ToggleScript toggles between running and paused
func (h *Handlers) ToggleScript(c *gin.Context) {
	h.scriptResult(c, h.engine.PauseOrResume())
}

// RestartScript restarts the loaded cart from the top
func (h *Handlers) RestartScript(c *gin.Context) {
	h.scriptResult(c, h.engine.Restart())
}

// ReloadScript re-reads the cart source from disk and starts it
func (h *Handlers) ReloadScript(c *gin.Context) {
	h.scriptResult(c, h.engine.ReloadAndStart())
}

// StepScript runs a single logic iteration of a paused cart
func (h *Handlers) StepScript(c *gin.Context) {
	h.scriptResult(c, h.engine.DebugStep())
}

// SetRates adjusts the scheduler's target rates. Omitted fields keep their
// current value; zero means unlimited.
func (h *Handlers) SetRates(c *gin.Context) {
	var req struct {
		UpdateRate *float64 `json:"update_rate"`
		RenderRate *float64 `json:"render_rate"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.UpdateRate != nil {
		h.engine.SetTargetUpdateRate(*req.UpdateRate)
	}
	if req.RenderRate != nil {
		h.engine.SetTargetRenderRate(*req.RenderRate)
	}

	c.JSON(http.StatusOK, gin.H{
		"update_rate": h.engine.GetTargetUpdateRate(),
		"render_rate": h.engine.GetTargetRenderRate(),
	})
}

// scriptResult reports whether a lifecycle operation applied. Operations
// invalid for the current state are ignored, not errors; CONFLICT tells the
// caller why nothing changed.
func (h *Handlers) scriptResult(c *gin.Context, applied bool) {
	status := http.StatusOK
	if !applied {
		status = http.StatusConflict
	}
	c.JSON(status, gin.H{
		"applied": applied,
		"state":   h.engine.State().String(),
	})
}
