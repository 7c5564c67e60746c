package api

import (
	"context"
	"errors"
	"net/http"

	"todowithcouchbase/cbsetup/internal/orchestrator"

	"github.com/gin-gonic/gin"
)

// orchestratorService is the subset of *orchestrator.Orchestrator used by the
// HTTP handlers. Declaring it as an interface allows test doubles to be injected.
type orchestratorService interface {
	Start(ctx context.Context) error
	RunDeepHealth(ctx context.Context) map[string]orchestrator.ProbeResult
	IsReady() bool
	IsRunInProgress() bool
	LastResult() *orchestrator.RunResult
}

// Handler holds the dependencies shared across all HTTP handlers.
type Handler struct {
	orchestrator orchestratorService
	// runCtx outlives individual requests; cancelling it stops a background run.
	runCtx context.Context
}

// Bootstrap handles POST /api/v1/bootstrap.
// It returns 202 immediately when a new provisioning run is started, or 409 if
// one is already in progress. The run slot is claimed before responding; the
// run itself happens in a background goroutine.
func (h *Handler) Bootstrap(c *gin.Context) {
	err := h.orchestrator.Start(h.runCtx) //nolint:contextcheck
	switch {
	case errors.Is(err, orchestrator.ErrRunInProgress):
		c.JSON(http.StatusConflict, gin.H{"status": orchestrator.StatusInProgress})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
	}
}

// BootstrapResult handles GET /api/v1/bootstrap.
// It returns the per-step report of the most recent completed run.
func (h *Handler) BootstrapResult(c *gin.Context) {
	if h.orchestrator.IsRunInProgress() {
		c.JSON(http.StatusOK, gin.H{"status": orchestrator.StatusInProgress})
		return
	}
	result := h.orchestrator.LastResult()
	if result == nil {
		c.JSON(http.StatusNotFound, gin.H{"status": "not-started"})
		return
	}
	c.JSON(http.StatusOK, result)
}

// Health handles GET /health.
// It always returns 200; this is the liveness probe.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"mode":   "shallow",
	})
}

// DeepHealth handles GET /health/deep.
// It probes the admin and query services and returns 200 only when both are OK.
func (h *Handler) DeepHealth(c *gin.Context) {
	probes := h.orchestrator.RunDeepHealth(c.Request.Context())

	allOK := true
	for _, p := range probes {
		if !p.OK {
			allOK = false
			break
		}
	}

	status := "healthy"
	code := http.StatusOK
	if !allOK {
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, gin.H{
		"status":       status,
		"dependencies": probes,
	})
}

// Ready handles GET /ready.
// It returns 200 only after a fully successful run; 503 otherwise.
func (h *Handler) Ready(c *gin.Context) {
	if h.orchestrator.IsReady() {
		c.JSON(http.StatusOK, gin.H{"ready": true})
		return
	}
	c.JSON(http.StatusServiceUnavailable, gin.H{"ready": false})
}
