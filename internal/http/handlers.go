// Package http exposes the tool surface over a thin JSON API. The
// transport decodes inputs, dispatches to the wrapped handlers, and writes
// the reply envelope; all semantics live in the gateway package.
package http

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/browsergate/browsergate/internal/gateway"
	"github.com/browsergate/browsergate/internal/session"
)

// Handlers contains all HTTP handlers.
type Handlers struct {
	tools *gateway.Tools
	sess  *session.Context
}

// NewHandlers creates a new handler set.
func NewHandlers(tools *gateway.Tools, sess *session.Context) *Handlers {
	return &Handlers{tools: tools, sess: sess}
}

// Root handles the health banner.
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "browsergate",
		"version": "0.3.0",
	})
}

// Health reports session readiness.
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":             "healthy",
		"agent_tag":          h.sess.EnsureAgentTag(),
		"driver_initialized": h.sess.IsDriverInitialized(),
		"window_ready":       h.sess.IsWindowReady(),
		"debugger":           h.sess.DebuggerAddress(),
	})
}

// ListTools lists the registered tool names.
func (h *Handlers) ListTools(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tools": h.tools.Names()})
}

// ExecuteTool dispatches one tool call. Tool-level failures are part of the
// reply envelope, not HTTP errors: the transport always answers 200 once
// the input parses.
func (h *Handlers) ExecuteTool(c *gin.Context) {
	name := c.Param("name")

	var params gateway.Params
	if err := c.ShouldBindJSON(&params); err != nil && err != io.EOF {
		c.JSON(http.StatusBadRequest, gin.H{
			"ok":      false,
			"error":   "invalid_params",
			"message": "request body must be a JSON object",
		})
		return
	}

	reply := h.tools.Execute(c.Request.Context(), name, params)
	c.JSON(http.StatusOK, reply)
}
