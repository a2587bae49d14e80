package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	gorillaws "github.com/gorilla/websocket"

	"github.com/wbcsd/pact-conformance-test-service/internal/websocket"
)

var upgrader = gorillaws.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// dashboards are served from other origins
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WebSocketHandler streams live results of a run.
type WebSocketHandler struct {
	hub *websocket.Hub
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(hub *websocket.Hub) *WebSocketHandler {
	return &WebSocketHandler{hub: hub}
}

// RegisterRoutes registers WebSocket routes
func (h *WebSocketHandler) RegisterRoutes(r *gin.Engine) {
	r.GET("/runs/:testRunId/stream", h.StreamTestRun)
}

// StreamTestRun upgrades the connection and forwards test_result, async_result and
// run_completed messages of one run.
func (h *WebSocketHandler) StreamTestRun(c *gin.Context) {
	testRunID := c.Param("testRunId")
	if testRunID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "testRunId is required"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already answered the client.
		return
	}

	client := websocket.NewClient(h.hub, conn, testRunID)
	h.hub.Register(client)

	go client.WritePump()
	go client.ReadPump()
}
