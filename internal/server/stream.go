package server

import (
	"io"
	"net/http"
	"time"

	"github.com/Luciana501/koli-admin-sub001/internal/realtime"
	"github.com/gin-gonic/gin"
)

type streamEventPayload struct {
	Subjects  []string `json:"subjects"`
	Timestamp string   `json:"timestamp"`
}

// handleStream pushes ledger change notifications to admin dashboards as server-sent
// events. Clients refetch the named subjects; payloads never carry balances.
func (h *httpHandler) handleStream(c *gin.Context) {
	if h.realtime == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "realtime_unavailable"})
		return
	}

	ctx := c.Request.Context()
	events, cleanup := h.realtime.Subscribe(ctx, realtime.ChannelAdmin)
	defer cleanup()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case message, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent(message.EventType, streamEventPayload{
				Subjects:  message.Subjects,
				Timestamp: message.Timestamp.UTC().Format(time.RFC3339Nano),
			})
			return true
		case now := <-ticker.C:
			c.SSEvent(realtime.EventHeartbeat, streamEventPayload{
				Subjects:  []string{},
				Timestamp: now.UTC().Format(time.RFC3339Nano),
			})
			return true
		}
	})
}
