package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

// StreamEvents serves the session's change feed over SSE. Each event is
// tagged with the object's post-write updated_at so clients can discard
// stale events (last-write-wins). Past events are not replayed.
func (h *Handler) StreamEvents(c *gin.Context) {
	sessionID := c.Param("id")
	if _, err := h.reg.Get(sessionID); err != nil {
		h.writeError(c, err)
		return
	}

	sub := h.hub.Subscribe(sessionID)
	defer sub.Close()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return false
			}
			c.SSEvent(string(ev.Type), ev)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
