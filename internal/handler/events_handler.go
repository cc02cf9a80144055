package handler

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sibudis-api/internal/models"
	"github.com/noah-isme/sibudis-api/pkg/realtime"
)

const defaultHeartbeat = 25 * time.Second

type eventSource interface {
	Subscribe() (<-chan realtime.Event, func())
}

// EventsHandler streams change notifications as Server-Sent Events.
type EventsHandler struct {
	source    eventSource
	heartbeat time.Duration
}

// NewEventsHandler constructs the handler. A zero heartbeat uses 25s.
func NewEventsHandler(source eventSource, heartbeat time.Duration) *EventsHandler {
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	return &EventsHandler{source: source, heartbeat: heartbeat}
}

// Stream godoc
// @Summary Subscribe to change notifications
// @Description Admins receive every event with the row id. Teachers and parents receive table-level events without ids and never see account changes; clients re-fetch through the scoped endpoints
// @Tags Realtime
// @Produce text/event-stream
// @Param access_token query string false "Access token for clients that cannot send headers"
// @Success 200
// @Router /events [get]
func (h *EventsHandler) Stream(c *gin.Context) {
	principal, ok := principalOrAbort(c)
	if !ok {
		return
	}
	if h.source == nil {
		c.Status(http.StatusServiceUnavailable)
		return
	}

	events, cancel := h.source.Subscribe()
	defer cancel()

	header := c.Writer.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.SSEvent("ready", gin.H{"scope": principal.ScopeKey()})
	c.Writer.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()
	done := c.Request.Context().Done()

	c.Stream(func(io.Writer) bool {
		select {
		case <-done:
			return false
		case event, open := <-events:
			if !open {
				return false
			}
			if scoped, ok := scopeEvent(principal, event); ok {
				c.SSEvent(scoped.Name(), scoped)
			}
			return true
		case now := <-ticker.C:
			c.SSEvent("ping", now.Unix())
			return true
		}
	})
}

// scopeEvent trims an event to what the principal may learn. Non-admins get
// no row ids, since an id outside their class or child would still leak
// activity, and no events about accounts.
func scopeEvent(principal models.Principal, event realtime.Event) (realtime.Event, bool) {
	if principal.IsAdmin() {
		return event, true
	}
	if event.Table == "users" {
		return realtime.Event{}, false
	}
	event.RecordID = ""
	return event, true
}
