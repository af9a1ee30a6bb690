package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"
)

// keepaliveInterval is how often an SSE comment goes out on an idle stream so
// intermediaries do not close the connection.
const keepaliveInterval = 30 * time.Second

// streamHandler handles GET /api/stream: a server-sent-events feed of the
// tenant's event_ingested and session_updated messages.
func (s *Server) streamHandler(c *echo.Context) error {
	tenant := tenantID(c)
	sub := s.deps.Bus.Subscribe(tenant)
	defer s.deps.Bus.Unsubscribe(sub)

	w := c.Response()
	rc := http.NewResponseController(w)
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		return err
	}

	ctx := c.Request().Context()
	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-keepalive.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return nil
			}
			if err := rc.Flush(); err != nil {
				return nil
			}
		case msg, ok := <-sub.C:
			if !ok {
				return nil
			}
			var body any
			if msg.Event != nil {
				body = msg.Event
			} else {
				body = msg.Session
			}
			data, err := json.Marshal(body)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Type, data); err != nil {
				return nil
			}
			if err := rc.Flush(); err != nil {
				return nil
			}
		}
	}
}
