package api

import (
	"encoding/json"
	"net/http"

	"github.com/coder/websocket"

	"github.com/airdial/airdial/internal/notify"
)

// handleEvents upgrades to a WebSocket and pushes user-facing notifications
// as they occur. A slow consumer loses notifications rather than blocking
// the publisher.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.Warn("event socket upgrade failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "event feed closed")

	events := make(chan notify.Notification, 16)
	cancel := s.notifier.Subscribe(func(n notify.Notification) {
		select {
		case events <- n:
		default:
		}
	})
	defer cancel()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-events:
			data, err := json.Marshal(n)
			if err != nil {
				continue
			}
			if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
				return
			}
		}
	}
}
