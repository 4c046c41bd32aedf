package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// handleChatWS upgrades the connection and serves chat turns over it. Each
// inbound JSON frame is a [chatRequest]; each reply is a [chatResponse].
// Frames are handled one at a time per connection.
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.Warn("websocket accept", "error", err)
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()
	for {
		var req chatRequest
		if err := wsjson.Read(ctx, conn, &req); err != nil {
			if !isClosed(err) {
				s.log.Warn("websocket read", "error", err)
			}
			return
		}

		resp, _ := s.runChat(ctx, &req)
		if err := wsjson.Write(ctx, conn, resp); err != nil {
			if !isClosed(err) {
				s.log.Warn("websocket write", "error", err)
			}
			return
		}
	}
}

// isClosed reports whether the error is a normal connection teardown.
func isClosed(err error) bool {
	if errors.Is(err, context.Canceled) {
		return true
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
