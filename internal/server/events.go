package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"guichet/internal/authctx"
	"guichet/pkg/logging"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10

	// eventBuffer is how many snapshots may queue for a slow client before
	// the oldest are dropped.
	eventBuffer = 8
)

// handleEvents streams session snapshots over a websocket. The current
// snapshot is sent first.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Debug("Server", "Websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	events := make(chan authctx.Snapshot, eventBuffer)
	push := func(snap authctx.Snapshot) {
		for {
			select {
			case events <- snap:
				return
			default:
			}
			select {
			case <-events:
			default:
			}
		}
	}
	push(s.auth.Snapshot())
	unsubscribe := s.auth.Subscribe(push)
	defer unsubscribe()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					logging.Debug("Server", "Websocket read error: %v", err)
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case snap := <-events:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(newSessionView(snap)); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
