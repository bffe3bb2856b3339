package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/romsteck/homeroute-backup/pkg/plog"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

// The dashboard front end is served from a different origin in development,
// so cross-origin upgrades are accepted. The API binds to localhost by
// default and sits behind the dashboard's reverse proxy otherwise.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleEvents upgrades the connection and streams engine notifications to
// the client as JSON messages until either side goes away. Delivery is
// best-effort: the hub drops events for clients that fall behind.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		plog.Warn("Websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sub, unsubscribe := s.hub.Subscribe()
	defer unsubscribe()

	// Drain client frames so pong/close handling works; we never expect data.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case evt, ok := <-sub:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(evt); err != nil {
				plog.Debug("Event subscriber dropped", "error", err)
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
