package http

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsConn adapts a gorilla connection to the hub's Conn. All writes happen
// on the hub goroutine, so no write lock is needed.
type wsConn struct {
	c *websocket.Conn
}

func (w *wsConn) WriteMessage(data []byte) error {
	return w.c.WriteMessage(websocket.TextMessage, data)
}

func (w *wsConn) Close() error {
	return w.c.Close()
}

// handleLive upgrades the request and parks it on the vehicle's broadcast
// hub until the client goes away. A dropped connection is the only
// cancellation signal and deregisters the subscriber immediately.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	externalID := mux.Vars(r)["external_id"]
	if strings.TrimSpace(externalID) == "" {
		writeError(w, http.StatusBadRequest, "vehicle id is required")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	subID, err := s.hub.Subscribe(externalID, &wsConn{c: conn})
	if err != nil {
		s.log.WithError(err).WithField("vehicle", externalID).
			Warn("live subscription rejected")
		conn.Close()
		return
	}

	// Drain client frames; the first read error means disconnect.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			s.hub.Unsubscribe(externalID, subID)
			return
		}
	}
}
