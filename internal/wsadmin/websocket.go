package wsadmin

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/dkowalski/relaytap/internal/fanout"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleWebSocket upgrades the connection and subscribes it to the fan-out
// hub for the lifetime of the socket. Each connection gets its own
// subscription, so a slow client only drops messages for itself.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	handle, events := s.hub.Subscribe()
	go writePump(conn, events)
	readPump(conn, s.hub, handle)
}

// writePump relays fan-out envelopes to the client until the hub closes the
// subscription channel (on Unsubscribe) or the write fails.
func writePump(conn *websocket.Conn, events <-chan fanout.Envelope) {
	defer conn.Close()
	var mu sync.Mutex
	for env := range events {
		mu.Lock()
		err := conn.WriteJSON(env)
		mu.Unlock()
		if err != nil {
			return
		}
	}
}

// readPump only drains incoming frames to detect client disconnect; the
// feed is server-to-client only. It unsubscribes on return so writePump's
// range over events terminates.
func readPump(conn *websocket.Conn, hub *fanout.Hub, handle fanout.Handle) {
	defer func() {
		hub.Unsubscribe(handle)
		conn.Close()
	}()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
