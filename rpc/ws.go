// /ws lets remote UIs mirror node state without polling (§4.6): each
// connection gets its own report.Bus subscription, and every Mutation
// applied after connect is pushed out as JSON, one message per frame.
package rpc

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const wsWriteTimeout = 10 * time.Second

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Errorf("rpc: websocket upgrade: %v", err)
		return
	}
	defer conn.Close()

	sub := s.cfg.Bus.Subscribe()
	defer sub.Close()

	// A dropped connection only surfaces once a write fails or the peer
	// closes its side; pumpReads discards anything the client sends and
	// exits when that happens; main is Write, it never reads.
	closed := make(chan struct{})
	go pumpReads(conn, closed)

	for {
		select {
		case <-closed:
			return
		case m, ok := <-sub.Mutations():
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(m); err != nil {
				log.Debugf("rpc: websocket write: %v", err)
				return
			}
		}
	}
}

// pumpReads drains and discards client frames (required so gorilla's
// connection services control frames like ping/pong/close) until the
// connection errors, then signals the write loop to stop.
func pumpReads(conn *websocket.Conn, closed chan struct{}) {
	defer close(closed)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
