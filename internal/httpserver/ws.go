package httpserver

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/streamgate/streamgate/internal/conn"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsWriter adapts a gorilla connection to the supervisor's frame writer.
// gorilla permits one concurrent writer, so frames are serialized here.
type wsWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsWriter) WriteFrame(frame []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteMessage(websocket.TextMessage, frame)
}

func (w *wsWriter) Close() error {
	return w.conn.Close()
}

// handleStream upgrades the request and runs a supervised connection until
// the peer disconnects or the supervisor closes it.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	c, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		if s.logger != nil {
			s.logger.Printf("websocket upgrade failed: %v", err)
		}
		return
	}

	s.collector.ConnectionOpened("socket")
	defer s.collector.ConnectionClosed("socket")

	sup := conn.NewSupervisor(r.Context(), conn.Config{
		Transport:         "socket",
		HeartbeatInterval: s.cfg.HeartbeatInterval,
		IdleTimeout:       s.cfg.IdleTimeout,
		MaxStreams:        s.cfg.MaxStreams,
	}, s.prod, &wsWriter{conn: c}, s.observer, s.logger)
	sup.Start()
	defer sup.Close()

	for {
		_, frame, err := c.ReadMessage()
		if err != nil {
			return
		}
		sup.Dispatch(frame)
	}
}
