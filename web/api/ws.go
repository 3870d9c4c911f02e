package api

import (
	"net/http"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (s *Server) wsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.log.Warn("websocket upgrade failed", "error", err)
			return
		}
		go s.handleWSConnection(conn)
	}
}

func (s *Server) handleWSConnection(conn *websocket.Conn) {
	defer conn.Close()

	client := s.hub.Subscribe()
	defer s.hub.Unsubscribe(client)

	// New subscribers get the current snapshot immediately.
	if err := conn.WriteJSON(Event{Type: "status", Data: s.source.Status()}); err != nil {
		return
	}

	// Drain incoming frames so pings and closes are processed.
	readErr := make(chan struct{})
	go func() {
		defer close(readErr)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-readErr:
			return
		case event, ok := <-client:
			if !ok {
				return
			}
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		}
	}
}
