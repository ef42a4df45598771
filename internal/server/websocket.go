package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rileyhilliard/proxymon/internal/broadcast"
)

const maxClientMessage = 512

// wsSubscriber writes status events to one websocket connection.
type wsSubscriber struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	mu        sync.Mutex
	closeOnce sync.Once
}

func (c *wsSubscriber) Send(ev broadcast.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteJSON(ev)
}

func (c *wsSubscriber) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.mu.Unlock()
		err = c.conn.Close()
	})
	return err
}

// handleWebSocket registers the connection as a subscriber and reads until
// the client goes away. Client messages are ignored.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed: %v", err)
		return
	}
	sub := &wsSubscriber{conn: conn, writeTimeout: s.opts.WriteTimeout}
	s.opts.Hub.Register(sub)
	s.log.Debug("status subscriber connected from %s", r.RemoteAddr)

	defer func() {
		s.opts.Hub.Unregister(sub)
		_ = sub.Close()
		s.log.Debug("status subscriber %s disconnected", r.RemoteAddr)
	}()

	conn.SetReadLimit(maxClientMessage)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.log.Debug("websocket read: %v", err)
			}
			return
		}
	}
}
