package match_management

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// wsConn serializes writes to one connection; gorilla/websocket allows
// at most one concurrent writer.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

// Notifier pushes best-effort events to connected clients. Polling the
// request-match endpoint remains the contract of record; a missed push
// only delays the client until its next poll.
type Notifier struct {
	upgrader    websocket.Upgrader
	mu          sync.Mutex
	connections map[string]*wsConn
	logger      *zap.Logger
}

func NewNotifier(logger *zap.Logger) *Notifier {
	return &Notifier{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		connections: make(map[string]*wsConn),
		logger:      logger,
	}
}

// WsHandler registers one connection per user. The connection is held
// open until the client goes away.
func (n *Notifier) WsHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		http.Error(w, "userId required", http.StatusBadRequest)
		return
	}

	conn, err := n.upgrader.Upgrade(w, r, nil)
	if err != nil {
		n.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	n.mu.Lock()
	n.connections[userID] = &wsConn{conn: conn}
	n.mu.Unlock()
	n.logger.Info("websocket connected", zap.String("userId", userID))

	for {
		if _, _, err := conn.NextReader(); err != nil {
			n.mu.Lock()
			delete(n.connections, userID)
			n.mu.Unlock()
			conn.Close()
			n.logger.Info("websocket disconnected", zap.String("userId", userID))
			break
		}
	}
}

// Send pushes one event to a user if they hold a connection. Failures
// drop the connection; they are never surfaced to the triggering
// request.
func (n *Notifier) Send(userID string, data any) {
	n.mu.Lock()
	c, ok := n.connections[userID]
	n.mu.Unlock()

	if !ok {
		return
	}
	if err := c.writeJSON(data); err != nil {
		n.logger.Warn("websocket send failed", zap.String("userId", userID), zap.Error(err))
		n.mu.Lock()
		delete(n.connections, userID)
		n.mu.Unlock()
		c.conn.Close()
	}
}
