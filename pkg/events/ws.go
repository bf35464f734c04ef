package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// ConnectionManager bridges experiment buses to WebSocket clients. Each
// connection subscribes to exactly one experiment; a writer goroutine pumps
// the subscriber channel to the socket while the read loop handles control
// messages.
type ConnectionManager struct {
	hub          *Hub
	writeTimeout time.Duration

	mu     sync.Mutex
	active int
}

// NewConnectionManager creates a manager over the hub.
func NewConnectionManager(hub *Hub, writeTimeout time.Duration) *ConnectionManager {
	return &ConnectionManager{hub: hub, writeTimeout: writeTimeout}
}

// ActiveConnections returns the number of open WebSocket connections.
func (m *ConnectionManager) ActiveConnections() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// HandleConnection serves one WebSocket client subscribed to one
// experiment's stream. Blocks until the connection closes.
func (m *ConnectionManager) HandleConnection(parentCtx context.Context, conn *websocket.Conn, experimentID string, verbosity int) {
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	bus := m.hub.Get(experimentID)
	sub, err := bus.Subscribe(verbosity)
	if err != nil {
		m.sendJSON(ctx, conn, map[string]any{
			"type":    "error",
			"message": err.Error(),
		})
		conn.Close(websocket.StatusPolicyViolation, "invalid verbosity")
		return
	}
	defer bus.Unsubscribe(sub)

	m.mu.Lock()
	m.active++
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.active--
		m.mu.Unlock()
	}()

	m.sendJSON(ctx, conn, map[string]any{
		"type":          "subscription.confirmed",
		"experiment_id": experimentID,
		"subscriber_id": sub.ID,
		"verbosity":     sub.Verbosity(),
	})

	// Writer: pump bus events to the socket. A closed subscriber channel
	// (bus shut down or subscriber purged) ends the connection.
	go func() {
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-sub.Events():
				if !ok {
					conn.Close(websocket.StatusNormalClosure, "stream closed")
					return
				}
				data, err := json.Marshal(e)
				if err != nil {
					continue
				}
				if err := m.sendRaw(ctx, conn, data); err != nil {
					slog.Debug("WebSocket write failed",
						"experiment_id", experimentID, "subscriber_id", sub.ID, "error", err)
					return
				}
			}
		}
	}()

	// Read loop: control messages until the client disconnects.
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		m.handleControl(ctx, conn, sub, strings.TrimSpace(string(data)))
	}
}

// handleControl processes one client control message.
func (m *ConnectionManager) handleControl(ctx context.Context, conn *websocket.Conn, sub *Subscriber, msg string) {
	switch {
	case strings.HasPrefix(msg, "set_verbosity:"):
		arg := strings.TrimPrefix(msg, "set_verbosity:")
		v, err := strconv.Atoi(strings.TrimSpace(arg))
		if err != nil {
			m.sendJSON(ctx, conn, map[string]any{
				"type":    "error",
				"message": "set_verbosity requires an integer 0..3",
			})
			return
		}
		if err := sub.SetVerbosity(v); err != nil {
			m.sendJSON(ctx, conn, map[string]any{
				"type":    "error",
				"message": err.Error(),
			})
			return
		}
		m.sendJSON(ctx, conn, map[string]any{
			"type":      "verbosity.updated",
			"verbosity": v,
		})

	case msg == "ping":
		m.sendJSON(ctx, conn, map[string]any{"type": "pong"})

	default:
		m.sendJSON(ctx, conn, map[string]any{
			"type":    "error",
			"message": "unknown control message",
		})
	}
}

func (m *ConnectionManager) sendJSON(ctx context.Context, conn *websocket.Conn, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := m.sendRaw(ctx, conn, data); err != nil {
		slog.Debug("Failed to send WebSocket message", "error", err)
	}
}

func (m *ConnectionManager) sendRaw(ctx context.Context, conn *websocket.Conn, data []byte) error {
	writeCtx, cancel := context.WithTimeout(ctx, m.writeTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
