package handlers

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// ConnectionManager manages WebSocket connections for task status
// broadcasting and routes inbound client messages to the task's flow.
type ConnectionManager struct {
	logger      zerolog.Logger
	connections map[string]map[*websocket.Conn]bool // taskID -> connections
	inboxes     map[string]chan ClientMessage       // taskID -> flow inbox
	mutex       sync.RWMutex
	writeMu     sync.Mutex
}

// NewConnectionManager creates a new connection manager.
func NewConnectionManager(logger zerolog.Logger) *ConnectionManager {
	return &ConnectionManager{
		logger:      logger,
		connections: make(map[string]map[*websocket.Conn]bool),
		inboxes:     make(map[string]chan ClientMessage),
	}
}

// AddConnection adds a WebSocket connection for a specific task ID.
func (cm *ConnectionManager) AddConnection(taskID string, conn *websocket.Conn) {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()

	if cm.connections[taskID] == nil {
		cm.connections[taskID] = make(map[*websocket.Conn]bool)
	}
	cm.connections[taskID][conn] = true
	cm.logger.Debug().Str("task", taskID).Msg("websocket connection added")
}

// RemoveConnection removes a WebSocket connection.
func (cm *ConnectionManager) RemoveConnection(taskID string, conn *websocket.Conn) {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()

	if connections, exists := cm.connections[taskID]; exists {
		delete(connections, conn)
		if len(connections) == 0 {
			delete(cm.connections, taskID)
		}
	}
	cm.logger.Debug().Str("task", taskID).Msg("websocket connection removed")
}

// BroadcastToTask sends a message to every connection watching a task.
func (cm *ConnectionManager) BroadcastToTask(taskID string, message TaskStatusMessage) {
	cm.mutex.RLock()
	conns := make([]*websocket.Conn, 0, len(cm.connections[taskID]))
	for conn := range cm.connections[taskID] {
		conns = append(conns, conn)
	}
	cm.mutex.RUnlock()

	for _, conn := range conns {
		if err := cm.writeTo(conn, message); err != nil {
			cm.logger.Debug().Str("task", taskID).Err(err).Msg("dropping websocket connection")
			cm.RemoveConnection(taskID, conn)
			conn.Close()
		}
	}
}

// Gorilla connections allow one concurrent writer; broadcasts come from
// task goroutines while pongs come from the read loop.
func (cm *ConnectionManager) writeTo(conn *websocket.Conn, message TaskStatusMessage) error {
	cm.writeMu.Lock()
	defer cm.writeMu.Unlock()
	return conn.WriteJSON(message)
}

// OpenInbox registers the flow-side channel for a task's inbound
// messages. The returned close func unregisters it; messages arriving
// with no open inbox are dropped.
func (cm *ConnectionManager) OpenInbox(taskID string) (<-chan ClientMessage, func()) {
	ch := make(chan ClientMessage, 4)
	cm.mutex.Lock()
	cm.inboxes[taskID] = ch
	cm.mutex.Unlock()

	return ch, func() {
		cm.mutex.Lock()
		if cm.inboxes[taskID] == ch {
			delete(cm.inboxes, taskID)
		}
		cm.mutex.Unlock()
	}
}

// Deliver routes one inbound message to the task's open inbox.
func (cm *ConnectionManager) Deliver(taskID string, msg ClientMessage) {
	cm.mutex.RLock()
	ch, exists := cm.inboxes[taskID]
	cm.mutex.RUnlock()
	if !exists {
		return
	}
	select {
	case ch <- msg:
	default:
		cm.logger.Debug().Str("task", taskID).Str("type", msg.Type).Msg("inbox full, dropping message")
	}
}

// WebSocketHandler streams task status to the client and feeds client
// answers (confirmation verdicts, ceremony credentials) back to the
// task's flow. If the task already finished, its stored terminal frame
// is replayed right after the connect frame.
func WebSocketHandler(upgrader *websocket.Upgrader, cm *ConnectionManager, results *ResultStore) echo.HandlerFunc {
	return func(c echo.Context) error {
		taskID := c.Param("task_id")
		if taskID == "" {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Error: ErrTaskIDRequired.Error()})
		}

		ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
		if err != nil {
			cm.logger.Debug().Err(err).Msg("websocket upgrade failed")
			return err
		}
		defer ws.Close()

		cm.AddConnection(taskID, ws)
		defer cm.RemoveConnection(taskID, ws)

		if err := cm.writeTo(ws, TaskStatusMessage{
			TaskID: taskID,
			Status: StatusConnected,
			Time:   time.Now(),
		}); err != nil {
			return err
		}
		if results != nil {
			if frame, ok := results.Get(taskID); ok {
				if err := cm.writeTo(ws, frame); err != nil {
					return err
				}
			}
		}

		for {
			var msg ClientMessage
			if err := ws.ReadJSON(&msg); err != nil {
				break
			}
			if msg.Type == ClientPing {
				if err := cm.writeTo(ws, TaskStatusMessage{
					TaskID: taskID,
					Status: StatusPong,
					Time:   time.Now(),
				}); err != nil {
					break
				}
				continue
			}
			cm.Deliver(taskID, msg)
		}

		return nil
	}
}
