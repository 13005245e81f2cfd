package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// SSEManager manages Server-Sent Event subscribers for task status
// streaming.
type SSEManager struct {
	logger      zerolog.Logger
	connections map[string]map[chan TaskStatusMessage]bool // taskID -> channels
	mutex       sync.RWMutex
}

// NewSSEManager creates a new SSE manager.
func NewSSEManager(logger zerolog.Logger) *SSEManager {
	return &SSEManager{
		logger:      logger,
		connections: make(map[string]map[chan TaskStatusMessage]bool),
	}
}

// AddSSEConnection adds an SSE channel for a specific task ID.
func (sm *SSEManager) AddSSEConnection(taskID string, ch chan TaskStatusMessage) {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	if sm.connections[taskID] == nil {
		sm.connections[taskID] = make(map[chan TaskStatusMessage]bool)
	}
	sm.connections[taskID][ch] = true
	sm.logger.Debug().Str("task", taskID).Msg("sse connection added")
}

// RemoveSSEConnection removes an SSE channel and closes it. Safe to
// call more than once for the same channel.
func (sm *SSEManager) RemoveSSEConnection(taskID string, ch chan TaskStatusMessage) {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	channels, exists := sm.connections[taskID]
	if !exists {
		return
	}
	if _, ok := channels[ch]; !ok {
		return
	}
	delete(channels, ch)
	if len(channels) == 0 {
		delete(sm.connections, taskID)
	}
	close(ch)
	sm.logger.Debug().Str("task", taskID).Msg("sse connection removed")
}

// BroadcastToSSE sends a message to every subscriber of a task. Sends
// happen under the read lock so a channel can never be closed mid-send;
// subscribers that cannot keep up are dropped.
func (sm *SSEManager) BroadcastToSSE(taskID string, message TaskStatusMessage) {
	sm.mutex.RLock()
	var blocked []chan TaskStatusMessage
	for ch := range sm.connections[taskID] {
		select {
		case ch <- message:
		default:
			blocked = append(blocked, ch)
		}
	}
	sm.mutex.RUnlock()

	for _, ch := range blocked {
		sm.logger.Debug().Str("task", taskID).Msg("sse channel blocked, removing")
		sm.RemoveSSEConnection(taskID, ch)
	}
}

func writeSSE(w io.Writer, message TaskStatusMessage) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}

// SSEHandler streams task status updates as Server-Sent Events. A
// stored terminal frame is replayed right after the connect frame.
func SSEHandler(sm *SSEManager, results *ResultStore) echo.HandlerFunc {
	return func(c echo.Context) error {
		taskID := c.Param("task_id")
		if taskID == "" {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Error: ErrTaskIDRequired.Error()})
		}

		c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
		c.Response().Header().Set("Cache-Control", "no-cache")
		c.Response().Header().Set("Connection", "keep-alive")

		messageCh := make(chan TaskStatusMessage, 10)
		sm.AddSSEConnection(taskID, messageCh)
		defer sm.RemoveSSEConnection(taskID, messageCh)

		if err := writeSSE(c.Response(), TaskStatusMessage{
			TaskID: taskID,
			Status: StatusConnected,
			Time:   time.Now(),
		}); err != nil {
			return err
		}
		if results != nil {
			if frame, ok := results.Get(taskID); ok {
				if err := writeSSE(c.Response(), frame); err != nil {
					return err
				}
			}
		}
		c.Response().Flush()

		for {
			select {
			case message, ok := <-messageCh:
				if !ok {
					return nil
				}
				if err := writeSSE(c.Response(), message); err != nil {
					return nil
				}
				c.Response().Flush()

			case <-c.Request().Context().Done():
				return nil

			case <-time.After(30 * time.Second):
				if err := writeSSE(c.Response(), TaskStatusMessage{
					TaskID: taskID,
					Status: StatusKeepalive,
					Time:   time.Now(),
				}); err != nil {
					return nil
				}
				c.Response().Flush()
			}
		}
	}
}
