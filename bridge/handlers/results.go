package handlers

import (
	"sync"
	"time"
)

// resultTTL bounds how long a finished task's terminal frame is kept
// for subscribers that connect after the task completed.
const resultTTL = 5 * time.Minute

// ResultStore keeps the terminal frame of recently finished tasks. A
// fast task can finish before its submitter dials the stream; replaying
// the stored frame on connect is what makes the result reachable at
// all.
type ResultStore struct {
	mu     sync.Mutex
	frames map[string]storedResult
}

type storedResult struct {
	frame   TaskStatusMessage
	expires time.Time
}

// NewResultStore builds an empty store.
func NewResultStore() *ResultStore {
	return &ResultStore{frames: make(map[string]storedResult)}
}

// Put stores a terminal frame, evicting expired entries as it goes.
func (rs *ResultStore) Put(taskID string, frame TaskStatusMessage) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	now := time.Now()
	for id, st := range rs.frames {
		if now.After(st.expires) {
			delete(rs.frames, id)
		}
	}
	rs.frames[taskID] = storedResult{frame: frame, expires: now.Add(resultTTL)}
}

// Get returns the stored terminal frame for a task, if it finished
// within the retention window.
func (rs *ResultStore) Get(taskID string) (TaskStatusMessage, bool) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	st, ok := rs.frames[taskID]
	if !ok || time.Now().After(st.expires) {
		return TaskStatusMessage{}, false
	}
	return st.frame, true
}
