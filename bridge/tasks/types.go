// Package tasks runs relayed vault flows in process: one queue, one
// worker goroutine, so key material from different tasks never
// interleaves.
package tasks

import (
	"errors"
	"time"

	"github.com/vautr-io/vautr/vault"
)

// Task kinds accepted by the runner.
const (
	TypeRelayExecute  = "relay:execute"
	TypeRelayRegister = "relay:register"
)

// Interactive legs block on a human; these bound how long.
const (
	DefaultConfirmTimeout  = 2 * time.Minute
	DefaultCeremonyTimeout = 2 * time.Minute
	DefaultTaskTimeout     = 5 * time.Minute
)

var (
	ErrUnsupportedType = errors.New("request type not accepted on this route")
	ErrQueueFull       = errors.New("task queue is full")
	ErrRunnerStopped   = errors.New("task runner is shutting down")
)

// Task is one queued request.
type Task struct {
	ID         string
	Kind       string
	Request    vault.Request
	EnqueuedAt time.Time
}
