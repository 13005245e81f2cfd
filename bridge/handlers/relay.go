package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/vautr-io/vautr/bridge/tasks"
	"github.com/vautr-io/vautr/crypto/challenge"
	"github.com/vautr-io/vautr/types/webauthn"
	"github.com/vautr-io/vautr/vault"
)

// defaultAutoProceedDelay applies when an AutoProceed prompt carries no
// explicit delay.
const defaultAutoProceedDelay = time.Second

// resendInterval is how often an unanswered prompt or ceremony frame is
// re-broadcast. A client that dials the stream after the flow reached
// its interactive leg still receives the outstanding frame.
const resendInterval = 2 * time.Second

// StatusBroadcaster fans task updates out to both streaming surfaces
// and records terminal frames for late subscribers.
type StatusBroadcaster struct {
	conns   *ConnectionManager
	sse     *SSEManager
	results *ResultStore
}

// NewStatusBroadcaster wires the broadcaster over the two managers. A
// nil result store disables terminal-frame replay.
func NewStatusBroadcaster(conns *ConnectionManager, sse *SSEManager, results *ResultStore) *StatusBroadcaster {
	return &StatusBroadcaster{conns: conns, sse: sse, results: results}
}

func (b *StatusBroadcaster) publish(msg TaskStatusMessage) {
	if b.conns != nil {
		b.conns.BroadcastToTask(msg.TaskID, msg)
	}
	if b.sse != nil {
		b.sse.BroadcastToSSE(msg.TaskID, msg)
	}
}

// PublishProgress forwards one flow progress event to the task's
// streams.
func (b *StatusBroadcaster) PublishProgress(taskID string, event vault.ProgressEvent) {
	b.publish(TaskStatusMessage{
		TaskID: taskID,
		Status: StatusProgress,
		Event:  &event,
		Time:   time.Now(),
	})
}

// PublishResult sends the terminal envelope for a task. The frame is
// stored before it is broadcast so a subscriber arriving after the task
// finished can still collect it.
func (b *StatusBroadcaster) PublishResult(taskID string, resp vault.Response) {
	frame := TaskStatusMessage{
		TaskID: taskID,
		Status: StatusDone,
		Time:   time.Now(),
	}
	raw, err := json.Marshal(resp)
	if err != nil {
		frame.Error = "encoding result: " + err.Error()
	} else {
		frame.Result = raw
	}
	if b.results != nil {
		b.results.Put(taskID, frame)
	}
	b.publish(frame)
}

// RelayChannel runs the interactive legs of a relayed flow over the
// task's WebSocket. Prompts and ceremony requests are broadcast as
// status frames; answers come back through the per-task inbox.
type RelayChannel struct {
	logger zerolog.Logger
	conns  *ConnectionManager
}

// NewRelayChannel builds the channel over the connection manager.
func NewRelayChannel(logger zerolog.Logger, conns *ConnectionManager) *RelayChannel {
	return &RelayChannel{logger: logger, conns: conns}
}

// PromptConfirmation shows the batch to the streaming client and waits
// for CONFIRM or CANCEL. AutoProceed prompts resolve on a timer unless
// the client cancels first; a dead context reports ctx.Err so the flow
// records the prompt as abandoned.
func (rc *RelayChannel) PromptConfirmation(ctx context.Context, taskID string, data vault.SetTxDataPayload, cfg vault.ConfirmationConfig) (vault.Confirmation, error) {
	inbox, release := rc.conns.OpenInbox(taskID)
	defer release()

	frame := TaskStatusMessage{
		TaskID: taskID,
		Status: StatusPrompt,
		Prompt: &PromptPayload{Data: data, Config: cfg},
		Time:   time.Now(),
	}
	rc.conns.BroadcastToTask(taskID, frame)
	resend := time.NewTicker(resendInterval)
	defer resend.Stop()

	var autoProceed <-chan time.Time
	if cfg.Behavior == vault.BehaviorAutoProceed {
		delay := defaultAutoProceedDelay
		if cfg.AutoProceedDelayMs != nil {
			delay = time.Duration(*cfg.AutoProceedDelayMs) * time.Millisecond
		}
		timer := time.NewTimer(delay)
		defer timer.Stop()
		autoProceed = timer.C
	}

	for {
		select {
		case msg := <-inbox:
			switch msg.Type {
			case ClientConfirm:
				return vault.Confirmation{Decision: vault.DecisionConfirmed, UIDigest: msg.Digest}, nil
			case ClientCancel:
				return vault.Confirmation{Decision: vault.DecisionCancelled}, nil
			default:
				// Stray frames (late pings, duplicate credentials) are
				// not an answer to the prompt.
				rc.logger.Debug().
					Str("task", taskID).
					Str("type", msg.Type).
					Msg("ignoring frame while awaiting confirmation")
			}
		case <-autoProceed:
			return vault.Confirmation{Decision: vault.DecisionConfirmed}, nil
		case <-resend.C:
			rc.conns.BroadcastToTask(taskID, frame)
		case <-ctx.Done():
			return vault.Confirmation{}, ctx.Err()
		}
	}
}

// RequestCredential asks the streaming client to run the passkey
// ceremony for the given challenge and waits for the assertion.
func (rc *RelayChannel) RequestCredential(ctx context.Context, taskID string, ch *challenge.VrfChallenge, rpID string) (*webauthn.AuthenticationCredential, error) {
	if ch == nil {
		return nil, errors.New("ceremony requires a challenge")
	}
	inbox, release := rc.conns.OpenInbox(taskID)
	defer release()

	frame := TaskStatusMessage{
		TaskID:   taskID,
		Status:   StatusCeremony,
		Ceremony: &CeremonyPayload{Challenge: *ch, RpID: rpID},
		Time:     time.Now(),
	}
	rc.conns.BroadcastToTask(taskID, frame)
	resend := time.NewTicker(resendInterval)
	defer resend.Stop()

	for {
		select {
		case msg := <-inbox:
			switch msg.Type {
			case ClientCredential:
				if len(msg.Credential) == 0 {
					return nil, ErrNoCredential
				}
				var cred webauthn.AuthenticationCredential
				if err := json.Unmarshal(msg.Credential, &cred); err != nil {
					return nil, errors.Wrap(err, "decoding ceremony credential")
				}
				if err := cred.Validate(); err != nil {
					return nil, err
				}
				return &cred, nil
			case ClientCancel:
				return nil, ErrCeremonyDeclined
			default:
				rc.logger.Debug().
					Str("task", taskID).
					Str("type", msg.Type).
					Msg("ignoring frame while awaiting credential")
			}
		case <-resend.C:
			rc.conns.BroadcastToTask(taskID, frame)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// ExecuteHandler accepts signing requests onto the relay queue.
func ExecuteHandler(runner *tasks.Runner) echo.HandlerFunc {
	return submitHandler(runner, tasks.TypeRelayExecute)
}

// RegisterHandler accepts registration-flow requests onto the relay
// queue.
func RegisterHandler(runner *tasks.Runner) echo.HandlerFunc {
	return submitHandler(runner, tasks.TypeRelayRegister)
}

func submitHandler(runner *tasks.Runner, kind string) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req vault.Request
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		}
		taskID, err := runner.Submit(kind, req)
		if err != nil {
			switch {
			case errors.Is(err, tasks.ErrUnsupportedType):
				return c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
			case errors.Is(err, tasks.ErrQueueFull), errors.Is(err, tasks.ErrRunnerStopped):
				return c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: err.Error()})
			default:
				return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
			}
		}
		return c.JSON(http.StatusOK, SubmitResponse{
			TaskID:     taskID,
			Status:     "accepted",
			WSPath:     "/ws/" + taskID,
			EventsPath: "/events/" + taskID,
		})
	}
}
