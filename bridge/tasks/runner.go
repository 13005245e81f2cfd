package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vautr-io/vautr/crypto/challenge"
	"github.com/vautr-io/vautr/types/webauthn"
	"github.com/vautr-io/vautr/vault"
)

// StatusPublisher receives task lifecycle updates for the streaming
// surfaces. Implementations must not block: a slow subscriber is the
// subscriber's problem, not the worker's.
type StatusPublisher interface {
	PublishProgress(taskID string, event vault.ProgressEvent)
	PublishResult(taskID string, resp vault.Response)
}

// FlowChannel runs the interactive legs of a flow against whoever is
// streaming the task: the confirmation prompt and the passkey ceremony.
// A context cancellation while waiting means the user is gone, which
// the flow treats as a decline.
type FlowChannel interface {
	PromptConfirmation(ctx context.Context, taskID string, data vault.SetTxDataPayload, cfg vault.ConfirmationConfig) (vault.Confirmation, error)
	RequestCredential(ctx context.Context, taskID string, ch *challenge.VrfChallenge, rpID string) (*webauthn.AuthenticationCredential, error)
}

// Config wires a Runner.
type Config struct {
	Logger          zerolog.Logger
	Chain           vault.ChainProvider
	Publisher       StatusPublisher
	Channel         FlowChannel
	QueueSize       int
	StaleTolerance  uint64
	ConfirmTimeout  time.Duration
	CeremonyTimeout time.Duration
	TaskTimeout     time.Duration
}

// Runner executes queued tasks strictly in order on one goroutine. A
// task owns the relay's key-material surface while it runs; the next
// task starts only after the previous one's result has been published.
type Runner struct {
	logger          zerolog.Logger
	chain           vault.ChainProvider
	publisher       StatusPublisher
	channel         FlowChannel
	queue           chan *Task
	staleTolerance  uint64
	confirmTimeout  time.Duration
	ceremonyTimeout time.Duration
	taskTimeout     time.Duration

	stopOnce sync.Once
	stopped  chan struct{}
	done     chan struct{}
}

// NewRunner validates the wiring and builds a runner. Start must be
// called before submitted tasks make progress.
func NewRunner(cfg Config) (*Runner, error) {
	if cfg.Publisher == nil {
		return nil, errors.New("runner requires a status publisher")
	}
	if cfg.Channel == nil {
		return nil, errors.New("runner requires a flow channel")
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 32
	}
	confirmTimeout := cfg.ConfirmTimeout
	if confirmTimeout <= 0 {
		confirmTimeout = DefaultConfirmTimeout
	}
	ceremonyTimeout := cfg.CeremonyTimeout
	if ceremonyTimeout <= 0 {
		ceremonyTimeout = DefaultCeremonyTimeout
	}
	taskTimeout := cfg.TaskTimeout
	if taskTimeout <= 0 {
		taskTimeout = DefaultTaskTimeout
	}
	return &Runner{
		logger:          cfg.Logger,
		chain:           cfg.Chain,
		publisher:       cfg.Publisher,
		channel:         cfg.Channel,
		queue:           make(chan *Task, queueSize),
		staleTolerance:  cfg.StaleTolerance,
		confirmTimeout:  confirmTimeout,
		ceremonyTimeout: ceremonyTimeout,
		taskTimeout:     taskTimeout,
		stopped:         make(chan struct{}),
		done:            make(chan struct{}),
	}, nil
}

// Start launches the worker goroutine.
func (r *Runner) Start() {
	go r.run()
}

// Submit queues one request and returns its task ID. The request type
// must be accepted on the submitting route; DecryptPrivateKeyWithPrf
// hands back plaintext key material and is never relayed.
func (r *Runner) Submit(kind string, req vault.Request) (string, error) {
	if !accepts(kind, req.Type) {
		return "", ErrUnsupportedType
	}
	select {
	case <-r.stopped:
		return "", ErrRunnerStopped
	default:
	}
	task := &Task{
		ID:         uuid.NewString(),
		Kind:       kind,
		Request:    req,
		EnqueuedAt: time.Now(),
	}
	select {
	case r.queue <- task:
		r.logger.Info().
			Str("task", task.ID).
			Str("kind", kind).
			Str("type", string(req.Type)).
			Msg("task queued")
		return task.ID, nil
	default:
		return "", ErrQueueFull
	}
}

func accepts(kind string, t vault.RequestType) bool {
	switch kind {
	case TypeRelayExecute:
		return t == vault.RequestSignTransactionsWithActions
	case TypeRelayRegister:
		switch t {
		case vault.RequestCheckCanRegisterUser,
			vault.RequestDeriveNearKeypairAndEncrypt,
			vault.RequestRegistrationCredentialConfirmation,
			vault.RequestRecoverKeypairFromPasskey,
			vault.RequestExtractCosePublicKey:
			return true
		}
	}
	return false
}

// Shutdown stops intake and waits for the in-flight task to finish.
// Queued tasks that have not started are dropped; their streams close
// without a terminal frame.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.stopOnce.Do(func() { close(r.stopped) })
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) run() {
	defer close(r.done)
	for {
		select {
		case <-r.stopped:
			return
		case task := <-r.queue:
			r.process(task)
		}
	}
}

// process runs one task on a fresh vault worker. The chain provider is
// shared; the challenge engine and everything holding key material is
// per task and zeroized when the task ends.
func (r *Runner) process(task *Task) {
	logger := r.logger.With().Str("task", task.ID).Logger()

	engine := challenge.NewEngine(logger)
	defer engine.Logout()
	if task.Request.Type == vault.RequestSignTransactionsWithActions {
		// A fresh engine holds no keypair and cannot prove challenges.
		// The signing flow gets a task-scoped bootstrap keypair; account
		// control is proven by the passkey ceremony, not the VRF key.
		if _, err := engine.GenerateVrfKeypairBootstrap(nil); err != nil {
			logger.Error().Err(err).Msg("bootstrapping challenge keypair")
			r.publisher.PublishResult(task.ID, failureEnvelope(task.Request.Type, err))
			return
		}
	}

	worker := vault.NewWorker(vault.WorkerConfig{
		Logger: logger,
		Engine: engine,
		Chain:  r.chain,
		Ceremony: &taskCeremony{
			taskID:  task.ID,
			channel: r.channel,
			timeout: r.ceremonyTimeout,
		},
		Confirmer: &taskConfirmer{
			taskID:  task.ID,
			channel: r.channel,
			timeout: r.confirmTimeout,
		},
		Progress: func(event vault.ProgressEvent) {
			r.publisher.PublishProgress(task.ID, event)
		},
		StaleTolerance: r.staleTolerance,
	})

	ctx, cancel := context.WithTimeout(context.Background(), r.taskTimeout)
	defer cancel()

	started := time.Now()
	resp := worker.Handle(ctx, task.Request)
	logger.Info().
		Str("type", string(task.Request.Type)).
		Str("result", resp.Type).
		Dur("elapsed", time.Since(started)).
		Msg("task finished")

	r.publisher.PublishResult(task.ID, resp)
}

// failureEnvelope builds the terminal frame for a task that failed
// before its worker could run.
func failureEnvelope(t vault.RequestType, err error) vault.Response {
	payload, merr := json.Marshal(vault.FailurePayload{Error: err.Error()})
	if merr != nil {
		payload = []byte(`{"error":"encoding failure payload"}`)
	}
	return vault.Response{Type: string(t) + "Failure", Payload: payload}
}

// taskConfirmer adapts the flow channel to the vault's Confirmer seam
// with a per-prompt deadline.
type taskConfirmer struct {
	taskID  string
	channel FlowChannel
	timeout time.Duration
}

func (tc *taskConfirmer) RequestConfirmation(ctx context.Context, data vault.SetTxDataPayload, cfg vault.ConfirmationConfig) (vault.Confirmation, error) {
	ctx, cancel := context.WithTimeout(ctx, tc.timeout)
	defer cancel()
	return tc.channel.PromptConfirmation(ctx, tc.taskID, data, cfg)
}

// taskCeremony adapts the flow channel to the CeremonyClient seam.
type taskCeremony struct {
	taskID  string
	channel FlowChannel
	timeout time.Duration
}

func (tc *taskCeremony) GetCredential(ctx context.Context, ch *challenge.VrfChallenge, rpID string) (*webauthn.AuthenticationCredential, error) {
	ctx, cancel := context.WithTimeout(ctx, tc.timeout)
	defer cancel()
	return tc.channel.RequestCredential(ctx, tc.taskID, ch, rpID)
}
