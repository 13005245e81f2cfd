package vault

import (
	"fmt"
	"time"
)

// MessageType labels which flow a progress event belongs to and whether
// it is an intermediate or terminal event.
type MessageType string

const (
	MessageRegistrationProgress   MessageType = "RegistrationProgress"
	MessageRegistrationComplete   MessageType = "RegistrationComplete"
	MessageExecuteActionsProgress MessageType = "ExecuteActionsProgress"
	MessageExecuteActionsComplete MessageType = "ExecuteActionsComplete"
)

// Step names one phase of a flow. Within a flow, steps only ever appear
// in this order; Error can follow any of them.
type Step string

const (
	StepPreparation                Step = "Preparation"
	StepUserConfirmation           Step = "UserConfirmation"
	StepContractVerification       Step = "ContractVerification"
	StepWebauthnAuthentication     Step = "WebauthnAuthentication"
	StepAuthenticationComplete     Step = "AuthenticationComplete"
	StepTransactionSigningProgress Step = "TransactionSigningProgress"
	StepTransactionSigningComplete Step = "TransactionSigningComplete"
	StepError                      Step = "Error"
)

// StepStatus qualifies an event within its step.
type StepStatus string

const (
	StatusProgress  StepStatus = "progress"
	StatusSuccess   StepStatus = "success"
	StatusError     StepStatus = "error"
	StatusCancelled StepStatus = "cancelled"
)

// ProgressEvent is one UI-facing status update. Data carries
// step-specific extras like the intent digest or a transaction hash;
// it never carries key material.
type ProgressEvent struct {
	MessageType MessageType `json:"message_type"`
	Step        Step        `json:"step"`
	Message     string      `json:"message"`
	Status      StepStatus  `json:"status"`
	Timestamp   int64       `json:"timestamp"`
	Data        any         `json:"data,omitempty"`
}

// ProgressSink receives events as a flow advances. Sinks run on the
// flow's goroutine; a sink that blocks stalls the flow.
type ProgressSink func(ProgressEvent)

// NopProgress discards events.
func NopProgress(ProgressEvent) {}

// progressReporter stamps and forwards events, switching to the
// terminal message type for the completing event, and keeps the log
// trail that result and failure payloads carry.
type progressReporter struct {
	progressType MessageType
	completeType MessageType
	sink         ProgressSink
	now          func() time.Time
	logs         []string
}

func newProgressReporter(progressType, completeType MessageType, sink ProgressSink, now func() time.Time) *progressReporter {
	if sink == nil {
		sink = NopProgress
	}
	if now == nil {
		now = time.Now
	}
	return &progressReporter{
		progressType: progressType,
		completeType: completeType,
		sink:         sink,
		now:          now,
	}
}

func (r *progressReporter) send(mt MessageType, step Step, status StepStatus, message string, data any) {
	r.logs = append(r.logs, fmt.Sprintf("%s: %s", step, message))
	r.sink(ProgressEvent{
		MessageType: mt,
		Step:        step,
		Message:     message,
		Status:      status,
		Timestamp:   r.now().UnixMilli(),
		Data:        data,
	})
}

// emit reports an intermediate event.
func (r *progressReporter) emit(step Step, status StepStatus, message string, data any) {
	r.send(r.progressType, step, status, message, data)
}

// complete reports the terminal success event of the flow.
func (r *progressReporter) complete(step Step, message string, data any) {
	r.send(r.completeType, step, StatusSuccess, message, data)
}

// fail reports the terminal error event. The message is the coded error
// string, already stripped of anything secret.
func (r *progressReporter) fail(failedStep Step, err error) {
	r.send(r.progressType, StepError, StatusError, err.Error(), map[string]any{
		"failedStep": string(failedStep),
	})
}
