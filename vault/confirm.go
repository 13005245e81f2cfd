package vault

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/vautr-io/vautr/crypto/challenge"
	"github.com/vautr-io/vautr/types/near"
)

// UIMode selects the confirmation surface for a signing flow.
type UIMode string

const (
	// UIModeSkip advances without any user prompt. Callers choosing it
	// take over the confirmation responsibility themselves.
	UIModeSkip UIMode = "Skip"
	// UIModeModal prompts in a dedicated surface owned by the wallet.
	UIModeModal UIMode = "Modal"
	// UIModeEmbedded prompts inline in the host application's surface.
	UIModeEmbedded UIMode = "Embedded"
)

// ConfirmBehavior controls how a prompt resolves.
type ConfirmBehavior string

const (
	// BehaviorRequireClick blocks until an explicit confirm or cancel.
	BehaviorRequireClick ConfirmBehavior = "RequireClick"
	// BehaviorAutoProceed confirms after AutoProceedDelayMs unless the
	// user cancels first. The surface implements the countdown.
	BehaviorAutoProceed ConfirmBehavior = "AutoProceed"
)

// ConfirmationConfig is validated once at flow start and immutable for
// the flow's duration.
type ConfirmationConfig struct {
	UIMode             UIMode          `json:"uiMode"`
	Behavior           ConfirmBehavior `json:"behavior"`
	AutoProceedDelayMs *int            `json:"autoProceedDelayMs,omitempty"`
	Theme              string          `json:"theme,omitempty"`
}

// DefaultConfirmationConfig is the safe default: a modal prompt that
// waits for an explicit click.
func DefaultConfirmationConfig() ConfirmationConfig {
	return ConfirmationConfig{UIMode: UIModeModal, Behavior: BehaviorRequireClick}
}

// Validate rejects unknown variants and contradictory settings.
func (c ConfirmationConfig) Validate() error {
	switch c.UIMode {
	case UIModeSkip, UIModeModal, UIModeEmbedded:
	default:
		return fmt.Errorf("unknown uiMode %q", c.UIMode)
	}
	switch c.Behavior {
	case BehaviorRequireClick, BehaviorAutoProceed:
	default:
		return fmt.Errorf("unknown behavior %q", c.Behavior)
	}
	if c.AutoProceedDelayMs != nil {
		if *c.AutoProceedDelayMs < 0 {
			return fmt.Errorf("autoProceedDelayMs cannot be negative, got %d", *c.AutoProceedDelayMs)
		}
		if c.Behavior != BehaviorAutoProceed {
			return fmt.Errorf("autoProceedDelayMs requires behavior %s", BehaviorAutoProceed)
		}
	}
	return nil
}

// UIMessageType tags messages crossing the wallet/UI boundary.
type UIMessageType string

const (
	// Wallet to UI.
	UISetTxData     UIMessageType = "SET_TX_DATA"
	UISetLoading    UIMessageType = "SET_LOADING"
	UISetError      UIMessageType = "SET_ERROR"
	UICloseModal    UIMessageType = "CLOSE_MODAL"
	UIRequestDigest UIMessageType = "REQUEST_UI_DIGEST"

	// UI to wallet.
	UIConfirm      UIMessageType = "CONFIRM"
	UICancel       UIMessageType = "CANCEL"
	UIIntentDigest UIMessageType = "UI_INTENT_DIGEST"
)

// UIMessage is the envelope for both directions of the UI channel.
type UIMessage struct {
	Type    UIMessageType   `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewUIMessage builds an envelope around a marshalable payload. A nil
// payload produces a bare type tag.
func NewUIMessage(t UIMessageType, payload any) (UIMessage, error) {
	msg := UIMessage{Type: t}
	if payload == nil {
		return msg, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return UIMessage{}, fmt.Errorf("marshaling %s payload: %w", t, err)
	}
	msg.Payload = raw
	return msg, nil
}

// SetTxDataPayload is everything a confirmation surface renders: the
// batch in submission order, the challenge binding it to chain state,
// and the theme.
type SetTxDataPayload struct {
	NearAccountID     string                  `json:"nearAccountId"`
	TxSigningRequests []near.TransactionInput `json:"txSigningRequests"`
	VrfChallenge      *challenge.VrfChallenge `json:"vrfChallenge,omitempty"`
	Theme             string                  `json:"theme,omitempty"`
}

// CloseModalPayload reports how a prompt surface was dismissed.
type CloseModalPayload struct {
	Confirmed bool `json:"confirmed"`
}

// IntentDigestPayload answers REQUEST_UI_DIGEST.
type IntentDigestPayload struct {
	Ok     bool   `json:"ok"`
	Digest string `json:"digest,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Decision is the user's verdict on a confirmation prompt.
type Decision int

const (
	DecisionCancelled Decision = iota
	DecisionConfirmed
)

// Confirmation is the outcome of one prompt. UIDigest is the digest the
// surface computed over what it actually rendered; empty when the
// surface does not report one.
type Confirmation struct {
	Decision Decision
	UIDigest string
}

// Confirmer presents a prepared batch to the user and reports the
// verdict. Implementations own the AutoProceed countdown and any prompt
// timeout; a context cancellation while waiting is treated by the flow
// as the user declining, not as an error.
type Confirmer interface {
	RequestConfirmation(ctx context.Context, data SetTxDataPayload, cfg ConfirmationConfig) (Confirmation, error)
}

// ConfirmerFunc adapts a function to Confirmer.
type ConfirmerFunc func(ctx context.Context, data SetTxDataPayload, cfg ConfirmationConfig) (Confirmation, error)

// RequestConfirmation implements Confirmer.
func (f ConfirmerFunc) RequestConfirmation(ctx context.Context, data SetTxDataPayload, cfg ConfirmationConfig) (Confirmation, error) {
	return f(ctx, data, cfg)
}

// ConfirmSession is the UI side of the confirmation channel: it holds
// the batch the surface is rendering and answers digest requests over
// exactly that batch. The digest answer is the what-you-see-is-what-you-
// sign contract's enforcement point, so it always recomputes from the
// held requests rather than echoing anything the wallet sent.
type ConfirmSession struct {
	mu      sync.Mutex
	data    *SetTxDataPayload
	loading bool
	errText string
	closed  bool
}

// NewConfirmSession returns an empty session awaiting SET_TX_DATA.
func NewConfirmSession() *ConfirmSession {
	return &ConfirmSession{}
}

// HandleMessage consumes one wallet-bound message and returns the reply
// to send back, if the message type calls for one.
func (s *ConfirmSession) HandleMessage(msg UIMessage) (*UIMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch msg.Type {
	case UISetTxData:
		var data SetTxDataPayload
		if err := json.Unmarshal(msg.Payload, &data); err != nil {
			return nil, fmt.Errorf("decoding %s payload: %w", msg.Type, err)
		}
		s.data = &data
		s.closed = false
		return nil, nil

	case UISetLoading:
		var loading bool
		if err := json.Unmarshal(msg.Payload, &loading); err != nil {
			return nil, fmt.Errorf("decoding %s payload: %w", msg.Type, err)
		}
		s.loading = loading
		return nil, nil

	case UISetError:
		var text string
		if err := json.Unmarshal(msg.Payload, &text); err != nil {
			return nil, fmt.Errorf("decoding %s payload: %w", msg.Type, err)
		}
		s.errText = text
		return nil, nil

	case UICloseModal:
		var closing CloseModalPayload
		if len(msg.Payload) > 0 {
			if err := json.Unmarshal(msg.Payload, &closing); err != nil {
				return nil, fmt.Errorf("decoding %s payload: %w", msg.Type, err)
			}
		}
		s.closed = true
		s.loading = false
		return nil, nil

	case UIRequestDigest:
		reply, err := NewUIMessage(UIIntentDigest, s.digestLocked())
		if err != nil {
			return nil, err
		}
		return &reply, nil

	default:
		return nil, fmt.Errorf("unexpected ui message type %q", msg.Type)
	}
}

func (s *ConfirmSession) digestLocked() IntentDigestPayload {
	if s.data == nil {
		return IntentDigestPayload{Ok: false, Error: "no transaction data held"}
	}
	digest, err := near.ComputeIntentDigest(s.data.TxSigningRequests)
	if err != nil {
		return IntentDigestPayload{Ok: false, Error: err.Error()}
	}
	return IntentDigestPayload{Ok: true, Digest: digest}
}

// TxData returns a copy of the held batch, or nil before SET_TX_DATA.
func (s *ConfirmSession) TxData() *SetTxDataPayload {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		return nil
	}
	data := *s.data
	return &data
}

// Loading reports the current loading flag.
func (s *ConfirmSession) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

// LastError returns the most recent SET_ERROR text.
func (s *ConfirmSession) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errText
}

// Closed reports whether the surface was dismissed.
func (s *ConfirmSession) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
