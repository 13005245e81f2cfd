// Package client is a minimal NEAR JSON-RPC client covering the calls
// the signing flows need: chain head, access key and account views, and
// signed transaction submission.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/vautr-io/vautr/client/config"
	clienterrors "github.com/vautr-io/vautr/client/errors"
	"github.com/vautr-io/vautr/vault"
)

// Finality selects which chain view a query runs against.
type Finality string

const (
	// FinalityOptimistic uses the latest block the node has seen.
	FinalityOptimistic Finality = "optimistic"
	// FinalityFinal uses the latest fully finalized block.
	FinalityFinal Finality = "final"
)

// DefaultTimeout bounds one RPC round trip when the config leaves the
// timeout unset.
const DefaultTimeout = 30 * time.Second

// defaultWaitUntil is how far send_tx blocks server-side: transaction
// executed, receipts still optimistic.
const defaultWaitUntil = "EXECUTED_OPTIMISTIC"

// Client talks to one NEAR JSON-RPC endpoint. Safe for concurrent use.
// No retries: a failed call is reported as-is and the caller decides.
type Client struct {
	endpoint string
	http     *http.Client
	logger   zerolog.Logger
	nextID   atomic.Uint64
}

// Config wires a Client. Endpoint is required.
type Config struct {
	Endpoint string
	Timeout  time.Duration
	// HTTPClient overrides the built-in client; Timeout is ignored
	// when set.
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

// New builds a Client for the given endpoint.
func New(cfg Config) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("rpc endpoint is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		http:     httpClient,
		logger:   cfg.Logger,
	}, nil
}

// NewFromNetwork builds a Client from a network preset.
func NewFromNetwork(nc config.NetworkConfig, logger zerolog.Logger) (*Client, error) {
	if err := nc.Validate(); err != nil {
		return nil, fmt.Errorf("network config: %w", err)
	}
	return New(Config{
		Endpoint: nc.RPC,
		Timeout:  nc.RequestTimeout,
		Logger:   logger,
	})
}

// BlockHeader is the part of a block header the signing flows consume.
type BlockHeader struct {
	Height    uint64 `json:"height"`
	Hash      string `json:"hash"`
	PrevHash  string `json:"prev_hash"`
	Timestamp uint64 `json:"timestamp"`
}

type blockResult struct {
	Author string      `json:"author"`
	Header BlockHeader `json:"header"`
}

// Block fetches the chain head at the given finality. An empty finality
// means final.
func (c *Client) Block(ctx context.Context, finality Finality) (*BlockHeader, error) {
	if finality == "" {
		finality = FinalityFinal
	}
	params := map[string]any{"finality": string(finality)}
	var result blockResult
	if err := c.call(ctx, "block", params, &result); err != nil {
		return nil, err
	}
	return &result.Header, nil
}

// AccessKeyView is the state of one access key together with the block
// the view was taken at.
type AccessKeyView struct {
	Nonce       uint64          `json:"nonce"`
	Permission  json.RawMessage `json:"permission"`
	BlockHeight uint64          `json:"block_height"`
	BlockHash   string          `json:"block_hash"`
}

// ViewAccessKey resolves an account's access key by its "ed25519:..."
// public key. Returns errors.ErrAccessKeyNotFound when the key is not
// registered on the account.
func (c *Client) ViewAccessKey(ctx context.Context, accountID, publicKey string) (*AccessKeyView, error) {
	params := map[string]any{
		"request_type": "view_access_key",
		"finality":     string(FinalityFinal),
		"account_id":   accountID,
		"public_key":   publicKey,
	}
	var raw json.RawMessage
	if err := c.call(ctx, "query", params, &raw); err != nil {
		return nil, err
	}
	if err := legacyQueryError(raw); err != nil {
		return nil, err
	}
	var view AccessKeyView
	if err := json.Unmarshal(raw, &view); err != nil {
		return nil, fmt.Errorf("decoding access key view: %w", err)
	}
	return &view, nil
}

// AccountView is basic account state at the viewed block.
type AccountView struct {
	Amount       string `json:"amount"`
	Locked       string `json:"locked"`
	CodeHash     string `json:"code_hash"`
	StorageUsage uint64 `json:"storage_usage"`
	BlockHeight  uint64 `json:"block_height"`
	BlockHash    string `json:"block_hash"`
}

// ViewAccount fetches basic account state. Returns
// errors.ErrAccountNotFound when the id is unregistered.
func (c *Client) ViewAccount(ctx context.Context, accountID string) (*AccountView, error) {
	params := map[string]any{
		"request_type": "view_account",
		"finality":     string(FinalityFinal),
		"account_id":   accountID,
	}
	var raw json.RawMessage
	if err := c.call(ctx, "query", params, &raw); err != nil {
		return nil, err
	}
	if err := legacyQueryError(raw); err != nil {
		return nil, err
	}
	var view AccountView
	if err := json.Unmarshal(raw, &view); err != nil {
		return nil, fmt.Errorf("decoding account view: %w", err)
	}
	return &view, nil
}

// Older nodes report query misses inside the result object instead of
// the JSON-RPC error envelope.
func legacyQueryError(raw json.RawMessage) error {
	var probe struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil || probe.Error == "" {
		return nil
	}
	if strings.Contains(probe.Error, "does not exist while viewing") {
		if strings.Contains(probe.Error, "access key") {
			return fmt.Errorf("%w: %s", clienterrors.ErrAccessKeyNotFound, probe.Error)
		}
		return fmt.Errorf("%w: %s", clienterrors.ErrAccountNotFound, probe.Error)
	}
	return fmt.Errorf("query failed: %s", probe.Error)
}

// ExecutionStatus is the terminal status of a transaction. Exactly one
// field is set.
type ExecutionStatus struct {
	SuccessValue     *string         `json:"SuccessValue,omitempty"`
	SuccessReceiptID *string         `json:"SuccessReceiptId,omitempty"`
	Failure          json.RawMessage `json:"Failure,omitempty"`
}

// Failed reports whether execution ended in failure.
func (s ExecutionStatus) Failed() bool {
	return len(s.Failure) > 0
}

// ExecutionOutcome is the node's answer to a transaction submission.
type ExecutionOutcome struct {
	TransactionHash string
	Status          ExecutionStatus
	FinalStatus     string
}

type sendTxResult struct {
	Status      ExecutionStatus `json:"status"`
	Transaction struct {
		Hash string `json:"hash"`
	} `json:"transaction"`
	FinalExecutionStatus string `json:"final_execution_status"`
}

// SendTransaction submits a borsh-serialized, base64-encoded signed
// transaction and waits for optimistic execution.
func (c *Client) SendTransaction(ctx context.Context, signedTxB64 string) (*ExecutionOutcome, error) {
	params := map[string]any{
		"signed_tx_base64": signedTxB64,
		"wait_until":       defaultWaitUntil,
	}
	var result sendTxResult
	if err := c.call(ctx, "send_tx", params, &result); err != nil {
		return nil, err
	}
	outcome := &ExecutionOutcome{
		TransactionHash: result.Transaction.Hash,
		Status:          result.Status,
		FinalStatus:     result.FinalExecutionStatus,
	}
	c.logger.Debug().
		Str("txHash", outcome.TransactionHash).
		Bool("failed", outcome.Status.Failed()).
		Msg("transaction submitted")
	return outcome, nil
}

// The client feeds signing flows directly.
var _ vault.ChainProvider = (*Client)(nil)

// TransactionContext assembles the chain snapshot one signing flow
// binds to. The access key view supplies the nonce and a recent final
// block in a single round trip; the batch's first transaction signs
// with nonce+1.
func (c *Client) TransactionContext(ctx context.Context, accountID, publicKey string) (*vault.TransactionContext, error) {
	view, err := c.ViewAccessKey(ctx, accountID, publicKey)
	if err != nil {
		return nil, err
	}
	return &vault.TransactionContext{
		NearPublicKeyStr: publicKey,
		NextNonce:        view.Nonce + 1,
		TxBlockHeight:    view.BlockHeight,
		TxBlockHash:      view.BlockHash,
	}, nil
}

// LatestBlock returns the finalized chain head.
func (c *Client) LatestBlock(ctx context.Context) (uint64, string, error) {
	header, err := c.Block(ctx, FinalityFinal)
	if err != nil {
		return 0, "", err
	}
	return header.Height, header.Hash, nil
}

// AccountExists probes whether an account id is registered on chain.
// An unknown account is an answer, not an error.
func (c *Client) AccountExists(ctx context.Context, accountID string) (bool, error) {
	_, err := c.ViewAccount(ctx, accountID)
	if errors.Is(err, clienterrors.ErrAccountNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
