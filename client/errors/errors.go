// Package errors defines the typed failures surfaced by the NEAR RPC
// client, separating "the chain answered no" from "the chain could not
// be answered".
package errors

import (
	"errors"
	"fmt"
)

// Sentinel answers callers branch on. Anything the client returns that
// does not match one of these is a transport or decoding failure.
var (
	ErrAccountNotFound     = errors.New("account not found")
	ErrAccessKeyNotFound   = errors.New("access key not found")
	ErrBlockNotFound       = errors.New("block not found")
	ErrTransactionRejected = errors.New("transaction rejected")
	ErrNodeNotSynced       = errors.New("node has no synced blocks")
)

// Cause names nearcore attaches to handler errors.
const (
	CauseUnknownAccount     = "UNKNOWN_ACCOUNT"
	CauseUnknownAccessKey   = "UNKNOWN_ACCESS_KEY"
	CauseUnknownBlock       = "UNKNOWN_BLOCK"
	CauseInvalidTransaction = "INVALID_TRANSACTION"
	CauseNoSyncedBlocks     = "NO_SYNCED_BLOCKS"
)

// RPCError is a structured error returned by a NEAR node. Name is the
// coarse category (HANDLER_ERROR, REQUEST_VALIDATION_ERROR), Cause the
// machine-readable reason, Data the human-readable detail.
type RPCError struct {
	Name    string
	Cause   string
	Message string
	Data    string
}

func (e *RPCError) Error() string {
	detail := e.Data
	if detail == "" {
		detail = e.Message
	}
	if e.Cause != "" {
		return fmt.Sprintf("rpc error %s/%s: %s", e.Name, e.Cause, detail)
	}
	return fmt.Sprintf("rpc error %s: %s", e.Name, detail)
}

// Unwrap maps known causes to sentinels so callers can use errors.Is
// instead of matching cause strings.
func (e *RPCError) Unwrap() error {
	switch e.Cause {
	case CauseUnknownAccount:
		return ErrAccountNotFound
	case CauseUnknownAccessKey:
		return ErrAccessKeyNotFound
	case CauseUnknownBlock:
		return ErrBlockNotFound
	case CauseInvalidTransaction:
		return ErrTransactionRejected
	case CauseNoSyncedBlocks:
		return ErrNodeNotSynced
	default:
		return nil
	}
}

// IsNotFound reports whether err is one of the not-found answers a
// healthy node can give.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrAccessKeyNotFound) ||
		errors.Is(err, ErrBlockNotFound)
}
