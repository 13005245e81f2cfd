package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vautr-io/vautr/client/config"
	clienterrors "github.com/vautr-io/vautr/client/errors"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	c, err := New(Config{Endpoint: server.URL, Logger: zerolog.Nop()})
	require.NoError(t, err)
	return c
}

func decodeRPCRequest(t *testing.T, r *http.Request) (string, map[string]any) {
	t.Helper()
	body, err := io.ReadAll(r.Body)
	require.NoError(t, err)

	var req struct {
		JSONRPC string         `json:"jsonrpc"`
		ID      uint64         `json:"id"`
		Method  string         `json:"method"`
		Params  map[string]any `json:"params"`
	}
	require.NoError(t, json.Unmarshal(body, &req))
	require.Equal(t, "2.0", req.JSONRPC)
	require.NotZero(t, req.ID)
	return req.Method, req.Params
}

func writeRPCResult(t *testing.T, w http.ResponseWriter, result string) {
	t.Helper()
	_, err := fmt.Fprintf(w, `{"jsonrpc":"2.0","id":1,"result":%s}`, result)
	require.NoError(t, err)
}

func writeRPCError(t *testing.T, w http.ResponseWriter, name, cause, data string) {
	t.Helper()
	_, err := fmt.Fprintf(w,
		`{"jsonrpc":"2.0","id":1,"error":{"name":%q,"cause":{"name":%q},"code":-32000,"message":"Server error","data":%q}}`,
		name, cause, data)
	require.NoError(t, err)
}

func TestNewRequiresEndpoint(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "endpoint")
}

func TestNewTrimsTrailingSlash(t *testing.T) {
	c, err := New(Config{Endpoint: "http://localhost:3030/"})
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:3030", c.endpoint)
}

func TestNewFromNetworkUsesPreset(t *testing.T) {
	c, err := NewFromNetwork(config.LocalNetwork(), zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:3030", c.endpoint)

	_, err = NewFromNetwork(config.NetworkConfig{NetworkID: "broken"}, zerolog.Nop())
	require.Error(t, err)
}

func TestBlockFetchesHead(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		method, params := decodeRPCRequest(t, r)
		assert.Equal(t, "block", method)
		assert.Equal(t, "final", params["finality"])
		writeRPCResult(t, w, `{
			"author": "node0",
			"header": {
				"height": 123456,
				"hash": "9MzuZrRPW1BGpFnZJUJg6SzCrixPpJDfjsNeUobRXsLe",
				"prev_hash": "EPnLgE7iEq9s7yTkos96M3cWymH5avBAPm3qx3NXqR8H",
				"timestamp": 1700000000000000000
			}
		}`)
	})

	header, err := c.Block(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, uint64(123456), header.Height)
	assert.Equal(t, "9MzuZrRPW1BGpFnZJUJg6SzCrixPpJDfjsNeUobRXsLe", header.Hash)
	assert.Equal(t, "EPnLgE7iEq9s7yTkos96M3cWymH5avBAPm3qx3NXqR8H", header.PrevHash)
}

func TestBlockOptimisticFinality(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, params := decodeRPCRequest(t, r)
		assert.Equal(t, "optimistic", params["finality"])
		writeRPCResult(t, w, `{"header":{"height":7,"hash":"h"}}`)
	})

	header, err := c.Block(context.Background(), FinalityOptimistic)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), header.Height)
}

func TestViewAccessKey(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		method, params := decodeRPCRequest(t, r)
		assert.Equal(t, "query", method)
		assert.Equal(t, "view_access_key", params["request_type"])
		assert.Equal(t, "final", params["finality"])
		assert.Equal(t, "alice.testnet", params["account_id"])
		assert.Equal(t, "ed25519:6E8sCci9badyRkXb3JoRpBj5p8C6Tw41ELDZoiihKEtp", params["public_key"])
		writeRPCResult(t, w, `{
			"nonce": 41,
			"permission": "FullAccess",
			"block_height": 123456,
			"block_hash": "9MzuZrRPW1BGpFnZJUJg6SzCrixPpJDfjsNeUobRXsLe"
		}`)
	})

	view, err := c.ViewAccessKey(context.Background(), "alice.testnet", "ed25519:6E8sCci9badyRkXb3JoRpBj5p8C6Tw41ELDZoiihKEtp")
	require.NoError(t, err)
	assert.Equal(t, uint64(41), view.Nonce)
	assert.Equal(t, uint64(123456), view.BlockHeight)
	assert.Equal(t, "9MzuZrRPW1BGpFnZJUJg6SzCrixPpJDfjsNeUobRXsLe", view.BlockHash)
	assert.JSONEq(t, `"FullAccess"`, string(view.Permission))
}

func TestViewAccessKeyUnknown(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeRPCError(t, w, "HANDLER_ERROR", "UNKNOWN_ACCESS_KEY",
			"access key ed25519:6E8s... does not exist while viewing")
	})

	_, err := c.ViewAccessKey(context.Background(), "alice.testnet", "ed25519:6E8s")
	require.Error(t, err)
	assert.ErrorIs(t, err, clienterrors.ErrAccessKeyNotFound)
	assert.Contains(t, err.Error(), "UNKNOWN_ACCESS_KEY")
	assert.True(t, clienterrors.IsNotFound(err))
}

func TestViewAccessKeyLegacyErrorShape(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeRPCResult(t, w, `{
			"error": "access key ed25519:6E8s does not exist while viewing",
			"logs": [],
			"block_height": 123456,
			"block_hash": "9MzuZrRPW1BGpFnZJUJg6SzCrixPpJDfjsNeUobRXsLe"
		}`)
	})

	_, err := c.ViewAccessKey(context.Background(), "alice.testnet", "ed25519:6E8s")
	require.Error(t, err)
	assert.ErrorIs(t, err, clienterrors.ErrAccessKeyNotFound)
}

func TestViewAccount(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		method, params := decodeRPCRequest(t, r)
		assert.Equal(t, "query", method)
		assert.Equal(t, "view_account", params["request_type"])
		assert.Equal(t, "alice.testnet", params["account_id"])
		writeRPCResult(t, w, `{
			"amount": "399992611103597728750000000",
			"locked": "0",
			"code_hash": "11111111111111111111111111111111",
			"storage_usage": 642,
			"block_height": 123456,
			"block_hash": "9MzuZrRPW1BGpFnZJUJg6SzCrixPpJDfjsNeUobRXsLe"
		}`)
	})

	view, err := c.ViewAccount(context.Background(), "alice.testnet")
	require.NoError(t, err)
	assert.Equal(t, "399992611103597728750000000", view.Amount)
	assert.Equal(t, uint64(642), view.StorageUsage)
}

func TestViewAccountUnknown(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeRPCError(t, w, "HANDLER_ERROR", "UNKNOWN_ACCOUNT",
			"account nosuch.testnet does not exist while viewing")
	})

	_, err := c.ViewAccount(context.Background(), "nosuch.testnet")
	require.Error(t, err)
	assert.ErrorIs(t, err, clienterrors.ErrAccountNotFound)
}

func TestAccountExists(t *testing.T) {
	t.Run("registered account", func(t *testing.T) {
		c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
			writeRPCResult(t, w, `{"amount":"1","locked":"0","code_hash":"11111111111111111111111111111111","storage_usage":100}`)
		})

		exists, err := c.AccountExists(context.Background(), "alice.testnet")
		require.NoError(t, err)
		assert.True(t, exists)
	})

	t.Run("unknown account is an answer", func(t *testing.T) {
		c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
			writeRPCError(t, w, "HANDLER_ERROR", "UNKNOWN_ACCOUNT",
				"account free.testnet does not exist while viewing")
		})

		exists, err := c.AccountExists(context.Background(), "free.testnet")
		require.NoError(t, err)
		assert.False(t, exists)
	})

	t.Run("transport failure is an error", func(t *testing.T) {
		c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		})

		_, err := c.AccountExists(context.Background(), "alice.testnet")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "HTTP 502")
	})
}

func TestTransactionContext(t *testing.T) {
	const publicKey = "ed25519:6E8sCci9badyRkXb3JoRpBj5p8C6Tw41ELDZoiihKEtp"

	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, params := decodeRPCRequest(t, r)
		assert.Equal(t, "view_access_key", params["request_type"])
		writeRPCResult(t, w, `{
			"nonce": 41,
			"permission": "FullAccess",
			"block_height": 123456,
			"block_hash": "9MzuZrRPW1BGpFnZJUJg6SzCrixPpJDfjsNeUobRXsLe"
		}`)
	})

	txCtx, err := c.TransactionContext(context.Background(), "alice.testnet", publicKey)
	require.NoError(t, err)
	assert.Equal(t, publicKey, txCtx.NearPublicKeyStr)
	assert.Equal(t, uint64(42), txCtx.NextNonce)
	assert.Equal(t, uint64(123456), txCtx.TxBlockHeight)
	assert.Equal(t, "9MzuZrRPW1BGpFnZJUJg6SzCrixPpJDfjsNeUobRXsLe", txCtx.TxBlockHash)
}

func TestLatestBlock(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeRPCResult(t, w, `{"header":{"height":123500,"hash":"headhash"}}`)
	})

	height, hash, err := c.LatestBlock(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(123500), height)
	assert.Equal(t, "headhash", hash)
}

func TestSendTransaction(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		method, params := decodeRPCRequest(t, r)
		assert.Equal(t, "send_tx", method)
		assert.Equal(t, "CAFE==", params["signed_tx_base64"])
		assert.Equal(t, "EXECUTED_OPTIMISTIC", params["wait_until"])
		writeRPCResult(t, w, `{
			"status": {"SuccessValue": ""},
			"transaction": {"hash": "6zgh2u9DqHHiXzdy9ouTP7oGky2T4nugqzqt9wJZwNFm"},
			"final_execution_status": "EXECUTED_OPTIMISTIC"
		}`)
	})

	outcome, err := c.SendTransaction(context.Background(), "CAFE==")
	require.NoError(t, err)
	assert.Equal(t, "6zgh2u9DqHHiXzdy9ouTP7oGky2T4nugqzqt9wJZwNFm", outcome.TransactionHash)
	assert.Equal(t, "EXECUTED_OPTIMISTIC", outcome.FinalStatus)
	assert.False(t, outcome.Status.Failed())
	require.NotNil(t, outcome.Status.SuccessValue)
}

func TestSendTransactionFailureStatus(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeRPCResult(t, w, `{
			"status": {"Failure": {"ActionError": {"index": 0, "kind": {"AccountDoesNotExist": {"account_id": "ghost.testnet"}}}}},
			"transaction": {"hash": "6zgh2u9DqHHiXzdy9ouTP7oGky2T4nugqzqt9wJZwNFm"},
			"final_execution_status": "EXECUTED_OPTIMISTIC"
		}`)
	})

	outcome, err := c.SendTransaction(context.Background(), "CAFE==")
	require.NoError(t, err)
	assert.True(t, outcome.Status.Failed())
	assert.Contains(t, string(outcome.Status.Failure), "AccountDoesNotExist")
}

func TestSendTransactionRejected(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeRPCError(t, w, "HANDLER_ERROR", "INVALID_TRANSACTION", "invalid nonce")
	})

	_, err := c.SendTransaction(context.Background(), "CAFE==")
	require.Error(t, err)
	assert.ErrorIs(t, err, clienterrors.ErrTransactionRejected)
}

func TestCallMalformedResponse(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, err := fmt.Fprint(w, "not json")
		require.NoError(t, err)
	})

	_, err := c.Block(context.Background(), FinalityFinal)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decoding block response")
}

func TestCallCancelledContext(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeRPCResult(t, w, `{"header":{"height":1,"hash":"h"}}`)
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Block(ctx, FinalityFinal)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
