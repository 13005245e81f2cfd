package vault

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vautr-io/vautr/types/near"
)

func intPtr(v int) *int { return &v }

func TestConfirmationConfigValidate(t *testing.T) {
	cases := []struct {
		name    string
		cfg     ConfirmationConfig
		wantErr string
	}{
		{"default", DefaultConfirmationConfig(), ""},
		{"skip", ConfirmationConfig{UIMode: UIModeSkip, Behavior: BehaviorRequireClick}, ""},
		{"embedded auto", ConfirmationConfig{UIMode: UIModeEmbedded, Behavior: BehaviorAutoProceed, AutoProceedDelayMs: intPtr(2000)}, ""},
		{"zero delay", ConfirmationConfig{UIMode: UIModeModal, Behavior: BehaviorAutoProceed, AutoProceedDelayMs: intPtr(0)}, ""},
		{"bad mode", ConfirmationConfig{UIMode: "Popup", Behavior: BehaviorRequireClick}, `unknown uiMode "Popup"`},
		{"bad behavior", ConfirmationConfig{UIMode: UIModeModal, Behavior: "WaitForever"}, `unknown behavior "WaitForever"`},
		{"negative delay", ConfirmationConfig{UIMode: UIModeModal, Behavior: BehaviorAutoProceed, AutoProceedDelayMs: intPtr(-1)}, "autoProceedDelayMs cannot be negative, got -1"},
		{"delay without auto", ConfirmationConfig{UIMode: UIModeModal, Behavior: BehaviorRequireClick, AutoProceedDelayMs: intPtr(500)}, "autoProceedDelayMs requires behavior AutoProceed"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.EqualError(t, err, tc.wantErr)
			}
		})
	}
}

func TestConfirmationConfigWireShape(t *testing.T) {
	raw := []byte(`{"uiMode":"Embedded","behavior":"AutoProceed","autoProceedDelayMs":1500,"theme":"dark"}`)

	var cfg ConfirmationConfig
	require.NoError(t, json.Unmarshal(raw, &cfg))
	assert.Equal(t, UIModeEmbedded, cfg.UIMode)
	assert.Equal(t, BehaviorAutoProceed, cfg.Behavior)
	require.NotNil(t, cfg.AutoProceedDelayMs)
	assert.Equal(t, 1500, *cfg.AutoProceedDelayMs)
	assert.Equal(t, "dark", cfg.Theme)
	assert.NoError(t, cfg.Validate())
}

func TestConfirmSessionDigestRecompute(t *testing.T) {
	session := NewConfirmSession()

	// Before SET_TX_DATA a digest request answers with ok=false.
	reply, err := session.HandleMessage(UIMessage{Type: UIRequestDigest})
	require.NoError(t, err)
	require.NotNil(t, reply)
	assert.Equal(t, UIIntentDigest, reply.Type)

	var answer IntentDigestPayload
	require.NoError(t, json.Unmarshal(reply.Payload, &answer))
	assert.False(t, answer.Ok)
	assert.Equal(t, "no transaction data held", answer.Error)

	txs := []near.TransactionInput{{
		ReceiverID: "bob.testnet",
		Actions:    []near.ActionInput{{Type: near.ActionKindTransfer, Deposit: "100"}},
	}}
	setData, err := NewUIMessage(UISetTxData, SetTxDataPayload{
		NearAccountID:     testAccountID,
		TxSigningRequests: txs,
	})
	require.NoError(t, err)

	reply, err = session.HandleMessage(setData)
	require.NoError(t, err)
	assert.Nil(t, reply)

	reply, err = session.HandleMessage(UIMessage{Type: UIRequestDigest})
	require.NoError(t, err)
	require.NotNil(t, reply)
	require.NoError(t, json.Unmarshal(reply.Payload, &answer))

	want, err := near.ComputeIntentDigest(txs)
	require.NoError(t, err)
	assert.True(t, answer.Ok)
	assert.Equal(t, want, answer.Digest)
	assert.Empty(t, answer.Error)
}

func TestConfirmSessionDigestErrorsOnBadBatch(t *testing.T) {
	session := NewConfirmSession()

	setData, err := NewUIMessage(UISetTxData, SetTxDataPayload{
		NearAccountID: testAccountID,
		TxSigningRequests: []near.TransactionInput{{
			ReceiverID: "bob.testnet",
			Actions:    []near.ActionInput{{Type: "Teleport"}},
		}},
	})
	require.NoError(t, err)
	_, err = session.HandleMessage(setData)
	require.NoError(t, err)

	reply, err := session.HandleMessage(UIMessage{Type: UIRequestDigest})
	require.NoError(t, err)

	var answer IntentDigestPayload
	require.NoError(t, json.Unmarshal(reply.Payload, &answer))
	assert.False(t, answer.Ok)
	assert.Contains(t, answer.Error, "unknown action kind")
}

func TestConfirmSessionState(t *testing.T) {
	session := NewConfirmSession()
	assert.Nil(t, session.TxData())
	assert.False(t, session.Loading())
	assert.False(t, session.Closed())

	loading, err := NewUIMessage(UISetLoading, true)
	require.NoError(t, err)
	_, err = session.HandleMessage(loading)
	require.NoError(t, err)
	assert.True(t, session.Loading())

	errMsg, err := NewUIMessage(UISetError, "rpc unreachable")
	require.NoError(t, err)
	_, err = session.HandleMessage(errMsg)
	require.NoError(t, err)
	assert.Equal(t, "rpc unreachable", session.LastError())

	closeMsg, err := NewUIMessage(UICloseModal, CloseModalPayload{Confirmed: true})
	require.NoError(t, err)
	_, err = session.HandleMessage(closeMsg)
	require.NoError(t, err)
	assert.True(t, session.Closed())
	assert.False(t, session.Loading(), "closing clears the loading flag")
}

func TestConfirmSessionRejectsUnknownType(t *testing.T) {
	session := NewConfirmSession()
	_, err := session.HandleMessage(UIMessage{Type: "PING"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unexpected ui message type "PING"`)
}

func TestConfirmSessionTxDataCopies(t *testing.T) {
	session := NewConfirmSession()
	setData, err := NewUIMessage(UISetTxData, SetTxDataPayload{NearAccountID: testAccountID})
	require.NoError(t, err)
	_, err = session.HandleMessage(setData)
	require.NoError(t, err)

	first := session.TxData()
	require.NotNil(t, first)
	first.NearAccountID = "mallory.testnet"

	second := session.TxData()
	assert.Equal(t, testAccountID, second.NearAccountID)
}
