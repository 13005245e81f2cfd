package near

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustDigest(t *testing.T, txs []TransactionInput) string {
	t.Helper()
	digest, err := ComputeIntentDigest(txs)
	require.NoError(t, err)
	require.Len(t, digest, 64)
	return digest
}

func decodeTxs(t *testing.T, payload string) []TransactionInput {
	t.Helper()
	var txs []TransactionInput
	require.NoError(t, json.Unmarshal([]byte(payload), &txs))
	return txs
}

func TestIntentDigestIdempotent(t *testing.T) {
	txs := []TransactionInput{{
		ReceiverID: "bob.near",
		Actions:    []ActionInput{{Type: ActionKindTransfer, Deposit: "1000000000000000000000000"}},
	}}

	assert.Equal(t, mustDigest(t, txs), mustDigest(t, txs))
}

// A transfer batch digests identically whether built from the UI display
// shape (camelCase, string amounts) or the worker wire shape (snake_case,
// numeric amounts).
func TestIntentDigestShapeIndependent(t *testing.T) {
	ui := decodeTxs(t, `[{
		"receiverId": "bob.near",
		"actions": [{"type": "Transfer", "deposit": "1000000000000000000000000"}]
	}]`)
	wire := decodeTxs(t, `[{
		"receiver_id": "bob.near",
		"actions": [{"action_type": "transfer", "deposit": 1000000000000000000000000}]
	}]`)

	assert.Equal(t, mustDigest(t, ui), mustDigest(t, wire))
}

func TestIntentDigestKeyOrderIndependent(t *testing.T) {
	a := decodeTxs(t, `[{
		"receiverId": "app.near",
		"actions": [{
			"type": "FunctionCall",
			"methodName": "set_status",
			"args": {"b": 2, "a": 1},
			"gas": "30000000000000",
			"deposit": "1"
		}]
	}]`)
	b := decodeTxs(t, `[{
		"actions": [{
			"deposit": "1",
			"gas": 30000000000000,
			"args": {"a": 1, "b": 2},
			"method_name": "set_status",
			"type": "FunctionCall"
		}],
		"receiver_id": "app.near"
	}]`)

	assert.Equal(t, mustDigest(t, a), mustDigest(t, b))
}

func TestIntentDigestStringifiedArgs(t *testing.T) {
	structured := decodeTxs(t, `[{
		"receiverId": "app.near",
		"actions": [{"type": "FunctionCall", "methodName": "m", "args": {"x": 10}, "gas": "1"}]
	}]`)
	stringified := decodeTxs(t, `[{
		"receiverId": "app.near",
		"actions": [{"type": "FunctionCall", "methodName": "m", "args": "{\"x\":10}", "gas": "1"}]
	}]`)

	assert.Equal(t, mustDigest(t, structured), mustDigest(t, stringified))
}

func TestIntentDigestTransactionOrderSignificant(t *testing.T) {
	first := TransactionInput{
		ReceiverID: "bob.near",
		Actions:    []ActionInput{{Type: ActionKindTransfer, Deposit: "1"}},
	}
	second := TransactionInput{
		ReceiverID: "carol.near",
		Actions:    []ActionInput{{Type: ActionKindTransfer, Deposit: "2"}},
	}

	assert.NotEqual(t,
		mustDigest(t, []TransactionInput{first, second}),
		mustDigest(t, []TransactionInput{second, first}))
}

func TestIntentDigestActionOrderSignificant(t *testing.T) {
	transfer := ActionInput{Type: ActionKindTransfer, Deposit: "1"}
	call := ActionInput{Type: ActionKindFunctionCall, MethodName: "m", Gas: "1"}

	assert.NotEqual(t,
		mustDigest(t, []TransactionInput{{ReceiverID: "a.near", Actions: []ActionInput{transfer, call}}}),
		mustDigest(t, []TransactionInput{{ReceiverID: "a.near", Actions: []ActionInput{call, transfer}}}))
}

func TestIntentDigestAmountNormalization(t *testing.T) {
	padded := []TransactionInput{{
		ReceiverID: "bob.near",
		Actions:    []ActionInput{{Type: ActionKindTransfer, Deposit: "0100"}},
	}}
	plain := []TransactionInput{{
		ReceiverID: "bob.near",
		Actions:    []ActionInput{{Type: ActionKindTransfer, Deposit: "100"}},
	}}

	assert.Equal(t, mustDigest(t, padded), mustDigest(t, plain))

	_, err := ComputeIntentDigest([]TransactionInput{{
		ReceiverID: "bob.near",
		Actions:    []ActionInput{{Type: ActionKindTransfer, Deposit: "1e24"}},
	}})
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = ComputeIntentDigest([]TransactionInput{{
		ReceiverID: "bob.near",
		Actions:    []ActionInput{{Type: ActionKindTransfer, Deposit: "-5"}},
	}})
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

// An unrecognized action kind must fail the whole digest; dropping it
// would hide an action from the confirmation screen.
func TestIntentDigestUnknownActionFails(t *testing.T) {
	_, err := ComputeIntentDigest([]TransactionInput{{
		ReceiverID: "bob.near",
		Actions: []ActionInput{
			{Type: ActionKindTransfer, Deposit: "1"},
			{Type: ActionKind("Mint")},
		},
	}})
	assert.ErrorIs(t, err, ErrUnknownActionKind)

	var in ActionInput
	err = json.Unmarshal([]byte(`{"type": "Mint", "amount": "1"}`), &in)
	assert.ErrorIs(t, err, ErrUnknownActionKind)
}

func TestIntentDigestMissingGasFails(t *testing.T) {
	_, err := ComputeIntentDigest([]TransactionInput{{
		ReceiverID: "app.near",
		Actions:    []ActionInput{{Type: ActionKindFunctionCall, MethodName: "m"}},
	}})
	assert.ErrorIs(t, err, ErrInvalidGas)
}

func TestIntentDigestPermissionDialects(t *testing.T) {
	pub, _ := testED25519Key(t)
	pk, err := NewPublicKeyFromED25519(pub)
	require.NoError(t, err)
	key := pk.String()

	stringForm := decodeTxs(t, `[{
		"receiverId": "alice.near",
		"actions": [{"type": "AddKey", "publicKey": "`+key+`",
			"accessKey": {"nonce": 0, "permission": "FullAccess"}}]
	}]`)
	objectForm := decodeTxs(t, `[{
		"receiverId": "alice.near",
		"actions": [{"type": "AddKey", "public_key": "`+key+`",
			"access_key": {"permission": {"FullAccess": {}}}}]
	}]`)

	assert.Equal(t, mustDigest(t, stringForm), mustDigest(t, objectForm))

	restricted := decodeTxs(t, `[{
		"receiverId": "alice.near",
		"actions": [{"type": "AddKey", "publicKey": "`+key+`",
			"accessKey": {"nonce": 7, "permission": {
				"receiverId": "app.near", "methodNames": ["a", "b"], "allowance": "1000"}}}]
	}]`)
	nested := decodeTxs(t, `[{
		"receiverId": "alice.near",
		"actions": [{"type": "AddKey", "publicKey": "`+key+`",
			"accessKey": {"nonce": "7", "permission": {"FunctionCall": {
				"method_names": ["a", "b"], "allowance": 1000, "receiver_id": "app.near"}}}}]
	}]`)

	assert.Equal(t, mustDigest(t, restricted), mustDigest(t, nested))
}

func TestActionInputMarshalCanonical(t *testing.T) {
	wire := decodeTxs(t, `[{
		"receiver_id": "app.near",
		"actions": [{"action_type": "FunctionCall", "method_name": "m",
			"args": "{\"z\":1,\"a\":2}", "gas": 5, "deposit": 0}]
	}]`)
	before := mustDigest(t, wire)

	// Round-tripping through canonical JSON preserves the digest.
	data, err := json.Marshal(wire)
	require.NoError(t, err)
	again := decodeTxs(t, string(data))
	assert.Equal(t, before, mustDigest(t, again))
}

func TestToActionMirrorsDigest(t *testing.T) {
	in := ActionInput{
		Type:       ActionKindFunctionCall,
		MethodName: "set",
		Args:       json.RawMessage(`{"b":2,"a":1}`),
		Gas:        "30000000000000",
	}

	action, err := in.ToAction()
	require.NoError(t, err)
	kind, err := action.Kind()
	require.NoError(t, err)
	assert.Equal(t, ActionKindFunctionCall, kind)
	// Args bytes are the canonical form, matching what the digest hashed.
	assert.JSONEq(t, `{"a":1,"b":2}`, string(action.FunctionCall.Args))
	assert.Equal(t, `{"a":1,"b":2}`, string(action.FunctionCall.Args))

	_, err = ActionInput{Type: ActionKind("Burn")}.ToAction()
	assert.ErrorIs(t, err, ErrUnknownActionKind)
}

func TestBuildTransactionPreservesOrder(t *testing.T) {
	pub, _ := testED25519Key(t)
	pk, err := NewPublicKeyFromED25519(pub)
	require.NoError(t, err)

	inputs := []ActionInput{
		{Type: ActionKindCreateAccount},
		{Type: ActionKindTransfer, Deposit: "10"},
		{Type: ActionKindDeleteKey, PublicKey: pk.String()},
	}

	tx, err := BuildTransaction("alice.near", pk, 9, "bob.near", [32]byte{}, inputs)
	require.NoError(t, err)
	require.Len(t, tx.Actions, 3)

	kinds := make([]ActionKind, 0, len(tx.Actions))
	for _, a := range tx.Actions {
		kind, err := a.Kind()
		require.NoError(t, err)
		kinds = append(kinds, kind)
	}
	assert.Equal(t, []ActionKind{ActionKindCreateAccount, ActionKindTransfer, ActionKindDeleteKey}, kinds)
}

func TestBuildTransactionValidates(t *testing.T) {
	pub, _ := testED25519Key(t)
	pk, err := NewPublicKeyFromED25519(pub)
	require.NoError(t, err)

	_, err = BuildTransaction("Bad!Signer", pk, 0, "bob.near", [32]byte{}, []ActionInput{{Type: ActionKindCreateAccount}})
	assert.ErrorIs(t, err, ErrInvalidAccountID)

	_, err = BuildTransaction("alice.near", pk, 0, "bob.near", [32]byte{}, nil)
	assert.ErrorIs(t, err, ErrMalformedAction)
}
