package near

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// TransactionInput is one transaction of a signing request as it crosses
// process boundaries: a receiver plus a list of loosely-typed actions.
// Both the UI display shape and the wire shape deserialize into it; field
// keys are accepted in camelCase and snake_case.
type TransactionInput struct {
	// NearAccountID optionally names the signer; it is not part of the
	// intent digest, which covers only what the receiver will execute.
	NearAccountID string
	ReceiverID    string
	Actions       []ActionInput
}

// ActionInput is the loosely-typed action shape. Numeric fields stay
// decimal strings until canonicalization so no float conversion can
// corrupt an amount in transit.
type ActionInput struct {
	Type          ActionKind
	Deposit       string
	MethodName    string
	Args          json.RawMessage
	ArgsBase64    string
	Gas           string
	PublicKey     string
	AccessKey     *AccessKeyInput
	Code          []byte
	Stake         string
	BeneficiaryID string
}

// AccessKeyInput mirrors AccessKey for wire payloads.
type AccessKeyInput struct {
	Nonce      uint64
	Permission PermissionInput
}

// PermissionInput is either full access or a function-call restriction.
type PermissionInput struct {
	FullAccess  bool
	ReceiverID  string
	MethodNames []string
	Allowance   string
}

// ComputeIntentDigest canonicalizes a transaction batch and hashes it.
// The transaction array order is significant and never sorted: the user
// confirms transactions in submission order and signs that exact order.
// Any unknown action kind fails the whole computation; omitting an action
// here would let it reach the signer unconfirmed.
func ComputeIntentDigest(txs []TransactionInput) (string, error) {
	h := sha256.New()
	for i, tx := range txs {
		canonical, err := canonicalTransaction(tx)
		if err != nil {
			return "", fmt.Errorf("transaction %d: %w", i, err)
		}
		h.Write(canonical)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// canonicalTransaction serializes {receiverId, actions} with fixed field
// order and canonicalized values.
func canonicalTransaction(tx TransactionInput) ([]byte, error) {
	if err := ValidateAccountID(tx.ReceiverID); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.WriteString(`{"receiverId":`)
	buf.Write(jsonString(tx.ReceiverID))
	buf.WriteString(`,"actions":[`)
	for i, action := range tx.Actions {
		if i > 0 {
			buf.WriteByte(',')
		}
		canonical, err := orderActionForDigest(action)
		if err != nil {
			return nil, fmt.Errorf("action %d: %w", i, err)
		}
		buf.Write(canonical)
	}
	buf.WriteString(`]}`)
	return buf.Bytes(), nil
}

// orderActionForDigest maps an action onto its canonical JSON form: a
// fixed total order over fields per variant, amounts and gas re-formatted
// as plain decimal strings, keys normalized to their canonical spelling.
// Two representations of the same logical action always produce identical
// bytes here, whatever key order or naming convention they arrived with.
func orderActionForDigest(a ActionInput) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"type":`)

	switch a.Type {
	case ActionKindCreateAccount:
		buf.Write(jsonString(string(ActionKindCreateAccount)))

	case ActionKindDeployContract:
		if len(a.Code) == 0 {
			return nil, fmt.Errorf("%w: DeployContract requires code", ErrMalformedAction)
		}
		buf.Write(jsonString(string(ActionKindDeployContract)))
		buf.WriteString(`,"code":`)
		buf.Write(jsonString(base64.StdEncoding.EncodeToString(a.Code)))

	case ActionKindFunctionCall:
		if a.MethodName == "" {
			return nil, fmt.Errorf("%w: FunctionCall requires methodName", ErrMalformedAction)
		}
		buf.Write(jsonString(string(ActionKindFunctionCall)))
		buf.WriteString(`,"methodName":`)
		buf.Write(jsonString(a.MethodName))

		argsKey, argsValue, err := canonicalArgs(a)
		if err != nil {
			return nil, err
		}
		buf.WriteString(`,"` + argsKey + `":`)
		buf.Write(argsValue)

		gas, err := canonicalGas(a.Gas)
		if err != nil {
			return nil, err
		}
		buf.WriteString(`,"gas":`)
		buf.Write(jsonString(gas))

		deposit, err := canonicalAmount(a.Deposit, "0")
		if err != nil {
			return nil, err
		}
		buf.WriteString(`,"deposit":`)
		buf.Write(jsonString(deposit))

	case ActionKindTransfer:
		deposit, err := canonicalAmount(a.Deposit, "")
		if err != nil {
			return nil, err
		}
		buf.Write(jsonString(string(ActionKindTransfer)))
		buf.WriteString(`,"deposit":`)
		buf.Write(jsonString(deposit))

	case ActionKindStake:
		stake, err := canonicalAmount(a.Stake, "")
		if err != nil {
			return nil, err
		}
		publicKey, err := canonicalPublicKey(a.PublicKey)
		if err != nil {
			return nil, err
		}
		buf.Write(jsonString(string(ActionKindStake)))
		buf.WriteString(`,"stake":`)
		buf.Write(jsonString(stake))
		buf.WriteString(`,"publicKey":`)
		buf.Write(jsonString(publicKey))

	case ActionKindAddKey:
		publicKey, err := canonicalPublicKey(a.PublicKey)
		if err != nil {
			return nil, err
		}
		if a.AccessKey == nil {
			return nil, fmt.Errorf("%w: AddKey requires accessKey", ErrMalformedAction)
		}
		accessKey, err := canonicalAccessKey(*a.AccessKey)
		if err != nil {
			return nil, err
		}
		buf.Write(jsonString(string(ActionKindAddKey)))
		buf.WriteString(`,"publicKey":`)
		buf.Write(jsonString(publicKey))
		buf.WriteString(`,"accessKey":`)
		buf.Write(accessKey)

	case ActionKindDeleteKey:
		publicKey, err := canonicalPublicKey(a.PublicKey)
		if err != nil {
			return nil, err
		}
		buf.Write(jsonString(string(ActionKindDeleteKey)))
		buf.WriteString(`,"publicKey":`)
		buf.Write(jsonString(publicKey))

	case ActionKindDeleteAccount:
		if err := ValidateAccountID(a.BeneficiaryID); err != nil {
			return nil, err
		}
		buf.Write(jsonString(string(ActionKindDeleteAccount)))
		buf.WriteString(`,"beneficiaryId":`)
		buf.Write(jsonString(a.BeneficiaryID))

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownActionKind, a.Type)
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// canonicalArgs resolves the FunctionCall argument forms. JSON arguments
// (given as an object or as a JSON-encoded string) canonicalize
// structurally with sorted keys; raw byte arguments stay base64 under a
// distinct key so the two can never alias.
func canonicalArgs(a ActionInput) (key string, value []byte, err error) {
	if a.ArgsBase64 != "" && len(a.Args) > 0 {
		return "", nil, fmt.Errorf("%w: args and argsBase64 are mutually exclusive", ErrMalformedAction)
	}

	if a.ArgsBase64 != "" {
		if _, err := base64.StdEncoding.DecodeString(a.ArgsBase64); err != nil {
			return "", nil, fmt.Errorf("%w: argsBase64: %s", ErrMalformedAction, err)
		}
		return "argsBase64", jsonString(a.ArgsBase64), nil
	}

	if len(a.Args) == 0 {
		return "args", []byte("{}"), nil
	}

	raw := a.Args
	// A JSON string holding serialized JSON is unwrapped first, so the
	// wire shape (stringified) and the UI shape (structured) agree.
	var s string
	if json.Unmarshal(raw, &s) == nil {
		inner := strings.TrimSpace(s)
		if inner == "" {
			return "args", []byte("{}"), nil
		}
		raw = json.RawMessage(inner)
	}

	value, err = canonicalizeJSON(raw)
	if err != nil {
		return "", nil, fmt.Errorf("%w: args: %s", ErrMalformedAction, err)
	}
	return "args", value, nil
}

// canonicalAccessKey serializes an access key with nonce as a decimal
// string and permission in its canonical form.
func canonicalAccessKey(ak AccessKeyInput) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"nonce":`)
	buf.Write(jsonString(strconv.FormatUint(ak.Nonce, 10)))
	buf.WriteString(`,"permission":`)

	if ak.Permission.FullAccess {
		buf.Write(jsonString("FullAccess"))
	} else {
		if err := ValidateAccountID(ak.Permission.ReceiverID); err != nil {
			return nil, fmt.Errorf("function call permission: %w", err)
		}
		buf.WriteByte('{')
		if ak.Permission.Allowance != "" {
			allowance, err := canonicalAmount(ak.Permission.Allowance, "")
			if err != nil {
				return nil, err
			}
			buf.WriteString(`"allowance":`)
			buf.Write(jsonString(allowance))
			buf.WriteByte(',')
		}
		buf.WriteString(`"methodNames":[`)
		for i, m := range ak.Permission.MethodNames {
			if i > 0 {
				buf.WriteByte(',')
			}
			buf.Write(jsonString(m))
		}
		buf.WriteString(`],"receiverId":`)
		buf.Write(jsonString(ak.Permission.ReceiverID))
		buf.WriteByte('}')
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// canonicalAmount validates and re-formats a decimal amount; fallback
// fills an absent optional field and "" marks the field required.
func canonicalAmount(s, fallback string) (string, error) {
	if s == "" {
		if fallback == "" {
			return "", fmt.Errorf("%w: required amount missing", ErrInvalidAmount)
		}
		s = fallback
	}
	amount, err := ParseAmount(s)
	if err != nil {
		return "", err
	}
	return amount.String(), nil
}

func canonicalGas(s string) (string, error) {
	if s == "" {
		return "", fmt.Errorf("%w: required", ErrInvalidGas)
	}
	gas, err := ParseGas(s)
	if err != nil {
		return "", err
	}
	return strconv.FormatUint(gas, 10), nil
}

func canonicalPublicKey(s string) (string, error) {
	pk, err := ParsePublicKey(s)
	if err != nil {
		return "", err
	}
	return pk.String(), nil
}

// ParseGas parses a decimal u64 gas amount.
func ParseGas(s string) (uint64, error) {
	gas, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidGas, s)
	}
	return gas, nil
}

// canonicalizeJSON re-encodes arbitrary JSON with sorted object keys and
// exact number preservation.
func canonicalizeJSON(raw json.RawMessage) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, fmt.Errorf("trailing data after JSON value")
	}
	return json.Marshal(v)
}

// jsonString encodes a string as a JSON literal. json.Marshal cannot fail
// on a string value.
func jsonString(s string) []byte {
	out, _ := json.Marshal(s)
	return out
}
