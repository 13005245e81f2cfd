package near

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Wire payloads arrive from two JSON dialects: the UI layer emits
// camelCase keys while worker payloads use snake_case. Unmarshaling
// normalizes keys (lowercase, underscores stripped) so both dialects land
// in the same structs, which is what makes the digest shape-independent.

func normalizeKey(k string) string {
	return strings.ToLower(strings.ReplaceAll(k, "_", ""))
}

type rawFields map[string]json.RawMessage

func decodeRawFields(data []byte) (rawFields, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	norm := make(rawFields, len(fields))
	for k, v := range fields {
		norm[normalizeKey(k)] = v
	}
	return norm, nil
}

// str decodes an optional string field.
func (f rawFields) str(key string) (string, error) {
	raw, ok := f[key]
	if !ok {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("field %q: %w", key, err)
	}
	return s, nil
}

// decimal decodes a numeric field given as either a JSON string or a
// bare number literal, preserving the exact decimal text.
func (f rawFields) decimal(key string) (string, error) {
	raw, ok := f[key]
	if !ok {
		return "", nil
	}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return "", fmt.Errorf("field %q: %w", key, err)
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(trimmed, &n); err != nil {
		return "", fmt.Errorf("field %q: %w", key, err)
	}
	return n.String(), nil
}

func parseActionKind(s string) (ActionKind, error) {
	kinds := [...]ActionKind{
		ActionKindCreateAccount,
		ActionKindDeployContract,
		ActionKindFunctionCall,
		ActionKindTransfer,
		ActionKindStake,
		ActionKindAddKey,
		ActionKindDeleteKey,
		ActionKindDeleteAccount,
	}
	normalized := normalizeKey(s)
	for _, k := range kinds {
		if normalizeKey(string(k)) == normalized {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownActionKind, s)
}

// UnmarshalJSON accepts both the UI and the wire action dialects.
func (a *ActionInput) UnmarshalJSON(data []byte) error {
	fields, err := decodeRawFields(data)
	if err != nil {
		return err
	}

	tag, err := fields.str("type")
	if err != nil {
		return err
	}
	if tag == "" {
		if tag, err = fields.str("actiontype"); err != nil {
			return err
		}
	}
	if tag == "" {
		return fmt.Errorf("%w: missing action type", ErrMalformedAction)
	}
	kind, err := parseActionKind(tag)
	if err != nil {
		return err
	}

	out := ActionInput{Type: kind}

	if out.Deposit, err = fields.decimal("deposit"); err != nil {
		return err
	}
	if out.MethodName, err = fields.str("methodname"); err != nil {
		return err
	}
	if raw, ok := fields["args"]; ok {
		out.Args = append(json.RawMessage(nil), raw...)
	}
	if out.ArgsBase64, err = fields.str("argsbase64"); err != nil {
		return err
	}
	if out.Gas, err = fields.decimal("gas"); err != nil {
		return err
	}
	if out.PublicKey, err = fields.str("publickey"); err != nil {
		return err
	}
	if raw, ok := fields["accesskey"]; ok {
		var ak AccessKeyInput
		if err := json.Unmarshal(raw, &ak); err != nil {
			return err
		}
		out.AccessKey = &ak
	}
	if raw, ok := fields["code"]; ok {
		if out.Code, err = decodeBytesField(raw); err != nil {
			return fmt.Errorf("field \"code\": %w", err)
		}
	}
	if out.Stake, err = fields.decimal("stake"); err != nil {
		return err
	}
	if out.BeneficiaryID, err = fields.str("beneficiaryid"); err != nil {
		return err
	}

	*a = out
	return nil
}

// MarshalJSON emits the canonical digest form, so a re-serialized action
// is already normalized.
func (a ActionInput) MarshalJSON() ([]byte, error) {
	return orderActionForDigest(a)
}

// UnmarshalJSON accepts nonce as string or number and both permission
// dialects.
func (ak *AccessKeyInput) UnmarshalJSON(data []byte) error {
	fields, err := decodeRawFields(data)
	if err != nil {
		return err
	}

	out := AccessKeyInput{}

	nonce, err := fields.decimal("nonce")
	if err != nil {
		return err
	}
	if nonce != "" {
		out.Nonce, err = strconv.ParseUint(nonce, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: nonce %q", ErrMalformedAction, nonce)
		}
	}

	raw, ok := fields["permission"]
	if !ok {
		return fmt.Errorf("%w: access key requires permission", ErrMalformedAction)
	}
	if err := json.Unmarshal(raw, &out.Permission); err != nil {
		return err
	}

	*ak = out
	return nil
}

// MarshalJSON emits the canonical access key form.
func (ak AccessKeyInput) MarshalJSON() ([]byte, error) {
	return canonicalAccessKey(ak)
}

// UnmarshalJSON accepts "FullAccess", {"FunctionCall": {...}}, a flat
// restriction object, or {"FullAccess": {}}.
func (p *PermissionInput) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		if normalizeKey(s) != "fullaccess" {
			return fmt.Errorf("%w: permission %q", ErrMalformedAction, s)
		}
		*p = PermissionInput{FullAccess: true}
		return nil
	}

	fields, err := decodeRawFields(trimmed)
	if err != nil {
		return err
	}

	if _, ok := fields["fullaccess"]; ok {
		*p = PermissionInput{FullAccess: true}
		return nil
	}
	if raw, ok := fields["functioncall"]; ok {
		if fields, err = decodeRawFields(raw); err != nil {
			return err
		}
	}

	out := PermissionInput{}
	if out.ReceiverID, err = fields.str("receiverid"); err != nil {
		return err
	}
	if out.Allowance, err = fields.decimal("allowance"); err != nil {
		return err
	}
	if raw, ok := fields["methodnames"]; ok {
		if err := json.Unmarshal(raw, &out.MethodNames); err != nil {
			return fmt.Errorf("field \"methodNames\": %w", err)
		}
	}

	*p = out
	return nil
}

// UnmarshalJSON accepts both transaction dialects; the signer hint may
// appear as nearAccountId or signerId.
func (tx *TransactionInput) UnmarshalJSON(data []byte) error {
	fields, err := decodeRawFields(data)
	if err != nil {
		return err
	}

	out := TransactionInput{}

	if out.ReceiverID, err = fields.str("receiverid"); err != nil {
		return err
	}
	if out.NearAccountID, err = fields.str("nearaccountid"); err != nil {
		return err
	}
	if out.NearAccountID == "" {
		if out.NearAccountID, err = fields.str("signerid"); err != nil {
			return err
		}
	}
	if raw, ok := fields["actions"]; ok {
		if err := json.Unmarshal(raw, &out.Actions); err != nil {
			return err
		}
	}

	*tx = out
	return nil
}

// MarshalJSON emits canonical keys; actions serialize in digest form.
func (tx TransactionInput) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	if tx.NearAccountID != "" {
		buf.WriteString(`"nearAccountId":`)
		buf.Write(jsonString(tx.NearAccountID))
		buf.WriteByte(',')
	}
	buf.WriteString(`"receiverId":`)
	buf.Write(jsonString(tx.ReceiverID))
	buf.WriteString(`,"actions":`)
	actions, err := json.Marshal(tx.Actions)
	if err != nil {
		return nil, err
	}
	buf.Write(actions)
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// decodeBytesField reads contract code as base64 or as a JSON byte array.
func decodeBytesField(raw json.RawMessage) ([]byte, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var ints []int
		if err := json.Unmarshal(trimmed, &ints); err != nil {
			return nil, err
		}
		out := make([]byte, len(ints))
		for i, v := range ints {
			if v < 0 || v > 255 {
				return nil, fmt.Errorf("byte %d out of range", v)
			}
			out[i] = byte(v)
		}
		return out, nil
	}

	var s string
	if err := json.Unmarshal(trimmed, &s); err != nil {
		return nil, err
	}
	return base64.StdEncoding.DecodeString(s)
}
