package near

import (
	"encoding/base64"
	"fmt"
)

// ToAction converts the loose input shape into the typed Borsh action.
// The switch is exhaustive over ActionKind; together with
// orderActionForDigest it guarantees the digest and the signer agree on
// exactly the same action set.
func (a ActionInput) ToAction() (Action, error) {
	switch a.Type {
	case ActionKindCreateAccount:
		return NewCreateAccountAction(), nil

	case ActionKindDeployContract:
		if len(a.Code) == 0 {
			return Action{}, fmt.Errorf("%w: DeployContract requires code", ErrMalformedAction)
		}
		return NewDeployContractAction(a.Code), nil

	case ActionKindFunctionCall:
		if a.MethodName == "" {
			return Action{}, fmt.Errorf("%w: FunctionCall requires methodName", ErrMalformedAction)
		}
		gas, err := ParseGas(a.Gas)
		if err != nil {
			return Action{}, err
		}
		depositStr := a.Deposit
		if depositStr == "" {
			depositStr = "0"
		}
		deposit, err := ParseAmount(depositStr)
		if err != nil {
			return Action{}, err
		}
		args, err := actionArgsBytes(a)
		if err != nil {
			return Action{}, err
		}
		return NewFunctionCallAction(a.MethodName, args, gas, deposit), nil

	case ActionKindTransfer:
		deposit, err := ParseAmount(a.Deposit)
		if err != nil {
			return Action{}, err
		}
		return NewTransferAction(deposit), nil

	case ActionKindStake:
		stake, err := ParseAmount(a.Stake)
		if err != nil {
			return Action{}, err
		}
		pk, err := ParsePublicKey(a.PublicKey)
		if err != nil {
			return Action{}, err
		}
		return NewStakeAction(stake, pk), nil

	case ActionKindAddKey:
		pk, err := ParsePublicKey(a.PublicKey)
		if err != nil {
			return Action{}, err
		}
		if a.AccessKey == nil {
			return Action{}, fmt.Errorf("%w: AddKey requires accessKey", ErrMalformedAction)
		}
		ak, err := a.AccessKey.toAccessKey()
		if err != nil {
			return Action{}, err
		}
		return NewAddKeyAction(pk, ak), nil

	case ActionKindDeleteKey:
		pk, err := ParsePublicKey(a.PublicKey)
		if err != nil {
			return Action{}, err
		}
		return NewDeleteKeyAction(pk), nil

	case ActionKindDeleteAccount:
		if err := ValidateAccountID(a.BeneficiaryID); err != nil {
			return Action{}, err
		}
		return NewDeleteAccountAction(a.BeneficiaryID), nil

	default:
		return Action{}, fmt.Errorf("%w: %q", ErrUnknownActionKind, a.Type)
	}
}

// actionArgsBytes resolves the bytes the contract will receive. JSON args
// go through the same canonicalization as the digest, so what was
// confirmed is byte-for-byte what gets called.
func actionArgsBytes(a ActionInput) ([]byte, error) {
	key, value, err := canonicalArgs(a)
	if err != nil {
		return nil, err
	}
	if key == "argsBase64" {
		return base64.StdEncoding.DecodeString(a.ArgsBase64)
	}
	return value, nil
}

func (ak AccessKeyInput) toAccessKey() (AccessKey, error) {
	out := AccessKey{Nonce: ak.Nonce}

	if ak.Permission.FullAccess {
		out.Permission = FullAccessKey().Permission
		return out, nil
	}

	if err := ValidateAccountID(ak.Permission.ReceiverID); err != nil {
		return AccessKey{}, fmt.Errorf("function call permission: %w", err)
	}

	perm := FunctionCallPermission{
		ReceiverID:  ak.Permission.ReceiverID,
		MethodNames: ak.Permission.MethodNames,
	}
	if ak.Permission.Allowance != "" {
		allowance, err := ParseAmount(ak.Permission.Allowance)
		if err != nil {
			return AccessKey{}, err
		}
		perm.Allowance = allowance
	}
	out.Permission = AccessKeyPermission{Enum: 0, FunctionCall: perm}
	return out, nil
}

// BuildTransaction assembles a signable transaction from wire inputs.
// The action order is preserved exactly as given; the digest was computed
// over that order and the signature must cover the same one.
func BuildTransaction(signerID string, publicKey PublicKey, nonce uint64, receiverID string, blockHash [32]byte, actions []ActionInput) (Transaction, error) {
	if err := ValidateAccountID(signerID); err != nil {
		return Transaction{}, fmt.Errorf("signer: %w", err)
	}
	if err := ValidateAccountID(receiverID); err != nil {
		return Transaction{}, fmt.Errorf("receiver: %w", err)
	}
	if len(actions) == 0 {
		return Transaction{}, fmt.Errorf("%w: transaction requires at least one action", ErrMalformedAction)
	}

	tx := Transaction{
		SignerID:   signerID,
		PublicKey:  publicKey,
		Nonce:      nonce,
		ReceiverID: receiverID,
		BlockHash:  blockHash,
		Actions:    make([]Action, 0, len(actions)),
	}
	for i, input := range actions {
		action, err := input.ToAction()
		if err != nil {
			return Transaction{}, fmt.Errorf("action %d: %w", i, err)
		}
		tx.Actions = append(tx.Actions, action)
	}
	return tx, nil
}
