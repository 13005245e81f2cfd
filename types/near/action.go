package near

import (
	"fmt"
	"math/big"

	"github.com/near/borsh-go"
)

// ActionKind names a transaction action variant. The set is closed: both
// the digest canonicalizer and the signer switch over it exhaustively and
// fail on anything else, so an unrecognized action can never slip through
// one side unseen by the other.
type ActionKind string

const (
	ActionKindCreateAccount  ActionKind = "CreateAccount"
	ActionKindDeployContract ActionKind = "DeployContract"
	ActionKindFunctionCall   ActionKind = "FunctionCall"
	ActionKindTransfer       ActionKind = "Transfer"
	ActionKindStake          ActionKind = "Stake"
	ActionKindAddKey         ActionKind = "AddKey"
	ActionKindDeleteKey      ActionKind = "DeleteKey"
	ActionKindDeleteAccount  ActionKind = "DeleteAccount"
)

// Action is the Borsh tagged union of transaction actions. Ordinals
// follow the NEAR protocol action enum, so field order here is load
// bearing.
type Action struct {
	Enum           borsh.Enum `borsh_enum:"true"`
	CreateAccount  CreateAccount
	DeployContract DeployContract
	FunctionCall   FunctionCall
	Transfer       Transfer
	Stake          Stake
	AddKey         AddKey
	DeleteKey      DeleteKey
	DeleteAccount  DeleteAccount
}

// CreateAccount creates the receiver account.
type CreateAccount struct{}

// DeployContract deploys WASM code to the receiver account.
type DeployContract struct {
	Code []byte
}

// FunctionCall invokes a contract method with an attached gas budget and
// deposit.
type FunctionCall struct {
	MethodName string
	Args       []byte
	Gas        uint64
	Deposit    big.Int
}

// Transfer moves yoctoNEAR to the receiver account.
type Transfer struct {
	Deposit big.Int
}

// Stake delegates a balance to a validator key.
type Stake struct {
	Stake     big.Int
	PublicKey PublicKey
}

// AddKey attaches an access key to the signer account.
type AddKey struct {
	PublicKey PublicKey
	AccessKey AccessKey
}

// DeleteKey removes an access key from the signer account.
type DeleteKey struct {
	PublicKey PublicKey
}

// DeleteAccount deletes the signer account, sending remaining balance to
// the beneficiary.
type DeleteAccount struct {
	BeneficiaryID string
}

// AccessKey pairs a nonce with a permission.
type AccessKey struct {
	Nonce      uint64
	Permission AccessKeyPermission
}

// AccessKeyPermission is the Borsh tagged union of key permissions.
// Protocol ordinals: FunctionCall is 0, FullAccess is 1.
type AccessKeyPermission struct {
	Enum         borsh.Enum `borsh_enum:"true"`
	FunctionCall FunctionCallPermission
	FullAccess   FullAccessPermission
}

// FunctionCallPermission restricts a key to named methods on one
// receiver, with an optional allowance budget.
type FunctionCallPermission struct {
	Allowance   *big.Int
	ReceiverID  string
	MethodNames []string
}

// FullAccessPermission grants unrestricted use of the account.
type FullAccessPermission struct{}

// FullAccessKey returns a zero-nonce full-access key.
func FullAccessKey() AccessKey {
	return AccessKey{
		Permission: AccessKeyPermission{
			Enum:       1,
			FullAccess: FullAccessPermission{},
		},
	}
}

// FunctionCallAccessKey returns a zero-nonce restricted key.
func FunctionCallAccessKey(receiverID string, methodNames []string, allowance *big.Int) AccessKey {
	return AccessKey{
		Permission: AccessKeyPermission{
			Enum: 0,
			FunctionCall: FunctionCallPermission{
				Allowance:   allowance,
				ReceiverID:  receiverID,
				MethodNames: methodNames,
			},
		},
	}
}

// Kind returns the variant of the action, failing on an ordinal outside
// the closed set.
func (a Action) Kind() (ActionKind, error) {
	switch a.Enum {
	case 0:
		return ActionKindCreateAccount, nil
	case 1:
		return ActionKindDeployContract, nil
	case 2:
		return ActionKindFunctionCall, nil
	case 3:
		return ActionKindTransfer, nil
	case 4:
		return ActionKindStake, nil
	case 5:
		return ActionKindAddKey, nil
	case 6:
		return ActionKindDeleteKey, nil
	case 7:
		return ActionKindDeleteAccount, nil
	default:
		return "", fmt.Errorf("%w: ordinal %d", ErrUnknownActionKind, a.Enum)
	}
}

// NewCreateAccountAction builds a CreateAccount action.
func NewCreateAccountAction() Action {
	return Action{Enum: 0}
}

// NewDeployContractAction builds a DeployContract action.
func NewDeployContractAction(code []byte) Action {
	return Action{Enum: 1, DeployContract: DeployContract{Code: code}}
}

// NewFunctionCallAction builds a FunctionCall action.
func NewFunctionCallAction(methodName string, args []byte, gas uint64, deposit *big.Int) Action {
	a := Action{Enum: 2, FunctionCall: FunctionCall{
		MethodName: methodName,
		Args:       args,
		Gas:        gas,
	}}
	if deposit != nil {
		a.FunctionCall.Deposit = *deposit
	}
	return a
}

// NewTransferAction builds a Transfer action.
func NewTransferAction(deposit *big.Int) Action {
	a := Action{Enum: 3}
	if deposit != nil {
		a.Transfer.Deposit = *deposit
	}
	return a
}

// NewStakeAction builds a Stake action.
func NewStakeAction(stake *big.Int, publicKey PublicKey) Action {
	a := Action{Enum: 4, Stake: Stake{PublicKey: publicKey}}
	if stake != nil {
		a.Stake.Stake = *stake
	}
	return a
}

// NewAddKeyAction builds an AddKey action.
func NewAddKeyAction(publicKey PublicKey, accessKey AccessKey) Action {
	return Action{Enum: 5, AddKey: AddKey{PublicKey: publicKey, AccessKey: accessKey}}
}

// NewDeleteKeyAction builds a DeleteKey action.
func NewDeleteKeyAction(publicKey PublicKey) Action {
	return Action{Enum: 6, DeleteKey: DeleteKey{PublicKey: publicKey}}
}

// NewDeleteAccountAction builds a DeleteAccount action.
func NewDeleteAccountAction(beneficiaryID string) Action {
	return Action{Enum: 7, DeleteAccount: DeleteAccount{BeneficiaryID: beneficiaryID}}
}

// maxU128 bounds balance fields; Borsh encodes them as u128.
var maxU128 = new(big.Int).Lsh(big.NewInt(1), 128)

// ParseAmount parses a non-negative decimal yoctoNEAR amount into u128
// range. Scientific notation and non-digits are rejected so amounts
// always round-trip byte-identically through the digest.
func ParseAmount(s string) (*big.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}
	amount, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("%w: negative", ErrInvalidAmount)
	}
	if amount.Cmp(maxU128) >= 0 {
		return nil, fmt.Errorf("%w: exceeds u128", ErrInvalidAmount)
	}
	return amount, nil
}
