package types

import "fmt"

// Fixed invalidReason / errorReason vocabulary. Callers branch on these
// codes, so they are stable strings, never free-text messages.
const (
	ReasonUnsupportedScheme       = "unsupported_scheme"
	ReasonNetworkMismatch         = "network_mismatch"
	ReasonInvalidPayloadStructure = "invalid_payload_structure"
	ReasonInvalidSenderAddress    = "invalid_sender_address"
	ReasonInvalidRecipientAddress = "invalid_recipient_address"
	ReasonInvalidContractAddress  = "invalid_contract_address"
	ReasonSignatureInvalid        = "signature_verification_failed"
	ReasonAuthorizationExpired    = "authorization_expired"
	ReasonAuthorizationNotActive  = "authorization_not_yet_valid"
	ReasonInsufficientBalance     = "insufficient_balance"
	ReasonInsufficientAmount      = "insufficient_amount"
	ReasonAmountOutOfRange        = "amount_out_of_range"
	ReasonSettleExceedsMax        = "settle_amount_exceeds_max"
	ReasonRecipientMismatch       = "recipient_mismatch"
	ReasonInvalidSpender          = "invalid_spender"
	ReasonAssetMismatch           = "asset_mismatch"
	ReasonAccountNotActivated     = "account_not_activated"
	ReasonInvalidFeePayer         = "invalid_fee_payer"
	ReasonNonceAlreadyUsed        = "nonce_already_used"
	ReasonSettlementInProgress    = "settlement_in_progress"
	ReasonBroadcastFailed         = "broadcast_failed"
	ReasonTxNotConfirmed          = "transaction_not_confirmed"
	ReasonInternalError           = "internal_error"
)

// ErrorKind classifies a PaymentError so callers can branch without
// string-matching messages.
type ErrorKind int

const (
	// KindInvalidInput marks malformed caller input that never reached an
	// adapter (missing fields, undecodable envelope).
	KindInvalidInput ErrorKind = iota

	// KindChainError marks an RPC/broadcast/confirmation failure.
	KindChainError

	// KindAbortedByHook marks a settlement or verification aborted by a
	// registered lifecycle hook before any chain interaction.
	KindAbortedByHook

	// KindInternal marks programmer errors and registry misses; details are
	// logged server-side and never leaked to callers.
	KindInternal
)

func (k ErrorKind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid_input"
	case KindChainError:
		return "chain_error"
	case KindAbortedByHook:
		return "aborted_by_hook"
	default:
		return "internal"
	}
}

// PaymentError is the typed error the engine raises for the error classes
// that are not expressible as a VerifyResponse/SettleResponse.
type PaymentError struct {
	Kind    ErrorKind
	Code    string
	Message string
	Err     error
}

func (e *PaymentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("t402: %s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("t402: %s: %s", e.Kind, e.Message)
}

func (e *PaymentError) Unwrap() error {
	return e.Err
}

// NewInvalidInputError builds a caller-input error.
func NewInvalidInputError(msg string, err error) *PaymentError {
	return &PaymentError{Kind: KindInvalidInput, Code: ReasonInvalidPayloadStructure, Message: msg, Err: err}
}

// NewChainError builds an RPC/broadcast error with a reason code.
func NewChainError(code, msg string, err error) *PaymentError {
	return &PaymentError{Kind: KindChainError, Code: code, Message: msg, Err: err}
}

// NewHookAbortError marks an operation aborted by a lifecycle hook.
func NewHookAbortError(msg string, err error) *PaymentError {
	return &PaymentError{Kind: KindAbortedByHook, Code: "aborted_by_hook", Message: msg, Err: err}
}

// NewInternalError builds an internal error; the message is for server logs.
func NewInternalError(msg string, err error) *PaymentError {
	return &PaymentError{Kind: KindInternal, Code: ReasonInternalError, Message: msg, Err: err}
}
