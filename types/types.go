// Package types defines the canonical t402 protocol data model shared by
// clients, resource servers and facilitators: payment requirements, signed
// payment payloads, and the verify/settle response shapes.
package types

import (
	"encoding/json"
	"fmt"
	"math/big"
)

// ProtocolVersion is the t402 protocol version this library speaks.
const ProtocolVersion = 2

// Payment schemes.
const (
	SchemeExact = "exact"
	SchemeUpto  = "upto"
)

// Resource identifies what is being paid for.
type Resource struct {
	URL         string `json:"url"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// PaymentRequirements defines the price a resource server accepts for a
// resource. `scheme` + `network` together select exactly one registered
// scheme adapter.
type PaymentRequirements struct {
	// Scheme of the payment protocol to use (e.g., "exact", "upto").
	Scheme string `json:"scheme" validate:"required"`

	// Network is the CAIP-2 identifier of the ledger (e.g., "eip155:8453").
	Network string `json:"network" validate:"required"`

	// Asset is the ledger-native token identifier (ERC-20 address, SPL
	// mint, TRC-20 base58 address, jetton master).
	Asset string `json:"asset" validate:"required"`

	// Amount required, in atomic units of the asset. Exact scheme only.
	// Represented as a string because Go does not support uint256.
	Amount string `json:"amount,omitempty"`

	// MaxAmount / MinAmount bound the settled amount. Upto scheme only.
	MaxAmount string `json:"maxAmount,omitempty"`
	MinAmount string `json:"minAmount,omitempty"`

	// PayTo is the recipient address in the ledger-native format.
	PayTo string `json:"payTo" validate:"required"`

	// MaxTimeoutSeconds bounds how long the payment stays valid.
	MaxTimeoutSeconds int `json:"maxTimeoutSeconds"`

	// Resource metadata, echoed back to clients in 402 responses.
	Resource    string `json:"resource,omitempty"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`

	// Extra carries scheme-specific parameters: EIP-712 domain name and
	// version, router address, fee payer, billing unit/unitPrice, and the
	// upto settlement instruction at settle time.
	Extra map[string]interface{} `json:"extra,omitempty"`
}

// Validate checks the scheme-dependent amount fields along with the
// always-required ones.
func (pr *PaymentRequirements) Validate() error {
	if pr.Scheme == "" {
		return fmt.Errorf("paymentRequirements.scheme is required")
	}
	if pr.Network == "" {
		return fmt.Errorf("paymentRequirements.network is required")
	}
	if pr.PayTo == "" {
		return fmt.Errorf("paymentRequirements.payTo is required")
	}
	if pr.Asset == "" {
		return fmt.Errorf("paymentRequirements.asset is required")
	}
	if pr.MaxTimeoutSeconds <= 0 {
		return fmt.Errorf("paymentRequirements.maxTimeoutSeconds must be greater than 0")
	}

	switch pr.Scheme {
	case SchemeUpto:
		if pr.MaxAmount == "" {
			return fmt.Errorf("paymentRequirements.maxAmount is required for the upto scheme")
		}
		max, ok := new(big.Int).SetString(pr.MaxAmount, 10)
		if !ok || max.Sign() < 0 {
			return fmt.Errorf("paymentRequirements.maxAmount is not a valid amount")
		}
		if pr.MinAmount != "" {
			min, ok := new(big.Int).SetString(pr.MinAmount, 10)
			if !ok || min.Sign() < 0 {
				return fmt.Errorf("paymentRequirements.minAmount is not a valid amount")
			}
			if min.Cmp(max) > 0 {
				return fmt.Errorf("paymentRequirements.minAmount exceeds maxAmount")
			}
		}
	default:
		if pr.Amount == "" {
			return fmt.Errorf("paymentRequirements.amount is required")
		}
		if amt, ok := new(big.Int).SetString(pr.Amount, 10); !ok || amt.Sign() < 0 {
			return fmt.Errorf("paymentRequirements.amount is not a valid amount")
		}
	}

	return nil
}

// PaymentPayload is the client's signed authorization. Payload carries the
// scheme/chain-specific signed structure and is decoded by the matching
// scheme adapter; a decode failure is a verification failure, never a crash.
type PaymentPayload struct {
	T402Version int             `json:"t402Version" validate:"required,gt=0"`
	Scheme      string          `json:"scheme" validate:"required"`
	Network     string          `json:"network" validate:"required"`
	Resource    *Resource       `json:"resource,omitempty"`
	Payload     json.RawMessage `json:"payload" validate:"required"`
}

// Validate checks the envelope fields; the inner payload is validated by the
// scheme adapter that decodes it.
func (p *PaymentPayload) Validate() error {
	if p.T402Version <= 0 {
		return fmt.Errorf("paymentPayload.t402Version must be greater than 0")
	}
	if p.Scheme == "" {
		return fmt.Errorf("paymentPayload.scheme is required")
	}
	if p.Network == "" {
		return fmt.Errorf("paymentPayload.network is required")
	}
	if len(p.Payload) == 0 {
		return fmt.Errorf("paymentPayload.payload is required")
	}
	return nil
}

// VerifyRequest is the body of POST /verify and POST /settle.
type VerifyRequest struct {
	PaymentPayload      PaymentPayload      `json:"paymentPayload"`
	PaymentRequirements PaymentRequirements `json:"paymentRequirements"`
}

// Validate validates both halves of the request.
func (v *VerifyRequest) Validate() error {
	if err := v.PaymentPayload.Validate(); err != nil {
		return err
	}
	return v.PaymentRequirements.Validate()
}

// VerifyResponse is the facilitator's verification result. InvalidReason,
// when present, is one of the fixed codes in errors.go, never free text.
type VerifyResponse struct {
	IsValid       bool   `json:"isValid"`
	InvalidReason string `json:"invalidReason,omitempty"`
	Payer         string `json:"payer,omitempty"`
}

// SettleResponse is the facilitator's settlement result. SettledAmount and
// MaxAmount are populated for the upto scheme only.
type SettleResponse struct {
	Success       bool   `json:"success"`
	ErrorReason   string `json:"errorReason,omitempty"`
	Transaction   string `json:"transaction,omitempty"`
	Network       string `json:"network,omitempty"`
	Payer         string `json:"payer,omitempty"`
	SettledAmount string `json:"settledAmount,omitempty"`
	MaxAmount     string `json:"maxAmount,omitempty"`
}

// SupportedKind is one {version, scheme, network} tuple a facilitator serves.
type SupportedKind struct {
	T402Version int                    `json:"t402Version"`
	Scheme      string                 `json:"scheme"`
	Network     string                 `json:"network"`
	Extra       map[string]interface{} `json:"extra,omitempty"`
}

// SupportedResponse is the discovery document returned by GET /supported.
type SupportedResponse struct {
	Kinds      []SupportedKind     `json:"kinds"`
	Extensions []string            `json:"extensions,omitempty"`
	Signers    map[string][]string `json:"signers,omitempty"`
}

// AssetAmount is a parsed price: atomic amount plus asset identifier and
// scheme-specific extras (EIP-712 domain, decimals).
type AssetAmount struct {
	Amount string                 `json:"amount"`
	Asset  string                 `json:"asset"`
	Extra  map[string]interface{} `json:"extra,omitempty"`
}

// PaymentRequired is the HTTP 402 response body a resource server returns.
type PaymentRequired struct {
	T402Version int                   `json:"t402Version"`
	Resource    *Resource             `json:"resource,omitempty"`
	Accepts     []PaymentRequirements `json:"accepts"`
	Error       string                `json:"error,omitempty"`
}

// SettlementHeader is the X-PAYMENT-RESPONSE header body returned to clients
// after settlement.
type SettlementHeader struct {
	Success   bool   `json:"success"`
	TxHash    string `json:"txHash,omitempty"`
	NetworkID string `json:"networkId,omitempty"`
	Payer     string `json:"payer,omitempty"`
}

// UnitType enumerates the billing units the upto scheme can meter.
type UnitType string

const (
	UnitToken   UnitType = "token"
	UnitRequest UnitType = "request"
	UnitSecond  UnitType = "second"
	UnitMinute  UnitType = "minute"
	UnitByte    UnitType = "byte"
	UnitKB      UnitType = "kb"
	UnitMB      UnitType = "mb"
)

// IsValid reports whether the unit type is one of the supported units.
func (u UnitType) IsValid() bool {
	switch u {
	case UnitToken, UnitRequest, UnitSecond, UnitMinute, UnitByte, UnitKB, UnitMB:
		return true
	}
	return false
}

// UsageDetails records the metering behind an upto settlement for auditing.
type UsageDetails struct {
	UnitsConsumed string                 `json:"unitsConsumed"`
	UnitPrice     string                 `json:"unitPrice"`
	UnitType      UnitType               `json:"unitType"`
	StartTime     int64                  `json:"startTime,omitempty"`
	EndTime       int64                  `json:"endTime,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// Settlement is the upto-scheme settlement instruction: the final amount the
// server chose, bounded by the payer-signed maximum.
type Settlement struct {
	SettleAmount string        `json:"settleAmount"`
	UsageDetails *UsageDetails `json:"usageDetails,omitempty"`
}

// SettlementFromExtra extracts an upto settlement instruction from a
// requirements extra map, if present.
func SettlementFromExtra(extra map[string]interface{}) (*Settlement, error) {
	raw, ok := extra["settlement"]
	if !ok {
		return nil, nil
	}

	b, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid settlement extra: %w", err)
	}
	var s Settlement
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("invalid settlement extra: %w", err)
	}
	if s.SettleAmount == "" {
		return nil, fmt.Errorf("settlement.settleAmount is required")
	}
	if s.UsageDetails != nil && !s.UsageDetails.UnitType.IsValid() {
		return nil, fmt.Errorf("settlement.usageDetails.unitType %q is not supported", s.UsageDetails.UnitType)
	}
	return &s, nil
}
