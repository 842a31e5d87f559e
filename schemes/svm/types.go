// Package svm implements the t402 exact scheme for Solana networks. The
// client pre-builds and signs a token transfer transaction, optionally
// leaving the fee payer signature to the facilitator; the facilitator
// verifies the declared transfer, broadcasts and polls the signature
// status.
package svm

import (
	"encoding/json"
	"fmt"
)

// CaipFamilySVM is the network pattern the Solana adapter serves.
const CaipFamilySVM = "solana:*"

// MinValidityBuffer is the expiry safety margin in seconds.
const MinValidityBuffer = 30

// ExactPayload carries the base64 signed transaction plus the claimed
// transfer fields the facilitator verifies it against.
type ExactPayload struct {
	Transaction   string             `json:"transaction"`
	Authorization ExactAuthorization `json:"authorization"`
}

// ExactAuthorization declares the SPL token transfer inside the signed
// transaction. FeePayer, when set, names the facilitator signer expected
// to co-sign and pay fees.
type ExactAuthorization struct {
	From       string `json:"from"`
	To         string `json:"to"`
	Mint       string `json:"mint"`
	Amount     string `json:"amount"`
	ValidUntil int64  `json:"validUntil"`
	FeePayer   string `json:"feePayer,omitempty"`
}

// Validate checks required fields are present.
func (a *ExactAuthorization) Validate() error {
	if a.From == "" || a.To == "" || a.Mint == "" || a.Amount == "" {
		return fmt.Errorf("svm authorization is missing required fields")
	}
	if a.ValidUntil <= 0 {
		return fmt.Errorf("svm authorization validUntil is required")
	}
	return nil
}

// ToMap converts the payload to a generic map.
func (p *ExactPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"transaction": p.Transaction,
		"authorization": map[string]interface{}{
			"from":       p.Authorization.From,
			"to":         p.Authorization.To,
			"mint":       p.Authorization.Mint,
			"amount":     p.Authorization.Amount,
			"validUntil": p.Authorization.ValidUntil,
			"feePayer":   p.Authorization.FeePayer,
		},
	}
}

// PayloadFromMap rebuilds a typed payload from its map form.
func PayloadFromMap(data map[string]interface{}) (*ExactPayload, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal payload map: %w", err)
	}
	var p ExactPayload
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	if p.Transaction == "" {
		return nil, fmt.Errorf("missing transaction field")
	}
	if err := p.Authorization.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}
