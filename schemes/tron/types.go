// Package tron implements the t402 exact scheme for TRON networks. The
// client pre-signs a complete TRC-20 transfer; the facilitator checks the
// embedded transaction against the declared authorization, broadcasts it
// as-is and polls for confirmation.
package tron

import (
	"encoding/json"
	"fmt"
)

// CaipFamilyTron is the network pattern the TRON adapter serves.
const CaipFamilyTron = "tron:*"

// MinValidityBuffer is the expiry safety margin in seconds.
const MinValidityBuffer = 30

// ExactPayload carries a hex-encoded signed transaction plus the claimed
// transfer fields the facilitator verifies it against.
type ExactPayload struct {
	SignedTransaction string             `json:"signedTransaction"`
	Authorization     ExactAuthorization `json:"authorization"`
}

// ExactAuthorization declares what the signed transaction is supposed to
// do. Expiration and Timestamp are Unix milliseconds, matching TRON's
// native transaction fields.
type ExactAuthorization struct {
	From            string `json:"from"`
	To              string `json:"to"`
	ContractAddress string `json:"contractAddress"`
	Amount          string `json:"amount"`
	Expiration      int64  `json:"expiration"`
	RefBlockBytes   string `json:"refBlockBytes,omitempty"`
	RefBlockHash    string `json:"refBlockHash,omitempty"`
	Timestamp       int64  `json:"timestamp,omitempty"`
}

// Validate checks required fields are present.
func (a *ExactAuthorization) Validate() error {
	if a.From == "" || a.To == "" || a.ContractAddress == "" || a.Amount == "" {
		return fmt.Errorf("tron authorization is missing required fields")
	}
	if a.Expiration <= 0 {
		return fmt.Errorf("tron authorization expiration is required")
	}
	return nil
}

// ToMap converts the payload to a generic map, the shape used inside a
// PaymentPayload envelope.
func (p *ExactPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"signedTransaction": p.SignedTransaction,
		"authorization": map[string]interface{}{
			"from":            p.Authorization.From,
			"to":              p.Authorization.To,
			"contractAddress": p.Authorization.ContractAddress,
			"amount":          p.Authorization.Amount,
			"expiration":      p.Authorization.Expiration,
			"refBlockBytes":   p.Authorization.RefBlockBytes,
			"refBlockHash":    p.Authorization.RefBlockHash,
			"timestamp":       p.Authorization.Timestamp,
		},
	}
}

// PayloadFromMap rebuilds a typed payload from its map form, validating the
// required fields.
func PayloadFromMap(data map[string]interface{}) (*ExactPayload, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal payload map: %w", err)
	}
	var p ExactPayload
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	if p.SignedTransaction == "" {
		return nil, fmt.Errorf("missing signedTransaction field")
	}
	if err := p.Authorization.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}
