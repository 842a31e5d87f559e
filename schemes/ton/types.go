// Package ton implements the t402 exact scheme for TON networks. The
// client signs an external message carrying a jetton transfer; the
// facilitator checks it against the declared authorization, sends it and
// waits for the wallet seqno to advance.
package ton

import (
	"encoding/json"
	"fmt"
)

// CaipFamilyTon is the network pattern the TON adapter serves.
const CaipFamilyTon = "ton:*"

// MinValidityBuffer is the expiry safety margin in seconds.
const MinValidityBuffer = 30

// ExactPayload carries a base64 signed external message (BOC) plus the
// claimed transfer fields the facilitator verifies it against.
type ExactPayload struct {
	SignedBoc     string             `json:"signedBoc"`
	Authorization ExactAuthorization `json:"authorization"`
}

// ExactAuthorization declares the jetton transfer inside the signed
// message. Amounts are strings in the jetton's smallest units; TonAmount
// is the gas attachment in nanoTON.
type ExactAuthorization struct {
	From         string `json:"from"`
	To           string `json:"to"`
	JettonMaster string `json:"jettonMaster"`
	JettonAmount string `json:"jettonAmount"`
	TonAmount    string `json:"tonAmount,omitempty"`
	ValidUntil   int64  `json:"validUntil"`
	Seqno        int64  `json:"seqno"`
	QueryID      string `json:"queryId,omitempty"`
}

// Validate checks required fields are present.
func (a *ExactAuthorization) Validate() error {
	if a.From == "" || a.To == "" || a.JettonMaster == "" || a.JettonAmount == "" {
		return fmt.Errorf("ton authorization is missing required fields")
	}
	if a.ValidUntil <= 0 {
		return fmt.Errorf("ton authorization validUntil is required")
	}
	if a.Seqno < 0 {
		return fmt.Errorf("ton authorization seqno cannot be negative")
	}
	return nil
}

// ToMap converts the payload to a generic map.
func (p *ExactPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"signedBoc": p.SignedBoc,
		"authorization": map[string]interface{}{
			"from":         p.Authorization.From,
			"to":           p.Authorization.To,
			"jettonMaster": p.Authorization.JettonMaster,
			"jettonAmount": p.Authorization.JettonAmount,
			"tonAmount":    p.Authorization.TonAmount,
			"validUntil":   p.Authorization.ValidUntil,
			"seqno":        p.Authorization.Seqno,
			"queryId":      p.Authorization.QueryID,
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
	if p.SignedBoc == "" {
		return nil, fmt.Errorf("missing signedBoc field")
	}
	if err := p.Authorization.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}
