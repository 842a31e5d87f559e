package types

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// HTTP header names used to carry protocol messages.
const (
	HeaderPayment         = "X-PAYMENT"
	HeaderPaymentResponse = "X-PAYMENT-RESPONSE"
)

// EncodePaymentHeader serializes a PaymentPayload for the X-PAYMENT header:
// base64(standard) of the JSON encoding.
func EncodePaymentHeader(p *PaymentPayload) (string, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encode payment header: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// DecodePaymentHeader parses an X-PAYMENT header value back into a
// PaymentPayload and validates the envelope.
func DecodePaymentHeader(header string) (*PaymentPayload, error) {
	if header == "" {
		return nil, fmt.Errorf("empty payment header")
	}
	raw, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return nil, fmt.Errorf("payment header is not valid base64: %w", err)
	}

	var p PaymentPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("payment header is not valid JSON: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// EncodeSettlementHeader serializes the post-settlement X-PAYMENT-RESPONSE
// header value.
func EncodeSettlementHeader(h *SettlementHeader) (string, error) {
	b, err := json.Marshal(h)
	if err != nil {
		return "", fmt.Errorf("encode settlement header: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// DecodeSettlementHeader parses an X-PAYMENT-RESPONSE header value.
func DecodeSettlementHeader(header string) (*SettlementHeader, error) {
	raw, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		return nil, fmt.Errorf("settlement header is not valid base64: %w", err)
	}
	var h SettlementHeader
	if err := json.Unmarshal(raw, &h); err != nil {
		return nil, fmt.Errorf("settlement header is not valid JSON: %w", err)
	}
	return &h, nil
}

// SettleResponseHeader builds the client-facing settlement header from a
// facilitator settle response.
func SettleResponseHeader(res *SettleResponse) *SettlementHeader {
	return &SettlementHeader{
		Success:   res.Success,
		TxHash:    res.Transaction,
		NetworkID: res.Network,
		Payer:     res.Payer,
	}
}
