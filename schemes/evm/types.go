// Package evm implements the t402 scheme adapters for EVM (eip155) chains:
// the exact scheme over EIP-3009 transferWithAuthorization and the upto
// scheme over an EIP-2612 permit executed through a router contract.
package evm

import "fmt"

// CaipFamilyEVM is the network pattern the EVM adapters serve.
const CaipFamilyEVM = "eip155:*"

// MinValidityBuffer is the safety margin subtracted from authorization
// expiries to tolerate clock skew and verify-to-settle latency.
const MinValidityBuffer = 30 // seconds

// ExactPayload is the signed inner payload of the exact scheme: a 65-byte
// ECDSA signature over the EIP-3009 authorization.
type ExactPayload struct {
	Signature     string             `json:"signature"`
	Authorization ExactAuthorization `json:"authorization"`
}

// ExactAuthorization mirrors the EIP-3009 TransferWithAuthorization struct.
// Numeric fields are base-10 strings because Go has no uint256.
type ExactAuthorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`
	Nonce       string `json:"nonce"` // bytes32 hex
}

// Validate checks required fields are present before any crypto work.
func (a *ExactAuthorization) Validate() error {
	if a.From == "" || a.To == "" || a.Value == "" || a.ValidBefore == "" || a.Nonce == "" {
		return fmt.Errorf("authorization is missing required fields")
	}
	return nil
}

// UptoPayload is the signed inner payload of the upto scheme: an EIP-2612
// permit granting the router a bounded allowance.
type UptoPayload struct {
	Signature     string            `json:"signature"`
	Authorization UptoAuthorization `json:"authorization"`
}

// UptoAuthorization mirrors the EIP-2612 Permit struct. Value is the
// payer-signed maximum; the final settled amount is chosen by the server at
// settlement time and bounded by it.
type UptoAuthorization struct {
	Owner    string `json:"owner"`
	Spender  string `json:"spender"`
	Value    string `json:"value"`
	Nonce    string `json:"nonce"`
	Deadline string `json:"deadline"`
}

// Validate checks required fields are present before any crypto work.
func (a *UptoAuthorization) Validate() error {
	if a.Owner == "" || a.Spender == "" || a.Value == "" || a.Deadline == "" {
		return fmt.Errorf("permit authorization is missing required fields")
	}
	return nil
}
