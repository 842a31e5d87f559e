// Package schemes defines the adapter contract every {scheme, chain-family}
// pair implements. A scheme has three roles: the Client builds signed
// payment payloads, the Server turns prices into requirements, and the
// Facilitator verifies and settles payloads on-chain.
//
// All facilitator implementations run the same ordered verification
// checklist and the same re-verify → execute → confirm settlement pipeline;
// chain families differ only in how signatures are checked, balances are
// read and transactions are broadcast. That uniformity is the protocol's
// central contract.
package schemes

import (
	"context"

	"github.com/t402-io/t402-go/types"
)

// Client builds a signed PaymentPayload for one scheme and chain family.
// Implementations validate addresses and required fields before signing and
// fail fast; malformed data is never signed.
type Client interface {
	CreatePaymentPayload(ctx context.Context, req *types.PaymentRequirements) (*types.PaymentPayload, error)
}

// Server is the resource-server role: price parsing and requirements
// enrichment.
type Server interface {
	// ParsePrice converts a user-facing price ("$0.10", "0.10", a number,
	// or an {amount, asset} pass-through map) into an atomic AssetAmount
	// using the network's default token and decimals.
	ParsePrice(price interface{}, network string) (*types.AssetAmount, error)

	// EnhanceRequirements merges facilitator-advertised extras (fee payer,
	// EIP-712 domain) into the requirements without overwriting fields the
	// caller already set.
	EnhanceRequirements(req *types.PaymentRequirements, kind *types.SupportedKind, extensions []string) (*types.PaymentRequirements, error)
}

// Facilitator verifies payment payloads against requirements and settles
// verified payloads on the underlying ledger.
//
// Verify returns semantic invalidity as a VerifyResponse with a fixed
// invalidReason code, never as an error; errors are reserved for malformed
// engine usage and infrastructure failures. Settle re-runs the full
// verification first and never retries a broadcast.
type Facilitator interface {
	// Scheme returns the payment scheme tag, e.g. "exact".
	Scheme() string

	// CaipFamily returns the network pattern this adapter serves,
	// e.g. "eip155:*".
	CaipFamily() string

	// GetExtra returns scheme metadata advertised via /supported for the
	// given network, or nil.
	GetExtra(network string) map[string]interface{}

	// GetSigners returns the facilitator's managed signer addresses for the
	// given network.
	GetSigners(network string) []string

	Verify(ctx context.Context, payload *types.PaymentPayload, req *types.PaymentRequirements) (*types.VerifyResponse, error)
	Settle(ctx context.Context, payload *types.PaymentPayload, req *types.PaymentRequirements) (*types.SettleResponse, error)
}
