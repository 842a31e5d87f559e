package tron

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/t402-io/t402-go/types"
	"github.com/t402-io/t402-go/utils"
)

// DefaultFeeLimit is the energy ceiling in sun for a TRC-20 transfer when
// the caller does not choose one.
const DefaultFeeLimit = 100_000_000

// BlockInfo pins a transaction to a recent block, the TRON replay guard.
type BlockInfo struct {
	RefBlockBytes string
	RefBlockHash  string
}

// SignParams is everything the wallet needs to build and sign a TRC-20
// transfer transaction. Expiration is Unix milliseconds.
type SignParams struct {
	ContractAddress string
	To              string
	Amount          string
	FeeLimit        int64
	Expiration      int64
}

// ClientSigner is the payer-side wallet: it owns the key, knows a recent
// block and produces the signed transaction hex.
type ClientSigner interface {
	Address() string
	BlockInfo(ctx context.Context) (*BlockInfo, error)
	SignTransaction(ctx context.Context, params SignParams) (string, error)
}

// ExactClient builds signed exact payments from requirements, typically in
// response to a 402 challenge. The transaction is fully signed up front;
// the facilitator can only broadcast it or drop it.
type ExactClient struct {
	signer   ClientSigner
	feeLimit int64
}

// NewExactClient builds the payer-side exact helper. A non-positive
// feeLimit falls back to DefaultFeeLimit.
func NewExactClient(signer ClientSigner, feeLimit int64) *ExactClient {
	if feeLimit <= 0 {
		feeLimit = DefaultFeeLimit
	}
	return &ExactClient{signer: signer, feeLimit: feeLimit}
}

// CreatePaymentPayload signs a TRC-20 transfer for the exact required
// amount, expiring at the requirements timeout.
func (c *ExactClient) CreatePaymentPayload(ctx context.Context, req *types.PaymentRequirements) (*types.PaymentPayload, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	network := types.NormalizeNetwork(req.Network)
	if err := utils.ValidateAddressForNetwork(req.PayTo, network); err != nil {
		return nil, fmt.Errorf("tron: payTo: %w", err)
	}
	if err := utils.ValidateAddressForNetwork(req.Asset, network); err != nil {
		return nil, fmt.Errorf("tron: asset: %w", err)
	}

	timeout := int64(req.MaxTimeoutSeconds)
	if timeout <= 0 {
		timeout = 600
	}
	now := time.Now().UnixMilli()
	expiration := now + timeout*1000

	block, err := c.signer.BlockInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("tron: read block info: %w", err)
	}
	signedTx, err := c.signer.SignTransaction(ctx, SignParams{
		ContractAddress: req.Asset,
		To:              req.PayTo,
		Amount:          req.Amount,
		FeeLimit:        c.feeLimit,
		Expiration:      expiration,
	})
	if err != nil {
		return nil, fmt.Errorf("tron: sign transaction: %w", err)
	}

	auth := ExactAuthorization{
		From:            c.signer.Address(),
		To:              req.PayTo,
		ContractAddress: req.Asset,
		Amount:          req.Amount,
		Expiration:      expiration,
		Timestamp:       now,
	}
	if block != nil {
		auth.RefBlockBytes = block.RefBlockBytes
		auth.RefBlockHash = block.RefBlockHash
	}

	inner, err := json.Marshal(ExactPayload{SignedTransaction: signedTx, Authorization: auth})
	if err != nil {
		return nil, err
	}
	return &types.PaymentPayload{
		T402Version: types.ProtocolVersion,
		Scheme:      types.SchemeExact,
		Network:     network,
		Payload:     inner,
	}, nil
}
