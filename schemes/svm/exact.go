package svm

import (
	"context"
	"math/big"
	"time"

	"github.com/t402-io/t402-go/logger"
	"github.com/t402-io/t402-go/types"
	"github.com/t402-io/t402-go/utils"
)

// ExactScheme verifies and settles pre-signed SPL token transfers.
type ExactScheme struct {
	node           Node
	signers        []string
	chains         map[string]types.ChainConfig
	log            logger.Logger
	buffer         int64
	confirmTimeout time.Duration
	pollInterval   time.Duration
}

// Option customizes the Solana adapter.
type Option func(*ExactScheme)

// WithChainTable replaces the default chain configuration table.
func WithChainTable(chains map[string]types.ChainConfig) Option {
	return func(s *ExactScheme) { s.chains = chains }
}

// WithLogger sets the adapter logger.
func WithLogger(log logger.Logger) Option {
	return func(s *ExactScheme) {
		if log != nil {
			s.log = log
		}
	}
}

// WithConfirmTimeout bounds the settlement confirmation wait.
func WithConfirmTimeout(d time.Duration) Option {
	return func(s *ExactScheme) {
		if d > 0 {
			s.confirmTimeout = d
		}
	}
}

// NewExactScheme builds the Solana exact adapter. The signers are the fee
// payer addresses this facilitator manages; a payload naming any other fee
// payer is rejected.
func NewExactScheme(node Node, signers []string, opts ...Option) *ExactScheme {
	s := &ExactScheme{
		node:           node,
		signers:        signers,
		chains:         types.DefaultChainTable(),
		log:            logger.NoopLogger{},
		buffer:         MinValidityBuffer,
		confirmTimeout: 60 * time.Second,
		pollInterval:   2 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *ExactScheme) Scheme() string {
	return types.SchemeExact
}

func (s *ExactScheme) CaipFamily() string {
	return CaipFamilySVM
}

func (s *ExactScheme) GetExtra(network string) map[string]interface{} {
	cfg, ok := s.chains[types.NormalizeNetwork(network)]
	if !ok {
		return nil
	}
	extra := map[string]interface{}{
		"decimals": cfg.AssetDecimals,
		"asset":    cfg.DefaultAsset,
	}
	if len(s.signers) > 0 {
		extra["feePayer"] = s.signers[0]
	}
	return extra
}

func (s *ExactScheme) GetSigners(string) []string {
	return s.signers
}

// Verify runs the ordered verification checks against the declared
// authorization and the signed transaction.
func (s *ExactScheme) Verify(ctx context.Context, payload *types.PaymentPayload, req *types.PaymentRequirements) (*types.VerifyResponse, error) {
	if payload.Scheme != types.SchemeExact || req.Scheme != types.SchemeExact {
		return invalid(types.ReasonUnsupportedScheme), nil
	}

	network := types.NormalizeNetwork(payload.Network)
	if network != types.NormalizeNetwork(req.Network) {
		return invalid(types.ReasonNetworkMismatch), nil
	}

	var inner ExactPayload
	if err := utils.DecodeInto(payload.Payload, &inner); err != nil {
		return invalid(types.ReasonInvalidPayloadStructure), nil
	}
	auth := inner.Authorization
	if err := auth.Validate(); err != nil || inner.Transaction == "" {
		return invalid(types.ReasonInvalidPayloadStructure), nil
	}

	if utils.ValidateAddressForNetwork(auth.From, network) != nil {
		return invalid(types.ReasonInvalidSenderAddress), nil
	}
	if utils.ValidateAddressForNetwork(auth.To, network) != nil {
		return invalid(types.ReasonInvalidRecipientAddress), nil
	}
	if utils.ValidateAddressForNetwork(auth.Mint, network) != nil {
		return invalid(types.ReasonInvalidContractAddress), nil
	}

	amount, ok := new(big.Int).SetString(auth.Amount, 10)
	if !ok {
		return invalid(types.ReasonInvalidPayloadStructure), nil
	}

	// The transaction itself is what settles, so the declared transfer is
	// only trustworthy once it matches the transfer instruction inside the
	// signed bytes. Funds move wherever the transaction says, not where the
	// authorization claims.
	tx, err := parseTransaction(inner.Transaction)
	if err != nil || tx.Transfer == nil {
		return invalid(types.ReasonSignatureInvalid), nil
	}
	transfer := tx.Transfer
	if transfer.Authority != auth.From || transfer.Mint != auth.Mint {
		return invalid(types.ReasonSignatureInvalid), nil
	}
	if new(big.Int).SetUint64(transfer.Amount).Cmp(amount) != 0 {
		return invalid(types.ReasonSignatureInvalid), nil
	}
	if auth.FeePayer != "" && auth.FeePayer != tx.FeePayer {
		return invalid(types.ReasonSignatureInvalid), nil
	}

	if auth.ValidUntil < time.Now().Unix()+s.buffer {
		return invalid(types.ReasonAuthorizationExpired), nil
	}

	balance, err := s.node.TokenBalance(ctx, auth.From, auth.Mint)
	if err != nil {
		s.log.Warn("balance check skipped", map[string]interface{}{
			"network": network,
			"payer":   auth.From,
			"error":   err.Error(),
		})
	} else if balance.Cmp(amount) < 0 {
		return invalid(types.ReasonInsufficientBalance), nil
	}

	required, ok := new(big.Int).SetString(req.Amount, 10)
	if !ok {
		return nil, types.NewInvalidInputError("requirements amount is not an integer", nil)
	}
	if amount.Cmp(required) < 0 {
		return invalid(types.ReasonInsufficientAmount), nil
	}

	if auth.To != req.PayTo {
		return invalid(types.ReasonRecipientMismatch), nil
	}
	if auth.Mint != req.Asset {
		return invalid(types.ReasonAssetMismatch), nil
	}

	// A sponsoring facilitator only broadcasts transactions that name one of
	// its own fee payers, and never one where its key is the transfer
	// authority moving its own funds.
	if len(s.signers) > 0 && !s.managesSigner(tx.FeePayer) {
		return invalid(types.ReasonInvalidFeePayer), nil
	}
	if s.managesSigner(transfer.Authority) {
		return invalid(types.ReasonInvalidFeePayer), nil
	}

	ok2, reason, err := s.node.Simulate(ctx, inner.Transaction)
	if err != nil {
		s.log.Warn("simulation skipped", map[string]interface{}{
			"network": network,
			"payer":   transfer.Authority,
			"error":   err.Error(),
		})
	} else if !ok2 {
		s.log.Debug("simulation rejected transaction", map[string]interface{}{
			"network": network,
			"payer":   transfer.Authority,
			"reason":  reason,
		})
		return invalid(types.ReasonSignatureInvalid), nil
	}

	return &types.VerifyResponse{IsValid: true, Payer: transfer.Authority}, nil
}

// Settle re-verifies, broadcasts the signed transaction and polls the
// signature status until confirmed commitment.
func (s *ExactScheme) Settle(ctx context.Context, payload *types.PaymentPayload, req *types.PaymentRequirements) (*types.SettleResponse, error) {
	network := types.NormalizeNetwork(payload.Network)

	verifyRes, err := s.Verify(ctx, payload, req)
	if err != nil {
		return nil, err
	}
	if !verifyRes.IsValid {
		return failure(verifyRes.InvalidReason, network, verifyRes.Payer), nil
	}

	var inner ExactPayload
	if err := utils.DecodeInto(payload.Payload, &inner); err != nil {
		return failure(types.ReasonInvalidPayloadStructure, network, verifyRes.Payer), nil
	}

	signature, err := s.node.Broadcast(ctx, inner.Transaction)
	if err != nil {
		s.log.Error("broadcast failed", map[string]interface{}{
			"network": network,
			"payer":   verifyRes.Payer,
			"error":   err.Error(),
		})
		return failure(types.ReasonBroadcastFailed, network, verifyRes.Payer), nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, s.confirmTimeout)
	defer cancel()
	if err := s.waitConfirmed(waitCtx, signature); err != nil {
		s.log.Error("confirmation failed", map[string]interface{}{
			"network": network,
			"tx":      signature,
			"error":   err.Error(),
		})
		res := failure(types.ReasonTxNotConfirmed, network, verifyRes.Payer)
		res.Transaction = signature
		return res, nil
	}

	return &types.SettleResponse{
		Success:       true,
		Transaction:   signature,
		Network:       network,
		Payer:         verifyRes.Payer,
		SettledAmount: inner.Authorization.Amount,
	}, nil
}

func (s *ExactScheme) waitConfirmed(ctx context.Context, signature string) error {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		confirmed, err := s.node.Confirmed(ctx, signature)
		if err != nil && ctx.Err() == nil {
			return err
		}
		if confirmed {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *ExactScheme) managesSigner(address string) bool {
	for _, signer := range s.signers {
		if signer == address {
			return true
		}
	}
	return false
}

func invalid(reason string) *types.VerifyResponse {
	return &types.VerifyResponse{IsValid: false, InvalidReason: reason}
}

func failure(reason, network, payer string) *types.SettleResponse {
	return &types.SettleResponse{Success: false, ErrorReason: reason, Network: network, Payer: payer}
}
