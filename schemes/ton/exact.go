package ton

import (
	"context"
	"math/big"
	"time"

	"github.com/t402-io/t402-go/logger"
	"github.com/t402-io/t402-go/types"
	"github.com/t402-io/t402-go/utils"
)

// ExactScheme verifies and settles pre-signed jetton transfers.
type ExactScheme struct {
	node           Node
	chains         map[string]types.ChainConfig
	log            logger.Logger
	buffer         int64
	confirmTimeout time.Duration
	pollInterval   time.Duration
}

// Option customizes the TON adapter.
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

// NewExactScheme builds the TON exact adapter.
func NewExactScheme(node Node, opts ...Option) *ExactScheme {
	s := &ExactScheme{
		node:           node,
		chains:         types.DefaultChainTable(),
		log:            logger.NoopLogger{},
		buffer:         MinValidityBuffer,
		confirmTimeout: 60 * time.Second,
		pollInterval:   3 * time.Second,
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
	return CaipFamilyTon
}

func (s *ExactScheme) GetExtra(network string) map[string]interface{} {
	cfg, ok := s.chains[types.NormalizeNetwork(network)]
	if !ok {
		return nil
	}
	return map[string]interface{}{
		"decimals": cfg.AssetDecimals,
		"asset":    cfg.DefaultAsset,
	}
}

// GetSigners returns nil: the TON facilitator relays client-signed
// external messages and never signs itself.
func (s *ExactScheme) GetSigners(string) []string {
	return nil
}

// Verify runs the ordered verification checks against the declared
// authorization and the signed external message.
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
	if err := auth.Validate(); err != nil || inner.SignedBoc == "" {
		return invalid(types.ReasonInvalidPayloadStructure), nil
	}

	if utils.ValidateAddressForNetwork(auth.From, network) != nil {
		return invalid(types.ReasonInvalidSenderAddress), nil
	}
	if utils.ValidateAddressForNetwork(auth.To, network) != nil {
		return invalid(types.ReasonInvalidRecipientAddress), nil
	}
	if utils.ValidateAddressForNetwork(auth.JettonMaster, network) != nil {
		return invalid(types.ReasonInvalidContractAddress), nil
	}

	ok, reason, err := s.node.CheckMessage(ctx, &inner)
	if err != nil {
		return nil, types.NewChainError(types.ReasonInternalError, "check signed message", err)
	}
	if !ok {
		s.log.Debug("message check failed", map[string]interface{}{
			"network": network,
			"payer":   auth.From,
			"reason":  reason,
		})
		return invalid(types.ReasonSignatureInvalid), nil
	}

	if auth.ValidUntil < time.Now().Unix()+s.buffer {
		return invalid(types.ReasonAuthorizationExpired), nil
	}

	amount, ok2 := new(big.Int).SetString(auth.JettonAmount, 10)
	if !ok2 {
		return invalid(types.ReasonInvalidPayloadStructure), nil
	}
	balance, err := s.node.JettonBalance(ctx, auth.From, auth.JettonMaster)
	if err != nil {
		s.log.Warn("balance check skipped", map[string]interface{}{
			"network": network,
			"payer":   auth.From,
			"error":   err.Error(),
		})
	} else if balance.Cmp(amount) < 0 {
		return invalid(types.ReasonInsufficientBalance), nil
	}

	required, ok2 := new(big.Int).SetString(req.Amount, 10)
	if !ok2 {
		return nil, types.NewInvalidInputError("requirements amount is not an integer", nil)
	}
	if amount.Cmp(required) < 0 {
		return invalid(types.ReasonInsufficientAmount), nil
	}

	if auth.To != req.PayTo {
		return invalid(types.ReasonRecipientMismatch), nil
	}
	if auth.JettonMaster != req.Asset {
		return invalid(types.ReasonAssetMismatch), nil
	}

	deployed, err := s.node.IsDeployed(ctx, auth.From)
	if err != nil {
		s.log.Warn("deployment check skipped", map[string]interface{}{
			"network": network,
			"payer":   auth.From,
			"error":   err.Error(),
		})
	} else if !deployed {
		return invalid(types.ReasonAccountNotActivated), nil
	}

	// The signed seqno must still be current, otherwise the message is a
	// replay or was already consumed.
	seqno, err := s.node.Seqno(ctx, auth.From)
	if err != nil {
		s.log.Warn("seqno check skipped", map[string]interface{}{
			"network": network,
			"payer":   auth.From,
			"error":   err.Error(),
		})
	} else if seqno != auth.Seqno {
		return invalid(types.ReasonNonceAlreadyUsed), nil
	}

	return &types.VerifyResponse{IsValid: true, Payer: auth.From}, nil
}

// Settle re-verifies, sends the external message and waits for the wallet
// seqno to advance past the signed one.
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

	hash, err := s.node.SendMessage(ctx, inner.SignedBoc)
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
	if err := s.waitSeqnoAdvance(waitCtx, inner.Authorization.From, inner.Authorization.Seqno); err != nil {
		s.log.Error("confirmation failed", map[string]interface{}{
			"network": network,
			"tx":      hash,
			"error":   err.Error(),
		})
		res := failure(types.ReasonTxNotConfirmed, network, verifyRes.Payer)
		res.Transaction = hash
		return res, nil
	}

	return &types.SettleResponse{
		Success:       true,
		Transaction:   hash,
		Network:       network,
		Payer:         verifyRes.Payer,
		SettledAmount: inner.Authorization.JettonAmount,
	}, nil
}

func (s *ExactScheme) waitSeqnoAdvance(ctx context.Context, address string, signedSeqno int64) error {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		seqno, err := s.node.Seqno(ctx, address)
		if err == nil && seqno > signedSeqno {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func invalid(reason string) *types.VerifyResponse {
	return &types.VerifyResponse{IsValid: false, InvalidReason: reason}
}

func failure(reason, network, payer string) *types.SettleResponse {
	return &types.SettleResponse{Success: false, ErrorReason: reason, Network: network, Payer: payer}
}
