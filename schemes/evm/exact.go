package evm

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/t402-io/t402-go/types"
	"github.com/t402-io/t402-go/utils"
)

// ExactScheme settles fixed-amount payments through EIP-3009
// transferWithAuthorization. The client signs the full authorization
// off-chain; the facilitator submits it and pays gas.
type ExactScheme struct {
	baseScheme
}

// NewExactScheme builds the exact adapter for eip155 networks. The signer
// may be nil for verify-only deployments.
func NewExactScheme(client Client, signer Signer, opts ...Option) *ExactScheme {
	return &ExactScheme{baseScheme: newBaseScheme(client, signer, opts...)}
}

func (s *ExactScheme) Scheme() string {
	return types.SchemeExact
}

func (s *ExactScheme) CaipFamily() string {
	return CaipFamilyEVM
}

// GetExtra advertises the EIP-712 domain parameters clients need to sign
// authorizations for the network's default asset.
func (s *ExactScheme) GetExtra(network string) map[string]interface{} {
	cfg, ok := s.chains[types.NormalizeNetwork(network)]
	if !ok {
		return nil
	}
	return map[string]interface{}{
		"name":     cfg.EIP712Name,
		"version":  cfg.EIP712Version,
		"decimals": cfg.AssetDecimals,
	}
}

func (s *ExactScheme) GetSigners(network string) []string {
	if s.signer == nil {
		return nil
	}
	return []string{s.signer.Address()}
}

// Verify runs the ordered verification checks and stops at the first
// failure. Caller-attributable failures come back as an invalid response,
// never as an error.
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
	if err := auth.Validate(); err != nil || inner.Signature == "" {
		return invalid(types.ReasonInvalidPayloadStructure), nil
	}

	if utils.ValidateAddressForNetwork(auth.From, network) != nil {
		return invalid(types.ReasonInvalidSenderAddress), nil
	}
	if utils.ValidateAddressForNetwork(auth.To, network) != nil {
		return invalid(types.ReasonInvalidRecipientAddress), nil
	}
	if utils.ValidateAddressForNetwork(req.Asset, network) != nil {
		return invalid(types.ReasonInvalidContractAddress), nil
	}

	cfg, err := s.chainConfig(req)
	if err != nil {
		return nil, types.NewInternalError("resolve chain config", err)
	}
	digest, err := TransferWithAuthorizationDigest(auth, s.domain(cfg, req.Asset))
	if err != nil {
		return invalid(types.ReasonInvalidPayloadStructure), nil
	}
	signer, err := RecoverSigner(digest, inner.Signature)
	if err != nil || !strings.EqualFold(signer, auth.From) {
		return invalid(types.ReasonSignatureInvalid), nil
	}

	now := time.Now().Unix()
	validBefore, ok := new(big.Int).SetString(auth.ValidBefore, 10)
	if !ok {
		return invalid(types.ReasonInvalidPayloadStructure), nil
	}
	if validBefore.Cmp(big.NewInt(now+s.buffer)) < 0 {
		return invalid(types.ReasonAuthorizationExpired), nil
	}
	if auth.ValidAfter != "" {
		validAfter, ok := new(big.Int).SetString(auth.ValidAfter, 10)
		if !ok {
			return invalid(types.ReasonInvalidPayloadStructure), nil
		}
		if validAfter.Cmp(big.NewInt(now)) > 0 {
			return invalid(types.ReasonAuthorizationNotActive), nil
		}
	}

	value, ok := new(big.Int).SetString(auth.Value, 10)
	if !ok {
		return invalid(types.ReasonInvalidPayloadStructure), nil
	}
	if res := s.checkBalance(ctx, req.Asset, auth.From, value); res != nil {
		return res, nil
	}

	required, ok := new(big.Int).SetString(req.Amount, 10)
	if !ok {
		return nil, types.NewInvalidInputError(fmt.Sprintf("requirements amount %q is not an integer", req.Amount), nil)
	}
	if value.Cmp(required) < 0 {
		return invalid(types.ReasonInsufficientAmount), nil
	}

	if !strings.EqualFold(auth.To, req.PayTo) {
		return invalid(types.ReasonRecipientMismatch), nil
	}

	nonce, err := HexToBytes32(auth.Nonce)
	if err != nil {
		return invalid(types.ReasonInvalidPayloadStructure), nil
	}
	used, err := s.client.AuthorizationUsed(ctx, req.Asset, auth.From, nonce)
	if err != nil {
		s.log.Warn("authorization state check skipped", map[string]interface{}{
			"network": network,
			"payer":   auth.From,
			"error":   err.Error(),
		})
	} else if used {
		return invalid(types.ReasonNonceAlreadyUsed), nil
	}

	// Dry-run the exact transferWithAuthorization call that settlement
	// would submit. A revert here means the token contract itself would
	// reject the authorization.
	v, r, sigBytes, err := SplitSignature(inner.Signature)
	if err != nil {
		return invalid(types.ReasonSignatureInvalid), nil
	}
	data, err := PackTransferWithAuthorization(auth, v, r, sigBytes)
	if err != nil {
		return invalid(types.ReasonInvalidPayloadStructure), nil
	}
	if err := s.client.Simulate(ctx, auth.From, req.Asset, data); err != nil {
		s.log.Debug("simulation rejected authorization", map[string]interface{}{
			"network": network,
			"payer":   auth.From,
			"error":   err.Error(),
		})
		return invalid(types.ReasonSignatureInvalid), nil
	}

	return valid(signer), nil
}

// Settle re-verifies, then broadcasts transferWithAuthorization and waits
// for the receipt. A confirmation timeout is reported, never retried.
func (s *ExactScheme) Settle(ctx context.Context, payload *types.PaymentPayload, req *types.PaymentRequirements) (*types.SettleResponse, error) {
	network := types.NormalizeNetwork(payload.Network)

	verifyRes, err := s.Verify(ctx, payload, req)
	if err != nil {
		return nil, err
	}
	if !verifyRes.IsValid {
		return settleFailure(verifyRes.InvalidReason, network, verifyRes.Payer), nil
	}
	if s.signer == nil {
		return nil, types.NewInternalError("no settlement signer configured", nil)
	}

	var inner ExactPayload
	if err := utils.DecodeInto(payload.Payload, &inner); err != nil {
		return settleFailure(types.ReasonInvalidPayloadStructure, network, verifyRes.Payer), nil
	}

	v, r, sig, err := SplitSignature(inner.Signature)
	if err != nil {
		return settleFailure(types.ReasonSignatureInvalid, network, verifyRes.Payer), nil
	}
	data, err := PackTransferWithAuthorization(inner.Authorization, v, r, sig)
	if err != nil {
		return settleFailure(types.ReasonInvalidPayloadStructure, network, verifyRes.Payer), nil
	}

	txHash, err := s.signer.SendTransaction(ctx, req.Asset, data)
	if err != nil {
		s.log.Error("broadcast failed", map[string]interface{}{
			"network": network,
			"payer":   verifyRes.Payer,
			"error":   err.Error(),
		})
		return settleFailure(types.ReasonBroadcastFailed, network, verifyRes.Payer), nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, s.confirmTimeout)
	defer cancel()
	if err := s.signer.WaitMined(waitCtx, txHash); err != nil {
		s.log.Error("confirmation failed", map[string]interface{}{
			"network": network,
			"tx":      txHash,
			"error":   err.Error(),
		})
		res := settleFailure(types.ReasonTxNotConfirmed, network, verifyRes.Payer)
		res.Transaction = txHash
		return res, nil
	}

	return &types.SettleResponse{
		Success:       true,
		Transaction:   txHash,
		Network:       network,
		Payer:         verifyRes.Payer,
		SettledAmount: inner.Authorization.Value,
	}, nil
}
