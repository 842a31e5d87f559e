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

// UptoScheme settles usage-metered payments through an EIP-2612 permit
// executed by a Router contract. The client signs a permit for the signed
// maximum; the server picks the final amount at settlement time and the
// Router enforces the bound on-chain.
type UptoScheme struct {
	baseScheme
}

// NewUptoScheme builds the upto adapter for eip155 networks. At least one
// Router must be registered with WithRouter before settlement.
func NewUptoScheme(client Client, signer Signer, opts ...Option) *UptoScheme {
	return &UptoScheme{baseScheme: newBaseScheme(client, signer, opts...)}
}

func (s *UptoScheme) Scheme() string {
	return types.SchemeUpto
}

func (s *UptoScheme) CaipFamily() string {
	return CaipFamilyEVM
}

// GetExtra advertises the EIP-712 domain parameters plus the Router the
// permit must name as spender.
func (s *UptoScheme) GetExtra(network string) map[string]interface{} {
	cfg, ok := s.chains[types.NormalizeNetwork(network)]
	if !ok {
		return nil
	}
	extra := map[string]interface{}{
		"name":     cfg.EIP712Name,
		"version":  cfg.EIP712Version,
		"decimals": cfg.AssetDecimals,
	}
	if router, ok := s.routers[types.NormalizeNetwork(network)]; ok {
		extra["router"] = router
	}
	return extra
}

func (s *UptoScheme) GetSigners(network string) []string {
	if s.signer == nil {
		return nil
	}
	return []string{s.signer.Address()}
}

// Verify runs the ordered verification checks for a permit payload. The
// permit value is the payer-signed maximum; it must cover the requirements
// range and name the network's Router as spender.
func (s *UptoScheme) Verify(ctx context.Context, payload *types.PaymentPayload, req *types.PaymentRequirements) (*types.VerifyResponse, error) {
	if payload.Scheme != types.SchemeUpto || req.Scheme != types.SchemeUpto {
		return invalid(types.ReasonUnsupportedScheme), nil
	}

	network := types.NormalizeNetwork(payload.Network)
	if network != types.NormalizeNetwork(req.Network) {
		return invalid(types.ReasonNetworkMismatch), nil
	}

	var inner UptoPayload
	if err := utils.DecodeInto(payload.Payload, &inner); err != nil {
		return invalid(types.ReasonInvalidPayloadStructure), nil
	}
	auth := inner.Authorization
	if err := auth.Validate(); err != nil || inner.Signature == "" {
		return invalid(types.ReasonInvalidPayloadStructure), nil
	}

	if utils.ValidateAddressForNetwork(auth.Owner, network) != nil {
		return invalid(types.ReasonInvalidSenderAddress), nil
	}
	if utils.ValidateAddressForNetwork(auth.Spender, network) != nil {
		return invalid(types.ReasonInvalidRecipientAddress), nil
	}
	if utils.ValidateAddressForNetwork(req.Asset, network) != nil {
		return invalid(types.ReasonInvalidContractAddress), nil
	}

	cfg, err := s.chainConfig(req)
	if err != nil {
		return nil, types.NewInternalError("resolve chain config", err)
	}
	digest, err := PermitDigest(auth, s.domain(cfg, req.Asset))
	if err != nil {
		return invalid(types.ReasonInvalidPayloadStructure), nil
	}
	signer, err := RecoverSigner(digest, inner.Signature)
	if err != nil || !strings.EqualFold(signer, auth.Owner) {
		return invalid(types.ReasonSignatureInvalid), nil
	}

	deadline, ok := new(big.Int).SetString(auth.Deadline, 10)
	if !ok {
		return invalid(types.ReasonInvalidPayloadStructure), nil
	}
	if deadline.Cmp(big.NewInt(time.Now().Unix()+s.buffer)) < 0 {
		return invalid(types.ReasonAuthorizationExpired), nil
	}

	signedMax, ok := new(big.Int).SetString(auth.Value, 10)
	if !ok {
		return invalid(types.ReasonInvalidPayloadStructure), nil
	}
	if res := s.checkBalance(ctx, req.Asset, auth.Owner, signedMax); res != nil {
		return res, nil
	}

	maxAmount, ok := new(big.Int).SetString(req.MaxAmount, 10)
	if !ok {
		return nil, types.NewInvalidInputError(fmt.Sprintf("requirements maxAmount %q is not an integer", req.MaxAmount), nil)
	}
	if signedMax.Cmp(maxAmount) < 0 {
		return invalid(types.ReasonAmountOutOfRange), nil
	}
	if req.MinAmount != "" {
		minAmount, ok := new(big.Int).SetString(req.MinAmount, 10)
		if !ok {
			return nil, types.NewInvalidInputError(fmt.Sprintf("requirements minAmount %q is not an integer", req.MinAmount), nil)
		}
		if minAmount.Cmp(maxAmount) > 0 {
			return invalid(types.ReasonAmountOutOfRange), nil
		}
	}

	// The permit grants allowance to the Router, which then transfers to
	// payTo. Recipient binding therefore runs through the spender field.
	router, routerKnown := s.routers[network]
	if routerKnown && !strings.EqualFold(auth.Spender, router) {
		return invalid(types.ReasonInvalidSpender), nil
	}
	if utils.ValidateAddressForNetwork(req.PayTo, network) != nil {
		return invalid(types.ReasonInvalidRecipientAddress), nil
	}

	// Dry-run the Router call with the required maximum as the settle
	// amount. A revert means the permit or the Router's bound check would
	// fail at settlement.
	if routerKnown {
		v, r, sigBytes, err := SplitSignature(inner.Signature)
		if err != nil {
			return invalid(types.ReasonSignatureInvalid), nil
		}
		data, err := PackExecuteUptoTransfer(req.Asset, auth.Owner, req.PayTo, signedMax, maxAmount, deadline, v, r, sigBytes)
		if err != nil {
			return invalid(types.ReasonInvalidPayloadStructure), nil
		}
		if err := s.client.Simulate(ctx, auth.Owner, router, data); err != nil {
			s.log.Debug("simulation rejected permit", map[string]interface{}{
				"network": network,
				"payer":   auth.Owner,
				"error":   err.Error(),
			})
			return invalid(types.ReasonSignatureInvalid), nil
		}
	}

	return valid(signer), nil
}

// Settle re-verifies, enforces the settle amount bound, then calls the
// Router's executeUptoTransfer and waits for the receipt. This is the one
// point where the server chooses an amount different from what the client
// signed, and it can only choose downward.
func (s *UptoScheme) Settle(ctx context.Context, payload *types.PaymentPayload, req *types.PaymentRequirements) (*types.SettleResponse, error) {
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
	router, ok := s.routers[network]
	if !ok {
		return nil, types.NewInternalError(fmt.Sprintf("no router configured for %s", network), nil)
	}

	var inner UptoPayload
	if err := utils.DecodeInto(payload.Payload, &inner); err != nil {
		return settleFailure(types.ReasonInvalidPayloadStructure, network, verifyRes.Payer), nil
	}
	auth := inner.Authorization

	settlement, err := types.SettlementFromExtra(req.Extra)
	if err != nil {
		return nil, types.NewInvalidInputError("settlement details in requirements extra", err)
	}

	maxAmount, _ := new(big.Int).SetString(auth.Value, 10)
	settleAmount := maxAmount
	if settlement != nil && settlement.SettleAmount != "" {
		settleAmount, ok = new(big.Int).SetString(settlement.SettleAmount, 10)
		if !ok {
			return nil, types.NewInvalidInputError(fmt.Sprintf("settleAmount %q is not an integer", settlement.SettleAmount), nil)
		}
	}
	if settleAmount.Sign() <= 0 || settleAmount.Cmp(maxAmount) > 0 {
		return settleFailure(types.ReasonSettleExceedsMax, network, verifyRes.Payer), nil
	}
	if req.MinAmount != "" {
		minAmount, _ := new(big.Int).SetString(req.MinAmount, 10)
		if minAmount != nil && settleAmount.Cmp(minAmount) < 0 {
			return settleFailure(types.ReasonAmountOutOfRange, network, verifyRes.Payer), nil
		}
	}

	deadline, _ := new(big.Int).SetString(auth.Deadline, 10)
	v, r, sig, err := SplitSignature(inner.Signature)
	if err != nil {
		return settleFailure(types.ReasonSignatureInvalid, network, verifyRes.Payer), nil
	}
	data, err := PackExecuteUptoTransfer(req.Asset, auth.Owner, req.PayTo, maxAmount, settleAmount, deadline, v, r, sig)
	if err != nil {
		return settleFailure(types.ReasonInvalidPayloadStructure, network, verifyRes.Payer), nil
	}

	txHash, err := s.signer.SendTransaction(ctx, router, data)
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
		SettledAmount: settleAmount.String(),
		MaxAmount:     maxAmount.String(),
	}, nil
}
