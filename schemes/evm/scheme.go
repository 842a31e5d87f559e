package evm

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/t402-io/t402-go/logger"
	"github.com/t402-io/t402-go/types"
)

// baseScheme holds the state shared by the exact and upto adapters.
type baseScheme struct {
	client         Client
	signer         Signer
	chains         map[string]types.ChainConfig
	routers        map[string]string
	log            logger.Logger
	buffer         int64
	confirmTimeout time.Duration
}

// Option customizes an EVM scheme adapter.
type Option func(*baseScheme)

// WithChainTable replaces the default chain configuration table.
func WithChainTable(chains map[string]types.ChainConfig) Option {
	return func(s *baseScheme) {
		s.chains = chains
	}
}

// WithLogger sets the adapter logger.
func WithLogger(log logger.Logger) Option {
	return func(s *baseScheme) {
		if log != nil {
			s.log = log
		}
	}
}

// WithValidityBuffer overrides the expiry safety margin in seconds. Values
// below MinValidityBuffer are clamped up.
func WithValidityBuffer(seconds int64) Option {
	return func(s *baseScheme) {
		if seconds < MinValidityBuffer {
			seconds = MinValidityBuffer
		}
		s.buffer = seconds
	}
}

// WithConfirmTimeout bounds the settlement confirmation wait.
func WithConfirmTimeout(d time.Duration) Option {
	return func(s *baseScheme) {
		if d > 0 {
			s.confirmTimeout = d
		}
	}
}

// WithRouter registers the upto Router contract for a network.
func WithRouter(network, address string) Option {
	return func(s *baseScheme) {
		s.routers[types.NormalizeNetwork(network)] = address
	}
}

func newBaseScheme(client Client, signer Signer, opts ...Option) baseScheme {
	s := baseScheme{
		client:         client,
		signer:         signer,
		chains:         types.DefaultChainTable(),
		routers:        make(map[string]string),
		log:            logger.NoopLogger{},
		buffer:         MinValidityBuffer,
		confirmTimeout: 60 * time.Second,
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// chainConfig resolves the network's chain parameters, taking EIP-712
// name/version overrides from the requirements extra when present.
func (s *baseScheme) chainConfig(req *types.PaymentRequirements) (types.ChainConfig, error) {
	network := types.NormalizeNetwork(req.Network)
	cfg, ok := s.chains[network]
	if !ok {
		return types.ChainConfig{}, fmt.Errorf("no chain configuration for %s", network)
	}
	if name, ok := req.Extra["name"].(string); ok && name != "" {
		cfg.EIP712Name = name
	}
	if version, ok := req.Extra["version"].(string); ok && version != "" {
		cfg.EIP712Version = version
	}
	return cfg, nil
}

func (s *baseScheme) domain(cfg types.ChainConfig, asset string) Domain {
	return Domain{
		Name:              cfg.EIP712Name,
		Version:           cfg.EIP712Version,
		ChainID:           big.NewInt(cfg.ChainID),
		VerifyingContract: asset,
	}
}

// checkBalance is best-effort: an RPC failure is logged and skipped because
// the balance can change before settlement anyway.
func (s *baseScheme) checkBalance(ctx context.Context, token, owner string, required *big.Int) *types.VerifyResponse {
	balance, err := s.client.TokenBalance(ctx, token, owner)
	if err != nil {
		s.log.Warn("balance check skipped", map[string]interface{}{
			"token": token,
			"owner": owner,
			"error": err.Error(),
		})
		return nil
	}
	if balance.Cmp(required) < 0 {
		return invalid(types.ReasonInsufficientBalance)
	}
	return nil
}

func invalid(reason string) *types.VerifyResponse {
	return &types.VerifyResponse{IsValid: false, InvalidReason: reason}
}

func valid(payer string) *types.VerifyResponse {
	return &types.VerifyResponse{IsValid: true, Payer: payer}
}

func settleFailure(reason, network, payer string) *types.SettleResponse {
	return &types.SettleResponse{Success: false, ErrorReason: reason, Network: network, Payer: payer}
}
