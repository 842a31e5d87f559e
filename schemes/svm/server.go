package svm

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/t402-io/t402-go/types"
)

// Server converts resource-server prices into wire requirements for Solana
// networks and folds facilitator metadata into them.
type Server struct {
	chains map[string]types.ChainConfig
}

// NewServer builds the server-role helper. A nil chain table falls back to
// the defaults.
func NewServer(chains map[string]types.ChainConfig) *Server {
	if chains == nil {
		chains = types.DefaultChainTable()
	}
	return &Server{chains: chains}
}

// ParsePrice converts a human price into atomic units of the network's
// default mint. Accepted forms: "$0.10", "0.10", a number, or an
// {amount, asset} map passed through untouched.
func (s *Server) ParsePrice(price interface{}, network string) (*types.AssetAmount, error) {
	cfg, ok := s.chains[types.NormalizeNetwork(network)]
	if !ok {
		return nil, fmt.Errorf("no chain configuration for %s", network)
	}

	var human decimal.Decimal
	switch p := price.(type) {
	case string:
		parsed, err := decimal.NewFromString(strings.TrimPrefix(strings.TrimSpace(p), "$"))
		if err != nil {
			return nil, fmt.Errorf("invalid price %q: %w", p, err)
		}
		human = parsed
	case float64:
		human = decimal.NewFromFloat(p)
	case int:
		human = decimal.NewFromInt(int64(p))
	case map[string]interface{}:
		amount, _ := p["amount"].(string)
		asset, _ := p["asset"].(string)
		if amount == "" || asset == "" {
			return nil, fmt.Errorf("money price requires amount and asset")
		}
		extra, _ := p["extra"].(map[string]interface{})
		return &types.AssetAmount{Amount: amount, Asset: asset, Extra: extra}, nil
	default:
		return nil, fmt.Errorf("unsupported price type %T", price)
	}

	if human.IsNegative() {
		return nil, fmt.Errorf("price cannot be negative")
	}

	atomic := human.Shift(int32(cfg.AssetDecimals))
	if !atomic.IsInteger() {
		return nil, fmt.Errorf("price %s has more than %d decimal places", human, cfg.AssetDecimals)
	}

	return &types.AssetAmount{
		Amount: atomic.String(),
		Asset:  cfg.DefaultAsset,
		Extra: map[string]interface{}{
			"decimals": cfg.AssetDecimals,
		},
	}, nil
}

// EnhanceRequirements folds the facilitator's advertised extra, notably the
// sponsored fee payer, into the requirements without overwriting anything
// the caller already set.
func (s *Server) EnhanceRequirements(req *types.PaymentRequirements, kind *types.SupportedKind, extensions []string) (*types.PaymentRequirements, error) {
	if req == nil {
		return nil, fmt.Errorf("requirements are required")
	}

	out := *req
	if out.Extra == nil {
		out.Extra = make(map[string]interface{})
	} else {
		copied := make(map[string]interface{}, len(out.Extra))
		for k, v := range out.Extra {
			copied[k] = v
		}
		out.Extra = copied
	}

	if kind != nil {
		for k, v := range kind.Extra {
			if _, exists := out.Extra[k]; !exists {
				out.Extra[k] = v
			}
		}
	}

	if out.Asset == "" {
		if cfg, ok := s.chains[types.NormalizeNetwork(out.Network)]; ok {
			out.Asset = cfg.DefaultAsset
		}
	}
	if out.MaxTimeoutSeconds == 0 {
		out.MaxTimeoutSeconds = 60
	}

	return &out, nil
}
