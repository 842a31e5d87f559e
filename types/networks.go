package types

import "strings"

// NetworkType groups CAIP-2 networks into chain families that share a
// signature scheme and transaction format.
type NetworkType string

const (
	NetworkTypeEVM  NetworkType = "evm"
	NetworkTypeSVM  NetworkType = "svm"
	NetworkTypeTron NetworkType = "tron"
	NetworkTypeTon  NetworkType = "ton"
)

// Canonical CAIP-2 identifiers for the networks shipped with default
// configuration.
const (
	NetworkEthereum    = "eip155:1"
	NetworkBase        = "eip155:8453"
	NetworkBaseSepolia = "eip155:84532"
	NetworkPolygon     = "eip155:137"

	NetworkSolana       = "solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdpKuc147dw2N9d"
	NetworkSolanaDevnet = "solana:EtWTRABZaYq6iMfeYKouRu166VU2xqa1"

	NetworkTron     = "tron:mainnet"
	NetworkTronNile = "tron:nile"

	NetworkTon        = "ton:-239"
	NetworkTonTestnet = "ton:-3"
)

// networkAliases maps legacy shorthand network names to canonical CAIP-2 ids.
var networkAliases = map[string]string{
	"ethereum":      NetworkEthereum,
	"base":          NetworkBase,
	"base-sepolia":  NetworkBaseSepolia,
	"polygon":       NetworkPolygon,
	"solana":        NetworkSolana,
	"solana-devnet": NetworkSolanaDevnet,
	"tron":          NetworkTron,
	"ton":           NetworkTon,
}

// NormalizeNetwork resolves legacy aliases to the canonical CAIP-2 id.
// Already-canonical ids pass through unchanged.
func NormalizeNetwork(network string) string {
	if canonical, ok := networkAliases[strings.ToLower(network)]; ok {
		return canonical
	}
	return network
}

// NetworkTypeOf classifies a CAIP-2 network id into its chain family.
func NetworkTypeOf(network string) (NetworkType, bool) {
	ns, _, found := strings.Cut(NormalizeNetwork(network), ":")
	if !found {
		return "", false
	}
	switch ns {
	case "eip155":
		return NetworkTypeEVM, true
	case "solana":
		return NetworkTypeSVM, true
	case "tron":
		return NetworkTypeTron, true
	case "ton":
		return NetworkTypeTon, true
	}
	return "", false
}

// CaipFamily returns the wildcard family pattern for a network,
// e.g. "eip155:*" for "eip155:8453".
func CaipFamily(network string) string {
	ns, _, found := strings.Cut(NormalizeNetwork(network), ":")
	if !found {
		return network
	}
	return ns + ":*"
}

// ChainConfig is the per-network configuration a scheme adapter needs:
// the chain id (EVM), the default settlement asset and its decimals, and the
// EIP-712 domain parameters of that asset where applicable.
type ChainConfig struct {
	Network       string
	ChainID       int64
	DefaultAsset  string
	AssetDecimals int
	EIP712Name    string
	EIP712Version string
}

// DefaultChainTable returns a fresh copy of the built-in network
// configuration. Adapters receive a table at construction; tests swap in
// their own instead of mutating shared state.
func DefaultChainTable() map[string]ChainConfig {
	return map[string]ChainConfig{
		NetworkEthereum: {
			Network:       NetworkEthereum,
			ChainID:       1,
			DefaultAsset:  "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
			AssetDecimals: 6,
			EIP712Name:    "USD Coin",
			EIP712Version: "2",
		},
		NetworkBase: {
			Network:       NetworkBase,
			ChainID:       8453,
			DefaultAsset:  "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
			AssetDecimals: 6,
			EIP712Name:    "USD Coin",
			EIP712Version: "2",
		},
		NetworkBaseSepolia: {
			Network:       NetworkBaseSepolia,
			ChainID:       84532,
			DefaultAsset:  "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
			AssetDecimals: 6,
			EIP712Name:    "USDC",
			EIP712Version: "2",
		},
		NetworkPolygon: {
			Network:       NetworkPolygon,
			ChainID:       137,
			DefaultAsset:  "0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359",
			AssetDecimals: 6,
			EIP712Name:    "USD Coin",
			EIP712Version: "2",
		},
		NetworkSolana: {
			Network:       NetworkSolana,
			DefaultAsset:  "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
			AssetDecimals: 6,
		},
		NetworkSolanaDevnet: {
			Network:       NetworkSolanaDevnet,
			DefaultAsset:  "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU",
			AssetDecimals: 6,
		},
		NetworkTron: {
			Network:       NetworkTron,
			DefaultAsset:  "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t",
			AssetDecimals: 6,
		},
		NetworkTronNile: {
			Network:       NetworkTronNile,
			DefaultAsset:  "TXYZopYRdj2D9XRtbG411XZZ3kM5VkAeBf",
			AssetDecimals: 6,
		},
		NetworkTon: {
			Network:       NetworkTon,
			DefaultAsset:  "EQCxE6mUtQJKFnGfaROTKOt1lZbDiiX1kCixRv7Nw2Id_sDs",
			AssetDecimals: 6,
		},
		NetworkTonTestnet: {
			Network:       NetworkTonTestnet,
			DefaultAsset:  "kQD0GKBM8ZbryVk2aESmzfU6b9b_8era_IkvBSELujFZPsyy",
			AssetDecimals: 6,
		},
	}
}
