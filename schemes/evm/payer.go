package evm

import (
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/t402-io/t402-go/types"
)

// Wallet signs EIP-712 digests with a payer key.
type Wallet struct {
	key     *ecdsa.PrivateKey
	address string
}

// NewWallet parses a hex private key.
func NewWallet(privateKeyHex string) (*Wallet, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("evm: invalid private key: %w", err)
	}
	return &Wallet{key: key, address: crypto.PubkeyToAddress(key.PublicKey).Hex()}, nil
}

// Address returns the checksummed payer address.
func (w *Wallet) Address() string {
	return w.address
}

// SignDigest signs a 32-byte digest and returns a 65-byte hex signature
// with v in the 27/28 convention token contracts expect.
func (w *Wallet) SignDigest(digest []byte) (string, error) {
	sig, err := crypto.Sign(digest, w.key)
	if err != nil {
		return "", fmt.Errorf("evm: sign digest: %w", err)
	}
	sig[64] += 27
	return "0x" + hex.EncodeToString(sig), nil
}

// ExactClient builds signed exact payments from requirements, typically in
// response to a 402 challenge.
type ExactClient struct {
	wallet *Wallet
	chains map[string]types.ChainConfig
}

// NewExactClient builds the payer-side exact helper. A nil chain table
// falls back to the defaults.
func NewExactClient(wallet *Wallet, chains map[string]types.ChainConfig) *ExactClient {
	if chains == nil {
		chains = types.DefaultChainTable()
	}
	return &ExactClient{wallet: wallet, chains: chains}
}

// CreatePaymentPayload signs an EIP-3009 authorization for the exact
// required amount, valid from now until the requirements timeout.
func (c *ExactClient) CreatePaymentPayload(_ context.Context, req *types.PaymentRequirements) (*types.PaymentPayload, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	network := types.NormalizeNetwork(req.Network)
	cfg, ok := c.chains[network]
	if !ok {
		return nil, fmt.Errorf("no chain configuration for %s", network)
	}
	if name, ok := req.Extra["name"].(string); ok && name != "" {
		cfg.EIP712Name = name
	}
	if version, ok := req.Extra["version"].(string); ok && version != "" {
		cfg.EIP712Version = version
	}

	timeout := int64(req.MaxTimeoutSeconds)
	if timeout <= 0 {
		timeout = 600
	}
	now := time.Now().Unix()

	nonce, err := randomNonce()
	if err != nil {
		return nil, err
	}
	auth := ExactAuthorization{
		From:        c.wallet.Address(),
		To:          req.PayTo,
		Value:       req.Amount,
		ValidAfter:  "0",
		ValidBefore: strconv.FormatInt(now+timeout, 10),
		Nonce:       nonce,
	}

	digest, err := TransferWithAuthorizationDigest(auth, Domain{
		Name:              cfg.EIP712Name,
		Version:           cfg.EIP712Version,
		ChainID:           big.NewInt(cfg.ChainID),
		VerifyingContract: req.Asset,
	})
	if err != nil {
		return nil, err
	}
	signature, err := c.wallet.SignDigest(digest)
	if err != nil {
		return nil, err
	}

	inner, err := json.Marshal(ExactPayload{Signature: signature, Authorization: auth})
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

// UptoClient builds signed upto payments: a permit for the requirements
// maximum, naming the advertised Router as spender.
type UptoClient struct {
	wallet *Wallet
	client Client
	chains map[string]types.ChainConfig
}

// NewUptoClient builds the payer-side upto helper. The chain client is
// used to read the current permit nonce; if nil, the nonce must arrive in
// the requirements extra as "permitNonce".
func NewUptoClient(wallet *Wallet, client Client, chains map[string]types.ChainConfig) *UptoClient {
	if chains == nil {
		chains = types.DefaultChainTable()
	}
	return &UptoClient{wallet: wallet, client: client, chains: chains}
}

// CreatePaymentPayload signs an EIP-2612 permit for the requirements
// maxAmount with the Router as spender.
func (c *UptoClient) CreatePaymentPayload(ctx context.Context, req *types.PaymentRequirements) (*types.PaymentPayload, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	network := types.NormalizeNetwork(req.Network)
	cfg, ok := c.chains[network]
	if !ok {
		return nil, fmt.Errorf("no chain configuration for %s", network)
	}
	if name, ok := req.Extra["name"].(string); ok && name != "" {
		cfg.EIP712Name = name
	}
	if version, ok := req.Extra["version"].(string); ok && version != "" {
		cfg.EIP712Version = version
	}

	router, _ := req.Extra["router"].(string)
	if router == "" {
		return nil, fmt.Errorf("requirements extra is missing the router address")
	}

	nonce, err := c.permitNonce(ctx, req)
	if err != nil {
		return nil, err
	}

	timeout := int64(req.MaxTimeoutSeconds)
	if timeout <= 0 {
		timeout = 600
	}
	auth := UptoAuthorization{
		Owner:    c.wallet.Address(),
		Spender:  router,
		Value:    req.MaxAmount,
		Nonce:    nonce,
		Deadline: strconv.FormatInt(time.Now().Unix()+timeout, 10),
	}

	digest, err := PermitDigest(auth, Domain{
		Name:              cfg.EIP712Name,
		Version:           cfg.EIP712Version,
		ChainID:           big.NewInt(cfg.ChainID),
		VerifyingContract: req.Asset,
	})
	if err != nil {
		return nil, err
	}
	signature, err := c.wallet.SignDigest(digest)
	if err != nil {
		return nil, err
	}

	inner, err := json.Marshal(UptoPayload{Signature: signature, Authorization: auth})
	if err != nil {
		return nil, err
	}
	return &types.PaymentPayload{
		T402Version: types.ProtocolVersion,
		Scheme:      types.SchemeUpto,
		Network:     network,
		Payload:     inner,
	}, nil
}

func (c *UptoClient) permitNonce(ctx context.Context, req *types.PaymentRequirements) (string, error) {
	if c.client != nil {
		nonce, err := c.client.PermitNonce(ctx, req.Asset, c.wallet.Address())
		if err != nil {
			return "", fmt.Errorf("read permit nonce: %w", err)
		}
		return nonce.String(), nil
	}
	if nonce, ok := req.Extra["permitNonce"].(string); ok && nonce != "" {
		return nonce, nil
	}
	return "", fmt.Errorf("no chain client and no permitNonce in requirements extra")
}

func randomNonce() (string, error) {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	return "0x" + hex.EncodeToString(b[:]), nil
}
