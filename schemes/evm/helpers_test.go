package evm

import (
	"context"
	"encoding/json"
	"math/big"
	"testing"

	"github.com/t402-io/t402-go/types"
)

const (
	testPayerKey = "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	testPayTo    = "0x7E5F4552091A69125d5DfCb7b8C2659029395Bdf"
	testAsset    = "0x036CbD53842c5426634e7929541eC2318f3dCF7e"
	testRouter   = "0x2B5AD5c4795c026514f8317c7a215E218DcCD6cF"
)

// fakeChainClient serves canned chain state.
type fakeChainClient struct {
	balance     *big.Int
	balanceErr  error
	authUsed    bool
	authUsedErr error
	permitNonce *big.Int
	simulateErr error
}

func (f *fakeChainClient) ChainID(context.Context) (*big.Int, error) {
	return big.NewInt(84532), nil
}

func (f *fakeChainClient) TokenBalance(context.Context, string, string) (*big.Int, error) {
	if f.balanceErr != nil {
		return nil, f.balanceErr
	}
	if f.balance == nil {
		return big.NewInt(1_000_000), nil
	}
	return f.balance, nil
}

func (f *fakeChainClient) AuthorizationUsed(context.Context, string, string, [32]byte) (bool, error) {
	return f.authUsed, f.authUsedErr
}

func (f *fakeChainClient) PermitNonce(context.Context, string, string) (*big.Int, error) {
	if f.permitNonce == nil {
		return big.NewInt(0), nil
	}
	return f.permitNonce, nil
}

func (f *fakeChainClient) Simulate(context.Context, string, string, []byte) error {
	return f.simulateErr
}

// fakeSigner records broadcasts instead of touching a chain.
type fakeSigner struct {
	sendErr  error
	waitErr  error
	sent     int
	lastTo   string
	lastData []byte
}

func (f *fakeSigner) Address() string {
	return "0xFacilitator00000000000000000000000000001"
}

func (f *fakeSigner) SendTransaction(_ context.Context, to string, data []byte) (string, error) {
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.sent++
	f.lastTo = to
	f.lastData = data
	return "0xdeadbeef", nil
}

func (f *fakeSigner) WaitMined(context.Context, string) error {
	return f.waitErr
}

func bigInt(t *testing.T, s string) *big.Int {
	t.Helper()
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		t.Fatalf("bad integer %q", s)
	}
	return n
}

// replaceAuthorization grafts the authorization from one signed payload onto
// another's signature, producing a claim the signature does not cover.
func replaceAuthorization(t *testing.T, signed, donor json.RawMessage) json.RawMessage {
	t.Helper()

	var orig, other ExactPayload
	if err := json.Unmarshal(signed, &orig); err != nil {
		t.Fatalf("unmarshal signed: %v", err)
	}
	if err := json.Unmarshal(donor, &other); err != nil {
		t.Fatalf("unmarshal donor: %v", err)
	}
	orig.Authorization = other.Authorization
	out, err := json.Marshal(orig)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return out
}

func testWallet(t *testing.T) *Wallet {
	t.Helper()
	w, err := NewWallet(testPayerKey)
	if err != nil {
		t.Fatalf("NewWallet: %v", err)
	}
	return w
}

func exactRequirements() *types.PaymentRequirements {
	return &types.PaymentRequirements{
		Scheme:            types.SchemeExact,
		Network:           types.NetworkBaseSepolia,
		Asset:             testAsset,
		Amount:            "10000",
		PayTo:             testPayTo,
		MaxTimeoutSeconds: 600,
	}
}

func uptoRequirements() *types.PaymentRequirements {
	return &types.PaymentRequirements{
		Scheme:            types.SchemeUpto,
		Network:           types.NetworkBaseSepolia,
		Asset:             testAsset,
		MaxAmount:         "1000000",
		MinAmount:         "10000",
		PayTo:             testPayTo,
		MaxTimeoutSeconds: 600,
		Extra:             map[string]interface{}{"router": testRouter},
	}
}

// signedExactPayload signs an explicit authorization so tests can control
// every field, including invalid ones.
func signedExactPayload(t *testing.T, w *Wallet, auth ExactAuthorization, asset string) *types.PaymentPayload {
	t.Helper()

	cfg := types.DefaultChainTable()[types.NetworkBaseSepolia]
	digest, err := TransferWithAuthorizationDigest(auth, Domain{
		Name:              cfg.EIP712Name,
		Version:           cfg.EIP712Version,
		ChainID:           big.NewInt(cfg.ChainID),
		VerifyingContract: asset,
	})
	if err != nil {
		t.Fatalf("digest: %v", err)
	}
	sig, err := w.SignDigest(digest)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	inner, err := json.Marshal(ExactPayload{Signature: sig, Authorization: auth})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return &types.PaymentPayload{
		T402Version: types.ProtocolVersion,
		Scheme:      types.SchemeExact,
		Network:     types.NetworkBaseSepolia,
		Payload:     inner,
	}
}

func signedUptoPayload(t *testing.T, w *Wallet, auth UptoAuthorization, asset string) *types.PaymentPayload {
	t.Helper()

	cfg := types.DefaultChainTable()[types.NetworkBaseSepolia]
	digest, err := PermitDigest(auth, Domain{
		Name:              cfg.EIP712Name,
		Version:           cfg.EIP712Version,
		ChainID:           big.NewInt(cfg.ChainID),
		VerifyingContract: asset,
	})
	if err != nil {
		t.Fatalf("digest: %v", err)
	}
	sig, err := w.SignDigest(digest)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	inner, err := json.Marshal(UptoPayload{Signature: sig, Authorization: auth})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return &types.PaymentPayload{
		T402Version: types.ProtocolVersion,
		Scheme:      types.SchemeUpto,
		Network:     types.NetworkBaseSepolia,
		Payload:     inner,
	}
}
