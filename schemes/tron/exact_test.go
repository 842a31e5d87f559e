package tron

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/t402-io/t402-go/types"
)

type fakeNode struct {
	balance      *big.Int
	balanceErr   error
	activated    bool
	activatedErr error
	checkOK      bool
	checkReason  string
	broadcastErr error
	confirmed    bool
	broadcasts   int
}

func (f *fakeNode) Balance(context.Context, string, string) (*big.Int, error) {
	if f.balanceErr != nil {
		return nil, f.balanceErr
	}
	if f.balance == nil {
		return big.NewInt(1_000_000), nil
	}
	return f.balance, nil
}

func (f *fakeNode) IsActivated(context.Context, string) (bool, error) {
	return f.activated, f.activatedErr
}

func (f *fakeNode) CheckTransaction(context.Context, *ExactPayload) (bool, string, error) {
	return f.checkOK, f.checkReason, nil
}

func (f *fakeNode) Broadcast(context.Context, string) (string, error) {
	if f.broadcastErr != nil {
		return "", f.broadcastErr
	}
	f.broadcasts++
	return "0d5c3a9e01a8c0ff9b2b6a08d9e5f2f1e1d2c3b4a5968778695a4b3c2d1e0f00", nil
}

func (f *fakeNode) Confirmed(context.Context, string) (bool, error) {
	return f.confirmed, nil
}

func healthyNode() *fakeNode {
	return &fakeNode{activated: true, checkOK: true, confirmed: true}
}

func testAddr(t *testing.T, b byte) string {
	t.Helper()
	hexAddr := "41"
	for i := 0; i < 20; i++ {
		hexAddr += fmt.Sprintf("%02x", b)
	}
	addr, err := HexToAddress(hexAddr)
	if err != nil {
		t.Fatalf("HexToAddress: %v", err)
	}
	return addr
}

func tronFixture(t *testing.T) (*types.PaymentPayload, *types.PaymentRequirements) {
	t.Helper()

	payer := testAddr(t, 0x11)
	payTo := testAddr(t, 0x22)
	contract := testAddr(t, 0x33)

	auth := ExactAuthorization{
		From:            payer,
		To:              payTo,
		ContractAddress: contract,
		Amount:          "10000",
		Expiration:      time.Now().UnixMilli() + 600_000,
	}
	inner, err := json.Marshal(ExactPayload{SignedTransaction: `{"txID":"ab"}`, Authorization: auth})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	payload := &types.PaymentPayload{
		T402Version: types.ProtocolVersion,
		Scheme:      types.SchemeExact,
		Network:     types.NetworkTron,
		Payload:     inner,
	}
	req := &types.PaymentRequirements{
		Scheme:            types.SchemeExact,
		Network:           types.NetworkTron,
		Asset:             contract,
		Amount:            "10000",
		PayTo:             payTo,
		MaxTimeoutSeconds: 600,
	}
	return payload, req
}

func TestTronVerifyValid(t *testing.T) {
	payload, req := tronFixture(t)
	scheme := NewExactScheme(healthyNode())

	res, err := scheme.Verify(context.Background(), payload, req)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !res.IsValid {
		t.Fatalf("expected valid, got %q", res.InvalidReason)
	}
	if res.Payer == "" {
		t.Error("payer missing")
	}
}

func TestTronVerifyFailureCodes(t *testing.T) {
	tests := []struct {
		name   string
		node   *fakeNode
		mutate func(*types.PaymentPayload, *types.PaymentRequirements)
		want   string
	}{
		{
			name: "network mismatch",
			node: healthyNode(),
			mutate: func(p *types.PaymentPayload, _ *types.PaymentRequirements) {
				p.Network = types.NetworkTronNile
			},
			want: types.ReasonNetworkMismatch,
		},
		{
			name: "embedded transaction mismatch",
			node: &fakeNode{activated: true, checkOK: false, checkReason: "sender differs"},
			want: types.ReasonSignatureInvalid,
		},
		{
			name: "insufficient balance",
			node: &fakeNode{activated: true, checkOK: true, balance: big.NewInt(5)},
			want: types.ReasonInsufficientBalance,
		},
		{
			name: "account not activated",
			node: &fakeNode{activated: false, checkOK: true},
			want: types.ReasonAccountNotActivated,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			payload, req := tronFixture(t)
			if tc.mutate != nil {
				tc.mutate(payload, req)
			}
			scheme := NewExactScheme(tc.node)

			res, err := scheme.Verify(context.Background(), payload, req)
			if err != nil {
				t.Fatalf("Verify: %v", err)
			}
			if res.IsValid || res.InvalidReason != tc.want {
				t.Fatalf("got %+v, want %q", res, tc.want)
			}
		})
	}
}

func TestTronVerifyExpiryBuffer(t *testing.T) {
	nowMs := time.Now().UnixMilli()

	run := func(t *testing.T, expiration int64) *types.VerifyResponse {
		payload, req := tronFixture(t)
		var inner ExactPayload
		if err := json.Unmarshal(payload.Payload, &inner); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		inner.Authorization.Expiration = expiration
		b, _ := json.Marshal(inner)
		payload.Payload = b

		res, err := NewExactScheme(healthyNode()).Verify(context.Background(), payload, req)
		if err != nil {
			t.Fatalf("Verify: %v", err)
		}
		return res
	}

	if res := run(t, nowMs+MinValidityBuffer*1000-1000); res.IsValid {
		t.Error("expiration inside the buffer must be rejected")
	} else if res.InvalidReason != types.ReasonAuthorizationExpired {
		t.Errorf("reason = %q", res.InvalidReason)
	}
	if res := run(t, nowMs+MinValidityBuffer*1000+60_000); !res.IsValid {
		t.Errorf("expiration beyond the buffer rejected: %q", res.InvalidReason)
	}
}

func TestTronVerifyBalanceFailureIsSoft(t *testing.T) {
	payload, req := tronFixture(t)
	node := healthyNode()
	node.balanceErr = fmt.Errorf("rpc down")
	scheme := NewExactScheme(node)

	res, err := scheme.Verify(context.Background(), payload, req)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !res.IsValid {
		t.Fatalf("balance rpc failure must not fail verification, got %q", res.InvalidReason)
	}
}

func TestTronSettleSuccess(t *testing.T) {
	payload, req := tronFixture(t)
	node := healthyNode()
	scheme := NewExactScheme(node)

	res, err := scheme.Settle(context.Background(), payload, req)
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if !res.Success {
		t.Fatalf("settle failed: %q", res.ErrorReason)
	}
	if res.Transaction == "" {
		t.Error("transaction id missing")
	}
	if node.broadcasts != 1 {
		t.Errorf("broadcasts = %d, want 1", node.broadcasts)
	}
}

func TestTronSettleInvalidSkipsBroadcast(t *testing.T) {
	payload, req := tronFixture(t)
	req.Amount = "999999999"
	node := healthyNode()
	scheme := NewExactScheme(node)

	res, err := scheme.Settle(context.Background(), payload, req)
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if res.Success || res.ErrorReason != types.ReasonInsufficientAmount {
		t.Fatalf("got %+v, want insufficient_amount", res)
	}
	if node.broadcasts != 0 {
		t.Fatal("invalid payload must never reach broadcast")
	}
}

func TestTronSettleConfirmationTimeout(t *testing.T) {
	payload, req := tronFixture(t)
	node := healthyNode()
	node.confirmed = false
	scheme := NewExactScheme(node, WithConfirmTimeout(50*time.Millisecond))
	scheme.pollInterval = 10 * time.Millisecond

	res, err := scheme.Settle(context.Background(), payload, req)
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if res.Success || res.ErrorReason != types.ReasonTxNotConfirmed {
		t.Fatalf("got %+v, want transaction_not_confirmed", res)
	}
	if node.broadcasts != 1 {
		t.Errorf("broadcasts = %d, timeout must never trigger a retry", node.broadcasts)
	}
}

func TestTronPayloadRoundTrip(t *testing.T) {
	p := &ExactPayload{
		SignedTransaction: `{"txID":"ab"}`,
		Authorization: ExactAuthorization{
			From:            testAddr(t, 0x11),
			To:              testAddr(t, 0x22),
			ContractAddress: testAddr(t, 0x33),
			Amount:          "42",
			Expiration:      1700000000000,
			RefBlockBytes:   "abcd",
			RefBlockHash:    "0011223344556677",
			Timestamp:       1699999000000,
		},
	}

	back, err := PayloadFromMap(p.ToMap())
	if err != nil {
		t.Fatalf("PayloadFromMap: %v", err)
	}
	if *back != *p {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", back, p)
	}

	if _, err := PayloadFromMap(map[string]interface{}{"authorization": map[string]interface{}{}}); err == nil {
		t.Error("missing signedTransaction must be rejected")
	}
}
