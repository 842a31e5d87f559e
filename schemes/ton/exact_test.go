package ton

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/t402-io/t402-go/types"
)

type fakeNode struct {
	balance    *big.Int
	balanceErr error
	deployed   bool
	seqno      int64
	seqnoAfter int64
	checkOK    bool
	sendErr    error
	sends      int
}

func (f *fakeNode) JettonBalance(context.Context, string, string) (*big.Int, error) {
	if f.balanceErr != nil {
		return nil, f.balanceErr
	}
	if f.balance == nil {
		return big.NewInt(1_000_000), nil
	}
	return f.balance, nil
}

func (f *fakeNode) IsDeployed(context.Context, string) (bool, error) {
	return f.deployed, nil
}

func (f *fakeNode) Seqno(context.Context, string) (int64, error) {
	if f.sends > 0 {
		return f.seqnoAfter, nil
	}
	return f.seqno, nil
}

func (f *fakeNode) CheckMessage(context.Context, *ExactPayload) (bool, string, error) {
	return f.checkOK, "", nil
}

func (f *fakeNode) SendMessage(context.Context, string) (string, error) {
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.sends++
	return "te6msghash00000000000000000000000000000044=", nil
}

func healthyNode() *fakeNode {
	return &fakeNode{deployed: true, checkOK: true, seqno: 7, seqnoAfter: 8}
}

func tonAddr(b byte) string {
	return strings.Repeat(string([]byte{'A' + b%26}), 48)
}

func tonFixture(t *testing.T) (*types.PaymentPayload, *types.PaymentRequirements) {
	t.Helper()

	payer := tonAddr(0)
	payTo := tonAddr(1)
	master := tonAddr(2)

	auth := ExactAuthorization{
		From:         payer,
		To:           payTo,
		JettonMaster: master,
		JettonAmount: "10000",
		TonAmount:    "50000000",
		ValidUntil:   time.Now().Unix() + 600,
		Seqno:        7,
		QueryID:      "12345",
	}
	boc := base64.StdEncoding.EncodeToString(append([]byte{0xb5, 0xee, 0x9c, 0x72}, make([]byte, 60)...))
	inner, err := json.Marshal(ExactPayload{SignedBoc: boc, Authorization: auth})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	payload := &types.PaymentPayload{
		T402Version: types.ProtocolVersion,
		Scheme:      types.SchemeExact,
		Network:     types.NetworkTon,
		Payload:     inner,
	}
	req := &types.PaymentRequirements{
		Scheme:            types.SchemeExact,
		Network:           types.NetworkTon,
		Asset:             master,
		Amount:            "10000",
		PayTo:             payTo,
		MaxTimeoutSeconds: 600,
	}
	return payload, req
}

func TestTonVerifyValid(t *testing.T) {
	payload, req := tonFixture(t)
	scheme := NewExactScheme(healthyNode())

	res, err := scheme.Verify(context.Background(), payload, req)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !res.IsValid {
		t.Fatalf("expected valid, got %q", res.InvalidReason)
	}
}

func TestTonVerifyFailureCodes(t *testing.T) {
	tests := []struct {
		name   string
		node   *fakeNode
		mutate func(*types.PaymentPayload, *types.PaymentRequirements)
		want   string
	}{
		{
			name: "scheme mismatch",
			node: healthyNode(),
			mutate: func(p *types.PaymentPayload, _ *types.PaymentRequirements) {
				p.Scheme = types.SchemeUpto
			},
			want: types.ReasonUnsupportedScheme,
		},
		{
			name: "asset mismatch",
			node: healthyNode(),
			mutate: func(_ *types.PaymentPayload, r *types.PaymentRequirements) {
				r.Asset = tonAddr(9)
			},
			want: types.ReasonAssetMismatch,
		},
		{
			name: "wallet not deployed",
			node: &fakeNode{deployed: false, checkOK: true, seqno: 7},
			want: types.ReasonAccountNotActivated,
		},
		{
			name: "stale seqno",
			node: &fakeNode{deployed: true, checkOK: true, seqno: 9},
			want: types.ReasonNonceAlreadyUsed,
		},
		{
			name: "insufficient balance",
			node: &fakeNode{deployed: true, checkOK: true, seqno: 7, balance: big.NewInt(1)},
			want: types.ReasonInsufficientBalance,
		},
		{
			name: "bad message",
			node: &fakeNode{deployed: true, checkOK: false, seqno: 7},
			want: types.ReasonSignatureInvalid,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			payload, req := tonFixture(t)
			if tc.mutate != nil {
				tc.mutate(payload, req)
			}

			res, err := NewExactScheme(tc.node).Verify(context.Background(), payload, req)
			if err != nil {
				t.Fatalf("Verify: %v", err)
			}
			if res.IsValid || res.InvalidReason != tc.want {
				t.Fatalf("got %+v, want %q", res, tc.want)
			}
		})
	}
}

func TestTonVerifyExpiryBuffer(t *testing.T) {
	now := time.Now().Unix()

	run := func(t *testing.T, validUntil int64) *types.VerifyResponse {
		payload, req := tonFixture(t)
		var inner ExactPayload
		if err := json.Unmarshal(payload.Payload, &inner); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		inner.Authorization.ValidUntil = validUntil
		b, _ := json.Marshal(inner)
		payload.Payload = b

		res, err := NewExactScheme(healthyNode()).Verify(context.Background(), payload, req)
		if err != nil {
			t.Fatalf("Verify: %v", err)
		}
		return res
	}

	if res := run(t, now+MinValidityBuffer-1); res.IsValid {
		t.Error("validUntil inside the buffer must be rejected")
	}
	if res := run(t, now+MinValidityBuffer+60); !res.IsValid {
		t.Errorf("validUntil beyond the buffer rejected: %q", res.InvalidReason)
	}
}

func TestTonSettleSuccess(t *testing.T) {
	payload, req := tonFixture(t)
	node := healthyNode()
	scheme := NewExactScheme(node)
	scheme.pollInterval = 10 * time.Millisecond

	res, err := scheme.Settle(context.Background(), payload, req)
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if !res.Success {
		t.Fatalf("settle failed: %q", res.ErrorReason)
	}
	if node.sends != 1 {
		t.Errorf("sends = %d, want 1", node.sends)
	}
	if res.SettledAmount != "10000" {
		t.Errorf("settledAmount = %q", res.SettledAmount)
	}
}

func TestTonSettleBroadcastFailure(t *testing.T) {
	payload, req := tonFixture(t)
	node := healthyNode()
	node.sendErr = fmt.Errorf("rejected")
	scheme := NewExactScheme(node)

	res, err := scheme.Settle(context.Background(), payload, req)
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if res.Success || res.ErrorReason != types.ReasonBroadcastFailed {
		t.Fatalf("got %+v, want broadcast_failed", res)
	}
}

func TestTonSettleSeqnoNeverAdvances(t *testing.T) {
	payload, req := tonFixture(t)
	node := healthyNode()
	node.seqnoAfter = 7
	scheme := NewExactScheme(node, WithConfirmTimeout(50*time.Millisecond))
	scheme.pollInterval = 10 * time.Millisecond

	res, err := scheme.Settle(context.Background(), payload, req)
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if res.Success || res.ErrorReason != types.ReasonTxNotConfirmed {
		t.Fatalf("got %+v, want transaction_not_confirmed", res)
	}
	if node.sends != 1 {
		t.Errorf("sends = %d, timeout must never trigger a retry", node.sends)
	}
}

func TestTonPayloadRoundTrip(t *testing.T) {
	p := &ExactPayload{
		SignedBoc: "dGVzdA==",
		Authorization: ExactAuthorization{
			From:         tonAddr(0),
			To:           tonAddr(1),
			JettonMaster: tonAddr(2),
			JettonAmount: "42",
			TonAmount:    "50000000",
			ValidUntil:   1700000000,
			Seqno:        3,
			QueryID:      "9",
		},
	}

	back, err := PayloadFromMap(p.ToMap())
	if err != nil {
		t.Fatalf("PayloadFromMap: %v", err)
	}
	if *back != *p {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", back, p)
	}

	if _, err := PayloadFromMap(map[string]interface{}{"signedBoc": ""}); err == nil {
		t.Error("missing signedBoc must be rejected")
	}
}
