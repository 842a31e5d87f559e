package verification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/t402-io/t402-go/hooks"
	"github.com/t402-io/t402-go/registry"
	"github.com/t402-io/t402-go/types"
)

type fakeAdapter struct {
	mu       sync.Mutex
	verifies int
	res      *types.VerifyResponse
	err      error
	block    bool
}

func (f *fakeAdapter) Scheme() string                         { return types.SchemeExact }
func (f *fakeAdapter) CaipFamily() string                     { return "eip155:*" }
func (f *fakeAdapter) GetExtra(string) map[string]interface{} { return nil }
func (f *fakeAdapter) GetSigners(string) []string             { return nil }

func (f *fakeAdapter) Verify(ctx context.Context, _ *types.PaymentPayload, _ *types.PaymentRequirements) (*types.VerifyResponse, error) {
	f.mu.Lock()
	f.verifies++
	f.mu.Unlock()

	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	if f.res != nil {
		return f.res, nil
	}
	return &types.VerifyResponse{IsValid: true, Payer: "0xpayer"}, nil
}

func (f *fakeAdapter) Settle(context.Context, *types.PaymentPayload, *types.PaymentRequirements) (*types.SettleResponse, error) {
	return nil, fmt.Errorf("not under test")
}

type recordingMetrics struct {
	mu       sync.Mutex
	outcomes []string
}

func (r *recordingMetrics) IncCounter(_ string, labels map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, labels["outcome"])
}

func (r *recordingMetrics) ObserveLatency(string, time.Duration, map[string]string) {}

func fixture() (*types.PaymentPayload, *types.PaymentRequirements) {
	payload := &types.PaymentPayload{
		T402Version: types.ProtocolVersion,
		Scheme:      types.SchemeExact,
		Network:     "eip155:84532",
		Payload:     json.RawMessage(`{"signature":"0x00"}`),
	}
	req := &types.PaymentRequirements{
		Scheme:            types.SchemeExact,
		Network:           "eip155:84532",
		Asset:             "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		Amount:            "10000",
		PayTo:             "0x7E5F4552091A69125d5DfCb7b8C2659029395Bdf",
		MaxTimeoutSeconds: 600,
	}
	return payload, req
}

func newService(t *testing.T, adapter *fakeAdapter, opts ...Option) *Service {
	t.Helper()
	reg := registry.New()
	if err := reg.Register(types.ProtocolVersion, "eip155:*", adapter); err != nil {
		t.Fatalf("Register: %v", err)
	}
	return New(reg, opts...)
}

func TestVerifyDispatchesToAdapter(t *testing.T) {
	adapter := &fakeAdapter{}
	svc := newService(t, adapter)
	payload, req := fixture()

	res, err := svc.Verify(context.Background(), payload, req)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !res.IsValid || res.Payer != "0xpayer" {
		t.Fatalf("got %+v", res)
	}
	if adapter.verifies != 1 {
		t.Errorf("verifies = %d, want 1", adapter.verifies)
	}
}

func TestVerifyUnregisteredScheme(t *testing.T) {
	svc := New(registry.New())
	payload, req := fixture()

	res, err := svc.Verify(context.Background(), payload, req)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if res.IsValid || res.InvalidReason != types.ReasonUnsupportedScheme {
		t.Fatalf("got %+v, want unsupported_scheme", res)
	}
}

func TestVerifyInvalidEnvelope(t *testing.T) {
	adapter := &fakeAdapter{}
	svc := newService(t, adapter)
	payload, req := fixture()
	payload.Payload = nil

	res, err := svc.Verify(context.Background(), payload, req)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if res.IsValid || res.InvalidReason != types.ReasonInvalidPayloadStructure {
		t.Fatalf("got %+v, want invalid_payload_structure", res)
	}
	if adapter.verifies != 0 {
		t.Error("malformed envelope must not reach the adapter")
	}
}

func TestVerifyNilInputs(t *testing.T) {
	svc := newService(t, &fakeAdapter{})
	if _, err := svc.Verify(context.Background(), nil, nil); err == nil {
		t.Fatal("nil inputs must error")
	}
}

func TestVerifyHookAbort(t *testing.T) {
	adapter := &fakeAdapter{}
	bus := hooks.New(nil)
	bus.OnBeforeVerify(func(context.Context, *hooks.Context) error {
		return fmt.Errorf("payment already seen")
	})
	svc := newService(t, adapter, WithHooks(bus))
	payload, req := fixture()

	_, err := svc.Verify(context.Background(), payload, req)
	var perr *types.PaymentError
	if !errors.As(err, &perr) || perr.Kind != types.KindAbortedByHook {
		t.Fatalf("got %v, want hook abort", err)
	}
	if adapter.verifies != 0 {
		t.Error("aborted verification must not reach the adapter")
	}
}

func TestVerifyHooksSeeResult(t *testing.T) {
	var afterResult *types.VerifyResponse
	var failureReason string

	bus := hooks.New(nil)
	bus.OnAfterVerify(func(_ context.Context, hc *hooks.Context) error {
		afterResult = hc.VerifyResult
		return nil
	})
	bus.OnVerifyFailure(func(_ context.Context, hc *hooks.Context) error {
		failureReason = hc.VerifyResult.InvalidReason
		return nil
	})

	adapter := &fakeAdapter{}
	svc := newService(t, adapter, WithHooks(bus))
	payload, req := fixture()

	if _, err := svc.Verify(context.Background(), payload, req); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if afterResult == nil || !afterResult.IsValid {
		t.Errorf("after-verify hook saw %+v", afterResult)
	}

	adapter.res = &types.VerifyResponse{IsValid: false, InvalidReason: types.ReasonInsufficientAmount}
	if _, err := svc.Verify(context.Background(), payload, req); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if failureReason != types.ReasonInsufficientAmount {
		t.Errorf("failure hook saw reason %q", failureReason)
	}
}

func TestVerifyTimeout(t *testing.T) {
	adapter := &fakeAdapter{block: true}
	svc := newService(t, adapter, WithTimeout(20*time.Millisecond))
	payload, req := fixture()

	if _, err := svc.Verify(context.Background(), payload, req); err == nil {
		t.Fatal("blocked adapter must surface the deadline error")
	}
}

func TestVerifyRecordsOutcome(t *testing.T) {
	rec := &recordingMetrics{}
	adapter := &fakeAdapter{
		res: &types.VerifyResponse{IsValid: false, InvalidReason: types.ReasonRecipientMismatch},
	}
	svc := newService(t, adapter, WithMetrics(rec))
	payload, req := fixture()

	if _, err := svc.Verify(context.Background(), payload, req); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if len(rec.outcomes) == 0 || rec.outcomes[0] != "invalid" {
		t.Errorf("outcomes = %v, want [invalid]", rec.outcomes)
	}
}

func TestBatchVerifyPreservesOrder(t *testing.T) {
	adapter := &fakeAdapter{}
	svc := newService(t, adapter)

	payloads := make([]*types.PaymentPayload, 5)
	reqs := make([]*types.PaymentRequirements, 5)
	for i := range payloads {
		payloads[i], reqs[i] = fixture()
	}
	// One bad envelope in the middle; its slot must carry the failure.
	payloads[2].Payload = nil

	results, err := svc.BatchVerify(context.Background(), payloads, reqs)
	if err != nil {
		t.Fatalf("BatchVerify: %v", err)
	}
	if len(results) != 5 {
		t.Fatalf("len = %d", len(results))
	}
	for i, res := range results {
		if i == 2 {
			if res.IsValid || res.InvalidReason != types.ReasonInvalidPayloadStructure {
				t.Errorf("slot 2: got %+v", res)
			}
			continue
		}
		if !res.IsValid {
			t.Errorf("slot %d invalid: %q", i, res.InvalidReason)
		}
	}
}

func TestBatchVerifyLengthMismatch(t *testing.T) {
	svc := newService(t, &fakeAdapter{})
	payload, req := fixture()

	if _, err := svc.BatchVerify(context.Background(), []*types.PaymentPayload{payload, payload}, []*types.PaymentRequirements{req}); err == nil {
		t.Fatal("length mismatch must error")
	}
}
