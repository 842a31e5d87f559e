package hooks

import (
	"context"
	"errors"
	"testing"

	"github.com/t402-io/t402-go/types"
)

func TestBus_RunsInRegistrationOrder(t *testing.T) {
	b := New(nil)
	var order []int
	for i := 0; i < 3; i++ {
		i := i
		b.OnBeforeVerify(func(ctx context.Context, hc *Context) error {
			order = append(order, i)
			return nil
		})
	}

	hc := NewContext(&types.PaymentPayload{}, &types.PaymentRequirements{})
	if err := b.RunBeforeVerify(context.Background(), hc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(order) != 3 || order[0] != 0 || order[1] != 1 || order[2] != 2 {
		t.Errorf("hooks ran out of order: %v", order)
	}
}

func TestBus_PreHookAborts(t *testing.T) {
	b := New(nil)
	cause := errors.New("verification is stale")
	b.OnBeforeSettle(func(ctx context.Context, hc *Context) error {
		return cause
	})
	ran := false
	b.OnBeforeSettle(func(ctx context.Context, hc *Context) error {
		ran = true
		return nil
	})

	hc := NewContext(&types.PaymentPayload{}, &types.PaymentRequirements{})
	err := b.RunBeforeSettle(context.Background(), hc)
	if err == nil {
		t.Fatal("expected abort error")
	}

	var perr *types.PaymentError
	if !errors.As(err, &perr) || perr.Kind != types.KindAbortedByHook {
		t.Errorf("expected AbortedByHook, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Error("abort error should wrap the hook error")
	}
	if ran {
		t.Error("hooks after the aborting hook must not run")
	}
}

func TestBus_PanicBecomesAbort(t *testing.T) {
	b := New(nil)
	b.OnBeforeSettle(func(ctx context.Context, hc *Context) error {
		panic("boom")
	})

	hc := NewContext(&types.PaymentPayload{}, &types.PaymentRequirements{})
	err := b.RunBeforeSettle(context.Background(), hc)

	var perr *types.PaymentError
	if !errors.As(err, &perr) || perr.Kind != types.KindAbortedByHook {
		t.Errorf("panic should surface as AbortedByHook, got %v", err)
	}
}

func TestBus_PostHookFailuresAreSwallowed(t *testing.T) {
	b := New(nil)
	b.OnAfterSettle(func(ctx context.Context, hc *Context) error {
		return errors.New("metrics sink down")
	})
	reached := false
	b.OnAfterSettle(func(ctx context.Context, hc *Context) error {
		reached = true
		return nil
	})

	hc := NewContext(&types.PaymentPayload{}, &types.PaymentRequirements{})
	hc.SettleResult = &types.SettleResponse{Success: true}
	b.RunAfterSettle(context.Background(), hc)

	if !reached {
		t.Error("a failing post hook must not stop later hooks")
	}
	if !hc.SettleResult.Success {
		t.Error("post hooks must not corrupt the settle result")
	}
}

func TestBus_ContextValuesFlowBetweenHooks(t *testing.T) {
	b := New(nil)
	b.OnBeforeVerify(func(ctx context.Context, hc *Context) error {
		hc.Values["verified_at"] = int64(1700000000)
		return nil
	})
	var got interface{}
	b.OnBeforeVerify(func(ctx context.Context, hc *Context) error {
		got = hc.Values["verified_at"]
		return nil
	})

	hc := NewContext(&types.PaymentPayload{}, &types.PaymentRequirements{})
	if err := b.RunBeforeVerify(context.Background(), hc); err != nil {
		t.Fatal(err)
	}
	if got != int64(1700000000) {
		t.Errorf("values did not flow between hooks: %v", got)
	}
}
