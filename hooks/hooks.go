// Package hooks implements the lifecycle hook bus around verify and settle.
// Hooks run in registration order and receive a mutable context, so a
// pre-settle hook can abort settlement before any chain interaction
// ("payment was never verified", "verification is stale"). Hook failures in
// pre hooks surface as typed abort errors; failures in post hooks are logged
// and never corrupt the response already produced for the caller.
package hooks

import (
	"context"
	"fmt"

	"github.com/t402-io/t402-go/logger"
	"github.com/t402-io/t402-go/types"
)

// Context is the mutable state shared by all hooks of one operation.
type Context struct {
	Payload      *types.PaymentPayload
	Requirements *types.PaymentRequirements

	// VerifyResult is set for after-verify and verify-failure hooks.
	VerifyResult *types.VerifyResponse

	// SettleResult is set for after-settle and settle-failure hooks.
	SettleResult *types.SettleResponse

	// Err carries the engine error for failure hooks, if any.
	Err error

	// Values lets hooks pass state to later hooks in the same operation.
	Values map[string]interface{}
}

// NewContext builds a hook context for one payload/requirements pair.
func NewContext(payload *types.PaymentPayload, req *types.PaymentRequirements) *Context {
	return &Context{
		Payload:      payload,
		Requirements: req,
		Values:       make(map[string]interface{}),
	}
}

// Hook observes or gates one operation. Returning a non-nil error from a
// pre hook aborts the operation.
type Hook func(ctx context.Context, hc *Context) error

// Bus holds the registered hooks for both operations.
type Bus struct {
	beforeVerify  []Hook
	afterVerify   []Hook
	verifyFailure []Hook
	beforeSettle  []Hook
	afterSettle   []Hook
	settleFailure []Hook

	log logger.Logger
}

// New creates a hook bus. A nil logger falls back to the noop logger.
func New(log logger.Logger) *Bus {
	if log == nil {
		log = logger.NoopLogger{}
	}
	return &Bus{log: log}
}

func (b *Bus) OnBeforeVerify(h Hook)  { b.beforeVerify = append(b.beforeVerify, h) }
func (b *Bus) OnAfterVerify(h Hook)   { b.afterVerify = append(b.afterVerify, h) }
func (b *Bus) OnVerifyFailure(h Hook) { b.verifyFailure = append(b.verifyFailure, h) }
func (b *Bus) OnBeforeSettle(h Hook)  { b.beforeSettle = append(b.beforeSettle, h) }
func (b *Bus) OnAfterSettle(h Hook)   { b.afterSettle = append(b.afterSettle, h) }
func (b *Bus) OnSettleFailure(h Hook) { b.settleFailure = append(b.settleFailure, h) }

// RunBeforeVerify runs the pre-verify hooks; the first failure aborts.
func (b *Bus) RunBeforeVerify(ctx context.Context, hc *Context) error {
	return b.runGating(ctx, hc, b.beforeVerify, "before_verify")
}

// RunBeforeSettle runs the pre-settle hooks; the first failure aborts
// settlement before any chain call.
func (b *Bus) RunBeforeSettle(ctx context.Context, hc *Context) error {
	return b.runGating(ctx, hc, b.beforeSettle, "before_settle")
}

// RunAfterVerify runs the post-verify hooks. Failures are logged only.
func (b *Bus) RunAfterVerify(ctx context.Context, hc *Context) {
	b.runObserving(ctx, hc, b.afterVerify, "after_verify")
}

// RunVerifyFailure runs the verify-failure hooks. Failures are logged only.
func (b *Bus) RunVerifyFailure(ctx context.Context, hc *Context) {
	b.runObserving(ctx, hc, b.verifyFailure, "verify_failure")
}

// RunAfterSettle runs the post-settle hooks. Failures are logged only.
func (b *Bus) RunAfterSettle(ctx context.Context, hc *Context) {
	b.runObserving(ctx, hc, b.afterSettle, "after_settle")
}

// RunSettleFailure runs the settle-failure hooks. Failures are logged only.
func (b *Bus) RunSettleFailure(ctx context.Context, hc *Context) {
	b.runObserving(ctx, hc, b.settleFailure, "settle_failure")
}

func (b *Bus) runGating(ctx context.Context, hc *Context, hooks []Hook, stage string) (err error) {
	for i, h := range hooks {
		if hookErr := b.call(ctx, hc, h, stage, i); hookErr != nil {
			return types.NewHookAbortError(fmt.Sprintf("%s hook %d aborted the operation", stage, i), hookErr)
		}
	}
	return nil
}

func (b *Bus) runObserving(ctx context.Context, hc *Context, hooks []Hook, stage string) {
	for i, h := range hooks {
		if err := b.call(ctx, hc, h, stage, i); err != nil {
			b.log.Warn("lifecycle hook failed", map[string]any{
				"stage": stage,
				"index": i,
				"error": err.Error(),
			})
		}
	}
}

// call invokes one hook, converting a panic into an error so a broken hook
// cannot take down the request.
func (b *Bus) call(ctx context.Context, hc *Context, h Hook, stage string, index int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s hook %d panicked: %v", stage, index, r)
		}
	}()
	return h(ctx, hc)
}
