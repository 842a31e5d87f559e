// Package t402 is the engine behind a t402 payment facilitator: a registry
// of scheme adapters plus the verify and settle services that dispatch to
// them. Register the adapters for the chains you serve, then hand Verify and
// Settle to your HTTP surface.
package t402

import (
	"context"

	"github.com/t402-io/t402-go/events"
	"github.com/t402-io/t402-go/hooks"
	"github.com/t402-io/t402-go/logger"
	"github.com/t402-io/t402-go/metrics"
	"github.com/t402-io/t402-go/registry"
	"github.com/t402-io/t402-go/schemes"
	"github.com/t402-io/t402-go/settlement"
	"github.com/t402-io/t402-go/types"
	"github.com/t402-io/t402-go/verification"
)

// Version is the library release version.
const Version = "2.0.0"

// T402 wires the scheme registry, lifecycle hooks and the verify/settle
// services into one engine.
type T402 struct {
	registry *registry.Registry
	hooks    *hooks.Bus

	verifier *verification.Service
	settler  *settlement.Service

	cfg        settings
	extensions []string
}

// New builds an engine. Adapters are registered afterwards with
// RegisterScheme; until then every payload resolves to unsupported_scheme.
func New(opts ...Option) *T402 {
	cfg := settings{
		log:     logger.NoopLogger{},
		metrics: metrics.NoopRecorder{},
		events:  events.NoopPublisher{},
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	reg := registry.New()
	bus := hooks.New(cfg.log)

	verifyOpts := []verification.Option{
		verification.WithHooks(bus),
		verification.WithLogger(cfg.log),
		verification.WithMetrics(cfg.metrics),
		verification.WithEvents(cfg.events),
	}
	if cfg.verifyTimeout > 0 {
		verifyOpts = append(verifyOpts, verification.WithTimeout(cfg.verifyTimeout))
	}

	settleOpts := []settlement.Option{
		settlement.WithHooks(bus),
		settlement.WithLogger(cfg.log),
		settlement.WithMetrics(cfg.metrics),
		settlement.WithEvents(cfg.events),
	}
	if cfg.settleTimeout > 0 {
		settleOpts = append(settleOpts, settlement.WithTimeout(cfg.settleTimeout))
	}
	if cfg.locker != nil {
		settleOpts = append(settleOpts, settlement.WithLocker(cfg.locker))
	}

	return &T402{
		registry:   reg,
		hooks:      bus,
		verifier:   verification.New(reg, verifyOpts...),
		settler:    settlement.New(reg, settleOpts...),
		cfg:        cfg,
		extensions: cfg.extensions,
	}
}

// RegisterScheme adds a facilitator adapter for a protocol version and
// network pattern ("eip155:8453", "eip155:*", "*").
func (t *T402) RegisterScheme(version int, networkPattern string, adapter schemes.Facilitator) error {
	return t.registry.Register(version, networkPattern, adapter)
}

// Hooks exposes the lifecycle hook bus for registration.
func (t *T402) Hooks() *hooks.Bus {
	return t.hooks
}

// OnBeforeVerify registers a gating pre-verification hook.
func (t *T402) OnBeforeVerify(h hooks.Hook) { t.hooks.OnBeforeVerify(h) }

// OnAfterVerify registers an observing post-verification hook.
func (t *T402) OnAfterVerify(h hooks.Hook) { t.hooks.OnAfterVerify(h) }

// OnVerifyFailure registers an observing verification-failure hook.
func (t *T402) OnVerifyFailure(h hooks.Hook) { t.hooks.OnVerifyFailure(h) }

// OnBeforeSettle registers a gating pre-settlement hook. Returning an error
// aborts settlement before any chain interaction.
func (t *T402) OnBeforeSettle(h hooks.Hook) { t.hooks.OnBeforeSettle(h) }

// OnAfterSettle registers an observing post-settlement hook.
func (t *T402) OnAfterSettle(h hooks.Hook) { t.hooks.OnAfterSettle(h) }

// OnSettleFailure registers an observing settlement-failure hook.
func (t *T402) OnSettleFailure(h hooks.Hook) { t.hooks.OnSettleFailure(h) }

// Verify checks a payment payload against requirements.
func (t *T402) Verify(ctx context.Context, payload *types.PaymentPayload, req *types.PaymentRequirements) (*types.VerifyResponse, error) {
	return t.verifier.Verify(ctx, payload, req)
}

// Settle executes a verified payment on chain.
func (t *T402) Settle(ctx context.Context, payload *types.PaymentPayload, req *types.PaymentRequirements) (*types.SettleResponse, error) {
	return t.settler.Settle(ctx, payload, req)
}

// BatchVerify verifies payloads concurrently, preserving input order.
func (t *T402) BatchVerify(ctx context.Context, payloads []*types.PaymentPayload, reqs []*types.PaymentRequirements) ([]*types.VerifyResponse, error) {
	return t.verifier.BatchVerify(ctx, payloads, reqs)
}

// BatchSettle settles payloads concurrently, preserving input order.
func (t *T402) BatchSettle(ctx context.Context, payloads []*types.PaymentPayload, reqs []*types.PaymentRequirements) ([]*types.SettleResponse, error) {
	return t.settler.BatchSettle(ctx, payloads, reqs)
}

// Supported returns the discovery document for GET /supported: every
// registered {version, scheme, network} tuple plus the managed signer
// addresses grouped by chain family.
func (t *T402) Supported() *types.SupportedResponse {
	return &types.SupportedResponse{
		Kinds:      t.registry.SupportedKinds(),
		Extensions: t.extensions,
		Signers:    t.registry.SignersByFamily(),
	}
}

// Close releases the event publisher and any other owned resources.
func (t *T402) Close() error {
	return t.cfg.events.Close()
}
