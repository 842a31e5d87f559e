// Package verification runs the facilitator's verify operation: it resolves
// the scheme adapter for a payload, runs the lifecycle hooks around it and
// records instrumentation. Semantic invalidity comes back as a
// VerifyResponse with a fixed reason code; errors are reserved for malformed
// engine usage, hook aborts and infrastructure failures.
package verification

import (
	"context"
	"time"

	"github.com/t402-io/t402-go/events"
	"github.com/t402-io/t402-go/hooks"
	"github.com/t402-io/t402-go/logger"
	"github.com/t402-io/t402-go/metrics"
	"github.com/t402-io/t402-go/registry"
	"github.com/t402-io/t402-go/types"
)

// DefaultTimeout bounds one verification including its chain reads.
const DefaultTimeout = 5 * time.Second

// Service verifies payment payloads against requirements by dispatching to
// the registered scheme adapters.
type Service struct {
	registry *registry.Registry
	hooks    *hooks.Bus
	log      logger.Logger
	metrics  metrics.Recorder
	events   events.Publisher
	timeout  time.Duration
}

// Option customizes the verification service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(log logger.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithHooks attaches a lifecycle hook bus.
func WithHooks(bus *hooks.Bus) Option {
	return func(s *Service) {
		if bus != nil {
			s.hooks = bus
		}
	}
}

// WithMetrics sets the instrumentation recorder.
func WithMetrics(rec metrics.Recorder) Option {
	return func(s *Service) {
		if rec != nil {
			s.metrics = rec
		}
	}
}

// WithEvents sets the payment event publisher.
func WithEvents(pub events.Publisher) Option {
	return func(s *Service) {
		if pub != nil {
			s.events = pub
		}
	}
}

// WithTimeout bounds one verification.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// New builds a verification service over a populated registry.
func New(reg *registry.Registry, opts ...Option) *Service {
	s := &Service{
		registry: reg,
		hooks:    hooks.New(nil),
		log:      logger.NoopLogger{},
		metrics:  metrics.NoopRecorder{},
		events:   events.NoopPublisher{},
		timeout:  DefaultTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Verify checks one payload against one requirements object. The returned
// response reports semantic invalidity via InvalidReason; a non-nil error
// means the operation could not run (bad engine input or a hook abort).
func (s *Service) Verify(ctx context.Context, payload *types.PaymentPayload, req *types.PaymentRequirements) (*types.VerifyResponse, error) {
	if payload == nil || req == nil {
		return nil, types.NewInvalidInputError("payload and requirements are required", nil)
	}

	started := time.Now()
	network := types.NormalizeNetwork(payload.Network)

	if err := payload.Validate(); err != nil {
		res := &types.VerifyResponse{IsValid: false, InvalidReason: types.ReasonInvalidPayloadStructure}
		s.finish(ctx, hooks.NewContext(payload, req), res, started)
		return res, nil
	}
	if err := req.Validate(); err != nil {
		return nil, types.NewInvalidInputError("invalid payment requirements", err)
	}

	hc := hooks.NewContext(payload, req)
	if err := s.hooks.RunBeforeVerify(ctx, hc); err != nil {
		s.record("verify", network, payload.Scheme, "aborted", started)
		s.emit(events.EventFailure, payload, req, nil, err.Error(), time.Since(started))
		return nil, err
	}

	adapter, ok := s.registry.Resolve(payload.T402Version, network, payload.Scheme)
	if !ok {
		res := &types.VerifyResponse{IsValid: false, InvalidReason: types.ReasonUnsupportedScheme}
		s.finish(ctx, hc, res, started)
		return res, nil
	}

	verifyCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := adapter.Verify(verifyCtx, payload, req)
	if err != nil {
		hc.Err = err
		s.hooks.RunVerifyFailure(ctx, hc)
		s.record("verify", network, payload.Scheme, "error", started)
		s.emit(events.EventFailure, payload, req, nil, err.Error(), time.Since(started))
		s.log.Error("verification errored", map[string]any{
			"network": network,
			"scheme":  payload.Scheme,
			"error":   err.Error(),
		})
		return nil, err
	}

	s.finish(ctx, hc, res, started)
	return res, nil
}

// finish runs the post hooks and instrumentation for a completed check.
func (s *Service) finish(ctx context.Context, hc *hooks.Context, res *types.VerifyResponse, started time.Time) {
	hc.VerifyResult = res
	network := types.NormalizeNetwork(hc.Payload.Network)
	elapsed := time.Since(started)

	if res.IsValid {
		s.hooks.RunAfterVerify(ctx, hc)
		s.record("verify", network, hc.Payload.Scheme, "valid", started)
		s.emit(events.EventSuccess, hc.Payload, hc.Requirements, res, "", elapsed)
		s.log.Info("payment verified", map[string]any{
			"network": network,
			"scheme":  hc.Payload.Scheme,
			"payer":   res.Payer,
		})
		return
	}

	s.hooks.RunVerifyFailure(ctx, hc)
	s.record("verify", network, hc.Payload.Scheme, "invalid", started)
	s.emit(events.EventFailure, hc.Payload, hc.Requirements, res, res.InvalidReason, elapsed)
	s.log.Info("payment rejected", map[string]any{
		"network": network,
		"scheme":  hc.Payload.Scheme,
		"reason":  res.InvalidReason,
	})
}

func (s *Service) record(operation, network, scheme, outcome string, started time.Time) {
	labels := map[string]string{
		"network": network,
		"scheme":  scheme,
		"outcome": outcome,
	}
	s.metrics.IncCounter(operation, labels)
	s.metrics.ObserveLatency(operation, time.Since(started), labels)
}

func (s *Service) emit(kind events.EventType, payload *types.PaymentPayload, req *types.PaymentRequirements, res *types.VerifyResponse, reason string, elapsed time.Duration) {
	event := events.PaymentEvent{
		Type:      kind,
		Operation: "verify",
		Timestamp: time.Now().UTC(),
		Network:   types.NormalizeNetwork(payload.Network),
		Scheme:    payload.Scheme,
		Asset:     req.Asset,
		Amount:    req.Amount,
		Reason:    reason,

		DurationMS: elapsed.Milliseconds(),
	}
	if res != nil {
		event.Payer = res.Payer
	}
	s.events.Emit(event)
}

// BatchVerify verifies payloads concurrently, preserving input order in the
// output. The first engine error aborts the batch; semantic invalidity does
// not.
func (s *Service) BatchVerify(ctx context.Context, payloads []*types.PaymentPayload, reqs []*types.PaymentRequirements) ([]*types.VerifyResponse, error) {
	if len(payloads) != len(reqs) {
		return nil, types.NewInvalidInputError("number of payloads must match number of requirements", nil)
	}

	results := make([]*types.VerifyResponse, len(payloads))
	errs := make([]error, len(payloads))

	type indexed struct {
		index  int
		result *types.VerifyResponse
		err    error
	}
	resultChan := make(chan indexed, len(payloads))

	for i, payload := range payloads {
		go func(index int, p *types.PaymentPayload, r *types.PaymentRequirements) {
			result, err := s.Verify(ctx, p, r)
			resultChan <- indexed{index: index, result: result, err: err}
		}(i, payload, reqs[i])
	}

	for range payloads {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case res := <-resultChan:
			results[res.index] = res.result
			errs[res.index] = res.err
		}
	}

	for _, err := range errs {
		if err != nil {
			return results, err
		}
	}
	return results, nil
}
