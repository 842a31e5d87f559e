// Package settlement runs the facilitator's settle operation: re-verify via
// the scheme adapter, guard against concurrent duplicate settlement with a
// distributed lock, execute on chain exactly once. A settlement is never
// retried internally; outcome reporting is left to the caller.
package settlement

import (
	"context"
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/t402-io/t402-go/events"
	"github.com/t402-io/t402-go/hooks"
	"github.com/t402-io/t402-go/logger"
	"github.com/t402-io/t402-go/metrics"
	"github.com/t402-io/t402-go/registry"
	"github.com/t402-io/t402-go/types"
)

// DefaultTimeout bounds one settlement including the confirmation wait.
const DefaultTimeout = 60 * time.Second

// Service settles verified payment payloads by dispatching to the registered
// scheme adapters.
type Service struct {
	registry *registry.Registry
	hooks    *hooks.Bus
	log      logger.Logger
	metrics  metrics.Recorder
	events   events.Publisher
	locker   Locker
	timeout  time.Duration
}

// Option customizes the settlement service.
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

// WithLocker replaces the in-process settlement lock, typically with the
// Redis locker when multiple facilitator processes share the duty.
func WithLocker(locker Locker) Option {
	return func(s *Service) {
		if locker != nil {
			s.locker = locker
		}
	}
}

// WithTimeout bounds one settlement.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// New builds a settlement service over a populated registry.
func New(reg *registry.Registry, opts ...Option) *Service {
	s := &Service{
		registry: reg,
		hooks:    hooks.New(nil),
		log:      logger.NoopLogger{},
		metrics:  metrics.NoopRecorder{},
		events:   events.NoopPublisher{},
		locker:   NewMemoryLocker(),
		timeout:  DefaultTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Settle executes one payment. The adapter re-runs full verification before
// touching the chain; a payload already being settled by another caller comes
// back as settlement_in_progress without a broadcast.
func (s *Service) Settle(ctx context.Context, payload *types.PaymentPayload, req *types.PaymentRequirements) (*types.SettleResponse, error) {
	if payload == nil || req == nil {
		return nil, types.NewInvalidInputError("payload and requirements are required", nil)
	}

	started := time.Now()
	network := types.NormalizeNetwork(payload.Network)

	if err := payload.Validate(); err != nil {
		res := s.failure(types.ReasonInvalidPayloadStructure, network, "")
		s.finish(ctx, hooks.NewContext(payload, req), res, started)
		return res, nil
	}
	if err := req.Validate(); err != nil {
		return nil, types.NewInvalidInputError("invalid payment requirements", err)
	}

	hc := hooks.NewContext(payload, req)
	if err := s.hooks.RunBeforeSettle(ctx, hc); err != nil {
		s.record(network, payload.Scheme, "aborted", started)
		s.emit(events.EventFailure, payload, req, nil, err.Error(), time.Since(started))
		return nil, err
	}

	adapter, ok := s.registry.Resolve(payload.T402Version, network, payload.Scheme)
	if !ok {
		res := s.failure(types.ReasonUnsupportedScheme, network, "")
		s.finish(ctx, hc, res, started)
		return res, nil
	}

	// One settlement per signed payload at a time. The key covers the
	// authorization nonce, so a replay of the same signature contends on
	// the same lock while distinct payments never do.
	key := lockKey(network, payload)
	acquired, err := s.locker.Acquire(ctx, key, s.timeout)
	if err != nil {
		s.log.Warn("settlement lock unavailable", map[string]any{
			"network": network,
			"error":   err.Error(),
		})
	} else if !acquired {
		res := s.failure(types.ReasonSettlementInProgress, network, "")
		s.finish(ctx, hc, res, started)
		return res, nil
	} else {
		defer func() {
			if err := s.locker.Release(context.WithoutCancel(ctx), key); err != nil {
				s.log.Warn("settlement lock release failed", map[string]any{
					"network": network,
					"error":   err.Error(),
				})
			}
		}()
	}

	settleCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := adapter.Settle(settleCtx, payload, req)
	if err != nil {
		hc.Err = err
		s.hooks.RunSettleFailure(ctx, hc)
		s.record(network, payload.Scheme, "error", started)
		s.emit(events.EventFailure, payload, req, nil, err.Error(), time.Since(started))
		s.log.Error("settlement errored", map[string]any{
			"network": network,
			"scheme":  payload.Scheme,
			"error":   err.Error(),
		})
		return nil, err
	}

	s.finish(ctx, hc, res, started)
	return res, nil
}

// finish runs the post hooks and instrumentation for a completed settlement.
func (s *Service) finish(ctx context.Context, hc *hooks.Context, res *types.SettleResponse, started time.Time) {
	hc.SettleResult = res
	network := types.NormalizeNetwork(hc.Payload.Network)
	elapsed := time.Since(started)

	if res.Success {
		s.hooks.RunAfterSettle(ctx, hc)
		s.record(network, hc.Payload.Scheme, "settled", started)
		s.emit(events.EventSuccess, hc.Payload, hc.Requirements, res, "", elapsed)
		s.log.Info("payment settled", map[string]any{
			"network": network,
			"scheme":  hc.Payload.Scheme,
			"payer":   res.Payer,
			"tx":      res.Transaction,
		})
		return
	}

	s.hooks.RunSettleFailure(ctx, hc)
	s.record(network, hc.Payload.Scheme, "failed", started)
	s.emit(events.EventFailure, hc.Payload, hc.Requirements, res, res.ErrorReason, elapsed)
	s.log.Info("settlement failed", map[string]any{
		"network": network,
		"scheme":  hc.Payload.Scheme,
		"reason":  res.ErrorReason,
		"tx":      res.Transaction,
	})
}

func (s *Service) record(network, scheme, outcome string, started time.Time) {
	labels := map[string]string{
		"network": network,
		"scheme":  scheme,
		"outcome": outcome,
	}
	s.metrics.IncCounter("settle", labels)
	s.metrics.ObserveLatency("settle", time.Since(started), labels)
}

func (s *Service) emit(kind events.EventType, payload *types.PaymentPayload, req *types.PaymentRequirements, res *types.SettleResponse, reason string, elapsed time.Duration) {
	event := events.PaymentEvent{
		Type:      kind,
		Operation: "settle",
		Timestamp: time.Now().UTC(),
		Network:   types.NormalizeNetwork(payload.Network),
		Scheme:    payload.Scheme,
		Asset:     req.Asset,
		Reason:    reason,

		DurationMS: elapsed.Milliseconds(),
	}
	if res != nil {
		event.Payer = res.Payer
		event.Transaction = res.Transaction
		event.Amount = res.SettledAmount
	}
	s.events.Emit(event)
}

func (s *Service) failure(reason, network, payer string) *types.SettleResponse {
	return &types.SettleResponse{
		Success:     false,
		ErrorReason: reason,
		Network:     network,
		Payer:       payer,
	}
}

// lockKey derives the settlement lock key from the network and the signed
// payload bytes.
func lockKey(network string, payload *types.PaymentPayload) string {
	sum := sha256.Sum256(payload.Payload)
	return fmt.Sprintf("settle:%s:%x", network, sum)
}

// BatchSettle settles payloads concurrently, preserving input order in the
// output. The first engine error aborts the batch; on-chain failures do not.
func (s *Service) BatchSettle(ctx context.Context, payloads []*types.PaymentPayload, reqs []*types.PaymentRequirements) ([]*types.SettleResponse, error) {
	if len(payloads) != len(reqs) {
		return nil, types.NewInvalidInputError("number of payloads must match number of requirements", nil)
	}

	results := make([]*types.SettleResponse, len(payloads))
	errs := make([]error, len(payloads))

	type indexed struct {
		index  int
		result *types.SettleResponse
		err    error
	}
	resultChan := make(chan indexed, len(payloads))

	for i, payload := range payloads {
		go func(index int, p *types.PaymentPayload, r *types.PaymentRequirements) {
			result, err := s.Settle(ctx, p, r)
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
