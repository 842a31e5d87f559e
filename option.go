package t402

import (
	"time"

	"github.com/t402-io/t402-go/events"
	"github.com/t402-io/t402-go/logger"
	"github.com/t402-io/t402-go/metrics"
	"github.com/t402-io/t402-go/settlement"
)

// settings collects the constructor options before the services are built.
type settings struct {
	log           logger.Logger
	metrics       metrics.Recorder
	events        events.Publisher
	locker        settlement.Locker
	verifyTimeout time.Duration
	settleTimeout time.Duration
	extensions    []string
}

// Option configures the engine at construction time.
type Option func(*settings)

// WithLogger sets the logger shared by the services and the hook bus.
func WithLogger(l logger.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMetrics sets the instrumentation recorder.
func WithMetrics(r metrics.Recorder) Option {
	return func(s *settings) {
		if r != nil {
			s.metrics = r
		}
	}
}

// WithEvents sets the payment lifecycle event publisher. The engine owns it
// and closes it in Close.
func WithEvents(p events.Publisher) Option {
	return func(s *settings) {
		if p != nil {
			s.events = p
		}
	}
}

// WithLocker replaces the in-process settlement lock, typically with the
// Redis locker when several facilitator processes run side by side.
func WithLocker(l settlement.Locker) Option {
	return func(s *settings) { s.locker = l }
}

// WithVerifyTimeout bounds one verification including its chain reads.
func WithVerifyTimeout(d time.Duration) Option {
	return func(s *settings) { s.verifyTimeout = d }
}

// WithSettleTimeout bounds one settlement including the confirmation wait.
func WithSettleTimeout(d time.Duration) Option {
	return func(s *settings) { s.settleTimeout = d }
}

// WithExtensions advertises protocol extensions in /supported.
func WithExtensions(exts ...string) Option {
	return func(s *settings) { s.extensions = append(s.extensions, exts...) }
}
