// Package metrics defines the instrumentation contract for the engine and
// the Prometheus implementation the facilitator service uses.
package metrics

import "time"

// Recorder receives engine instrumentation. Implementations must be safe
// for concurrent use.
type Recorder interface {
	IncCounter(name string, labels map[string]string)
	ObserveLatency(name string, duration time.Duration, labels map[string]string)
}
