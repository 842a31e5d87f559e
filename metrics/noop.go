package metrics

import "time"

// NoopRecorder discards all instrumentation. It is the default recorder.
type NoopRecorder struct{}

func (NoopRecorder) IncCounter(string, map[string]string)                    {}
func (NoopRecorder) ObserveLatency(string, time.Duration, map[string]string) {}
