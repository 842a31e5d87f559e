package events

import (
	"encoding/json"
	"testing"
	"time"
)

func TestPaymentEventWireFormat(t *testing.T) {
	elapsed := 125*time.Millisecond + 400*time.Microsecond
	event := PaymentEvent{
		Type:       EventSuccess,
		Operation:  "settle",
		Timestamp:  time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC),
		Network:    "eip155:8453",
		Scheme:     "exact",
		DurationMS: elapsed.Milliseconds(),
	}

	b, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var wire map[string]interface{}
	if err := json.Unmarshal(b, &wire); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got, ok := wire["durationMs"].(float64); !ok || got != 125 {
		t.Errorf("durationMs = %v, want 125", wire["durationMs"])
	}
	if _, ok := wire["duration"]; ok {
		t.Error("raw duration field must not be emitted")
	}
	if _, ok := wire["payer"]; ok {
		t.Error("empty optional fields must be omitted")
	}
}
