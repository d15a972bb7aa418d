package kafka

import (
	"encoding/json"
	"fmt"

	"github.com/ariefcatur/go-bookstore-checkout/internal/checkout"
	"github.com/segmentio/kafka-go"
)

func DecodeEnvelope(b []byte) (checkout.Envelope, error) {
	var env checkout.Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return env, fmt.Errorf("decode envelope: %w", err)
	}
	return env, nil
}

func UnwrapPayload[T any](payload json.RawMessage) (T, error) {
	var t T
	if err := json.Unmarshal(payload, &t); err != nil {
		return t, fmt.Errorf("decode payload: %w", err)
	}
	return t, nil
}

// EventType reads the x-event-type header, or "" when absent.
func EventType(headers []kafka.Header) string {
	for _, h := range headers {
		if h.Key == "x-event-type" {
			return string(h.Value)
		}
	}
	return ""
}
