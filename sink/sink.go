// Package sink holds buffer.Sink implementations that ship flushed batches
// to a backend: an HTTP collector, a WebSocket collector, a JSON lines
// writer and a fan-out over several of them.
package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/Pharos-AI/utils/buffer"
	"github.com/Pharos-AI/utils/entry"
)

const defaultTimeout = 10 * time.Second

// Ack is the collector's reply to one batch.
type Ack struct {
	Accepted int    `json:"accepted"`
	Error    string `json:"error,omitempty"`
}

// Multi sends every batch to each sink in order and stops at the first
// failure.
type Multi []buffer.Sink

func (m Multi) Send(ctx context.Context, records []entry.Record) error {
	for i, s := range m {
		if err := s.Send(ctx, records); err != nil {
			return fmt.Errorf("sink %d: %w", i, err)
		}
	}
	return nil
}

// sendTimeout is the smaller of the configured timeout and what is left of
// ctx's deadline.
func sendTimeout(ctx context.Context, configured time.Duration) time.Duration {
	timeout := configured
	if dl, ok := ctx.Deadline(); ok {
		if left := time.Until(dl); left < timeout {
			timeout = left
		}
	}
	return timeout
}
