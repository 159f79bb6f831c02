package audit

import (
	"context"

	"github.com/odyssey-erp/odyssey-admin/internal/shared"
)

// Sink persists audit records. *shared.AuditLogger writes synchronously; the
// jobs enqueuer defers the write to the worker.
type Sink interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Recorder turns committed mutation events into audit records.
type Recorder struct {
	sink Sink
}

// NewRecorder constructs a Recorder writing to sink.
func NewRecorder(sink Sink) *Recorder {
	return &Recorder{sink: sink}
}

// Handle is a shared.Subscriber.
func (r *Recorder) Handle(ctx context.Context, evt shared.Event) error {
	if r == nil || r.sink == nil {
		return nil
	}
	return r.sink.Record(ctx, shared.AuditLogFromEvent(evt))
}
