package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-admin/internal/observability"
	"github.com/odyssey-erp/odyssey-admin/internal/shared"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskAuditRecord persists one audit log entry.
	TaskAuditRecord = "audit:record"
	// TaskSessionPurge removes expired login session records.
	TaskSessionPurge = "sessions:purge"
)

// AuditWriter stores audit records; *shared.AuditLogger satisfies it.
type AuditWriter interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// NewAuditRecordTask constructs an Asynq task carrying log.
func NewAuditRecordTask(log shared.AuditLog) (*asynq.Task, error) {
	data, err := json.Marshal(log)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAuditRecord, data, asynq.MaxRetry(5)), nil
}

// AuditRecordHandler processes TaskAuditRecord tasks.
func AuditRecordHandler(writer AuditWriter, metrics *observability.Metrics) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		tracker := metrics.TrackJob(TaskAuditRecord)
		var log shared.AuditLog
		if err := json.Unmarshal(t.Payload(), &log); err != nil {
			return tracker.End(fmt.Errorf("decode audit payload: %v: %w", err, asynq.SkipRetry))
		}
		return tracker.End(writer.Record(ctx, log))
	}
}

// NewSessionPurgeTask constructs the periodic purge task.
func NewSessionPurgeTask() *asynq.Task {
	return asynq.NewTask(TaskSessionPurge, nil, asynq.MaxRetry(3))
}

// SessionPurgeHandler deletes user_sessions rows past their expiry.
func SessionPurgeHandler(db shared.Execer, logger *slog.Logger, metrics *observability.Metrics) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		tracker := metrics.TrackJob(TaskSessionPurge)
		tag, err := db.Exec(ctx, `DELETE FROM user_sessions WHERE expires_at < NOW()`)
		if err != nil {
			return tracker.End(fmt.Errorf("purge sessions: %w", err))
		}
		logger.Info("purged expired sessions", slog.Int64("rows", tag.RowsAffected()))
		return tracker.End(nil)
	}
}
