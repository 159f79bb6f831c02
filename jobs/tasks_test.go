package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-admin/internal/observability"
	"github.com/odyssey-erp/odyssey-admin/internal/shared"
)

type captureWriter struct {
	logs []shared.AuditLog
	err  error
}

func (c *captureWriter) Record(ctx context.Context, log shared.AuditLog) error {
	c.logs = append(c.logs, log)
	return c.err
}

func TestAuditRecordHandlerPersistsPayload(t *testing.T) {
	at := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	task, err := NewAuditRecordTask(shared.AuditLog{ActorID: 3, Action: "restored", Entity: shared.EntityUser, EntityID: "12", At: at})
	require.NoError(t, err)
	assert.Equal(t, TaskAuditRecord, task.Type())

	writer := &captureWriter{}
	require.NoError(t, AuditRecordHandler(writer, observability.NewMetrics())(context.Background(), task))
	require.Len(t, writer.logs, 1)
	assert.Equal(t, "restored", writer.logs[0].Action)
	assert.Equal(t, int64(3), writer.logs[0].ActorID)
	assert.True(t, at.Equal(writer.logs[0].At))
}

func TestAuditRecordHandlerSkipsRetryOnBadPayload(t *testing.T) {
	writer := &captureWriter{}
	err := AuditRecordHandler(writer, nil)(context.Background(), asynq.NewTask(TaskAuditRecord, []byte("{")))
	require.Error(t, err)
	assert.ErrorIs(t, err, asynq.SkipRetry)
	assert.Empty(t, writer.logs)
}

func TestAuditRecordHandlerReturnsWriteError(t *testing.T) {
	task, err := NewAuditRecordTask(shared.AuditLog{Action: "deleted", Entity: shared.EntityRole, EntityID: "1"})
	require.NoError(t, err)
	writer := &captureWriter{err: errors.New("db down")}
	err = AuditRecordHandler(writer, nil)(context.Background(), task)
	assert.EqualError(t, err, "db down")
}

type execStub struct {
	sql  string
	rows int64
	err  error
}

func (e *execStub) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	e.sql = sql
	return pgconn.NewCommandTag(fmt.Sprintf("DELETE %d", e.rows)), e.err
}

func TestSessionPurgeHandler(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	db := &execStub{rows: 4}
	require.NoError(t, SessionPurgeHandler(db, logger, nil)(context.Background(), NewSessionPurgeTask()))
	assert.Contains(t, db.sql, "DELETE FROM user_sessions")

	db.err = errors.New("timeout")
	assert.Error(t, SessionPurgeHandler(db, logger, nil)(context.Background(), NewSessionPurgeTask()))
}
