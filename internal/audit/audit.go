// Package audit records operator actions: logins, logouts and resets.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/chartgate/chartgate/pkg/logger"
)

// Action is the kind of operator event.
type Action string

const (
	ActionLogin          Action = "login"
	ActionLoginFailed    Action = "login_failed"
	ActionLoginThrottled Action = "login_throttled"
	ActionLogout         Action = "logout"
	ActionReset          Action = "reset"
)

// Event is one audited operator action.
type Event struct {
	Action    Action
	ClientID  string
	RequestID string
	At        time.Time
}

// Recorder persists audit events. Implementations log their own failures;
// recording never fails the request that triggered it.
type Recorder interface {
	Record(ctx context.Context, e Event)
}

// LogRecorder writes events to the application log.
type LogRecorder struct {
	log *logger.Logger
}

// NewLogRecorder creates a LogRecorder.
func NewLogRecorder(log *logger.Logger) *LogRecorder {
	return &LogRecorder{log: log}
}

// Record logs the event at info level.
func (r *LogRecorder) Record(_ context.Context, e Event) {
	r.log.Info("admin event",
		"action", string(e.Action),
		"client_ip", e.ClientID,
		"request_id", e.RequestID,
		"at", e.At,
	)
}

// Execer is the subset of a pgx pool used for inserts.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresRecorder inserts events into the admin_events table.
type PostgresRecorder struct {
	db      Execer
	log     *logger.Logger
	timeout time.Duration
}

// NewPostgresRecorder creates a PostgresRecorder.
func NewPostgresRecorder(db Execer, log *logger.Logger) *PostgresRecorder {
	return &PostgresRecorder{db: db, log: log, timeout: 2 * time.Second}
}

const insertEvent = `INSERT INTO admin_events (action, client_id, request_id, occurred_at) VALUES ($1, $2, $3, $4)`

// Record inserts the event. Errors are logged and dropped.
func (r *PostgresRecorder) Record(ctx context.Context, e Event) {
	if err := r.insert(ctx, e); err != nil {
		r.log.Warn("failed to record admin event",
			"action", string(e.Action),
			"error", err.Error(),
		)
	}
}

func (r *PostgresRecorder) insert(ctx context.Context, e Event) error {
	// Detach from the request so a client disconnect does not drop the row.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	if _, err := r.db.Exec(ctx, insertEvent, string(e.Action), e.ClientID, e.RequestID, e.At.UTC()); err != nil {
		return fmt.Errorf("insert admin event: %w", err)
	}
	return nil
}

// Multi fans an event out to several recorders.
type Multi []Recorder

// Record forwards e to every recorder.
func (m Multi) Record(ctx context.Context, e Event) {
	for _, r := range m {
		r.Record(ctx, e)
	}
}
