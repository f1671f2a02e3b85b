package observability

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"innoscan/dbopen"
	"innoscan/idgen"
)

// PipelineEvent is one recorded pipeline stage for one document.
type PipelineEvent struct {
	EventID    string    `json:"event_id"`
	DocumentID string    `json:"document_id"`
	Stage      string    `json:"stage"`
	Detail     string    `json:"detail,omitempty"` // optional JSON
	Success    bool      `json:"success"`
	CreatedAt  time.Time `json:"created_at"`
}

// EventLogger writes pipeline events and manages retention cleanup.
type EventLogger struct {
	db    *sql.DB
	newID idgen.Generator
	log   *slog.Logger
}

// EventLoggerOption configures an EventLogger.
type EventLoggerOption func(*EventLogger)

// WithEventIDGenerator sets a custom ID generator for event IDs.
func WithEventIDGenerator(gen idgen.Generator) EventLoggerOption {
	return func(l *EventLogger) { l.newID = gen }
}

// WithEventLoggerLogger sets the slog logger for write failures.
func WithEventLoggerLogger(log *slog.Logger) EventLoggerOption {
	return func(l *EventLogger) { l.log = log }
}

// NewEventLogger creates a logger backed by the given event database.
func NewEventLogger(db *sql.DB, opts ...EventLoggerOption) *EventLogger {
	l := &EventLogger{
		db:    db,
		newID: idgen.Prefixed("evt_", idgen.Default),
		log:   slog.Default(),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// LogStage records one pipeline stage. Non-blocking: errors are logged
// but do not propagate, so a failing event store never blocks ingestion.
// Writes retry on SQLITE_BUSY since the heartbeat writer shares the file.
func (l *EventLogger) LogStage(ctx context.Context, documentID, stage, detail string, success bool) {
	_, err := dbopen.Exec(ctx, l.db, `
		INSERT INTO pipeline_events (event_id, document_id, stage, detail, success, created_at)
		VALUES (?,?,?,?,?,?)`,
		l.newID(), documentID, stage, detail, success, time.Now().Unix())
	if err != nil {
		l.log.Error("pipeline event write failed", "error", err, "stage", stage, "document_id", documentID)
	}
}

// LogRequest records one served HTTP request.
func (l *EventLogger) LogRequest(ctx context.Context, method, path string, status int, duration time.Duration, remoteAddr string) {
	_, err := dbopen.Exec(ctx, l.db, `
		INSERT INTO http_request_logs (method, path, status_code, duration_ms, ip_address, created_at)
		VALUES (?,?,?,?,?,?)`,
		method, path, status, duration.Milliseconds(), remoteAddr, time.Now().Unix())
	if err != nil {
		l.log.Error("request log write failed", "error", err, "path", path)
	}
}

// RecentFor returns the newest events for one document, newest first.
func (l *EventLogger) RecentFor(ctx context.Context, documentID string, limit int) ([]PipelineEvent, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT event_id, document_id, stage, detail, success, created_at
		FROM pipeline_events
		WHERE document_id = ?
		ORDER BY created_at DESC, event_id DESC
		LIMIT ?`, documentID, limit)
	if err != nil {
		return nil, fmt.Errorf("query events for %s: %w", documentID, err)
	}
	defer rows.Close()

	var out []PipelineEvent
	for rows.Next() {
		var ev PipelineEvent
		var ts int64
		if err := rows.Scan(&ev.EventID, &ev.DocumentID, &ev.Stage, &ev.Detail, &ev.Success, &ts); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.CreatedAt = time.Unix(ts, 0)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// RetentionConfig specifies per-table retention in days. Zero means no cleanup.
type RetentionConfig struct {
	EventsDays     int
	HTTPLogsDays   int
	HeartbeatsDays int
	RunVacuumAfter bool
}

// Cleanup deletes records exceeding the retention thresholds. All
// tables are trimmed in one transaction so a retention pass either
// lands whole or not at all.
func Cleanup(ctx context.Context, db *sql.DB, cfg RetentionConfig) error {
	now := time.Now().Unix()

	type target struct {
		table  string
		column string
		days   int
	}
	// Fixed table/column pairs; nothing here comes from external input.
	targets := []target{
		{"pipeline_events", "created_at", cfg.EventsDays},
		{"http_request_logs", "created_at", cfg.HTTPLogsDays},
		{"worker_heartbeats", "timestamp", cfg.HeartbeatsDays},
	}

	err := dbopen.RunTx(ctx, db, func(tx *sql.Tx) error {
		for _, t := range targets {
			if t.days <= 0 {
				continue
			}
			cutoff := now - int64(t.days*86400)
			q := fmt.Sprintf("DELETE FROM %s WHERE %s < ?", t.table, t.column)
			if _, err := tx.ExecContext(ctx, q, cutoff); err != nil {
				return fmt.Errorf("cleanup %s: %w", t.table, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	// VACUUM cannot run inside a transaction.
	if cfg.RunVacuumAfter {
		if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
			return fmt.Errorf("vacuum: %w", err)
		}
	}
	return nil
}
