package database

import (
	"database/sql"
	"fmt"
	"time"
)

// TranscriptDB provides helper methods for the append-only
// transcript tables. Rows are only ever inserted, never updated:
// the transcript is the audit trail.
type TranscriptDB struct {
	db *sql.DB
}

// NewTranscriptDB creates a new transcript database helper.
func NewTranscriptDB(db *sql.DB) *TranscriptDB {
	return &TranscriptDB{db: db}
}

// RecordRow is one persisted iteration record.
type RecordRow struct {
	SessionID   string
	Iteration   int
	Proposal    string
	ApplyStatus string
	Conflicts   string
	TestStatus  string
	ExitCode    int
	Output      string
	DurationMs  int64
	CreatedAt   int64
}

// AppendRecord appends one iteration record.
func (t *TranscriptDB) AppendRecord(r *RecordRow) error {
	_, err := t.db.Exec(`
		INSERT INTO iteration_records
		(session_id, iteration, proposal, apply_status, conflicts, test_status, exit_code, output, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.SessionID, r.Iteration, r.Proposal, r.ApplyStatus, r.Conflicts,
		r.TestStatus, r.ExitCode, r.Output, r.DurationMs, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to append iteration record: %w", err)
	}
	return nil
}

// ListRecords returns a session's iteration records in order.
func (t *TranscriptDB) ListRecords(sessionID string) ([]*RecordRow, error) {
	rows, err := t.db.Query(`
		SELECT iteration, proposal, apply_status, conflicts, test_status, exit_code, output, duration_ms, created_at
		FROM iteration_records
		WHERE session_id = ?
		ORDER BY iteration ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list iteration records: %w", err)
	}
	defer rows.Close()

	var records []*RecordRow
	for rows.Next() {
		r := &RecordRow{SessionID: sessionID}
		var conflicts, testStatus, output sql.NullString
		var exitCode sql.NullInt64
		if err := rows.Scan(&r.Iteration, &r.Proposal, &r.ApplyStatus, &conflicts,
			&testStatus, &exitCode, &output, &r.DurationMs, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.Conflicts = conflicts.String
		r.TestStatus = testStatus.String
		r.ExitCode = int(exitCode.Int64)
		r.Output = output.String
		records = append(records, r)
	}
	return records, rows.Err()
}

// AppendEvent appends one state-transition event.
func (t *TranscriptDB) AppendEvent(sessionID string, seq int, state string, iteration int, payload string) error {
	_, err := t.db.Exec(`
		INSERT INTO events (session_id, seq, state, iteration, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, sessionID, seq, state, iteration, payload, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

// CountEvents returns the number of events stored for a session.
func (t *TranscriptDB) CountEvents(sessionID string) (int, error) {
	var n int
	err := t.db.QueryRow(`SELECT COUNT(*) FROM events WHERE session_id = ?`, sessionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return n, nil
}
