package database

import (
	"database/sql"
	"fmt"
	"time"
)

// SessionDB provides helper methods for session rows.
type SessionDB struct {
	db *sql.DB
}

// NewSessionDB creates a new session database helper.
func NewSessionDB(db *sql.DB) *SessionDB {
	return &SessionDB{db: db}
}

// SessionRow is one persisted session.
type SessionRow struct {
	SessionID    string
	ProjectDir   string
	SpecHash     string
	Status       string
	Budget       int
	Iterations   int
	SnapshotHash string
	CreatedAt    int64
	CompletedAt  int64
}

// CreateSession inserts a new running session.
func (s *SessionDB) CreateSession(sessionID, projectDir, specHash string, budget int) error {
	_, err := s.db.Exec(`
		INSERT INTO sessions (session_id, project_dir, spec_hash, status, budget, created_at)
		VALUES (?, ?, ?, 'running', ?, ?)
	`, sessionID, projectDir, specHash, budget, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// FinishSession records a session's terminal status, the iteration
// count it reached and its final snapshot hash.
func (s *SessionDB) FinishSession(sessionID, status string, iterations int, snapshotHash string) error {
	_, err := s.db.Exec(`
		UPDATE sessions
		SET status = ?, iterations = ?, snapshot_hash = ?, completed_at = ?
		WHERE session_id = ?
	`, status, iterations, snapshotHash, time.Now().Unix(), sessionID)
	if err != nil {
		return fmt.Errorf("failed to finish session: %w", err)
	}
	return nil
}

// GetSession retrieves a session by ID.
func (s *SessionDB) GetSession(sessionID string) (*SessionRow, error) {
	row := &SessionRow{SessionID: sessionID}
	var snapshotHash sql.NullString
	var completedAt sql.NullInt64

	err := s.db.QueryRow(`
		SELECT project_dir, spec_hash, status, budget, iterations, snapshot_hash, created_at, completed_at
		FROM sessions
		WHERE session_id = ?
	`, sessionID).Scan(&row.ProjectDir, &row.SpecHash, &row.Status, &row.Budget,
		&row.Iterations, &snapshotHash, &row.CreatedAt, &completedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve session %s: %w", sessionID, err)
	}

	row.SnapshotHash = snapshotHash.String
	row.CompletedAt = completedAt.Int64
	return row, nil
}
