package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/leafline/voicecapture/pkg/logger"
)

// UtteranceRecord is one transcribed voice session as stored on disk.
type UtteranceRecord struct {
	ID         int64     `json:"id"`
	SessionID  string    `json:"session_id"`
	CreatedAt  time.Time `json:"timestamp"`
	Content    string    `json:"text"`
	Mode       string    `json:"mode"` // "batch" or "streaming"
	Language   string    `json:"language,omitempty"`
	Confidence float64   `json:"confidence"`
	DurationMs int64     `json:"duration_ms"`
	Outcome    string    `json:"outcome"` // "completed" or a failure reason code
}

// UtteranceStorage handles storage of utterance records.
type UtteranceStorage struct {
	db     *sql.DB
	logger *logger.Logger
}

// NewUtteranceStorage creates an utterance store on an open database.
func NewUtteranceStorage(db *sql.DB, log *logger.Logger) (*UtteranceStorage, error) {
	storage := &UtteranceStorage{
		db:     db,
		logger: log.Named("sqlite-utt"),
	}
	if err := storage.initDB(); err != nil {
		return nil, err
	}
	return storage, nil
}

func (s *UtteranceStorage) initDB() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS utterances (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			content TEXT NOT NULL,
			mode TEXT NOT NULL,
			language TEXT,
			confidence REAL,
			duration_ms INTEGER,
			outcome TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create utterances table: %w", err)
	}

	_, err = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_session_id ON utterances(session_id)`)
	if err != nil {
		return fmt.Errorf("failed to create session_id index: %w", err)
	}

	_, err = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_utt_created_at ON utterances(created_at)`)
	if err != nil {
		return fmt.Errorf("failed to create created_at index: %w", err)
	}

	return nil
}

// StoreUtterance inserts one record and returns its ID.
func (s *UtteranceStorage) StoreUtterance(record *UtteranceRecord) (int64, error) {
	result, err := s.db.Exec(
		`INSERT INTO utterances
		(session_id, created_at, content, mode, language, confidence, duration_ms, outcome)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		record.SessionID,
		record.CreatedAt.Format(time.RFC3339),
		record.Content,
		record.Mode,
		record.Language,
		record.Confidence,
		record.DurationMs,
		record.Outcome,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert utterance: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID: %w", err)
	}
	return id, nil
}

// GetUtterances returns records newest first, with pagination.
func (s *UtteranceStorage) GetUtterances(limit, offset int) ([]*UtteranceRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, session_id, created_at, content, mode, language, confidence, duration_ms, outcome
		FROM utterances
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query utterances: %w", err)
	}
	defer rows.Close()

	return scanUtterances(rows)
}

// GetUtterancesBySession returns the records of one session, newest first.
func (s *UtteranceStorage) GetUtterancesBySession(sessionID string, limit, offset int) ([]*UtteranceRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, session_id, created_at, content, mode, language, confidence, duration_ms, outcome
		FROM utterances
		WHERE session_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?`,
		sessionID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query utterances by session: %w", err)
	}
	defer rows.Close()

	return scanUtterances(rows)
}

// CountUtterances returns the total number of stored records.
func (s *UtteranceStorage) CountUtterances() (int64, error) {
	var count int64
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM utterances`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count utterances: %w", err)
	}
	return count, nil
}

func scanUtterances(rows *sql.Rows) ([]*UtteranceRecord, error) {
	var records []*UtteranceRecord
	for rows.Next() {
		var record UtteranceRecord
		var createdAt string
		var language sql.NullString
		var confidence sql.NullFloat64
		var durationMs sql.NullInt64

		if err := rows.Scan(
			&record.ID,
			&record.SessionID,
			&createdAt,
			&record.Content,
			&record.Mode,
			&language,
			&confidence,
			&durationMs,
			&record.Outcome,
		); err != nil {
			return nil, fmt.Errorf("failed to scan utterance: %w", err)
		}

		parsed, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse created_at: %w", err)
		}
		record.CreatedAt = parsed

		if language.Valid {
			record.Language = language.String
		}
		if confidence.Valid {
			record.Confidence = confidence.Float64
		}
		if durationMs.Valid {
			record.DurationMs = durationMs.Int64
		}

		records = append(records, &record)
	}
	return records, rows.Err()
}
