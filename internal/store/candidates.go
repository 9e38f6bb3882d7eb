package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"slurmsage/internal/logging"
)

// Candidate dispositions.
const (
	DispositionAccepted = "accepted"
	DispositionRejected = "rejected"
)

// Candidate is one distillation proposal and what the gate did with it.
type Candidate struct {
	ID          int64
	RuleID      string
	Observation string
	Disposition string
	Reason      string
	Confidence  float64
	TimesSeen   int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CandidateStore keeps distillation candidates in a local SQLite database,
// with the gate disposition for each, whether or not the candidate made it
// into the rule store. Re-proposals of the same rule id reinforce the stored
// confidence instead of inserting duplicates.
type CandidateStore struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
}

// NewCandidateStore creates or opens the candidate corpus.
func NewCandidateStore(dbPath string) (*CandidateStore, error) {
	timer := logging.StartTimer(logging.CategoryStore, "NewCandidateStore")
	defer timer.Stop()

	if dbPath == "" {
		return nil, fmt.Errorf("database path required")
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to verify database connection: %w", err)
	}

	s := &CandidateStore{db: db, dbPath: dbPath}
	if err := s.initializeSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logging.Store("Candidate corpus ready at %s", dbPath)
	return s, nil
}

func (s *CandidateStore) initializeSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS distill_candidates (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		rule_id TEXT NOT NULL UNIQUE,
		observation TEXT NOT NULL,
		disposition TEXT NOT NULL,
		reason TEXT,
		confidence REAL DEFAULT 0.5,
		times_seen INTEGER DEFAULT 1,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_candidates_disposition ON distill_candidates(disposition);
	CREATE INDEX IF NOT EXISTS idx_candidates_confidence ON distill_candidates(confidence);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create candidates table: %w", err)
	}
	return nil
}

// Record upserts one candidate. A repeated rule id bumps times_seen and
// reinforces confidence by 0.1 (capped at 1.0); disposition and reason are
// replaced by the latest gate outcome.
func (s *CandidateStore) Record(ctx context.Context, c Candidate) error {
	timer := logging.StartTimer(logging.CategoryStore, "CandidateStore.Record")
	defer timer.Stop()

	if c.RuleID == "" {
		return fmt.Errorf("candidate rule id required")
	}
	if c.Disposition != DispositionAccepted && c.Disposition != DispositionRejected {
		return fmt.Errorf("unknown disposition %q", c.Disposition)
	}
	if c.Confidence <= 0 {
		c.Confidence = 0.5
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO distill_candidates (rule_id, observation, disposition, reason, confidence, updated_at)
		VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(rule_id) DO UPDATE SET
			observation = excluded.observation,
			disposition = excluded.disposition,
			reason = excluded.reason,
			confidence = MIN(1.0, confidence + 0.1),
			times_seen = times_seen + 1,
			updated_at = CURRENT_TIMESTAMP
	`, c.RuleID, c.Observation, c.Disposition, c.Reason, c.Confidence)
	if err != nil {
		return fmt.Errorf("failed to record candidate: %w", err)
	}

	logging.StoreDebug("Recorded candidate %s (%s)", c.RuleID, c.Disposition)
	return nil
}

// GetAll returns all candidates, most confident first.
func (s *CandidateStore) GetAll() ([]Candidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, rule_id, observation, disposition, reason, confidence, times_seen, created_at, updated_at
		FROM distill_candidates
		ORDER BY confidence DESC, created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query candidates: %w", err)
	}
	defer rows.Close()

	var out []Candidate
	for rows.Next() {
		var c Candidate
		var reason sql.NullString
		if err := rows.Scan(&c.ID, &c.RuleID, &c.Observation, &c.Disposition, &reason,
			&c.Confidence, &c.TimesSeen, &c.CreatedAt, &c.UpdatedAt); err != nil {
			logging.StoreWarn("failed to scan candidate row: %v", err)
			continue
		}
		c.Reason = reason.String
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating candidates: %w", err)
	}
	return out, nil
}

// DecayConfidence reduces confidence of candidates that stopped recurring
// and prunes the ones that faded below 0.1.
func (s *CandidateStore) DecayConfidence(decayFactor float64, olderThanDays int) (int, error) {
	if decayFactor <= 0 || decayFactor >= 1 {
		decayFactor = 0.9
	}
	if olderThanDays <= 0 {
		olderThanDays = 7
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.Exec(`
		UPDATE distill_candidates
		SET confidence = confidence * ?,
		    updated_at = CURRENT_TIMESTAMP
		WHERE datetime(updated_at) < datetime('now', '-' || ? || ' days')
	`, decayFactor, olderThanDays)
	if err != nil {
		return 0, fmt.Errorf("failed to decay confidence: %w", err)
	}
	affected, _ := result.RowsAffected()

	if _, err := s.db.Exec(`DELETE FROM distill_candidates WHERE confidence < 0.1`); err != nil {
		logging.StoreWarn("failed to prune faded candidates: %v", err)
	}
	return int(affected), nil
}

// GetStats returns counters about the corpus.
func (s *CandidateStore) GetStats() (map[string]interface{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := make(map[string]interface{})

	var total, accepted int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM distill_candidates").Scan(&total); err == nil {
		stats["total"] = total
	}
	if err := s.db.QueryRow("SELECT COUNT(*) FROM distill_candidates WHERE disposition = ?", DispositionAccepted).Scan(&accepted); err == nil {
		stats["accepted"] = accepted
		stats["rejected"] = total - accepted
	}
	var avg float64
	if err := s.db.QueryRow("SELECT COALESCE(AVG(confidence), 0) FROM distill_candidates").Scan(&avg); err == nil {
		stats["avg_confidence"] = avg
	}
	stats["db_path"] = s.dbPath
	return stats, nil
}

// Close closes the database connection.
func (s *CandidateStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			return err
		}
		s.db = nil
	}
	return nil
}
