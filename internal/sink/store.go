// Copyright 2026 The modelmux Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package sink

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
	log "github.com/sirupsen/logrus"

	"github.com/modelmux/modelmux/internal/orchestrator"
)

const defaultRetentionDays = 90

// DecisionRecord is one persisted routing decision.
type DecisionRecord struct {
	ID              int64     `json:"id"`
	RequestID       string    `json:"request_id"`
	SessionID       string    `json:"session_id,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
	Intents         string    `json:"intents"`
	ChosenModel     string    `json:"chosen_model"`
	SelectionReason string    `json:"selection_reason"`
	Confidence      float64   `json:"confidence"`
	Fallbacks       string    `json:"fallbacks"`
	Degraded        bool      `json:"degraded"`
	LastError       string    `json:"last_error,omitempty"`
	LatencyMs       int64     `json:"latency_ms"`
}

// ModelStats aggregates persisted decisions per chosen model.
type ModelStats struct {
	Model        string  `json:"model"`
	Decisions    int64   `json:"decisions"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
}

// Store persists routing decisions to SQLite for later inspection. It is
// wired to a Bus subscription, so inserts happen off the request path.
type Store struct {
	db            *sql.DB
	dbPath        string
	retentionDays int
	mu            sync.RWMutex
}

// NewStore opens (or creates) the decision database at dbPath and ensures
// the schema exists.
func NewStore(ctx context.Context, dbPath string, retentionDays int) (*Store, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}
	if retentionDays <= 0 {
		retentionDays = defaultRetentionDays
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite works best with a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	schema := `
	CREATE TABLE IF NOT EXISTS decisions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		request_id TEXT NOT NULL,
		session_id TEXT,
		timestamp DATETIME NOT NULL,
		intents TEXT NOT NULL,
		chosen_model TEXT NOT NULL,
		selection_reason TEXT NOT NULL,
		confidence REAL,
		fallbacks TEXT,
		degraded INTEGER NOT NULL DEFAULT 0,
		last_error TEXT,
		latency_ms INTEGER NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_decisions_timestamp ON decisions(timestamp);
	CREATE INDEX IF NOT EXISTS idx_decisions_model ON decisions(chosen_model);
	CREATE INDEX IF NOT EXISTS idx_decisions_session ON decisions(session_id);
	`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	s := &Store{db: db, dbPath: dbPath, retentionDays: retentionDays}
	log.Infof("Decision store initialized (db: %s, retention: %d days)", dbPath, retentionDays)

	go s.pruneOldRecords(context.Background())
	return s, nil
}

// Attach subscribes the store to a bus so every published decision is
// persisted. Returns the subscription for teardown.
func (s *Store) Attach(bus *Bus) *Subscription {
	return bus.Subscribe(func(d *orchestrator.RoutingDecision) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.Insert(ctx, d); err != nil {
			log.Warnf("Failed to persist decision %s: %v", d.RequestID, err)
		}
	})
}

// Insert persists one decision.
func (s *Store) Insert(ctx context.Context, d *orchestrator.RoutingDecision) error {
	if d == nil {
		return fmt.Errorf("decision cannot be nil")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return fmt.Errorf("decision store is closed")
	}

	intents, err := json.Marshal(d.Intents)
	if err != nil {
		log.Warnf("Failed to marshal intents for %s: %v", d.RequestID, err)
		intents = []byte("[]")
	}
	fallbacks, err := json.Marshal(d.FallbacksAttempted)
	if err != nil {
		log.Warnf("Failed to marshal fallback trail for %s: %v", d.RequestID, err)
		fallbacks = []byte("[]")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO decisions
			(request_id, session_id, timestamp, intents, chosen_model, selection_reason, confidence, fallbacks, degraded, last_error, latency_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.RequestID, d.SessionID, d.Timestamp, string(intents), d.ChosenModel,
		string(d.SelectionReason), d.Confidence, string(fallbacks),
		boolToInt(d.Degraded), d.LastError, d.LatencyMs,
	)
	if err != nil {
		return fmt.Errorf("failed to insert decision: %w", err)
	}
	return nil
}

// Recent returns the newest decisions, most recent first.
func (s *Store) Recent(ctx context.Context, limit int) ([]DecisionRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, fmt.Errorf("decision store is closed")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, request_id, session_id, timestamp, intents, chosen_model, selection_reason, confidence, fallbacks, degraded, last_error, latency_ms
		FROM decisions
		ORDER BY timestamp DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query decisions: %w", err)
	}
	defer rows.Close()

	var records []DecisionRecord
	for rows.Next() {
		var r DecisionRecord
		var sessionID, fallbacks, lastError sql.NullString
		var degraded int
		if err := rows.Scan(&r.ID, &r.RequestID, &sessionID, &r.Timestamp, &r.Intents, &r.ChosenModel, &r.SelectionReason, &r.Confidence, &fallbacks, &degraded, &lastError, &r.LatencyMs); err != nil {
			return nil, fmt.Errorf("failed to scan decision: %w", err)
		}
		r.SessionID = sessionID.String
		r.Fallbacks = fallbacks.String
		r.LastError = lastError.String
		r.Degraded = degraded != 0
		records = append(records, r)
	}
	return records, rows.Err()
}

// Stats aggregates decision counts and average latency per chosen model.
// Exhausted requests are grouped under an empty model id.
func (s *Store) Stats(ctx context.Context) ([]ModelStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, fmt.Errorf("decision store is closed")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT chosen_model, COUNT(*), AVG(latency_ms)
		FROM decisions
		GROUP BY chosen_model
		ORDER BY COUNT(*) DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query stats: %w", err)
	}
	defer rows.Close()

	var stats []ModelStats
	for rows.Next() {
		var st ModelStats
		var avg sql.NullFloat64
		if err := rows.Scan(&st.Model, &st.Decisions, &avg); err != nil {
			return nil, fmt.Errorf("failed to scan stats: %w", err)
		}
		st.AvgLatencyMs = avg.Float64
		stats = append(stats, st)
	}
	return stats, rows.Err()
}

func (s *Store) pruneOldRecords(ctx context.Context) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return
	}

	cutoff := time.Now().AddDate(0, 0, -s.retentionDays)
	result, err := s.db.ExecContext(ctx, `DELETE FROM decisions WHERE timestamp < ?`, cutoff)
	if err != nil {
		log.Warnf("Failed to prune old decisions: %v", err)
		return
	}
	if n, err := result.RowsAffected(); err == nil && n > 0 {
		log.Infof("Pruned %d decisions older than %d days", n, s.retentionDays)
	}
}

// Close closes the underlying database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
