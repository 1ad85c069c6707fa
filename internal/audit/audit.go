// Package audit keeps an append-only trail of who recorded what.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
	"time"
)

const (
	ActionScoreAdd        = "SCORE_ADD"
	ActionScoreAddBulk    = "SCORE_ADD_BULK"
	ActionViolationRecord = "VIOLATION_RECORD"
	ActionCRSRecalculate  = "CRS_RECALCULATE"
)

type Entry struct {
	Offset     int64          `json:"offset"`
	Action     string         `json:"action"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	Actor      string         `json:"actor,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Recorder appends entries. Callers treat failures as non-fatal.
type Recorder interface {
	Record(ctx context.Context, e Entry) error
}

// Log is a Recorder whose trail can be read back.
type Log interface {
	Recorder
	List(ctx context.Context, entityType, entityID string) ([]Entry, error)
}

type SQLRecorder struct{ db *sql.DB }

func NewSQLRecorder(db *sql.DB) *SQLRecorder { return &SQLRecorder{db: db} }

func (r *SQLRecorder) Record(ctx context.Context, e Entry) error {
	details := ""
	if len(e.Details) > 0 {
		b, err := json.Marshal(e.Details)
		if err != nil {
			return err
		}
		details = string(b)
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO audit_log (action, entity_type, entity_id, actor, details, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6)`,
		e.Action, e.EntityType, e.EntityID, e.Actor, details, e.CreatedAt.UnixMilli())
	return err
}

// List returns entries for one entity, oldest first.
func (r *SQLRecorder) List(ctx context.Context, entityType, entityID string) ([]Entry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, action, entity_type, entity_id, actor, details, created_at
		 FROM audit_log WHERE entity_type=$1 AND entity_id=$2 ORDER BY id`, entityType, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var e Entry
		var details string
		var created int64
		if err := rows.Scan(&e.Offset, &e.Action, &e.EntityType, &e.EntityID, &e.Actor, &details, &created); err != nil {
			return nil, err
		}
		if details != "" {
			if err := json.Unmarshal([]byte(details), &e.Details); err != nil {
				return nil, err
			}
		}
		e.CreatedAt = time.UnixMilli(created).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// MemoryRecorder keeps entries in process, for tests and MODE=dev.
type MemoryRecorder struct {
	mu      sync.Mutex
	entries []Entry
}

func (m *MemoryRecorder) Record(_ context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	e.Offset = int64(len(m.entries) + 1)
	m.entries = append(m.entries, e)
	return nil
}

func (m *MemoryRecorder) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Entry(nil), m.entries...)
}

// List returns entries for one entity, oldest first.
func (m *MemoryRecorder) List(_ context.Context, entityType, entityID string) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Entry
	for _, e := range m.entries {
		if e.EntityType == entityType && e.EntityID == entityID {
			out = append(out, e)
		}
	}
	return out, nil
}
