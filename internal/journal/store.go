// Package journal persists one entry per relayed request that produced a
// handoff: what was extracted, how, and whether the notification went out.
// The daily digest and the operator API read from here.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	relayotel "github.com/heyconcierge/relay/internal/otel"
	"github.com/heyconcierge/relay/internal/handoff"
)

var tracer = relayotel.Tracer("github.com/heyconcierge/relay/internal/journal")

// Outcome is the dispatch result recorded for one entry.
type Outcome string

const (
	OutcomeSent     Outcome = "sent"
	OutcomeFailed   Outcome = "failed"
	OutcomeRejected Outcome = "rejected" // payload failed validation
	OutcomeSkipped  Outcome = "skipped"  // no transport configured
)

// Entry is one journaled handoff.
type Entry struct {
	ID            string         `json:"id"`
	CorrelationID string         `json:"correlation_id"`
	Timestamp     time.Time      `json:"timestamp"`
	BrandKey      string         `json:"brand_key"`
	Kind          handoff.Kind   `json:"kind"`
	Grammar       string         `json:"grammar"`
	Inferred      bool           `json:"inferred"`
	Payload       map[string]any `json:"payload,omitempty"`
	Outcome       Outcome        `json:"outcome"`
	DeliveryID    string         `json:"delivery_id,omitempty"`
	Error         string         `json:"error,omitempty"`
}

// Store persists journal entries in SQLite.
type Store struct {
	db *sql.DB
}

// NewStore opens (and if needed creates) the journal database at dbPath.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening journal database: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS handoffs (
		id TEXT PRIMARY KEY,
		correlation_id TEXT NOT NULL,
		timestamp TIMESTAMP NOT NULL,
		brand_key TEXT NOT NULL,
		kind TEXT NOT NULL,
		outcome TEXT NOT NULL,
		entry_json TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_handoffs_brand ON handoffs(brand_key);
	CREATE INDEX IF NOT EXISTS idx_handoffs_timestamp ON handoffs(timestamp);
	CREATE INDEX IF NOT EXISTS idx_handoffs_correlation ON handoffs(correlation_id);
	`

	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating journal schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record saves one entry, assigning its ID and timestamp when unset.
func (s *Store) Record(ctx context.Context, e *Entry) error {
	ctx, span := tracer.Start(ctx, "journal.record",
		trace.WithAttributes(
			attribute.String("brand_key", e.BrandKey),
			attribute.String("handoff.kind", string(e.Kind)),
			attribute.String("outcome", string(e.Outcome)),
		))
	defer span.End()

	if e.ID == "" {
		e.ID = "hnd_" + uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	entryJSON, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshaling journal entry: %w", err)
	}

	query := `INSERT INTO handoffs (id, correlation_id, timestamp, brand_key, kind, outcome, entry_json)
	          VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, query,
		e.ID, e.CorrelationID, e.Timestamp, e.BrandKey, string(e.Kind),
		string(e.Outcome), string(entryJSON),
	)
	if err != nil {
		return fmt.Errorf("storing journal entry: %w", err)
	}
	return nil
}

// Get retrieves one entry by ID.
func (s *Store) Get(ctx context.Context, id string) (*Entry, error) {
	var entryJSON string
	query := `SELECT entry_json FROM handoffs WHERE id = ?`
	err := s.db.QueryRowContext(ctx, query, id).Scan(&entryJSON)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("journal entry %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("querying journal: %w", err)
	}
	var e Entry
	if err := json.Unmarshal([]byte(entryJSON), &e); err != nil {
		return nil, fmt.Errorf("unmarshaling journal entry: %w", err)
	}
	return &e, nil
}

// List returns entries matching the filters, newest first.
func (s *Store) List(ctx context.Context, brandKey string, from, to time.Time, limit int) ([]Entry, error) {
	ctx, span := tracer.Start(ctx, "journal.list",
		trace.WithAttributes(attribute.String("brand_key", brandKey)))
	defer span.End()

	query := `SELECT entry_json FROM handoffs WHERE 1=1`
	args := []any{}

	if brandKey != "" {
		query += ` AND brand_key = ?`
		args = append(args, brandKey)
	}
	if !from.IsZero() {
		query += ` AND timestamp >= ?`
		args = append(args, from)
	}
	if !to.IsZero() {
		query += ` AND timestamp <= ?`
		args = append(args, to)
	}

	query += ` ORDER BY timestamp DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying journal: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var entryJSON string
		if err := rows.Scan(&entryJSON); err != nil {
			return nil, fmt.Errorf("scanning journal row: %w", err)
		}
		var e Entry
		if err := json.Unmarshal([]byte(entryJSON), &e); err != nil {
			return nil, fmt.Errorf("unmarshaling journal entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// KindCount is one row of a per-kind summary.
type KindCount struct {
	Kind    handoff.Kind
	Outcome Outcome
	Count   int
}

// Summarize counts entries per kind and outcome for one brand and window.
func (s *Store) Summarize(ctx context.Context, brandKey string, from, to time.Time) ([]KindCount, error) {
	query := `SELECT kind, outcome, COUNT(*) FROM handoffs
	          WHERE brand_key = ? AND timestamp >= ? AND timestamp <= ?
	          GROUP BY kind, outcome ORDER BY kind, outcome`
	rows, err := s.db.QueryContext(ctx, query, brandKey, from, to)
	if err != nil {
		return nil, fmt.Errorf("summarizing journal: %w", err)
	}
	defer rows.Close()

	var out []KindCount
	for rows.Next() {
		var kc KindCount
		var kind, outcome string
		if err := rows.Scan(&kind, &outcome, &kc.Count); err != nil {
			return nil, fmt.Errorf("scanning summary row: %w", err)
		}
		kc.Kind = handoff.Kind(kind)
		kc.Outcome = Outcome(outcome)
		out = append(out, kc)
	}
	return out, rows.Err()
}
