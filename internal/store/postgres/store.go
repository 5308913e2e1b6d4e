// Package postgres implements store.Store on PostgreSQL via pgx. Used when
// several projects share one database; SQLite remains the default.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pablof7z/tenex-sub009/internal/phase"
	"github.com/pablof7z/tenex-sub009/internal/store"
)

// Store is the PostgreSQL implementation of store.Store.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to PostgreSQL at dsn and applies the schema.
func Open(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, errors.New("postgres DSN required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s := &Store{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS conversations (
    id                TEXT PRIMARY KEY,
    title             TEXT NOT NULL DEFAULT '',
    phase             TEXT NOT NULL,
    phase_started_at  TIMESTAMPTZ,
    history           JSONB NOT NULL DEFAULT '[]',
    transitions       JSONB NOT NULL DEFAULT '[]',
    metadata          JSONB NOT NULL DEFAULT '{}',
    execution_seconds DOUBLE PRECISION NOT NULL DEFAULT 0,
    session_open      BOOLEAN NOT NULL DEFAULT FALSE,
    archived          BOOLEAN NOT NULL DEFAULT FALSE,
    created_at        TIMESTAMPTZ NOT NULL,
    updated_at        TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conversations_phase ON conversations(phase);
CREATE INDEX IF NOT EXISTS idx_conversations_archived ON conversations(archived);`)
	return err
}

func (s *Store) Save(ctx context.Context, c *store.Conversation) error {
	if c == nil || c.ID == "" {
		return errors.New("conversation with id required")
	}
	history, err := json.Marshal(c.History)
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}
	transitions, err := json.Marshal(c.Transitions)
	if err != nil {
		return fmt.Errorf("marshal transitions: %w", err)
	}
	metadata, err := json.Marshal(c.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	_, err = s.pool.Exec(ctx, `INSERT INTO conversations
    (id, title, phase, phase_started_at, history, transitions, metadata,
     execution_seconds, session_open, archived, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, FALSE, $10, $11)
ON CONFLICT (id) DO UPDATE SET
    title = EXCLUDED.title,
    phase = EXCLUDED.phase,
    phase_started_at = EXCLUDED.phase_started_at,
    history = EXCLUDED.history,
    transitions = EXCLUDED.transitions,
    metadata = EXCLUDED.metadata,
    execution_seconds = EXCLUDED.execution_seconds,
    session_open = EXCLUDED.session_open,
    updated_at = EXCLUDED.updated_at`,
		c.ID, c.Title, string(c.Phase), c.PhaseStartedAt,
		history, transitions, metadata,
		c.ExecutionSeconds, c.SessionOpen, c.CreatedAt, c.UpdatedAt)
	return err
}

func (s *Store) Load(ctx context.Context, id string) (*store.Conversation, error) {
	row := s.pool.QueryRow(ctx, `SELECT id, title, phase, phase_started_at, history,
    transitions, metadata, execution_seconds, session_open, created_at, updated_at
FROM conversations WHERE id = $1`, id)
	var (
		c                              store.Conversation
		phaseStr                       string
		history, transitions, metadata []byte
	)
	err := row.Scan(&c.ID, &c.Title, &phaseStr, &c.PhaseStartedAt, &history,
		&transitions, &metadata, &c.ExecutionSeconds, &c.SessionOpen,
		&c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c.Phase = phase.Phase(phaseStr)
	if err := json.Unmarshal(history, &c.History); err != nil {
		return nil, fmt.Errorf("unmarshal history: %w", err)
	}
	if err := json.Unmarshal(transitions, &c.Transitions); err != nil {
		return nil, fmt.Errorf("unmarshal transitions: %w", err)
	}
	if err := json.Unmarshal(metadata, &c.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	return &c, nil
}

func (s *Store) List(ctx context.Context) ([]store.Summary, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, title, phase, jsonb_array_length(history),
    archived, created_at, updated_at
FROM conversations WHERE archived = FALSE ORDER BY updated_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSummaries(rows)
}

func (s *Store) Archive(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE conversations SET archived = TRUE, updated_at = $1 WHERE id = $2`,
		time.Now().UTC(), id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", store.ErrNotFound, id)
	}
	return nil
}

func (s *Store) Search(ctx context.Context, q store.SearchQuery) ([]store.Summary, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if !q.IncludeArchived {
		where = append(where, "archived = FALSE")
	}
	if q.Phase != "" {
		where = append(where, "phase = "+arg(string(q.Phase)))
	}
	if q.Text != "" {
		pat := "%" + q.Text + "%"
		where = append(where, "(title ILIKE "+arg(pat)+" OR metadata::text ILIKE "+arg(pat)+")")
	}
	query := `SELECT id, title, phase, jsonb_array_length(history), archived, created_at, updated_at FROM conversations`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY updated_at DESC"
	if q.Limit > 0 {
		query += " LIMIT " + arg(q.Limit)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSummaries(rows)
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func scanSummaries(rows pgx.Rows) ([]store.Summary, error) {
	var out []store.Summary
	for rows.Next() {
		var (
			sum      store.Summary
			phaseStr string
		)
		if err := rows.Scan(&sum.ID, &sum.Title, &phaseStr, &sum.EventCount,
			&sum.Archived, &sum.CreatedAt, &sum.UpdatedAt); err != nil {
			return nil, err
		}
		sum.Phase = phase.Phase(phaseStr)
		out = append(out, sum)
	}
	return out, rows.Err()
}
