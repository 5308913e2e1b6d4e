package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pablof7z/tenex-sub009/internal/phase"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// sqliteStore is the SQLite implementation of Store (internal to this package).
type sqliteStore struct {
	db *sql.DB

	// Prepared statements for hot paths (prepared at open, closed in Close).
	stmtSave *sql.Stmt
	stmtLoad *sql.Stmt
}

// Open opens the default SQLite store at home/protected/db.sqlite, creating
// the directory and applying migrations as needed.
func Open(home string) (Store, error) {
	if home == "" {
		return nil, errors.New("home directory required")
	}
	dbPath := filepath.Join(home, "protected", "db.sqlite")
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, err
	}
	return openDSN("file:" + dbPath + "?_pragma=busy_timeout(5000)")
}

// OpenDSN opens the SQLite store at an explicit DSN (e.g. "file:/tmp/x.db").
func OpenDSN(dsn string) (Store, error) {
	if dsn == "" {
		return nil, errors.New("sqlite DSN required")
	}
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn + "?_pragma=busy_timeout(5000)"
	}
	return openDSN(dsn)
}

func openDSN(dsn string) (*sqliteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)
	s := &sqliteStore{db: db}
	ctx := context.Background()
	if err := s.initPragmas(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.prepareStatements(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *sqliteStore) initPragmas(ctx context.Context) error {
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := s.db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("pragma %q: %w", pragma, err)
		}
	}
	return nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		sqlBytes, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return err
		}
		if _, err := s.db.ExecContext(ctx, string(sqlBytes)); err != nil {
			return fmt.Errorf("migration %s: %w", name, err)
		}
	}
	return nil
}

const saveSQL = `INSERT INTO conversations
    (id, title, phase, phase_started_at, history, transitions, metadata,
     execution_seconds, session_open, archived, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    title = excluded.title,
    phase = excluded.phase,
    phase_started_at = excluded.phase_started_at,
    history = excluded.history,
    transitions = excluded.transitions,
    metadata = excluded.metadata,
    execution_seconds = excluded.execution_seconds,
    session_open = excluded.session_open,
    updated_at = excluded.updated_at`

const loadSQL = `SELECT id, title, phase, phase_started_at, history, transitions,
    metadata, execution_seconds, session_open, created_at, updated_at
FROM conversations WHERE id = ?`

func (s *sqliteStore) prepareStatements(ctx context.Context) error {
	var err error
	if s.stmtSave, err = s.db.PrepareContext(ctx, saveSQL); err != nil {
		return err
	}
	if s.stmtLoad, err = s.db.PrepareContext(ctx, loadSQL); err != nil {
		return err
	}
	return nil
}

func (s *sqliteStore) Save(ctx context.Context, c *Conversation) error {
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
	_, err = s.stmtSave.ExecContext(ctx,
		c.ID, c.Title, string(c.Phase), formatTime(c.PhaseStartedAt),
		string(history), string(transitions), string(metadata),
		c.ExecutionSeconds, boolToInt(c.SessionOpen),
		formatTime(c.CreatedAt), formatTime(c.UpdatedAt),
	)
	return err
}

func (s *sqliteStore) Load(ctx context.Context, id string) (*Conversation, error) {
	row := s.stmtLoad.QueryRowContext(ctx, id)
	c, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return c, err
}

func (s *sqliteStore) List(ctx context.Context) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, title, phase, history, archived, created_at, updated_at
FROM conversations WHERE archived = 0 ORDER BY updated_at DESC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanSummaries(rows)
}

func (s *sqliteStore) Archive(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET archived = 1, updated_at = ? WHERE id = ?`,
		formatTime(time.Now().UTC()), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func (s *sqliteStore) Search(ctx context.Context, q SearchQuery) ([]Summary, error) {
	var (
		where []string
		args  []any
	)
	if !q.IncludeArchived {
		where = append(where, "archived = 0")
	}
	if q.Phase != "" {
		where = append(where, "phase = ?")
		args = append(args, string(q.Phase))
	}
	if q.Text != "" {
		where = append(where, "(title LIKE ? OR metadata LIKE ?)")
		pat := "%" + q.Text + "%"
		args = append(args, pat, pat)
	}
	query := `SELECT id, title, phase, history, archived, created_at, updated_at FROM conversations`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY updated_at DESC"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanSummaries(rows)
}

func (s *sqliteStore) Close() error {
	if s.stmtSave != nil {
		_ = s.stmtSave.Close()
	}
	if s.stmtLoad != nil {
		_ = s.stmtLoad.Close()
	}
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*Conversation, error) {
	var (
		c                                   Conversation
		phaseStr, started, created, updated string
		history, transitions, metadata      string
		sessionOpen                         int
	)
	err := row.Scan(&c.ID, &c.Title, &phaseStr, &started, &history, &transitions,
		&metadata, &c.ExecutionSeconds, &sessionOpen, &created, &updated)
	if err != nil {
		return nil, err
	}
	c.Phase = phase.Phase(phaseStr)
	c.SessionOpen = sessionOpen != 0
	c.PhaseStartedAt = parseTime(started)
	c.CreatedAt = parseTime(created)
	c.UpdatedAt = parseTime(updated)
	if err := json.Unmarshal([]byte(history), &c.History); err != nil {
		return nil, fmt.Errorf("unmarshal history: %w", err)
	}
	if err := json.Unmarshal([]byte(transitions), &c.Transitions); err != nil {
		return nil, fmt.Errorf("unmarshal transitions: %w", err)
	}
	if err := json.Unmarshal([]byte(metadata), &c.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	return &c, nil
}

func scanSummaries(rows *sql.Rows) ([]Summary, error) {
	var out []Summary
	for rows.Next() {
		var (
			sum               Summary
			phaseStr, history string
			archived          int
			created, updated  string
		)
		if err := rows.Scan(&sum.ID, &sum.Title, &phaseStr, &history, &archived, &created, &updated); err != nil {
			return nil, err
		}
		sum.Phase = phase.Phase(phaseStr)
		sum.Archived = archived != 0
		sum.CreatedAt = parseTime(created)
		sum.UpdatedAt = parseTime(updated)
		var events []Event
		if err := json.Unmarshal([]byte(history), &events); err == nil {
			sum.EventCount = len(events)
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
