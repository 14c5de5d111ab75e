// Package sqlite stores user memories in an embedded SQLite database.
// Used by the CLI and single-node deployments.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/kailas-cloud/sightdex/internal/domain"
	"github.com/kailas-cloud/sightdex/internal/domain/memory"
)

const schema = `
CREATE TABLE IF NOT EXISTS user_memories (
	id          TEXT PRIMARY KEY,
	user_id     TEXT NOT NULL,
	scope       TEXT NOT NULL,
	key         TEXT NOT NULL,
	value       TEXT NOT NULL,
	confidence  REAL NOT NULL,
	source      TEXT NOT NULL,
	created_at  INTEGER NOT NULL,
	updated_at  INTEGER NOT NULL,
	expires_at  INTEGER,
	UNIQUE (user_id, scope, key)
);
CREATE INDEX IF NOT EXISTS user_memories_user_conf_idx ON user_memories (user_id, confidence DESC);
`

const columns = `id, user_id, scope, key, value, confidence, source, created_at, updated_at, expires_at`

// Repo is the SQLite memory repository.
type Repo struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies the schema.
// ":memory:" gives a private in-memory database.
func Open(path string) (*Repo, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one connection: in-memory databases are per-connection, and writers serialise anyway
	db.SetMaxOpenConns(1)

	for _, p := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("pragma %q: %w", p, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Repo{db: db}, nil
}

// Close releases the database.
func (r *Repo) Close() error { return r.db.Close() }

// Ping checks the database handle.
func (r *Repo) Ping(ctx context.Context) error { return r.db.PingContext(ctx) }

// Upsert inserts m or overwrites the row sharing (user_id, scope, key).
func (r *Repo) Upsert(ctx context.Context, m *memory.Memory) (memory.Memory, error) {
	raw, err := json.Marshal(m.Value)
	if err != nil {
		return memory.Memory{}, fmt.Errorf("encode value: %w", err)
	}
	id := m.ID
	if id == "" {
		id = uuid.NewString()
	}

	query := `INSERT INTO user_memories (` + columns + `)
		VALUES (?1, ?2, ?3, ?4, ?5, ?6, ?7, ?8, ?8, ?9)
		ON CONFLICT (user_id, scope, key) DO UPDATE SET
			value = excluded.value,
			confidence = excluded.confidence,
			source = excluded.source,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at
		RETURNING ` + columns

	row := r.db.QueryRowContext(ctx, query,
		id, m.UserID, string(m.Scope), m.Key, string(raw), m.Confidence, m.Source,
		m.UpdatedAt.UnixMilli(), millisOrNil(m.ExpiresAt),
	)
	out, err := scan(row)
	if err != nil {
		return memory.Memory{}, fmt.Errorf("upsert memory %s/%s/%s: %w", m.UserID, m.Scope, m.Key, err)
	}
	return out, nil
}

// Get returns one memory. Missing rows yield domain.ErrNotFound.
func (r *Repo) Get(ctx context.Context, userID, id string) (memory.Memory, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+columns+` FROM user_memories WHERE user_id = ? AND id = ?`, userID, id)
	m, err := scan(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return memory.Memory{}, domain.ErrNotFound
		}
		return memory.Memory{}, fmt.Errorf("get memory %s: %w", id, err)
	}
	return m, nil
}

// ListActive returns unexpired memories, highest confidence first.
func (r *Repo) ListActive(ctx context.Context, userID string, now time.Time) ([]memory.Memory, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+columns+` FROM user_memories
		WHERE user_id = ? AND (expires_at IS NULL OR expires_at > ?)
		ORDER BY confidence DESC, updated_at DESC, id`, userID, now.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("list memories %s: %w", userID, err)
	}
	defer rows.Close()

	var out []memory.Memory
	for rows.Next() {
		m, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// UpdateConfidence sets the confidence of one memory and returns the row.
func (r *Repo) UpdateConfidence(ctx context.Context, userID, id string, confidence float64, now time.Time) (memory.Memory, error) {
	row := r.db.QueryRowContext(ctx, `UPDATE user_memories SET confidence = ?, updated_at = ?
		WHERE user_id = ? AND id = ?
		RETURNING `+columns, confidence, now.UnixMilli(), userID, id)
	m, err := scan(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return memory.Memory{}, domain.ErrNotFound
		}
		return memory.Memory{}, fmt.Errorf("update confidence %s: %w", id, err)
	}
	return m, nil
}

// Delete removes one memory. Missing rows yield domain.ErrNotFound.
func (r *Repo) Delete(ctx context.Context, userID, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM user_memories WHERE user_id = ? AND id = ?`, userID, id)
	if err != nil {
		return fmt.Errorf("delete memory %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete memory %s: %w", id, err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(row scanner) (memory.Memory, error) {
	var (
		m                memory.Memory
		scope, raw       string
		created, updated int64
		expires          sql.NullInt64
	)
	if err := row.Scan(&m.ID, &m.UserID, &scope, &m.Key, &raw, &m.Confidence, &m.Source,
		&created, &updated, &expires); err != nil {
		return memory.Memory{}, err
	}
	m.Scope = memory.Scope(scope)
	m.CreatedAt = time.UnixMilli(created).UTC()
	m.UpdatedAt = time.UnixMilli(updated).UTC()
	if expires.Valid {
		t := time.UnixMilli(expires.Int64).UTC()
		m.ExpiresAt = &t
	}
	if err := json.Unmarshal([]byte(raw), &m.Value); err != nil {
		return memory.Memory{}, fmt.Errorf("decode value of %s: %w", m.ID, err)
	}
	return m, nil
}

func millisOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}
