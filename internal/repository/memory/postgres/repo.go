// Package postgres stores user memories in PostgreSQL.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	pgdb "github.com/kailas-cloud/sightdex/internal/db/postgres"
	"github.com/kailas-cloud/sightdex/internal/domain"
	"github.com/kailas-cloud/sightdex/internal/domain/memory"
)

// Schema creates the memory table. Idempotent.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS user_memories (
		id          UUID PRIMARY KEY,
		user_id     TEXT NOT NULL,
		scope       TEXT NOT NULL,
		key         TEXT NOT NULL,
		value       JSONB NOT NULL,
		confidence  DOUBLE PRECISION NOT NULL CHECK (confidence >= 0 AND confidence <= 1),
		source      TEXT NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL,
		updated_at  TIMESTAMPTZ NOT NULL,
		expires_at  TIMESTAMPTZ,
		UNIQUE (user_id, scope, key)
	)`,
	`CREATE INDEX IF NOT EXISTS user_memories_user_conf_idx ON user_memories (user_id, confidence DESC)`,
}

const columns = `id, user_id, scope, key, value, confidence, source, created_at, updated_at, expires_at`

// Repo is the PostgreSQL memory repository.
type Repo struct {
	pool pgdb.Pool
}

// New creates a repository over pool.
func New(pool pgdb.Pool) *Repo {
	return &Repo{pool: pool}
}

// Migrate applies Schema.
func (r *Repo) Migrate(ctx context.Context) error {
	return pgdb.Migrate(ctx, r.pool, Schema...)
}

// Ping checks connectivity.
func (r *Repo) Ping(ctx context.Context) error {
	return eris.Wrap(r.pool.Ping(ctx), "memory: ping")
}

// Upsert inserts m or overwrites value, confidence, source and expiry of the
// row sharing (user_id, scope, key). The stored row is returned.
func (r *Repo) Upsert(ctx context.Context, m *memory.Memory) (memory.Memory, error) {
	raw, err := json.Marshal(m.Value)
	if err != nil {
		return memory.Memory{}, eris.Wrap(err, "memory: encode value")
	}
	id := m.ID
	if id == "" {
		id = uuid.NewString()
	}

	query := `INSERT INTO user_memories (` + columns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8, $9)
		ON CONFLICT (user_id, scope, key) DO UPDATE SET
			value = EXCLUDED.value,
			confidence = EXCLUDED.confidence,
			source = EXCLUDED.source,
			expires_at = EXCLUDED.expires_at,
			updated_at = EXCLUDED.updated_at
		RETURNING ` + columns

	row := r.pool.QueryRow(ctx, query,
		id, m.UserID, string(m.Scope), m.Key, raw, m.Confidence, m.Source, m.UpdatedAt, m.ExpiresAt,
	)
	out, err := scan(row)
	if err != nil {
		return memory.Memory{}, eris.Wrapf(err, "memory: upsert %s/%s/%s", m.UserID, m.Scope, m.Key)
	}
	return out, nil
}

// Get returns one memory of userID. Missing rows yield domain.ErrNotFound.
func (r *Repo) Get(ctx context.Context, userID, id string) (memory.Memory, error) {
	query := `SELECT ` + columns + ` FROM user_memories WHERE user_id = $1 AND id = $2`
	m, err := scan(r.pool.QueryRow(ctx, query, userID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return memory.Memory{}, domain.ErrNotFound
		}
		return memory.Memory{}, eris.Wrapf(err, "memory: get %s", id)
	}
	return m, nil
}

// ListActive returns unexpired memories, highest confidence first.
func (r *Repo) ListActive(ctx context.Context, userID string, now time.Time) ([]memory.Memory, error) {
	query := `SELECT ` + columns + ` FROM user_memories
		WHERE user_id = $1 AND (expires_at IS NULL OR expires_at > $2)
		ORDER BY confidence DESC, updated_at DESC, id`

	rows, err := r.pool.Query(ctx, query, userID, now)
	if err != nil {
		return nil, eris.Wrapf(err, "memory: list %s", userID)
	}
	defer rows.Close()

	var out []memory.Memory
	for rows.Next() {
		m, err := scan(rows)
		if err != nil {
			return nil, eris.Wrapf(err, "memory: scan %s", userID)
		}
		out = append(out, m)
	}
	return out, eris.Wrap(rows.Err(), "memory: iterate")
}

// UpdateConfidence sets the confidence of one memory and returns the row.
func (r *Repo) UpdateConfidence(ctx context.Context, userID, id string, confidence float64, now time.Time) (memory.Memory, error) {
	query := `UPDATE user_memories SET confidence = $3, updated_at = $4
		WHERE user_id = $1 AND id = $2
		RETURNING ` + columns
	m, err := scan(r.pool.QueryRow(ctx, query, userID, id, confidence, now))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return memory.Memory{}, domain.ErrNotFound
		}
		return memory.Memory{}, eris.Wrapf(err, "memory: update confidence %s", id)
	}
	return m, nil
}

// Delete removes one memory. Missing rows yield domain.ErrNotFound.
func (r *Repo) Delete(ctx context.Context, userID, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM user_memories WHERE user_id = $1 AND id = $2`, userID, id)
	if err != nil {
		return eris.Wrapf(err, "memory: delete %s", id)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func scan(row pgx.Row) (memory.Memory, error) {
	var (
		m     memory.Memory
		scope string
		raw   []byte
	)
	if err := row.Scan(
		&m.ID, &m.UserID, &scope, &m.Key, &raw, &m.Confidence, &m.Source,
		&m.CreatedAt, &m.UpdatedAt, &m.ExpiresAt,
	); err != nil {
		return memory.Memory{}, err
	}
	m.Scope = memory.Scope(scope)
	if err := json.Unmarshal(raw, &m.Value); err != nil {
		return memory.Memory{}, eris.Wrapf(err, "decode value of %s", m.ID)
	}
	return m, nil
}
