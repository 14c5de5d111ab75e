// Package pgretrieval is the PostgreSQL retrieval backend: pgvector cosine
// similarity plus ts_rank_cd over a generated tsvector, fused in Go.
package pgretrieval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"

	pgdb "github.com/kailas-cloud/sightdex/internal/db/postgres"
	"github.com/kailas-cloud/sightdex/internal/domain"
	"github.com/kailas-cloud/sightdex/internal/domain/record"
	"github.com/kailas-cloud/sightdex/internal/domain/search/backend"
	"github.com/kailas-cloud/sightdex/internal/domain/search/candidate"
	"github.com/kailas-cloud/sightdex/internal/domain/search/fusion"
)

// Schema returns the idempotent DDL for a table of dim-sized embeddings.
func Schema(dim int) []string {
	return []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS records (
			id             TEXT PRIMARY KEY,
			title          TEXT NOT NULL DEFAULT '',
			body           TEXT NOT NULL DEFAULT '',
			category_slug  TEXT NOT NULL DEFAULT '',
			tags           TEXT[] NOT NULL DEFAULT '{}',
			location_text  TEXT NOT NULL DEFAULT '',
			lat            DOUBLE PRECISION,
			lng            DOUBLE PRECISION,
			occurred_at    TIMESTAMPTZ,
			created_at     TIMESTAMPTZ NOT NULL,
			embedding      vector(%d),
			extraction_unavailable BOOLEAN NOT NULL DEFAULT false,
			tsv tsvector GENERATED ALWAYS AS (to_tsvector('simple', title || ' ' || body)) STORED
		)`, dim),
		`CREATE INDEX IF NOT EXISTS records_embedding_idx ON records USING hnsw (embedding vector_cosine_ops)`,
		`CREATE INDEX IF NOT EXISTS records_tsv_idx ON records USING gin (tsv)`,
		`CREATE INDEX IF NOT EXISTS records_category_idx ON records (category_slug)`,
	}
}

const candidateColumns = `id, title, body, category_slug, tags, location_text, lat, lng, occurred_at, created_at`

// Repo is both the record store and the retrieval backend over PostgreSQL.
type Repo struct {
	pool   pgdb.Pool
	dim    int
	method fusion.Method
}

// New creates the backend. dim is the embedding dimension of the table.
func New(pool pgdb.Pool, dim int, method fusion.Method) *Repo {
	if method == "" {
		method = fusion.WeightedSum
	}
	return &Repo{pool: pool, dim: dim, method: method}
}

// Migrate applies Schema.
func (r *Repo) Migrate(ctx context.Context) error {
	return pgdb.Migrate(ctx, r.pool, Schema(r.dim)...)
}

// SupportsTextSearch is always true: full-text search is built into PostgreSQL.
func (r *Repo) SupportsTextSearch(context.Context) bool { return true }

// Upsert writes rec, replacing any previous version.
func (r *Repo) Upsert(ctx context.Context, rec *record.Record) error {
	if len(rec.Vector) > 0 && len(rec.Vector) != r.dim {
		return fmt.Errorf("vector dimension %d, want %d: %w", len(rec.Vector), r.dim, domain.ErrInvalidRequest)
	}
	var emb any
	if len(rec.Vector) > 0 {
		emb = pgvector.NewVector(rec.Vector)
	}
	var lat, lng *float64
	if rec.Coordinates != nil {
		lat, lng = &rec.Coordinates.Lat, &rec.Coordinates.Lng
	}
	tags := rec.Tags
	if tags == nil {
		tags = []string{}
	}

	query := `INSERT INTO records (` + candidateColumns + `, embedding, extraction_unavailable)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			body = EXCLUDED.body,
			category_slug = EXCLUDED.category_slug,
			tags = EXCLUDED.tags,
			location_text = EXCLUDED.location_text,
			lat = EXCLUDED.lat,
			lng = EXCLUDED.lng,
			occurred_at = EXCLUDED.occurred_at,
			embedding = EXCLUDED.embedding,
			extraction_unavailable = EXCLUDED.extraction_unavailable`

	_, err := r.pool.Exec(ctx, query,
		rec.ID, rec.Title, rec.Body, rec.CategorySlug, tags, rec.LocationText,
		lat, lng, rec.OccurredAt, rec.CreatedAt, emb, rec.ExtractionUnavailable,
	)
	return eris.Wrapf(err, "pgretrieval: upsert %s", rec.ID)
}

// Vector returns the stored embedding of id, nil when the record has none.
// A missing record yields domain.ErrNotFound.
func (r *Repo) Vector(ctx context.Context, id string) ([]float32, error) {
	var text *string
	err := r.pool.QueryRow(ctx, `SELECT embedding::text FROM records WHERE id = $1`, id).Scan(&text)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, eris.Wrapf(err, "pgretrieval: vector %s", id)
	}
	if text == nil {
		return nil, nil
	}
	var v pgvector.Vector
	if err := v.Scan(*text); err != nil {
		return nil, eris.Wrapf(err, "pgretrieval: decode vector %s", id)
	}
	return v.Slice(), nil
}

// Get loads a record without its vector. A missing record yields domain.ErrNotFound.
func (r *Repo) Get(ctx context.Context, id string) (record.Record, error) {
	var (
		rec      record.Record
		lat, lng *float64
	)
	err := r.pool.QueryRow(ctx, `SELECT `+candidateColumns+`, extraction_unavailable FROM records WHERE id = $1`, id).
		Scan(&rec.ID, &rec.Title, &rec.Body, &rec.CategorySlug, &rec.Tags, &rec.LocationText,
			&lat, &lng, &rec.OccurredAt, &rec.CreatedAt, &rec.ExtractionUnavailable)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return record.Record{}, fmt.Errorf("record %s: %w", id, domain.ErrNotFound)
		}
		return record.Record{}, eris.Wrapf(err, "pgretrieval: get %s", id)
	}
	if lat != nil && lng != nil {
		rec.Coordinates = &candidate.Coordinates{Lat: *lat, Lng: *lng}
	}
	return rec, nil
}

// Retrieve runs the vector and full-text legs concurrently and fuses them.
func (r *Repo) Retrieve(ctx context.Context, q backend.Query) ([]candidate.Candidate, error) {
	if q.Limit <= 0 || (!q.HasVector() && !q.HasText()) {
		return nil, nil
	}

	var vecHits, lexHits []candidate.Candidate
	g, gctx := errgroup.WithContext(ctx)
	if q.HasVector() {
		g.Go(func() error {
			var err error
			vecHits, err = r.queryLeg(gctx, vectorQuery, pgvector.NewVector(q.Vector), q.Category, q.Limit,
				func(c *candidate.Candidate, s float64) { c.VectorScore = max(0, s) })
			return eris.Wrap(err, "pgretrieval: vector leg")
		})
	}
	if q.HasText() {
		g.Go(func() error {
			var err error
			lexHits, err = r.queryLeg(gctx, lexicalQuery, q.Text, q.Category, q.Limit,
				func(c *candidate.Candidate, s float64) { c.LexicalScore = s })
			normalize(lexHits)
			return eris.Wrap(err, "pgretrieval: lexical leg")
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return fusion.Fuse(vecHits, lexHits, q.Weights, r.method, q.Limit)
}

const vectorQuery = `SELECT ` + candidateColumns + `, 1 - (embedding <=> $1) AS score
	FROM records
	WHERE embedding IS NOT NULL AND ($2 = '' OR category_slug = $2)
	ORDER BY embedding <=> $1, id
	LIMIT $3`

const lexicalQuery = `SELECT ` + candidateColumns + `, ts_rank_cd(tsv, plainto_tsquery('simple', $1)) AS score
	FROM records
	WHERE tsv @@ plainto_tsquery('simple', $1) AND ($2 = '' OR category_slug = $2)
	ORDER BY score DESC, id
	LIMIT $3`

func (r *Repo) queryLeg(
	ctx context.Context,
	query string,
	signal any,
	category string,
	limit int,
	setScore func(*candidate.Candidate, float64),
) ([]candidate.Candidate, error) {
	rows, err := r.pool.Query(ctx, query, signal, category, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []candidate.Candidate
	for rows.Next() {
		var (
			c        candidate.Candidate
			lat, lng *float64
			occurred *time.Time
			score    float64
		)
		if err := rows.Scan(&c.ID, &c.Title, &c.BodyText, &c.CategorySlug, &c.Tags, &c.LocationText,
			&lat, &lng, &occurred, &c.CreatedAt, &score); err != nil {
			return nil, err
		}
		if lat != nil && lng != nil {
			c.Coordinates = &candidate.Coordinates{Lat: *lat, Lng: *lng}
		}
		c.OccurredAt = occurred
		setScore(&c, score)
		out = append(out, c)
	}
	return out, rows.Err()
}

// normalize scales lexical scores by the best hit into [0,1].
func normalize(hits []candidate.Candidate) {
	var top float64
	for _, h := range hits {
		top = max(top, h.LexicalScore)
	}
	if top <= 0 {
		return
	}
	for i := range hits {
		hits[i].LexicalScore /= top
	}
}
