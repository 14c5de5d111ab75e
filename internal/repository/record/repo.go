package record

import (
	"context"
	"errors"
	"fmt"

	"github.com/kailas-cloud/sightdex/internal/db"
	"github.com/kailas-cloud/sightdex/internal/domain"
	"github.com/kailas-cloud/sightdex/internal/domain/record"
)

// store is the consumer interface for record hashes and their index (ISP).
type store interface {
	HSet(ctx context.Context, key string, fields map[string]string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	CreateIndex(ctx context.Context, def *db.IndexDefinition) error
	IndexExists(ctx context.Context, name string) (bool, error)
	SupportsTextSearch(ctx context.Context) bool
}

// IndexOptions sizes the vector field.
type IndexOptions struct {
	Dimensions     int
	HNSWM          int
	EFConstruction int
}

// Repo stores records as hashes under one FT index.
type Repo struct {
	store store
	opts  IndexOptions
}

// New creates a record repository.
func New(s store, opts IndexOptions) *Repo {
	return &Repo{store: s, opts: opts}
}

// EnsureIndex creates the FT index if missing. Safe to call on every start.
func (r *Repo) EnsureIndex(ctx context.Context) error {
	exists, err := r.store.IndexExists(ctx, IndexName)
	if err != nil {
		return fmt.Errorf("check index: %w", err)
	}
	if exists {
		return nil
	}

	def := r.indexDefinition(r.store.SupportsTextSearch(ctx))
	if err := r.store.CreateIndex(ctx, def); err != nil {
		if errors.Is(err, db.ErrIndexExists) {
			return nil
		}
		return fmt.Errorf("create index: %w", err)
	}
	return nil
}

func (r *Repo) indexDefinition(text bool) *db.IndexDefinition {
	fields := []db.IndexField{
		{Name: FieldCategory, Type: db.IndexFieldTag},
		{Name: FieldTags, Type: db.IndexFieldTag, TagSeparator: tagSeparator},
		{Name: FieldOccurredAt, Type: db.IndexFieldNumeric},
		{Name: FieldCreatedAt, Type: db.IndexFieldNumeric},
	}
	if text {
		fields = append(fields, db.IndexField{Name: FieldContent, Type: db.IndexFieldText})
	}
	fields = append(fields, db.IndexField{
		Name:              FieldVector,
		Type:              db.IndexFieldVector,
		VectorDim:         r.opts.Dimensions,
		VectorDistance:    db.DistanceCosine,
		VectorM:           r.opts.HNSWM,
		VectorEFConstruct: r.opts.EFConstruction,
	})
	return &db.IndexDefinition{
		Name:     IndexName,
		Prefixes: []string{keyPrefix},
		Fields:   fields,
	}
}

// Upsert writes the record hash. Fields absent from rec are left untouched.
func (r *Repo) Upsert(ctx context.Context, rec *record.Record) error {
	if len(rec.Vector) > 0 && r.opts.Dimensions > 0 && len(rec.Vector) != r.opts.Dimensions {
		return fmt.Errorf("%w: vector has %d dimensions, index expects %d",
			domain.ErrInvalidRequest, len(rec.Vector), r.opts.Dimensions)
	}
	if err := r.store.HSet(ctx, Key(rec.ID), encode(rec)); err != nil {
		return fmt.Errorf("upsert record %s: %w", rec.ID, err)
	}
	return nil
}

// Get loads a record by id.
func (r *Repo) Get(ctx context.Context, id string) (record.Record, error) {
	fields, err := r.store.HGetAll(ctx, Key(id))
	if err != nil {
		return record.Record{}, fmt.Errorf("get record %s: %w", id, err)
	}
	if len(fields) == 0 {
		return record.Record{}, fmt.Errorf("record %s: %w", id, domain.ErrNotFound)
	}
	return decode(id, fields), nil
}

// Vector returns the stored embedding of a record. A record without a
// vector yields an empty slice and no error.
func (r *Repo) Vector(ctx context.Context, id string) ([]float32, error) {
	rec, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return rec.Vector, nil
}
