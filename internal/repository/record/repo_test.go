package record

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kailas-cloud/sightdex/internal/db"
	"github.com/kailas-cloud/sightdex/internal/domain"
	"github.com/kailas-cloud/sightdex/internal/domain/record"
	"github.com/kailas-cloud/sightdex/internal/domain/search/candidate"
)

func testRecord() *record.Record {
	occurred := time.Date(2026, 6, 1, 9, 30, 0, 0, time.UTC)
	return &record.Record{
		ID:           "r1",
		Title:        "Ridge walk",
		Body:         "Granite ridge at dawn",
		CategorySlug: "hiking",
		Tags:         []string{"alpine", "dawn"},
		LocationText: "Sierra Nevada",
		Coordinates:  &candidate.Coordinates{Lat: 37.5, Lng: -119.2},
		OccurredAt:   &occurred,
		CreatedAt:    time.Date(2026, 6, 2, 0, 0, 0, 0, time.UTC),
		Vector:       []float32{0.1, 0.2, 0.3},
	}
}

func TestUpsert_ThenGet(t *testing.T) {
	repo, ms := newTestRepo(t)
	var stored map[string]string
	ms.hsetFn = func(_ context.Context, key string, fields map[string]string) error {
		if key != "sightdex:record:r1" {
			t.Errorf("unexpected key %s", key)
		}
		stored = fields
		return nil
	}
	ms.hgetAllFn = func(_ context.Context, _ string) (map[string]string, error) {
		return stored, nil
	}

	in := testRecord()
	if err := repo.Upsert(context.Background(), in); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stored[FieldContent] != "Ridge walk\nGranite ridge at dawn" {
		t.Errorf("content = %q", stored[FieldContent])
	}
	if stored[FieldTags] != "alpine,dawn" {
		t.Errorf("tags = %q", stored[FieldTags])
	}

	got, err := repo.Get(context.Background(), "r1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Title != in.Title || got.CategorySlug != "hiking" || len(got.Tags) != 2 {
		t.Errorf("unexpected record: %+v", got)
	}
	if got.OccurredAt == nil || !got.OccurredAt.Equal(*in.OccurredAt) {
		t.Errorf("occurredAt = %v", got.OccurredAt)
	}
	if got.Coordinates == nil || got.Coordinates.Lat != 37.5 {
		t.Errorf("coordinates = %v", got.Coordinates)
	}
	if len(got.Vector) != 3 || got.Vector[2] != 0.3 {
		t.Errorf("vector = %v", got.Vector)
	}
}

func TestUpsert_DimensionMismatch(t *testing.T) {
	repo, _ := newTestRepo(t)
	rec := testRecord()
	rec.Vector = []float32{1}
	err := repo.Upsert(context.Background(), rec)
	if !errors.Is(err, domain.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestGet_NotFound(t *testing.T) {
	repo, _ := newTestRepo(t)
	_, err := repo.Get(context.Background(), "missing")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestVector_NoVectorStored(t *testing.T) {
	repo, ms := newTestRepo(t)
	ms.hgetAllFn = func(_ context.Context, _ string) (map[string]string, error) {
		return map[string]string{FieldTitle: "t", FieldBody: "b"}, nil
	}
	vec, err := repo.Vector(context.Background(), "r1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vec) != 0 {
		t.Errorf("expected empty vector, got %v", vec)
	}
}

func TestEnsureIndex_CreatesWhenMissing(t *testing.T) {
	repo, ms := newTestRepo(t)
	var created *db.IndexDefinition
	ms.createIndexFn = func(_ context.Context, def *db.IndexDefinition) error {
		created = def
		return nil
	}

	if err := repo.EnsureIndex(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created == nil || created.Name != IndexName {
		t.Fatalf("expected index %s created", IndexName)
	}
	var hasText bool
	for _, f := range created.Fields {
		if f.Name == FieldContent && f.Type == db.IndexFieldText {
			hasText = true
		}
		if f.Type == db.IndexFieldVector && f.VectorDim != 3 {
			t.Errorf("vector dim = %d", f.VectorDim)
		}
	}
	if !hasText {
		t.Error("expected TEXT field when text search is supported")
	}
}

func TestEnsureIndex_NoTextOnValkey(t *testing.T) {
	repo, ms := newTestRepo(t)
	ms.textSearch = false
	ms.createIndexFn = func(_ context.Context, def *db.IndexDefinition) error {
		for _, f := range def.Fields {
			if f.Type == db.IndexFieldText {
				t.Error("TEXT field must be omitted without text search")
			}
		}
		return nil
	}
	if err := repo.EnsureIndex(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestEnsureIndex_ExistingIsNoop(t *testing.T) {
	repo, ms := newTestRepo(t)
	ms.indexExistsFn = func(context.Context, string) (bool, error) { return true, nil }
	ms.createIndexFn = func(context.Context, *db.IndexDefinition) error {
		t.Fatal("must not create")
		return nil
	}
	if err := repo.EnsureIndex(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestEnsureIndex_RaceTolerated(t *testing.T) {
	repo, ms := newTestRepo(t)
	ms.createIndexFn = func(context.Context, *db.IndexDefinition) error { return db.ErrIndexExists }
	if err := repo.EnsureIndex(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDecodeCandidate_MalformedOptionalFields(t *testing.T) {
	c := DecodeCandidate("r1", map[string]string{
		FieldTitle:      "t",
		FieldOccurredAt: "not-a-number",
		FieldLat:        "1",
	})
	if c.OccurredAt != nil {
		t.Error("malformed occurred_at must be absent")
	}
	if c.Coordinates != nil {
		t.Error("half coordinates must be absent")
	}
	if c.Tags != nil {
		t.Errorf("expected nil tags, got %v", c.Tags)
	}
}
