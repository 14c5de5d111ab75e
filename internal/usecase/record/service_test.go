package record

import (
	"context"
	"errors"
	"testing"

	"github.com/kailas-cloud/sightdex/internal/domain"
	domattr "github.com/kailas-cloud/sightdex/internal/domain/attribute"
	domrec "github.com/kailas-cloud/sightdex/internal/domain/record"
	"github.com/kailas-cloud/sightdex/internal/domain/value"
	"github.com/kailas-cloud/sightdex/internal/usecase/extraction"
)

func okExtract(context.Context, extraction.Request) (extraction.Response, error) {
	return extraction.Response{
		Category: "aerial",
		Title:    "Three lights over the ridge",
		Tags:     []string{"lights", "night"},
		Attributes: []domattr.Extracted{
			{Key: "shape", Value: value.String("triangle"), Confidence: 0.9, SourceMentionConfirmed: true},
		},
	}, nil
}

func TestIngest_FullFlow(t *testing.T) {
	repo := &mockRepo{}
	emb := &mockEmbedder{}
	ext := &mockExtractor{extractFn: okExtract}
	wit := &mockWitnesses{}
	svc := New(repo, emb, ext, wit, WithClock(clock))

	ctx, usage := domain.NewContextWithUsage(context.Background())
	res, err := svc.Ingest(ctx, IngestInput{
		Record:     domrec.Record{ID: "r1", Body: "Saw three lights", Tags: []string{"Night"}},
		WitnessIDs: []string{"r2"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(repo.stored) != 1 {
		t.Fatalf("stored %d records", len(repo.stored))
	}
	stored := repo.stored[0]
	if stored.CategorySlug != "aerial" || stored.Title != "Three lights over the ridge" {
		t.Errorf("extraction not applied: %+v", stored)
	}
	if len(stored.Vector) != 2 {
		t.Errorf("vector not stored")
	}
	if !stored.CreatedAt.Equal(fixedNow) {
		t.Errorf("CreatedAt = %v", stored.CreatedAt)
	}
	wantTags := []string{"night", "lights"}
	if len(stored.Tags) != 2 || stored.Tags[0] != wantTags[0] || stored.Tags[1] != wantTags[1] {
		t.Errorf("tags = %v, expected %v", stored.Tags, wantTags)
	}
	if len(ext.published) != 1 || ext.published[0] != "r1/aerial" {
		t.Errorf("published = %v", ext.published)
	}
	if res.Publish.Written != 1 {
		t.Errorf("written = %d", res.Publish.Written)
	}
	if got := wit.links["r1"]; len(got) != 1 || got[0] != "r2" {
		t.Errorf("witness links = %v", got)
	}
	if res.Record.Vector != nil {
		t.Error("result must not carry the vector")
	}
	if embTokens, _, _ := usage.Snapshot(); embTokens != 6 {
		t.Errorf("embedding tokens = %d", embTokens)
	}
}

func TestIngest_ExtractionRetriedOnce(t *testing.T) {
	ext := &mockExtractor{}
	ext.extractFn = func(ctx context.Context, req extraction.Request) (extraction.Response, error) {
		if ext.calls == 1 {
			return extraction.Response{}, &domain.ExtractionError{Stage: extraction.StageIdentify, Err: errors.New("503")}
		}
		return okExtract(ctx, req)
	}
	svc := New(&mockRepo{}, &mockEmbedder{}, ext, nil)

	res, err := svc.Ingest(context.Background(), IngestInput{Record: domrec.Record{ID: "r1", Body: "b"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ext.calls != 2 {
		t.Errorf("extract calls = %d, expected 2", ext.calls)
	}
	if res.ExtractionUnavailable {
		t.Error("second attempt succeeded, record must not be flagged")
	}
}

func TestIngest_ExtractionUnavailable(t *testing.T) {
	repo := &mockRepo{}
	ext := &mockExtractor{extractFn: func(context.Context, extraction.Request) (extraction.Response, error) {
		return extraction.Response{}, &domain.ExtractionError{Stage: extraction.StageExtract, Err: errors.New("timeout")}
	}}
	svc := New(repo, &mockEmbedder{}, ext, nil)

	res, err := svc.Ingest(context.Background(), IngestInput{Record: domrec.Record{ID: "r1", Body: "b"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ext.calls != 2 {
		t.Errorf("extract calls = %d, expected 2", ext.calls)
	}
	if !res.ExtractionUnavailable || !repo.stored[0].ExtractionUnavailable {
		t.Error("record must be flagged extraction_unavailable")
	}
	if len(ext.published) != 0 {
		t.Error("nothing must be published without extraction")
	}
}

func TestIngest_SchemaViolationNotRetried(t *testing.T) {
	ext := &mockExtractor{extractFn: func(context.Context, extraction.Request) (extraction.Response, error) {
		return extraction.Response{}, &domain.ExtractionError{
			Stage: extraction.StageValidate,
			Err:   &domain.SchemaViolationError{Key: "shape", Value: "cube"},
		}
	}}
	svc := New(&mockRepo{}, &mockEmbedder{}, ext, nil)

	res, err := svc.Ingest(context.Background(), IngestInput{Record: domrec.Record{ID: "r1", Body: "b"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ext.calls != 1 {
		t.Errorf("extract calls = %d, expected 1", ext.calls)
	}
	if !res.ExtractionUnavailable {
		t.Error("expected extraction_unavailable")
	}
}

func TestIngest_Errors(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name    string
		in      IngestInput
		repo    *mockRepo
		emb     *mockEmbedder
		wantErr error
	}{
		{
			name:    "empty body",
			in:      IngestInput{Record: domrec.Record{ID: "r1", Body: "  "}},
			wantErr: domain.ErrInvalidRequest,
		},
		{
			name:    "missing id",
			in:      IngestInput{Record: domrec.Record{Body: "b"}},
			wantErr: domain.ErrInvalidRequest,
		},
		{
			name: "embed failure",
			in:   IngestInput{Record: domrec.Record{ID: "r1", Body: "b"}},
			emb: &mockEmbedder{embedFn: func(context.Context, string) (domain.EmbeddingResult, error) {
				return domain.EmbeddingResult{}, domain.ErrEmbeddingProviderError
			}},
			wantErr: domain.ErrEmbeddingProviderError,
		},
		{
			name: "index failure",
			in:   IngestInput{Record: domrec.Record{ID: "r1", Body: "b"}},
			repo: &mockRepo{upsertFn: func(context.Context, *domrec.Record) error {
				return boom
			}},
			wantErr: boom,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, emb := tt.repo, tt.emb
			if repo == nil {
				repo = &mockRepo{}
			}
			if emb == nil {
				emb = &mockEmbedder{}
			}
			svc := New(repo, emb, nil, nil)
			_, err := svc.Ingest(context.Background(), tt.in)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestIngest_EmbedsTitleAndBody(t *testing.T) {
	emb := &mockEmbedder{}
	svc := New(&mockRepo{}, emb, nil, nil)

	if _, err := svc.Ingest(context.Background(), IngestInput{
		Record: domrec.Record{ID: "r1", Title: "Lights", Body: "over the ridge"},
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if emb.texts[0] != "Lights\n\nover the ridge" {
		t.Errorf("embedded text = %q", emb.texts[0])
	}
}

func TestLinkWitnesses(t *testing.T) {
	repo := &mockRepo{stored: []domrec.Record{{ID: "r1", Vector: []float32{1}}}}
	wit := &mockWitnesses{}
	svc := New(repo, &mockEmbedder{}, nil, wit, WithReader(repo))

	if err := svc.LinkWitnesses(context.Background(), "r1", []string{"r2", "r3"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(wit.links["r1"]) != 2 {
		t.Errorf("links = %v", wit.links)
	}

	if err := svc.LinkWitnesses(context.Background(), "missing", []string{"r2"}); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := svc.LinkWitnesses(context.Background(), "r1", []string{"r1"}); !errors.Is(err, domain.ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest for self link, got %v", err)
	}
}

func TestGet_StripsVector(t *testing.T) {
	repo := &mockRepo{stored: []domrec.Record{{ID: "r1", Body: "b", Vector: []float32{1, 2}}}}
	svc := New(repo, &mockEmbedder{}, nil, nil, WithReader(repo))

	rec, err := svc.Get(context.Background(), "r1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Vector != nil {
		t.Error("vector must be stripped")
	}
}
