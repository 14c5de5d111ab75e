package memory

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/kailas-cloud/sightdex/internal/domain"
	dommem "github.com/kailas-cloud/sightdex/internal/domain/memory"
	"github.com/kailas-cloud/sightdex/internal/domain/value"
)

func TestSave_UpsertIsIdempotentOnKey(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, nil)
	ctx := context.Background()

	first, err := svc.Save(ctx, SaveInput{UserID: "u1", Scope: dommem.Preference, Key: "shape", Value: value.String("disc"), Confidence: 0.6})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := svc.Save(ctx, SaveInput{UserID: "u1", Scope: dommem.Preference, Key: "shape", Value: value.String("triangle"), Confidence: 0.9, Source: "conversation"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("upsert created a second record: %s vs %s", first.ID, second.ID)
	}
	list, _ := svc.ListActive(ctx, "u1")
	if len(list) != 1 {
		t.Fatalf("list = %+v", list)
	}
	if s, _ := list[0].Value.AsString(); s != "triangle" || list[0].Confidence != 0.9 || list[0].Source != "conversation" {
		t.Errorf("not overwritten: %+v", list[0])
	}
	if first.Source != SourceAPI {
		t.Errorf("default source = %q", first.Source)
	}
}

func TestSave_ClampsAndValidates(t *testing.T) {
	svc := newTestService(newFakeRepo(), nil)
	m, err := svc.Save(context.Background(), SaveInput{UserID: "u", Scope: dommem.Fact, Key: "k", Value: value.Bool(true), Confidence: 7})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Confidence != 1 {
		t.Errorf("confidence = %v", m.Confidence)
	}

	bad := []SaveInput{
		{Scope: dommem.Fact, Key: "k", Value: value.Bool(true)},
		{UserID: "u", Scope: "mood", Key: "k", Value: value.Bool(true)},
		{UserID: "u", Scope: dommem.Fact, Key: " ", Value: value.Bool(true)},
		{UserID: "u", Scope: dommem.Fact, Key: "k"},
	}
	for i, in := range bad {
		if _, err := svc.Save(context.Background(), in); !errors.Is(err, domain.ErrInvalidRequest) {
			t.Errorf("case %d: expected ErrInvalidRequest, got %v", i, err)
		}
	}
}

func TestSaveManual(t *testing.T) {
	svc := newTestService(newFakeRepo(), nil)
	m, err := svc.SaveManual(context.Background(), "u", dommem.Dislike, "topic", value.String("hoaxes"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Confidence != 1.0 || m.Source != dommem.SourceManual {
		t.Errorf("manual save = %+v", m)
	}
}

func TestListActive_ExcludesExpiredOrdersByConfidence(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, nil)
	ctx := context.Background()
	past := fixedNow.Add(-time.Hour)
	future := fixedNow.Add(time.Hour)

	for _, in := range []SaveInput{
		{UserID: "u", Scope: dommem.Fact, Key: "low", Value: value.String("a"), Confidence: 0.4},
		{UserID: "u", Scope: dommem.Fact, Key: "high", Value: value.String("b"), Confidence: 0.95, ExpiresAt: &future},
		{UserID: "u", Scope: dommem.Context, Key: "gone", Value: value.String("c"), Confidence: 1, ExpiresAt: &past},
		{UserID: "other", Scope: dommem.Fact, Key: "x", Value: value.String("d"), Confidence: 1},
	} {
		if _, err := svc.Save(ctx, in); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	list, err := svc.ListActive(ctx, "u")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(list) != 2 || list[0].Key != "high" || list[1].Key != "low" {
		t.Errorf("list = %+v", list)
	}
}

func TestReinforce_CapsAtOne(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, nil)
	ctx := context.Background()
	m, _ := svc.Save(ctx, SaveInput{UserID: "u", Scope: dommem.Preference, Key: "k", Value: value.String("v"), Confidence: 0.85})

	got, err := svc.Reinforce(ctx, "u", m.ID, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Confidence != 0.95 {
		t.Errorf("after one boost = %v", got.Confidence)
	}
	got, _ = svc.Reinforce(ctx, "u", m.ID, 0)
	if got.Confidence != 1 {
		t.Errorf("after two boosts = %v, want 1", got.Confidence)
	}
}

func TestDecay_BelowFloorDeletes(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, nil)
	ctx := context.Background()
	m, _ := svc.Save(ctx, SaveInput{UserID: "u", Scope: dommem.Fact, Key: "k", Value: value.String("v"), Confidence: 0.32})

	res, err := svc.Decay(ctx, "u", m.ID, 0.05)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Deleted || res.Memory.Confidence != 0.27 {
		t.Errorf("decay = %+v", res)
	}
	list, _ := svc.ListActive(ctx, "u")
	if len(list) != 0 {
		t.Errorf("deleted memory still listed: %+v", list)
	}
	if _, err := svc.Decay(ctx, "u", m.ID, 0); !errors.Is(err, domain.ErrMemoryNotFound) {
		t.Errorf("second decay = %v", err)
	}
}

func TestDecay_AboveFloorUpdates(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, nil)
	ctx := context.Background()
	m, _ := svc.Save(ctx, SaveInput{UserID: "u", Scope: dommem.Fact, Key: "k", Value: value.String("v"), Confidence: 0.35})

	res, err := svc.Decay(ctx, "u", m.ID, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Deleted || res.Memory.Confidence != 0.3 {
		t.Errorf("decay = %+v", res)
	}
}

func TestConfidenceBoundsUnderRandomOps(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, nil)
	ctx := context.Background()
	m, _ := svc.Save(ctx, SaveInput{UserID: "u", Scope: dommem.Preference, Key: "k", Value: value.String("v"), Confidence: 0.5})

	ops := "rrrrrrrdddrdrr" + strings.Repeat("d", 40)
	for i, op := range ops {
		if op == 'r' {
			got, err := svc.Reinforce(ctx, "u", m.ID, 0)
			if err != nil {
				t.Fatalf("op %d: %v", i, err)
			}
			if got.Confidence < 0 || got.Confidence > 1 {
				t.Fatalf("op %d: confidence %v", i, got.Confidence)
			}
			continue
		}
		res, err := svc.Decay(ctx, "u", m.ID, 0)
		if err != nil {
			t.Fatalf("op %d: %v", i, err)
		}
		if res.Deleted {
			if res.Memory.Confidence >= dommem.Floor {
				t.Fatalf("op %d: deleted at %v", i, res.Memory.Confidence)
			}
			return
		}
		if res.Memory.Confidence < dommem.Floor {
			t.Fatalf("op %d: stored below floor: %v", i, res.Memory.Confidence)
		}
	}
	t.Fatal("memory never reached the floor")
}

func TestMissingIDs(t *testing.T) {
	svc := newTestService(newFakeRepo(), nil)
	ctx := context.Background()
	var nf *domain.MemoryNotFoundError

	if _, err := svc.Reinforce(ctx, "u", "nope", 0); !errors.As(err, &nf) || nf.ID != "nope" {
		t.Errorf("reinforce: %v", err)
	}
	if _, err := svc.Decay(ctx, "u", "nope", 0); !errors.Is(err, domain.ErrMemoryNotFound) {
		t.Errorf("decay: %v", err)
	}
	if err := svc.Delete(ctx, "u", "nope"); !errors.Is(err, domain.ErrMemoryNotFound) {
		t.Errorf("delete: %v", err)
	}
}

func TestRepositoryErrorsPassThrough(t *testing.T) {
	repo := newFakeRepo()
	repo.getErr = errors.New("connection reset")
	svc := newTestService(repo, nil)

	_, err := svc.Reinforce(context.Background(), "u", "m1", 0)
	if err == nil || errors.Is(err, domain.ErrMemoryNotFound) {
		t.Errorf("expected raw repository error, got %v", err)
	}
}

func TestPrompt(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, nil)
	ctx := context.Background()

	out, err := svc.Prompt(ctx, "u", "You are a helpful archivist.")
	if err != nil || out != "You are a helpful archivist." {
		t.Fatalf("empty user: %q %v", out, err)
	}

	_, _ = svc.SaveManual(ctx, "u", dommem.Preference, "object_shape", value.String("flying_disc"))
	out, err = svc.Prompt(ctx, "u", "You are a helpful archivist.")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(out, "You are a helpful archivist.\n\n") {
		t.Errorf("base not preserved: %q", out)
	}
	if !strings.Contains(out, "- object_shape: flying disc (100% confidence)") {
		t.Errorf("section = %q", out)
	}
}
