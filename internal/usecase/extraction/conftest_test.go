package extraction

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kailas-cloud/sightdex/internal/domain"
	domattr "github.com/kailas-cloud/sightdex/internal/domain/attribute"
	"github.com/kailas-cloud/sightdex/internal/usecase/cleanup"
)

type mockCompleter struct {
	// replies by request name
	replies  map[string]string
	errs     map[string]error
	requests []domain.StructuredRequest
}

func (m *mockCompleter) CompleteStructured(_ context.Context, req domain.StructuredRequest) (domain.StructuredResponse, error) {
	m.requests = append(m.requests, req)
	if err := m.errs[req.Name]; err != nil {
		return domain.StructuredResponse{}, err
	}
	reply, ok := m.replies[req.Name]
	if !ok {
		return domain.StructuredResponse{}, fmt.Errorf("unexpected call %s", req.Name)
	}
	return domain.StructuredResponse{Content: json.RawMessage(reply)}, nil
}

func (m *mockCompleter) names() []string {
	out := make([]string, len(m.requests))
	for i, r := range m.requests {
		out[i] = r.Name
	}
	return out
}

func (m *mockCompleter) request(name string) (domain.StructuredRequest, bool) {
	for _, r := range m.requests {
		if r.Name == name {
			return r, true
		}
	}
	return domain.StructuredRequest{}, false
}

type mockAttrStore struct {
	replaceFn func(ctx context.Context, recordID string, attrs []domattr.Extracted) (domattr.Stale, error)
	removeFn  func(ctx context.Context, recordID string, stale domattr.Stale) error

	replaced []domattr.Extracted
	removed  []string
}

func (m *mockAttrStore) Replace(ctx context.Context, recordID string, attrs []domattr.Extracted) (domattr.Stale, error) {
	m.replaced = attrs
	if m.replaceFn != nil {
		return m.replaceFn(ctx, recordID, attrs)
	}
	return nil, nil
}

func (m *mockAttrStore) RemoveStale(ctx context.Context, recordID string, stale domattr.Stale) error {
	m.removed = append(m.removed, stale.Keys()...)
	if m.removeFn != nil {
		return m.removeFn(ctx, recordID, stale)
	}
	return nil
}

// syncScheduler runs tasks inline and records their errors.
type syncScheduler struct {
	names []string
	errs  []error
}

func (s *syncScheduler) Schedule(ctx context.Context, name string, task cleanup.Task) bool {
	s.names = append(s.names, name)
	if err := task(ctx); err != nil {
		s.errs = append(s.errs, err)
	}
	return true
}

// queuedScheduler holds tasks until run is called, like a busy background worker.
type queuedScheduler struct {
	tasks []cleanup.Task
}

func (s *queuedScheduler) Schedule(_ context.Context, _ string, task cleanup.Task) bool {
	s.tasks = append(s.tasks, task)
	return true
}

func (s *queuedScheduler) run(ctx context.Context) error {
	for _, task := range s.tasks {
		if err := task(ctx); err != nil {
			return err
		}
	}
	s.tasks = nil
	return nil
}

// hashStore is an in-memory stand-in for the record attribute hashes.
type hashStore struct {
	hashes map[string]map[string]string
}

func newHashStore() *hashStore {
	return &hashStore{hashes: make(map[string]map[string]string)}
}

func (h *hashStore) HSet(_ context.Context, key string, fields map[string]string) error {
	m, ok := h.hashes[key]
	if !ok {
		m = make(map[string]string)
		h.hashes[key] = m
	}
	for f, v := range fields {
		m[f] = v
	}
	return nil
}

func (h *hashStore) HGetAll(_ context.Context, key string) (map[string]string, error) {
	out := make(map[string]string, len(h.hashes[key]))
	for f, v := range h.hashes[key] {
		out[f] = v
	}
	return out, nil
}

func (h *hashStore) HGetAllMulti(ctx context.Context, keys []string) ([]map[string]string, error) {
	out := make([]map[string]string, len(keys))
	for i, k := range keys {
		out[i], _ = h.HGetAll(ctx, k)
	}
	return out, nil
}

func (h *hashStore) HDelIfEqual(_ context.Context, key string, fields map[string]string) (int64, error) {
	var n int64
	for f, want := range fields {
		if got, ok := h.hashes[key][f]; ok && got == want {
			delete(h.hashes[key], f)
			n++
		}
	}
	return n, nil
}

func testCatalog() *domattr.Catalog {
	return &domattr.Catalog{
		Categories: []domattr.Category{
			{Slug: "aerial", Name: "Aerial phenomenon"},
			{Slug: "cryptid", Name: "Unknown animal"},
		},
		Schema: []domattr.SchemaEntry{
			{Key: "shape", Category: "aerial", DataType: domattr.Enum, AllowedValues: []string{"disc", "triangle", "sphere"}},
			{Key: "light_color", Category: "aerial", DataType: domattr.String},
			{Key: "sound", Category: "aerial", DataType: domattr.Boolean},
			{Key: "height_m", Category: "cryptid", DataType: domattr.Number},
			{Key: "duration", DataType: domattr.Enum, AllowedValues: []string{"seconds", "minutes", "hours"}},
			{Key: "weather", DataType: domattr.String},
		},
	}
}

func newTestService(c *mockCompleter, attrs *mockAttrStore, sched Scheduler) *Service {
	return New(c, testCatalog(), attrs, sched)
}
