package chi

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"go.uber.org/zap"

	domattr "github.com/kailas-cloud/sightdex/internal/domain/attribute"
	dommem "github.com/kailas-cloud/sightdex/internal/domain/memory"
	domrec "github.com/kailas-cloud/sightdex/internal/domain/record"
	"github.com/kailas-cloud/sightdex/internal/domain/search/request"
	"github.com/kailas-cloud/sightdex/internal/domain/value"
	"github.com/kailas-cloud/sightdex/internal/usecase/extraction"
	healthuc "github.com/kailas-cloud/sightdex/internal/usecase/health"
	memoryuc "github.com/kailas-cloud/sightdex/internal/usecase/memory"
	recorduc "github.com/kailas-cloud/sightdex/internal/usecase/record"
	"github.com/kailas-cloud/sightdex/internal/usecase/retrieval"
)

// --- Mocks ---

type mockSearcher struct {
	searchFn func(ctx context.Context, req *request.Request) (retrieval.Response, error)
	last     *request.Request
}

func (m *mockSearcher) Search(ctx context.Context, req *request.Request) (retrieval.Response, error) {
	m.last = req
	return m.searchFn(ctx, req)
}

type mockExtractor struct {
	extractFn func(ctx context.Context, req extraction.Request) (extraction.Response, error)
	publishFn func(ctx context.Context, recordID, category string, attrs []domattr.Extracted) (extraction.PublishResult, error)
}

func (m *mockExtractor) Extract(ctx context.Context, req extraction.Request) (extraction.Response, error) {
	return m.extractFn(ctx, req)
}

func (m *mockExtractor) Publish(
	ctx context.Context, recordID, category string, attrs []domattr.Extracted,
) (extraction.PublishResult, error) {
	return m.publishFn(ctx, recordID, category, attrs)
}

type mockRecords struct {
	ingestFn func(ctx context.Context, in recorduc.IngestInput) (recorduc.IngestResult, error)
	getFn    func(ctx context.Context, id string) (domrec.Record, error)
	linkFn   func(ctx context.Context, recordID string, ids []string) error
}

func (m *mockRecords) Ingest(ctx context.Context, in recorduc.IngestInput) (recorduc.IngestResult, error) {
	return m.ingestFn(ctx, in)
}

func (m *mockRecords) Get(ctx context.Context, id string) (domrec.Record, error) {
	return m.getFn(ctx, id)
}

func (m *mockRecords) LinkWitnesses(ctx context.Context, recordID string, ids []string) error {
	return m.linkFn(ctx, recordID, ids)
}

type mockMemories struct {
	saveFn       func(ctx context.Context, in memoryuc.SaveInput) (dommem.Memory, error)
	saveManualFn func(ctx context.Context, userID string, scope dommem.Scope, key string, v value.Value) (dommem.Memory, error)
	listFn       func(ctx context.Context, userID string) ([]dommem.Memory, error)
	reinforceFn  func(ctx context.Context, userID, id string, boost float64) (dommem.Memory, error)
	decayFn      func(ctx context.Context, userID, id string, amount float64) (memoryuc.DecayResult, error)
	deleteFn     func(ctx context.Context, userID, id string) error
	promptFn     func(ctx context.Context, userID, base string) (string, error)
	extractFn    func(ctx context.Context, userID, transcript string) (memoryuc.ExtractResult, error)
}

func (m *mockMemories) Save(ctx context.Context, in memoryuc.SaveInput) (dommem.Memory, error) {
	return m.saveFn(ctx, in)
}

func (m *mockMemories) SaveManual(
	ctx context.Context, userID string, scope dommem.Scope, key string, v value.Value,
) (dommem.Memory, error) {
	return m.saveManualFn(ctx, userID, scope, key, v)
}

func (m *mockMemories) ListActive(ctx context.Context, userID string) ([]dommem.Memory, error) {
	return m.listFn(ctx, userID)
}

func (m *mockMemories) Reinforce(ctx context.Context, userID, id string, boost float64) (dommem.Memory, error) {
	return m.reinforceFn(ctx, userID, id, boost)
}

func (m *mockMemories) Decay(ctx context.Context, userID, id string, amount float64) (memoryuc.DecayResult, error) {
	return m.decayFn(ctx, userID, id, amount)
}

func (m *mockMemories) Delete(ctx context.Context, userID, id string) error {
	return m.deleteFn(ctx, userID, id)
}

func (m *mockMemories) Prompt(ctx context.Context, userID, base string) (string, error) {
	return m.promptFn(ctx, userID, base)
}

func (m *mockMemories) ExtractFromConversation(ctx context.Context, userID, transcript string) (memoryuc.ExtractResult, error) {
	return m.extractFn(ctx, userID, transcript)
}

type mockHealth struct {
	report healthuc.Report
}

func (m *mockHealth) Check(context.Context) healthuc.Report { return m.report }

type mockLimiter struct {
	allow bool
	err   error
	keys  []string
}

func (m *mockLimiter) AllowNow(_ context.Context, userID string) (bool, error) {
	m.keys = append(m.keys, userID)
	return m.allow, m.err
}

func (m *mockLimiter) RetryAfterNow() time.Duration { return 11500 * time.Millisecond }

// --- Helpers ---

func newTestRouter(svc Services, opts RouterOptions) http.Handler {
	return NewServer(svc, zap.NewNop()).Router(opts)
}

func do(h http.Handler, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	var rd io.Reader = http.NoBody
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}
