package chi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/sightdex/internal/domain"
	dommem "github.com/kailas-cloud/sightdex/internal/domain/memory"
	"github.com/kailas-cloud/sightdex/internal/logger"
	"github.com/kailas-cloud/sightdex/internal/usecase/extraction"
	healthuc "github.com/kailas-cloud/sightdex/internal/usecase/health"
	memoryuc "github.com/kailas-cloud/sightdex/internal/usecase/memory"
	recorduc "github.com/kailas-cloud/sightdex/internal/usecase/record"
)

// maxBodyBytes bounds request bodies; record bodies are capped lower by the domain.
const maxBodyBytes = 1 << 20

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

// Services groups the use cases served over HTTP. A nil service leaves its routes unregistered.
type Services struct {
	Search   Searcher
	Extract  Extractor
	Records  Records
	Memories Memories
	Health   HealthChecker
}

// Server holds the HTTP handlers.
type Server struct {
	svc           Services
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server.
func NewServer(svc Services, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{svc: svc, logger: logger}
	// order matters: a schema violation inside an ExtractionError is not retryable
	s.errorHandlers = []errorHandler{
		schemaViolationHandler,
		sentinelHandler(domain.ErrInvalidSeed, http.StatusBadRequest, CodeInvalidSeed),
		sentinelHandler(domain.ErrMemoryNotFound, http.StatusNotFound, CodeMemoryNotFound),
		sentinelHandler(domain.ErrNotFound, http.StatusNotFound, CodeNotFound),
		sentinelHandler(domain.ErrInvalidRequest, http.StatusBadRequest, CodeValidationFailed),
		sentinelHandler(domain.ErrRateLimited, http.StatusTooManyRequests, CodeRateLimited),
		sentinelHandler(domain.ErrKeywordSearchNotSupported, http.StatusNotImplemented, CodeKeywordNotSupported),
		sentinelHandler(domain.ErrRetrieval, http.StatusBadGateway, CodeRetrievalFailed),
		sentinelHandler(domain.ErrExtraction, http.StatusBadGateway, CodeExtractionFailed),
		sentinelHandler(domain.ErrEmbeddingProviderError, http.StatusBadGateway, CodeEmbeddingProvider),
		sentinelHandler(domain.ErrCompletionProviderError, http.StatusBadGateway, CodeCompletionProvider),
	}
	return s
}

// Register mounts the API routes on r. limit wraps the LLM-backed routes.
func (s *Server) Register(r chi.Router, limit func(http.Handler) http.Handler) {
	if limit == nil {
		limit = func(next http.Handler) http.Handler { return next }
	}

	if s.svc.Health != nil {
		r.Get("/health", s.HealthCheck)
	}
	r.Get("/metrics", s.Metrics)

	if s.svc.Search != nil {
		r.With(limit).Post("/search", s.Search)
	}
	if s.svc.Extract != nil {
		r.With(limit).Post("/extract", s.Extract)
	}
	if s.svc.Records != nil || s.svc.Extract != nil {
		r.Route("/records/{id}", func(r chi.Router) {
			if s.svc.Records != nil {
				r.With(limit).Put("/", s.UpsertRecord)
				r.Get("/", s.GetRecord)
				r.Post("/witnesses", s.LinkWitnesses)
			}
			if s.svc.Extract != nil {
				r.Put("/attributes", s.PublishAttributes)
			}
		})
	}
	if s.svc.Memories != nil {
		r.Route("/users/{userId}/memories", func(r chi.Router) {
			r.Get("/", s.ListMemories)
			r.Post("/", s.SaveMemory)
			r.Get("/prompt", s.MemoryPrompt)
			r.With(limit).Post("/extract", s.ExtractMemories)
			r.Delete("/{id}", s.DeleteMemory)
			r.Post("/{id}/reinforce", s.ReinforceMemory)
			r.Post("/{id}/decay", s.DecayMemory)
		})
	}
}

// Search handles POST /search.
func (s *Server) Search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if !s.decode(w, r, &req) {
		return
	}
	sr, err := req.toDomain()
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeValidationFailed, err.Error())
		return
	}

	ctx, usage := domain.NewContextWithUsage(r.Context())
	resp, err := s.svc.Search.Search(ctx, &sr)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	items := make([]searchResultItem, len(resp.Results))
	for i := range resp.Results {
		items[i] = candidateToDTO(&resp.Results[i])
	}
	out := searchResponse{Items: items, Mode: string(resp.Mode), Total: len(items)}
	if req.Debug {
		out.Debug = &resp.Debug
	}
	setUsageHeaders(w, usage)
	writeJSON(w, http.StatusOK, out)
}

// Extract handles POST /extract.
func (s *Server) Extract(w http.ResponseWriter, r *http.Request) {
	var req extractRequest
	if !s.decode(w, r, &req) {
		return
	}

	ctx, usage := domain.NewContextWithUsage(r.Context())
	resp, err := s.svc.Extract.Extract(ctx, extraction.Request{Text: req.Text, CategorySlug: req.Category})
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	setUsageHeaders(w, usage)
	writeJSON(w, http.StatusOK, extractionToDTO(&resp))
}

// UpsertRecord handles PUT /records/{id}.
func (s *Server) UpsertRecord(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathParam(w, r, "id")
	if !ok {
		return
	}
	var req recordRequest
	if !s.decode(w, r, &req) {
		return
	}

	ctx, usage := domain.NewContextWithUsage(r.Context())
	res, err := s.svc.Records.Ingest(ctx, recorduc.IngestInput{Record: req.toDomain(id), WitnessIDs: req.WitnessIDs})
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	out := recordToDTO(&res.Record)
	if res.Extraction != nil {
		ext := extractionToDTO(res.Extraction)
		pub := publishToDTO(res.Publish)
		out.Extraction = &ext
		out.Attributes = &pub
	}
	setUsageHeaders(w, usage)
	writeJSON(w, http.StatusOK, out)
}

// GetRecord handles GET /records/{id}.
func (s *Server) GetRecord(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathParam(w, r, "id")
	if !ok {
		return
	}
	rec, err := s.svc.Records.Get(r.Context(), id)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, recordToDTO(&rec))
}

// LinkWitnesses handles POST /records/{id}/witnesses.
func (s *Server) LinkWitnesses(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathParam(w, r, "id")
	if !ok {
		return
	}
	var req witnessRequest
	if !s.decode(w, r, &req) {
		return
	}
	if len(req.WitnessIDs) == 0 {
		writeError(w, http.StatusBadRequest, CodeValidationFailed, "witness_ids is required")
		return
	}
	if err := s.svc.Records.LinkWitnesses(r.Context(), id, req.WitnessIDs); err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PublishAttributes handles PUT /records/{id}/attributes.
func (s *Server) PublishAttributes(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathParam(w, r, "id")
	if !ok {
		return
	}
	var req publishRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.svc.Extract.Publish(r.Context(), id, req.Category, req.toDomain())
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, publishToDTO(res))
}

// ListMemories handles GET /users/{userId}/memories.
func (s *Server) ListMemories(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.pathParam(w, r, "userId")
	if !ok {
		return
	}
	mems, err := s.svc.Memories.ListActive(r.Context(), userID)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, memoryListResponse{Items: memoriesToDTO(mems)})
}

// SaveMemory handles POST /users/{userId}/memories. Without confidence the
// memory is saved as a manual entry.
func (s *Server) SaveMemory(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.pathParam(w, r, "userId")
	if !ok {
		return
	}
	var req memoryRequest
	if !s.decode(w, r, &req) {
		return
	}

	var (
		m   dommem.Memory
		err error
	)
	if req.Confidence == nil {
		m, err = s.svc.Memories.SaveManual(r.Context(), userID, dommem.Scope(req.Scope), req.Key, req.Value)
	} else {
		m, err = s.svc.Memories.Save(r.Context(), memoryuc.SaveInput{
			UserID:     userID,
			Scope:      dommem.Scope(req.Scope),
			Key:        req.Key,
			Value:      req.Value,
			Confidence: *req.Confidence,
			Source:     req.Source,
			ExpiresAt:  req.ExpiresAt,
		})
	}
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, memoryToDTO(&m))
}

// DeleteMemory handles DELETE /users/{userId}/memories/{id}.
func (s *Server) DeleteMemory(w http.ResponseWriter, r *http.Request) {
	userID, id, ok := s.memoryParams(w, r)
	if !ok {
		return
	}
	if err := s.svc.Memories.Delete(r.Context(), userID, id); err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ReinforceMemory handles POST /users/{userId}/memories/{id}/reinforce.
func (s *Server) ReinforceMemory(w http.ResponseWriter, r *http.Request) {
	userID, id, ok := s.memoryParams(w, r)
	if !ok {
		return
	}
	var req adjustRequest
	if !s.decodeOptional(w, r, &req) {
		return
	}
	m, err := s.svc.Memories.Reinforce(r.Context(), userID, id, req.Amount)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, memoryToDTO(&m))
}

// DecayMemory handles POST /users/{userId}/memories/{id}/decay.
func (s *Server) DecayMemory(w http.ResponseWriter, r *http.Request) {
	userID, id, ok := s.memoryParams(w, r)
	if !ok {
		return
	}
	var req adjustRequest
	if !s.decodeOptional(w, r, &req) {
		return
	}
	res, err := s.svc.Memories.Decay(r.Context(), userID, id, req.Amount)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, decayResponse{Memory: memoryToDTO(&res.Memory), Deleted: res.Deleted})
}

// MemoryPrompt handles GET /users/{userId}/memories/prompt?base=...
func (s *Server) MemoryPrompt(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.pathParam(w, r, "userId")
	if !ok {
		return
	}
	var base string
	if err := runtime.BindQueryParameter("form", true, false, "base", r.URL.Query(), &base); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, fmt.Sprintf("invalid parameter base: %v", err))
		return
	}
	prompt, err := s.svc.Memories.Prompt(r.Context(), userID, base)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, promptResponse{Prompt: prompt})
}

// ExtractMemories handles POST /users/{userId}/memories/extract.
func (s *Server) ExtractMemories(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.pathParam(w, r, "userId")
	if !ok {
		return
	}
	var req conversationRequest
	if !s.decode(w, r, &req) {
		return
	}

	ctx, usage := domain.NewContextWithUsage(r.Context())
	res, err := s.svc.Memories.ExtractFromConversation(ctx, userID, req.Transcript)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	setUsageHeaders(w, usage)
	writeJSON(w, http.StatusOK, conversationResponse{Triggered: res.Triggered, Saved: memoriesToDTO(res.Saved)})
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.svc.Health.Check(r.Context())

	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}

	httpStatus := http.StatusOK
	if report.Status != healthuc.Healthy {
		httpStatus = http.StatusServiceUnavailable
	}
	writeJSON(w, httpStatus, healthResponse{Status: string(report.Status), Checks: checks})
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

// pathParam binds a required simple-style path parameter.
func (s *Server) pathParam(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	var v string
	err := runtime.BindStyledParameterWithOptions("simple", name, chi.URLParam(r, name), &v,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil || v == "" {
		writeError(w, http.StatusBadRequest, CodeBadRequest, fmt.Sprintf("invalid parameter %s", name))
		return "", false
	}
	return v, true
}

func (s *Server) memoryParams(w http.ResponseWriter, r *http.Request) (userID, id string, ok bool) {
	if userID, ok = s.pathParam(w, r, "userId"); !ok {
		return "", "", false
	}
	if id, ok = s.pathParam(w, r, "id"); !ok {
		return "", "", false
	}
	return userID, id, true
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "Invalid request body: "+err.Error())
		return false
	}
	return true
}

// decodeOptional accepts an empty body.
func (s *Server) decodeOptional(w http.ResponseWriter, r *http.Request, dst any) bool {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst)
	if err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "Invalid request body: "+err.Error())
		return false
	}
	return true
}

func setUsageHeaders(w http.ResponseWriter, usage *domain.Usage) {
	emb, comp, used := usage.Snapshot()
	if !used {
		return
	}
	w.Header().Set("X-Embedding-Tokens", strconv.Itoa(emb))
	w.Header().Set("X-Completion-Tokens", strconv.Itoa(comp))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code ErrorCode, message string) {
	writeJSON(w, status, ErrorResponse{Code: code, Message: message})
}

// safeDomainMessage returns a sentinel error message for the client without exposing internals.
func safeDomainMessage(err error) string {
	sentinels := []error{
		domain.ErrSchemaViolation,
		domain.ErrInvalidSeed,
		domain.ErrMemoryNotFound,
		domain.ErrNotFound,
		domain.ErrRateLimited,
		domain.ErrKeywordSearchNotSupported,
		domain.ErrRetrieval,
		domain.ErrExtraction,
		domain.ErrEmbeddingProviderError,
		domain.ErrCompletionProviderError,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	// validation messages are written for the client
	if errors.Is(err, domain.ErrInvalidRequest) {
		return err.Error()
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code ErrorCode) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		retryable := domain.IsRetryable(err)
		if status == http.StatusTooManyRequests {
			retryable = true
		}
		writeJSON(w, status, ErrorResponse{Code: code, Message: msg, Retryable: retryable})
		return true
	}
}

// schemaViolationHandler reports the offending key and its allowed values.
func schemaViolationHandler(w http.ResponseWriter, err error, msg string) bool {
	var sve *domain.SchemaViolationError
	if !errors.As(err, &sve) {
		return false
	}
	writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
		Code:    CodeSchemaViolation,
		Message: msg,
		Key:     sve.Key,
		Allowed: sve.Allowed,
	})
	return true
}

func (s *Server) handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	log := logger.FromContext(r.Context())
	log.Warn("domain error", zap.Error(err))
	msg := safeDomainMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			return
		}
	}
	log.Error("internal error", zap.String("path", r.URL.Path), zap.Error(err))
	writeError(w, http.StatusInternalServerError, CodeInternal, "internal error")
}
