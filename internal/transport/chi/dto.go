package chi

import (
	"fmt"
	"time"

	domattr "github.com/kailas-cloud/sightdex/internal/domain/attribute"
	dommem "github.com/kailas-cloud/sightdex/internal/domain/memory"
	domrec "github.com/kailas-cloud/sightdex/internal/domain/record"
	"github.com/kailas-cloud/sightdex/internal/domain/search/candidate"
	"github.com/kailas-cloud/sightdex/internal/domain/search/filter"
	"github.com/kailas-cloud/sightdex/internal/domain/search/request"
	"github.com/kailas-cloud/sightdex/internal/domain/value"
	"github.com/kailas-cloud/sightdex/internal/usecase/extraction"
	"github.com/kailas-cloud/sightdex/internal/usecase/retrieval"
)

// ErrorCode is the machine-readable error kind in ErrorResponse.
type ErrorCode string

// Error codes.
const (
	CodeBadRequest          ErrorCode = "bad_request"
	CodeUnauthorized        ErrorCode = "unauthorized"
	CodeValidationFailed    ErrorCode = "validation_failed"
	CodeNotFound            ErrorCode = "not_found"
	CodeMemoryNotFound      ErrorCode = "memory_not_found"
	CodeInvalidSeed         ErrorCode = "invalid_seed"
	CodeSchemaViolation     ErrorCode = "schema_violation"
	CodeRateLimited         ErrorCode = "rate_limited"
	CodeRetrievalFailed     ErrorCode = "retrieval_failed"
	CodeExtractionFailed    ErrorCode = "extraction_failed"
	CodeEmbeddingProvider   ErrorCode = "embedding_provider_error"
	CodeCompletionProvider  ErrorCode = "completion_provider_error"
	CodeKeywordNotSupported ErrorCode = "keyword_search_not_supported"
	CodeInternal            ErrorCode = "internal_error"
)

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable,omitempty"`
	// Key and Allowed describe a schema violation.
	Key     string   `json:"key,omitempty"`
	Allowed []string `json:"allowed,omitempty"`
}

// --- search ---

type coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type searchFilters struct {
	Category          string              `json:"category,omitempty"`
	TagsInclude       []string            `json:"tags_include,omitempty"`
	TagsExclude       []string            `json:"tags_exclude,omitempty"`
	DateFrom          *time.Time          `json:"date_from,omitempty"`
	DateTo            *time.Time          `json:"date_to,omitempty"`
	Location          string              `json:"location,omitempty"`
	AttributesInclude map[string][]string `json:"attributes_include,omitempty"`
	AttributesExclude map[string][]string `json:"attributes_exclude,omitempty"`
	WitnessRequired   bool                `json:"witness_required,omitempty"`
}

type searchRequest struct {
	Query        string         `json:"query"`
	Vector       []float32      `json:"vector,omitempty"`
	SimilarTo    string         `json:"similar_to,omitempty"`
	MaxResults   *int           `json:"max_results,omitempty"`
	VectorWeight *float64       `json:"vector_weight,omitempty"`
	Filters      *searchFilters `json:"filters,omitempty"`
	Debug        bool           `json:"debug,omitempty"`
}

type searchResultItem struct {
	ID            string                 `json:"id"`
	Title         string                 `json:"title"`
	Category      string                 `json:"category,omitempty"`
	Tags          []string               `json:"tags"`
	Location      string                 `json:"location,omitempty"`
	Coordinates   *coordinates           `json:"coordinates,omitempty"`
	OccurredAt    *time.Time             `json:"occurred_at,omitempty"`
	VectorScore   float64                `json:"vector_score"`
	LexicalScore  float64                `json:"lexical_score"`
	CombinedScore float64                `json:"score"`
	Attributes    map[string]value.Value `json:"attributes,omitempty"`
}

type searchResponse struct {
	Items []searchResultItem `json:"items"`
	Mode  string             `json:"mode"`
	Total int                `json:"total"`
	Debug *retrieval.Debug   `json:"debug,omitempty"`
}

func (f *searchFilters) toDomain() filter.Set {
	if f == nil {
		return filter.Set{}
	}
	return filter.Set{
		Category:          f.Category,
		TagsInclude:       f.TagsInclude,
		TagsExclude:       f.TagsExclude,
		Dates:             filter.DateRange{From: f.DateFrom, To: f.DateTo},
		Location:          f.Location,
		AttributesInclude: f.AttributesInclude,
		AttributesExclude: f.AttributesExclude,
		WitnessRequired:   f.WitnessRequired,
	}
}

func (req *searchRequest) toDomain() (request.Request, error) {
	maxResults := 0
	if req.MaxResults != nil {
		if *req.MaxResults <= 0 || *req.MaxResults > request.MaxMaxResults {
			return request.Request{}, fmt.Errorf("max_results must be between 1 and %d", request.MaxMaxResults)
		}
		maxResults = *req.MaxResults
	}
	r, err := request.New(req.Query, req.Vector, req.SimilarTo, req.Filters.toDomain(), maxResults, req.VectorWeight)
	if err != nil {
		return request.Request{}, fmt.Errorf("build search request: %w", err)
	}
	return r, nil
}

func candidateToDTO(c *candidate.Candidate) searchResultItem {
	item := searchResultItem{
		ID:            c.ID,
		Title:         c.Title,
		Category:      c.CategorySlug,
		Tags:          c.Tags,
		Location:      c.LocationText,
		OccurredAt:    c.OccurredAt,
		VectorScore:   c.VectorScore,
		LexicalScore:  c.LexicalScore,
		CombinedScore: c.CombinedScore,
		Attributes:    c.Attributes,
	}
	if item.Tags == nil {
		item.Tags = []string{}
	}
	if c.Coordinates != nil {
		item.Coordinates = &coordinates{Lat: c.Coordinates.Lat, Lng: c.Coordinates.Lng}
	}
	return item
}

// --- extraction ---

type extractRequest struct {
	Text     string `json:"text"`
	Category string `json:"category,omitempty"`
}

type extractResponse struct {
	Category           string              `json:"category"`
	CategoryDetected   bool                `json:"category_detected"`
	CategoryConfidence float64             `json:"category_confidence,omitempty"`
	CategoryReasoning  string              `json:"category_reasoning,omitempty"`
	Justification      string              `json:"justification,omitempty"`
	Title              string              `json:"title"`
	Tags               []string            `json:"tags"`
	Attributes         []domattr.Extracted `json:"attributes"`
	MissingInfo        []string            `json:"missing_info"`
	Debug              extraction.Debug    `json:"debug"`
}

func extractionToDTO(r *extraction.Response) extractResponse {
	out := extractResponse{
		Category:           r.Category,
		CategoryDetected:   r.CategoryDetected,
		CategoryConfidence: r.CategoryConfidence,
		CategoryReasoning:  r.CategoryReasoning,
		Justification:      r.Justification,
		Title:              r.Title,
		Tags:               r.Tags,
		Attributes:         r.Attributes,
		MissingInfo:        r.MissingInfo,
		Debug:              r.Debug,
	}
	if out.Tags == nil {
		out.Tags = []string{}
	}
	if out.Attributes == nil {
		out.Attributes = []domattr.Extracted{}
	}
	if out.MissingInfo == nil {
		out.MissingInfo = []string{}
	}
	return out
}

type attributeInput struct {
	Key        string      `json:"key"`
	Value      value.Value `json:"value"`
	Confidence *float64    `json:"confidence,omitempty"`
}

type publishRequest struct {
	Category   string           `json:"category"`
	Attributes []attributeInput `json:"attributes"`
}

type publishResponse struct {
	Written          int      `json:"written"`
	Stale            []string `json:"stale"`
	CleanupScheduled bool     `json:"cleanup_scheduled"`
}

func (req *publishRequest) toDomain() []domattr.Extracted {
	out := make([]domattr.Extracted, len(req.Attributes))
	for i, a := range req.Attributes {
		conf := 1.0
		if a.Confidence != nil {
			conf = *a.Confidence
		}
		out[i] = domattr.Extracted{Key: a.Key, Value: a.Value, Confidence: conf}
	}
	return out
}

func publishToDTO(r extraction.PublishResult) publishResponse {
	stale := r.Stale
	if stale == nil {
		stale = []string{}
	}
	return publishResponse{Written: r.Written, Stale: stale, CleanupScheduled: r.CleanupScheduled}
}

// --- records ---

type recordRequest struct {
	Title       string       `json:"title"`
	Body        string       `json:"body"`
	Category    string       `json:"category,omitempty"`
	Tags        []string     `json:"tags,omitempty"`
	Location    string       `json:"location,omitempty"`
	Coordinates *coordinates `json:"coordinates,omitempty"`
	OccurredAt  *time.Time   `json:"occurred_at,omitempty"`
	WitnessIDs  []string     `json:"witness_ids,omitempty"`
}

type recordResponse struct {
	ID                    string           `json:"id"`
	Title                 string           `json:"title"`
	Body                  string           `json:"body"`
	Category              string           `json:"category,omitempty"`
	Tags                  []string         `json:"tags"`
	Location              string           `json:"location,omitempty"`
	Coordinates           *coordinates     `json:"coordinates,omitempty"`
	OccurredAt            *time.Time       `json:"occurred_at,omitempty"`
	CreatedAt             time.Time        `json:"created_at"`
	ExtractionUnavailable bool             `json:"extraction_unavailable"`
	Extraction            *extractResponse `json:"extraction,omitempty"`
	Attributes            *publishResponse `json:"attributes,omitempty"`
}

type witnessRequest struct {
	WitnessIDs []string `json:"witness_ids"`
}

func (req *recordRequest) toDomain(id string) domrec.Record {
	rec := domrec.Record{
		ID:           id,
		Title:        req.Title,
		Body:         req.Body,
		CategorySlug: req.Category,
		Tags:         req.Tags,
		LocationText: req.Location,
		OccurredAt:   req.OccurredAt,
	}
	if req.Coordinates != nil {
		rec.Coordinates = &candidate.Coordinates{Lat: req.Coordinates.Lat, Lng: req.Coordinates.Lng}
	}
	return rec
}

func recordToDTO(r *domrec.Record) recordResponse {
	out := recordResponse{
		ID:                    r.ID,
		Title:                 r.Title,
		Body:                  r.Body,
		Category:              r.CategorySlug,
		Tags:                  r.Tags,
		Location:              r.LocationText,
		OccurredAt:            r.OccurredAt,
		CreatedAt:             r.CreatedAt,
		ExtractionUnavailable: r.ExtractionUnavailable,
	}
	if out.Tags == nil {
		out.Tags = []string{}
	}
	if r.Coordinates != nil {
		out.Coordinates = &coordinates{Lat: r.Coordinates.Lat, Lng: r.Coordinates.Lng}
	}
	return out
}

// --- memories ---

type memoryRequest struct {
	Scope string      `json:"scope"`
	Key   string      `json:"key"`
	Value value.Value `json:"value"`
	// Confidence and Source switch from a manual save to an explicit one.
	Confidence *float64   `json:"confidence,omitempty"`
	Source     string     `json:"source,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

type adjustRequest struct {
	Amount float64 `json:"amount"`
}

type memoryResponse struct {
	ID         string      `json:"id"`
	Scope      string      `json:"scope"`
	Key        string      `json:"key"`
	Value      value.Value `json:"value"`
	Confidence float64     `json:"confidence"`
	Source     string      `json:"source"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
	ExpiresAt  *time.Time  `json:"expires_at,omitempty"`
}

type memoryListResponse struct {
	Items []memoryResponse `json:"items"`
}

type decayResponse struct {
	Memory  memoryResponse `json:"memory"`
	Deleted bool           `json:"deleted"`
}

type promptResponse struct {
	Prompt string `json:"prompt"`
}

type conversationRequest struct {
	Transcript string `json:"transcript"`
}

type conversationResponse struct {
	Triggered bool             `json:"triggered"`
	Saved     []memoryResponse `json:"saved"`
}

func memoryToDTO(m *dommem.Memory) memoryResponse {
	return memoryResponse{
		ID:         m.ID,
		Scope:      string(m.Scope),
		Key:        m.Key,
		Value:      m.Value,
		Confidence: m.Confidence,
		Source:     m.Source,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
		ExpiresAt:  m.ExpiresAt,
	}
}

func memoriesToDTO(ms []dommem.Memory) []memoryResponse {
	out := make([]memoryResponse, len(ms))
	for i := range ms {
		out[i] = memoryToDTO(&ms[i])
	}
	return out
}

// --- health ---

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}
