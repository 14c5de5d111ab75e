// Package extraction turns free text into schema-conformant attributes with
// two sequential constrained calls: identify mentioned keys, then extract
// values for those keys only.
package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/sightdex/internal/domain"
	domattr "github.com/kailas-cloud/sightdex/internal/domain/attribute"
	"github.com/kailas-cloud/sightdex/internal/domain/value"
	"github.com/kailas-cloud/sightdex/internal/logger"
)

const (
	// DefaultTimeout bounds each completion call.
	DefaultTimeout = 30 * time.Second
	// MaxTags caps the tags kept from the extraction pass.
	MaxTags = 8
	// MaxTitleRunes bounds the generated title.
	MaxTitleRunes = 120
)

// Stage names reported in ExtractionError.
const (
	StageCategory = "category"
	StageIdentify = "identify"
	StageExtract  = "extract"
	StageValidate = "validate"
)

// sentinel values the model uses for "not stated"
var sentinels = map[string]struct{}{
	"":              {},
	"unknown":       {},
	"not_specified": {},
}

// Request is one extraction job. A known CategorySlug skips detection.
type Request struct {
	Text         string
	CategorySlug string
}

// Debug explains how the attribute set was narrowed.
type Debug struct {
	Pass1Keys       []string `json:"pass1_keys"`
	Pass2Keys       []string `json:"pass2_keys"`
	DroppedUnlisted int      `json:"dropped_unlisted"`
	DroppedSentinel int      `json:"dropped_sentinel"`
}

// Response is the cleaned extraction result.
type Response struct {
	Category           string
	CategoryDetected   bool
	CategoryConfidence float64
	CategoryReasoning  string
	Justification      string
	Title              string
	Tags               []string
	Attributes         []domattr.Extracted
	MissingInfo        []string
	Debug              Debug
}

// Service runs category detection and the two extraction passes, and publishes results.
type Service struct {
	completer Completer
	catalog   *domattr.Catalog
	attrs     AttributeStore
	cleanup   Scheduler
	timeout   time.Duration
}

// Option configures the service.
type Option func(*Service)

// WithTimeout overrides DefaultTimeout for every completion call.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// New creates an extraction service. attrs and sched are only needed for Publish.
func New(c Completer, catalog *domattr.Catalog, attrs AttributeStore, sched Scheduler, opts ...Option) *Service {
	s := &Service{
		completer: c,
		catalog:   catalog,
		attrs:     attrs,
		cleanup:   sched,
		timeout:   DefaultTimeout,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Catalog returns the category and schema catalog the service validates against.
func (s *Service) Catalog() *domattr.Catalog { return s.catalog }

type categoryOutput struct {
	Slug       string  `json:"slug"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

type identifyOutput struct {
	MentionedKeys []string `json:"mentioned_keys"`
	Justification string   `json:"justification"`
}

type extractedField struct {
	Value      json.RawMessage `json:"value"`
	Confidence float64         `json:"confidence"`
}

type extractOutput struct {
	Title       string                    `json:"title"`
	Tags        []string                  `json:"tags"`
	Attributes  map[string]extractedField `json:"attributes"`
	MissingInfo []string                  `json:"missing_info"`
}

// Extract detects the category (unless given) and runs both passes.
// Any provider failure, malformed output or enum violation fails the whole call.
func (s *Service) Extract(ctx context.Context, req Request) (Response, error) {
	if strings.TrimSpace(req.Text) == "" {
		return Response{}, fmt.Errorf("%w: text is required", domain.ErrInvalidRequest)
	}

	var resp Response
	if req.CategorySlug != "" && s.catalog.HasCategory(req.CategorySlug) {
		resp.Category = req.CategorySlug
	} else {
		if err := s.detectCategory(ctx, req.Text, &resp); err != nil {
			return Response{}, err
		}
	}

	entries := s.catalog.ForCategory(resp.Category)

	var pass1 identifyOutput
	err := s.complete(ctx, StageIdentify, domain.StructuredRequest{
		Name:   "identify_attributes",
		System: identifySystem,
		Prompt: identifyPrompt(entries, req.Text),
		Schema: identifySchema(entries),
	}, &pass1)
	if err != nil {
		return Response{}, err
	}
	resp.Justification = pass1.Justification
	resp.Debug.Pass1Keys = knownKeys(entries, pass1.MentionedKeys)

	allowed := domattr.Restrict(entries, resp.Debug.Pass1Keys)

	var pass2 extractOutput
	err = s.complete(ctx, StageExtract, domain.StructuredRequest{
		Name:   "extract_attributes",
		System: extractSystem,
		Prompt: extractPrompt(allowed, req.Text),
		Schema: extractSchema(allowed),
	}, &pass2)
	if err != nil {
		return Response{}, err
	}

	if err := postProcess(&resp, allowed, &pass2); err != nil {
		return Response{}, err
	}

	logger.FromContext(ctx).Debug("Extraction completed",
		zap.String("category", resp.Category),
		zap.Strings("pass1_keys", resp.Debug.Pass1Keys),
		zap.Int("attributes", len(resp.Attributes)),
		zap.Int("dropped_unlisted", resp.Debug.DroppedUnlisted),
		zap.Int("dropped_sentinel", resp.Debug.DroppedSentinel),
	)
	return resp, nil
}

func (s *Service) detectCategory(ctx context.Context, text string, resp *Response) error {
	var out categoryOutput
	err := s.complete(ctx, StageCategory, domain.StructuredRequest{
		Name:   "detect_category",
		System: categorySystem,
		Prompt: categoryPrompt(s.catalog, text),
		Schema: categorySchema(s.catalog),
	}, &out)
	if err != nil {
		return err
	}
	slug := strings.TrimSpace(out.Slug)
	if !s.catalog.HasCategory(slug) {
		return &domain.ExtractionError{
			Stage: StageCategory,
			Err:   &domain.SchemaViolationError{Key: "category", Value: out.Slug, Allowed: s.catalog.Slugs()},
		}
	}
	resp.Category = slug
	resp.CategoryDetected = true
	resp.CategoryConfidence = clampConfidence(out.Confidence)
	resp.CategoryReasoning = out.Reasoning
	return nil
}

// complete runs one bounded call and decodes its JSON into out.
func (s *Service) complete(ctx context.Context, stage string, req domain.StructuredRequest, out any) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.completer.CompleteStructured(ctx, req)
	if err != nil {
		return &domain.ExtractionError{Stage: stage, Err: err}
	}
	if err := json.Unmarshal(res.Content, out); err != nil {
		return &domain.ExtractionError{Stage: stage, Err: fmt.Errorf("malformed output: %w", err)}
	}
	return nil
}

// knownKeys keeps mentioned keys that exist in entries, deduplicated, in entry order.
func knownKeys(entries []domattr.SchemaEntry, mentioned []string) []string {
	want := make(map[string]struct{}, len(mentioned))
	for _, k := range mentioned {
		want[strings.TrimSpace(k)] = struct{}{}
	}
	out := make([]string, 0, len(want))
	for _, e := range entries {
		if _, ok := want[e.Key]; ok {
			out = append(out, e.Key)
		}
	}
	return out
}

func postProcess(resp *Response, allowed []domattr.SchemaEntry, out *extractOutput) error {
	lookup := domattr.Lookup(allowed)

	keys := make([]string, 0, len(out.Attributes))
	for k := range out.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	resp.Debug.Pass2Keys = keys

	attrs := make([]domattr.Extracted, 0, len(keys))
	for _, k := range keys {
		entry, ok := lookup[k]
		if !ok {
			resp.Debug.DroppedUnlisted++
			continue
		}
		field := out.Attributes[k]
		var v value.Value
		if len(field.Value) > 0 {
			if err := json.Unmarshal(field.Value, &v); err != nil {
				return &domain.ExtractionError{Stage: StageExtract, Err: fmt.Errorf("attribute %s: %w", k, err)}
			}
		}
		v, keep := stripSentinels(v.Canonical())
		if !keep {
			resp.Debug.DroppedSentinel++
			continue
		}
		if err := conform(entry, v); err != nil {
			return &domain.ExtractionError{Stage: StageValidate, Err: err}
		}
		attrs = append(attrs, domattr.Extracted{
			Key:                    k,
			Value:                  v,
			Confidence:             clampConfidence(field.Confidence),
			SourceMentionConfirmed: true,
		})
	}

	resp.Title = truncateRunes(strings.TrimSpace(out.Title), MaxTitleRunes)
	resp.Tags = normalizeTags(out.Tags)
	resp.Attributes = attrs
	resp.MissingInfo = nonEmpty(out.MissingInfo)
	return nil
}

// stripSentinels drops "not stated" markers. Arrays keep their remaining items.
func stripSentinels(v value.Value) (value.Value, bool) {
	switch v.Kind() {
	case value.KindNone:
		return v, false
	case value.KindString:
		s, _ := v.AsString()
		_, bad := sentinels[s]
		return v, !bad
	case value.KindStringArray:
		items, _ := v.AsStringArray()
		kept := items[:0]
		for _, it := range items {
			if _, bad := sentinels[it]; !bad {
				kept = append(kept, it)
			}
		}
		if len(kept) == 0 {
			return value.Value{}, false
		}
		return value.StringArray(kept), true
	default:
		return v, true
	}
}

// conform checks the value kind against the entry type and enum membership.
func conform(e domattr.SchemaEntry, v value.Value) error {
	ok := false
	switch e.DataType {
	case domattr.Enum:
		ok = v.Kind() == value.KindString || v.Kind() == value.KindStringArray
	case domattr.String:
		ok = v.Kind() == value.KindString || v.Kind() == value.KindStringArray
	case domattr.Boolean:
		ok = v.Kind() == value.KindBool
	case domattr.Number:
		ok = v.Kind() == value.KindNumber
	}
	if !ok || !e.Allows(v) {
		viol := &domain.SchemaViolationError{Key: e.Key, Value: strings.Join(v.Strings(), ",")}
		if e.DataType == domattr.Enum {
			viol.Allowed = e.AllowedValues
		}
		return viol
	}
	return nil
}

func normalizeTags(tags []string) []string {
	out := make([]string, 0, min(len(tags), MaxTags))
	seen := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
		if len(out) == MaxTags {
			break
		}
	}
	return out
}

func nonEmpty(items []string) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		if it = strings.TrimSpace(it); it != "" {
			out = append(out, it)
		}
	}
	return out
}

func clampConfidence(c float64) float64 {
	if math.IsNaN(c) {
		return 0
	}
	return math.Max(0, math.Min(1, c))
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n]))
}
