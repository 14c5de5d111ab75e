// Package attribute stores published record attributes as one hash per record:
// field = attribute key, value = JSON {"value": ..., "confidence": ..., "rev": ...}.
package attribute

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/kailas-cloud/sightdex/internal/domain"
	domattr "github.com/kailas-cloud/sightdex/internal/domain/attribute"
	"github.com/kailas-cloud/sightdex/internal/domain/value"
)

var keyPrefix = domain.KeyPrefix + "attrs:"

// store is the consumer interface for attribute hashes (ISP).
type store interface {
	HSet(ctx context.Context, key string, fields map[string]string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HGetAllMulti(ctx context.Context, keys []string) ([]map[string]string, error)
	HDelIfEqual(ctx context.Context, key string, fields map[string]string) (int64, error)
}

type stored struct {
	Value      value.Value `json:"value"`
	Confidence float64     `json:"confidence,omitempty"`
	// Rev differs on every Replace, so equal values written by two publishes
	// still encode differently.
	Rev string `json:"rev,omitempty"`
}

// Repo reads and writes record attributes.
type Repo struct {
	store store
	rev   func() string
}

// New creates an attribute repository.
func New(s store) *Repo {
	return &Repo{store: s, rev: uuid.NewString}
}

// Key returns the hash key holding a record's attributes.
func Key(recordID string) string { return keyPrefix + recordID }

// FetchAttributes bulk-loads attributes for ids in one pipeline.
// Ids without attributes are absent from the result. Undecodable fields are skipped.
func (r *Repo) FetchAttributes(ctx context.Context, ids []string) (map[string]map[string][]value.Value, error) {
	if len(ids) == 0 {
		return map[string]map[string][]value.Value{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = Key(id)
	}
	rows, err := r.store.HGetAllMulti(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("fetch attributes: %w", err)
	}

	out := make(map[string]map[string][]value.Value, len(ids))
	for i, fields := range rows {
		if i >= len(ids) || len(fields) == 0 {
			continue
		}
		attrs := make(map[string][]value.Value, len(fields))
		for k, raw := range fields {
			var s stored
			if err := json.Unmarshal([]byte(raw), &s); err != nil || s.Value.IsNone() {
				continue
			}
			attrs[k] = append(attrs[k], s.Value)
		}
		if len(attrs) > 0 {
			out[ids[i]] = attrs
		}
	}
	return out, nil
}

// Get returns the published attributes of one record, sorted by key.
func (r *Repo) Get(ctx context.Context, recordID string) ([]domattr.Extracted, error) {
	fields, err := r.store.HGetAll(ctx, Key(recordID))
	if err != nil {
		return nil, fmt.Errorf("get attributes %s: %w", recordID, err)
	}
	out := make([]domattr.Extracted, 0, len(fields))
	for k, raw := range fields {
		var s stored
		if err := json.Unmarshal([]byte(raw), &s); err != nil {
			continue
		}
		out = append(out, domattr.Extracted{Key: k, Value: s.Value, Confidence: s.Confidence, SourceMentionConfirmed: true})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Replace writes attrs and returns the previously stored fields that attrs no
// longer carries, with the encoding read before the write. Stale fields are
// left in place; the caller removes them with RemoveStale.
func (r *Repo) Replace(ctx context.Context, recordID string, attrs []domattr.Extracted) (domattr.Stale, error) {
	key := Key(recordID)
	current, err := r.store.HGetAll(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("read attributes %s: %w", recordID, err)
	}

	rev := r.rev()
	fields := make(map[string]string, len(attrs))
	for _, a := range attrs {
		data, err := json.Marshal(stored{Value: a.Value, Confidence: a.Confidence, Rev: rev})
		if err != nil {
			return nil, fmt.Errorf("encode attribute %s: %w", a.Key, err)
		}
		fields[a.Key] = string(data)
	}
	if len(fields) > 0 {
		if err := r.store.HSet(ctx, key, fields); err != nil {
			return nil, fmt.Errorf("write attributes %s: %w", recordID, err)
		}
	}

	stale := make(domattr.Stale)
	for k, raw := range current {
		if _, ok := fields[k]; !ok {
			stale[k] = raw
		}
	}
	return stale, nil
}

// RemoveStale deletes the stale fields that still hold the encoding Replace
// observed. A field rewritten by a later publish survives.
func (r *Repo) RemoveStale(ctx context.Context, recordID string, stale domattr.Stale) error {
	if len(stale) == 0 {
		return nil
	}
	if _, err := r.store.HDelIfEqual(ctx, Key(recordID), stale); err != nil {
		return fmt.Errorf("remove attributes %s: %w", recordID, err)
	}
	return nil
}
