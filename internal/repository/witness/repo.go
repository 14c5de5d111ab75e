// Package witness keeps the witness links of a record as a set of record ids.
package witness

import (
	"context"
	"fmt"

	"github.com/kailas-cloud/sightdex/internal/domain"
)

var keyPrefix = domain.KeyPrefix + "witness:"

// store is the consumer interface for witness sets (ISP).
type store interface {
	SAdd(ctx context.Context, key string, members ...string) error
	SCardMulti(ctx context.Context, keys []string) ([]int64, error)
}

// Repo links witnesses to records and reports their presence.
type Repo struct {
	store store
}

// New creates a witness repository.
func New(s store) *Repo {
	return &Repo{store: s}
}

// Link records witnessIDs as witnesses of recordID. Re-linking is a no-op.
func (r *Repo) Link(ctx context.Context, recordID string, witnessIDs ...string) error {
	if recordID == "" {
		return fmt.Errorf("record id is required: %w", domain.ErrInvalidRequest)
	}
	if len(witnessIDs) == 0 {
		return nil
	}
	if err := r.store.SAdd(ctx, keyPrefix+recordID, witnessIDs...); err != nil {
		return fmt.Errorf("link witnesses %s: %w", recordID, err)
	}
	return nil
}

// FetchWitnessPresence reports, per id, whether at least one witness is linked.
// Every requested id is present in the result.
func (r *Repo) FetchWitnessPresence(ctx context.Context, ids []string) (map[string]bool, error) {
	out := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = keyPrefix + id
	}
	counts, err := r.store.SCardMulti(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("fetch witness presence: %w", err)
	}
	for i, id := range ids {
		out[id] = i < len(counts) && counts[i] > 0
	}
	return out, nil
}
