package redis

import (
	"context"
	"fmt"

	"github.com/redis/rueidis"

	"github.com/kailas-cloud/sightdex/internal/db"
)

// SAdd adds members to a set.
func (s *Store) SAdd(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	cmd := s.b().Sadd().Key(key).Member(members...).Build()
	if err := s.do(ctx, cmd).Error(); err != nil {
		return &db.Error{Op: db.OpSAdd, Err: err}
	}
	return nil
}

// SCardMulti returns set cardinalities in one DoMulti round-trip.
// Missing keys count as 0.
func (s *Store) SCardMulti(ctx context.Context, keys []string) ([]int64, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	cmds := make([]rueidis.Completed, len(keys))
	for i, key := range keys {
		cmds[i] = s.b().Scard().Key(key).Build()
	}

	results := s.client.DoMulti(ctx, cmds...)
	out := make([]int64, len(results))
	for i, res := range results {
		n, err := res.AsInt64()
		if err != nil {
			return nil, &db.Error{Op: db.OpSCard, Err: fmt.Errorf("key %s: %w", keys[i], err)}
		}
		out[i] = n
	}
	return out, nil
}
