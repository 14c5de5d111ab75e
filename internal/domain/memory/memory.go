// Package memory models confidence-scored personalization records.
package memory

import (
	"fmt"
	"math"
	"time"

	"github.com/kailas-cloud/sightdex/internal/domain/value"
)

// Scope classifies a memory.
type Scope string

// Memory scopes.
const (
	Preference Scope = "preference"
	Dislike    Scope = "dislike"
	Fact       Scope = "fact"
	Context    Scope = "context"
)

// IsValid checks if the scope is one of the supported values.
func (s Scope) IsValid() bool {
	return s == Preference || s == Dislike || s == Fact || s == Context
}

// Lifecycle constants.
const (
	DefaultBoost = 0.1
	DefaultDecay = 0.05
	// Floor is the confidence below which a decayed memory is deleted.
	Floor = 0.3
	// MaxContextEntries caps context lines in the rendered prompt section.
	MaxContextEntries = 3

	SourceManual       = "manual"
	SourceConversation = "conversation"
)

// Memory is one personalization fact.
type Memory struct {
	ID         string
	UserID     string
	Scope      Scope
	Key        string
	Value      value.Value
	Confidence float64
	Source     string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	ExpiresAt  *time.Time
}

// IsActive reports whether the memory is visible at now.
func (m *Memory) IsActive(now time.Time) bool {
	return m.ExpiresAt == nil || m.ExpiresAt.After(now)
}

// Validate checks the fields required for an upsert.
func (m *Memory) Validate() error {
	if m.UserID == "" {
		return fmt.Errorf("user id is required")
	}
	if !m.Scope.IsValid() {
		return fmt.Errorf("invalid scope %q", m.Scope)
	}
	if m.Key == "" {
		return fmt.Errorf("memory key is required")
	}
	if m.Value.IsNone() {
		return fmt.Errorf("memory value is required")
	}
	if math.IsNaN(m.Confidence) {
		return fmt.Errorf("confidence must be a number")
	}
	return nil
}

// Clamp bounds c to [0,1] and rounds away float drift so that repeated
// boosts and decays land on exact hundredths.
func Clamp(c float64) float64 {
	c = math.Round(c*1e4) / 1e4
	return math.Max(0, math.Min(1, c))
}

// Reinforced returns the confidence after a boost.
func Reinforced(c, boost float64) float64 {
	return Clamp(c + boost)
}

// Decayed returns the confidence after a decay and whether it fell below Floor.
func Decayed(c, amount float64) (next float64, drop bool) {
	next = Clamp(c - amount)
	return next, next < Floor
}
