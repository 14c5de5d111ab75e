package mode

// Mode is the retrieval strategy actually used for a query.
type Mode string

// Search mode constants.
const (
	// Hybrid fuses semantic and lexical relevance.
	Hybrid   Mode = "hybrid"
	Semantic Mode = "semantic"
	// Lexical is the fallback when no query vector is available.
	Lexical Mode = "lexical"
)

// IsValid checks if the mode is one of the supported values.
func (m Mode) IsValid() bool {
	return m == Hybrid || m == Semantic || m == Lexical
}

// Resolve picks the mode from what the query carries.
func Resolve(hasVector, hasText bool) Mode {
	switch {
	case hasVector && hasText:
		return Hybrid
	case hasVector:
		return Semantic
	default:
		return Lexical
	}
}
