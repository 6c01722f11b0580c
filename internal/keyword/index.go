// Package keyword provides lexical search over the knowledge base questions.
// It is the fallback used when the embedding service cannot be reached.
package keyword

// SearchOptions optional parameters for keyword search. Nil means use defaults.
type SearchOptions struct {
	// FuzzyEnabled enables fuzzy matching for typo tolerance.
	FuzzyEnabled bool
	// Fuzziness is the maximum Levenshtein edit distance for fuzzy matching (1 or 2).
	// Default is 1 when FuzzyEnabled is true.
	Fuzziness int
}

// Hit is a single keyword search hit. Position is the record position of the question.
type Hit struct {
	Position int
	Question string
	Score    float64
}
