package models

import "strings"

// RetrieveRequest asks for the k stored questions nearest to Query.
// MaxDistance > 0 drops results farther than it; 0 disables filtering.
type RetrieveRequest struct {
	Query       string  `json:"query"`
	K           int     `json:"k,omitempty"`
	MaxDistance float64 `json:"max_distance,omitempty"`
}

// Validate trims the query and clamps K. defaultK is used when K is unset;
// K above maxK is capped. Returns a ValidationError for a blank query or negative distance.
func (q *RetrieveRequest) Validate(defaultK, maxK int) error {
	q.Query = strings.TrimSpace(q.Query)
	if q.Query == "" {
		return NewValidationError("query", q.Query, ErrValidation)
	}
	if q.MaxDistance < 0 {
		return NewValidationError("max_distance", "negative", ErrValidation)
	}
	if q.K <= 0 {
		q.K = defaultK
	}
	if maxK > 0 && q.K > maxK {
		q.K = maxK
	}
	return nil
}

// ChatRequest is the body of a conversation turn.
type ChatRequest struct {
	Query string `json:"query"`
}

// SuggestRequest asks for a stateless answer modeled on explicit examples.
type SuggestRequest struct {
	Message      string        `json:"message"`
	BestPractice []RecordInput `json:"best_practice"`
}
