package models

// Retrieval sources.
const (
	SourceSemantic = "semantic"
	SourceLexical  = "lexical"
)

// RetrievedRecord is a stored question joined with its answer and its distance to the query.
type RetrievedRecord struct {
	Question string  `json:"question"`
	Answer   string  `json:"answer"`
	Distance float64 `json:"distance"`
}

// RetrieveResponse is the result of a retrieval.
// Dropped counts index hits whose answer could not be resolved in the store.
type RetrieveResponse struct {
	Query     string             `json:"query"`
	Results   []*RetrievedRecord `json:"results"`
	Dropped   int                `json:"dropped"`
	Source    string             `json:"source"`
	QueryTime int64              `json:"query_time_ms"`
}

// ChatResponse is the answer to a conversation turn.
type ChatResponse struct {
	Response string `json:"response"`
}

// SearchHit is a ranked question without its answer.
type SearchHit struct {
	Question string  `json:"question"`
	Distance float64 `json:"distance"`
}

// SearchResponse lists the questions nearest to a query.
type SearchResponse struct {
	Query     string       `json:"query"`
	Results   []*SearchHit `json:"results"`
	Dropped   int          `json:"dropped"`
	Source    string       `json:"source"`
	QueryTime int64        `json:"query_time_ms"`
}

// Hits drops the answers from a retrieval.
func (r *RetrieveResponse) Hits() *SearchResponse {
	out := &SearchResponse{
		Query:     r.Query,
		Results:   make([]*SearchHit, 0, len(r.Results)),
		Dropped:   r.Dropped,
		Source:    r.Source,
		QueryTime: r.QueryTime,
	}
	for _, rec := range r.Results {
		out.Results = append(out.Results, &SearchHit{Question: rec.Question, Distance: rec.Distance})
	}
	return out
}
