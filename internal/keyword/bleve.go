package keyword

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	blevequery "github.com/blevesearch/bleve/v2/search/query"
	"github.com/hyperjump/kotae/pkg/utils"
)

const (
	fieldText = "text"
	docType   = "question"
)

type questionDoc struct {
	Text string `json:"text"`
}

// QuestionIndex is an in-memory Bleve index with one document per question, keyed by position.
// It has to be rebuilt whenever positions shift.
type QuestionIndex struct {
	index     bleve.Index
	questions []string
	mu        sync.RWMutex
}

// NewQuestionIndex creates an empty in-memory index.
func NewQuestionIndex() (*QuestionIndex, error) {
	idx, err := newMemIndex()
	if err != nil {
		return nil, err
	}
	return &QuestionIndex{index: idx}, nil
}

func newIndexMapping() mapping.IndexMapping {
	im := bleve.NewIndexMapping()
	docMapping := bleve.NewDocumentMapping()
	textFieldMapping := bleve.NewTextFieldMapping()
	// Standard analyzer (lowercase + tokenize, no stemming); accents are folded before indexing.
	textFieldMapping.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt(fieldText, textFieldMapping)
	im.AddDocumentMapping(docType, docMapping)
	im.DefaultType = docType
	im.DefaultMapping = docMapping
	return im
}

func newMemIndex() (bleve.Index, error) {
	idx, err := bleve.NewMemOnly(newIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return idx, nil
}

func normalize(s string) string {
	return strings.ToLower(utils.FoldAccents(s))
}

// Build replaces the index contents with questions; question i gets position i.
func (q *QuestionIndex) Build(questions []string) error {
	idx, err := newMemIndex()
	if err != nil {
		return err
	}
	batch := idx.NewBatch()
	for i, question := range questions {
		if err := batch.Index(strconv.Itoa(i), questionDoc{Text: normalize(question)}); err != nil {
			_ = idx.Close()
			return fmt.Errorf("index question %d: %w", i, err)
		}
	}
	if err := idx.Batch(batch); err != nil {
		_ = idx.Close()
		return fmt.Errorf("Bleve batch failed: %w", err)
	}

	q.mu.Lock()
	old := q.index
	q.index = idx
	q.questions = append([]string(nil), questions...)
	q.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
	return nil
}

// Add indexes question at the next position.
func (q *QuestionIndex) Add(question string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	pos := len(q.questions)
	if err := q.index.Index(strconv.Itoa(pos), questionDoc{Text: normalize(question)}); err != nil {
		return fmt.Errorf("index question %d: %w", pos, err)
	}
	q.questions = append(q.questions, question)
	return nil
}

// Search runs a match query (or a fuzzy disjunction) and returns up to limit hits,
// best first. Equal scores are ordered by position.
func (q *QuestionIndex) Search(query string, limit int, opts *SearchOptions) ([]Hit, error) {
	if limit <= 0 || strings.TrimSpace(query) == "" {
		return nil, nil
	}
	fuzzyEnabled := false
	fuzziness := 1
	if opts != nil {
		fuzzyEnabled = opts.FuzzyEnabled
		if opts.Fuzziness > 0 {
			fuzziness = opts.Fuzziness
		}
	}

	text := normalize(query)
	var bq blevequery.Query
	if fuzzyEnabled {
		bq = buildFuzzyQuery(text, fuzziness)
	} else {
		mq := bleve.NewMatchQuery(text)
		mq.SetField(fieldText)
		bq = mq
	}

	q.mu.RLock()
	defer q.mu.RUnlock()
	req := bleve.NewSearchRequest(bq)
	req.Size = limit
	results, err := q.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}
	hits := make([]Hit, 0, len(results.Hits))
	for _, h := range results.Hits {
		pos, err := strconv.Atoi(h.ID)
		if err != nil || pos < 0 || pos >= len(q.questions) {
			continue
		}
		hits = append(hits, Hit{Position: pos, Question: q.questions[pos], Score: h.Score})
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Position < hits[j].Position
	})
	return hits, nil
}

// buildFuzzyQuery creates a disjunction of FuzzyQueries, one per term.
func buildFuzzyQuery(text string, fuzziness int) blevequery.Query {
	terms := strings.Fields(text)
	if len(terms) == 0 {
		mq := bleve.NewMatchQuery(text)
		mq.SetField(fieldText)
		return mq
	}
	queries := make([]blevequery.Query, 0, len(terms))
	for _, term := range terms {
		fq := bleve.NewFuzzyQuery(strings.Trim(term, "?!.,;:"))
		fq.SetFuzziness(fuzziness)
		fq.SetField(fieldText)
		queries = append(queries, fq)
	}
	return bleve.NewDisjunctionQuery(queries...)
}

// Size returns the number of indexed questions.
func (q *QuestionIndex) Size() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.questions)
}

// Close closes the Bleve index.
func (q *QuestionIndex) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.index.Close()
}
