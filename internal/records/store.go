// Package records implements the question/answer store backed by a CSV table.
//
// Row order is identity: a record's ID is its current 0-based row offset, and
// deleting a row shifts every later record down by one.
package records

import (
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/pkg/utils"
)

const utf8BOM = "\ufeff"

// Columns names the header cells holding questions and answers.
type Columns struct {
	Question string
	Answer   string
}

// Store is the ordered record table. Methods are safe for concurrent use; callers that
// need the store and the index to change together serialize through the indexer.
type Store struct {
	path    string
	columns Columns

	mu          sync.RWMutex
	header      []string
	qCol, aCol  int
	rows        [][]string
	fingerprint string
}

// NewStore returns a store for the CSV file at path. Call Load before use.
func NewStore(path string, columns Columns) *Store {
	return &Store{
		path:    path,
		columns: columns,
		header:  []string{columns.Question, columns.Answer},
		qCol:    0,
		aCol:    1,
	}
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Load reads the backing table and replaces the in-memory rows.
// A missing or empty file yields an empty store. A header without the configured
// columns, or a malformed row, yields ErrStoreCorrupt.
func (s *Store) Load() ([]models.Record, error) {
	data, err := os.ReadFile(s.path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read records: %w", err)
	}
	header, qCol, aCol, rows, err := s.parse(data)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.header, s.qCol, s.aCol, s.rows = header, qCol, aCol, rows
	s.fingerprint = fingerprint(data)
	return s.recordsLocked(), nil
}

func (s *Store) parse(data []byte) (header []string, qCol, aCol int, rows [][]string, err error) {
	data = bytes.TrimPrefix(data, []byte(utf8BOM))
	if len(bytes.TrimSpace(data)) == 0 {
		return []string{s.columns.Question, s.columns.Answer}, 0, 1, nil, nil
	}
	r := csv.NewReader(bytes.NewReader(data))
	header, err = r.Read()
	if err != nil {
		return nil, 0, 0, nil, fmt.Errorf("%w: read header: %v", models.ErrStoreCorrupt, err)
	}
	qCol, aCol = -1, -1
	for i, name := range header {
		switch strings.TrimSpace(name) {
		case s.columns.Question:
			if qCol < 0 {
				qCol = i
			}
		case s.columns.Answer:
			if aCol < 0 {
				aCol = i
			}
		}
	}
	if qCol < 0 || aCol < 0 {
		return nil, 0, 0, nil, fmt.Errorf("%w: header %v lacks column %q or %q",
			models.ErrStoreCorrupt, header, s.columns.Question, s.columns.Answer)
	}
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, 0, 0, nil, fmt.Errorf("%w: %v", models.ErrStoreCorrupt, err)
		}
		rows = append(rows, row)
	}
	return header, qCol, aCol, rows, nil
}

// Records returns a copy of the current records in row order.
func (s *Store) Records() []models.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.recordsLocked()
}

func (s *Store) recordsLocked() []models.Record {
	out := make([]models.Record, len(s.rows))
	for i, row := range s.rows {
		out[i] = models.Record{ID: i, Question: row[s.qCol], Answer: row[s.aCol]}
	}
	return out
}

// Questions returns the question column in row order.
func (s *Store) Questions() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.rows))
	for i, row := range s.rows {
		out[i] = row[s.qCol]
	}
	return out
}

// Len returns the number of records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}

// Append validates and adds a record at the end, then rewrites the whole table.
// Both fields are trimmed; empty fields and exact duplicate questions are rejected.
func (s *Store) Append(question, answer string) (models.Record, error) {
	question = strings.TrimSpace(question)
	answer = strings.TrimSpace(answer)
	if question == "" {
		return models.Record{}, models.NewValidationError("question", question, models.ErrValidation)
	}
	if answer == "" {
		return models.Record{}, models.NewValidationError("answer", answer, models.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.rows {
		if row[s.qCol] == question {
			return models.Record{}, models.NewValidationError("question", question, models.ErrDuplicateQuestion)
		}
	}
	row := make([]string, len(s.header))
	row[s.qCol] = question
	row[s.aCol] = answer
	rows := append(s.rows[:len(s.rows):len(s.rows)], row)
	if err := s.writeLocked(rows); err != nil {
		return models.Record{}, err
	}
	s.rows = rows
	return models.Record{ID: len(rows) - 1, Question: question, Answer: answer}, nil
}

// Delete removes the record at position and rewrites the table. Later records shift down by one.
func (s *Store) Delete(position int) (models.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if position < 0 || position >= len(s.rows) {
		return models.Record{}, fmt.Errorf("%w: %d not in [0, %d)", models.ErrIndexOutOfRange, position, len(s.rows))
	}
	removed := models.Record{ID: position, Question: s.rows[position][s.qCol], Answer: s.rows[position][s.aCol]}
	rows := make([][]string, 0, len(s.rows)-1)
	rows = append(rows, s.rows[:position]...)
	rows = append(rows, s.rows[position+1:]...)
	if err := s.writeLocked(rows); err != nil {
		return models.Record{}, err
	}
	s.rows = rows
	return removed, nil
}

// FindAnswer returns the answer of the first record whose question equals question exactly.
func (s *Store) FindAnswer(question string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, row := range s.rows {
		if row[s.qCol] == question {
			return row[s.aCol], nil
		}
	}
	return "", fmt.Errorf("%w: question %q", models.ErrNotFound, question)
}

// Fingerprint identifies the table content last read or written by this store.
func (s *Store) Fingerprint() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fingerprint
}

// ChangedOnDisk reports whether the backing file differs from what this store last read or wrote.
func (s *Store) ChangedOnDisk() (bool, error) {
	data, err := os.ReadFile(s.path)
	if err != nil && !os.IsNotExist(err) {
		return false, fmt.Errorf("read records: %w", err)
	}
	return fingerprint(data) != s.Fingerprint(), nil
}

func (s *Store) writeLocked(rows [][]string) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(s.header); err != nil {
		return fmt.Errorf("encode header: %w", err)
	}
	if err := w.WriteAll(rows); err != nil {
		return fmt.Errorf("encode records: %w", err)
	}
	data := buf.Bytes()
	if err := utils.WriteFileAtomic(s.path, data, 0644); err != nil {
		return fmt.Errorf("write records: %w", err)
	}
	s.fingerprint = fingerprint(data)
	return nil
}

func fingerprint(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
