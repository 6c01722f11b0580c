// Package conversation assembles retrieval results, side tables, and a session's
// transcript into a prompt, and records each exchange in the transcript.
package conversation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hyperjump/kotae/internal/models"
	"go.uber.org/zap"
)

// Retriever finds grounding examples for a query.
type Retriever interface {
	Retrieve(ctx context.Context, req *models.RetrieveRequest) (*models.RetrieveResponse, error)
}

// TableLoader returns the side tables to include in a prompt. It is called on every Ask.
type TableLoader interface {
	Load(ctx context.Context) ([]models.SideTable, error)
}

// Options tunes an Assembler. Zero values mean: top 3 results, no distance filter,
// no turn cap, sessions never expire.
type Options struct {
	TopK         int
	MaxDistance  float64
	MaxTurns     int
	SessionTTL   time.Duration
	SystemPrompt string
}

// Assembler runs conversation turns.
type Assembler struct {
	retriever Retriever
	sessions  SessionStore
	generator Generator
	tables    TableLoader // optional
	opts      Options
	logger    *zap.Logger // optional
	now       func() time.Time

	locksMu sync.Mutex
	locks   map[string]*sessionLock
}

// sessionLock serializes turns of one session. refs counts holders and waiters;
// the entry is dropped when it reaches zero.
type sessionLock struct {
	mu   sync.Mutex
	refs int
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithLogger sets a logger for generation failures and expiry sweeps.
func WithLogger(l *zap.Logger) Option {
	return func(a *Assembler) { a.logger = l }
}

// WithTables sets the side table source.
func WithTables(t TableLoader) Option {
	return func(a *Assembler) { a.tables = t }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(a *Assembler) { a.now = now }
}

// NewAssembler creates an assembler.
func NewAssembler(retriever Retriever, sessions SessionStore, generator Generator, opts Options, options ...Option) *Assembler {
	if opts.TopK <= 0 {
		opts.TopK = 3
	}
	if opts.SystemPrompt == "" {
		opts.SystemPrompt = DefaultSystemPrompt("")
	}
	a := &Assembler{
		retriever: retriever,
		sessions:  sessions,
		generator: generator,
		opts:      opts,
		now:       time.Now,
		locks:     make(map[string]*sessionLock),
	}
	for _, o := range options {
		o(a)
	}
	return a
}

func (a *Assembler) lock(sessionID string) func() {
	a.locksMu.Lock()
	l, ok := a.locks[sessionID]
	if !ok {
		l = &sessionLock{}
		a.locks[sessionID] = l
	}
	l.refs++
	a.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		a.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(a.locks, sessionID)
		}
		a.locksMu.Unlock()
	}
}

func validateSession(sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return models.NewValidationError("session", sessionID, models.ErrValidation)
	}
	return nil
}

// Ask records query as a user turn, generates a reply grounded on the nearest records,
// the side tables, and the transcript, records the reply, and returns it.
// If generation fails the user turn stays in the transcript.
func (a *Assembler) Ask(ctx context.Context, sessionID, query string) (string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return "", models.NewValidationError("query", query, models.ErrValidation)
	}
	if err := validateSession(sessionID); err != nil {
		return "", err
	}
	unlock := a.lock(sessionID)
	defer unlock()

	history, err := a.transcriptLocked(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if err := a.appendLocked(ctx, sessionID, models.RoleUser, query); err != nil {
		return "", err
	}
	// The user turn just appended counts toward the cap.
	if a.opts.MaxTurns > 0 && len(history) >= a.opts.MaxTurns {
		history = history[len(history)-a.opts.MaxTurns+1:]
	}

	best, err := a.retriever.Retrieve(ctx, &models.RetrieveRequest{
		Query:       query,
		K:           a.opts.TopK,
		MaxDistance: a.opts.MaxDistance,
	})
	if err != nil {
		return "", fmt.Errorf("retrieve grounding: %w", err)
	}

	var tables []models.SideTable
	if a.tables != nil {
		if tables, err = a.tables.Load(ctx); err != nil {
			return "", fmt.Errorf("load side tables: %w", err)
		}
	}

	prompt := &Prompt{
		System:     a.opts.SystemPrompt,
		History:    history,
		Query:      query,
		Grounding:  best.Results,
		SideTables: tables,
	}
	response, err := a.generator.Generate(ctx, prompt)
	if err != nil {
		if a.logger != nil {
			a.logger.Warn("generation failed",
				zap.String("session", sessionID), zap.Bool("retryable", models.IsRetryable(err)), zap.Error(err))
		}
		return "", err
	}
	if err := a.appendLocked(ctx, sessionID, models.RoleAssistant, response); err != nil {
		return "", err
	}
	return response, nil
}

func (a *Assembler) appendLocked(ctx context.Context, sessionID string, role models.Role, content string) error {
	turn := models.Turn{Role: role, Content: content, CreatedAt: a.now()}
	if err := a.sessions.Append(ctx, sessionID, turn); err != nil {
		return fmt.Errorf("append %s turn: %w", role, err)
	}
	if err := a.sessions.Trim(ctx, sessionID, a.opts.MaxTurns); err != nil {
		return fmt.Errorf("trim transcript: %w", err)
	}
	return nil
}

// transcriptLocked reads the transcript, clearing it first if the session has been idle past the TTL.
func (a *Assembler) transcriptLocked(ctx context.Context, sessionID string) ([]models.Turn, error) {
	turns, err := a.sessions.Transcript(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("read transcript: %w", err)
	}
	if a.opts.SessionTTL > 0 && len(turns) > 0 {
		last := turns[len(turns)-1].CreatedAt
		if a.now().Sub(last) > a.opts.SessionTTL {
			if err := a.sessions.Clear(ctx, sessionID); err != nil {
				return nil, fmt.Errorf("clear expired session: %w", err)
			}
			return nil, nil
		}
	}
	return turns, nil
}

// Transcript returns the session's turns in call order.
func (a *Assembler) Transcript(ctx context.Context, sessionID string) ([]models.Turn, error) {
	if err := validateSession(sessionID); err != nil {
		return nil, err
	}
	unlock := a.lock(sessionID)
	defer unlock()
	turns, err := a.transcriptLocked(ctx, sessionID)
	if turns == nil && err == nil {
		turns = []models.Turn{}
	}
	return turns, err
}

// ClearHistory empties the session's transcript.
func (a *Assembler) ClearHistory(ctx context.Context, sessionID string) error {
	if err := validateSession(sessionID); err != nil {
		return err
	}
	unlock := a.lock(sessionID)
	defer unlock()
	return a.sessions.Clear(ctx, sessionID)
}

// Suggest generates a reply to message modeled on examples, without a session or side tables.
// With no examples, the nearest stored records are used.
func (a *Assembler) Suggest(ctx context.Context, message string, examples []models.RecordInput) (string, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return "", models.NewValidationError("message", message, models.ErrValidation)
	}
	var grounding []*models.RetrievedRecord
	for _, ex := range examples {
		if strings.TrimSpace(ex.Question) == "" && strings.TrimSpace(ex.Answer) == "" {
			continue
		}
		grounding = append(grounding, &models.RetrievedRecord{Question: ex.Question, Answer: ex.Answer})
	}
	if len(grounding) == 0 {
		best, err := a.retriever.Retrieve(ctx, &models.RetrieveRequest{Query: message, K: a.opts.TopK, MaxDistance: a.opts.MaxDistance})
		if err != nil {
			return "", fmt.Errorf("retrieve grounding: %w", err)
		}
		grounding = best.Results
	}
	return a.generator.Generate(ctx, &Prompt{
		System:    a.opts.SystemPrompt,
		Query:     message,
		Grounding: grounding,
	})
}

// ExpireIdle removes sessions idle longer than the TTL.
func (a *Assembler) ExpireIdle(ctx context.Context) (int, error) {
	if a.opts.SessionTTL <= 0 {
		return 0, nil
	}
	n, err := a.sessions.Expire(ctx, a.now().Add(-a.opts.SessionTTL))
	if err != nil {
		return 0, fmt.Errorf("expire sessions: %w", err)
	}
	if a.logger != nil {
		a.logger.Debug("session expiry sweep", zap.Int("expired", n))
	}
	return n, nil
}

// RunExpiry calls ExpireIdle every interval until ctx is done.
func (a *Assembler) RunExpiry(ctx context.Context, interval time.Duration) {
	if a.opts.SessionTTL <= 0 || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := a.ExpireIdle(ctx); err != nil && a.logger != nil {
				a.logger.Warn("session expiry failed", zap.Error(err))
			}
		}
	}
}
