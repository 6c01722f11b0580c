package conversation

import (
	"context"
	"sync"
	"time"

	"github.com/hyperjump/kotae/internal/models"
)

// SessionStore keeps per-session transcripts. Sessions are independent of each other.
type SessionStore interface {
	// Append adds turn at the end of the session's transcript, creating the session if needed.
	Append(ctx context.Context, sessionID string, turn models.Turn) error
	// Transcript returns the session's turns, oldest first. An unknown session has none.
	Transcript(ctx context.Context, sessionID string) ([]models.Turn, error)
	// Trim drops the oldest turns so at most maxTurns remain.
	Trim(ctx context.Context, sessionID string, maxTurns int) error
	// Clear removes every turn of the session.
	Clear(ctx context.Context, sessionID string) error
	// Expire removes sessions whose newest turn is older than before and returns how many.
	Expire(ctx context.Context, before time.Time) (int, error)
	Close() error
}

// MemoryStore is a SessionStore held in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string][]models.Turn
}

// NewMemoryStore returns an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string][]models.Turn)}
}

func (m *MemoryStore) Append(ctx context.Context, sessionID string, turn models.Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[sessionID] = append(m.sessions[sessionID], turn)
	return nil
}

func (m *MemoryStore) Transcript(ctx context.Context, sessionID string) ([]models.Turn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.Turn(nil), m.sessions[sessionID]...), nil
}

func (m *MemoryStore) Trim(ctx context.Context, sessionID string, maxTurns int) error {
	if maxTurns <= 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	turns := m.sessions[sessionID]
	if len(turns) > maxTurns {
		m.sessions[sessionID] = append([]models.Turn(nil), turns[len(turns)-maxTurns:]...)
	}
	return nil
}

func (m *MemoryStore) Clear(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
	return nil
}

func (m *MemoryStore) Expire(ctx context.Context, before time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, turns := range m.sessions {
		if len(turns) == 0 || turns[len(turns)-1].CreatedAt.Before(before) {
			delete(m.sessions, id)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) Close() error { return nil }
