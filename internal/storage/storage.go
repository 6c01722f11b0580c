// Package storage persists conversation transcripts.
package storage

import (
	"context"
	"time"

	"github.com/hyperjump/kotae/internal/models"
)

// TranscriptStore defines transcript persistence operations.
type TranscriptStore interface {
	// Turn operations
	Append(ctx context.Context, sessionID string, turn models.Turn) error
	Transcript(ctx context.Context, sessionID string) ([]models.Turn, error)
	Trim(ctx context.Context, sessionID string, maxTurns int) error
	Clear(ctx context.Context, sessionID string) error

	// Expiry
	Expire(ctx context.Context, before time.Time) (int, error)

	// Stats
	CountSessions(ctx context.Context) (int64, error)
	CountTurns(ctx context.Context) (int64, error)

	Close() error
}
