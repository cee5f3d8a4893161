// Package store provides the conversation transcript archive. The archive
// is write-behind: the in-memory engine is the source of truth and never
// waits on, or reads back from, the database.
package store

import (
	"context"

	"github.com/HenshawMike/fx-agent/internal/domain"
)

// Repository defines the interface for persisting conversation transcripts.
type Repository interface {
	// SaveMessage appends one message to a session's transcript.
	SaveMessage(ctx context.Context, sessionKey string, msg *domain.Message) error

	// UpdateProposalState records the terminal state a proposal reached.
	UpdateProposalState(ctx context.Context, messageID string, state domain.ProposalState) error

	// SessionTranscript returns up to limit archived messages for a session,
	// oldest first.
	SessionTranscript(ctx context.Context, sessionKey string, limit int) ([]*domain.Message, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
