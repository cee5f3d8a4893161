package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/HenshawMike/fx-agent/internal/conversation"
)

const writeTimeout = 5 * time.Second

// Recorder subscribes to a conversation store and archives its events in
// the background, so appends never block on disk.
type Recorder struct {
	repo   Repository
	logger *slog.Logger
	wg     sync.WaitGroup
}

// NewRecorder creates a recorder backed by the given repository.
func NewRecorder(repo Repository, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{repo: repo, logger: logger}
}

// Attach subscribes to a conversation store and starts archiving it under
// the given session key. The returned stop func unsubscribes and lets the
// drain goroutine finish.
func (r *Recorder) Attach(sessionKey string, st *conversation.Store) (stop func()) {
	events, cancel := st.Subscribe()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for ev := range events {
			r.record(sessionKey, ev)
		}
	}()

	return cancel
}

// Wait blocks until all drain goroutines have finished. Call after every
// attached session has been stopped.
func (r *Recorder) Wait() {
	r.wg.Wait()
}

func (r *Recorder) record(sessionKey string, ev conversation.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	var err error
	switch ev.Type {
	case conversation.EventMessageAppended:
		err = r.repo.SaveMessage(ctx, sessionKey, ev.Message)
	case conversation.EventProposalUpdated:
		err = r.repo.UpdateProposalState(ctx, ev.Message.ID, ev.Message.Proposal.State)
	default:
		return
	}

	if err != nil {
		// Archive failures never surface into the conversation; the engine
		// stays authoritative.
		r.logger.Warn("Failed to archive conversation event",
			"session_key", sessionKey,
			"event_type", string(ev.Type),
			"message_id", ev.Message.ID,
			"error", err,
		)
	}
}
