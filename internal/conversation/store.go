// Package conversation implements the append-only conversation log and the
// notification sink. The store is the single source of truth for what a
// presentation shell displays; the only in-place mutation it ever permits is
// a proposal state transition, and that goes through a compare-and-set.
package conversation

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/HenshawMike/fx-agent/internal/domain"
)

var (
	// ErrNotFound is returned when a message does not exist or carries no proposal.
	ErrNotFound = errors.New("message not found")
	// ErrInvalidState is returned when a proposal transition is attempted on a
	// proposal that is not pending (or already has a decision in flight).
	ErrInvalidState = errors.New("proposal is not pending")
)

// EventType categorizes store events delivered to subscribers.
type EventType string

const (
	// EventMessageAppended fires once per appended message, in log order.
	EventMessageAppended EventType = "message_appended"
	// EventProposalUpdated fires when a proposal reaches a terminal state.
	EventProposalUpdated EventType = "proposal_updated"
)

// Event carries a snapshot copy of the affected message.
type Event struct {
	Type    EventType
	Message *domain.Message
}

const subscriberBuffer = 64

// Store is an append-only, insertion-ordered conversation log.
// All methods are safe for concurrent use; readers never observe a
// partially-constructed message because snapshots are deep copies taken
// under the same lock that guards appends.
type Store struct {
	mu       sync.Mutex
	messages []*domain.Message
	byID     map[string]*domain.Message
	claimed  map[string]bool // message IDs with a proposal decision in flight
	subs     map[int]chan Event
	nextSub  int
}

// NewStore creates an empty conversation log.
func NewStore() *Store {
	return &Store{
		byID:    make(map[string]*domain.Message),
		claimed: make(map[string]bool),
		subs:    make(map[int]chan Event),
	}
}

// Append adds a message to the end of the log and returns a snapshot of the
// full conversation. The store takes ownership of msg; callers must not
// retain or mutate it afterwards. Messages with a duplicate ID are ignored.
func (s *Store) Append(msg *domain.Message) []*domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[msg.ID]; exists {
		slog.Warn("Dropping message with duplicate ID", "message_id", msg.ID)
		return s.snapshotLocked()
	}

	s.messages = append(s.messages, msg)
	s.byID[msg.ID] = msg
	s.publishLocked(Event{Type: EventMessageAppended, Message: msg.Clone()})
	return s.snapshotLocked()
}

// Snapshot returns the conversation in canonical insertion order.
// The result is a deep copy; mutating it does not affect the store.
func (s *Store) Snapshot() []*domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Len returns the number of messages in the log.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// FindByID returns a copy of the message with the given ID.
func (s *Store) FindByID(id string) (*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return msg.Clone(), nil
}

// ClaimProposal atomically claims the proposal attached to the given message
// for a confirm or decline decision. It succeeds only when the proposal is
// pending and no other decision is in flight, so two near-simultaneous
// confirm calls produce at most one execution request. Every successful
// claim must be completed with ResolveProposal.
func (s *Store) ClaimProposal(messageID string) (*domain.Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.byID[messageID]
	if !ok || msg.Proposal == nil {
		return nil, ErrNotFound
	}
	if msg.Proposal.State != domain.StatePending || s.claimed[messageID] {
		return nil, ErrInvalidState
	}

	s.claimed[messageID] = true
	return msg.Proposal.Clone(), nil
}

// ResolveProposal completes a claim by moving the proposal to a terminal
// state. This is the compare-and-set half of the transition: the claim
// guaranteed the proposal was pending, so the write here cannot conflict.
func (s *Store) ResolveProposal(messageID string, state domain.ProposalState) error {
	if !state.Terminal() {
		return ErrInvalidState
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.byID[messageID]
	if !ok || msg.Proposal == nil {
		return ErrNotFound
	}
	if !s.claimed[messageID] {
		return ErrInvalidState
	}

	msg.Proposal.State = state
	delete(s.claimed, messageID)
	s.publishLocked(Event{Type: EventProposalUpdated, Message: msg.Clone()})
	return nil
}

// Subscribe registers for store events. Events are delivered in log order.
// The returned cancel func closes the channel; a slow subscriber that fills
// its buffer loses events rather than blocking the engine.
func (s *Store) Subscribe() (<-chan Event, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSub
	s.nextSub++
	ch := make(chan Event, subscriberBuffer)
	s.subs[id] = ch

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if sub, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

func (s *Store) snapshotLocked() []*domain.Message {
	out := make([]*domain.Message, len(s.messages))
	for i, msg := range s.messages {
		out[i] = msg.Clone()
	}
	return out
}

func (s *Store) publishLocked(ev Event) {
	for id, ch := range s.subs {
		select {
		case ch <- ev:
		default:
			slog.Warn("Conversation subscriber buffer full, dropping event",
				"subscriber", id,
				"event_type", ev.Type,
				"message_id", ev.Message.ID,
			)
		}
	}
}
