// Package domain contains core domain types for the fx-agent conversation engine.
package domain

import (
	"time"
)

// Sender identifies who produced a conversation message.
type Sender string

const (
	// SenderUser marks a message typed by the user.
	SenderUser Sender = "user"
	// SenderAgent marks a reply from the trading-agent backend.
	SenderAgent Sender = "agent"
	// SenderSystem marks a message produced by the notification sink.
	SenderSystem Sender = "system"
)

// Message is a single entry in the conversation log. Once appended its
// identity (ID, Sender, Text, Timestamp) never changes; only the state of an
// attached proposal may transition afterwards, and only through the store.
type Message struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Sender    Sender    `json:"sender"`
	Timestamp time.Time `json:"timestamp"`
	AgentName string    `json:"agent_name,omitempty"`
	Proposal  *Proposal `json:"proposal,omitempty"`
}

// HasProposal reports whether the message carries a trade proposal.
// Only agent messages ever do.
func (m *Message) HasProposal() bool {
	return m.Proposal != nil
}

// Clone returns a deep copy so readers never alias live engine state.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	cp := *m
	cp.Proposal = m.Proposal.Clone()
	return &cp
}
