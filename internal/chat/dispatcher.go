// Package chat implements the prompt dispatch cycle: user message in, agent
// reply (possibly carrying a trade proposal) out, with a single-slot busy
// guard so at most one chat round trip is outstanding per conversation.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/HenshawMike/fx-agent/internal/backend"
	"github.com/HenshawMike/fx-agent/internal/conversation"
	"github.com/HenshawMike/fx-agent/internal/domain"
	"github.com/google/uuid"
)

// ErrBusy is returned when a send is attempted while another round trip is
// outstanding. The caller should surface it (disable the input) rather than
// queue the prompt.
var ErrBusy = errors.New("a prompt dispatch is already in progress")

// Backend is the chat side of the trading-agent service.
type Backend interface {
	Chat(ctx context.Context, prompt string) (*backend.ChatResponse, error)
}

// Dispatcher orchestrates the send-prompt / receive-reply cycle for one
// conversation.
type Dispatcher struct {
	store   *conversation.Store
	sink    *conversation.Sink
	backend Backend
	busy    atomic.Bool
	logger  *slog.Logger
}

// NewDispatcher creates a dispatcher bound to one conversation store.
func NewDispatcher(store *conversation.Store, sink *conversation.Sink, be Backend, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		store:   store,
		sink:    sink,
		backend: be,
		logger:  logger,
	}
}

// Busy reports whether a chat round trip is currently outstanding.
func (d *Dispatcher) Busy() bool {
	return d.busy.Load()
}

// Send dispatches a prompt and returns the appended outcome message: the
// agent reply on success, or the system message describing the failure.
//
// A whitespace-only prompt is a silent no-op (nil, nil): nothing is
// appended and no request is issued. A send while another one is
// outstanding returns ErrBusy without touching the conversation. On every
// other path the busy guard is released before Send returns, so the caller
// can never be left permanently disabled.
func (d *Dispatcher) Send(ctx context.Context, prompt string) (*domain.Message, error) {
	trimmed := strings.TrimSpace(prompt)
	if trimmed == "" {
		return nil, nil
	}

	if !d.busy.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer d.busy.Store(false)

	// Optimistic append: the user message stays even if the round trip fails.
	userMsg := &domain.Message{
		ID:        uuid.NewString(),
		Text:      trimmed,
		Sender:    domain.SenderUser,
		Timestamp: time.Now().UTC(),
	}
	d.store.Append(userMsg)
	d.logger.Info("Prompt dispatched", "message_id", userMsg.ID, "prompt_length", len(trimmed))

	resp, err := d.backend.Chat(ctx, trimmed)
	if err != nil {
		return d.surface(err), nil
	}

	proposal, err := proposalFromPayload(resp.TradeProposal)
	if err != nil {
		return d.surface(&backend.ProtocolError{StatusCode: 200, Detail: err.Error()}), nil
	}

	agentMsg := &domain.Message{
		ID:        uuid.NewString(),
		Text:      resp.Response,
		Sender:    domain.SenderAgent,
		Timestamp: time.Now().UTC(),
		AgentName: resp.AgentUsed,
		Proposal:  proposal,
	}
	d.store.Append(agentMsg)
	d.logger.Info("Agent reply appended",
		"message_id", agentMsg.ID,
		"agent_name", agentMsg.AgentName,
		"has_proposal", proposal != nil,
	)
	// The store owns agentMsg now; hand the caller a detached copy so a
	// later proposal transition cannot race whatever they do with it.
	return agentMsg.Clone(), nil
}

// surface converts a round-trip failure into exactly one system message.
func (d *Dispatcher) surface(err error) *domain.Message {
	kind := conversation.KindNetworkError
	var protoErr *backend.ProtocolError
	if errors.As(err, &protoErr) {
		kind = conversation.KindProtocolError
	}
	d.logger.Warn("Chat round trip failed", "kind", string(kind), "error", err)
	return d.sink.Notify(kind, err.Error())
}

// proposalFromPayload maps the wire proposal into a pending domain proposal.
// The backend reports the action in upper case; anything other than buy or
// sell means the payload does not match the contract.
func proposalFromPayload(p *backend.TradeProposalPayload) (*domain.Proposal, error) {
	if p == nil {
		return nil, nil
	}

	var action domain.ProposalAction
	switch strings.ToLower(p.Action) {
	case "buy":
		action = domain.ActionBuy
	case "sell":
		action = domain.ActionSell
	default:
		return nil, fmt.Errorf("trade proposal has unknown action %q", p.Action)
	}
	if p.Pair == "" {
		return nil, fmt.Errorf("trade proposal is missing the instrument pair")
	}

	return &domain.Proposal{
		Action:     action,
		Pair:       p.Pair,
		EntryPrice: p.EntryPrice,
		StopLoss:   p.StopLoss,
		TakeProfit: p.TakeProfit,
		AgentID:    p.AgentID,
		State:      domain.StatePending,
	}, nil
}
