// Package trade owns the confirm/decline lifecycle of trade proposals.
// Each proposal's claim acts as its own lock, so decisions on different
// proposals may be in flight concurrently and complete in any order.
package trade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/HenshawMike/fx-agent/internal/backend"
	"github.com/HenshawMike/fx-agent/internal/conversation"
	"github.com/HenshawMike/fx-agent/internal/domain"
)

// DefaultVolume is the fixed trade size sent with every execution request.
// The backend does not let the proposal override it.
const DefaultVolume = 0.01

// Executor is the execution side of the trading-agent service.
type Executor interface {
	ExecuteTrade(ctx context.Context, req backend.ExecutionRequest) (*backend.ExecutionResponse, error)
}

// Controller resolves proposals embedded in agent messages and drives their
// terminal transitions.
type Controller struct {
	store    *conversation.Store
	sink     *conversation.Sink
	executor Executor
	logger   *slog.Logger
}

// NewController creates a proposal controller bound to one conversation store.
func NewController(store *conversation.Store, sink *conversation.Sink, executor Executor, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		store:    store,
		sink:     sink,
		executor: executor,
		logger:   logger,
	}
}

// Confirm issues the execution request for a pending proposal and moves it
// to confirmed or error. It returns the system message describing the
// outcome. conversation.ErrNotFound means the message does not exist or has
// no proposal; conversation.ErrInvalidState means the proposal is not
// pending (or a decision is already in flight) and nothing was changed —
// callers should treat that as a quiet no-op, not a crash.
func (c *Controller) Confirm(ctx context.Context, messageID string) (*domain.Message, error) {
	proposal, err := c.store.ClaimProposal(messageID)
	if err != nil {
		return nil, err
	}

	req := backend.ExecutionRequest{
		AgentID:      proposal.AgentID,
		CurrencyPair: proposal.Pair,
		OrderSide:    string(proposal.Action),
		EntryPrice:   proposal.EntryPrice,
		StopLoss:     proposal.StopLoss,
		TakeProfit:   proposal.TakeProfit,
		Volume:       DefaultVolume,
	}

	resp, err := c.executor.ExecuteTrade(ctx, req)
	if err != nil {
		return c.fail(messageID, proposal, err), nil
	}
	if !resp.Success {
		// The backend accepted the request but rejected the trade; same
		// terminal state as a non-200.
		detail := fmt.Sprintf("execution rejected for %s %s @ %v: %s",
			proposal.Action, proposal.Pair, proposal.EntryPrice, resp.Message)
		c.resolve(messageID, domain.StateError)
		c.logger.Warn("Trade execution rejected", "message_id", messageID, "detail", resp.Message)
		return c.sink.Notify(conversation.KindTradeFailed, detail), nil
	}

	c.resolve(messageID, domain.StateConfirmed)
	c.logger.Info("Trade confirmed",
		"message_id", messageID,
		"pair", proposal.Pair,
		"side", string(proposal.Action),
	)
	return c.sink.Notify(conversation.KindTradeConfirmed, resp.Message), nil
}

// Decline moves a pending proposal to declined. No network call is issued.
func (c *Controller) Decline(_ context.Context, messageID string) (*domain.Message, error) {
	proposal, err := c.store.ClaimProposal(messageID)
	if err != nil {
		return nil, err
	}

	c.resolve(messageID, domain.StateDeclined)
	c.logger.Info("Trade declined", "message_id", messageID, "pair", proposal.Pair)
	detail := fmt.Sprintf("declined %s %s @ %v", proposal.Action, proposal.Pair, proposal.EntryPrice)
	return c.sink.Notify(conversation.KindTradeDeclined, detail), nil
}

// fail records an execution failure: the proposal lands in error and one
// diagnostic message names the action/pair/entry price for traceability.
// There is no automatic retry; the user decides what to do next.
func (c *Controller) fail(messageID string, proposal *domain.Proposal, err error) *domain.Message {
	kind := conversation.KindNetworkError
	var protoErr *backend.ProtocolError
	if errors.As(err, &protoErr) {
		kind = conversation.KindProtocolError
	}

	c.resolve(messageID, domain.StateError)
	c.logger.Warn("Trade execution failed",
		"message_id", messageID,
		"kind", string(kind),
		"error", err,
	)
	detail := fmt.Sprintf("execution failed for %s %s @ %v: %v",
		proposal.Action, proposal.Pair, proposal.EntryPrice, err)
	return c.sink.Notify(kind, detail)
}

func (c *Controller) resolve(messageID string, state domain.ProposalState) {
	// The claim succeeded, so resolution can only fail if the engine is
	// misused; log rather than crash the session.
	if err := c.store.ResolveProposal(messageID, state); err != nil {
		c.logger.Error("Failed to resolve proposal state",
			"message_id", messageID,
			"state", string(state),
			"error", err,
		)
	}
}
