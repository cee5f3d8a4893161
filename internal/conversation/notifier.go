package conversation

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/HenshawMike/fx-agent/internal/domain"
	"github.com/google/uuid"
)

// Kind labels the origin of a system message.
type Kind string

const (
	// KindNetworkError covers timeouts and connection failures.
	KindNetworkError Kind = "network_error"
	// KindProtocolError covers non-200 statuses and malformed payloads.
	KindProtocolError Kind = "protocol_error"
	// KindTradeConfirmed reports a successfully executed trade.
	KindTradeConfirmed Kind = "trade_confirmed"
	// KindTradeFailed reports a rejected or failed execution.
	KindTradeFailed Kind = "trade_failed"
	// KindTradeDeclined reports a user-declined proposal.
	KindTradeDeclined Kind = "trade_declined"
)

// Sink is the single channel through which errors and trade outcomes become
// visible. Every notification lands in the same conversation timeline as
// user and agent messages; nothing else constructs system messages.
type Sink struct {
	store  *Store
	logger *slog.Logger
}

// NewSink creates a notification sink that appends to the given store.
func NewSink(store *Store, logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{store: store, logger: logger}
}

// Notify appends one system message tagged with the given kind and returns it.
func (s *Sink) Notify(kind Kind, detail string) *domain.Message {
	msg := &domain.Message{
		ID:        uuid.NewString(),
		Text:      fmt.Sprintf("[%s] %s", kind, detail),
		Sender:    domain.SenderSystem,
		Timestamp: time.Now().UTC(),
	}
	s.store.Append(msg)
	s.logger.Info("System message appended", "kind", string(kind), "message_id", msg.ID)
	return msg.Clone()
}
