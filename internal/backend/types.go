// Package backend provides the HTTP client to the remote trading-agent service.
package backend

import "fmt"

// ChatRequest is the body of POST {base}/chat.
type ChatRequest struct {
	Prompt string `json:"prompt"`
}

// TradeProposalPayload is the optional proposal embedded in a chat response.
type TradeProposalPayload struct {
	Action     string   `json:"action"`
	Pair       string   `json:"pair"`
	EntryPrice float64  `json:"entry_price"`
	StopLoss   *float64 `json:"stop_loss,omitempty"`
	TakeProfit *float64 `json:"take_profit,omitempty"`
	AgentID    string   `json:"agent_id,omitempty"`
}

// ChatResponse is the 200 body of POST {base}/chat.
type ChatResponse struct {
	Response      string                `json:"response"`
	AgentUsed     string                `json:"agent_used,omitempty"`
	TradeProposal *TradeProposalPayload `json:"trade_proposal,omitempty"`
}

// ExecutionRequest is the body of POST {base}/webhook/trade. Volume is the
// fixed default trade size; the backend does not accept a caller-supplied
// size. StopLoss and TakeProfit are always present, null when unset.
type ExecutionRequest struct {
	AgentID      string   `json:"agent_id"`
	CurrencyPair string   `json:"currency_pair"`
	OrderSide    string   `json:"order_side"`
	EntryPrice   float64  `json:"entry_price"`
	StopLoss     *float64 `json:"stop_loss"`
	TakeProfit   *float64 `json:"take_profit"`
	Volume       float64  `json:"volume"`
}

// ExecutionResponse is the 200 body of POST {base}/webhook/trade.
// Success false is treated the same as a non-200 status by callers.
type ExecutionResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// ProtocolError reports a non-200 status or a 200 body that does not parse
// per the backend contract.
type ProtocolError struct {
	StatusCode int
	Detail     string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("backend protocol error (status %d): %s", e.StatusCode, e.Detail)
}
