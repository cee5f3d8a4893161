package domain

// ProposalAction is the trade direction recommended by an agent.
type ProposalAction string

const (
	// ActionBuy is a long entry.
	ActionBuy ProposalAction = "buy"
	// ActionSell is a short entry.
	ActionSell ProposalAction = "sell"
)

// ProposalState tracks the confirm/decline lifecycle of a proposal.
// The machine is monotonic: pending is the only non-terminal state and
// every other state is a sink.
type ProposalState string

const (
	// StatePending means the proposal awaits a user decision.
	StatePending ProposalState = "pending"
	// StateConfirmed means the execution request was accepted by the backend.
	StateConfirmed ProposalState = "confirmed"
	// StateDeclined means the user rejected the proposal; no request was sent.
	StateDeclined ProposalState = "declined"
	// StateError means confirmation was attempted and failed.
	StateError ProposalState = "error"
)

// Terminal reports whether the state is a sink.
func (s ProposalState) Terminal() bool {
	return s == StateConfirmed || s == StateDeclined || s == StateError
}

// Proposal is a structured trade recommendation embedded in exactly one agent
// message. It has no lifecycle independent of its parent message.
type Proposal struct {
	Action     ProposalAction `json:"action"`
	Pair       string         `json:"pair"`
	EntryPrice float64        `json:"entry_price"`
	StopLoss   *float64       `json:"stop_loss,omitempty"`
	TakeProfit *float64       `json:"take_profit,omitempty"`
	AgentID    string         `json:"agent_id,omitempty"`
	State      ProposalState  `json:"state"`
}

// Clone returns a deep copy of the proposal.
func (p *Proposal) Clone() *Proposal {
	if p == nil {
		return nil
	}
	cp := *p
	if p.StopLoss != nil {
		v := *p.StopLoss
		cp.StopLoss = &v
	}
	if p.TakeProfit != nil {
		v := *p.TakeProfit
		cp.TakeProfit = &v
	}
	return &cp
}
