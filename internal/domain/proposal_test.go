package domain

import "testing"

func TestProposalState_Terminal(t *testing.T) {
	t.Parallel()
	tests := []struct {
		state ProposalState
		want  bool
	}{
		{StatePending, false},
		{StateConfirmed, true},
		{StateDeclined, true},
		{StateError, true},
	}

	for _, tt := range tests {
		if got := tt.state.Terminal(); got != tt.want {
			t.Errorf("Terminal(%s) = %v, want %v", tt.state, got, tt.want)
		}
	}
}

func TestProposal_CloneIsIndependent(t *testing.T) {
	t.Parallel()
	sl := 1.08
	orig := &Proposal{
		Action:     ActionBuy,
		Pair:       "EURUSD",
		EntryPrice: 1.0825,
		StopLoss:   &sl,
		State:      StatePending,
	}

	clone := orig.Clone()
	*clone.StopLoss = 9.99
	clone.State = StateConfirmed

	if *orig.StopLoss != 1.08 {
		t.Errorf("Clone shares stop loss pointer: %v", *orig.StopLoss)
	}
	if orig.State != StatePending {
		t.Errorf("Clone mutation leaked state: %s", orig.State)
	}
}

func TestMessage_CloneIsIndependent(t *testing.T) {
	t.Parallel()
	orig := &Message{
		ID:     "m1",
		Text:   "Long setup on EURUSD.",
		Sender: SenderAgent,
		Proposal: &Proposal{
			Action: ActionBuy,
			Pair:   "EURUSD",
			State:  StatePending,
		},
	}

	clone := orig.Clone()
	clone.Text = "mutated"
	clone.Proposal.State = StateError

	if orig.Text != "Long setup on EURUSD." {
		t.Errorf("Clone mutation leaked text: %q", orig.Text)
	}
	if orig.Proposal.State != StatePending {
		t.Errorf("Clone shares proposal: %s", orig.Proposal.State)
	}
}

func TestMessage_HasProposal(t *testing.T) {
	t.Parallel()
	plain := &Message{ID: "m1", Sender: SenderUser}
	if plain.HasProposal() {
		t.Error("Expected no proposal")
	}

	withProposal := &Message{ID: "m2", Sender: SenderAgent, Proposal: &Proposal{State: StatePending}}
	if !withProposal.HasProposal() {
		t.Error("Expected proposal present")
	}
}
