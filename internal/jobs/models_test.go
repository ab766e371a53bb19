package jobs

import "testing"

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StateDetected, StateFramesExtracted, true},
		{StateThumbnailDrafted, StateAwaitingApproval, true},
		{StateAwaitingApproval, StateApproved, true},
		{StateAwaitingApproval, StateRejected, true},
		{StateApproved, StateUploading, true},
		{StateUploading, StatePublished, true},
		{StateDetected, StateFailed, true},
		{StateUploading, StateFailed, true},
		{StatePublished, StateFailed, false},
		{StateFailed, StateFailed, false},
		{StateDetected, StateTranscribed, false},
		{StateApproved, StatePublished, false},
		{StateRejected, StateApproved, false},
		{StateFailed, StateDetected, false},
	}
	for _, tc := range tests {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestParseState(t *testing.T) {
	if state, ok := ParseState(" Awaiting_Approval "); !ok || state != StateAwaitingApproval {
		t.Fatalf("ParseState = %q, %v", state, ok)
	}
	if _, ok := ParseState("bogus"); ok {
		t.Fatal("expected unknown state to be rejected")
	}
	if len(NonTerminalStates()) != len(AllStates())-3 {
		t.Fatalf("unexpected non-terminal states: %v", NonTerminalStates())
	}
}
