package domain

import "testing"

func TestNextDecisionStatus(t *testing.T) {
	cases := []struct {
		name    string
		current string
		action  string
		next    string
		ok      bool
	}{
		{name: "approve pending", current: DecisionPending, action: ActionApprove, next: DecisionApproved, ok: true},
		{name: "e-sign pending", current: DecisionPending, action: ActionESigned, next: DecisionApproved, ok: true},
		{name: "request change pending", current: DecisionPending, action: ActionRequestChange, next: DecisionChangesRequested, ok: true},
		{name: "question keeps status", current: DecisionApproved, action: ActionAskQuestion, next: DecisionApproved, ok: true},
		{name: "approve approved", current: DecisionApproved, action: ActionApprove, next: DecisionApproved, ok: false},
		{name: "approve draft", current: DecisionDraft, action: ActionApprove, next: DecisionDraft, ok: false},
		{name: "request change on changes requested", current: DecisionChangesRequested, action: ActionRequestChange, next: DecisionChangesRequested, ok: false},
		{name: "unknown action", current: DecisionPending, action: "reject", next: DecisionPending, ok: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			next, ok := NextDecisionStatus(tc.current, tc.action)
			if next != tc.next || ok != tc.ok {
				t.Fatalf("NextDecisionStatus(%q, %q) = (%q, %v), want (%q, %v)", tc.current, tc.action, next, ok, tc.next, tc.ok)
			}
		})
	}
}

func TestPhaseHelpers(t *testing.T) {
	if len(PhaseOrder) != 7 {
		t.Fatalf("expected seven phases, got %d", len(PhaseOrder))
	}
	if PhaseLabel("dd") != "DD" || PhaseLabel("ca") != "CA" {
		t.Fatalf("unexpected labels %q %q", PhaseLabel("dd"), PhaseLabel("ca"))
	}
	if PhaseLabel("mystery") != "mystery" {
		t.Fatal("expected unknown phase to echo its id")
	}
	if PhaseIndex("kickoff") != 0 || PhaseIndex("handover") != 6 || PhaseIndex("x") != 7 {
		t.Fatal("unexpected phase index")
	}
	if !IsPhase("permitting") || IsPhase("Permitting") {
		t.Fatal("IsPhase should be exact")
	}
}
