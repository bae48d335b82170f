package invoice

import (
	"errors"
	"testing"
)

func TestIsTerminal(t *testing.T) {
	want := map[State]bool{
		StateNew:               false,
		StatePendingAssignment: false,
		StateReadyToSend:       false,
		StateSentToInsurer:     true,
		StateManuallyClosed:    true,
	}
	for _, s := range AllStates() {
		if got := s.IsTerminal(); got != want[s] {
			t.Fatalf("%s: expected terminal=%v, got %v", s, want[s], got)
		}
		if s.Label() == "" {
			t.Fatalf("%s: expected label", s)
		}
	}
}

func TestParseState(t *testing.T) {
	s, err := ParseState(" ready_to_send ")
	if err != nil || s != StateReadyToSend {
		t.Fatalf("expected READY_TO_SEND, got %q %v", s, err)
	}
	if _, err := ParseState("NUEVA"); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestMatchState_PanicsOnUnknown(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic")
		}
	}()
	State("BOGUS").IsTerminal()
}

func TestInitialState(t *testing.T) {
	if InitialState(true) != StateNew {
		t.Fatalf("expected NEW with insurer")
	}
	if InitialState(false) != StatePendingAssignment {
		t.Fatalf("expected PENDING_ASSIGNMENT without insurer")
	}
}

func TestBelongsToBranch(t *testing.T) {
	cases := []struct {
		number string
		branch Branch
		want   bool
	}{
		{"0104-00012345", BranchSantaFe, true},
		{"104-00012345", BranchSantaFe, true},
		{"0109-00000001", BranchRafaela, true},
		{"0105-00000001", BranchReconquista, true},
		{"0105-00000001", BranchSantaFe, false},
		{"", BranchSantaFe, false},
		{"A-0104", BranchSantaFe, true},
	}
	for _, tc := range cases {
		if got := BelongsToBranch(tc.number, tc.branch); got != tc.want {
			t.Fatalf("%q %s: expected %v, got %v", tc.number, tc.branch, tc.want, got)
		}
	}
}

func TestParseBranch(t *testing.T) {
	b, err := ParseBranch("rafaela")
	if err != nil || b != BranchRafaela {
		t.Fatalf("expected RAFAELA, got %q %v", b, err)
	}
	if b.Label() != "Rafaela" {
		t.Fatalf("unexpected label %q", b.Label())
	}
	if _, err := ParseBranch("ROSARIO"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestActionError(t *testing.T) {
	err := Reject(ErrDefinitiveState, MsgDefinitiveState)
	if !errors.Is(err, ErrDefinitiveState) {
		t.Fatalf("expected errors.Is to unwrap")
	}
	if UserMessage(err, "x") != MsgDefinitiveState {
		t.Fatalf("unexpected message %q", UserMessage(err, "x"))
	}
	if UserMessage(errors.New("boom"), "fallback") != "fallback" {
		t.Fatalf("expected fallback")
	}
}
