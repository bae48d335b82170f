package invoice

import (
	"fmt"
	"strings"
)

// State is the lifecycle position of an invoice. The set is closed: every
// switch over it goes through MatchState so a new state is a compile error
// at each StateCases implementation.
type State string

const (
	StateNew               State = "NEW"
	StatePendingAssignment State = "PENDING_ASSIGNMENT"
	StateReadyToSend       State = "READY_TO_SEND"
	StateSentToInsurer     State = "SENT_TO_INSURER"
	StateManuallyClosed    State = "MANUALLY_CLOSED"
)

// StateCases has one method per state.
type StateCases[T any] interface {
	New() T
	PendingAssignment() T
	ReadyToSend() T
	SentToInsurer() T
	ManuallyClosed() T
}

// MatchState dispatches s to the matching case. It panics on a value that is
// not one of the declared states; use ParseState at trust boundaries.
func MatchState[T any](s State, c StateCases[T]) T {
	switch s {
	case StateNew:
		return c.New()
	case StatePendingAssignment:
		return c.PendingAssignment()
	case StateReadyToSend:
		return c.ReadyToSend()
	case StateSentToInsurer:
		return c.SentToInsurer()
	case StateManuallyClosed:
		return c.ManuallyClosed()
	}
	panic(fmt.Sprintf("invoice: unknown state %q", string(s)))
}

// AllStates lists every state in lifecycle order.
func AllStates() []State {
	return []State{StateNew, StatePendingAssignment, StateReadyToSend, StateSentToInsurer, StateManuallyClosed}
}

// ParseState accepts a state name in any letter case.
func ParseState(v string) (State, error) {
	s := State(strings.ToUpper(strings.TrimSpace(v)))
	for _, known := range AllStates() {
		if s == known {
			return s, nil
		}
	}
	return "", fmt.Errorf("%w: unknown state %q", ErrInvalidArgument, v)
}

type terminalCases struct{}

func (terminalCases) New() bool               { return false }
func (terminalCases) PendingAssignment() bool { return false }
func (terminalCases) ReadyToSend() bool       { return false }
func (terminalCases) SentToInsurer() bool     { return true }
func (terminalCases) ManuallyClosed() bool    { return true }

// IsTerminal reports whether no further mutation is allowed.
func (s State) IsTerminal() bool { return MatchState[bool](s, terminalCases{}) }

type labelCases struct{}

func (labelCases) New() string               { return "Nueva" }
func (labelCases) PendingAssignment() string { return "Pendiente de asignación" }
func (labelCases) ReadyToSend() string       { return "Lista para enviar" }
func (labelCases) SentToInsurer() string     { return "Enviada a aseguradora" }
func (labelCases) ManuallyClosed() string    { return "Cerrada manualmente" }

// Label is the display name shown to back-office users.
func (s State) Label() string { return MatchState[string](s, labelCases{}) }

// InitialState is the state an invoice is created in by ingestion.
func InitialState(insurerResolved bool) State {
	if insurerResolved {
		return StateNew
	}
	return StatePendingAssignment
}
