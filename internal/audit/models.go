package audit

import (
	"time"

	"invoice-engine/internal/invoice"
)

// Entry is an immutable, append-only record of something that happened to an
// invoice.
//
// Invariants:
// - Entries are never updated or deleted.
// - InvoiceID and Kind are required.
// - PreviousState and NewState are set together, and only on state changes.
type Entry struct {
	ID        string    `json:"id" db:"id"`
	InvoiceID int64     `json:"invoice_id" db:"invoice_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	Kind   Kind   `json:"kind" db:"kind"`
	Detail string `json:"detail" db:"detail"`

	PreviousState *invoice.State `json:"previous_state,omitempty" db:"previous_state"`
	NewState      *invoice.State `json:"new_state,omitempty" db:"new_state"`

	// Actor is the user id, or ActorSystem for automated entries.
	Actor string `json:"actor" db:"actor"`
}

// IsStateChange reports whether the entry records a transition.
func (e Entry) IsStateChange() bool { return e.PreviousState != nil && e.NewState != nil }

type Kind string

const (
	KindCreation        Kind = "CREATION"
	KindStateChange     Kind = "STATE_CHANGE"
	KindInsurerAssigned Kind = "INSURER_ASSIGNED"
	KindExtraAttachment Kind = "EXTRA_ATTACHMENT"
	KindSentToInsurer   Kind = "SENT_TO_INSURER"
	KindManualClose     Kind = "MANUAL_CLOSE"
	KindResend          Kind = "RESEND"
)

const ActorSystem = "system"
