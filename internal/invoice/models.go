package invoice

import (
	"time"
)

// OverdueAfter is how long an unsent invoice may wait before it is flagged.
const OverdueAfter = 15 * 24 * time.Hour

// Invoice is one ingested document and its lifecycle record.
type Invoice struct {
	ID        int64   `json:"id"`
	MessageID *string `json:"message_id,omitempty"`
	State     State   `json:"state"`

	InsurerID   *int64  `json:"insurer_id,omitempty"`
	InsurerName *string `json:"insurer_name,omitempty"`

	Subject string `json:"subject"`
	Sender  string `json:"sender"`

	PrimaryAttachment   string  `json:"primary_attachment"`
	SecondaryAttachment *string `json:"secondary_attachment,omitempty"`

	ReceivedAt  time.Time  `json:"received_at"`
	InvoiceDate *time.Time `json:"invoice_date,omitempty"`
	SentAt      *time.Time `json:"sent_at,omitempty"`

	InvoiceNumber *string `json:"invoice_number,omitempty"`
	ClaimNumber   *string `json:"claim_number,omitempty"`
	OrderNumber   *string `json:"order_number,omitempty"`

	AdminNotes *string `json:"admin_notes,omitempty"`
}

// Overdue reports an invoice dated more than OverdueAfter before now that
// was never sent.
func (inv Invoice) Overdue(now time.Time) bool {
	if inv.InvoiceDate == nil || inv.SentAt != nil {
		return false
	}
	return inv.InvoiceDate.Before(now.Add(-OverdueAfter))
}

// HasInsurer reports whether an insurer is assigned.
func (inv Invoice) HasInsurer() bool { return inv.InsurerID != nil }

// Clone returns a deep copy so callers can mutate without aliasing.
func (inv Invoice) Clone() Invoice {
	out := inv
	out.MessageID = cloneString(inv.MessageID)
	out.InsurerID = cloneInt64(inv.InsurerID)
	out.InsurerName = cloneString(inv.InsurerName)
	out.SecondaryAttachment = cloneString(inv.SecondaryAttachment)
	out.InvoiceDate = cloneTime(inv.InvoiceDate)
	out.SentAt = cloneTime(inv.SentAt)
	out.InvoiceNumber = cloneString(inv.InvoiceNumber)
	out.ClaimNumber = cloneString(inv.ClaimNumber)
	out.OrderNumber = cloneString(inv.OrderNumber)
	out.AdminNotes = cloneString(inv.AdminNotes)
	return out
}

func cloneString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneInt64(p *int64) *int64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneTime(p *time.Time) *time.Time {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
