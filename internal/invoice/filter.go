package invoice

import (
	"strings"
	"time"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 200

	// overdueListAfter is the listing cut-off for the overdue filter. It is
	// one day shorter than OverdueAfter, matching the back-office screens.
	overdueListAfter = 14 * 24 * time.Hour
)

// Filter narrows an invoice listing. Zero values mean "no restriction".
type Filter struct {
	State         *State
	InsurerID     *int64
	InvoiceNumber string
	ClaimNumber   string
	OrderNumber   string

	// OverdueOnly keeps dated, unsent invoices older than the cut-off.
	OverdueOnly bool
	// Branch restricts by invoice-number prefix.
	Branch *Branch

	Page     int
	PageSize int
}

// Normalize trims text criteria and clamps paging.
func (f Filter) Normalize() Filter {
	f.InvoiceNumber = strings.TrimSpace(f.InvoiceNumber)
	f.ClaimNumber = strings.TrimSpace(f.ClaimNumber)
	f.OrderNumber = strings.TrimSpace(f.OrderNumber)
	if f.Page < 0 {
		f.Page = 0
	}
	if f.PageSize <= 0 {
		f.PageSize = DefaultPageSize
	}
	if f.PageSize > MaxPageSize {
		f.PageSize = MaxPageSize
	}
	return f
}

// OverdueCutoff is the invoice date before which an unsent invoice is listed
// as overdue.
func OverdueCutoff(now time.Time) time.Time {
	y, m, d := now.Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	return today.Add(-overdueListAfter)
}

// Matches evaluates the filter against one invoice in memory.
func (f Filter) Matches(inv Invoice, now time.Time) bool {
	if f.State != nil && inv.State != *f.State {
		return false
	}
	if f.InsurerID != nil && (inv.InsurerID == nil || *inv.InsurerID != *f.InsurerID) {
		return false
	}
	if !containsFold(inv.InvoiceNumber, f.InvoiceNumber) ||
		!containsFold(inv.ClaimNumber, f.ClaimNumber) ||
		!containsFold(inv.OrderNumber, f.OrderNumber) {
		return false
	}
	if f.OverdueOnly {
		if inv.InvoiceDate == nil || inv.SentAt != nil || !inv.InvoiceDate.Before(OverdueCutoff(now)) {
			return false
		}
	}
	if f.Branch != nil {
		if inv.InvoiceNumber == nil || !BelongsToBranch(*inv.InvoiceNumber, *f.Branch) {
			return false
		}
	}
	return true
}

func containsFold(v *string, needle string) bool {
	if needle == "" {
		return true
	}
	if v == nil {
		return false
	}
	return strings.Contains(strings.ToLower(*v), strings.ToLower(needle))
}

// Page is one slice of a listing.
type Page struct {
	Items    []Invoice `json:"items"`
	Total    int       `json:"total"`
	Page     int       `json:"page"`
	PageSize int       `json:"page_size"`
}

// Less orders invoices by invoice date descending (undated last), then by id
// descending.
func Less(a, b Invoice) bool {
	switch {
	case a.InvoiceDate != nil && b.InvoiceDate != nil && !a.InvoiceDate.Equal(*b.InvoiceDate):
		return a.InvoiceDate.After(*b.InvoiceDate)
	case a.InvoiceDate != nil && b.InvoiceDate == nil:
		return true
	case a.InvoiceDate == nil && b.InvoiceDate != nil:
		return false
	}
	return a.ID > b.ID
}
