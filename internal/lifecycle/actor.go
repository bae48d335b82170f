package lifecycle

import "invoice-engine/internal/invoice"

// Actor is the authenticated caller of a lifecycle operation.
type Actor struct {
	ID    string
	Admin bool
	// Branch scopes a non-admin caller to one point of sale.
	Branch *invoice.Branch
}

// canSee reports whether the actor may read or act on inv.
func (a Actor) canSee(inv invoice.Invoice) bool {
	if a.Admin {
		return true
	}
	if a.Branch == nil || inv.InvoiceNumber == nil {
		return false
	}
	return invoice.BelongsToBranch(*inv.InvoiceNumber, *a.Branch)
}
