package invoice

import (
	"context"
	"time"
)

// Repository persists invoices. Implementations join the ambient
// transaction started by TxRunner when one is present in ctx.
type Repository interface {
	Create(ctx context.Context, inv Invoice) (Invoice, error)
	Get(ctx context.Context, id int64) (Invoice, error)
	// GetForUpdate locks the row for the rest of the transaction.
	GetForUpdate(ctx context.Context, id int64) (Invoice, error)
	Update(ctx context.Context, inv Invoice) error
	ExistsByMessageID(ctx context.Context, messageID string) (bool, error)
	List(ctx context.Context, f Filter, now time.Time) (Page, error)
	// InvoiceDates returns the invoice dates within [from, to].
	InvoiceDates(ctx context.Context, from, to time.Time) ([]time.Time, error)
}

// TxRunner runs fn as one atomic unit. Everything fn writes through the
// repositories is committed together or not at all.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}
