package pg

import (
	"context"

	"invoice-engine/internal/audit"
	"invoice-engine/internal/invoice"
)

// AuditRepo implements audit.Repository on the append-only invoice_audit
// table.
type AuditRepo struct{ s *Store }

func (r *AuditRepo) Append(ctx context.Context, e audit.Entry) error {
	const q = `
INSERT INTO invoice_audit (
  id, invoice_id, created_at, kind, detail, previous_state, new_state, actor
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8
)
`
	_, err := r.s.q(ctx).ExecContext(ctx, q,
		e.ID,
		e.InvoiceID,
		e.CreatedAt,
		string(e.Kind),
		e.Detail,
		stateArg(e.PreviousState),
		stateArg(e.NewState),
		e.Actor,
	)
	return err
}

func (r *AuditRepo) ListByInvoice(ctx context.Context, invoiceID int64) ([]audit.Entry, error) {
	const q = `
SELECT id, invoice_id, created_at, kind, detail, previous_state, new_state, actor
FROM invoice_audit
WHERE invoice_id = $1
ORDER BY created_at DESC, seq DESC
`
	rows, err := r.s.q(ctx).QueryContext(ctx, q, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []audit.Entry{}
	for rows.Next() {
		var (
			e          audit.Entry
			kind       string
			prev, next *string
		)
		if err := rows.Scan(&e.ID, &e.InvoiceID, &e.CreatedAt, &kind, &e.Detail, &prev, &next, &e.Actor); err != nil {
			return nil, err
		}
		e.Kind = audit.Kind(kind)
		e.PreviousState = toState(prev)
		e.NewState = toState(next)
		out = append(out, e)
	}
	return out, rows.Err()
}

func stateArg(s *invoice.State) *string {
	if s == nil {
		return nil
	}
	v := string(*s)
	return &v
}

func toState(s *string) *invoice.State {
	if s == nil {
		return nil
	}
	v := invoice.State(*s)
	return &v
}
