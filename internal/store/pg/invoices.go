package pg

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"invoice-engine/internal/invoice"

	"github.com/Masterminds/squirrel"
)

var invoiceColumns = []string{
	"id", "message_id", "state", "insurer_id", "insurer_name", "subject", "sender",
	"primary_attachment", "secondary_attachment", "received_at", "invoice_date", "sent_at",
	"invoice_number", "claim_number", "order_number", "admin_notes",
}

var psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

// InvoiceRepo implements invoice.Repository.
type InvoiceRepo struct{ s *Store }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInvoice(r rowScanner) (invoice.Invoice, error) {
	var inv invoice.Invoice
	err := r.Scan(
		&inv.ID,
		&inv.MessageID,
		&inv.State,
		&inv.InsurerID,
		&inv.InsurerName,
		&inv.Subject,
		&inv.Sender,
		&inv.PrimaryAttachment,
		&inv.SecondaryAttachment,
		&inv.ReceivedAt,
		&inv.InvoiceDate,
		&inv.SentAt,
		&inv.InvoiceNumber,
		&inv.ClaimNumber,
		&inv.OrderNumber,
		&inv.AdminNotes,
	)
	return inv, err
}

func (r *InvoiceRepo) Create(ctx context.Context, inv invoice.Invoice) (invoice.Invoice, error) {
	const q = `
INSERT INTO invoices (
  message_id, state, insurer_id, insurer_name, subject, sender,
  primary_attachment, secondary_attachment, received_at, invoice_date, sent_at,
  invoice_number, claim_number, order_number, admin_notes
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15
)
RETURNING id
`
	err := r.s.q(ctx).QueryRowContext(ctx, q,
		inv.MessageID,
		string(inv.State),
		inv.InsurerID,
		inv.InsurerName,
		inv.Subject,
		inv.Sender,
		inv.PrimaryAttachment,
		inv.SecondaryAttachment,
		inv.ReceivedAt,
		inv.InvoiceDate,
		inv.SentAt,
		inv.InvoiceNumber,
		inv.ClaimNumber,
		inv.OrderNumber,
		inv.AdminNotes,
	).Scan(&inv.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return invoice.Invoice{}, invoice.ErrDuplicateMessageID
		}
		return invoice.Invoice{}, err
	}
	return inv, nil
}

func (r *InvoiceRepo) Get(ctx context.Context, id int64) (invoice.Invoice, error) {
	return r.get(ctx, id, "")
}

func (r *InvoiceRepo) GetForUpdate(ctx context.Context, id int64) (invoice.Invoice, error) {
	return r.get(ctx, id, "FOR UPDATE")
}

func (r *InvoiceRepo) get(ctx context.Context, id int64, suffix string) (invoice.Invoice, error) {
	q := "SELECT " + strings.Join(invoiceColumns, ", ") + " FROM invoices WHERE id = $1 " + suffix
	inv, err := scanInvoice(r.s.q(ctx).QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return invoice.Invoice{}, invoice.ErrNotFound
		}
		return invoice.Invoice{}, err
	}
	return inv, nil
}

// Update writes every mutable column. message_id and received_at are fixed
// at creation.
func (r *InvoiceRepo) Update(ctx context.Context, inv invoice.Invoice) error {
	const q = `
UPDATE invoices SET
  state = $2,
  insurer_id = $3,
  insurer_name = $4,
  secondary_attachment = $5,
  invoice_date = $6,
  sent_at = $7,
  invoice_number = $8,
  claim_number = $9,
  order_number = $10,
  admin_notes = $11
WHERE id = $1
`
	res, err := r.s.q(ctx).ExecContext(ctx, q,
		inv.ID,
		string(inv.State),
		inv.InsurerID,
		inv.InsurerName,
		inv.SecondaryAttachment,
		inv.InvoiceDate,
		inv.SentAt,
		inv.InvoiceNumber,
		inv.ClaimNumber,
		inv.OrderNumber,
		inv.AdminNotes,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return invoice.ErrNotFound
	}
	return nil
}

func (r *InvoiceRepo) ExistsByMessageID(ctx context.Context, messageID string) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM invoices WHERE message_id = $1)`
	var ok bool
	if err := r.s.q(ctx).QueryRowContext(ctx, q, messageID).Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}

// filterConds translates f into WHERE conditions.
func filterConds(f invoice.Filter, now time.Time) []squirrel.Sqlizer {
	var conds []squirrel.Sqlizer
	if f.State != nil {
		conds = append(conds, squirrel.Eq{"state": string(*f.State)})
	}
	if f.InsurerID != nil {
		conds = append(conds, squirrel.Eq{"insurer_id": *f.InsurerID})
	}
	if f.InvoiceNumber != "" {
		conds = append(conds, squirrel.ILike{"invoice_number": likePattern(f.InvoiceNumber)})
	}
	if f.ClaimNumber != "" {
		conds = append(conds, squirrel.ILike{"claim_number": likePattern(f.ClaimNumber)})
	}
	if f.OrderNumber != "" {
		conds = append(conds, squirrel.ILike{"order_number": likePattern(f.OrderNumber)})
	}
	if f.OverdueOnly {
		conds = append(conds,
			squirrel.Lt{"invoice_date": invoice.OverdueCutoff(now)},
			squirrel.Eq{"sent_at": nil},
		)
	}
	if f.Branch != nil {
		or := squirrel.Or{}
		for _, p := range f.Branch.Prefixes() {
			or = append(or, squirrel.Expr("regexp_replace(invoice_number, '[^0-9]', '', 'g') LIKE ?", p+"%"))
		}
		conds = append(conds, or)
	}
	return conds
}

func likePattern(v string) string {
	v = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(v)
	return "%" + v + "%"
}

func (r *InvoiceRepo) List(ctx context.Context, f invoice.Filter, now time.Time) (invoice.Page, error) {
	f = f.Normalize()
	countQ := psql.Select("COUNT(*)").From("invoices")
	listQ := psql.Select(invoiceColumns...).From("invoices").
		OrderBy("invoice_date DESC NULLS LAST", "id DESC").
		Limit(uint64(f.PageSize)).
		Offset(uint64(f.Page * f.PageSize))
	for _, c := range filterConds(f, now) {
		countQ = countQ.Where(c)
		listQ = listQ.Where(c)
	}

	page := invoice.Page{Page: f.Page, PageSize: f.PageSize, Items: []invoice.Invoice{}}

	query, args, err := countQ.ToSql()
	if err != nil {
		return invoice.Page{}, err
	}
	if err := r.s.q(ctx).QueryRowContext(ctx, query, args...).Scan(&page.Total); err != nil {
		return invoice.Page{}, err
	}
	if page.Total == 0 {
		return page, nil
	}

	query, args, err = listQ.ToSql()
	if err != nil {
		return invoice.Page{}, err
	}
	rows, err := r.s.q(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return invoice.Page{}, err
	}
	defer rows.Close()
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return invoice.Page{}, err
		}
		page.Items = append(page.Items, inv)
	}
	if err := rows.Err(); err != nil {
		return invoice.Page{}, err
	}
	return page, nil
}

func (r *InvoiceRepo) InvoiceDates(ctx context.Context, from, to time.Time) ([]time.Time, error) {
	const q = `
SELECT invoice_date
FROM invoices
WHERE invoice_date IS NOT NULL AND invoice_date BETWEEN $1 AND $2
ORDER BY invoice_date
`
	rows, err := r.s.q(ctx).QueryContext(ctx, q, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []time.Time
	for rows.Next() {
		var d time.Time
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
