package pg

import (
	"context"
	"database/sql/driver"
	"errors"
	"regexp"
	"testing"
	"time"

	"invoice-engine/internal/audit"
	"invoice-engine/internal/insurer"
	"invoice-engine/internal/invoice"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return New(db), mock
}

func anyArgs(n int) []driver.Value {
	out := make([]driver.Value, n)
	for i := range out {
		out[i] = sqlmock.AnyArg()
	}
	return out
}

func invoiceRow(id int64, number any, state string) []driver.Value {
	received := time.Unix(1700000000, 0).UTC()
	return []driver.Value{
		id, "<m@x>", state, nil, nil, "Has recibido un nuevo comprobante", "juan@amiun.com.ar",
		"20231114_221320_01H_fact.pdf", nil, received, nil, nil,
		number, nil, nil, nil,
	}
}

func TestInvoiceRepo_Create(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("INSERT INTO invoices").
		WithArgs(anyArgs(15)...).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(42)))

	msgID := "<m@x>"
	inv, err := s.Invoices().Create(context.Background(), invoice.Invoice{MessageID: &msgID, State: invoice.StateNew})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if inv.ID != 42 {
		t.Fatalf("expected id 42, got %d", inv.ID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestInvoiceRepo_CreateMapsUniqueViolation(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("INSERT INTO invoices").
		WithArgs(anyArgs(15)...).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "invoices_message_id_key"})

	_, err := s.Invoices().Create(context.Background(), invoice.Invoice{State: invoice.StateNew})
	if !errors.Is(err, invoice.ErrDuplicateMessageID) {
		t.Fatalf("expected ErrDuplicateMessageID, got %v", err)
	}
}

func TestInvoiceRepo_GetForUpdate(t *testing.T) {
	s, mock := newMock(t)
	cols := invoiceColumns
	mock.ExpectQuery(regexp.QuoteMeta("FROM invoices WHERE id = $1 FOR UPDATE")).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows(cols).AddRow(invoiceRow(7, "0104-00001234", "READY_TO_SEND")...))

	inv, err := s.Invoices().GetForUpdate(context.Background(), 7)
	if err != nil {
		t.Fatalf("GetForUpdate: %v", err)
	}
	if inv.State != invoice.StateReadyToSend {
		t.Fatalf("unexpected state %s", inv.State)
	}
	if inv.InvoiceNumber == nil || *inv.InvoiceNumber != "0104-00001234" {
		t.Fatalf("unexpected invoice number %v", inv.InvoiceNumber)
	}
	if inv.InsurerID != nil || inv.SecondaryAttachment != nil || inv.InvoiceDate != nil {
		t.Fatalf("expected NULL columns to scan as nil: %+v", inv)
	}
}

func TestInvoiceRepo_GetNotFound(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("FROM invoices WHERE id").
		WithArgs(int64(9)).
		WillReturnRows(sqlmock.NewRows(invoiceColumns))

	if _, err := s.Invoices().Get(context.Background(), 9); !errors.Is(err, invoice.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestInvoiceRepo_UpdateMissingRow(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec("UPDATE invoices SET").
		WithArgs(anyArgs(11)...).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.Invoices().Update(context.Background(), invoice.Invoice{ID: 3, State: invoice.StateNew})
	if !errors.Is(err, invoice.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestInvoiceRepo_ListBuildsFilter(t *testing.T) {
	s, mock := newMock(t)
	state := invoice.StateNew
	f := invoice.Filter{State: &state, InvoiceNumber: "0104", PageSize: 10, Page: 1}

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM invoices WHERE state = $1 AND invoice_number ILIKE $2")).
		WithArgs("NEW", "%0104%").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(11))
	mock.ExpectQuery(regexp.QuoteMeta("FROM invoices WHERE state = $1 AND invoice_number ILIKE $2 ORDER BY invoice_date DESC NULLS LAST, id DESC LIMIT 10 OFFSET 10")).
		WithArgs("NEW", "%0104%").
		WillReturnRows(sqlmock.NewRows(invoiceColumns).AddRow(invoiceRow(1, "0104-00000001", "NEW")...))

	page, err := s.Invoices().List(context.Background(), f, time.Unix(1700000000, 0))
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if page.Total != 11 || len(page.Items) != 1 || page.Page != 1 {
		t.Fatalf("unexpected page %+v", page)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestInvoiceRepo_ListEmptySkipsRowQuery(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM invoices")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	page, err := s.Invoices().List(context.Background(), invoice.Filter{}, time.Unix(1700000000, 0))
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if page.Items == nil || len(page.Items) != 0 {
		t.Fatalf("expected empty items, got %+v", page.Items)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestFilterConds_OverdueAndBranch(t *testing.T) {
	b := invoice.BranchRafaela
	now := time.Date(2024, 5, 20, 15, 0, 0, 0, time.UTC)
	q := psql.Select("id").From("invoices")
	for _, c := range filterConds(invoice.Filter{OverdueOnly: true, Branch: &b}, now) {
		q = q.Where(c)
	}
	sqlStr, args, err := q.ToSql()
	if err != nil {
		t.Fatalf("ToSql: %v", err)
	}
	want := "SELECT id FROM invoices WHERE invoice_date < $1 AND sent_at IS NULL AND " +
		"(regexp_replace(invoice_number, '[^0-9]', '', 'g') LIKE $2 OR regexp_replace(invoice_number, '[^0-9]', '', 'g') LIKE $3)"
	if sqlStr != want {
		t.Fatalf("unexpected sql:\n%s\nwant:\n%s", sqlStr, want)
	}
	if len(args) != 3 || args[1] != "0109%" || args[2] != "109%" {
		t.Fatalf("unexpected args %v", args)
	}
	cutoff, ok := args[0].(time.Time)
	if !ok || !cutoff.Equal(time.Date(2024, 5, 6, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected cutoff %v", args[0])
	}
}

func TestLikePatternEscapes(t *testing.T) {
	if got := likePattern("10%_x"); got != `%10\%\_x%` {
		t.Fatalf("unexpected pattern %q", got)
	}
}

func TestRunInTx_CommitsAndJoins(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO invoice_audit").WithArgs(anyArgs(8)...).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO invoice_audit").WithArgs(anyArgs(8)...).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	prev, next := invoice.StateNew, invoice.StateReadyToSend
	err := s.RunInTx(context.Background(), func(ctx context.Context) error {
		if err := s.Audit().Append(ctx, audit.Entry{ID: "a", InvoiceID: 1, Kind: audit.KindExtraAttachment, Actor: "u"}); err != nil {
			return err
		}
		return s.RunInTx(ctx, func(ctx context.Context) error {
			return s.Audit().Append(ctx, audit.Entry{ID: "b", InvoiceID: 1, Kind: audit.KindStateChange, PreviousState: &prev, NewState: &next, Actor: "u"})
		})
	})
	if err != nil {
		t.Fatalf("RunInTx: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRunInTx_RollsBack(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO invoice_audit").WithArgs(anyArgs(8)...).WillReturnError(errors.New("boom"))
	mock.ExpectRollback()

	err := s.RunInTx(context.Background(), func(ctx context.Context) error {
		return s.Audit().Append(ctx, audit.Entry{ID: "a", InvoiceID: 1, Kind: audit.KindResend})
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAuditRepo_ListByInvoice(t *testing.T) {
	s, mock := newMock(t)
	at := time.Unix(1700000000, 0).UTC()
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY created_at DESC, seq DESC")).
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "invoice_id", "created_at", "kind", "detail", "previous_state", "new_state", "actor"}).
			AddRow("b", int64(5), at, "STATE_CHANGE", "Cambio de estado de NEW a READY_TO_SEND", "NEW", "READY_TO_SEND", "admin").
			AddRow("a", int64(5), at, "CREATION", "Factura creada desde correo IMAP.", nil, nil, "system"))

	got, err := s.Audit().ListByInvoice(context.Background(), 5)
	if err != nil {
		t.Fatalf("ListByInvoice: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	if !got[0].IsStateChange() || *got[0].NewState != invoice.StateReadyToSend {
		t.Fatalf("unexpected first entry %+v", got[0])
	}
	if got[1].IsStateChange() || got[1].Kind != audit.KindCreation {
		t.Fatalf("unexpected second entry %+v", got[1])
	}
}

func TestInsurerDirectory_FindByName(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE lower(name) = lower($1)")).
		WithArgs("Sancor Seguros").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "email"}).AddRow(int64(24), "Sancor Seguros", ""))
	mock.ExpectQuery(regexp.QuoteMeta("WHERE lower(name) = lower($1)")).
		WithArgs("Nadie").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "email"}))

	ins, err := s.Insurers().FindByName(context.Background(), " Sancor Seguros ")
	if err != nil || ins.ID != 24 {
		t.Fatalf("FindByName: %+v %v", ins, err)
	}
	if _, err := s.Insurers().FindByName(context.Background(), "Nadie"); !errors.Is(err, insurer.ErrNotFound) {
		t.Fatalf("expected insurer.ErrNotFound, got %v", err)
	}
}
