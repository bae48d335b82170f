//go:build integration

package pg

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"invoice-engine/internal/audit"
	"invoice-engine/internal/invoice"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("invoices"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Fatalf("failed to terminate container: %s", err)
		}
	})

	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	db, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, Migrate(ctx, db))
	return db
}

func TestStore_Postgres(t *testing.T) {
	db := setupDB(t)
	s := New(db)
	ctx := context.Background()
	now := time.Date(2024, 5, 20, 12, 0, 0, 0, time.UTC)
	auditSvc := audit.NewService(s.Audit()).WithClock(func() time.Time { return now })

	t.Run("seeded insurers", func(t *testing.T) {
		all, err := s.Insurers().List(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 32)
		ins, err := s.Insurers().FindByName(ctx, "sancor seguros")
		require.NoError(t, err)
		assert.Equal(t, "Sancor Seguros", ins.Name)
	})

	var created invoice.Invoice
	t.Run("create with audit in one transaction", func(t *testing.T) {
		msgID := "<int-1@x>"
		number := "0104-00001234"
		date := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
		err := s.RunInTx(ctx, func(ctx context.Context) error {
			inv, err := s.Invoices().Create(ctx, invoice.Invoice{
				MessageID:         &msgID,
				State:             invoice.StatePendingAssignment,
				Subject:           "Has recibido un nuevo comprobante",
				Sender:            "juan@amiun.com.ar",
				PrimaryAttachment: "fact.pdf",
				ReceivedAt:        now,
				InvoiceDate:       &date,
				InvoiceNumber:     &number,
			})
			if err != nil {
				return err
			}
			created = inv
			return auditSvc.LogCreation(ctx, inv.ID, "Factura creada desde correo IMAP.")
		})
		require.NoError(t, err)

		ok, err := s.Invoices().ExistsByMessageID(ctx, msgID)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("duplicate message id", func(t *testing.T) {
		msgID := "<int-1@x>"
		_, err := s.Invoices().Create(ctx, invoice.Invoice{MessageID: &msgID, State: invoice.StateNew, PrimaryAttachment: "x.pdf", ReceivedAt: now})
		assert.True(t, errors.Is(err, invoice.ErrDuplicateMessageID), "got %v", err)
	})

	t.Run("rollback leaves nothing", func(t *testing.T) {
		msgID := "<int-2@x>"
		boom := errors.New("boom")
		err := s.RunInTx(ctx, func(ctx context.Context) error {
			if _, err := s.Invoices().Create(ctx, invoice.Invoice{MessageID: &msgID, State: invoice.StateNew, PrimaryAttachment: "y.pdf", ReceivedAt: now}); err != nil {
				return err
			}
			return boom
		})
		require.ErrorIs(t, err, boom)
		ok, err := s.Invoices().ExistsByMessageID(ctx, msgID)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("transition and history", func(t *testing.T) {
		err := s.RunInTx(ctx, func(ctx context.Context) error {
			inv, err := s.Invoices().GetForUpdate(ctx, created.ID)
			if err != nil {
				return err
			}
			prev := inv.State
			inv.State = invoice.StateManuallyClosed
			inv.SentAt = &now
			if err := s.Invoices().Update(ctx, inv); err != nil {
				return err
			}
			return auditSvc.LogStateChange(ctx, inv.ID, prev, inv.State, "admin")
		})
		require.NoError(t, err)

		h, err := auditSvc.History(ctx, created.ID)
		require.NoError(t, err)
		require.Len(t, h, 2)
		assert.Equal(t, audit.KindStateChange, h[0].Kind)
		assert.Equal(t, audit.KindCreation, h[1].Kind)
	})

	t.Run("list filters", func(t *testing.T) {
		b := invoice.BranchSantaFe
		page, err := s.Invoices().List(ctx, invoice.Filter{Branch: &b}, now)
		require.NoError(t, err)
		assert.Equal(t, 1, page.Total)

		other := invoice.BranchRafaela
		page, err = s.Invoices().List(ctx, invoice.Filter{Branch: &other}, now)
		require.NoError(t, err)
		assert.Equal(t, 0, page.Total)

		// Closed invoices have a send timestamp, so they are never overdue.
		page, err = s.Invoices().List(ctx, invoice.Filter{OverdueOnly: true}, now)
		require.NoError(t, err)
		assert.Equal(t, 0, page.Total)

		dates, err := s.Invoices().InvoiceDates(ctx, now.AddDate(0, -2, 0), now)
		require.NoError(t, err)
		assert.Len(t, dates, 1)
	})
}
