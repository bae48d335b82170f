package lifecycle

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"invoice-engine/internal/audit"
	"invoice-engine/internal/insurer"
	"invoice-engine/internal/invoice"
	"invoice-engine/internal/storage"
	"invoice-engine/internal/store/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNotifier struct {
	err  error
	sent []invoice.Invoice
	ins  []*insurer.Insurer
}

func (f *fakeNotifier) SendInvoice(_ context.Context, inv invoice.Invoice, ins *insurer.Insurer) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, inv)
	f.ins = append(f.ins, ins)
	return nil
}

type fixture struct {
	store    *memory.Store
	files    *storage.Files
	notifier *fakeNotifier
	svc      *Service
	now      time.Time
}

var (
	admin    = Actor{ID: "admin-1", Admin: true}
	santaFe  = invoice.BranchSantaFe
	branchSF = Actor{ID: "pdv-1", Branch: &santaFe}
)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	now := time.Unix(1700000000, 0).UTC()
	store := memory.New([]insurer.Insurer{
		{ID: 7, Name: "Sancor Seguros", Email: "siniestros@sancor.test"},
		{ID: 8, Name: "Rivadavia"},
	})
	files, err := storage.NewFiles(t.TempDir())
	require.NoError(t, err)
	n := &fakeNotifier{}
	clock := func() time.Time { return now }
	svc := NewService(Deps{
		Invoices:    store.Invoices(),
		Tx:          store.TxRunner(),
		Audit:       audit.NewService(store.Audit()).WithClock(clock),
		Insurers:    store.Insurers(),
		Attachments: files,
		Notifier:    n,
		Clock:       clock,
	})
	return &fixture{store: store, files: files, notifier: n, svc: svc, now: now}
}

func (f *fixture) seed(t *testing.T, inv invoice.Invoice) invoice.Invoice {
	t.Helper()
	if inv.State == "" {
		inv.State = invoice.StatePendingAssignment
	}
	if inv.InvoiceNumber == nil {
		n := "0104-00001234"
		inv.InvoiceNumber = &n
	}
	out, err := f.store.Invoices().Create(context.Background(), inv)
	require.NoError(t, err)
	return out
}

func (f *fixture) history(t *testing.T, id int64) []audit.Entry {
	t.Helper()
	h, err := f.svc.History(context.Background(), admin, id)
	require.NoError(t, err)
	return h
}

func kinds(entries []audit.Entry) []audit.Kind {
	out := make([]audit.Kind, len(entries))
	for i, e := range entries {
		out[i] = e.Kind
	}
	return out
}

func TestAssignInsurer_PendingBecomesNew(t *testing.T) {
	f := newFixture(t)
	inv := f.seed(t, invoice.Invoice{})

	got, err := f.svc.AssignInsurer(context.Background(), admin, inv.ID, 7)
	require.NoError(t, err)
	assert.Equal(t, invoice.StateNew, got.State)
	require.NotNil(t, got.InsurerName)
	assert.Equal(t, "Sancor Seguros", *got.InsurerName)

	h := f.history(t, inv.ID)
	assert.Equal(t, []audit.Kind{audit.KindInsurerAssigned, audit.KindStateChange}, kinds(h))
	assert.Equal(t, invoice.StatePendingAssignment, *h[1].PreviousState)
	assert.Equal(t, invoice.StateNew, *h[1].NewState)
	assert.Equal(t, "admin-1", h[1].Actor)
}

func TestAssignInsurer_ReadyKeepsState(t *testing.T) {
	f := newFixture(t)
	inv := f.seed(t, invoice.Invoice{State: invoice.StateReadyToSend})

	got, err := f.svc.AssignInsurer(context.Background(), admin, inv.ID, 8)
	require.NoError(t, err)
	assert.Equal(t, invoice.StateReadyToSend, got.State)
	assert.Equal(t, []audit.Kind{audit.KindInsurerAssigned}, kinds(f.history(t, inv.ID)))
}

func TestAssignInsurer_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	open := f.seed(t, invoice.Invoice{})
	closed := f.seed(t, invoice.Invoice{State: invoice.StateManuallyClosed})

	_, err := f.svc.AssignInsurer(ctx, branchSF, open.ID, 7)
	assert.ErrorIs(t, err, invoice.ErrForbidden)

	_, err = f.svc.AssignInsurer(ctx, admin, open.ID, 999)
	assert.ErrorIs(t, err, invoice.ErrInvalidArgument)
	assert.Equal(t, invoice.MsgInsurerNotFound, invoice.UserMessage(err, ""))

	_, err = f.svc.AssignInsurer(ctx, admin, closed.ID, 7)
	assert.ErrorIs(t, err, invoice.ErrDefinitiveState)
	assert.Equal(t, invoice.MsgDefinitiveState, invoice.UserMessage(err, ""))

	_, err = f.svc.AssignInsurer(ctx, admin, 12345, 7)
	assert.ErrorIs(t, err, invoice.ErrNotFound)

	assert.Empty(t, f.history(t, open.ID))
}

func TestAttachSecondary_MovesToReady(t *testing.T) {
	f := newFixture(t)
	inv := f.seed(t, invoice.Invoice{State: invoice.StateNew})

	got, err := f.svc.AttachSecondary(context.Background(), branchSF, inv.ID, "", strings.NewReader("%PDF-1.4"))
	require.NoError(t, err)
	assert.Equal(t, invoice.StateReadyToSend, got.State)
	require.NotNil(t, got.SecondaryAttachment)
	assert.True(t, strings.HasPrefix(*got.SecondaryAttachment, "extra_"))
	assert.True(t, strings.HasSuffix(*got.SecondaryAttachment, "_adjunto.pdf"))
	assert.True(t, f.files.Exists(*got.SecondaryAttachment))

	h := f.history(t, inv.ID)
	assert.Equal(t, []audit.Kind{audit.KindExtraAttachment, audit.KindStateChange}, kinds(h))
	assert.Equal(t, "pdv-1", h[0].Actor)

	// A replacement keeps the state and only records the upload.
	again, err := f.svc.AttachSecondary(context.Background(), admin, inv.ID, "otro.pdf", strings.NewReader("x"))
	require.NoError(t, err)
	assert.Equal(t, invoice.StateReadyToSend, again.State)
	assert.Len(t, f.history(t, inv.ID), 3)
}

func TestAttachSecondary_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.seed(t, invoice.Invoice{})
	sent := f.seed(t, invoice.Invoice{State: invoice.StateSentToInsurer})
	rafaela := f.seed(t, invoice.Invoice{InvoiceNumber: ptr("0109-00000001")})

	_, err := f.svc.AttachSecondary(ctx, admin, inv.ID, "a.pdf", strings.NewReader(""))
	assert.ErrorIs(t, err, invoice.ErrEmptyFile)

	_, err = f.svc.AttachSecondary(ctx, admin, sent.ID, "a.pdf", strings.NewReader("x"))
	assert.ErrorIs(t, err, invoice.ErrDefinitiveState)

	_, err = f.svc.AttachSecondary(ctx, branchSF, rafaela.ID, "a.pdf", strings.NewReader("x"))
	assert.ErrorIs(t, err, invoice.ErrNotFound)

	got, err := f.store.Invoices().Get(ctx, inv.ID)
	require.NoError(t, err)
	assert.Nil(t, got.SecondaryAttachment)
	assert.Equal(t, invoice.StatePendingAssignment, got.State)
}

func TestSend_Success(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.seed(t, invoice.Invoice{})
	_, err := f.svc.AssignInsurer(ctx, admin, inv.ID, 7)
	require.NoError(t, err)
	_, err = f.svc.AttachSecondary(ctx, admin, inv.ID, "doc.pdf", strings.NewReader("x"))
	require.NoError(t, err)

	got, err := f.svc.Send(ctx, admin, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, invoice.StateSentToInsurer, got.State)
	require.NotNil(t, got.SentAt)
	assert.True(t, got.SentAt.Equal(f.now))

	require.Len(t, f.notifier.sent, 1)
	require.NotNil(t, f.notifier.ins[0])
	assert.Equal(t, "siniestros@sancor.test", f.notifier.ins[0].Email)

	h := f.history(t, inv.ID)
	assert.Equal(t, audit.KindSentToInsurer, h[0].Kind)
	assert.Equal(t, "Factura enviada a la aseguradora Sancor Seguros", h[0].Detail)
	assert.Equal(t, audit.KindStateChange, h[1].Kind)
	assert.Equal(t, invoice.StateSentToInsurer, *h[1].NewState)

	// Terminal now: everything but notes is refused.
	_, err = f.svc.Send(ctx, admin, inv.ID)
	assert.ErrorIs(t, err, invoice.ErrDefinitiveState)
	assert.ErrorIs(t, f.svc.Resend(ctx, admin, inv.ID), invoice.ErrDefinitiveState)
	_, err = f.svc.UpdateNotes(ctx, admin, inv.ID, "pagada")
	assert.NoError(t, err)
}

func TestSend_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	noExtra := f.seed(t, invoice.Invoice{State: invoice.StateNew})
	wrongState := f.seed(t, invoice.Invoice{State: invoice.StateNew, SecondaryAttachment: ptr("extra.pdf")})

	_, err := f.svc.Send(ctx, branchSF, noExtra.ID)
	assert.ErrorIs(t, err, invoice.ErrForbidden)

	_, err = f.svc.Send(ctx, admin, noExtra.ID)
	assert.ErrorIs(t, err, invoice.ErrMissingAttachment)
	assert.Equal(t, invoice.MsgMissingAttachment, invoice.UserMessage(err, ""))

	_, err = f.svc.Send(ctx, admin, wrongState.ID)
	assert.ErrorIs(t, err, invoice.ErrInvalidState)
	assert.Empty(t, f.notifier.sent)
}

func TestSend_DeliveryFailureChangesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.seed(t, invoice.Invoice{State: invoice.StateReadyToSend, SecondaryAttachment: ptr("extra.pdf")})
	f.notifier.err = invoice.Reject(invoice.ErrNoDestination, invoice.MsgNoDestination)

	_, err := f.svc.Send(ctx, admin, inv.ID)
	assert.ErrorIs(t, err, invoice.ErrNoDestination)

	got, err := f.store.Invoices().Get(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, invoice.StateReadyToSend, got.State)
	assert.Nil(t, got.SentAt)
	assert.Empty(t, f.history(t, inv.ID))
}

func TestClose(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.seed(t, invoice.Invoice{})

	_, err := f.svc.Close(ctx, branchSF, inv.ID)
	assert.ErrorIs(t, err, invoice.ErrForbidden)

	got, err := f.svc.Close(ctx, admin, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, invoice.StateManuallyClosed, got.State)
	require.NotNil(t, got.SentAt)

	h := f.history(t, inv.ID)
	assert.Equal(t, []audit.Kind{audit.KindManualClose, audit.KindStateChange}, kinds(h))
	assert.Equal(t, "Factura cerrada manualmente sin envío de correo.", h[0].Detail)

	_, err = f.svc.Close(ctx, admin, inv.ID)
	assert.ErrorIs(t, err, invoice.ErrDefinitiveState)
}

func TestResend_RecordsEntryOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.seed(t, invoice.Invoice{State: invoice.StateNew})

	require.NoError(t, f.svc.Resend(ctx, branchSF, inv.ID))
	got, _ := f.store.Invoices().Get(ctx, inv.ID)
	assert.Equal(t, invoice.StateNew, got.State)
	h := f.history(t, inv.ID)
	require.Len(t, h, 1)
	assert.Equal(t, audit.KindResend, h[0].Kind)
}

func TestUpdateNotes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.seed(t, invoice.Invoice{State: invoice.StateManuallyClosed})

	_, err := f.svc.UpdateNotes(ctx, branchSF, inv.ID, "x")
	assert.ErrorIs(t, err, invoice.ErrForbidden)

	got, err := f.svc.UpdateNotes(ctx, admin, inv.ID, "llamar al taller")
	require.NoError(t, err)
	require.NotNil(t, got.AdminNotes)
	assert.Equal(t, "llamar al taller", *got.AdminNotes)
	assert.Empty(t, f.history(t, inv.ID))

	got, err = f.svc.UpdateNotes(ctx, admin, inv.ID, "")
	require.NoError(t, err)
	assert.Nil(t, got.AdminNotes)
}

func TestList_BranchScoping(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	old := f.now.AddDate(0, 0, -40)
	f.seed(t, invoice.Invoice{InvoiceDate: &old})
	f.seed(t, invoice.Invoice{InvoiceNumber: ptr("0105-00000009")})

	page, err := f.svc.List(ctx, admin, invoice.Filter{})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)

	// Branch users cannot widen their scope.
	other := invoice.BranchReconquista
	page, err = f.svc.List(ctx, branchSF, invoice.Filter{Branch: &other})
	require.NoError(t, err)
	require.Equal(t, 1, page.Total)
	assert.Equal(t, "0104-00001234", *page.Items[0].InvoiceNumber)

	page, err = f.svc.List(ctx, admin, invoice.Filter{OverdueOnly: true})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)

	_, err = f.svc.List(ctx, Actor{ID: "nobody"}, invoice.Filter{})
	assert.ErrorIs(t, err, invoice.ErrForbidden)
}

func TestAttachmentName(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.seed(t, invoice.Invoice{PrimaryAttachment: "20231114_221320_x_fact.pdf"})

	name, err := f.svc.AttachmentName(ctx, branchSF, inv.ID, PrimaryAttachment)
	require.NoError(t, err)
	assert.Equal(t, "20231114_221320_x_fact.pdf", name)

	_, err = f.svc.AttachmentName(ctx, admin, inv.ID, SecondaryAttachment)
	assert.True(t, errors.Is(err, invoice.ErrNotFound))
}

func TestTerminalInvoicesRejectEveryAction(t *testing.T) {
	ops := []struct {
		name string
		run  func(f *fixture, id int64) error
	}{
		{"assign", func(f *fixture, id int64) error {
			_, err := f.svc.AssignInsurer(context.Background(), admin, id, 8)
			return err
		}},
		{"attach", func(f *fixture, id int64) error {
			_, err := f.svc.AttachSecondary(context.Background(), admin, id, "otro.pdf", strings.NewReader("%PDF-1.4"))
			return err
		}},
		{"send", func(f *fixture, id int64) error {
			_, err := f.svc.Send(context.Background(), admin, id)
			return err
		}},
		{"close", func(f *fixture, id int64) error {
			_, err := f.svc.Close(context.Background(), admin, id)
			return err
		}},
		{"resend", func(f *fixture, id int64) error {
			return f.svc.Resend(context.Background(), admin, id)
		}},
	}

	for _, state := range []invoice.State{invoice.StateSentToInsurer, invoice.StateManuallyClosed} {
		for _, op := range ops {
			t.Run(string(state)+"/"+op.name, func(t *testing.T) {
				f := newFixture(t)
				ctx := context.Background()
				inv := f.seed(t, invoice.Invoice{
					State:               state,
					InsurerID:           ptrInt(7),
					InsurerName:         ptr("Sancor Seguros"),
					SecondaryAttachment: ptr("extra_1_a_adjunto.pdf"),
				})
				require.NoError(t, audit.NewService(f.store.Audit()).LogAction(ctx, inv.ID, audit.KindSentToInsurer, "previo", "admin-1"))
				before := f.history(t, inv.ID)

				err := op.run(f, inv.ID)
				assert.ErrorIs(t, err, invoice.ErrDefinitiveState)

				got, err := f.svc.Get(ctx, admin, inv.ID)
				require.NoError(t, err)
				assert.Equal(t, state, got.State)
				require.NotNil(t, got.SecondaryAttachment)
				assert.Equal(t, "extra_1_a_adjunto.pdf", *got.SecondaryAttachment)
				assert.EqualValues(t, 7, *got.InsurerID)
				assert.Equal(t, before, f.history(t, inv.ID))
				assert.Empty(t, f.notifier.sent)

				stored, _ := os.ReadDir(f.files.Root())
				assert.Empty(t, stored)
			})
		}
	}
}

func ptr(s string) *string { return &s }

func ptrInt(v int64) *int64 { return &v }
