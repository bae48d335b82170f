// Package lifecycle drives invoices through their states and records every
// change in the audit trail.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"invoice-engine/internal/audit"
	"invoice-engine/internal/insurer"
	"invoice-engine/internal/invoice"
	"invoice-engine/internal/storage"
	"invoice-engine/pkg/logger"
)

const (
	msgInvalidState = "La factura debe estar lista para enviar."
	msgNoBranch     = "El usuario no tiene sucursal asignada."
)

// Notifier delivers an invoice to its insurer.
type Notifier interface {
	SendInvoice(ctx context.Context, inv invoice.Invoice, ins *insurer.Insurer) error
}

// Attachments stores uploaded secondary documents.
type Attachments interface {
	SaveSecondary(ctx context.Context, original string, r io.Reader, now time.Time) (string, error)
	Remove(name string) error
}

type Deps struct {
	Invoices    invoice.Repository
	Tx          invoice.TxRunner
	Audit       *audit.Service
	Insurers    insurer.Directory
	Attachments Attachments
	Notifier    Notifier
	Clock       func() time.Time
}

type Service struct {
	invoices invoice.Repository
	tx       invoice.TxRunner
	audit    *audit.Service
	insurers insurer.Directory
	files    Attachments
	notifier Notifier
	clock    func() time.Time
}

func NewService(d Deps) *Service {
	clock := d.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		invoices: d.Invoices,
		tx:       d.Tx,
		audit:    d.Audit,
		insurers: d.Insurers,
		files:    d.Attachments,
		notifier: d.Notifier,
		clock:    clock,
	}
}

// Get returns one invoice visible to the actor.
func (s *Service) Get(ctx context.Context, actor Actor, id int64) (invoice.Invoice, error) {
	inv, err := s.invoices.Get(ctx, id)
	if err != nil {
		return invoice.Invoice{}, notFound(err)
	}
	if !actor.canSee(inv) {
		return invoice.Invoice{}, invoice.Reject(invoice.ErrNotFound, invoice.MsgNotFound)
	}
	return inv, nil
}

// List applies f, forcing branch scoping for non-admin actors. Only admins
// may filter overdue invoices.
func (s *Service) List(ctx context.Context, actor Actor, f invoice.Filter) (invoice.Page, error) {
	f = f.Normalize()
	if !actor.Admin {
		if actor.Branch == nil {
			return invoice.Page{}, invoice.Reject(invoice.ErrForbidden, msgNoBranch)
		}
		b := *actor.Branch
		f.Branch = &b
		f.OverdueOnly = false
	}
	return s.invoices.List(ctx, f, s.clock())
}

// History returns the audit entries of an invoice, newest first.
func (s *Service) History(ctx context.Context, actor Actor, id int64) ([]audit.Entry, error) {
	if _, err := s.Get(ctx, actor, id); err != nil {
		return nil, err
	}
	return s.audit.History(ctx, id)
}

// AssignInsurer sets the insurer by hand. A pending invoice becomes NEW.
func (s *Service) AssignInsurer(ctx context.Context, actor Actor, id, insurerID int64) (invoice.Invoice, error) {
	if !actor.Admin {
		return invoice.Invoice{}, forbidden()
	}
	var out invoice.Invoice
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		inv, err := s.loadMutable(ctx, actor, id)
		if err != nil {
			return err
		}
		ins, err := s.insurers.FindByID(ctx, insurerID)
		if err != nil {
			if errors.Is(err, insurer.ErrNotFound) {
				return invoice.Reject(invoice.ErrInvalidArgument, invoice.MsgInsurerNotFound)
			}
			return err
		}

		prev := inv.State
		inv.InsurerID = &ins.ID
		inv.InsurerName = &ins.Name
		if prev == invoice.StatePendingAssignment {
			inv.State = invoice.StateNew
		}
		if err := s.invoices.Update(ctx, inv); err != nil {
			return err
		}
		if err := s.logTransition(ctx, inv.ID, prev, inv.State, actor.ID); err != nil {
			return err
		}
		if err := s.audit.LogAction(ctx, inv.ID, audit.KindInsurerAssigned, "Aseguradora asignada manualmente: "+ins.Name, actor.ID); err != nil {
			return err
		}
		out = inv
		return nil
	})
	return out, err
}

// AttachSecondary stores an uploaded document and moves NEW or
// PENDING_ASSIGNMENT invoices to READY_TO_SEND. A second upload replaces the
// reference without a state change.
func (s *Service) AttachSecondary(ctx context.Context, actor Actor, id int64, filename string, r io.Reader) (invoice.Invoice, error) {
	if r == nil {
		return invoice.Invoice{}, invoice.Reject(invoice.ErrEmptyFile, invoice.MsgEmptyFile)
	}
	// Cheap pre-check so rejected calls do not leave files behind.
	current, err := s.Get(ctx, actor, id)
	if err != nil {
		return invoice.Invoice{}, err
	}
	if current.State.IsTerminal() {
		return invoice.Invoice{}, definitive()
	}

	stored, err := s.files.SaveSecondary(ctx, filename, r, s.clock())
	if err != nil {
		if errors.Is(err, storage.ErrEmpty) {
			return invoice.Invoice{}, invoice.Reject(invoice.ErrEmptyFile, invoice.MsgEmptyFile)
		}
		return invoice.Invoice{}, fmt.Errorf("lifecycle: store attachment: %w", err)
	}

	var out invoice.Invoice
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		inv, err := s.loadMutable(ctx, actor, id)
		if err != nil {
			return err
		}
		prev := inv.State
		inv.SecondaryAttachment = &stored
		if prev == invoice.StateNew || prev == invoice.StatePendingAssignment {
			inv.State = invoice.StateReadyToSend
		}
		if err := s.invoices.Update(ctx, inv); err != nil {
			return err
		}
		if err := s.logTransition(ctx, inv.ID, prev, inv.State, actor.ID); err != nil {
			return err
		}
		if err := s.audit.LogAction(ctx, inv.ID, audit.KindExtraAttachment, "Se cargó un PDF adicional para la factura.", actor.ID); err != nil {
			return err
		}
		out = inv
		return nil
	})
	if err != nil {
		if rmErr := s.files.Remove(stored); rmErr != nil {
			logger.From(ctx).Warn("orphan attachment not removed", "file", stored, "err", rmErr)
		}
		return invoice.Invoice{}, err
	}
	return out, nil
}

// Send mails the invoice to its insurer and marks it SENT_TO_INSURER. If
// delivery fails nothing is changed.
func (s *Service) Send(ctx context.Context, actor Actor, id int64) (invoice.Invoice, error) {
	if !actor.Admin {
		return invoice.Invoice{}, forbidden()
	}
	var out invoice.Invoice
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		inv, err := s.loadMutable(ctx, actor, id)
		if err != nil {
			return err
		}
		if inv.SecondaryAttachment == nil {
			return invoice.Reject(invoice.ErrMissingAttachment, invoice.MsgMissingAttachment)
		}
		if inv.State != invoice.StateReadyToSend {
			return invoice.Reject(invoice.ErrInvalidState, msgInvalidState)
		}

		var ins *insurer.Insurer
		if inv.InsurerID != nil {
			found, err := s.insurers.FindByID(ctx, *inv.InsurerID)
			if err != nil && !errors.Is(err, insurer.ErrNotFound) {
				return err
			}
			if err == nil {
				ins = &found
			}
		}
		if err := s.notifier.SendInvoice(ctx, inv, ins); err != nil {
			return err
		}

		now := s.clock().UTC()
		prev := inv.State
		inv.SentAt = &now
		inv.State = invoice.StateSentToInsurer
		if err := s.invoices.Update(ctx, inv); err != nil {
			return err
		}
		if err := s.logTransition(ctx, inv.ID, prev, inv.State, actor.ID); err != nil {
			return err
		}
		name := "(sin aseguradora)"
		if ins != nil {
			name = ins.Name
		}
		if err := s.audit.LogAction(ctx, inv.ID, audit.KindSentToInsurer, "Factura enviada a la aseguradora "+name, actor.ID); err != nil {
			return err
		}
		out = inv
		return nil
	})
	return out, err
}

// Close ends the lifecycle without sending. The send timestamp records the
// closing time.
func (s *Service) Close(ctx context.Context, actor Actor, id int64) (invoice.Invoice, error) {
	if !actor.Admin {
		return invoice.Invoice{}, forbidden()
	}
	var out invoice.Invoice
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		inv, err := s.loadMutable(ctx, actor, id)
		if err != nil {
			return err
		}
		now := s.clock().UTC()
		prev := inv.State
		inv.State = invoice.StateManuallyClosed
		inv.SentAt = &now
		if err := s.invoices.Update(ctx, inv); err != nil {
			return err
		}
		if err := s.logTransition(ctx, inv.ID, prev, inv.State, actor.ID); err != nil {
			return err
		}
		if err := s.audit.LogAction(ctx, inv.ID, audit.KindManualClose, "Factura cerrada manualmente sin envío de correo.", actor.ID); err != nil {
			return err
		}
		out = inv
		return nil
	})
	return out, err
}

// Resend records a manual resend request. It changes no state.
func (s *Service) Resend(ctx context.Context, actor Actor, id int64) error {
	return s.tx.RunInTx(ctx, func(ctx context.Context) error {
		inv, err := s.loadMutable(ctx, actor, id)
		if err != nil {
			return err
		}
		return s.audit.LogAction(ctx, inv.ID, audit.KindResend, "Reenvío manual desde panel.", actor.ID)
	})
}

// UpdateNotes replaces the administrative notes. It is allowed in every
// state and is not audited.
func (s *Service) UpdateNotes(ctx context.Context, actor Actor, id int64, notes string) (invoice.Invoice, error) {
	if !actor.Admin {
		return invoice.Invoice{}, forbidden()
	}
	var out invoice.Invoice
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		inv, err := s.invoices.GetForUpdate(ctx, id)
		if err != nil {
			return notFound(err)
		}
		if notes == "" {
			inv.AdminNotes = nil
		} else {
			inv.AdminNotes = &notes
		}
		if err := s.invoices.Update(ctx, inv); err != nil {
			return err
		}
		out = inv
		return nil
	})
	return out, err
}

// Which selects one of the two attachments of an invoice.
type Which string

const (
	PrimaryAttachment   Which = "primary"
	SecondaryAttachment Which = "secondary"
)

// AttachmentName returns the stored file name of an attachment.
func (s *Service) AttachmentName(ctx context.Context, actor Actor, id int64, which Which) (string, error) {
	inv, err := s.Get(ctx, actor, id)
	if err != nil {
		return "", err
	}
	switch which {
	case PrimaryAttachment:
		if inv.PrimaryAttachment != "" {
			return inv.PrimaryAttachment, nil
		}
	case SecondaryAttachment:
		if inv.SecondaryAttachment != nil {
			return *inv.SecondaryAttachment, nil
		}
	default:
		return "", invoice.Reject(invoice.ErrInvalidArgument, "Adjunto desconocido.")
	}
	return "", invoice.Reject(invoice.ErrNotFound, "La factura no tiene ese adjunto.")
}

// loadMutable locks the invoice and rejects hidden or terminal ones.
func (s *Service) loadMutable(ctx context.Context, actor Actor, id int64) (invoice.Invoice, error) {
	inv, err := s.invoices.GetForUpdate(ctx, id)
	if err != nil {
		return invoice.Invoice{}, notFound(err)
	}
	if !actor.canSee(inv) {
		return invoice.Invoice{}, invoice.Reject(invoice.ErrNotFound, invoice.MsgNotFound)
	}
	if inv.State.IsTerminal() {
		return invoice.Invoice{}, definitive()
	}
	return inv, nil
}

func (s *Service) logTransition(ctx context.Context, id int64, prev, next invoice.State, actor string) error {
	if prev == next {
		return nil
	}
	return s.audit.LogStateChange(ctx, id, prev, next, actor)
}

func notFound(err error) error {
	if errors.Is(err, invoice.ErrNotFound) {
		return invoice.Reject(invoice.ErrNotFound, invoice.MsgNotFound)
	}
	return err
}

func forbidden() error { return invoice.Reject(invoice.ErrForbidden, invoice.MsgForbidden) }

func definitive() error {
	return invoice.Reject(invoice.ErrDefinitiveState, invoice.MsgDefinitiveState)
}
