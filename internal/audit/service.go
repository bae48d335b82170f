package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"invoice-engine/internal/invoice"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit entries.
//
// It MUST be append-only: there is no Update or Delete.
type Repository interface {
	Append(ctx context.Context, e Entry) error
	// ListByInvoice returns entries newest first.
	ListByInvoice(ctx context.Context, invoiceID int64) ([]Entry, error)
}

// Service stamps and records audit entries. Callers that need atomicity with
// an invoice write run it inside the same invoice.TxRunner unit.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

// WithClock replaces the time source.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

var ErrInvalidEntry = errors.New("audit: invalid entry")

func (s *Service) Append(ctx context.Context, e Entry) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.InvoiceID <= 0 || e.Kind == "" {
		return ErrInvalidEntry
	}
	if (e.PreviousState == nil) != (e.NewState == nil) {
		return ErrInvalidEntry
	}
	if e.Actor == "" {
		e.Actor = ActorSystem
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, e)
}

// LogCreation records that ingestion created the invoice.
func (s *Service) LogCreation(ctx context.Context, invoiceID int64, detail string) error {
	return s.Append(ctx, Entry{
		InvoiceID: invoiceID,
		Kind:      KindCreation,
		Detail:    detail,
		Actor:     ActorSystem,
	})
}

// LogStateChange records a transition from prev to next.
func (s *Service) LogStateChange(ctx context.Context, invoiceID int64, prev, next invoice.State, actor string) error {
	return s.Append(ctx, Entry{
		InvoiceID:     invoiceID,
		Kind:          KindStateChange,
		Detail:        fmt.Sprintf("Cambio de estado de %s a %s", prev, next),
		PreviousState: &prev,
		NewState:      &next,
		Actor:         actor,
	})
}

// LogAction records a descriptive, non-transition entry.
func (s *Service) LogAction(ctx context.Context, invoiceID int64, kind Kind, detail, actor string) error {
	return s.Append(ctx, Entry{
		InvoiceID: invoiceID,
		Kind:      kind,
		Detail:    detail,
		Actor:     actor,
	})
}

// History returns the entries of one invoice, newest first.
func (s *Service) History(ctx context.Context, invoiceID int64) ([]Entry, error) {
	if s.repo == nil {
		return nil, errors.New("audit: repository not configured")
	}
	if invoiceID <= 0 {
		return nil, ErrInvalidEntry
	}
	return s.repo.ListByInvoice(ctx, invoiceID)
}
