// Package ingest turns unseen mailbox messages into invoices.
package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"invoice-engine/internal/audit"
	"invoice-engine/internal/classifier"
	"invoice-engine/internal/extract"
	"invoice-engine/internal/insurer"
	"invoice-engine/internal/invoice"
	"invoice-engine/internal/mailbox"
	"invoice-engine/internal/metrics"
	"invoice-engine/pkg/logger"
)

// CreationDetail is the detail of the audit entry written for every
// ingested invoice.
const CreationDetail = "Factura creada desde correo IMAP."

// Outcome is what happened to one message.
type Outcome string

const (
	OutcomeCreated      Outcome = "created"
	OutcomeDuplicate    Outcome = "duplicate"
	OutcomeRejected     Outcome = "rejected"
	OutcomeNotMultipart Outcome = "not_multipart"
	OutcomeNoPDF        Outcome = "no_pdf"
	OutcomeFailed       Outcome = "failed"
)

// Report summarizes one run.
type Report struct {
	Listed   int             `json:"listed"`
	Invoices int             `json:"invoices_created"`
	Outcomes map[Outcome]int `json:"outcomes"`
}

func (r *Report) add(o Outcome) {
	if r.Outcomes == nil {
		r.Outcomes = make(map[Outcome]int)
	}
	r.Outcomes[o]++
}

// FileStore saves ingested attachments.
type FileStore interface {
	SaveIngested(ctx context.Context, original string, r io.Reader, now time.Time) (string, error)
	Path(name string) (string, error)
	Remove(name string) error
}

// FieldExtractor mines a stored document.
type FieldExtractor interface {
	Run(ctx context.Context, path string) extract.Result
}

type Deps struct {
	Mailbox    mailbox.Client
	Classifier *classifier.Classifier
	Files      FileStore
	Extractor  FieldExtractor
	Detector   *insurer.Detector
	Insurers   insurer.Directory
	Invoices   invoice.Repository
	Tx         invoice.TxRunner
	Audit      *audit.Service
	Clock      func() time.Time
}

// Orchestrator runs one ingestion cycle over the mailbox.
type Orchestrator struct {
	d Deps
}

func NewOrchestrator(d Deps) *Orchestrator {
	if d.Clock == nil {
		d.Clock = time.Now
	}
	if d.Detector == nil {
		d.Detector = insurer.NewDetector(nil)
	}
	return &Orchestrator{d: d}
}

// Run processes every unseen message in listing order. A message that fails
// is logged and left unseen so the next cycle retries it; every other
// outcome marks it seen. Only mailbox connection and listing errors abort
// the cycle.
func (o *Orchestrator) Run(ctx context.Context) (Report, error) {
	var rep Report
	log := logger.From(ctx)

	sess, err := o.d.Mailbox.Open(ctx)
	if err != nil {
		return rep, fmt.Errorf("ingest: open mailbox: %w", err)
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			log.Warn("mailbox close failed", "err", cerr)
		}
	}()

	uids, err := sess.Unseen(ctx)
	if err != nil {
		return rep, fmt.Errorf("ingest: list unseen: %w", err)
	}
	rep.Listed = len(uids)

	for _, uid := range uids {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		outcome, created, err := o.process(ctx, sess, uid)
		if err != nil {
			log.Error("message ingestion failed", "uid", uid, "err", err)
			outcome = OutcomeFailed
		} else if merr := sess.MarkSeen(ctx, uid); merr != nil {
			log.Warn("mark seen failed", "uid", uid, "err", merr)
		}
		rep.add(outcome)
		rep.Invoices += created
		metrics.IngestMessages.WithLabelValues(string(outcome)).Inc()
	}
	metrics.InvoicesCreated.Add(float64(rep.Invoices))
	return rep, nil
}

func (o *Orchestrator) process(ctx context.Context, sess mailbox.Session, uid uint32) (Outcome, int, error) {
	msg, err := sess.Fetch(ctx, uid)
	if err != nil {
		return OutcomeFailed, 0, fmt.Errorf("fetch: %w", err)
	}
	log := logger.From(ctx).With(
		slog.Any("uid", uid),
		slog.String("message_id", msg.MessageID),
		slog.String("subject", msg.Subject),
		slog.String("from", msg.From),
	)
	ctx = logger.With(ctx, log)

	decision, err := o.d.Classifier.Classify(ctx, msg.MessageID, msg.From, msg.Subject)
	if err != nil {
		return OutcomeFailed, 0, err
	}
	switch decision.Verdict {
	case classifier.Duplicate:
		log.Info("message already ingested")
		return OutcomeDuplicate, 0, nil
	case classifier.Rejected:
		log.Info("message rejected by sender/subject filter")
		return OutcomeRejected, 0, nil
	}
	log.Debug("message accepted", "by_sender", decision.BySender, "by_subject", decision.BySubject)

	if !msg.Multipart {
		log.Info("message is not multipart")
		return OutcomeNotMultipart, 0, nil
	}
	pdfs := msg.PDFs()
	if len(pdfs) == 0 {
		log.Info("message has no pdf attachment")
		return OutcomeNoPDF, 0, nil
	}

	now := o.d.Clock().UTC()
	saved := make([]string, 0, len(pdfs))
	cleanup := func() {
		for _, name := range saved {
			if err := o.d.Files.Remove(name); err != nil {
				log.Warn("attachment cleanup failed", "file", name, "err", err)
			}
		}
	}

	drafts := make([]invoice.Invoice, 0, len(pdfs))
	for _, att := range pdfs {
		name, err := o.d.Files.SaveIngested(ctx, att.Filename, bytes.NewReader(att.Content), now)
		if err != nil {
			cleanup()
			return OutcomeFailed, 0, fmt.Errorf("save %q: %w", att.Filename, err)
		}
		saved = append(saved, name)

		draft, err := o.draft(ctx, msg, name, now)
		if err != nil {
			cleanup()
			return OutcomeFailed, 0, err
		}
		drafts = append(drafts, draft)
	}

	var created []invoice.Invoice
	err = o.d.Tx.RunInTx(ctx, func(ctx context.Context) error {
		created = created[:0]
		for i, draft := range drafts {
			// Only the first invoice of a message carries its id.
			if i == 0 && strings.TrimSpace(msg.MessageID) != "" {
				id := strings.TrimSpace(msg.MessageID)
				draft.MessageID = &id
			}
			inv, err := o.d.Invoices.Create(ctx, draft)
			if err != nil {
				return err
			}
			if err := o.d.Audit.LogCreation(ctx, inv.ID, CreationDetail); err != nil {
				return err
			}
			created = append(created, inv)
		}
		return nil
	})
	if err != nil {
		cleanup()
		if errors.Is(err, invoice.ErrDuplicateMessageID) {
			log.Info("message ingested concurrently")
			return OutcomeDuplicate, 0, nil
		}
		return OutcomeFailed, 0, fmt.Errorf("create invoice: %w", err)
	}

	for _, inv := range created {
		log.Info("invoice created",
			slog.Int64("invoice_id", inv.ID),
			slog.String("state", string(inv.State)),
			slog.String("file", inv.PrimaryAttachment),
		)
	}
	return OutcomeCreated, len(created), nil
}

// draft builds the invoice for one stored attachment: fields, date and
// insurer come from the document, the insurer falls back to subject and
// sender.
func (o *Orchestrator) draft(ctx context.Context, msg mailbox.Message, stored string, now time.Time) (invoice.Invoice, error) {
	path, err := o.d.Files.Path(stored)
	if err != nil {
		return invoice.Invoice{}, err
	}
	res := o.d.Extractor.Run(ctx, path)

	inv := invoice.Invoice{
		Subject:           msg.Subject,
		Sender:            msg.From,
		PrimaryAttachment: stored,
		ReceivedAt:        now,
		InvoiceDate:       res.InvoiceDate,
		InvoiceNumber:     res.Fields.InvoiceNumber,
		ClaimNumber:       res.Fields.ClaimNumber,
		OrderNumber:       res.Fields.OrderNumber,
	}

	var ins insurer.Insurer
	resolved := false
	if canonical, ok := o.d.Detector.DetectFirst(res.DetectionText, msg.Subject+" "+msg.From); ok {
		ins, resolved, err = insurer.Resolve(ctx, o.d.Insurers, canonical)
		if err != nil {
			return invoice.Invoice{}, fmt.Errorf("resolve insurer: %w", err)
		}
		if !resolved {
			logger.From(ctx).Info("detected insurer unknown to directory", "insurer", canonical)
		}
	}
	if resolved {
		inv.InsurerID = &ins.ID
		inv.InsurerName = &ins.Name
	}
	inv.State = invoice.InitialState(resolved)
	return inv, nil
}
