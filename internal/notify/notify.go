// Package notify delivers invoices to insurers by email.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"invoice-engine/internal/insurer"
	"invoice-engine/internal/invoice"

	"github.com/wneessen/go-mail"
)

const invoiceBody = "Se envían adjuntas la factura y la documentación complementaria."

// Message is one outbound email. Attachments are absolute file paths.
type Message struct {
	To          string
	Subject     string
	Body        string
	Attachments []string
}

// Sender transmits a Message.
type Sender interface {
	Send(ctx context.Context, m Message) error
}

// FileResolver maps stored attachment names to paths.
type FileResolver interface {
	Path(name string) (string, error)
	Exists(name string) bool
}

// InvoiceMailer builds the insurer email for an invoice.
type InvoiceMailer struct {
	sender      Sender
	files       FileResolver
	testMode    bool
	testAddress string
}

func NewInvoiceMailer(sender Sender, files FileResolver, testMode bool, testAddress string) *InvoiceMailer {
	return &InvoiceMailer{sender: sender, files: files, testMode: testMode, testAddress: strings.TrimSpace(testAddress)}
}

// Destination picks the recipient. In test mode a configured override wins;
// otherwise the insurer must have an email.
func (m *InvoiceMailer) Destination(ins *insurer.Insurer) (string, error) {
	if m.testMode && m.testAddress != "" {
		return m.testAddress, nil
	}
	if ins == nil || strings.TrimSpace(ins.Email) == "" {
		return "", invoice.Reject(invoice.ErrNoDestination, invoice.MsgNoDestination)
	}
	return strings.TrimSpace(ins.Email), nil
}

// SendInvoice mails the primary and secondary attachments that still exist.
func (m *InvoiceMailer) SendInvoice(ctx context.Context, inv invoice.Invoice, ins *insurer.Insurer) error {
	to, err := m.Destination(ins)
	if err != nil {
		return err
	}

	insurerName := "(sin aseguradora)"
	if ins != nil {
		insurerName = ins.Name
	}
	msg := Message{
		To:      to,
		Subject: fmt.Sprintf("Factura %d - %s", inv.ID, insurerName),
		Body:    invoiceBody,
	}
	names := []string{inv.PrimaryAttachment}
	if inv.SecondaryAttachment != nil {
		names = append(names, *inv.SecondaryAttachment)
	}
	for _, n := range names {
		if n == "" || !m.files.Exists(n) {
			continue
		}
		p, err := m.files.Path(n)
		if err != nil {
			continue
		}
		msg.Attachments = append(msg.Attachments, p)
	}
	return m.sender.Send(ctx, msg)
}

// SMTPConfig configures SMTPSender.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	// StartTLS requires TLS when true and uses it opportunistically otherwise.
	StartTLS bool
}

// SMTPSender sends mail through an SMTP relay.
type SMTPSender struct {
	cfg SMTPConfig
}

func NewSMTPSender(cfg SMTPConfig) (*SMTPSender, error) {
	if cfg.Host == "" {
		return nil, errors.New("notify: smtp host is required")
	}
	if cfg.From == "" {
		return nil, errors.New("notify: from address is required")
	}
	return &SMTPSender{cfg: cfg}, nil
}

func (s *SMTPSender) Send(ctx context.Context, m Message) error {
	msg, err := buildMsg(s.cfg.From, m)
	if err != nil {
		return err
	}
	client, err := mail.NewClient(s.cfg.Host, s.clientOptions()...)
	if err != nil {
		return fmt.Errorf("notify: smtp client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("notify: send to %s: %w", m.To, err)
	}
	return nil
}

func (s *SMTPSender) clientOptions() []mail.Option {
	opts := []mail.Option{}
	if s.cfg.Port > 0 {
		opts = append(opts, mail.WithPort(s.cfg.Port))
	}
	if s.cfg.StartTLS {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSOpportunistic))
	}
	if s.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(s.cfg.Username),
			mail.WithPassword(s.cfg.Password),
		)
	}
	return opts
}

func buildMsg(from string, m Message) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(from); err != nil {
		return nil, fmt.Errorf("notify: from: %w", err)
	}
	if err := msg.To(m.To); err != nil {
		return nil, fmt.Errorf("notify: to: %w", err)
	}
	msg.Subject(m.Subject)
	msg.SetBodyString(mail.TypeTextPlain, m.Body)
	for _, p := range m.Attachments {
		msg.AttachFile(p, mail.WithFileName(filepath.Base(p)))
	}
	return msg, nil
}

// LogSender records messages instead of sending them. It backs local runs
// without an SMTP relay.
type LogSender struct {
	log *slog.Logger
}

func NewLogSender(log *slog.Logger) *LogSender {
	if log == nil {
		log = slog.Default()
	}
	return &LogSender{log: log}
}

func (s *LogSender) Send(ctx context.Context, m Message) error {
	s.log.InfoContext(ctx, "mail not sent: no smtp relay configured",
		"to", m.To,
		"subject", m.Subject,
		"attachments", len(m.Attachments),
	)
	return nil
}
