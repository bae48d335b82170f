// Package mailbox reads invoice emails from a remote mailbox.
package mailbox

import (
	"context"
	"errors"
	"path"
	"strings"
)

// UnknownSender stands in for a message without a From header.
const UnknownSender = "(unknown)"

var ErrNoBody = errors.New("mailbox: message has no body")

// Attachment is one body part that carries a file.
type Attachment struct {
	Filename    string
	Disposition string
	Content     []byte
}

// IsPDF reports an attachment part whose file name ends in .pdf.
func (a Attachment) IsPDF() bool {
	isAttachment := strings.EqualFold(a.Disposition, "attachment") || strings.TrimSpace(a.Filename) != ""
	return isAttachment && strings.EqualFold(path.Ext(strings.TrimSpace(a.Filename)), ".pdf")
}

// Message is the parsed view of one email.
type Message struct {
	UID       uint32
	MessageID string
	Subject   string
	// From is the first sender as written in the header, display name included.
	From        string
	Multipart   bool
	Attachments []Attachment
}

// PDFs returns the PDF attachments in body order.
func (m Message) PDFs() []Attachment {
	var out []Attachment
	for _, a := range m.Attachments {
		if a.IsPDF() {
			out = append(out, a)
		}
	}
	return out
}

// Session is an open, selected mailbox folder.
type Session interface {
	// Unseen lists the UIDs of messages without the seen flag, in server order.
	Unseen(ctx context.Context) ([]uint32, error)
	// Fetch reads a full message without marking it seen.
	Fetch(ctx context.Context, uid uint32) (Message, error)
	MarkSeen(ctx context.Context, uid uint32) error
	Close() error
}

// Client opens sessions.
type Client interface {
	Open(ctx context.Context) (Session, error)
}
