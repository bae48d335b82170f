package mailbox

import (
	"fmt"
	"io"
	"strings"

	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
)

// Parse reads an RFC 5322 message. An attachment that fails to decode fails
// the whole message so it can be retried.
func Parse(r io.Reader) (Message, error) {
	mr, err := mail.CreateReader(r)
	if err != nil {
		return Message{}, fmt.Errorf("mailbox: parse: %w", err)
	}
	defer mr.Close()

	var m Message
	m.Subject, _ = mr.Header.Subject()
	m.MessageID = strings.TrimSpace(mr.Header.Get("Message-Id"))
	m.From = firstFrom(mr.Header)

	mediaType, _, _ := mr.Header.ContentType()
	m.Multipart = strings.HasPrefix(strings.ToLower(mediaType), "multipart/")
	if !m.Multipart {
		return m, nil
	}

	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return m, fmt.Errorf("mailbox: next part: %w", err)
		}

		var (
			filename    string
			disposition string
		)
		switch h := p.Header.(type) {
		case *mail.AttachmentHeader:
			filename, _ = h.Filename()
			disposition, _, _ = h.ContentDisposition()
		case *mail.InlineHeader:
			var params map[string]string
			disposition, params, _ = h.ContentDisposition()
			filename = params["filename"]
			if filename == "" {
				_, ctParams, _ := h.ContentType()
				filename = ctParams["name"]
			}
		}
		if filename == "" && !strings.EqualFold(disposition, "attachment") {
			continue
		}

		body, err := io.ReadAll(p.Body)
		if err != nil {
			return m, fmt.Errorf("mailbox: read part %q: %w", filename, err)
		}
		m.Attachments = append(m.Attachments, Attachment{
			Filename:    filename,
			Disposition: disposition,
			Content:     body,
		})
	}
	return m, nil
}

// firstFrom returns the first From address in "Name <addr>" form, or the raw
// header when it does not parse.
func firstFrom(h mail.Header) string {
	if list, err := h.AddressList("From"); err == nil && len(list) > 0 {
		return list[0].String()
	}
	if raw := strings.TrimSpace(h.Get("From")); raw != "" {
		return raw
	}
	return UnknownSender
}
