// Package classifier decides whether an incoming email should become an
// invoice.
package classifier

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

type Verdict int

const (
	Accept Verdict = iota
	Duplicate
	Rejected
)

func (v Verdict) String() string {
	switch v {
	case Accept:
		return "accept"
	case Duplicate:
		return "duplicate"
	case Rejected:
		return "rejected"
	default:
		return fmt.Sprintf("verdict(%d)", int(v))
	}
}

// Decision is the classification of one message.
type Decision struct {
	Verdict   Verdict
	BySender  bool
	BySubject bool
}

// MessageIndex answers whether a message was already ingested.
type MessageIndex interface {
	ExistsByMessageID(ctx context.Context, messageID string) (bool, error)
}

// Classifier accepts messages whose sender or subject contains the expected
// substrings, after dropping already ingested message ids.
type Classifier struct {
	index           MessageIndex
	expectedSender  string
	expectedSubject string
}

func New(index MessageIndex, expectedSender, expectedSubject string) *Classifier {
	return &Classifier{
		index:           index,
		expectedSender:  strings.ToLower(strings.TrimSpace(expectedSender)),
		expectedSubject: strings.ToLower(strings.TrimSpace(expectedSubject)),
	}
}

// Classify runs the duplicate check first, then the sender/subject filter.
// The error is only an index lookup failure.
func (c *Classifier) Classify(ctx context.Context, messageID, from, subject string) (Decision, error) {
	if id := strings.TrimSpace(messageID); id != "" && c.index != nil {
		exists, err := c.index.ExistsByMessageID(ctx, id)
		if err != nil {
			return Decision{}, fmt.Errorf("classifier: lookup message id: %w", err)
		}
		if exists {
			return Decision{Verdict: Duplicate}, nil
		}
	}

	d := Decision{
		BySender:  strings.Contains(strings.ToLower(BareAddress(from)), c.expectedSender),
		BySubject: strings.Contains(strings.ToLower(subject), c.expectedSubject),
	}
	if !d.BySender && !d.BySubject {
		d.Verdict = Rejected
		return d, nil
	}
	d.Verdict = Accept
	return d, nil
}

var angleAddr = regexp.MustCompile(`<([^>]+)>`)

// BareAddress returns the first <...> group of a From value, or the value
// itself when there is none.
func BareAddress(from string) string {
	if m := angleAddr.FindStringSubmatch(from); m != nil {
		return m[1]
	}
	return from
}
