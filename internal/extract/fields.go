// Package extract mines invoice identifiers out of noisy document text.
//
// Everything here is pure: functions take text and return values, never
// errors. A field that cannot be found is simply absent.
package extract

import (
	"regexp"
	"strconv"
	"time"

	"invoice-engine/internal/textnorm"
)

// Fields holds the identifiers found in one document.
type Fields struct {
	InvoiceNumber *string `json:"invoice_number,omitempty"`
	ClaimNumber   *string `json:"claim_number,omitempty"`
	OrderNumber   *string `json:"order_number,omitempty"`
}

// Count reports how many fields are present.
func (f Fields) Count() int {
	n := 0
	for _, v := range []*string{f.InvoiceNumber, f.ClaimNumber, f.OrderNumber} {
		if v != nil {
			n++
		}
	}
	return n
}

// Complete reports whether every field is present.
func (f Fields) Complete() bool { return f.Count() == 3 }

var (
	invoicePattern = regexp.MustCompile(`(?is)\bN\s*(?:[º°oO]|ro\.?)?\s*:?\s*(\d{4})\s*-?\s*(\d{8})\b`)
	claimPattern   = regexp.MustCompile(`(?is)\b(?:(?:n[uú]mero|n(?:ro)?\.?|n[º°o]|no)\s*(?:de\s*)?siniestro\b|siniestro\s*(?:n[uú]mero|n(?:ro)?\.?|n[º°o]|no))\s*[:#-]?\s*([0-9-]{6,20})\b`)
	orderPattern   = regexp.MustCompile(`(?is)\b(?:s/)?orden(?:\s+de\s+reparaci[oó]n)?\b(?:\s*(?:n(?:ro)?\.?|n[º°o]|no))?\s*[:#-]?\s*([0-9]{4,12})\b`)
	datePattern    = regexp.MustCompile(`\b(\d{2})/(\d{2})/(\d{4})\b`)
)

// FromText normalizes text and extracts every field from it. The first
// match in document order wins for each field.
func FromText(text string) Fields {
	n := textnorm.ForExtraction(text)
	if n == "" {
		return Fields{}
	}
	return Fields{
		InvoiceNumber: InvoiceNumber(n),
		ClaimNumber:   ClaimNumber(n),
		OrderNumber:   OrderNumber(n),
	}
}

// InvoiceNumber finds "N° dddd-dddddddd" style numbers in already normalized
// text and returns them as "dddd-dddddddd".
func InvoiceNumber(normalized string) *string {
	m := invoicePattern.FindStringSubmatch(normalized)
	if m == nil {
		return nil
	}
	v := m[1] + "-" + m[2]
	return &v
}

// ClaimNumber finds the number following a "número de siniestro" label.
func ClaimNumber(normalized string) *string {
	return firstGroup(claimPattern, normalized)
}

// OrderNumber finds the number following an "orden (de reparación)" label.
func OrderNumber(normalized string) *string {
	return firstGroup(orderPattern, normalized)
}

func firstGroup(re *regexp.Regexp, s string) *string {
	m := re.FindStringSubmatch(s)
	if m == nil || m[1] == "" {
		return nil
	}
	v := m[1]
	return &v
}

// InvoiceDate parses the first DD/MM/YYYY token of raw text. An impossible
// calendar date makes the result absent; later tokens are not tried.
func InvoiceDate(raw string) *time.Time {
	m := datePattern.FindStringSubmatch(raw)
	if m == nil {
		return nil
	}
	day, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	year, _ := strconv.Atoi(m[3])
	if month < 1 || month > 12 || day < 1 {
		return nil
	}
	d := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if d.Day() != day || int(d.Month()) != month {
		return nil
	}
	return &d
}
