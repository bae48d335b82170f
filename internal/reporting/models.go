package reporting

import (
	"fmt"
	"strings"
	"time"
)

// Period selects how invoice counts are grouped.
type Period string

const (
	PeriodDay   Period = "day"
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
)

// DefaultRange is how far back a report reaches when no start date is given.
const DefaultRange = 30 * 24 * time.Hour

const dateLayout = "2006-01-02"

func ParsePeriod(v string) (Period, error) {
	switch p := Period(strings.ToLower(strings.TrimSpace(v))); p {
	case "":
		return PeriodDay, nil
	case PeriodDay, PeriodWeek, PeriodMonth:
		return p, nil
	}
	return "", fmt.Errorf("%w: unknown period %q", ErrInvalidRequest, v)
}

// Label formats the bucket a date falls in: YYYY-MM-DD, ISO YYYY-WW, or
// YYYY-MM.
func (p Period) Label(d time.Time) string {
	switch p {
	case PeriodWeek:
		y, w := d.ISOWeek()
		return fmt.Sprintf("%04d-%02d", y, w)
	case PeriodMonth:
		return d.Format("2006-01")
	}
	return d.Format(dateLayout)
}

// TimeRange is inclusive on both ends, at day granularity.
type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

type InvoiceCountsRequest struct {
	Period Period
	// From and To are YYYY-MM-DD. Blank To means today; blank From means
	// DefaultRange before To.
	From string
	To   string
}

// Bucket is one labelled count. Empty buckets are omitted.
type Bucket struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

type InvoiceCounts struct {
	Period  Period    `json:"period"`
	Range   TimeRange `json:"range"`
	Buckets []Bucket  `json:"buckets"`
	Total   int       `json:"total"`
}
