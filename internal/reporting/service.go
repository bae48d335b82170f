// Package reporting aggregates invoice counts for the reporting screen.
package reporting

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Repository abstracts data access for reporting.
type Repository interface {
	// InvoiceDates returns the invoice dates within [from, to].
	InvoiceDates(ctx context.Context, from, to time.Time) ([]time.Time, error)
}

type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service { return &Service{repo: repo, clock: time.Now} }

// WithClock overrides the time source used for default ranges.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

// InvoiceCounts groups invoices by their invoice date. Undated invoices are
// not counted.
func (s *Service) InvoiceCounts(ctx context.Context, req InvoiceCountsRequest) (InvoiceCounts, error) {
	if s.repo == nil {
		return InvoiceCounts{}, errors.New("reporting: repository not configured")
	}
	period := req.Period
	if period == "" {
		period = PeriodDay
	}
	if _, err := ParsePeriod(string(period)); err != nil {
		return InvoiceCounts{}, err
	}
	rng, err := s.resolveRange(req.From, req.To)
	if err != nil {
		return InvoiceCounts{}, err
	}

	// The upper bound covers the whole last day.
	dates, err := s.repo.InvoiceDates(ctx, rng.From, rng.To.AddDate(0, 0, 1).Add(-time.Nanosecond))
	if err != nil {
		return InvoiceCounts{}, err
	}

	out := InvoiceCounts{Period: period, Range: rng, Buckets: []Bucket{}}
	index := make(map[string]int)
	for _, d := range dates {
		label := period.Label(d)
		i, ok := index[label]
		if !ok {
			i = len(out.Buckets)
			index[label] = i
			out.Buckets = append(out.Buckets, Bucket{Label: label})
		}
		out.Buckets[i].Count++
		out.Total++
	}
	return out, nil
}

func (s *Service) resolveRange(from, to string) (TimeRange, error) {
	now := s.clock()
	y, m, d := now.Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)

	end := today
	if strings.TrimSpace(to) != "" {
		t, err := time.Parse(dateLayout, strings.TrimSpace(to))
		if err != nil {
			return TimeRange{}, fmt.Errorf("%w: bad to date %q", ErrInvalidRequest, to)
		}
		end = t
	}
	start := end.Add(-DefaultRange)
	if strings.TrimSpace(from) != "" {
		t, err := time.Parse(dateLayout, strings.TrimSpace(from))
		if err != nil {
			return TimeRange{}, fmt.Errorf("%w: bad from date %q", ErrInvalidRequest, from)
		}
		start = t
	}
	if end.Before(start) {
		return TimeRange{}, fmt.Errorf("%w: range ends before it starts", ErrInvalidRequest)
	}
	return TimeRange{From: start, To: end}, nil
}
