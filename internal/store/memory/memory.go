// Package memory is an in-process store for invoices, audit entries and
// insurers. It backs tests and single-node development runs.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"invoice-engine/internal/audit"
	"invoice-engine/internal/insurer"
	"invoice-engine/internal/invoice"
)

type txKey struct{}

// Store holds all state behind one mutex. A transaction keeps the mutex for
// its whole duration and restores a snapshot when it fails.
type Store struct {
	mu sync.Mutex

	invoices map[int64]invoice.Invoice
	byMsgID  map[string]int64
	nextID   int64
	entries  []audit.Entry
	insurers []insurer.Insurer
}

// New builds an empty store seeded with the given insurers. Insurers without
// an id are numbered from 1.
func New(seed []insurer.Insurer) *Store {
	s := &Store{
		invoices: make(map[int64]invoice.Invoice),
		byMsgID:  make(map[string]int64),
	}
	for i, ins := range seed {
		if ins.ID == 0 {
			ins.ID = int64(i + 1)
		}
		s.insurers = append(s.insurers, ins)
	}
	return s
}

// SeedInsurers builds directory records for every canonical name of r.
func SeedInsurers(r *insurer.Registry) []insurer.Insurer {
	if r == nil {
		r = insurer.Default
	}
	out := make([]insurer.Insurer, 0, r.Len())
	for i, e := range r.Entries() {
		out = append(out, insurer.Insurer{ID: int64(i + 1), Name: e.Canonical})
	}
	return out
}

func (s *Store) Invoices() *Invoices { return &Invoices{s: s} }
func (s *Store) Audit() *AuditLog { return &AuditLog{s: s} }
func (s *Store) Insurers() *Insurers { return &Insurers{s: s} }
func (s *Store) TxRunner() *TxRunner { return &TxRunner{s: s} }

// lock acquires the mutex unless ctx already runs inside a transaction of
// this store.
func (s *Store) lock(ctx context.Context) func() {
	if ctx.Value(txKey{}) == s {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

type snapshot struct {
	invoices map[int64]invoice.Invoice
	byMsgID  map[string]int64
	nextID   int64
	entries  int
}

func (s *Store) snapshot() snapshot {
	snap := snapshot{
		invoices: make(map[int64]invoice.Invoice, len(s.invoices)),
		byMsgID:  make(map[string]int64, len(s.byMsgID)),
		nextID:   s.nextID,
		entries:  len(s.entries),
	}
	for k, v := range s.invoices {
		snap.invoices[k] = v.Clone()
	}
	for k, v := range s.byMsgID {
		snap.byMsgID[k] = v
	}
	return snap
}

func (s *Store) restore(snap snapshot) {
	s.invoices = snap.invoices
	s.byMsgID = snap.byMsgID
	s.nextID = snap.nextID
	s.entries = s.entries[:snap.entries]
}

// TxRunner implements invoice.TxRunner. Nested calls join the outer
// transaction.
type TxRunner struct{ s *Store }

func (t *TxRunner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	s := t.s
	if ctx.Value(txKey{}) == s {
		return fn(ctx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshot()
	defer func() {
		if p := recover(); p != nil {
			s.restore(snap)
			panic(p)
		}
		if err != nil {
			s.restore(snap)
		}
	}()
	return fn(context.WithValue(ctx, txKey{}, s))
}

// Invoices implements invoice.Repository.
type Invoices struct{ s *Store }

func (r *Invoices) Create(ctx context.Context, inv invoice.Invoice) (invoice.Invoice, error) {
	s := r.s
	defer s.lock(ctx)()

	if inv.MessageID != nil && *inv.MessageID != "" {
		if _, dup := s.byMsgID[*inv.MessageID]; dup {
			return invoice.Invoice{}, invoice.ErrDuplicateMessageID
		}
	}
	s.nextID++
	inv = inv.Clone()
	inv.ID = s.nextID
	s.invoices[inv.ID] = inv
	if inv.MessageID != nil && *inv.MessageID != "" {
		s.byMsgID[*inv.MessageID] = inv.ID
	}
	return inv.Clone(), nil
}

func (r *Invoices) Get(ctx context.Context, id int64) (invoice.Invoice, error) {
	s := r.s
	defer s.lock(ctx)()
	inv, ok := s.invoices[id]
	if !ok {
		return invoice.Invoice{}, invoice.ErrNotFound
	}
	return inv.Clone(), nil
}

// GetForUpdate is Get: the transaction mutex already serializes writers.
func (r *Invoices) GetForUpdate(ctx context.Context, id int64) (invoice.Invoice, error) {
	return r.Get(ctx, id)
}

func (r *Invoices) Update(ctx context.Context, inv invoice.Invoice) error {
	s := r.s
	defer s.lock(ctx)()
	cur, ok := s.invoices[inv.ID]
	if !ok {
		return invoice.ErrNotFound
	}
	// The message id is fixed at creation.
	inv = inv.Clone()
	inv.MessageID = cur.MessageID
	s.invoices[inv.ID] = inv
	return nil
}

func (r *Invoices) ExistsByMessageID(ctx context.Context, messageID string) (bool, error) {
	s := r.s
	defer s.lock(ctx)()
	_, ok := s.byMsgID[messageID]
	return ok, nil
}

func (r *Invoices) List(ctx context.Context, f invoice.Filter, now time.Time) (invoice.Page, error) {
	s := r.s
	f = f.Normalize()
	unlock := s.lock(ctx)
	var matched []invoice.Invoice
	for _, inv := range s.invoices {
		if f.Matches(inv, now) {
			matched = append(matched, inv.Clone())
		}
	}
	unlock()

	sort.Slice(matched, func(i, j int) bool { return invoice.Less(matched[i], matched[j]) })
	page := invoice.Page{Total: len(matched), Page: f.Page, PageSize: f.PageSize, Items: []invoice.Invoice{}}
	start := f.Page * f.PageSize
	if start >= len(matched) {
		return page, nil
	}
	end := start + f.PageSize
	if end > len(matched) {
		end = len(matched)
	}
	page.Items = matched[start:end]
	return page, nil
}

func (r *Invoices) InvoiceDates(ctx context.Context, from, to time.Time) ([]time.Time, error) {
	s := r.s
	defer s.lock(ctx)()
	var out []time.Time
	for _, inv := range s.invoices {
		if inv.InvoiceDate == nil {
			continue
		}
		d := *inv.InvoiceDate
		if d.Before(from) || d.After(to) {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

// AuditLog implements audit.Repository.
type AuditLog struct{ s *Store }

func (a *AuditLog) Append(ctx context.Context, e audit.Entry) error {
	s := a.s
	defer s.lock(ctx)()
	s.entries = append(s.entries, cloneEntry(e))
	return nil
}

func (a *AuditLog) ListByInvoice(ctx context.Context, invoiceID int64) ([]audit.Entry, error) {
	s := a.s
	defer s.lock(ctx)()
	out := []audit.Entry{}
	for i := len(s.entries) - 1; i >= 0; i-- {
		if s.entries[i].InvoiceID == invoiceID {
			out = append(out, cloneEntry(s.entries[i]))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func cloneEntry(e audit.Entry) audit.Entry {
	if e.PreviousState != nil {
		v := *e.PreviousState
		e.PreviousState = &v
	}
	if e.NewState != nil {
		v := *e.NewState
		e.NewState = &v
	}
	return e
}

// Insurers implements insurer.Directory.
type Insurers struct{ s *Store }

func (d *Insurers) FindByName(ctx context.Context, name string) (insurer.Insurer, error) {
	s := d.s
	defer s.lock(ctx)()
	name = strings.TrimSpace(name)
	for _, ins := range s.insurers {
		if strings.EqualFold(ins.Name, name) {
			return ins, nil
		}
	}
	return insurer.Insurer{}, insurer.ErrNotFound
}

func (d *Insurers) FindByID(ctx context.Context, id int64) (insurer.Insurer, error) {
	s := d.s
	defer s.lock(ctx)()
	for _, ins := range s.insurers {
		if ins.ID == id {
			return ins, nil
		}
	}
	return insurer.Insurer{}, insurer.ErrNotFound
}

func (d *Insurers) List(ctx context.Context) ([]insurer.Insurer, error) {
	s := d.s
	defer s.lock(ctx)()
	out := make([]insurer.Insurer, len(s.insurers))
	copy(out, s.insurers)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
