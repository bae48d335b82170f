package insurer

import (
	"context"
	"errors"
	"strings"

	"invoice-engine/internal/textnorm"
)

// ErrNotFound is returned by a Directory when no insurer has the given name.
var ErrNotFound = errors.New("insurer: not found")

// Insurer is a known insurance company record.
type Insurer struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// Directory is the read-only insurer catalog.
type Directory interface {
	// FindByName matches name case-insensitively and exactly.
	FindByName(ctx context.Context, name string) (Insurer, error)
	FindByID(ctx context.Context, id int64) (Insurer, error)
	List(ctx context.Context) ([]Insurer, error)
}

// Detector finds the insurer referenced by free text.
type Detector struct {
	registry *Registry
}

func NewDetector(r *Registry) *Detector {
	if r == nil {
		r = Default
	}
	return &Detector{registry: r}
}

// Detect returns the canonical name of the first registry entry whose alias
// appears in text as a whole word sequence.
func (d *Detector) Detect(text string) (string, bool) {
	n := textnorm.ForDetection(text)
	if n == "" {
		return "", false
	}
	padded := " " + n + " "
	for _, e := range d.registry.entries {
		for _, a := range e.Aliases {
			if strings.Contains(padded, " "+a+" ") {
				return e.Canonical, true
			}
		}
	}
	return "", false
}

// DetectFirst tries each candidate text in order and returns the first hit.
func (d *Detector) DetectFirst(texts ...string) (string, bool) {
	for _, t := range texts {
		if name, ok := d.Detect(t); ok {
			return name, true
		}
	}
	return "", false
}

// Resolve gates a detected canonical name through the directory. A name the
// directory does not know yields ok=false and no error.
func Resolve(ctx context.Context, dir Directory, canonical string) (Insurer, bool, error) {
	if dir == nil || strings.TrimSpace(canonical) == "" {
		return Insurer{}, false, nil
	}
	ins, err := dir.FindByName(ctx, canonical)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Insurer{}, false, nil
		}
		return Insurer{}, false, err
	}
	return ins, true, nil
}
