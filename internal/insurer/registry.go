package insurer

import (
	"strings"

	"invoice-engine/internal/textnorm"
)

// Entry binds a canonical insurer name to the aliases that identify it in
// free text. Aliases are stored normalized for detection.
type Entry struct {
	Canonical string
	Aliases   []string
}

// Registry is an ordered, read-only alias table. Order is significant:
// detection returns the first entry with a matching alias.
type Registry struct {
	entries []Entry
}

// NewRegistry normalizes every alias once and drops empty or repeated ones.
// The input slice is copied.
func NewRegistry(entries []Entry) *Registry {
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		canonical := strings.TrimSpace(e.Canonical)
		if canonical == "" {
			continue
		}
		seen := make(map[string]struct{}, len(e.Aliases))
		aliases := make([]string, 0, len(e.Aliases))
		for _, a := range e.Aliases {
			n := textnorm.ForDetection(a)
			if n == "" {
				continue
			}
			if _, dup := seen[n]; dup {
				continue
			}
			seen[n] = struct{}{}
			aliases = append(aliases, n)
		}
		if len(aliases) == 0 {
			continue
		}
		out = append(out, Entry{Canonical: canonical, Aliases: aliases})
	}
	return &Registry{entries: out}
}

// Entries returns a copy of the table in detection order.
func (r *Registry) Entries() []Entry {
	out := make([]Entry, len(r.entries))
	for i, e := range r.entries {
		out[i] = Entry{Canonical: e.Canonical, Aliases: append([]string(nil), e.Aliases...)}
	}
	return out
}

// Len reports the number of canonical insurers.
func (r *Registry) Len() int { return len(r.entries) }

// DefaultEntries is the built-in table of Argentine insurers.
func DefaultEntries() []Entry {
	return []Entry{
		{"Allianz", []string{"allianz"}},
		{"Berkley", []string{"berkley"}},
		{"Chubb", []string{"chubb"}},
		{"Cooperación", []string{"cooperacion", "cooperacion seguros"}},
		{"El Norte", []string{"el norte"}},
		{"Federación Patronal", []string{"federacion patronal", "federacion", "federación"}},
		{"HDI", []string{"hdi"}},
		{"Instituto Autárquico", []string{"instituto autarquico", "instituto autarquico provincial", "instituto seguro"}},
		{"La Caja", []string{"la caja", "lacaja", "caja de seguros", "caja de seguros sa", "caja de seguros s a", "caja de seguros s.a"}},
		{"La Perseverancia", []string{"la perseverancia", "perseverancia"}},
		{"La Segunda", []string{"la segunda"}},
		{"Mapfre", []string{"mapfre"}},
		{"Meridional", []string{"meridional"}},
		{"Mercantil Andina", []string{"mercantil andina"}},
		{"Nación", []string{"nacion", "nación"}},
		{"Nativa", []string{"nativa"}},
		{"Orbis", []string{"orbis"}},
		{"Parana", []string{"parana", "paraná"}},
		{"Providencia", []string{"providencia"}},
		{"Provincia Seguros", []string{"provincia seguros"}},
		{"Rio Uruguay", []string{"rio uruguay", "río uruguay"}},
		{"Rivadavia", []string{"rivadavia"}},
		{"San Cristobal", []string{"san cristobal", "san cristóbal"}},
		{"Sancor Seguros", []string{"sancor", "sancor seguros"}},
		{"Segurcoop", []string{"segurcoop"}},
		{"Seguro Metal", []string{"seguro metal"}},
		{"Sura", []string{"sura"}},
		{"Swiss Medical", []string{"swiss medical", "swissmedical"}},
		{"Triunfo", []string{"triunfo"}},
		{"Victoria", []string{"victoria"}},
		{"Zurich / ex Qbe", []string{"zurich", "qbe"}},
		{"Boston", []string{"boston"}},
	}
}

// Default is the registry built from DefaultEntries.
var Default = NewRegistry(DefaultEntries())
