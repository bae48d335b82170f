// Package document turns attached PDF files into plain text.
//
// Two reading modes are offered because invoices from different issuers
// lay out their text differently: position-sorted reading rebuilds visual
// lines, stream-order reading follows the content stream as written.
package document

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"
)

type Mode int

const (
	// ModePositionSorted orders glyphs top to bottom, then left to right.
	ModePositionSorted Mode = iota
	// ModeStreamOrder keeps content-stream order.
	ModeStreamOrder
)

func (m Mode) String() string {
	switch m {
	case ModePositionSorted:
		return "position_sorted"
	case ModeStreamOrder:
		return "stream_order"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

var (
	ErrUnreadable = errors.New("document: unreadable pdf")
	ErrNoText     = errors.New("document: no text layer")
)

// Extractor reads PDF files from disk.
type Extractor struct{}

func NewExtractor() *Extractor { return &Extractor{} }

// Extract returns the text of the file at path. Unreadable files and files
// without a text layer yield an empty string and a wrapped ErrUnreadable or
// ErrNoText.
func (e *Extractor) Extract(ctx context.Context, path string, mode Mode) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	return e.ExtractReader(ctx, f, st.Size(), mode)
}

// ExtractReader is Extract over an in-memory or already opened document.
func (e *Extractor) ExtractReader(ctx context.Context, r io.ReaderAt, size int64, mode Mode) (text string, err error) {
	// The pdf library panics on some malformed inputs.
	defer func() {
		if p := recover(); p != nil {
			text = ""
			err = fmt.Errorf("%w: %v", ErrUnreadable, p)
		}
	}()

	doc, err := pdf.NewReader(r, size)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnreadable, err)
	}

	var pages []string
	for i := 1; i <= doc.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		p := doc.Page(i)
		if p.V.IsNull() {
			continue
		}
		var pageText string
		switch mode {
		case ModeStreamOrder:
			pageText, err = p.GetPlainText(nil)
			if err != nil {
				return "", fmt.Errorf("%w: page %d: %v", ErrUnreadable, i, err)
			}
		default:
			pageText = layout(glyphsOf(p.Content().Text))
		}
		pages = append(pages, pageText)
	}

	out := strings.Join(pages, "\n")
	if strings.TrimSpace(out) == "" {
		return "", ErrNoText
	}
	return out, nil
}

// glyph is one positioned run of text on a page. Y grows upwards.
type glyph struct {
	X, Y, W, Size float64
	S             string
}

func glyphsOf(texts []pdf.Text) []glyph {
	out := make([]glyph, 0, len(texts))
	for _, t := range texts {
		if t.S == "" {
			continue
		}
		out = append(out, glyph{X: t.X, Y: t.Y, W: t.W, Size: t.FontSize, S: t.S})
	}
	return out
}

const lineTolerance = 2.0

// layout rebuilds reading order: glyphs whose Y is within lineTolerance of
// the first glyph of a row share that row, rows run top to bottom and glyphs
// left to right. A visible horizontal gap becomes a space.
func layout(gs []glyph) string {
	if len(gs) == 0 {
		return ""
	}
	sort.SliceStable(gs, func(i, j int) bool { return gs[i].Y > gs[j].Y })

	var lines [][]glyph
	cur := []glyph{gs[0]}
	for _, g := range gs[1:] {
		if abs(cur[0].Y-g.Y) <= lineTolerance {
			cur = append(cur, g)
			continue
		}
		lines = append(lines, cur)
		cur = []glyph{g}
	}
	lines = append(lines, cur)

	var b strings.Builder
	for i, line := range lines {
		if i > 0 {
			b.WriteByte('\n')
		}
		sort.SliceStable(line, func(i, j int) bool { return line[i].X < line[j].X })
		for k, g := range line {
			if k > 0 {
				prev := line[k-1]
				gap := g.X - (prev.X + prev.W)
				if gap > spaceGap(prev.Size) && !strings.HasSuffix(prev.S, " ") && !strings.HasPrefix(g.S, " ") {
					b.WriteByte(' ')
				}
			}
			b.WriteString(g.S)
		}
	}
	return b.String()
}

func spaceGap(size float64) float64 {
	if size <= 0 {
		return 1
	}
	return size * 0.2
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
