package extract

import (
	"context"
	"log/slog"
	"time"

	"invoice-engine/internal/document"
	"invoice-engine/pkg/logger"
)

// Select returns the richer of two results. Ties keep primary.
func Select(primary, fallback Fields) Fields {
	if fallback.Count() > primary.Count() {
		return fallback
	}
	return primary
}

// TextSource reads a document in the requested mode.
type TextSource interface {
	Extract(ctx context.Context, path string, mode document.Mode) (string, error)
}

// Result is everything the engine learned from one document.
type Result struct {
	Fields      Fields
	InvoiceDate *time.Time
	// DetectionText is the stream-order text, used for insurer detection.
	DetectionText string
}

// Engine runs the two-strategy extraction over a document on disk.
type Engine struct {
	src TextSource
}

func NewEngine(src TextSource) *Engine { return &Engine{src: src} }

// Run never fails: read errors are logged and produce empty results.
// Position-sorted reading goes first. Stream-order reading is always done for
// insurer detection and replaces the fields only when it finds strictly more.
func (e *Engine) Run(ctx context.Context, path string) Result {
	log := logger.From(ctx).With("path", path)

	sorted, err := e.src.Extract(ctx, path, document.ModePositionSorted)
	if err != nil {
		log.Warn("document read failed", "mode", document.ModePositionSorted.String(), "err", err)
	}
	stream, err := e.src.Extract(ctx, path, document.ModeStreamOrder)
	if err != nil {
		log.Warn("document read failed", "mode", document.ModeStreamOrder.String(), "err", err)
	}

	primary := FromText(sorted)
	fields := primary
	if !primary.Complete() {
		fields = Select(primary, FromText(stream))
	}
	log.Debug("fields extracted",
		slog.Int("primary_count", primary.Count()),
		slog.Int("selected_count", fields.Count()),
	)

	return Result{
		Fields:        fields,
		InvoiceDate:   InvoiceDate(sorted),
		DetectionText: stream,
	}
}
