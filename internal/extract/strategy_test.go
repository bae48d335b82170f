package extract

import (
	"context"
	"testing"

	"invoice-engine/internal/document"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelect(t *testing.T) {
	a := Fields{InvoiceNumber: ptr("0001-00000001")}
	b := Fields{InvoiceNumber: ptr("0002-00000002")}
	assert.Equal(t, a, Select(a, b), "tie keeps primary")

	richer := Fields{ClaimNumber: ptr("123456"), OrderNumber: ptr("4444")}
	assert.Equal(t, richer, Select(a, richer))
	assert.Equal(t, richer, Select(richer, a))
}

type fakeSource struct {
	texts map[document.Mode]string
	errs  map[document.Mode]error
	calls []document.Mode
}

func (f *fakeSource) Extract(_ context.Context, _ string, mode document.Mode) (string, error) {
	f.calls = append(f.calls, mode)
	return f.texts[mode], f.errs[mode]
}

func TestEngine_PrimaryCompleteKeepsPrimary(t *testing.T) {
	src := &fakeSource{texts: map[document.Mode]string{
		document.ModePositionSorted: "N° 0001-00000001 Nro siniestro 1234567 Orden 4444 01/02/2024",
		document.ModeStreamOrder:    "N° 0009-00000009 Nro siniestro 7654321 Orden 9999 Allianz",
	}}
	res := NewEngine(src).Run(context.Background(), "x.pdf")

	assert.Equal(t, "0001-00000001", *res.Fields.InvoiceNumber)
	assert.Equal(t, "4444", *res.Fields.OrderNumber)
	require.NotNil(t, res.InvoiceDate)
	assert.Equal(t, 2024, res.InvoiceDate.Year())
	assert.Contains(t, res.DetectionText, "Allianz")
}

func TestEngine_FallbackOnlyWhenStrictlyRicher(t *testing.T) {
	src := &fakeSource{texts: map[document.Mode]string{
		document.ModePositionSorted: "N° 0001-00000001",
		document.ModeStreamOrder:    "N° 0002-00000002 Orden 4444",
	}}
	res := NewEngine(src).Run(context.Background(), "x.pdf")
	assert.Equal(t, "0002-00000002", *res.Fields.InvoiceNumber)
	assert.Equal(t, 2, res.Fields.Count())

	tie := &fakeSource{texts: map[document.Mode]string{
		document.ModePositionSorted: "N° 0001-00000001",
		document.ModeStreamOrder:    "N° 0002-00000002",
	}}
	res = NewEngine(tie).Run(context.Background(), "x.pdf")
	assert.Equal(t, "0001-00000001", *res.Fields.InvoiceNumber)
}

func TestEngine_ReadErrorsYieldEmptyResult(t *testing.T) {
	src := &fakeSource{errs: map[document.Mode]error{
		document.ModePositionSorted: document.ErrUnreadable,
		document.ModeStreamOrder:    document.ErrNoText,
	}}
	res := NewEngine(src).Run(context.Background(), "broken.pdf")
	assert.Equal(t, 0, res.Fields.Count())
	assert.Nil(t, res.InvoiceDate)
	assert.Empty(t, res.DetectionText)
	assert.Len(t, src.calls, 2)
}
