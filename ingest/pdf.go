package ingest

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// ErrInvalidPDF marks an upload that failed PDF validation.
var ErrInvalidPDF = errors.New("ingest: invalid pdf")

// ValidatePDF checks that data is a readable PDF and returns its page
// count. The magic-prefix check rejects obvious non-PDFs cheaply before
// the full parse.
func ValidatePDF(data []byte) (int, error) {
	if !bytes.HasPrefix(data, []byte("%PDF-")) {
		return 0, fmt.Errorf("%w: missing %%PDF- header", ErrInvalidPDF)
	}
	conf := model.NewDefaultConfiguration()
	ctx, err := api.ReadValidateAndOptimize(bytes.NewReader(data), conf)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidPDF, err)
	}
	return ctx.PageCount, nil
}
