package labels

import (
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pkg/errors"
)

// Merger склеивает упорядоченный список однодокументных PDF в один файл.
type Merger interface {
	Merge(inputs []string, out string) error
}

type PDFMerger struct{}

func NewPDFMerger() *PDFMerger { return &PDFMerger{} }

func (m *PDFMerger) Merge(inputs []string, out string) error {
	if err := api.MergeCreateFile(inputs, out, false, nil); err != nil {
		return errors.Wrap(err, "merge pdfs")
	}
	return nil
}
