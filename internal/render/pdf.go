package render

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-pdf/fpdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// TextToPDF writes text as a plain A4 document at path.
func TextToPDF(text, path string) error {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(15, 15, 15)
	pdf.SetAutoPageBreak(true, 15)
	pdf.SetFont("Helvetica", "", 10)
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.AddPage()
	text = strings.ReplaceAll(text, "\r\n", "\n")
	pdf.MultiCell(0, 5, tr(text), "", "L", false)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create pdf dir: %w", err)
	}
	if err := pdf.OutputFileAndClose(path); err != nil {
		return fmt.Errorf("write pdf: %w", err)
	}
	return nil
}

// MergePDFs concatenates inFiles into outFile in order.
func MergePDFs(inFiles []string, outFile string) error {
	conf := model.NewDefaultConfiguration()
	if err := api.MergeCreateFile(inFiles, outFile, false, conf); err != nil {
		return fmt.Errorf("merge pdfs: %w", err)
	}
	return nil
}

// validPDF reports whether path parses as a PDF.
func validPDF(path string) error {
	return api.ValidateFile(path, model.NewDefaultConfiguration())
}

// PageCount returns the number of pages of the PDF at path.
func PageCount(path string) (int, error) {
	return api.PageCountFile(path)
}
