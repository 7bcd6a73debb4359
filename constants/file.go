package constants

import "strings"

// MergeableExtensions holds the attachment extensions merged into the archival PDF.
var MergeableExtensions = map[string]struct{}{
	"pdf": {},
}

// PDFContentType is used for uploads of the archival PDF.
const PDFContentType = "application/pdf"

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// IsMergeable reports whether an attachment with this extension is merged into the PDF.
func IsMergeable(ext string) bool {
	_, ok := MergeableExtensions[NormalizeExt(ext)]
	return ok
}
