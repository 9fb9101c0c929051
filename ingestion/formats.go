// Package ingestion turns paper text into stored, embedded chunks.
package ingestion

import (
	"path/filepath"
	"strings"
)

// DocumentFormat enumerates the file formats accepted for upload and bulk
// ingestion.
type DocumentFormat string

const (
	FormatUnknown  DocumentFormat = ""
	FormatPDF      DocumentFormat = "pdf"
	FormatText     DocumentFormat = "text"
	FormatMarkdown DocumentFormat = "markdown"
)

// DetectFormat infers a document format from the file extension.
func DetectFormat(path string) DocumentFormat {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return FormatPDF
	case ".txt":
		return FormatText
	case ".md", ".markdown":
		return FormatMarkdown
	default:
		return FormatUnknown
	}
}
