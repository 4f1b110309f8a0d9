// Package export renders published decision versions to PDF, DOCX or HTML.
package export

import (
	"errors"
	"time"
)

type Format string

const (
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
	FormatHTML Format = "html"
)

// ParseFormat accepts pdf, docx and html; empty means pdf.
func ParseFormat(s string) (Format, bool) {
	switch Format(s) {
	case "":
		return FormatPDF, true
	case FormatPDF, FormatDOCX, FormatHTML:
		return Format(s), true
	}
	return "", false
}

// Request names the decision version to export.
type Request struct {
	ProjectID  string
	DecisionID string
	VersionID  string
	Format     Format
}

// Result contains the export output. Format is what was actually produced,
// which is HTML when PDF rendering is unavailable.
type Result struct {
	Data     []byte
	Filename string
	MimeType string
	Format   Format
	// GeneratedAt is stamped by the service.
	GeneratedAt time.Time
}

var (
	// ErrPDFDependencyMissing indicates no Chromium binary was found.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	// ErrDOCXDependencyMissing indicates pandoc is not installed.
	ErrDOCXDependencyMissing = errors.New("export docx dependency missing")
	ErrUnsupportedFormat     = errors.New("unsupported export format")
)

const mimeHTML = "text/html; charset=utf-8"
