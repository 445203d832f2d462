// Package export renders finished debates as markdown, JSON, or PDF.
package export

import (
	"fmt"
	"io"

	"github.com/arenalive/arena/internal/core"
)

// Format identifies an export format.
type Format string

const (
	FormatMarkdown Format = "markdown"
	FormatJSON     Format = "json"
	FormatPDF      Format = "pdf"
)

// ParseFormat normalizes a user-supplied format name.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "markdown", "md", "":
		return FormatMarkdown, nil
	case "json":
		return FormatJSON, nil
	case "pdf":
		return FormatPDF, nil
	}
	return "", fmt.Errorf("unknown export format %q", s)
}

// ContentType returns the MIME type for a format.
func (f Format) ContentType() string {
	switch f {
	case FormatJSON:
		return "application/json"
	case FormatPDF:
		return "application/pdf"
	default:
		return "text/markdown; charset=utf-8"
	}
}

// Extension returns the file extension for a format, without the dot.
func (f Format) Extension() string {
	switch f {
	case FormatJSON:
		return "json"
	case FormatPDF:
		return "pdf"
	default:
		return "md"
	}
}

// Transcript bundles everything an export needs.
type Transcript struct {
	Debate *core.Debate
	Turns  []*core.Turn
	Votes  []*core.Vote
}

// Render writes the transcript to w in the given format.
func Render(w io.Writer, format Format, tr *Transcript) error {
	switch format {
	case FormatMarkdown:
		return renderMarkdown(w, tr)
	case FormatJSON:
		return renderJSON(w, tr)
	case FormatPDF:
		return renderPDF(w, tr)
	}
	return fmt.Errorf("unknown export format %q", format)
}
