package ingestion

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

// ErrNoText is returned when a document yields no extractable text.
var ErrNoText = errors.New("could not extract text from document")

type DocumentPayload struct {
	Path string
	Data []byte
}

type ParsedDocument struct {
	Title string
	Text  string
	Pages int
}

type DocumentParser interface {
	Parse(ctx context.Context, payload DocumentPayload) (*ParsedDocument, error)
}

// ParserFor returns the parser for a format.
func ParserFor(format DocumentFormat) (DocumentParser, error) {
	switch format {
	case FormatPDF:
		return pdfParser{}, nil
	case FormatText, FormatMarkdown:
		return textParser{}, nil
	default:
		return nil, fmt.Errorf("unsupported document format %q", format)
	}
}

// ParseFile reads and parses the file at path according to its extension.
func ParseFile(ctx context.Context, path string) (*ParsedDocument, error) {
	parser, err := ParserFor(DetectFormat(path))
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return parser.Parse(ctx, DocumentPayload{Path: path, Data: data})
}

type pdfParser struct{}

// Parse extracts the plain text of every page, pages joined by a blank line.
func (pdfParser) Parse(ctx context.Context, payload DocumentPayload) (*ParsedDocument, error) {
	reader, err := pdf.NewReader(bytes.NewReader(payload.Data), int64(len(payload.Data)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}

	pages := make([]string, 0, reader.NumPage())
	for i := 1; i <= reader.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("extract text from page %d: %w", i, err)
		}
		pages = append(pages, normalizePlainText(text))
	}

	content := strings.Join(pages, "\n\n")
	if strings.TrimSpace(content) == "" {
		return nil, ErrNoText
	}

	title := firstNonEmptyLine(content)
	if title == "" {
		title = baseName(payload.Path)
	}
	return &ParsedDocument{Title: title, Text: content, Pages: reader.NumPage()}, nil
}

type textParser struct{}

func (textParser) Parse(_ context.Context, payload DocumentPayload) (*ParsedDocument, error) {
	content := normalizePlainText(string(payload.Data))
	if strings.TrimSpace(content) == "" {
		return nil, ErrNoText
	}
	return &ParsedDocument{
		Title: ExtractTitle(content, baseName(payload.Path)),
		Text:  content,
		Pages: 1,
	}, nil
}

// ExtractTitle returns the first markdown heading, else the first non-empty
// line, else fallback.
func ExtractTitle(content, fallback string) string {
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			return strings.TrimSpace(strings.TrimLeft(trimmed, "#"))
		}
	}
	if line := firstNonEmptyLine(content); line != "" {
		return line
	}
	return fallback
}

func normalizePlainText(content string) string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	content = strings.ReplaceAll(content, "\r", "\n")
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.Join(lines, "\n")
}

func firstNonEmptyLine(content string) string {
	for _, line := range strings.Split(content, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func baseName(path string) string {
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}
