// Package extract turns research-paper pages into labeled plain text
// ("Title: ...", "Authors: ...", "Abstract: ...", "Content: ...").
package extract

import (
	"context"
	"fmt"
	"strings"
)

// Extractor fetches a URL and returns the labeled text for it. Failures are
// reported in the Result, never as a panic or error.
type Extractor interface {
	Extract(ctx context.Context, url string) Result
}

// Status tags the outcome of an extraction.
type Status int

const (
	StatusOK Status = iota
	StatusFailed
	StatusUnsupported
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusFailed:
		return "extraction_failed"
	case StatusUnsupported:
		return "unsupported_site"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Result is the Document Record produced for one URL.
//
// For StatusOK, Text is the extracted document. For StatusFailed, Reason says
// why and Text may hold partial information derived from the URL. For
// StatusUnsupported, Text is the user-facing notice with whatever the generic
// extractor managed to pull out.
type Result struct {
	URL       string
	Extractor string
	Status    Status
	Text      string
	Reason    string
	Attempts  int
}

func OK(url, extractor, text string) Result {
	return Result{URL: url, Extractor: extractor, Status: StatusOK, Text: text}
}

func Failed(url, extractor, reason string) Result {
	return Result{URL: url, Extractor: extractor, Status: StatusFailed, Reason: reason}
}

func Unsupported(url, partial string) Result {
	return Result{
		URL:       url,
		Extractor: "router",
		Status:    StatusUnsupported,
		Text:      fmt.Sprintf("The URL %s is not from a supported research site. Here's what we could extract:\n\n%s", url, partial),
		Reason:    "no extractor registered for site",
	}
}

func (r Result) OK() bool { return r.Status == StatusOK }

// String renders the result as text. Failures always start with "Failed" so
// they stay detectable by IsFailureText.
func (r Result) String() string {
	switch r.Status {
	case StatusOK, StatusUnsupported:
		return r.Text
	default:
		if IsFailureText(r.Reason) {
			return r.Reason
		}
		return fmt.Sprintf("Failed to extract content from %s: %s", r.URL, r.Reason)
	}
}

// Partial returns the best text available for a non-OK result.
func (r Result) Partial() string {
	if strings.TrimSpace(r.Text) != "" {
		return r.Text
	}
	return r.String()
}

// IsFailureText reports whether text is a failure notice rather than content.
func IsFailureText(text string) bool {
	return text == "" || strings.HasPrefix(text, "Failed") || strings.HasPrefix(text, "Error")
}
