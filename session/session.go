// Package session tracks what each user is currently looking at: the active
// URL or uploaded PDF, its cached text and the files the user uploaded.
package session

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/fabfab/paper-agent/ingestion"
)

var (
	ErrNotFound    = errors.New("session not found")
	ErrUnknownFile = errors.New("pdf not found in session")
	ErrFileMissing = errors.New("pdf file not found on server")
)

// Session holds at most one active source: URL or ActivePDF.
type Session struct {
	ID         string    `json:"id"`
	URL        string    `json:"url,omitempty"`
	ActivePDF  string    `json:"active_pdf,omitempty"`
	CachedText string    `json:"cached_text,omitempty"`
	Files      []string  `json:"files,omitempty"`
	LastActive time.Time `json:"last_active"`
	// Indexed is true once CachedText is in the vector store under this
	// session's id.
	Indexed bool `json:"indexed"`
	// Partial marks CachedText from an extraction that did not succeed. It
	// is shown to the model as context but never stored.
	Partial bool `json:"partial,omitempty"`
}

// Source is the vector-store source of the active document.
func (s Session) Source() string {
	if s.ActivePDF != "" {
		return ingestion.SourceForFile(s.ActivePDF)
	}
	return s.URL
}

func (s Session) HasSource() bool { return s.URL != "" || s.ActivePDF != "" }

func (s Session) Tracks(file string) bool { return slices.Contains(s.Files, file) }

func (s Session) clone() Session {
	s.Files = slices.Clone(s.Files)
	return s
}

// Store persists session records.
type Store interface {
	// Get returns ErrNotFound for unknown ids.
	Get(ctx context.Context, id string) (Session, error)
	Put(ctx context.Context, s Session) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]Session, error)
}
