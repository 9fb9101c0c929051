// Package vectorstore stores embedded paper chunks and retrieves them by
// similarity, scoped by session or source.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
)

// ErrDimensionMismatch is wrapped by EnsureIndex when an existing index was
// built for a different embedding dimension.
var ErrDimensionMismatch = errors.New("index dimension mismatch")

// Chunk is one piece of a document ready to be embedded.
type Chunk struct {
	ID        string
	Text      string
	Source    string
	SessionID string
	Index     int
	BatchID   string
}

// SourceID is the scope key recorded with the chunk: "session:{id}" for
// session-scoped chunks, the source otherwise.
func (c Chunk) SourceID() string {
	if c.SessionID != "" {
		return SessionPrefix + c.SessionID
	}
	return c.Source
}

// Metadata travels with every stored vector.
type Metadata struct {
	Source     string `json:"source"`
	ChunkID    string `json:"chunk_id"`
	ChunkIndex int    `json:"chunk_index"`
	BatchID    string `json:"batch_id"`
	SourceID   string `json:"source_id"`
	SessionID  string `json:"session_id,omitempty"`
	Text       string `json:"text"`
}

type Record struct {
	ID       string
	Values   []float32
	Metadata Metadata
}

// Filter selects vectors by exact metadata match. SessionID wins over
// Source; the zero Filter matches everything.
type Filter struct {
	SessionID string
	Source    string
}

func (f Filter) Empty() bool { return f.SessionID == "" && f.Source == "" }

func (f Filter) String() string {
	switch {
	case f.SessionID != "":
		return "session_id=" + f.SessionID
	case f.Source != "":
		return "source=" + f.Source
	default:
		return "all"
	}
}

type Match struct {
	ID       string
	Score    float32
	Metadata Metadata
}

// Store is a vector index backend.
type Store interface {
	// EnsureIndex creates the index when missing. An existing index with a
	// different dimension yields an error wrapping ErrDimensionMismatch.
	EnsureIndex(ctx context.Context, dimension int) error
	DropIndex(ctx context.Context) error
	Upsert(ctx context.Context, records []Record) error
	Query(ctx context.Context, vector []float32, topK int, filter Filter) ([]Match, error)
	Delete(ctx context.Context, filter Filter) error
}

func mismatch(name string, have, want int) error {
	return fmt.Errorf("%w: %s has dimension %d, embedder produces %d", ErrDimensionMismatch, name, have, want)
}
