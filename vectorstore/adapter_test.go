package vectorstore

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func errorsIs(err, target error) bool { return errors.Is(err, target) }

type stubStore struct {
	dimension int
	created   int
	dropped   int
	records   []Record
	matches   []Match
	calls     []string
	deletes   []Filter
	queryErr  error
	upsertErr error
}

func (s *stubStore) EnsureIndex(_ context.Context, dimension int) error {
	s.calls = append(s.calls, "ensure")
	if s.dimension != 0 && s.dimension != dimension {
		return mismatch("stub", s.dimension, dimension)
	}
	s.dimension = dimension
	s.created++
	return nil
}

func (s *stubStore) DropIndex(context.Context) error {
	s.calls = append(s.calls, "drop")
	s.dimension = 0
	s.records = nil
	s.dropped++
	return nil
}

func (s *stubStore) Upsert(_ context.Context, records []Record) error {
	s.calls = append(s.calls, "upsert")
	if s.upsertErr != nil {
		return s.upsertErr
	}
	s.records = append(s.records, records...)
	return nil
}

func (s *stubStore) Query(_ context.Context, _ []float32, topK int, filter Filter) ([]Match, error) {
	s.calls = append(s.calls, "query:"+filter.String())
	if s.queryErr != nil {
		return nil, s.queryErr
	}
	return s.matches, nil
}

func (s *stubStore) Delete(_ context.Context, filter Filter) error {
	s.calls = append(s.calls, "delete:"+filter.String())
	s.deletes = append(s.deletes, filter)
	return nil
}

type stubEmbedder struct {
	dim int
	err error
}

func (e stubEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, e.dim)
		out[i][0] = float32(len(texts[i]))
	}
	return out, nil
}

func TestAdapterStoreDeletesSessionScopeFirst(t *testing.T) {
	store := &stubStore{}
	a := NewAdapter(store, stubEmbedder{dim: 3}, AdapterOptions{Dimension: 3}, nil)

	chunks := []Chunk{
		{ID: "u_0", Text: "first", Source: "https://arxiv.org/abs/1", SessionID: "s1", Index: 0, BatchID: "b"},
		{ID: "u_1", Text: "second", Source: "https://arxiv.org/abs/1", SessionID: "s1", Index: 1, BatchID: "b"},
	}
	if !a.Store(context.Background(), chunks) {
		t.Fatal("expected store to succeed")
	}

	want := []string{"ensure", "delete:session_id=s1", "upsert"}
	if strings.Join(store.calls, ",") != strings.Join(want, ",") {
		t.Fatalf("calls = %v, want %v", store.calls, want)
	}
	m := store.records[1].Metadata
	if m.SourceID != "session:s1" || m.ChunkIndex != 1 || m.Text != "second" || m.SessionID != "s1" {
		t.Fatalf("unexpected metadata %+v", m)
	}
}

func TestAdapterStoreWithoutSessionScopesBySource(t *testing.T) {
	store := &stubStore{}
	a := NewAdapter(store, stubEmbedder{dim: 2}, AdapterOptions{Dimension: 2}, nil)

	ok := a.Store(context.Background(), []Chunk{{ID: "pdf:a.pdf_0", Text: "x", Source: "pdf:a.pdf"}})
	if !ok {
		t.Fatal("expected store to succeed")
	}
	if store.deletes[0] != (Filter{Source: "pdf:a.pdf"}) {
		t.Fatalf("expected source delete, got %+v", store.deletes)
	}
	if store.records[0].Metadata.SourceID != "pdf:a.pdf" {
		t.Fatalf("unexpected source id %q", store.records[0].Metadata.SourceID)
	}
}

func TestAdapterStoreFailures(t *testing.T) {
	a := NewAdapter(&stubStore{}, stubEmbedder{err: errors.New("boom")}, AdapterOptions{Dimension: 2}, nil)
	if a.Store(context.Background(), []Chunk{{ID: "1", Text: "x", Source: "s"}}) {
		t.Fatal("expected embed failure to report false")
	}

	a = NewAdapter(&stubStore{upsertErr: errors.New("down")}, stubEmbedder{dim: 2}, AdapterOptions{Dimension: 2}, nil)
	if a.Store(context.Background(), []Chunk{{ID: "1", Text: "x", Source: "s"}}) {
		t.Fatal("expected upsert failure to report false")
	}
	if a.Store(context.Background(), nil) {
		t.Fatal("expected empty input to report false")
	}

	var nilAdapter *Adapter
	if nilAdapter.Store(context.Background(), []Chunk{{ID: "1"}}) || nilAdapter.Search(context.Background(), "q", "s", "") != nil {
		t.Fatal("nil adapter must behave as unreachable")
	}
}

func TestAdapterEnsureRecreatesOnMismatch(t *testing.T) {
	store := &stubStore{dimension: 768}
	a := NewAdapter(store, stubEmbedder{dim: 384}, AdapterOptions{Dimension: 384, RecreateOnMismatch: true}, nil)

	if !a.Ensure(context.Background()) {
		t.Fatal("expected ensure to recreate the index")
	}
	if store.dropped != 1 || store.dimension != 384 {
		t.Fatalf("expected drop and recreate at 384, got dropped=%d dim=%d", store.dropped, store.dimension)
	}
	// Cached after the first success.
	a.Ensure(context.Background())
	if store.created != 1 {
		t.Fatalf("expected a single create, got %d", store.created)
	}
}

func TestAdapterEnsureMismatchWithoutRecreate(t *testing.T) {
	store := &stubStore{dimension: 768}
	a := NewAdapter(store, stubEmbedder{dim: 384}, AdapterOptions{Dimension: 384}, nil)
	if a.Ensure(context.Background()) {
		t.Fatal("expected ensure to fail")
	}
	if store.dropped != 0 {
		t.Fatal("index must not be dropped when recreation is disabled")
	}
}

func TestAdapterSearchSortsAndScopes(t *testing.T) {
	store := &stubStore{matches: []Match{
		{ID: "low", Score: 0.1},
		{ID: "high", Score: 0.9},
		{ID: "mid", Score: 0.5},
	}}
	a := NewAdapter(store, stubEmbedder{dim: 2}, AdapterOptions{Dimension: 2}, nil)

	got := a.Search(context.Background(), "what is it", "s1", "ignored")
	if len(got) != 3 || got[0].ID != "high" || got[1].ID != "mid" || got[2].ID != "low" {
		t.Fatalf("unexpected order %+v", got)
	}
	if store.calls[len(store.calls)-1] != "query:session_id=s1" {
		t.Fatalf("expected session-scoped query, got %v", store.calls)
	}

	a.Search(context.Background(), "q", "", "pdf:a.pdf")
	if store.calls[len(store.calls)-1] != "query:source=pdf:a.pdf" {
		t.Fatalf("expected source-scoped query, got %v", store.calls)
	}

	store.queryErr = errors.New("down")
	if a.Search(context.Background(), "q", "s1", "") != nil {
		t.Fatal("expected nil on query failure")
	}
}

func TestAdapterDeleteIdentifier(t *testing.T) {
	store := &stubStore{}
	a := NewAdapter(store, stubEmbedder{dim: 2}, AdapterOptions{Dimension: 2}, nil)

	if !a.DeleteIdentifier(context.Background(), "session:abc") {
		t.Fatal("expected delete to succeed")
	}
	if !a.DeleteIdentifier(context.Background(), "pdf:paper.pdf") {
		t.Fatal("expected delete to succeed")
	}
	if store.deletes[0] != (Filter{SessionID: "abc"}) || store.deletes[1] != (Filter{Source: "pdf:paper.pdf"}) {
		t.Fatalf("unexpected filters %+v", store.deletes)
	}
	if a.Delete(context.Background(), Filter{}) {
		t.Fatal("empty filter must be refused")
	}
}
