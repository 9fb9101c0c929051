package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fabfab/paper-agent/vectorstore"
)

type recordingVectors struct {
	events *[]string
	fail   bool
}

func (r recordingVectors) Delete(_ context.Context, f vectorstore.Filter) bool {
	*r.events = append(*r.events, "vectors:"+f.String())
	return !r.fail
}

type recordingGraph struct {
	events *[]string
}

func (r recordingGraph) DeleteSession(_ context.Context, id string) error {
	*r.events = append(*r.events, "graph:"+id)
	return errors.New("graph unavailable")
}

// eventStore records deletes so cascade order can be checked.
type eventStore struct {
	*MemoryStore
	events *[]string
}

func (e eventStore) Delete(ctx context.Context, id string) error {
	*e.events = append(*e.events, "record:"+id)
	return e.MemoryStore.Delete(ctx, id)
}

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func newTestManager(t *testing.T) (*Manager, *clock, *[]string) {
	t.Helper()
	events := &[]string{}
	c := &clock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	m := NewManager(
		eventStore{MemoryStore: NewMemoryStore(), events: events},
		recordingVectors{events: events},
		recordingGraph{events: events},
		Options{UploadDir: t.TempDir(), MaxIdle: 2 * time.Hour, MaxSessions: 10, Now: c.Now},
		nil,
	)
	return m, c, events
}

func writeUpload(t *testing.T, m *Manager, id, name string) string {
	t.Helper()
	stored, path := m.UploadPath(id, name)
	if err := os.WriteFile(path, []byte("%PDF-1.4"), 0o600); err != nil {
		t.Fatalf("write upload: %v", err)
	}
	return stored
}

func TestSweepEvictsOldestBeyondCapacity(t *testing.T) {
	m, c, _ := newTestManager(t)
	ctx := context.Background()
	start := c.now

	for i := 0; i < 11; i++ {
		c.now = start.Add(time.Duration(i) * time.Minute)
		if _, err := m.Touch(ctx, fmt.Sprintf("s%02d", i)); err != nil {
			t.Fatalf("Touch: %v", err)
		}
	}

	evicted, err := m.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if evicted != 1 {
		t.Fatalf("expected exactly one eviction, got %d", evicted)
	}
	if _, ok, _ := m.Get(ctx, "s00"); ok {
		t.Fatal("oldest session must be evicted")
	}
	if n, _ := m.Count(ctx); n != 10 {
		t.Fatalf("expected 10 sessions left, got %d", n)
	}
}

func TestSweepEvictsIdleSessions(t *testing.T) {
	m, c, _ := newTestManager(t)
	ctx := context.Background()

	m.Touch(ctx, "old")
	c.now = c.now.Add(2*time.Hour + time.Minute)
	m.Touch(ctx, "fresh")
	c.now = c.now.Add(time.Hour)

	evicted, err := m.Sweep(ctx)
	if err != nil || evicted != 1 {
		t.Fatalf("expected one eviction, got %d (%v)", evicted, err)
	}
	if _, ok, _ := m.Get(ctx, "old"); ok {
		t.Fatal("idle session must be evicted")
	}
	if _, ok, _ := m.Get(ctx, "fresh"); !ok {
		t.Fatal("session idle under the limit must be kept")
	}
}

func TestSweepSkipsLockedSessions(t *testing.T) {
	m, c, _ := newTestManager(t)
	ctx := context.Background()

	m.Touch(ctx, "busy")
	c.now = c.now.Add(3 * time.Hour)

	unlock := m.Lock("busy")
	evicted, _ := m.Sweep(ctx)
	unlock()
	if evicted != 0 {
		t.Fatal("locked session must not be evicted")
	}

	if evicted, _ := m.Sweep(ctx); evicted != 1 {
		t.Fatal("session must be evicted once released")
	}
	if len(m.locks) != 0 {
		t.Fatalf("lock table leaked %d entries", len(m.locks))
	}
}

// staleListStore serves List from a snapshot taken earlier, like a sweep
// that listed sessions just before a request touched one.
type staleListStore struct {
	*MemoryStore
	snapshot []Session
}

func (s *staleListStore) List(context.Context) ([]Session, error) {
	return s.snapshot, nil
}

func TestSweepSparesSessionTouchedAfterListing(t *testing.T) {
	ctx := context.Background()
	c := &clock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	store := &staleListStore{MemoryStore: NewMemoryStore()}
	m := NewManager(store, nil, nil, Options{MaxIdle: 2 * time.Hour, MaxSessions: 10, Now: c.Now}, nil)

	m.Touch(ctx, "x")
	c.now = c.now.Add(3 * time.Hour)
	store.snapshot, _ = store.MemoryStore.List(ctx)
	m.Touch(ctx, "x")

	evicted, err := m.Sweep(ctx)
	if err != nil || evicted != 0 {
		t.Fatalf("expected no eviction, got %d (%v)", evicted, err)
	}
	if _, ok, _ := m.Get(ctx, "x"); !ok {
		t.Fatal("session refreshed after listing must survive the sweep")
	}
}

func TestClearCascadeOrder(t *testing.T) {
	m, _, events := newTestManager(t)
	ctx := context.Background()

	stored := writeUpload(t, m, "s1", "paper.pdf")
	if _, err := m.AddPDF(ctx, "s1", stored); err != nil {
		t.Fatalf("AddPDF: %v", err)
	}
	*events = nil

	existed, err := m.Clear(ctx, "s1")
	if err != nil || !existed {
		t.Fatalf("Clear: %v %v", existed, err)
	}
	want := "vectors:session_id=s1,graph:s1,record:s1"
	if got := strings.Join(*events, ","); got != want {
		t.Fatalf("cascade = %s, want %s", got, want)
	}
	if _, err := os.Stat(m.FilePath(stored)); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("uploaded file must be deleted")
	}

	existed, err = m.Clear(ctx, "unknown")
	if err != nil || existed {
		t.Fatal("clearing an unknown session is a no-op")
	}
}

func TestSwitchingSourceDeletesVectorsFirst(t *testing.T) {
	m, _, events := newTestManager(t)
	ctx := context.Background()

	s, err := m.SetURL(ctx, "s1", "https://arxiv.org/abs/1706.03762")
	if err != nil {
		t.Fatalf("SetURL: %v", err)
	}
	if err := m.SetCachedText(ctx, s.ID, "Title: x", true); err != nil {
		t.Fatalf("SetCachedText: %v", err)
	}
	*events = nil

	stored := writeUpload(t, m, "s1", "paper.pdf")
	s, err = m.AddPDF(ctx, "s1", stored)
	if err != nil {
		t.Fatalf("AddPDF: %v", err)
	}
	if len(*events) != 1 || (*events)[0] != "vectors:session_id=s1" {
		t.Fatalf("expected session vectors deleted, got %v", *events)
	}
	if s.URL != "" || s.ActivePDF != stored || s.Indexed || s.CachedText != "" {
		t.Fatalf("unexpected session after switch %+v", s)
	}
	if s.Source() != "pdf:s1_paper.pdf" {
		t.Fatalf("unexpected source %q", s.Source())
	}
}

func TestAddPDFRemovesPreviousActiveFile(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	first := writeUpload(t, m, "s1", "a.pdf")
	m.AddPDF(ctx, "s1", first)
	second := writeUpload(t, m, "s1", "b.pdf")
	s, _ := m.AddPDF(ctx, "s1", second)

	if s.Tracks(first) || !s.Tracks(second) {
		t.Fatalf("unexpected tracked files %v", s.Files)
	}
	if _, err := os.Stat(m.FilePath(first)); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("previous active pdf must be removed")
	}
}

func TestSelectPDF(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	if _, err := m.SelectPDF(ctx, "none", "x.pdf"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	stored := writeUpload(t, m, "s1", "a.pdf")
	m.AddPDF(ctx, "s1", stored)
	if _, err := m.SelectPDF(ctx, "s1", "s1_other.pdf"); !errors.Is(err, ErrUnknownFile) {
		t.Fatalf("expected ErrUnknownFile, got %v", err)
	}

	os.Remove(m.FilePath(stored))
	if _, err := m.SelectPDF(ctx, "s1", stored); !errors.Is(err, ErrFileMissing) {
		t.Fatalf("expected ErrFileMissing, got %v", err)
	}
}

func TestSweepOrphans(t *testing.T) {
	m, c, _ := newTestManager(t)
	ctx := context.Background()

	tracked := writeUpload(t, m, "live", "kept.pdf")
	m.AddPDF(ctx, "live", tracked)
	orphanOld := writeUpload(t, m, "gone", "old.pdf")
	orphanNew := writeUpload(t, m, "gone", "new.pdf")

	old := c.now.Add(-3 * time.Hour)
	for _, name := range []string{tracked, orphanOld} {
		if err := os.Chtimes(m.FilePath(name), old, old); err != nil {
			t.Fatalf("chtimes: %v", err)
		}
	}
	if err := os.Chtimes(m.FilePath(orphanNew), c.now, c.now); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	removed, err := m.SweepOrphans(ctx)
	if err != nil || removed != 1 {
		t.Fatalf("expected one orphan removed, got %d (%v)", removed, err)
	}
	for name, want := range map[string]bool{tracked: true, orphanOld: false, orphanNew: true} {
		_, err := os.Stat(filepath.Join(m.opts.UploadDir, name))
		if exists := err == nil; exists != want {
			t.Fatalf("%s: exists=%v want %v", name, exists, want)
		}
	}
}

func TestSanitizeFilename(t *testing.T) {
	cases := map[string]string{
		"paper.pdf":              "paper.pdf",
		"my paper (v2).pdf":      "my_paper_v2.pdf",
		"../../etc/passwd":       "passwd",
		`C:\Users\me\thesis.pdf`: "thesis.pdf",
		"..":                     "upload.pdf",
	}
	for in, want := range cases {
		if got := SanitizeFilename(in); got != want {
			t.Fatalf("SanitizeFilename(%q) = %q, want %q", in, got, want)
		}
	}
	if got := DisplayName("s1", "s1_paper.pdf"); got != "paper.pdf" {
		t.Fatalf("unexpected display name %q", got)
	}
}
