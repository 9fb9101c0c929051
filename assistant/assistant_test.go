package assistant

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/fabfab/paper-agent/chat"
	"github.com/fabfab/paper-agent/extract"
	"github.com/fabfab/paper-agent/ingestion"
	"github.com/fabfab/paper-agent/session"
)

type stubFetcher struct {
	result extract.Result
	calls  int
}

func (f *stubFetcher) Fetch(_ context.Context, url string) extract.Result {
	f.calls++
	res := f.result
	res.URL = url
	return res
}

type stubIndexer struct {
	docs   []ingestion.Document
	stored bool
}

func (s *stubIndexer) Ingest(_ context.Context, doc ingestion.Document) (ingestion.Result, error) {
	s.docs = append(s.docs, doc)
	return ingestion.Result{Stored: s.stored}, nil
}

type stubAsker struct {
	requests []chat.Request
	answer   string
	indexed  bool
	err      error
}

func (s *stubAsker) Ask(_ context.Context, req chat.Request) (chat.Response, error) {
	s.requests = append(s.requests, req)
	if s.err != nil {
		return chat.Response{}, s.err
	}
	return chat.Response{Answer: s.answer, Indexed: s.indexed}, nil
}

type stubBackend struct {
	ok  bool
	err error
}

func (p stubBackend) Ensure(context.Context) bool              { return p.ok }
func (p stubBackend) VerifyConnectivity(context.Context) error { return p.err }

var (
	_ Fetcher       = (*stubFetcher)(nil)
	_ Indexer       = (*stubIndexer)(nil)
	_ Asker         = (*stubAsker)(nil)
	_ VectorChecker = stubBackend{}
	_ GraphChecker  = stubBackend{}
)

type fixture struct {
	svc      *Service
	sessions *session.Manager
	fetcher  *stubFetcher
	indexer  *stubIndexer
	asker    *stubAsker
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	sessions := session.NewManager(session.NewMemoryStore(), nil, nil, session.Options{UploadDir: t.TempDir()}, nil)
	f := fixture{
		sessions: sessions,
		fetcher:  &stubFetcher{result: extract.OK("", "generic", "Title: Attention Is All You Need\n\nAbstract: transformers")},
		indexer:  &stubIndexer{stored: true},
		asker:    &stubAsker{answer: "an answer", indexed: true},
	}
	f.svc = NewService(sessions, f.fetcher, f.indexer, f.asker, stubBackend{ok: true}, nil,
		Options{MaxUploadBytes: 64, Credentials: Credentials{HuggingFace: true, VectorStore: true}}, nil)
	return f
}

func TestSubmitURL(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.SubmitURL(ctx, "", "not a url"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}

	res, err := f.svc.SubmitURL(ctx, "", "https://arxiv.org/abs/1706.03762")
	if err != nil {
		t.Fatalf("SubmitURL: %v", err)
	}
	if res.SessionID == "" || !res.Indexed || !res.VectorConnected || res.Status != extract.StatusOK {
		t.Fatalf("unexpected result %+v", res)
	}
	doc := f.indexer.docs[0]
	if doc.SessionID != res.SessionID || doc.Title != "Attention Is All You Need" || doc.Source != "https://arxiv.org/abs/1706.03762" {
		t.Fatalf("unexpected indexed document %+v", doc)
	}
	sess, ok, _ := f.sessions.Get(ctx, res.SessionID)
	if !ok || !sess.Indexed || !strings.HasPrefix(sess.CachedText, "Title:") {
		t.Fatalf("unexpected session %+v", sess)
	}
}

func TestSubmitURLFailureIsCachedNotIndexed(t *testing.T) {
	f := newFixture(t)
	f.fetcher.result = extract.Failed("", "generic", "Failed to extract content from u.")

	res, err := f.svc.SubmitURL(context.Background(), "s1", "https://example.org/paper")
	if err != nil {
		t.Fatalf("SubmitURL: %v", err)
	}
	if res.Indexed || res.Status != extract.StatusFailed || len(f.indexer.docs) != 0 {
		t.Fatalf("failed extraction must not be indexed: %+v", res)
	}
	sess, _, _ := f.sessions.Get(context.Background(), "s1")
	if !extract.IsFailureText(sess.CachedText) {
		t.Fatalf("expected failure text cached, got %q", sess.CachedText)
	}
}

func TestUploadPDFValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		session, name string
	}{
		{"", "paper.pdf"},
		{"s1", ""},
		{"s1", "paper.docx"},
	}
	for _, c := range cases {
		if _, err := f.svc.UploadPDF(ctx, c.session, c.name, strings.NewReader("x")); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("%+v: expected ErrInvalidInput, got %v", c, err)
		}
	}

	_, err := f.svc.UploadPDF(ctx, "s1", "big.pdf", strings.NewReader(strings.Repeat("x", 65)))
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected size rejection, got %v", err)
	}
	_, path := f.sessions.UploadPath("s1", "big.pdf")
	if _, statErr := os.Stat(path); !errors.Is(statErr, os.ErrNotExist) {
		t.Fatal("oversized upload must be removed")
	}

	_, err = f.svc.UploadPDF(ctx, "s1", "broken.pdf", strings.NewReader("not a pdf"))
	if !errors.Is(err, ErrInvalidInput) || !strings.Contains(err.Error(), "could not extract text") {
		t.Fatalf("expected extraction failure, got %v", err)
	}
	if _, ok, _ := f.sessions.Get(ctx, "s1"); ok {
		t.Fatal("failed upload must not create a tracked file")
	}
}

func TestListAndSelectPDF(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.ListPDFs(ctx, "missing"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}

	stored, path := f.sessions.UploadPath("s1", "paper.pdf")
	os.WriteFile(path, []byte("%PDF"), 0o600)
	if _, err := f.sessions.AddPDF(ctx, "s1", stored); err != nil {
		t.Fatalf("AddPDF: %v", err)
	}

	pdfs, err := f.svc.ListPDFs(ctx, "s1")
	if err != nil {
		t.Fatalf("ListPDFs: %v", err)
	}
	if len(pdfs) != 1 || pdfs[0].DisplayName != "paper.pdf" || !pdfs[0].IsActive || pdfs[0].Filename != "s1_paper.pdf" {
		t.Fatalf("unexpected list %+v", pdfs)
	}

	if err := f.svc.SelectPDF(ctx, "s1", "s1_other.pdf"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := f.svc.SelectPDF(ctx, "nope", "x.pdf"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestQuery(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if got := f.svc.Query(ctx, "s1", "  "); got != EmptyQuestion {
		t.Fatalf("unexpected answer %q", got)
	}

	res, _ := f.svc.SubmitURL(ctx, "s1", "https://arxiv.org/abs/1706.03762")
	if got := f.svc.Query(ctx, res.SessionID, "what is this?"); got != "an answer" {
		t.Fatalf("unexpected answer %q", got)
	}
	req := f.asker.requests[0]
	if req.SessionID != "s1" || req.Source != "https://arxiv.org/abs/1706.03762" || !req.Indexed || req.Title != "Attention Is All You Need" {
		t.Fatalf("unexpected chat request %+v", req)
	}
	if f.fetcher.calls != 1 {
		t.Fatal("cached text must be reused")
	}

	f.asker.answer = "  "
	if got := f.svc.Query(ctx, "s1", "again?"); got != EmptyAnswer {
		t.Fatalf("expected fallback answer, got %q", got)
	}

	f.asker.err = errors.New("boom")
	if got := f.svc.Query(ctx, "s1", "again?"); got != QueryError {
		t.Fatalf("expected error answer, got %q", got)
	}
}

func TestUnsupportedSiteTextIsNeverIndexed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fetcher.result = extract.Unsupported("", "Title: Some Blog Post")

	res, err := f.svc.SubmitURL(ctx, "s1", "https://example.org/post")
	if err != nil {
		t.Fatalf("SubmitURL: %v", err)
	}
	if res.Indexed || res.Status != extract.StatusUnsupported || len(f.indexer.docs) != 0 {
		t.Fatalf("unsupported text must not be indexed at submit: %+v", res)
	}
	sess, _, _ := f.sessions.Get(ctx, "s1")
	if !sess.Partial || sess.Indexed {
		t.Fatalf("expected partial, unindexed session, got %+v", sess)
	}

	f.svc.Query(ctx, "s1", "what is this?")
	if req := f.asker.requests[0]; !req.ContextOnly || req.Indexed || req.Text == "" {
		t.Fatalf("partial text must be sent as context only, got %+v", req)
	}
	sess, _, _ = f.sessions.Get(ctx, "s1")
	if !sess.Partial || sess.Indexed {
		t.Fatalf("query must leave partial text unindexed, got %+v", sess)
	}

	// A reload that fails again stays partial.
	if err := f.sessions.SetPartialText(ctx, "s1", ""); err != nil {
		t.Fatal(err)
	}
	f.svc.Query(ctx, "s1", "and now?")
	if req := f.asker.requests[1]; !req.ContextOnly {
		t.Fatalf("reloaded unsupported text must be context only, got %+v", req)
	}
	sess, _, _ = f.sessions.Get(ctx, "s1")
	if !sess.Partial || sess.CachedText == "" {
		t.Fatalf("reloaded partial text must be cached as partial, got %+v", sess)
	}
}

func TestQueryReloadsMissingCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.sessions.SetURL(ctx, "s1", "https://arxiv.org/abs/1"); err != nil {
		t.Fatalf("SetURL: %v", err)
	}
	f.svc.Query(ctx, "s1", "what?")
	if f.fetcher.calls != 1 || f.asker.requests[0].Indexed {
		t.Fatalf("expected a refetch and re-index, calls=%d", f.fetcher.calls)
	}
	sess, _, _ := f.sessions.Get(ctx, "s1")
	if sess.CachedText == "" || !sess.Indexed {
		t.Fatalf("reloaded text must be cached, got %+v", sess)
	}

	stored, _ := f.sessions.UploadPath("s2", "gone.pdf")
	f.sessions.AddPDF(ctx, "s2", stored)
	if got := f.svc.Query(ctx, "s2", "what?"); got != MissingPDF {
		t.Fatalf("expected missing pdf message, got %q", got)
	}
}

func TestQueryWithoutSession(t *testing.T) {
	f := newFixture(t)
	if got := f.svc.Query(context.Background(), "", "what is attention?"); got != "an answer" {
		t.Fatalf("unexpected answer %q", got)
	}
	if f.asker.requests[0].Text != "" {
		t.Fatal("sessionless queries carry no paper text")
	}
}

func TestClearAndCleanup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	msg, err := f.svc.ClearSession(ctx, "unknown")
	if err != nil || msg != "No session to clear" {
		t.Fatalf("unexpected clear result %q %v", msg, err)
	}

	f.svc.SubmitURL(ctx, "s1", "https://arxiv.org/abs/1")
	msg, err = f.svc.ClearSession(ctx, "s1")
	if err != nil || msg != "Session cleared successfully" {
		t.Fatalf("unexpected clear result %q %v", msg, err)
	}

	f.svc.SubmitURL(ctx, "s2", "https://arxiv.org/abs/2")
	msg, err = f.svc.Cleanup(ctx)
	if err != nil || msg != "Cleaned up 0 sessions. 1 active sessions remain." {
		t.Fatalf("unexpected cleanup result %q %v", msg, err)
	}
}

func TestCleanupEvictsIdle(t *testing.T) {
	now := time.Now()
	sessions := session.NewManager(session.NewMemoryStore(), nil, nil,
		session.Options{UploadDir: t.TempDir(), Now: func() time.Time { return now }}, nil)
	svc := NewService(sessions, &stubFetcher{}, &stubIndexer{}, &stubAsker{}, nil, nil, Options{}, nil)

	sessions.Touch(context.Background(), "old")
	now = now.Add(3 * time.Hour)

	msg, err := svc.Cleanup(context.Background())
	if err != nil || msg != "Cleaned up 1 sessions. 0 active sessions remain." {
		t.Fatalf("unexpected cleanup result %q %v", msg, err)
	}
}

func TestQueryKeepsOldestSessionAtCapacity(t *testing.T) {
	now := time.Now()
	sessions := session.NewManager(session.NewMemoryStore(), nil, nil,
		session.Options{UploadDir: t.TempDir(), MaxSessions: 10, Now: func() time.Time { return now }}, nil)
	fetcher := &stubFetcher{result: extract.OK("", "generic", "Title: Attention Is All You Need\n\nAbstract: transformers")}
	asker := &stubAsker{answer: "an answer", indexed: true}
	svc := NewService(sessions, fetcher, &stubIndexer{stored: true}, asker, nil, nil, Options{}, nil)
	ctx := context.Background()

	for i := 0; i < 11; i++ {
		id := fmt.Sprintf("s%02d", i)
		if _, err := svc.SubmitURL(ctx, id, "https://arxiv.org/abs/"+id); err != nil {
			t.Fatalf("SubmitURL %s: %v", id, err)
		}
		now = now.Add(time.Minute)
	}

	if got := svc.Query(ctx, "s00", "who are the authors?"); got != "an answer" {
		t.Fatalf("unexpected answer %q", got)
	}
	req := asker.requests[0]
	if req.Text == "" || req.Source != "https://arxiv.org/abs/s00" {
		t.Fatalf("querying session lost its paper: %+v", req)
	}
	sess, ok, _ := sessions.Get(ctx, "s00")
	if !ok || sess.URL != "https://arxiv.org/abs/s00" || sess.CachedText == "" {
		t.Fatalf("querying session must survive the sweep, got %+v (found=%v)", sess, ok)
	}
	if _, ok, _ := sessions.Get(ctx, "s01"); ok {
		t.Fatal("the least recently active session should have been evicted instead")
	}
	if n, _ := sessions.Count(ctx); n != 10 {
		t.Fatalf("expected 10 sessions after the sweep, got %d", n)
	}
}

func TestStatus(t *testing.T) {
	f := newFixture(t)
	st := f.svc.Status(context.Background())
	if st.Status != "operational" || !st.VectorConnected || st.GraphEnabled {
		t.Fatalf("unexpected status %+v", st)
	}

	sessions := session.NewManager(session.NewMemoryStore(), nil, nil, session.Options{}, nil)
	svc := NewService(sessions, &stubFetcher{}, &stubIndexer{}, &stubAsker{}, stubBackend{ok: true}, stubBackend{err: errors.New("down")},
		Options{Credentials: Credentials{HuggingFace: true, VectorStore: true}}, nil)
	st = svc.Status(context.Background())
	if st.Status != "degraded" || !st.GraphEnabled || st.GraphConnected {
		t.Fatalf("graph outage must degrade status: %+v", st)
	}

	svc = NewService(sessions, &stubFetcher{}, &stubIndexer{}, &stubAsker{}, stubBackend{ok: true}, nil, Options{}, nil)
	if st := svc.Status(context.Background()); st.APIKeysConfigured || st.Status != "degraded" {
		t.Fatalf("missing keys must degrade status: %+v", st)
	}
}
