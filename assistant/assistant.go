// Package assistant is the use-case layer behind the HTTP and CLI surfaces:
// submitting a paper, managing uploads, asking questions and housekeeping.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fabfab/paper-agent/chat"
	"github.com/fabfab/paper-agent/extract"
	"github.com/fabfab/paper-agent/ingestion"
	"github.com/fabfab/paper-agent/logger"
	"github.com/fabfab/paper-agent/session"
)

const defaultMaxUploadBytes = 16 << 20

// User-facing messages for query paths that cannot reach the model.
const (
	EmptyAnswer      = "I processed the paper but couldn't generate a specific answer. Could you ask in a different way?"
	QueryError       = "I'm sorry, I encountered an error processing your request. Please try again with a different question or URL."
	MissingPDF       = "I couldn't find the uploaded PDF file. Please try uploading it again."
	UnreadablePDF    = "I couldn't extract text from this PDF. It might be scanned or protected."
	EmptyQuestion    = "Please ask a question about the paper."
	noSessionMessage = "No session to clear"
)

var (
	// ErrInvalidInput marks errors caused by the request itself.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotFound marks requests naming a file the session does not have.
	ErrNotFound = errors.New("not found")
)

func invalid(msg string) error { return fmt.Errorf("%w: %s", ErrInvalidInput, msg) }

// Fetcher turns a URL into a document record.
type Fetcher interface {
	Fetch(ctx context.Context, url string) extract.Result
}

type Indexer interface {
	Ingest(ctx context.Context, doc ingestion.Document) (ingestion.Result, error)
}

type Asker interface {
	Ask(ctx context.Context, req chat.Request) (chat.Response, error)
}

// VectorChecker reports whether the vector index is reachable.
type VectorChecker interface {
	Ensure(ctx context.Context) bool
}

// GraphChecker is satisfied by neo4j.DriverWithContext.
type GraphChecker interface {
	VerifyConnectivity(ctx context.Context) error
}

// Credentials reports which provider keys are configured.
type Credentials struct {
	HuggingFace bool
	VectorStore bool
}

type Options struct {
	MaxUploadBytes int64
	Credentials    Credentials
}

type Service struct {
	sessions *session.Manager
	fetcher  Fetcher
	indexer  Indexer
	asker    Asker
	vectors  VectorChecker
	graph    GraphChecker
	opts     Options
	log      *logger.Logger
}

// NewService wires the facade. vectors and graph may be nil.
func NewService(sessions *session.Manager, fetcher Fetcher, indexer Indexer, asker Asker, vectors VectorChecker, graph GraphChecker, opts Options, log *logger.Logger) *Service {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = defaultMaxUploadBytes
	}
	return &Service{
		sessions: sessions,
		fetcher:  fetcher,
		indexer:  indexer,
		asker:    asker,
		vectors:  vectors,
		graph:    graph,
		opts:     opts,
		log:      logger.OrNop(log).With("component", "assistant"),
	}
}

type SubmitResult struct {
	SessionID       string
	Status          extract.Status
	Indexed         bool
	VectorConnected bool
}

// SubmitURL makes url the session's document: previous files and vectors
// are dropped, the page is extracted, cached and indexed.
func (s *Service) SubmitURL(ctx context.Context, sessionID, url string) (SubmitResult, error) {
	url = strings.TrimSpace(url)
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return SubmitResult{}, invalid("a http(s) URL is required")
	}
	if sessionID == "" {
		sessionID = session.NewID()
	}

	unlock := s.sessions.Lock(sessionID)
	defer unlock()

	s.log.Info("processing url", "url", url, "session_id", sessionID)
	if _, err := s.sessions.SetURL(ctx, sessionID, url); err != nil {
		return SubmitResult{}, fmt.Errorf("reset session: %w", err)
	}

	res := s.fetcher.Fetch(ctx, url)
	text := res.Partial()
	indexed := false
	var err error
	if res.OK() {
		indexed = s.index(ctx, ingestion.Document{Source: url, SessionID: sessionID, Title: labeledTitle(text), Text: text})
		err = s.sessions.SetCachedText(ctx, sessionID, text, indexed)
	} else {
		s.log.Warn("extraction did not succeed", "url", url, "status", res.Status.String(), "reason", res.Reason)
		err = s.sessions.SetPartialText(ctx, sessionID, text)
	}
	if err != nil {
		return SubmitResult{}, fmt.Errorf("cache text: %w", err)
	}

	return SubmitResult{
		SessionID:       sessionID,
		Status:          res.Status,
		Indexed:         indexed,
		VectorConnected: indexed || s.vectorConnected(ctx),
	}, nil
}

type UploadResult struct {
	Filename string
	Indexed  bool
}

// UploadPDF saves the file as {session}_{name}, makes it the active
// document and indexes its text.
func (s *Service) UploadPDF(ctx context.Context, sessionID, filename string, r io.Reader) (UploadResult, error) {
	switch {
	case sessionID == "":
		return UploadResult{}, invalid("no session ID provided")
	case strings.TrimSpace(filename) == "":
		return UploadResult{}, invalid("no selected file")
	case !strings.EqualFold(filepath.Ext(filename), ".pdf"):
		return UploadResult{}, invalid("invalid file type")
	}

	unlock := s.sessions.Lock(sessionID)
	defer unlock()

	stored, path := s.sessions.UploadPath(sessionID, filename)
	if err := s.save(path, r); err != nil {
		return UploadResult{}, err
	}
	s.log.Info("saved pdf", "session_id", sessionID, "path", path)

	parsed, err := ingestion.ParseFile(ctx, path)
	if err != nil {
		_ = os.Remove(path)
		s.log.Warn("pdf text extraction failed", "path", path, "error", err)
		return UploadResult{}, invalid("could not extract text from this PDF")
	}

	if _, err := s.sessions.AddPDF(ctx, sessionID, stored); err != nil {
		return UploadResult{}, fmt.Errorf("track upload: %w", err)
	}
	indexed := s.index(ctx, ingestion.Document{
		Source:    ingestion.SourceForFile(stored),
		SessionID: sessionID,
		Title:     parsed.Title,
		Text:      parsed.Text,
	})
	if err := s.sessions.SetCachedText(ctx, sessionID, parsed.Text, indexed); err != nil {
		return UploadResult{}, fmt.Errorf("cache text: %w", err)
	}
	return UploadResult{Filename: stored, Indexed: indexed}, nil
}

func (s *Service) save(path string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create upload dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create upload file: %w", err)
	}
	n, err := io.Copy(f, io.LimitReader(r, s.opts.MaxUploadBytes+1))
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(path)
		return fmt.Errorf("write upload file: %w", err)
	}
	if n > s.opts.MaxUploadBytes {
		_ = os.Remove(path)
		return invalid(fmt.Sprintf("file exceeds %d bytes", s.opts.MaxUploadBytes))
	}
	return nil
}

type PDFInfo struct {
	Filename    string `json:"filename"`
	DisplayName string `json:"display_name"`
	IsActive    bool   `json:"is_active"`
}

func (s *Service) ListPDFs(ctx context.Context, sessionID string) ([]PDFInfo, error) {
	if sessionID == "" {
		return nil, invalid("invalid session ID")
	}
	sess, ok, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, invalid("invalid session ID")
	}
	out := make([]PDFInfo, 0, len(sess.Files))
	for _, f := range sess.Files {
		out = append(out, PDFInfo{
			Filename:    f,
			DisplayName: session.DisplayName(sessionID, f),
			IsActive:    f == sess.ActivePDF,
		})
	}
	return out, nil
}

// SelectPDF activates a previously uploaded file and re-indexes it when
// it was not the active document.
func (s *Service) SelectPDF(ctx context.Context, sessionID, filename string) error {
	if sessionID == "" {
		return invalid("invalid session ID")
	}
	if filename == "" {
		return invalid("no filename provided")
	}

	unlock := s.sessions.Lock(sessionID)
	defer unlock()

	sess, err := s.sessions.SelectPDF(ctx, sessionID, filename)
	switch {
	case errors.Is(err, session.ErrNotFound):
		return invalid("invalid session ID")
	case errors.Is(err, session.ErrUnknownFile), errors.Is(err, session.ErrFileMissing):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case err != nil:
		return err
	}
	if sess.CachedText != "" && sess.Indexed {
		return nil
	}

	parsed, err := ingestion.ParseFile(ctx, s.sessions.FilePath(filename))
	if err != nil {
		return fmt.Errorf("process pdf: %w", err)
	}
	indexed := s.index(ctx, ingestion.Document{
		Source:    ingestion.SourceForFile(filename),
		SessionID: sessionID,
		Title:     parsed.Title,
		Text:      parsed.Text,
	})
	return s.sessions.SetCachedText(ctx, sessionID, parsed.Text, indexed)
}

// Query answers a question about the session's document. It always
// returns a presentable string.
func (s *Service) Query(ctx context.Context, sessionID, question string) string {
	question = strings.TrimSpace(question)
	if question == "" {
		return EmptyQuestion
	}
	if sessionID == "" {
		s.sweep(ctx)
		s.log.Warn("query without session, answering without paper context")
		return s.ask(ctx, chat.Request{Question: question})
	}

	unlock := s.sessions.Lock(sessionID)
	defer unlock()

	sess, err := s.sessions.Touch(ctx, sessionID)
	if err != nil {
		s.log.Error("load session failed", "session_id", sessionID, "error", err)
		return QueryError
	}
	// Swept only after the touch; the held lock keeps this session out of
	// the sweep's reach.
	s.sweep(ctx)

	text, partial := sess.CachedText, sess.Partial
	reloaded := false
	if text == "" && sess.HasSource() {
		var msg string
		text, partial, msg = s.reload(ctx, sess)
		if msg != "" {
			return msg
		}
		sess.Indexed = false
		reloaded = true
	}

	req := chat.Request{
		Question:    question,
		SessionID:   sessionID,
		Source:      sess.Source(),
		Title:       labeledTitle(text),
		Text:        text,
		Indexed:     sess.Indexed,
		ContextOnly: partial,
	}
	resp, err := s.asker.Ask(ctx, req)
	if err != nil {
		s.log.Error("query failed", "session_id", sessionID, "error", err)
		return QueryError
	}

	switch {
	case partial && reloaded:
		err = s.sessions.SetPartialText(ctx, sessionID, text)
	case !partial && (reloaded || resp.Indexed != sess.Indexed):
		err = s.sessions.SetCachedText(ctx, sessionID, text, resp.Indexed)
	}
	if err != nil {
		s.log.Warn("update session cache failed", "session_id", sessionID, "error", err)
	}
	if strings.TrimSpace(resp.Answer) == "" {
		s.log.Warn("empty answer", "session_id", sessionID)
		return EmptyAnswer
	}
	return resp.Answer
}

func (s *Service) ask(ctx context.Context, req chat.Request) string {
	resp, err := s.asker.Ask(ctx, req)
	if err != nil {
		s.log.Error("query failed", "error", err)
		return QueryError
	}
	if strings.TrimSpace(resp.Answer) == "" {
		return EmptyAnswer
	}
	return resp.Answer
}

// reload re-reads the active document when the cache is empty. A non-empty
// message is a final answer for the user.
func (s *Service) reload(ctx context.Context, sess session.Session) (text string, partial bool, msg string) {
	if sess.ActivePDF != "" {
		path := s.sessions.FilePath(sess.ActivePDF)
		if _, err := os.Stat(path); err != nil {
			s.log.Warn("pdf file not found", "path", path)
			return "", false, MissingPDF
		}
		parsed, err := ingestion.ParseFile(ctx, path)
		if err != nil {
			s.log.Warn("no text extracted from pdf", "path", path, "error", err)
			return "", false, UnreadablePDF
		}
		return parsed.Text, false, ""
	}
	res := s.fetcher.Fetch(ctx, sess.URL)
	return res.Partial(), !res.OK(), ""
}

// ClearSession deletes the session and everything it owns. Unknown ids
// succeed; the message says which case happened.
func (s *Service) ClearSession(ctx context.Context, sessionID string) (string, error) {
	if sessionID == "" {
		return noSessionMessage, nil
	}
	unlock := s.sessions.Lock(sessionID)
	defer unlock()

	existed, err := s.sessions.Clear(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if !existed {
		return noSessionMessage, nil
	}
	s.log.Info("cleared session", "session_id", sessionID)
	return "Session cleared successfully", nil
}

// Cleanup runs both sweeps and reports how many sessions went away.
func (s *Service) Cleanup(ctx context.Context) (string, error) {
	evicted, err := s.sessions.Sweep(ctx)
	if err != nil {
		return "", err
	}
	if _, err := s.sessions.SweepOrphans(ctx); err != nil {
		s.log.Warn("orphan sweep failed", "error", err)
	}
	remaining, err := s.sessions.Count(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Cleaned up %d sessions. %d active sessions remain.", evicted, remaining), nil
}

func (s *Service) sweep(ctx context.Context) {
	if _, err := s.sessions.Sweep(ctx); err != nil {
		s.log.Warn("session sweep failed", "error", err)
	}
}

func (s *Service) index(ctx context.Context, doc ingestion.Document) bool {
	res, err := s.indexer.Ingest(ctx, doc)
	if err != nil {
		s.log.Warn("document not indexed", "source", doc.Source, "error", err)
		return false
	}
	return res.Stored
}

func (s *Service) vectorConnected(ctx context.Context) bool {
	return s.vectors != nil && s.vectors.Ensure(ctx)
}

// labeledTitle reads the "Title:" field of extracted text.
func labeledTitle(text string) string {
	for _, line := range strings.Split(text, "\n") {
		if title, ok := strings.CutPrefix(strings.TrimSpace(line), "Title:"); ok {
			return strings.TrimSpace(title)
		}
	}
	return ingestion.ExtractTitle(text, "")
}
