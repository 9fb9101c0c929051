package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fabfab/paper-agent/logger"
	"github.com/fabfab/paper-agent/metrics"
	"github.com/fabfab/paper-agent/vectorstore"
)

const (
	defaultMaxIdle     = 2 * time.Hour
	defaultMaxSessions = 10
)

// VectorDeleter removes a session's vectors; false means the delete failed.
type VectorDeleter interface {
	Delete(ctx context.Context, filter vectorstore.Filter) bool
}

// GraphCleaner removes a session from the paper graph.
type GraphCleaner interface {
	DeleteSession(ctx context.Context, sessionID string) error
}

type Options struct {
	UploadDir   string
	MaxIdle     time.Duration
	MaxSessions int
	// Now defaults to time.Now.
	Now func() time.Time
}

// Manager owns the session lifecycle. Mutating methods expect the caller
// to hold Lock(id) for the session they touch.
type Manager struct {
	store   Store
	vectors VectorDeleter
	graph   GraphCleaner
	opts    Options
	log     *logger.Logger

	locksMu sync.Mutex
	locks   map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// NewManager builds a manager. vectors and graph may be nil.
func NewManager(store Store, vectors VectorDeleter, graph GraphCleaner, opts Options, log *logger.Logger) *Manager {
	if opts.MaxIdle <= 0 {
		opts.MaxIdle = defaultMaxIdle
	}
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = defaultMaxSessions
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Manager{
		store:   store,
		vectors: vectors,
		graph:   graph,
		opts:    opts,
		log:     logger.OrNop(log).With("component", "session"),
		locks:   make(map[string]*keyLock),
	}
}

// Lock serializes work on one session id and returns the unlock func.
func (m *Manager) Lock(id string) func() {
	l := m.acquire(id)
	l.mu.Lock()
	return func() { m.release(id, l) }
}

// tryLock is Lock without waiting; sweeps skip sessions that are busy.
func (m *Manager) tryLock(id string) (func(), bool) {
	l := m.acquire(id)
	if !l.mu.TryLock() {
		m.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(m.locks, id)
		}
		m.locksMu.Unlock()
		return nil, false
	}
	return func() { m.release(id, l) }, true
}

func (m *Manager) acquire(id string) *keyLock {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	l, ok := m.locks[id]
	if !ok {
		l = &keyLock{}
		m.locks[id] = l
	}
	l.refs++
	return l
}

func (m *Manager) release(id string, l *keyLock) {
	l.mu.Unlock()
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(m.locks, id)
	}
}

// NewID returns a fresh server-generated session id.
func NewID() string { return uuid.NewString() }

func (m *Manager) Get(ctx context.Context, id string) (Session, bool, error) {
	s, err := m.store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return Session{}, false, nil
	}
	if err != nil {
		return Session{}, false, err
	}
	return s, true, nil
}

// Touch refreshes LastActive, creating the session when it is unknown.
func (m *Manager) Touch(ctx context.Context, id string) (Session, error) {
	s, ok, err := m.Get(ctx, id)
	if err != nil {
		return Session{}, err
	}
	if !ok {
		s = Session{ID: id}
		m.log.Info("session created", "session_id", id)
	}
	s.LastActive = m.opts.Now()
	if err := m.store.Put(ctx, s); err != nil {
		return Session{}, err
	}
	return s, nil
}

// SetURL makes url the active source. Files and vectors from the previous
// source are discarded.
func (m *Manager) SetURL(ctx context.Context, id, url string) (Session, error) {
	s, err := m.Touch(ctx, id)
	if err != nil {
		return Session{}, err
	}
	m.removeFiles(s.ID, s.Files)
	m.deleteVectors(ctx, s.ID)

	s.URL = url
	s.ActivePDF = ""
	s.Files = nil
	s.CachedText = ""
	s.Indexed = false
	s.Partial = false
	return s, m.store.Put(ctx, s)
}

// AddPDF tracks an uploaded file and makes it the active source. The
// previously active PDF file is removed from disk.
func (m *Manager) AddPDF(ctx context.Context, id, filename string) (Session, error) {
	s, err := m.Touch(ctx, id)
	if err != nil {
		return Session{}, err
	}
	if prev := s.ActivePDF; prev != "" && prev != filename {
		m.removeFiles(s.ID, []string{prev})
		s.Files = slices.DeleteFunc(s.Files, func(f string) bool { return f == prev })
	}
	m.deleteVectors(ctx, s.ID)

	if !s.Tracks(filename) {
		s.Files = append(s.Files, filename)
	}
	s.ActivePDF = filename
	s.URL = ""
	s.CachedText = ""
	s.Indexed = false
	s.Partial = false
	return s, m.store.Put(ctx, s)
}

// SelectPDF switches to a previously uploaded file of the session.
func (m *Manager) SelectPDF(ctx context.Context, id, filename string) (Session, error) {
	s, ok, err := m.Get(ctx, id)
	if err != nil {
		return Session{}, err
	}
	if !ok {
		return Session{}, ErrNotFound
	}
	if !s.Tracks(filename) {
		return Session{}, ErrUnknownFile
	}
	if _, err := os.Stat(m.filePath(filename)); err != nil {
		return Session{}, ErrFileMissing
	}

	if s.ActivePDF != filename {
		m.deleteVectors(ctx, s.ID)
		s.CachedText = ""
		s.Indexed = false
		s.Partial = false
	}
	s.ActivePDF = filename
	s.URL = ""
	s.LastActive = m.opts.Now()
	return s, m.store.Put(ctx, s)
}

func (m *Manager) SetCachedText(ctx context.Context, id, text string, indexed bool) error {
	return m.cache(ctx, id, text, indexed, false)
}

// SetPartialText caches the leftovers of a failed or unsupported extraction.
func (m *Manager) SetPartialText(ctx context.Context, id, text string) error {
	return m.cache(ctx, id, text, false, true)
}

func (m *Manager) cache(ctx context.Context, id, text string, indexed, partial bool) error {
	s, ok, err := m.Get(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	s.CachedText = text
	s.Indexed = indexed
	s.Partial = partial
	s.LastActive = m.opts.Now()
	return m.store.Put(ctx, s)
}

// Clear cascades the deletion of one session. Unknown ids are not an error;
// the boolean reports whether the session existed.
func (m *Manager) Clear(ctx context.Context, id string) (bool, error) {
	s, ok, err := m.Get(ctx, id)
	if err != nil || !ok {
		return false, err
	}
	if err := m.evict(ctx, s); err != nil {
		return true, err
	}
	metrics.SessionsEvicted.WithLabelValues("cleared").Inc()
	return true, nil
}

// Sweep evicts sessions idle longer than MaxIdle, then every session beyond
// the MaxSessions most recently active. Busy sessions are skipped.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	all, err := m.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list sessions: %w", err)
	}
	now := m.opts.Now()

	sort.Slice(all, func(i, j int) bool { return all[i].LastActive.After(all[j].LastActive) })

	evicted := 0
	kept := 0
	for _, s := range all {
		reason := ""
		switch {
		case now.Sub(s.LastActive) > m.opts.MaxIdle:
			reason = "idle"
		case kept >= m.opts.MaxSessions:
			reason = "capacity"
		}
		if reason == "" {
			kept++
			continue
		}

		unlock, ok := m.tryLock(s.ID)
		if !ok {
			m.log.Debug("session busy, skipping eviction", "session_id", s.ID)
			kept++
			continue
		}
		// The listing may be stale: a request can touch the session between
		// List and tryLock, making it the most recent one.
		current, found, err := m.Get(ctx, s.ID)
		if err != nil || !found {
			unlock()
			continue
		}
		if current.LastActive.After(s.LastActive) {
			unlock()
			kept++
			continue
		}
		err = m.evict(ctx, current)
		unlock()
		if err != nil {
			m.log.Error("evict session failed", "session_id", s.ID, "error", err)
			kept++
			continue
		}
		m.log.Info("session evicted", "session_id", s.ID, "reason", reason, "idle", now.Sub(s.LastActive).Round(time.Second))
		metrics.SessionsEvicted.WithLabelValues(reason).Inc()
		evicted++
	}
	metrics.ActiveSessions.Set(float64(kept))
	return evicted, nil
}

// SweepOrphans removes upload files older than MaxIdle that no live session
// tracks.
func (m *Manager) SweepOrphans(ctx context.Context) (int, error) {
	if m.opts.UploadDir == "" {
		return 0, nil
	}
	entries, err := os.ReadDir(m.opts.UploadDir)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read upload dir: %w", err)
	}

	all, err := m.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list sessions: %w", err)
	}
	tracked := make(map[string]struct{})
	for _, s := range all {
		for _, f := range s.Files {
			tracked[f] = struct{}{}
		}
	}

	now := m.opts.Now()
	removed := 0
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if _, ok := tracked[e.Name()]; ok {
			continue
		}
		info, err := e.Info()
		if err != nil || now.Sub(info.ModTime()) <= m.opts.MaxIdle {
			continue
		}
		if err := os.Remove(m.filePath(e.Name())); err != nil && !errors.Is(err, os.ErrNotExist) {
			m.log.Warn("remove orphan file failed", "file", e.Name(), "error", err)
			continue
		}
		m.log.Info("removed orphan file", "file", e.Name())
		removed++
	}
	return removed, nil
}

func (m *Manager) Count(ctx context.Context) (int, error) {
	all, err := m.store.List(ctx)
	if err != nil {
		return 0, err
	}
	return len(all), nil
}

// UploadPath returns the stored name and full path of an upload.
func (m *Manager) UploadPath(id, filename string) (string, string) {
	name := id + "_" + SanitizeFilename(filename)
	return name, m.filePath(name)
}

// FilePath resolves a stored file name inside the upload dir.
func (m *Manager) FilePath(name string) string { return m.filePath(name) }

// DisplayName strips the session prefix from a stored file name.
func DisplayName(id, name string) string {
	return strings.TrimPrefix(name, id+"_")
}

// evict runs the cascade: files, vectors and graph best effort, the record
// always last.
func (m *Manager) evict(ctx context.Context, s Session) error {
	m.removeFiles(s.ID, s.Files)
	m.deleteVectors(ctx, s.ID)
	if m.graph != nil {
		if err := m.graph.DeleteSession(ctx, s.ID); err != nil {
			m.log.Warn("delete session from graph failed", "session_id", s.ID, "error", err)
		}
	}
	if err := m.store.Delete(ctx, s.ID); err != nil {
		return fmt.Errorf("delete session record: %w", err)
	}
	return nil
}

func (m *Manager) removeFiles(id string, files []string) {
	for _, f := range files {
		err := os.Remove(m.filePath(f))
		switch {
		case err == nil:
			m.log.Info("deleted session file", "session_id", id, "file", f)
		case !errors.Is(err, os.ErrNotExist):
			m.log.Warn("delete session file failed", "session_id", id, "file", f, "error", err)
		}
	}
}

func (m *Manager) deleteVectors(ctx context.Context, id string) {
	if m.vectors == nil {
		return
	}
	if !m.vectors.Delete(ctx, vectorstore.Filter{SessionID: id}) {
		m.log.Warn("delete session vectors failed", "session_id", id)
	}
}

func (m *Manager) filePath(name string) string {
	return filepath.Join(m.opts.UploadDir, filepath.Base(name))
}

// SanitizeFilename keeps ASCII letters, digits, dots, dashes and
// underscores; whitespace becomes an underscore.
func SanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ' || r == '\t':
			b.WriteByte('_')
		}
	}
	clean := strings.TrimLeft(b.String(), "._")
	if clean == "" {
		return "upload.pdf"
	}
	return clean
}
