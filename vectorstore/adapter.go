package vectorstore

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fabfab/paper-agent/embeddings"
	"github.com/fabfab/paper-agent/logger"
	"github.com/fabfab/paper-agent/metrics"
)

// SessionPrefix marks a delete identifier that names a session rather than
// a source.
const SessionPrefix = "session:"

const defaultTopK = 10

type AdapterOptions struct {
	Dimension          int
	TopK               int
	RecreateOnMismatch bool
}

// Adapter is the only way the rest of the system touches vectors. It never
// returns errors: failures are logged, counted and reported as false or nil
// so callers can fall back to raw chunks. A nil *Adapter behaves as an
// unreachable store.
type Adapter struct {
	store    Store
	embedder embeddings.Embedder
	opts     AdapterOptions
	log      *logger.Logger

	mu      sync.Mutex
	ensured bool
}

func NewAdapter(store Store, embedder embeddings.Embedder, opts AdapterOptions, log *logger.Logger) *Adapter {
	if opts.TopK <= 0 {
		opts.TopK = defaultTopK
	}
	return &Adapter{
		store:    store,
		embedder: embedder,
		opts:     opts,
		log:      logger.OrNop(log).With("component", "vectorstore"),
	}
}

// Ensure makes sure the index exists with the embedder's dimension. On a
// dimension mismatch the index is dropped and recreated when allowed.
func (a *Adapter) Ensure(ctx context.Context) bool {
	if a == nil {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ensured {
		return true
	}

	start := time.Now()
	err := a.store.EnsureIndex(ctx, a.opts.Dimension)
	if errors.Is(err, ErrDimensionMismatch) {
		if !a.opts.RecreateOnMismatch {
			a.log.Error("index dimension mismatch and recreation disabled", "error", err)
			observe("ensure", start, false)
			return false
		}
		a.log.Warn("index dimension mismatch, recreating index; existing vectors are lost", "error", err)
		if err = a.store.DropIndex(ctx); err == nil {
			err = a.store.EnsureIndex(ctx, a.opts.Dimension)
		}
	}
	observe("ensure", start, err == nil)
	if err != nil {
		a.log.Error("ensure index failed", "error", err)
		return false
	}
	a.ensured = true
	return true
}

// Store replaces the vectors of the chunks' scope with the given chunks.
// The scope is the session when any chunk carries one, else the source of
// the first chunk.
func (a *Adapter) Store(ctx context.Context, chunks []Chunk) bool {
	if a == nil || len(chunks) == 0 {
		return false
	}
	if !a.Ensure(ctx) {
		return false
	}

	start := time.Now()
	scope := Filter{Source: chunks[0].Source}
	for _, c := range chunks {
		if c.SessionID != "" {
			scope = Filter{SessionID: c.SessionID}
			break
		}
	}
	if err := a.store.Delete(ctx, scope); err != nil {
		a.log.Warn("delete previous vectors failed", "filter", scope.String(), "error", err)
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := a.embedder.Embed(ctx, texts)
	if err == nil && len(vectors) != len(chunks) {
		err = errors.New("embedding count does not match chunk count")
	}
	if err != nil {
		a.log.Error("embed chunks failed", "chunks", len(chunks), "error", err)
		observe("store", start, false)
		return false
	}

	records := make([]Record, len(chunks))
	for i, c := range chunks {
		records[i] = Record{
			ID:     c.ID,
			Values: vectors[i],
			Metadata: Metadata{
				Source:     c.Source,
				ChunkID:    c.ID,
				ChunkIndex: c.Index,
				BatchID:    c.BatchID,
				SourceID:   c.SourceID(),
				SessionID:  c.SessionID,
				Text:       c.Text,
			},
		}
	}
	if err := a.store.Upsert(ctx, records); err != nil {
		a.log.Error("upsert vectors failed", "chunks", len(chunks), "error", err)
		observe("store", start, false)
		return false
	}

	a.log.Info("stored chunks", "chunks", len(chunks), "filter", scope.String(), "batch_id", chunks[0].BatchID)
	observe("store", start, true)
	return true
}

// Search returns the chunks most similar to query, restricted to the
// session when given, else to the source when given. Nil means failure or
// nothing found.
func (a *Adapter) Search(ctx context.Context, query, sessionID, source string) []Match {
	if a == nil || strings.TrimSpace(query) == "" {
		return nil
	}
	if !a.Ensure(ctx) {
		return nil
	}

	start := time.Now()
	vectors, err := a.embedder.Embed(ctx, []string{query})
	if err != nil || len(vectors) == 0 {
		a.log.Error("embed query failed", "error", err)
		observe("search", start, false)
		return nil
	}

	filter := Filter{SessionID: sessionID}
	if sessionID == "" {
		filter = Filter{Source: source}
	}
	matches, err := a.store.Query(ctx, vectors[0], a.opts.TopK, filter)
	if err != nil {
		a.log.Error("vector query failed", "filter", filter.String(), "error", err)
		observe("search", start, false)
		return nil
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })

	observe("search", start, true)
	if len(matches) == 0 {
		return nil
	}
	return matches
}

func (a *Adapter) Delete(ctx context.Context, filter Filter) bool {
	if a == nil {
		return false
	}
	if filter.Empty() {
		a.log.Warn("refusing to delete without a filter")
		return false
	}
	start := time.Now()
	if err := a.store.Delete(ctx, filter); err != nil {
		a.log.Error("delete vectors failed", "filter", filter.String(), "error", err)
		observe("delete", start, false)
		return false
	}
	observe("delete", start, true)
	return true
}

// DeleteIdentifier deletes by "session:{id}" or by source.
func (a *Adapter) DeleteIdentifier(ctx context.Context, identifier string) bool {
	if id, ok := strings.CutPrefix(identifier, SessionPrefix); ok {
		return a.Delete(ctx, Filter{SessionID: id})
	}
	return a.Delete(ctx, Filter{Source: identifier})
}

func observe(op string, start time.Time, ok bool) {
	metrics.VectorOps.WithLabelValues(op, metrics.Outcome(ok)).Inc()
	metrics.VectorLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
