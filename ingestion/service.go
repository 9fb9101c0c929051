package ingestion

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/fabfab/paper-agent/knowledge"
	"github.com/fabfab/paper-agent/logger"
	"github.com/fabfab/paper-agent/vectorstore"
)

// PDFSourcePrefix marks sources that came from an uploaded file.
const PDFSourcePrefix = "pdf:"

// ChunkStore persists embedded chunks. Failures are reported as false.
type ChunkStore interface {
	Store(ctx context.Context, chunks []vectorstore.Chunk) bool
}

// Document is the text of one paper plus the scope it is stored under.
type Document struct {
	Source    string
	SessionID string
	Title     string
	Text      string
}

type Result struct {
	BatchID string
	Chunks  []vectorstore.Chunk
	Stored  bool
}

type Service struct {
	splitter Splitter
	store    ChunkStore
	driver   neo4j.DriverWithContext
	log      *logger.Logger
}

// NewService builds the pipeline. driver may be nil when the graph is
// disabled; store may be nil to only chunk.
func NewService(store ChunkStore, driver neo4j.DriverWithContext, log *logger.Logger) *Service {
	return &Service{
		splitter: NewSplitter(DefaultChunkSize, DefaultChunkOverlap),
		store:    store,
		driver:   driver,
		log:      logger.OrNop(log).With("component", "ingestion"),
	}
}

// SourceForFile is the source id of an uploaded or ingested file.
func SourceForFile(name string) string {
	return PDFSourcePrefix + filepath.Base(name)
}

// ChunkID derives the deterministic id of the index-th chunk of source.
func ChunkID(source string, index int) string {
	return strings.ReplaceAll(source, "/", "_") + "_" + strconv.Itoa(index)
}

// SessionChunkID prefixes ChunkID with the session so two sessions viewing
// the same source never upsert over each other's vectors.
func SessionChunkID(sessionID, source string, index int) string {
	if sessionID == "" {
		return ChunkID(source, index)
	}
	return sessionID + "_" + ChunkID(source, index)
}

// Chunk splits the document and tags every piece with its scope and a fresh
// batch id.
func (s *Service) Chunk(doc Document) []vectorstore.Chunk {
	texts := s.splitter.Split(doc.Text)
	if len(texts) == 0 {
		return nil
	}
	batch := uuid.NewString()
	chunks := make([]vectorstore.Chunk, len(texts))
	for i, text := range texts {
		chunks[i] = vectorstore.Chunk{
			ID:        SessionChunkID(doc.SessionID, doc.Source, i),
			Text:      text,
			Source:    doc.Source,
			SessionID: doc.SessionID,
			Index:     i,
			BatchID:   batch,
		}
	}
	return chunks
}

// Ingest chunks the document, stores the chunks and mirrors the paper into
// the graph. Storage and graph failures are logged and reflected in Stored;
// only an empty document is an error.
func (s *Service) Ingest(ctx context.Context, doc Document) (Result, error) {
	chunks := s.Chunk(doc)
	if len(chunks) == 0 {
		return Result{}, ErrNoText
	}
	res := Result{BatchID: chunks[0].BatchID, Chunks: chunks}

	if s.store != nil {
		res.Stored = s.store.Store(ctx, chunks)
		if !res.Stored {
			s.log.Warn("chunks not stored, queries will fall back to raw chunks", "source", doc.Source, "session_id", doc.SessionID)
		}
	}

	if s.driver != nil {
		paper := knowledge.Paper{
			Source:    doc.Source,
			Title:     doc.Title,
			SHA:       digest(doc.Text),
			SessionID: doc.SessionID,
			Authors:   knowledge.ParseAuthors(doc.Text),
			Chunks:    make([]knowledge.Chunk, 0, len(chunks)),
		}
		for _, c := range chunks {
			paper.Chunks = append(paper.Chunks, knowledge.Chunk{ID: c.ID, Index: c.Index, Text: c.Text})
		}
		if err := knowledge.SyncPaper(ctx, s.driver, paper); err != nil {
			s.log.Warn("sync knowledge graph failed", "source", doc.Source, "error", err)
		}
	}

	s.log.Info("ingested document", "source", doc.Source, "session_id", doc.SessionID, "chunks", len(chunks), "stored", res.Stored)
	return res, nil
}

// IngestDirectory ingests every PDF, text and markdown file under dir,
// source-scoped by file name. It returns the number of files ingested.
func (s *Service) IngestDirectory(ctx context.Context, dir string) (int, error) {
	if _, err := os.Stat(dir); err != nil {
		return 0, fmt.Errorf("data directory: %w", err)
	}

	var entries []string
	if err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if !d.IsDir() && DetectFormat(path) != FormatUnknown {
			entries = append(entries, path)
		}
		return nil
	}); err != nil {
		return 0, fmt.Errorf("walk data directory: %w", err)
	}

	if len(entries) == 0 {
		s.log.Info("no documents found", "dir", dir)
		return 0, nil
	}

	ingested := 0
	for _, path := range entries {
		parsed, err := ParseFile(ctx, path)
		if err != nil {
			s.log.Warn("parse failed", "path", path, "error", err)
			continue
		}
		if _, err := s.Ingest(ctx, Document{Source: SourceForFile(path), Title: parsed.Title, Text: parsed.Text}); err != nil {
			s.log.Warn("ingest failed", "path", path, "error", err)
			continue
		}
		ingested++
	}
	return ingested, nil
}

func digest(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
