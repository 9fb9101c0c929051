// Package chat answers questions about a paper: it makes sure the paper is
// indexed, retrieves the relevant chunks and hands them to the answer
// generator.
package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/fabfab/paper-agent/answer"
	"github.com/fabfab/paper-agent/extract"
	"github.com/fabfab/paper-agent/ingestion"
	"github.com/fabfab/paper-agent/logger"
	"github.com/fabfab/paper-agent/vectorstore"
)

const (
	rawChunkLimit = 5
	snippetChars  = 500
)

var (
	authorQueryTerms   = []string{"author", "who wrote", "researcher"}
	authorContextTerms = []string{"author", "written by"}
)

// Retriever finds stored chunks similar to a query.
type Retriever interface {
	Search(ctx context.Context, query, sessionID, source string) []vectorstore.Match
}

// Indexer chunks documents and stores them.
type Indexer interface {
	Chunk(doc ingestion.Document) []vectorstore.Chunk
	Ingest(ctx context.Context, doc ingestion.Document) (ingestion.Result, error)
}

type Answerer interface {
	Answer(ctx context.Context, query, paperContext string) string
}

type Service struct {
	retriever Retriever
	indexer   Indexer
	graph     GraphStore
	answerer  Answerer
	log       *logger.Logger
}

// NewService wires the pipeline. graph may be nil.
func NewService(retriever Retriever, indexer Indexer, graph GraphStore, answerer Answerer, log *logger.Logger) *Service {
	return &Service{
		retriever: retriever,
		indexer:   indexer,
		graph:     graph,
		answerer:  answerer,
		log:       logger.OrNop(log).With("component", "chat"),
	}
}

// Ask always produces an answer for a non-empty question. Retrieval
// failures fall back to the first raw chunks of the document.
func (s *Service) Ask(ctx context.Context, req Request) (Response, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return Response{}, fmt.Errorf("question cannot be empty")
	}

	if answer.IsGreeting(question) {
		return Response{Answer: s.answerer.Answer(ctx, question, ""), Path: PathGreeting, Indexed: req.Indexed}, nil
	}

	if extract.IsFailureText(strings.TrimSpace(req.Text)) {
		s.log.Warn("no usable paper text, answering without context", "session_id", req.SessionID, "source", req.Source)
		return Response{Answer: s.answerer.Answer(ctx, question, ""), Path: PathNoContext, Indexed: req.Indexed}, nil
	}

	doc := ingestion.Document{Source: req.Source, SessionID: req.SessionID, Title: req.Title, Text: req.Text}
	resp := Response{Indexed: req.Indexed}

	var chunks []vectorstore.Chunk
	if req.Indexed || req.ContextOnly {
		chunks = s.indexer.Chunk(doc)
	} else {
		res, err := s.indexer.Ingest(ctx, doc)
		if err != nil {
			s.log.Warn("document produced no chunks", "source", req.Source, "error", err)
			return Response{Answer: s.answerer.Answer(ctx, question, ""), Path: PathNoContext}, nil
		}
		chunks = res.Chunks
		resp.Indexed = res.Stored
	}

	var matches []vectorstore.Match
	if s.retriever != nil && !req.ContextOnly {
		matches = s.retriever.Search(ctx, question, req.SessionID, req.Source)
	}

	var paperContext string
	if len(matches) > 0 {
		paperContext = s.retrievedContext(ctx, question, req.Source, matches)
		resp.Path = PathRetrieved
		resp.Sources = sources(matches)
	} else {
		s.log.Info("no retrieved context, using raw chunks", "session_id", req.SessionID, "chunks", len(chunks))
		paperContext = rawContext(chunks)
		resp.Path = PathRawChunks
	}

	resp.Answer = s.answerer.Answer(ctx, question, paperContext)
	s.log.Info("answered question", "session_id", req.SessionID, "source", req.Source, "path", resp.Path, "matches", len(matches))
	return resp, nil
}

// retrievedContext joins the matches and, for author questions, puts the
// first chunk that names authors and the graph's author list in front.
func (s *Service) retrievedContext(ctx context.Context, question, source string, matches []vectorstore.Match) string {
	texts := make([]string, 0, len(matches))
	for _, m := range matches {
		texts = append(texts, m.Metadata.Text)
	}
	joined := strings.Join(texts, "\n\n")

	if !containsAny(strings.ToLower(question), authorQueryTerms) {
		return joined
	}

	for _, text := range texts {
		if containsAny(strings.ToLower(text), authorContextTerms) {
			s.log.Debug("found chunk with author information")
			joined = text + "\n\n" + joined
			break
		}
	}

	if s.graph != nil {
		authors, err := s.graph.PaperAuthors(ctx, source)
		if err != nil {
			s.log.Warn("graph author lookup failed", "source", source, "error", err)
		} else if len(authors) > 0 {
			joined = "Authors: " + strings.Join(authors, ", ") + "\n\n" + joined
		}
	}
	return joined
}

func rawContext(chunks []vectorstore.Chunk) string {
	limit := min(len(chunks), rawChunkLimit)
	texts := make([]string, 0, limit)
	for _, c := range chunks[:limit] {
		texts = append(texts, c.Text)
	}
	return strings.Join(texts, "\n\n")
}

func sources(matches []vectorstore.Match) []Source {
	out := make([]Source, 0, len(matches))
	for _, m := range matches {
		snippet := strings.TrimSpace(m.Metadata.Text)
		if runes := []rune(snippet); len(runes) > snippetChars {
			snippet = string(runes[:snippetChars]) + "..."
		}
		out = append(out, Source{
			ChunkID: m.Metadata.ChunkID,
			Source:  m.Metadata.Source,
			Score:   m.Score,
			Snippet: snippet,
		})
	}
	return out
}

func containsAny(value string, terms []string) bool {
	for _, term := range terms {
		if strings.Contains(value, term) {
			return true
		}
	}
	return false
}
