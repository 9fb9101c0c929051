// Package knowledge mirrors ingested papers into a Neo4j graph of papers,
// authors, chunks and the sessions viewing them.
package knowledge

import (
	"context"
	"fmt"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

type Paper struct {
	Source    string
	Title     string
	SHA       string
	SessionID string
	Authors   []string
	Chunks    []Chunk
}

type Chunk struct {
	ID    string
	Index int
	Text  string
}

// SyncPaper replaces the authors and chunks of the paper node identified by
// its source and links the viewing session.
func SyncPaper(ctx context.Context, driver neo4j.DriverWithContext, paper Paper) error {
	if driver == nil {
		return fmt.Errorf("neo4j driver is nil")
	}
	if paper.Source == "" {
		return fmt.Errorf("paper source is empty")
	}

	session := driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	chunks := make([]map[string]any, 0, len(paper.Chunks))
	for _, c := range paper.Chunks {
		chunks = append(chunks, map[string]any{"id": c.ID, "index": c.Index, "text": c.Text})
	}
	params := map[string]any{
		"source":  paper.Source,
		"title":   paper.Title,
		"sha":     paper.SHA,
		"authors": paper.Authors,
		"chunks":  chunks,
		"session": paper.SessionID,
	}

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if _, err := tx.Run(ctx, `
			MERGE (p:Paper {source: $source})
			SET p.title = $title,
			    p.sha256 = $sha,
			    p.updated_at = datetime()
		`, params); err != nil {
			return nil, fmt.Errorf("upsert paper node: %w", err)
		}

		if _, err := tx.Run(ctx, `
			MATCH (:Author)-[r:WROTE]->(p:Paper {source: $source})
			DELETE r
		`, params); err != nil {
			return nil, fmt.Errorf("clear author relations: %w", err)
		}
		if _, err := tx.Run(ctx, `
			MATCH (p:Paper {source: $source})
			UNWIND $authors AS name
			MERGE (a:Author {name: name})
			MERGE (a)-[:WROTE]->(p)
		`, params); err != nil {
			return nil, fmt.Errorf("upsert authors: %w", err)
		}

		if _, err := tx.Run(ctx, `
			MATCH (p:Paper {source: $source})-[:HAS_CHUNK]->(c:Chunk)
			DETACH DELETE c
		`, params); err != nil {
			return nil, fmt.Errorf("clear existing chunk nodes: %w", err)
		}
		if _, err := tx.Run(ctx, `
			MATCH (p:Paper {source: $source})
			UNWIND $chunks AS chunk
			MERGE (c:Chunk {id: chunk.id})
			SET c.index = chunk.index,
			    c.text = chunk.text
			MERGE (p)-[:HAS_CHUNK {order: chunk.index}]->(c)
		`, params); err != nil {
			return nil, fmt.Errorf("upsert chunk nodes: %w", err)
		}

		if paper.SessionID != "" {
			if _, err := tx.Run(ctx, `
				MATCH (p:Paper {source: $source})
				MERGE (s:Session {id: $session})
				SET s.last_active = datetime()
				MERGE (s)-[:VIEWS]->(p)
			`, params); err != nil {
				return nil, fmt.Errorf("link session: %w", err)
			}
		}
		return nil, nil
	})

	if err == nil {
		if _, cleanupErr := session.Run(ctx, `
			MATCH (a:Author)
			WHERE NOT (a)-[:WROTE]->(:Paper)
			DELETE a
		`, nil); cleanupErr != nil {
			err = cleanupErr
		}
	}
	return err
}

// DeleteSession removes the session node and every paper no other session
// still views, along with their chunks.
func DeleteSession(ctx context.Context, driver neo4j.DriverWithContext, sessionID string) error {
	if driver == nil {
		return fmt.Errorf("neo4j driver is nil")
	}

	session := driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if _, err := tx.Run(ctx, `
			MATCH (s:Session {id: $id})-[:VIEWS]->(p:Paper)
			WHERE NOT EXISTS { MATCH (p)<-[:VIEWS]-(other:Session) WHERE other.id <> $id }
			OPTIONAL MATCH (p)-[:HAS_CHUNK]->(c:Chunk)
			DETACH DELETE c, p
		`, map[string]any{"id": sessionID}); err != nil {
			return nil, fmt.Errorf("delete session papers: %w", err)
		}
		if _, err := tx.Run(ctx, `
			MATCH (s:Session {id: $id})
			DETACH DELETE s
		`, map[string]any{"id": sessionID}); err != nil {
			return nil, fmt.Errorf("delete session node: %w", err)
		}
		return nil, nil
	})
	return err
}

// ParseAuthors reads the "Authors:" line of labeled paper text and splits it
// into names.
func ParseAuthors(text string) []string {
	var line string
	for _, l := range strings.Split(text, "\n") {
		if after, ok := strings.CutPrefix(strings.TrimSpace(l), "Authors:"); ok {
			line = after
			break
		}
	}
	if strings.TrimSpace(line) == "" {
		return nil
	}

	line = strings.ReplaceAll(line, " and ", ",")
	line = strings.ReplaceAll(line, ";", ",")
	seen := make(map[string]struct{})
	var names []string
	for _, part := range strings.Split(line, ",") {
		name := strings.Join(strings.Fields(part), " ")
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	return names
}
