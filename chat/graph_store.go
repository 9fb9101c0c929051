package chat

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/fabfab/paper-agent/knowledge"
)

// GraphStore answers structural questions the vector index cannot.
type GraphStore interface {
	PaperAuthors(ctx context.Context, source string) ([]string, error)
}

type Neo4jGraphStore struct {
	driver neo4j.DriverWithContext
}

func NewNeo4jGraphStore(driver neo4j.DriverWithContext) *Neo4jGraphStore {
	return &Neo4jGraphStore{driver: driver}
}

func (s *Neo4jGraphStore) PaperAuthors(ctx context.Context, source string) ([]string, error) {
	if s.driver == nil {
		return nil, fmt.Errorf("neo4j driver is nil")
	}
	if source == "" {
		return nil, nil
	}

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx, `
		MATCH (a:Author)-[:WROTE]->(p:Paper {source: $source})
		RETURN collect(DISTINCT a.name) AS authors
	`, map[string]any{"source": source})
	if err != nil {
		return nil, fmt.Errorf("run neo4j authors query: %w", err)
	}

	var authors []string
	if result.Next(ctx) {
		value, _ := result.Record().Get("authors")
		authors = convertStringSlice(value)
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("neo4j authors result error: %w", err)
	}
	return authors, nil
}

var _ GraphStore = (*Neo4jGraphStore)(nil)

func convertStringSlice(value any) []string {
	raw, ok := value.([]any)
	if !ok {
		if v, ok := value.([]string); ok {
			return v
		}
		return nil
	}

	result := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok && s != "" {
			result = append(result, s)
		}
	}
	return result
}

// DeleteSession detaches the session from the paper graph.
func (s *Neo4jGraphStore) DeleteSession(ctx context.Context, sessionID string) error {
	return knowledge.DeleteSession(ctx, s.driver, sessionID)
}
