package chat_test

import (
	"context"
	"os"
	"reflect"
	"sort"
	"testing"

	"github.com/google/uuid"

	"github.com/fabfab/paper-agent/chat"
	"github.com/fabfab/paper-agent/config"
	"github.com/fabfab/paper-agent/database"
	"github.com/fabfab/paper-agent/knowledge"
)

func TestNeo4jGraphStoreAuthorsAndSessionCleanup(t *testing.T) {
	if os.Getenv("RUN_DB_INTEGRATION_TESTS") != "1" {
		t.Skip("set RUN_DB_INTEGRATION_TESTS=1 to run database checks")
	}

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	ctx := context.Background()
	driver, err := database.NewNeo4jDriver(ctx, cfg.Graph.URI, cfg.Graph.User, cfg.Graph.Password)
	if err != nil {
		t.Fatalf("neo4j connection: %v", err)
	}
	defer driver.Close(ctx)

	sessionID := uuid.NewString()
	source := "https://example.org/papers/" + sessionID
	store := chat.NewNeo4jGraphStore(driver)
	t.Cleanup(func() { _ = store.DeleteSession(ctx, sessionID) })

	if err := knowledge.SyncPaper(ctx, driver, knowledge.Paper{
		Source:    source,
		Title:     "Integration Paper",
		SHA:       "sha",
		SessionID: sessionID,
		Authors:   []string{"Ada Lovelace", "Alan Turing"},
		Chunks:    []knowledge.Chunk{{ID: sessionID + "_0", Index: 0, Text: "first"}},
	}); err != nil {
		t.Fatalf("sync paper: %v", err)
	}

	authors, err := store.PaperAuthors(ctx, source)
	if err != nil {
		t.Fatalf("paper authors: %v", err)
	}
	sort.Strings(authors)
	if want := []string{"Ada Lovelace", "Alan Turing"}; !reflect.DeepEqual(authors, want) {
		t.Fatalf("authors = %v, want %v", authors, want)
	}

	if err := store.DeleteSession(ctx, sessionID); err != nil {
		t.Fatalf("delete session: %v", err)
	}
	authors, err = store.PaperAuthors(ctx, source)
	if err != nil {
		t.Fatalf("paper authors after delete: %v", err)
	}
	if len(authors) != 0 {
		t.Fatalf("expected paper gone with its session, got authors %v", authors)
	}
}
