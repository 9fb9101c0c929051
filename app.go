package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/redis/go-redis/v9"

	"github.com/fabfab/paper-agent/answer"
	"github.com/fabfab/paper-agent/assistant"
	"github.com/fabfab/paper-agent/chat"
	"github.com/fabfab/paper-agent/config"
	"github.com/fabfab/paper-agent/database"
	"github.com/fabfab/paper-agent/embeddings"
	"github.com/fabfab/paper-agent/extract"
	"github.com/fabfab/paper-agent/ingestion"
	"github.com/fabfab/paper-agent/llm"
	"github.com/fabfab/paper-agent/logger"
	"github.com/fabfab/paper-agent/retry"
	"github.com/fabfab/paper-agent/session"
	"github.com/fabfab/paper-agent/vectorstore"
)

// app holds every wired component plus the connections that need closing.
type app struct {
	cfg       config.Config
	log       *logger.Logger
	vectors   *vectorstore.Adapter
	driver    neo4j.DriverWithContext
	ingestion *ingestion.Service
	assistant *assistant.Service

	pool  *pgxpool.Pool
	redis *redis.Client
}

// buildApp connects the backends named by cfg. Missing credentials degrade
// features instead of failing: no LLM key means canned answers, no vector
// key means raw-chunk context.
func buildApp(ctx context.Context, cfg config.Config, log *logger.Logger) (*app, error) {
	a := &app{cfg: cfg, log: log}

	embedder, err := embeddings.NewEmbedder(cfg)
	if err != nil {
		log.Warn("embeddings disabled", "error", err)
	}

	completer, err := llm.NewCompleter(cfg)
	if err != nil {
		log.Warn("language model disabled", "error", err)
		completer = nil
	}

	store, err := a.vectorStore(ctx)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}
	if store != nil && embedder != nil {
		a.vectors = vectorstore.NewAdapter(store, embedder, vectorstore.AdapterOptions{
			Dimension:          cfg.Embeddings.Dimension,
			TopK:               cfg.Vector.TopK,
			RecreateOnMismatch: cfg.Vector.RecreateOnMismatch,
		}, log)
	}

	if cfg.Graph.Enabled {
		driver, err := database.NewNeo4jDriver(ctx, cfg.Graph.URI, cfg.Graph.User, cfg.Graph.Password)
		if err != nil {
			log.Warn("knowledge graph disabled", "error", err)
		} else {
			a.driver = driver
		}
	}

	sessionStore, err := a.sessionStore(ctx)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}

	var (
		chunkStore   ingestion.ChunkStore
		vectorDelete session.VectorDeleter
		vectorCheck  assistant.VectorChecker
		retriever    chat.Retriever
		graphStore   chat.GraphStore
		graphCleaner session.GraphCleaner
		graphCheck   assistant.GraphChecker
	)
	if a.vectors != nil {
		chunkStore, vectorDelete, vectorCheck, retriever = a.vectors, a.vectors, a.vectors, a.vectors
	}
	if a.driver != nil {
		gs := chat.NewNeo4jGraphStore(a.driver)
		graphStore, graphCleaner, graphCheck = gs, gs, a.driver
	}

	a.ingestion = ingestion.NewService(chunkStore, a.driver, log)

	manager := session.NewManager(sessionStore, vectorDelete, graphCleaner, session.Options{
		UploadDir:   cfg.Session.UploadDir,
		MaxIdle:     cfg.Session.MaxIdle,
		MaxSessions: cfg.Session.MaxSessions,
	}, log)

	generator := answer.NewGenerator(completer, answer.Options{
		AssistantName: cfg.Answer.AssistantName,
		ContextChars:  cfg.Answer.ContextChars,
		MaxChars:      cfg.Answer.MaxChars,
	}, log)
	chatSvc := chat.NewService(retriever, a.ingestion, graphStore, generator, log)

	a.assistant = assistant.NewService(manager, a.router(), a.ingestion, chatSvc, vectorCheck, graphCheck, assistant.Options{
		MaxUploadBytes: cfg.Session.MaxUploadBytes,
		Credentials: assistant.Credentials{
			HuggingFace: cfg.HuggingFaceAPIKey != "",
			VectorStore: cfg.Vector.Backend != config.BackendPinecone || cfg.Vector.APIKey != "",
		},
	}, log)
	return a, nil
}

func (a *app) vectorStore(ctx context.Context) (vectorstore.Store, error) {
	switch a.cfg.Vector.Backend {
	case config.BackendPinecone:
		if a.cfg.Vector.APIKey == "" {
			a.log.Warn("vector store disabled, PINECONE_API_KEY not set")
			return nil, nil
		}
		return vectorstore.NewPinecone(vectorstore.PineconeOptions{
			APIKey:     a.cfg.Vector.APIKey,
			APIVersion: a.cfg.Vector.APIVersion,
			BaseURL:    a.cfg.Vector.BaseURL,
			IndexName:  a.cfg.Vector.IndexName,
			Cloud:      a.cfg.Vector.Cloud,
			Region:     a.cfg.Vector.Region,
			Timeout:    a.cfg.Vector.Timeout,
		}, a.log), nil
	case config.BackendPgvector:
		pool, err := database.NewPostgresPool(ctx, a.cfg.Postgres.DSN)
		if err != nil {
			return nil, fmt.Errorf("postgres connection: %w", err)
		}
		a.pool = pool
		return vectorstore.NewPostgres(pool), nil
	default:
		return nil, fmt.Errorf("unknown vector backend: %s", a.cfg.Vector.Backend)
	}
}

func (a *app) sessionStore(ctx context.Context) (session.Store, error) {
	switch a.cfg.Session.Store {
	case config.SessionMemory, "":
		return session.NewMemoryStore(), nil
	case config.SessionRedis:
		client, err := database.NewRedisClient(ctx, a.cfg.Session.RedisAddr, a.cfg.Session.RedisPassword, a.cfg.Session.RedisDB)
		if err != nil {
			return nil, fmt.Errorf("redis connection: %w", err)
		}
		a.redis = client
		// Records outlive the idle limit a little so the sweep, not the
		// TTL, drives the eviction cascade.
		return session.NewRedisStore(client, 2*a.cfg.Session.MaxIdle), nil
	default:
		return nil, fmt.Errorf("unknown session store: %s", a.cfg.Session.Store)
	}
}

func (a *app) router() *extract.Router {
	policy := retry.Policy{
		MaxAttempts:  a.cfg.Scraper.MaxAttempts,
		InitialDelay: a.cfg.Scraper.InitialDelay,
		Multiplier:   a.cfg.Scraper.Multiplier,
	}
	generic := newFetcher(a.cfg.Scraper, a.cfg.Scraper.Timeout)
	site := newFetcher(a.cfg.Scraper, a.cfg.Scraper.SiteTimeout)
	return extract.NewDefaultRouter(generic, site, policy, a.log)
}

// newFetcher renders pages with headless Chrome when render_js is set,
// for the generic and publisher extractors alike.
func newFetcher(cfg config.ScraperConfig, timeout time.Duration) extract.Fetcher {
	if cfg.RenderJS {
		return extract.NewChromeFetcher(timeout, cfg.UserAgent)
	}
	return extract.NewHTTPFetcher(timeout, cfg.UserAgent)
}

// Close releases connections; errors are logged.
func (a *app) Close(ctx context.Context) {
	var errs []error
	if a.driver != nil {
		errs = append(errs, a.driver.Close(ctx))
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if err := errors.Join(errs...); err != nil {
		a.log.Warn("close connections", "error", err)
	}
}
