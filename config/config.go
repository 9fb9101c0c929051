package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	ProviderHuggingFace = "huggingface"
	ProviderOpenAI      = "openai"
	ProviderOllama      = "ollama"

	BackendPinecone = "pinecone"
	BackendPgvector = "pgvector"

	SessionMemory = "memory"
	SessionRedis  = "redis"
)

const envPrefix = "PAPERAGENT"

// Config holds all runtime settings. Values come from defaults, an optional
// config file and PAPERAGENT_* environment variables, in increasing priority.
type Config struct {
	Server     ServerConfig    `mapstructure:"server"`
	Log        LogConfig       `mapstructure:"log"`
	Scraper    ScraperConfig   `mapstructure:"scraper"`
	Embeddings EmbeddingConfig `mapstructure:"embeddings"`
	LLM        LLMConfig       `mapstructure:"llm"`
	Vector     VectorConfig    `mapstructure:"vector"`
	Postgres   PostgresConfig  `mapstructure:"postgres"`
	Graph      GraphConfig     `mapstructure:"graph"`
	Session    SessionConfig   `mapstructure:"session"`
	Answer     AnswerConfig    `mapstructure:"answer"`

	HuggingFaceAPIKey  string `mapstructure:"huggingface_api_key"`
	HuggingFaceBaseURL string `mapstructure:"huggingface_base_url"`
	OpenAIAPIKey       string `mapstructure:"openai_api_key"`
	OpenAIBaseURL      string `mapstructure:"openai_base_url"`
	OllamaHost         string `mapstructure:"ollama_host"`
}

type ServerConfig struct {
	Address string `mapstructure:"address"`
}

type LogConfig struct {
	Mode string `mapstructure:"mode"`
}

// ScraperConfig controls page fetching and the extractor retry policy.
type ScraperConfig struct {
	UserAgent    string        `mapstructure:"user_agent"`
	Timeout      time.Duration `mapstructure:"timeout"`
	SiteTimeout  time.Duration `mapstructure:"site_timeout"`
	RenderJS     bool          `mapstructure:"render_js"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	Multiplier   float64       `mapstructure:"multiplier"`
}

type EmbeddingConfig struct {
	Provider  string `mapstructure:"provider"`
	Model     string `mapstructure:"model"`
	Dimension int    `mapstructure:"dimension"`
}

type LLMConfig struct {
	Provider     string        `mapstructure:"provider"`
	Model        string        `mapstructure:"model"`
	MaxNewTokens int           `mapstructure:"max_new_tokens"`
	Temperature  float64       `mapstructure:"temperature"`
	TopP         float64       `mapstructure:"top_p"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

type VectorConfig struct {
	Backend            string        `mapstructure:"backend"`
	IndexName          string        `mapstructure:"index_name"`
	APIKey             string        `mapstructure:"api_key"`
	APIVersion         string        `mapstructure:"api_version"`
	BaseURL            string        `mapstructure:"base_url"`
	Cloud              string        `mapstructure:"cloud"`
	Region             string        `mapstructure:"region"`
	TopK               int           `mapstructure:"top_k"`
	RecreateOnMismatch bool          `mapstructure:"recreate_on_mismatch"`
	Timeout            time.Duration `mapstructure:"timeout"`
}

type PostgresConfig struct {
	DSN string `mapstructure:"dsn"`
}

type GraphConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	URI      string `mapstructure:"uri"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
}

type SessionConfig struct {
	Store          string        `mapstructure:"store"`
	UploadDir      string        `mapstructure:"upload_dir"`
	MaxIdle        time.Duration `mapstructure:"max_idle"`
	MaxSessions    int           `mapstructure:"max_sessions"`
	MaxUploadBytes int64         `mapstructure:"max_upload_bytes"`
	RedisAddr      string        `mapstructure:"redis_addr"`
	RedisPassword  string        `mapstructure:"redis_password"`
	RedisDB        int           `mapstructure:"redis_db"`
}

type AnswerConfig struct {
	AssistantName string `mapstructure:"assistant_name"`
	ContextChars  int    `mapstructure:"context_chars"`
	MaxChars      int    `mapstructure:"max_chars"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":8080")
	v.SetDefault("log.mode", "dev")

	v.SetDefault("scraper.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36")
	v.SetDefault("scraper.timeout", 20*time.Second)
	v.SetDefault("scraper.site_timeout", 15*time.Second)
	v.SetDefault("scraper.render_js", false)
	v.SetDefault("scraper.max_attempts", 3)
	v.SetDefault("scraper.initial_delay", 2*time.Second)
	v.SetDefault("scraper.multiplier", 2.0)

	v.SetDefault("embeddings.provider", ProviderHuggingFace)
	v.SetDefault("embeddings.model", "BAAI/bge-large-en-v1.5")
	v.SetDefault("embeddings.dimension", 1024)

	v.SetDefault("llm.provider", ProviderHuggingFace)
	v.SetDefault("llm.model", "mistralai/Mistral-7B-Instruct-v0.2")
	v.SetDefault("llm.max_new_tokens", 150)
	v.SetDefault("llm.temperature", 0.3)
	v.SetDefault("llm.top_p", 0.95)
	v.SetDefault("llm.timeout", 60*time.Second)

	v.SetDefault("vector.backend", BackendPinecone)
	v.SetDefault("vector.index_name", "research-assistant")
	v.SetDefault("vector.api_key", "")
	v.SetDefault("vector.api_version", "2025-04")
	v.SetDefault("vector.base_url", "https://api.pinecone.io")
	v.SetDefault("vector.cloud", "aws")
	v.SetDefault("vector.region", "us-east-1")
	v.SetDefault("vector.top_k", 10)
	v.SetDefault("vector.recreate_on_mismatch", true)
	v.SetDefault("vector.timeout", 30*time.Second)

	v.SetDefault("postgres.dsn", "postgres://localhost:5432/paper-agent?sslmode=disable")

	v.SetDefault("graph.enabled", false)
	v.SetDefault("graph.uri", "neo4j://localhost:7687")
	v.SetDefault("graph.user", "neo4j")
	v.SetDefault("graph.password", "password")

	v.SetDefault("session.store", SessionMemory)
	v.SetDefault("session.upload_dir", "uploads")
	v.SetDefault("session.max_idle", 2*time.Hour)
	v.SetDefault("session.max_sessions", 10)
	v.SetDefault("session.max_upload_bytes", 16<<20)
	v.SetDefault("session.redis_addr", "localhost:6379")
	v.SetDefault("session.redis_password", "")
	v.SetDefault("session.redis_db", 0)

	v.SetDefault("answer.assistant_name", "Samy")
	v.SetDefault("answer.context_chars", 1000)
	v.SetDefault("answer.max_chars", 250)

	v.SetDefault("huggingface_api_key", "")
	v.SetDefault("huggingface_base_url", "https://api-inference.huggingface.co")
	v.SetDefault("openai_api_key", "")
	v.SetDefault("openai_base_url", "")
	v.SetDefault("ollama_host", "http://localhost:11434")
}

// Load reads configuration from path (or the default search paths when path
// is empty) and the environment. A missing config file is not an error unless
// path was given explicitly.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unprefixed names kept for existing deployments.
	aliases := map[string][]string{
		"huggingface_api_key": {"HUGGINGFACE_API_KEY"},
		"openai_api_key":      {"OPENAI_API_KEY"},
		"vector.api_key":      {"PINECONE_API_KEY"},
		"ollama_host":         {"OLLAMA_HOST"},
		"postgres.dsn":        {"POSTGRES_DSN"},
	}
	for key, names := range aliases {
		envs := append([]string{envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))}, names...)
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return Config{}, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks enumerations and numeric bounds. Missing API keys are not
// validated here; the provider constructors reject them when selected.
func (c Config) Validate() error {
	switch c.Embeddings.Provider {
	case ProviderHuggingFace, ProviderOpenAI, ProviderOllama:
	default:
		return fmt.Errorf("unknown embedding provider: %s", c.Embeddings.Provider)
	}
	if c.Embeddings.Dimension <= 0 {
		return fmt.Errorf("embedding dimension must be positive")
	}
	switch c.LLM.Provider {
	case ProviderHuggingFace, ProviderOpenAI, ProviderOllama:
	default:
		return fmt.Errorf("unknown llm provider: %s", c.LLM.Provider)
	}
	switch c.Vector.Backend {
	case BackendPinecone, BackendPgvector:
	default:
		return fmt.Errorf("unknown vector backend: %s", c.Vector.Backend)
	}
	switch c.Session.Store {
	case SessionMemory, SessionRedis:
	default:
		return fmt.Errorf("unknown session store: %s", c.Session.Store)
	}
	if c.Session.MaxSessions <= 0 {
		return fmt.Errorf("session.max_sessions must be positive")
	}
	if c.Session.MaxIdle <= 0 {
		return fmt.Errorf("session.max_idle must be positive")
	}
	if c.Scraper.MaxAttempts <= 0 {
		return fmt.Errorf("scraper.max_attempts must be positive")
	}
	return nil
}
