// Package config provides configuration loading for loremaster.
//
// Configuration is assembled from hardcoded defaults, an optional YAML file,
// an optional .env file and LOREMASTER_* environment variables, in increasing
// order of precedence. Sections map one-to-one onto the components they
// configure; secrets are typed as Secret so they never reach logs.
package config

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidConfig is returned when a loaded configuration fails validation.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds the complete loremaster configuration.
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Session     SessionConfig     `koanf:"session"`
	VectorStore VectorStoreConfig `koanf:"vectorstore"`
	Embeddings  EmbeddingsConfig  `koanf:"embeddings"`
	Generation  GenerationConfig  `koanf:"generation"`
	Sync        SyncConfig        `koanf:"sync"`
	Logging     LoggingConfig     `koanf:"logging"`
	Telemetry   TelemetryConfig   `koanf:"telemetry"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// SessionConfig selects and configures the session store.
type SessionConfig struct {
	// Store is one of memory, sqlite, postgres, redis, mongo.
	Store      string   `koanf:"store"`
	MaxHistory int      `koanf:"max_history"`
	TTL        Duration `koanf:"ttl"`

	// DSN is the sqlite file path or the postgres connection string.
	DSN           Secret `koanf:"dsn"`
	RedisURL      Secret `koanf:"redis_url"`
	MongoURI      Secret `koanf:"mongo_uri"`
	MongoDatabase string `koanf:"mongo_database"`
}

// VectorStoreConfig selects and configures the vector index.
type VectorStoreConfig struct {
	// Provider is one of memory, chromem, qdrant, pgvector.
	Provider   string `koanf:"provider"`
	VectorSize int    `koanf:"vector_size"`

	ChromemPath     string `koanf:"chromem_path"`
	ChromemCompress bool   `koanf:"chromem_compress"`

	QdrantHost   string `koanf:"qdrant_host"`
	QdrantPort   int    `koanf:"qdrant_port"`
	QdrantUseTLS bool   `koanf:"qdrant_use_tls"`

	PGVectorDSN Secret `koanf:"pgvector_dsn"`
}

// EmbeddingsConfig selects and configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider is one of fastembed, openai, ollama, hash.
	Provider string   `koanf:"provider"`
	Model    string   `koanf:"model"`
	BaseURL  string   `koanf:"base_url"`
	APIKey   Secret   `koanf:"api_key"`
	CacheDir string   `koanf:"cache_dir"`
	CacheTTL Duration `koanf:"cache_ttl"`
}

// GenerationConfig selects and configures the text generation provider.
type GenerationConfig struct {
	// Provider is one of openai, ollama, anthropic, gemini.
	Provider  string `koanf:"provider"`
	Model     string `koanf:"model"`
	BaseURL   string `koanf:"base_url"`
	APIKey    Secret `koanf:"api_key"`
	MaxTokens int    `koanf:"max_tokens"`

	// RateLimit is the sustained requests per second; 0 disables limiting.
	RateLimit float64 `koanf:"rate_limit"`
	Burst     int     `koanf:"burst"`
}

// SyncConfig configures NATS index synchronization.
type SyncConfig struct {
	Enabled bool   `koanf:"enabled"`
	NATSURL string `koanf:"nats_url"`
	Subject string `koanf:"subject"`
	Queue   string `koanf:"queue"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`

	// File enables a rotating log file alongside stdout.
	File       string `koanf:"file"`
	MaxSizeMB  int    `koanf:"max_size_mb"`
	MaxBackups int    `koanf:"max_backups"`
	MaxAgeDays int    `koanf:"max_age_days"`
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	Enabled     bool    `koanf:"enabled"`
	Endpoint    string  `koanf:"endpoint"`
	Protocol    string  `koanf:"protocol"`
	Insecure    bool    `koanf:"insecure"`
	ServiceName string  `koanf:"service_name"`
	SampleRate  float64 `koanf:"sample_rate"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            8787,
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Session: SessionConfig{
			Store:         "memory",
			MaxHistory:    10,
			TTL:           Duration(24 * time.Hour),
			MongoDatabase: "loremaster",
		},
		VectorStore: VectorStoreConfig{
			Provider:        "chromem",
			VectorSize:      384, // bge-small-en-v1.5
			ChromemPath:     "~/.local/share/loremaster/index",
			ChromemCompress: true,
			QdrantHost:      "localhost",
			QdrantPort:      6334,
		},
		Embeddings: EmbeddingsConfig{
			Provider: "fastembed",
			Model:    "BAAI/bge-small-en-v1.5",
			CacheDir: "~/.cache/loremaster/models",
			CacheTTL: Duration(time.Hour),
		},
		Generation: GenerationConfig{
			Provider:  "ollama",
			Model:     "llama3.1",
			BaseURL:   "http://localhost:11434",
			MaxTokens: 2048,
			RateLimit: 2,
			Burst:     4,
		},
		Sync: SyncConfig{
			NATSURL: "nats://127.0.0.1:4222",
			Subject: "loremaster.lore",
			Queue:   "loremaster-indexer",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Telemetry: TelemetryConfig{
			Endpoint:    "localhost:4317",
			Protocol:    "grpc",
			Insecure:    true,
			ServiceName: "loremaster",
			SampleRate:  1.0,
		},
	}
}

var (
	sessionStores       = []string{"memory", "sqlite", "postgres", "redis", "mongo"}
	vectorProviders     = []string{"memory", "chromem", "qdrant", "pgvector"}
	embeddingProviders  = []string{"fastembed", "openai", "ollama", "hash"}
	generationProviders = []string{"openai", "ollama", "anthropic", "gemini"}
	telemetryProtocols  = []string{"grpc", "http"}
	loggingFormats      = []string{"json", "console"}
)

func oneOf(field, value string, allowed []string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("%w: %s must be one of %v, got %q", ErrInvalidConfig, field, allowed, value)
}

// Validate reports the first invalid field.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: server.port out of range: %d", ErrInvalidConfig, c.Server.Port)
	}
	if err := oneOf("session.store", c.Session.Store, sessionStores); err != nil {
		return err
	}
	if c.Session.MaxHistory <= 0 {
		return fmt.Errorf("%w: session.max_history must be positive", ErrInvalidConfig)
	}
	switch c.Session.Store {
	case "sqlite", "postgres":
		if !c.Session.DSN.IsSet() {
			return fmt.Errorf("%w: session.dsn is required for the %s store", ErrInvalidConfig, c.Session.Store)
		}
	case "redis":
		if !c.Session.RedisURL.IsSet() {
			return fmt.Errorf("%w: session.redis_url is required for the redis store", ErrInvalidConfig)
		}
	case "mongo":
		if !c.Session.MongoURI.IsSet() {
			return fmt.Errorf("%w: session.mongo_uri is required for the mongo store", ErrInvalidConfig)
		}
	}

	if err := oneOf("vectorstore.provider", c.VectorStore.Provider, vectorProviders); err != nil {
		return err
	}
	if c.VectorStore.VectorSize <= 0 {
		return fmt.Errorf("%w: vectorstore.vector_size must be positive", ErrInvalidConfig)
	}
	if c.VectorStore.Provider == "pgvector" && !c.VectorStore.PGVectorDSN.IsSet() {
		return fmt.Errorf("%w: vectorstore.pgvector_dsn is required for pgvector", ErrInvalidConfig)
	}

	if err := oneOf("embeddings.provider", c.Embeddings.Provider, embeddingProviders); err != nil {
		return err
	}
	if err := oneOf("generation.provider", c.Generation.Provider, generationProviders); err != nil {
		return err
	}
	switch c.Generation.Provider {
	case "anthropic", "gemini":
		if !c.Generation.APIKey.IsSet() {
			return fmt.Errorf("%w: generation.api_key is required for %s", ErrInvalidConfig, c.Generation.Provider)
		}
	}
	if c.Generation.RateLimit < 0 {
		return fmt.Errorf("%w: generation.rate_limit cannot be negative", ErrInvalidConfig)
	}

	if c.Sync.Enabled && c.Sync.NATSURL == "" {
		return fmt.Errorf("%w: sync.nats_url is required when sync is enabled", ErrInvalidConfig)
	}
	if err := oneOf("logging.format", c.Logging.Format, loggingFormats); err != nil {
		return err
	}
	if c.Telemetry.Enabled {
		if err := oneOf("telemetry.protocol", c.Telemetry.Protocol, telemetryProtocols); err != nil {
			return err
		}
		if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
			return fmt.Errorf("%w: telemetry.sample_rate must be between 0 and 1", ErrInvalidConfig)
		}
	}
	return nil
}
