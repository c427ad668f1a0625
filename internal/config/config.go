// Package config loads docbatch settings from the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// LLM providers.
const (
	ProviderNone      = "none"
	ProviderOllama    = "ollama"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// Store backends.
const (
	StoreFile     = "file"
	StoreSurreal  = "surrealdb"
	StoreInMemory = "memory"
)

var validate = validator.New()

// Config holds all configuration values.
type Config struct {
	// Scheduling
	MaxWorkers      int           `validate:"min=1,max=256"`
	DequeueTimeout  time.Duration `validate:"gt=0"`
	MonitorInterval time.Duration `validate:"gt=0"`
	StopTimeout     time.Duration `validate:"gt=0"`

	// Logging
	LogFile  string
	LogLevel slog.Level

	// Content-addressed store
	StoreBackend   string `validate:"oneof=file surrealdb memory"`
	StoreDir       string `validate:"required_if=StoreBackend file"`
	StoreCacheSize int    `validate:"min=0"`

	// SurrealDB connection
	SurrealDBURL       string `validate:"required_if=StoreBackend surrealdb"`
	SurrealDBNamespace string
	SurrealDBDatabase  string
	SurrealDBUser      string
	SurrealDBPass      string
	SurrealDBAuthLevel string `validate:"oneof=root database"`

	// Graph extraction
	LLMProvider     string        `validate:"oneof=none ollama openai anthropic"`
	LLMModel        string        `validate:"required_unless=LLMProvider none"`
	OllamaHost      string        `validate:"required_if=LLMProvider ollama"`
	OpenAIAPIKey    string        `validate:"required_if=LLMProvider openai"`
	AnthropicAPIKey string        `validate:"required_if=LLMProvider anthropic"`
	LLMTimeout      time.Duration `validate:"gt=0"`

	// Chunking
	ChunkThreshold int `validate:"min=1"`
	ChunkTarget    int `validate:"min=1"`
	ChunkMin       int `validate:"min=0"`
	ChunkMax       int `validate:"gtefield=ChunkTarget"`
	ChunkOverlap   int `validate:"min=0,ltfield=ChunkMax"`
}

// Load reads configuration from environment variables.
func Load() Config {
	return Config{
		MaxWorkers:      getInt("DOCBATCH_MAX_WORKERS", 4),
		DequeueTimeout:  getDuration("DOCBATCH_DEQUEUE_TIMEOUT", time.Second),
		MonitorInterval: getDuration("DOCBATCH_MONITOR_INTERVAL", 5*time.Second),
		StopTimeout:     getDuration("DOCBATCH_STOP_TIMEOUT", 30*time.Second),

		LogFile:  getEnv("DOCBATCH_LOG_FILE", "/tmp/docbatch.log"),
		LogLevel: parseLogLevel(getEnv("DOCBATCH_LOG_LEVEL", "INFO")),

		StoreBackend:   strings.ToLower(getEnv("DOCBATCH_STORE", StoreFile)),
		StoreDir:       getEnv("DOCBATCH_STORE_DIR", ".docbatch/store"),
		StoreCacheSize: getInt("DOCBATCH_STORE_CACHE_SIZE", 1024),

		SurrealDBURL:       getEnv("SURREALDB_URL", "ws://localhost:8000/rpc"),
		SurrealDBNamespace: getEnv("SURREALDB_NAMESPACE", "docbatch"),
		SurrealDBDatabase:  getEnv("SURREALDB_DATABASE", "blobs"),
		SurrealDBUser:      getEnv("SURREALDB_USER", "root"),
		SurrealDBPass:      getEnv("SURREALDB_PASS", "root"),
		SurrealDBAuthLevel: getEnv("SURREALDB_AUTH_LEVEL", "root"),

		LLMProvider:     strings.ToLower(getEnv("DOCBATCH_LLM_PROVIDER", ProviderNone)),
		LLMModel:        getEnv("DOCBATCH_LLM_MODEL", ""),
		OllamaHost:      getEnv("OLLAMA_HOST", "http://localhost:11434"),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		LLMTimeout:      getDuration("DOCBATCH_LLM_TIMEOUT", 2*time.Minute),

		ChunkThreshold: getInt("DOCBATCH_CHUNK_THRESHOLD", 1500),
		ChunkTarget:    getInt("DOCBATCH_CHUNK_TARGET", 750),
		ChunkMin:       getInt("DOCBATCH_CHUNK_MIN", 200),
		ChunkMax:       getInt("DOCBATCH_CHUNK_MAX", 1000),
		ChunkOverlap:   getInt("DOCBATCH_CHUNK_OVERLAP", 100),
	}
}

// Validate checks field constraints and reports every violation at once.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q (value %v)", fe.Field(), fe.Tag(), fe.Value()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// getInt returns the integer value of key. Unparseable values fall back to the default.
func getInt(key string, defaultVal int) int {
	n, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return defaultVal
	}
	return n
}

// getDuration accepts Go durations ("750ms") or plain seconds ("2.5").
func getDuration(key string, defaultVal time.Duration) time.Duration {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(raw, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return defaultVal
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
