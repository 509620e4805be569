package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Vector index backends
const (
	BackendPgvector = "pgvector"
	BackendQdrant   = "qdrant"
	BackendMilvus   = "milvus"
)

// Model providers
const (
	ProviderOllama = "ollama"
	ProviderGemini = "gemini"
)

// Config holds application configuration
type Config struct {
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Database struct {
		ConnectionString string `yaml:"connection_string"`
		AutoMigrate      bool   `yaml:"auto_migrate"`
	} `yaml:"database"`
	Ollama struct {
		BaseURL      string `yaml:"base_url"`
		DefaultModel string `yaml:"default_model"`
	} `yaml:"ollama"`
	Gemini struct {
		APIKey     string `yaml:"api_key"`
		BaseURL    string `yaml:"base_url"`
		EmbedModel string `yaml:"embed_model"`
		ChatModel  string `yaml:"chat_model"`
	} `yaml:"gemini"`
	Embeddings struct {
		Provider  string `yaml:"provider"`
		TextModel string `yaml:"text_model"`
		BatchSize int    `yaml:"batch_size"`
		Workers   int    `yaml:"workers"`
	} `yaml:"embeddings"`
	Synthesis struct {
		Provider string `yaml:"provider"`
	} `yaml:"synthesis"`
	VectorIndex struct {
		Backend string `yaml:"backend"`
		Qdrant  struct {
			Endpoint string `yaml:"endpoint"`
			APIKey   string `yaml:"api_key"`
		} `yaml:"qdrant"`
		Milvus struct {
			Address  string `yaml:"address"`
			Database string `yaml:"database"`
			Username string `yaml:"username"`
			Password string `yaml:"password"`
		} `yaml:"milvus"`
	} `yaml:"vector_index"`
	Processing struct {
		ChunkSize    int `yaml:"chunk_size"`
		ChunkOverlap int `yaml:"chunk_overlap"`
	} `yaml:"processing"`
	Pipeline struct {
		CallTimeout    time.Duration `yaml:"call_timeout"`
		PageValidation string        `yaml:"page_validation"`
	} `yaml:"pipeline"`
	Server struct {
		Addr           string   `yaml:"addr"`
		AllowedOrigins []string `yaml:"allowed_origins"`
		MaxUploadBytes int64    `yaml:"max_upload_bytes"`
		UploadDir      string   `yaml:"upload_dir"`
	} `yaml:"server"`
	RateLimit struct {
		Store    string        `yaml:"store"`
		Requests int           `yaml:"requests"`
		Window   time.Duration `yaml:"window"`
	} `yaml:"rate_limit"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
}

// DefaultPath returns the config file location under the user's home directory
func DefaultPath() string {
	return filepath.Join(os.Getenv("HOME"), ".inkchat", "config.yaml")
}

// Load loads configuration from file or returns defaults.
// A .env file in the working directory and the process environment
// override the file for secrets and endpoints.
func Load(path string) (*Config, error) {
	cfg := Default()

	// .env is optional
	_ = godotenv.Load()

	if path == "" {
		path = DefaultPath()
	}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return cfg, fmt.Errorf("failed to read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	set := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	set(&c.Database.ConnectionString, "DATABASE_URL")
	set(&c.Ollama.BaseURL, "OLLAMA_BASE_URL")
	set(&c.Gemini.APIKey, "GEMINI_API_KEY")
	set(&c.Gemini.BaseURL, "GEMINI_BASE_URL")
	set(&c.VectorIndex.Qdrant.Endpoint, "QDRANT_ENDPOINT")
	set(&c.VectorIndex.Qdrant.APIKey, "QDRANT_API_KEY")
	set(&c.VectorIndex.Milvus.Address, "MILVUS_ADDRESS")
	set(&c.Redis.Addr, "REDIS_ADDR")
	set(&c.Log.Level, "LOG_LEVEL")
}

// Save saves configuration to path, or the default location when path is empty
func (c *Config) Save(path string) error {
	if path == "" {
		path = DefaultPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0600)
}

// Validate reports every invalid field at once
func (c *Config) Validate() error {
	var problems []string

	switch c.VectorIndex.Backend {
	case BackendPgvector:
		if c.Database.ConnectionString == "" {
			problems = append(problems, "database.connection_string is required for the pgvector backend")
		}
	case BackendQdrant:
		if c.VectorIndex.Qdrant.Endpoint == "" {
			problems = append(problems, "vector_index.qdrant.endpoint is required for the qdrant backend")
		}
	case BackendMilvus:
		if c.VectorIndex.Milvus.Address == "" {
			problems = append(problems, "vector_index.milvus.address is required for the milvus backend")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown vector_index.backend %q", c.VectorIndex.Backend))
	}

	for _, p := range []struct{ field, value string }{
		{"embeddings.provider", c.Embeddings.Provider},
		{"synthesis.provider", c.Synthesis.Provider},
	} {
		switch p.value {
		case ProviderOllama:
		case ProviderGemini:
			if c.Gemini.APIKey == "" {
				problems = append(problems, p.field+" is gemini but gemini.api_key is empty")
			}
		default:
			problems = append(problems, fmt.Sprintf("unknown %s %q", p.field, p.value))
		}
	}

	if c.Processing.ChunkSize <= 0 {
		problems = append(problems, "processing.chunk_size must be positive")
	}
	if c.Processing.ChunkOverlap < 0 || c.Processing.ChunkOverlap >= c.Processing.ChunkSize {
		problems = append(problems, "processing.chunk_overlap must be in [0, chunk_size)")
	}
	switch c.Pipeline.PageValidation {
	case "strict", "trust":
	default:
		problems = append(problems, fmt.Sprintf("unknown pipeline.page_validation %q", c.Pipeline.PageValidation))
	}
	switch c.RateLimit.Store {
	case "memory", "redis":
	default:
		problems = append(problems, fmt.Sprintf("unknown rate_limit.store %q", c.RateLimit.Store))
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Default returns default configuration
func Default() *Config {
	cfg := &Config{}

	cfg.Log.Level = "info"
	cfg.Log.Format = "console"
	cfg.Database.ConnectionString = "postgres://postgres@localhost/inkchat?sslmode=disable"
	cfg.Database.AutoMigrate = true
	cfg.Ollama.BaseURL = "http://localhost:11434"
	cfg.Ollama.DefaultModel = ""
	cfg.Gemini.BaseURL = "https://generativelanguage.googleapis.com/v1beta"
	cfg.Gemini.EmbedModel = "text-embedding-004"
	cfg.Gemini.ChatModel = "gemini-2.0-flash"
	cfg.Embeddings.Provider = ProviderOllama
	cfg.Embeddings.TextModel = "nomic-embed-text"
	cfg.Embeddings.BatchSize = 64
	cfg.Embeddings.Workers = 4
	cfg.Synthesis.Provider = ProviderOllama
	cfg.VectorIndex.Backend = BackendPgvector
	cfg.VectorIndex.Qdrant.Endpoint = "http://localhost:6333"
	cfg.VectorIndex.Milvus.Address = "localhost:19530"
	cfg.VectorIndex.Milvus.Database = "default"
	cfg.Processing.ChunkSize = 1000
	cfg.Processing.ChunkOverlap = 200
	cfg.Pipeline.CallTimeout = 60 * time.Second
	cfg.Pipeline.PageValidation = "strict"
	cfg.Server.Addr = ":8000"
	cfg.Server.AllowedOrigins = []string{"https://ink-chat.vercel.app", "http://localhost:3000"}
	cfg.Server.MaxUploadBytes = 20 << 20
	cfg.Server.UploadDir = filepath.Join(os.TempDir(), "inkchat-uploads")
	cfg.RateLimit.Store = "memory"
	cfg.RateLimit.Requests = 2
	cfg.RateLimit.Window = 60 * time.Minute
	cfg.Redis.Addr = "localhost:6379"

	return cfg
}
