package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"hmo-buddy/internal/models"
)

// LLMConfig points at one Ollama-served model.
type LLMConfig struct {
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

// RAGConfig holds the retrieval pipeline parameters. Temperature is a
// pointer so an explicit 0 (deterministic generation) is distinguishable
// from an unset value.
type RAGConfig struct {
	ChunkSize     int      `yaml:"chunk_size"`
	ChunkOverlap  int      `yaml:"chunk_overlap"`
	NContextDocs  int      `yaml:"n_context_docs"`
	MinSimilarity float32  `yaml:"min_similarity"`
	Temperature   *float64 `yaml:"temperature"`
}

// PostgresConfig configures the optional pgvector store backend.
type PostgresConfig struct {
	DSN      string `yaml:"dsn"`
	Password string `yaml:"password"`
	Debug    bool   `yaml:"debug"`
}

// StoreConfig selects and configures the vector store backend.
type StoreConfig struct {
	Backend       string         `yaml:"backend"` // "chromem" or "postgres"
	Path          string         `yaml:"path"`
	Collection    string         `yaml:"collection"`
	Compress      bool           `yaml:"compress"`
	EncryptionKey string         `yaml:"encryption_key"`
	Postgres      PostgresConfig `yaml:"postgres"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Addr        string   `yaml:"addr"`
	CORSOrigins []string `yaml:"cors_origins"`
}

type Config struct {
	Server       ServerConfig `yaml:"server"`
	ChatLLM      LLMConfig    `yaml:"chat_llm"`
	EmbedLLM     LLMConfig    `yaml:"embed_llm"`
	RAG          RAGConfig    `yaml:"rag"`
	Store        StoreConfig  `yaml:"store"`
	DocumentsDir string       `yaml:"documents_dir"`
}

// Load reads the config from path, falling back to defaults when the file
// does not exist, then applies environment overrides and validates.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate enforces the constraints the pipeline depends on.
func (c *Config) Validate() error {
	if c.RAG.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk_size must be positive, got %d", models.ErrInvalidConfig, c.RAG.ChunkSize)
	}
	if c.RAG.ChunkOverlap < 0 || c.RAG.ChunkOverlap >= c.RAG.ChunkSize {
		return fmt.Errorf("%w: chunk_overlap must satisfy 0 <= overlap < chunk_size, got overlap=%d size=%d",
			models.ErrInvalidConfig, c.RAG.ChunkOverlap, c.RAG.ChunkSize)
	}
	if c.RAG.NContextDocs <= 0 {
		return fmt.Errorf("%w: n_context_docs must be positive, got %d", models.ErrInvalidConfig, c.RAG.NContextDocs)
	}
	switch c.Store.Backend {
	case "chromem", "postgres":
	default:
		return fmt.Errorf("%w: unknown store backend %q", models.ErrInvalidConfig, c.Store.Backend)
	}
	return nil
}

func defaultConfig() *Config {
	temperature := 0.7
	return &Config{
		Server: ServerConfig{
			Addr: ":8000",
			CORSOrigins: []string{
				"http://localhost:8080",
				"http://localhost:5173",
				"http://localhost:3000",
			},
		},
		ChatLLM:  LLMConfig{BaseURL: "http://localhost:11434", Model: "llama3.2"},
		EmbedLLM: LLMConfig{BaseURL: "http://localhost:11434", Model: "mxbai-embed-large"},
		RAG: RAGConfig{
			ChunkSize:     1000,
			ChunkOverlap:  200,
			NContextDocs:  6,
			MinSimilarity: 0,
			Temperature:   &temperature,
		},
		Store: StoreConfig{
			Backend:    "chromem",
			Path:       "./chromemdb",
			Collection: "hmo_documents",
		},
		DocumentsDir: "./documents",
	}
}

// applyDefaults fills zero values left by a partial config file.
func applyDefaults(cfg *Config) {
	def := defaultConfig()
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = def.Server.Addr
	}
	if len(cfg.Server.CORSOrigins) == 0 {
		cfg.Server.CORSOrigins = def.Server.CORSOrigins
	}
	if cfg.ChatLLM.BaseURL == "" {
		cfg.ChatLLM.BaseURL = def.ChatLLM.BaseURL
	}
	if cfg.ChatLLM.Model == "" {
		cfg.ChatLLM.Model = def.ChatLLM.Model
	}
	if cfg.EmbedLLM.BaseURL == "" {
		cfg.EmbedLLM.BaseURL = def.EmbedLLM.BaseURL
	}
	if cfg.EmbedLLM.Model == "" {
		cfg.EmbedLLM.Model = def.EmbedLLM.Model
	}
	if cfg.RAG.ChunkSize == 0 {
		cfg.RAG.ChunkSize = def.RAG.ChunkSize
		if cfg.RAG.ChunkOverlap == 0 {
			cfg.RAG.ChunkOverlap = def.RAG.ChunkOverlap
		}
	}
	if cfg.RAG.NContextDocs == 0 {
		cfg.RAG.NContextDocs = def.RAG.NContextDocs
	}
	if cfg.RAG.Temperature == nil {
		cfg.RAG.Temperature = def.RAG.Temperature
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = def.Store.Backend
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = def.Store.Path
	}
	if cfg.Store.Collection == "" {
		cfg.Store.Collection = def.Store.Collection
	}
	if cfg.DocumentsDir == "" {
		cfg.DocumentsDir = def.DocumentsDir
	}
}

// applyEnv lets deployment scripts override the hot settings without
// editing the config file. A .env file loaded by main feeds these.
func applyEnv(cfg *Config) {
	if v := os.Getenv("OLLAMA_BASE_URL"); v != "" {
		cfg.ChatLLM.BaseURL = v
		cfg.EmbedLLM.BaseURL = v
	}
	if v := os.Getenv("HMO_SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("HMO_PG_PASSWORD"); v != "" {
		cfg.Store.Postgres.Password = v
	}
}
