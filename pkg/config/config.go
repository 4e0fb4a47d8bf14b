package config

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for datapilot-engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, API keys) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"8080"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// Metadata database (cache entries, error knowledge base)
	Database DatabaseConfig `yaml:"database"`

	// Query engine the generated SQL runs against
	Engine EngineConfig `yaml:"engine"`

	// LLM endpoints for generation, repair and embeddings
	LLM LLMConfig `yaml:"llm"`

	// Schema context source
	Schemas SchemasConfig `yaml:"schemas"`

	// Result cache behavior
	Cache CacheConfig `yaml:"cache"`

	// Generation/validation/repair pipeline tuning
	Pipeline PipelineConfig `yaml:"pipeline"`

	// Error knowledge base retrieval tuning
	KnowledgeBase KnowledgeBaseConfig `yaml:"knowledge_base"`
}

// DatabaseConfig holds PostgreSQL configuration for the metadata store.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"datapilot"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"datapilot_engine"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	MigrationsPath string `yaml:"migrations_path" env:"PGMIGRATIONS_PATH" env-default:"migrations"`
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// EngineConfig holds configuration for the query engine that executes
// generated SQL and materializes result tables. Execution time is bounded by
// the pipeline's execute_timeout, not here.
type EngineConfig struct {
	URL            string `yaml:"-" env:"ENGINE_DATABASE_URL"` // Secret-bearing DSN - env only
	MaxPreviewRows int    `yaml:"max_preview_rows" env:"ENGINE_MAX_PREVIEW_ROWS" env-default:"1000"`
}

// LLMConfig holds LLM provider configuration.
// Provider selects the client implementation: "openai" (any OpenAI-compatible
// endpoint) or "anthropic".
type LLMConfig struct {
	Provider       string  `yaml:"provider" env:"LLM_PROVIDER" env-default:"openai"`
	Endpoint       string  `yaml:"endpoint" env:"LLM_ENDPOINT" env-default:"https://api.openai.com/v1"`
	Model          string  `yaml:"model" env:"LLM_MODEL" env-default:"gpt-4o"`
	APIKey         string  `yaml:"-" env:"LLM_API_KEY"` // Secret - not in YAML
	EmbeddingModel string  `yaml:"embedding_model" env:"LLM_EMBEDDING_MODEL" env-default:"text-embedding-3-small"`
	Temperature    float64 `yaml:"temperature" env:"LLM_TEMPERATURE" env-default:"1.0"`
}

// SchemasConfig points at the DDL files describing available schemas.
type SchemasConfig struct {
	Dir           string `yaml:"dir" env:"SCHEMAS_DIR" env-default:"schemas"`
	FunctionsFile string `yaml:"functions_file" env:"FUNCTIONS_FILE" env-default:""`
}

// CacheConfig holds result cache behavior.
type CacheConfig struct {
	TTL time.Duration `yaml:"ttl" env:"CACHE_TTL" env-default:"168h"`
}

// PipelineConfig bounds the generate/validate/repair loop.
// MaxEngineAttempts is deliberately lower than MaxRepairAttempts: engine
// failures carry real execution cost per attempt, static validation does not.
type PipelineConfig struct {
	MaxRepairAttempts int           `yaml:"max_repair_attempts" env:"MAX_REPAIR_ATTEMPTS" env-default:"5"`
	MaxEngineAttempts int           `yaml:"max_engine_attempts" env:"MAX_ENGINE_ATTEMPTS" env-default:"3"`
	GenerateTimeout   time.Duration `yaml:"generate_timeout" env:"GENERATE_TIMEOUT" env-default:"2m"`
	ValidateTimeout   time.Duration `yaml:"validate_timeout" env:"VALIDATE_TIMEOUT" env-default:"2m"`
	ExecuteTimeout    time.Duration `yaml:"execute_timeout" env:"EXECUTE_TIMEOUT" env-default:"30m"`
	ProgressBuffer    int           `yaml:"progress_buffer" env:"PROGRESS_BUFFER" env-default:"64"`
}

// KnowledgeBaseConfig tunes similarity retrieval for the repair loop.
// Threshold and TopK are tuning parameters, not contract.
type KnowledgeBaseConfig struct {
	TopK                int     `yaml:"top_k" env:"KB_TOP_K" env-default:"4"`
	SimilarityThreshold float64 `yaml:"similarity_threshold" env:"KB_SIMILARITY_THRESHOLD" env-default:"0.35"`
}

// Load reads configuration from config.yaml with environment variable
// overrides. The version parameter is injected at build time.
func Load(version string) (*Config, error) {
	cfg := &Config{Version: version}

	if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
		return nil, fmt.Errorf("failed to read config.yaml: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFrom is Load with an explicit config file path, for tests.
func LoadFrom(path, version string) (*Config, error) {
	cfg := &Config{Version: version}

	if err := cleanenv.ReadConfig(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	switch c.LLM.Provider {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("invalid llm provider %q (want openai or anthropic)", c.LLM.Provider)
	}

	if c.Pipeline.MaxRepairAttempts < 1 {
		return fmt.Errorf("max_repair_attempts must be >= 1")
	}
	if c.Pipeline.MaxEngineAttempts < 1 {
		return fmt.Errorf("max_engine_attempts must be >= 1")
	}
	if c.KnowledgeBase.TopK < 1 {
		return fmt.Errorf("knowledge_base.top_k must be >= 1")
	}
	if c.KnowledgeBase.SimilarityThreshold < 0 || c.KnowledgeBase.SimilarityThreshold > 1 {
		return fmt.Errorf("knowledge_base.similarity_threshold must be in [0,1]")
	}

	return nil
}
