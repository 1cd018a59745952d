// Package config loads docrag settings from a YAML or TOML file, a .env
// file and DOCRAG_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/dshills/docrag/internal/chunker"
	"github.com/dshills/docrag/internal/embedder"
	"github.com/dshills/docrag/internal/generator"
	"github.com/dshills/docrag/internal/pipeline"
	"github.com/dshills/docrag/internal/quality"
	"github.com/dshills/docrag/internal/searcher"
	"github.com/dshills/docrag/pkg/types"
)

// ErrInvalidConfig is returned when a loaded value is out of range
var ErrInvalidConfig = errors.New("invalid configuration")

// DefaultDBPath is the default database location; "~" expands to the home directory
const DefaultDBPath = "~/.docrag/docrag.db"

// Environment overrides
const (
	EnvDBPath            = "DOCRAG_DB_PATH"
	EnvRunsPath          = "DOCRAG_RUNS_PATH"
	EnvLogLevel          = "DOCRAG_LOG_LEVEL"
	EnvLogFormat         = "DOCRAG_LOG_FORMAT"
	EnvEmbeddingModel    = "DOCRAG_EMBEDDING_MODEL"
	EnvEmbeddingDim      = "DOCRAG_EMBEDDING_DIMENSION"
	EnvGeneratorModel    = "DOCRAG_GENERATOR_MODEL"
	EnvGeneratorBaseURL  = "DOCRAG_GENERATOR_BASE_URL"
	EnvChunkTarget       = "DOCRAG_CHUNK_TARGET"
	EnvChunkOverlap      = "DOCRAG_CHUNK_OVERLAP"
	EnvQualityThreshold  = "DOCRAG_QUALITY_THRESHOLD"
	EnvAttempts          = "DOCRAG_ATTEMPTS"
	EnvMinSimilarity     = "DOCRAG_MIN_SIMILARITY"
	EnvDocStyle          = "DOCRAG_DOC_STYLE"
	EnvElementConcurrent = "DOCRAG_ELEMENT_CONCURRENCY"
)

// DatabaseConfig locates the index and the run ledger
type DatabaseConfig struct {
	Path     string `yaml:"path" toml:"path"`
	RunsPath string `yaml:"runs_path" toml:"runs_path"` // Empty keeps runs in memory
}

// LogConfig configures the process logger
type LogConfig struct {
	Level  string `yaml:"level" toml:"level"`   // debug, info, warn, error
	Format string `yaml:"format" toml:"format"` // text or json
}

// EmbedderConfig selects and configures the embedding provider
type EmbedderConfig struct {
	Provider  string `yaml:"provider" toml:"provider"` // jina, openai, local; empty detects from the environment
	Model     string `yaml:"model" toml:"model"`
	Dimension int    `yaml:"dimension" toml:"dimension"`
	Endpoint  string `yaml:"endpoint" toml:"endpoint"`
	CacheSize int    `yaml:"cache_size" toml:"cache_size"`
}

// GeneratorConfig selects and configures the documentation generator
type GeneratorConfig struct {
	Provider          string  `yaml:"provider" toml:"provider"` // openai or template; empty detects from the environment
	Model             string  `yaml:"model" toml:"model"`
	BaseURL           string  `yaml:"base_url" toml:"base_url"`
	TimeoutSecs       int     `yaml:"timeout_secs" toml:"timeout_secs"`
	MaxTokens         int     `yaml:"max_tokens" toml:"max_tokens"`
	Temperature       float64 `yaml:"temperature" toml:"temperature"`
	RequestsPerSecond float64 `yaml:"requests_per_second" toml:"requests_per_second"`
	Burst             int     `yaml:"burst" toml:"burst"`
}

// ChunkerConfig sizes documentation chunks in tokens
type ChunkerConfig struct {
	TargetSize int `yaml:"target_size" toml:"target_size"`
	Overlap    int `yaml:"overlap" toml:"overlap"`
}

// PipelineConfig tunes the stage orchestrator
type PipelineConfig struct {
	ElementConcurrency int    `yaml:"element_concurrency" toml:"element_concurrency"`
	MaxExternalCalls   int64  `yaml:"max_external_calls" toml:"max_external_calls"`
	Attempts           int    `yaml:"attempts" toml:"attempts"` // Per generate and embed stage
	CallTimeoutSecs    int    `yaml:"call_timeout_secs" toml:"call_timeout_secs"`
	DocType            string `yaml:"doc_type" toml:"doc_type"`
	DocStyle           string `yaml:"doc_style" toml:"doc_style"`
}

// QualityConfig sets the acceptance threshold
type QualityConfig struct {
	Threshold float64 `yaml:"threshold" toml:"threshold"`
}

// SearchConfig holds search defaults
type SearchConfig struct {
	Limit          int     `yaml:"limit" toml:"limit"`
	SemanticWeight float64 `yaml:"semantic_weight" toml:"semantic_weight"`
	LexicalWeight  float64 `yaml:"lexical_weight" toml:"lexical_weight"`
	MinSimilarity  float64 `yaml:"min_similarity" toml:"min_similarity"`
	RelatedLimit   int     `yaml:"related_limit" toml:"related_limit"`
}

// Config is the root configuration
type Config struct {
	Database  DatabaseConfig  `yaml:"database" toml:"database"`
	Log       LogConfig       `yaml:"log" toml:"log"`
	Embedder  EmbedderConfig  `yaml:"embedder" toml:"embedder"`
	Generator GeneratorConfig `yaml:"generator" toml:"generator"`
	Chunker   ChunkerConfig   `yaml:"chunker" toml:"chunker"`
	Pipeline  PipelineConfig  `yaml:"pipeline" toml:"pipeline"`
	Quality   QualityConfig   `yaml:"quality" toml:"quality"`
	Search    SearchConfig    `yaml:"search" toml:"search"`
}

// Default returns the built-in configuration
func Default() *Config {
	p := pipeline.DefaultConfig()
	w := searcher.DefaultWeights()
	return &Config{
		Database: DatabaseConfig{Path: DefaultDBPath},
		Log:      LogConfig{Level: "info", Format: "text"},
		Embedder: EmbedderConfig{CacheSize: 10000},
		Generator: GeneratorConfig{
			TimeoutSecs:       60,
			MaxTokens:         1024,
			Temperature:       0.2,
			RequestsPerSecond: 2,
			Burst:             1,
		},
		Chunker: ChunkerConfig{TargetSize: chunker.DefaultTargetSize, Overlap: chunker.DefaultOverlap},
		Pipeline: PipelineConfig{
			ElementConcurrency: p.ElementConcurrency,
			MaxExternalCalls:   p.MaxExternalCalls,
			Attempts:           p.GenerateAttempts,
			CallTimeoutSecs:    int(p.CallTimeout / time.Second),
			DocType:            string(p.DocType),
			DocStyle:           string(p.DefaultStyle),
		},
		Quality: QualityConfig{Threshold: quality.DefaultThreshold},
		Search: SearchConfig{
			Limit:          searcher.DefaultLimit,
			SemanticWeight: w.Semantic,
			LexicalWeight:  w.Lexical,
			RelatedLimit:   searcher.DefaultRelatedLimit,
		},
	}
}

// Load reads the file at path over the defaults, then applies a .env file
// from the working directory and DOCRAG_* overrides. An empty path skips the
// file. The format follows the extension: .toml is TOML, anything else YAML.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := decode(path, data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	// A missing .env is normal; existing variables win over it
	_ = godotenv.Load()

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return toml.Unmarshal(data, cfg)
	default:
		return yaml.Unmarshal(data, cfg)
	}
}

// Save writes cfg to path in the format its extension selects
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	var data []byte
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		data, err = toml.Marshal(cfg)
	default:
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// applyEnv overrides fields from DOCRAG_* variables
func applyEnv(cfg *Config) error {
	setString(&cfg.Database.Path, EnvDBPath)
	setString(&cfg.Database.RunsPath, EnvRunsPath)
	setString(&cfg.Log.Level, EnvLogLevel)
	setString(&cfg.Log.Format, EnvLogFormat)
	setString(&cfg.Embedder.Provider, embedder.EnvProvider)
	setString(&cfg.Embedder.Model, EnvEmbeddingModel)
	setString(&cfg.Generator.Provider, generator.EnvProvider)
	setString(&cfg.Generator.Model, EnvGeneratorModel)
	setString(&cfg.Generator.BaseURL, EnvGeneratorBaseURL)
	setString(&cfg.Pipeline.DocStyle, EnvDocStyle)

	ints := []struct {
		dst *int
		env string
	}{
		{&cfg.Embedder.Dimension, EnvEmbeddingDim},
		{&cfg.Chunker.TargetSize, EnvChunkTarget},
		{&cfg.Chunker.Overlap, EnvChunkOverlap},
		{&cfg.Pipeline.Attempts, EnvAttempts},
		{&cfg.Pipeline.ElementConcurrency, EnvElementConcurrent},
	}
	for _, o := range ints {
		if err := setInt(o.dst, o.env); err != nil {
			return err
		}
	}

	if err := setFloat(&cfg.Quality.Threshold, EnvQualityThreshold); err != nil {
		return err
	}
	return setFloat(&cfg.Search.MinSimilarity, EnvMinSimilarity)
}

func setString(dst *string, env string) {
	if v, ok := os.LookupEnv(env); ok && v != "" {
		*dst = v
	}
}

func setInt(dst *int, env string) error {
	v, ok := os.LookupEnv(env)
	if !ok || v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%w: %s=%q is not an integer", ErrInvalidConfig, env, v)
	}
	*dst = n
	return nil
}

func setFloat(dst *float64, env string) error {
	v, ok := os.LookupEnv(env)
	if !ok || v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("%w: %s=%q is not a number", ErrInvalidConfig, env, v)
	}
	*dst = f
	return nil
}

// Validate rejects values the components would refuse
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("%w: database path is required", ErrInvalidConfig)
	}
	if c.Chunker.TargetSize <= 0 {
		return fmt.Errorf("%w: chunker target size must be positive", ErrInvalidConfig)
	}
	if c.Chunker.Overlap < 0 || c.Chunker.Overlap >= c.Chunker.TargetSize {
		return fmt.Errorf("%w: chunker overlap must be in [0, target size)", ErrInvalidConfig)
	}
	if c.Quality.Threshold < 0 || c.Quality.Threshold > 1 {
		return fmt.Errorf("%w: quality threshold must be in [0, 1]", ErrInvalidConfig)
	}
	if c.Search.MinSimilarity < 0 || c.Search.MinSimilarity > 1 {
		return fmt.Errorf("%w: min similarity must be in [0, 1]", ErrInvalidConfig)
	}
	if c.Search.SemanticWeight < 0 || c.Search.LexicalWeight < 0 ||
		c.Search.SemanticWeight+c.Search.LexicalWeight == 0 {
		return fmt.Errorf("%w: search weights must be non-negative and not both zero", ErrInvalidConfig)
	}
	if c.Pipeline.DocStyle != "" && !types.DocStyle(c.Pipeline.DocStyle).Valid() {
		return fmt.Errorf("%w: unknown doc style %q", ErrInvalidConfig, c.Pipeline.DocStyle)
	}
	if c.Pipeline.DocType != "" && !types.DocType(c.Pipeline.DocType).Valid() {
		return fmt.Errorf("%w: unknown doc type %q", ErrInvalidConfig, c.Pipeline.DocType)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("%w: log format must be text or json", ErrInvalidConfig)
	}
	return nil
}

// DBPath returns the database path with a leading "~" expanded
func (c *Config) DBPath() (string, error) {
	return expandHome(c.Database.Path)
}

// RunsPath returns the run ledger path with a leading "~" expanded, or ""
func (c *Config) RunsPath() (string, error) {
	if c.Database.RunsPath == "" {
		return "", nil
	}
	return expandHome(c.Database.RunsPath)
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

// EmbedderConfig converts to the embedder factory configuration
func (c *Config) EmbedderConfig() embedder.Config {
	return embedder.Config{
		Provider:  c.Embedder.Provider,
		Model:     c.Embedder.Model,
		Dimension: c.Embedder.Dimension,
		Endpoint:  c.Embedder.Endpoint,
		CacheSize: c.Embedder.CacheSize,
	}
}

// GeneratorConfig converts to the generator factory configuration
func (c *Config) GeneratorConfig() generator.Config {
	g := c.Generator
	return generator.Config{
		Provider: g.Provider,
		OpenAI: generator.OpenAIConfig{
			BaseURL:           g.BaseURL,
			Model:             g.Model,
			Timeout:           time.Duration(g.TimeoutSecs) * time.Second,
			MaxTokens:         g.MaxTokens,
			Temperature:       g.Temperature,
			RequestsPerSecond: g.RequestsPerSecond,
			Burst:             g.Burst,
		},
	}
}

// PipelineConfig converts to the orchestrator configuration
func (c *Config) PipelineConfig() pipeline.Config {
	p := pipeline.DefaultConfig()
	p.ElementConcurrency = c.Pipeline.ElementConcurrency
	p.MaxExternalCalls = c.Pipeline.MaxExternalCalls
	p.GenerateAttempts = c.Pipeline.Attempts
	p.EmbedAttempts = c.Pipeline.Attempts
	p.CallTimeout = time.Duration(c.Pipeline.CallTimeoutSecs) * time.Second
	if c.Pipeline.DocType != "" {
		p.DocType = types.DocType(c.Pipeline.DocType)
	}
	if c.Pipeline.DocStyle != "" {
		p.DefaultStyle = types.DocStyle(c.Pipeline.DocStyle)
	}
	return p
}

// ChunkerOptions converts to chunker options
func (c *Config) ChunkerOptions() []chunker.Option {
	return []chunker.Option{
		chunker.WithTargetSize(c.Chunker.TargetSize),
		chunker.WithOverlap(c.Chunker.Overlap),
	}
}

// Weights returns the configured search weights
func (c *Config) Weights() searcher.Weights {
	return searcher.Weights{Semantic: c.Search.SemanticWeight, Lexical: c.Search.LexicalWeight}
}
