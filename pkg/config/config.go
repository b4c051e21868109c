// Package config loads and validates the via.yaml configuration file.
//
// Configuration resolution order: built-in defaults, then via.yaml values
// (with {{.ENV_VAR}} expansion) merged on top. A missing via.yaml is not an
// error; the process then runs entirely on defaults plus environment
// variables, which suits development and tests.
package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// ConfigFileName is the expected configuration file inside the config dir.
const ConfigFileName = "via.yaml"

// Config is the umbrella configuration object returned by Initialize and
// injected throughout the application. Every section pointer is non-nil
// after a successful load.
type Config struct {
	configDir string

	Server     *ServerConfig
	Database   *DatabaseConfig
	Graph      *GraphConfig
	LLM        *LLMConfig
	Embedding  *EmbeddingConfig
	Canvas     *CanvasConfig
	Thresholds *Thresholds
	Classifier *ClassifierConfig
	Extraction *ExtractionConfig
	Progress   *ProgressConfig
	RAG        *RAGConfig
	Agent      *AgentConfig
	Research   *ResearchConfig
	Correction *CorrectionConfig
	Retention  *RetentionConfig
	Queue      *QueueConfig
	DataDir    string
}

// ConfigDir returns the configuration directory path.
func (c *Config) ConfigDir() string {
	return c.configDir
}

// Initialize loads, validates, and returns ready-to-use configuration.
//
// Steps performed:
//  1. Read via.yaml from configDir (missing file falls back to defaults)
//  2. Expand environment variables ({{.VAR}} template syntax)
//  3. Parse YAML into section structs
//  4. Merge user values over built-in defaults, section by section
//  5. Resolve data-dir-relative paths
//  6. Validate everything
func Initialize(_ context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	raw, err := loadYAMLFile(configDir)
	if err != nil {
		return nil, err
	}

	cfg, err := resolve(configDir, raw)
	if err != nil {
		return nil, err
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}

	log.Info("Configuration initialized successfully",
		"graph_backend", cfg.Graph.Backend,
		"llm_provider", cfg.LLM.Provider,
		"database_enabled", cfg.Database.Enabled(),
		"data_dir", cfg.DataDir)

	return cfg, nil
}

// loadYAMLFile reads and parses via.yaml. A missing file yields an empty
// structure so defaults apply everywhere.
func loadYAMLFile(configDir string) (*ViaYAMLConfig, error) {
	var raw ViaYAMLConfig

	path := filepath.Join(configDir, ConfigFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Warn("Configuration file not found, using defaults", "path", path)
			return &raw, nil
		}
		return nil, NewLoadError(ConfigFileName, err)
	}

	// Expand environment variables using {{.VAR}} template syntax.
	// ExpandEnv passes through original data on parse/execution errors,
	// letting the YAML parser surface a clearer message.
	data = ExpandEnv(data)

	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, NewLoadError(ConfigFileName, fmt.Errorf("%w: %v", ErrInvalidYAML, err))
	}

	return &raw, nil
}

// resolve merges raw YAML sections over built-in defaults and fills in
// data-dir-relative paths.
func resolve(configDir string, raw *ViaYAMLConfig) (*Config, error) {
	cfg := &Config{
		configDir:  configDir,
		Server:     DefaultServerConfig(),
		Database:   DefaultDatabaseConfig(),
		Graph:      DefaultGraphConfig(),
		LLM:        DefaultLLMConfig(),
		Embedding:  DefaultEmbeddingConfig(),
		Canvas:     DefaultCanvasConfig(),
		Thresholds: DefaultThresholds(),
		Classifier: DefaultClassifierConfig(),
		Extraction: DefaultExtractionConfig(),
		Progress:   DefaultProgressConfig(),
		RAG:        DefaultRAGConfig(),
		Agent:      DefaultAgentConfig(),
		Research:   DefaultResearchConfig(),
		Correction: DefaultCorrectionConfig(),
		Retention:  DefaultRetentionConfig(),
		Queue:      DefaultQueueConfig(),
		DataDir:    DefaultDataDir,
	}

	if raw.DataDir != "" {
		cfg.DataDir = raw.DataDir
	}

	// Non-zero user values override defaults; unset fields keep them.
	if err := mergeSection("server", cfg.Server, raw.Server); err != nil {
		return nil, err
	}
	if err := mergeSection("database", cfg.Database, raw.Database); err != nil {
		return nil, err
	}
	if err := mergeSection("graph", cfg.Graph, raw.Graph); err != nil {
		return nil, err
	}
	if err := mergeSection("llm", cfg.LLM, raw.LLM); err != nil {
		return nil, err
	}
	if err := mergeSection("embedding", cfg.Embedding, raw.Embedding); err != nil {
		return nil, err
	}
	if err := mergeSection("canvas", cfg.Canvas, raw.Canvas); err != nil {
		return nil, err
	}
	if err := mergeSection("thresholds", cfg.Thresholds, raw.Thresholds); err != nil {
		return nil, err
	}
	if err := mergeSection("classifier", cfg.Classifier, raw.Classifier); err != nil {
		return nil, err
	}
	if err := mergeSection("extraction", cfg.Extraction, raw.Extraction); err != nil {
		return nil, err
	}
	if err := mergeSection("progress", cfg.Progress, raw.Progress); err != nil {
		return nil, err
	}
	if err := mergeSection("rag", cfg.RAG, raw.RAG); err != nil {
		return nil, err
	}
	if err := mergeSection("agent", cfg.Agent, raw.Agent); err != nil {
		return nil, err
	}
	if err := mergeSection("research", cfg.Research, raw.Research); err != nil {
		return nil, err
	}
	if err := mergeSection("correction", cfg.Correction, raw.Correction); err != nil {
		return nil, err
	}
	if err := mergeSection("retention", cfg.Retention, raw.Retention); err != nil {
		return nil, err
	}
	if err := mergeSection("queue", cfg.Queue, raw.Queue); err != nil {
		return nil, err
	}

	// Paths default under the data dir unless explicitly set.
	if cfg.Graph.SnapshotPath == "" {
		cfg.Graph.SnapshotPath = filepath.Join(cfg.DataDir, "graph.snapshot")
	}
	if cfg.Classifier.ProfilesPath == "" {
		cfg.Classifier.ProfilesPath = filepath.Join(cfg.DataDir, "category-profiles.json")
	}
	if cfg.Extraction.CacheDir == "" {
		cfg.Extraction.CacheDir = filepath.Join(cfg.DataDir, "extraction-cache")
	}

	return cfg, nil
}

// mergeSection merges a user-provided YAML section over its defaults.
// A nil src leaves dst as pure defaults.
func mergeSection[T any](name string, dst *T, src *T) error {
	if src == nil {
		return nil
	}
	if err := mergo.Merge(dst, src, mergo.WithOverride); err != nil {
		return fmt.Errorf("failed to merge %s config: %w", name, err)
	}
	return nil
}

// validate performs comprehensive validation on loaded configuration.
func validate(cfg *Config) error {
	v := NewValidator(cfg)
	return v.ValidateAll()
}
