package config

import "time"

// ViaYAMLConfig represents the complete via.yaml file structure. Every
// section is optional; unset values fall back to built-in defaults.
type ViaYAMLConfig struct {
	Server     *ServerConfig     `yaml:"server"`
	Database   *DatabaseConfig   `yaml:"database"`
	Graph      *GraphConfig      `yaml:"graph"`
	LLM        *LLMConfig        `yaml:"llm"`
	Embedding  *EmbeddingConfig  `yaml:"embedding"`
	Canvas     *CanvasConfig     `yaml:"canvas"`
	Thresholds *Thresholds       `yaml:"thresholds"`
	Classifier *ClassifierConfig `yaml:"classifier"`
	Extraction *ExtractionConfig `yaml:"extraction"`
	Progress   *ProgressConfig   `yaml:"progress"`
	RAG        *RAGConfig        `yaml:"rag"`
	Agent      *AgentConfig      `yaml:"agent"`
	Research   *ResearchConfig   `yaml:"research"`
	Correction *CorrectionConfig `yaml:"correction"`
	Retention  *RetentionConfig  `yaml:"retention"`
	Queue      *QueueConfig      `yaml:"queue"`
	DataDir    string            `yaml:"data_dir"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr             string   `yaml:"addr"`
	AllowedOrigins   []string `yaml:"allowed_origins"`
	AllowedWSOrigins []string `yaml:"allowed_ws_origins"`
	MaxImageBytes    int64    `yaml:"max_image_bytes"` // per attached image
	MaxPDFBytes      int64    `yaml:"max_pdf_bytes"`   // per attached PDF
}

// DatabaseConfig holds PostgreSQL connection settings. When Host is empty
// the process runs with in-memory stores (checkpoints and RAG tracking are
// not durable); intended for development and tests only.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`

	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// Enabled reports whether a database connection is configured.
func (c *DatabaseConfig) Enabled() bool {
	return c != nil && c.Host != ""
}

// GraphConfig selects and parameterizes the knowledge-graph backend.
type GraphConfig struct {
	Backend      GraphBackendType `yaml:"backend"`       // memory | redis
	SnapshotPath string           `yaml:"snapshot_path"` // memory backend snapshot file
	RedisAddr    string           `yaml:"redis_addr"`
	RedisDB      int              `yaml:"redis_db"`

	MaxSimilarLinks  int     `yaml:"max_similar_links"`  // similar edges stored per added card
	MinSimilarityArc float64 `yaml:"min_similarity_arc"` // floor for storing a similar edge
	PersistEvery     int     `yaml:"persist_every"`      // change-log entries between snapshots
}

// LLMConfig configures the chat-completion provider.
type LLMConfig struct {
	Provider    ProviderType `yaml:"provider"` // openai | bedrock
	Model       string       `yaml:"model"`
	APIKey      string       `yaml:"api_key"`  // expanded from env in via.yaml
	BaseURL     string       `yaml:"base_url"` // OpenAI-compatible endpoints
	Region      string       `yaml:"region"`   // bedrock
	MaxTokens   int          `yaml:"max_tokens"`
	Temperature float32      `yaml:"temperature"`
}

// EmbeddingConfig configures the embedding provider. Dimension is shared by
// every centroid and card vector in the system.
type EmbeddingConfig struct {
	Provider  ProviderType `yaml:"provider"` // openai | bedrock
	Model     string       `yaml:"model"`
	APIKey    string       `yaml:"api_key"`
	BaseURL   string       `yaml:"base_url"`
	Region    string       `yaml:"region"` // bedrock
	Dimension int          `yaml:"dimension"`
}

// CanvasConfig points at the external canvas CRUD service.
type CanvasConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// Thresholds are the similarity cut-offs shared across the core.
type Thresholds struct {
	MinParent    float64 `yaml:"min_parent"`    // semantic parent match floor
	PreferParent float64 `yaml:"prefer_parent"` // auto parent-child edge floor
	StrongConn   float64 `yaml:"strong_conn"`   // strong connection suggestion
	Duplicate    float64 `yaml:"duplicate"`     // duplicate flagging
	Conflict     float64 `yaml:"conflict"`      // contradiction candidate floor
	WeakEdge     float64 `yaml:"weak_edge"`     // below this a similar edge is noise
}

// ClassifierConfig parameterizes the two-stage category classifier.
type ClassifierConfig struct {
	Alpha            float64 `yaml:"alpha"` // semantic weight in hybrid score
	BM25K1           float64 `yaml:"bm25_k1"`
	BM25B            float64 `yaml:"bm25_b"`
	RetrieveTopK     int     `yaml:"retrieve_top_k"`  // per index, before mixing
	CandidateTopK    int     `yaml:"candidate_top_k"` // handed to the LLM
	FallbackScore    float64 `yaml:"fallback_score"`  // min combined score for LLM-less match
	RefreshEvery     int     `yaml:"refresh_every"`   // cards between keyword/snippet refreshes
	MaxKeywords      int     `yaml:"max_keywords"`
	MaxSnippets      int     `yaml:"max_snippets"`
	SnippetLength    int     `yaml:"snippet_length"`
	ProfilesPath     string  `yaml:"profiles_path"`
	SeedLowConfScore float64 `yaml:"seed_confidence"`
}

// ExtractionConfig parameterizes URL extraction.
type ExtractionConfig struct {
	CacheDir         string        `yaml:"cache_dir"`
	CacheTTL         time.Duration `yaml:"cache_ttl"`
	HostRatePerSec   float64       `yaml:"host_rate_per_sec"` // token bucket refill per host
	RateMaxWait      time.Duration `yaml:"rate_max_wait"`
	FetchTimeout     time.Duration `yaml:"fetch_timeout"`
	MinContentLength int           `yaml:"min_content_length"` // fallback chain acceptance floor
	UserAgent        string        `yaml:"user_agent"`
}

// ProgressConfig controls checkpoint cadence for long-running operations.
type ProgressConfig struct {
	CheckpointInterval time.Duration `yaml:"checkpoint_interval"` // time-based cadence
	CheckpointCards    int           `yaml:"checkpoint_cards"`    // cards_created multiple cadence
}

// RAGConfig parameterizes chunking and retrieval defaults.
type RAGConfig struct {
	ChunkSize      int     `yaml:"chunk_size"`    // words per chunk
	ChunkOverlap   int     `yaml:"chunk_overlap"` // overlapping words between chunks
	DefaultTopK    int     `yaml:"default_top_k"`
	ScoreThreshold float64 `yaml:"score_threshold"`
}

// AgentConfig bounds the orchestration loop.
type AgentConfig struct {
	MaxToolIterations int           `yaml:"max_tool_iterations"`
	ToolTimeout       time.Duration `yaml:"tool_timeout"`
}

// ResearchConfig parameterizes deep research and academic source search.
// AcademicBaseURL points at a Crossref-compatible works API; MailTo joins
// the Crossref polite pool when set.
type ResearchConfig struct {
	AcademicBaseURL string        `yaml:"academic_base_url"`
	AcademicTimeout time.Duration `yaml:"academic_timeout"`
	AcademicRows    int           `yaml:"academic_rows"` // results per query
	MailTo          string        `yaml:"mailto"`
	MaxSubQuestions int           `yaml:"max_sub_questions"` // decomposition fan-out cap
	MaxReviewLoops  int           `yaml:"max_review_loops"`  // gap-filling iterations after review
}

// CorrectionConfig parameterizes the self-correction job.
type CorrectionConfig struct {
	Interval     time.Duration `yaml:"interval"`
	MaxOrphans   int           `yaml:"max_orphans"`    // orphan fixes per pass
	MaxWeakEdges int           `yaml:"max_weak_edges"` // weak-edge removals per pass
	MaxCategory  int           `yaml:"max_category"`   // category fills per pass
	MaxDuplicate int           `yaml:"max_duplicate"`  // duplicate flags per pass
	HistoryLimit int           `yaml:"history_limit"`  // retained pass summaries
}
