package config

import "time"

// Built-in defaults. YAML values override these; the loader merges section
// by section so a partially filled section keeps the remaining defaults.
const (
	DefaultServerAddr    = ":8085"
	DefaultMaxImageBytes = 5 * 1024 * 1024  // 5 MiB per image attachment
	DefaultMaxPDFBytes   = 10 * 1024 * 1024 // 10 MiB per PDF attachment

	DefaultEmbeddingDimension = 768

	DefaultMaxSimilarLinks  = 10
	DefaultMinSimilarityArc = 0.1
	DefaultPersistEvery     = 10

	DefaultClassifierAlpha  = 0.6
	DefaultBM25K1           = 1.5
	DefaultBM25B            = 0.75
	DefaultRetrieveTopK     = 20
	DefaultCandidateTopK    = 10
	DefaultFallbackScore    = 0.6
	DefaultRefreshEvery     = 10
	DefaultMaxKeywords      = 20
	DefaultMaxSnippets      = 3
	DefaultSnippetLength    = 150
	DefaultSeedConfidence   = 0.3
	DefaultExtractionTTL    = 24 * time.Hour
	DefaultHostRatePerSec   = 1.0
	DefaultRateMaxWait      = 30 * time.Second
	DefaultFetchTimeout     = 30 * time.Second
	DefaultMinContentLength = 100

	DefaultCheckpointInterval = 30 * time.Second
	DefaultCheckpointCards    = 10

	DefaultChunkSize      = 500
	DefaultChunkOverlap   = 50
	DefaultRAGTopK        = 5
	DefaultScoreThreshold = 0.7

	DefaultMaxToolIterations = 10
	DefaultToolTimeout       = 2 * time.Minute
	DefaultCanvasTimeout     = 10 * time.Second

	DefaultAcademicBaseURL = "https://api.crossref.org"
	DefaultAcademicTimeout = 15 * time.Second
	DefaultAcademicRows    = 5
	DefaultMaxSubQuestions = 5
	DefaultMaxReviewLoops  = 2

	DefaultCorrectionInterval = 1 * time.Hour
	DefaultMaxOrphanFixes     = 10
	DefaultMaxWeakEdgeFixes   = 20
	DefaultMaxCategoryFills   = 20
	DefaultMaxDuplicateFlags  = 10
	DefaultHistoryLimit       = 50

	DefaultSessionTTL           = 24 * time.Hour
	DefaultCheckpointRetention  = 7 * 24 * time.Hour
	DefaultCleanupInterval      = 1 * time.Hour
	DefaultDataDir              = "./data"
	DefaultLLMMaxTokens         = 4096
	DefaultLLMTemperature       = 0.7
	DefaultOpenAIChatModel      = "gpt-4o-mini"
	DefaultOpenAIEmbeddingModel = "text-embedding-3-small"
)

// DefaultThresholds returns the built-in similarity thresholds.
func DefaultThresholds() *Thresholds {
	return &Thresholds{
		MinParent:    0.3,
		PreferParent: 0.5,
		StrongConn:   0.7,
		Duplicate:    0.9,
		Conflict:     0.6,
		WeakEdge:     0.2,
	}
}

// DefaultServerConfig returns the built-in server defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Addr:          DefaultServerAddr,
		MaxImageBytes: DefaultMaxImageBytes,
		MaxPDFBytes:   DefaultMaxPDFBytes,
	}
}

// DefaultGraphConfig returns the built-in graph backend defaults.
func DefaultGraphConfig() *GraphConfig {
	return &GraphConfig{
		Backend:          GraphBackendMemory,
		MaxSimilarLinks:  DefaultMaxSimilarLinks,
		MinSimilarityArc: DefaultMinSimilarityArc,
		PersistEvery:     DefaultPersistEvery,
	}
}

// DefaultClassifierConfig returns the built-in classifier defaults.
func DefaultClassifierConfig() *ClassifierConfig {
	return &ClassifierConfig{
		Alpha:            DefaultClassifierAlpha,
		BM25K1:           DefaultBM25K1,
		BM25B:            DefaultBM25B,
		RetrieveTopK:     DefaultRetrieveTopK,
		CandidateTopK:    DefaultCandidateTopK,
		FallbackScore:    DefaultFallbackScore,
		RefreshEvery:     DefaultRefreshEvery,
		MaxKeywords:      DefaultMaxKeywords,
		MaxSnippets:      DefaultMaxSnippets,
		SnippetLength:    DefaultSnippetLength,
		SeedLowConfScore: DefaultSeedConfidence,
	}
}

// DefaultExtractionConfig returns the built-in extraction defaults.
func DefaultExtractionConfig() *ExtractionConfig {
	return &ExtractionConfig{
		CacheTTL:         DefaultExtractionTTL,
		HostRatePerSec:   DefaultHostRatePerSec,
		RateMaxWait:      DefaultRateMaxWait,
		FetchTimeout:     DefaultFetchTimeout,
		MinContentLength: DefaultMinContentLength,
	}
}

// DefaultProgressConfig returns the built-in checkpoint cadence.
func DefaultProgressConfig() *ProgressConfig {
	return &ProgressConfig{
		CheckpointInterval: DefaultCheckpointInterval,
		CheckpointCards:    DefaultCheckpointCards,
	}
}

// DefaultRAGConfig returns the built-in RAG defaults.
func DefaultRAGConfig() *RAGConfig {
	return &RAGConfig{
		ChunkSize:      DefaultChunkSize,
		ChunkOverlap:   DefaultChunkOverlap,
		DefaultTopK:    DefaultRAGTopK,
		ScoreThreshold: DefaultScoreThreshold,
	}
}

// DefaultAgentConfig returns the built-in orchestration bounds.
func DefaultAgentConfig() *AgentConfig {
	return &AgentConfig{
		MaxToolIterations: DefaultMaxToolIterations,
		ToolTimeout:       DefaultToolTimeout,
	}
}

// DefaultResearchConfig returns the built-in research defaults.
func DefaultResearchConfig() *ResearchConfig {
	return &ResearchConfig{
		AcademicBaseURL: DefaultAcademicBaseURL,
		AcademicTimeout: DefaultAcademicTimeout,
		AcademicRows:    DefaultAcademicRows,
		MaxSubQuestions: DefaultMaxSubQuestions,
		MaxReviewLoops:  DefaultMaxReviewLoops,
	}
}

// DefaultCorrectionConfig returns the built-in self-correction defaults.
func DefaultCorrectionConfig() *CorrectionConfig {
	return &CorrectionConfig{
		Interval:     DefaultCorrectionInterval,
		MaxOrphans:   DefaultMaxOrphanFixes,
		MaxWeakEdges: DefaultMaxWeakEdgeFixes,
		MaxCategory:  DefaultMaxCategoryFills,
		MaxDuplicate: DefaultMaxDuplicateFlags,
		HistoryLimit: DefaultHistoryLimit,
	}
}

// DefaultLLMConfig returns the built-in chat provider defaults.
func DefaultLLMConfig() *LLMConfig {
	return &LLMConfig{
		Provider:    ProviderTypeOpenAI,
		Model:       DefaultOpenAIChatModel,
		MaxTokens:   DefaultLLMMaxTokens,
		Temperature: DefaultLLMTemperature,
	}
}

// DefaultEmbeddingConfig returns the built-in embedding provider defaults.
func DefaultEmbeddingConfig() *EmbeddingConfig {
	return &EmbeddingConfig{
		Provider:  ProviderTypeOpenAI,
		Model:     DefaultOpenAIEmbeddingModel,
		Dimension: DefaultEmbeddingDimension,
	}
}

// DefaultCanvasConfig returns the built-in canvas CRUD client defaults.
func DefaultCanvasConfig() *CanvasConfig {
	return &CanvasConfig{
		BaseURL: "http://localhost:8080",
		Timeout: DefaultCanvasTimeout,
	}
}

// DefaultDatabaseConfig returns the built-in PostgreSQL pool defaults.
// Host is intentionally empty: the database is opt-in.
func DefaultDatabaseConfig() *DatabaseConfig {
	return &DatabaseConfig{
		Port:            5432,
		User:            "via",
		Database:        "via_intelligence",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
	}
}
