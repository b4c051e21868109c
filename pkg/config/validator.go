package config

import "fmt"

// ConfigValidator validates configuration comprehensively with clear error messages
type ConfigValidator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration
func NewValidator(cfg *Config) *ConfigValidator {
	return &ConfigValidator{cfg: cfg}
}

// ValidateAll performs comprehensive validation (fail-fast - stops at first error)
func (v *ConfigValidator) ValidateAll() error {
	if err := v.validateServer(); err != nil {
		return fmt.Errorf("server validation failed: %w", err)
	}
	if err := v.validateGraph(); err != nil {
		return fmt.Errorf("graph validation failed: %w", err)
	}
	if err := v.validateProviders(); err != nil {
		return fmt.Errorf("provider validation failed: %w", err)
	}
	if err := v.validateThresholds(); err != nil {
		return fmt.Errorf("threshold validation failed: %w", err)
	}
	if err := v.validateClassifier(); err != nil {
		return fmt.Errorf("classifier validation failed: %w", err)
	}
	if err := v.validateExtraction(); err != nil {
		return fmt.Errorf("extraction validation failed: %w", err)
	}
	if err := v.validateRAG(); err != nil {
		return fmt.Errorf("rag validation failed: %w", err)
	}
	if err := v.validateAgent(); err != nil {
		return fmt.Errorf("agent validation failed: %w", err)
	}
	if err := v.validateResearch(); err != nil {
		return fmt.Errorf("research validation failed: %w", err)
	}
	if err := v.validateCorrection(); err != nil {
		return fmt.Errorf("correction validation failed: %w", err)
	}
	if err := v.validateQueue(); err != nil {
		return fmt.Errorf("queue validation failed: %w", err)
	}
	if err := v.validateProgress(); err != nil {
		return fmt.Errorf("progress validation failed: %w", err)
	}
	if err := v.validateRetention(); err != nil {
		return fmt.Errorf("retention validation failed: %w", err)
	}
	return nil
}

func (v *ConfigValidator) validateServer() error {
	s := v.cfg.Server
	if s.Addr == "" {
		return NewValidationError("server", "addr", ErrMissingRequiredField)
	}
	if s.MaxImageBytes <= 0 {
		return NewValidationError("server", "max_image_bytes", fmt.Errorf("must be positive"))
	}
	if s.MaxPDFBytes <= 0 {
		return NewValidationError("server", "max_pdf_bytes", fmt.Errorf("must be positive"))
	}
	return nil
}

func (v *ConfigValidator) validateGraph() error {
	g := v.cfg.Graph
	if !g.Backend.IsValid() {
		return NewValidationError("graph", "backend", fmt.Errorf("invalid backend: %s", g.Backend))
	}
	if g.Backend == GraphBackendRedis && g.RedisAddr == "" {
		return NewValidationError("graph", "redis_addr", fmt.Errorf("required for the redis backend"))
	}
	if g.MaxSimilarLinks < 1 {
		return NewValidationError("graph", "max_similar_links", fmt.Errorf("must be at least 1"))
	}
	if g.MinSimilarityArc < 0 || g.MinSimilarityArc >= 1 {
		return NewValidationError("graph", "min_similarity_arc", fmt.Errorf("must be in [0,1)"))
	}
	if g.PersistEvery < 1 {
		return NewValidationError("graph", "persist_every", fmt.Errorf("must be at least 1"))
	}
	return nil
}

func (v *ConfigValidator) validateProviders() error {
	l := v.cfg.LLM
	if !l.Provider.IsValid() {
		return NewValidationError("llm", "provider", fmt.Errorf("invalid provider: %s", l.Provider))
	}
	if l.Model == "" {
		return NewValidationError("llm", "model", ErrMissingRequiredField)
	}
	if l.Provider == ProviderTypeBedrock && l.Region == "" {
		return NewValidationError("llm", "region", fmt.Errorf("required for the bedrock provider"))
	}
	if l.MaxTokens < 1 {
		return NewValidationError("llm", "max_tokens", fmt.Errorf("must be at least 1"))
	}

	e := v.cfg.Embedding
	if !e.Provider.IsValid() {
		return NewValidationError("embedding", "provider", fmt.Errorf("invalid provider: %s", e.Provider))
	}
	if e.Model == "" {
		return NewValidationError("embedding", "model", ErrMissingRequiredField)
	}
	if e.Provider == ProviderTypeBedrock && e.Region == "" {
		return NewValidationError("embedding", "region", fmt.Errorf("required for the bedrock provider"))
	}
	if e.Dimension < 1 {
		return NewValidationError("embedding", "dimension", fmt.Errorf("must be at least 1"))
	}
	return nil
}

func (v *ConfigValidator) validateThresholds() error {
	t := v.cfg.Thresholds
	checks := []struct {
		name  string
		value float64
	}{
		{"min_parent", t.MinParent},
		{"prefer_parent", t.PreferParent},
		{"strong_conn", t.StrongConn},
		{"duplicate", t.Duplicate},
		{"conflict", t.Conflict},
		{"weak_edge", t.WeakEdge},
	}
	for _, c := range checks {
		if c.value < 0 || c.value > 1 {
			return NewValidationError("thresholds", c.name, fmt.Errorf("must be in [0,1]"))
		}
	}
	if t.MinParent > t.PreferParent {
		return NewValidationError("thresholds", "min_parent", fmt.Errorf("must not exceed prefer_parent"))
	}
	return nil
}

func (v *ConfigValidator) validateClassifier() error {
	c := v.cfg.Classifier
	if c.Alpha < 0 || c.Alpha > 1 {
		return NewValidationError("classifier", "alpha", fmt.Errorf("must be in [0,1]"))
	}
	if c.BM25K1 <= 0 {
		return NewValidationError("classifier", "bm25_k1", fmt.Errorf("must be positive"))
	}
	if c.BM25B < 0 || c.BM25B > 1 {
		return NewValidationError("classifier", "bm25_b", fmt.Errorf("must be in [0,1]"))
	}
	if c.RetrieveTopK < 1 || c.CandidateTopK < 1 {
		return NewValidationError("classifier", "retrieve_top_k", fmt.Errorf("top-k values must be at least 1"))
	}
	if c.MaxKeywords < 1 || c.MaxSnippets < 1 || c.SnippetLength < 1 {
		return NewValidationError("classifier", "max_keywords", fmt.Errorf("profile limits must be at least 1"))
	}
	if c.RefreshEvery < 1 {
		return NewValidationError("classifier", "refresh_every", fmt.Errorf("must be at least 1"))
	}
	return nil
}

func (v *ConfigValidator) validateExtraction() error {
	e := v.cfg.Extraction
	if e.CacheTTL <= 0 {
		return NewValidationError("extraction", "cache_ttl", fmt.Errorf("must be positive"))
	}
	if e.HostRatePerSec <= 0 {
		return NewValidationError("extraction", "host_rate_per_sec", fmt.Errorf("must be positive"))
	}
	if e.RateMaxWait <= 0 || e.FetchTimeout <= 0 {
		return NewValidationError("extraction", "rate_max_wait", fmt.Errorf("timeouts must be positive"))
	}
	if e.MinContentLength < 1 {
		return NewValidationError("extraction", "min_content_length", fmt.Errorf("must be at least 1"))
	}
	return nil
}

func (v *ConfigValidator) validateRAG() error {
	r := v.cfg.RAG
	if r.ChunkSize < 1 {
		return NewValidationError("rag", "chunk_size", fmt.Errorf("must be at least 1"))
	}
	if r.ChunkOverlap < 0 || r.ChunkOverlap >= r.ChunkSize {
		return NewValidationError("rag", "chunk_overlap", fmt.Errorf("must be in [0, chunk_size)"))
	}
	if r.DefaultTopK < 1 {
		return NewValidationError("rag", "default_top_k", fmt.Errorf("must be at least 1"))
	}
	if r.ScoreThreshold < 0 || r.ScoreThreshold > 1 {
		return NewValidationError("rag", "score_threshold", fmt.Errorf("must be in [0,1]"))
	}
	return nil
}

func (v *ConfigValidator) validateAgent() error {
	a := v.cfg.Agent
	if a.MaxToolIterations < 1 {
		return NewValidationError("agent", "max_tool_iterations", fmt.Errorf("must be at least 1"))
	}
	if a.ToolTimeout <= 0 {
		return NewValidationError("agent", "tool_timeout", fmt.Errorf("must be positive"))
	}
	return nil
}

func (v *ConfigValidator) validateResearch() error {
	r := v.cfg.Research
	if r.AcademicBaseURL == "" {
		return NewValidationError("research", "academic_base_url", ErrMissingRequiredField)
	}
	if r.AcademicTimeout <= 0 {
		return NewValidationError("research", "academic_timeout", fmt.Errorf("must be positive"))
	}
	if r.AcademicRows < 1 {
		return NewValidationError("research", "academic_rows", fmt.Errorf("must be at least 1"))
	}
	if r.MaxSubQuestions < 1 {
		return NewValidationError("research", "max_sub_questions", fmt.Errorf("must be at least 1"))
	}
	if r.MaxReviewLoops < 0 {
		return NewValidationError("research", "max_review_loops", fmt.Errorf("must be non-negative"))
	}
	return nil
}

func (v *ConfigValidator) validateCorrection() error {
	c := v.cfg.Correction
	if c.Interval <= 0 {
		return NewValidationError("correction", "interval", fmt.Errorf("must be positive"))
	}
	if c.MaxOrphans < 0 || c.MaxWeakEdges < 0 || c.MaxCategory < 0 || c.MaxDuplicate < 0 {
		return NewValidationError("correction", "caps", fmt.Errorf("caps must be non-negative"))
	}
	if c.HistoryLimit < 1 {
		return NewValidationError("correction", "history_limit", fmt.Errorf("must be at least 1"))
	}
	return nil
}

func (v *ConfigValidator) validateQueue() error {
	q := v.cfg.Queue
	if q.WorkerCount < 1 {
		return NewValidationError("queue", "worker_count", fmt.Errorf("must be at least 1"))
	}
	if q.MaxConcurrentOperations < 1 {
		return NewValidationError("queue", "max_concurrent_operations", fmt.Errorf("must be at least 1"))
	}
	if q.OperationTimeout <= 0 || q.GracefulShutdownTimeout <= 0 {
		return NewValidationError("queue", "operation_timeout", fmt.Errorf("timeouts must be positive"))
	}
	return nil
}

func (v *ConfigValidator) validateProgress() error {
	p := v.cfg.Progress
	if p.CheckpointInterval <= 0 {
		return NewValidationError("progress", "checkpoint_interval", fmt.Errorf("must be positive"))
	}
	if p.CheckpointCards < 1 {
		return NewValidationError("progress", "checkpoint_cards", fmt.Errorf("must be at least 1"))
	}
	return nil
}

func (v *ConfigValidator) validateRetention() error {
	r := v.cfg.Retention
	if r.SessionTTL <= 0 {
		return NewValidationError("retention", "session_ttl", fmt.Errorf("must be positive"))
	}
	if r.CheckpointRetention <= 0 {
		return NewValidationError("retention", "checkpoint_retention", fmt.Errorf("must be positive"))
	}
	if r.ExtractionCacheTTL <= 0 {
		return NewValidationError("retention", "extraction_cache_ttl", fmt.Errorf("must be positive"))
	}
	if r.CleanupInterval <= 0 {
		return NewValidationError("retention", "cleanup_interval", fmt.Errorf("must be positive"))
	}
	return nil
}
