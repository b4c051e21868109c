// Package tools implements the unit operations agents invoke: URL
// extraction, card growth, similarity and placement queries, categorization,
// merging, conflict detection, canvas and knowledge-base queries, learning
// helpers, and the deep-research pipeline.
//
// Tools are registered in a Registry with a JSON Schema per tool, compiled
// at registration. The Executor parses and validates model-supplied
// arguments, runs the handler under a per-tool timeout, and always returns
// a structured result map carrying a "success" key, so the model can read
// failures and recover instead of the loop aborting.
package tools

import (
	"context"
	"time"

	"github.com/viacanvas/intelligence/pkg/category"
	"github.com/viacanvas/intelligence/pkg/extract"
	"github.com/viacanvas/intelligence/pkg/models"
	"github.com/viacanvas/intelligence/pkg/progress"
)

// Tool names. Agents reference tools by these constants when assembling
// their tool sets.
const (
	NameExtractURLContent            = "extract_url_content"
	NameGetCanvasSummary             = "get_canvas_summary"
	NameGetCardContent               = "get_card_content"
	NameFindSimilarCards             = "find_similar_cards"
	NameSuggestCardPlacement         = "suggest_card_placement"
	NameCreateIntelligentConnections = "create_intelligent_connections"
	NameCategorizeCard               = "categorize_card"
	NameGrowCardContent              = "grow_card_content"
	NameMergeCards                   = "merge_cards"
	NameDetectConflicts              = "detect_conflicts"
	NameSimplifyContent              = "simplify_content"
	NameFindRealExamples             = "find_real_examples"
	NameAnalyzeKnowledgeGaps         = "analyze_knowledge_gaps"
	NameCreateActionPlan             = "create_action_plan"
	NameAnswerCanvasQuestion         = "answer_canvas_question"
	NameSearchAcademicSources        = "search_academic_sources"
	NameFindCounterpoints            = "find_counterpoints"
	NameRefreshInformation           = "refresh_information"
	NameSurprisingConnections        = "find_surprising_connections"
	NameCreateLearningCluster        = "create_learning_cluster"
	NameDeepResearch                 = "deep_research"
)

// Handler executes one tool invocation with parsed, schema-validated
// arguments. The returned map is the structured tool result; a non-nil
// error becomes a {success:false, error} result for the model.
type Handler func(ctx context.Context, args Args) (map[string]any, error)

// Tool couples a definition with its handler. Schema is a JSON Schema for
// the arguments object; empty means the tool takes no validated arguments.
// Timeout overrides the executor's default when positive.
type Tool struct {
	Name        string
	Description string
	Schema      string
	Timeout     time.Duration
	Handler     Handler
}

// OK builds a success result. The "success" key is reserved; handlers put
// their payload in fields.
func OK(fields map[string]any) map[string]any {
	if fields == nil {
		fields = map[string]any{}
	}
	fields["success"] = true
	return fields
}

// Fail builds a failure result the model can read and recover from.
func Fail(message string) map[string]any {
	return map[string]any{"success": false, "error": message}
}

// CanvasAPI is the canvas-client subset the tool sets use.
type CanvasAPI interface {
	CreateCard(ctx context.Context, card *models.Card) (*models.Card, error)
	GetCard(ctx context.Context, id string) (*models.Card, error)
	ListCards(ctx context.Context, canvasID string) ([]*models.Card, error)
	UpdateCard(ctx context.Context, card *models.Card) (*models.Card, error)
	DeleteCard(ctx context.Context, id string) error
	CreateConnection(ctx context.Context, conn *models.Connection) (*models.Connection, error)
	ListConnections(ctx context.Context, canvasID string) ([]*models.Connection, error)
}

// GraphState is the knowledge-state subset the tool sets use. Writes stay
// with the sync service; tools only read the mirror and set categories.
type GraphState interface {
	GetCard(ctx context.Context, id string) (*models.GraphNode, error)
	FindSimilar(ctx context.Context, id string, limit int) ([]models.Similarity, error)
	FindParentCandidate(ctx context.Context, embedding []float32, cat string, minScore float64) (*models.Similarity, error)
	SetCategory(ctx context.Context, id, cat string) error
	Stats(ctx context.Context) (*models.GraphStats, error)
}

// Categorizer is the category-manager subset the tool sets use.
type Categorizer interface {
	Classify(ctx context.Context, text string, embedding []float32) (*category.Decision, []category.Candidate, error)
	Assign(ctx context.Context, text string, embedding []float32, decision *category.Decision) (string, error)
	SemanticMatch(embedding []float32) (*models.CategoryProfile, float64)
}

// Retriever is the RAG subset the learning tools use.
type Retriever interface {
	RetrieveContext(ctx context.Context, query, canvasID string, topK int, scoreThreshold float64) (string, error)
	Search(ctx context.Context, query, canvasID, entityType string, topK int, scoreThreshold float64) ([]models.SearchResult, error)
}

// Extractor is the extraction-service subset the extraction tools use.
type Extractor interface {
	ExtractToCards(ctx context.Context, rawURL, canvasID, parentID string, tracker *progress.Tracker) (*extract.BuildResult, error)
	ExtractURL(ctx context.Context, rawURL string) (*extract.Payload, error)
}

// Runner executes a long-running operation with progress tracking and
// cooperative cancellation. Implemented by queue.WorkerPool: the pool owns
// the tracker's lifecycle and terminal transitions; the task reports
// progress and honors ctx cancellation between steps.
type Runner interface {
	Execute(ctx context.Context, op models.Operation, task func(ctx context.Context, tracker *progress.Tracker) error) error
}
