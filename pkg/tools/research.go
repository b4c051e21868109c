package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/viacanvas/intelligence/pkg/config"
	"github.com/viacanvas/intelligence/pkg/llm"
	"github.com/viacanvas/intelligence/pkg/models"
	"github.com/viacanvas/intelligence/pkg/progress"
)

const researchBriefPrompt = `You frame a research question before investigating it.

State what the question is really asking and which angles are worth investigating.

Respond with a single JSON object and nothing else:
{"goal": "one sentence", "angles": ["...", "..."]}`

const decomposePrompt = `You decompose a research question into sub-questions.

Write focused sub-questions that together cover the main question. Each must be independently searchable and phrased as a full question.

Respond with a single JSON object and nothing else:
{"sub_questions": ["...", "..."]}`

const insightPrompt = `You brief a researcher from your own knowledge.

Answer the question in 3-6 sentences of dense, factual prose. State uncertainty plainly instead of guessing. No preamble.`

const reviewPrompt = `You review research findings for holes before synthesis.

Given the main question and the findings gathered so far, name the most important aspects still unanswered. An empty list means the findings suffice.

Respond with a single JSON object and nothing else:
{"gaps": ["unanswered aspect phrased as a searchable question", "..."]}`

const synthesisPrompt = `You synthesize research findings into a structured report for a mind-mapping canvas.

Write a root summary and one section per major theme. Sections must synthesize across findings, not repeat them one by one. Cite sources by their bracketed numbers where they support a claim.

Respond with a single JSON object and nothing else:
{"title": "...", "summary": "...", "sections": [{"title": "...", "content": "..."}]}`

// ResearchTools runs the deep-research pipeline: frame the question,
// decompose it, gather evidence per sub-question from the works API, the
// learner's canvas, and the model itself in parallel, review for gaps,
// synthesize, and build a card cluster with citations.
type ResearchTools struct {
	client   llm.Client
	rag      Retriever
	academic *AcademicClient
	writer   *CardWriter
	runner   Runner
	cfg      *config.ResearchConfig
	ragCfg   *config.RAGConfig
	logger   *slog.Logger
}

// NewResearchTools wires the research tool set.
func NewResearchTools(client llm.Client, retriever Retriever, academic *AcademicClient,
	writer *CardWriter, runner Runner, cfg *config.ResearchConfig, ragCfg *config.RAGConfig,
	logger *slog.Logger) *ResearchTools {
	if cfg == nil {
		cfg = config.DefaultResearchConfig()
	}
	if ragCfg == nil {
		ragCfg = config.DefaultRAGConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ResearchTools{
		client:   client,
		rag:      retriever,
		academic: academic,
		writer:   writer,
		runner:   runner,
		cfg:      cfg,
		ragCfg:   ragCfg,
		logger:   logger.With("component", "research_tools"),
	}
}

// Register adds the research tools to the registry.
func (t *ResearchTools) Register(r *Registry) error {
	return r.Register(Tool{
		Name:        NameDeepResearch,
		Description: "Research a question in depth: decompose it, gather evidence from literature, the canvas, and model knowledge, review for gaps, and build a cited card cluster with the findings.",
		Schema: `{
			"type": "object",
			"properties": {
				"canvas_id": {"type": "string", "description": "The canvas to build the research cluster on"},
				"query": {"type": "string", "description": "The research question"},
				"max_sub_questions": {"type": "integer", "minimum": 2, "maximum": 8, "description": "Decomposition cap, default from configuration"}
			},
			"required": ["canvas_id", "query"]
		}`,
		Handler: t.deepResearch,
	})
}

type researchBrief struct {
	Goal   string   `json:"goal"`
	Angles []string `json:"angles"`
}

type subQuestionList struct {
	SubQuestions []string `json:"sub_questions"`
}

type gapReview struct {
	Gaps []string `json:"gaps"`
}

type researchReport struct {
	Title    string `json:"title"`
	Summary  string `json:"summary"`
	Sections []struct {
		Title   string `json:"title"`
		Content string `json:"content"`
	} `json:"sections"`
}

// finding is the evidence gathered for one sub-question.
type finding struct {
	Question string
	Sources  []Source
	Canvas   string
	Insight  string
}

func (t *ResearchTools) deepResearch(ctx context.Context, args Args) (map[string]any, error) {
	canvasID := args.String("canvas_id")
	query := args.String("query")
	maxSubQuestions := args.IntOr("max_sub_questions", t.cfg.MaxSubQuestions)

	op := models.Operation{
		OperationID:   uuid.NewString(),
		OperationType: models.OperationTypeDeepResearch,
		CanvasID:      canvasID,
		SessionID:     args.String("session_id"),
	}

	var createdIDs []string
	var rootID string
	var subQuestions []string
	var sourceCount int
	err := t.runner.Execute(ctx, op, func(ctx context.Context, tracker *progress.Tracker) error {
		tracker.Update(ctx, "analyzing", 0.05, fmt.Sprintf("Framing the question %q", query))
		brief, err := askJSON[researchBrief](ctx, t.client, researchBriefPrompt, "Question: "+query, 0)
		if err != nil {
			return fmt.Errorf("frame question: %w", err)
		}

		tracker.Update(ctx, "decomposing", 0.15, "Breaking the question into sub-questions")
		subQuestions, err = t.decompose(ctx, query, brief, maxSubQuestions)
		if err != nil {
			return err
		}

		findings := make([]*finding, 0, len(subQuestions))
		for i, question := range subQuestions {
			if err := ctx.Err(); err != nil {
				return err
			}
			tracker.Update(ctx, "gathering", 0.2+0.3*float64(i+1)/float64(len(subQuestions)),
				fmt.Sprintf("Gathering evidence: %s", question))
			f, err := t.gather(ctx, canvasID, question)
			if err != nil {
				return err
			}
			findings = append(findings, f)
		}

		findings, err = t.reviewLoop(ctx, tracker, canvasID, query, findings)
		if err != nil {
			return err
		}

		sources := dedupeSources(findings)
		sourceCount = len(sources)

		tracker.Update(ctx, "synthesizing", 0.7, "Synthesizing findings into a report")
		report, err := askJSON[researchReport](ctx, t.client, synthesisPrompt,
			findingsDigest(query, brief, findings, sources), 0)
		if err != nil {
			return fmt.Errorf("synthesis: %w", err)
		}
		if strings.TrimSpace(report.Summary) == "" && len(report.Sections) == 0 {
			return errors.New("synthesis produced an empty report")
		}

		rootID, err = t.buildCluster(ctx, tracker, canvasID, query, report, sources, &createdIDs)
		if err != nil {
			return err
		}

		tracker.Complete(ctx, fmt.Sprintf("Research complete: %d cards from %d sub-questions and %d sources",
			len(createdIDs), len(subQuestions), len(sources)))
		return nil
	})
	if err != nil {
		out := Fail(fmt.Sprintf("deep research failed: %s", err))
		out["operation_id"] = op.OperationID
		if rootID != "" {
			out["root_card_id"] = rootID
		}
		if len(createdIDs) > 0 {
			out["cards_created"] = createdIDs
		}
		return out, nil
	}

	return OK(map[string]any{
		"operation_id":  op.OperationID,
		"root_card_id":  rootID,
		"cards_created": createdIDs,
		"sub_questions": subQuestions,
		"sources_found": sourceCount,
	}), nil
}

// decompose splits the main question. The brief's angles steer the model;
// the main question itself is the fallback when decomposition fails.
func (t *ResearchTools) decompose(ctx context.Context, query string, brief *researchBrief, cap int) ([]string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Main question: %s\n", query)
	if brief.Goal != "" {
		fmt.Fprintf(&b, "Goal: %s\n", brief.Goal)
	}
	if len(brief.Angles) > 0 {
		fmt.Fprintf(&b, "Angles to cover: %s\n", strings.Join(brief.Angles, "; "))
	}
	fmt.Fprintf(&b, "Write up to %d sub-questions.", cap)

	out, err := askJSON[subQuestionList](ctx, t.client, decomposePrompt, b.String(), 0)
	if err != nil {
		return nil, fmt.Errorf("decompose question: %w", err)
	}
	questions := make([]string, 0, cap)
	for _, q := range out.SubQuestions {
		if q = strings.TrimSpace(q); q == "" {
			continue
		}
		questions = append(questions, q)
		if len(questions) == cap {
			break
		}
	}
	if len(questions) == 0 {
		questions = []string{query}
	}
	return questions, nil
}

// gather collects evidence for one question from the three sources in
// parallel. A source failing is degradation, not an error; only
// cancellation aborts the group.
func (t *ResearchTools) gather(ctx context.Context, canvasID, question string) (*finding, error) {
	f := &finding{Question: question}
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		sources, err := t.academic.Search(ctx, question, t.cfg.AcademicRows)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			t.logger.Debug("academic source unavailable", "question", question, "error", err)
			return nil
		}
		f.Sources = sources
		return nil
	})
	g.Go(func() error {
		canvasCtx, err := t.rag.RetrieveContext(ctx, question, canvasID,
			t.ragCfg.DefaultTopK, t.ragCfg.ScoreThreshold)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			t.logger.Debug("canvas context unavailable", "question", question, "error", err)
			return nil
		}
		f.Canvas = canvasCtx
		return nil
	})
	g.Go(func() error {
		insight, err := askText(ctx, t.client, insightPrompt, "Question: "+question, 0)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			t.logger.Debug("insight generation failed", "question", question, "error", err)
			return nil
		}
		f.Insight = strings.TrimSpace(insight)
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return f, nil
}

// reviewLoop asks the model for unanswered aspects and gathers on them,
// bounded by MaxReviewLoops with at most three gaps per loop. Review
// failures end the loop; the findings so far still synthesize.
func (t *ResearchTools) reviewLoop(ctx context.Context, tracker *progress.Tracker,
	canvasID, query string, findings []*finding) ([]*finding, error) {
	for loop := 0; loop < t.cfg.MaxReviewLoops; loop++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		tracker.Update(ctx, "reviewing", 0.5+0.07*float64(loop+1),
			"Reviewing findings for gaps")

		review, err := askJSON[gapReview](ctx, t.client, reviewPrompt,
			findingsDigest(query, nil, findings, nil), 0)
		if err != nil {
			t.logger.Warn("findings review failed, synthesizing as-is", "error", err)
			return findings, nil
		}
		gaps := make([]string, 0, 3)
		for _, gap := range review.Gaps {
			if gap = strings.TrimSpace(gap); gap == "" {
				continue
			}
			gaps = append(gaps, gap)
			if len(gaps) == 3 {
				break
			}
		}
		if len(gaps) == 0 {
			return findings, nil
		}

		for _, gap := range gaps {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			f, err := t.gather(ctx, canvasID, gap)
			if err != nil {
				return nil, err
			}
			findings = append(findings, f)
		}
	}
	return findings, nil
}

// dedupeSources flattens findings into one numbered source list, keyed by
// DOI when present and lowercased title otherwise.
func dedupeSources(findings []*finding) []Source {
	var out []Source
	seen := make(map[string]bool)
	for _, f := range findings {
		for _, src := range f.Sources {
			key := src.DOI
			if key == "" {
				key = strings.ToLower(src.Title)
			}
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, src)
		}
	}
	return out
}

// findingsDigest renders findings for review and synthesis prompts. The
// source numbering matches the references card built later.
func findingsDigest(query string, brief *researchBrief, findings []*finding, sources []Source) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Main question: %s\n", query)
	if brief != nil && brief.Goal != "" {
		fmt.Fprintf(&b, "Goal: %s\n", brief.Goal)
	}
	for _, f := range findings {
		fmt.Fprintf(&b, "\n## %s\n", f.Question)
		if f.Insight != "" {
			fmt.Fprintf(&b, "Briefing: %s\n", f.Insight)
		}
		if f.Canvas != "" {
			fmt.Fprintf(&b, "From the learner's canvas:\n%s\n", clipText(f.Canvas, 1500))
		}
		if len(f.Sources) > 0 {
			fmt.Fprintf(&b, "Literature found: %d items\n", len(f.Sources))
		}
	}
	if len(sources) > 0 {
		b.WriteString("\n## Sources\n")
		for i, src := range sources {
			fmt.Fprintf(&b, "[%d] %s\n", i+1, src.Label())
		}
	}
	return b.String()
}

// buildCluster writes the report as cards: a root summary, one child per
// section, and a references card when any sources were found.
func (t *ResearchTools) buildCluster(ctx context.Context, tracker *progress.Tracker,
	canvasID, query string, report *researchReport, sources []Source, createdIDs *[]string) (string, error) {
	refs := make([]string, 0, len(sources))
	for _, src := range sources {
		if ref := src.Ref(); ref != "" {
			refs = append(refs, ref)
		}
	}

	total := 1 + len(report.Sections)
	if len(sources) > 0 {
		total++
	}
	made := 0
	step := func(title, id string) {
		made++
		*createdIDs = append(*createdIDs, id)
		tracker.Update(ctx, "creating_cards", 0.75+0.23*float64(made)/float64(total),
			fmt.Sprintf("Created card %q", title), id)
	}

	title := report.Title
	if title == "" {
		title = "Research: " + clipText(query, 60)
	}
	root, err := t.writer.CreateCard(ctx, &models.Card{
		CanvasID:   canvasID,
		Title:      title,
		Content:    report.Summary,
		CardType:   models.CardTypeRichText,
		SourceType: models.SourceTypeAIGenerated,
		Tags:       []string{"research"},
		Sources:    refs,
	})
	if err != nil {
		return "", fmt.Errorf("create research root card: %w", err)
	}
	step(title, root.ID)

	for _, section := range report.Sections {
		if err := ctx.Err(); err != nil {
			return root.ID, err
		}
		child, err := t.writer.CreateChild(ctx, root.ID, &models.Card{
			CanvasID:   canvasID,
			Title:      section.Title,
			Content:    section.Content,
			CardType:   models.CardTypeRichText,
			SourceType: models.SourceTypeAIGenerated,
			Tags:       []string{"research"},
		}, models.ConnectionTypeParentChild)
		if err != nil {
			return root.ID, fmt.Errorf("create section card %q: %w", section.Title, err)
		}
		step(section.Title, child.ID)
	}

	if len(sources) > 0 {
		var b strings.Builder
		for i, src := range sources {
			fmt.Fprintf(&b, "[%d] %s", i+1, src.Label())
			if ref := src.Ref(); ref != "" {
				fmt.Fprintf(&b, "\n    %s", ref)
			}
			b.WriteString("\n")
		}
		refsCard, err := t.writer.CreateChild(ctx, root.ID, &models.Card{
			CanvasID:   canvasID,
			Title:      "References",
			Content:    b.String(),
			CardType:   models.CardTypeRichText,
			SourceType: models.SourceTypeAIGenerated,
			Tags:       []string{"references"},
			Sources:    refs,
		}, models.ConnectionTypeReference)
		if err != nil {
			return root.ID, fmt.Errorf("create references card: %w", err)
		}
		step("References", refsCard.ID)
	}

	return root.ID, nil
}
