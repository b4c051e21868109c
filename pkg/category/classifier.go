package category

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/viacanvas/intelligence/pkg/config"
	"github.com/viacanvas/intelligence/pkg/llm"
	"github.com/viacanvas/intelligence/pkg/models"
)

// Action is the classifier's verdict for a piece of content.
type Action string

const (
	// ActionMatch assigns the content to an existing profile.
	ActionMatch Action = "match"
	// ActionCreateNew starts a new profile seeded from this content.
	ActionCreateNew Action = "create_new"
	// ActionUncategorized leaves the content unassigned.
	ActionUncategorized Action = "uncategorized"
)

// IsValid checks if the action is valid.
func (a Action) IsValid() bool {
	return a == ActionMatch || a == ActionCreateNew || a == ActionUncategorized
}

// NewCategory is the payload a create_new decision must carry.
type NewCategory struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Keywords    []string `json:"keywords"`
}

// Decision is the validated outcome of stage B.
type Decision struct {
	Action      Action       `json:"action"`
	CategoryID  string       `json:"category_id,omitempty"`
	Confidence  float64      `json:"confidence"`
	NewCategory *NewCategory `json:"new_category,omitempty"`

	// Fallback marks decisions produced deterministically because the
	// model call failed or its output did not validate.
	Fallback bool `json:"fallback,omitempty"`
}

// classifySystemPrompt instructs the model on the decision contract.
const classifySystemPrompt = `You are a categorization assistant for a mind-mapping canvas. Given a piece of content and a list of candidate categories, decide where the content belongs.

Respond with a single JSON object and nothing else:
{"action": "match" | "create_new" | "uncategorized", "confidence": 0.0-1.0, "category_id": "<id, required for match>", "new_category": {"name": "...", "description": "...", "keywords": ["..."]}}

Rules:
- "match": the content clearly belongs to one candidate. Set category_id to that candidate's id.
- "create_new": the content forms a coherent topic no candidate covers. Provide name, a one-sentence description, and 3-8 keywords.
- "uncategorized": the content is too thin or ambiguous to place.
- Prefer matching an existing category over creating a near-duplicate.`

// maxClassifyChars bounds the content shown to the model; card bodies can
// be whole extracted articles.
const maxClassifyChars = 2000

// Classifier is stage B of the pipeline: an LLM decision over the
// retrieved candidates, with strict validation and a deterministic
// fallback so classification never blocks on a misbehaving model.
type Classifier struct {
	client llm.Client
	cfg    *config.ClassifierConfig
	logger *slog.Logger
}

// NewClassifier wires a chat client into a classifier.
func NewClassifier(client llm.Client, cfg *config.ClassifierConfig, logger *slog.Logger) *Classifier {
	return &Classifier{client: client, cfg: cfg, logger: logger.With("component", "classifier")}
}

// Decide asks the model to place text among the candidates. Model failure
// or output that does not validate degrades to the deterministic fallback:
// match the best candidate iff its combined score reaches FallbackScore,
// else uncategorized. Context cancellation is the one error that surfaces.
func (c *Classifier) Decide(ctx context.Context, text string, candidates []Candidate, profiles map[string]*models.CategoryProfile) (*Decision, error) {
	input := &llm.GenerateInput{
		Messages: []llm.ConversationMessage{
			{Role: "system", Content: classifySystemPrompt},
			{Role: "user", Content: buildClassifyPrompt(text, candidates, profiles)},
		},
		MaxTokens:   512,
		Temperature: 0.1,
	}

	ch, err := c.client.Generate(ctx, input)
	if err != nil {
		return c.recover(ctx, candidates, fmt.Errorf("generate: %w", err))
	}
	result, err := llm.Collect(ctx, ch)
	if err != nil {
		return c.recover(ctx, candidates, fmt.Errorf("collect: %w", err))
	}

	var raw Decision
	if err := llm.ExtractJSON(result.Text, &raw); err != nil {
		return c.recover(ctx, candidates, err)
	}
	if err := validateDecision(&raw, profiles); err != nil {
		return c.recover(ctx, candidates, err)
	}
	return &raw, nil
}

func (c *Classifier) recover(ctx context.Context, candidates []Candidate, cause error) (*Decision, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	c.logger.Warn("classifier output rejected, using fallback", "error", cause)
	return Fallback(candidates, c.cfg.FallbackScore), nil
}

// Fallback is the deterministic stage-B substitute: the best candidate
// wins iff its combined score reaches minScore, otherwise uncategorized.
func Fallback(candidates []Candidate, minScore float64) *Decision {
	if len(candidates) > 0 && candidates[0].Combined >= minScore {
		return &Decision{
			Action:     ActionMatch,
			CategoryID: candidates[0].ID,
			Confidence: candidates[0].Combined,
			Fallback:   true,
		}
	}
	return &Decision{Action: ActionUncategorized, Fallback: true}
}

// validateDecision enforces the decision contract against the known
// profile set. Anything off-contract is an error, not a repair: repairs
// belong to the fallback so behavior stays predictable.
func validateDecision(d *Decision, profiles map[string]*models.CategoryProfile) error {
	if !d.Action.IsValid() {
		return fmt.Errorf("invalid action %q", d.Action)
	}
	if d.Confidence < 0 || d.Confidence > 1 {
		return fmt.Errorf("confidence %v out of range", d.Confidence)
	}
	switch d.Action {
	case ActionMatch:
		if d.CategoryID == "" {
			return fmt.Errorf("match decision without category_id")
		}
		if _, ok := profiles[d.CategoryID]; !ok {
			return fmt.Errorf("match decision names unknown category %q", d.CategoryID)
		}
	case ActionCreateNew:
		nc := d.NewCategory
		if nc == nil || strings.TrimSpace(nc.Name) == "" || strings.TrimSpace(nc.Description) == "" || len(nc.Keywords) == 0 {
			return fmt.Errorf("create_new decision missing name, description, or keywords")
		}
	}
	return nil
}

func buildClassifyPrompt(text string, candidates []Candidate, profiles map[string]*models.CategoryProfile) string {
	var b strings.Builder
	b.WriteString("## Content\n")
	if len(text) > maxClassifyChars {
		text = text[:maxClassifyChars]
	}
	b.WriteString(text)
	b.WriteString("\n\n## Candidate categories\n")
	if len(candidates) == 0 {
		b.WriteString("(none retrieved)\n")
	}
	for i, cand := range candidates {
		p := profiles[cand.ID]
		if p == nil {
			continue
		}
		terms := make([]string, 0, len(p.Keywords))
		for _, kw := range p.Keywords {
			terms = append(terms, kw.Term)
		}
		fmt.Fprintf(&b, "%d. id=%s name=%q score=%.3f\n   description: %s\n   keywords: %s\n",
			i+1, p.ID, p.Name, cand.Combined, p.Description, strings.Join(terms, ", "))
	}
	return b.String()
}
