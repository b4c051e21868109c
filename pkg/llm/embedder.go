package llm

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"unicode"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	openai "github.com/sashabaranov/go-openai"

	"github.com/viacanvas/intelligence/pkg/config"
)

// Embedder turns text into fixed-dimension vectors. Every vector in the
// system (card embeddings, category centroids, RAG chunks) shares one
// embedder so cosine comparisons stay meaningful.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// OpenAIEmbedder calls the OpenAI embeddings API.
type OpenAIEmbedder struct {
	client *openai.Client
	model  string
	dim    int
}

// NewOpenAIEmbedder creates an embedder backed by the OpenAI API.
func NewOpenAIEmbedder(cfg *config.EmbeddingConfig, logger *slog.Logger) (*OpenAIEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai embedder: api key is required")
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	return &OpenAIEmbedder{
		client: openai.NewClientWithConfig(oc),
		model:  cfg.Model,
		dim:    cfg.Dimension,
	}, nil
}

// Embed embeds all texts in one API call.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      texts,
		Model:      openai.EmbeddingModel(e.model),
		Dimensions: e.dim,
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai embeddings: got %d vectors for %d inputs", len(resp.Data), len(texts))
	}
	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("openai embeddings: vector index %d out of range", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

// Dimension returns the configured vector width.
func (e *OpenAIEmbedder) Dimension() int { return e.dim }

// BedrockEmbedder calls a Titan text embedding model through InvokeModel.
// Titan v2 accepts one input per call, so texts are embedded sequentially.
type BedrockEmbedder struct {
	client *bedrockruntime.Client
	model  string
	dim    int
}

type titanEmbedRequest struct {
	InputText  string `json:"inputText"`
	Dimensions int    `json:"dimensions,omitempty"` // Titan v2: 256, 512 or 1024
	Normalize  bool   `json:"normalize"`
}

type titanEmbedResponse struct {
	Embedding           []float32 `json:"embedding"`
	InputTextTokenCount int       `json:"inputTextTokenCount"`
}

// NewBedrockEmbedder creates an embedder backed by Bedrock Titan.
func NewBedrockEmbedder(ctx context.Context, cfg *config.EmbeddingConfig, logger *slog.Logger) (*BedrockEmbedder, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &BedrockEmbedder{
		client: bedrockruntime.NewFromConfig(awsCfg),
		model:  cfg.Model,
		dim:    cfg.Dimension,
	}, nil
}

// Embed embeds each text with its own InvokeModel call.
func (e *BedrockEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for i, text := range texts {
		body, err := json.Marshal(titanEmbedRequest{InputText: text, Dimensions: e.dim, Normalize: true})
		if err != nil {
			return nil, fmt.Errorf("titan embed request: %w", err)
		}
		resp, err := e.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
			ModelId:     aws.String(e.model),
			Body:        body,
			ContentType: aws.String("application/json"),
			Accept:      aws.String("application/json"),
		})
		if err != nil {
			return nil, fmt.Errorf("titan embed text %d: %w", i, err)
		}
		var parsed titanEmbedResponse
		if err := json.Unmarshal(resp.Body, &parsed); err != nil {
			return nil, fmt.Errorf("titan embed response: %w", err)
		}
		out = append(out, parsed.Embedding)
	}
	return out, nil
}

// Dimension returns the configured vector width.
func (e *BedrockEmbedder) Dimension() int { return e.dim }

// HashEmbedder is a deterministic offline embedder using the feature
// hashing trick: each lowercased token is hashed into one of dim buckets
// with a hashed sign, and the result is L2-normalized. Texts sharing
// vocabulary get similar vectors, which is enough for development and
// tests without a provider key. Not a substitute for real embeddings.
type HashEmbedder struct {
	dim int
}

// NewHashEmbedder creates a hashing embedder with the given dimension.
func NewHashEmbedder(dim int) *HashEmbedder {
	return &HashEmbedder{dim: dim}
}

// Embed hashes each text into a normalized vector. It never fails.
func (e *HashEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = e.embedOne(text)
	}
	return out, nil
}

// Dimension returns the configured vector width.
func (e *HashEmbedder) Dimension() int { return e.dim }

func (e *HashEmbedder) embedOne(text string) []float32 {
	vec := make([]float32, e.dim)
	for _, tok := range tokenize(text) {
		sum := sha256.Sum256([]byte(tok))
		idx := int(binary.BigEndian.Uint32(sum[0:4])) % e.dim
		if sum[4]&1 == 0 {
			vec[idx]++
		} else {
			vec[idx]--
		}
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// ResilientEmbedder wraps a primary embedder with the hashing fallback.
// When the primary fails the texts are re-embedded deterministically and
// the caller's operation continues; the failure is logged, not returned.
// Fallback vectors live in a different space than provider vectors, so a
// degraded card may rank oddly until re-embedded, but bulk operations
// (URL extraction, deep research) no longer die on one transient 500.
type ResilientEmbedder struct {
	primary  Embedder
	fallback *HashEmbedder
	logger   *slog.Logger
}

// NewResilientEmbedder wraps primary with a hash fallback of equal dimension.
func NewResilientEmbedder(primary Embedder, logger *slog.Logger) *ResilientEmbedder {
	return &ResilientEmbedder{
		primary:  primary,
		fallback: NewHashEmbedder(primary.Dimension()),
		logger:   logger,
	}
}

// Embed calls the primary embedder and falls back on any error.
func (e *ResilientEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := e.primary.Embed(ctx, texts)
	if err == nil {
		return vecs, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	e.logger.Warn("embedding provider failed, using deterministic fallback",
		"error", err, "texts", len(texts))
	return e.fallback.Embed(ctx, texts)
}

// Dimension returns the primary embedder's vector width.
func (e *ResilientEmbedder) Dimension() int { return e.primary.Dimension() }
