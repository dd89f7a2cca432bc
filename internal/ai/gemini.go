package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"strings"
	"time"

	"google.golang.org/genai"
)

// tagPrompt instructs the vision model to answer with a bare JSON array so
// the response parses without markdown stripping heuristics.
const tagPrompt = `Analyze this image and return descriptive tags for it.
Respond with only a JSON array of lowercase strings, for example:
["sunset", "beach", "silhouette"]
Return between 3 and 15 tags. No prose, no markdown fences.`

// GeminiConfig holds the settings for the Gemini-backed client.
type GeminiConfig struct {
	APIKey         string
	VisionModel    string
	EmbeddingModel string

	// MaxRetries bounds retry attempts for transient API failures.
	// RetryDelay is the base for exponential backoff between attempts.
	MaxRetries int
	RetryDelay time.Duration
}

// GeminiClient implements Tagger and Embedder using Google's Gemini API.
type GeminiClient struct {
	client *genai.Client
	config GeminiConfig
	logger *slog.Logger
}

// NewGeminiClient creates a Gemini client for vision tagging and embeddings.
func NewGeminiClient(ctx context.Context, cfg GeminiConfig, logger *slog.Logger) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: API key cannot be empty", ErrInvalidConfig)
	}
	if cfg.VisionModel == "" {
		return nil, fmt.Errorf("%w: vision model cannot be empty", ErrInvalidConfig)
	}
	if cfg.EmbeddingModel == "" {
		return nil, fmt.Errorf("%w: embedding model cannot be empty", ErrInvalidConfig)
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create Gemini client: %v", ErrInvalidConfig, err)
	}

	return &GeminiClient{
		client: client,
		config: cfg,
		logger: logger.With(slog.String("component", "gemini_client")),
	}, nil
}

var (
	_ Tagger   = (*GeminiClient)(nil)
	_ Embedder = (*GeminiClient)(nil)
)

// AnalyzeImage sends the image to the vision model and parses the returned
// tag array. Transient API failures are retried with exponential backoff;
// blocked content and malformed responses are permanent.
func (g *GeminiClient) AnalyzeImage(ctx context.Context, data []byte, contentType string) ([]string, error) {
	if len(data) == 0 {
		return nil, ErrEmptyInput
	}
	if contentType == "" {
		contentType = "image/jpeg"
	}

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromBytes(data, contentType),
			genai.NewPartFromText(tagPrompt),
		}, genai.RoleUser),
	}

	var tags []string
	err := g.withRetry(ctx, "analyze_image", func() (bool, error) {
		resp, err := g.client.Models.GenerateContent(ctx, g.config.VisionModel, contents, nil)
		if err != nil {
			// API errors are assumed transient.
			return true, err
		}
		if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
			return false, fmt.Errorf("%w: no content generated", ErrInvalidResponse)
		}
		if resp.Candidates[0].FinishReason == genai.FinishReasonSafety {
			return false, ErrContentBlocked
		}

		parsed, err := parseTagResponse(resp.Text())
		if err != nil {
			return false, err
		}

		tags = parsed
		return false, nil
	})
	if err != nil {
		return nil, err
	}

	return tags, nil
}

// Embed converts text into an embedding vector using the embedding model.
func (g *GeminiClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyInput
	}

	contents := []*genai.Content{genai.NewContentFromText(text, genai.RoleUser)}

	var vector []float32
	err := g.withRetry(ctx, "embed", func() (bool, error) {
		resp, err := g.client.Models.EmbedContent(ctx, g.config.EmbeddingModel, contents, nil)
		if err != nil {
			return true, err
		}
		if resp == nil || len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
			return false, fmt.Errorf("%w: empty embedding", ErrInvalidResponse)
		}

		vector = resp.Embeddings[0].Values
		return false, nil
	})
	if err != nil {
		return nil, err
	}

	return vector, nil
}

// withRetry runs call until it succeeds, reports a permanent error or the
// attempt budget runs out. call returns whether its error is transient.
func (g *GeminiClient) withRetry(ctx context.Context, operation string, call func() (bool, error)) error {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	var lastErr error
	for attempt := 0; attempt <= g.config.MaxRetries; attempt++ {
		transient, err := call()
		if err == nil {
			return nil
		}

		lastErr = err
		if !transient {
			return err
		}

		g.logger.WarnContext(ctx, "Gemini API call failed",
			"operation", operation,
			"attempt", attempt+1,
			"max_attempts", g.config.MaxRetries+1,
			"error", err)

		if attempt == g.config.MaxRetries {
			break
		}

		// Exponential backoff with jitter.
		backoff := time.Duration(float64(g.config.RetryDelay) * math.Pow(2, float64(attempt)))
		backoff += time.Duration(rng.Int63n(int64(g.config.RetryDelay)))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}

	return fmt.Errorf("gemini %s failed after %d attempts: %w",
		operation, g.config.MaxRetries+1, lastErr)
}

// parseTagResponse extracts the JSON tag array from the model's text reply,
// tolerating markdown fences the model sometimes adds anyway.
func parseTagResponse(text string) ([]string, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	var tags []string
	if err := json.Unmarshal([]byte(text), &tags); err != nil {
		return nil, fmt.Errorf("%w: failed to parse tag array: %v", ErrInvalidResponse, err)
	}
	if len(tags) == 0 {
		return nil, fmt.Errorf("%w: empty tag array", ErrInvalidResponse)
	}

	normalized := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		normalized = append(normalized, tag)
	}
	if len(normalized) == 0 {
		return nil, fmt.Errorf("%w: no usable tags", ErrInvalidResponse)
	}

	return normalized, nil
}
