// Package ai defines the interfaces for image understanding: tag extraction
// from image bytes and text embedding for similarity search.
package ai

import (
	"context"
	"errors"
)

// Sentinel errors for AI operations.
var (
	// ErrInvalidConfig indicates the client configuration is unusable.
	ErrInvalidConfig = errors.New("invalid AI configuration")

	// ErrEmptyInput indicates the caller passed no content to analyze.
	ErrEmptyInput = errors.New("empty input")

	// ErrInvalidResponse indicates the model returned something the client
	// could not parse.
	ErrInvalidResponse = errors.New("invalid model response")

	// ErrContentBlocked indicates the model refused the content. This is
	// permanent; retrying the same input will not help.
	ErrContentBlocked = errors.New("content blocked by safety filters")
)

// Tagger extracts descriptive tags from image bytes.
type Tagger interface {
	AnalyzeImage(ctx context.Context, data []byte, contentType string) ([]string, error)
}

// Embedder converts text into an embedding vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}
