// Package vector persists image embeddings and serves similarity search.
// Each image is stored as one document whose content is its tag text, so a
// vector can always be rebuilt from the catalog row alone.
package vector

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	chromem "github.com/philippgille/chromem-go"

	"github.com/imagevault/imagevault/internal/ai"
	"github.com/imagevault/imagevault/internal/domain"
)

// StoreConfig holds vector store configuration.
type StoreConfig struct {
	// PersistPath is the directory for the on-disk index. Empty means
	// in-memory only, which tests use.
	PersistPath string

	// Collection is the chromem collection name.
	Collection string
}

// SearchResult is one similarity hit.
type SearchResult struct {
	ImageID    int64
	Similarity float32
	Tags       []string
}

// Store manages image embeddings over a chromem collection.
type Store struct {
	db         *chromem.DB
	collection *chromem.Collection
	config     StoreConfig
}

// NewStore creates (or reopens) the vector store. Embeddings are produced by
// the given embedder on write and on query.
func NewStore(config StoreConfig, embedder ai.Embedder) (*Store, error) {
	if config.Collection == "" {
		config.Collection = "images"
	}

	var (
		db  *chromem.DB
		err error
	)
	if config.PersistPath != "" {
		persistFile := filepath.Join(config.PersistPath, "chromem.gob")
		db, err = chromem.NewPersistentDB(persistFile, false)
		if err != nil {
			return nil, fmt.Errorf("failed to open persistent vector DB: %w", err)
		}
	} else {
		db = chromem.NewDB()
	}

	embeddingFunc := func(ctx context.Context, text string) ([]float32, error) {
		return embedder.Embed(ctx, text)
	}

	collection, err := db.GetOrCreateCollection(config.Collection, nil, embeddingFunc)
	if err != nil {
		return nil, fmt.Errorf("failed to create vector collection: %w", err)
	}

	return &Store{
		db:         db,
		collection: collection,
		config:     config,
	}, nil
}

// Upsert writes the embedding document for an image. Re-adding an existing
// ID replaces the previous document, which is what rebuild relies on.
func (s *Store) Upsert(ctx context.Context, image *domain.Image) error {
	if len(image.Tags) == 0 {
		return fmt.Errorf("image %d has no tags to embed", image.ID)
	}

	doc := chromem.Document{
		ID:      docID(image.ID),
		Content: strings.Join(image.Tags, ", "),
		Metadata: map[string]string{
			"filename": image.Filename,
			"category": image.CategoryCode,
			"tags":     strings.Join(image.Tags, ","),
		},
	}

	if err := s.collection.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("failed to add vector document for image %d: %w", image.ID, err)
	}

	return nil
}

// Delete removes an image's embedding. Missing documents are ignored.
func (s *Store) Delete(ctx context.Context, imageID int64) error {
	if err := s.collection.Delete(ctx, nil, nil, docID(imageID)); err != nil {
		return fmt.Errorf("failed to delete vector document for image %d: %w", imageID, err)
	}

	return nil
}

// SearchByText returns the topK most similar images to the query text.
func (s *Store) SearchByText(ctx context.Context, query string, topK int) ([]SearchResult, error) {
	if topK <= 0 {
		topK = 10
	}
	if count := s.collection.Count(); count < topK {
		topK = count
	}
	if topK == 0 {
		return nil, nil
	}

	hits, err := s.collection.Query(ctx, query, topK, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("vector query failed: %w", err)
	}

	results := make([]SearchResult, 0, len(hits))
	for _, hit := range hits {
		imageID, err := parseDocID(hit.ID)
		if err != nil {
			continue
		}

		var tags []string
		if raw := hit.Metadata["tags"]; raw != "" {
			tags = strings.Split(raw, ",")
		}

		results = append(results, SearchResult{
			ImageID:    imageID,
			Similarity: hit.Similarity,
			Tags:       tags,
		})
	}

	return results, nil
}

// Count returns the number of stored embeddings.
func (s *Store) Count() int {
	return s.collection.Count()
}

func docID(imageID int64) string {
	return "image-" + strconv.FormatInt(imageID, 10)
}

func parseDocID(id string) (int64, error) {
	return strconv.ParseInt(strings.TrimPrefix(id, "image-"), 10, 64)
}
