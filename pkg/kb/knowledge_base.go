package kb

import (
	"context"
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/datapilot-ai/datapilot-engine/pkg/llm"
)

// Match is a knowledge base entry scored against a query error.
type Match struct {
	ErrorMessage string
	Resolution   string
	Similarity   float64
}

// Config tunes similarity retrieval.
type Config struct {
	TopK                int
	SimilarityThreshold float64
	EmbeddingModel      string
}

// KnowledgeBase records resolved errors and retrieves similar past errors
// for the repair loop.
type KnowledgeBase struct {
	store     Store
	llmClient llm.Client
	cfg       Config
	logger    *zap.Logger
}

// New creates a knowledge base over the given store and embedding client.
func New(store Store, llmClient llm.Client, cfg Config, logger *zap.Logger) *KnowledgeBase {
	if cfg.TopK <= 0 {
		cfg.TopK = 4
	}
	return &KnowledgeBase{
		store:     store,
		llmClient: llmClient,
		cfg:       cfg,
		logger:    logger.Named("kb"),
	}
}

// Record stores an error with the resolution that fixed it.
func (kb *KnowledgeBase) Record(ctx context.Context, errorMessage, resolution string) error {
	embedding, err := kb.llmClient.CreateEmbedding(ctx, errorMessage, kb.cfg.EmbeddingModel)
	if err != nil {
		return fmt.Errorf("embed error message: %w", err)
	}

	entry := &Entry{
		ErrorMessage: errorMessage,
		Resolution:   resolution,
		Embedding:    embedding,
	}
	if err := kb.store.Insert(ctx, entry); err != nil {
		return err
	}

	kb.logger.Debug("Recorded error resolution", zap.String("id", entry.ID.String()))
	return nil
}

// Similar returns up to TopK past errors whose embedding similarity to the
// given error meets the threshold, best first.
func (kb *KnowledgeBase) Similar(ctx context.Context, errorMessage string) ([]Match, error) {
	queryEmbedding, err := kb.llmClient.CreateEmbedding(ctx, errorMessage, kb.cfg.EmbeddingModel)
	if err != nil {
		return nil, fmt.Errorf("embed error message: %w", err)
	}

	entries, err := kb.store.All(ctx)
	if err != nil {
		return nil, err
	}

	var matches []Match
	for _, entry := range entries {
		sim := cosineSimilarity(queryEmbedding, entry.Embedding)
		if sim < kb.cfg.SimilarityThreshold {
			continue
		}
		matches = append(matches, Match{
			ErrorMessage: entry.ErrorMessage,
			Resolution:   entry.Resolution,
			Similarity:   sim,
		})
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].Similarity > matches[j].Similarity })

	if len(matches) > kb.cfg.TopK {
		matches = matches[:kb.cfg.TopK]
	}

	return matches, nil
}

// cosineSimilarity computes the cosine of the angle between two vectors.
// Mismatched or zero vectors score 0.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
