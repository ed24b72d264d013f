// Package embeddings provides embedding generation for ingestion and search.
// The same Embedder instance serves both paths so query vectors and document
// vectors always come from the same model.
package embeddings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.uber.org/fx"

	"github.com/pagemill/pagemill/internal/config"
	"github.com/pagemill/pagemill/pkg/embeddings/openaiembed"
)

// Embedder produces fixed-dimension vectors.
type Embedder interface {
	// EmbedDocuments embeds a batch of texts, one vector per input, in
	// input order.
	EmbedDocuments(ctx context.Context, documents []string) ([][]float32, error)

	// EmbedQuery embeds a single query string.
	EmbedQuery(ctx context.Context, query string) ([]float32, error)

	// Dimension is the vector dimension this embedder produces. Must match
	// the vector index collection.
	Dimension() int
}

// ErrPermanent marks embedder failures that retrying cannot fix (rejected
// input, dimension mismatch). Wrap with fmt.Errorf("...: %w", ErrPermanent).
var ErrPermanent = errors.New("permanent embedding error")

// IsPermanent reports whether an embedder error should dead-letter the job
// instead of retrying.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanent)
}

// Module selects the embedder implementation from configuration.
var Module = fx.Module("embeddings",
	fx.Provide(NewEmbedder),
)

// NewEmbedder builds the configured embedder: "openai" for the OpenAI API,
// "local" for the deterministic in-process embedder used in development.
func NewEmbedder(cfg *config.Config, log *slog.Logger) (Embedder, error) {
	switch cfg.Embedding.Provider {
	case "openai":
		if cfg.Embedding.APIKey == "" {
			return nil, fmt.Errorf("EMBEDDING_PROVIDER=openai requires OPENAI_API_KEY")
		}
		client := openaiembed.NewClient(openaiembed.Config{
			APIKey:    cfg.Embedding.APIKey,
			BaseURL:   cfg.Embedding.BaseURL,
			Model:     cfg.Embedding.Model,
			Dimension: cfg.Embedding.Dimension,
		}, log)
		client.SetPermanentMarker(ErrPermanent)
		log.Info("openai embedder initialized",
			slog.String("model", cfg.Embedding.Model),
			slog.Int("dimension", cfg.Embedding.Dimension),
		)
		return client, nil
	case "local":
		log.Info("local deterministic embedder initialized",
			slog.Int("dimension", cfg.Embedding.Dimension),
		)
		return NewLocalEmbedder(cfg.Embedding.Dimension), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Embedding.Provider)
	}
}
