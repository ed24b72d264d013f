// Package openaiembed implements the OpenAI embeddings provider.
package openaiembed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

// errPermanentStatus lists HTTP statuses where retrying the same input is
// pointless.
func isPermanentStatus(status int) bool {
	switch status {
	case 400, 401, 403, 404, 413, 422:
		return true
	}
	return false
}

type Config struct {
	APIKey    string
	BaseURL   string
	Model     string
	Dimension int
}

// Client calls the OpenAI embeddings API.
type Client struct {
	api       openai.Client
	model     string
	dimension int
	log       *slog.Logger

	// markPermanent wraps errors the caller should not retry; injected by
	// the parent package to avoid an import cycle.
	markPermanent error
}

func NewClient(cfg Config, log *slog.Logger) *Client {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &Client{
		api:       openai.NewClient(opts...),
		model:     cfg.Model,
		dimension: cfg.Dimension,
		log:       log,
	}
}

// SetPermanentMarker installs the sentinel wrapped into non-retryable errors.
func (c *Client) SetPermanentMarker(marker error) {
	c.markPermanent = marker
}

func (c *Client) Dimension() int {
	return c.dimension
}

func (c *Client) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	vectors, err := c.EmbedDocuments(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (c *Client) EmbedDocuments(ctx context.Context, documents []string) ([][]float32, error) {
	if len(documents) == 0 {
		return nil, nil
	}

	resp, err := c.api.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: documents,
		},
		Model:      openai.EmbeddingModel(c.model),
		Dimensions: openai.Int(int64(c.dimension)),
	})
	if err != nil {
		return nil, c.classify(err)
	}

	if len(resp.Data) != len(documents) {
		return nil, c.permanent(fmt.Errorf("embeddings API returned %d vectors for %d inputs", len(resp.Data), len(documents)))
	}

	vectors := make([][]float32, len(documents))
	for _, d := range resp.Data {
		if int(d.Index) >= len(vectors) {
			return nil, c.permanent(fmt.Errorf("embeddings API returned out-of-range index %d", d.Index))
		}
		vec := make([]float32, len(d.Embedding))
		for i, v := range d.Embedding {
			vec[i] = float32(v)
		}
		if len(vec) != c.dimension {
			return nil, c.permanent(fmt.Errorf("model produced dimension %d, configured dimension is %d", len(vec), c.dimension))
		}
		vectors[d.Index] = vec
	}
	return vectors, nil
}

func (c *Client) classify(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) && isPermanentStatus(apiErr.StatusCode) {
		return c.permanent(err)
	}
	// Network failures, 429s and 5xx responses are worth retrying.
	return fmt.Errorf("embeddings API call: %w", err)
}

func (c *Client) permanent(err error) error {
	if c.markPermanent != nil {
		return fmt.Errorf("%w: %w", c.markPermanent, err)
	}
	return err
}
