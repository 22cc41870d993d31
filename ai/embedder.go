package ai

import (
	"context"
	"fmt"

	"github.com/NatureBlueee/Towow-sub000/core"
)

// Embedder serves the encoder from the OpenAI embeddings endpoint.
type Embedder struct {
	client *Client
}

func NewEmbedder(c *Client) *Embedder {
	return &Embedder{client: c}
}

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	v, err := e.client.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrEncodingUnavailable, err)
	}
	return v, nil
}

func (e *Embedder) Model() string {
	return "openai:" + e.client.cfg.EmbeddingModel
}
