package embedding

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RemoteProvider generates embeddings through an OpenAI-compatible
// /embeddings endpoint. Responses are reordered by the returned index
// so output position always matches input position, and any count or
// index irregularity fails the whole batch.
type RemoteProvider struct {
	client  *openai.Client
	model   string
	baseURL string
	apiKey  string
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewRemoteProvider creates a provider for the endpoint in cfg. A
// missing API key is tolerated here and rejected on first use, so
// resolution can finish before credentials exist.
func NewRemoteProvider(cfg Config, timeout time.Duration, limiter *rate.Limiter, logger *zap.Logger) (*RemoteProvider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		return nil, ErrMissingBaseURL
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = baseURL
	clientCfg.HTTPClient = &http.Client{Timeout: timeout}

	return &RemoteProvider{
		client:  openai.NewClientWithConfig(clientCfg),
		model:   cfg.Model,
		baseURL: baseURL,
		apiKey:  cfg.APIKey,
		limiter: limiter,
		logger:  logger,
	}, nil
}

// EmbedDocuments embeds a batch of texts in a single request.
func (p *RemoteProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}
	if p.apiKey == "" {
		return nil, fmt.Errorf("%w: endpoint %s", ErrMissingAPIKey, p.baseURL)
	}
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input: texts,
		Model: openai.EmbeddingModel(p.model),
	})
	if err != nil {
		return nil, fmt.Errorf("embedding %d texts with %s: %w", len(texts), p.model, err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: got %d vectors for %d texts", ErrVectorCountMismatch, len(resp.Data), len(texts))
	}

	// Responses may arrive out of order; trust the index field only.
	out := make([][]float32, len(texts))
	for _, item := range resp.Data {
		if item.Index < 0 || item.Index >= len(out) {
			return nil, fmt.Errorf("%w: index %d outside batch of %d", ErrVectorCountMismatch, item.Index, len(texts))
		}
		if out[item.Index] != nil {
			return nil, fmt.Errorf("%w: duplicate index %d", ErrVectorCountMismatch, item.Index)
		}
		out[item.Index] = item.Embedding
	}
	for i, vec := range out {
		if vec == nil {
			return nil, fmt.Errorf("%w: no vector for input %d", ErrVectorCountMismatch, i)
		}
	}
	return out, nil
}

// EmbedQuery embeds a single query text.
func (p *RemoteProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}
	vecs, err := p.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// Close is a no-op; the provider holds no long-lived resources.
func (p *RemoteProvider) Close() error {
	return nil
}

var _ Provider = (*RemoteProvider)(nil)
