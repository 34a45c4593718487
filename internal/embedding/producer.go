package embedding

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ProducerConfig configures a Producer.
type ProducerConfig struct {
	// Local configures the in-process provider used by local mode.
	Local LocalConfig

	// RequestTimeout bounds each remote embedding request. Defaults to
	// 60 seconds.
	RequestTimeout time.Duration

	// RateLimit caps remote requests per second per endpoint. Zero
	// disables limiting.
	RateLimit float64
}

// Producer executes resolved embedding configurations. It owns a single
// process-wide local provider and a cache of remote clients, one per
// distinct endpoint and credential set. Remote clients sharing an
// endpoint also share a rate limiter, so parallel callers cannot
// multiply the request rate against one API.
type Producer struct {
	cfg     ProducerConfig
	logger  *zap.Logger
	metrics *Metrics

	local *LocalProvider

	mu       sync.Mutex
	remotes  map[remoteKey]*RemoteProvider
	limiters map[string]*rate.Limiter
}

// remoteKey identifies a cached remote client. Credentials participate
// so a rotated key builds a fresh client.
type remoteKey struct {
	provider string
	model    string
	baseURL  string
	apiKey   string
}

// NewProducer creates a producer. The local model is not loaded until
// the first local-mode call.
func NewProducer(cfg ProducerConfig, logger *zap.Logger) *Producer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	return &Producer{
		cfg:      cfg,
		logger:   logger,
		metrics:  NewMetrics(logger),
		local:    NewLocalProvider(cfg.Local, logger),
		remotes:  make(map[remoteKey]*RemoteProvider),
		limiters: make(map[string]*rate.Limiter),
	}
}

// Local exposes the shared local provider for diagnostics.
func (p *Producer) Local() *LocalProvider {
	return p.local
}

// EmbedDocuments embeds a batch of texts under the given resolved
// configuration. vectors[i] corresponds to texts[i].
func (p *Producer) EmbedDocuments(ctx context.Context, cfg Config, texts []string) ([][]float32, error) {
	start := time.Now()
	provider, err := p.providerFor(cfg)
	if err != nil {
		p.metrics.RecordGeneration(ctx, cfg.Mode, cfg.Model, "batch_embed", time.Since(start), len(texts), err)
		return nil, err
	}

	vectors, err := provider.EmbedDocuments(ctx, texts)
	p.metrics.RecordGeneration(ctx, cfg.Mode, cfg.Model, "batch_embed", time.Since(start), len(texts), err)
	return vectors, err
}

// EmbedQuery embeds a single query text under the given resolved
// configuration.
func (p *Producer) EmbedQuery(ctx context.Context, cfg Config, text string) ([]float32, error) {
	start := time.Now()
	provider, err := p.providerFor(cfg)
	if err != nil {
		p.metrics.RecordGeneration(ctx, cfg.Mode, cfg.Model, "embed", time.Since(start), 0, err)
		return nil, err
	}

	vector, err := provider.EmbedQuery(ctx, text)
	p.metrics.RecordGeneration(ctx, cfg.Mode, cfg.Model, "embed", time.Since(start), 0, err)
	return vector, err
}

// providerFor routes a resolved configuration to a provider instance.
func (p *Producer) providerFor(cfg Config) (Provider, error) {
	if cfg.Mode == ModeLocal {
		return p.local, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	key := remoteKey{
		provider: cfg.Provider,
		model:    cfg.Model,
		baseURL:  cfg.BaseURL,
		apiKey:   cfg.APIKey,
	}
	if client, ok := p.remotes[key]; ok {
		return client, nil
	}

	client, err := NewRemoteProvider(cfg, p.cfg.RequestTimeout, p.limiterLocked(cfg.BaseURL), p.logger)
	if err != nil {
		return nil, err
	}
	p.remotes[key] = client
	p.logger.Debug("remote embedding client created",
		zap.String("provider", cfg.Provider),
		zap.String("model", cfg.Model),
		zap.String("base_url", cfg.BaseURL))
	return client, nil
}

// limiterLocked returns the shared limiter for an endpoint. Callers
// hold p.mu.
func (p *Producer) limiterLocked(baseURL string) *rate.Limiter {
	if p.cfg.RateLimit <= 0 {
		return nil
	}
	if limiter, ok := p.limiters[baseURL]; ok {
		return limiter
	}

	burst := int(p.cfg.RateLimit)
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(p.cfg.RateLimit), burst)
	p.limiters[baseURL] = limiter
	return limiter
}

// Close releases the local model and drops cached remote clients.
func (p *Producer) Close() error {
	p.mu.Lock()
	for key, client := range p.remotes {
		_ = client.Close()
		delete(p.remotes, key)
	}
	p.mu.Unlock()

	return p.local.Close()
}
