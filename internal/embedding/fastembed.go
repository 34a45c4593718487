//go:build cgo

package embedding

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	fastembed "github.com/anush008/fastembed-go"
	"go.uber.org/zap"
)

// LocalConfig holds configuration for the in-process ONNX provider.
type LocalConfig struct {
	// Model is the primary embedding model.
	// Supported: BAAI/bge-small-zh-v1.5 (default), BAAI/bge-small-en-v1.5,
	// BAAI/bge-base-en-v1.5, sentence-transformers/all-MiniLM-L6-v2, etc.
	Model string

	// FallbackModel is tried when the primary model cannot be loaded.
	// Empty disables the fallback step.
	FallbackModel string

	// CacheDir is the directory to cache model files.
	// Defaults to ./local_cache.
	CacheDir string

	// MaxLength is the maximum input sequence length. Defaults to 512.
	MaxLength int
}

// LocalProvider generates embeddings with local ONNX models via
// fastembed. The model loads lazily on first use: cached files are
// picked up directly, missing ones are downloaded, and if the primary
// model cannot be loaded at all the fallback model is tried. A failed
// load is retried on the next call rather than latched.
type LocalProvider struct {
	cfg    LocalConfig
	logger *zap.Logger

	mu          sync.RWMutex
	model       *fastembed.FlagEmbedding
	loadedModel string
	dimension   int
}

// modelMapping maps friendly model names to fastembed model constants.
var modelMapping = map[string]fastembed.EmbeddingModel{
	"BAAI/bge-small-zh-v1.5":                 fastembed.BGESmallZH,
	"BAAI/bge-small-en-v1.5":                 fastembed.BGESmallENV15,
	"BAAI/bge-small-en":                      fastembed.BGESmallEN,
	"BAAI/bge-base-en-v1.5":                  fastembed.BGEBaseENV15,
	"BAAI/bge-base-en":                       fastembed.BGEBaseEN,
	"sentence-transformers/all-MiniLM-L6-v2": fastembed.AllMiniLML6V2,
	// Also accept the fastembed model names directly
	"fast-bge-small-zh-v1.5": fastembed.BGESmallZH,
	"fast-bge-small-en-v1.5": fastembed.BGESmallENV15,
	"fast-bge-small-en":      fastembed.BGESmallEN,
	"fast-bge-base-en-v1.5":  fastembed.BGEBaseENV15,
	"fast-bge-base-en":       fastembed.BGEBaseEN,
	"fast-all-MiniLM-L6-v2":  fastembed.AllMiniLML6V2,
}

// modelDimensions maps fastembed models to their embedding dimensions.
var modelDimensions = map[fastembed.EmbeddingModel]int{
	fastembed.BGESmallZH:    512,
	fastembed.BGESmallENV15: 384,
	fastembed.BGESmallEN:    384,
	fastembed.BGEBaseENV15:  768,
	fastembed.BGEBaseEN:     768,
	fastembed.AllMiniLML6V2: 384,
}

// NewLocalProvider creates a local provider. The model is not loaded
// here; construction is cheap and never touches the network.
func NewLocalProvider(cfg LocalConfig, logger *zap.Logger) *LocalProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.CacheDir == "" {
		cfg.CacheDir = filepath.Join(".", "local_cache")
	}
	if cfg.MaxLength == 0 {
		cfg.MaxLength = 512
	}
	return &LocalProvider{cfg: cfg, logger: logger}
}

// resolveModel maps a model name to its fastembed constant and dimension.
func resolveModel(name string) (fastembed.EmbeddingModel, int, error) {
	model, ok := modelMapping[name]
	if !ok {
		// Check if it's a direct fastembed model name
		model = fastembed.EmbeddingModel(name)
		if _, known := modelDimensions[model]; !known {
			return "", 0, fmt.Errorf("unsupported model %q (supported: BAAI/bge-small-zh-v1.5, BAAI/bge-small-en-v1.5, BAAI/bge-base-en-v1.5, sentence-transformers/all-MiniLM-L6-v2)", name)
		}
	}
	return model, modelDimensions[model], nil
}

// candidates returns the ordered model names to attempt.
func (p *LocalProvider) candidates() []string {
	names := []string{p.cfg.Model}
	if p.cfg.FallbackModel != "" && p.cfg.FallbackModel != p.cfg.Model {
		names = append(names, p.cfg.FallbackModel)
	}
	return names
}

// ensureLoaded loads the model on first use. Safe for concurrent callers.
func (p *LocalProvider) ensureLoaded(ctx context.Context) error {
	p.mu.RLock()
	loaded := p.model != nil
	p.mu.RUnlock()
	if loaded {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.model != nil {
		return nil
	}

	// fastembed locates the runtime through ONNX_PATH only, so point it
	// at the managed install after a download.
	if !ONNXRuntimeExists() {
		p.logger.Info("onnx runtime not found, downloading",
			zap.String("version", DefaultONNXRuntimeVersion))
	}
	libPath, err := EnsureONNXRuntime(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrModelLoad, err)
	}
	if err := setONNXPathEnv(libPath); err != nil {
		return fmt.Errorf("%w: %v", ErrModelLoad, err)
	}

	showProgress := false
	var lastErr error
	for _, name := range p.candidates() {
		model, dimension, err := resolveModel(name)
		if err != nil {
			p.logger.Warn("skipping unknown embedding model", zap.String("model", name), zap.Error(err))
			lastErr = err
			continue
		}

		flagEmbed, err := fastembed.NewFlagEmbedding(&fastembed.InitOptions{
			Model:                model,
			CacheDir:             p.cfg.CacheDir,
			MaxLength:            p.cfg.MaxLength,
			ShowDownloadProgress: &showProgress,
		})
		if err != nil {
			p.logger.Warn("embedding model load failed",
				zap.String("model", name), zap.Error(err))
			lastErr = err
			continue
		}

		p.model = flagEmbed
		p.loadedModel = name
		p.dimension = dimension
		p.logger.Info("local embedding model loaded",
			zap.String("model", name), zap.Int("dimension", dimension))
		return nil
	}

	return fmt.Errorf("%w: %v", ErrModelLoad, lastErr)
}

// EmbedDocuments generates embeddings for multiple texts.
// Uses the "passage: " prefix for document embeddings as recommended by
// BGE models.
func (p *LocalProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := p.ensureLoaded(ctx); err != nil {
		return nil, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	embeddings, err := p.model.PassageEmbed(texts, 256)
	if err != nil {
		return nil, fmt.Errorf("embedding %d passages with %s: %w", len(texts), p.loadedModel, err)
	}
	if len(embeddings) != len(texts) {
		return nil, fmt.Errorf("%w: got %d vectors for %d texts", ErrVectorCountMismatch, len(embeddings), len(texts))
	}
	return embeddings, nil
}

// EmbedQuery generates an embedding for a single query.
// Uses the "query: " prefix for query embeddings as recommended by BGE
// models.
func (p *LocalProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := p.ensureLoaded(ctx); err != nil {
		return nil, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	embedding, err := p.model.QueryEmbed(text)
	if err != nil {
		return nil, fmt.Errorf("embedding query with %s: %w", p.loadedModel, err)
	}
	return embedding, nil
}

// Dimension returns the embedding dimension, or 0 before the first load.
func (p *LocalProvider) Dimension() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.dimension
}

// LoadedModel returns the name of the model currently serving requests,
// or "" before the first load. Differs from the configured model when
// the fallback step engaged.
func (p *LocalProvider) LoadedModel() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.loadedModel
}

// Close releases the ONNX session.
func (p *LocalProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.model != nil {
		err := p.model.Destroy()
		p.model = nil
		p.loadedModel = ""
		p.dimension = 0
		return err
	}
	return nil
}

var _ Provider = (*LocalProvider)(nil)
