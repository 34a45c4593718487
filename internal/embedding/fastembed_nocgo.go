//go:build !cgo

package embedding

import (
	"context"

	"go.uber.org/zap"
)

// LocalConfig holds configuration for the in-process ONNX provider.
type LocalConfig struct {
	Model         string
	FallbackModel string
	CacheDir      string
	MaxLength     int
}

// LocalProvider is a stub for non-CGO builds.
type LocalProvider struct{}

// NewLocalProvider returns a stub that fails on use.
func NewLocalProvider(_ LocalConfig, _ *zap.Logger) *LocalProvider {
	return &LocalProvider{}
}

// EmbedDocuments returns an error when CGO is not available.
func (p *LocalProvider) EmbedDocuments(_ context.Context, _ []string) ([][]float32, error) {
	return nil, ErrLocalNotAvailable
}

// EmbedQuery returns an error when CGO is not available.
func (p *LocalProvider) EmbedQuery(_ context.Context, _ string) ([]float32, error) {
	return nil, ErrLocalNotAvailable
}

// Dimension returns 0 when CGO is not available.
func (p *LocalProvider) Dimension() int {
	return 0
}

// LoadedModel returns "" when CGO is not available.
func (p *LocalProvider) LoadedModel() string {
	return ""
}

// Close is a no-op when CGO is not available.
func (p *LocalProvider) Close() error {
	return nil
}

var _ Provider = (*LocalProvider)(nil)
