package embedding

import "context"

// Provider generates vectors for documents and queries. Document batches
// preserve input order: vectors[i] always corresponds to texts[i].
type Provider interface {
	// EmbedDocuments embeds a batch of passage texts.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	// EmbedQuery embeds a single search query.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	// Close releases resources held by the provider.
	Close() error
}
