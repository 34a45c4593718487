package embedding

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func apiConfig(baseURL string) Config {
	return Config{
		Mode:     ModeAPI,
		Provider: ProviderCustom,
		Model:    "test-embed",
		BaseURL:  baseURL,
		APIKey:   "sk-test",
	}
}

func TestProducerRemoteRouting(t *testing.T) {
	srv := newEmbedServer(t, func(req embedRequest) []embedItem {
		items := make([]embedItem, len(req.Input))
		for i := range req.Input {
			items[i] = embedItem{Object: "embedding", Index: i, Embedding: []float32{float32(i)}}
		}
		return items
	})
	defer srv.Close()

	p := NewProducer(ProducerConfig{}, nil)
	defer p.Close()

	vecs, err := p.EmbedDocuments(context.Background(), apiConfig(srv.URL), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0}, {1}}, vecs)

	vec, err := p.EmbedQuery(context.Background(), apiConfig(srv.URL), "q")
	require.NoError(t, err)
	assert.Equal(t, []float32{0}, vec)
}

func TestProducerCachesRemoteClients(t *testing.T) {
	srv := newEmbedServer(t, func(req embedRequest) []embedItem {
		return []embedItem{{Object: "embedding", Index: 0, Embedding: []float32{1}}}
	})
	defer srv.Close()

	p := NewProducer(ProducerConfig{RateLimit: 10}, nil)
	defer p.Close()

	cfg := apiConfig(srv.URL)
	_, err := p.EmbedDocuments(context.Background(), cfg, []string{"a"})
	require.NoError(t, err)
	_, err = p.EmbedDocuments(context.Background(), cfg, []string{"b"})
	require.NoError(t, err)
	assert.Len(t, p.remotes, 1, "identical configs share a client")

	rotated := cfg
	rotated.APIKey = "sk-rotated"
	_, err = p.EmbedDocuments(context.Background(), rotated, []string{"c"})
	require.NoError(t, err)
	assert.Len(t, p.remotes, 2, "rotated credentials build a fresh client")

	otherModel := cfg
	otherModel.Model = "test-embed-large"
	_, err = p.EmbedDocuments(context.Background(), otherModel, []string{"d"})
	require.NoError(t, err)
	assert.Len(t, p.remotes, 3)
	assert.Len(t, p.limiters, 1, "one endpoint shares one limiter across clients")
}

func TestProducerLimiterPerEndpoint(t *testing.T) {
	srvA := newEmbedServer(t, func(req embedRequest) []embedItem {
		return []embedItem{{Object: "embedding", Index: 0, Embedding: []float32{1}}}
	})
	defer srvA.Close()
	srvB := newEmbedServer(t, func(req embedRequest) []embedItem {
		return []embedItem{{Object: "embedding", Index: 0, Embedding: []float32{2}}}
	})
	defer srvB.Close()

	p := NewProducer(ProducerConfig{RateLimit: 5}, nil)
	defer p.Close()

	_, err := p.EmbedDocuments(context.Background(), apiConfig(srvA.URL), []string{"a"})
	require.NoError(t, err)
	_, err = p.EmbedDocuments(context.Background(), apiConfig(srvB.URL), []string{"b"})
	require.NoError(t, err)

	assert.Len(t, p.limiters, 2)
}

func TestProducerNoLimiterWhenDisabled(t *testing.T) {
	srv := newEmbedServer(t, func(req embedRequest) []embedItem {
		return []embedItem{{Object: "embedding", Index: 0, Embedding: []float32{1}}}
	})
	defer srv.Close()

	p := NewProducer(ProducerConfig{}, nil)
	defer p.Close()

	_, err := p.EmbedDocuments(context.Background(), apiConfig(srv.URL), []string{"a"})
	require.NoError(t, err)
	assert.Empty(t, p.limiters)
}

func TestProducerMissingAPIKeySurfacesAtEmbedTime(t *testing.T) {
	srv := newEmbedServer(t, func(req embedRequest) []embedItem { return nil })
	defer srv.Close()

	cfg := apiConfig(srv.URL)
	cfg.APIKey = ""

	p := NewProducer(ProducerConfig{}, nil)
	defer p.Close()

	_, err := p.EmbedDocuments(context.Background(), cfg, []string{"a"})
	assert.ErrorIs(t, err, ErrMissingAPIKey)
}

func TestProducerCloseIsReentrant(t *testing.T) {
	p := NewProducer(ProducerConfig{}, nil)
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
}
