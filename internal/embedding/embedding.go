// Package embedding turns text batches into dense vectors.
//
// Two modes exist: "local" runs ONNX models in process via fastembed,
// "api" calls an OpenAI-compatible /embeddings endpoint. A Resolver
// merges process defaults, stored user settings and per-call overrides
// into the Config a Producer executes. Resolution never fails; invalid
// configurations surface when the embedding call is actually made.
package embedding

import "errors"

var (
	// ErrEmptyInput indicates an embedding call without any text.
	ErrEmptyInput = errors.New("no input text provided")

	// ErrMissingAPIKey indicates api mode without an API key. Raised at
	// embed time, never at resolution time.
	ErrMissingAPIKey = errors.New("embedding API key is not configured")

	// ErrMissingBaseURL indicates api mode without an endpoint.
	ErrMissingBaseURL = errors.New("embedding API base URL is not configured")

	// ErrVectorCountMismatch indicates the provider returned a different
	// number of vectors than inputs. Always fatal; vectors are never
	// padded or truncated to fit.
	ErrVectorCountMismatch = errors.New("embedding count does not match input count")

	// ErrModelLoad indicates every local model load strategy failed.
	ErrModelLoad = errors.New("local embedding model could not be loaded")

	// ErrLocalNotAvailable indicates local mode in a binary built
	// without CGO. The ONNX runtime needs cgo; use api mode instead.
	ErrLocalNotAvailable = errors.New("local embeddings not available (binary built without CGO support, use api mode instead)")
)

// Modes and providers recognized by the resolver. Anything else coerces
// to the defaults below.
const (
	ModeLocal = "local"
	ModeAPI   = "api"

	ProviderOpenAI = "openai"
	ProviderCustom = "custom"
)

// API-mode fallbacks applied by the resolver.
const (
	DefaultAPIModel   = "text-embedding-3-small"
	DefaultAPIBaseURL = "https://api.openai.com/v1"
)

// Config is a fully resolved embedding configuration. Every field is
// populated after resolution except APIKey, which may legitimately be
// empty until embed time.
type Config struct {
	Mode     string
	Provider string
	Model    string
	BaseURL  string
	APIKey   string
}

// Settings is one layer of embedding preferences. Empty fields defer to
// the next layer down.
type Settings struct {
	Mode     string
	Provider string
	Model    string
	BaseURL  string
	APIKey   string
}

// Defaults is the lowest resolution layer, taken from process
// configuration.
type Defaults struct {
	// Mode selects local or api when no layer above sets one.
	Mode string

	// LocalModel is the single process-wide local model. Local mode
	// always resolves to this model, whatever the layers above say, so
	// one process never mixes local vector spaces.
	LocalModel string

	// Provider, Model, BaseURL and APIKey seed api mode.
	Provider string
	Model    string
	BaseURL  string
	APIKey   string
}
