package embedding

import "strings"

// Resolver merges the three embedding configuration layers: per-call
// override over stored user settings over process defaults, field by
// field.
type Resolver struct {
	defaults Defaults
}

// NewResolver creates a resolver over the given process defaults.
func NewResolver(defaults Defaults) *Resolver {
	return &Resolver{defaults: defaults}
}

// Resolve merges override over stored over the process defaults, then
// normalizes the result. It never returns an error: a missing API key
// passes through empty and fails at first use.
func (r *Resolver) Resolve(stored, override *Settings) Config {
	merged := Settings{
		Mode:     r.defaults.Mode,
		Provider: r.defaults.Provider,
		Model:    r.defaults.Model,
		BaseURL:  r.defaults.BaseURL,
		APIKey:   r.defaults.APIKey,
	}
	merged = overlay(merged, stored)
	merged = overlay(merged, override)

	cfg := Config(merged)

	cfg.Mode = strings.ToLower(strings.TrimSpace(cfg.Mode))
	if cfg.Mode != ModeLocal && cfg.Mode != ModeAPI {
		cfg.Mode = ModeLocal
	}
	cfg.Provider = strings.ToLower(strings.TrimSpace(cfg.Provider))
	if cfg.Provider != ProviderOpenAI && cfg.Provider != ProviderCustom {
		cfg.Provider = ProviderOpenAI
	}

	if cfg.Mode == ModeLocal {
		cfg.Model = r.defaults.LocalModel
		return cfg
	}

	cfg.Model = strings.TrimSpace(cfg.Model)
	if cfg.Model == "" {
		cfg.Model = DefaultAPIModel
	}
	cfg.BaseURL = strings.TrimSpace(cfg.BaseURL)
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultAPIBaseURL
	}
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	return cfg
}

// overlay applies the non-empty fields of layer on top of base.
func overlay(base Settings, layer *Settings) Settings {
	if layer == nil {
		return base
	}
	if layer.Mode != "" {
		base.Mode = layer.Mode
	}
	if layer.Provider != "" {
		base.Provider = layer.Provider
	}
	if layer.Model != "" {
		base.Model = layer.Model
	}
	if layer.BaseURL != "" {
		base.BaseURL = layer.BaseURL
	}
	if layer.APIKey != "" {
		base.APIKey = layer.APIKey
	}
	return base
}
