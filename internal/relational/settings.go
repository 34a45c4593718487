package relational

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fablesmith/storyd/internal/embedding"
	"github.com/fablesmith/storyd/internal/memory"
)

var _ memory.SettingsSource = (*Store)(nil)

// EmbeddingSettings returns the stored per-user embedding overrides,
// or nil when the user has never saved any. Empty columns stay empty
// in the result; the resolver overlays them field by field.
func (s *Store) EmbeddingSettings(ctx context.Context, userID string) (*embedding.Settings, error) {
	var out embedding.Settings
	err := s.db.QueryRowContext(ctx,
		`SELECT embedding_mode, embedding_provider, embedding_model,
		        embedding_api_key, embedding_api_base_url
		 FROM user_settings WHERE user_id = ?`, userID).
		Scan(&out.Mode, &out.Provider, &out.Model, &out.APIKey, &out.BaseURL)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying embedding settings: %w", err)
	}
	return &out, nil
}
