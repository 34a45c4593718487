package logging_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fablesmith/storyd/internal/logging"
)

func TestConfigApplyDefaults(t *testing.T) {
	cfg := logging.Config{}
	cfg.ApplyDefaults()

	assert.Equal(t, "info", cfg.Level)
	assert.Equal(t, "json", cfg.Format)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     logging.Config
		wantErr bool
	}{
		{
			name: "valid json",
			cfg:  logging.Config{Level: "debug", Format: "json"},
		},
		{
			name: "valid console",
			cfg:  logging.Config{Level: "warn", Format: "console"},
		},
		{
			name:    "bad level",
			cfg:     logging.Config{Level: "loud", Format: "json"},
			wantErr: true,
		},
		{
			name:    "bad format",
			cfg:     logging.Config{Level: "info", Format: "xml"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNew(t *testing.T) {
	logger, err := logging.New(logging.Config{
		Level:  "debug",
		Format: "console",
		Fields: map[string]string{"service": "storyd"},
	})
	require.NoError(t, err)
	require.NotNil(t, logger)

	logger.Debug("constructed")
	assert.NoError(t, logging.Sync(logger))
}

func TestNewRejectsInvalid(t *testing.T) {
	_, err := logging.New(logging.Config{Level: "shout"})
	assert.Error(t, err)
}
