package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `{"port": 8080, "database": {"host": "db"}, "secret_key": "0123456789abcdef"}`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 5432, cfg.Database.Port)
	require.Equal(t, "info", cfg.LogConfig.Level)
	require.Equal(t, 20, cfg.Search.DefaultPerPage)
	require.Equal(t, 5, cfg.Search.SimilarLimit)
	require.Equal(t, 8, cfg.Search.SuggestLimit)
	require.Equal(t, 10, cfg.Search.QueryTimeoutSeconds)
	require.Equal(t, 3, cfg.Embedding.MaxRetries)
	require.Equal(t, 4, cfg.Jobs.Workers)
	require.Equal(t, "*/5 * * * *", cfg.Jobs.SweepCron)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv(EnvDBDSN, "postgres://u:p@h/db")
	t.Setenv(EnvSecretKey, "fedcba9876543210")
	path := writeConfig(t, `{"port": 8080}`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "postgres://u:p@h/db", cfg.Database.DSN)
	require.Equal(t, "fedcba9876543210", cfg.SecretKey)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "missing port", body: `{"database": {"host": "db"}, "secret_key": "0123456789abcdef"}`},
		{name: "missing database", body: `{"port": 1, "secret_key": "0123456789abcdef"}`},
		{name: "short secret", body: `{"port": 1, "database": {"host": "db"}, "secret_key": "short"}`},
		{name: "per page", body: `{"port": 1, "database": {"host": "db"}, "secret_key": "0123456789abcdef", "search": {"default_per_page": 50, "max_per_page": 10}}`},
		{name: "bad json", body: `{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(EnvDBDSN, "")
			t.Setenv(EnvSecretKey, "")
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
		})
	}
}
