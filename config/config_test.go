package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.SQL.MaxRetries)
	assert.Equal(t, 2, cfg.SQL.MaxVerificationRetries)
	assert.Equal(t, 10000, cfg.SQL.RowCeiling)
	assert.Equal(t, "gold", cfg.SQL.WarehouseSchema)
	assert.Equal(t, 120*time.Second, cfg.Timeouts.Generation)
	assert.Equal(t, 5*time.Second, cfg.Timeouts.Triage)
	assert.Equal(t, 2, cfg.LLM.MaxConcurrentRequests)
	assert.Zero(t, cfg.LLM.GateTimeout)
	assert.Equal(t, time.Hour, cfg.Cache.Exact.TTL)
	assert.InDelta(t, 0.82, cfg.Cache.Semantic.Threshold, 1e-9)
	assert.True(t, cfg.Session.Persist)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	require.NoError(t, cfg.Validate())
}

func TestLoad_FileThenEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "delfos.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
sql:
  max_retries: 4
  row_ceiling: 500
llm:
  provider: openai
  api_key: ${DELFOS_TEST_KEY}
cache:
  semantic:
    threshold: 0.9
`), 0o600))

	t.Setenv("DELFOS_TEST_KEY", "sk-test")
	t.Setenv("DELFOS_SQL__ROW_CEILING", "750")
	t.Setenv("DELFOS_TIMEOUTS__EXECUTION", "15s")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.SQL.MaxRetries)
	assert.Equal(t, 750, cfg.SQL.RowCeiling)
	assert.Equal(t, 15*time.Second, cfg.Timeouts.Execution)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
	assert.InDelta(t, 0.9, cfg.Cache.Semantic.Threshold, 1e-9)
}

func TestLoad_InvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sql: [unterminated"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"zero retries", func(c *Config) { c.SQL.MaxRetries = 0 }, "sql.max_retries"},
		{"zero verification retries", func(c *Config) { c.SQL.MaxVerificationRetries = 0 }, "sql.max_verification_retries"},
		{"threshold above one", func(c *Config) { c.Cache.Semantic.Threshold = 1.5 }, "cache.semantic.threshold"},
		{"negative row ceiling", func(c *Config) { c.SQL.RowCeiling = -1 }, "sql.row_ceiling"},
		{"empty pool", func(c *Config) { c.Warehouse.MaxSize = 0 }, "warehouse.max_size"},
		{"unknown provider", func(c *Config) { c.LLM.Provider = "cohere" }, "llm.provider"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load("")
			require.NoError(t, err)
			tt.mutate(cfg)
			err = cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
