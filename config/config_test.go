package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "page-guard", cfg.ServiceName)
	assert.Equal(t, 3*time.Minute, cfg.CoordinatorSettings.CacheTTL)
	assert.Equal(t, 15000, cfg.PayloadSettings.TotalLimit)
	assert.Equal(t, "https://api.openai.com/v1", cfg.ClassifierSettings.BaseURL)
	assert.False(t, cfg.CacheSettings.Enabled)
	assert.False(t, cfg.KafkaSettings.Enabled)
	assert.NotNil(t, cfg.KafkaSettings.Producer)
	assert.Contains(t, cfg.Whitelist, "github.com")
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	yaml := `
env: prod
log_type: json
whitelist:
  - example.org
coordinator:
  cache_ttl: 90s
classifier:
  model: test-model
cache:
  enabled: true
  servers:
    - memcached:11211
  threshold: 5
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600))

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "prod", cfg.Env)
	assert.Equal(t, "json", cfg.LogType)
	assert.Equal(t, []string{"example.org"}, cfg.Whitelist)
	assert.Equal(t, 90*time.Second, cfg.CoordinatorSettings.CacheTTL)
	assert.Equal(t, "test-model", cfg.ClassifierSettings.Model)
	assert.True(t, cfg.CacheSettings.Enabled)
	assert.Equal(t, []string{"memcached:11211"}, cfg.CacheSettings.Servers)
	assert.Equal(t, uint64(5), cfg.CacheSettings.Threshold)
	// untouched keys keep defaults
	assert.Equal(t, 200, cfg.PayloadSettings.TitleLimit)
}

func TestLoadInvalidFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("port: [unterminated"), 0o600))

	_, err := Load(dir)
	assert.Error(t, err)
}
