package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWhenNoEnvOrFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 5, cfg.FuzzyThreshold)
	require.Equal(t, 8, cfg.CacheShards)
	require.Equal(t, 256, cfg.CacheShardCap)
	require.Equal(t, 2048, cfg.CacheCap)
	require.Equal(t, 0.5, cfg.QualityFallbackPenalty)
	require.Equal(t, 0.75, cfg.QualityRegexPenalty)
	require.Equal(t, 24, cfg.IdempotencyTTLHours)
	require.NotEmpty(t, cfg.DataDir)
}

func TestLoadEnvOverridesFuzzyThreshold(t *testing.T) {
	t.Setenv("AGENTLOG_FUZZY_THRESHOLD", "9")
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 9, cfg.FuzzyThreshold)
}

func TestLoadEnvOverridesDataDir(t *testing.T) {
	t.Setenv("AGENTLOG_DATA_DIR", "/tmp/agentlog-env-test")
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "/tmp/agentlog-env-test", cfg.DataDir)
}

func TestDerivedPathsAreUnderDataDir(t *testing.T) {
	cfg := Config{DataDir: "/tmp/agentlog-test"}
	require.Equal(t, "/tmp/agentlog-test/index", cfg.IndexDir())
	require.Equal(t, "/tmp/agentlog-test/agentlog.db", cfg.RelationalPath())
	require.Equal(t, "/tmp/agentlog-test/watch_state.json", cfg.WatchStatePath())
	require.Equal(t, "/tmp/agentlog-test/agentlog.log", cfg.LogPath())
	require.Equal(t, "/tmp/agentlog-test/tui_state.json", cfg.TUIStatePath())
}
