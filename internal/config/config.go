// Package config resolves agentlog's runtime configuration: the data
// directory and every tunable in the query/index/orchestrator path. Values
// come from an optional config file, AGENTLOG_-prefixed environment
// variables, and code defaults as the floor. Environment variables win
// over the config file, and code defaults apply when neither sets a value.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config holds every env-overridable tunable named in SPEC_FULL.md §4.4/4.5.
type Config struct {
	DataDir string `mapstructure:"data_dir"`

	FuzzyThreshold    int `mapstructure:"fuzzy_threshold"`
	WarmDebounceMS    int `mapstructure:"warm_debounce_ms"`
	ReloadDebounceMS  int `mapstructure:"reload_debounce_ms"`
	WatchDebounceMS   int `mapstructure:"watch_debounce_ms"`
	CacheShards       int `mapstructure:"cache_shards"`
	CacheShardCap     int `mapstructure:"cache_shard_cap"`
	CacheCap          int `mapstructure:"cache_cap"`
	PrefixNgramMaxLen int `mapstructure:"prefix_ngram_max_len"`
	PreviewLength     int `mapstructure:"preview_length"`

	QualityFallbackPenalty float64 `mapstructure:"quality_fallback_penalty"`
	QualityRegexPenalty    float64 `mapstructure:"quality_regex_penalty"`
	BalancedRelevanceWeight float64 `mapstructure:"balanced_relevance_weight"`
	BalancedRecencyHalflifeDays float64 `mapstructure:"balanced_recency_halflife_days"`

	IdempotencyTTLHours int `mapstructure:"idempotency_ttl_hours"`
}

// defaults mirrors the concrete values pinned in SPEC_FULL.md §4.4/§9.
func defaults() Config {
	return Config{
		DataDir:                     defaultDataDir(),
		FuzzyThreshold:              5,
		WarmDebounceMS:              120,
		ReloadDebounceMS:            300,
		WatchDebounceMS:             250,
		CacheShards:                 8,
		CacheShardCap:               256,
		CacheCap:                    2048,
		PrefixNgramMaxLen:           15,
		PreviewLength:               200,
		QualityFallbackPenalty:      0.5,
		QualityRegexPenalty:         0.75,
		BalancedRelevanceWeight:     0.6,
		BalancedRecencyHalflifeDays: 30,
		IdempotencyTTLHours:         24,
	}
}

func defaultDataDir() string {
	if dir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(dir, ".local", "share", "agentlog")
	}
	return ".agentlog"
}

// Load resolves Config from an optional config file at configPath (ignored
// if empty or absent) layered under AGENTLOG_* environment overrides and
// code defaults.
func Load(configPath string) (Config, error) {
	v := viper.New()
	d := defaults()

	v.SetDefault("data_dir", d.DataDir)
	v.SetDefault("fuzzy_threshold", d.FuzzyThreshold)
	v.SetDefault("warm_debounce_ms", d.WarmDebounceMS)
	v.SetDefault("reload_debounce_ms", d.ReloadDebounceMS)
	v.SetDefault("watch_debounce_ms", d.WatchDebounceMS)
	v.SetDefault("cache_shards", d.CacheShards)
	v.SetDefault("cache_shard_cap", d.CacheShardCap)
	v.SetDefault("cache_cap", d.CacheCap)
	v.SetDefault("prefix_ngram_max_len", d.PrefixNgramMaxLen)
	v.SetDefault("preview_length", d.PreviewLength)
	v.SetDefault("quality_fallback_penalty", d.QualityFallbackPenalty)
	v.SetDefault("quality_regex_penalty", d.QualityRegexPenalty)
	v.SetDefault("balanced_relevance_weight", d.BalancedRelevanceWeight)
	v.SetDefault("balanced_recency_halflife_days", d.BalancedRecencyHalflifeDays)
	v.SetDefault("idempotency_ttl_hours", d.IdempotencyTTLHours)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, err
			}
		}
	}

	v.SetEnvPrefix("AGENTLOG")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	for _, key := range []string{
		"data_dir", "fuzzy_threshold", "warm_debounce_ms", "reload_debounce_ms",
		"watch_debounce_ms", "cache_shards", "cache_shard_cap", "cache_cap",
		"prefix_ngram_max_len", "preview_length", "quality_fallback_penalty",
		"quality_regex_penalty", "balanced_relevance_weight",
		"balanced_recency_halflife_days", "idempotency_ttl_hours",
	} {
		_ = v.BindEnv(key)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	if cfg.DataDir == "" {
		cfg.DataDir = d.DataDir
	}
	return cfg, nil
}

// IndexDir is the full-text index's directory under DataDir.
func (c Config) IndexDir() string { return filepath.Join(c.DataDir, "index") }

// RelationalPath is the durable relational store's file path under DataDir.
func (c Config) RelationalPath() string { return filepath.Join(c.DataDir, "agentlog.db") }

// WatchStatePath is the watch state file's path under DataDir.
func (c Config) WatchStatePath() string { return filepath.Join(c.DataDir, "watch_state.json") }

// LogPath is the rotating log file's path under DataDir.
func (c Config) LogPath() string { return filepath.Join(c.DataDir, "agentlog.log") }

// TUIStatePath is the consumer-owned TUI state file's path under DataDir.
func (c Config) TUIStatePath() string { return filepath.Join(c.DataDir, "tui_state.json") }
