package config

import (
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"github.com/varoOP/shinkrometa/internal/domain"
	"github.com/varoOP/shinkrometa/internal/scheduler"
	"github.com/varoOP/shinkrometa/pkg/animelist"
)

const EnvPrefix = "SHINKROMETA"

var keys = []string{
	"host", "port", "data_dir", "log_level", "log_path",
	"tmdb_api_key", "mal_client_id",
	"anime_list_path", "anime_list_url", "anime_list_max_age", "scrape_cache_dir",
	"series_ttl", "volatile_ttl", "trending_ttl",
	"upstream_timeout", "mal_delay", "series_season_chunk", "chain_limit",
	"trending_schedule", "discord_webhook_url",
}

// SetDefaults registers the default of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", 7070)
	v.SetDefault("data_dir", ".")
	v.SetDefault("log_level", "info")
	v.SetDefault("anime_list_url", animelist.DefaultURL)
	v.SetDefault("anime_list_max_age", 0)
	v.SetDefault("series_ttl", 24*time.Hour)
	v.SetDefault("volatile_ttl", 3*time.Hour)
	v.SetDefault("trending_ttl", 26*time.Hour)
	v.SetDefault("upstream_timeout", 10*time.Second)
	v.SetDefault("mal_delay", time.Second)
	v.SetDefault("series_season_chunk", 19)
	v.SetDefault("chain_limit", 20)
	v.SetDefault("trending_schedule", "14:01")
}

// Load reads the configuration from v (config file, SHINKROMETA_* env vars and
// bound flags) and validates it.
func Load(v *viper.Viper) (*domain.Config, error) {
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return nil, errors.Wrapf(err, "failed to bind env for %s", key)
		}
	}
	SetDefaults(v)

	cfg := &domain.Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "failed to decode config")
	}

	if cfg.AnimeListPath == "" {
		cfg.AnimeListPath = filepath.Join(cfg.DataDir, "anime-list.xml")
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func Validate(cfg *domain.Config) error {
	if cfg.MalClientID == "" {
		return errors.New("mal_client_id is required (set via config.yaml or SHINKROMETA_MAL_CLIENT_ID environment variable)")
	}
	if cfg.TmdbApiKey == "" {
		return errors.New("tmdb_api_key is required (set via config.yaml or SHINKROMETA_TMDB_API_KEY environment variable)")
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return errors.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.SeriesSeasonChunk < 1 || cfg.SeriesSeasonChunk > 20 {
		return errors.Errorf("invalid series_season_chunk: %d (must be between 1 and 20)", cfg.SeriesSeasonChunk)
	}
	if cfg.ChainLimit < 1 {
		return errors.Errorf("invalid chain_limit: %d", cfg.ChainLimit)
	}
	if cfg.UpstreamTimeout <= 0 {
		return errors.Errorf("invalid upstream_timeout: %s", cfg.UpstreamTimeout)
	}
	if cfg.MalDelay < 0 || cfg.SeriesTTL < 0 || cfg.VolatileTTL < 0 || cfg.TrendingTTL < 0 || cfg.AnimeListMaxAge < 0 {
		return errors.New("durations must not be negative")
	}
	if _, _, err := scheduler.ParseSchedule(cfg.TrendingSchedule); err != nil {
		return errors.Wrap(err, "invalid trending_schedule")
	}

	return nil
}
