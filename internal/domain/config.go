package domain

import "time"

type Config struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	DataDir  string `mapstructure:"data_dir"`
	LogLevel string `mapstructure:"log_level"`
	LogPath  string `mapstructure:"log_path"`

	TmdbApiKey  string `mapstructure:"tmdb_api_key"`
	MalClientID string `mapstructure:"mal_client_id"`

	AnimeListPath   string        `mapstructure:"anime_list_path"`
	AnimeListURL    string        `mapstructure:"anime_list_url"`
	AnimeListMaxAge time.Duration `mapstructure:"anime_list_max_age"`
	ScrapeCacheDir  string        `mapstructure:"scrape_cache_dir"`

	SeriesTTL   time.Duration `mapstructure:"series_ttl"`
	VolatileTTL time.Duration `mapstructure:"volatile_ttl"`
	TrendingTTL time.Duration `mapstructure:"trending_ttl"`

	UpstreamTimeout   time.Duration `mapstructure:"upstream_timeout"`
	MalDelay          time.Duration `mapstructure:"mal_delay"`
	SeriesSeasonChunk int           `mapstructure:"series_season_chunk"`
	ChainLimit        int           `mapstructure:"chain_limit"`

	TrendingSchedule  string `mapstructure:"trending_schedule"`
	DiscordWebhookURL string `mapstructure:"discord_webhook_url"`
}
