package domain

import (
	"context"
	"time"
)

type TrendingItem struct {
	ID           int     `json:"id"`
	MediaType    string  `json:"media_type"`
	Title        string  `json:"title"`
	Overview     string  `json:"overview,omitempty"`
	PosterPath   string  `json:"poster_path,omitempty"`
	BackdropPath string  `json:"backdrop_path,omitempty"`
	LogoPath     string  `json:"logo_path,omitempty"`
	Popularity   float64 `json:"popularity"`
	Source       string  `json:"source"`
	TvdbID       int     `json:"tvdb_id,omitempty"`
	MalID        int     `json:"mal_id,omitempty"`
	Anime        bool    `json:"anime"`
}

type TrendingSnapshot struct {
	ComputedAt time.Time      `json:"computed_at"`
	Movies     []TrendingItem `json:"movies"`
	Series     []TrendingItem `json:"series"`
	Anime      []TrendingItem `json:"anime"`
}

type TrendingRepo interface {
	Load(ctx context.Context) (*TrendingSnapshot, error)
	Replace(ctx context.Context, snap TrendingSnapshot) error
}
