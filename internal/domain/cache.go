package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// SourceKind is the identifier space a cached resolution belongs to.
type SourceKind string

const (
	SourceAnime  SourceKind = "anime"
	SourceMovie  SourceKind = "movie"
	SourceSeries SourceKind = "tv"
	SourceSearch SourceKind = "search"
)

// Cache variants. Parameterised variants are built with the helpers below.
const (
	VariantDetail    = "detail"
	VariantRelations = "relations"
	VariantChain     = "chain"
	VariantResults   = "results"
	VariantPoster    = "poster"
)

func VariantSeason(n int) string { return fmt.Sprintf("season:%d", n) }

func VariantImages(imageType string) string { return "images:" + imageType }

func VariantEpisodes(start, end string) string { return "episodes:" + start + ":" + end }

type CacheKey struct {
	Kind    SourceKind
	ID      string
	Variant string
}

func (k CacheKey) String() string {
	return string(k.Kind) + "/" + k.ID + "/" + k.Variant
}

// ResolvedTitle is a trimmed upstream response plus the fields needed to list it.
type ResolvedTitle struct {
	Kind       SourceKind      `json:"source_kind"`
	SourceID   string          `json:"source_id"`
	Title      string          `json:"title"`
	PosterPath string          `json:"poster_path,omitempty"`
	Payload    json.RawMessage `json:"payload"`
	FetchedAt  time.Time       `json:"fetched_at"`

	// External holds identifiers discovered while fetching. It is not cached.
	External IdentifierRecord `json:"-"`
}

// ResolutionRepo persists ResolvedTitles. A nil expiresAt never expires.
type ResolutionRepo interface {
	Get(ctx context.Context, key CacheKey, now time.Time) (*ResolvedTitle, error)
	Put(ctx context.Context, key CacheKey, value ResolvedTitle, expiresAt *time.Time) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
