package domain

import (
	"context"
	"strconv"
)

// IDKind names one of the identifier spaces an IdentifierRecord spans.
type IDKind string

const (
	IDKindMAL       IDKind = "mal"
	IDKindAniDB     IDKind = "anidb"
	IDKindTVDB      IDKind = "tvdb"
	IDKindTMDBMovie IDKind = "tmdb_movie"
	IDKindTMDBTV    IDKind = "tmdb_tv"
	IDKindIMDB      IDKind = "imdb"
)

func (k IDKind) Valid() bool {
	switch k {
	case IDKindMAL, IDKindAniDB, IDKindTVDB, IDKindTMDBMovie, IDKindTMDBTV, IDKindIMDB:
		return true
	}
	return false
}

// TMDBType is needed next to a TMDB id since TMDB ids are only unique per type.
type TMDBType string

const (
	TMDBMovie TMDBType = "movie"
	TMDBTV    TMDBType = "tv"
)

func (t TMDBType) Alternate() TMDBType {
	if t == TMDBMovie {
		return TMDBTV
	}
	return TMDBMovie
}

func (t TMDBType) Kind() IDKind {
	if t == TMDBMovie {
		return IDKindTMDBMovie
	}
	return IDKindTMDBTV
}

// IdentifierRecord links one title across identifier spaces. Zero values mean
// the identifier is not known yet.
type IdentifierRecord struct {
	MalID    int      `json:"malid,omitempty" yaml:"malid,omitempty"`
	AnidbID  int      `json:"anidbid,omitempty" yaml:"anidbid,omitempty"`
	TvdbID   int      `json:"tvdbid,omitempty" yaml:"tvdbid,omitempty"`
	TmdbID   int      `json:"tmdbid,omitempty" yaml:"tmdbid,omitempty"`
	TmdbType TMDBType `json:"tmdbType,omitempty" yaml:"tmdbType,omitempty"`
	ImdbID   string   `json:"imdbid,omitempty" yaml:"imdbid,omitempty"`
}

func (r IdentifierRecord) Empty() bool {
	return r.MalID == 0 && r.AnidbID == 0 && r.TvdbID == 0 && r.TmdbID == 0 && r.ImdbID == ""
}

// IsAnime reports whether the record carries an anime-space identifier.
func (r IdentifierRecord) IsAnime() bool {
	return r.MalID != 0 || r.AnidbID != 0
}

// Key picks the identifier an upsert is keyed by. MAL ids are unique per
// record, the others may be shared by several anime entries (one TVDB series
// split into several MAL seasons for instance).
func (r IdentifierRecord) Key() (IDKind, string, bool) {
	switch {
	case r.MalID != 0:
		return IDKindMAL, strconv.Itoa(r.MalID), true
	case r.AnidbID != 0:
		return IDKindAniDB, strconv.Itoa(r.AnidbID), true
	case r.TvdbID != 0:
		return IDKindTVDB, strconv.Itoa(r.TvdbID), true
	case r.TmdbID != 0 && r.TmdbType != "":
		return r.TmdbType.Kind(), strconv.Itoa(r.TmdbID), true
	case r.ImdbID != "":
		return IDKindIMDB, r.ImdbID, true
	}
	return "", "", false
}

// FieldConflict describes two different non-null values seen for one field.
type FieldConflict struct {
	Field    string
	Existing string
	Incoming string
}

// Merge folds newer into r. Null fields are filled, equal fields are kept and
// differing non-null fields take the newer value and are reported.
func (r IdentifierRecord) Merge(newer IdentifierRecord) (IdentifierRecord, []FieldConflict) {
	var conflicts []FieldConflict

	mergeInt := func(field string, dst *int, src int) {
		if src == 0 || *dst == src {
			return
		}
		if *dst != 0 {
			conflicts = append(conflicts, FieldConflict{Field: field, Existing: strconv.Itoa(*dst), Incoming: strconv.Itoa(src)})
		}
		*dst = src
	}

	merged := r
	mergeInt("mal_id", &merged.MalID, newer.MalID)
	mergeInt("anidb_id", &merged.AnidbID, newer.AnidbID)
	mergeInt("tvdb_id", &merged.TvdbID, newer.TvdbID)

	if newer.TmdbID != 0 && (merged.TmdbID != newer.TmdbID || (newer.TmdbType != "" && merged.TmdbType != newer.TmdbType)) {
		if merged.TmdbID != 0 {
			conflicts = append(conflicts, FieldConflict{
				Field:    "tmdb_id",
				Existing: string(merged.TmdbType) + "/" + strconv.Itoa(merged.TmdbID),
				Incoming: string(newer.TmdbType) + "/" + strconv.Itoa(newer.TmdbID),
			})
		}
		merged.TmdbID = newer.TmdbID
		if newer.TmdbType != "" {
			merged.TmdbType = newer.TmdbType
		}
	}

	if newer.ImdbID != "" && merged.ImdbID != newer.ImdbID {
		if merged.ImdbID != "" {
			conflicts = append(conflicts, FieldConflict{Field: "imdb_id", Existing: merged.ImdbID, Incoming: newer.ImdbID})
		}
		merged.ImdbID = newer.ImdbID
	}

	return merged, conflicts
}

// UpsertResult is the outcome of merging one partial record into the store.
type UpsertResult struct {
	Records   []IdentifierRecord
	Conflicts []FieldConflict
	Inserted  bool
}

// IdentifierRepo persists IdentifierRecords.
type IdentifierRepo interface {
	FindBy(ctx context.Context, kind IDKind, value string) ([]IdentifierRecord, error)
	Upsert(ctx context.Context, rec IdentifierRecord) (*UpsertResult, error)
	List(ctx context.Context) ([]IdentifierRecord, error)
}
