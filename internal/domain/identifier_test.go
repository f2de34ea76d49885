package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIdentifierRecord_MergeUnionIsOrderIndependent(t *testing.T) {
	r1 := IdentifierRecord{MalID: 42, TvdbID: 777}
	r2 := IdentifierRecord{MalID: 42, TmdbID: 555, TmdbType: TMDBTV, ImdbID: "tt0001"}

	a, conflictsA := IdentifierRecord{}.Merge(r1)
	a, more := a.Merge(r2)
	conflictsA = append(conflictsA, more...)

	b, conflictsB := IdentifierRecord{}.Merge(r2)
	b, more = b.Merge(r1)
	conflictsB = append(conflictsB, more...)

	want := IdentifierRecord{MalID: 42, TvdbID: 777, TmdbID: 555, TmdbType: TMDBTV, ImdbID: "tt0001"}
	assert.Equal(t, want, a)
	assert.Equal(t, want, b)
	assert.Empty(t, conflictsA)
	assert.Empty(t, conflictsB)
}

func TestIdentifierRecord_MergeConflictNewerWins(t *testing.T) {
	existing := IdentifierRecord{MalID: 1, TmdbID: 10, TmdbType: TMDBMovie}

	merged, conflicts := existing.Merge(IdentifierRecord{MalID: 1, TmdbID: 11, TmdbType: TMDBMovie})

	assert.Equal(t, 11, merged.TmdbID)
	if assert.Len(t, conflicts, 1) {
		assert.Equal(t, "tmdb_id", conflicts[0].Field)
		assert.Equal(t, "movie/10", conflicts[0].Existing)
		assert.Equal(t, "movie/11", conflicts[0].Incoming)
	}
}

func TestIdentifierRecord_MergeNeverUnsets(t *testing.T) {
	existing := IdentifierRecord{MalID: 1, AnidbID: 2, TvdbID: 3, TmdbID: 4, TmdbType: TMDBTV, ImdbID: "tt5"}

	merged, conflicts := existing.Merge(IdentifierRecord{MalID: 1})

	assert.Equal(t, existing, merged)
	assert.Empty(t, conflicts)
}

func TestIdentifierRecord_Key(t *testing.T) {
	tests := []struct {
		name  string
		rec   IdentifierRecord
		kind  IDKind
		value string
		ok    bool
	}{
		{"mal first", IdentifierRecord{MalID: 1, TvdbID: 2}, IDKindMAL, "1", true},
		{"anidb before tvdb", IdentifierRecord{AnidbID: 5, TvdbID: 2}, IDKindAniDB, "5", true},
		{"tvdb", IdentifierRecord{TvdbID: 2, TmdbID: 3, TmdbType: TMDBTV}, IDKindTVDB, "2", true},
		{"tmdb needs type", IdentifierRecord{TmdbID: 3}, "", "", false},
		{"tmdb movie", IdentifierRecord{TmdbID: 3, TmdbType: TMDBMovie}, IDKindTMDBMovie, "3", true},
		{"imdb", IdentifierRecord{ImdbID: "tt9"}, IDKindIMDB, "tt9", true},
		{"empty", IdentifierRecord{}, "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, value, ok := tt.rec.Key()
			assert.Equal(t, tt.kind, kind)
			assert.Equal(t, tt.value, value)
			assert.Equal(t, tt.ok, ok)
		})
	}
}
