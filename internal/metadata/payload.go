package metadata

import (
	"encoding/json"
	"strconv"

	"github.com/pkg/errors"
	"github.com/varoOP/shinkrometa/internal/anilist"
	"github.com/varoOP/shinkrometa/internal/domain"
	"github.com/varoOP/shinkrometa/internal/tmdb"
)

type relationsPayload struct {
	anilist.Media
	Relations []relationView `json:"relations"`
}

type relationView struct {
	RelationType domain.RelationType `json:"relation_type"`
	RawType      string              `json:"raw_type"`
	Node         anilist.Media       `json:"node"`
}

type episodesPayload struct {
	ID       int            `json:"id"`
	Name     string         `json:"name"`
	Start    string         `json:"start"`
	End      string         `json:"end"`
	Episodes []tmdb.Episode `json:"episodes"`
}

// DecodeRelations rebuilds the relation edges of a cached relations title.
func DecodeRelations(title domain.ResolvedTitle) (*domain.AnimeRelations, error) {
	var p relationsPayload
	if err := json.Unmarshal(title.Payload, &p); err != nil {
		return nil, errors.Wrapf(err, "failed to decode relations of %s", title.SourceID)
	}

	m := p.Media
	if m.MalID == 0 {
		m.MalID, _ = strconv.Atoi(title.SourceID)
	}
	m.Relations = make([]anilist.Relation, 0, len(p.Relations))
	for _, r := range p.Relations {
		m.Relations = append(m.Relations, anilist.Relation{Type: r.RelationType, RawType: r.RawType, Node: r.Node})
	}

	return &domain.AnimeRelations{
		Title:  title,
		Format: m.Format,
		Edges:  m.Edges(),
	}, nil
}

// AnimeMediaType guesses the TMDB type of an anime from its MAL detail
// payload. Empty means unknown.
func AnimeMediaType(payload json.RawMessage) domain.TMDBType {
	var head struct {
		MediaType string `json:"media_type"`
	}
	if err := json.Unmarshal(payload, &head); err != nil || head.MediaType == "" {
		return ""
	}

	if head.MediaType == "movie" {
		return domain.TMDBMovie
	}
	return domain.TMDBTV
}
