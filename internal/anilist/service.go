package anilist

import (
	"context"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/shurcooL/graphql"
	"github.com/varoOP/shinkrometa/internal/domain"
)

const DefaultURL = "https://graphql.anilist.co"

type Service interface {
	Relations(ctx context.Context, malID int) (*Media, error)
	Trending(ctx context.Context, perPage int) ([]Media, error)
}

type service struct {
	log    zerolog.Logger
	client *graphql.Client
}

type Media struct {
	ID           int    `json:"id"`
	MalID        int    `json:"mal_id"`
	Type         string `json:"type"`
	Format       string `json:"format,omitempty"`
	Title        string `json:"title"`
	EnglishTitle string `json:"english_title,omitempty"`
	Description  string `json:"description,omitempty"`
	CoverImage   string `json:"cover_image,omitempty"`
	BannerImage  string `json:"banner_image,omitempty"`
	Popularity   int    `json:"popularity"`
	Trending     int    `json:"trending"`
	StartYear    int    `json:"start_year,omitempty"`

	Relations []Relation `json:"-"`
}

type Relation struct {
	Type    domain.RelationType
	RawType string
	Node    Media
}

// Edges returns the relations that point at another anime with a MAL id.
func (m *Media) Edges() []domain.RelationEdge {
	var edges []domain.RelationEdge
	for _, r := range m.Relations {
		if r.Node.Type != "ANIME" || r.Node.MalID == 0 {
			continue
		}
		edges = append(edges, domain.RelationEdge{FromID: m.MalID, ToID: r.Node.MalID, RelationType: r.Type})
	}
	return edges
}

type mediaNode struct {
	ID     graphql.Int    `graphql:"id"`
	IDMal  graphql.Int    `graphql:"idMal"`
	Type   graphql.String `graphql:"type"`
	Format graphql.String `graphql:"format"`
	Title  struct {
		Romaji  graphql.String `graphql:"romaji"`
		English graphql.String `graphql:"english"`
	} `graphql:"title"`
	CoverImage struct {
		Large graphql.String `graphql:"large"`
	} `graphql:"coverImage"`
	BannerImage graphql.String `graphql:"bannerImage"`
	Popularity  graphql.Int    `graphql:"popularity"`
	Trending    graphql.Int    `graphql:"trending"`
	StartDate   struct {
		Year graphql.Int `graphql:"year"`
	} `graphql:"startDate"`
}

func (n mediaNode) toMedia() Media {
	return Media{
		ID:           int(n.ID),
		MalID:        int(n.IDMal),
		Type:         string(n.Type),
		Format:       string(n.Format),
		Title:        string(n.Title.Romaji),
		EnglishTitle: string(n.Title.English),
		CoverImage:   string(n.CoverImage.Large),
		BannerImage:  string(n.BannerImage),
		Popularity:   int(n.Popularity),
		Trending:     int(n.Trending),
		StartYear:    int(n.StartDate.Year),
	}
}

type relationsQuery struct {
	Media struct {
		ID     graphql.Int    `graphql:"id"`
		IDMal  graphql.Int    `graphql:"idMal"`
		Type   graphql.String `graphql:"type"`
		Format graphql.String `graphql:"format"`
		Title  struct {
			Romaji  graphql.String `graphql:"romaji"`
			English graphql.String `graphql:"english"`
		} `graphql:"title"`
		Description graphql.String `graphql:"description"`
		CoverImage  struct {
			Large graphql.String `graphql:"large"`
		} `graphql:"coverImage"`
		BannerImage graphql.String `graphql:"bannerImage"`
		Popularity  graphql.Int    `graphql:"popularity"`
		StartDate   struct {
			Year graphql.Int `graphql:"year"`
		} `graphql:"startDate"`
		Relations struct {
			Edges []struct {
				RelationType graphql.String `graphql:"relationType"`
				Node         mediaNode      `graphql:"node"`
			} `graphql:"edges"`
		} `graphql:"relations"`
	} `graphql:"Media(idMal: $id, type: ANIME)"`
}

type trendingQuery struct {
	Page struct {
		Media []mediaNode `graphql:"media(sort: TRENDING_DESC, type: ANIME)"`
	} `graphql:"Page(page: 1, perPage: $perPage)"`
}

func NewService(log zerolog.Logger, endpoint string, httpClient *http.Client) Service {
	if endpoint == "" {
		endpoint = DefaultURL
	}

	return &service{
		log:    log.With().Str("module", "anilist").Logger(),
		client: graphql.NewClient(endpoint, httpClient),
	}
}

// Relations fetches the anime with the given MAL id together with its
// relation edges.
func (s *service) Relations(ctx context.Context, malID int) (*Media, error) {
	var q relationsQuery
	vars := map[string]interface{}{
		"id": graphql.Int(malID),
	}

	if err := s.client.Query(ctx, &q, vars); err != nil {
		return nil, s.wrap(ctx, err, "relations", malID)
	}

	m := q.Media
	media := &Media{
		ID:           int(m.ID),
		MalID:        int(m.IDMal),
		Type:         string(m.Type),
		Format:       string(m.Format),
		Title:        string(m.Title.Romaji),
		EnglishTitle: string(m.Title.English),
		Description:  StripHTML(string(m.Description)),
		CoverImage:   string(m.CoverImage.Large),
		BannerImage:  string(m.BannerImage),
		Popularity:   int(m.Popularity),
		StartYear:    int(m.StartDate.Year),
	}

	if media.MalID == 0 {
		return nil, errors.Wrapf(domain.ErrNotFound, "anilist media for mal id %d", malID)
	}

	for _, e := range m.Relations.Edges {
		media.Relations = append(media.Relations, Relation{
			Type:    relationType(string(e.RelationType)),
			RawType: string(e.RelationType),
			Node:    e.Node.toMedia(),
		})
	}

	s.log.Debug().Int("mal_id", malID).Int("relations", len(media.Relations)).Msg("fetched relations")
	return media, nil
}

func (s *service) Trending(ctx context.Context, perPage int) ([]Media, error) {
	var q trendingQuery
	vars := map[string]interface{}{
		"perPage": graphql.Int(perPage),
	}

	if err := s.client.Query(ctx, &q, vars); err != nil {
		return nil, s.wrap(ctx, err, "trending", 0)
	}

	out := make([]Media, 0, len(q.Page.Media))
	for _, n := range q.Page.Media {
		out = append(out, n.toMedia())
	}

	return out, nil
}

func (s *service) wrap(ctx context.Context, err error, op string, id int) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	// the client reports non-200 responses only through the error text
	if strings.Contains(err.Error(), "404") || strings.Contains(err.Error(), "Not Found") {
		return errors.Wrapf(domain.ErrNotFound, "anilist %s %d", op, id)
	}
	return errors.Wrapf(domain.ErrUpstream, "anilist %s %d: %v", op, id, err)
}

func relationType(raw string) domain.RelationType {
	switch raw {
	case "PREQUEL":
		return domain.RelationPrequel
	case "SEQUEL":
		return domain.RelationSequel
	case "SIDE_STORY":
		return domain.RelationSideStory
	}
	return domain.RelationOther
}
