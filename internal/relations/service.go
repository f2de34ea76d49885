package relations

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"github.com/varoOP/shinkrometa/internal/domain"
)

// DefaultLimit bounds a chain when no limit is configured.
const DefaultLimit = 20

// LookupFunc returns an anime with its outgoing relation edges.
type LookupFunc func(ctx context.Context, id int) (*domain.AnimeRelations, error)

type Service interface {
	BuildChain(ctx context.Context, startID int) (*domain.AnimeChain, error)
}

type service struct {
	log    zerolog.Logger
	lookup LookupFunc
	limit  int
}

func NewService(log zerolog.Logger, lookup LookupFunc, limit int) Service {
	if limit <= 0 {
		limit = DefaultLimit
	}

	return &service{
		log:    log.With().Str("module", "relations").Logger(),
		lookup: lookup,
		limit:  limit,
	}
}

// BuildChain walks prequel, sequel and side story edges breadth first from
// startID. At most limit ids are ever queued, so cyclic or sprawling graphs
// terminate; edges seen after that are dropped and the chain is marked
// truncated. A node that fails to load is skipped unless it is the start.
func (s *service) BuildChain(ctx context.Context, startID int) (*domain.AnimeChain, error) {
	visited := map[int]bool{startID: true}
	queue := []int{startID}

	var (
		order     []int
		nodes     = map[int]*domain.AnimeRelations{}
		truncated bool
	)

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		id := queue[0]
		queue = queue[1:]

		rel, err := s.lookup(ctx, id)
		if err != nil {
			if id == startID {
				return nil, errors.Wrapf(err, "failed to load chain start %d", startID)
			}
			s.log.Warn().Err(err).Int("start_id", startID).Int("mal_id", id).Msg("skipping chain entry")
			continue
		}

		nodes[id] = rel
		order = append(order, id)

		for _, e := range rel.Edges {
			if !e.RelationType.Followed() || visited[e.ToID] {
				continue
			}
			if len(visited) >= s.limit {
				truncated = true
				continue
			}
			visited[e.ToID] = true
			queue = append(queue, e.ToID)
		}
	}

	if truncated {
		s.log.Debug().Int("start_id", startID).Int("limit", s.limit).Msg("chain truncated")
	}

	return &domain.AnimeChain{
		StartID:   startID,
		Entries:   annotate(order, nodes),
		Truncated: truncated,
	}, nil
}

// annotate builds the entries in discovery order. Prequel and sequel links
// come from both ends of an edge since providers often author only one side.
func annotate(order []int, nodes map[int]*domain.AnimeRelations) []domain.ChainEntry {
	prequels := map[int][]int{}
	sequels := map[int][]int{}

	for _, id := range order {
		for _, e := range nodes[id].Edges {
			switch e.RelationType {
			case domain.RelationPrequel:
				prequels[id] = append(prequels[id], e.ToID)
				if _, ok := nodes[e.ToID]; ok {
					sequels[e.ToID] = append(sequels[e.ToID], id)
				}
			case domain.RelationSequel:
				sequels[id] = append(sequels[id], e.ToID)
				if _, ok := nodes[e.ToID]; ok {
					prequels[e.ToID] = append(prequels[e.ToID], id)
				}
			}
		}
	}

	entries := make([]domain.ChainEntry, 0, len(order))
	for _, id := range order {
		rel := nodes[id]
		entries = append(entries, domain.ChainEntry{
			ID:         id,
			Title:      rel.Title.Title,
			PosterPath: rel.Title.PosterPath,
			Format:     rel.Format,
			Prequels:   lo.Uniq(prequels[id]),
			Sequels:    lo.Uniq(sequels[id]),
			Detail:     rel.Title,
		})
	}

	return entries
}
