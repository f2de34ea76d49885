package relations

import (
	"context"
	"strconv"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/varoOP/shinkrometa/internal/domain"
)

type graph map[int][]domain.RelationEdge

func (g graph) lookup(calls *int) LookupFunc {
	return func(_ context.Context, id int) (*domain.AnimeRelations, error) {
		if calls != nil {
			*calls++
		}
		edges, ok := g[id]
		if !ok {
			return nil, domain.ErrNotFound
		}
		return &domain.AnimeRelations{
			Title: domain.ResolvedTitle{Kind: domain.SourceAnime, SourceID: strconv.Itoa(id), Title: "anime " + strconv.Itoa(id)},
			Edges: edges,
		}, nil
	}
}

func edge(from, to int, t domain.RelationType) domain.RelationEdge {
	return domain.RelationEdge{FromID: from, ToID: to, RelationType: t}
}

func ids(chain *domain.AnimeChain) []int {
	out := make([]int, 0, len(chain.Entries))
	for _, e := range chain.Entries {
		out = append(out, e.ID)
	}
	return out
}

func TestBuildChain_AsymmetricEdgesVisitEachOnce(t *testing.T) {
	const a, b, c = 1, 2, 3
	g := graph{
		a: {edge(a, b, domain.RelationSequel)},
		b: {edge(b, a, domain.RelationPrequel), edge(b, c, domain.RelationSideStory)},
		c: nil,
	}

	chain, err := NewService(zerolog.Nop(), g.lookup(nil), 20).BuildChain(context.Background(), a)
	require.NoError(t, err)
	assert.Equal(t, []int{a, b, c}, ids(chain))
	assert.False(t, chain.Truncated)

	assert.Equal(t, []int{b}, chain.Entries[0].Sequels)
	assert.Equal(t, []int{a}, chain.Entries[1].Prequels)
	assert.Empty(t, chain.Entries[2].Prequels)
}

func TestBuildChain_InfersMissingDirection(t *testing.T) {
	g := graph{
		1: {edge(1, 2, domain.RelationSequel)},
		2: nil,
	}

	chain, err := NewService(zerolog.Nop(), g.lookup(nil), 20).BuildChain(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, chain.Entries[1].Prequels)
}

func TestBuildChain_CycleTerminates(t *testing.T) {
	g := graph{
		1: {edge(1, 2, domain.RelationSequel)},
		2: {edge(2, 3, domain.RelationSequel)},
		3: {edge(3, 1, domain.RelationSequel)},
	}

	calls := 0
	chain, err := NewService(zerolog.Nop(), g.lookup(&calls), 20).BuildChain(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, ids(chain))
	assert.Equal(t, 3, calls)
}

func TestBuildChain_BoundedOnLargeGraph(t *testing.T) {
	g := graph{}
	for i := 1; i <= 200; i++ {
		g[i] = []domain.RelationEdge{
			edge(i, i+1, domain.RelationSequel),
			edge(i, i+50, domain.RelationSideStory),
			edge(i, 1, domain.RelationPrequel),
		}
	}

	calls := 0
	chain, err := NewService(zerolog.Nop(), g.lookup(&calls), 20).BuildChain(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, chain.Entries, 20)
	assert.LessOrEqual(t, calls, 20)
	assert.True(t, chain.Truncated)
}

func TestBuildChain_AcyclicReturnsReachableSet(t *testing.T) {
	g := graph{
		10: {edge(10, 11, domain.RelationSequel), edge(10, 20, domain.RelationSideStory), edge(10, 99, domain.RelationOther)},
		11: {edge(11, 12, domain.RelationSequel)},
		12: nil,
		20: nil,
		99: nil,
	}

	chain, err := NewService(zerolog.Nop(), g.lookup(nil), 20).BuildChain(context.Background(), 10)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int{10, 11, 12, 20}, ids(chain))
	assert.False(t, chain.Truncated)
}

func TestBuildChain_Singleton(t *testing.T) {
	chain, err := NewService(zerolog.Nop(), graph{5: nil}.lookup(nil), 20).BuildChain(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, []int{5}, ids(chain))
}

func TestBuildChain_SkipsFailedNodes(t *testing.T) {
	g := graph{
		1: {edge(1, 2, domain.RelationSequel), edge(1, 3, domain.RelationSequel)},
		3: nil,
	}

	chain, err := NewService(zerolog.Nop(), g.lookup(nil), 20).BuildChain(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3}, ids(chain))
}

func TestBuildChain_StartFailureIsReturned(t *testing.T) {
	_, err := NewService(zerolog.Nop(), graph{}.lookup(nil), 20).BuildChain(context.Background(), 1)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestBuildChain_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewService(zerolog.Nop(), graph{1: nil}.lookup(nil), 20).BuildChain(ctx, 1)
	assert.ErrorIs(t, err, context.Canceled)
}
