package domain

import "context"

type RelationType string

const (
	RelationPrequel   RelationType = "prequel"
	RelationSequel    RelationType = "sequel"
	RelationSideStory RelationType = "side_story"
	RelationOther     RelationType = "other"
)

// Followed reports whether chain traversal walks edges of this type.
func (t RelationType) Followed() bool {
	return t == RelationPrequel || t == RelationSequel || t == RelationSideStory
}

type RelationEdge struct {
	FromID       int          `json:"from_id"`
	ToID         int          `json:"to_id"`
	RelationType RelationType `json:"relation_type"`
}

// AnimeRelations is one node of the relation graph with its outgoing edges.
type AnimeRelations struct {
	Title  ResolvedTitle
	Format string
	Edges  []RelationEdge
}

type ChainEntry struct {
	ID         int           `json:"id"`
	Title      string        `json:"title"`
	PosterPath string        `json:"poster_path,omitempty"`
	Format     string        `json:"format,omitempty"`
	Prequels   []int         `json:"prequels,omitempty"`
	Sequels    []int         `json:"sequels,omitempty"`
	Detail     ResolvedTitle `json:"-"`
}

type AnimeChain struct {
	StartID   int          `json:"start_id"`
	Entries   []ChainEntry `json:"entries"`
	Truncated bool         `json:"truncated"`
}

type RelationRepo interface {
	ReplaceEdges(ctx context.Context, fromID int, edges []RelationEdge) error
	EdgesFrom(ctx context.Context, fromID int) ([]RelationEdge, error)
}
