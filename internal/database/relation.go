package database

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/varoOP/shinkrometa/internal/domain"
)

// RelationRepo implements domain.RelationRepo
type RelationRepo struct {
	log zerolog.Logger
	db  *DB
}

func NewRelationRepo(log zerolog.Logger, db *DB) domain.RelationRepo {
	return &RelationRepo{
		log: log.With().Str("repo", "relation").Logger(),
		db:  db,
	}
}

// ReplaceEdges swaps the stored outgoing edges of fromID for edges.
func (r *RelationRepo) ReplaceEdges(ctx context.Context, fromID int, edges []domain.RelationEdge) error {
	r.db.lock.Lock()
	defer r.db.lock.Unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query, args, err := r.db.squirrel.
		Delete("relation_edges").
		Where(sq.Eq{"from_id": fromID}).
		ToSql()
	if err != nil {
		return errors.Wrap(err, "error building delete query")
	}

	r.log.Trace().Str("query", query).Interface("args", args).Msg("ReplaceEdges")

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return errors.Wrap(err, "error executing delete query")
	}

	if len(edges) > 0 {
		now := time.Now().UTC().Format(time.RFC3339)
		insert := r.db.squirrel.
			Replace("relation_edges").
			Columns("from_id", "to_id", "relation_type", "updated_at")

		for _, e := range edges {
			insert = insert.Values(fromID, e.ToID, string(e.RelationType), now)
		}

		query, args, err = insert.ToSql()
		if err != nil {
			return errors.Wrap(err, "error building query")
		}

		r.log.Trace().Str("query", query).Interface("args", args).Msg("ReplaceEdges")

		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return errors.Wrap(err, "error executing query")
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "error committing transaction")
	}

	return nil
}

func (r *RelationRepo) EdgesFrom(ctx context.Context, fromID int) ([]domain.RelationEdge, error) {
	query, args, err := r.db.squirrel.
		Select("from_id", "to_id", "relation_type").
		From("relation_edges").
		Where(sq.Eq{"from_id": fromID}).
		OrderBy("to_id").
		ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "error building query")
	}

	r.log.Trace().Str("query", query).Interface("args", args).Msg("EdgesFrom")

	rows, err := r.db.handler.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "error executing query")
	}
	defer rows.Close()

	var edges []domain.RelationEdge
	for rows.Next() {
		var (
			e       domain.RelationEdge
			relType string
		)
		if err := rows.Scan(&e.FromID, &e.ToID, &relType); err != nil {
			return nil, errors.Wrap(err, "error scanning row")
		}
		e.RelationType = domain.RelationType(relType)
		edges = append(edges, e)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating rows")
	}

	return edges, nil
}
