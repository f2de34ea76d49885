package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/varoOP/shinkrometa/internal/domain"
)

// TrendingRepo implements domain.TrendingRepo. The snapshot lives in a single
// row so a replace is one statement.
type TrendingRepo struct {
	log zerolog.Logger
	db  *DB
}

func NewTrendingRepo(log zerolog.Logger, db *DB) domain.TrendingRepo {
	return &TrendingRepo{
		log: log.With().Str("repo", "trending").Logger(),
		db:  db,
	}
}

func (r *TrendingRepo) Load(ctx context.Context) (*domain.TrendingSnapshot, error) {
	query, args, err := r.db.squirrel.
		Select("payload").
		From("trending_snapshot").
		Where(sq.Eq{"id": 1}).
		ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "error building query")
	}

	r.log.Trace().Str("query", query).Interface("args", args).Msg("Load")

	var payload string
	if err := r.db.handler.QueryRowContext(ctx, query, args...).Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, errors.Wrap(err, "error scanning row")
	}

	snap := &domain.TrendingSnapshot{}
	if err := json.Unmarshal([]byte(payload), snap); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal trending snapshot")
	}

	return snap, nil
}

func (r *TrendingRepo) Replace(ctx context.Context, snap domain.TrendingSnapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return errors.Wrap(err, "failed to marshal trending snapshot")
	}

	query, args, err := r.db.squirrel.
		Replace("trending_snapshot").
		Columns("id", "payload", "computed_at").
		Values(1, string(payload), snap.ComputedAt.UTC().Format(time.RFC3339)).
		ToSql()
	if err != nil {
		return errors.Wrap(err, "error building query")
	}

	r.log.Trace().Str("query", query).Msg("Replace")

	if _, err := r.db.handler.ExecContext(ctx, query, args...); err != nil {
		return errors.Wrap(err, "error executing query")
	}

	return nil
}
