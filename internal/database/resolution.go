package database

import (
	"context"
	"database/sql"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/varoOP/shinkrometa/internal/domain"
)

// ResolutionRepo implements domain.ResolutionRepo
type ResolutionRepo struct {
	log zerolog.Logger
	db  *DB
}

func NewResolutionRepo(log zerolog.Logger, db *DB) domain.ResolutionRepo {
	return &ResolutionRepo{
		log: log.With().Str("repo", "resolution").Logger(),
		db:  db,
	}
}

// Get returns the cached title for key unless it expired before now.
func (r *ResolutionRepo) Get(ctx context.Context, key domain.CacheKey, now time.Time) (*domain.ResolvedTitle, error) {
	queryBuilder := r.db.squirrel.
		Select("title", "poster_path", "payload", "fetched_at").
		From("resolution_cache").
		Where(sq.Eq{
			"source_kind": string(key.Kind),
			"source_id":   key.ID,
			"variant":     key.Variant,
		}).
		Where(sq.Or{
			sq.Eq{"expires_at": nil},
			sq.Gt{"expires_at": now.Unix()},
		})

	query, args, err := queryBuilder.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "error building query")
	}

	r.log.Trace().Str("query", query).Interface("args", args).Msg("Get")

	var (
		title, poster sql.NullString
		payload       string
		fetchedAt     int64
	)

	row := r.db.handler.QueryRowContext(ctx, query, args...)
	if err := row.Scan(&title, &poster, &payload, &fetchedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrCacheMiss
		}
		return nil, errors.Wrap(err, "error scanning row")
	}

	return &domain.ResolvedTitle{
		Kind:       key.Kind,
		SourceID:   key.ID,
		Title:      title.String,
		PosterPath: poster.String,
		Payload:    []byte(payload),
		FetchedAt:  time.Unix(fetchedAt, 0).UTC(),
	}, nil
}

// Put replaces the cached value for key.
func (r *ResolutionRepo) Put(ctx context.Context, key domain.CacheKey, value domain.ResolvedTitle, expiresAt *time.Time) error {
	var expires any
	if expiresAt != nil {
		expires = expiresAt.Unix()
	}

	fetchedAt := value.FetchedAt
	if fetchedAt.IsZero() {
		fetchedAt = time.Now()
	}

	queryBuilder := r.db.squirrel.
		Replace("resolution_cache").
		Columns("source_kind", "source_id", "variant", "title", "poster_path", "payload", "fetched_at", "expires_at").
		Values(string(key.Kind), key.ID, key.Variant, value.Title, nullString(value.PosterPath), string(value.Payload), fetchedAt.Unix(), expires)

	query, args, err := queryBuilder.ToSql()
	if err != nil {
		return errors.Wrap(err, "error building query")
	}

	r.log.Trace().Str("query", query).Str("key", key.String()).Msg("Put")

	if _, err := r.db.handler.ExecContext(ctx, query, args...); err != nil {
		return errors.Wrap(err, "error executing query")
	}

	return nil
}

// DeleteExpired removes entries whose expiry is at or before now.
func (r *ResolutionRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	queryBuilder := r.db.squirrel.
		Delete("resolution_cache").
		Where(sq.And{
			sq.NotEq{"expires_at": nil},
			sq.LtOrEq{"expires_at": now.Unix()},
		})

	query, args, err := queryBuilder.ToSql()
	if err != nil {
		return 0, errors.Wrap(err, "error building delete query")
	}

	r.log.Trace().Str("query", query).Interface("args", args).Msg("DeleteExpired")

	res, err := r.db.handler.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, errors.Wrap(err, "error executing delete query")
	}

	return res.RowsAffected()
}
