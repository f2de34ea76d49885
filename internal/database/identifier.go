package database

import (
	"context"
	"database/sql"
	"strconv"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/varoOP/shinkrometa/internal/domain"
)

var identifierColumns = []string{"id", "mal_id", "anidb_id", "tvdb_id", "tmdb_id", "tmdb_type", "imdb_id"}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type storedRecord struct {
	rowID int64
	rec   domain.IdentifierRecord
}

// IdentifierRepo implements domain.IdentifierRepo
type IdentifierRepo struct {
	log zerolog.Logger
	db  *DB
}

func NewIdentifierRepo(log zerolog.Logger, db *DB) domain.IdentifierRepo {
	return &IdentifierRepo{
		log: log.With().Str("repo", "identifier").Logger(),
		db:  db,
	}
}

func identifierPredicate(kind domain.IDKind, value string) (sq.Sqlizer, error) {
	if kind == domain.IDKindIMDB {
		return sq.Eq{"imdb_id": value}, nil
	}

	id, err := strconv.Atoi(value)
	if err != nil || id <= 0 {
		return nil, errors.Errorf("invalid %s id %q", kind, value)
	}

	switch kind {
	case domain.IDKindMAL:
		return sq.Eq{"mal_id": id}, nil
	case domain.IDKindAniDB:
		return sq.Eq{"anidb_id": id}, nil
	case domain.IDKindTVDB:
		return sq.Eq{"tvdb_id": id}, nil
	case domain.IDKindTMDBMovie:
		return sq.Eq{"tmdb_id": id, "tmdb_type": string(domain.TMDBMovie)}, nil
	case domain.IDKindTMDBTV:
		return sq.Eq{"tmdb_id": id, "tmdb_type": string(domain.TMDBTV)}, nil
	}

	return nil, errors.Errorf("unknown identifier kind %q", kind)
}

// FindBy returns every record whose kind column equals value.
func (r *IdentifierRepo) FindBy(ctx context.Context, kind domain.IDKind, value string) ([]domain.IdentifierRecord, error) {
	pred, err := identifierPredicate(kind, value)
	if err != nil {
		return nil, err
	}

	r.db.lock.RLock()
	defer r.db.lock.RUnlock()

	stored, err := r.selectWhere(ctx, r.db.handler, pred)
	if err != nil {
		return nil, err
	}

	if len(stored) == 0 {
		return nil, domain.ErrNotFound
	}

	records := make([]domain.IdentifierRecord, 0, len(stored))
	for _, s := range stored {
		records = append(records, s.rec)
	}

	return records, nil
}

// List returns all records ordered by insertion.
func (r *IdentifierRepo) List(ctx context.Context) ([]domain.IdentifierRecord, error) {
	r.db.lock.RLock()
	defer r.db.lock.RUnlock()

	stored, err := r.selectWhere(ctx, r.db.handler, nil)
	if err != nil {
		return nil, err
	}

	records := make([]domain.IdentifierRecord, 0, len(stored))
	for _, s := range stored {
		records = append(records, s.rec)
	}

	return records, nil
}

// Upsert merges rec into every record sharing its key, or inserts it when
// none exists. The read and the writes happen in one transaction.
func (r *IdentifierRepo) Upsert(ctx context.Context, rec domain.IdentifierRecord) (*domain.UpsertResult, error) {
	kind, value, ok := rec.Key()
	if !ok {
		return nil, errors.Wrap(domain.ErrInvalid, "identifier record has no usable key")
	}

	pred, err := identifierPredicate(kind, value)
	if err != nil {
		return nil, err
	}

	r.db.lock.Lock()
	defer r.db.lock.Unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	existing, err := r.selectWhere(ctx, tx, pred)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC().Format(time.RFC3339)
	result := &domain.UpsertResult{}

	if len(existing) == 0 {
		queryBuilder := r.db.squirrel.
			Insert("identifier_map").
			Columns("mal_id", "anidb_id", "tvdb_id", "tmdb_id", "tmdb_type", "imdb_id", "created_at", "updated_at").
			Values(nullInt(rec.MalID), nullInt(rec.AnidbID), nullInt(rec.TvdbID), nullInt(rec.TmdbID), nullString(string(rec.TmdbType)), nullString(rec.ImdbID), now, now)

		query, args, err := queryBuilder.ToSql()
		if err != nil {
			return nil, errors.Wrap(err, "error building query")
		}

		r.log.Trace().Str("query", query).Interface("args", args).Msg("Upsert")

		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return nil, errors.Wrap(err, "error executing query")
		}

		result.Inserted = true
		result.Records = []domain.IdentifierRecord{rec}
	}

	for _, s := range existing {
		merged, conflicts := s.rec.Merge(rec)
		result.Conflicts = append(result.Conflicts, conflicts...)
		result.Records = append(result.Records, merged)

		if merged == s.rec {
			continue
		}

		queryBuilder := r.db.squirrel.
			Update("identifier_map").
			Set("mal_id", nullInt(merged.MalID)).
			Set("anidb_id", nullInt(merged.AnidbID)).
			Set("tvdb_id", nullInt(merged.TvdbID)).
			Set("tmdb_id", nullInt(merged.TmdbID)).
			Set("tmdb_type", nullString(string(merged.TmdbType))).
			Set("imdb_id", nullString(merged.ImdbID)).
			Set("updated_at", now).
			Where(sq.Eq{"id": s.rowID})

		query, args, err := queryBuilder.ToSql()
		if err != nil {
			return nil, errors.Wrap(err, "error building query")
		}

		r.log.Trace().Str("query", query).Interface("args", args).Msg("Upsert")

		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return nil, errors.Wrap(err, "error executing query")
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "error committing transaction")
	}

	return result, nil
}

func (r *IdentifierRepo) selectWhere(ctx context.Context, q queryer, pred sq.Sqlizer) ([]storedRecord, error) {
	queryBuilder := r.db.squirrel.
		Select(identifierColumns...).
		From("identifier_map").
		OrderBy("id")

	if pred != nil {
		queryBuilder = queryBuilder.Where(pred)
	}

	query, args, err := queryBuilder.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "error building query")
	}

	r.log.Trace().Str("query", query).Interface("args", args).Msg("selectWhere")

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "error executing query")
	}
	defer rows.Close()

	var out []storedRecord
	for rows.Next() {
		var (
			s                              storedRecord
			malID, anidbID, tvdbID, tmdbID sql.NullInt64
			tmdbType, imdbID               sql.NullString
		)

		if err := rows.Scan(&s.rowID, &malID, &anidbID, &tvdbID, &tmdbID, &tmdbType, &imdbID); err != nil {
			return nil, errors.Wrap(err, "error scanning row")
		}

		s.rec = domain.IdentifierRecord{
			MalID:    int(malID.Int64),
			AnidbID:  int(anidbID.Int64),
			TvdbID:   int(tvdbID.Int64),
			TmdbID:   int(tmdbID.Int64),
			TmdbType: domain.TMDBType(tmdbType.String),
			ImdbID:   imdbID.String,
		}
		out = append(out, s)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating rows")
	}

	return out, nil
}

func nullInt(v int) any {
	if v == 0 {
		return nil
	}
	return v
}

func nullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}
