package database

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"sync"

	sq "github.com/Masterminds/squirrel"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// DB wraps the sqlite handle shared by all repositories.
type DB struct {
	handler  *sql.DB
	log      zerolog.Logger
	lock     sync.RWMutex
	squirrel sq.StatementBuilderType
}

// NewDB opens (or creates) shinkrometa.db in dir and migrates it.
func NewDB(dir string, log zerolog.Logger) (*DB, error) {
	var (
		err error
		DSN = filepath.Join(dir, "shinkrometa.db") + "?_pragma=busy_timeout%3d1000"
	)

	handler, err := sql.Open("sqlite", DSN)
	if err != nil {
		return nil, errors.Wrap(err, "unable to connect to database")
	}

	db := newDB(handler, log)

	if _, err = db.handler.Exec(`PRAGMA journal_mode = wal;`); err != nil {
		db.handler.Close()
		return nil, errors.Wrap(err, "unable to enable WAL mode")
	}

	if err := db.Migrate(); err != nil {
		db.handler.Close()
		return nil, errors.Wrap(err, "failed to migrate schema")
	}

	return db, nil
}

func newDB(handler *sql.DB, log zerolog.Logger) *DB {
	return &DB{
		handler:  handler,
		log:      log.With().Str("module", "database").Logger(),
		squirrel: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// Migrate brings the schema to the latest version tracked in PRAGMA user_version.
func (db *DB) Migrate() error {
	db.lock.Lock()
	defer db.lock.Unlock()

	var version int
	if err := db.handler.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return errors.Wrap(err, "failed to query schema version")
	}

	if version == len(migrations) {
		return nil
	} else if version > len(migrations) {
		return errors.Errorf("database schema version (%d) is newer than supported (%d)", version, len(migrations))
	}

	db.log.Info().Msgf("Beginning database schema upgrade from version %v to version: %v", version, len(migrations))

	tx, err := db.handler.Begin()
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	if version == 0 {
		if _, err := tx.Exec(schema); err != nil {
			return errors.Wrap(err, "failed to initialize schema")
		}
		db.log.Info().Msg("Created initial database schema")
	} else {
		for i := version; i < len(migrations); i++ {
			if migrations[i] == "" {
				continue
			}
			db.log.Info().Msgf("Upgrading database schema to version: %v", i+1)
			if _, err := tx.Exec(migrations[i]); err != nil {
				return errors.Wrapf(err, "failed to execute migration #%v", i)
			}
		}
	}

	_, err = tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", len(migrations)))
	if err != nil {
		return errors.Wrap(err, "failed to bump schema version")
	}

	db.log.Info().Msgf("Database schema upgraded to version: %v", len(migrations))
	return tx.Commit()
}

func (db *DB) Close() error {
	if _, err := db.handler.Exec(`PRAGMA optimize;`); err != nil {
		return errors.Wrap(err, "query planner optimization")
	}

	return db.handler.Close()
}

func (db *DB) Ping(ctx context.Context) error {
	return db.handler.PingContext(ctx)
}

func (db *DB) BeginTx(ctx context.Context, opts *sql.TxOptions) (*Tx, error) {
	tx, err := db.handler.BeginTx(ctx, opts)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin transaction")
	}

	return &Tx{
		Tx:      tx,
		handler: db,
	}, nil
}

type Tx struct {
	*sql.Tx
	handler *DB
}
