package database

const schema = `
CREATE TABLE identifier_map (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	mal_id INTEGER UNIQUE,
	anidb_id INTEGER,
	tvdb_id INTEGER,
	tmdb_id INTEGER,
	tmdb_type TEXT,
	imdb_id TEXT,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE INDEX idx_identifier_anidb ON identifier_map(anidb_id);
CREATE INDEX idx_identifier_tvdb ON identifier_map(tvdb_id);
CREATE INDEX idx_identifier_tmdb ON identifier_map(tmdb_id, tmdb_type);
CREATE INDEX idx_identifier_imdb ON identifier_map(imdb_id);

CREATE TABLE resolution_cache (
	source_kind TEXT NOT NULL,
	source_id TEXT NOT NULL,
	variant TEXT NOT NULL,
	title TEXT,
	poster_path TEXT,
	payload TEXT NOT NULL,
	fetched_at INTEGER NOT NULL,
	expires_at INTEGER,
	PRIMARY KEY (source_kind, source_id, variant)
);

CREATE INDEX idx_resolution_expires_at ON resolution_cache(expires_at);

CREATE TABLE relation_edges (
	from_id INTEGER NOT NULL,
	to_id INTEGER NOT NULL,
	relation_type TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	PRIMARY KEY (from_id, to_id)
);

CREATE TABLE trending_snapshot (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	payload TEXT NOT NULL,
	computed_at TIMESTAMP NOT NULL
);
`

// migrations[0] is empty because version 0 creates the base schema.
var migrations = []string{
	"",
}
