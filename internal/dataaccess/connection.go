// Package dataaccess wraps the embedded relational store: schema setup,
// a cached set of prepared statements, transaction discipline, and the
// seven catalog operations the request handler drives. Callers never
// see SQL or statement lifetimes.
//
// The store engine is modernc.org/sqlite (pure Go, no cgo) accessed
// through database/sql. A Connection is exclusively owned by one worker
// for its lifetime; opening one *sql.DB per worker with
// SetMaxOpenConns(1) keeps database/sql from handing out a second
// concurrent connection behind the scenes.
package dataaccess

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/oriys/moviedb/internal/classify"
	"github.com/oriys/moviedb/internal/logging"
	"github.com/oriys/moviedb/internal/recordbuilder"
)

const driverName = "sqlite"

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS movies (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT NOT NULL,
		director TEXT NOT NULL,
		release_year INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS genres (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_genres_name ON genres(name)`,
	`CREATE TABLE IF NOT EXISTS movie_genres (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		movie_id INTEGER NOT NULL REFERENCES movies(id) ON DELETE CASCADE,
		genre_id INTEGER NOT NULL REFERENCES genres(id) ON DELETE CASCADE
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_movie_genres_pair ON movie_genres(movie_id, genre_id)`,
}

// OpError is the typed error every Connection operation returns. Message
// is the exact single-line text the request handler forwards to the
// client; Kind is what the worker uses to decide whether to keep serving
// or abort.
type OpError struct {
	Kind    classify.Kind
	Message string
}

func (e *OpError) Error() string { return e.Message }

func hardErr(err error) *OpError {
	return &OpError{Kind: classify.Err(err), Message: err.Error()}
}

func userErr(format string, args ...any) *OpError {
	return &OpError{Kind: classify.UserError, Message: fmt.Sprintf(format, args...)}
}

// preparedStmts is the statement cache built once on Connect.
// database/sql's *sql.Stmt already carries its own argument-binding
// lifecycle, so there is no separate idle/active state to track.
type preparedStmts struct {
	insertMovie         *sql.Stmt
	upsertGenre         *sql.Stmt
	genreIDByName       *sql.Stmt
	linkMovieGenre      *sql.Stmt
	linkMovieGenreOnce  *sql.Stmt
	deleteMovie         *sql.Stmt
	deleteUnusedGenres  *sql.Stmt
	movieExists         *sql.Stmt
	selectAllTitles     *sql.Stmt
	selectAllMovies     *sql.Stmt
	selectMovieByID     *sql.Stmt
	selectMoviesByGenre *sql.Stmt
	selectGenresOfMovie *sql.Stmt
}

// Connection is a single exclusively-owned handle to the store: one
// *sql.DB capped to one physical connection, the prepared statement
// cache, and the reusable record builder used to assemble rows read back
// from the store.
type Connection struct {
	db      *sql.DB
	stmts   preparedStmts
	builder *recordbuilder.Builder
}

// Setup creates path if absent and applies the schema, then closes the
// connection it opened to do so. Safe to call before every worker's
// Connect, since every statement is idempotent (CREATE ... IF NOT
// EXISTS).
func Setup(ctx context.Context, path string) error {
	db, err := sql.Open(driverName, path)
	if err != nil {
		return hardErr(err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return hardErr(err)
	}
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return hardErr(err)
		}
	}
	// Rebuild the indexes once up front; a store file carried over from an
	// earlier run may predate an index definition above.
	if _, err := db.ExecContext(ctx, `REINDEX`); err != nil {
		return hardErr(err)
	}
	return nil
}

// Connect opens path as this worker's exclusive connection and prepares
// every cached statement. Any preparation failure aborts the connect and
// finalizes whatever was already prepared.
func Connect(ctx context.Context, path string) (*Connection, error) {
	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, hardErr(err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys = ON`); err != nil {
		db.Close()
		return nil, hardErr(err)
	}

	c := &Connection{db: db, builder: recordbuilder.New()}
	if err := c.prepareAll(ctx); err != nil {
		c.stmts.closeAll()
		db.Close()
		return nil, hardErr(err)
	}
	return c, nil
}

func (c *Connection) prepareAll(ctx context.Context) error {
	type binding struct {
		dst   **sql.Stmt
		query string
	}
	bindings := []binding{
		{&c.stmts.insertMovie, `INSERT INTO movies (title, director, release_year) VALUES (?, ?, ?) RETURNING id`},
		{&c.stmts.upsertGenre, `INSERT INTO genres (name) VALUES (?)
			ON CONFLICT(name) DO UPDATE SET name = excluded.name RETURNING id`},
		{&c.stmts.genreIDByName, `SELECT id FROM genres WHERE name = ?`},
		{&c.stmts.linkMovieGenre, `INSERT INTO movie_genres (movie_id, genre_id) VALUES (?, ?)`},
		{&c.stmts.linkMovieGenreOnce, `INSERT OR IGNORE INTO movie_genres (movie_id, genre_id) VALUES (?, ?)`},
		{&c.stmts.deleteMovie, `DELETE FROM movies WHERE id = ?`},
		{&c.stmts.deleteUnusedGenres, `DELETE FROM genres WHERE id NOT IN (SELECT DISTINCT genre_id FROM movie_genres)`},
		{&c.stmts.movieExists, `SELECT 1 FROM movies WHERE id = ?`},
		{&c.stmts.selectAllTitles, `SELECT id, title FROM movies ORDER BY id`},
		{&c.stmts.selectAllMovies, `SELECT id, title, director, release_year FROM movies ORDER BY id`},
		{&c.stmts.selectMovieByID, `SELECT title, director, release_year FROM movies WHERE id = ?`},
		{&c.stmts.selectMoviesByGenre, `SELECT DISTINCT m.id, m.title, m.director, m.release_year
			FROM movies m
			JOIN movie_genres mg ON mg.movie_id = m.id
			JOIN genres g ON g.id = mg.genre_id
			WHERE g.name = ?
			ORDER BY m.id`},
		{&c.stmts.selectGenresOfMovie, `SELECT g.name
			FROM genres g
			JOIN movie_genres mg ON mg.genre_id = g.id
			WHERE mg.movie_id = ?
			ORDER BY mg.id`},
	}
	for _, b := range bindings {
		stmt, err := c.db.Prepare(b.query)
		if err != nil {
			return fmt.Errorf("prepare %q: %w", b.query, err)
		}
		*b.dst = stmt
	}
	return nil
}

func (s *preparedStmts) closeAll() error {
	stmts := []*sql.Stmt{
		s.insertMovie, s.upsertGenre, s.genreIDByName, s.linkMovieGenre, s.linkMovieGenreOnce,
		s.deleteMovie, s.deleteUnusedGenres, s.movieExists, s.selectAllTitles, s.selectAllMovies,
		s.selectMovieByID, s.selectMoviesByGenre, s.selectGenresOfMovie,
	}
	var first error
	for _, stmt := range stmts {
		if stmt != nil {
			if err := stmt.Close(); err != nil && first == nil {
				first = err
			}
		}
	}
	return first
}

// Close finalizes every cached statement and closes the connection. The
// first error encountered is returned; closing continues regardless so
// the connection is destroyed either way.
func (c *Connection) Close() error {
	err := c.stmts.closeAll()
	if cerr := c.db.Close(); err == nil {
		err = cerr
	}
	return err
}

func logGCError(err error) {
	if err != nil {
		logging.Op().Warn("orphan genre garbage collection failed", "error", err)
	}
}
