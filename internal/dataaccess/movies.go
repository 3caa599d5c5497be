package dataaccess

import (
	"context"
	"database/sql"
	"errors"

	"github.com/oriys/moviedb/internal/classify"
	"github.com/oriys/moviedb/internal/domain"
)

// MovieSink is invoked once per row streamed back by ListMovies or
// SearchMoviesByGenre. The Movie it receives borrows its strings from
// this Connection's builder and is only valid for the duration of the
// call — a sink that needs a row past its own return must copy
// title/director/genres itself. Returning true stops the scan early.
type MovieSink func(domain.Movie) (stop bool)

// SummarySink is the summary-projection equivalent of MovieSink.
type SummarySink func(domain.MovieSummary) (stop bool)

// RegisterMovie assigns movie.ID, inserts the row, creates any genres
// that don't already exist, and links each one, all inside one
// transaction. On return movie.ID is the store-assigned id.
func (c *Connection) RegisterMovie(ctx context.Context, movie *domain.Movie) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return hardErr(err)
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	var id int64
	row := tx.StmtContext(ctx, c.stmts.insertMovie).QueryRowContext(ctx, movie.Title, movie.Director, movie.ReleaseYear)
	if err := row.Scan(&id); err != nil {
		return classifyTxFailure(err)
	}

	for _, genre := range movie.Genres {
		genreID, err := c.genreIDTx(ctx, tx, genre)
		if err != nil {
			return err
		}
		if _, err := tx.StmtContext(ctx, c.stmts.linkMovieGenreOnce).ExecContext(ctx, id, genreID); err != nil {
			return classifyTxFailure(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return hardErr(err)
	}
	committed = true
	movie.ID = id
	return nil
}

// AddGenre creates genre if it doesn't exist and links it to movieID.
// Returns a UserError if movieID doesn't reference an existing movie, or
// if the (movieID, genre) pair is already linked.
func (c *Connection) AddGenre(ctx context.Context, movieID int64, genre string) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return hardErr(err)
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	if !c.movieExistsTx(ctx, tx, movieID) {
		return userErr("no movie with id = %d found in the database", movieID)
	}

	genreID, err := c.genreIDTx(ctx, tx, genre)
	if err != nil {
		return err
	}

	if _, err := tx.StmtContext(ctx, c.stmts.linkMovieGenre).ExecContext(ctx, movieID, genreID); err != nil {
		return classifyTxFailure(err)
	}

	if err := tx.Commit(); err != nil {
		return hardErr(err)
	}
	committed = true
	return nil
}

// DeleteMovie removes movieID; the movie_genres cascade removes its
// links. Orphaned genres are garbage-collected best-effort: a GC
// failure is logged, never returned — a delete must not fail merely
// because a genre became orphaned.
func (c *Connection) DeleteMovie(ctx context.Context, movieID int64) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return hardErr(err)
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	res, err := tx.StmtContext(ctx, c.stmts.deleteMovie).ExecContext(ctx, movieID)
	if err != nil {
		return classifyTxFailure(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classifyTxFailure(err)
	}
	if n == 0 {
		return userErr("no movie with id = %d to be deleted from the database", movieID)
	}

	if _, err := tx.StmtContext(ctx, c.stmts.deleteUnusedGenres).ExecContext(ctx); err != nil {
		logGCError(err)
	}

	if err := tx.Commit(); err != nil {
		return hardErr(err)
	}
	committed = true
	return nil
}

// GetMovie reads one movie plus its genres. The returned Movie borrows
// Title/Director/Genres from this Connection's builder; it is valid
// until the next dataaccess call on this Connection.
func (c *Connection) GetMovie(ctx context.Context, movieID int64) (domain.Movie, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Movie{}, hardErr(err)
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	var title, director string
	var year int32
	row := tx.StmtContext(ctx, c.stmts.selectMovieByID).QueryRowContext(ctx, movieID)
	if err := row.Scan(&title, &director, &year); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Movie{}, userErr("no movie with id = %d found in the database", movieID)
		}
		return domain.Movie{}, classifyTxFailure(err)
	}

	c.builder.Reset()
	c.builder.SetID(movieID)
	c.builder.SetTitle([]byte(title))
	c.builder.SetDirector([]byte(director))
	c.builder.SetReleaseYear(year)
	c.builder.StartGenres()
	if err := c.appendGenresTx(ctx, tx, movieID); err != nil {
		return domain.Movie{}, err
	}

	m, ok := c.builder.TakeCurrentMovie()
	if !ok {
		return domain.Movie{}, hardErr(errors.New("builder: incomplete movie record"))
	}

	if err := tx.Commit(); err != nil {
		return domain.Movie{}, hardErr(err)
	}
	committed = true
	return m, nil
}

// ListMovies streams every movie through sink, outer-row by outer-row,
// reusing this Connection's builder across the whole call (reset once,
// at the start).
func (c *Connection) ListMovies(ctx context.Context, sink MovieSink) error {
	return c.streamMovies(ctx, c.stmts.selectAllMovies, nil, sink)
}

// SearchMoviesByGenre streams every movie tagged with genre through sink.
func (c *Connection) SearchMoviesByGenre(ctx context.Context, genre string, sink MovieSink) error {
	return c.streamMovies(ctx, c.stmts.selectMoviesByGenre, []any{genre}, sink)
}

func (c *Connection) streamMovies(ctx context.Context, stmt *sql.Stmt, args []any, sink MovieSink) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return hardErr(err)
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	rows, err := tx.StmtContext(ctx, stmt).QueryContext(ctx, args...)
	if err != nil {
		return classifyTxFailure(err)
	}

	c.builder.Reset()
	for rows.Next() {
		var id int64
		var title, director string
		var year int32
		if err := rows.Scan(&id, &title, &director, &year); err != nil {
			rows.Close()
			return classifyTxFailure(err)
		}

		c.builder.SetID(id)
		c.builder.SetTitle([]byte(title))
		c.builder.SetDirector([]byte(director))
		c.builder.SetReleaseYear(year)
		c.builder.StartGenres()
		if err := c.appendGenresTx(ctx, tx, id); err != nil {
			rows.Close()
			return err
		}

		m, ok := c.builder.TakeCurrentMovie()
		if !ok {
			rows.Close()
			return hardErr(errors.New("builder: incomplete movie record"))
		}
		if sink(m) {
			break
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return classifyTxFailure(err)
	}
	rows.Close()

	if err := tx.Commit(); err != nil {
		return hardErr(err)
	}
	committed = true
	return nil
}

// ListSummaries streams every movie's (id, title) projection through sink.
func (c *Connection) ListSummaries(ctx context.Context, sink SummarySink) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return hardErr(err)
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	rows, err := tx.StmtContext(ctx, c.stmts.selectAllTitles).QueryContext(ctx)
	if err != nil {
		return classifyTxFailure(err)
	}

	c.builder.Reset()
	for rows.Next() {
		var id int64
		var title string
		if err := rows.Scan(&id, &title); err != nil {
			rows.Close()
			return classifyTxFailure(err)
		}
		c.builder.SetID(id)
		c.builder.SetTitle([]byte(title))

		s, ok := c.builder.TakeCurrentSummary()
		if !ok {
			rows.Close()
			return hardErr(errors.New("builder: incomplete summary record"))
		}
		if sink(s) {
			break
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return classifyTxFailure(err)
	}
	rows.Close()

	if err := tx.Commit(); err != nil {
		return hardErr(err)
	}
	committed = true
	return nil
}

// appendGenresTx feeds every genre name linked to movieID into the
// builder's current genre region via the inner select_genres_of_movie
// statement, bound to tx so it observes the same snapshot as the outer
// row.
func (c *Connection) appendGenresTx(ctx context.Context, tx *sql.Tx, movieID int64) error {
	rows, err := tx.StmtContext(ctx, c.stmts.selectGenresOfMovie).QueryContext(ctx, movieID)
	if err != nil {
		return classifyTxFailure(err)
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return classifyTxFailure(err)
		}
		if !c.builder.AddGenre([]byte(name)) {
			return hardErr(errors.New("builder: arena exhausted while reading genres"))
		}
	}
	return classifyTxFailure(rows.Err())
}

func (c *Connection) movieExistsTx(ctx context.Context, tx *sql.Tx, movieID int64) bool {
	var one int
	err := tx.StmtContext(ctx, c.stmts.movieExists).QueryRowContext(ctx, movieID).Scan(&one)
	return err == nil
}

// genreIDTx resolves genre to its id, creating the row if absent. The
// common case (genre already exists) is a plain indexed lookup; only a
// miss falls through to the INSERT ... ON CONFLICT ... RETURNING upsert.
func (c *Connection) genreIDTx(ctx context.Context, tx *sql.Tx, genre string) (int64, error) {
	var id int64
	err := tx.StmtContext(ctx, c.stmts.genreIDByName).QueryRowContext(ctx, genre).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, classifyTxFailure(err)
	}
	row := tx.StmtContext(ctx, c.stmts.upsertGenre).QueryRowContext(ctx, genre)
	if err := row.Scan(&id); err != nil {
		return 0, classifyTxFailure(err)
	}
	return id, nil
}

func classifyTxFailure(err error) error {
	if err == nil {
		return nil
	}
	return hardErrOrUser(err)
}

// hardErrOrUser classifies a failed statement with classify.Err:
// constraint violations are caller-attributable and get a
// "constraint violation: " prefix; every other failure keeps the kind
// classify.Err assigns (RuntimeError or HardError).
func hardErrOrUser(err error) *OpError {
	oe := hardErr(err)
	if oe.Kind == classify.UserError {
		oe.Message = "constraint violation: " + err.Error()
	}
	return oe
}
