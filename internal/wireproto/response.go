package wireproto

import (
	"fmt"
	"io"

	"github.com/oriys/moviedb/internal/domain"
)

// WriteAcknowledgement writes the short human-readable line every
// operation gets before its result: "server: received <OP>: <args>\n".
func WriteAcknowledgement(w io.Writer, op domain.Operation) error {
	var args string
	switch op.Kind {
	case domain.OpAddMovie:
		args = fmt.Sprintf("%s (%d), by %s", op.Movie.Title, op.Movie.ReleaseYear, op.Movie.Director)
	case domain.OpAddGenre:
		args = fmt.Sprintf("id=%d genre=%s", op.MovieID, op.Genre)
	case domain.OpRemoveMovie, domain.OpGetMovie:
		args = fmt.Sprintf("%d", op.MovieID)
	case domain.OpSearchByGenre:
		args = op.Genre
	case domain.OpListMovies, domain.OpListSummaries:
		args = ""
	default:
		args = ""
	}
	_, err := fmt.Fprintf(w, "server: received %s: %s\n", op.Kind.String(), args)
	return err
}

// WriteOK writes the no-payload success line.
func WriteOK(w io.Writer) error {
	_, err := io.WriteString(w, "server: ok\n\n")
	return err
}

// WriteError writes the single-line error response.
func WriteError(w io.Writer, message string) error {
	_, err := fmt.Fprintf(w, "server: %s\n\n", message)
	return err
}

// WriteMovie writes the single-record block for get_movie.
func WriteMovie(w io.Writer, m domain.Movie) error {
	if _, err := fmt.Fprintf(w, "movie:\n  id: %d\n  title: %s\n  director: %s\n  release_year: %d\n  genres:\n", m.ID, m.Title, m.Director, m.ReleaseYear); err != nil {
		return err
	}
	for _, g := range m.Genres {
		if _, err := fmt.Fprintf(w, "    - %s\n", g); err != nil {
			return err
		}
	}
	_, err := io.WriteString(w, "\n")
	return err
}

// WriteMovieListHeader opens a record-list block under key ("movies" for
// list_movies, "selected_movies" for search_by_genre).
func WriteMovieListHeader(w io.Writer, key string) error {
	_, err := fmt.Fprintf(w, "---\n%s:\n", key)
	return err
}

// WriteMovieListItem writes one movie entry of a record-list block. Called
// once per row directly from a MovieSink so a list response streams as
// rows are read rather than being buffered into a slice first.
func WriteMovieListItem(w io.Writer, m domain.Movie) error {
	if _, err := fmt.Fprintf(w, "  - id: %d\n    title: %s\n    director: %s\n    release_year: %d\n    genres:\n", m.ID, m.Title, m.Director, m.ReleaseYear); err != nil {
		return err
	}
	for _, g := range m.Genres {
		if _, err := fmt.Fprintf(w, "      - %s\n", g); err != nil {
			return err
		}
	}
	return nil
}

// WriteMovieListFooter closes a record-list block.
func WriteMovieListFooter(w io.Writer) error {
	_, err := io.WriteString(w, "...\n\n")
	return err
}

// WriteMovieList writes a complete "movies"/"selected_movies" block in
// one call. A convenience wrapper around the streaming Header/Item/Footer
// trio, for callers (and tests) that already hold the full slice.
func WriteMovieList(w io.Writer, key string, movies []domain.Movie) error {
	if err := WriteMovieListHeader(w, key); err != nil {
		return err
	}
	for _, m := range movies {
		if err := WriteMovieListItem(w, m); err != nil {
			return err
		}
	}
	return WriteMovieListFooter(w)
}

// WriteSummaryListHeader opens the "summaries" record-list block.
func WriteSummaryListHeader(w io.Writer) error {
	_, err := io.WriteString(w, "---\nsummaries:\n")
	return err
}

// WriteSummaryListItem writes one summary entry.
func WriteSummaryListItem(w io.Writer, s domain.MovieSummary) error {
	_, err := fmt.Fprintf(w, "  - id: %d\n    title: %s\n", s.ID, s.Title)
	return err
}

// WriteSummaryListFooter closes the "summaries" record-list block.
func WriteSummaryListFooter(w io.Writer) error {
	_, err := io.WriteString(w, "...\n\n")
	return err
}

// WriteSummaryList writes a complete "summaries" block in one call.
func WriteSummaryList(w io.Writer, summaries []domain.MovieSummary) error {
	if err := WriteSummaryListHeader(w); err != nil {
		return err
	}
	for _, s := range summaries {
		if err := WriteSummaryListItem(w, s); err != nil {
			return err
		}
	}
	return WriteSummaryListFooter(w)
}
