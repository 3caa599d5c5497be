package dataaccess

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/oriys/moviedb/internal/domain"
)

func newTestConnection(t *testing.T) *Connection {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "moviedb_test.sqlite")
	if err := Setup(ctx, path); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	conn, err := Connect(ctx, path)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func collectMovies(t *testing.T, conn *Connection, sink func(MovieSink) error) []domain.Movie {
	t.Helper()
	var out []domain.Movie
	err := sink(func(m domain.Movie) bool {
		out = append(out, domain.Movie{
			ID:          m.ID,
			Title:       m.Title,
			Director:    m.Director,
			ReleaseYear: m.ReleaseYear,
			Genres:      append([]string(nil), m.Genres...),
		})
		return false
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	return out
}

// TestRoundTripIntegrity: a registered movie reads back equal modulo
// the assigned id, with the genre set preserved.
func TestRoundTripIntegrity(t *testing.T) {
	conn := newTestConnection(t)
	ctx := context.Background()

	m := domain.Movie{Title: "Inception", Director: "Christopher Nolan", ReleaseYear: 2010, Genres: []string{"Action", "Sci-Fi"}}
	if err := conn.RegisterMovie(ctx, &m); err != nil {
		t.Fatalf("RegisterMovie: %v", err)
	}
	if m.ID == 0 {
		t.Fatal("expected a non-zero assigned id")
	}

	got, err := conn.GetMovie(ctx, m.ID)
	if err != nil {
		t.Fatalf("GetMovie: %v", err)
	}
	if got.Title != m.Title || got.Director != m.Director || got.ReleaseYear != m.ReleaseYear {
		t.Fatalf("unexpected movie: %+v", got)
	}
	gotSet := map[string]bool{}
	for _, g := range got.Genres {
		gotSet[g] = true
	}
	for _, g := range m.Genres {
		if !gotSet[g] {
			t.Fatalf("expected genre %q in round trip, got %v", g, got.Genres)
		}
	}
}

// TestAddGenreUniqueLinkage: linking the same (movie, genre) pair twice
// fails the second time and leaves the linkage set unchanged.
func TestAddGenreUniqueLinkage(t *testing.T) {
	conn := newTestConnection(t)
	ctx := context.Background()

	m := domain.Movie{Title: "Parasite", Director: "Bong Joon-ho", ReleaseYear: 2019, Genres: []string{"Thriller"}}
	if err := conn.RegisterMovie(ctx, &m); err != nil {
		t.Fatalf("RegisterMovie: %v", err)
	}

	if err := conn.AddGenre(ctx, m.ID, "Drama"); err != nil {
		t.Fatalf("first AddGenre should succeed: %v", err)
	}
	if err := conn.AddGenre(ctx, m.ID, "Drama"); err == nil {
		t.Fatal("second identical AddGenre should fail")
	}

	got, err := conn.GetMovie(ctx, m.ID)
	if err != nil {
		t.Fatalf("GetMovie: %v", err)
	}
	count := 0
	for _, g := range got.Genres {
		if g == "Drama" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected exactly one Drama link, got %d in %v", count, got.Genres)
	}
}

func TestAddGenreNoSuchMovie(t *testing.T) {
	conn := newTestConnection(t)
	ctx := context.Background()

	err := conn.AddGenre(ctx, 999999, "Noir")
	if err == nil {
		t.Fatal("expected an error for a nonexistent movie")
	}
	want := "no movie with id = 999999 found in the database"
	if err.Error() != want {
		t.Fatalf("unexpected message: got %q want %q", err.Error(), want)
	}
}

// TestOrphanGenreGC: deleting the last movie referencing a genre also
// removes the genre row.
func TestOrphanGenreGC(t *testing.T) {
	conn := newTestConnection(t)
	ctx := context.Background()

	m := domain.Movie{Title: "Only One", Director: "D", ReleaseYear: 2000, Genres: []string{"Noir"}}
	if err := conn.RegisterMovie(ctx, &m); err != nil {
		t.Fatalf("RegisterMovie: %v", err)
	}

	if err := conn.DeleteMovie(ctx, m.ID); err != nil {
		t.Fatalf("DeleteMovie: %v", err)
	}

	summaries := []domain.MovieSummary{}
	if err := conn.ListSummaries(ctx, func(s domain.MovieSummary) bool {
		summaries = append(summaries, s)
		return false
	}); err != nil {
		t.Fatalf("ListSummaries: %v", err)
	}
	if len(summaries) != 0 {
		t.Fatalf("expected no movies left, got %v", summaries)
	}

	var genreCount int
	if err := conn.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM genres WHERE name = ?`, "Noir").Scan(&genreCount); err != nil {
		t.Fatalf("query genres: %v", err)
	}
	if genreCount != 0 {
		t.Fatalf("expected orphaned genre to be garbage collected, found %d rows", genreCount)
	}
}

func TestDeleteMovieNotFound(t *testing.T) {
	conn := newTestConnection(t)
	err := conn.DeleteMovie(context.Background(), 42)
	if err == nil {
		t.Fatal("expected an error deleting a nonexistent movie")
	}
	want := "no movie with id = 42 to be deleted from the database"
	if err.Error() != want {
		t.Fatalf("unexpected message: got %q want %q", err.Error(), want)
	}
}

func TestGetMovieNotFound(t *testing.T) {
	conn := newTestConnection(t)
	_, err := conn.GetMovie(context.Background(), 42)
	if err == nil {
		t.Fatal("expected an error for a nonexistent movie")
	}
	want := "no movie with id = 42 found in the database"
	if err.Error() != want {
		t.Fatalf("unexpected message: got %q want %q", err.Error(), want)
	}
}

func TestListMoviesAndSearchByGenre(t *testing.T) {
	conn := newTestConnection(t)
	ctx := context.Background()

	a := domain.Movie{Title: "A", Director: "X", ReleaseYear: 2001, Genres: []string{"Drama"}}
	b := domain.Movie{Title: "B", Director: "Y", ReleaseYear: 2002, Genres: []string{"Comedy"}}
	if err := conn.RegisterMovie(ctx, &a); err != nil {
		t.Fatal(err)
	}
	if err := conn.RegisterMovie(ctx, &b); err != nil {
		t.Fatal(err)
	}

	all := collectMovies(t, conn, func(sink MovieSink) error { return conn.ListMovies(ctx, sink) })
	if len(all) != 2 {
		t.Fatalf("expected 2 movies, got %d", len(all))
	}

	dramaOnly := collectMovies(t, conn, func(sink MovieSink) error { return conn.SearchMoviesByGenre(ctx, "Drama", sink) })
	if len(dramaOnly) != 1 || dramaOnly[0].Title != "A" {
		t.Fatalf("expected only movie A, got %+v", dramaOnly)
	}
}

func TestListMoviesSinkCanStopEarly(t *testing.T) {
	conn := newTestConnection(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		m := domain.Movie{Title: "T", Director: "D", ReleaseYear: 2000, Genres: []string{"Genre"}}
		if err := conn.RegisterMovie(ctx, &m); err != nil {
			t.Fatal(err)
		}
	}

	seen := 0
	err := conn.ListMovies(ctx, func(m domain.Movie) bool {
		seen++
		return true
	})
	if err != nil {
		t.Fatalf("ListMovies: %v", err)
	}
	if seen != 1 {
		t.Fatalf("expected sink to stop after 1 row, got %d", seen)
	}
}
