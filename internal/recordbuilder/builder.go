// Package recordbuilder implements the reusable per-connection record
// arena: it amortizes per-record allocation while a Connection assembles
// Movie and MovieSummary values off a result set, reusing one byte arena
// across every row instead of allocating a string per column per row.
package recordbuilder

import (
	"unsafe"

	"github.com/oriys/moviedb/internal/domain"
)

// pageSize is the granularity the arena grows by. Chosen to match one
// typical filesystem/page-cache page so a handful of records rarely need a
// second allocation.
const pageSize = 4096

// maxArenaSize bounds a single arena so a pathological number of genres on
// one connection cannot grow it without limit; growth past this returns
// false rather than panicking.
const maxArenaSize = 64 << 20

type slice struct {
	off, n int
}

// Builder assembles one Movie or MovieSummary at a time into a reusable
// byte arena, optionally accumulating a list of completed records for the
// streaming list/search operations. It is not safe for concurrent use; each
// Connection owns exactly one Builder for its lifetime.
type Builder struct {
	data []byte

	id          int64
	releaseYear int32
	title       slice
	director    slice
	genresStart int
	genres      []slice

	hasID          bool
	hasTitle       bool
	hasDirector    bool
	hasReleaseYear bool
	hasGenres      bool

	list []descriptor
}

// descriptor is a completed record pending TakeMovieList/TakeSummaryList.
// kind distinguishes which shape it was assembled as.
type descriptor struct {
	kind        int // 0 = movie, 1 = summary
	id          int64
	releaseYear int32
	title       slice
	director    slice
	genres      []slice
}

const (
	kindMovie   = 0
	kindSummary = 1
)

// New returns an empty, ready-to-use Builder.
func New() *Builder {
	b := &Builder{}
	b.data = make([]byte, 0, pageSize)
	return b
}

// Reset zeroes the current record's watermarks and has-flags. Any slices
// previously returned by Take* are invalidated; strings embedded in the
// completed list returned by TakeMovieList/TakeSummaryList already own
// their bytes and remain valid.
func (b *Builder) Reset() {
	b.data = b.data[:0]
	b.resetCurrent()
	b.list = b.list[:0]
}

func (b *Builder) resetCurrent() {
	b.id = 0
	b.releaseYear = 0
	b.title = slice{}
	b.director = slice{}
	b.genresStart = 0
	b.genres = b.genres[:0]
	b.hasID = false
	b.hasTitle = false
	b.hasDirector = false
	b.hasReleaseYear = false
	b.hasGenres = false
}

// grow ensures n more bytes are available at the end of the arena,
// allocating in pageSize-rounded increments. Returns false if growth would
// exceed maxArenaSize; on false the arena is left exactly as it was.
func (b *Builder) grow(n int) bool {
	want := len(b.data) + n
	if want < 0 || want > maxArenaSize {
		return false
	}
	if cap(b.data) >= want {
		return true
	}
	newCap := cap(b.data)
	if newCap == 0 {
		newCap = pageSize
	}
	for newCap < want {
		grown := newCap * 2
		if grown <= newCap || grown > maxArenaSize {
			grown = want
			if grown > maxArenaSize {
				return false
			}
		}
		newCap = grown
	}
	fresh := make([]byte, len(b.data), newCap)
	copy(fresh, b.data)
	b.data = fresh
	return true
}

// appendNulTerminated copies p into the arena followed by a NUL byte and
// returns the slice describing the copy (length excludes the NUL).
func (b *Builder) appendNulTerminated(p []byte) (slice, bool) {
	if !b.grow(len(p) + 1) {
		return slice{}, false
	}
	off := len(b.data)
	b.data = append(b.data, p...)
	b.data = append(b.data, 0)
	return slice{off: off, n: len(p)}, true
}

// SetID records the id field. At most once per record.
func (b *Builder) SetID(id int64) {
	b.id = id
	b.hasID = true
}

// SetReleaseYear records the release_year field. At most once per record.
func (b *Builder) SetReleaseYear(year int32) {
	b.releaseYear = year
	b.hasReleaseYear = true
}

// SetTitle copies title into the arena. At most once per record.
func (b *Builder) SetTitle(title []byte) bool {
	s, ok := b.appendNulTerminated(title)
	if !ok {
		return false
	}
	b.title = s
	b.hasTitle = true
	return true
}

// SetDirector copies director into the arena. At most once per record.
func (b *Builder) SetDirector(director []byte) bool {
	s, ok := b.appendNulTerminated(director)
	if !ok {
		return false
	}
	b.director = s
	b.hasDirector = true
	return true
}

// StartGenres marks the current arena watermark as the start of this
// record's genre region. Must be called once before any AddGenre.
func (b *Builder) StartGenres() {
	b.genresStart = len(b.data)
	b.genres = b.genres[:0]
	b.hasGenres = true
}

// AddGenre appends one NUL-terminated genre copy and counts it. Must follow
// StartGenres.
func (b *Builder) AddGenre(genre []byte) bool {
	s, ok := b.appendNulTerminated(genre)
	if !ok {
		return false
	}
	b.genres = append(b.genres, s)
	return true
}

func (b *Builder) HasID() bool          { return b.hasID }
func (b *Builder) HasTitle() bool       { return b.hasTitle }
func (b *Builder) HasDirector() bool    { return b.hasDirector }
func (b *Builder) HasReleaseYear() bool { return b.hasReleaseYear }
func (b *Builder) HasGenres() bool      { return b.hasGenres }

func (b *Builder) str(s slice) string {
	if s.n == 0 {
		return ""
	}
	return unsafe.String(&b.data[s.off], s.n)
}

// TakeCurrentMovie returns a Movie whose Title, Director and Genres borrow
// directly from the arena (no copy). Requires every has-flag set. The
// returned strings are valid only until the next mutation of this Builder
// (including the next Reset or the next AddGenre on a later record);
// callers that need them past that window must copy.
func (b *Builder) TakeCurrentMovie() (domain.Movie, bool) {
	if !(b.hasID && b.hasTitle && b.hasDirector && b.hasReleaseYear && b.hasGenres) {
		return domain.Movie{}, false
	}
	m := domain.Movie{
		ID:          b.id,
		Title:       b.str(b.title),
		Director:    b.str(b.director),
		ReleaseYear: b.releaseYear,
		Genres:      make([]string, len(b.genres)),
	}
	for i, g := range b.genres {
		m.Genres[i] = b.str(g)
	}
	return m, true
}

// TakeCurrentSummary returns a MovieSummary borrowing Title from the arena.
// Requires has_id and has_title.
func (b *Builder) TakeCurrentSummary() (domain.MovieSummary, bool) {
	if !(b.hasID && b.hasTitle) {
		return domain.MovieSummary{}, false
	}
	return domain.MovieSummary{ID: b.id, Title: b.str(b.title)}, true
}

// AddCurrentToListAsMovie pushes the current record onto the pending list
// as a movie descriptor and clears the has-flags so the next row can reuse
// this Builder. Requires the same has-flags as TakeCurrentMovie.
func (b *Builder) AddCurrentToListAsMovie() bool {
	if !(b.hasID && b.hasTitle && b.hasDirector && b.hasReleaseYear && b.hasGenres) {
		return false
	}
	genres := make([]slice, len(b.genres))
	copy(genres, b.genres)
	b.list = append(b.list, descriptor{
		kind:        kindMovie,
		id:          b.id,
		releaseYear: b.releaseYear,
		title:       b.title,
		director:    b.director,
		genres:      genres,
	})
	b.resetCurrent()
	return true
}

// AddCurrentToListAsSummary pushes the current record as a summary
// descriptor. Requires has_id and has_title.
func (b *Builder) AddCurrentToListAsSummary() bool {
	if !(b.hasID && b.hasTitle) {
		return false
	}
	b.list = append(b.list, descriptor{kind: kindSummary, id: b.id, title: b.title})
	b.resetCurrent()
	return true
}

// TakeMovieList consumes the pending list, materializing owned Movie values
// (Title/Director/Genres are copied out of the arena, independent of any
// later Reset). The Builder is usable again only after Reset.
func (b *Builder) TakeMovieList() []domain.Movie {
	out := make([]domain.Movie, 0, len(b.list))
	for _, d := range b.list {
		if d.kind != kindMovie {
			continue
		}
		genres := make([]string, len(d.genres))
		for i, g := range d.genres {
			genres[i] = string(b.data[g.off : g.off+g.n])
		}
		out = append(out, domain.Movie{
			ID:          d.id,
			Title:       string(b.data[d.title.off : d.title.off+d.title.n]),
			Director:    string(b.data[d.director.off : d.director.off+d.director.n]),
			ReleaseYear: d.releaseYear,
			Genres:      genres,
		})
	}
	return out
}

// TakeSummaryList consumes the pending list as owned MovieSummary values.
func (b *Builder) TakeSummaryList() []domain.MovieSummary {
	out := make([]domain.MovieSummary, 0, len(b.list))
	for _, d := range b.list {
		if d.kind != kindSummary {
			continue
		}
		out = append(out, domain.MovieSummary{
			ID:    d.id,
			Title: string(b.data[d.title.off : d.title.off+d.title.n]),
		})
	}
	return out
}
