// Package wireproto turns a byte stream from a client socket into a
// sequence of domain.Operation values, and frames the corresponding
// responses back onto the wire.
//
// Each client operation is framed as one YAML document (conventionally
// opened with "---"). yaml.Decoder reads exactly one document per
// Decode call, pulling bytes from the socket as the parser needs them,
// so a session holds the document in flight plus the decoder's small
// read-ahead buffer, never the whole stream. The
// decoded yaml.Node tree is then walked key by key; Node.Line and
// Node.Column supply the position carried in every parse-error
// message.
package wireproto

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/oriys/moviedb/internal/domain"
)

// Parser drives one client session. It is not safe for concurrent use;
// exactly one worker owns a Parser for the lifetime of one connection.
type Parser struct {
	dec  *yaml.Decoder
	done bool
}

// New returns a Parser reading successive operation documents from r.
func New(r io.Reader) *Parser {
	return &Parser{dec: yaml.NewDecoder(r)}
}

// Next returns the next Operation. Once the stream is exhausted or a
// decode-level (I/O or document-syntax) failure occurs, every subsequent
// call returns OpParseDone without touching the reader again.
func (p *Parser) Next() domain.Operation {
	if p.done {
		return domain.Operation{Kind: domain.OpParseDone}
	}

	var doc yaml.Node
	err := p.dec.Decode(&doc)
	if errors.Is(err, io.EOF) {
		p.done = true
		return domain.Operation{Kind: domain.OpParseDone}
	}
	if err != nil {
		p.done = true
		return domain.Operation{Kind: domain.OpParseError, Message: err.Error()}
	}

	root := &doc
	if root.Kind == yaml.DocumentNode {
		if len(root.Content) == 0 {
			return domain.Operation{Kind: domain.OpParseError, Message: "empty document"}
		}
		root = root.Content[0]
	}

	return p.parseRoot(root)
}

func (p *Parser) parseRoot(root *yaml.Node) domain.Operation {
	switch root.Kind {
	case yaml.ScalarNode:
		return p.dispatchBareKey(root)
	case yaml.MappingNode:
		return p.dispatchMapping(root)
	default:
		return parseErrorAt(root, "expected a scalar operation key or an operation mapping")
	}
}

// dispatchBareKey handles the no-argument operations sent as a bare
// top-level scalar: list_movies / list_summaries, or their numeric
// aliases.
func (p *Parser) dispatchBareKey(key *yaml.Node) domain.Operation {
	switch canonicalKey(key.Value) {
	case "list_movies":
		return domain.Operation{Kind: domain.OpListMovies}
	case "list_summaries":
		return domain.Operation{Kind: domain.OpListSummaries}
	default:
		return parseErrorAt(key, fmt.Sprintf("unknown operation %q", key.Value))
	}
}

// dispatchMapping handles every operation framed as `op_name: <value>`.
// Only the first key/value pair is consulted; a well-formed stream never
// sends more than one per document.
func (p *Parser) dispatchMapping(m *yaml.Node) domain.Operation {
	if len(m.Content) < 2 {
		return parseErrorAt(m, "empty operation mapping")
	}
	key := m.Content[0]
	value := m.Content[1]
	if key.Kind != yaml.ScalarNode {
		return parseErrorAt(key, "operation key must be a scalar")
	}

	switch canonicalKey(key.Value) {
	case "add_movie":
		return p.parseMovie(value)
	case "add_genre":
		return p.parseMovieKey(value, domain.OpAddGenre, true, true)
	case "remove_movie":
		return p.parseMovieKey(value, domain.OpRemoveMovie, true, false)
	case "get_movie":
		return p.parseMovieKey(value, domain.OpGetMovie, true, false)
	case "list_movies":
		return domain.Operation{Kind: domain.OpListMovies}
	case "search_by_genre":
		return p.parseMovieKey(value, domain.OpSearchByGenre, false, true)
	case "list_summaries":
		return domain.Operation{Kind: domain.OpListSummaries}
	default:
		return parseErrorAt(key, fmt.Sprintf("unknown operation %q", key.Value))
	}
}

// canonicalKey maps both the symbolic operation name and its single-digit
// numeric alias (1..7, matching domain.OperationKind's ordinal values) to
// the symbolic name, so every other dispatch path only has to match one
// string set.
func canonicalKey(raw string) string {
	switch raw {
	case "add_movie", "1":
		return "add_movie"
	case "add_genre", "2":
		return "add_genre"
	case "remove_movie", "3":
		return "remove_movie"
	case "get_movie", "4":
		return "get_movie"
	case "list_movies", "5":
		return "list_movies"
	case "search_by_genre", "6":
		return "search_by_genre"
	case "list_summaries", "7":
		return "list_summaries"
	default:
		return ""
	}
}

// parseMovie implements the parse_movie sub-parser: title, director,
// release_year (alias year), genres (alias genre). Duplicate keys keep
// the first accepted value. All four fields are required; an "id" key is
// recognized and silently ignored (add_movie always assigns id=0, per
// the fixed resolution of the source's dangling id-parsing path).
func (p *Parser) parseMovie(m *yaml.Node) domain.Operation {
	if m.Kind != yaml.MappingNode {
		return parseErrorAt(m, "add_movie requires a mapping")
	}

	var title, director *string
	var year *int32
	var genres []string
	haveGenres := false

	for i := 0; i+1 < len(m.Content); i += 2 {
		key := m.Content[i]
		val := m.Content[i+1]
		if key.Kind != yaml.ScalarNode {
			continue
		}
		switch key.Value {
		case "id":
			// Recognized, deliberately ignored.
		case "title":
			if title == nil {
				s, err := scalarString(val)
				if err != nil {
					return parseErrorAt(val, err.Error())
				}
				title = &s
			}
		case "director":
			if director == nil {
				s, err := scalarString(val)
				if err != nil {
					return parseErrorAt(val, err.Error())
				}
				director = &s
			}
		case "release_year", "year":
			if year == nil {
				n, err := parseInt32(val)
				if err != nil {
					return parseErrorAt(val, err.Error())
				}
				year = &n
			}
		case "genres", "genre":
			if !haveGenres {
				g, err := scalarSequence(val)
				if err != nil {
					return parseErrorAt(val, err.Error())
				}
				genres = g
				haveGenres = true
			}
		}
	}

	if title == nil || director == nil || year == nil || !haveGenres {
		return parseErrorAt(m, "add_movie missing one of title/director/release_year/genres")
	}

	return domain.Operation{
		Kind: domain.OpAddMovie,
		Movie: domain.Movie{
			ID:          0,
			Title:       *title,
			Director:    *director,
			ReleaseYear: *year,
			Genres:      genres,
		},
	}
}

// parseMovieKey implements parse_movie_key(needs_id, needs_genre): the
// value is either a bare scalar (when exactly one of the two fields is
// requested) or a mapping carrying id and/or genre (alias name).
func (p *Parser) parseMovieKey(v *yaml.Node, kind domain.OperationKind, needsID, needsGenre bool) domain.Operation {
	if v.Kind == yaml.ScalarNode && needsID != needsGenre {
		if needsID {
			id, err := parseInt64(v)
			if err != nil {
				return parseErrorAt(v, err.Error())
			}
			return domain.Operation{Kind: kind, MovieID: id}
		}
		s, err := scalarString(v)
		if err != nil {
			return parseErrorAt(v, err.Error())
		}
		return domain.Operation{Kind: kind, Genre: s}
	}

	if v.Kind != yaml.MappingNode {
		return parseErrorAt(v, "expected a scalar or a mapping with id/genre")
	}

	var id *int64
	var genre *string
	for i := 0; i+1 < len(v.Content); i += 2 {
		key := v.Content[i]
		val := v.Content[i+1]
		if key.Kind != yaml.ScalarNode {
			continue
		}
		switch key.Value {
		case "id":
			if id == nil {
				n, err := parseInt64(val)
				if err != nil {
					return parseErrorAt(val, err.Error())
				}
				id = &n
			}
		case "genre", "name":
			if genre == nil {
				s, err := scalarString(val)
				if err != nil {
					return parseErrorAt(val, err.Error())
				}
				genre = &s
			}
		}
	}

	if needsID && id == nil {
		return parseErrorAt(v, "missing id")
	}
	if needsGenre && genre == nil {
		return parseErrorAt(v, "missing genre")
	}

	op := domain.Operation{Kind: kind}
	if id != nil {
		op.MovieID = *id
	}
	if genre != nil {
		op.Genre = *genre
	}
	return op
}

func scalarString(n *yaml.Node) (string, error) {
	if n.Kind != yaml.ScalarNode {
		return "", fmt.Errorf("expected a scalar value")
	}
	return n.Value, nil
}

func scalarSequence(n *yaml.Node) ([]string, error) {
	if n.Kind != yaml.SequenceNode {
		return nil, fmt.Errorf("expected a sequence of genres")
	}
	out := make([]string, 0, len(n.Content))
	for _, item := range n.Content {
		if item.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("genre list entries must be scalars")
		}
		out = append(out, item.Value)
	}
	return out, nil
}

func parseInt64(n *yaml.Node) (int64, error) {
	s, err := scalarString(n)
	if err != nil {
		return 0, err
	}
	if strings.TrimSpace(s) != s || s == "" {
		return 0, fmt.Errorf("invalid integer %q", s)
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q", s)
	}
	return v, nil
}

func parseInt32(n *yaml.Node) (int32, error) {
	s, err := scalarString(n)
	if err != nil {
		return 0, err
	}
	if strings.TrimSpace(s) != s || s == "" {
		return 0, fmt.Errorf("invalid integer %q", s)
	}
	v, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q", s)
	}
	return int32(v), nil
}

func parseErrorAt(n *yaml.Node, problem string) domain.Operation {
	return domain.Operation{
		Kind:    domain.OpParseError,
		Message: fmt.Sprintf("%s at %d:%d", problem, n.Line, n.Column),
	}
}
