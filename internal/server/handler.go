package server

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/oriys/moviedb/internal/classify"
	"github.com/oriys/moviedb/internal/dataaccess"
	"github.com/oriys/moviedb/internal/domain"
	"github.com/oriys/moviedb/internal/logging"
	"github.com/oriys/moviedb/internal/metrics"
	"github.com/oriys/moviedb/internal/observability"
	"github.com/oriys/moviedb/internal/wireproto"
	"github.com/oriys/moviedb/internal/workerpool"
)

// Handler implements workerpool.Handler for the movie catalog protocol.
type Handler struct{}

// New returns a Handler. Spans are started through the observability
// package; if observability.Init was never called they are no-ops.
func New() *Handler {
	return &Handler{}
}

// Serve adapts Handler.Handle to workerpool.Handler's signature, type
// asserting the generic Connection down to *dataaccess.Connection. A
// mismatched type is itself a hard failure: the pool is misconfigured.
func (h *Handler) Serve(ctx context.Context, conn net.Conn, dal workerpool.Connection) bool {
	typed, ok := dal.(*dataaccess.Connection)
	if !ok {
		logging.Op().Error("server: worker connection is not a *dataaccess.Connection")
		return true
	}
	return h.Handle(ctx, conn, typed)
}

// Handle drives one client session to completion: parse one operation at
// a time, dispatch it to dal, frame the response, and repeat until the
// stream ends, the socket fails, or a HardError is reported. Returns
// true if the worker should exit and let the pool respawn it.
func (h *Handler) Handle(ctx context.Context, conn net.Conn, dal *dataaccess.Connection) bool {
	defer conn.Close()

	sessionID := uuid.NewString()
	parser := wireproto.New(conn)
	hardFailure := false

	for {
		op := parser.Next()
		if op.Kind == domain.OpParseDone {
			return hardFailure
		}

		opCtx, span := observability.StartOperation(ctx, sessionID, opName(op.Kind))
		start := time.Now()

		connAlive, opHard := h.dispatch(opCtx, conn, dal, op)

		elapsedMs := float64(time.Since(start).Microseconds()) / 1000
		outcome := "ok"
		if op.Kind == domain.OpParseError {
			outcome = "parse_error"
			metrics.RecordParseError("structural")
		} else if opHard {
			outcome = "hard_error"
		}
		metrics.RecordOperation(opName(op.Kind), outcome, elapsedMs)
		logging.Default().Log(logging.OperationLog{
			SessionID:  sessionID,
			Operation:  opName(op.Kind),
			Outcome:    outcome,
			DurationMs: time.Since(start).Milliseconds(),
		})
		if opHard {
			var traceID, spanID string
			if sc := span.SpanContext(); sc.IsValid() {
				traceID = sc.TraceID().String()
				spanID = sc.SpanID().String()
			}
			logging.OpWithTrace(traceID, spanID).Warn("operation hard failure",
				"session", sessionID, "operation", opName(op.Kind))
		}
		observability.EndOperation(span, outcome, opHard)

		if opHard {
			hardFailure = true
			return true
		}
		if !connAlive {
			return hardFailure
		}
	}
}

func opName(kind domain.OperationKind) string {
	switch kind {
	case domain.OpParseError:
		return "parse_error"
	default:
		return kind.String()
	}
}

// dispatch handles one operation: writes the acknowledgement (for
// everything but a parse error), calls into the data-access layer, and
// writes the response. connAlive is false once a write to the socket has
// failed — an I/O failure on the response path ends the session without
// necessarily being a store HardError. opHard mirrors the data-access
// layer's HardError classification.
func (h *Handler) dispatch(ctx context.Context, conn net.Conn, dal *dataaccess.Connection, op domain.Operation) (connAlive bool, opHard bool) {
	if op.Kind == domain.OpParseError {
		return writeOK(wireproto.WriteError(conn, op.Message)), false
	}

	if err := wireproto.WriteAcknowledgement(conn, op); err != nil {
		return false, false
	}

	switch op.Kind {
	case domain.OpAddMovie:
		movie := op.Movie
		err := dal.RegisterMovie(ctx, &movie)
		return h.finish(conn, err)

	case domain.OpAddGenre:
		err := dal.AddGenre(ctx, op.MovieID, op.Genre)
		return h.finish(conn, err)

	case domain.OpRemoveMovie:
		err := dal.DeleteMovie(ctx, op.MovieID)
		return h.finish(conn, err)

	case domain.OpGetMovie:
		m, err := dal.GetMovie(ctx, op.MovieID)
		if err != nil {
			return h.finish(conn, err)
		}
		if err := wireproto.WriteMovie(conn, m); err != nil {
			return false, false
		}
		return writeOK(wireproto.WriteOK(conn)), false

	case domain.OpListMovies:
		return h.streamMovies(conn, "movies", func(sink dataaccess.MovieSink) error {
			return dal.ListMovies(ctx, sink)
		})

	case domain.OpSearchByGenre:
		return h.streamMovies(conn, "selected_movies", func(sink dataaccess.MovieSink) error {
			return dal.SearchMoviesByGenre(ctx, op.Genre, sink)
		})

	case domain.OpListSummaries:
		return h.streamSummaries(conn, func(sink dataaccess.SummarySink) error {
			return dal.ListSummaries(ctx, sink)
		})

	default:
		return writeOK(wireproto.WriteError(conn, "unsupported operation")), false
	}
}

// finish maps a data-access error (or nil) onto the ok/error response
// line and reports whether it was fatal for this worker.
func (h *Handler) finish(conn net.Conn, err error) (connAlive bool, opHard bool) {
	if err == nil {
		return writeOK(wireproto.WriteOK(conn)), false
	}

	var opErr *dataaccess.OpError
	message := err.Error()
	fatal := false
	if errors.As(err, &opErr) {
		fatal = opErr.Kind == classify.HardError
		metrics.RecordFailure("operation", opErr.Kind.String())
	}

	if writeErr := wireproto.WriteError(conn, message); writeErr != nil {
		return false, fatal
	}
	return true, fatal
}

func (h *Handler) streamMovies(conn net.Conn, key string, stream func(dataaccess.MovieSink) error) (connAlive bool, opHard bool) {
	if err := wireproto.WriteMovieListHeader(conn, key); err != nil {
		return false, false
	}
	writeFailed := false
	err := stream(func(m domain.Movie) bool {
		if writeErr := wireproto.WriteMovieListItem(conn, m); writeErr != nil {
			writeFailed = true
			return true
		}
		return false
	})
	if writeFailed {
		return false, false
	}
	if wfErr := wireproto.WriteMovieListFooter(conn); wfErr != nil {
		return false, false
	}
	if err != nil {
		return h.finish(conn, err)
	}
	return writeOK(wireproto.WriteOK(conn)), false
}

func (h *Handler) streamSummaries(conn net.Conn, stream func(dataaccess.SummarySink) error) (connAlive bool, opHard bool) {
	if err := wireproto.WriteSummaryListHeader(conn); err != nil {
		return false, false
	}
	writeFailed := false
	err := stream(func(s domain.MovieSummary) bool {
		if writeErr := wireproto.WriteSummaryListItem(conn, s); writeErr != nil {
			writeFailed = true
			return true
		}
		return false
	})
	if writeFailed {
		return false, false
	}
	if wfErr := wireproto.WriteSummaryListFooter(conn); wfErr != nil {
		return false, false
	}
	if err != nil {
		return h.finish(conn, err)
	}
	return writeOK(wireproto.WriteOK(conn)), false
}

func writeOK(err error) bool { return err == nil }
