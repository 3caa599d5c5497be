package server

import (
	"bufio"
	"context"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/oriys/moviedb/internal/dataaccess"
)

// newPipePair returns a connected loopback TCP pair. A real socket (rather
// than net.Pipe) is used so the client side can half-close its write end
// with CloseWrite, the same way a client finishing its request stream does.
func newPipePair(t *testing.T) (client, srv net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	acceptCh := make(chan net.Conn, 1)
	go func() {
		c, _ := ln.Accept()
		acceptCh <- c
	}()

	client, err = net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	srv = <-acceptCh
	if srv == nil {
		t.Fatal("accept failed")
	}
	t.Cleanup(func() { client.Close() })
	return client, srv
}

func newTestConnection(t *testing.T) *dataaccess.Connection {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "handler_test.sqlite")
	if err := dataaccess.Setup(ctx, path); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	conn, err := dataaccess.Connect(ctx, path)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// TestHandleAddThenGet: a session that adds a movie and reads it back
// gets an acknowledgement, an ok, and a matching record.
func TestHandleAddThenGet(t *testing.T) {
	conn := newTestConnection(t)
	client, srv := newPipePair(t)

	request := "---\n" +
		"add_movie:\n" +
		"  title: Inception\n" +
		"  director: Christopher Nolan\n" +
		"  release_year: 2010\n" +
		"  genres:\n" +
		"    - Action\n" +
		"    - Sci-Fi\n" +
		"---\n" +
		"get_movie: 1\n"

	go func() {
		_, _ = client.Write([]byte(request))
		client.(interface{ CloseWrite() error }).CloseWrite()
	}()

	done := make(chan bool, 1)
	h := New()
	go func() { done <- h.Handle(context.Background(), srv, conn) }()

	out := readAllWithTimeout(t, client, 2*time.Second)
	select {
	case hard := <-done:
		if hard {
			t.Fatalf("unexpected hard failure, output: %s", out)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Handle did not return in time")
	}

	if !strings.Contains(out, "server: received ADD_MOVIE: Inception (2010), by Christopher Nolan") {
		t.Fatalf("missing add_movie acknowledgement, got: %s", out)
	}
	if !strings.Contains(out, "server: received GET_MOVIE: 1") {
		t.Fatalf("missing get_movie acknowledgement, got: %s", out)
	}
	if !strings.Contains(out, "title: Inception") {
		t.Fatalf("missing movie record, got: %s", out)
	}
	if !strings.Contains(out, "server: ok") {
		t.Fatalf("missing ok response, got: %s", out)
	}
}

// TestHandleParseErrorThenRecovery: a malformed operation reports an
// error and the session continues.
func TestHandleParseErrorThenRecovery(t *testing.T) {
	conn := newTestConnection(t)
	client, srv := newPipePair(t)

	request := "---\n" +
		"add_movie:\n" +
		"  title: Missing Fields\n" +
		"---\n" +
		"list_movies\n"

	go func() {
		_, _ = client.Write([]byte(request))
		client.(interface{ CloseWrite() error }).CloseWrite()
	}()

	done := make(chan bool, 1)
	h := New()
	go func() { done <- h.Handle(context.Background(), srv, conn) }()

	out := readAllWithTimeout(t, client, 2*time.Second)
	<-done

	if !strings.Contains(out, "at ") {
		t.Fatalf("expected position info in parse error response, got: %s", out)
	}
	if !strings.Contains(out, "movies:") {
		t.Fatalf("expected list_movies to still run after the parse error, got: %s", out)
	}
}

// TestHandleGetMissingMovieIsNotFatal: a not-found lookup reports an
// error line but does not end the session as a hard failure.
func TestHandleGetMissingMovieIsNotFatal(t *testing.T) {
	conn := newTestConnection(t)
	client, srv := newPipePair(t)

	go func() {
		_, _ = client.Write([]byte("---\nget_movie: 999999\n"))
		client.(interface{ CloseWrite() error }).CloseWrite()
	}()

	done := make(chan bool, 1)
	h := New()
	go func() { done <- h.Handle(context.Background(), srv, conn) }()

	out := readAllWithTimeout(t, client, 2*time.Second)
	hard := <-done
	if hard {
		t.Fatalf("a not-found lookup should not be a hard failure, output: %s", out)
	}
	if !strings.Contains(out, "server: received GET_MOVIE") {
		t.Fatalf("missing acknowledgement, got: %s", out)
	}
}

func readAllWithTimeout(t *testing.T, c interface{ Read([]byte) (int, error) }, d time.Duration) string {
	t.Helper()
	type sc interface {
		SetReadDeadline(time.Time) error
	}
	if s, ok := c.(sc); ok {
		s.SetReadDeadline(time.Now().Add(d))
	}
	var sb strings.Builder
	r := bufio.NewReader(c)
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			sb.Write(buf[:n])
		}
		if err != nil {
			break
		}
	}
	return sb.String()
}
