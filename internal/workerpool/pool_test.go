package workerpool

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/oriys/moviedb/internal/queue"
)

type fakeConn struct {
	closed atomic.Bool
}

func (f *fakeConn) Close() error {
	f.closed.Store(true)
	return nil
}

func openFake(ctx context.Context) (Connection, error) {
	return &fakeConn{}, nil
}

func newPipePair(t *testing.T) (client, server net.Conn) {
	t.Helper()
	client, server = net.Pipe()
	return client, server
}

func TestPoolProcessesQueuedWork(t *testing.T) {
	var handled atomic.Int32
	handle := func(ctx context.Context, conn net.Conn, dal Connection) bool {
		handled.Add(1)
		conn.Close()
		return false
	}

	q := queue.New(8)
	p := New(Config{WorkerCount: 2, OpenConn: openFake, Handle: handle, Queue: q})
	p.Start()
	defer p.Shutdown()

	for i := 0; i < 5; i++ {
		client, server := newPipePair(t)
		go func() { _, _ = client.Read(make([]byte, 1)) }() // drain so Close doesn't block
		if !p.AddWork(server, 10) {
			t.Fatalf("AddWork %d should have succeeded", i)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for handled.Load() < 5 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if got := handled.Load(); got != 5 {
		t.Fatalf("expected 5 handled connections, got %d", got)
	}
}

func TestPoolRespawnsAfterHardFailure(t *testing.T) {
	var calls atomic.Int32
	handle := func(ctx context.Context, conn net.Conn, dal Connection) bool {
		conn.Close()
		n := calls.Add(1)
		return n == 1 // first call is a hard failure, kills its worker
	}

	q := queue.New(8)
	p := New(Config{WorkerCount: 1, OpenConn: openFake, Handle: handle, Queue: q})
	p.Start()
	defer p.Shutdown()

	for i := 0; i < 3; i++ {
		client, server := newPipePair(t)
		go func() { _, _ = client.Read(make([]byte, 1)) }()
		ok := p.AddWork(server, 50)
		if !ok {
			t.Fatalf("AddWork %d should have succeeded after respawn", i)
		}
		if i == 0 {
			// Let the hard failure take the only worker down, so the next
			// AddWork finds the slot dead and respawns it.
			deadline := time.Now().Add(2 * time.Second)
			for p.workers[0].alive.Load() && time.Now().Before(deadline) {
				time.Sleep(time.Millisecond)
			}
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for calls.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("expected 3 handled connections across the respawn, got %d", got)
	}
}

func TestShutdownStopsAllWorkers(t *testing.T) {
	block := make(chan struct{})
	var started sync.WaitGroup
	started.Add(1)
	once := sync.Once{}
	handle := func(ctx context.Context, conn net.Conn, dal Connection) bool {
		once.Do(started.Done)
		conn.Close()
		<-block
		return false
	}

	q := queue.New(8)
	p := New(Config{WorkerCount: 1, OpenConn: openFake, Handle: handle, Queue: q})
	p.Start()

	client, server := newPipePair(t)
	go func() { _, _ = client.Read(make([]byte, 1)) }()
	if !p.AddWork(server, 5) {
		t.Fatal("AddWork should have succeeded")
	}
	started.Wait()
	close(block)

	done := make(chan struct{})
	go func() {
		p.Shutdown()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Shutdown did not return in time")
	}

	if !p.ShutdownRequested() {
		t.Fatal("ShutdownRequested should be true after Shutdown")
	}
}

func TestAddWorkAfterShutdownRejected(t *testing.T) {
	handle := func(ctx context.Context, conn net.Conn, dal Connection) bool { return false }
	q := queue.New(8)
	p := New(Config{WorkerCount: 1, OpenConn: openFake, Handle: handle, Queue: q})
	p.Start()
	p.Shutdown()

	_, server := newPipePair(t)
	if p.AddWork(server, 3) {
		t.Fatal("AddWork should reject new work after shutdown")
	}
}
