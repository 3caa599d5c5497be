// Package workerpool runs the fixed-size pool of worker goroutines that
// each own one store connection and drain WorkItems off the queue.
//
// Liveness is an atomic "alive" flag each worker clears immediately
// before it returns; the admission path reads that flag and respawns
// any worker slot that has gone dark. A worker parked on a socket is
// unblocked by the receive/send timeouts set on every accepted
// connection, and a worker parked in the queue's condition wait is
// unblocked by Queue.Wake during shutdown.
package workerpool

import (
	"context"
	"net"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oriys/moviedb/internal/logging"
	"github.com/oriys/moviedb/internal/metrics"
	"github.com/oriys/moviedb/internal/queue"
)

// Connection is the subset of the data-access layer a worker owns
// exclusively for its lifetime. Defined here (rather than imported from
// dataaccess) to keep workerpool free of a hard dependency on the SQL
// driver; dataaccess.Connection satisfies it.
type Connection interface {
	Close() error
}

// Handler drives one accepted client connection to completion using the
// worker's private Connection. It returns true on a hard (fatal) failure,
// signalling the worker should close its connection and exit so the pool
// can respawn it fresh.
type Handler func(ctx context.Context, conn net.Conn, dal Connection) (hardFailure bool)

// Config configures the pool.
type Config struct {
	WorkerCount int
	// OpenConn opens a fresh, exclusively-owned store connection for one
	// worker. Called on worker start and again on every respawn.
	OpenConn func(ctx context.Context) (Connection, error)
	Handle   Handler
	Queue    *queue.Queue
}

type worker struct {
	id       int
	alive    atomic.Bool
	finished atomic.Bool
}

// Pool is the fixed-size worker pool serving accepted client sockets.
type Pool struct {
	cfg     Config
	workers []*worker
	wg      sync.WaitGroup

	mu                sync.Mutex // guards respawn against concurrent AddWork calls
	shutdownRequested atomic.Bool
}

// New constructs a Pool with cfg.WorkerCount idle (not yet started) worker
// slots.
func New(cfg Config) *Pool {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = runtime.NumCPU()
	}
	p := &Pool{cfg: cfg}
	p.workers = make([]*worker, cfg.WorkerCount)
	for i := range p.workers {
		p.workers[i] = &worker{id: i}
	}
	return p
}

// Start launches every worker goroutine.
func (p *Pool) Start() {
	for _, w := range p.workers {
		p.spawn(w)
	}
	logging.Op().Info("worker pool started", "workers", len(p.workers))
}

func (p *Pool) spawn(w *worker) {
	w.finished.Store(false)
	w.alive.Store(true)
	p.wg.Add(1)
	go p.run(w)
}

func (p *Pool) run(w *worker) {
	defer p.wg.Done()
	defer w.alive.Store(false)

	ctx := context.Background()
	dal, err := p.cfg.OpenConn(ctx)
	if err != nil {
		logging.Op().Error("worker failed to open store connection", "worker", w.id, "error", err)
		return
	}
	defer dal.Close()

	metrics.WorkerStarted()
	defer metrics.WorkerStopped()

	for {
		if w.finished.Load() {
			return
		}

		item, ok := p.cfg.Queue.Pop()
		if !ok {
			p.cfg.Queue.WaitNotEmpty()
			continue
		}
		if w.finished.Load() {
			if conn, ok := item.Conn.(net.Conn); ok {
				conn.Close()
			}
			return
		}

		conn, ok := item.Conn.(net.Conn)
		if !ok {
			continue
		}

		metrics.SessionStarted()
		hard := p.cfg.Handle(ctx, conn, dal)
		metrics.SessionFinished()

		if hard {
			logging.Op().Warn("worker exiting after hard failure", "worker", w.id)
			return
		}
	}
}

// AddWork is called by the accept loop to hand off one accepted
// connection. It probes every worker for liveness, respawning any that
// have exited, then attempts to push onto the queue, retrying up to
// retries times with a brief pause between attempts. Returns false if the
// queue stayed full for the whole retry budget (the caller should close
// the socket) or if the pool has no worker slots. A respawned worker
// opens its store connection in its own goroutine, so an OpenConn failure
// there does not make AddWork return false.
func (p *Pool) AddWork(conn net.Conn, retries int) bool {
	if p.shutdownRequested.Load() {
		return false
	}
	if !p.probeAndRespawn() {
		return false
	}

	for attempt := 0; attempt <= retries; attempt++ {
		if p.cfg.Queue.Push(queue.WorkItem{Conn: conn}) {
			metrics.Enqueued()
			return true
		}
		if p.shutdownRequested.Load() {
			return false
		}
		if attempt == retries {
			break
		}
		metrics.EnqueueRetried()
		runtime.Gosched()
		time.Sleep(time.Millisecond)
	}
	metrics.EnqueueRejected()
	return false
}

// probeAndRespawn scans every worker slot and restarts any that died.
// A restarted slot is marked alive before its goroutine calls OpenConn,
// so a failed respawn is not detected here; the result is false only
// when the pool has no worker slots at all.
func (p *Pool) probeAndRespawn() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	anyAlive := false
	for _, w := range p.workers {
		if w.alive.Load() {
			anyAlive = true
			continue
		}
		logging.Op().Warn("respawning dead worker", "worker", w.id)
		p.spawn(w)
		anyAlive = true
	}
	return anyAlive
}

// Shutdown marks every worker finished, wakes anyone blocked on the queue,
// and waits for all worker goroutines to drain to their next quiescent
// point and exit.
func (p *Pool) Shutdown() {
	p.shutdownRequested.Store(true)
	for _, w := range p.workers {
		w.finished.Store(true)
	}
	p.cfg.Queue.Wake()
	p.wg.Wait()
	logging.Op().Info("worker pool stopped")
}

// ShutdownRequested reports whether Shutdown has been called, so the
// accept loop can stop admitting new connections.
func (p *Pool) ShutdownRequested() bool {
	return p.shutdownRequested.Load()
}
