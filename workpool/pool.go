// Package workpool provides the two worker primitives used by the parsing
// stages: a bounded, grow-on-demand goroutine pool for batch work, and a
// single-actor wrapper that correlates request/response pairs for
// crash-isolated sequential processing.
package workpool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"
)

var (
	// ErrPoolClosed is returned by Submit after Close, and delivered to
	// futures whose task was still queued when the pool closed.
	ErrPoolClosed = errors.New("workpool: pool closed")
	// ErrTaskPanic wraps a panic recovered from a task.
	ErrTaskPanic = errors.New("workpool: task panic")
)

// Task is a unit of work executed on a pool worker.
type Task func(ctx context.Context) (any, error)

// Future is the pending result of a submitted Task.
type Future struct {
	done chan struct{}
	once sync.Once
	val  any
	err  error
}

func newFuture() *Future { return &Future{done: make(chan struct{})} }

func (f *Future) resolve(v any)    { f.once.Do(func() { f.val = v; close(f.done) }) }
func (f *Future) reject(err error) { f.once.Do(func() { f.err = err; close(f.done) }) }

// Wait blocks until the task finishes or ctx is cancelled.
func (f *Future) Wait(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// PoolOptions configures a Pool.
type PoolOptions struct {
	// MinWorkers are started immediately. Default: 2.
	MinWorkers int
	// MaxWorkers caps on-demand growth. Default: runtime.NumCPU(),
	// never below MinWorkers.
	MaxWorkers int
	// QueueSize bounds the number of queued tasks; Submit blocks when
	// the queue is full and every worker is busy. Default: 64.
	QueueSize int
	// IdleTimeout retires a worker that has waited this long without
	// work. At least one worker always stays alive. Default: 30s.
	IdleTimeout time.Duration
	// Logger overrides the default slog logger.
	Logger *slog.Logger
}

func (o *PoolOptions) defaults() {
	if o.MinWorkers <= 0 {
		o.MinWorkers = 2
	}
	if o.MaxWorkers <= 0 {
		o.MaxWorkers = runtime.NumCPU()
	}
	if o.MaxWorkers < o.MinWorkers {
		o.MaxWorkers = o.MinWorkers
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 64
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = 30 * time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

type job struct {
	ctx context.Context
	fn  Task
	fut *Future
}

// Pool is a bounded worker pool. It starts with MinWorkers goroutines,
// grows up to MaxWorkers when a task arrives and nobody is idle, and
// retires workers idle past IdleTimeout, always keeping one alive.
type Pool struct {
	opts  PoolOptions
	tasks chan *job
	wg    sync.WaitGroup

	mu      sync.Mutex
	senders sync.WaitGroup // in-flight Submit sends, drained by Close
	workers int
	idle    int
	closed  bool
}

// NewPool creates and starts a Pool.
func NewPool(opts PoolOptions) *Pool {
	opts.defaults()
	p := &Pool{
		opts:  opts,
		tasks: make(chan *job, opts.QueueSize),
	}
	p.mu.Lock()
	for i := 0; i < opts.MinWorkers; i++ {
		p.spawnLocked()
	}
	p.mu.Unlock()
	return p
}

// Submit schedules fn and returns its Future. When every worker is busy
// and the pool is below its cap, a new worker is started; otherwise the
// task queues until a worker frees up.
func (p *Pool) Submit(ctx context.Context, fn Task) (*Future, error) {
	fut := newFuture()
	j := &job{ctx: ctx, fn: fn, fut: fut}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	if p.idle == 0 && p.workers < p.opts.MaxWorkers {
		p.spawnLocked()
	}
	p.senders.Add(1)
	p.mu.Unlock()
	defer p.senders.Done()

	select {
	case p.tasks <- j:
		return fut, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Workers returns the current number of live workers.
func (p *Pool) Workers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.workers
}

// Close rejects all queued tasks with ErrPoolClosed, stops every worker,
// and waits for in-flight tasks to finish. A Submit racing Close either
// queues its task before the drain, getting the rejection through its
// Future, or fails with ErrPoolClosed.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	// Workers keep consuming while racing senders finish, so nobody can
	// still be sending when the channel closes below.
	p.senders.Wait()

drain:
	for {
		select {
		case j := <-p.tasks:
			j.fut.reject(ErrPoolClosed)
		default:
			break drain
		}
	}
	close(p.tasks)
	p.wg.Wait()
}

func (p *Pool) spawnLocked() {
	p.workers++
	p.wg.Add(1)
	go p.worker()
}

func (p *Pool) worker() {
	defer p.wg.Done()
	timer := time.NewTimer(p.opts.IdleTimeout)
	defer timer.Stop()

	for {
		p.addIdle(1)
		select {
		case j, ok := <-p.tasks:
			p.addIdle(-1)
			if !ok {
				p.mu.Lock()
				p.workers--
				p.mu.Unlock()
				return
			}
			p.run(j)
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(p.opts.IdleTimeout)
		case <-timer.C:
			p.addIdle(-1)
			if p.tryRetire() {
				return
			}
			timer.Reset(p.opts.IdleTimeout)
		}
	}
}

func (p *Pool) run(j *job) {
	defer func() {
		if r := recover(); r != nil {
			p.opts.Logger.Error("workpool: task panicked", "panic", r)
			j.fut.reject(fmt.Errorf("%w: %v", ErrTaskPanic, r))
		}
	}()
	if err := j.ctx.Err(); err != nil {
		j.fut.reject(err)
		return
	}
	v, err := j.fn(j.ctx)
	if err != nil {
		j.fut.reject(err)
		return
	}
	j.fut.resolve(v)
}

func (p *Pool) addIdle(d int) {
	p.mu.Lock()
	p.idle += d
	p.mu.Unlock()
}

// tryRetire removes this worker unless it is the last one.
func (p *Pool) tryRetire() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.workers <= 1 {
		return false
	}
	p.workers--
	return true
}
