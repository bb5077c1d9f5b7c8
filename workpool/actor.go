package workpool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hazyhaar/docparse/idgen"
)

var (
	// ErrActorTerminated is returned by Process after Terminate, and
	// delivered to every request pending at termination time.
	ErrActorTerminated = errors.New("workpool: actor terminated")
	// ErrActorFault wraps a panic recovered from the actor handler. All
	// requests pending at the time of the fault receive it.
	ErrActorFault = errors.New("workpool: actor fault")
)

// Handler processes one actor request.
type Handler func(ctx context.Context, action string, payload any) (any, error)

// ActorOptions configures an Actor.
type ActorOptions struct {
	// QueueSize bounds buffered requests. Default: 16.
	QueueSize int
	// Logger overrides the default slog logger.
	Logger *slog.Logger
	// NewID overrides the task-id generator.
	NewID idgen.Generator
}

func (o *ActorOptions) defaults() {
	if o.QueueSize <= 0 {
		o.QueueSize = 16
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.NewID == nil {
		o.NewID = idgen.Prefixed("task_", idgen.Default)
	}
}

type actorRequest struct {
	id      string
	ctx     context.Context
	action  string
	payload any
}

type actorResponse struct {
	val any
	err error
}

// Actor runs a Handler on a single background goroutine and correlates
// concurrently submitted requests with their responses by task id.
// Requests are multiplexed: many can be in flight at once, the goroutine
// works through them in arrival order.
//
// A handler panic is a fault: every pending request is rejected with
// ErrActorFault, the goroutine is discarded, and a fresh one starts
// lazily on the next Process call. The faulted request is not retried.
type Actor struct {
	handler Handler
	opts    ActorOptions

	mu         sync.Mutex
	senders    sync.WaitGroup // in-flight Process sends, drained by Terminate
	requests   chan actorRequest
	pending    map[string]chan actorResponse
	alive      bool
	terminated bool
}

// NewActor creates an Actor. The goroutine starts on first use.
func NewActor(h Handler, opts ActorOptions) *Actor {
	opts.defaults()
	return &Actor{
		handler: h,
		opts:    opts,
		pending: make(map[string]chan actorResponse),
	}
}

// Process submits a request and blocks until its correlated response
// arrives or ctx is cancelled.
func (a *Actor) Process(ctx context.Context, action string, payload any) (any, error) {
	a.mu.Lock()
	if a.terminated {
		a.mu.Unlock()
		return nil, ErrActorTerminated
	}
	if !a.alive {
		a.respawnLocked()
	}
	id := a.opts.NewID()
	ch := make(chan actorResponse, 1)
	a.pending[id] = ch
	requests := a.requests
	a.senders.Add(1)
	a.mu.Unlock()

	select {
	case requests <- actorRequest{id: id, ctx: ctx, action: action, payload: payload}:
		a.senders.Done()
	case resp := <-ch:
		// Rejected by a fault or Terminate while waiting for queue space.
		a.senders.Done()
		return resp.val, resp.err
	case <-ctx.Done():
		a.senders.Done()
		a.forget(id)
		return nil, ctx.Err()
	}

	select {
	case resp := <-ch:
		return resp.val, resp.err
	case <-ctx.Done():
		a.forget(id)
		return nil, ctx.Err()
	}
}

// Terminate rejects all pending requests and stops the actor for good.
// A Process racing Terminate gets the rejection through its response
// channel, even while blocked on a full request queue.
func (a *Actor) Terminate() {
	a.mu.Lock()
	if a.terminated {
		a.mu.Unlock()
		return
	}
	a.terminated = true
	a.rejectAllLocked(ErrActorTerminated)
	a.mu.Unlock()

	// Rejected senders wake through their response channel; once they
	// have drained, closing the request channel cannot hit a sender.
	a.senders.Wait()

	a.mu.Lock()
	if a.alive {
		close(a.requests)
		a.alive = false
	}
	a.mu.Unlock()
}

func (a *Actor) respawnLocked() {
	a.requests = make(chan actorRequest, a.opts.QueueSize)
	a.alive = true
	go a.loop(a.requests)
}

func (a *Actor) loop(requests chan actorRequest) {
	for req := range requests {
		if err := req.ctx.Err(); err != nil {
			a.deliver(req.id, actorResponse{err: err})
			continue
		}
		resp, fault := a.safeCall(req)
		if fault != nil {
			// Fault: everything pending (this request included)
			// rejects, the goroutine dies, respawn is lazy.
			a.opts.Logger.Error("workpool: actor handler fault", "action", req.action, "error", fault)
			a.mu.Lock()
			a.rejectAllLocked(fault)
			a.alive = false
			a.mu.Unlock()
			return
		}
		a.deliver(req.id, resp)
	}
}

func (a *Actor) safeCall(req actorRequest) (resp actorResponse, fault error) {
	defer func() {
		if r := recover(); r != nil {
			fault = fmt.Errorf("%w: %v", ErrActorFault, r)
		}
	}()
	v, err := a.handler(req.ctx, req.action, req.payload)
	return actorResponse{val: v, err: err}, nil
}

func (a *Actor) deliver(id string, resp actorResponse) {
	a.mu.Lock()
	ch, ok := a.pending[id]
	delete(a.pending, id)
	a.mu.Unlock()
	if ok {
		ch <- resp
	}
}

func (a *Actor) forget(id string) {
	a.mu.Lock()
	delete(a.pending, id)
	a.mu.Unlock()
}

func (a *Actor) rejectAllLocked(err error) {
	for id, ch := range a.pending {
		delete(a.pending, id)
		ch <- actorResponse{err: err}
	}
}
