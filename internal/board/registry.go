package board

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/MSWS/TSTats/internal/server"
)

// Registry holds one board per scope and routes record updates to the board
// of the record's scope.
type Registry struct {
	ch   Channels
	opts Options

	mu     sync.RWMutex
	boards map[string]*Board

	// set by Start; boards created afterwards start on their own
	ctx     context.Context
	delay   time.Duration
	period  time.Duration
	running bool
}

// NewRegistry creates an empty registry whose boards render through ch.
func NewRegistry(ch Channels, opts Options) *Registry {
	return &Registry{
		ch:     ch,
		opts:   opts,
		boards: make(map[string]*Board),
	}
}

// Get returns the board of scope.
func (r *Registry) Get(scope string) (*Board, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.boards[scope]
	return b, ok
}

// Ensure returns the board of scope, creating it with records when absent.
// Records are ignored for an existing board.
func (r *Registry) Ensure(scope string, records ...*server.Record) *Board {
	r.mu.Lock()
	b, ok := r.boards[scope]
	if ok {
		r.mu.Unlock()
		return b
	}
	b = New(scope, r.ch, r.opts, records...)
	r.boards[scope] = b
	running, ctx, delay, period := r.running, r.ctx, r.delay, r.period
	r.mu.Unlock()

	if running {
		b.Start(ctx, delay, period)
	}
	return b
}

// Drop stops the board of scope and forgets it.
func (r *Registry) Drop(scope string) bool {
	r.mu.Lock()
	b, ok := r.boards[scope]
	delete(r.boards, scope)
	r.mu.Unlock()
	if ok {
		b.Stop()
	}
	return ok
}

// Scopes returns every scope with a board, sorted.
func (r *Registry) Scopes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.boards))
	for s := range r.boards {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Start starts every board, and every board created later, ticking after
// delay and then every period.
func (r *Registry) Start(ctx context.Context, delay, period time.Duration) {
	r.mu.Lock()
	r.ctx, r.delay, r.period, r.running = ctx, delay, period, true
	boards := make([]*Board, 0, len(r.boards))
	for _, b := range r.boards {
		boards = append(boards, b)
	}
	r.mu.Unlock()

	for _, b := range boards {
		b.Start(ctx, delay, period)
	}
}

// Stop stops every board and waits for their tick loops to exit.
func (r *Registry) Stop() {
	r.mu.Lock()
	r.running = false
	boards := make([]*Board, 0, len(r.boards))
	for _, b := range r.boards {
		boards = append(boards, b)
	}
	r.mu.Unlock()

	for _, b := range boards {
		b.Stop()
	}
	for _, b := range boards {
		b.Wait()
	}
}

// Previous returns the tracked copy of the record id, if its board holds it.
func (r *Registry) Previous(id server.Identity) (*server.Record, bool) {
	b, ok := r.Get(id.Scope)
	if !ok {
		return nil, false
	}
	return b.Previous(id.Name)
}

// Update hands rec to the board of its scope.
func (r *Registry) Update(rec *server.Record) (server.Delta, error) {
	b, ok := r.Get(rec.Scope)
	if !ok {
		return server.Delta{}, fmt.Errorf("%w: no board for scope %s", ErrNotTracked, rec.Scope)
	}
	return b.Update(rec)
}

// Totals counts the players online and the servers tracked across every
// board.
func (r *Registry) Totals() (players, servers int) {
	r.mu.RLock()
	boards := make([]*Board, 0, len(r.boards))
	for _, b := range r.boards {
		boards = append(boards, b)
	}
	r.mu.RUnlock()

	for _, b := range boards {
		for _, rec := range b.Records() {
			players += rec.OnlineCount()
			servers++
		}
	}
	return players, servers
}
