package poller

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/MSWS/TSTats/internal/schedule"
	"github.com/MSWS/TSTats/internal/server"
)

type running struct {
	poller *Poller
	task   *schedule.Task
}

// Manager owns the pollers of every registered server.
type Manager struct {
	query    Querier
	holder   Holder
	dispatch Dispatcher
	opts     Options
	log      *slog.Logger

	mu      sync.RWMutex
	pollers map[server.Identity]*running
}

// NewManager creates a manager whose pollers share q, holder and d.
func NewManager(q Querier, holder Holder, d Dispatcher, opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Manager{
		query:    q,
		holder:   holder,
		dispatch: d,
		opts:     opts,
		log:      opts.Logger,
		pollers:  make(map[server.Identity]*running),
	}
}

// Start begins polling rec after delay and then every period. A poller
// already running for the same identity is stopped and replaced; its
// everOnline latch is not carried over.
func (m *Manager) Start(ctx context.Context, rec *server.Record, delay, period time.Duration) *Poller {
	p := New(rec, m.query, m.holder, m.dispatch, m.opts)

	m.mu.Lock()
	old := m.pollers[rec.ID()]
	r := &running{poller: p}
	r.task = schedule.Start(ctx, delay, period, func(ctx context.Context) {
		p.Update(ctx)
	})
	m.pollers[rec.ID()] = r
	m.mu.Unlock()

	if old != nil {
		old.task.Stop()
	}
	m.log.Info("Started poller", "scope", rec.Scope, "server", rec.Name, "delay", delay, "period", period)
	return p
}

// Stop stops the poller for id. A cycle in flight is allowed to finish.
func (m *Manager) Stop(id server.Identity) bool {
	m.mu.Lock()
	r, ok := m.pollers[id]
	delete(m.pollers, id)
	m.mu.Unlock()

	if !ok {
		return false
	}
	r.task.Stop()
	m.log.Info("Stopped poller", "scope", id.Scope, "server", id.Name)
	return true
}

// StopAll stops every poller and waits for their goroutines to exit.
func (m *Manager) StopAll() {
	m.mu.Lock()
	all := m.pollers
	m.pollers = make(map[server.Identity]*running)
	m.mu.Unlock()

	for _, r := range all {
		r.task.Stop()
	}
	for _, r := range all {
		r.task.Wait()
	}
}

// Get returns the poller for id.
func (m *Manager) Get(id server.Identity) (*Poller, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.pollers[id]
	if !ok {
		return nil, false
	}
	return r.poller, true
}

// Apply forwards an operator edit to the live poller of rec.
func (m *Manager) Apply(rec *server.Record) bool {
	p, ok := m.Get(rec.ID())
	if !ok {
		return false
	}
	p.Apply(rec)
	return true
}

// IDs returns the identities of all running pollers, sorted.
func (m *Manager) IDs() []server.Identity {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]server.Identity, 0, len(m.pollers))
	for id := range m.pollers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if ids[i].Scope != ids[j].Scope {
			return ids[i].Scope < ids[j].Scope
		}
		return ids[i].Name < ids[j].Name
	})
	return ids
}
