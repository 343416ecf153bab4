// Package monitor wires pollers, boards and subscriptions together and is
// the surface the chat layer and the HTTP API drive.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/MSWS/TSTats/internal/board"
	"github.com/MSWS/TSTats/internal/notify"
	"github.com/MSWS/TSTats/internal/poller"
	"github.com/MSWS/TSTats/internal/server"
	"github.com/MSWS/TSTats/internal/storage"
)

var (
	// ErrDuplicateServer is returned when registering a name already used in
	// the scope.
	ErrDuplicateServer = errors.New("a server already exists by that name")
	// ErrUnknownServer is returned for a server that is not registered.
	ErrUnknownServer = errors.New("unknown server")
)

// Options holds the schedules of pollers and boards.
type Options struct {
	SourceDelay  time.Duration
	SourceRate   time.Duration
	DiscordDelay time.Duration
	DiscordRate  time.Duration
	Logger       *slog.Logger
}

type scopeConfig struct {
	servers  []*server.Record
	elevated []string
}

func (s *scopeConfig) find(name string) int {
	for i, r := range s.servers {
		if r.Name == name {
			return i
		}
	}
	return -1
}

func (s *scopeConfig) snapshot() storage.Scope {
	out := storage.Scope{Elevated: append([]string(nil), s.elevated...)}
	for _, r := range s.servers {
		out.Servers = append(out.Servers, r.Clone())
	}
	return out
}

// Monitor owns the registered servers of every scope.
type Monitor struct {
	store   storage.Store
	subs    *notify.Store
	boards  *board.Registry
	pollers *poller.Manager
	opts    Options
	log     *slog.Logger

	mu     sync.Mutex
	scopes map[string]*scopeConfig
	runCtx context.Context
}

// New creates a monitor. Nothing runs until Start.
func New(store storage.Store, subs *notify.Store, boards *board.Registry, pollers *poller.Manager, opts Options) *Monitor {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Monitor{
		store:   store,
		subs:    subs,
		boards:  boards,
		pollers: pollers,
		opts:    opts,
		log:     log,
		scopes:  make(map[string]*scopeConfig),
		runCtx:  context.Background(),
	}
}

// Load reads every saved scope and subscription profile. Documents that fail
// to load are logged and skipped.
func (m *Monitor) Load(ctx context.Context) error {
	scopes, err := m.store.Scopes(ctx)
	if err != nil {
		return fmt.Errorf("failed to list scopes: %w", err)
	}
	servers := 0
	for _, id := range scopes {
		sc, err := m.store.LoadServerScope(ctx, id)
		if err != nil {
			m.log.Error("Failed to load scope", "scope", id, "error", err)
			continue
		}
		m.mu.Lock()
		m.scopes[id] = &scopeConfig{servers: sc.Servers, elevated: sc.Elevated}
		m.mu.Unlock()
		m.boards.Ensure(id, sc.Servers...)
		servers += len(sc.Servers)
	}

	owners, err := m.store.Owners(ctx)
	if err != nil {
		return fmt.Errorf("failed to list profiles: %w", err)
	}
	for _, owner := range owners {
		subs, err := m.store.LoadSubscriptions(ctx, owner)
		if err != nil {
			m.log.Error("Failed to load profile", "owner", owner, "error", err)
			continue
		}
		m.subs.Load(owner, subs)
	}

	m.log.Info("Loaded state", "scopes", len(scopes), "servers", servers, "profiles", len(owners))
	return nil
}

// Start begins polling every loaded server and refreshing every board.
// Servers registered later start immediately.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	m.runCtx = ctx
	var recs []*server.Record
	for _, sc := range m.scopes {
		for _, r := range sc.servers {
			recs = append(recs, r.Clone())
		}
	}
	m.mu.Unlock()

	m.boards.Start(ctx, m.opts.DiscordDelay, m.opts.DiscordRate)
	for _, r := range recs {
		m.StartPoller(r, m.opts.SourceDelay, m.opts.SourceRate)
	}
}

// Stop stops every poller and board.
func (m *Monitor) Stop() {
	m.pollers.StopAll()
	m.boards.Stop()
}

// StartPoller begins polling rec after delay and then every period.
func (m *Monitor) StartPoller(rec *server.Record, delay, period time.Duration) *poller.Poller {
	m.mu.Lock()
	ctx := m.runCtx
	m.mu.Unlock()
	return m.pollers.Start(ctx, rec, delay, period)
}

// StopPoller stops polling a server without deregistering it.
func (m *Monitor) StopPoller(scope, name string) bool {
	return m.pollers.Stop(server.Identity{Scope: scope, Name: name})
}

// Board returns the board of scope.
func (m *Monitor) Board(scope string) (*board.Board, bool) {
	return m.boards.Get(scope)
}

// Register adds rec to its scope, persists the scope, puts the server on the
// scope's board and starts polling it.
func (m *Monitor) Register(ctx context.Context, rec *server.Record) error {
	m.mu.Lock()
	sc, ok := m.scopes[rec.Scope]
	if !ok {
		sc = &scopeConfig{}
		m.scopes[rec.Scope] = sc
	}
	if sc.find(rec.Name) >= 0 {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateServer, rec.Name)
	}
	sc.servers = append(sc.servers, rec.Clone())
	snapshot := sc.snapshot()
	runCtx := m.runCtx
	m.mu.Unlock()

	m.persist(ctx, rec.Scope, snapshot)
	m.boards.Ensure(rec.Scope).Add(runCtx, rec)
	m.StartPoller(rec, m.opts.SourceDelay, m.opts.SourceRate)
	m.log.Info("Registered server", "scope", rec.Scope, "server", rec.Name, "address", rec.Address, "kind", rec.Kind)
	return nil
}

// Deregister stops polling a server, removes its status message, deletes
// every subscription to it and persists the scope.
func (m *Monitor) Deregister(ctx context.Context, scope, name string) error {
	m.mu.Lock()
	sc, ok := m.scopes[scope]
	idx := -1
	if ok {
		idx = sc.find(name)
	}
	if idx < 0 {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownServer, name)
	}
	sc.servers = append(sc.servers[:idx:idx], sc.servers[idx+1:]...)
	snapshot := sc.snapshot()
	m.mu.Unlock()

	m.StopPoller(scope, name)
	if b, ok := m.boards.Get(scope); ok {
		b.Remove(ctx, name)
	}
	purged := m.subs.PurgeServer(ctx, scope, name)
	m.persist(ctx, scope, snapshot)
	m.log.Info("Deregistered server", "scope", scope, "server", name, "subscriptions", purged)
	return nil
}

// ApplyExternalEdit replaces the configuration of a registered server and
// pushes it into the live poller and board.
func (m *Monitor) ApplyExternalEdit(ctx context.Context, rec *server.Record) error {
	m.mu.Lock()
	sc, ok := m.scopes[rec.Scope]
	idx := -1
	if ok {
		idx = sc.find(rec.Name)
	}
	if idx < 0 {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownServer, rec.Name)
	}
	cur := sc.servers[idx]
	cur.Address = rec.Address
	cur.Kind = rec.Kind
	cur.Channel = rec.Channel
	cur.Color = rec.Color
	cur.Image = rec.Image
	edited := cur.Clone()
	snapshot := sc.snapshot()
	m.mu.Unlock()

	m.persist(ctx, rec.Scope, snapshot)
	m.pollers.Apply(edited)
	if b, ok := m.boards.Get(rec.Scope); ok {
		if err := b.Edit(ctx, edited); err != nil {
			m.log.Warn("Failed to apply edit to board", "scope", rec.Scope, "server", rec.Name, "error", err)
		}
	}
	return nil
}

// Server returns the configuration of a registered server.
func (m *Monitor) Server(scope, name string) (*server.Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sc, ok := m.scopes[scope]
	if !ok {
		return nil, false
	}
	idx := sc.find(name)
	if idx < 0 {
		return nil, false
	}
	return sc.servers[idx].Clone(), true
}

// Servers returns the latest observed records of a scope in registration
// order.
func (m *Monitor) Servers(scope string) []*server.Record {
	if b, ok := m.boards.Get(scope); ok {
		return b.Records()
	}
	return nil
}

// Scopes returns every scope with registered servers, sorted.
func (m *Monitor) Scopes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.scopes))
	for id, sc := range m.scopes {
		if len(sc.servers) > 0 {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Subscribe adds sub for its owner. It returns false when the owner already
// has an identical subscription.
func (m *Monitor) Subscribe(ctx context.Context, sub notify.Subscription) (bool, error) {
	if _, ok := m.Server(sub.Scope, sub.Server); !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownServer, sub.Server)
	}
	return m.subs.Add(ctx, sub), nil
}

// ListSubscriptions returns an owner's subscriptions matching f.
func (m *Monitor) ListSubscriptions(owner string, f notify.Filter) []notify.Subscription {
	return m.subs.List(owner, f)
}

// ClearSubscriptions removes an owner's subscriptions matching f.
func (m *Monitor) ClearSubscriptions(ctx context.Context, owner string, f notify.Filter) int {
	return m.subs.Clear(ctx, owner, f)
}

// Totals counts players online and servers across every board.
func (m *Monitor) Totals() (players, servers int) {
	return m.boards.Totals()
}

func (m *Monitor) persist(ctx context.Context, scope string, s storage.Scope) {
	if err := m.store.SaveServerScope(ctx, scope, s); err != nil {
		m.log.Error("Failed to save scope", "scope", scope, "error", err)
	}
}
