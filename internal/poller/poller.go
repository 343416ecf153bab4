package poller

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/MSWS/TSTats/internal/notify"
	"github.com/MSWS/TSTats/internal/query"
	"github.com/MSWS/TSTats/internal/server"
)

// Querier issues the external status query
type Querier interface {
	Query(ctx context.Context, kind query.Kind, host string, port, maxAttempts int) (*query.Response, error)
}

// Holder keeps the last-known state of every server. It owns the roster that
// joins and leaves are computed against.
type Holder interface {
	Previous(id server.Identity) (*server.Record, bool)
	Update(rec *server.Record) (server.Delta, error)
}

// Dispatcher receives the events of one cycle
type Dispatcher interface {
	Dispatch(ctx context.Context, id server.Identity, events []notify.Event) int
}

// Observer records poll outcomes
type Observer interface {
	ObservePoll(kind, outcome string, took time.Duration)
}

// Poll outcomes reported to the Observer
const (
	OutcomeOnline  = "online"
	OutcomeOffline = "offline"
	OutcomeError   = "error"
)

// Options configures pollers
type Options struct {
	// Attempts is the retry budget of one query
	Attempts  int
	AdminTags []string
	Observer  Observer
	Logger    *slog.Logger
}

// Poller keeps one server record current and turns each observation into
// notification events.
type Poller struct {
	query    Querier
	holder   Holder
	dispatch Dispatcher
	opts     Options
	log      *slog.Logger

	// serialises Update
	cycle sync.Mutex

	mu         sync.RWMutex
	record     *server.Record
	everOnline bool
	events     []notify.Event
}

// New creates a poller for rec. The poller keeps its own copy of rec.
func New(rec *server.Record, q Querier, holder Holder, d Dispatcher, opts Options) *Poller {
	if opts.Attempts <= 0 {
		opts.Attempts = query.DefaultAttempts
	}
	if len(opts.AdminTags) == 0 {
		opts.AdminTags = server.DefaultAdminTags
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Poller{
		query:    q,
		holder:   holder,
		dispatch: d,
		opts:     opts,
		log:      log.With("scope", rec.Scope, "server", rec.Name),
		record:   rec.Clone(),
	}
}

// ID returns the identity of the polled server.
func (p *Poller) ID() server.Identity {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.record.ID()
}

// Record returns a copy of the current record.
func (p *Poller) Record() *server.Record {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.record.Clone()
}

// EverOnline reports whether a query has ever succeeded.
func (p *Poller) EverOnline() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.everOnline
}

// Apply pushes operator-edited configuration into the live record. Observed
// state is left alone and the next cycle uses the new address and kind.
func (p *Poller) Apply(edit *server.Record) {
	p.mu.Lock()
	defer p.mu.Unlock()

	r := p.record
	r.Address = edit.Address
	r.Kind = edit.Kind
	r.Channel = edit.Channel
	r.Color = edit.Color
	r.Image = edit.Image
}

// Update runs one poll cycle: it queries the server, applies the result to
// the record, and dispatches the resulting events. The events of the cycle
// are returned. A query that could not be issued at all, or a panic on the
// way, is logged and leaves the record untouched.
func (p *Poller) Update(ctx context.Context) (events []notify.Event) {
	p.cycle.Lock()
	defer p.cycle.Unlock()

	start := time.Now()
	kind := ""
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("Poll cycle panicked", "panic", r)
			p.mu.Lock()
			p.events = nil
			p.mu.Unlock()
			p.observe(kind, OutcomeError, start)
			events = nil
		}
	}()

	rec := p.Record()
	kind = rec.Kind
	host, port := rec.HostPort()

	resp, err := p.query.Query(ctx, query.Kind(rec.Kind), host, port, p.opts.Attempts)
	switch {
	case err == nil:
		p.online(resp)
		p.observe(kind, OutcomeOnline, start)
	case errors.Is(err, query.ErrExhausted):
		p.log.Debug("Server did not answer", "error", err)
		p.offline()
		p.observe(kind, OutcomeOffline, start)
	default:
		p.log.Error("Failed to query server", "kind", rec.Kind, "address", rec.Address, "error", err)
		p.observe(kind, OutcomeError, start)
		return nil
	}

	p.mu.Lock()
	events = p.events
	p.events = nil
	p.mu.Unlock()

	if len(events) > 0 && p.dispatch != nil {
		n := p.dispatch.Dispatch(ctx, rec.ID(), events)
		p.log.Debug("Dispatched events", "events", len(events), "notices", n)
	}
	return events
}

func (p *Poller) online(resp *query.Response) {
	p.mu.Lock()
	defer p.mu.Unlock()

	r := p.record
	wasOffline := r.Ping == server.OfflinePing
	if wasOffline && p.everOnline {
		p.events = append(p.events, notify.StatusChange{Online: true})
	}

	if resp.Name != "" {
		r.SourceName = resp.Name
		r.DisplayName = resp.Name
	} else {
		r.DisplayName = r.Name
	}
	if r.Map != resp.Map && p.everOnline {
		p.events = append(p.events, notify.MapChange{Map: resp.Map})
	}

	prevRoster := r.Players
	r.Map = resp.Map
	if resp.MaxPlayers > 0 {
		r.MaxPlayers = resp.MaxPlayers
	}
	r.ConnectHint = resp.Connect
	r.Raw = resp.Raw
	r.Ping = resp.Ping
	if r.Ping < 0 {
		r.Ping = 0
	}
	r.ReportedOnline = resp.Online
	r.SetPlayers(resp.PlayerNames())

	if len(r.Players) > 0 && server.AdminCount(r.Players, p.opts.AdminTags) == 0 {
		// an untracked record falls back to the poller's own previous roster
		prevPlayers := prevRoster
		if prev, ok := p.holder.Previous(r.ID()); ok {
			prevPlayers = prev.Players
		}
		if server.AdminCount(prevPlayers, p.opts.AdminTags) > 0 {
			p.events = append(p.events, notify.NoAdmins{})
		}
	}

	delta, err := p.holder.Update(r.Clone())
	if err != nil {
		p.log.Warn("Failed to hand record to its board", "error", err)
		delta = server.Diff(prevRoster, r.Players)
	}
	if p.everOnline && !delta.Empty() {
		sessions := make([]notify.Session, 0, len(delta.Joined)+len(delta.Left))
		for _, name := range delta.Joined {
			sessions = append(sessions, notify.Session{Name: name, Joined: true})
		}
		for _, name := range delta.Left {
			sessions = append(sessions, notify.Session{Name: name, Joined: false})
		}
		p.events = append(p.events, notify.PlayerSession{Sessions: sessions})
	}

	if !p.everOnline {
		p.log.Info("Server online for the first time", "map", r.Map, "players", len(r.Players))
	}
	p.everOnline = true
}

func (p *Poller) offline() {
	p.mu.Lock()
	defer p.mu.Unlock()

	r := p.record
	if r.Ping != server.OfflinePing && p.everOnline {
		p.events = append(p.events, notify.StatusChange{Online: false})
		p.log.Info("Server went offline")
	}
	r.MarkOffline()

	if _, err := p.holder.Update(r.Clone()); err != nil {
		p.log.Warn("Failed to hand record to its board", "error", err)
	}
}

func (p *Poller) observe(kind, outcome string, start time.Time) {
	if p.opts.Observer != nil {
		p.opts.Observer.ObservePoll(kind, outcome, time.Since(start))
	}
}
