// Package board keeps one live status message per tracked server in the
// server's channel, refreshed on its own schedule.
package board

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/MSWS/TSTats/internal/schedule"
	"github.com/MSWS/TSTats/internal/server"
)

// ErrNotTracked is returned when updating a server the board does not hold.
var ErrNotTracked = errors.New("server not tracked by board")

// Channels is the chat layer a board renders into.
type Channels interface {
	Send(ctx context.Context, channel string, card Card) (messageID string, err error)
	Edit(ctx context.Context, channel, messageID string, card Card) error
	Delete(ctx context.Context, channel, messageID string) error
	// Purge deletes up to limit recent messages of channel.
	Purge(ctx context.Context, channel string, limit int) error
	SetTopic(ctx context.Context, channel, topic string) error
}

// Observer records render outcomes
type Observer interface {
	ObserveRender(outcome string)
}

// Render outcomes reported to the Observer
const (
	RenderEdited = "edited"
	RenderSent   = "sent"
	RenderFailed = "failed"
)

// Options configures a board.
type Options struct {
	Render RenderOptions
	// PurgeLimit is how many old messages are removed from each channel when
	// the board starts. Zero uses 50, negative disables purging.
	PurgeLimit int
	// AddDelay is the pause before the first render of a newly added server.
	AddDelay time.Duration
	Observer Observer
	Logger   *slog.Logger
}

type tracked struct {
	rec     *server.Record
	delta   server.Delta
	updates int
	message string
	// the channel message lives in, which may lag rec.Channel after an edit
	messageChannel string
}

// Board holds the servers of one scope and keeps their status messages
// current.
type Board struct {
	scope string
	ch    Channels
	opts  Options
	log   *slog.Logger
	now   func() time.Time

	mu      sync.Mutex
	records map[string]*tracked
	order   []string
	purged  map[string]bool
	task    *schedule.Task

	// serialises message sends so a record is never sent twice concurrently
	renderMu sync.Mutex
}

// New creates a board for scope seeded with records.
func New(scope string, ch Channels, opts Options, records ...*server.Record) *Board {
	if opts.PurgeLimit == 0 {
		opts.PurgeLimit = 50
	}
	if opts.AddDelay <= 0 {
		opts.AddDelay = time.Second
	}
	if opts.Render.LineLength <= 0 {
		opts.Render.LineLength = DefaultLineLength
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	b := &Board{
		scope:   scope,
		ch:      ch,
		opts:    opts,
		log:     log.With("scope", scope),
		now:     time.Now,
		records: make(map[string]*tracked),
		purged:  make(map[string]bool),
	}
	for _, rec := range records {
		b.track(rec)
	}
	return b
}

// Scope returns the scope the board serves.
func (b *Board) Scope() string {
	return b.scope
}

func (b *Board) track(rec *server.Record) bool {
	if _, ok := b.records[rec.Name]; ok {
		return false
	}
	b.records[rec.Name] = &tracked{rec: rec.Clone()}
	b.order = append(b.order, rec.Name)
	return true
}

// Add starts tracking rec and renders it once shortly afterwards, outside
// the regular tick.
func (b *Board) Add(ctx context.Context, rec *server.Record) bool {
	b.mu.Lock()
	added := b.track(rec)
	b.mu.Unlock()
	if !added {
		return false
	}

	name := rec.Name
	time.AfterFunc(b.opts.AddDelay, func() {
		if ctx.Err() != nil {
			return
		}
		b.render(ctx, name)
	})
	return true
}

// Remove stops tracking the named server and deletes its status message.
func (b *Board) Remove(ctx context.Context, name string) bool {
	b.mu.Lock()
	t, ok := b.records[name]
	if ok {
		delete(b.records, name)
		for i, n := range b.order {
			if n == name {
				b.order = append(b.order[:i:i], b.order[i+1:]...)
				break
			}
		}
	}
	b.mu.Unlock()
	if !ok {
		return false
	}

	if t.message != "" {
		if err := b.ch.Delete(ctx, t.messageChannel, t.message); err != nil {
			b.log.Warn("Failed to delete status message", "server", name, "channel", t.messageChannel, "error", err)
		}
	}
	return true
}

// Update merges the observed state of rec into the tracked copy and returns
// the roster change since the previous update. Configuration fields of the
// tracked copy are left alone; use Edit for those.
func (b *Board) Update(rec *server.Record) (server.Delta, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.records[rec.Name]
	if !ok {
		b.log.Warn("Update for a server this board does not track", "server", rec.Name, "channel", rec.Channel)
		return server.Delta{}, fmt.Errorf("%w: %s", ErrNotTracked, rec.ID())
	}

	cur := t.rec
	if cur.SourceName == "" && rec.SourceName != "" {
		cur.SourceName = rec.SourceName
	}
	cur.DisplayName = rec.DisplayName
	cur.Map = rec.Map
	cur.MaxPlayers = rec.MaxPlayers
	cur.Ping = rec.Ping
	cur.ConnectHint = rec.ConnectHint
	cur.ReportedOnline = rec.ReportedOnline
	cur.Raw = rec.Clone().Raw

	players := server.Roster(rec.Players)
	t.delta = server.Diff(cur.Players, players)
	cur.Players = players
	t.updates++
	return t.delta, nil
}

// Edit replaces the configuration fields of the tracked copy of rec. When
// the channel changes the old status message is deleted and a new one is
// sent on the next render.
func (b *Board) Edit(ctx context.Context, rec *server.Record) error {
	b.mu.Lock()
	t, ok := b.records[rec.Name]
	if !ok {
		b.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotTracked, rec.ID())
	}
	cur := t.rec
	cur.Address = rec.Address
	cur.Kind = rec.Kind
	cur.Color = rec.Color
	cur.Image = rec.Image
	var stale, staleChannel string
	if cur.Channel != rec.Channel {
		cur.Channel = rec.Channel
		stale, staleChannel = t.message, t.messageChannel
		t.message, t.messageChannel = "", ""
	}
	b.mu.Unlock()

	if stale != "" {
		if err := b.ch.Delete(ctx, staleChannel, stale); err != nil {
			b.log.Warn("Failed to delete status message", "server", rec.Name, "channel", staleChannel, "error", err)
		}
	}
	return nil
}

// Previous returns a copy of the tracked record.
func (b *Board) Previous(name string) (*server.Record, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.records[name]
	if !ok {
		return nil, false
	}
	return t.rec.Clone(), true
}

// Records returns copies of every tracked record in the order they were
// added.
func (b *Board) Records() []*server.Record {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*server.Record, 0, len(b.order))
	for _, name := range b.order {
		out = append(out, b.records[name].rec.Clone())
	}
	return out
}

// ChannelIDs returns the distinct channels of the tracked records, sorted.
func (b *Board) ChannelIDs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.channelsLocked()
}

func (b *Board) channelsLocked() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, t := range b.records {
		if t.rec.Channel == "" {
			continue
		}
		if _, ok := seen[t.rec.Channel]; ok {
			continue
		}
		seen[t.rec.Channel] = struct{}{}
		out = append(out, t.rec.Channel)
	}
	sort.Strings(out)
	return out
}

// Summary totals the servers routed to channel.
func (b *Board) Summary(channel string) Summary {
	b.mu.Lock()
	defer b.mu.Unlock()
	var s Summary
	for _, t := range b.records {
		if t.rec.Channel != channel {
			continue
		}
		s.Online += t.rec.OnlineCount()
		s.Capacity += t.rec.MaxPlayers
		s.Servers++
	}
	return s
}

// Start purges the board's channels once, then ticks after delay and every
// period until Stop is called or ctx is cancelled.
func (b *Board) Start(ctx context.Context, delay, period time.Duration) {
	b.mu.Lock()
	started := b.task != nil
	b.mu.Unlock()
	if started {
		return
	}

	b.purge(ctx)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.task != nil {
		return
	}
	b.task = schedule.Start(ctx, delay, period, b.Tick)
	b.log.Info("Started board", "delay", delay, "period", period)
}

// Stop prevents further ticks. A tick in progress completes.
func (b *Board) Stop() {
	b.mu.Lock()
	task := b.task
	b.mu.Unlock()
	task.Stop()
}

// Wait blocks until the board's tick loop has exited.
func (b *Board) Wait() {
	b.mu.Lock()
	task := b.task
	b.mu.Unlock()
	task.Wait()
}

func (b *Board) purge(ctx context.Context) {
	if b.opts.PurgeLimit < 0 {
		return
	}
	b.mu.Lock()
	var pending []string
	for _, c := range b.channelsLocked() {
		if !b.purged[c] {
			b.purged[c] = true
			pending = append(pending, c)
		}
	}
	b.mu.Unlock()

	for _, c := range pending {
		if err := b.ch.Purge(ctx, c, b.opts.PurgeLimit); err != nil {
			b.log.Error("Failed to purge channel", "channel", c, "error", err)
		}
	}
}

// Tick renders every tracked server and refreshes the topic of each channel.
func (b *Board) Tick(ctx context.Context) {
	b.mu.Lock()
	names := append([]string(nil), b.order...)
	b.mu.Unlock()

	for _, name := range names {
		if ctx.Err() != nil {
			return
		}
		b.render(ctx, name)
	}

	for _, c := range b.ChannelIDs() {
		topic := b.Summary(c).Topic()
		if err := b.ch.SetTopic(ctx, c, topic); err != nil {
			b.log.Warn("Failed to set channel topic", "channel", c, "error", err)
		}
	}
}

// render sends or edits the status message of one server.
func (b *Board) render(ctx context.Context, name string) {
	b.renderMu.Lock()
	defer b.renderMu.Unlock()

	b.mu.Lock()
	t, ok := b.records[name]
	if !ok {
		b.mu.Unlock()
		return
	}
	rec := t.rec.Clone()
	card := Render(rec, t.delta, t.updates > 1, b.opts.Render, b.now())
	message, messageChannel := t.message, t.messageChannel
	b.mu.Unlock()

	if rec.Channel == "" {
		return
	}

	if message != "" {
		err := b.ch.Edit(ctx, messageChannel, message, card)
		if err == nil {
			b.observe(RenderEdited)
			return
		}
		b.log.Debug("Failed to edit status message, sending a new one", "server", name, "error", err)
	}

	id, err := b.ch.Send(ctx, rec.Channel, card)
	if err != nil {
		b.log.Error("Failed to send status message", "server", name, "channel", rec.Channel, "error", err)
		b.observe(RenderFailed)
		return
	}
	b.observe(RenderSent)

	b.mu.Lock()
	t, ok = b.records[name]
	if ok && t.rec.Channel == rec.Channel {
		t.message, t.messageChannel = id, rec.Channel
	}
	b.mu.Unlock()

	if !ok {
		// removed while sending
		if err := b.ch.Delete(ctx, rec.Channel, id); err != nil {
			b.log.Warn("Failed to delete status message", "server", name, "channel", rec.Channel, "error", err)
		}
	}
}

func (b *Board) observe(outcome string) {
	if b.opts.Observer != nil {
		b.opts.Observer.ObserveRender(outcome)
	}
}
