package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/MSWS/TSTats/internal/server"
)

// Fanout selects how a PlayerSession event with several joins and leaves
// turns into notices for one subscription.
type Fanout int

const (
	// FanoutEach sends one notice per matching join or leave.
	FanoutEach Fanout = iota
	// FanoutLegacy walks the sessions in order, stops at the first one that
	// does not match, and sends only the last matching session's notice.
	FanoutLegacy
)

// ParseFanout accepts "each" or "legacy".
func ParseFanout(s string) (Fanout, error) {
	switch s {
	case "", "each":
		return FanoutEach, nil
	case "legacy":
		return FanoutLegacy, nil
	}
	return FanoutEach, fmt.Errorf("unknown player fanout %q", s)
}

// Notice is one message destined for one subscriber.
type Notice struct {
	Subscription Subscription
	Content      string
	// Token identifies the notice's interactive controls, see Controller.
	Token string
}

// Deliverer sends a notice directly to its owner.
type Deliverer interface {
	Deliver(ctx context.Context, n Notice) error
}

// TokenIssuer hands out control tokens for delivered notices.
type TokenIssuer interface {
	Issue(sub Subscription) string
}

// Observer records dispatch outcomes.
type Observer interface {
	ObserveNotice(kind string, delivered bool)
}

// Dispatcher resolves a server's events against the subscription store and
// delivers one notice per match.
type Dispatcher struct {
	store   *Store
	deliver Deliverer
	tokens  TokenIssuer
	fanout  Fanout
	obs     Observer
	log     *slog.Logger
	now     func() time.Time
	filters matcherCache
}

// DispatcherOptions configures a Dispatcher.
type DispatcherOptions struct {
	Fanout   Fanout
	Tokens   TokenIssuer
	Observer Observer
	Logger   *slog.Logger
}

// NewDispatcher creates a dispatcher delivering through d.
func NewDispatcher(store *Store, d Deliverer, opts DispatcherOptions) *Dispatcher {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	disp := &Dispatcher{
		store:   store,
		deliver: d,
		tokens:  opts.Tokens,
		fanout:  opts.Fanout,
		obs:     opts.Observer,
		log:     log,
		now:     time.Now,
	}
	disp.filters.onError = func(filter string, err error) {
		log.Warn("Filter is not a valid expression, matching literally", "filter", filter, "error", err)
	}
	return disp
}

// Dispatch delivers notices for every event of one cycle of server id. It
// returns the number of notices delivered. Matches are snapshotted per event
// before any delivery, so subscriptions added or removed while delivering do
// not affect the current pass. A failed delivery is logged and does not stop
// the remaining ones.
func (d *Dispatcher) Dispatch(ctx context.Context, id server.Identity, events []Event) int {
	delivered := 0
	for _, ev := range events {
		subs := d.store.Matching(id.Scope, id.Name, ev.Kind(), d.now())
		for _, sub := range subs {
			for _, content := range d.Compose(sub, ev) {
				if err := ctx.Err(); err != nil {
					return delivered
				}
				n := Notice{Subscription: sub, Content: content}
				if d.tokens != nil {
					n.Token = d.tokens.Issue(sub)
				}
				if err := d.deliver.Deliver(ctx, n); err != nil {
					d.log.Error("Failed to deliver notice", "owner", sub.Owner, "scope", id.Scope, "server", id.Name, "kind", sub.Kind, "error", err)
					d.observe(sub.Kind, false)
					continue
				}
				delivered++
				d.observe(sub.Kind, true)
			}
		}
	}
	return delivered
}

// Compose returns the notice texts ev produces for sub; none when the
// subscription's filter rejects the event.
func (d *Dispatcher) Compose(sub Subscription, ev Event) []string {
	switch e := ev.(type) {
	case NoAdmins:
		return []string{fmt.Sprintf("**%s** has no admins online.", sub.Server)}
	case StatusChange:
		state := "Offline"
		if e.Online {
			state = "Online"
		}
		return []string{fmt.Sprintf("`%s` is now **%s**.", sub.Server, state)}
	case MapChange:
		if !d.filters.get(sub.Filter).Match(e.Map) {
			return nil
		}
		return []string{fmt.Sprintf("**%s**'s map has changed to `%s`.", sub.Server, e.Map)}
	case PlayerSession:
		return d.composeSessions(sub, e.Sessions)
	}
	return nil
}

func (d *Dispatcher) composeSessions(sub Subscription, sessions []Session) []string {
	m := d.filters.get(sub.Filter)

	if d.fanout == FanoutLegacy {
		message := ""
		for _, s := range sessions {
			if !m.Match(s.Name) {
				break
			}
			message = sessionText(sub.Server, s)
		}
		if message == "" {
			return nil
		}
		return []string{message}
	}

	var out []string
	for _, s := range sessions {
		if m.Match(s.Name) {
			out = append(out, sessionText(sub.Server, s))
		}
	}
	return out
}

func sessionText(server string, s Session) string {
	verb := "left"
	if s.Joined {
		verb = "joined"
	}
	return fmt.Sprintf("`%s` %s **%s**.", s.Name, verb, server)
}

func (d *Dispatcher) observe(kind Kind, ok bool) {
	if d.obs != nil {
		d.obs.ObserveNotice(string(kind), ok)
	}
}
