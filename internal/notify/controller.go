package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrUnknownToken is returned for a control token that was never issued
	// or has expired.
	ErrUnknownToken = errors.New("unknown notification token")
	// ErrNotOwner is returned when someone other than the owner acts on a
	// subscription.
	ErrNotOwner = errors.New("subscription belongs to another user")
	// ErrNotSubscribed is returned when snoozing a subscription that no
	// longer exists.
	ErrNotSubscribed = errors.New("not subscribed")
	// ErrStopped is returned once the controller loop has exited.
	ErrStopped = errors.New("controller stopped")
)

// Action is a subscription state transition requested through a notice.
type Action int

const (
	// ActionStop removes the subscription.
	ActionStop Action = iota
	// ActionResume re-adds a removed subscription or ends a snooze.
	ActionResume
	// ActionSnooze suspends the subscription for Command.Duration.
	ActionSnooze
	// ActionDelete dismisses the notice without touching the subscription.
	ActionDelete
	// actionExpire is posted by snooze timers.
	actionExpire
)

func (a Action) String() string {
	switch a {
	case ActionStop:
		return "stop"
	case ActionResume:
		return "resume"
	case ActionSnooze:
		return "snooze"
	case ActionDelete:
		return "delete"
	case actionExpire:
		return "expire"
	}
	return "unknown"
}

// ParseAction maps a control id segment to an Action.
func ParseAction(s string) (Action, error) {
	switch s {
	case "stop":
		return ActionStop, nil
	case "resume":
		return ActionResume, nil
	case "snooze":
		return ActionSnooze, nil
	case "delete":
		return ActionDelete, nil
	}
	return 0, fmt.Errorf("unknown action %q", s)
}

// Command asks the controller to apply an action to the subscription behind
// a notice token.
type Command struct {
	Action Action
	Token  string
	// Actor is the user who pressed the control.
	Actor    string
	Duration time.Duration
}

// Outcome describes the applied transition.
type Outcome struct {
	Action       Action
	Subscription Subscription
	// Changed is false when the transition was a no-op (e.g. resuming an
	// already active subscription).
	Changed bool
	// Message is the confirmation shown to the user.
	Message string
}

type request struct {
	cmd   Command
	key   Key
	until time.Time
	reply chan result
}

type result struct {
	out Outcome
	err error
}

type issued struct {
	sub Subscription
	at  time.Time
}

// Controller serialises every subscription lifecycle transition through a
// single goroutine: commands from users and expiries from snooze timers are
// both delivered as messages to Run.
type Controller struct {
	store *Store
	log   *slog.Logger
	now   func() time.Time

	tokenTTL time.Duration
	tokensMu sync.Mutex
	tokens   map[string]issued

	requests chan request
	done     chan struct{}
	doneOnce sync.Once

	// only touched by the Run goroutine
	timers map[Key]*time.Timer
}

// NewController creates a controller over store. Call Run to start it.
func NewController(store *Store, log *slog.Logger) *Controller {
	if log == nil {
		log = slog.Default()
	}
	return &Controller{
		store:    store,
		log:      log,
		now:      time.Now,
		tokenTTL: 7 * 24 * time.Hour,
		tokens:   make(map[string]issued),
		requests: make(chan request, 64),
		done:     make(chan struct{}),
		timers:   make(map[Key]*time.Timer),
	}
}

// Issue registers sub behind a fresh token used as the id of a notice's
// controls.
func (c *Controller) Issue(sub Subscription) string {
	token := uuid.NewString()
	now := c.now()

	c.tokensMu.Lock()
	defer c.tokensMu.Unlock()
	for t, v := range c.tokens {
		if now.Sub(v.at) > c.tokenTTL {
			delete(c.tokens, t)
		}
	}
	c.tokens[token] = issued{sub: sub, at: now}
	return token
}

// Lookup returns the subscription behind a token.
func (c *Controller) Lookup(token string) (Subscription, bool) {
	c.tokensMu.Lock()
	defer c.tokensMu.Unlock()
	v, ok := c.tokens[token]
	return v.sub, ok
}

// Run processes commands until ctx is cancelled. Snoozes already present in
// the store are re-armed first: expired ones become active immediately.
func (c *Controller) Run(ctx context.Context) {
	defer func() {
		c.doneOnce.Do(func() { close(c.done) })
		for _, t := range c.timers {
			t.Stop()
		}
	}()

	c.rearm(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case req := <-c.requests:
			out, err := c.apply(ctx, req)
			if req.reply != nil {
				req.reply <- result{out: out, err: err}
			}
		}
	}
}

// Handle applies cmd and waits for the outcome.
func (c *Controller) Handle(ctx context.Context, cmd Command) (Outcome, error) {
	req := request{cmd: cmd, reply: make(chan result, 1)}
	select {
	case c.requests <- req:
	case <-c.done:
		return Outcome{}, ErrStopped
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}

	select {
	case res := <-req.reply:
		return res.out, res.err
	case <-c.done:
		return Outcome{}, ErrStopped
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

func (c *Controller) post(req request) {
	select {
	case c.requests <- req:
	case <-c.done:
	}
}

func (c *Controller) apply(ctx context.Context, req request) (Outcome, error) {
	if req.cmd.Action == actionExpire {
		return c.expire(ctx, req.key, req.until), nil
	}

	sub, ok := c.Lookup(req.cmd.Token)
	if !ok {
		return Outcome{}, ErrUnknownToken
	}
	if req.cmd.Actor != "" && req.cmd.Actor != sub.Owner {
		return Outcome{}, ErrNotOwner
	}
	key := sub.Key()
	out := Outcome{Action: req.cmd.Action, Subscription: sub}

	switch req.cmd.Action {
	case ActionStop:
		c.disarm(key)
		out.Changed = c.store.Remove(ctx, key)
		out.Message = "You will no longer be notified " + sub.Description()

	case ActionResume:
		c.disarm(key)
		current, exists := c.store.Get(key)
		switch {
		case !exists:
			sub.SnoozedUntil = time.Time{}
			out.Changed = c.store.Add(ctx, sub)
		case !current.SnoozedUntil.IsZero():
			out.Changed = c.store.SetSnoozedUntil(ctx, key, time.Time{})
		}
		out.Message = "You will now be notified " + sub.Description()

	case ActionSnooze:
		if req.cmd.Duration <= 0 {
			return Outcome{}, fmt.Errorf("invalid snooze duration %s", req.cmd.Duration)
		}
		if _, exists := c.store.Get(key); !exists {
			return Outcome{}, ErrNotSubscribed
		}
		until := c.now().Add(req.cmd.Duration)
		c.store.SetSnoozedUntil(ctx, key, until)
		c.arm(ctx, key, until)
		out.Subscription.SnoozedUntil = until
		out.Changed = true
		out.Message = fmt.Sprintf("Snoozed for %s. You will be notified again %s", formatDuration(req.cmd.Duration), sub.Description())

	case ActionDelete:
		// the notice is dismissed by the caller; subscription state is untouched

	default:
		return Outcome{}, fmt.Errorf("unsupported action %s", req.cmd.Action)
	}

	c.log.Info("Subscription transition", "action", req.cmd.Action, "owner", sub.Owner, "scope", sub.Scope, "server", sub.Server, "kind", sub.Kind, "changed", out.Changed)
	return out, nil
}

// expire ends a snooze unless the subscription was removed, resumed by hand,
// or snoozed again with a different deadline in the meantime.
func (c *Controller) expire(ctx context.Context, key Key, until time.Time) Outcome {
	out := Outcome{Action: actionExpire}
	if t, ok := c.timers[key]; ok {
		delete(c.timers, key)
		t.Stop()
	}
	sub, ok := c.store.Get(key)
	if !ok || sub.SnoozedUntil.IsZero() || !sub.SnoozedUntil.Equal(until) {
		return out
	}
	out.Subscription = sub
	out.Changed = c.store.SetSnoozedUntil(ctx, key, time.Time{})
	c.log.Info("Snooze expired", "owner", key.Owner, "scope", key.Scope, "server", key.Server, "kind", key.Kind)
	return out
}

func (c *Controller) arm(ctx context.Context, key Key, until time.Time) {
	c.disarm(key)
	d := until.Sub(c.now())
	if d < 0 {
		d = 0
	}
	c.timers[key] = time.AfterFunc(d, func() {
		c.post(request{cmd: Command{Action: actionExpire}, key: key, until: until})
	})
}

func (c *Controller) disarm(key Key) {
	if t, ok := c.timers[key]; ok {
		t.Stop()
		delete(c.timers, key)
	}
}

func (c *Controller) rearm(ctx context.Context) {
	now := c.now()
	for _, sub := range c.store.Snoozed() {
		if !now.Before(sub.SnoozedUntil) {
			c.store.SetSnoozedUntil(ctx, sub.Key(), time.Time{})
			continue
		}
		c.arm(ctx, sub.Key(), sub.SnoozedUntil)
	}
}

func formatDuration(d time.Duration) string {
	switch {
	case d >= time.Hour && d%time.Hour == 0:
		h := int(d / time.Hour)
		if h == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", h)
	case d >= time.Minute && d%time.Minute == 0:
		m := int(d / time.Minute)
		if m == 1 {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", m)
	}
	return d.String()
}
