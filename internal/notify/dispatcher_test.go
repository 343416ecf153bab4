package notify

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/MSWS/TSTats/internal/server"
)

type fakeDeliverer struct {
	deliverFn func(ctx context.Context, n Notice) error
	sent      []Notice
}

func (f *fakeDeliverer) Deliver(ctx context.Context, n Notice) error {
	if f.deliverFn != nil {
		if err := f.deliverFn(ctx, n); err != nil {
			return err
		}
	}
	f.sent = append(f.sent, n)
	return nil
}

func (f *fakeDeliverer) contents() []string {
	out := make([]string, 0, len(f.sent))
	for _, n := range f.sent {
		out = append(out, n.Content)
	}
	return out
}

type fakeObserver struct {
	ok, failed int
}

func (f *fakeObserver) ObserveNotice(kind string, delivered bool) {
	if delivered {
		f.ok++
	} else {
		f.failed++
	}
}

var mainServer = server.Identity{Scope: "g1", Name: "Main"}

func TestDispatch_mapFilters(t *testing.T) {
	s := NewStore(nil, nil)
	ctx := context.Background()
	s.Add(ctx, sub("regex", KindMap, "^de_"))
	s.Add(ctx, sub("literal", KindMap, "dust2"))
	s.Add(ctx, sub("miss", KindMap, "nuke"))
	s.Add(ctx, sub("any", KindMap, ""))

	d := &fakeDeliverer{}
	n := NewDispatcher(s, d, DispatcherOptions{}).Dispatch(ctx, mainServer, []Event{MapChange{Map: "de_dust2"}})
	if n != 3 {
		t.Fatalf("expected 3 notices, got %d", n)
	}

	var owners []string
	for _, notice := range d.sent {
		owners = append(owners, notice.Subscription.Owner)
	}
	if !reflect.DeepEqual(owners, []string{"any", "literal", "regex"}) {
		t.Fatalf("unexpected recipients %v", owners)
	}
	if d.sent[0].Content != "**Main**'s map has changed to `de_dust2`." {
		t.Fatalf("unexpected content %q", d.sent[0].Content)
	}
}

func TestDispatch_statusAndAdminTemplates(t *testing.T) {
	s := NewStore(nil, nil)
	ctx := context.Background()
	s.Add(ctx, sub("u1", KindStatus, ""))
	s.Add(ctx, sub("u1", KindAdmin, ""))

	d := &fakeDeliverer{}
	NewDispatcher(s, d, DispatcherOptions{}).Dispatch(ctx, mainServer, []Event{StatusChange{Online: false}, NoAdmins{}})

	want := []string{"`Main` is now **Offline**.", "**Main** has no admins online."}
	if !reflect.DeepEqual(d.contents(), want) {
		t.Fatalf("contents = %v, want %v", d.contents(), want)
	}
}

func sessionsEvent() PlayerSession {
	return PlayerSession{Sessions: []Session{
		{Name: "alice", Joined: true},
		{Name: "bob", Joined: true},
		{Name: "carol", Joined: false},
	}}
}

func TestDispatch_playerFanoutEach(t *testing.T) {
	s := NewStore(nil, nil)
	ctx := context.Background()
	s.Add(ctx, sub("all", KindPlayer, ""))
	s.Add(ctx, sub("some", KindPlayer, "alice|carol"))

	d := &fakeDeliverer{}
	NewDispatcher(s, d, DispatcherOptions{Fanout: FanoutEach}).Dispatch(ctx, mainServer, []Event{sessionsEvent()})

	want := []string{
		"`alice` joined **Main**.",
		"`bob` joined **Main**.",
		"`carol` left **Main**.",
		"`alice` joined **Main**.",
		"`carol` left **Main**.",
	}
	if !reflect.DeepEqual(d.contents(), want) {
		t.Fatalf("contents = %v, want %v", d.contents(), want)
	}
}

func TestDispatch_playerFanoutLegacy(t *testing.T) {
	s := NewStore(nil, nil)
	ctx := context.Background()
	s.Add(ctx, sub("all", KindPlayer, ""))
	s.Add(ctx, sub("some", KindPlayer, "alice|carol"))
	s.Add(ctx, sub("late", KindPlayer, "carol"))

	d := &fakeDeliverer{}
	NewDispatcher(s, d, DispatcherOptions{Fanout: FanoutLegacy}).Dispatch(ctx, mainServer, []Event{sessionsEvent()})

	// "all" keeps only the last session; "some" stops at bob; "late" stops
	// at alice before anything matched.
	want := []string{
		"`carol` left **Main**.",
		"`alice` joined **Main**.",
	}
	if !reflect.DeepEqual(d.contents(), want) {
		t.Fatalf("contents = %v, want %v", d.contents(), want)
	}
}

func TestDispatch_deliveryFailureDoesNotBlockOthers(t *testing.T) {
	s := NewStore(nil, nil)
	ctx := context.Background()
	s.Add(ctx, sub("a-blocked", KindStatus, ""))
	s.Add(ctx, sub("b-ok", KindStatus, ""))

	d := &fakeDeliverer{deliverFn: func(ctx context.Context, n Notice) error {
		if n.Subscription.Owner == "a-blocked" {
			return errors.New("cannot send messages to this user")
		}
		return nil
	}}
	obs := &fakeObserver{}
	n := NewDispatcher(s, d, DispatcherOptions{Observer: obs}).Dispatch(ctx, mainServer, []Event{StatusChange{Online: true}})

	if n != 1 || len(d.sent) != 1 || d.sent[0].Subscription.Owner != "b-ok" {
		t.Fatalf("expected delivery to b-ok only, got n=%d sent=%+v", n, d.sent)
	}
	if obs.ok != 1 || obs.failed != 1 {
		t.Fatalf("observer = %+v", obs)
	}
	if len(s.List("a-blocked", Filter{})) != 1 {
		t.Fatal("delivery failure must not remove the subscription")
	}
}

func TestDispatch_snapshotToleratesMutationDuringFanout(t *testing.T) {
	s := NewStore(nil, nil)
	ctx := context.Background()
	s.Add(ctx, sub("u1", KindStatus, ""))
	s.Add(ctx, sub("u2", KindStatus, ""))

	d := &fakeDeliverer{}
	d.deliverFn = func(ctx context.Context, n Notice) error {
		// the first delivery removes the second subscriber and adds a third
		if n.Subscription.Owner == "u1" {
			s.Remove(ctx, sub("u2", KindStatus, "").Key())
			s.Add(ctx, sub("u3", KindStatus, ""))
		}
		return nil
	}
	NewDispatcher(s, d, DispatcherOptions{}).Dispatch(ctx, mainServer, []Event{StatusChange{Online: true}})

	if len(d.sent) != 2 || d.sent[1].Subscription.Owner != "u2" {
		t.Fatalf("expected the snapshot (u1, u2) to be notified, got %+v", d.sent)
	}
}

func TestDispatch_skipsSnoozedAndIssuesTokens(t *testing.T) {
	s := NewStore(nil, nil)
	ctx := context.Background()
	active := sub("u1", KindStatus, "")
	snoozed := sub("u2", KindStatus, "")
	snoozed.SnoozedUntil = time.Now().Add(time.Hour)
	s.Add(ctx, active)
	s.Add(ctx, snoozed)

	c := NewController(s, nil)
	d := &fakeDeliverer{}
	NewDispatcher(s, d, DispatcherOptions{Tokens: c}).Dispatch(ctx, mainServer, []Event{StatusChange{Online: true}})

	if len(d.sent) != 1 || d.sent[0].Subscription.Owner != "u1" {
		t.Fatalf("unexpected deliveries %+v", d.sent)
	}
	got, ok := c.Lookup(d.sent[0].Token)
	if !ok || got.Key() != active.Key() {
		t.Fatalf("token does not resolve to the subscription: %+v %v", got, ok)
	}
}
