package board

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MSWS/TSTats/internal/server"
)

type sentCard struct {
	channel string
	id      string
	card    Card
}

type fakeChannels struct {
	mu      sync.Mutex
	editFn  func(channel, id string) error
	sent    []sentCard
	edited  []sentCard
	deleted []string
	purged  []string
	topics  map[string]string
	next    int
}

func (f *fakeChannels) Send(ctx context.Context, channel string, card Card) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	id := fmt.Sprintf("m%d", f.next)
	f.sent = append(f.sent, sentCard{channel: channel, id: id, card: card})
	return id, nil
}

func (f *fakeChannels) Edit(ctx context.Context, channel, id string, card Card) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.editFn != nil {
		if err := f.editFn(channel, id); err != nil {
			return err
		}
	}
	f.edited = append(f.edited, sentCard{channel: channel, id: id, card: card})
	return nil
}

func (f *fakeChannels) Delete(ctx context.Context, channel, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, channel+"/"+id)
	return nil
}

func (f *fakeChannels) Purge(ctx context.Context, channel string, limit int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.purged = append(f.purged, fmt.Sprintf("%s:%d", channel, limit))
	return nil
}

func (f *fakeChannels) SetTopic(ctx context.Context, channel, topic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.topics == nil {
		f.topics = make(map[string]string)
	}
	f.topics[channel] = topic
	return nil
}

func observed(name string, players ...string) *server.Record {
	rec := server.New("g1", name, "127.0.0.1:27015", "", "status")
	rec.Map = "de_dust2"
	rec.MaxPlayers = 10
	rec.Ping = 20
	rec.SetPlayers(players)
	return rec
}

func TestBoard_updateTracksDeltaAndSuppressesFirstFooter(t *testing.T) {
	ch := &fakeChannels{}
	b := New("g1", ch, Options{}, server.New("g1", "Main", "127.0.0.1:27015", "", "status"))
	ctx := context.Background()

	d, err := b.Update(observed("Main", "alice", "bob"))
	if err != nil {
		t.Fatal(err)
	}
	if len(d.Joined) != 2 {
		t.Fatalf("first update delta = %+v", d)
	}
	b.Tick(ctx)
	if footer := ch.sent[0].card.Footer; footer != "127.0.0.1:27015" {
		t.Fatalf("first render footer = %q", footer)
	}

	d, _ = b.Update(observed("Main", "bob", "carol"))
	if len(d.Joined) != 1 || d.Joined[0] != "carol" || len(d.Left) != 1 || d.Left[0] != "alice" {
		t.Fatalf("second update delta = %+v", d)
	}
	b.Tick(ctx)
	if len(ch.edited) != 1 {
		t.Fatalf("expected the second tick to edit, sent=%d edited=%d", len(ch.sent), len(ch.edited))
	}
	want := "[+] carol\n[-] alice\n127.0.0.1:27015"
	if footer := ch.edited[0].card.Footer; footer != want {
		t.Fatalf("footer = %q, want %q", footer, want)
	}
}

func TestBoard_updateUnknownServer(t *testing.T) {
	b := New("g1", &fakeChannels{}, Options{})
	if _, err := b.Update(observed("Ghost")); !errors.Is(err, ErrNotTracked) {
		t.Fatalf("expected ErrNotTracked, got %v", err)
	}
}

func TestBoard_sourceNameIsSticky(t *testing.T) {
	b := New("g1", &fakeChannels{}, Options{}, observed("Main"))

	first := observed("Main")
	first.SourceName = "Vendor A"
	b.Update(first)
	second := observed("Main")
	second.SourceName = "Vendor B"
	b.Update(second)

	prev, _ := b.Previous("Main")
	if prev.SourceName != "Vendor A" {
		t.Fatalf("source name = %q", prev.SourceName)
	}
}

func TestBoard_tickResendsWhenEditFails(t *testing.T) {
	ch := &fakeChannels{}
	b := New("g1", ch, Options{}, observed("Main"), observed("Other"))
	ctx := context.Background()

	b.Tick(ctx)
	if len(ch.sent) != 2 {
		t.Fatalf("expected two sends, got %d", len(ch.sent))
	}

	ch.editFn = func(channel, id string) error {
		if id == "m1" {
			return errors.New("unknown message")
		}
		return nil
	}
	b.Tick(ctx)
	if len(ch.sent) != 3 || ch.sent[2].card.Title != "Main" {
		t.Fatalf("expected Main to be re-sent, sent=%+v", ch.sent)
	}
	if len(ch.edited) != 1 || ch.edited[0].id != "m2" {
		t.Fatalf("expected Other to be edited, edited=%+v", ch.edited)
	}

	if got := ch.topics["status"]; got != "0/20 (0%) players across 2 servers" {
		t.Fatalf("topic = %q", got)
	}
}

func TestBoard_removeDeletesMessage(t *testing.T) {
	ch := &fakeChannels{}
	b := New("g1", ch, Options{}, observed("Main"))
	ctx := context.Background()
	b.Tick(ctx)

	if !b.Remove(ctx, "Main") {
		t.Fatal("remove should find the server")
	}
	if len(ch.deleted) != 1 || ch.deleted[0] != "status/m1" {
		t.Fatalf("deleted = %v", ch.deleted)
	}
	if b.Remove(ctx, "Main") {
		t.Fatal("second remove should report false")
	}
	if len(b.Records()) != 0 {
		t.Fatal("record still tracked")
	}
}

func TestBoard_editMovesChannel(t *testing.T) {
	ch := &fakeChannels{}
	b := New("g1", ch, Options{}, observed("Main"))
	ctx := context.Background()
	b.Tick(ctx)

	edit := observed("Main")
	edit.Channel = "elsewhere"
	if err := b.Edit(ctx, edit); err != nil {
		t.Fatal(err)
	}
	b.Tick(ctx)

	if len(ch.deleted) != 1 || ch.deleted[0] != "status/m1" {
		t.Fatalf("old message not deleted: %v", ch.deleted)
	}
	if last := ch.sent[len(ch.sent)-1]; last.channel != "elsewhere" {
		t.Fatalf("new message sent to %q", last.channel)
	}
}

func TestBoard_addRendersOutOfBand(t *testing.T) {
	ch := &fakeChannels{}
	b := New("g1", ch, Options{AddDelay: 5 * time.Millisecond})
	b.Add(context.Background(), observed("Main"))
	if b.Add(context.Background(), observed("Main")) {
		t.Fatal("duplicate add should report false")
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		ch.mu.Lock()
		n := len(ch.sent)
		ch.mu.Unlock()
		if n == 1 {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("added server was never rendered")
}

func TestBoard_startPurgesOnce(t *testing.T) {
	ch := &fakeChannels{}
	b := New("g1", ch, Options{}, observed("Main"), observed("Other"))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b.Start(ctx, time.Hour, time.Hour)
	b.Start(ctx, time.Hour, time.Hour)
	b.Stop()
	b.Wait()

	if len(ch.purged) != 1 || ch.purged[0] != "status:50" {
		t.Fatalf("purged = %v", ch.purged)
	}
}

func TestRegistry_routesUpdatesByScope(t *testing.T) {
	r := NewRegistry(&fakeChannels{}, Options{})
	r.Ensure("g1", observed("Main", "alice"))
	other := observed("Main", "zed")
	other.Scope = "g2"
	r.Ensure("g2", other)

	next := observed("Main", "alice", "bob")
	d, err := r.Update(next)
	if err != nil || len(d.Joined) != 1 || d.Joined[0] != "bob" {
		t.Fatalf("delta=%+v err=%v", d, err)
	}
	if prev, ok := r.Previous(other.ID()); !ok || prev.Players[0] != "zed" {
		t.Fatalf("g2 record disturbed: %+v", prev)
	}

	lost := observed("Main")
	lost.Scope = "g3"
	if _, err := r.Update(lost); !errors.Is(err, ErrNotTracked) {
		t.Fatalf("expected ErrNotTracked, got %v", err)
	}

	players, servers := r.Totals()
	if players != 3 || servers != 2 {
		t.Fatalf("totals = %d players, %d servers", players, servers)
	}
	if got := strings.Join(r.Scopes(), ","); got != "g1,g2" {
		t.Fatalf("scopes = %s", got)
	}
}
