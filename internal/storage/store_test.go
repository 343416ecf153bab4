package storage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/MSWS/TSTats/internal/notify"
	"github.com/MSWS/TSTats/internal/server"
)

func backends(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()

	files, err := NewFileStore(filepath.Join(dir, "data"))
	if err != nil {
		t.Fatalf("file store: %v", err)
	}
	repo, err := NewRepository(filepath.Join(dir, "db", "bot.db"))
	if err != nil {
		t.Fatalf("repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	return map[string]Store{"files": files, "sqlite": repo}
}

func TestStore_subscriptionsRoundTrip(t *testing.T) {
	until := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	subs := []notify.Subscription{
		{Owner: "42", Scope: "g1", Server: "Main", Kind: notify.KindMap, Filter: "^de_"},
		{Owner: "42", Scope: "g1", Server: "Main", Kind: notify.KindStatus},
		{Owner: "42", Scope: "g1", Server: "Other", Kind: notify.KindPlayer, Filter: "alice", SnoozedUntil: until},
	}

	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			if _, err := s.LoadSubscriptions(ctx, "42"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound before the first save, got %v", err)
			}
			if err := s.SaveSubscriptions(ctx, "42", subs); err != nil {
				t.Fatal(err)
			}
			got, err := s.LoadSubscriptions(ctx, "42")
			if err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(got, subs) {
				t.Fatalf("got %+v\nwant %+v", got, subs)
			}

			// saves overwrite rather than append
			if err := s.SaveSubscriptions(ctx, "42", subs[:1]); err != nil {
				t.Fatal(err)
			}
			got, _ = s.LoadSubscriptions(ctx, "42")
			if len(got) != 1 {
				t.Fatalf("expected overwrite, got %d subscriptions", len(got))
			}

			s.SaveSubscriptions(ctx, "7", nil)
			owners, err := s.Owners(ctx)
			if err != nil || !reflect.DeepEqual(owners, []string{"42", "7"}) {
				t.Fatalf("owners = %v, err = %v", owners, err)
			}
		})
	}
}

func TestStore_serverScopeRoundTrip(t *testing.T) {
	main := server.New("g1", "Main", "1.2.3.4:27015", "csgo", "100")
	main.Color = "#ff0000"
	main.Image = "https://example.com/a.png"
	tf := server.New("g1", "Fortress", "5.6.7.8", "tf2", "101")

	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			if err := s.SaveServerScope(ctx, "g1", Scope{Servers: []*server.Record{main, tf}, Elevated: []string{"role1"}}); err != nil {
				t.Fatal(err)
			}
			got, err := s.LoadServerScope(ctx, "g1")
			if err != nil {
				t.Fatal(err)
			}
			if len(got.Servers) != 2 || !reflect.DeepEqual(got.Elevated, []string{"role1"}) {
				t.Fatalf("unexpected scope %+v", got)
			}
			r := got.Servers[0]
			if r.Scope != "g1" || r.Name != "Main" || r.Address != "1.2.3.4:27015" || r.Channel != "100" || r.Color != "#ff0000" || r.Image != main.Image {
				t.Fatalf("unexpected record %+v", r)
			}
			if r.Ping != server.OfflinePing || r.Players != nil {
				t.Fatal("observed state must not be persisted")
			}

			scopes, err := s.Scopes(ctx)
			if err != nil || !reflect.DeepEqual(scopes, []string{"g1"}) {
				t.Fatalf("scopes = %v, err = %v", scopes, err)
			}
		})
	}
}

func TestStore_rejectsPathIDs(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if err := s.SaveSubscriptions(context.Background(), "../escape", nil); err == nil {
				t.Fatal("expected an error for a path-like id")
			}
		})
	}
}

func TestFileStore_documentShape(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	s.SaveSubscriptions(ctx, "42", []notify.Subscription{{Scope: "g1", Server: "Main", Kind: notify.KindStatus}})

	data, err := os.ReadFile(filepath.Join(dir, "profiles", "42.json"))
	if err != nil {
		t.Fatal(err)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatal(err)
	}
	if doc["id"] != "42" {
		t.Fatalf("id = %v", doc["id"])
	}
	opts := doc["options"].([]any)
	opt := opts[0].(map[string]any)
	if opt["guild"] != "g1" || opt["server"] != "Main" || opt["type"] != "STATUS" || opt["value"] != nil {
		t.Fatalf("option = %v", opt)
	}
}
