package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/MSWS/TSTats/internal/notify"
)

// FileStore keeps one JSON file per document: profiles/<owner>.json and
// configs/<scope>.json under its directory.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileStore creates the directory layout under dir.
func NewFileStore(dir string) (*FileStore, error) {
	for _, sub := range []string{"profiles", "configs"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	return &FileStore{dir: dir}, nil
}

// Close is a no-op.
func (f *FileStore) Close() error {
	return nil
}

func (f *FileStore) path(kind, id string) (string, error) {
	if err := validID(id); err != nil {
		return "", err
	}
	return filepath.Join(f.dir, kind, id+".json"), nil
}

func (f *FileStore) read(kind, id string, v any) error {
	p, err := f.path(kind, id)
	if err != nil {
		return err
	}
	f.mu.Lock()
	data, err := os.ReadFile(p)
	f.mu.Unlock()
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", p, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", p, err)
	}
	return nil
}

func (f *FileStore) write(kind, id string, v any) error {
	p, err := f.path(kind, id)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s %s: %w", kind, id, err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.WriteFile(p, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", p, err)
	}
	return nil
}

func (f *FileStore) list(kind string) ([]string, error) {
	f.mu.Lock()
	entries, err := os.ReadDir(filepath.Join(f.dir, kind))
	f.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", kind, err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(e.Name(), ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}

// LoadSubscriptions reads profiles/<owner>.json.
func (f *FileStore) LoadSubscriptions(ctx context.Context, owner string) ([]notify.Subscription, error) {
	var p ClientProfile
	if err := f.read("profiles", owner, &p); err != nil {
		return nil, err
	}
	p.ID = owner
	return p.subscriptions(), nil
}

// SaveSubscriptions overwrites profiles/<owner>.json.
func (f *FileStore) SaveSubscriptions(ctx context.Context, owner string, subs []notify.Subscription) error {
	return f.write("profiles", owner, toProfile(owner, subs))
}

// Owners lists the saved profiles.
func (f *FileStore) Owners(ctx context.Context) ([]string, error) {
	return f.list("profiles")
}

// LoadServerScope reads configs/<scope>.json.
func (f *FileStore) LoadServerScope(ctx context.Context, scope string) (*Scope, error) {
	var g GuildProfile
	if err := f.read("configs", scope, &g); err != nil {
		return nil, err
	}
	g.ID = scope
	return g.scope(), nil
}

// SaveServerScope overwrites configs/<scope>.json.
func (f *FileStore) SaveServerScope(ctx context.Context, scope string, s Scope) error {
	return f.write("configs", scope, toGuildProfile(scope, s))
}

// Scopes lists the saved server lists.
func (f *FileStore) Scopes(ctx context.Context) ([]string, error) {
	return f.list("configs")
}
