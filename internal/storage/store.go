// Package storage persists user subscriptions and per-scope server lists.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MSWS/TSTats/internal/notify"
)

// ErrNotFound is returned when no document exists for an id.
var ErrNotFound = errors.New("not found")

// Store persists whole documents; every save overwrites the previous one.
type Store interface {
	LoadSubscriptions(ctx context.Context, owner string) ([]notify.Subscription, error)
	SaveSubscriptions(ctx context.Context, owner string, subs []notify.Subscription) error
	// Owners lists every owner with a saved profile.
	Owners(ctx context.Context) ([]string, error)

	LoadServerScope(ctx context.Context, scope string) (*Scope, error)
	SaveServerScope(ctx context.Context, scope string, s Scope) error
	// Scopes lists every scope with a saved server list.
	Scopes(ctx context.Context) ([]string, error)

	Close() error
}

// Open returns the backend named by kind: "sqlite" (path is the database
// file) or "files" (path is the data directory).
func Open(kind, path string) (Store, error) {
	switch kind {
	case "", "sqlite":
		return NewRepository(path)
	case "files":
		return NewFileStore(path)
	}
	return nil, fmt.Errorf("unknown storage backend %q", kind)
}

func validID(id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("invalid id %q", id)
	}
	return nil
}
