package notify

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Persister saves an owner's complete subscription set.
type Persister interface {
	SaveSubscriptions(ctx context.Context, owner string, subs []Subscription) error
}

// Filter narrows a listing. Empty fields match everything.
type Filter struct {
	Scope  string
	Server string
	Kind   Kind
}

func (f Filter) match(s Subscription) bool {
	return (f.Scope == "" || f.Scope == s.Scope) &&
		(f.Server == "" || f.Server == s.Server) &&
		(f.Kind == "" || f.Kind == s.Kind)
}

// Store holds every owner's subscriptions. It is safe for concurrent use.
// Each mutation writes the affected owner's whole set through the
// Persister; a failed write is logged and the in-memory state stays
// authoritative.
type Store struct {
	mu     sync.RWMutex
	owners map[string][]Subscription
	saves  map[string]*ownerSaves

	persist Persister
	log     *slog.Logger
	now     func() time.Time
}

// ownerSaves orders the writes of one owner's set so that an older snapshot
// never lands after a newer one.
type ownerSaves struct {
	mu sync.Mutex
	// version is bumped under Store.mu on every change to the owner's set
	version uint64
	// saved is the last version written, guarded by mu
	saved uint64
}

// NewStore creates an empty store. persist may be nil.
func NewStore(persist Persister, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		owners:  make(map[string][]Subscription),
		saves:   make(map[string]*ownerSaves),
		persist: persist,
		log:     log,
		now:     time.Now,
	}
}

// Load seeds an owner's subscriptions from persisted state without writing
// back. Duplicate keys are dropped.
func (s *Store) Load(owner string, subs []Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[Key]struct{}, len(subs))
	list := make([]Subscription, 0, len(subs))
	for _, sub := range subs {
		sub.Owner = owner
		if _, ok := seen[sub.Key()]; ok {
			continue
		}
		seen[sub.Key()] = struct{}{}
		list = append(list, sub)
	}
	s.owners[owner] = list
}

// Add inserts sub. Adding a snoozed subscription again ends its snooze.
// It returns false, changing nothing, when the owner already holds an
// active subscription with the same key.
func (s *Store) Add(ctx context.Context, sub Subscription) bool {
	s.mu.Lock()
	list := s.owners[sub.Owner]
	for i := range list {
		if list[i].Key() != sub.Key() {
			continue
		}
		if list[i].SnoozedUntil.IsZero() {
			s.mu.Unlock()
			return false
		}
		list[i].SnoozedUntil = time.Time{}
		s.touch(sub.Owner)
		s.mu.Unlock()

		s.save(ctx, sub.Owner)
		return true
	}
	s.owners[sub.Owner] = append(list, sub)
	s.touch(sub.Owner)
	s.mu.Unlock()

	s.save(ctx, sub.Owner)
	return true
}

// Remove deletes the subscription with the given key.
func (s *Store) Remove(ctx context.Context, key Key) bool {
	s.mu.Lock()
	list := s.owners[key.Owner]
	idx := -1
	for i, existing := range list {
		if existing.Key() == key {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return false
	}
	s.owners[key.Owner] = append(list[:idx:idx], list[idx+1:]...)
	s.touch(key.Owner)
	s.mu.Unlock()

	s.save(ctx, key.Owner)
	return true
}

// Get returns the subscription with the given key.
func (s *Store) Get(key Key) (Subscription, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, existing := range s.owners[key.Owner] {
		if existing.Key() == key {
			return existing, true
		}
	}
	return Subscription{}, false
}

// SetSnoozedUntil updates the snooze deadline of a subscription; the zero
// time makes it active again.
func (s *Store) SetSnoozedUntil(ctx context.Context, key Key, until time.Time) bool {
	s.mu.Lock()
	list := s.owners[key.Owner]
	found := false
	for i := range list {
		if list[i].Key() == key {
			list[i].SnoozedUntil = until
			found = true
			break
		}
	}
	if !found {
		s.mu.Unlock()
		return false
	}
	s.touch(key.Owner)
	s.mu.Unlock()

	s.save(ctx, key.Owner)
	return true
}

// Clear removes an owner's subscriptions matching f and returns how many
// were removed.
func (s *Store) Clear(ctx context.Context, owner string, f Filter) int {
	s.mu.Lock()
	list := s.owners[owner]
	kept := make([]Subscription, 0, len(list))
	for _, sub := range list {
		if !f.match(sub) {
			kept = append(kept, sub)
		}
	}
	removed := len(list) - len(kept)
	if removed == 0 {
		s.mu.Unlock()
		return 0
	}
	s.owners[owner] = kept
	s.touch(owner)
	s.mu.Unlock()

	s.save(ctx, owner)
	return removed
}

// PurgeServer removes every owner's subscriptions to a server. It is the
// cascade run when a server is deregistered.
func (s *Store) PurgeServer(ctx context.Context, scope, server string) int {
	f := Filter{Scope: scope, Server: server}

	s.mu.Lock()
	var changed []string
	total := 0
	for owner, list := range s.owners {
		kept := make([]Subscription, 0, len(list))
		for _, sub := range list {
			if !f.match(sub) {
				kept = append(kept, sub)
			}
		}
		if len(kept) == len(list) {
			continue
		}
		total += len(list) - len(kept)
		s.owners[owner] = kept
		s.touch(owner)
		changed = append(changed, owner)
	}
	s.mu.Unlock()

	for _, owner := range changed {
		s.save(ctx, owner)
	}
	return total
}

// List returns an owner's subscriptions matching f.
func (s *Store) List(owner string, f Filter) []Subscription {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Subscription
	for _, sub := range s.owners[owner] {
		if f.match(sub) {
			out = append(out, sub)
		}
	}
	return out
}

// Owners returns every owner with at least one subscription, sorted.
func (s *Store) Owners() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	owners := make([]string, 0, len(s.owners))
	for owner, list := range s.owners {
		if len(list) > 0 {
			owners = append(owners, owner)
		}
	}
	sort.Strings(owners)
	return owners
}

// Matching returns a snapshot of the subscriptions, across all owners, that
// target the server and kind and are active at now. Owners are enumerated in
// sorted order so that fan-out order is stable.
func (s *Store) Matching(scope, server string, kind Kind, now time.Time) []Subscription {
	owners := s.Owners()

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Subscription
	for _, owner := range owners {
		for _, sub := range s.owners[owner] {
			if sub.Scope != scope || sub.Server != server || sub.Kind != kind {
				continue
			}
			if sub.StateAt(now) != StateActive {
				continue
			}
			out = append(out, sub)
		}
	}
	return out
}

// Snoozed returns every subscription with a snooze deadline set.
func (s *Store) Snoozed() []Subscription {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Subscription
	for _, list := range s.owners {
		for _, sub := range list {
			if !sub.SnoozedUntil.IsZero() {
				out = append(out, sub)
			}
		}
	}
	return out
}

// touch records a change to owner's set. Callers hold s.mu.
func (s *Store) touch(owner string) {
	st, ok := s.saves[owner]
	if !ok {
		st = &ownerSaves{}
		s.saves[owner] = st
	}
	st.version++
}

// save writes owner's current set. The snapshot is taken while holding the
// owner's save lock, so concurrent saves are written in change order and a
// save that finds its change already written is skipped.
func (s *Store) save(ctx context.Context, owner string) {
	if s.persist == nil {
		return
	}

	s.mu.RLock()
	st := s.saves[owner]
	s.mu.RUnlock()
	if st == nil {
		return
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	s.mu.RLock()
	version := st.version
	snapshot := append([]Subscription(nil), s.owners[owner]...)
	s.mu.RUnlock()
	if version <= st.saved {
		return
	}

	if err := s.persist.SaveSubscriptions(ctx, owner, snapshot); err != nil {
		s.log.Error("Failed to save subscriptions", "owner", owner, "error", err)
		return
	}
	st.saved = version
}
