package query

import (
	"fmt"
	"sort"
	"sync"
)

// Registry manages all registered queriers, keyed by the kinds they serve
type Registry struct {
	mu       sync.RWMutex
	queriers map[Kind]Querier
}

// NewRegistry creates a new querier registry
func NewRegistry() *Registry {
	return &Registry{
		queriers: make(map[Kind]Querier),
	}
}

// Register adds a querier for every kind it reports
func (r *Registry) Register(q Querier) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, k := range q.Kinds() {
		r.queriers[k] = q
	}
}

// Get retrieves the querier for a kind
func (r *Registry) Get(kind Kind) (Querier, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	q, ok := r.queriers[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	return q, nil
}

// Kinds returns every registered kind, sorted
func (r *Registry) Kinds() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]Kind, 0, len(r.queriers))
	for k := range r.queriers {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// List returns information about all registered kinds
func (r *Registry) List() []KindInfo {
	kinds := r.Kinds()

	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]KindInfo, 0, len(kinds))
	for _, k := range kinds {
		q := r.queriers[k]
		infos = append(infos, KindInfo{
			Kind:        k,
			Protocol:    q.Name(),
			Description: q.Description(),
		})
	}
	return infos
}

// KindInfo contains display information about a query kind
type KindInfo struct {
	Kind        Kind
	Protocol    string
	Description string
}
