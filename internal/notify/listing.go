package notify

import "sort"

// Group is the subscriptions of one owner for one server and kind.
type Group struct {
	Scope  string
	Server string
	Kind   Kind
	// Filters holds the filter of every subscription in the group; an empty
	// filter is listed as "any".
	Filters []string
	Snoozed int
}

// Heading is the listing title of the group, e.g. "Main: Map Change".
func (g Group) Heading() string {
	return g.Server + ": " + g.Kind.Summary()
}

// GroupSubscriptions collapses subs into one group per (scope, server, kind),
// ordered by scope, server and the display order of Kinds.
func GroupSubscriptions(subs []Subscription) []Group {
	type gk struct {
		scope, server string
		kind          Kind
	}
	idx := make(map[gk]int)
	var out []Group
	for _, s := range subs {
		k := gk{s.Scope, s.Server, s.Kind}
		i, ok := idx[k]
		if !ok {
			i = len(out)
			idx[k] = i
			out = append(out, Group{Scope: s.Scope, Server: s.Server, Kind: s.Kind})
		}
		filter := s.Filter
		if filter == "" {
			filter = "any"
		}
		out[i].Filters = append(out[i].Filters, filter)
		if !s.SnoozedUntil.IsZero() {
			out[i].Snoozed++
		}
	}
	sort.SliceStable(out, func(a, b int) bool {
		if out[a].Scope != out[b].Scope {
			return out[a].Scope < out[b].Scope
		}
		if out[a].Server != out[b].Server {
			return out[a].Server < out[b].Server
		}
		return kindOrder(out[a].Kind) < kindOrder(out[b].Kind)
	})
	return out
}

func kindOrder(k Kind) int {
	for i, kk := range Kinds {
		if kk == k {
			return i
		}
	}
	return len(Kinds)
}
