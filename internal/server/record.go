// Package server models the observed state of one polled game server.
package server

import (
	"net"
	"strconv"
	"strings"
)

// OfflinePing marks a server that did not answer its last query.
const OfflinePing = -1

// OfflineMap is shown as the map of a server that is offline.
const OfflineMap = "Offline"

// DefaultKind is the query kind used when none is configured.
const DefaultKind = "csgo"

// DefaultMaxPlayers is assumed until the first successful query.
const DefaultMaxPlayers = 64

// Identity names a record. Name is unique within its Scope.
type Identity struct {
	Scope string
	Name  string
}

func (id Identity) String() string {
	return id.Scope + "/" + id.Name
}

// Record is a mutable snapshot of one game server.
type Record struct {
	// Identity, fixed after creation
	Scope string
	Name  string

	// Connection and routing
	Address string
	Kind    string
	Channel string

	// Observed state
	DisplayName    string
	SourceName     string
	Map            string
	MaxPlayers     int
	Players        []string
	ReportedOnline int
	Ping           int
	ConnectHint    string
	Raw            map[string]string

	// Presentation
	Color string
	Image string
}

// New returns a record that has never been polled.
func New(scope, name, address, kind, channel string) *Record {
	if kind == "" {
		kind = DefaultKind
	}
	return &Record{
		Scope:      scope,
		Name:       name,
		Address:    address,
		Kind:       kind,
		Channel:    channel,
		MaxPlayers: DefaultMaxPlayers,
		Ping:       OfflinePing,
	}
}

// ID returns the record identity.
func (r *Record) ID() Identity {
	return Identity{Scope: r.Scope, Name: r.Name}
}

// Online reports whether the last query succeeded.
func (r *Record) Online() bool {
	return r.Ping != OfflinePing
}

// OnlineCount returns the number of players online. Some games report a
// count larger than the roster they expose, in which case the count wins.
func (r *Record) OnlineCount() int {
	if r.ReportedOnline > len(r.Players) {
		return r.ReportedOnline
	}
	return len(r.Players)
}

// SetPlayers replaces the roster, dropping empty and duplicate names while
// keeping the reported order.
func (r *Record) SetPlayers(names []string) {
	r.Players = Roster(names)
}

// MarkOffline applies the offline transition.
func (r *Record) MarkOffline() {
	r.Players = nil
	r.ReportedOnline = 0
	r.Map = OfflineMap
	r.Ping = OfflinePing
	r.DisplayName = r.Name + " (Offline)"
}

// Clone returns a deep copy.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	if r.Players != nil {
		c.Players = append([]string(nil), r.Players...)
	}
	if r.Raw != nil {
		c.Raw = make(map[string]string, len(r.Raw))
		for k, v := range r.Raw {
			c.Raw[k] = v
		}
	}
	return &c
}

// HostPort splits Address into host and port. Port is 0 when the address
// carries none, leaving the choice to the query implementation.
func (r *Record) HostPort() (string, int) {
	host, portStr, err := net.SplitHostPort(r.Address)
	if err != nil {
		return strings.TrimSpace(r.Address), 0
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return host, 0
	}
	return host, port
}

// Roster normalises a list of player names into an ordered set.
func Roster(names []string) []string {
	if len(names) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}
