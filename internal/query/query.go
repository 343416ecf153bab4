// Package query asks game servers for their current state.
package query

import (
	"context"
	"errors"
)

// Kind identifies a game or query protocol (e.g. "csgo")
type Kind string

var (
	// ErrExhausted is returned when every attempt failed. Callers treat it as
	// "server unreachable", the normal offline path.
	ErrExhausted = errors.New("query attempts exhausted")

	// ErrUnknownKind is returned for a kind no querier handles.
	ErrUnknownKind = errors.New("unknown query kind")
)

// Player is one entry of a server's player list
type Player struct {
	Name string
}

// Response is what a server reported about itself
type Response struct {
	Name       string
	Map        string
	MaxPlayers int
	// Online is the vendor-reported player count, which may exceed len(Players)
	Online  int
	Connect string
	Players []Player
	// Ping is the round-trip latency in milliseconds
	Ping int
	Raw  map[string]string
}

// PlayerNames returns the names of all players, in reported order.
func (r *Response) PlayerNames() []string {
	names := make([]string, 0, len(r.Players))
	for _, p := range r.Players {
		names = append(names, p.Name)
	}
	return names
}

// Querier defines the interface that every protocol implementation must satisfy
type Querier interface {
	// Name returns the human-readable protocol name
	Name() string

	// Kinds returns the game kinds this querier answers for
	Kinds() []Kind

	// Description returns a brief description of the protocol
	Description() string

	// Query performs a single attempt against host:port. Port 0 means the
	// protocol default.
	Query(ctx context.Context, kind Kind, host string, port int) (*Response, error)
}
