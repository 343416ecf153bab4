package query

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/rumblefrog/go-a2s"
)

// SourcePort is the default Source engine query port
const SourcePort = 27015

// SourceKinds are the games answered through the Source A2S protocol
var SourceKinds = []Kind{"csgo", "cs2", "css", "tf2", "gmod", "l4d2", "insurgency", "rust", "ark", "garrysmod"}

// A2S implements Querier for Source engine servers
type A2S struct {
	kinds []Kind
}

// NewA2S creates a Source query implementation for the given kinds. No kinds
// means SourceKinds.
func NewA2S(kinds ...Kind) *A2S {
	if len(kinds) == 0 {
		kinds = SourceKinds
	}
	return &A2S{kinds: kinds}
}

// Name returns the human-readable protocol name
func (a *A2S) Name() string {
	return "Source A2S"
}

// Kinds returns the game kinds this querier answers for
func (a *A2S) Kinds() []Kind {
	return a.kinds
}

// Description returns a brief description of the protocol
func (a *A2S) Description() string {
	return "Valve Source engine server query (A2S_INFO / A2S_PLAYER)"
}

// Query performs one A2S_INFO + A2S_PLAYER round trip
func (a *A2S) Query(ctx context.Context, kind Kind, host string, port int) (*Response, error) {
	if port == 0 {
		port = SourcePort
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	timeout := DefaultTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
		if timeout <= 0 {
			return nil, context.DeadlineExceeded
		}
	}

	client, err := a2s.NewClient(addr, a2s.TimeoutOption(timeout))
	if err != nil {
		return nil, fmt.Errorf("failed to create a2s client: %w", err)
	}
	defer client.Close()

	start := time.Now()
	info, err := client.QueryInfo()
	if err != nil {
		return nil, fmt.Errorf("a2s info: %w", err)
	}
	ping := int(time.Since(start).Milliseconds())

	resp := &Response{
		Name:       info.Name,
		Map:        info.Map,
		MaxPlayers: int(info.MaxPlayers),
		Online:     int(info.Players),
		Connect:    addr,
		Ping:       ping,
		Raw: map[string]string{
			"game":    info.Game,
			"folder":  info.Folder,
			"version": info.Version,
			"bots":    strconv.Itoa(int(info.Bots)),
		},
	}

	players, err := client.QueryPlayer()
	if err != nil {
		// Some servers hide their player list; the info reply is still valid.
		return resp, nil
	}
	for _, p := range players.Players {
		if p == nil {
			continue
		}
		resp.Players = append(resp.Players, Player{Name: p.Name})
	}
	return resp, nil
}
