package storage

import (
	"time"

	"github.com/MSWS/TSTats/internal/notify"
	"github.com/MSWS/TSTats/internal/server"
)

// ClientProfile is the persisted document of one user's notification
// settings.
type ClientProfile struct {
	ID      string   `json:"id"`
	Options []Option `json:"options"`
}

// Option is one persisted subscription
type Option struct {
	Guild  string  `json:"guild"`
	Server string  `json:"server"`
	Type   string  `json:"type"`
	Value  *string `json:"value"`
	// zero when active
	SnoozedUntil *time.Time `json:"snoozedUntil,omitempty"`
}

// GuildProfile is the persisted document of one scope: its servers and the
// roles allowed to manage them.
type GuildProfile struct {
	ID       string         `json:"id"`
	Servers  []ServerConfig `json:"servers"`
	Elevated []string       `json:"elevated,omitempty"`
}

// ServerConfig is the operator-provided part of a server record
type ServerConfig struct {
	Guild   string `json:"guild"`
	Name    string `json:"name"`
	IP      string `json:"ip"`
	Channel string `json:"channel"`
	Type    string `json:"type"`
	Color   string `json:"color,omitempty"`
	Image   string `json:"image,omitempty"`
	Connect string `json:"connect,omitempty"`
}

// Scope is a scope's servers and elevated roles.
type Scope struct {
	Servers  []*server.Record
	Elevated []string
}

func toProfile(owner string, subs []notify.Subscription) ClientProfile {
	p := ClientProfile{ID: owner, Options: make([]Option, 0, len(subs))}
	for _, s := range subs {
		o := Option{Guild: s.Scope, Server: s.Server, Type: string(s.Kind)}
		if s.Filter != "" {
			v := s.Filter
			o.Value = &v
		}
		if !s.SnoozedUntil.IsZero() {
			t := s.SnoozedUntil.UTC()
			o.SnoozedUntil = &t
		}
		p.Options = append(p.Options, o)
	}
	return p
}

func (p ClientProfile) subscriptions() []notify.Subscription {
	out := make([]notify.Subscription, 0, len(p.Options))
	for _, o := range p.Options {
		kind, err := notify.ParseKind(o.Type)
		if err != nil {
			continue
		}
		s := notify.Subscription{Owner: p.ID, Scope: o.Guild, Server: o.Server, Kind: kind}
		if o.Value != nil {
			s.Filter = *o.Value
		}
		if o.SnoozedUntil != nil {
			s.SnoozedUntil = *o.SnoozedUntil
		}
		out = append(out, s)
	}
	return out
}

func toGuildProfile(id string, scope Scope) GuildProfile {
	g := GuildProfile{ID: id, Servers: make([]ServerConfig, 0, len(scope.Servers)), Elevated: scope.Elevated}
	for _, r := range scope.Servers {
		g.Servers = append(g.Servers, ServerConfig{
			Guild:   id,
			Name:    r.Name,
			IP:      r.Address,
			Channel: r.Channel,
			Type:    r.Kind,
			Color:   r.Color,
			Image:   r.Image,
			Connect: r.ConnectHint,
		})
	}
	return g
}

func (g GuildProfile) scope() *Scope {
	s := &Scope{Elevated: g.Elevated}
	for _, c := range g.Servers {
		r := server.New(g.ID, c.Name, c.IP, c.Type, c.Channel)
		r.Color = c.Color
		r.Image = c.Image
		r.ConnectHint = c.Connect
		s.Servers = append(s.Servers, r)
	}
	return s
}
