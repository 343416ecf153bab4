package httpapi

import (
	"time"

	"github.com/MSWS/TSTats/internal/notify"
	"github.com/MSWS/TSTats/internal/server"
)

type serverView struct {
	Scope      string   `json:"scope"`
	Name       string   `json:"name"`
	Address    string   `json:"address"`
	Kind       string   `json:"kind"`
	Channel    string   `json:"channel"`
	Title      string   `json:"title,omitempty"`
	Status     string   `json:"status"`
	Map        string   `json:"map"`
	Online     int      `json:"online"`
	MaxPlayers int      `json:"maxPlayers"`
	Players    []string `json:"players"`
	Ping       int      `json:"ping"`
	Connect    string   `json:"connect,omitempty"`
	Admins     int      `json:"admins"`
	Color      string   `json:"color,omitempty"`
	Image      string   `json:"image,omitempty"`
}

func toServerView(r *server.Record) serverView {
	v := serverView{
		Scope:      r.Scope,
		Name:       r.Name,
		Address:    r.Address,
		Kind:       r.Kind,
		Channel:    r.Channel,
		Title:      r.SourceName,
		Status:     "offline",
		Map:        r.Map,
		Online:     r.OnlineCount(),
		MaxPlayers: r.MaxPlayers,
		Players:    append([]string{}, r.Players...),
		Ping:       r.Ping,
		Connect:    r.ConnectHint,
		Admins:     server.AdminCount(r.Players, nil),
		Color:      r.Color,
		Image:      r.Image,
	}
	if r.Online() {
		v.Status = "online"
	}
	return v
}

type subscriptionView struct {
	Scope        string      `json:"scope"`
	Server       string      `json:"server"`
	Kind         notify.Kind `json:"kind"`
	Filter       *string     `json:"filter"`
	State        string      `json:"state"`
	SnoozedUntil *time.Time  `json:"snoozedUntil,omitempty"`
	Description  string      `json:"description"`
}

func toSubscriptionView(s notify.Subscription, now time.Time) subscriptionView {
	v := subscriptionView{
		Scope:       s.Scope,
		Server:      s.Server,
		Kind:        s.Kind,
		State:       s.StateAt(now).String(),
		Description: "You will be notified " + s.Description(),
	}
	if s.Filter != "" {
		f := s.Filter
		v.Filter = &f
	}
	if v.State == notify.StateSnoozed.String() {
		until := s.SnoozedUntil
		v.SnoozedUntil = &until
	}
	return v
}
