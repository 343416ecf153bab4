// Package notify matches per-cycle server events against user subscriptions
// and drives the subscription lifecycle (active, snoozed, removed).
package notify

import (
	"fmt"
	"strings"
)

// Kind is the category of a subscription and of the events it receives.
type Kind string

const (
	KindMap    Kind = "MAP"
	KindPlayer Kind = "PLAYER"
	KindStatus Kind = "STATUS"
	KindAdmin  Kind = "ADMIN"
)

// Kinds lists every subscribable kind in display order.
var Kinds = []Kind{KindMap, KindPlayer, KindStatus, KindAdmin}

// ParseKind accepts the stored tag or a lower-case alias.
func ParseKind(s string) (Kind, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "MAP":
		return KindMap, nil
	case "PLAYER":
		return KindPlayer, nil
	case "STATUS":
		return KindStatus, nil
	case "ADMIN":
		return KindAdmin, nil
	}
	return "", fmt.Errorf("unknown notification kind %q", s)
}

// Summary is the heading used when listing subscriptions of this kind.
func (k Kind) Summary() string {
	switch k {
	case KindMap:
		return "Map Change"
	case KindPlayer:
		return "Player Session"
	case KindStatus:
		return "Online/Offline Status"
	case KindAdmin:
		return "No Admins"
	}
	return string(k)
}

// Event is one change observed on a server during a single poll cycle. The
// concrete types are MapChange, PlayerSession, StatusChange and NoAdmins.
type Event interface {
	Kind() Kind
	isEvent()
}

// MapChange reports the new map.
type MapChange struct {
	Map string
}

// Session is a single join or leave.
type Session struct {
	Name   string
	Joined bool
}

// PlayerSession carries every join and leave of one cycle.
type PlayerSession struct {
	Sessions []Session
}

// StatusChange reports the server coming online or going offline.
type StatusChange struct {
	Online bool
}

// NoAdmins reports that the last admin left while players remain.
type NoAdmins struct{}

func (MapChange) Kind() Kind     { return KindMap }
func (PlayerSession) Kind() Kind { return KindPlayer }
func (StatusChange) Kind() Kind  { return KindStatus }
func (NoAdmins) Kind() Kind      { return KindAdmin }

func (MapChange) isEvent()     {}
func (PlayerSession) isEvent() {}
func (StatusChange) isEvent()  {}
func (NoAdmins) isEvent()      {}
