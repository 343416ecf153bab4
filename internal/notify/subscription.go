package notify

import (
	"fmt"
	"time"
)

// Subscription is one user's notification rule for one server.
type Subscription struct {
	Owner  string
	Scope  string
	Server string
	Kind   Kind
	// Filter is a regular expression or literal substring applied to the map
	// name (KindMap) or player name (KindPlayer). Empty matches everything.
	Filter string
	// SnoozedUntil is zero while the subscription is active.
	SnoozedUntil time.Time
}

// Key is the identity of a subscription; an owner never holds two
// subscriptions with the same key.
type Key struct {
	Owner  string
	Scope  string
	Server string
	Kind   Kind
	Filter string
}

// Key returns the identity tuple.
func (s Subscription) Key() Key {
	return Key{Owner: s.Owner, Scope: s.Scope, Server: s.Server, Kind: s.Kind, Filter: s.Filter}
}

// State of a subscription at some instant.
type State int

const (
	StateActive State = iota
	StateSnoozed
)

func (s State) String() string {
	if s == StateSnoozed {
		return "snoozed"
	}
	return "active"
}

// StateAt reports whether the subscription is active or snoozed at now.
func (s Subscription) StateAt(now time.Time) State {
	if !s.SnoozedUntil.IsZero() && now.Before(s.SnoozedUntil) {
		return StateSnoozed
	}
	return StateActive
}

// Description completes the sentence "You will now be notified ...".
func (s Subscription) Description() string {
	switch s.Kind {
	case KindMap:
		if s.Filter != "" {
			return fmt.Sprintf("when the map changes to %s on %s.", s.Filter, s.Server)
		}
		return fmt.Sprintf("when the map changes on %s.", s.Server)
	case KindPlayer:
		who := "any player"
		if s.Filter != "" {
			who = s.Filter
		}
		return fmt.Sprintf("when %s joins or leaves %s.", who, s.Server)
	case KindStatus:
		return fmt.Sprintf("when %s goes online or offline.", s.Server)
	case KindAdmin:
		return fmt.Sprintf("when %s has no admins online.", s.Server)
	}
	return fmt.Sprintf("about %s on %s.", s.Kind, s.Server)
}

// Color is the embed colour used when listing subscriptions of this kind.
func (s Subscription) Color() int {
	switch s.Kind {
	case KindMap:
		return 0x3498DB
	case KindPlayer:
		return 0x2ECC71
	case KindStatus:
		return 0xF1C40F
	case KindAdmin:
		return 0xE74C3C
	}
	return 0x95A5A6
}

// SnoozeMenu lists the selectable snooze durations.
var SnoozeMenu = []time.Duration{
	5 * time.Minute,
	10 * time.Minute,
	30 * time.Minute,
	time.Hour,
	3 * time.Hour,
	12 * time.Hour,
	24 * time.Hour,
}

// ValidSnooze reports whether d is one of the menu entries.
func ValidSnooze(d time.Duration) bool {
	for _, m := range SnoozeMenu {
		if m == d {
			return true
		}
	}
	return false
}
