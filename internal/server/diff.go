package server

import "strings"

// Delta is the roster change between two consecutive observations.
type Delta struct {
	Joined []string
	Left   []string
}

// Empty reports whether nobody joined or left.
func (d Delta) Empty() bool {
	return len(d.Joined) == 0 && len(d.Left) == 0
}

// Diff computes who joined (in next but not prev) and who left (in prev but
// not next). Output follows the order of the input rosters and holds no
// duplicates.
func Diff(prev, next []string) Delta {
	before := make(map[string]struct{}, len(prev))
	for _, p := range prev {
		before[p] = struct{}{}
	}
	after := make(map[string]struct{}, len(next))
	for _, p := range next {
		after[p] = struct{}{}
	}

	var d Delta
	for _, p := range Roster(next) {
		if _, ok := before[p]; !ok {
			d.Joined = append(d.Joined, p)
		}
	}
	for _, p := range Roster(prev) {
		if _, ok := after[p]; !ok {
			d.Left = append(d.Left, p)
		}
	}
	return d
}

// DefaultAdminTags is the clan tag convention used to spot admins.
var DefaultAdminTags = []string{"=(eG)"}

// AdminCount counts players whose name carries one of the admin tags.
func AdminCount(players, tags []string) int {
	if len(tags) == 0 {
		tags = DefaultAdminTags
	}
	count := 0
	for _, p := range players {
		for _, tag := range tags {
			if tag != "" && strings.Contains(p, tag) {
				count++
				break
			}
		}
	}
	return count
}
