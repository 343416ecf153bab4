package board

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/MSWS/TSTats/internal/server"
)

// DefaultLineLength is the width at which the player list wraps.
const DefaultLineLength = 50

// Field is one inline name/value pair of a card.
type Field struct {
	Name   string
	Value  string
	Inline bool
}

// Card is the rendered status of one server, independent of the chat layer.
type Card struct {
	Title       string
	Description string
	Color       int
	Fields      []Field
	Footer      string
	Image       string
	Timestamp   time.Time
}

// RenderOptions controls card generation.
type RenderOptions struct {
	// LineLength is the wrap width of the player list
	LineLength int
	// UseServerName titles the card with the name the server reports
	UseServerName bool
	// CacheRate is how long an image URL stays stable before its cache-busting
	// parameter changes
	CacheRate time.Duration
}

// Render builds the card for rec. The join/leave footer is only included when
// showDelta is set.
func Render(rec *server.Record, delta server.Delta, showDelta bool, opts RenderOptions, now time.Time) Card {
	online := rec.OnlineCount()

	title := rec.Name
	if opts.UseServerName && rec.SourceName != "" {
		title = rec.SourceName
	}

	desc := WrapPlayers(rec.Players, opts.LineLength)
	if desc == "" && online == 0 {
		desc = "No players"
	}

	card := Card{
		Title:       title,
		Description: desc,
		Color:       Color(rec),
		Fields: []Field{
			{Name: "Players", Value: fmt.Sprintf("%d/%d", online, rec.MaxPlayers), Inline: true},
		},
		Timestamp: now,
	}
	if rec.Map != "" {
		card.Fields = append(card.Fields, Field{Name: "Map", Value: rec.Map, Inline: true})
	}
	if rec.Image != "" {
		card.Image = cacheBust(rec.Image, opts.CacheRate, now)
	}

	var footer []string
	if showDelta {
		if len(delta.Joined) > 0 {
			footer = append(footer, "[+] "+strings.Join(delta.Joined, ", "))
		}
		if len(delta.Left) > 0 {
			footer = append(footer, "[-] "+strings.Join(delta.Left, ", "))
		}
	}
	if rec.ConnectHint != "" {
		footer = append(footer, rec.ConnectHint)
	} else {
		footer = append(footer, rec.Address)
	}
	card.Footer = strings.Join(footer, "\n")
	return card
}

// WrapPlayers lists the players alphabetically, comma separated, starting a
// new line whenever the next name would push the current one past width. A
// first name longer than width is itself preceded by a line break.
func WrapPlayers(players []string, width int) string {
	if len(players) == 0 {
		return ""
	}
	if width <= 0 {
		width = DefaultLineLength
	}
	sorted := append([]string(nil), players...)
	sort.Strings(sorted)

	var b strings.Builder
	lineLen := 0
	for i, p := range sorted {
		if lineLen+len(p) > width {
			b.WriteString("\n")
			lineLen = 0
		} else if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(p)
		lineLen += len(p) + 2
	}
	return b.String()
}

// Color returns the explicit colour override of rec, or else one derived from
// how full the server is, the length of its map name and its ping.
func Color(rec *server.Record) int {
	if c, ok := ParseColor(rec.Color); ok {
		return c
	}
	pct := 0.0
	if rec.MaxPlayers > 0 {
		pct = float64(rec.OnlineCount()) / float64(rec.MaxPlayers)
	}
	r := channel(pct * 255)
	g := channel(math.Cos(float64(len(rec.Map)+1)) * 255)
	b := channel(math.Sin(float64(rec.Ping+1)) * 255)
	return r<<16 | g<<8 | b
}

func channel(v float64) int {
	return int(math.Round(math.Min(math.Max(v, 0), 255)))
}

// ParseColor accepts "#rrggbb" or "rrggbb".
func ParseColor(s string) (int, bool) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(s) != 6 {
		return 0, false
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, false
	}
	return int(v), true
}

// FormatColor renders c as "#rrggbb".
func FormatColor(c int) string {
	return fmt.Sprintf("#%06x", c&0xffffff)
}

func cacheBust(image string, rate time.Duration, now time.Time) string {
	if rate <= 0 {
		rate = time.Minute
	}
	sep := "?"
	if strings.Contains(image, "?") {
		sep = "&"
	}
	bucket := math.Round(float64(now.Unix()) / rate.Seconds())
	return image + sep + "t=" + strconv.FormatInt(int64(bucket), 10)
}

// Summary aggregates the servers of one channel.
type Summary struct {
	Online   int
	Capacity int
	Servers  int
}

// Topic formats s as a channel topic, e.g. "12/64 (18.8%) players across 2 servers".
func (s Summary) Topic() string {
	pct := 0.0
	if s.Capacity > 0 {
		pct = math.Round(float64(s.Online)/float64(s.Capacity)*1000) / 10
	}
	noun := "servers"
	if s.Servers == 1 {
		noun = "server"
	}
	return fmt.Sprintf("%d/%d (%s%%) players across %d %s",
		s.Online, s.Capacity, strconv.FormatFloat(pct, 'f', -1, 64), s.Servers, noun)
}
