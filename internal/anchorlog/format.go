package anchorlog

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/fieldsync/anchor/internal/geo"
	"github.com/fieldsync/anchor/pkg/core"
)

const (
	emptyBanner   = "Each anchor applies to every photo you capture until you log the next one. Use it whenever you change locations or want a fresh reference point."
	missingBanner = "Location was missing, double-check before leaving this spot."
)

// FormatRelative renders how long ago t was, relative to now.
func FormatRelative(t, now time.Time) string {
	minutes := int(math.Round(now.Sub(t).Minutes()))
	if minutes < 1 {
		return "just now"
	}
	if minutes == 1 {
		return "1 minute ago"
	}
	if minutes < 60 {
		return fmt.Sprintf("%d minutes ago", minutes)
	}
	hours := int(math.Round(float64(minutes) / 60))
	if hours == 1 {
		return "1 hour ago"
	}
	if hours < 24 {
		return fmt.Sprintf("%d hours ago", hours)
	}
	days := int(math.Round(float64(hours) / 24))
	if days == 1 {
		return "1 day ago"
	}
	return fmt.Sprintf("%d days ago", days)
}

// Banner describes the current anchor: which one governs new frames and
// whether it has a location.
func Banner(latest core.Anchor, ok bool, now time.Time) string {
	if !ok {
		return emptyBanner
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Current anchor: %s (logged %s)\n", latest.Label, FormatRelative(latest.CreatedAt, now))
	if latest.HasCoordinate() {
		b.WriteString(geo.FormatCoordinate(latest.Coordinate.Latitude, geo.Latitude))
		b.WriteString(" · ")
		b.WriteString(geo.FormatCoordinate(latest.Coordinate.Longitude, geo.Longitude))
	} else {
		b.WriteString(missingBanner)
	}
	return b.String()
}

// Line renders one anchor as a single list row.
func Line(a core.Anchor, now time.Time) string {
	parts := []string{
		a.Label,
		a.CreatedAt.Local().Format("2006-01-02 15:04"),
		geo.FormatPosition(a.Coordinate),
		FormatRelative(a.CreatedAt, now),
	}
	line := strings.Join(parts, "  ")
	if a.Note != "" {
		line += "  " + a.Note
	}
	return line
}

// Summary counts an anchor set.
type Summary struct {
	Total       int
	Located     int
	Unavailable int
	Cameras     int // distinct non-empty camera IDs
}

// Summarize counts anchors by location state and camera.
func Summarize(anchors []core.Anchor) Summary {
	s := Summary{Total: len(anchors)}
	cameras := make(map[string]struct{})
	for _, a := range anchors {
		if a.HasCoordinate() {
			s.Located++
		} else {
			s.Unavailable++
		}
		if a.CameraID != "" {
			cameras[a.CameraID] = struct{}{}
		}
	}
	s.Cameras = len(cameras)
	return s
}

func (s Summary) String() string {
	return fmt.Sprintf("%s · %d located · %d without location · %s",
		plural(s.Total, "anchor"), s.Located, s.Unavailable, plural(s.Cameras, "camera"))
}

func plural(n int, word string) string {
	if n == 1 {
		return "1 " + word
	}
	return fmt.Sprintf("%d %ss", n, word)
}
