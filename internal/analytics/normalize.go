package analytics

import (
	"math"
	"sort"
	"strings"
	"time"

	"example.com/backstage/services/shortage/internal/models"
)

const day = 24 * time.Hour

// NormalizedCase is a case plus the fields derived from it at a given instant
type NormalizedCase struct {
	models.ShortageCase

	// Created is the parsed anchor (shortageDate, else createdAt); now when unparseable.
	Created time.Time `json:"-"`
	// Resolved is the parsed resolvedAt, nil when absent or unparseable.
	Resolved *time.Time `json:"-"`

	TimeSpent      int `json:"timeSpent"`
	TimeOpen       int `json:"timeOpen"`
	ETAChangeCount int `json:"etaChangeCount"`
}

// IsResolved reports whether the case is in the terminal state
func (n NormalizedCase) IsResolved() bool {
	return n.Status.IsResolved()
}

// EffectiveDuration is timeSpent for resolved cases and timeOpen otherwise
func (n NormalizedCase) EffectiveDuration() int {
	if n.IsResolved() {
		return n.TimeSpent
	}
	return n.TimeOpen
}

// Normalize derives timeSpent, timeOpen and etaChangeCount for one record. The input is
// copied; it is never modified.
func Normalize(c models.ShortageCase, now time.Time, loc *time.Location) NormalizedCase {
	n := NormalizedCase{ShortageCase: *c.Clone()}

	anchor := c.ShortageDate
	if anchor == "" {
		anchor = c.CreatedAt
	}
	created, ok := ParseInstant(anchor, loc)
	if !ok {
		created = now
	}
	n.Created = created

	end := now
	if resolved, ok := ParseInstant(c.ResolvedAt, loc); ok {
		n.Resolved = &resolved
		end = resolved
	}

	n.TimeSpent = ceilDays(end.Sub(created))
	if !c.Status.IsResolved() {
		n.TimeOpen = ceilDays(now.Sub(created))
	}
	n.ETAChangeCount = ETAChangeCount(c.ETAHistory)

	return n
}

// NormalizeSnapshot normalizes every record of a snapshot, ordered by id. Records whose id
// is empty take their snapshot key.
func NormalizeSnapshot(snapshot models.Snapshot, now time.Time, loc *time.Location) []NormalizedCase {
	ids := make([]string, 0, len(snapshot))
	for id := range snapshot {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]NormalizedCase, 0, len(ids))
	for _, id := range ids {
		c := snapshot[id]
		if c.ID == "" {
			c.ID = id
		}
		out = append(out, Normalize(c, now, loc))
	}
	return out
}

// ETAChangeCount counts ETA changes made after the first non-blank ETA
func ETAChangeCount(history models.ETAHistory) int {
	if len(history) <= 1 {
		return 0
	}
	for k, entry := range history {
		if strings.TrimSpace(entry.ETA) != "" {
			if changes := len(history) - k - 1; changes > 0 {
				return changes
			}
			return 0
		}
	}
	return 0
}

// ParseInstant accepts RFC 3339 timestamps, zone-less date-times (read in loc) and plain
// dates (read as UTC midnight). The boolean is false for blank or unparseable input.
func ParseInstant(s string, loc *time.Location) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if loc == nil {
		loc = time.Local
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, true
	}
	for _, layout := range []string{"2006-01-02T15:04:05.000", "2006-01-02T15:04:05", "2006-01-02T15:04"} {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, true
		}
	}
	if t, err := time.Parse(models.DateLayout, s); err == nil {
		return t, true
	}
	return time.Time{}, false
}

func ceilDays(d time.Duration) int {
	return int(math.Ceil(math.Abs(float64(d)) / float64(day)))
}
