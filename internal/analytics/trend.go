package analytics

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"
)

// Default bucket counts
const (
	DefaultTrendWeeks     = 12
	DefaultTeamTrendWeeks = 8
)

// WeekBucket is a rolling seven-day window anchored on now
type WeekBucket struct {
	Label string
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls in the bucket, both ends inclusive
func (b WeekBucket) Contains(t time.Time) bool {
	return !t.Before(b.Start) && !t.After(b.End)
}

// WeekBuckets returns n trailing buckets, oldest first. Bucket i (counting back from now)
// starts at now-7i days and ends six days later, so buckets are not calendar aligned and may
// leave a one-day gap between neighbours.
func WeekBuckets(now time.Time, n int, loc *time.Location) []WeekBucket {
	if n < 0 {
		n = 0
	}
	buckets := make([]WeekBucket, 0, n)
	for i := n - 1; i >= 0; i-- {
		start := now.Add(-time.Duration(i) * 7 * day)
		buckets = append(buckets, WeekBucket{
			Label: WeekLabel(start, loc),
			Start: start,
			End:   start.Add(6 * day),
		})
	}
	return buckets
}

// WeekLabel is "W" plus ceil((days since 1 January of t's year + 1) / 7), counted from local
// midnight of 1 January in loc
func WeekLabel(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	local := t.In(loc)
	jan1 := time.Date(local.Year(), time.January, 1, 0, 0, 0, 0, loc)
	days := float64(local.Sub(jan1)) / float64(day)
	return fmt.Sprintf("W%d", int(math.Ceil((days+1)/7)))
}

// WeeklyTrendPoint is one bucket of the creation trend
type WeeklyTrendPoint struct {
	Week            string `json:"week"`
	Created         int    `json:"created"`
	ResolvedIn7Days int    `json:"resolvedIn7Days"`
}

// WeeklyTrend counts cases created per bucket and how many of those were received within
// seven days. It always returns exactly weeks points.
func WeeklyTrend(cases []NormalizedCase, now time.Time, weeks int, loc *time.Location) []WeeklyTrendPoint {
	buckets := WeekBuckets(now, weeks, loc)
	points := make([]WeeklyTrendPoint, len(buckets))

	for i, b := range buckets {
		points[i].Week = b.Label
		for _, c := range cases {
			if !b.Contains(c.Created) {
				continue
			}
			points[i].Created++
			if c.IsResolved() && c.TimeSpent <= SLAFastDays {
				points[i].ResolvedIn7Days++
			}
		}
	}
	return points
}

// TeamTrendPoint holds one bucket of mean effective durations per team. A nil value means the
// team had no cases created in the bucket.
type TeamTrendPoint struct {
	Week   string
	Teams  []string
	Values map[string]*float64
}

// MarshalJSON flattens the point to {"week": ..., "<team>": number|null}
func (p TeamTrendPoint) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(p.Teams)+1)
	out["week"] = p.Week
	for _, team := range p.Teams {
		if v := p.Values[team]; v != nil {
			out[team] = *v
		} else {
			out[team] = nil
		}
	}
	return json.Marshal(out)
}

// UnmarshalJSON reverses MarshalJSON; teams come back in name order
func (p *TeamTrendPoint) UnmarshalJSON(data []byte) error {
	var week struct {
		Week string `json:"week"`
	}
	if err := json.Unmarshal(data, &week); err != nil {
		return err
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	delete(fields, "week")

	raw := make(map[string]*float64, len(fields))
	teams := make([]string, 0, len(fields))
	for team, msg := range fields {
		var v *float64
		if err := json.Unmarshal(msg, &v); err != nil {
			return err
		}
		raw[team] = v
		teams = append(teams, team)
	}
	sort.Strings(teams)

	p.Week = week.Week
	p.Teams = teams
	p.Values = raw
	return nil
}

// TeamTrend computes, for each configured team and bucket, the mean effective duration of
// the team's cases created in that bucket. It always returns exactly weeks points.
func TeamTrend(cases []NormalizedCase, teams []string, now time.Time, weeks int, loc *time.Location) []TeamTrendPoint {
	buckets := WeekBuckets(now, weeks, loc)
	points := make([]TeamTrendPoint, len(buckets))

	for i, b := range buckets {
		p := TeamTrendPoint{
			Week:   b.Label,
			Teams:  append([]string(nil), teams...),
			Values: make(map[string]*float64, len(teams)),
		}
		for _, team := range teams {
			var sum, count int
			for _, c := range cases {
				if c.AssignedTeam != team || !b.Contains(c.Created) {
					continue
				}
				sum += c.EffectiveDuration()
				count++
			}
			if count == 0 {
				p.Values[team] = nil
				continue
			}
			avg := meanOneDecimal(sum, count)
			p.Values[team] = &avg
		}
		points[i] = p
	}
	return points
}
