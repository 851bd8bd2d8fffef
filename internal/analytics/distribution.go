package analytics

import (
	"sort"
	"time"
	"unicode"
	"unicode/utf8"
)

// Open-age bucket names
const (
	AgeUpToWeek      = "0-7 days"
	AgeUpToTwoWeeks  = "8-14 days"
	AgeOverTwoWeeks  = ">14 days"
	unknownSourceKey = "unknown"
)

// DistributionSlice is one category of a pie chart
type DistributionSlice struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
}

// SourceDistribution groups the cases created since windowStart by source. Labels are
// capitalized and slices come back in label order.
func SourceDistribution(cases []NormalizedCase, windowStart time.Time) []DistributionSlice {
	counts := map[string]int{}
	for _, c := range cases {
		if c.Created.Before(windowStart) {
			continue
		}
		key := string(c.Source)
		if key == "" {
			key = unknownSourceKey
		}
		counts[key]++
	}

	slices := make([]DistributionSlice, 0, len(counts))
	for key, n := range counts {
		slices = append(slices, DistributionSlice{Name: capitalize(key), Value: n})
	}
	sort.Slice(slices, func(i, j int) bool {
		return slices[i].Name < slices[j].Name
	})
	return slices
}

// OpenAgeDistribution buckets every open case by timeOpen. All three buckets are always
// present.
func OpenAgeDistribution(cases []NormalizedCase) []DistributionSlice {
	slices := []DistributionSlice{
		{Name: AgeUpToWeek},
		{Name: AgeUpToTwoWeeks},
		{Name: AgeOverTwoWeeks},
	}
	for _, c := range cases {
		if c.IsResolved() {
			continue
		}
		switch {
		case c.TimeOpen <= 7:
			slices[0].Value++
		case c.TimeOpen <= 14:
			slices[1].Value++
		default:
			slices[2].Value++
		}
	}
	return slices
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
