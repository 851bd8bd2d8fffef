package analytics

import (
	"sort"
	"strings"
)

// StatusFilter selects cases by resolution
type StatusFilter string

const (
	StatusUnresolved StatusFilter = "unresolved"
	StatusResolved   StatusFilter = "resolved"
	StatusAll        StatusFilter = "all"
)

// Severity bands for time spent
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// SummaryFilter narrows the case table. Empty or "all" source and team match everything.
type SummaryFilter struct {
	Status StatusFilter `form:"status" json:"status"`
	Source string       `form:"source" json:"source"`
	Team   string       `form:"team" json:"team"`
	Search string       `form:"search" json:"search"`
}

// SummaryRow is one line of the case table
type SummaryRow struct {
	NormalizedCase
	Severity string `json:"severity"`
}

// Summary is the filtered case table plus the facets used to drive its filters
type Summary struct {
	Rows       []SummaryRow `json:"rows"`
	Matched    int          `json:"matched"`
	Total      int          `json:"total"`
	Resolved   int          `json:"resolved"`
	Unresolved int          `json:"unresolved"`
	Teams      []string     `json:"teams"`
}

// TimeSpentSeverity bands a time spent in days
func TimeSpentSeverity(days int) string {
	switch {
	case days <= 3:
		return SeverityLow
	case days <= 7:
		return SeverityMedium
	case days <= 14:
		return SeverityHigh
	default:
		return SeverityCritical
	}
}

// BuildSummary filters cases, newest anchor first. Unresolved is the default status filter.
func BuildSummary(cases []NormalizedCase, f SummaryFilter) Summary {
	s := Summary{Total: len(cases), Teams: Teams(cases), Rows: []SummaryRow{}}
	status := f.Status
	if status == "" {
		status = StatusUnresolved
	}
	term := strings.ToLower(strings.TrimSpace(f.Search))

	for _, c := range cases {
		if c.IsResolved() {
			s.Resolved++
		} else {
			s.Unresolved++
		}

		switch status {
		case StatusResolved:
			if !c.IsResolved() {
				continue
			}
		case StatusUnresolved:
			if c.IsResolved() {
				continue
			}
		}
		if f.Source != "" && f.Source != string(StatusAll) && string(c.Source) != f.Source {
			continue
		}
		if f.Team != "" && f.Team != string(StatusAll) && c.AssignedTeam != f.Team {
			continue
		}
		if term != "" && !matchesSearch(c, term) {
			continue
		}
		s.Rows = append(s.Rows, SummaryRow{NormalizedCase: c, Severity: TimeSpentSeverity(c.TimeSpent)})
	}

	sort.SliceStable(s.Rows, func(i, j int) bool {
		return s.Rows[i].Created.After(s.Rows[j].Created)
	})
	s.Matched = len(s.Rows)
	return s
}

// Teams returns the distinct non-empty assigned teams, sorted
func Teams(cases []NormalizedCase) []string {
	seen := map[string]struct{}{}
	teams := []string{}
	for _, c := range cases {
		if c.AssignedTeam == "" {
			continue
		}
		if _, ok := seen[c.AssignedTeam]; ok {
			continue
		}
		seen[c.AssignedTeam] = struct{}{}
		teams = append(teams, c.AssignedTeam)
	}
	sort.Strings(teams)
	return teams
}

func matchesSearch(c NormalizedCase, term string) bool {
	for _, field := range []string{c.PartCode, c.DisplayName, c.CustomPartName, c.SupplierName, c.AssignedTeam} {
		if containsFold(field, term) {
			return true
		}
	}
	return false
}
