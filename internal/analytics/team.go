package analytics

import "sort"

// TeamPerformanceRow summarizes one assigned team
type TeamPerformanceRow struct {
	Team          string  `json:"team"`
	AvgTime       float64 `json:"avgTime"`
	Count         int     `json:"count"`
	ResolvedCount int     `json:"resolvedCount"`
	OpenCount     int     `json:"openCount"`
}

// TeamPerformance groups every case with an assigned team and averages their effective
// durations, so open and resolved cases share one scale. Rows are sorted by avgTime
// ascending, ties broken by team name.
func TeamPerformance(cases []NormalizedCase) []TeamPerformanceRow {
	type acc struct {
		total int
		row   TeamPerformanceRow
	}
	byTeam := map[string]*acc{}

	for _, c := range cases {
		if c.AssignedTeam == "" {
			continue
		}
		a, ok := byTeam[c.AssignedTeam]
		if !ok {
			a = &acc{row: TeamPerformanceRow{Team: c.AssignedTeam}}
			byTeam[c.AssignedTeam] = a
		}
		a.total += c.EffectiveDuration()
		a.row.Count++
		if c.IsResolved() {
			a.row.ResolvedCount++
		} else {
			a.row.OpenCount++
		}
	}

	rows := make([]TeamPerformanceRow, 0, len(byTeam))
	for _, a := range byTeam {
		a.row.AvgTime = meanOneDecimal(a.total, a.row.Count)
		rows = append(rows, a.row)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].AvgTime != rows[j].AvgTime {
			return rows[i].AvgTime < rows[j].AvgTime
		}
		return rows[i].Team < rows[j].Team
	})
	return rows
}
