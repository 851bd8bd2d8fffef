package analytics

import "time"

// SLA thresholds in days
const (
	SLAFastDays = 7
	SLASlowDays = 14
)

// KPISet holds the headline dashboard numbers
type KPISet struct {
	NewCases      int `json:"newCases"`
	ResolvedCases int `json:"resolvedCases"`
	CurrentOpen   int `json:"currentOpen"`
	NetOpenDelta  int `json:"netOpenDelta"`
	SLA7          int `json:"sla7"`
	SLA14         int `json:"sla14"`
}

// ComputeKPIs counts windowed creations and resolutions against windowStart. currentOpen and
// both SLA percentages ignore the window; SLAs are taken over every resolved case.
func ComputeKPIs(cases []NormalizedCase, windowStart time.Time) KPISet {
	var k KPISet
	var resolved, within7, within14 int

	for _, c := range cases {
		if !c.Created.Before(windowStart) {
			k.NewCases++
		}
		if c.Resolved != nil && !c.Resolved.Before(windowStart) {
			k.ResolvedCases++
		}
		if !c.IsResolved() {
			k.CurrentOpen++
			continue
		}
		resolved++
		if c.TimeSpent <= SLAFastDays {
			within7++
		}
		if c.TimeSpent <= SLASlowDays {
			within14++
		}
	}

	k.NetOpenDelta = k.NewCases - k.ResolvedCases
	k.SLA7 = percent(within7, resolved)
	k.SLA14 = percent(within14, resolved)
	return k
}
