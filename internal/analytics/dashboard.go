package analytics

import (
	"time"

	"example.com/backstage/services/shortage/internal/models"
)

// Options parameterizes a dashboard build
type Options struct {
	Location       *time.Location
	TrendWeeks     int
	TeamTrendWeeks int
	Teams          []string
}

func (o Options) withDefaults() Options {
	if o.Location == nil {
		o.Location = time.Local
	}
	if o.TrendWeeks <= 0 {
		o.TrendWeeks = DefaultTrendWeeks
	}
	if o.TeamTrendWeeks <= 0 {
		o.TeamTrendWeeks = DefaultTeamTrendWeeks
	}
	return o
}

// Dashboard is every derived view of one snapshot for one window
type Dashboard struct {
	Window              Window               `json:"window"`
	WindowStart         time.Time            `json:"windowStart"`
	GeneratedAt         time.Time            `json:"generatedAt"`
	CaseCount           int                  `json:"caseCount"`
	KPIs                KPISet               `json:"kpis"`
	WeeklyTrend         []WeeklyTrendPoint   `json:"weeklyTrend"`
	SourceDistribution  []DistributionSlice  `json:"sourceDistribution"`
	OpenAgeDistribution []DistributionSlice  `json:"openAgeDistribution"`
	TeamPerformance     []TeamPerformanceRow `json:"teamPerformance"`
	TeamTrend           []TeamTrendPoint     `json:"teamTrend"`
	RootCauses          RootCauseStats       `json:"rootCauses"`
}

// BuildDashboard normalizes the snapshot and computes every view for window
func BuildDashboard(snapshot models.Snapshot, now time.Time, window string, opts Options) Dashboard {
	opts = opts.withDefaults()
	return BuildDashboardFromCases(NormalizeSnapshot(snapshot, now, opts.Location), now, window, opts)
}

// BuildDashboardFromCases computes every view for window from an already normalized set
func BuildDashboardFromCases(cases []NormalizedCase, now time.Time, window string, opts Options) Dashboard {
	opts = opts.withDefaults()
	w := ParseWindow(window)
	start := WindowStart(string(w), now, opts.Location)

	return Dashboard{
		Window:              w,
		WindowStart:         start,
		GeneratedAt:         now,
		CaseCount:           len(cases),
		KPIs:                ComputeKPIs(cases, start),
		WeeklyTrend:         WeeklyTrend(cases, now, opts.TrendWeeks, opts.Location),
		SourceDistribution:  SourceDistribution(cases, start),
		OpenAgeDistribution: OpenAgeDistribution(cases),
		TeamPerformance:     TeamPerformance(cases),
		TeamTrend:           TeamTrend(cases, opts.Teams, now, opts.TeamTrendWeeks, opts.Location),
		RootCauses:          SummarizeRootCauses(DeriveRootCauses(cases)),
	}
}
