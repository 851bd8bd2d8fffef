package analytics

import (
	"sort"
	"strings"
	"time"

	"example.com/backstage/services/shortage/internal/domain"
	"example.com/backstage/services/shortage/internal/models"
)

// RootCauseItem is one trackable remedial action derived from a case's reason tag
type RootCauseItem struct {
	ID            string        `json:"id"`
	CaseID        string        `json:"caseId"`
	PartCode      string        `json:"partCode"`
	Description   string        `json:"description"`
	Source        models.Source `json:"source"`
	Reason        string        `json:"reason"`
	RootCause     string        `json:"rootCause"`
	Completed     bool          `json:"completed"`
	CompletedDate *time.Time    `json:"completedDate"`
	Notes         string        `json:"notes"`
}

// RootCauseStats is the completion summary of a set of items
type RootCauseStats struct {
	Total      int `json:"total"`
	Completed  int `json:"completed"`
	Percentage int `json:"percentage"`
}

// DeriveRootCauses emits one item per mapped reason tag of every case, merged with the saved
// solution state. Unmapped tags are skipped.
func DeriveRootCauses(cases []NormalizedCase) []RootCauseItem {
	var items []RootCauseItem
	for _, c := range cases {
		seen := map[string]bool{}
		for _, reason := range c.ReasonTags {
			rc, ok := domain.RootCauseFor(reason)
			if !ok || seen[reason] {
				continue
			}
			seen[reason] = true

			sol := c.RootCauseSolutions[reason]
			items = append(items, RootCauseItem{
				ID:            c.ID + reason,
				CaseID:        c.ID,
				PartCode:      c.PartCode,
				Description:   c.Label(),
				Source:        c.Source,
				Reason:        reason,
				RootCause:     rc,
				Completed:     sol.Completed,
				CompletedDate: sol.CompletedDate,
				Notes:         sol.Notes,
			})
		}
	}
	return items
}

// SortRootCauses orders incomplete items first, then by part code
func SortRootCauses(items []RootCauseItem) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Completed != items[j].Completed {
			return !items[i].Completed
		}
		return items[i].PartCode < items[j].PartCode
	})
}

// FilterRootCauses keeps the items whose part code, description or root cause contains term,
// ignoring case
func FilterRootCauses(items []RootCauseItem, term string) []RootCauseItem {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return items
	}
	out := make([]RootCauseItem, 0, len(items))
	for _, it := range items {
		if containsFold(it.PartCode, term) || containsFold(it.Description, term) || containsFold(it.RootCause, term) {
			out = append(out, it)
		}
	}
	return out
}

// SummarizeRootCauses counts completed items
func SummarizeRootCauses(items []RootCauseItem) RootCauseStats {
	s := RootCauseStats{Total: len(items)}
	for _, it := range items {
		if it.Completed {
			s.Completed++
		}
	}
	s.Percentage = percent(s.Completed, s.Total)
	return s
}

func containsFold(s, lowerTerm string) bool {
	return strings.Contains(strings.ToLower(s), lowerTerm)
}
