package analytics

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"example.com/backstage/services/shortage/internal/models"
)

// Stock levels of a kanban item
const (
	StockRed    = "red"
	StockAmber  = "amber"
	StockNormal = "normal"
)

// Kanban sort orders. KanbanSortID is the default.
const (
	KanbanSortID       = "kanbanId"
	KanbanSortCoverage = "daysCovered"
	KanbanSortOpenPO   = "openPO"
	KanbanSortStock    = "stock"
)

// amberMargin is how far above the minimum stock a part still counts as running low
const amberMargin = 1.1

var firstNumber = regexp.MustCompile(`\d+`)

// KanbanFilter narrows the kanban board
type KanbanFilter struct {
	Search        string `form:"search" json:"search"`
	StockBelowMin bool   `form:"belowMin" json:"belowMin"`
	HasOpenPO     bool   `form:"openPO" json:"openPO"`
	Supplier      string `form:"supplier" json:"supplier"`
	Sort          string `form:"sort" json:"sort"`
}

// KanbanItem is a kanban-managed part with its stock level
type KanbanItem struct {
	models.Material
	StockLevel string `json:"stockLevel"`
}

// KanbanView is the filtered kanban board
type KanbanView struct {
	Items     []KanbanItem `json:"items"`
	Suppliers []string     `json:"suppliers"`
	Total     int          `json:"total"`
	Matched   int          `json:"matched"`
	BelowMin  int          `json:"belowMin"`
}

// StockLevel is red at or under the minimum stock and amber within ten percent above it
func StockLevel(m models.Material) string {
	switch {
	case m.StockQty <= m.MinStock:
		return StockRed
	case m.StockQty <= m.MinStock*amberMargin:
		return StockAmber
	default:
		return StockNormal
	}
}

// BuildKanbanView filters and sorts kanban parts. Suppliers and the counters cover every
// part, not just the matching ones.
func BuildKanbanView(materials []models.Material, f KanbanFilter) KanbanView {
	v := KanbanView{Items: []KanbanItem{}, Suppliers: []string{}, Total: len(materials)}
	term := strings.ToLower(strings.TrimSpace(f.Search))
	supplier := strings.TrimSpace(f.Supplier)
	if supplier == string(StatusAll) {
		supplier = ""
	}

	seen := map[string]struct{}{}
	for _, m := range materials {
		if m.SupplierName != "" {
			if _, ok := seen[m.SupplierName]; !ok {
				seen[m.SupplierName] = struct{}{}
				v.Suppliers = append(v.Suppliers, m.SupplierName)
			}
		}
		if m.StockQty < m.MinStock {
			v.BelowMin++
		}

		if f.StockBelowMin && m.StockQty >= m.MinStock {
			continue
		}
		if f.HasOpenPO && m.OpenPOQty <= 0 {
			continue
		}
		if supplier != "" && m.SupplierName != supplier {
			continue
		}
		if term != "" && !matchesKanban(m, term) {
			continue
		}
		v.Items = append(v.Items, KanbanItem{Material: m, StockLevel: StockLevel(m)})
	}

	sort.Strings(v.Suppliers)
	SortKanban(v.Items, f.Sort)
	v.Matched = len(v.Items)
	return v
}

// SortKanban orders items in place. Unknown orders sort by kanban id, numerically on the first
// number in the id.
func SortKanban(items []KanbanItem, order string) {
	var less func(a, b KanbanItem) (bool, bool)
	switch order {
	case KanbanSortCoverage:
		less = func(a, b KanbanItem) (bool, bool) {
			return a.DaysCovered < b.DaysCovered, a.DaysCovered == b.DaysCovered
		}
	case KanbanSortOpenPO:
		less = func(a, b KanbanItem) (bool, bool) { return a.OpenPOQty > b.OpenPOQty, a.OpenPOQty == b.OpenPOQty }
	case KanbanSortStock:
		less = func(a, b KanbanItem) (bool, bool) { return a.StockQty < b.StockQty, a.StockQty == b.StockQty }
	default:
		less = func(a, b KanbanItem) (bool, bool) {
			na, nb := kanbanNumber(a.KanbanID), kanbanNumber(b.KanbanID)
			if na != nb {
				return na < nb, false
			}
			return a.KanbanID < b.KanbanID, a.KanbanID == b.KanbanID
		}
	}

	sort.SliceStable(items, func(i, j int) bool {
		lt, eq := less(items[i], items[j])
		if eq {
			return items[i].PartCode < items[j].PartCode
		}
		return lt
	})
}

// kanbanNumber is the first integer in id, or 0
func kanbanNumber(id string) int {
	n, err := strconv.Atoi(firstNumber.FindString(id))
	if err != nil {
		return 0
	}
	return n
}

func matchesKanban(m models.Material, term string) bool {
	for _, field := range []string{m.PartCode, m.Description, m.MaterialSummary, m.KanbanID} {
		if containsFold(field, term) {
			return true
		}
	}
	return false
}
