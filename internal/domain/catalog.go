package domain

import (
	"strings"

	"example.com/backstage/services/shortage/internal/models"
)

// Shortage reasons that can be tagged on a case
const (
	ReasonSpareParts      = "Spare Parts (Longtree)"
	ReasonNoRequirement   = "No Requirement"
	ReasonNoPartCode      = "No part code"
	ReasonInaccurateStock = "Inaccurate Stock level"
	ReasonOpenOrderIssue  = "Open Order issue"
	ReasonRequisitionNoPO = "Requisition without PO"
	ReasonMRPSystemIssue  = "MRP system issue"
	ReasonMinStockDesign  = "Min stock design issue"
	ReasonLeadDaysTooLong = "Lead days too long"
	ReasonInvestigate     = "Investigate"

	// ReasonOther is tagged on cases raised from the kanban board
	ReasonOther = "Other"
)

const (
	changedByUser   = "User"
	activityCreate  = "create"
	defaultSupplier = "N/A"
)

// Reasons lists every selectable shortage reason
var Reasons = []string{
	ReasonSpareParts,
	ReasonNoRequirement,
	ReasonNoPartCode,
	ReasonInaccurateStock,
	ReasonOpenOrderIssue,
	ReasonRequisitionNoPO,
	ReasonMRPSystemIssue,
	ReasonMinStockDesign,
	ReasonLeadDaysTooLong,
	ReasonInvestigate,
}

// rootCauses maps the reasons that have a remedial action to that action
var rootCauses = map[string]string{
	ReasonSpareParts:      "Spare parts MIN/MRP confirmation",
	ReasonNoRequirement:   "Add into BoM or Kanban",
	ReasonNoPartCode:      "Add Part code",
	ReasonLeadDaysTooLong: "Change the Lead days",
}

// RootCauseFor returns the remedial statement for reason and whether one exists
func RootCauseFor(reason string) (string, bool) {
	rc, ok := rootCauses[reason]
	return rc, ok
}

// Transports lists the selectable transport modes
var Transports = []string{"Airfreight", "Seafreight", "Local"}

// Options is the set of choices offered to clients
type Options struct {
	Statuses   []models.Status   `json:"statuses"`
	Sources    []models.Source   `json:"sources"`
	Transports []string          `json:"transports"`
	Reasons    []string          `json:"reasons"`
	RootCauses map[string]string `json:"rootCauses"`
	Teams      []string          `json:"teams"`
}

// ListOptions returns the option lists with the given team set
func ListOptions(teams []string) Options {
	rc := make(map[string]string, len(rootCauses))
	for k, v := range rootCauses {
		rc[k] = v
	}
	return Options{
		Statuses:   models.Statuses,
		Sources:    models.Sources,
		Transports: Transports,
		Reasons:    Reasons,
		RootCauses: rc,
		Teams:      teams,
	}
}

// SourceFlag is the display label of a catalog material's source
func SourceFlag(source string) string {
	switch strings.ToLower(strings.TrimSpace(source)) {
	case "", "none":
		return "None"
	case "kanban":
		return "Kanban"
	case "bom":
		return "BoM"
	case "longtree":
		return "Longtree"
	default:
		return "Other"
	}
}

// SuggestedReason proposes the initial reason tag for a material picked from the catalog.
// An empty result means no suggestion.
func SuggestedReason(m models.Material) string {
	if m.ShortageReason != "" {
		return m.ShortageReason
	}
	switch SourceFlag(m.Source) {
	case "Other":
		return ReasonNoRequirement
	case "None":
		return ReasonNoPartCode
	}
	return ""
}

// KanbanCase builds the create command for a shortage raised on a kanban-managed part
func KanbanCase(m models.Material, shortageDate string) CreateCaseCommand {
	name := strings.TrimSpace(m.Description)
	if name == "" {
		name = m.PartCode
	}
	supplier := strings.TrimSpace(m.SupplierName)
	if supplier == "" {
		supplier = defaultSupplier
	}
	return CreateCaseCommand{
		PartCode:     m.PartCode,
		DisplayName:  name,
		Source:       string(models.SourceKanban),
		SupplierName: supplier,
		ShortageDate: shortageDate,
		ReasonTags:   []string{ReasonOther},
	}
}
