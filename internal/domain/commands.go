package domain

import "example.com/backstage/services/shortage/internal/models"

// CreateCaseCommand raises a new shortage case
type CreateCaseCommand struct {
	ID             string   `json:"id,omitempty" validate:"omitempty,max=64"`
	PartCode       string   `json:"partCode"`
	DisplayName    string   `json:"displayName"`
	CustomPartName string   `json:"customPartName"`
	Source         string   `json:"source" validate:"omitempty,oneof=bom kanban longtree other none"`
	SupplierName   string   `json:"supplierName"`
	ShortageDate   string   `json:"shortageDate" validate:"required,datetime=2006-01-02"`
	ReasonTags     []string `json:"reasonTags" validate:"required,min=1,dive,notblank"`
	AssignedTo     string   `json:"assignedTo"`
	CreatedBy      string   `json:"createdBy"`
}

// ChangeStatusCommand moves a case to a workflow step
type ChangeStatusCommand struct {
	CaseID string        `json:"caseId" validate:"required"`
	Status models.Status `json:"status" validate:"required,oneof=created requisition ordering received"`
}

// SetETACommand records a new estimated arrival date
type SetETACommand struct {
	CaseID string `json:"caseId" validate:"required"`
	ETA    string `json:"eta"`
}

// AssignTeamCommand assigns the owning team
type AssignTeamCommand struct {
	CaseID string `json:"caseId" validate:"required"`
	Team   string `json:"team"`
}

// SetSourceCommand corrects where the shortage came from
type SetSourceCommand struct {
	CaseID string        `json:"caseId" validate:"required"`
	Source models.Source `json:"source" validate:"omitempty,oneof=bom kanban longtree other"`
}

// SetTransportCommand picks the transport mode
type SetTransportCommand struct {
	CaseID    string `json:"caseId" validate:"required"`
	Transport string `json:"transport" validate:"omitempty,oneof=Airfreight Seafreight Local"`
}

// RootCauseCommand addresses one root-cause item of a case
type RootCauseCommand struct {
	CaseID string `json:"caseId" validate:"required"`
	Reason string `json:"reason" validate:"required"`
}

// SetRootCauseCommand sets the completion of one root-cause item to a given state
type SetRootCauseCommand struct {
	CaseID    string `json:"caseId" validate:"required"`
	Reason    string `json:"reason" validate:"required"`
	Completed *bool  `json:"completed" validate:"required"`
}

// SetNotesCommand replaces the free-text notes of a case
type SetNotesCommand struct {
	CaseID string `json:"caseId" validate:"required"`
	Notes  string `json:"notes" validate:"max=4000"`
}
