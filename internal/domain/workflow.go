package domain

import (
	"github.com/pkg/errors"

	"example.com/backstage/services/shortage/internal/models"
)

var (
	ErrUnknownStatus = errors.New("unknown status")
	ErrSameStatus    = errors.New("case is already in that status")
	ErrNoTransition  = errors.New("no transition for trigger")
)

// Trigger names the action that may move a case to another status
type Trigger string

const (
	// TriggerStepSelected is a user picking a workflow step directly
	TriggerStepSelected Trigger = "step_selected"
	// TriggerETASet is a user recording a new estimated arrival date
	TriggerETASet Trigger = "eta_set"
)

// Transition is one row of the status table
type Transition struct {
	Trigger      Trigger
	Precondition string
	Resulting    string
	// Regresses is true when the rule can move a case backwards, including out of received.
	Regresses bool

	allows func(current, requested models.Status) bool
	target func(requested models.Status) models.Status
}

// Transitions is the complete status table.
//
// Setting an ETA forces ordering from every status. A received case therefore reopens when
// its ETA is edited. Whether that should be allowed is an open product question, so the rule
// is kept and flagged with Regresses.
var Transitions = []Transition{
	{
		Trigger:      TriggerStepSelected,
		Precondition: "requested status differs from current status",
		Resulting:    "requested status",
		Regresses:    true,
		allows: func(current, requested models.Status) bool {
			return requested != current
		},
		target: func(requested models.Status) models.Status {
			return requested
		},
	},
	{
		Trigger:      TriggerETASet,
		Precondition: "any status",
		Resulting:    string(models.StatusOrdering),
		Regresses:    true,
		allows: func(current, requested models.Status) bool {
			return true
		},
		target: func(models.Status) models.Status {
			return models.StatusOrdering
		},
	},
}

// NextStatus looks up trigger in the table and returns the status the case moves to
func NextStatus(trigger Trigger, current, requested models.Status) (models.Status, error) {
	for _, t := range Transitions {
		if t.Trigger != trigger {
			continue
		}
		if trigger == TriggerStepSelected && !requested.IsValid() {
			return "", errors.Wrapf(ErrUnknownStatus, "%q", requested)
		}
		if !t.allows(current, requested) {
			return "", errors.Wrapf(ErrSameStatus, "%s", current)
		}
		return t.target(requested), nil
	}
	return "", errors.Wrapf(ErrNoTransition, "%s", trigger)
}

// statusPatch sets status and keeps resolvedAt present exactly while the case is received
func statusPatch(p models.Patch, current, next models.Status, stamp string) models.Patch {
	p = p.Set(models.FieldStatus, next)
	switch {
	case next.IsResolved() && !current.IsResolved():
		p = p.Set(models.FieldResolvedAt, stamp)
	case !next.IsResolved() && current.IsResolved():
		p = p.Remove(models.FieldResolvedAt)
	}
	return p
}
