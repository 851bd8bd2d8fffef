package domain

import (
	"strings"
	"time"

	"github.com/pkg/errors"

	"example.com/backstage/services/shortage/internal/models"
)

var (
	ErrUnmappedReason  = errors.New("reason has no root cause on this case")
	ErrMissingPartName = errors.New("a part name is required for materials missing from the catalog")
)

// NewCase builds the record for a create request. The store assigns the status and creation
// stamps, and the id when the command does not carry one.
func NewCase(cmd CreateCaseCommand, now time.Time) (models.ShortageCase, error) {
	if err := ValidateStruct(cmd); err != nil {
		return models.ShortageCase{}, err
	}

	partCode := strings.TrimSpace(cmd.PartCode)
	if partCode == "" && strings.TrimSpace(cmd.CustomPartName) == "" {
		return models.ShortageCase{}, ErrMissingPartName
	}
	if partCode == "" {
		partCode = models.PartCodeUnknown
	}

	displayName := cmd.DisplayName
	if SourceFlag(cmd.Source) == "None" && cmd.CustomPartName != "" {
		displayName = cmd.CustomPartName
	} else if displayName == "" {
		displayName = partCode
	}

	supplier := cmd.SupplierName
	if supplier == "" {
		supplier = defaultSupplier
	}

	source := models.Source(strings.ToLower(cmd.Source))
	if source == "none" {
		source = models.SourceUnset
	}

	by := cmd.CreatedBy
	if by == "" {
		by = changedByUser
	}

	return models.ShortageCase{
		ID:             strings.TrimSpace(cmd.ID),
		PartCode:       partCode,
		DisplayName:    displayName,
		CustomPartName: cmd.CustomPartName,
		Source:         source,
		SupplierName:   supplier,
		ShortageDate:   cmd.ShortageDate,
		ReasonTags:     dedupe(cmd.ReasonTags),
		AssignedTo:     cmd.AssignedTo,
		AssignedTeam:   cmd.AssignedTo,
		Activity: models.ActivityLog{
			{Type: activityCreate, By: by, At: models.FormatInstant(now)},
		},
	}, nil
}

// ChangeStatus builds the update for a workflow step click
func ChangeStatus(c models.ShortageCase, to models.Status, now time.Time) (models.Patch, error) {
	next, err := NextStatus(TriggerStepSelected, c.Status, to)
	if err != nil {
		return nil, err
	}
	stamp := models.FormatInstant(now)
	p := statusPatch(models.Patch{}, c.Status, next, stamp)
	return p.Set(models.FieldLastUpdated, stamp), nil
}

// SetETA appends to the ETA history, sets the current ETA and applies the ETA transition.
// Repeating the current ETA does not add a history entry, so it never counts as a change.
func SetETA(c models.ShortageCase, eta string, now time.Time) (models.Patch, error) {
	next, err := NextStatus(TriggerETASet, c.Status, "")
	if err != nil {
		return nil, err
	}
	stamp := models.FormatInstant(now)

	p := models.Patch{}.Set(models.FieldETA, eta)
	if n := len(c.ETAHistory); n == 0 || c.ETA != eta || c.ETAHistory[n-1].ETA != eta {
		history := append(models.ETAHistory(nil), c.ETAHistory...)
		entry := models.ETAEntry{ETA: eta, Date: stamp, ChangedBy: changedByUser}
		if len(history) == 0 {
			entry.IsInitial = true
		}
		p = p.Set(models.FieldETAHistory, append(history, entry))
	}
	p = statusPatch(p, c.Status, next, stamp)
	return p.Set(models.FieldLastUpdated, stamp), nil
}

// AssignTeam builds the update that changes the owning team
func AssignTeam(team string, now time.Time) models.Patch {
	return models.Patch{}.
		Set(models.FieldAssignedTeam, team).
		Set(models.FieldLastUpdated, models.FormatInstant(now))
}

// SetSource builds the update that changes the shortage source
func SetSource(source models.Source, now time.Time) models.Patch {
	return models.Patch{}.
		Set(models.FieldSource, source).
		Set(models.FieldLastUpdated, models.FormatInstant(now))
}

// SetTransport builds the update that changes the transport mode
func SetTransport(transport string, now time.Time) models.Patch {
	return models.Patch{}.
		Set(models.FieldTransport, transport).
		Set(models.FieldLastUpdated, models.FormatInstant(now))
}

// ToggleRootCause flips the completion of one root cause, keeping its notes
func ToggleRootCause(c models.ShortageCase, reason string, now time.Time) (models.Patch, error) {
	return SetRootCause(c, reason, !c.RootCauseSolutions[reason].Completed, now)
}

// SetRootCause sets the completion of one root cause, keeping its notes. Setting the state
// the item already has keeps its completion date.
func SetRootCause(c models.ShortageCase, reason string, completed bool, now time.Time) (models.Patch, error) {
	if !HasRootCause(c, reason) {
		return nil, errors.Wrapf(ErrUnmappedReason, "%q", reason)
	}

	current := c.RootCauseSolutions[reason]
	next := models.RootCauseSolution{
		Completed: completed,
		Notes:     current.Notes,
	}
	switch {
	case completed && current.Completed && current.CompletedDate != nil:
		at := *current.CompletedDate
		next.CompletedDate = &at
	case completed:
		at := now.UTC()
		next.CompletedDate = &at
	}

	return models.Patch{}.
		Set(models.RootCausePath(reason), next).
		Set(models.FieldLastUpdated, models.FormatInstant(now)), nil
}

// SetNotes builds the update that replaces the case notes
func SetNotes(notes string, now time.Time) models.Patch {
	return models.Patch{}.
		Set(models.FieldNotes, notes).
		Set(models.FieldLastUpdated, models.FormatInstant(now))
}

// DeleteRootCause removes the saved solution of one root cause. When no other entry remains
// the whole solutions field is removed instead of leaving an empty map.
func DeleteRootCause(c models.ShortageCase, reason string, now time.Time) (models.Patch, error) {
	_, saved := c.RootCauseSolutions[reason]
	if !saved && !HasRootCause(c, reason) {
		return nil, errors.Wrapf(ErrUnmappedReason, "%q", reason)
	}

	remaining := len(c.RootCauseSolutions)
	if saved {
		remaining--
	}

	p := models.Patch{}
	if remaining == 0 {
		p = p.Remove(models.FieldRootCauseSolutions)
	} else {
		p = p.Remove(models.RootCausePath(reason))
	}
	return p.Set(models.FieldLastUpdated, models.FormatInstant(now)), nil
}

// HasRootCause reports whether reason is tagged on c and maps to a root cause
func HasRootCause(c models.ShortageCase, reason string) bool {
	if _, ok := RootCauseFor(reason); !ok {
		return false
	}
	for _, tag := range c.ReasonTags {
		if tag == reason {
			return true
		}
	}
	return false
}

func dedupe(tags []string) models.ReasonTags {
	seen := make(map[string]struct{}, len(tags))
	out := make(models.ReasonTags, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
