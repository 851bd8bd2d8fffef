package models

import (
	"strings"

	"github.com/pkg/errors"
)

// Field paths accepted by Patch
const (
	FieldStatus             = "status"
	FieldResolvedAt         = "resolvedAt"
	FieldLastUpdated        = "lastUpdated"
	FieldETA                = "eta"
	FieldETAHistory         = "etaHistory"
	FieldAssignedTeam       = "assignedTeam"
	FieldSource             = "source"
	FieldTransport          = "transport"
	FieldNotes              = "notes"
	FieldRootCauseSolutions = "rootCauseSolutions"
)

// ErrInvalidPatch is returned when an operation targets an unknown path or carries the
// wrong value type
var ErrInvalidPatch = errors.New("invalid patch")

// ErrMaterialNotFound is returned when a part code is not in the catalog
var ErrMaterialNotFound = errors.New("material not found")

// PatchOp sets or removes a single field. Paths of the form
// "rootCauseSolutions/<reason>" address one entry of the solutions map.
type PatchOp struct {
	Path   string      `json:"path"`
	Value  interface{} `json:"value,omitempty"`
	Remove bool        `json:"remove,omitempty"`
}

// Patch is an ordered merge-patch applied to one case
type Patch []PatchOp

// Set appends a set operation
func (p Patch) Set(path string, value interface{}) Patch {
	return append(p, PatchOp{Path: path, Value: value})
}

// Remove appends a remove operation
func (p Patch) Remove(path string) Patch {
	return append(p, PatchOp{Path: path, Remove: true})
}

// Paths lists the touched paths in order
func (p Patch) Paths() []string {
	paths := make([]string, 0, len(p))
	for _, op := range p {
		paths = append(paths, op.Path)
	}
	return paths
}

// RootCausePath addresses the solution entry for reason
func RootCausePath(reason string) string {
	return FieldRootCauseSolutions + "/" + reason
}

// Apply runs every operation against c. Nothing is applied when any operation fails.
func (p Patch) Apply(c *ShortageCase) error {
	work := c.Clone()
	for _, op := range p {
		if err := applyOp(work, op); err != nil {
			return err
		}
	}
	*c = *work
	return nil
}

func applyOp(c *ShortageCase, op PatchOp) error {
	if reason, ok := strings.CutPrefix(op.Path, FieldRootCauseSolutions+"/"); ok {
		if reason == "" {
			return errors.Wrap(ErrInvalidPatch, "empty root cause reason")
		}
		if op.Remove {
			delete(c.RootCauseSolutions, reason)
			return nil
		}
		sol, ok := op.Value.(RootCauseSolution)
		if !ok {
			return errors.Wrapf(ErrInvalidPatch, "%s expects RootCauseSolution, got %T", op.Path, op.Value)
		}
		if c.RootCauseSolutions == nil {
			c.RootCauseSolutions = RootCauseSolutions{}
		}
		c.RootCauseSolutions[reason] = sol
		return nil
	}

	switch op.Path {
	case FieldStatus:
		if op.Remove {
			return errors.Wrap(ErrInvalidPatch, "status cannot be removed")
		}
		st, ok := op.Value.(Status)
		if !ok || !st.IsValid() {
			return errors.Wrapf(ErrInvalidPatch, "invalid status %v", op.Value)
		}
		c.Status = st
	case FieldSource:
		if op.Remove {
			c.Source = SourceUnset
			return nil
		}
		src, ok := op.Value.(Source)
		if !ok || !src.IsValid() {
			return errors.Wrapf(ErrInvalidPatch, "invalid source %v", op.Value)
		}
		c.Source = src
	case FieldETAHistory:
		if op.Remove {
			c.ETAHistory = nil
			return nil
		}
		h, ok := op.Value.(ETAHistory)
		if !ok {
			return errors.Wrapf(ErrInvalidPatch, "etaHistory expects ETAHistory, got %T", op.Value)
		}
		c.ETAHistory = h
	case FieldRootCauseSolutions:
		if op.Remove {
			c.RootCauseSolutions = nil
			return nil
		}
		m, ok := op.Value.(RootCauseSolutions)
		if !ok {
			return errors.Wrapf(ErrInvalidPatch, "rootCauseSolutions expects RootCauseSolutions, got %T", op.Value)
		}
		c.RootCauseSolutions = m
	case FieldResolvedAt, FieldLastUpdated, FieldETA, FieldAssignedTeam, FieldTransport, FieldNotes:
		var s string
		if !op.Remove {
			v, ok := op.Value.(string)
			if !ok {
				return errors.Wrapf(ErrInvalidPatch, "%s expects string, got %T", op.Path, op.Value)
			}
			s = v
		}
		*stringField(c, op.Path) = s
	default:
		return errors.Wrapf(ErrInvalidPatch, "unknown path %q", op.Path)
	}
	return nil
}

func stringField(c *ShortageCase, path string) *string {
	switch path {
	case FieldResolvedAt:
		return &c.ResolvedAt
	case FieldLastUpdated:
		return &c.LastUpdated
	case FieldETA:
		return &c.ETA
	case FieldAssignedTeam:
		return &c.AssignedTeam
	case FieldTransport:
		return &c.Transport
	default:
		return &c.Notes
	}
}
