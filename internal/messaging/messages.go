package messaging

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// Event types carried in the envelope
const (
	CaseChanged = "CaseChanged"

	CreateCase      = "CreateCase"
	ChangeStatus    = "ChangeStatus"
	SetETA          = "SetETA"
	AssignTeam      = "AssignTeam"
	SetSource       = "SetSource"
	SetTransport    = "SetTransport"
	SetRootCause    = "SetRootCause"
	DeleteRootCause = "DeleteRootCause"
	SetNotes        = "SetNotes"
)

// ErrPermanent marks a message that can never be processed and should be dead-lettered
var ErrPermanent = errors.New("message cannot be processed")

// Envelope is the common message structure
type Envelope struct {
	EventType string          `json:"eventType"`
	Data      json.RawMessage `json:"data"`
}

// CaseChangedEvent announces a committed write so other processes refresh their snapshot
type CaseChangedEvent struct {
	CaseID string   `json:"caseId"`
	Paths  []string `json:"paths,omitempty"`
	Origin string   `json:"origin"`
	At     string   `json:"at"`
}

// NewEnvelope wraps data under eventType
func NewEnvelope(eventType string, data interface{}) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, errors.Wrapf(err, "failed to marshal %s payload", eventType)
	}
	return Envelope{EventType: eventType, Data: raw}, nil
}
