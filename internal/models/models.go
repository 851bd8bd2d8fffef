package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// PartCodeUnknown marks a case raised for a part that is not in the catalog
const PartCodeUnknown = "No part code"

// InstantLayout is the wire format for instants written by this service
const InstantLayout = "2006-01-02T15:04:05.000Z"

// DateLayout is the wire format for calendar dates such as shortageDate and eta
const DateLayout = "2006-01-02"

// Status is the workflow position of a shortage case
type Status string

const (
	StatusCreated     Status = "created"
	StatusRequisition Status = "requisition"
	StatusOrdering    Status = "ordering"
	StatusReceived    Status = "received"
)

// Statuses lists the workflow states in progression order
var Statuses = []Status{StatusCreated, StatusRequisition, StatusOrdering, StatusReceived}

// Step returns the 0..3 position of the status, or -1 for an unknown value
func (s Status) Step() int {
	for i, st := range Statuses {
		if st == s {
			return i
		}
	}
	return -1
}

// IsValid reports whether s is one of the workflow states
func (s Status) IsValid() bool {
	return s.Step() >= 0
}

// IsResolved reports whether the case reached the terminal state
func (s Status) IsResolved() bool {
	return s == StatusReceived
}

// Source is where the shortage was discovered
type Source string

const (
	SourceUnset    Source = ""
	SourceBOM      Source = "bom"
	SourceKanban   Source = "kanban"
	SourceLongtree Source = "longtree"
	SourceOther    Source = "other"
)

// Sources lists the selectable sources
var Sources = []Source{SourceBOM, SourceKanban, SourceLongtree, SourceOther}

// IsValid reports whether s is a known source; unset counts as valid
func (s Source) IsValid() bool {
	if s == SourceUnset {
		return true
	}
	for _, src := range Sources {
		if src == s {
			return true
		}
	}
	return false
}

// ETAEntry is one line of a case's ETA history
type ETAEntry struct {
	ETA       string `json:"eta"`
	Date      string `json:"date"`
	ChangedBy string `json:"changedBy"`
	IsInitial bool   `json:"isInitial,omitempty"`
}

// RootCauseSolution is the persisted completion state of one root cause
type RootCauseSolution struct {
	Completed     bool       `json:"completed"`
	CompletedDate *time.Time `json:"completedDate"`
	Notes         string     `json:"notes"`
}

// ActivityEntry records who did what to a case
type ActivityEntry struct {
	Type string `json:"type"`
	By   string `json:"by"`
	At   string `json:"at"`
}

// ETAHistory is an append-only log stored as a JSON column
type ETAHistory []ETAEntry

// ReasonTags is the set of shortage reasons stored as a JSON column
type ReasonTags []string

// RootCauseSolutions maps a reason to its solution state, stored as a JSON column
type RootCauseSolutions map[string]RootCauseSolution

// ActivityLog is stored as a JSON column
type ActivityLog []ActivityEntry

// ShortageCase is one tracked missing-parts incident.
//
// Instants are kept as the strings the store delivered. They are parsed once, with a safe
// fallback, when a snapshot is normalized.
type ShortageCase struct {
	ID                 string             `gorm:"type:varchar(64);primaryKey" json:"id"`
	PartCode           string             `gorm:"index" json:"partCode"`
	DisplayName        string             `json:"displayName"`
	CustomPartName     string             `json:"customPartName,omitempty"`
	Source             Source             `gorm:"type:varchar(32);index" json:"source,omitempty"`
	SupplierName       string             `json:"supplierName,omitempty"`
	Status             Status             `gorm:"type:varchar(32);index" json:"status"`
	AssignedTo         string             `json:"assignedTo,omitempty"`
	AssignedTeam       string             `gorm:"index" json:"assignedTeam,omitempty"`
	ShortageDate       string             `json:"shortageDate,omitempty"`
	CreatedAt          string             `json:"createdAt,omitempty"`
	ResolvedAt         string             `json:"resolvedAt,omitempty"`
	LastUpdated        string             `json:"lastUpdated,omitempty"`
	ETA                string             `json:"eta,omitempty"`
	ETAHistory         ETAHistory         `gorm:"type:jsonb" json:"etaHistory,omitempty"`
	ReasonTags         ReasonTags         `gorm:"type:jsonb" json:"reasonTags,omitempty"`
	RootCauseSolutions RootCauseSolutions `gorm:"type:jsonb" json:"rootCauseSolutions,omitempty"`
	Activity           ActivityLog        `gorm:"type:jsonb" json:"activity,omitempty"`
	Transport          string             `json:"transport,omitempty"`
	Notes              string             `json:"notes,omitempty"`
}

// Snapshot is the complete case collection keyed by case id
type Snapshot map[string]ShortageCase

// Clone deep-copies every record
func (s Snapshot) Clone() Snapshot {
	out := make(Snapshot, len(s))
	for id, c := range s {
		out[id] = *c.Clone()
	}
	return out
}

// TableName pins the table name
func (ShortageCase) TableName() string {
	return "shortage_cases"
}

// Clone returns a deep copy so snapshot consumers can never alias store state
func (c *ShortageCase) Clone() *ShortageCase {
	out := *c
	if c.ETAHistory != nil {
		out.ETAHistory = append(ETAHistory(nil), c.ETAHistory...)
	}
	if c.ReasonTags != nil {
		out.ReasonTags = append(ReasonTags(nil), c.ReasonTags...)
	}
	if c.Activity != nil {
		out.Activity = append(ActivityLog(nil), c.Activity...)
	}
	if c.RootCauseSolutions != nil {
		out.RootCauseSolutions = make(RootCauseSolutions, len(c.RootCauseSolutions))
		for k, v := range c.RootCauseSolutions {
			if v.CompletedDate != nil {
				d := *v.CompletedDate
				v.CompletedDate = &d
			}
			out.RootCauseSolutions[k] = v
		}
	}
	return &out
}

// Label returns the custom part name when present, else the display name
func (c *ShortageCase) Label() string {
	if c.CustomPartName != "" {
		return c.CustomPartName
	}
	return c.DisplayName
}

// Material is a part catalog entry used to raise new cases
type Material struct {
	PartCode        string    `gorm:"type:varchar(64);primaryKey" json:"partCode"`
	Description     string    `json:"Description"`
	MaterialSummary string    `json:"MaterialSummary"`
	Source          string    `gorm:"type:varchar(32)" json:"Source"`
	SupplierName    string    `json:"SupplierName"`
	ShortageReason  string    `json:"ShortageReason,omitempty"`
	KanbanID        string    `json:"KanbanID,omitempty"`
	StockQty        float64   `json:"StockQty"`
	MinStock        float64   `json:"MinStock"`
	OpenPOQty       float64   `json:"OpenPOQty"`
	DaysCovered     float64   `json:"DaysCovered"`
	LeadTimeDays    int       `json:"LeadTimeDays"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

// TableName pins the table name
func (Material) TableName() string {
	return "materials"
}

// SetupModels runs the migrations for every persisted model
func SetupModels(db *gorm.DB) error {
	if err := db.AutoMigrate(&ShortageCase{}, &Material{}); err != nil {
		return errors.Wrap(err, "failed to auto-migrate models")
	}
	return nil
}

// Value implements driver.Valuer
func (h ETAHistory) Value() (driver.Value, error) { return jsonValue(h, h == nil) }

// Scan implements sql.Scanner
func (h *ETAHistory) Scan(src interface{}) error { return jsonScan(src, h) }

// Value implements driver.Valuer
func (r ReasonTags) Value() (driver.Value, error) { return jsonValue(r, r == nil) }

// Scan implements sql.Scanner
func (r *ReasonTags) Scan(src interface{}) error { return jsonScan(src, r) }

// Value implements driver.Valuer
func (s RootCauseSolutions) Value() (driver.Value, error) { return jsonValue(s, s == nil) }

// Scan implements sql.Scanner
func (s *RootCauseSolutions) Scan(src interface{}) error { return jsonScan(src, s) }

// Value implements driver.Valuer
func (a ActivityLog) Value() (driver.Value, error) { return jsonValue(a, a == nil) }

// Scan implements sql.Scanner
func (a *ActivityLog) Scan(src interface{}) error { return jsonScan(src, a) }

func jsonValue(v interface{}, isNil bool) (driver.Value, error) {
	if isNil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal json column")
	}
	return string(data), nil
}

func jsonScan(src interface{}, dest interface{}) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return errors.Errorf("unsupported json column type %T", src)
	}
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return errors.Wrap(err, "failed to unmarshal json column")
	}
	return nil
}

// FormatInstant renders t in the service's wire format
func FormatInstant(t time.Time) string {
	return t.UTC().Format(InstantLayout)
}
