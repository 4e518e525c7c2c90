package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Status enumerates the complaint lifecycle states. The set is flat: manual
// staff updates may move a complaint between any two states, only the
// automatic transitions are forward-only.
type Status string

const (
	StatusSubmitted  Status = "Submitted"
	StatusClassified Status = "Classified"
	StatusAssigned   Status = "Assigned"
	StatusInProgress Status = "In Progress"
	StatusResolved   Status = "Resolved"
	StatusClosed     Status = "Closed"
)

// AllStatuses lists every lifecycle state in canonical order.
func AllStatuses() []Status {
	return []Status{StatusSubmitted, StatusClassified, StatusAssigned, StatusInProgress, StatusResolved, StatusClosed}
}

// Valid reports whether the value is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusSubmitted, StatusClassified, StatusAssigned, StatusInProgress, StatusResolved, StatusClosed:
		return true
	default:
		return false
	}
}

// Open reports whether the complaint still needs attention.
func (s Status) Open() bool {
	return s != StatusResolved && s != StatusClosed
}

// Urgency ranks how quickly a complaint needs handling.
type Urgency string

const (
	UrgencyHigh   Urgency = "High"
	UrgencyMedium Urgency = "Medium"
	UrgencyLow    Urgency = "Low"
)

// Valid reports whether the value is a known urgency.
func (u Urgency) Valid() bool {
	switch u {
	case UrgencyHigh, UrgencyMedium, UrgencyLow:
		return true
	default:
		return false
	}
}

// Category groups complaints by subject matter.
type Category string

const (
	CategoryInfrastructure Category = "Infrastructure"
	CategoryService        Category = "Service"
	CategorySafety         Category = "Safety"
	CategoryBilling        Category = "Billing"
	CategoryOther          Category = "Other"
)

// Valid reports whether the value is a known category.
func (c Category) Valid() bool {
	switch c {
	case CategoryInfrastructure, CategoryService, CategorySafety, CategoryBilling, CategoryOther:
		return true
	default:
		return false
	}
}

// Department identifies the municipal unit a complaint is routed to.
type Department string

const (
	DepartmentPublicWorks    Department = "Public Works"
	DepartmentUtilities      Department = "Utilities"
	DepartmentParksAndRec    Department = "Parks and Recreation"
	DepartmentAdministration Department = "Administration"
	DepartmentGeneral        Department = "General"
)

// Valid reports whether the value is a known department.
func (d Department) Valid() bool {
	switch d {
	case DepartmentPublicWorks, DepartmentUtilities, DepartmentParksAndRec, DepartmentAdministration, DepartmentGeneral:
		return true
	default:
		return false
	}
}

// Fallback classification applied when the external classifier is
// unavailable or fails. Complaints never stay unclassified.
const (
	FallbackUrgency    = UrgencyMedium
	FallbackCategory   = CategoryOther
	FallbackDepartment = DepartmentGeneral
)

// SystemActorID is the synthetic identity recorded on automatic transitions.
const SystemActorID = "system-ai"

// AuditLogEntry is one record in a complaint's append-only history.
type AuditLogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	ActorID   string    `json:"actor_id"`
	Action    string    `json:"action"`
	Details   string    `json:"details"`
}

// AuditLog is the ordered, append-only history column. It is stored as a
// JSONB array so concurrent appends merge additively at the store.
type AuditLog []AuditLogEntry

// Value implements driver.Valuer.
func (a AuditLog) Value() (driver.Value, error) {
	if a == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(a)
}

// Scan implements sql.Scanner.
func (a *AuditLog) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*a = AuditLog{}
		return nil
	case []byte:
		return json.Unmarshal(v, a)
	case string:
		return json.Unmarshal([]byte(v), a)
	default:
		return fmt.Errorf("unsupported audit log source type %T", src)
	}
}

// Location is an optional coordinate pair captured at submission time.
type Location struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Value implements driver.Valuer.
func (l *Location) Value() (driver.Value, error) {
	if l == nil {
		return nil, nil
	}
	return json.Marshal(l)
}

// Scan implements sql.Scanner.
func (l *Location) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	default:
		return fmt.Errorf("unsupported location source type %T", src)
	}
}

// Complaint is the central entity tracked through the lifecycle.
type Complaint struct {
	ID          string      `db:"id" json:"id"`
	Text        string      `db:"text" json:"text"`
	SubmittedBy string      `db:"submitted_by" json:"submitted_by"`
	Timestamp   time.Time   `db:"timestamp" json:"timestamp"`
	Status      Status      `db:"status" json:"status"`
	Urgency     *Urgency    `db:"urgency" json:"urgency"`
	Category    *Category   `db:"category" json:"category"`
	Department  *Department `db:"department" json:"department"`
	AssignedTo  *string     `db:"assigned_to" json:"assigned_to"`
	AuditLog    AuditLog    `db:"audit_log" json:"audit_log"`
	Location    *Location   `db:"location" json:"location,omitempty"`
}

// Assignee returns the current assignee, treating null and empty string as
// the same "no assignee" state.
func (c *Complaint) Assignee() string {
	if c.AssignedTo == nil {
		return ""
	}
	return *c.AssignedTo
}

// FilterAssignedNone is the sentinel matching complaints without an assignee.
const FilterAssignedNone = "unassigned"

// ComplaintFilter captures listing criteria.
type ComplaintFilter struct {
	Status      Status
	Urgency     Urgency
	Department  Department
	Assigned    string
	SubmittedBy string
	Page        int
	PageSize    int
}

// ComplaintUpdate is a partial update applied together with one audit entry.
// Nil fields are left untouched by the store.
type ComplaintUpdate struct {
	Status     *Status
	Urgency    *Urgency
	Category   *Category
	Department *Department
	AssignedTo *string
	// ClearAssignee distinguishes "set assignee to none" from "leave as is".
	ClearAssignee bool
}

// Empty reports whether the update would change nothing.
func (u ComplaintUpdate) Empty() bool {
	return u.Status == nil && u.Urgency == nil && u.Category == nil &&
		u.Department == nil && u.AssignedTo == nil && !u.ClearAssignee
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
