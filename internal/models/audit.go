package models

import "time"

// HTTPAuditAction constants label entries in the request audit trail. This
// trail is an operational surface and is separate from the per-complaint
// audit log.
const (
	HTTPAuditActionLogin           = "LOGIN"
	HTTPAuditActionComplaintCreate = "COMPLAINT_CREATE"
	HTTPAuditActionComplaintUpdate = "COMPLAINT_UPDATE"
	HTTPAuditActionExportRequest   = "EXPORT_REQUEST"
)

// HTTPAuditLog represents one request audit trail record.
type HTTPAuditLog struct {
	ID         string    `db:"id" json:"id"`
	UserID     *string   `db:"user_id" json:"user_id,omitempty"`
	Action     string    `db:"action" json:"action"`
	Resource   string    `db:"resource" json:"resource"`
	ResourceID *string   `db:"resource_id" json:"resource_id,omitempty"`
	NewValues  []byte    `db:"new_values" json:"new_values,omitempty"`
	IPAddress  string    `db:"ip_address" json:"ip_address"`
	UserAgent  string    `db:"user_agent" json:"user_agent"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
