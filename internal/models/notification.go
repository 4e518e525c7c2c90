package models

import "time"

// Topics name the live-subscription channels pushed to websocket clients.
const (
	TopicComplaints    = "complaints"
	TopicNotifications = "notifications"
)

// Notification is a derived side-channel record created by system actions.
// Notifications are never deleted; read only ever flips false -> true.
type Notification struct {
	ID          string    `db:"id" json:"id"`
	ComplaintID string    `db:"complaint_id" json:"complaint_id"`
	Message     string    `db:"message" json:"message"`
	Timestamp   time.Time `db:"timestamp" json:"timestamp"`
	Read        bool      `db:"read" json:"read"`
}
