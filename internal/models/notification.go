package models

import "time"

// NotificationKind tells the UI how to render a notification.
type NotificationKind string

const (
	NotificationReminderDue    NotificationKind = "reminder_due"
	NotificationWarrantyActive NotificationKind = "warranty_active"
)

// Notification is one entry of the scheduler's feed.
type Notification struct {
	ID        string           `json:"id" bson:"_id"`
	Kind      NotificationKind `json:"kind" bson:"kind"`
	Title     string           `json:"title" bson:"title"`
	Message   string           `json:"message" bson:"message"`
	RecordID  string           `json:"record_id" bson:"record_id"`     // deep link target
	Stage     Stage            `json:"stage" bson:"stage"`             // deep link container
	DedupKey  string           `json:"-" bson:"dedup_key"`             // one open notification per key
	EventKey  string           `json:"-" bson:"event_key,omitempty"` // dismissed events stay quiet; defaults to DedupKey
	IsRead    bool             `json:"is_read" bson:"is_read"`
	CreatedAt time.Time        `json:"created_at" bson:"created_at"`
}
