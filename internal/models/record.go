package models

import (
	"fmt"
	"time"
)

// Reminder is an optional follow-up attached to a record.
type Reminder struct {
	Date    string `json:"date" bson:"date"` // "2006-01-02"
	Time    string `json:"time" bson:"time"` // "15:04"
	Subject string `json:"subject" bson:"subject"`
}

// DueAt returns the instant the reminder fires in loc.
func (r Reminder) DueAt(loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	clock := r.Time
	if clock == "" {
		clock = "00:00"
	}
	due, err := time.ParseInLocation(DateLayout+" "+TimeLayout, r.Date+" "+clock, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("reminder %q %q: %w: %w", r.Date, r.Time, ErrInvalidDate, err)
	}
	return due, nil
}

// Record represents one spare part moving through the workflow.
type Record struct {
	ID         string `json:"id" bson:"_id"`
	BaseID     string `json:"base_id" bson:"base_id"`
	TrackingID string `json:"tracking_id" bson:"tracking_id"`

	CustomerName string  `json:"customer_name" bson:"customer_name"`
	VIN          string  `json:"vin" bson:"vin"`
	Phone        string  `json:"phone" bson:"phone"`
	Mileage      float64 `json:"mileage" bson:"mileage"` // odometer, km
	Model        string  `json:"model" bson:"model"`
	Company      string  `json:"company" bson:"company"`

	PartNumber   string `json:"part_number" bson:"part_number"`
	Description  string `json:"description" bson:"description"`
	RepairSystem string `json:"repair_system" bson:"repair_system"`
	Requester    string `json:"requester" bson:"requester"`

	StartWarranty     string `json:"start_warranty,omitempty" bson:"start_warranty,omitempty"`
	EndWarranty       string `json:"end_warranty,omitempty" bson:"end_warranty,omitempty"`
	RemainingWarranty string `json:"remaining_warranty,omitempty" bson:"remaining_warranty,omitempty"`

	Status        string `json:"status" bson:"status"`
	PartStatus    string `json:"part_status,omitempty" bson:"part_status,omitempty"`
	BookingStatus string `json:"booking_status,omitempty" bson:"booking_status,omitempty"`
	BookingDate   string `json:"booking_date,omitempty" bson:"booking_date,omitempty"`
	BookingNote   string `json:"booking_note,omitempty" bson:"booking_note,omitempty"`
	ActionNote    string `json:"action_note,omitempty" bson:"action_note,omitempty"`

	AttachmentPath string    `json:"attachment_path,omitempty" bson:"attachment_path,omitempty"`
	Note           string    `json:"note,omitempty" bson:"note,omitempty"`
	Reminder       *Reminder `json:"reminder,omitempty" bson:"-"` // persisted as a child row

	CreatedAt time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`
}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	if r.Reminder != nil {
		rem := *r.Reminder
		r.Reminder = &rem
	}
	return r
}

// HasWarranty reports whether the record carries warranty data.
func (r Record) HasWarranty() bool {
	return r.EndWarranty != "" || r.StartWarranty != ""
}

// RefreshWarranty fills in the computed end date and remaining time.
func (r *Record) RefreshWarranty(now time.Time, loc *time.Location) {
	if r.EndWarranty == "" && r.StartWarranty != "" {
		if end, err := WarrantyEnd(r.StartWarranty, loc); err == nil {
			r.EndWarranty = end
		}
	}
	if r.EndWarranty == "" {
		r.RemainingWarranty = ""
		return
	}
	r.RemainingWarranty = RemainingWarranty(r.EndWarranty, now, loc)
}

// StagedRecord pairs a record with the stage it is persisted under.
type StagedRecord struct {
	Record Record
	Stage  Stage
}
