package db

import (
	"context"
	"errors"
	"time"

	"github.com/ukydev/parts-workflow/internal/models"
)

// ErrNotFound is returned when a document targeted by id does not exist.
var ErrNotFound = errors.New("not found")

// RecordCollection defines the remote persistent store the reconciliation
// layer mirrors mutations to. Reminders are child rows keyed by record id.
type RecordCollection interface {
	FindByStage(ctx context.Context, stage models.Stage) ([]models.Record, error)
	InsertRecords(ctx context.Context, records []models.StagedRecord) error
	UpsertRecords(ctx context.Context, records []models.StagedRecord) error
	PatchRecord(ctx context.Context, id string, fields map[string]interface{}) error
	DeleteRecords(ctx context.Context, ids []string) error
	DeleteAllRecords(ctx context.Context) error

	InsertReminders(ctx context.Context, reminders []ReminderRow) error
	DeleteReminders(ctx context.Context, recordIDs []string) error
	DeleteAllReminders(ctx context.Context) error

	FindBookingStatuses(ctx context.Context) ([]models.BookingStatusDef, error)
	ReplaceBookingStatuses(ctx context.Context, defs []models.BookingStatusDef) error
}

// AuditCollection defines persistence for the rolling audit log.
type AuditCollection interface {
	InsertCommit(ctx context.Context, commit models.Commit) error
	FindCommitsSince(ctx context.Context, since time.Time) ([]models.Commit, error)
	DeleteCommitsBefore(ctx context.Context, cutoff time.Time) error
	DeleteCommit(ctx context.Context, id string) error
}

// ReminderRow is the persisted form of a record's reminder.
type ReminderRow struct {
	RecordID string `json:"record_id" bson:"record_id"`
	Date     string `json:"date" bson:"date"`
	Time     string `json:"time" bson:"time"`
	Subject  string `json:"subject" bson:"subject"`
}

// ReminderRows extracts the reminder child rows of records.
func ReminderRows(records []models.StagedRecord) []ReminderRow {
	var rows []ReminderRow
	for _, sr := range records {
		if sr.Record.Reminder == nil {
			continue
		}
		rows = append(rows, ReminderRow{
			RecordID: sr.Record.ID,
			Date:     sr.Record.Reminder.Date,
			Time:     sr.Record.Reminder.Time,
			Subject:  sr.Record.Reminder.Subject,
		})
	}
	return rows
}

// Reminder converts the row back into the model value.
func (r ReminderRow) Reminder() *models.Reminder {
	return &models.Reminder{Date: r.Date, Time: r.Time, Subject: r.Subject}
}
