package db

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ukydev/parts-workflow/internal/models"
)

// MemoryRecordStore is an in-process RecordCollection, used when the service
// runs without MongoDB and as the remote in engine tests.
type MemoryRecordStore struct {
	mu              sync.Mutex
	records         map[string]recordDocument
	seq             map[string]int
	next            int
	reminders       []ReminderRow
	bookingStatuses []models.BookingStatusDef
}

// NewMemoryRecordStore creates an empty in-memory store.
func NewMemoryRecordStore() *MemoryRecordStore {
	return &MemoryRecordStore{
		records: make(map[string]recordDocument),
		seq:     make(map[string]int),
	}
}

// FindByStage returns the records of stage in insertion order.
func (m *MemoryRecordStore) FindByStage(ctx context.Context, stage models.Stage) ([]models.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := []models.Record{}
	for _, d := range m.records {
		if d.Stage == stage {
			r := d.Record.Clone()
			for _, row := range m.reminders {
				if row.RecordID == r.ID {
					r.Reminder = row.Reminder()
				}
			}
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return m.seq[out[i].ID] < m.seq[out[j].ID] })
	return out, nil
}

func (m *MemoryRecordStore) putLocked(sr models.StagedRecord) {
	r := sr.Record.Clone()
	r.Reminder = nil
	if _, ok := m.seq[r.ID]; !ok {
		m.next++
		m.seq[r.ID] = m.next
	}
	m.records[r.ID] = recordDocument{Record: r, Stage: sr.Stage}
}

// InsertRecords inserts new records; an existing id is an error.
func (m *MemoryRecordStore) InsertRecords(ctx context.Context, records []models.StagedRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sr := range records {
		if _, ok := m.records[sr.Record.ID]; ok {
			return fmt.Errorf("duplicate record id %s", sr.Record.ID)
		}
	}
	for _, sr := range records {
		m.putLocked(sr)
	}
	return nil
}

// UpsertRecords replaces or inserts records by id.
func (m *MemoryRecordStore) UpsertRecords(ctx context.Context, records []models.StagedRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sr := range records {
		m.putLocked(sr)
	}
	return nil
}

// PatchRecord applies known field names to one record.
func (m *MemoryRecordStore) PatchRecord(ctx context.Context, id string, fields map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.records[id]
	if !ok {
		return fmt.Errorf("record %s: %w", id, ErrNotFound)
	}
	for k, v := range fields {
		s, _ := v.(string)
		switch k {
		case "part_status":
			d.PartStatus = s
		case "booking_status":
			d.BookingStatus = s
		case "note":
			d.Note = s
		case "attachment_path":
			d.AttachmentPath = s
		}
	}
	m.records[id] = d
	return nil
}

// DeleteRecords deletes records by id.
func (m *MemoryRecordStore) DeleteRecords(ctx context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.records, id)
	}
	return nil
}

// DeleteAllRecords deletes every record.
func (m *MemoryRecordStore) DeleteAllRecords(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = make(map[string]recordDocument)
	return nil
}

// InsertReminders appends reminder rows.
func (m *MemoryRecordStore) InsertReminders(ctx context.Context, reminders []ReminderRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reminders = append(m.reminders, reminders...)
	return nil
}

// DeleteReminders removes the reminder rows of the given records.
func (m *MemoryRecordStore) DeleteReminders(ctx context.Context, recordIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	drop := make(map[string]bool, len(recordIDs))
	for _, id := range recordIDs {
		drop[id] = true
	}
	kept := m.reminders[:0]
	for _, row := range m.reminders {
		if !drop[row.RecordID] {
			kept = append(kept, row)
		}
	}
	m.reminders = kept
	return nil
}

// DeleteAllReminders removes every reminder row.
func (m *MemoryRecordStore) DeleteAllReminders(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reminders = nil
	return nil
}

// FindBookingStatuses returns the booking-status definitions.
func (m *MemoryRecordStore) FindBookingStatuses(ctx context.Context) ([]models.BookingStatusDef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.BookingStatusDef(nil), m.bookingStatuses...), nil
}

// ReplaceBookingStatuses overwrites the booking-status definitions.
func (m *MemoryRecordStore) ReplaceBookingStatuses(ctx context.Context, defs []models.BookingStatusDef) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bookingStatuses = append([]models.BookingStatusDef(nil), defs...)
	return nil
}

// Reminders returns a copy of the stored reminder rows.
func (m *MemoryRecordStore) Reminders() []ReminderRow {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ReminderRow(nil), m.reminders...)
}

// Len returns the number of stored records.
func (m *MemoryRecordStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}
