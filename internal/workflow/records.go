package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/ukydev/parts-workflow/internal/db"
	"github.com/ukydev/parts-workflow/internal/models"
	"github.com/ukydev/parts-workflow/internal/reconcile"
	"github.com/ukydev/parts-workflow/internal/store"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	ActionCreateOrders       = "Create orders"
	ActionDeleteRecords      = "Delete records"
	ActionUpdateRecord       = "Update record"
	ActionUpdatePartStatus   = "Update part status"
	ActionUpdateBooking      = "Update booking status"
	ActionSetBookingStatuses = "Update booking statuses"
)

// CreateOrders adds new records to Orders. Missing ids are generated; records
// of one call without a base id share a generated one.
func (e *Engine) CreateOrders(records []models.Record) ([]models.Record, error) {
	if len(records) == 0 {
		return nil, nil
	}
	if err := e.lock(); err != nil {
		return nil, err
	}
	defer e.mu.Unlock()

	now := e.now()
	batchBase := strings.ToUpper(primitive.NewObjectID().Hex()[16:])
	created := make([]models.StagedRecord, len(records))
	seen := make(map[string]bool, len(records))
	for i, r := range records {
		r = r.Clone()
		if r.ID == "" {
			r.ID = primitive.NewObjectID().Hex()
		}
		if _, _, exists := e.store.Get(r.ID); exists || seen[r.ID] {
			return nil, fmt.Errorf("%s: %w", r.ID, ErrDuplicateRecord)
		}
		seen[r.ID] = true
		if r.BaseID == "" {
			r.BaseID = batchBase
		}
		if r.Reminder != nil {
			if _, err := r.Reminder.DueAt(e.loc); err != nil {
				return nil, err
			}
		}
		r.Status = models.StatusOrdered
		r.TrackingID = models.StageOrders.TrackingID(r.BaseID)
		r.CreatedAt = now
		r.UpdatedAt = now
		r.RefreshWarranty(now, e.loc)
		created[i] = models.StagedRecord{Record: r, Stage: models.StageOrders}
	}

	e.mutate(reconcile.Mutation{
		Name:   ActionCreateOrders,
		Stages: []models.Stage{models.StageOrders},
		Apply: func(tx *store.Tx) bool {
			for _, sr := range created {
				if err := tx.Insert(models.StageOrders, sr.Record); err != nil {
					return false
				}
			}
			return true
		},
		Write: func(ctx context.Context, remote db.RecordCollection) error {
			if err := remote.InsertRecords(ctx, created); err != nil {
				return err
			}
			return remote.InsertReminders(ctx, db.ReminderRows(created))
		},
	})

	out := make([]models.Record, len(created))
	for i, sr := range created {
		out[i] = sr.Record
	}
	e.log.WithField("count", len(out)).Info("Orders created")
	return out, nil
}

// DeleteRecords removes records from whichever stage holds them.
func (e *Engine) DeleteRecords(ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	if err := e.lock(); err != nil {
		return 0, err
	}
	defer e.mu.Unlock()

	var stages []models.Stage
	seen := map[models.Stage]bool{}
	for _, id := range ids {
		if st, ok := e.store.StageOf(id); ok && !seen[st] {
			seen[st] = true
			stages = append(stages, st)
		}
	}
	if len(stages) == 0 {
		return 0, nil
	}

	var deleted []string
	e.mutate(reconcile.Mutation{
		Name:   ActionDeleteRecords,
		Stages: stages,
		Apply: func(tx *store.Tx) bool {
			for _, id := range tx.Find(ids, stages...) {
				if _, _, ok := tx.Delete(id); ok {
					deleted = append(deleted, id)
				}
			}
			return len(deleted) > 0
		},
		Write: func(ctx context.Context, remote db.RecordCollection) error {
			if err := remote.DeleteReminders(ctx, deleted); err != nil {
				return err
			}
			return remote.DeleteRecords(ctx, deleted)
		},
	})
	e.log.WithField("count", len(deleted)).Info("Records deleted")
	return len(deleted), nil
}

// RecordPatch holds the editable fields of UpdateRecord. Nil fields are left
// unchanged.
type RecordPatch struct {
	CustomerName   *string  `json:"customer_name,omitempty"`
	VIN            *string  `json:"vin,omitempty"`
	Phone          *string  `json:"phone,omitempty"`
	Mileage        *float64 `json:"mileage,omitempty"`
	Model          *string  `json:"model,omitempty"`
	Company        *string  `json:"company,omitempty"`
	PartNumber     *string  `json:"part_number,omitempty"`
	Description    *string  `json:"description,omitempty"`
	RepairSystem   *string  `json:"repair_system,omitempty"`
	Requester      *string  `json:"requester,omitempty"`
	StartWarranty  *string  `json:"start_warranty,omitempty"`
	EndWarranty    *string  `json:"end_warranty,omitempty"`
	AttachmentPath *string  `json:"attachment_path,omitempty"`
	Note           *string  `json:"note,omitempty"`
	// Reminder replaces the reminder; ClearReminder removes it.
	Reminder      *models.Reminder `json:"reminder,omitempty"`
	ClearReminder bool             `json:"clear_reminder,omitempty"`
}

func (p RecordPatch) apply(r *models.Record) {
	set := func(dst *string, v *string) {
		if v != nil {
			*dst = *v
		}
	}
	set(&r.CustomerName, p.CustomerName)
	set(&r.VIN, p.VIN)
	set(&r.Phone, p.Phone)
	set(&r.Model, p.Model)
	set(&r.Company, p.Company)
	set(&r.PartNumber, p.PartNumber)
	set(&r.Description, p.Description)
	set(&r.RepairSystem, p.RepairSystem)
	set(&r.Requester, p.Requester)
	set(&r.AttachmentPath, p.AttachmentPath)
	set(&r.Note, p.Note)
	if p.Mileage != nil {
		r.Mileage = *p.Mileage
	}
	if p.StartWarranty != nil || p.EndWarranty != nil {
		set(&r.StartWarranty, p.StartWarranty)
		set(&r.EndWarranty, p.EndWarranty)
		if p.EndWarranty == nil && p.StartWarranty != nil {
			// recompute from the new start
			r.EndWarranty = ""
		}
	}
	switch {
	case p.ClearReminder:
		r.Reminder = nil
	case p.Reminder != nil:
		rem := *p.Reminder
		r.Reminder = &rem
	}
}

// UpdateRecord edits the fields of one record in place.
func (e *Engine) UpdateRecord(id string, patch RecordPatch) (models.Record, error) {
	if patch.Reminder != nil {
		if _, err := patch.Reminder.DueAt(e.loc); err != nil {
			return models.Record{}, err
		}
	}
	if err := e.lock(); err != nil {
		return models.Record{}, err
	}
	defer e.mu.Unlock()

	stage, ok := e.store.StageOf(id)
	if !ok {
		return models.Record{}, fmt.Errorf("%s: %w", id, ErrRecordNotFound)
	}
	now := e.now()
	var updated models.Record
	applied := e.mutate(reconcile.Mutation{
		Name:   ActionUpdateRecord,
		Stages: []models.Stage{stage},
		Apply: func(tx *store.Tx) bool {
			before, _, _ := tx.Get(id)
			after := before.Clone()
			patch.apply(&after)
			after.RefreshWarranty(now, e.loc)
			if recordsEqual(before, after) {
				updated = before
				return false
			}
			after.UpdatedAt = now
			r, _, err := tx.Patch(id, func(r *models.Record) { *r = after })
			updated = r
			return err == nil
		},
		Write: func(ctx context.Context, remote db.RecordCollection) error {
			staged := []models.StagedRecord{{Record: updated, Stage: stage}}
			if err := remote.UpsertRecords(ctx, staged); err != nil {
				return err
			}
			if err := remote.DeleteReminders(ctx, []string{id}); err != nil {
				return err
			}
			return remote.InsertReminders(ctx, db.ReminderRows(staged))
		},
	})
	if applied {
		e.log.WithField("record_id", id).Info("Record updated")
	}
	return updated, nil
}

// UpdatePartStatus sets the part status of a record wherever it lives. The
// commit is debounced per record.
func (e *Engine) UpdatePartStatus(id, value string) (models.Record, error) {
	return e.patchStatus(id, "part_status", ActionUpdatePartStatus, func(r *models.Record) *string { return &r.PartStatus }, value)
}

// UpdateBookingStatus sets the booking status of a record wherever it lives.
// The commit is debounced per record.
func (e *Engine) UpdateBookingStatus(id, value string) (models.Record, error) {
	return e.patchStatus(id, "booking_status", ActionUpdateBooking, func(r *models.Record) *string { return &r.BookingStatus }, value)
}

func (e *Engine) patchStatus(id, field, action string, target func(*models.Record) *string, value string) (models.Record, error) {
	if err := e.lock(); err != nil {
		return models.Record{}, err
	}
	defer e.mu.Unlock()

	stage, ok := e.store.StageOf(id)
	if !ok {
		return models.Record{}, fmt.Errorf("%s: %w", id, ErrRecordNotFound)
	}
	key := field + ":" + id
	now := e.now()
	var updated models.Record
	applied := e.sync.Mutate(reconcile.Mutation{
		Name:   action,
		Stages: []models.Stage{stage},
		Apply: func(tx *store.Tx) bool {
			cur, _, _ := tx.Get(id)
			if *target(&cur) == value {
				updated = cur
				return false
			}
			r, _, err := tx.Patch(id, func(r *models.Record) {
				*target(r) = value
				r.UpdatedAt = now
			})
			updated = r
			return err == nil
		},
		Write: func(ctx context.Context, remote db.RecordCollection) error {
			return remote.PatchRecord(ctx, id, map[string]interface{}{field: value})
		},
		OnRollback: func(err error) {
			e.hist.CancelDebounced(key)
			e.log.WithError(err).WithFields(logrus.Fields{"record_id": id, "field": field}).Warn("Status patch rolled back")
		},
	})
	if applied {
		e.hist.DebouncedCommit(key, action)
	}
	return updated, nil
}

// SetBookingStatuses replaces the booking-status definitions.
func (e *Engine) SetBookingStatuses(defs []models.BookingStatusDef) error {
	for _, d := range defs {
		if strings.TrimSpace(d.Label) == "" {
			return fmt.Errorf("booking status label: %w", ErrEmptyValue)
		}
	}
	if err := e.lock(); err != nil {
		return err
	}
	defer e.mu.Unlock()

	prev := e.store.BookingStatuses()
	next := append([]models.BookingStatusDef(nil), defs...)
	e.mutate(reconcile.Mutation{
		Name: ActionSetBookingStatuses,
		Apply: func(tx *store.Tx) bool {
			if defsEqual(tx.BookingStatuses(), next) {
				return false
			}
			tx.SetBookingStatuses(next)
			return true
		},
		Write: func(ctx context.Context, remote db.RecordCollection) error {
			return remote.ReplaceBookingStatuses(ctx, next)
		},
		OnRollback: func(error) {
			e.store.SetBookingStatuses(prev)
		},
	})
	return nil
}

func defsEqual(a, b []models.BookingStatusDef) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func recordsEqual(a, b models.Record) bool {
	ra, rb := a.Reminder, b.Reminder
	a.Reminder, b.Reminder = nil, nil
	if a != b {
		return false
	}
	if ra == nil || rb == nil {
		return ra == rb
	}
	return *ra == *rb
}
