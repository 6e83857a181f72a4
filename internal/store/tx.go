package store

import (
	"fmt"

	"github.com/ukydev/parts-workflow/internal/models"
)

// Tx is a write transaction handed out by Store.Apply. It must not be kept
// after the callback returns.
type Tx struct {
	s *Store
}

// Get returns a copy of the record and its stage.
func (tx *Tx) Get(id string) (models.Record, models.Stage, bool) {
	e, ok := tx.s.index[id]
	if !ok {
		return models.Record{}, "", false
	}
	return e.record.Clone(), e.stage, true
}

// Find returns the ids among ids that currently sit in one of from, in the
// order given, skipping duplicates.
func (tx *Tx) Find(ids []string, from ...models.Stage) []string {
	allowed := make(map[models.Stage]bool, len(from))
	for _, st := range from {
		allowed[st] = true
	}
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if e, ok := tx.s.index[id]; ok && allowed[e.stage] {
			out = append(out, id)
		}
	}
	return out
}

// Move moves id into stage after applying rewrite to the record.
func (tx *Tx) Move(id string, to models.Stage, rewrite func(*models.Record)) (models.Record, error) {
	e, ok := tx.s.index[id]
	if !ok {
		return models.Record{}, fmt.Errorf("record %s not found", id)
	}
	if rewrite != nil {
		rewrite(&e.record)
	}
	if e.stage != to {
		tx.s.removeFromOrderLocked(e.stage, id)
		tx.s.order[to] = append(tx.s.order[to], id)
		e.stage = to
	}
	return e.record.Clone(), nil
}

// Patch rewrites id in place without changing its stage.
func (tx *Tx) Patch(id string, fn func(*models.Record)) (models.Record, models.Stage, error) {
	e, ok := tx.s.index[id]
	if !ok {
		return models.Record{}, "", fmt.Errorf("record %s not found", id)
	}
	fn(&e.record)
	return e.record.Clone(), e.stage, nil
}

// Insert adds a new record to stage. The id must not exist yet.
func (tx *Tx) Insert(stage models.Stage, r models.Record) error {
	if r.ID == "" {
		return fmt.Errorf("record id is empty")
	}
	if _, ok := tx.s.index[r.ID]; ok {
		return fmt.Errorf("record %s already exists", r.ID)
	}
	tx.s.index[r.ID] = &entry{record: r.Clone(), stage: stage}
	tx.s.order[stage] = append(tx.s.order[stage], r.ID)
	return nil
}

// Delete removes id from whichever stage holds it.
func (tx *Tx) Delete(id string) (models.Record, models.Stage, bool) {
	e, ok := tx.s.index[id]
	if !ok {
		return models.Record{}, "", false
	}
	tx.s.removeFromOrderLocked(e.stage, id)
	delete(tx.s.index, id)
	return e.record, e.stage, true
}

// BookingStatuses returns the booking-status definitions.
func (tx *Tx) BookingStatuses() []models.BookingStatusDef {
	return append([]models.BookingStatusDef(nil), tx.s.bookingStatuses...)
}

// SetBookingStatuses replaces the booking-status definitions.
func (tx *Tx) SetBookingStatuses(defs []models.BookingStatusDef) {
	tx.s.bookingStatuses = append([]models.BookingStatusDef(nil), defs...)
}
