// Package store holds the five workflow containers in memory.
//
// Records are indexed by id with a back-reference to the stage that holds
// them, and each stage keeps its own ordering. A record id lives in exactly
// one stage at any instant. Writers go through Apply so that a whole
// transition becomes visible to readers at once.
package store

import (
	"sync"

	"github.com/ukydev/parts-workflow/internal/models"
)

type entry struct {
	record models.Record
	stage  models.Stage
}

// Store is the in-memory record store.
type Store struct {
	mu sync.RWMutex
	// records indexed by id
	index map[string]*entry
	// per-stage ordering of ids
	order           map[models.Stage][]string
	bookingStatuses []models.BookingStatusDef
}

// New creates an empty store.
func New() *Store {
	s := &Store{}
	s.resetLocked()
	return s
}

func (s *Store) resetLocked() {
	s.index = make(map[string]*entry)
	s.order = make(map[models.Stage][]string, len(models.Stages))
	for _, stage := range models.Stages {
		s.order[stage] = nil
	}
}

// Stage returns copies of the records held by stage, in stage order.
func (s *Store) Stage(stage models.Stage) []models.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stageLocked(stage)
}

func (s *Store) stageLocked(stage models.Stage) []models.Record {
	ids := s.order[stage]
	out := make([]models.Record, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.index[id].record.Clone())
	}
	return out
}

// Get returns a copy of the record and the stage that holds it.
func (s *Store) Get(id string) (models.Record, models.Stage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.index[id]
	if !ok {
		return models.Record{}, "", false
	}
	return e.record.Clone(), e.stage, true
}

// StageOf returns the stage holding id.
func (s *Store) StageOf(id string) (models.Stage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.index[id]
	if !ok {
		return "", false
	}
	return e.stage, true
}

// Counts returns the number of records per stage.
func (s *Store) Counts() map[models.Stage]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[models.Stage]int, len(s.order))
	for stage, ids := range s.order {
		out[stage] = len(ids)
	}
	return out
}

// Len returns the total number of records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.index)
}

// BookingStatuses returns the booking-status definitions.
func (s *Store) BookingStatuses() []models.BookingStatusDef {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.BookingStatusDef(nil), s.bookingStatuses...)
}

// SetBookingStatuses replaces the booking-status definitions.
func (s *Store) SetBookingStatuses(defs []models.BookingStatusDef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bookingStatuses = append([]models.BookingStatusDef(nil), defs...)
}

// SetContainer replaces the contents of stage. Records that currently sit in
// another stage are moved, so the partition invariant holds afterwards.
func (s *Store) SetContainer(stage models.Stage, records []models.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setContainerLocked(stage, records)
}

func (s *Store) setContainerLocked(stage models.Stage, records []models.Record) {
	for _, id := range s.order[stage] {
		delete(s.index, id)
	}
	s.order[stage] = nil

	ids := make([]string, 0, len(records))
	for _, r := range records {
		if e, ok := s.index[r.ID]; ok {
			if e.stage == stage {
				// duplicate id in the incoming list; last one wins
				e.record = r.Clone()
				continue
			}
			s.removeFromOrderLocked(e.stage, r.ID)
		}
		s.index[r.ID] = &entry{record: r.Clone(), stage: stage}
		ids = append(ids, r.ID)
	}
	s.order[stage] = ids
}

func (s *Store) removeFromOrderLocked(stage models.Stage, id string) {
	ids := s.order[stage]
	for i, cur := range ids {
		if cur == id {
			s.order[stage] = append(ids[:i:i], ids[i+1:]...)
			return
		}
	}
}

// Snapshot returns a deep copy of every stage and the booking statuses.
func (s *Store) Snapshot() models.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := models.NewSnapshot()
	for _, stage := range models.Stages {
		snap.Stages[stage] = s.stageLocked(stage)
	}
	snap.BookingStatuses = append([]models.BookingStatusDef(nil), s.bookingStatuses...)
	return snap
}

// SnapshotStages returns a deep copy of the given stages only.
func (s *Store) SnapshotStages(stages []models.Stage) map[models.Stage][]models.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[models.Stage][]models.Record, len(stages))
	for _, stage := range stages {
		out[stage] = s.stageLocked(stage)
	}
	return out
}

// RestoreStages puts the given stages back to a previous SnapshotStages result.
func (s *Store) RestoreStages(prev map[models.Stage][]models.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// clear first so records moving between the restored stages are not
	// dropped by a later SetContainer of their old stage
	for stage := range prev {
		for _, id := range s.order[stage] {
			delete(s.index, id)
		}
		s.order[stage] = nil
	}
	for stage, recs := range prev {
		s.setContainerLocked(stage, recs)
	}
}

// Load overwrites every stage and the booking statuses with snap.
func (s *Store) Load(snap models.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
	for _, stage := range models.Stages {
		s.setContainerLocked(stage, snap.Stages[stage])
	}
	s.bookingStatuses = append([]models.BookingStatusDef(nil), snap.BookingStatuses...)
}

// Apply runs fn inside a single write transaction. fn reports whether it
// changed anything; the result is passed through.
func (s *Store) Apply(fn func(tx *Tx) bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&Tx{s: s})
}
