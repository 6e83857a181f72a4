package models

import "time"

// BookingStatusDef is a user-defined booking sub-state shown on the booking board.
type BookingStatusDef struct {
	Label string `json:"label" bson:"label"`
	Color string `json:"color" bson:"color"`
}

// Snapshot is a deep copy of every stage plus the booking-status definitions.
type Snapshot struct {
	Stages          map[Stage][]Record `json:"stages" bson:"stages"`
	BookingStatuses []BookingStatusDef `json:"booking_statuses" bson:"booking_statuses"`
}

// NewSnapshot returns a snapshot with every stage present and empty.
func NewSnapshot() Snapshot {
	s := Snapshot{Stages: make(map[Stage][]Record, len(Stages))}
	for _, stage := range Stages {
		s.Stages[stage] = []Record{}
	}
	return s
}

// Clone returns a deep copy of the snapshot.
func (s Snapshot) Clone() Snapshot {
	out := NewSnapshot()
	for stage, recs := range s.Stages {
		cp := make([]Record, len(recs))
		for i, r := range recs {
			cp[i] = r.Clone()
		}
		out.Stages[stage] = cp
	}
	out.BookingStatuses = append([]BookingStatusDef(nil), s.BookingStatuses...)
	return out
}

// Len returns the number of records across all stages.
func (s Snapshot) Len() int {
	n := 0
	for _, recs := range s.Stages {
		n += len(recs)
	}
	return n
}

// Commit is one audit/undo unit.
type Commit struct {
	ID         string    `json:"id" bson:"_id"`
	ActionName string    `json:"action_name" bson:"action_name"`
	Timestamp  time.Time `json:"timestamp" bson:"timestamp"`
	Snapshot   Snapshot  `json:"snapshot" bson:"snapshot"`
}

// CommitSummary is a commit without its snapshot, for listings.
type CommitSummary struct {
	ID         string    `json:"id"`
	ActionName string    `json:"action_name"`
	Timestamp  time.Time `json:"timestamp"`
	Records    int       `json:"records"`
}

// Summary strips the snapshot from the commit.
func (c Commit) Summary() CommitSummary {
	return CommitSummary{ID: c.ID, ActionName: c.ActionName, Timestamp: c.Timestamp, Records: c.Snapshot.Len()}
}
