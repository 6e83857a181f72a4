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
)

// Commit names of the stage transitions.
const (
	ActionCommitToMain = "Commit to main sheet"
	ActionSendToCall   = "Send to call list"
	ActionSendToBook   = "Send to booking"
	ActionSendToArch   = "Send to archive"
	ActionSendToOrder  = "Send to reorder"

	// AutoArchiveReason is the archive note of records whose warranty ran out.
	AutoArchiveReason = "Auto-archived: Warranty expired"
)

// Booking carries the parameters of SendToBooking.
type Booking struct {
	Date   string `json:"date"`
	Note   string `json:"note,omitempty"`
	Status string `json:"status,omitempty"` // kept as is when empty
}

type transition struct {
	name    string
	from    []models.Stage
	to      models.Stage
	status  string
	rewrite func(*models.Record)
}

// move runs t over ids. Records not sitting in one of t.from are skipped.
// It returns the moved records.
func (e *Engine) move(ids []string, t transition) ([]models.Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	if err := e.lock(); err != nil {
		return nil, err
	}
	defer e.mu.Unlock()

	stages := append(append([]models.Stage(nil), t.from...), t.to)
	now := e.now()
	var moved []models.StagedRecord
	applied := e.mutate(reconcile.Mutation{
		Name:   t.name,
		Stages: stages,
		Apply: func(tx *store.Tx) bool {
			for _, id := range tx.Find(ids, t.from...) {
				r, err := tx.Move(id, t.to, func(r *models.Record) {
					r.Status = t.status
					r.TrackingID = t.to.TrackingID(r.BaseID)
					r.UpdatedAt = now
					if t.rewrite != nil {
						t.rewrite(r)
					}
				})
				if err != nil {
					continue
				}
				moved = append(moved, models.StagedRecord{Record: r, Stage: t.to})
			}
			return len(moved) > 0
		},
		Write: func(ctx context.Context, remote db.RecordCollection) error {
			return remote.UpsertRecords(ctx, moved)
		},
	})
	if !applied {
		return nil, nil
	}

	out := make([]models.Record, len(moved))
	for i, sr := range moved {
		out[i] = sr.Record
	}
	e.log.WithFields(logrus.Fields{"action": t.name, "to": t.to, "count": len(out)}).Info("Records moved")
	return out, nil
}

// CommitToMainSheet moves records from Orders to Main.
func (e *Engine) CommitToMainSheet(ids []string) ([]models.Record, error) {
	return e.move(ids, transition{
		name:   ActionCommitToMain,
		from:   []models.Stage{models.StageOrders},
		to:     models.StageMain,
		status: models.StatusPending,
	})
}

// SendToCallList moves records from Main to Call.
func (e *Engine) SendToCallList(ids []string) ([]models.Record, error) {
	return e.move(ids, transition{
		name:   ActionSendToCall,
		from:   []models.Stage{models.StageMain},
		to:     models.StageCall,
		status: models.StatusCall,
	})
}

// SendToBooking moves records from Main, Orders or Call to Booking.
func (e *Engine) SendToBooking(ids []string, b Booking) ([]models.Record, error) {
	if strings.TrimSpace(b.Date) == "" {
		return nil, fmt.Errorf("booking date: %w", ErrEmptyValue)
	}
	if _, err := models.ParseDate(b.Date, e.loc); err != nil {
		return nil, fmt.Errorf("booking date: %w", err)
	}
	return e.move(ids, transition{
		name:   ActionSendToBook,
		from:   []models.Stage{models.StageMain, models.StageOrders, models.StageCall},
		to:     models.StageBooking,
		status: models.StatusBooked,
		rewrite: func(r *models.Record) {
			r.BookingDate = b.Date
			r.BookingNote = b.Note
			if b.Status != "" {
				r.BookingStatus = b.Status
			}
		},
	})
}

// SendToArchive moves records from Booking, Call or Main to Archive.
func (e *Engine) SendToArchive(ids []string, reason string) ([]models.Record, error) {
	return e.move(ids, transition{
		name:    ActionSendToArch,
		from:    []models.Stage{models.StageBooking, models.StageCall, models.StageMain},
		to:      models.StageArchive,
		status:  models.StatusArchived,
		rewrite: func(r *models.Record) { r.ActionNote = reason },
	})
}

// SendToReorder moves records from Booking, Call or Archive back to Orders
// and clears their booking. A blank reason is rejected.
func (e *Engine) SendToReorder(ids []string, reason string) ([]models.Record, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, ErrReasonRequired
	}
	return e.move(ids, transition{
		name:   ActionSendToOrder,
		from:   []models.Stage{models.StageBooking, models.StageCall, models.StageArchive},
		to:     models.StageOrders,
		status: models.StatusReorder,
		rewrite: func(r *models.Record) {
			r.ActionNote = reason
			r.BookingDate = ""
			r.BookingNote = ""
		},
	})
}

// CheckAttachments fails with ErrAttachmentRequired when one of the Orders
// records among ids has no attached file.
func (e *Engine) CheckAttachments(ids []string) error {
	for _, id := range ids {
		r, stage, ok := e.store.Get(id)
		if !ok || stage != models.StageOrders {
			continue
		}
		if strings.TrimSpace(r.AttachmentPath) == "" {
			return fmt.Errorf("%s: %w", r.TrackingID, ErrAttachmentRequired)
		}
	}
	return nil
}
