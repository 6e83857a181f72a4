// Package scheduler periodically scans the active stages, raises reminder
// and warranty notifications and archives records whose warranty ran out.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/ukydev/parts-workflow/internal/models"
	"github.com/ukydev/parts-workflow/internal/notify"
	"github.com/ukydev/parts-workflow/internal/workflow"
)

const (
	DefaultInterval     = time.Minute
	DefaultStartupDelay = 2 * time.Second
)

// scanned lists the stages the scan looks at, in scan order.
var scanned = []models.Stage{models.StageOrders, models.StageMain, models.StageBooking, models.StageCall}

// Engine is the part of the workflow engine the scheduler drives.
type Engine interface {
	Stage(stage models.Stage) []models.Record
	SendToArchive(ids []string, reason string) ([]models.Record, error)
}

// Options configures a Scheduler.
type Options struct {
	Interval     time.Duration
	StartupDelay time.Duration
	// WarnWindow limits warranty notifications to warranties ending within
	// it. Zero or less notifies every active warranty.
	WarnWindow time.Duration
	Location   *time.Location
	Now        func() time.Time
	Logger     logrus.FieldLogger
}

// Scheduler runs the periodic scan.
type Scheduler struct {
	engine Engine
	feed   *notify.Feed
	opts   Options
	log    logrus.FieldLogger
}

// Result summarises one scan.
type Result struct {
	Reminders int      `json:"reminders"`
	Warranty  int      `json:"warranty"`
	Archived  []string `json:"archived"`
}

// New creates a scheduler. Zero intervals pick the defaults.
func New(engine Engine, feed *notify.Feed, opts Options) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.StartupDelay <= 0 {
		opts.StartupDelay = DefaultStartupDelay
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &Scheduler{
		engine: engine,
		feed:   feed,
		opts:   opts,
		log:    opts.Logger.WithField("component", "scheduler"),
	}
}

// Run scans once after the startup delay and then on every interval until
// ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.WithFields(logrus.Fields{"interval": s.opts.Interval, "startup_delay": s.opts.StartupDelay}).Info("Scheduler started")
	timer := time.NewTimer(s.opts.StartupDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil
	case <-timer.C:
	}
	s.Scan(s.opts.Now())

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("Scheduler stopped")
			return nil
		case <-ticker.C:
			s.Scan(s.opts.Now())
		}
	}
}

// Scan checks every record of Orders, Main, Booking and Call against now.
func (s *Scheduler) Scan(now time.Time) Result {
	var res Result
	var expired []string
	for _, stage := range scanned {
		for _, r := range s.engine.Stage(stage) {
			if s.checkReminder(r, stage, now) {
				res.Reminders++
			}
			if !r.HasWarranty() {
				continue
			}
			end, ok := s.warrantyEnd(r)
			if !ok {
				continue
			}
			isExpired, err := models.WarrantyExpired(end, now, s.opts.Location)
			if err != nil {
				s.log.WithError(err).WithField("record_id", r.ID).Warn("Invalid warranty date")
				continue
			}
			if isExpired {
				// Orders is not an archive source; such records stay put
				if stage != models.StageOrders {
					expired = append(expired, r.ID)
				}
				continue
			}
			if s.checkWarranty(r, stage, end, now) {
				res.Warranty++
			}
		}
	}

	if len(expired) > 0 {
		archived, err := s.engine.SendToArchive(expired, workflow.AutoArchiveReason)
		if err != nil {
			s.log.WithError(err).WithField("count", len(expired)).Error("Auto-archive failed")
		}
		for _, r := range archived {
			res.Archived = append(res.Archived, r.ID)
		}
		if len(archived) > 0 {
			s.log.WithField("count", len(archived)).Info("Auto-archived expired warranties")
		}
	}
	return res
}

func (s *Scheduler) warrantyEnd(r models.Record) (string, bool) {
	if r.EndWarranty != "" {
		return r.EndWarranty, true
	}
	end, err := models.WarrantyEnd(r.StartWarranty, s.opts.Location)
	if err != nil {
		s.log.WithError(err).WithField("record_id", r.ID).Warn("Invalid warranty start")
		return "", false
	}
	return end, true
}

func (s *Scheduler) checkReminder(r models.Record, stage models.Stage, now time.Time) bool {
	if r.Reminder == nil {
		return false
	}
	due, err := r.Reminder.DueAt(s.opts.Location)
	if err != nil {
		s.log.WithError(err).WithField("record_id", r.ID).Warn("Invalid reminder")
		return false
	}
	if due.After(now) {
		return false
	}
	_, added := s.feed.Add(models.Notification{
		Kind:     models.NotificationReminderDue,
		Title:    "Reminder Due",
		Message:  fmt.Sprintf("%s: %s", r.TrackingID, r.Reminder.Subject),
		RecordID: r.ID,
		Stage:    stage,
		DedupKey: "reminder:" + r.ID,
		EventKey: fmt.Sprintf("reminder:%s:%s %s", r.ID, r.Reminder.Date, r.Reminder.Time),
	})
	return added
}

func (s *Scheduler) checkWarranty(r models.Record, stage models.Stage, end string, now time.Time) bool {
	if s.opts.WarnWindow > 0 {
		endAt, err := models.ParseDate(end, s.opts.Location)
		if err != nil || endAt.Sub(now) > s.opts.WarnWindow {
			return false
		}
	}
	_, added := s.feed.Add(models.Notification{
		Kind:     models.NotificationWarrantyActive,
		Title:    "Warranty Active",
		Message:  fmt.Sprintf("%s: warranty ends %s (%s)", r.TrackingID, end, models.RemainingWarranty(end, now, s.opts.Location)),
		RecordID: r.ID,
		Stage:    stage,
		DedupKey: "warranty:" + r.ID + ":" + end,
	})
	return added
}
