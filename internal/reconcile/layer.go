// Package reconcile mirrors optimistic record-store mutations to the remote
// store. A mutation is applied locally at once; the remote write runs in the
// background and a failure rolls the affected stages back.
package reconcile

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/ukydev/parts-workflow/internal/db"
	"github.com/ukydev/parts-workflow/internal/models"
	"github.com/ukydev/parts-workflow/internal/store"
)

const (
	DefaultWriteTimeout = 15 * time.Second
	maxSyncErrors       = 50
)

// WriteFunc performs the remote half of a mutation.
type WriteFunc func(ctx context.Context, remote db.RecordCollection) error

// Mutation is one optimistic change.
type Mutation struct {
	Name string
	// Stages whose cached contents the mutation may touch. They are
	// snapshotted before Apply and restored on failure.
	Stages []models.Stage
	// Apply changes the local store and reports whether anything changed.
	Apply func(tx *store.Tx) bool
	Write WriteFunc
	// OnRollback runs with the lock held after the stages were restored.
	OnRollback func(err error)
}

// SyncError is a remote failure surfaced to the caller.
type SyncError struct {
	Mutation string         `json:"mutation"`
	Stages   []models.Stage `json:"stages"`
	Message  string         `json:"message"`
	At       time.Time      `json:"at"`
}

// Options configures a Layer.
type Options struct {
	// Lock serialises rollbacks and refetch completions with the caller's
	// own mutations. Mutate must be called with it held.
	Lock         sync.Locker
	Logger       logrus.FieldLogger
	Metrics      *Metrics
	WriteTimeout time.Duration
	Now          func() time.Time
}

type refetchHandle struct {
	cancel context.CancelFunc
}

// Layer is the reconciliation layer between the record store and the remote.
type Layer struct {
	store  *store.Store
	remote db.RecordCollection
	lock   sync.Locker
	log    logrus.FieldLogger
	m      *Metrics
	opts   Options
	wg     sync.WaitGroup

	mu        sync.Mutex
	inflight  map[models.Stage]int
	gen       map[models.Stage]uint64
	refetches map[models.Stage]*refetchHandle
	errs      []SyncError
	// closed when the most recently dispatched write has finished
	tail chan struct{}
}

// New creates a Layer over s and remote.
func New(s *store.Store, remote db.RecordCollection, opts Options) *Layer {
	if opts.Lock == nil {
		opts.Lock = &sync.Mutex{}
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics(nil)
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Layer{
		store:     s,
		remote:    remote,
		lock:      opts.Lock,
		log:       opts.Logger.WithField("component", "reconcile"),
		m:         opts.Metrics,
		opts:      opts,
		inflight:  make(map[models.Stage]int),
		gen:       make(map[models.Stage]uint64),
		refetches: make(map[models.Stage]*refetchHandle),
	}
}

// Remote returns the remote collection.
func (l *Layer) Remote() db.RecordCollection {
	return l.remote
}

// Mutate applies m locally and starts its remote write. It returns false,
// without writing, when Apply changed nothing. The caller must hold the lock.
func (l *Layer) Mutate(m Mutation) bool {
	l.cancelRefetches(m.Stages)
	prev := l.store.SnapshotStages(m.Stages)
	if !l.store.Apply(m.Apply) {
		return false
	}
	l.dispatch(m.Name, m.Stages, prev, m.Write, m.OnRollback)
	return true
}

// Mirror writes the difference between two full snapshots to the remote. It
// is used after undo and redo, whose local change has already happened, so a
// failure cannot roll back; the settle refetch pulls the remote state in
// instead. The caller must hold the lock.
func (l *Layer) Mirror(name string, prev, next models.Snapshot) bool {
	d := diffSnapshots(prev, next)
	if d.empty() {
		return false
	}
	l.cancelRefetches(d.stages)
	l.dispatch(name, d.stages, nil, d.write, nil)
	return true
}

func (l *Layer) dispatch(name string, stages []models.Stage, prev map[models.Stage][]models.Record, write WriteFunc, onRollback func(error)) {
	l.mu.Lock()
	for _, st := range stages {
		l.inflight[st]++
		l.gen[st]++
	}
	prevWrite, done := l.tail, make(chan struct{})
	l.tail = done
	l.mu.Unlock()
	l.m.InFlight.Inc()

	logger := l.log.WithFields(logrus.Fields{"mutation": name, "stages": stages})
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		// writes reach the remote in dispatch order
		if prevWrite != nil {
			<-prevWrite
		}
		ctx, cancel := context.WithTimeout(context.Background(), l.opts.WriteTimeout)
		err := write(ctx, l.remote)
		cancel()
		close(done)
		l.m.InFlight.Dec()
		l.m.Writes.WithLabelValues(name, result(err)).Inc()

		l.lock.Lock()
		if err != nil {
			logger.WithError(err).Error("Remote write failed")
			if prev != nil {
				l.store.RestoreStages(prev)
				l.m.Rollbacks.Inc()
				if onRollback != nil {
					onRollback(err)
				}
			}
			l.recordError(name, stages, err)
		}
		idle := l.settle(stages)
		l.lock.Unlock()

		for st, gen := range idle {
			l.refetch(st, gen)
		}
	}()
}

// settle marks one write on stages as finished and returns the stages that
// have no write left in flight, with their current generation.
func (l *Layer) settle(stages []models.Stage) map[models.Stage]uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	idle := make(map[models.Stage]uint64)
	for _, st := range stages {
		l.inflight[st]--
		if l.inflight[st] <= 0 {
			delete(l.inflight, st)
			idle[st] = l.gen[st]
		}
	}
	return idle
}

func (l *Layer) cancelRefetches(stages []models.Stage) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, st := range stages {
		if h, ok := l.refetches[st]; ok {
			h.cancel()
			delete(l.refetches, st)
		}
	}
}

// refetch reloads stage from the remote. The result is dropped when a newer
// mutation touched the stage meanwhile.
func (l *Layer) refetch(stage models.Stage, gen uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), l.opts.WriteTimeout)
	h := &refetchHandle{cancel: cancel}
	l.mu.Lock()
	if old, ok := l.refetches[stage]; ok {
		old.cancel()
	}
	l.refetches[stage] = h
	l.mu.Unlock()

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer cancel()
		records, err := l.remote.FindByStage(ctx, stage)

		l.lock.Lock()
		defer l.lock.Unlock()
		l.mu.Lock()
		current := l.refetches[stage] == h
		if current {
			delete(l.refetches, stage)
		}
		stale := !current || l.gen[stage] != gen || l.inflight[stage] > 0
		l.mu.Unlock()

		switch {
		case err != nil:
			l.m.Refetches.WithLabelValues(string(stage), "error").Inc()
			if ctx.Err() == nil {
				l.log.WithError(err).WithField("stage", stage).Warn("Refetch failed")
			}
		case stale:
			l.m.Refetches.WithLabelValues(string(stage), "stale").Inc()
		default:
			l.store.SetContainer(stage, records)
			l.m.Refetches.WithLabelValues(string(stage), "ok").Inc()
		}
	}()
}

func (l *Layer) recordError(name string, stages []models.Stage, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errs = append(l.errs, SyncError{
		Mutation: name,
		Stages:   append([]models.Stage(nil), stages...),
		Message:  err.Error(),
		At:       l.opts.Now(),
	})
	if over := len(l.errs) - maxSyncErrors; over > 0 {
		l.errs = append([]SyncError(nil), l.errs[over:]...)
	}
}

// SyncErrors returns the recent remote failures, newest first.
func (l *Layer) SyncErrors() []SyncError {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]SyncError, len(l.errs))
	for i, e := range l.errs {
		out[len(l.errs)-1-i] = e
	}
	return out
}

// ClearSyncErrors empties the error list.
func (l *Layer) ClearSyncErrors() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errs = nil
}

// Wait blocks until every write and refetch started so far has settled. It
// must not be called with the lock held.
func (l *Layer) Wait() {
	l.wg.Wait()
}

// FetchAll loads every stage and the booking statuses from the remote.
func (l *Layer) FetchAll(ctx context.Context) (models.Snapshot, error) {
	snap := models.NewSnapshot()
	for _, st := range models.Stages {
		records, err := l.remote.FindByStage(ctx, st)
		if err != nil {
			return models.Snapshot{}, fmt.Errorf("fetch %s: %w", st, err)
		}
		snap.Stages[st] = records
	}
	defs, err := l.remote.FindBookingStatuses(ctx)
	if err != nil {
		return models.Snapshot{}, fmt.Errorf("fetch booking statuses: %w", err)
	}
	snap.BookingStatuses = defs
	return snap, nil
}

// RestoreSnapshot replaces the whole remote state with snap. Reminders are
// deleted before records and recreated after them; the first failing step
// aborts the rest. Anything remote that snap does not hold is lost.
func (l *Layer) RestoreSnapshot(ctx context.Context, snap models.Snapshot) error {
	l.cancelRefetches(models.Stages)
	l.mu.Lock()
	for _, st := range models.Stages {
		l.gen[st]++
	}
	l.mu.Unlock()

	var staged []models.StagedRecord
	for _, st := range models.Stages {
		for _, r := range snap.Stages[st] {
			staged = append(staged, models.StagedRecord{Record: r, Stage: st})
		}
	}
	reminders := db.ReminderRows(staged)

	steps := []struct {
		name string
		run  func(ctx context.Context) error
	}{
		{"delete reminders", l.remote.DeleteAllReminders},
		{"delete records", l.remote.DeleteAllRecords},
		{"insert records", func(ctx context.Context) error { return l.remote.InsertRecords(ctx, staged) }},
		{"insert reminders", func(ctx context.Context) error { return l.remote.InsertReminders(ctx, reminders) }},
		{"replace booking statuses", func(ctx context.Context) error {
			return l.remote.ReplaceBookingStatuses(ctx, snap.BookingStatuses)
		}},
	}
	for _, step := range steps {
		if err := step.run(ctx); err != nil {
			l.m.Restores.WithLabelValues("error").Inc()
			l.log.WithError(err).WithField("step", step.name).Error("Restore aborted")
			return fmt.Errorf("%s: %w", step.name, err)
		}
	}
	l.m.Restores.WithLabelValues("ok").Inc()
	l.log.WithFields(logrus.Fields{"records": len(staged), "reminders": len(reminders)}).Info("Remote state replaced")
	return nil
}

// snapshotDiff is the remote work needed to turn one snapshot into another.
type snapshotDiff struct {
	upserts  []models.StagedRecord
	deletes  []string
	bookings []models.BookingStatusDef
	replaceB bool
	stages   []models.Stage
}

func (d snapshotDiff) empty() bool {
	return len(d.upserts) == 0 && len(d.deletes) == 0 && !d.replaceB
}

func (d snapshotDiff) write(ctx context.Context, remote db.RecordCollection) error {
	if len(d.deletes) > 0 {
		if err := remote.DeleteReminders(ctx, d.deletes); err != nil {
			return err
		}
		if err := remote.DeleteRecords(ctx, d.deletes); err != nil {
			return err
		}
	}
	if len(d.upserts) > 0 {
		ids := make([]string, len(d.upserts))
		for i, sr := range d.upserts {
			ids[i] = sr.Record.ID
		}
		if err := remote.DeleteReminders(ctx, ids); err != nil {
			return err
		}
		if err := remote.UpsertRecords(ctx, d.upserts); err != nil {
			return err
		}
		if err := remote.InsertReminders(ctx, db.ReminderRows(d.upserts)); err != nil {
			return err
		}
	}
	if d.replaceB {
		return remote.ReplaceBookingStatuses(ctx, d.bookings)
	}
	return nil
}

func diffSnapshots(prev, next models.Snapshot) snapshotDiff {
	type located struct {
		record models.Record
		stage  models.Stage
	}
	before := make(map[string]located, prev.Len())
	for _, st := range models.Stages {
		for _, r := range prev.Stages[st] {
			before[r.ID] = located{record: r, stage: st}
		}
	}

	var d snapshotDiff
	touched := make(map[models.Stage]bool)
	for _, st := range models.Stages {
		for _, r := range next.Stages[st] {
			old, ok := before[r.ID]
			delete(before, r.ID)
			if ok && old.stage == st && reflect.DeepEqual(old.record, r) {
				continue
			}
			d.upserts = append(d.upserts, models.StagedRecord{Record: r, Stage: st})
			touched[st] = true
			if ok {
				touched[old.stage] = true
			}
		}
	}
	for _, st := range models.Stages {
		for _, r := range prev.Stages[st] {
			if _, gone := before[r.ID]; gone {
				d.deletes = append(d.deletes, r.ID)
				touched[st] = true
			}
		}
	}
	if !reflect.DeepEqual(normalizeDefs(prev.BookingStatuses), normalizeDefs(next.BookingStatuses)) {
		d.replaceB = true
		d.bookings = next.BookingStatuses
	}
	for _, st := range models.Stages {
		if touched[st] {
			d.stages = append(d.stages, st)
		}
	}
	return d
}

func normalizeDefs(defs []models.BookingStatusDef) []models.BookingStatusDef {
	if len(defs) == 0 {
		return nil
	}
	return defs
}
