// Package workflow is the stage transition engine. Its operations are the
// only way records enter, move between or leave the five stage containers.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/ukydev/parts-workflow/internal/db"
	"github.com/ukydev/parts-workflow/internal/history"
	"github.com/ukydev/parts-workflow/internal/models"
	"github.com/ukydev/parts-workflow/internal/reconcile"
	"github.com/ukydev/parts-workflow/internal/store"
)

// Validation errors. None of them leaves a trace in the store.
var (
	ErrReasonRequired     = errors.New("reason is required")
	ErrAttachmentRequired = errors.New("attachment is required")
	ErrEmptyValue         = errors.New("value must not be empty")
	ErrRecordNotFound     = errors.New("record not found")
	ErrDuplicateRecord    = errors.New("record already exists")
	ErrRestoreInProgress  = history.ErrRestoreInProgress
)

// Options configures an Engine.
type Options struct {
	Logger logrus.FieldLogger
	// Location is used for warranty dates; nil means time.Local.
	Location *time.Location
	Now      func() time.Time
	History  history.Options
	Metrics  *reconcile.Metrics
	// WriteTimeout bounds each remote write.
	WriteTimeout time.Duration
}

// Engine owns the record store, the history and the reconciliation layer.
// Its mutex plays the part of a single event loop: every mutation, every
// rollback and every refetch completion runs while it is held.
type Engine struct {
	mu        sync.Mutex
	restoring atomic.Bool

	store *store.Store
	hist  *history.History
	sync  *reconcile.Layer
	log   logrus.FieldLogger
	loc   *time.Location
	now   func() time.Time
}

// New creates an engine with an empty store mirrored to remote.
func New(remote db.RecordCollection, opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	e := &Engine{
		store: store.New(),
		log:   opts.Logger.WithField("component", "workflow"),
		loc:   opts.Location,
		now:   opts.Now,
	}
	hopts := opts.History
	hopts.Lock = &e.mu
	if hopts.Logger == nil {
		hopts.Logger = opts.Logger
	}
	if hopts.Now == nil {
		hopts.Now = opts.Now
	}
	e.hist = history.New(e.store, hopts)
	e.sync = reconcile.New(e.store, remote, reconcile.Options{
		Lock:         &e.mu,
		Logger:       opts.Logger,
		Metrics:      opts.Metrics,
		WriteTimeout: opts.WriteTimeout,
		Now:          opts.Now,
	})
	return e
}

// Hydrate loads every stage, the booking statuses and the audit log from the
// remote stores and makes the result the undo baseline.
func (e *Engine) Hydrate(ctx context.Context) error {
	e.sync.Wait()
	e.mu.Lock()
	defer e.mu.Unlock()

	snap, err := e.sync.FetchAll(ctx)
	if err != nil {
		return fmt.Errorf("hydrate: %w", err)
	}
	now := e.now()
	for _, recs := range snap.Stages {
		for i := range recs {
			recs[i].RefreshWarranty(now, e.loc)
		}
	}
	e.store.Load(snap)
	e.hist.Reset()
	if err := e.hist.LoadAudit(ctx); err != nil {
		return fmt.Errorf("hydrate: %w", err)
	}
	e.log.WithField("records", snap.Len()).Info("Store hydrated")
	return nil
}

// Close stops pending debounced commits and waits for in-flight writes.
func (e *Engine) Close() {
	e.hist.Close()
	e.sync.Wait()
}

// Wait blocks until every remote write and refetch started so far settled.
func (e *Engine) Wait() {
	e.sync.Wait()
}

// Stage returns the records held by stage.
func (e *Engine) Stage(stage models.Stage) []models.Record {
	return e.store.Stage(stage)
}

// Get returns a record and the stage holding it.
func (e *Engine) Get(id string) (models.Record, models.Stage, bool) {
	return e.store.Get(id)
}

// Counts returns the number of records per stage.
func (e *Engine) Counts() map[models.Stage]int {
	return e.store.Counts()
}

// BookingStatuses returns the booking-status definitions.
func (e *Engine) BookingStatuses() []models.BookingStatusDef {
	return e.store.BookingStatuses()
}

// History exposes the undo stacks and the audit log for reading.
func (e *Engine) History() *history.History {
	return e.hist
}

// SyncErrors returns recent remote write failures, newest first.
func (e *Engine) SyncErrors() []reconcile.SyncError {
	return e.sync.SyncErrors()
}

// ClearSyncErrors empties the sync error list.
func (e *Engine) ClearSyncErrors() {
	e.sync.ClearSyncErrors()
}

// Restoring reports whether a restore-to-commit is running.
func (e *Engine) Restoring() bool {
	return e.restoring.Load() || e.hist.Restoring()
}

// lock acquires the engine mutex unless a restore is running. The flag is
// checked again once the mutex is held, since a restore may have started
// while the caller was blocked on it.
func (e *Engine) lock() error {
	if e.Restoring() {
		return ErrRestoreInProgress
	}
	e.mu.Lock()
	if e.Restoring() {
		e.mu.Unlock()
		return ErrRestoreInProgress
	}
	return nil
}

// mutate runs m and records an immediate commit named after it when it
// changed anything. A failed remote write drops the commit again.
func (e *Engine) mutate(m reconcile.Mutation) bool {
	var commitID string
	onRollback := m.OnRollback
	m.OnRollback = func(err error) {
		if onRollback != nil {
			onRollback(err)
		}
		e.hist.Drop(commitID)
		e.log.WithError(err).WithFields(logrus.Fields{"action": m.Name, "commit_id": commitID}).Warn("Mutation rolled back")
	}
	if !e.sync.Mutate(m) {
		return false
	}
	commitID = e.hist.AddCommit(m.Name).ID
	return true
}

// AddCommit records a commit of the current state.
func (e *Engine) AddCommit(actionName string) (models.Commit, error) {
	if strings.TrimSpace(actionName) == "" {
		return models.Commit{}, fmt.Errorf("action name: %w", ErrEmptyValue)
	}
	if err := e.lock(); err != nil {
		return models.Commit{}, err
	}
	defer e.mu.Unlock()
	return e.hist.AddCommit(actionName), nil
}

// CommitSave records a checkpoint and clears undo and redo.
func (e *Engine) CommitSave(actionName string) (models.Commit, error) {
	if strings.TrimSpace(actionName) == "" {
		actionName = "Checkpoint"
	}
	if err := e.lock(); err != nil {
		return models.Commit{}, err
	}
	defer e.mu.Unlock()
	return e.hist.CommitSave(actionName), nil
}

// Undo steps back one commit and mirrors the change to the remote.
func (e *Engine) Undo() (bool, error) {
	if err := e.lock(); err != nil {
		return false, err
	}
	defer e.mu.Unlock()
	prev := e.store.Snapshot()
	if !e.hist.Undo() {
		return false, nil
	}
	e.sync.Mirror("Undo", prev, e.store.Snapshot())
	return true, nil
}

// Redo re-applies the last undone commit and mirrors it to the remote.
func (e *Engine) Redo() (bool, error) {
	if err := e.lock(); err != nil {
		return false, err
	}
	defer e.mu.Unlock()
	prev := e.store.Snapshot()
	if !e.hist.Redo() {
		return false, nil
	}
	e.sync.Mirror("Redo", prev, e.store.Snapshot())
	return true, nil
}

// RestoreToCommit replaces remote and local state with an audit-log commit.
// In-flight writes are settled first; mutations attempted while the restore
// runs fail with ErrRestoreInProgress.
func (e *Engine) RestoreToCommit(ctx context.Context, commitID string) (models.Commit, error) {
	if _, ok := e.hist.Lookup(commitID); !ok {
		return models.Commit{}, fmt.Errorf("%s: %w", commitID, history.ErrCommitNotFound)
	}
	if !e.restoring.CompareAndSwap(false, true) {
		return models.Commit{}, ErrRestoreInProgress
	}
	defer e.restoring.Store(false)

	// a mutation holding the mutex when the flag went up has dispatched its
	// write once the mutex is free again; later ones are rejected by lock
	e.mu.Lock()
	e.mu.Unlock()
	e.sync.Wait()
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hist.RestoreToCommit(ctx, commitID, e.sync)
}
