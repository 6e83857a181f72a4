// Package history keeps the session undo/redo stacks and the rolling audit
// log of commits, and restores the record store to a past commit.
package history

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/ukydev/parts-workflow/internal/db"
	"github.com/ukydev/parts-workflow/internal/models"
)

var (
	ErrCommitNotFound    = errors.New("commit not found")
	ErrRestoreInProgress = errors.New("restore already in progress")
)

const (
	DefaultDebounceWindow = 1000 * time.Millisecond
	DefaultRetention      = 48 * time.Hour
	DefaultMaxUndo        = 100

	auditTimeout = 5 * time.Second
)

// State is the record store as seen by the history engine.
type State interface {
	Snapshot() models.Snapshot
	Load(models.Snapshot)
}

// Restorer performs the destructive remote replace for a restore.
type Restorer interface {
	RestoreSnapshot(ctx context.Context, snap models.Snapshot) error
}

// RestorerFunc adapts a function to Restorer.
type RestorerFunc func(ctx context.Context, snap models.Snapshot) error

// RestoreSnapshot calls f.
func (f RestorerFunc) RestoreSnapshot(ctx context.Context, snap models.Snapshot) error {
	return f(ctx, snap)
}

// Options configures a History. Zero values pick the defaults.
type Options struct {
	DebounceWindow time.Duration
	Retention      time.Duration
	MaxUndo        int
	Now            func() time.Time
	Logger         logrus.FieldLogger
	// Lock is held while a debounce timer fires its commit, so the commit
	// cannot interleave with the owner's mutations. Flush runs in the
	// caller and does not take it.
	Lock sync.Locker
	// Audit persists the audit log; nil keeps it in memory only.
	Audit db.AuditCollection
}

// History owns the undo/redo stacks, the audit log and the debounce timers.
type History struct {
	state State
	opts  Options
	log   logrus.FieldLogger

	mu       sync.Mutex
	undo     []models.Commit
	redo     []models.Commit
	audit    []models.Commit
	baseline models.Snapshot
	debounce *debouncer

	restoring atomic.Bool
}

// New creates a History over state. The current state becomes the baseline
// the first undo returns to.
func New(state State, opts Options) *History {
	if opts.DebounceWindow <= 0 {
		opts.DebounceWindow = DefaultDebounceWindow
	}
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	if opts.MaxUndo <= 0 {
		opts.MaxUndo = DefaultMaxUndo
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	h := &History{
		state:    state,
		opts:     opts,
		log:      opts.Logger.WithField("component", "history"),
		baseline: state.Snapshot(),
	}
	h.debounce = newDebouncer(opts.DebounceWindow, opts.Lock, func(name string) { h.AddCommit(name) })
	return h
}

// Reset drops both stacks and makes the current state the new baseline.
// The audit log is kept.
func (h *History) Reset() {
	snap := h.state.Snapshot()
	h.mu.Lock()
	defer h.mu.Unlock()
	h.undo = nil
	h.redo = nil
	h.baseline = snap
}

// LoadAudit fills the audit log from the persistent audit store.
func (h *History) LoadAudit(ctx context.Context) error {
	if h.opts.Audit == nil {
		return nil
	}
	since := h.opts.Now().Add(-h.opts.Retention)
	commits, err := h.opts.Audit.FindCommitsSince(ctx, since)
	if err != nil {
		return fmt.Errorf("cannot load audit log: %w", err)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.audit = commits
	return nil
}

// AddCommit snapshots the current state, pushes it on the undo stack and the
// audit log, prunes the audit log to the retention window and clears redo.
func (h *History) AddCommit(actionName string) models.Commit {
	commit := models.Commit{
		ID:         newCommitID(),
		ActionName: actionName,
		Timestamp:  h.opts.Now(),
		Snapshot:   h.state.Snapshot(),
	}

	h.mu.Lock()
	h.undo = append(h.undo, commit)
	if over := len(h.undo) - h.opts.MaxUndo; over > 0 {
		h.baseline = h.undo[over-1].Snapshot
		h.undo = append([]models.Commit(nil), h.undo[over:]...)
	}
	h.redo = nil
	cutoff := commit.Timestamp.Add(-h.opts.Retention)
	h.audit = pruneBefore(h.audit, cutoff)
	h.audit = append(h.audit, commit)
	h.mu.Unlock()

	h.log.WithFields(logrus.Fields{"commit_id": commit.ID, "action": actionName}).Debug("commit recorded")
	h.persist(commit, cutoff)
	return commit
}

func (h *History) persist(commit models.Commit, cutoff time.Time) {
	if h.opts.Audit == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), auditTimeout)
	defer cancel()
	if err := h.opts.Audit.InsertCommit(ctx, commit); err != nil {
		h.log.WithError(err).WithField("commit_id", commit.ID).Error("Failed to persist commit")
	}
	if err := h.opts.Audit.DeleteCommitsBefore(ctx, cutoff); err != nil {
		h.log.WithError(err).Error("Failed to prune audit log")
	}
}

func pruneBefore(commits []models.Commit, cutoff time.Time) []models.Commit {
	i := 0
	for i < len(commits) && commits[i].Timestamp.Before(cutoff) {
		i++
	}
	if i == 0 {
		return commits
	}
	return append([]models.Commit(nil), commits[i:]...)
}

func newCommitID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// DebouncedCommit schedules a trailing AddCommit for key. A further call for
// the same key inside the window cancels the pending one and restarts the
// timer; the commit carries the latest action name.
func (h *History) DebouncedCommit(key, actionName string) {
	h.debounce.Schedule(key, actionName)
}

// CancelDebounced drops the pending commit for key, if any.
func (h *History) CancelDebounced(key string) {
	h.debounce.Cancel(key)
}

// Flush runs every pending debounced commit now.
func (h *History) Flush() {
	h.debounce.Flush()
}

// Close stops the pending debounce timers without committing.
func (h *History) Close() {
	h.debounce.Stop()
}

// Drop removes a commit from the undo stack and the audit log. It is used
// when the mutation the commit recorded was rolled back.
func (h *History) Drop(commitID string) {
	h.mu.Lock()
	h.undo = removeCommit(h.undo, commitID)
	before := len(h.audit)
	h.audit = removeCommit(h.audit, commitID)
	removed := len(h.audit) != before
	h.mu.Unlock()

	if removed && h.opts.Audit != nil {
		ctx, cancel := context.WithTimeout(context.Background(), auditTimeout)
		defer cancel()
		if err := h.opts.Audit.DeleteCommit(ctx, commitID); err != nil {
			h.log.WithError(err).WithField("commit_id", commitID).Error("Failed to delete commit")
		}
	}
}

func removeCommit(commits []models.Commit, id string) []models.Commit {
	for i, c := range commits {
		if c.ID == id {
			return append(commits[:i:i], commits[i+1:]...)
		}
	}
	return commits
}

// Undo steps back one commit. It returns false when there is nothing to undo.
// The current state is pushed on the redo stack under the undone action's name.
func (h *History) Undo() bool {
	h.Flush()

	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.undo) == 0 {
		return false
	}
	top := h.undo[len(h.undo)-1]
	h.undo = h.undo[:len(h.undo)-1]
	h.redo = append(h.redo, models.Commit{
		ID:         top.ID,
		ActionName: top.ActionName,
		Timestamp:  h.opts.Now(),
		Snapshot:   h.state.Snapshot(),
	})

	target := h.baseline
	if n := len(h.undo); n > 0 {
		target = h.undo[n-1].Snapshot
	}
	h.state.Load(target)
	h.log.WithField("action", top.ActionName).Info("Undo")
	return true
}

// Redo re-applies the most recently undone commit.
func (h *History) Redo() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.redo) == 0 {
		return false
	}
	top := h.redo[len(h.redo)-1]
	h.redo = h.redo[:len(h.redo)-1]
	h.undo = append(h.undo, top)
	h.state.Load(top.Snapshot)
	h.log.WithField("action", top.ActionName).Info("Redo")
	return true
}

// CommitSave records a checkpoint commit and then clears both stacks. The
// checkpoint stays in the audit log.
func (h *History) CommitSave(actionName string) models.Commit {
	h.Flush()
	commit := h.AddCommit(actionName)

	h.mu.Lock()
	defer h.mu.Unlock()
	h.undo = nil
	h.redo = nil
	h.baseline = commit.Snapshot
	return commit
}

// Lookup returns an audit-log commit by id.
func (h *History) Lookup(commitID string) (models.Commit, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.audit {
		if c.ID == commitID {
			return c, true
		}
	}
	return models.Commit{}, false
}

// Restoring reports whether a restore is running.
func (h *History) Restoring() bool {
	return h.restoring.Load()
}

// RestoreToCommit replaces remote and local state with the snapshot of an
// audit-log commit. The remote replace runs first; local state only changes
// when it succeeded. A second restore while one runs is rejected.
func (h *History) RestoreToCommit(ctx context.Context, commitID string, r Restorer) (models.Commit, error) {
	target, ok := h.Lookup(commitID)
	if !ok {
		return models.Commit{}, fmt.Errorf("%s: %w", commitID, ErrCommitNotFound)
	}
	if !h.restoring.CompareAndSwap(false, true) {
		return models.Commit{}, ErrRestoreInProgress
	}
	defer h.restoring.Store(false)

	h.Flush()
	logger := h.log.WithFields(logrus.Fields{"commit_id": commitID, "action": target.ActionName})
	logger.Info("Restoring to commit")

	if err := r.RestoreSnapshot(ctx, target.Snapshot.Clone()); err != nil {
		logger.WithError(err).Error("Restore failed")
		return models.Commit{}, fmt.Errorf("restore to %s: %w", commitID, err)
	}

	h.state.Load(target.Snapshot.Clone())
	commit := h.AddCommit("Restored to: " + target.ActionName)
	logger.WithField("new_commit_id", commit.ID).Info("Restore completed")
	return commit, nil
}

// CanUndo reports whether Undo would do anything.
func (h *History) CanUndo() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.undo) > 0
}

// CanRedo reports whether Redo would do anything.
func (h *History) CanRedo() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.redo) > 0
}

// UndoStack returns the undo stack, oldest first.
func (h *History) UndoStack() []models.Commit {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]models.Commit(nil), h.undo...)
}

// RedoStack returns the redo stack, oldest first.
func (h *History) RedoStack() []models.Commit {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]models.Commit(nil), h.redo...)
}

// AuditLog returns the audit log, newest first.
func (h *History) AuditLog() []models.Commit {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]models.Commit, len(h.audit))
	for i, c := range h.audit {
		out[len(h.audit)-1-i] = c
	}
	return out
}
