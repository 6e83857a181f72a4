package workflow

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/parts-workflow/internal/db"
	"github.com/ukydev/parts-workflow/internal/history"
	"github.com/ukydev/parts-workflow/internal/models"
)

// testRemote is a memory remote with injectable failures and a gate that
// holds a restore in its first step.
type testRemote struct {
	*db.MemoryRecordStore
	mu      sync.Mutex
	failing map[string]error
	gate    chan struct{}
	entered chan struct{}
}

func newTestRemote() *testRemote {
	return &testRemote{MemoryRecordStore: db.NewMemoryRecordStore(), failing: map[string]error{}}
}

func (r *testRemote) failOn(method string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failing[method] = err
}

func (r *testRemote) err(method string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failing[method]
}

func (r *testRemote) UpsertRecords(ctx context.Context, records []models.StagedRecord) error {
	if err := r.err("UpsertRecords"); err != nil {
		return err
	}
	return r.MemoryRecordStore.UpsertRecords(ctx, records)
}

func (r *testRemote) InsertRecords(ctx context.Context, records []models.StagedRecord) error {
	if err := r.err("InsertRecords"); err != nil {
		return err
	}
	return r.MemoryRecordStore.InsertRecords(ctx, records)
}

func (r *testRemote) PatchRecord(ctx context.Context, id string, fields map[string]interface{}) error {
	if err := r.err("PatchRecord"); err != nil {
		return err
	}
	return r.MemoryRecordStore.PatchRecord(ctx, id, fields)
}

func (r *testRemote) DeleteAllRecords(ctx context.Context) error {
	if err := r.err("DeleteAllRecords"); err != nil {
		return err
	}
	return r.MemoryRecordStore.DeleteAllRecords(ctx)
}

func (r *testRemote) DeleteAllReminders(ctx context.Context) error {
	r.mu.Lock()
	gate, entered := r.gate, r.entered
	r.mu.Unlock()
	if gate != nil {
		close(entered)
		<-gate
	}
	return r.MemoryRecordStore.DeleteAllReminders(ctx)
}

func (r *testRemote) ReplaceBookingStatuses(ctx context.Context, defs []models.BookingStatusDef) error {
	if err := r.err("ReplaceBookingStatuses"); err != nil {
		return err
	}
	return r.MemoryRecordStore.ReplaceBookingStatuses(ctx, defs)
}

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestEngine(t *testing.T, remote db.RecordCollection, window time.Duration) *Engine {
	t.Helper()
	e := New(remote, Options{
		Logger:   quietLogger(),
		Location: time.UTC,
		History:  history.Options{DebounceWindow: window},
	})
	t.Cleanup(e.Close)
	return e
}

// seed writes records to the remote and hydrates the engine from it.
func seed(t *testing.T, e *Engine, remote db.RecordCollection, stage models.Stage, recs ...models.Record) {
	t.Helper()
	staged := make([]models.StagedRecord, len(recs))
	for i, r := range recs {
		staged[i] = models.StagedRecord{Record: r, Stage: stage}
	}
	require.NoError(t, remote.InsertRecords(context.Background(), staged))
	require.NoError(t, remote.InsertReminders(context.Background(), db.ReminderRows(staged)))
	require.NoError(t, e.Hydrate(context.Background()))
}

func stageOf(t *testing.T, e *Engine, id string) models.Stage {
	t.Helper()
	_, stage, ok := e.Get(id)
	require.True(t, ok, "record %s missing", id)
	return stage
}

func assertPartition(t *testing.T, e *Engine) {
	t.Helper()
	seen := map[string]models.Stage{}
	for _, st := range models.Stages {
		for _, r := range e.Stage(st) {
			prev, dup := seen[r.ID]
			require.False(t, dup, "record %s in %s and %s", r.ID, prev, st)
			seen[r.ID] = st
		}
	}
}

func TestCommitToMainSheetScenario(t *testing.T) {
	remote := newTestRemote()
	e := newTestEngine(t, remote, time.Hour)
	seed(t, e, remote, models.StageOrders, models.Record{ID: "1", BaseID: "B1", Status: models.StatusOrdered})

	moved, err := e.CommitToMainSheet([]string{"1"})
	require.NoError(t, err)
	require.Len(t, moved, 1)

	r, stage, ok := e.Get("1")
	require.True(t, ok)
	assert.Equal(t, models.StageMain, stage)
	assert.Equal(t, models.StatusPending, r.Status)
	assert.Equal(t, "MAIN-B1", r.TrackingID)
	assert.Empty(t, e.Stage(models.StageOrders))

	undo := e.History().UndoStack()
	require.Len(t, undo, 1)
	assert.Equal(t, ActionCommitToMain, undo[0].ActionName)

	e.Wait()
	remoteMain, err := remote.FindByStage(context.Background(), models.StageMain)
	require.NoError(t, err)
	require.Len(t, remoteMain, 1)
	assert.Equal(t, "MAIN-B1", remoteMain[0].TrackingID)
}

func TestTransitionsWithoutEffectRecordNoCommit(t *testing.T) {
	remote := newTestRemote()
	e := newTestEngine(t, remote, time.Hour)
	seed(t, e, remote, models.StageArchive, models.Record{ID: "1", BaseID: "B1"})

	moved, err := e.CommitToMainSheet(nil)
	require.NoError(t, err)
	assert.Empty(t, moved)

	// wrong source stage
	moved, err = e.SendToCallList([]string{"1", "missing"})
	require.NoError(t, err)
	assert.Empty(t, moved)

	assert.Empty(t, e.History().UndoStack())
	assert.Empty(t, e.History().AuditLog())
	assert.Equal(t, models.StageArchive, stageOf(t, e, "1"))
}

func TestSendToBooking(t *testing.T) {
	remote := newTestRemote()
	e := newTestEngine(t, remote, time.Hour)
	seed(t, e, remote, models.StageCall,
		models.Record{ID: "1", BaseID: "B1", BookingStatus: "Waiting"},
		models.Record{ID: "2", BaseID: "B2", BookingStatus: "Waiting"},
	)

	_, err := e.SendToBooking([]string{"1"}, Booking{})
	assert.ErrorIs(t, err, ErrEmptyValue)
	_, err = e.SendToBooking([]string{"1"}, Booking{Date: "next week"})
	assert.Error(t, err)
	assert.Equal(t, models.StageCall, stageOf(t, e, "1"))

	_, err = e.SendToBooking([]string{"1"}, Booking{Date: "2026-02-01", Note: "morning"})
	require.NoError(t, err)
	_, err = e.SendToBooking([]string{"2"}, Booking{Date: "2026-02-02", Status: "Confirmed"})
	require.NoError(t, err)

	r1, stage, _ := e.Get("1")
	assert.Equal(t, models.StageBooking, stage)
	assert.Equal(t, models.StatusBooked, r1.Status)
	assert.Equal(t, "BOOK-B1", r1.TrackingID)
	assert.Equal(t, "2026-02-01", r1.BookingDate)
	assert.Equal(t, "morning", r1.BookingNote)
	assert.Equal(t, "Waiting", r1.BookingStatus, "kept when no status is given")

	r2, _, _ := e.Get("2")
	assert.Equal(t, "Confirmed", r2.BookingStatus)
	assert.Len(t, e.History().UndoStack(), 2)
}

func TestSendToArchiveAndReorder(t *testing.T) {
	remote := newTestRemote()
	e := newTestEngine(t, remote, time.Hour)
	seed(t, e, remote, models.StageMain, models.Record{ID: "1", BaseID: "B1"})

	_, err := e.SendToBooking([]string{"1"}, Booking{Date: "2026-02-01", Note: "bring keys"})
	require.NoError(t, err)

	_, err = e.SendToReorder([]string{"1"}, "   ")
	assert.ErrorIs(t, err, ErrReasonRequired)
	assert.Equal(t, models.StageBooking, stageOf(t, e, "1"))
	assert.Len(t, e.History().UndoStack(), 1)

	_, err = e.SendToArchive([]string{"1"}, "Customer declined")
	require.NoError(t, err)
	r, stage, _ := e.Get("1")
	assert.Equal(t, models.StageArchive, stage)
	assert.Equal(t, models.StatusArchived, r.Status)
	assert.Equal(t, "ARCH-B1", r.TrackingID)
	assert.Equal(t, "Customer declined", r.ActionNote)

	_, err = e.SendToReorder([]string{"1"}, "Wrong part delivered")
	require.NoError(t, err)
	r, stage, _ = e.Get("1")
	assert.Equal(t, models.StageOrders, stage)
	assert.Equal(t, models.StatusReorder, r.Status)
	assert.Equal(t, "ORD-B1", r.TrackingID)
	assert.Equal(t, "Wrong part delivered", r.ActionNote)
	assert.Empty(t, r.BookingDate)
	assert.Empty(t, r.BookingNote)
}

func TestPartitionHoldsUnderRandomTransitions(t *testing.T) {
	remote := newTestRemote()
	e := newTestEngine(t, remote, time.Hour)
	var recs []models.Record
	for _, id := range []string{"a", "b", "c", "d", "e", "f"} {
		recs = append(recs, models.Record{ID: id, BaseID: "W" + id})
	}
	seed(t, e, remote, models.StageOrders, recs...)

	ops := []func(ids []string) error{
		func(ids []string) error { _, err := e.CommitToMainSheet(ids); return err },
		func(ids []string) error { _, err := e.SendToCallList(ids); return err },
		func(ids []string) error { _, err := e.SendToBooking(ids, Booking{Date: "2026-03-01"}); return err },
		func(ids []string) error { _, err := e.SendToArchive(ids, "done"); return err },
		func(ids []string) error { _, err := e.SendToReorder(ids, "again"); return err },
	}
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 60; i++ {
		var ids []string
		for _, r := range recs {
			if rng.Intn(2) == 0 {
				ids = append(ids, r.ID)
			}
		}
		require.NoError(t, ops[rng.Intn(len(ops))](ids))
		assertPartition(t, e)
		total := 0
		for _, n := range e.Counts() {
			total += n
		}
		require.Equal(t, len(recs), total)
	}
	e.Wait()
	assertPartition(t, e)
	assert.Equal(t, len(recs), remote.Len())
}

func TestUpdatePartStatusDebouncesCommits(t *testing.T) {
	remote := newTestRemote()
	e := newTestEngine(t, remote, 30*time.Millisecond)
	seed(t, e, remote, models.StageMain, models.Record{ID: "1", BaseID: "B1"})

	for _, v := range []string{"Ordered", "Shipped", "In customs", "Arrived"} {
		_, err := e.UpdatePartStatus("1", v)
		require.NoError(t, err)
	}
	r, _, _ := e.Get("1")
	assert.Equal(t, "Arrived", r.PartStatus, "local value changes at once")

	assert.Eventually(t, func() bool { return len(e.History().UndoStack()) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	undo := e.History().UndoStack()
	require.Len(t, undo, 1)
	assert.Equal(t, ActionUpdatePartStatus, undo[0].ActionName)
	assert.Equal(t, "Arrived", undo[0].Snapshot.Stages[models.StageMain][0].PartStatus)
}

func TestUpdateStatusOnUnknownRecord(t *testing.T) {
	e := newTestEngine(t, newTestRemote(), time.Hour)
	_, err := e.UpdateBookingStatus("nope", "Confirmed")
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestUpdateBookingStatusFindsRecordInAnyStage(t *testing.T) {
	remote := newTestRemote()
	e := newTestEngine(t, remote, time.Hour)
	seed(t, e, remote, models.StageArchive, models.Record{ID: "1", BaseID: "B1"})

	r, err := e.UpdateBookingStatus("1", "Closed")
	require.NoError(t, err)
	assert.Equal(t, "Closed", r.BookingStatus)
	assert.Equal(t, models.StageArchive, stageOf(t, e, "1"))

	e.History().Flush()
	assert.Len(t, e.History().UndoStack(), 1)
}

func TestUndoRedoRoundTripMirrorsRemote(t *testing.T) {
	remote := newTestRemote()
	e := newTestEngine(t, remote, time.Hour)
	seed(t, e, remote, models.StageOrders, models.Record{ID: "1", BaseID: "B1"})

	_, err := e.CommitToMainSheet([]string{"1"})
	require.NoError(t, err)
	_, err = e.SendToCallList([]string{"1"})
	require.NoError(t, err)
	_, err = e.SendToBooking([]string{"1"}, Booking{Date: "2026-02-01"})
	require.NoError(t, err)
	after := map[int]models.Stage{0: models.StageOrders, 1: models.StageMain, 2: models.StageCall, 3: models.StageBooking}

	for k := 1; k <= 3; k++ {
		for i := 0; i < k; i++ {
			ok, err := e.Undo()
			require.NoError(t, err)
			require.True(t, ok)
		}
		assert.Equal(t, after[3-k], stageOf(t, e, "1"))
		e.Wait()
		remoteStage, err := remote.FindByStage(context.Background(), after[3-k])
		require.NoError(t, err)
		require.Len(t, remoteStage, 1, "remote follows undo")

		for i := 0; i < k; i++ {
			ok, err := e.Redo()
			require.NoError(t, err)
			require.True(t, ok)
		}
		assert.Equal(t, models.StageBooking, stageOf(t, e, "1"))
		e.Wait()
	}

	ok, err := e.Redo()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRemoteFailureRollsBackAndDropsCommit(t *testing.T) {
	remote := newTestRemote()
	e := newTestEngine(t, remote, time.Hour)
	seed(t, e, remote, models.StageOrders, models.Record{ID: "1", BaseID: "B1"})
	remote.failOn("UpsertRecords", errors.New("network down"))

	_, err := e.CommitToMainSheet([]string{"1"})
	require.NoError(t, err)
	assert.Equal(t, models.StageMain, stageOf(t, e, "1"), "optimistic")

	e.Wait()
	r, stage, _ := e.Get("1")
	assert.Equal(t, models.StageOrders, stage)
	assert.Empty(t, r.Status)
	assert.Empty(t, e.History().UndoStack(), "failed mutation leaves no undo entry")
	assert.Empty(t, e.History().AuditLog())

	errs := e.SyncErrors()
	require.Len(t, errs, 1)
	assert.Equal(t, ActionCommitToMain, errs[0].Mutation)
	assert.Equal(t, "network down", errs[0].Message)

	e.ClearSyncErrors()
	assert.Empty(t, e.SyncErrors())
}

func TestFailedStatusPatchCancelsDebouncedCommit(t *testing.T) {
	remote := newTestRemote()
	e := newTestEngine(t, remote, time.Hour)
	seed(t, e, remote, models.StageMain, models.Record{ID: "1", BaseID: "B1", PartStatus: "Ordered"})
	remote.failOn("PatchRecord", errors.New("timeout"))

	_, err := e.UpdatePartStatus("1", "Arrived")
	require.NoError(t, err)
	e.Wait()
	e.History().Flush()

	r, _, _ := e.Get("1")
	assert.Equal(t, "Ordered", r.PartStatus)
	assert.Empty(t, e.History().UndoStack())
}

func TestCommitSaveClearsUndoRedo(t *testing.T) {
	remote := newTestRemote()
	e := newTestEngine(t, remote, time.Hour)
	seed(t, e, remote, models.StageOrders, models.Record{ID: "1", BaseID: "B1"}, models.Record{ID: "2", BaseID: "B2"})

	_, err := e.CommitToMainSheet([]string{"1"})
	require.NoError(t, err)
	_, err = e.CommitToMainSheet([]string{"2"})
	require.NoError(t, err)
	ok, err := e.Undo()
	require.NoError(t, err)
	require.True(t, ok)

	_, err = e.CommitSave("")
	require.NoError(t, err)

	ok, err = e.Undo()
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = e.Redo()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "Checkpoint", e.History().AuditLog()[0].ActionName)
}

func TestAddCommitRequiresName(t *testing.T) {
	e := newTestEngine(t, newTestRemote(), time.Hour)
	_, err := e.AddCommit(" ")
	assert.ErrorIs(t, err, ErrEmptyValue)
	c, err := e.AddCommit("Manual save")
	require.NoError(t, err)
	assert.Equal(t, "Manual save", c.ActionName)
}

func TestRestoreToCommit(t *testing.T) {
	remote := newTestRemote()
	e := newTestEngine(t, remote, time.Hour)
	seed(t, e, remote, models.StageOrders, models.Record{ID: "1", BaseID: "B1"})

	_, err := e.CommitToMainSheet([]string{"1"})
	require.NoError(t, err)
	target := e.History().AuditLog()[0]
	_, err = e.SendToCallList([]string{"1"})
	require.NoError(t, err)
	_, err = e.CreateOrders([]models.Record{{ID: "2", BaseID: "B2"}})
	require.NoError(t, err)
	e.Wait()

	commit, err := e.RestoreToCommit(context.Background(), target.ID)
	require.NoError(t, err)
	assert.Equal(t, "Restored to: "+ActionCommitToMain, commit.ActionName)
	assert.False(t, e.Restoring())

	assert.Equal(t, models.StageMain, stageOf(t, e, "1"))
	_, _, ok := e.Get("2")
	assert.False(t, ok)
	assert.Equal(t, 1, remote.Len(), "records absent from the snapshot are gone remotely")

	_, err = e.RestoreToCommit(context.Background(), "unknown")
	assert.ErrorIs(t, err, history.ErrCommitNotFound)
}

func TestRestoreFailureLeavesLocalState(t *testing.T) {
	remote := newTestRemote()
	e := newTestEngine(t, remote, time.Hour)
	seed(t, e, remote, models.StageOrders, models.Record{ID: "1", BaseID: "B1"})

	_, err := e.CommitToMainSheet([]string{"1"})
	require.NoError(t, err)
	target := e.History().AuditLog()[0]
	_, err = e.SendToCallList([]string{"1"})
	require.NoError(t, err)
	auditLen := len(e.History().AuditLog())

	remote.failOn("DeleteAllRecords", errors.New("foreign key violation"))
	_, err = e.RestoreToCommit(context.Background(), target.ID)
	require.Error(t, err)

	assert.Equal(t, models.StageCall, stageOf(t, e, "1"))
	assert.Len(t, e.History().AuditLog(), auditLen)
	assert.False(t, e.Restoring())
}

func TestMutationsRejectedWhileRestoring(t *testing.T) {
	remote := newTestRemote()
	e := newTestEngine(t, remote, time.Hour)
	seed(t, e, remote, models.StageOrders, models.Record{ID: "1", BaseID: "B1"})
	_, err := e.CommitToMainSheet([]string{"1"})
	require.NoError(t, err)
	target := e.History().AuditLog()[0]
	e.Wait()

	remote.mu.Lock()
	remote.gate = make(chan struct{})
	remote.entered = make(chan struct{})
	gate, entered := remote.gate, remote.entered
	remote.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		_, err := e.RestoreToCommit(context.Background(), target.ID)
		done <- err
	}()
	<-entered

	assert.True(t, e.Restoring())
	_, err = e.SendToCallList([]string{"1"})
	assert.ErrorIs(t, err, ErrRestoreInProgress)
	_, err = e.RestoreToCommit(context.Background(), target.ID)
	assert.ErrorIs(t, err, ErrRestoreInProgress)

	remote.mu.Lock()
	remote.gate = nil
	remote.mu.Unlock()
	close(gate)
	require.NoError(t, <-done)
	assert.False(t, e.Restoring())
}

func TestMutationBlockedOnLockRejectedByRestore(t *testing.T) {
	remote := newTestRemote()
	e := newTestEngine(t, remote, time.Hour)
	seed(t, e, remote, models.StageOrders, models.Record{ID: "1", BaseID: "B1"})
	_, err := e.CommitToMainSheet([]string{"1"})
	require.NoError(t, err)
	target := e.History().AuditLog()[0]
	e.Wait()

	e.mu.Lock()
	mutated := make(chan error, 1)
	go func() {
		_, err := e.SendToCallList([]string{"1"})
		mutated <- err
	}()
	// let the mutation pass the first restore check and block on the mutex
	time.Sleep(20 * time.Millisecond)

	restored := make(chan error, 1)
	go func() {
		_, err := e.RestoreToCommit(context.Background(), target.ID)
		restored <- err
	}()
	require.Eventually(t, e.Restoring, time.Second, time.Millisecond)
	e.mu.Unlock()

	assert.ErrorIs(t, <-mutated, ErrRestoreInProgress)
	require.NoError(t, <-restored)
	e.Wait()
	assert.Equal(t, models.StageMain, stageOf(t, e, "1"))
	assert.Empty(t, e.SyncErrors())
}

func TestCreateOrders(t *testing.T) {
	remote := newTestRemote()
	e := newTestEngine(t, remote, time.Hour)

	created, err := e.CreateOrders([]models.Record{
		{PartNumber: "P-100", Reminder: &models.Reminder{Date: "2026-01-10", Time: "09:30", Subject: "Chase supplier"}},
		{PartNumber: "P-200", StartWarranty: "2025-06-01"},
	})
	require.NoError(t, err)
	require.Len(t, created, 2)

	assert.NotEmpty(t, created[0].ID)
	assert.NotEqual(t, created[0].ID, created[1].ID)
	assert.Equal(t, created[0].BaseID, created[1].BaseID, "one call is one work order")
	assert.Equal(t, "ORD-"+created[0].BaseID, created[0].TrackingID)
	assert.Equal(t, models.StatusOrdered, created[0].Status)
	assert.Equal(t, "2026-06-01", created[1].EndWarranty)
	assert.NotEmpty(t, created[1].RemainingWarranty)
	assert.Len(t, e.Stage(models.StageOrders), 2)

	e.Wait()
	assert.Equal(t, 2, remote.Len())
	assert.Len(t, remote.Reminders(), 1)

	_, err = e.CreateOrders([]models.Record{{ID: created[0].ID}})
	assert.ErrorIs(t, err, ErrDuplicateRecord)
	_, err = e.CreateOrders([]models.Record{{Reminder: &models.Reminder{Date: "tomorrow"}}})
	assert.Error(t, err)
	assert.Len(t, e.Stage(models.StageOrders), 2)
}

func TestDeleteRecords(t *testing.T) {
	remote := newTestRemote()
	e := newTestEngine(t, remote, time.Hour)
	seed(t, e, remote, models.StageCall, models.Record{ID: "1", BaseID: "B1"}, models.Record{ID: "2", BaseID: "B2"})

	n, err := e.DeleteRecords([]string{"1", "missing"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, _, ok := e.Get("1")
	assert.False(t, ok)

	e.Wait()
	assert.Equal(t, 1, remote.Len())

	n, err = e.DeleteRecords([]string{"missing"})
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, e.History().UndoStack(), 1)
}

func TestUpdateRecord(t *testing.T) {
	remote := newTestRemote()
	e := newTestEngine(t, remote, time.Hour)
	seed(t, e, remote, models.StageMain, models.Record{ID: "1", BaseID: "B1"})

	note := "customer prefers mornings"
	attachment := "uploads/1.pdf"
	r, err := e.UpdateRecord("1", RecordPatch{
		Note:           &note,
		AttachmentPath: &attachment,
		Reminder:       &models.Reminder{Date: "2026-01-02", Time: "10:00", Subject: "Call back"},
	})
	require.NoError(t, err)
	assert.Equal(t, note, r.Note)
	require.NotNil(t, r.Reminder)

	e.Wait()
	main, err := remote.FindByStage(context.Background(), models.StageMain)
	require.NoError(t, err)
	require.Len(t, main, 1)
	assert.Equal(t, note, main[0].Note)
	require.NotNil(t, main[0].Reminder)
	assert.Equal(t, "Call back", main[0].Reminder.Subject)

	// same values again is not a change
	_, err = e.UpdateRecord("1", RecordPatch{Note: &note})
	require.NoError(t, err)
	assert.Len(t, e.History().UndoStack(), 1)

	r, err = e.UpdateRecord("1", RecordPatch{ClearReminder: true})
	require.NoError(t, err)
	assert.Nil(t, r.Reminder)
	e.Wait()
	assert.Empty(t, remote.Reminders())

	_, err = e.UpdateRecord("nope", RecordPatch{Note: &note})
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestSetBookingStatuses(t *testing.T) {
	remote := newTestRemote()
	e := newTestEngine(t, remote, time.Hour)
	defs := []models.BookingStatusDef{{Label: "Confirmed", Color: "#2e7d32"}, {Label: "Waiting", Color: "#f9a825"}}

	assert.ErrorIs(t, e.SetBookingStatuses([]models.BookingStatusDef{{Color: "#000"}}), ErrEmptyValue)

	require.NoError(t, e.SetBookingStatuses(defs))
	assert.Equal(t, defs, e.BookingStatuses())
	e.Wait()
	stored, _ := remote.FindBookingStatuses(context.Background())
	assert.Equal(t, defs, stored)

	remote.failOn("ReplaceBookingStatuses", errors.New("read only"))
	require.NoError(t, e.SetBookingStatuses(defs[:1]))
	e.Wait()
	assert.Equal(t, defs, e.BookingStatuses(), "rolled back")
	assert.Len(t, e.History().UndoStack(), 1)
}

func TestCheckAttachments(t *testing.T) {
	remote := newTestRemote()
	e := newTestEngine(t, remote, time.Hour)
	seed(t, e, remote, models.StageOrders,
		models.Record{ID: "1", BaseID: "B1", TrackingID: "ORD-B1", AttachmentPath: "uploads/1.pdf"},
		models.Record{ID: "2", BaseID: "B2", TrackingID: "ORD-B2"},
	)

	assert.NoError(t, e.CheckAttachments([]string{"1"}))
	err := e.CheckAttachments([]string{"1", "2"})
	assert.ErrorIs(t, err, ErrAttachmentRequired)
	assert.Contains(t, err.Error(), "ORD-B2")
}

func TestHydrateLoadsRemoteState(t *testing.T) {
	remote := newTestRemote()
	e := newTestEngine(t, remote, time.Hour)
	require.NoError(t, remote.ReplaceBookingStatuses(context.Background(), []models.BookingStatusDef{{Label: "Confirmed"}}))
	seed(t, e, remote, models.StageBooking, models.Record{ID: "1", BaseID: "B1", EndWarranty: "2000-01-01"})

	r, stage, ok := e.Get("1")
	require.True(t, ok)
	assert.Equal(t, models.StageBooking, stage)
	assert.Equal(t, models.WarrantyExpiredLabel, r.RemainingWarranty)
	assert.Equal(t, []models.BookingStatusDef{{Label: "Confirmed"}}, e.BookingStatuses())
	assert.False(t, e.History().CanUndo())
}
