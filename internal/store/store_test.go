package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/parts-workflow/internal/models"
)

func rec(id string) models.Record {
	return models.Record{ID: id, BaseID: "B" + id}
}

func ids(recs []models.Record) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.ID
	}
	return out
}

// assertPartition fails if any id shows up in more than one stage.
func assertPartition(t *testing.T, s *Store) {
	t.Helper()
	seen := map[string]models.Stage{}
	for _, stage := range models.Stages {
		for _, r := range s.Stage(stage) {
			if prev, ok := seen[r.ID]; ok {
				t.Fatalf("record %s in both %s and %s", r.ID, prev, stage)
			}
			seen[r.ID] = stage
		}
	}
	assert.Equal(t, len(seen), s.Len())
}

func TestSetContainerKeepsPartition(t *testing.T) {
	s := New()
	s.SetContainer(models.StageOrders, []models.Record{rec("1"), rec("2")})
	s.SetContainer(models.StageMain, []models.Record{rec("2"), rec("3")})

	assert.Equal(t, []string{"1"}, ids(s.Stage(models.StageOrders)))
	assert.Equal(t, []string{"2", "3"}, ids(s.Stage(models.StageMain)))
	assertPartition(t, s)

	stage, ok := s.StageOf("2")
	require.True(t, ok)
	assert.Equal(t, models.StageMain, stage)
}

func TestSetContainerReplacesStage(t *testing.T) {
	s := New()
	s.SetContainer(models.StageCall, []models.Record{rec("1"), rec("2")})
	s.SetContainer(models.StageCall, []models.Record{rec("3")})

	_, _, ok := s.Get("1")
	assert.False(t, ok)
	assert.Equal(t, []string{"3"}, ids(s.Stage(models.StageCall)))
	assertPartition(t, s)
}

func TestApplyMoveAndPatch(t *testing.T) {
	s := New()
	s.SetContainer(models.StageOrders, []models.Record{rec("1"), rec("2")})

	changed := s.Apply(func(tx *Tx) bool {
		found := tx.Find([]string{"1", "1", "missing"}, models.StageOrders)
		require.Equal(t, []string{"1"}, found)
		_, err := tx.Move("1", models.StageMain, func(r *models.Record) { r.Status = models.StatusPending })
		require.NoError(t, err)
		return true
	})
	assert.True(t, changed)

	r, stage, ok := s.Get("1")
	require.True(t, ok)
	assert.Equal(t, models.StageMain, stage)
	assert.Equal(t, models.StatusPending, r.Status)

	s.Apply(func(tx *Tx) bool {
		_, st, err := tx.Patch("1", func(r *models.Record) { r.PartStatus = "Arrived" })
		require.NoError(t, err)
		assert.Equal(t, models.StageMain, st)
		return true
	})
	r, _, _ = s.Get("1")
	assert.Equal(t, "Arrived", r.PartStatus)
	assertPartition(t, s)
}

func TestTxInsertDelete(t *testing.T) {
	s := New()
	s.Apply(func(tx *Tx) bool {
		require.NoError(t, tx.Insert(models.StageOrders, rec("1")))
		assert.Error(t, tx.Insert(models.StageMain, rec("1")))
		assert.Error(t, tx.Insert(models.StageMain, models.Record{}))
		return true
	})
	assert.Equal(t, 1, s.Len())

	s.Apply(func(tx *Tx) bool {
		_, stage, ok := tx.Delete("1")
		assert.True(t, ok)
		assert.Equal(t, models.StageOrders, stage)
		_, _, ok = tx.Delete("1")
		assert.False(t, ok)
		return true
	})
	assert.Equal(t, 0, s.Len())
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	s := New()
	r := rec("1")
	r.Reminder = &models.Reminder{Subject: "call back"}
	s.SetContainer(models.StageMain, []models.Record{r})
	s.SetBookingStatuses([]models.BookingStatusDef{{Label: "Confirmed"}})

	snap := s.Snapshot()
	snap.Stages[models.StageMain][0].Reminder.Subject = "mutated"
	snap.BookingStatuses[0].Label = "mutated"

	got, _, _ := s.Get("1")
	assert.Equal(t, "call back", got.Reminder.Subject)
	assert.Equal(t, "Confirmed", s.BookingStatuses()[0].Label)
}

func TestLoadOverwritesEverything(t *testing.T) {
	s := New()
	s.SetContainer(models.StageOrders, []models.Record{rec("1")})

	snap := models.NewSnapshot()
	snap.Stages[models.StageArchive] = []models.Record{rec("9")}
	snap.BookingStatuses = []models.BookingStatusDef{{Label: "Waiting"}}
	s.Load(snap)

	assert.Empty(t, s.Stage(models.StageOrders))
	assert.Equal(t, []string{"9"}, ids(s.Stage(models.StageArchive)))
	assert.Equal(t, snap.BookingStatuses, s.BookingStatuses())
	assert.Equal(t, snap, s.Snapshot())
}

func TestRestoreStagesUndoesMove(t *testing.T) {
	s := New()
	s.SetContainer(models.StageOrders, []models.Record{rec("1"), rec("2")})
	s.SetContainer(models.StageMain, []models.Record{rec("3")})
	affected := []models.Stage{models.StageOrders, models.StageMain}
	prev := s.SnapshotStages(affected)

	s.Apply(func(tx *Tx) bool {
		_, _ = tx.Move("1", models.StageMain, nil)
		_, _, _ = tx.Delete("2")
		_ = tx.Insert(models.StageMain, rec("4"))
		return true
	})
	s.RestoreStages(prev)

	assert.Equal(t, []string{"1", "2"}, ids(s.Stage(models.StageOrders)))
	assert.Equal(t, []string{"3"}, ids(s.Stage(models.StageMain)))
	_, _, ok := s.Get("4")
	assert.False(t, ok)
	assertPartition(t, s)
}

func TestCounts(t *testing.T) {
	s := New()
	s.SetContainer(models.StageBooking, []models.Record{rec("1"), rec("2")})
	counts := s.Counts()
	assert.Equal(t, 2, counts[models.StageBooking])
	assert.Equal(t, 0, counts[models.StageArchive])
	assert.Len(t, counts, len(models.Stages))
}
