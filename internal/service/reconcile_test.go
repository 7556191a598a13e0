package service

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"med-reminder/internal/model"
)

func vitaminDDay(t *testing.T) (model.Medication, []Occurrence, time.Time) {
	t.Helper()
	med := testMedication(uuid.New(), "Vitamin D", "08:00", "20:00")
	day := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)
	occs := DayOccurrences(med, day)
	require.Len(t, occs, 2)
	return med, occs, day
}

func statuses(doses []Dose) []DoseStatus {
	out := make([]DoseStatus, 0, len(doses))
	for _, d := range doses {
		out = append(out, d.Status)
	}
	return out
}

func TestReconcile_MissedAndPendingByTime(t *testing.T) {
	_, occs, day := vitaminDDay(t)
	now := day.Add(9 * time.Hour)

	doses, err := Reconcile(occs, nil, now)
	require.NoError(t, err)
	assert.Equal(t, []DoseStatus{DoseMissed, DosePending}, statuses(doses))
}

func TestReconcile_TakenRegardlessOfTime(t *testing.T) {
	med, occs, day := vitaminDDay(t)
	logs := []model.AdherenceLog{{
		ID:           uuid.New(),
		MedicationID: med.ID,
		UserID:       med.UserID,
		Status:       model.LogTaken,
		ScheduledAt:  day.Add(8*time.Hour + 20*time.Second),
		LoggedAt:     day.Add(8*time.Hour + 3*time.Minute),
	}}

	for _, now := range []time.Time{day.Add(7 * time.Hour), day.Add(9 * time.Hour), day.Add(30 * time.Hour)} {
		doses, err := Reconcile(occs, logs, now)
		require.NoError(t, err)
		assert.Equal(t, DoseTaken, doses[0].Status, "now=%s", now)
		require.NotNil(t, doses[0].Log)
		assert.Equal(t, logs[0].ID, doses[0].Log.ID)
	}
}

func TestReconcile_CrossMinuteIsNoMatch(t *testing.T) {
	med, occs, day := vitaminDDay(t)
	logs := []model.AdherenceLog{{
		MedicationID: med.ID,
		Status:       model.LogTaken,
		ScheduledAt:  day.Add(8*time.Hour + time.Minute),
	}}
	doses, err := Reconcile(occs, logs, day.Add(9*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, DoseMissed, doses[0].Status)
	assert.Nil(t, doses[0].Log)
}

func TestReconcile_OtherMedicationIsNoMatch(t *testing.T) {
	_, occs, day := vitaminDDay(t)
	logs := []model.AdherenceLog{{
		MedicationID: uuid.New(),
		Status:       model.LogTaken,
		ScheduledAt:  day.Add(8 * time.Hour),
	}}
	doses, err := Reconcile(occs, logs, day.Add(9*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, DoseMissed, doses[0].Status)
}

func TestReconcile_LogStatusMapping(t *testing.T) {
	med, occs, day := vitaminDDay(t)
	at := day.Add(20 * time.Hour)
	now := day.Add(9 * time.Hour)

	for status, want := range map[model.LogStatus]DoseStatus{
		model.LogTaken:   DoseTaken,
		model.LogMissed:  DoseMissed,
		model.LogSkipped: DoseMissed,
	} {
		logs := []model.AdherenceLog{{MedicationID: med.ID, Status: status, ScheduledAt: at}}
		doses, err := Reconcile(occs, logs, now)
		require.NoError(t, err)
		assert.Equal(t, want, doses[1].Status, string(status))
	}
}

func TestReconcile_UnknownStatusIsDataError(t *testing.T) {
	med, occs, day := vitaminDDay(t)
	logs := []model.AdherenceLog{{
		ID:           uuid.New(),
		MedicationID: med.ID,
		Status:       model.LogStatus("pending"),
		ScheduledAt:  day.Add(8 * time.Hour),
	}}

	doses, err := Reconcile(occs, logs, day.Add(9*time.Hour))
	var malformed *MalformedDataError
	require.True(t, errors.As(err, &malformed))
	assert.Contains(t, malformed.Reason, "pending")

	require.Len(t, doses, 1, "the bad item is dropped, the rest is kept")
	assert.Equal(t, "20:00", doses[0].Label)
	assert.Equal(t, DosePending, doses[0].Status)
}

func TestReconcile_Pure(t *testing.T) {
	_, occs, day := vitaminDDay(t)
	eight := day.Add(8 * time.Hour)

	a, errA := Reconcile(occs, nil, eight.Add(-time.Second))
	b, errB := Reconcile(occs, nil, eight.Add(-time.Second))
	require.NoError(t, errA)
	require.NoError(t, errB)
	assert.Equal(t, a, b)
	assert.Equal(t, DosePending, a[0].Status)

	exact, _ := Reconcile(occs, nil, eight)
	assert.Equal(t, DosePending, exact[0].Status, "not strictly past yet")

	after, _ := Reconcile(occs, nil, eight.Add(time.Second))
	assert.Equal(t, DoseMissed, after[0].Status)
}

func TestTally(t *testing.T) {
	tally := Tally([]Dose{{Status: DoseTaken}, {Status: DoseMissed}, {Status: DoseMissed}})
	assert.Equal(t, 1, tally[DoseTaken])
	assert.Equal(t, 2, tally[DoseMissed])
	assert.Equal(t, 0, tally[DosePending])
}
