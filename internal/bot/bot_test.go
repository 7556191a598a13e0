package bot

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"med-reminder/internal/model"
	"med-reminder/internal/notify"
	"med-reminder/internal/service"
)

func TestParseTimes(t *testing.T) {
	assert.Equal(t, []string{"08:00", "20:00"}, parseTimes("08:00, 20:00"))
	assert.Equal(t, []string{"8:00", "13:30", "21:00"}, parseTimes(" 8:00 13:30;21:00\n"))
	assert.Empty(t, parseTimes(" , ; "))
}

func TestShortTitle(t *testing.T) {
	assert.Equal(t, "Aspirin", shortTitle("  Aspirin ", 10))
	assert.Equal(t, "Ibupro…", shortTitle("Ibuprofen", 7))
	assert.Equal(t, "Омепра…", shortTitle("Омепразол", 7))
}

func TestDialogInputs(t *testing.T) {
	assert.True(t, isSkipInput("-"))
	assert.True(t, isSkipInput(btnSkip))
	assert.True(t, isSkipInput(" SKIP "))
	assert.False(t, isSkipInput("1 tablet"))

	assert.True(t, isCancelDialogInput(btnCancelDialog))
	assert.True(t, isCancelDialogInput("cancel"))
	assert.False(t, isCancelDialogInput("08:00"))
}

func TestReminderKeyboard_CallbackDataFits(t *testing.T) {
	id := notify.NotificationID(uuid.New(), time.Date(2099, 12, 31, 23, 59, 0, 0, time.UTC))
	kb := reminderKeyboard(id, 15)

	require.Len(t, kb.InlineKeyboard, 1)
	require.Len(t, kb.InlineKeyboard[0], 2)
	taken, later := kb.InlineKeyboard[0][0], kb.InlineKeyboard[0][1]
	require.NotNil(t, taken.CallbackData)
	require.NotNil(t, later.CallbackData)

	assert.Equal(t, cbTakenPrefix+id, *taken.CallbackData)
	assert.Equal(t, cbLaterPrefix+id, *later.CallbackData)
	assert.LessOrEqual(t, len(*taken.CallbackData), callbackMaxSize)
	assert.LessOrEqual(t, len(*later.CallbackData), callbackMaxSize)
	assert.Contains(t, later.Text, "15 min")
}

func TestMedicationsKeyboard(t *testing.T) {
	meds := []model.Medication{
		{ID: uuid.New(), Name: "A very long medication name that will be cut"},
		{ID: uuid.New(), Name: "Aspirin"},
	}
	kb := medicationsKeyboard(meds)

	require.Len(t, kb.InlineKeyboard, 2)
	for i, row := range kb.InlineKeyboard {
		require.Len(t, row, 2)
		assert.Equal(t, cbEditPrefix+meds[i].ID.String(), *row[0].CallbackData)
		assert.Equal(t, cbRemovePrefix+meds[i].ID.String(), *row[1].CallbackData)
		assert.LessOrEqual(t, len(*row[0].CallbackData), callbackMaxSize)
	}
	assert.Contains(t, kb.InlineKeyboard[0][0].Text, "…")
}

func TestRecipientsKeyboard(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	names := map[uuid.UUID]string{a: "Ann", b: "Bob"}

	assert.Nil(t, recipientsKeyboard(names, []uuid.UUID{a}, a))

	kb := recipientsKeyboard(names, []uuid.UUID{a, b}, b)
	require.NotNil(t, kb)
	require.Len(t, kb.InlineKeyboard, 1)
	row := kb.InlineKeyboard[0]
	assert.Equal(t, "Ann", row[0].Text)
	assert.Equal(t, "• Bob", row[1].Text)
	assert.Equal(t, cbSelectPrefix+b.String(), *row[1].CallbackData)
}

func TestWatchText(t *testing.T) {
	recipient := uuid.New()
	w := &watch{names: map[uuid.UUID]string{recipient: "Ann"}}
	b := &Bot{}
	links := []model.CareLink{{ID: uuid.New(), UserID: &recipient, Status: model.CareLinkAccepted}}

	t.Run("no links", func(t *testing.T) {
		text := b.watchText(w, service.DashboardState{})
		assert.Contains(t, text, "Nobody to follow yet")
	})

	t.Run("offline keeps last data", func(t *testing.T) {
		at := time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC)
		st := service.DashboardState{
			Links:    links,
			Selected: recipient,
			Doses: []service.Dose{{
				Occurrence: service.Occurrence{MedicationID: uuid.New(), Name: "Aspirin", Label: "08:00", At: at},
				Status:     service.DoseTaken,
			}},
			Err:      &service.ConnectivityError{Err: errors.New("dial tcp: refused")},
			Offline:  true,
			LoadedAt: at.Add(time.Hour),
		}
		text := b.watchText(w, st)
		assert.Contains(t, text, offlineBannerText)
		assert.Contains(t, text, "Ann")
		assert.Contains(t, text, "Aspirin")
		assert.Contains(t, text, "✅ 1 taken")
	})

	t.Run("error without offline", func(t *testing.T) {
		st := service.DashboardState{Links: links, Selected: recipient, Err: errors.New("boom")}
		text := b.watchText(w, st)
		assert.Contains(t, text, "⚠️ boom")
		assert.NotContains(t, text, offlineBannerText)
	})
}
