package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"med-reminder/internal/model"
	"med-reminder/internal/realtime"
)

type dashboardFixture struct {
	dash      *Dashboard
	links     *fakeLinks
	logs      *fakeLogs
	caregiver *model.User
	patient   *model.User
	med       model.Medication
	now       time.Time
}

func newDashboardFixture(t *testing.T) dashboardFixture {
	t.Helper()
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	caregiver := &model.User{ID: uuid.New(), Timezone: "UTC"}
	patient := &model.User{ID: uuid.New(), Timezone: "UTC"}
	med := testMedication(patient.ID, "Vitamin D", "08:00", "20:00")

	links := &fakeLinks{}
	logs := &fakeLogs{}
	retrier := testRetrier()

	careLinks := NewCareLinkService(links, retrier, 0)
	careLinks.now = fixedNow(now)
	adherence := NewAdherenceService(newFakeMeds(med), logs, retrier, time.UTC)
	adherence.now = fixedNow(now)
	users := fakeUsers{caregiver.ID: caregiver, patient.ID: patient}

	link, err := careLinks.Invite(context.Background(), caregiver)
	require.NoError(t, err)
	_, err = careLinks.Redeem(context.Background(), patient, link.InviteCode)
	require.NoError(t, err)

	return dashboardFixture{
		dash:      NewDashboard(caregiver.ID, careLinks, adherence, users, retrier),
		links:     links,
		logs:      logs,
		caregiver: caregiver,
		patient:   patient,
		med:       med,
		now:       now,
	}
}

func TestDashboard_LoadSelectsFirstRecipient(t *testing.T) {
	f := newDashboardFixture(t)

	require.NoError(t, f.dash.LoadCareLinks(context.Background()))

	st := f.dash.State()
	assert.Len(t, st.Links, 1)
	assert.Equal(t, f.patient.ID, st.Selected)
	assert.Equal(t, []DoseStatus{DoseMissed, DosePending}, statuses(st.Doses))
	assert.NoError(t, st.Err)
}

func TestDashboard_SelectUnlinkedRecipient(t *testing.T) {
	f := newDashboardFixture(t)
	require.NoError(t, f.dash.LoadCareLinks(context.Background()))

	assert.Error(t, f.dash.SelectRecipient(context.Background(), uuid.New()))
	assert.Equal(t, f.patient.ID, f.dash.Selected())
}

func TestDashboard_OfflineState(t *testing.T) {
	f := newDashboardFixture(t)
	f.dash.retrier = &Retrier{MaxRetries: 1, sleep: noSleep, Probe: func(context.Context) error {
		return errors.New("network down")
	}}
	f.dash.links.retrier = f.dash.retrier

	err := f.dash.LoadCareLinks(context.Background())
	require.Error(t, err)

	st := f.dash.State()
	assert.True(t, st.Offline)
	assert.Equal(t, err, st.Err)
}

func waitForState(t *testing.T, ch <-chan DashboardState, ok func(DashboardState) bool) DashboardState {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case st := <-ch:
			if ok(st) {
				return st
			}
		case <-deadline:
			t.Fatal("dashboard never reached the expected state")
			return DashboardState{}
		}
	}
}

func TestDashboard_NextRefresh(t *testing.T) {
	ctx := context.Background()
	f := newDashboardFixture(t)
	f.dash.now = fixedNow(f.now)
	require.NoError(t, f.dash.LoadCareLinks(ctx))

	assert.Equal(t, time.Date(2026, 3, 14, 20, 0, 1, 0, time.UTC), f.dash.NextRefresh())

	late := time.Date(2026, 3, 14, 21, 0, 0, 0, time.UTC)
	f.dash.now = fixedNow(late)
	f.dash.adherence.now = fixedNow(late)
	require.NoError(t, f.dash.LoadSchedule(ctx))
	assert.Equal(t, time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC), f.dash.NextRefresh(),
		"nothing pending, so the next change is the new day")
}

func TestDashboard_KeepFreshMarksDosesMissedWithoutEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := newDashboardFixture(t)
	clock := &testClock{t: f.now}
	f.dash.now = clock.Now
	f.dash.adherence.now = clock.Now
	fire := make(chan time.Time)
	f.dash.after = func(time.Duration) <-chan time.Time { return fire }

	require.NoError(t, f.dash.LoadCareLinks(ctx))
	require.Equal(t, []DoseStatus{DoseMissed, DosePending}, statuses(f.dash.State().Doses))

	states := make(chan DashboardState, 16)
	stop := f.dash.Subscribe(func(st DashboardState) { states <- st })
	defer stop()

	done := make(chan struct{})
	go func() {
		f.dash.KeepFresh(ctx)
		close(done)
	}()

	clock.Set(time.Date(2026, 3, 14, 20, 0, 1, 0, time.UTC))
	select {
	case fire <- clock.Now():
	case <-time.After(2 * time.Second):
		t.Fatal("refresh timer was never armed")
	}

	st := waitForState(t, states, func(st DashboardState) bool {
		return len(st.Doses) == 2 && st.Doses[1].Status == DoseMissed
	})
	assert.Equal(t, []DoseStatus{DoseMissed, DoseMissed}, statuses(st.Doses))
	assert.Equal(t, clock.Now(), st.LoadedAt)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("KeepFresh did not stop with its context")
	}
}

func TestRealtimeListener_ReloadsOnMatchingEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := newDashboardFixture(t)
	require.NoError(t, f.dash.LoadCareLinks(ctx))

	states := make(chan DashboardState, 16)
	stop := f.dash.Subscribe(func(st DashboardState) { states <- st })
	defer stop()

	feed := realtime.NewMemoryFeed()
	defer feed.Close()
	l := NewRealtimeListener(feed, f.dash)
	require.NoError(t, l.Start(ctx))

	// Someone else's log is ignored.
	require.NoError(t, feed.Publish(ctx, realtime.Event{
		Table:  realtime.TableAdherenceLogs,
		Kind:   realtime.KindInsert,
		Record: map[string]any{"user_id": uuid.NewString()},
	}))

	_, err := f.logs.InsertAdherenceLog(ctx, &model.AdherenceLog{
		MedicationID: f.med.ID,
		UserID:       f.patient.ID,
		Status:       model.LogTaken,
		ScheduledAt:  time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.NoError(t, feed.Publish(ctx, realtime.Event{
		Table:  realtime.TableAdherenceLogs,
		Kind:   realtime.KindInsert,
		Record: map[string]any{"user_id": f.patient.ID.String()},
	}))

	st := waitForState(t, states, func(st DashboardState) bool {
		return len(st.Doses) == 2 && st.Doses[0].Status == DoseTaken
	})
	assert.Equal(t, DosePending, st.Doses[1].Status)
}

func TestRealtimeListener_CareLinkDeleteUsesPreImage(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := newDashboardFixture(t)
	require.NoError(t, f.dash.LoadCareLinks(ctx))

	states := make(chan DashboardState, 16)
	stop := f.dash.Subscribe(func(st DashboardState) { states <- st })
	defer stop()

	feed := realtime.NewMemoryFeed()
	defer feed.Close()
	require.NoError(t, NewRealtimeListener(feed, f.dash).Start(ctx))

	f.links.mu.Lock()
	f.links.links = nil
	f.links.mu.Unlock()

	require.NoError(t, feed.Publish(ctx, realtime.Event{
		Table:     realtime.TableCareLinks,
		Kind:      realtime.KindDelete,
		OldRecord: map[string]any{"caregiver_id": f.caregiver.ID.String()},
	}))

	st := waitForState(t, states, func(st DashboardState) bool { return len(st.Links) == 0 })
	assert.Equal(t, uuid.Nil, st.Selected)
	assert.Empty(t, st.Doses)
}

type failingFeed struct {
	realtime.Nop
	failTable string
}

func (f failingFeed) Subscribe(_ context.Context, table string, _ realtime.Handler) error {
	if table == f.failTable {
		return errors.New("channel error")
	}
	return nil
}

func (failingFeed) Close() error { return nil }

func TestRealtimeListener_SubscribeFailureSetsError(t *testing.T) {
	f := newDashboardFixture(t)

	err := NewRealtimeListener(failingFeed{failTable: realtime.TableCareLinks}, f.dash).Start(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), realtime.TableCareLinks)
	assert.Equal(t, err, f.dash.State().Err)
}

func TestRealtimeListener_StopsWithContext(t *testing.T) {
	f := newDashboardFixture(t)
	feed := realtime.NewMemoryFeed()
	defer feed.Close()

	ctx, cancel := context.WithCancel(context.Background())
	l := NewRealtimeListener(feed, f.dash)
	require.NoError(t, l.Start(ctx))
	cancel()

	select {
	case <-l.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not stop")
	}
}
