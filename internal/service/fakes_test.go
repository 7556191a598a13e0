package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"med-reminder/internal/model"
	"med-reminder/internal/notify"
)

var errBoom = errors.New("boom")

func fixedNow(t time.Time) func() time.Time { return func() time.Time { return t } }

// testClock is a settable clock shared by services and their goroutines.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

func noSleep(context.Context, time.Duration) error { return nil }

func testRetrier() *Retrier {
	return &Retrier{MaxRetries: 3, sleep: noSleep}
}

// fakeCenter is an in-memory notification platform.
type fakeCenter struct {
	mu          sync.Mutex
	pending     map[string]notify.Notification
	delivered   map[string]notify.Notification
	failOn      func(n notify.Notification) error
	cancelErr   error
	scheduleLog []string
}

func newFakeCenter() *fakeCenter {
	return &fakeCenter{
		pending:   make(map[string]notify.Notification),
		delivered: make(map[string]notify.Notification),
	}
}

func (c *fakeCenter) Schedule(_ context.Context, n notify.Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failOn != nil {
		if err := c.failOn(n); err != nil {
			return err
		}
	}
	_, isPending := c.pending[n.ID]
	_, isDelivered := c.delivered[n.ID]
	if n.Snooze && (isPending || isDelivered) {
		return notify.ErrNotificationExists
	}
	if isDelivered {
		return nil
	}
	c.pending[n.ID] = n
	c.scheduleLog = append(c.scheduleLog, n.ID)
	return nil
}

func (c *fakeCenter) Cancel(_ context.Context, ids []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancelErr != nil {
		return c.cancelErr
	}
	for _, id := range ids {
		delete(c.pending, id)
	}
	return nil
}

func (c *fakeCenter) CancelAll(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = make(map[string]notify.Notification)
	return nil
}

func (c *fakeCenter) ListPending(context.Context) ([]notify.Pending, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]notify.Pending, 0, len(c.pending))
	for _, n := range c.pending {
		out = append(out, notify.Pending{ID: n.ID, TriggerAt: n.TriggerAt, Snooze: n.Snooze})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (c *fakeCenter) ids() []string {
	pending, _ := c.ListPending(context.Background())
	ids := make([]string, 0, len(pending))
	for _, p := range pending {
		ids = append(ids, p.ID)
	}
	return ids
}

func (c *fakeCenter) markDelivered(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n, ok := c.pending[id]; ok {
		delete(c.pending, id)
		c.delivered[id] = n
	}
}

func (c *fakeCenter) get(id string) (notify.Notification, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.pending[id]
	return n, ok
}

// fakeLogs stores adherence logs in memory with the occurrence uniqueness rule.
type fakeLogs struct {
	mu       sync.Mutex
	logs     []model.AdherenceLog
	insertFn func(entry *model.AdherenceLog) error
	inserts  int
}

func (f *fakeLogs) InsertAdherenceLog(_ context.Context, entry *model.AdherenceLog) (*model.AdherenceLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserts++
	if f.insertFn != nil {
		if err := f.insertFn(entry); err != nil {
			return nil, err
		}
	}
	entry.ScheduledAt = entry.ScheduledAt.Truncate(time.Minute)
	for _, l := range f.logs {
		if l.MedicationID == entry.MedicationID && l.ScheduledAt.Equal(entry.ScheduledAt) {
			return nil, ErrConflict
		}
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	f.logs = append(f.logs, *entry)
	return entry, nil
}

func (f *fakeLogs) ListAdherenceLogs(_ context.Context, userID uuid.UUID, from, to time.Time) ([]model.AdherenceLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.AdherenceLog
	for _, l := range f.logs {
		if l.UserID == userID && !l.ScheduledAt.Before(from) && l.ScheduledAt.Before(to) {
			out = append(out, l)
		}
	}
	return out, nil
}

// fakeMeds is an in-memory medication store.
type fakeMeds struct {
	mu   sync.Mutex
	meds map[uuid.UUID]model.Medication
}

func newFakeMeds(meds ...model.Medication) *fakeMeds {
	f := &fakeMeds{meds: make(map[uuid.UUID]model.Medication)}
	for _, m := range meds {
		f.meds[m.ID] = m
	}
	return f
}

func (f *fakeMeds) CreateMedication(_ context.Context, med *model.Medication) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if med.ID == uuid.Nil {
		med.ID = uuid.New()
	}
	f.meds[med.ID] = *med
	return nil
}

func (f *fakeMeds) UpdateMedication(_ context.Context, med *model.Medication) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.meds[med.ID]; !ok {
		return ErrNotFound
	}
	f.meds[med.ID] = *med
	return nil
}

func (f *fakeMeds) GetMedication(_ context.Context, userID, id uuid.UUID) (*model.Medication, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.meds[id]
	if !ok || m.UserID != userID {
		return nil, ErrNotFound
	}
	return &m, nil
}

func (f *fakeMeds) ListMedications(_ context.Context, userID uuid.UUID, activeOnly bool) ([]model.Medication, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Medication
	for _, m := range f.meds {
		if m.UserID == userID && (!activeOnly || m.IsActive) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (f *fakeMeds) ListAllActive(context.Context) ([]model.Medication, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Medication
	for _, m := range f.meds {
		if m.IsActive {
			out = append(out, m)
		}
	}
	return out, nil
}

type fakeUsers map[uuid.UUID]*model.User

func (f fakeUsers) FindByID(_ context.Context, id uuid.UUID) (*model.User, error) {
	u, ok := f[id]
	if !ok {
		return nil, ErrNotFound
	}
	return u, nil
}

// fakeLinks is an in-memory care link store.
type fakeLinks struct {
	mu    sync.Mutex
	links []model.CareLink
	err   error
}

func (f *fakeLinks) InsertCareLink(_ context.Context, caregiverID uuid.UUID, code string, status model.CareLinkStatus, expiresAt time.Time) (*model.CareLink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, l := range f.links {
		if l.InviteCode == code {
			return nil, ErrConflict
		}
	}
	link := model.CareLink{ID: uuid.New(), CaregiverID: caregiverID, InviteCode: code, Status: status, ExpiresAt: expiresAt}
	f.links = append(f.links, link)
	return &link, nil
}

func (f *fakeLinks) ListCareLinks(_ context.Context, caregiverID uuid.UUID, status model.CareLinkStatus) ([]model.CareLink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	var out []model.CareLink
	for _, l := range f.links {
		if l.CaregiverID == caregiverID && (status == "" || l.Status == status) {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *fakeLinks) ListCareLinksForUser(_ context.Context, userID uuid.UUID, status model.CareLinkStatus) ([]model.CareLink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.CareLink
	for _, l := range f.links {
		if l.UserID != nil && *l.UserID == userID && (status == "" || l.Status == status) {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *fakeLinks) FindByInviteCode(_ context.Context, code string) (*model.CareLink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, l := range f.links {
		if l.InviteCode == code {
			return &l, nil
		}
	}
	return nil, ErrNotFound
}

func (f *fakeLinks) RedeemCareLink(_ context.Context, linkID, userID uuid.UUID, _ time.Time) (*model.CareLink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.links {
		if f.links[i].ID != linkID {
			continue
		}
		if f.links[i].Status != model.CareLinkPending {
			return nil, ErrConflict
		}
		uid := userID
		f.links[i].UserID = &uid
		f.links[i].Status = model.CareLinkAccepted
		l := f.links[i]
		return &l, nil
	}
	return nil, ErrNotFound
}

func (f *fakeLinks) RevokeCareLink(_ context.Context, linkID uuid.UUID, _ time.Time) (*model.CareLink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.links {
		if f.links[i].ID == linkID {
			f.links[i].Status = model.CareLinkRevoked
			l := f.links[i]
			return &l, nil
		}
	}
	return nil, ErrNotFound
}

// fakeAlerter records confirmations and failures.
type fakeAlerter struct {
	mu        sync.Mutex
	confirmed []notify.Payload
	failed    []error
}

func (a *fakeAlerter) Confirm(_ context.Context, p notify.Payload) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.confirmed = append(a.confirmed, p)
	return nil
}

func (a *fakeAlerter) Fail(_ context.Context, _ notify.Payload, cause error) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failed = append(a.failed, cause)
	return nil
}

func testMedication(owner uuid.UUID, name string, labels ...string) model.Medication {
	return model.Medication{
		ID:           uuid.New(),
		UserID:       owner,
		Name:         name,
		Dosage:       "1 tablet",
		ScheduleType: model.ScheduleDaily,
		TimeLabels:   labels,
		IsActive:     true,
	}
}
