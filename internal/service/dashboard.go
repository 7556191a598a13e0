package service

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"med-reminder/internal/model"
)

// DashboardState is what a caregiver sees: the people they follow, who is
// selected, and that person's doses today.
type DashboardState struct {
	Links    []model.CareLink
	Selected uuid.UUID
	Doses    []Dose
	Err      error
	Offline  bool
	LoadedAt time.Time
}

// Dashboard is the caregiver's state container. Observers are called after
// every change with a copy of the new state.
type Dashboard struct {
	caregiverID uuid.UUID
	links       *CareLinkService
	adherence   *AdherenceService
	users       UserStore
	retrier     *Retrier
	now         func() time.Time
	after       func(time.Duration) <-chan time.Time
	changed     chan struct{}

	mu        sync.Mutex
	state     DashboardState
	loc       *time.Location // calendar of the selected person
	observers map[int]func(DashboardState)
	nextObs   int
}

// refreshRetry is the pause before a failed timed reload is tried again.
const refreshRetry = time.Minute

func NewDashboard(caregiverID uuid.UUID, links *CareLinkService, adherence *AdherenceService, users UserStore, retrier *Retrier) *Dashboard {
	return &Dashboard{
		caregiverID: caregiverID,
		links:       links,
		adherence:   adherence,
		users:       users,
		retrier:     retrier,
		now:         time.Now,
		after:       time.After,
		changed:     make(chan struct{}, 1),
		observers:   make(map[int]func(DashboardState)),
	}
}

func (d *Dashboard) CaregiverID() uuid.UUID { return d.caregiverID }

// Selected returns the user whose doses are shown, or uuid.Nil.
func (d *Dashboard) Selected() uuid.UUID {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state.Selected
}

func (d *Dashboard) State() DashboardState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Subscribe registers fn for state changes and returns a function that
// removes it.
func (d *Dashboard) Subscribe(fn func(DashboardState)) (cancel func()) {
	d.mu.Lock()
	id := d.nextObs
	d.nextObs++
	d.observers[id] = fn
	d.mu.Unlock()
	return func() {
		d.mu.Lock()
		delete(d.observers, id)
		d.mu.Unlock()
	}
}

// LoadCareLinks reloads the accepted links. If the selected person is no
// longer linked, the first linked person is selected instead and their
// schedule is loaded.
func (d *Dashboard) LoadCareLinks(ctx context.Context) error {
	links, err := d.links.Accepted(ctx, d.caregiverID)
	if err != nil {
		d.fail(err)
		return err
	}

	d.mu.Lock()
	prev := d.state.Selected
	d.state.Links = links
	d.state.Err = nil
	d.state.Offline = false
	if !linked(links, prev) {
		d.state.Selected = uuid.Nil
		if len(links) > 0 && links[0].UserID != nil {
			d.state.Selected = *links[0].UserID
		}
		d.state.Doses = nil
	}
	selected := d.state.Selected
	d.mu.Unlock()
	d.notify()

	if selected != prev && selected != uuid.Nil {
		return d.LoadSchedule(ctx)
	}
	return nil
}

// LoadSchedule reloads today's doses of the selected person.
func (d *Dashboard) LoadSchedule(ctx context.Context) error {
	selected := d.Selected()
	if selected == uuid.Nil {
		return nil
	}

	user, err := PerformWithRetry(ctx, d.retrier, "find user", func(ctx context.Context) (*model.User, error) {
		return d.users.FindByID(ctx, selected)
	})
	if err != nil {
		d.fail(err)
		return err
	}
	doses, err := d.adherence.Today(ctx, user)
	if err != nil {
		d.fail(err)
		return err
	}

	d.mu.Lock()
	if d.state.Selected != selected {
		d.mu.Unlock()
		return nil
	}
	d.state.Doses = doses
	d.loc = user.Location(d.adherence.defaultTZ)
	d.state.Err = nil
	d.state.Offline = false
	d.state.LoadedAt = d.now()
	d.mu.Unlock()
	d.notify()
	return nil
}

// SelectRecipient switches to another linked person and loads their doses.
func (d *Dashboard) SelectRecipient(ctx context.Context, userID uuid.UUID) error {
	d.mu.Lock()
	if !linked(d.state.Links, userID) {
		d.mu.Unlock()
		return fmt.Errorf("user %s is not linked to caregiver %s", userID, d.caregiverID)
	}
	d.state.Selected = userID
	d.state.Doses = nil
	d.mu.Unlock()
	d.notify()
	return d.LoadSchedule(ctx)
}

// NextRefresh returns when the shown doses go stale: just after the first
// pending dose falls due, or at the selected person's next midnight,
// whichever comes first.
func (d *Dashboard) NextRefresh() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()

	loc := d.loc
	if loc == nil {
		loc = d.adherence.defaultTZ
	}
	now := d.now().In(loc)
	y, m, day := now.Date()
	next := time.Date(y, m, day+1, 0, 0, 0, 0, loc)
	for _, dose := range d.state.Doses {
		if dose.Status != DosePending {
			continue
		}
		if due := dose.At.Add(time.Second); due.Before(next) {
			next = due
		}
	}
	return next
}

// KeepFresh reloads the schedule whenever NextRefresh comes, so pending doses
// turn missed and a new day starts without any change event. It returns when
// ctx ends.
func (d *Dashboard) KeepFresh(ctx context.Context) {
	failed := false
	for {
		wait := d.NextRefresh().Sub(d.now())
		if failed && wait < refreshRetry {
			wait = refreshRetry
		}
		if wait < 0 {
			wait = 0
		}

		select {
		case <-ctx.Done():
			return
		case <-d.changed:
			continue
		case <-d.after(wait):
		}

		err := d.LoadSchedule(ctx)
		failed = err != nil
		if err != nil && ctx.Err() == nil {
			log.Printf("[warn] timed dashboard reload for %s: %v", d.caregiverID, err)
		}
	}
}

// SetError puts the dashboard in an error state.
func (d *Dashboard) SetError(err error) { d.fail(err) }

func (d *Dashboard) fail(err error) {
	d.mu.Lock()
	d.state.Err = err
	d.state.Offline = IsOffline(err)
	d.mu.Unlock()
	d.notify()
}

func (d *Dashboard) notify() {
	d.mu.Lock()
	st := d.state
	fns := make([]func(DashboardState), 0, len(d.observers))
	for _, fn := range d.observers {
		fns = append(fns, fn)
	}
	d.mu.Unlock()
	for _, fn := range fns {
		fn(st)
	}
	signal(d.changed)
}

func linked(links []model.CareLink, userID uuid.UUID) bool {
	if userID == uuid.Nil {
		return false
	}
	for _, l := range links {
		if l.UserID != nil && *l.UserID == userID {
			return true
		}
	}
	return false
}
