package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"med-reminder/internal/metrics"
	"med-reminder/internal/model"
	"med-reminder/internal/notify"
)

// maxSnoozeShift bounds how many minutes a snooze may slide past taken ids.
const maxSnoozeShift = 30

// NotificationScheduler owns the pending reminders of every medication.
// Calls for one medication are serialized; different medications run in
// parallel.
type NotificationScheduler struct {
	center    notify.Center
	gen       Generator
	lead      time.Duration
	defaultTZ *time.Location
	now       func() time.Time

	locks keyedMutex
}

func NewNotificationScheduler(center notify.Center, horizonDays, leadMinutes int, defaultTZ *time.Location) *NotificationScheduler {
	if defaultTZ == nil {
		defaultTZ = time.Local
	}
	return &NotificationScheduler{
		center:    center,
		gen:       Generator{Horizon: horizonDays},
		lead:      time.Duration(leadMinutes) * time.Minute,
		defaultTZ: defaultTZ,
		now:       time.Now,
	}
}

// Synchronize makes the pending reminders of med match its current state:
// every reminder of med is cancelled, snoozes included, then one is scheduled
// per future occurrence in the horizon. An inactive medication only loses its
// reminders. A reminder that fails to schedule is logged and skipped.
func (s *NotificationScheduler) Synchronize(ctx context.Context, med model.Medication, owner model.User) error {
	return s.synchronize(ctx, med, owner, false)
}

// RollForward is Synchronize for the periodic horizon roll. The medication
// has not changed, so pending snoozes are left in place.
func (s *NotificationScheduler) RollForward(ctx context.Context, med model.Medication, owner model.User) error {
	return s.synchronize(ctx, med, owner, true)
}

func (s *NotificationScheduler) synchronize(ctx context.Context, med model.Medication, owner model.User, keepSnoozes bool) error {
	unlock := s.locks.Lock(med.ID)
	defer unlock()

	if !med.IsActive {
		return s.cancelFor(ctx, med.ID, true)
	}
	if bad := InvalidTimeLabels(med); len(bad) > 0 {
		log.Printf("[debug] medication %s: skipping malformed time labels %v", med.ID, bad)
	}

	if err := s.cancelFor(ctx, med.ID, !keepSnoozes); err != nil {
		var se *SchedulingError
		if !errors.As(err, &se) {
			return err
		}
		log.Printf("[warn] %v", err)
	}

	now := s.now()
	loc := owner.Location(s.defaultTZ)
	scheduled, failed := 0, 0
	for occ := range s.gen.Occurrences(med, now.In(loc)) {
		if !occ.At.After(now) {
			continue
		}
		n := notify.Notification{
			ID:        notify.NotificationID(med.ID, occ.At),
			TriggerAt: occ.At.Add(-s.lead),
			Payload:   payloadFor(med, owner, occ.At),
		}
		if err := s.center.Schedule(ctx, n); err != nil {
			failed++
			metrics.NotificationsFailed.WithLabelValues("schedule").Inc()
			log.Printf("[warn] %v", &SchedulingError{ID: n.ID, Err: err})
			continue
		}
		scheduled++
	}
	metrics.NotificationsScheduled.Add(float64(scheduled))
	log.Printf("[info] synchronized medication %s: %d scheduled, %d failed", med.ID, scheduled, failed)
	return nil
}

// Remove cancels every pending reminder of the medication, snoozes included.
func (s *NotificationScheduler) Remove(ctx context.Context, medicationID uuid.UUID) error {
	unlock := s.locks.Lock(medicationID)
	defer unlock()
	return s.cancelFor(ctx, medicationID, true)
}

// RemoveAll drops every pending reminder on the platform.
func (s *NotificationScheduler) RemoveAll(ctx context.Context) error {
	if err := s.center.CancelAll(ctx); err != nil {
		metrics.NotificationsFailed.WithLabelValues("cancel").Inc()
		return &SchedulingError{ID: "*", Err: err}
	}
	return nil
}

// ScheduleOne adds a single out-of-schedule reminder for the occurrence in
// payload, firing at trigger. A snooze never takes over an id that is already
// in use; it moves a minute later until it finds a free one.
func (s *NotificationScheduler) ScheduleOne(ctx context.Context, payload notify.Payload, trigger time.Time) (string, error) {
	unlock := s.locks.Lock(payload.MedicationID)
	defer unlock()

	var id string
	for shift := 0; shift <= maxSnoozeShift; shift++ {
		p := payload
		p.ScheduledAt = payload.ScheduledAt.Add(time.Duration(shift) * time.Minute)
		n := notify.Notification{
			ID:        notify.NotificationID(p.MedicationID, p.ScheduledAt),
			TriggerAt: trigger.Add(time.Duration(shift) * time.Minute),
			Snooze:    true,
			Payload:   p,
		}
		id = n.ID
		err := s.center.Schedule(ctx, n)
		if errors.Is(err, notify.ErrNotificationExists) {
			continue
		}
		if err != nil {
			metrics.NotificationsFailed.WithLabelValues("schedule").Inc()
			return "", &SchedulingError{ID: n.ID, Err: err}
		}
		metrics.NotificationsScheduled.Inc()
		return n.ID, nil
	}
	metrics.NotificationsFailed.WithLabelValues("schedule").Inc()
	return "", &SchedulingError{ID: id, Err: notify.ErrNotificationExists}
}

// Pending lists the pending reminder ids of one medication.
func (s *NotificationScheduler) Pending(ctx context.Context, medicationID uuid.UUID) ([]notify.Pending, error) {
	all, err := s.center.ListPending(ctx)
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	var out []notify.Pending
	for _, p := range all {
		if notify.BelongsTo(p.ID, medicationID) {
			out = append(out, p)
		}
	}
	return out, nil
}

// cancelFor must be called with the medication lock held.
func (s *NotificationScheduler) cancelFor(ctx context.Context, medicationID uuid.UUID, withSnoozes bool) error {
	pending, err := s.center.ListPending(ctx)
	if err != nil {
		return fmt.Errorf("list pending for %s: %w", medicationID, err)
	}
	var ids []string
	for _, p := range pending {
		if !notify.BelongsTo(p.ID, medicationID) {
			continue
		}
		if p.Snooze && !withSnoozes {
			continue
		}
		ids = append(ids, p.ID)
	}
	if len(ids) == 0 {
		return nil
	}
	if err := s.center.Cancel(ctx, ids); err != nil {
		metrics.NotificationsFailed.WithLabelValues("cancel").Inc()
		return &SchedulingError{ID: medicationID.String() + "_*", Err: err}
	}
	return nil
}

func payloadFor(med model.Medication, owner model.User, at time.Time) notify.Payload {
	return notify.Payload{
		MedicationID: med.ID,
		UserID:       med.UserID,
		ChatID:       owner.TelegramID,
		Name:         med.Name,
		Dosage:       med.Dosage,
		ScheduledAt:  at,
		Timezone:     owner.Timezone,
	}
}

// keyedMutex hands out one mutex per medication id and forgets it once the
// last holder is done.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func (k *keyedMutex) Lock(id uuid.UUID) (unlock func()) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[uuid.UUID]*refMutex)
	}
	m, ok := k.locks[id]
	if !ok {
		m = &refMutex{}
		k.locks[id] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, id)
		}
		k.mu.Unlock()
	}
}
