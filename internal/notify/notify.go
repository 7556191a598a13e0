// Package notify is the local notification platform: a store of deferred
// reminders keyed by a deterministic id, and a dispatcher that delivers them
// when their trigger time comes.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Payload is everything an action needs to rebuild the dose context without
// reading the remote store.
type Payload struct {
	MedicationID uuid.UUID
	UserID       uuid.UUID
	ChatID       int64
	Name         string
	Dosage       string
	ScheduledAt  time.Time
	Timezone     string // owner's IANA zone, empty for the process default
}

// Local returns the scheduled instant in the owner's zone, or in def.
func (p Payload) Local(def *time.Location) time.Time {
	if p.Timezone != "" {
		if loc, err := time.LoadLocation(p.Timezone); err == nil {
			return p.ScheduledAt.In(loc)
		}
	}
	return p.ScheduledAt.In(def)
}

// Notification is one deferred reminder. Snooze marks a "remind me later"
// reminder that is not part of the medication's regular schedule.
type Notification struct {
	ID        string
	TriggerAt time.Time
	Snooze    bool
	Payload   Payload
}

// Pending is the summary returned by ListPending.
type Pending struct {
	ID        string
	TriggerAt time.Time
	Snooze    bool
}

// ErrNotificationExists is returned when a snooze asks for an id that is
// already held by a pending or delivered notification.
var ErrNotificationExists = errors.New("notification id already in use")

// Center is the platform contract. Schedule is idempotent by id for regular
// reminders; a snooze is only ever inserted and fails with
// ErrNotificationExists on a taken id. Cancel and add are individually
// atomic, nothing spans them.
type Center interface {
	Schedule(ctx context.Context, n Notification) error
	Cancel(ctx context.Context, ids []string) error
	CancelAll(ctx context.Context) error
	ListPending(ctx context.Context) ([]Pending, error)
}

// NotificationID derives the id of the reminder for one occurrence:
// the medication id and the scheduled instant in epoch minutes.
func NotificationID(medicationID uuid.UUID, scheduledAt time.Time) string {
	return medicationID.String() + "_" + strconv.FormatInt(scheduledAt.Unix()/60, 10)
}

// ParseNotificationID reverses NotificationID.
func ParseNotificationID(id string) (uuid.UUID, time.Time, error) {
	medPart, minPart, ok := strings.Cut(id, "_")
	if !ok {
		return uuid.Nil, time.Time{}, fmt.Errorf("notification id %q: missing separator", id)
	}
	medID, err := uuid.Parse(medPart)
	if err != nil {
		return uuid.Nil, time.Time{}, fmt.Errorf("notification id %q: %w", id, err)
	}
	minutes, err := strconv.ParseInt(minPart, 10, 64)
	if err != nil {
		return uuid.Nil, time.Time{}, fmt.Errorf("notification id %q: %w", id, err)
	}
	return medID, time.Unix(minutes*60, 0).UTC(), nil
}

// BelongsTo reports whether a notification id was derived for medicationID.
func BelongsTo(id string, medicationID uuid.UUID) bool {
	return strings.HasPrefix(id, medicationID.String()+"_")
}
