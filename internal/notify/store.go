package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrUnknownNotification is returned by Lookup for ids the store never held.
var ErrUnknownNotification = errors.New("unknown notification")

type scheduledNotification struct {
	ID           string    `gorm:"primaryKey;size:64"`
	TriggerAt    time.Time `gorm:"not null;index"`
	Snooze       bool      `gorm:"not null;default:false"`
	Delivered    bool      `gorm:"not null;default:false;index"`
	DeliveredAt  *time.Time
	MedicationID uuid.UUID `gorm:"type:uuid;not null"`
	UserID       uuid.UUID `gorm:"type:uuid;not null"`
	ChatID       int64     `gorm:"not null"`
	Name         string
	Dosage       string
	ScheduledAt  time.Time `gorm:"not null"`
	Timezone     string
}

func (scheduledNotification) TableName() string { return "scheduled_notifications" }

func (s scheduledNotification) notification() Notification {
	return Notification{
		ID:        s.ID,
		TriggerAt: s.TriggerAt,
		Snooze:    s.Snooze,
		Payload: Payload{
			MedicationID: s.MedicationID,
			UserID:       s.UserID,
			ChatID:       s.ChatID,
			Name:         s.Name,
			Dosage:       s.Dosage,
			ScheduledAt:  s.ScheduledAt,
			Timezone:     s.Timezone,
		},
	}
}

// Store keeps notifications in a local SQLite table. Delivered rows stay
// around so an action tapped later can still find its payload.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&scheduledNotification{}); err != nil {
		return nil, fmt.Errorf("migrate notifications: %w", err)
	}
	return &Store{db: db}, nil
}

// Schedule inserts n or replaces the pending one with the same id. A row that
// was already delivered keeps its delivered flag. A snooze never replaces
// anything: if the id is taken, pending or delivered, ErrNotificationExists
// is returned and the existing row is left as it was.
func (s *Store) Schedule(ctx context.Context, n Notification) error {
	if n.ID == "" {
		return errors.New("schedule: empty notification id")
	}
	row := scheduledNotification{
		ID:           n.ID,
		TriggerAt:    n.TriggerAt.UTC(),
		Snooze:       n.Snooze,
		MedicationID: n.Payload.MedicationID,
		UserID:       n.Payload.UserID,
		ChatID:       n.Payload.ChatID,
		Name:         n.Payload.Name,
		Dosage:       n.Payload.Dosage,
		ScheduledAt:  n.Payload.ScheduledAt.UTC(),
		Timezone:     n.Payload.Timezone,
	}
	if n.Snooze {
		res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoNothing: true,
		}).Create(&row)
		if res.Error != nil {
			return fmt.Errorf("schedule %s: %w", n.ID, res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("schedule %s: %w", n.ID, ErrNotificationExists)
		}
		return nil
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"trigger_at", "snooze", "medication_id", "user_id", "chat_id", "name", "dosage", "scheduled_at", "timezone",
		}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("schedule %s: %w", n.ID, err)
	}
	return nil
}

// Cancel removes pending notifications. Delivered ones are kept for lookups.
func (s *Store) Cancel(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).
		Where("id IN ? AND delivered = ?", ids, false).
		Delete(&scheduledNotification{}).Error; err != nil {
		return fmt.Errorf("cancel notifications: %w", err)
	}
	return nil
}

func (s *Store) CancelAll(ctx context.Context) error {
	if err := s.db.WithContext(ctx).
		Where("delivered = ?", false).
		Delete(&scheduledNotification{}).Error; err != nil {
		return fmt.Errorf("cancel all notifications: %w", err)
	}
	return nil
}

func (s *Store) ListPending(ctx context.Context) ([]Pending, error) {
	var rows []scheduledNotification
	if err := s.db.WithContext(ctx).
		Select("id", "trigger_at", "snooze").
		Where("delivered = ?", false).
		Order("trigger_at ASC, id ASC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list pending notifications: %w", err)
	}
	out := make([]Pending, 0, len(rows))
	for _, r := range rows {
		out = append(out, Pending{ID: r.ID, TriggerAt: r.TriggerAt, Snooze: r.Snooze})
	}
	return out, nil
}

// Due returns undelivered notifications whose trigger time is not after now.
func (s *Store) Due(ctx context.Context, now time.Time, limit int) ([]Notification, error) {
	var rows []scheduledNotification
	q := s.db.WithContext(ctx).
		Where("delivered = ? AND trigger_at <= ?", false, now.UTC()).
		Order("trigger_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("due notifications: %w", err)
	}
	out := make([]Notification, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.notification())
	}
	return out, nil
}

func (s *Store) MarkDelivered(ctx context.Context, id string, at time.Time) error {
	at = at.UTC()
	if err := s.db.WithContext(ctx).Model(&scheduledNotification{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"delivered": true, "delivered_at": &at}).Error; err != nil {
		return fmt.Errorf("mark delivered %s: %w", id, err)
	}
	return nil
}

// Lookup returns a notification by id, delivered or not.
func (s *Store) Lookup(ctx context.Context, id string) (Notification, error) {
	var row scheduledNotification
	err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Notification{}, ErrUnknownNotification
	}
	if err != nil {
		return Notification{}, fmt.Errorf("lookup %s: %w", id, err)
	}
	return row.notification(), nil
}

// Prune drops delivered notifications older than before.
func (s *Store) Prune(ctx context.Context, before time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("delivered = ? AND delivered_at < ?", true, before.UTC()).
		Delete(&scheduledNotification{})
	if res.Error != nil {
		return 0, fmt.Errorf("prune notifications: %w", res.Error)
	}
	return res.RowsAffected, nil
}
