package repository

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"med-reminder/internal/model"
	"med-reminder/internal/realtime"
)

// AdherenceLogRepository stores adherence logs and announces inserts.
type AdherenceLogRepository struct {
	db      *gorm.DB
	changes realtime.Publisher
}

func NewAdherenceLogRepository(db *gorm.DB, changes realtime.Publisher) *AdherenceLogRepository {
	if changes == nil {
		changes = realtime.Nop{}
	}
	return &AdherenceLogRepository{db: db, changes: changes}
}

// InsertAdherenceLog creates the log. A second log for the same
// (medication, scheduled minute) fails with ErrConflict.
func (r *AdherenceLogRepository) InsertAdherenceLog(ctx context.Context, entry *model.AdherenceLog) (*model.AdherenceLog, error) {
	entry.ScheduledAt = entry.ScheduledAt.Truncate(time.Minute).UTC()
	if entry.LoggedAt.IsZero() {
		entry.LoggedAt = time.Now()
	}
	entry.LoggedAt = entry.LoggedAt.UTC()

	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		return nil, wrap("insert adherence log", err)
	}

	ev := realtime.Event{
		Table:  realtime.TableAdherenceLogs,
		Kind:   realtime.KindInsert,
		Record: adherenceRecord(entry),
		At:     time.Now().UTC(),
	}
	if err := r.changes.Publish(ctx, ev); err != nil {
		log.Printf("[warn] publish adherence log %s: %v", entry.ID, err)
	}
	return entry, nil
}

// ListAdherenceLogs returns logs whose scheduled instant is in [from, to).
func (r *AdherenceLogRepository) ListAdherenceLogs(ctx context.Context, userID uuid.UUID, from, to time.Time) ([]model.AdherenceLog, error) {
	var logs []model.AdherenceLog
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND scheduled_at >= ? AND scheduled_at < ?", userID, from.UTC(), to.UTC()).
		Order("scheduled_at ASC").
		Find(&logs).Error; err != nil {
		return nil, wrap("list adherence logs", err)
	}
	return logs, nil
}

func adherenceRecord(l *model.AdherenceLog) map[string]any {
	rec := map[string]any{
		"id":            l.ID.String(),
		"medication_id": l.MedicationID.String(),
		"user_id":       l.UserID.String(),
		"status":        string(l.Status),
		"scheduled_at":  l.ScheduledAt.Format(time.RFC3339),
		"logged_at":     l.LoggedAt.Format(time.RFC3339),
	}
	if l.Notes != nil {
		rec["notes"] = *l.Notes
	}
	return rec
}
