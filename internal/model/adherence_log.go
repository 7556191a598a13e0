package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// LogStatus is how the user resolved one scheduled dose.
type LogStatus string

const (
	LogTaken   LogStatus = "taken"
	LogMissed  LogStatus = "missed"
	LogSkipped LogStatus = "skipped"
)

// AdherenceLog is the immutable answer to one occurrence.
// (MedicationID, ScheduledAt) is unique.
type AdherenceLog struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey"`
	MedicationID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_log_occurrence,priority:1"`
	UserID       uuid.UUID `gorm:"type:uuid;not null;index"`
	Status       LogStatus `gorm:"not null"`
	ScheduledAt  time.Time `gorm:"not null;uniqueIndex:idx_log_occurrence,priority:2;index"`
	LoggedAt     time.Time `gorm:"not null"`
	Notes        *string
}

func (l *AdherenceLog) BeforeCreate(tx *gorm.DB) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return nil
}
