package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ScheduleType is the recurrence kind of a medication.
type ScheduleType string

const (
	ScheduleDaily    ScheduleType = "daily"
	ScheduleWeekly   ScheduleType = "weekly"
	ScheduleAsNeeded ScheduleType = "as_needed"
	ScheduleCustom   ScheduleType = "custom"
)

// Valid reports whether t is one of the known recurrence kinds.
func (t ScheduleType) Valid() bool {
	switch t {
	case ScheduleDaily, ScheduleWeekly, ScheduleAsNeeded, ScheduleCustom:
		return true
	}
	return false
}

// Medication is a drug the user takes at fixed times of day.
// It is never hard-deleted; clearing IsActive retires it.
type Medication struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID       uuid.UUID `gorm:"type:uuid;index;not null"`
	Name         string    `gorm:"not null"`
	Dosage       string
	ScheduleType ScheduleType              `gorm:"default:daily"`
	TimeLabels   datatypes.JSONSlice[string] // "HH:MM", unique, sorted
	IsActive     bool                        `gorm:"default:true;index"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (m *Medication) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}
