package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User stores Telegram user metadata and the calendar the user lives in.
type User struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	TelegramID int64     `gorm:"uniqueIndex"`
	FirstName  string
	LastName   string
	Username   string
	Timezone   string // IANA name, empty means the process default
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}

// Location returns the user's calendar, falling back to def.
func (u User) Location(def *time.Location) *time.Location {
	if u.Timezone == "" {
		return def
	}
	loc, err := time.LoadLocation(u.Timezone)
	if err != nil {
		return def
	}
	return loc
}
