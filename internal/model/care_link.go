package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CareLinkStatus tracks an invitation from pending to accepted or revoked.
type CareLinkStatus string

const (
	CareLinkPending  CareLinkStatus = "pending"
	CareLinkAccepted CareLinkStatus = "accepted"
	CareLinkRevoked  CareLinkStatus = "revoked"
)

// CareLink lets a caregiver follow one user's doses.
type CareLink struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey"`
	CaregiverID uuid.UUID      `gorm:"type:uuid;not null;index"`
	UserID      *uuid.UUID     `gorm:"type:uuid;index"` // set when the invite is redeemed
	Status      CareLinkStatus `gorm:"not null;index"`
	InviteCode  string         `gorm:"uniqueIndex;size:16"`
	ExpiresAt   time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (c *CareLink) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// Expired reports whether a pending invite can no longer be redeemed.
func (c CareLink) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}
