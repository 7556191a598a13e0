package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"med-reminder/internal/model"
)

// MedicationStore is the medication half of the remote store.
type MedicationStore interface {
	CreateMedication(ctx context.Context, med *model.Medication) error
	UpdateMedication(ctx context.Context, med *model.Medication) error
	GetMedication(ctx context.Context, userID, id uuid.UUID) (*model.Medication, error)
	ListMedications(ctx context.Context, userID uuid.UUID, activeOnly bool) ([]model.Medication, error)
	ListAllActive(ctx context.Context) ([]model.Medication, error)
}

// AdherenceStore holds adherence logs. InsertAdherenceLog fails with
// ErrConflict when the occurrence already has a log.
type AdherenceStore interface {
	InsertAdherenceLog(ctx context.Context, entry *model.AdherenceLog) (*model.AdherenceLog, error)
	ListAdherenceLogs(ctx context.Context, userID uuid.UUID, from, to time.Time) ([]model.AdherenceLog, error)
}

type CareLinkStore interface {
	InsertCareLink(ctx context.Context, caregiverID uuid.UUID, inviteCode string, status model.CareLinkStatus, expiresAt time.Time) (*model.CareLink, error)
	ListCareLinks(ctx context.Context, caregiverID uuid.UUID, status model.CareLinkStatus) ([]model.CareLink, error)
	ListCareLinksForUser(ctx context.Context, userID uuid.UUID, status model.CareLinkStatus) ([]model.CareLink, error)
	FindByInviteCode(ctx context.Context, code string) (*model.CareLink, error)
	RedeemCareLink(ctx context.Context, linkID, userID uuid.UUID, now time.Time) (*model.CareLink, error)
	RevokeCareLink(ctx context.Context, linkID uuid.UUID, now time.Time) (*model.CareLink, error)
}

type UserStore interface {
	FindByID(ctx context.Context, id uuid.UUID) (*model.User, error)
}
