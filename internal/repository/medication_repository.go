package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"med-reminder/internal/model"
)

// MedicationRepository handles CRUD for medications.
type MedicationRepository struct {
	db *gorm.DB
}

func NewMedicationRepository(db *gorm.DB) *MedicationRepository {
	return &MedicationRepository{db: db}
}

func (r *MedicationRepository) CreateMedication(ctx context.Context, med *model.Medication) error {
	if err := r.db.WithContext(ctx).Create(med).Error; err != nil {
		return wrap("create medication", err)
	}
	return nil
}

// UpdateMedication saves every editable field, including a cleared active flag.
func (r *MedicationRepository) UpdateMedication(ctx context.Context, med *model.Medication) error {
	if err := r.db.WithContext(ctx).Select("*").Omit("created_at").Updates(med).Error; err != nil {
		return wrap("update medication", err)
	}
	return nil
}

func (r *MedicationRepository) GetMedication(ctx context.Context, userID, id uuid.UUID) (*model.Medication, error) {
	var med model.Medication
	if err := r.db.WithContext(ctx).Where("user_id = ? AND id = ?", userID, id).First(&med).Error; err != nil {
		return nil, wrap("find medication", err)
	}
	return &med, nil
}

func (r *MedicationRepository) ListMedications(ctx context.Context, userID uuid.UUID, activeOnly bool) ([]model.Medication, error) {
	var meds []model.Medication
	q := r.db.WithContext(ctx).Where("user_id = ?", userID)
	if activeOnly {
		q = q.Where("is_active = ?", true)
	}
	if err := q.Order("created_at ASC").Find(&meds).Error; err != nil {
		return nil, wrap("list medications", err)
	}
	return meds, nil
}

// ListAllActive returns active medications of every user, for horizon roll-over.
func (r *MedicationRepository) ListAllActive(ctx context.Context) ([]model.Medication, error) {
	var meds []model.Medication
	if err := r.db.WithContext(ctx).Where("is_active = ?", true).Order("user_id, created_at").Find(&meds).Error; err != nil {
		return nil, wrap("list active medications", err)
	}
	return meds, nil
}
