package service

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"

	"med-reminder/internal/model"
)

// MedicationInput represents data required to create or edit a medication.
// Empty fields are left unchanged on edit.
type MedicationInput struct {
	Name         string
	Dosage       string
	ScheduleType model.ScheduleType
	TimeLabels   []string
}

// MedicationService wraps medication-related business logic and keeps the
// pending reminders in step with every change.
type MedicationService struct {
	meds      MedicationStore
	users     UserStore
	scheduler *NotificationScheduler
	retrier   *Retrier
}

func NewMedicationService(meds MedicationStore, users UserStore, scheduler *NotificationScheduler, retrier *Retrier) *MedicationService {
	return &MedicationService{meds: meds, users: users, scheduler: scheduler, retrier: retrier}
}

func (s *MedicationService) CreateMedication(ctx context.Context, user *model.User, input MedicationInput) (*model.Medication, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, fmt.Errorf("name is required")
	}
	kind := input.ScheduleType
	if kind == "" {
		kind = model.ScheduleDaily
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown schedule type %q", kind)
	}
	labels, err := cleanLabels(input.TimeLabels, kind)
	if err != nil {
		return nil, err
	}

	med := model.Medication{
		UserID:       user.ID,
		Name:         name,
		Dosage:       strings.TrimSpace(input.Dosage),
		ScheduleType: kind,
		TimeLabels:   labels,
		IsActive:     true,
	}
	if err := s.retrier.Do(ctx, "create medication", func(ctx context.Context) error {
		return s.meds.CreateMedication(ctx, &med)
	}); err != nil {
		return nil, err
	}

	s.sync(ctx, med, *user)
	return &med, nil
}

func (s *MedicationService) EditMedication(ctx context.Context, user *model.User, id uuid.UUID, input MedicationInput) (*model.Medication, error) {
	med, err := s.GetMedication(ctx, user, id)
	if err != nil {
		return nil, err
	}
	if !med.IsActive {
		return nil, fmt.Errorf("medication %q is no longer active", med.Name)
	}

	if name := strings.TrimSpace(input.Name); name != "" {
		med.Name = name
	}
	if dosage := strings.TrimSpace(input.Dosage); dosage != "" {
		med.Dosage = dosage
	}
	if input.ScheduleType != "" {
		if !input.ScheduleType.Valid() {
			return nil, fmt.Errorf("unknown schedule type %q", input.ScheduleType)
		}
		med.ScheduleType = input.ScheduleType
	}
	if input.TimeLabels != nil {
		labels, err := cleanLabels(input.TimeLabels, med.ScheduleType)
		if err != nil {
			return nil, err
		}
		med.TimeLabels = labels
	}

	if err := s.retrier.Do(ctx, "update medication", func(ctx context.Context) error {
		return s.meds.UpdateMedication(ctx, med)
	}); err != nil {
		return nil, err
	}

	s.sync(ctx, *med, *user)
	return med, nil
}

// DeactivateMedication retires the medication and drops its reminders.
func (s *MedicationService) DeactivateMedication(ctx context.Context, user *model.User, id uuid.UUID) (*model.Medication, error) {
	med, err := s.GetMedication(ctx, user, id)
	if err != nil {
		return nil, err
	}
	if med.IsActive {
		med.IsActive = false
		if err := s.retrier.Do(ctx, "deactivate medication", func(ctx context.Context) error {
			return s.meds.UpdateMedication(ctx, med)
		}); err != nil {
			return nil, err
		}
	}
	if err := s.scheduler.Remove(ctx, med.ID); err != nil {
		log.Printf("[warn] remove reminders of %s: %v", med.ID, err)
	}
	return med, nil
}

func (s *MedicationService) ListMedications(ctx context.Context, user *model.User, activeOnly bool) ([]model.Medication, error) {
	return PerformWithRetry(ctx, s.retrier, "list medications", func(ctx context.Context) ([]model.Medication, error) {
		return s.meds.ListMedications(ctx, user.ID, activeOnly)
	})
}

func (s *MedicationService) GetMedication(ctx context.Context, user *model.User, id uuid.UUID) (*model.Medication, error) {
	return PerformWithRetry(ctx, s.retrier, "get medication", func(ctx context.Context) (*model.Medication, error) {
		return s.meds.GetMedication(ctx, user.ID, id)
	})
}

// SyncUser re-synchronizes every active medication of user.
func (s *MedicationService) SyncUser(ctx context.Context, user *model.User) error {
	meds, err := s.ListMedications(ctx, user, true)
	if err != nil {
		return err
	}
	for _, med := range meds {
		s.sync(ctx, med, *user)
	}
	return nil
}

// StopUser drops the pending reminders of all the user's medications.
// The medications themselves are kept.
func (s *MedicationService) StopUser(ctx context.Context, user *model.User) error {
	meds, err := s.ListMedications(ctx, user, false)
	if err != nil {
		return err
	}
	for _, med := range meds {
		if err := s.scheduler.Remove(ctx, med.ID); err != nil {
			log.Printf("[warn] remove reminders of %s: %v", med.ID, err)
		}
	}
	return nil
}

// ResyncAll rolls the horizon forward for every active medication. Pending
// snoozes survive it.
func (s *MedicationService) ResyncAll(ctx context.Context) error {
	meds, err := PerformWithRetry(ctx, s.retrier, "list active medications", s.meds.ListAllActive)
	if err != nil {
		return err
	}

	owners := make(map[uuid.UUID]*model.User)
	for _, med := range meds {
		owner, ok := owners[med.UserID]
		if !ok {
			owner, err = PerformWithRetry(ctx, s.retrier, "find user", func(ctx context.Context) (*model.User, error) {
				return s.users.FindByID(ctx, med.UserID)
			})
			if err != nil {
				log.Printf("[warn] resync: owner of %s: %v", med.ID, err)
				continue
			}
			owners[med.UserID] = owner
		}
		if err := s.scheduler.RollForward(ctx, med, *owner); err != nil {
			log.Printf("[warn] roll forward %s: %v", med.ID, err)
		}
	}
	log.Printf("[info] resynced %d medications of %d users", len(meds), len(owners))
	return nil
}

func (s *MedicationService) sync(ctx context.Context, med model.Medication, owner model.User) {
	if err := s.scheduler.Synchronize(ctx, med, owner); err != nil {
		log.Printf("[warn] synchronize %s: %v", med.ID, err)
	}
}

func cleanLabels(raw []string, kind model.ScheduleType) ([]string, error) {
	labels, invalid := NormalizeTimeLabels(raw)
	if len(invalid) > 0 {
		return nil, fmt.Errorf("invalid time labels %s, expected HH:MM", strings.Join(invalid, ", "))
	}
	if len(labels) == 0 && kind != model.ScheduleAsNeeded {
		return nil, fmt.Errorf("at least one time is required")
	}
	if labels == nil {
		labels = []string{}
	}
	return labels, nil
}
