package service

import (
	"context"
	"log"
	"slices"
	"time"

	"github.com/google/uuid"

	"med-reminder/internal/model"
)

// AdherenceService answers "what is the state of each dose today" for a user.
type AdherenceService struct {
	meds      MedicationStore
	logs      AdherenceStore
	retrier   *Retrier
	defaultTZ *time.Location
	now       func() time.Time
}

func NewAdherenceService(meds MedicationStore, logs AdherenceStore, retrier *Retrier, defaultTZ *time.Location) *AdherenceService {
	if defaultTZ == nil {
		defaultTZ = time.Local
	}
	return &AdherenceService{meds: meds, logs: logs, retrier: retrier, defaultTZ: defaultTZ, now: time.Now}
}

// Day reconciles the doses of userID on the calendar day of day, judged at
// the current instant. Items with malformed data are dropped and logged.
func (s *AdherenceService) Day(ctx context.Context, userID uuid.UUID, day time.Time) ([]Dose, error) {
	meds, err := PerformWithRetry(ctx, s.retrier, "list medications", func(ctx context.Context) ([]model.Medication, error) {
		return s.meds.ListMedications(ctx, userID, true)
	})
	if err != nil {
		return nil, err
	}

	from, to := DaySpan(day)
	logs, err := PerformWithRetry(ctx, s.retrier, "list adherence logs", func(ctx context.Context) ([]model.AdherenceLog, error) {
		return s.logs.ListAdherenceLogs(ctx, userID, from, to)
	})
	if err != nil {
		return nil, err
	}

	var occs []Occurrence
	for _, med := range meds {
		occs = append(occs, DayOccurrences(med, day)...)
	}
	slices.SortStableFunc(occs, func(a, b Occurrence) int { return a.At.Compare(b.At) })

	doses, err := Reconcile(occs, logs, s.now())
	if err != nil {
		log.Printf("[warn] reconcile %s: %v", userID, err)
	}
	return doses, nil
}

// Today is Day for the user's current calendar day.
func (s *AdherenceService) Today(ctx context.Context, user *model.User) ([]Dose, error) {
	return s.Day(ctx, user.ID, s.now().In(user.Location(s.defaultTZ)))
}
