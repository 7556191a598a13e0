package service

import (
	"errors"
	"fmt"
	"time"

	"med-reminder/internal/model"
)

// DoseStatus is the derived state of one occurrence.
type DoseStatus string

const (
	DosePending DoseStatus = "pending"
	DoseTaken   DoseStatus = "taken"
	DoseMissed  DoseStatus = "missed"
)

// Dose is an occurrence tagged with its status and the log that decided it.
type Dose struct {
	Occurrence
	Status DoseStatus
	Log    *model.AdherenceLog
}

// Reconcile tags each occurrence with a status. A matching log wins; without
// one, an occurrence strictly before now is missed and anything else is
// pending. Occurrences whose log carries an unknown status are left out and
// reported in the joined error; the rest of the batch is still returned.
func Reconcile(occs []Occurrence, logs []model.AdherenceLog, now time.Time) ([]Dose, error) {
	byKey := make(map[OccurrenceKey]*model.AdherenceLog, len(logs))
	for i := range logs {
		l := &logs[i]
		k := OccurrenceKey{MedicationID: l.MedicationID, Minute: l.ScheduledAt.Truncate(time.Minute).Unix()}
		byKey[k] = l
	}

	doses := make([]Dose, 0, len(occs))
	var errs []error
	for _, o := range occs {
		dose := Dose{Occurrence: o}
		if l, ok := byKey[o.Key()]; ok {
			status, err := statusFromLog(l)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			dose.Status = status
			dose.Log = l
		} else if o.At.Before(now) {
			dose.Status = DoseMissed
		} else {
			dose.Status = DosePending
		}
		doses = append(doses, dose)
	}
	return doses, errors.Join(errs...)
}

func statusFromLog(l *model.AdherenceLog) (DoseStatus, error) {
	switch l.Status {
	case model.LogTaken:
		return DoseTaken, nil
	case model.LogMissed, model.LogSkipped:
		return DoseMissed, nil
	default:
		return "", &MalformedDataError{
			Item:   fmt.Sprintf("adherence log %s", l.ID),
			Reason: fmt.Sprintf("unknown status %q", l.Status),
		}
	}
}

// Tally counts doses per status.
func Tally(doses []Dose) map[DoseStatus]int {
	out := make(map[DoseStatus]int, 3)
	for _, d := range doses {
		out[d.Status]++
	}
	return out
}
