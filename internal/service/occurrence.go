package service

import (
	"cmp"
	"iter"
	"slices"
	"time"

	"github.com/google/uuid"

	"med-reminder/internal/model"
)

const DefaultHorizonDays = 30

// Occurrence is one concrete dose time of a medication. Two occurrences are
// the same when they share the medication and the minute.
type Occurrence struct {
	MedicationID uuid.UUID
	Name         string
	Dosage       string
	Label        string
	At           time.Time
}

// Key identifies the occurrence to the minute.
func (o Occurrence) Key() OccurrenceKey {
	return OccurrenceKey{MedicationID: o.MedicationID, Minute: o.At.Truncate(time.Minute).Unix()}
}

type OccurrenceKey struct {
	MedicationID uuid.UUID
	Minute       int64
}

// Generator expands medications into occurrences over a rolling horizon.
type Generator struct {
	Horizon int // days, DefaultHorizonDays when zero
}

type parsedLabel struct {
	label        string
	hour, minute int
}

// Occurrences yields every (day, label) pair of med for Horizon days starting
// on today's calendar date, in today's location, sorted by instant and then
// by label. Labels that do not parse are skipped.
func (g Generator) Occurrences(med model.Medication, today time.Time) iter.Seq[Occurrence] {
	horizon := g.Horizon
	if horizon <= 0 {
		horizon = DefaultHorizonDays
	}

	labels := make([]parsedLabel, 0, len(med.TimeLabels))
	for _, l := range med.TimeLabels {
		h, m, err := ParseTimeLabel(l)
		if err != nil {
			continue
		}
		labels = append(labels, parsedLabel{label: l, hour: h, minute: m})
	}
	slices.SortFunc(labels, func(a, b parsedLabel) int {
		if c := cmp.Compare(a.hour*60+a.minute, b.hour*60+b.minute); c != 0 {
			return c
		}
		return cmp.Compare(a.label, b.label)
	})

	y, mo, d := today.Date()
	loc := today.Location()

	return func(yield func(Occurrence) bool) {
		for offset := 0; offset < horizon; offset++ {
			day := make([]Occurrence, 0, len(labels))
			for _, pl := range labels {
				day = append(day, Occurrence{
					MedicationID: med.ID,
					Name:         med.Name,
					Dosage:       med.Dosage,
					Label:        pl.label,
					At:           time.Date(y, mo, d+offset, pl.hour, pl.minute, 0, 0, loc),
				})
			}
			// A DST fold can reorder two labels on one day.
			slices.SortStableFunc(day, func(a, b Occurrence) int {
				if c := a.At.Compare(b.At); c != 0 {
					return c
				}
				return cmp.Compare(a.Label, b.Label)
			})
			for _, o := range day {
				if !yield(o) {
					return
				}
			}
		}
	}
}

// DayOccurrences returns the occurrences of med on the calendar day of day.
func DayOccurrences(med model.Medication, day time.Time) []Occurrence {
	return slices.Collect(Generator{Horizon: 1}.Occurrences(med, day))
}

// InvalidTimeLabels lists the labels of med the generator will skip.
func InvalidTimeLabels(med model.Medication) []string {
	var bad []string
	for _, l := range med.TimeLabels {
		if _, _, err := ParseTimeLabel(l); err != nil {
			bad = append(bad, l)
		}
	}
	return bad
}
