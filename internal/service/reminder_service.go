package service

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"med-reminder/internal/model"
)

// ReminderService builds human-readable summaries of a day's doses.
type ReminderService struct {
	adherence *AdherenceService
	defaultTZ *time.Location
}

func NewReminderService(adherence *AdherenceService, defaultTZ *time.Location) *ReminderService {
	if defaultTZ == nil {
		defaultTZ = time.Local
	}
	return &ReminderService{adherence: adherence, defaultTZ: defaultTZ}
}

// DailySummary renders the user's doses for the day containing now.
func (s *ReminderService) DailySummary(ctx context.Context, user *model.User, now time.Time) (string, error) {
	loc := user.Location(s.defaultTZ)
	doses, err := s.adherence.Day(ctx, user.ID, now.In(loc))
	if err != nil {
		return "", err
	}
	return FormatDay("Today's doses", doses, now.In(loc)), nil
}

// FormatDay renders doses as Telegram HTML under title.
func FormatDay(title string, doses []Dose, now time.Time) string {
	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("📋 <b>%s</b>\n", html.EscapeString(title)))
	builder.WriteString(fmt.Sprintf("🗓 %s\n\n", now.Format("Mon 02 Jan 2006")))

	if len(doses) == 0 {
		builder.WriteString("— nothing scheduled\n")
		return strings.TrimSpace(builder.String())
	}

	for _, d := range doses {
		builder.WriteString(formatDose(d, now.Location()))
	}

	tally := Tally(doses)
	builder.WriteString(fmt.Sprintf("\n✅ %d taken · ❌ %d missed · ⏳ %d pending",
		tally[DoseTaken], tally[DoseMissed], tally[DosePending]))
	return strings.TrimSpace(builder.String())
}

func formatDose(d Dose, loc *time.Location) string {
	var sb strings.Builder

	icon := "⏳"
	switch d.Status {
	case DoseTaken:
		icon = "✅"
	case DoseMissed:
		icon = "❌"
	}

	sb.WriteString(fmt.Sprintf("%s %s <b>%s</b>", icon, d.At.In(loc).Format("15:04"), html.EscapeString(d.Name)))
	if dosage := strings.TrimSpace(d.Dosage); dosage != "" {
		sb.WriteString(fmt.Sprintf(" <i>(%s)</i>", html.EscapeString(dosage)))
	}
	if d.Log != nil {
		switch d.Log.Status {
		case model.LogTaken:
			sb.WriteString(fmt.Sprintf("\n   taken at %s", d.Log.LoggedAt.In(loc).Format("15:04")))
		case model.LogSkipped:
			sb.WriteString("\n   skipped")
		}
	}

	sb.WriteByte('\n')
	return sb.String()
}

// FormatMedication renders one medication line for lists.
func FormatMedication(med model.Medication) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("💊 <b>%s</b>", html.EscapeString(med.Name)))
	if med.Dosage != "" {
		sb.WriteString(fmt.Sprintf(" <i>(%s)</i>", html.EscapeString(med.Dosage)))
	}
	if len(med.TimeLabels) > 0 {
		sb.WriteString(fmt.Sprintf("\n   🕒 %s", strings.Join(med.TimeLabels, ", ")))
	} else {
		sb.WriteString("\n   🕒 as needed")
	}
	if !med.IsActive {
		sb.WriteString(" · inactive")
	}
	return sb.String()
}
