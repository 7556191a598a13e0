package service

import (
	"context"
	"errors"
	"log"
	"time"

	"med-reminder/internal/metrics"
	"med-reminder/internal/model"
	"med-reminder/internal/notify"
)

// Action identifiers carried by a delivered notification.
const (
	ActionTaken       = "TAKEN_ACTION"
	ActionRemindLater = "REMIND_LATER_ACTION"
)

const DefaultSnoozeDelay = 15 * time.Minute

const takenNote = "logged from reminder"

// Alerter tells the user how a "taken" action ended.
type Alerter interface {
	Confirm(ctx context.Context, p notify.Payload) error
	Fail(ctx context.Context, p notify.Payload, cause error) error
}

// ActionHandler reacts to the buttons of a delivered reminder.
type ActionHandler struct {
	logs      AdherenceStore
	scheduler *NotificationScheduler
	retrier   *Retrier
	alerts    Alerter
	snooze    time.Duration
	now       func() time.Time
}

func NewActionHandler(logs AdherenceStore, scheduler *NotificationScheduler, retrier *Retrier, alerts Alerter, snooze time.Duration) *ActionHandler {
	if snooze <= 0 {
		snooze = DefaultSnoozeDelay
	}
	return &ActionHandler{
		logs:      logs,
		scheduler: scheduler,
		retrier:   retrier,
		alerts:    alerts,
		snooze:    snooze,
		now:       time.Now,
	}
}

// Handle runs action for the occurrence in p. Unknown actions are logged and
// ignored.
func (h *ActionHandler) Handle(ctx context.Context, action string, p notify.Payload) error {
	switch action {
	case ActionTaken:
		return h.taken(ctx, p)
	case ActionRemindLater:
		return h.remindLater(ctx, p)
	default:
		metrics.Actions.WithLabelValues("unknown", "ignored").Inc()
		log.Printf("[warn] unknown notification action %q for medication %s", action, p.MedicationID)
		return nil
	}
}

func (h *ActionHandler) taken(ctx context.Context, p notify.Payload) error {
	note := takenNote
	err := h.retrier.Do(ctx, "insert adherence log", func(ctx context.Context) error {
		_, err := h.logs.InsertAdherenceLog(ctx, &model.AdherenceLog{
			MedicationID: p.MedicationID,
			UserID:       p.UserID,
			Status:       model.LogTaken,
			ScheduledAt:  p.ScheduledAt,
			LoggedAt:     h.now(),
			Notes:        &note,
		})
		return err
	})
	if errors.Is(err, ErrConflict) {
		log.Printf("[info] dose %s at %s already logged", p.MedicationID, p.ScheduledAt.Format(time.RFC3339))
		err = nil
	}

	if err != nil {
		metrics.Actions.WithLabelValues("taken", "error").Inc()
		log.Printf("[error] log taken dose %s: %v", p.MedicationID, err)
		if aerr := h.alerts.Fail(ctx, p, err); aerr != nil {
			log.Printf("[error] failure alert for %s: %v", p.MedicationID, aerr)
		}
		return err
	}

	metrics.Actions.WithLabelValues("taken", "ok").Inc()
	if aerr := h.alerts.Confirm(ctx, p); aerr != nil {
		log.Printf("[warn] confirmation for %s: %v", p.MedicationID, aerr)
	}
	return nil
}

func (h *ActionHandler) remindLater(ctx context.Context, p notify.Payload) error {
	at := h.now().Add(h.snooze).Truncate(time.Minute)
	next := p
	next.ScheduledAt = at

	id, err := h.scheduler.ScheduleOne(ctx, next, at)
	if err != nil {
		metrics.Actions.WithLabelValues("remind_later", "error").Inc()
		return err
	}
	metrics.Actions.WithLabelValues("remind_later", "ok").Inc()
	log.Printf("[info] snoozed %s until %s as %s", p.MedicationID, at.Format(time.RFC3339), id)
	return nil
}
