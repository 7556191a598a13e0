package bot

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"

	"med-reminder/internal/notify"
	"med-reminder/internal/service"
)

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) error {
	if cb == nil || cb.From == nil || cb.Message == nil {
		return nil
	}

	if !b.available.Load() {
		b.ackCallback(cb, "Storage unavailable, send /retry")
		return nil
	}

	data := cb.Data
	switch {
	case strings.HasPrefix(data, cbTakenPrefix):
		return b.handleReminderAction(ctx, cb, service.ActionTaken, strings.TrimPrefix(data, cbTakenPrefix))
	case strings.HasPrefix(data, cbLaterPrefix):
		return b.handleReminderAction(ctx, cb, service.ActionRemindLater, strings.TrimPrefix(data, cbLaterPrefix))
	case strings.HasPrefix(data, cbEditPrefix):
		b.ackCallback(cb, "")
		return b.startTimesEdit(ctx, cb, strings.TrimPrefix(data, cbEditPrefix))
	case strings.HasPrefix(data, cbRemovePrefix):
		return b.deactivateAndRefresh(ctx, cb, strings.TrimPrefix(data, cbRemovePrefix))
	case strings.HasPrefix(data, cbRevokePrefix):
		return b.revokeLink(ctx, cb, strings.TrimPrefix(data, cbRevokePrefix))
	case strings.HasPrefix(data, cbSelectPrefix):
		return b.selectRecipient(ctx, cb, strings.TrimPrefix(data, cbSelectPrefix))
	default:
		b.ackCallback(cb, "")
		return nil
	}
}

// handleReminderAction maps a tap on a delivered reminder to the action handler.
func (b *Bot) handleReminderAction(ctx context.Context, cb *tgbotapi.CallbackQuery, action, notificationID string) error {
	log.Printf("[info] reminder action %s user=%d notification=%s", action, cb.From.ID, notificationID)

	n, err := b.svc.Center.Lookup(ctx, notificationID)
	if errors.Is(err, notify.ErrUnknownNotification) {
		b.ackCallback(cb, "This reminder has expired")
		b.clearInlineKeyboard(cb)
		return nil
	}
	if err != nil {
		b.ackCallback(cb, "Something went wrong")
		return err
	}
	if n.Payload.ChatID != cb.Message.Chat.ID {
		b.ackCallback(cb, "")
		return fmt.Errorf("notification %s belongs to another chat", notificationID)
	}

	if err := b.svc.Actions.Handle(ctx, action, n.Payload); err != nil {
		// The failure alert is already on its way; keep the buttons for another try.
		b.ackCallback(cb, "")
		return nil
	}

	switch action {
	case service.ActionTaken:
		b.ackCallback(cb, "Logged")
	case service.ActionRemindLater:
		b.ackCallback(cb, fmt.Sprintf("I'll remind you in %d minutes", int(b.config.SnoozeDelay.Minutes())))
	}
	b.clearInlineKeyboard(cb)
	return nil
}

func (b *Bot) clearInlineKeyboard(cb *tgbotapi.CallbackQuery) {
	edit := tgbotapi.NewEditMessageReplyMarkup(cb.Message.Chat.ID, cb.Message.MessageID, tgbotapi.InlineKeyboardMarkup{
		InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{},
	})
	if _, err := b.api.Request(edit); err != nil {
		log.Printf("[warn] clear reminder buttons: %v", err)
	}
}

func (b *Bot) startTimesEdit(ctx context.Context, cb *tgbotapi.CallbackQuery, rawID string) error {
	id, err := uuid.Parse(rawID)
	if err != nil {
		return nil
	}
	user, err := b.ensureUser(ctx, cb.From)
	if err != nil {
		return b.reportError(cb.Message.Chat.ID, "Could not load the medication", err)
	}
	med, err := b.svc.Medications.GetMedication(ctx, user, id)
	if err != nil {
		return b.reportError(cb.Message.Chat.ID, "Could not load the medication", err)
	}

	b.setConversation(cb.From.ID, &conversationState{stage: stageEditTimes, medicationID: med.ID.String()})
	_, err = b.sendWithReplyMarkup(cb.Message.Chat.ID,
		fmt.Sprintf("🕒 New times for <b>%s</b>? Now: %s.\nSend e.g. <code>08:00, 20:00</code>.",
			escape(med.Name), escape(strings.Join(med.TimeLabels, ", "))),
		cancelKeyboard())
	return err
}

func (b *Bot) deactivateAndRefresh(ctx context.Context, cb *tgbotapi.CallbackQuery, rawID string) error {
	id, err := uuid.Parse(rawID)
	if err != nil {
		b.ackCallback(cb, "")
		return nil
	}
	user, err := b.ensureUser(ctx, cb.From)
	if err != nil {
		b.ackCallback(cb, "")
		return b.reportError(cb.Message.Chat.ID, "Could not stop the medication", err)
	}

	med, err := b.svc.Medications.DeactivateMedication(ctx, user, id)
	if err != nil {
		b.ackCallback(cb, "")
		return b.reportError(cb.Message.Chat.ID, "Could not stop the medication", err)
	}
	log.Printf("[info] medication %s deactivated by %s", med.ID, user.ID)
	b.ackCallback(cb, "Stopped "+shortTitle(med.Name, 40))
	return b.sendMedicationList(ctx, cb.Message.Chat.ID, user)
}

func (b *Bot) revokeLink(ctx context.Context, cb *tgbotapi.CallbackQuery, rawID string) error {
	id, err := uuid.Parse(rawID)
	if err != nil {
		b.ackCallback(cb, "")
		return nil
	}
	user, err := b.ensureUser(ctx, cb.From)
	if err != nil {
		b.ackCallback(cb, "")
		return b.reportError(cb.Message.Chat.ID, "Could not revoke", err)
	}
	if _, err := b.svc.CareLinks.Revoke(ctx, user, id); err != nil {
		b.ackCallback(cb, "")
		return b.reportError(cb.Message.Chat.ID, "Could not revoke", err)
	}
	b.ackCallback(cb, "Revoked")
	b.clearInlineKeyboard(cb)
	return nil
}

func (b *Bot) selectRecipient(ctx context.Context, cb *tgbotapi.CallbackQuery, rawID string) error {
	id, err := uuid.Parse(rawID)
	if err != nil {
		b.ackCallback(cb, "")
		return nil
	}
	w := b.getWatch(cb.Message.Chat.ID)
	if w == nil {
		b.ackCallback(cb, "Not watching, send /watch")
		return nil
	}
	b.ackCallback(cb, "")
	if err := w.dash.SelectRecipient(ctx, id); err != nil {
		log.Printf("[warn] select recipient: %v", err)
	}
	return nil
}
