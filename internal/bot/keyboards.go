package bot

import (
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"

	"med-reminder/internal/model"
)

func mainMenuKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(menuLabelAdd),
			tgbotapi.NewKeyboardButton(menuLabelMeds),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(menuLabelToday),
			tgbotapi.NewKeyboardButton(menuLabelHelp),
		),
	)
	kb.ResizeKeyboard = true
	kb.OneTimeKeyboard = false
	return kb
}

func cancelKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnCancelDialog),
		),
	)
	kb.ResizeKeyboard = true
	kb.OneTimeKeyboard = true
	return kb
}

func skipKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnSkip),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnCancelDialog),
		),
	)
	kb.ResizeKeyboard = true
	kb.OneTimeKeyboard = true
	return kb
}

// reminderKeyboard carries the two actions of a delivered reminder.
func reminderKeyboard(notificationID string, snoozeMinutes int) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(btnTaken, cbTakenPrefix+notificationID),
			tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("%s (%d min)", btnLater, snoozeMinutes), cbLaterPrefix+notificationID),
		),
	)
}

func medicationsKeyboard(meds []model.Medication) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, med := range meds {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🕒 "+shortTitle(med.Name, 20), cbEditPrefix+med.ID.String()),
			tgbotapi.NewInlineKeyboardButtonData("🗑 Stop", cbRemovePrefix+med.ID.String()),
		))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func linksKeyboard(links []model.CareLink) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, l := range links {
		label := "✖️ Revoke invite " + l.InviteCode
		if l.Status == model.CareLinkAccepted {
			label = "✖️ Revoke link " + l.InviteCode
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(label, cbRevokePrefix+l.ID.String()),
		))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

// recipientsKeyboard lets a caregiver switch between the people they follow.
func recipientsKeyboard(names map[uuid.UUID]string, order []uuid.UUID, selected uuid.UUID) *tgbotapi.InlineKeyboardMarkup {
	if len(order) < 2 {
		return nil
	}
	var row []tgbotapi.InlineKeyboardButton
	for _, id := range order {
		label := shortTitle(names[id], 16)
		if id == selected {
			label = "• " + label
		}
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(label, cbSelectPrefix+id.String()))
	}
	kb := tgbotapi.NewInlineKeyboardMarkup(row)
	return &kb
}

func isSkipInput(text string) bool {
	value := strings.TrimSpace(strings.ToLower(text))
	return value == "-" || value == strings.ToLower(btnSkip) || value == "skip"
}

func isCancelDialogInput(text string) bool {
	value := strings.TrimSpace(strings.ToLower(text))
	return value == strings.ToLower(btnCancelDialog) || value == "cancel"
}
