package bot

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"

	"med-reminder/internal/model"
	"med-reminder/internal/service"
)

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) error {
	if msg.From == nil {
		return nil
	}

	if !b.available.Load() && !(msg.IsCommand() && msg.Command() == "retry") {
		return b.sendTextWithRemove(msg.Chat.ID, storageDownText)
	}

	if !msg.IsCommand() && isCancelDialogInput(msg.Text) {
		b.clearConversation(msg.From.ID)
		return b.sendText(msg.Chat.ID, "⏪ Cancelled. Nothing was saved.")
	}

	if !msg.IsCommand() {
		if handled, err := b.handleMenuAlias(ctx, msg); handled {
			return err
		}
	}

	if msg.IsCommand() {
		log.Printf("[info] command from %d: /%s %s", msg.From.ID, msg.Command(), msg.CommandArguments())
		return b.handleCommand(ctx, msg)
	}

	if b.getConversation(msg.From.ID) != nil {
		return b.handleConversation(ctx, msg)
	}

	return b.sendText(msg.Chat.ID, "I didn't get that. Send /add to add a medication or /help for the command list.")
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) error {
	switch msg.Command() {
	case "start":
		return b.handleStart(ctx, msg)
	case "help":
		return b.handleHelp(msg)
	case "add":
		return b.startAddConversation(ctx, msg)
	case "meds":
		return b.handleListMedications(ctx, msg)
	case "today":
		return b.handleToday(ctx, msg)
	case "invite":
		return b.handleInvite(ctx, msg)
	case "redeem":
		return b.handleRedeem(ctx, msg)
	case "links":
		return b.handleLinks(ctx, msg)
	case "watch":
		return b.handleWatch(ctx, msg)
	case "unwatch":
		return b.handleUnwatch(msg)
	case "tz":
		return b.handleTimezone(ctx, msg)
	case "stop":
		return b.handleStop(ctx, msg)
	case "retry":
		return b.handleRetry(ctx, msg)
	case "cancel":
		b.clearConversation(msg.From.ID)
		return b.sendText(msg.Chat.ID, "⏪ Cancelled.")
	default:
		return b.sendText(msg.Chat.ID, "Unknown command. See /help.")
	}
}

func (b *Bot) handleStart(ctx context.Context, msg *tgbotapi.Message) error {
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return b.reportError(msg.Chat.ID, "Could not register you", err)
	}
	if err := b.svc.Medications.SyncUser(ctx, user); err != nil {
		log.Printf("[warn] sync reminders for %s: %v", user.ID, err)
	}

	name := strings.TrimSpace(msg.From.FirstName)
	if name == "" {
		name = "there"
	}

	text := fmt.Sprintf(
		"👋 Hi, %s!\n<b>I'll remind you to take your medications and keep your caregiver in the loop.</b>\n\n"+
			"• /add — add a medication\n"+
			"• /meds — your medications\n"+
			"• /today — today's doses\n"+
			"• /help — all commands",
		escape(name),
	)
	return b.sendText(msg.Chat.ID, text)
}

func (b *Bot) handleHelp(msg *tgbotapi.Message) error {
	text := "ℹ️ <b>Commands</b>\n" +
		"• /add — add a medication step by step\n" +
		"• /meds — list medications, change times or stop one\n" +
		"• /today — what's taken, missed and still due today\n" +
		"• /tz &lt;zone&gt; — set your time zone, e.g. /tz Europe/Berlin\n" +
		"• /invite — create a code for the person you care for\n" +
		"• /redeem &lt;code&gt; — let a caregiver follow your doses\n" +
		"• /links — caregiver links, with a revoke button\n" +
		"• /watch — follow the people you care for, live\n" +
		"• /unwatch — stop following\n" +
		"• /stop — pause all reminders (/start resumes)\n" +
		"• /cancel — cancel the current input"
	return b.sendText(msg.Chat.ID, text)
}

func (b *Bot) startAddConversation(ctx context.Context, msg *tgbotapi.Message) error {
	if _, err := b.ensureUser(ctx, msg.From); err != nil {
		return b.reportError(msg.Chat.ID, "Could not register you", err)
	}
	log.Printf("[info] start add medication conversation user=%d", msg.From.ID)
	b.setConversation(msg.From.ID, &conversationState{stage: stageName})
	_, err := b.sendWithReplyMarkup(msg.Chat.ID, "🆕 New medication.\n<b>Step 1:</b> what is it called?", cancelKeyboard())
	return err
}

func (b *Bot) handleConversation(ctx context.Context, msg *tgbotapi.Message) error {
	state := b.getConversation(msg.From.ID)
	if state == nil {
		return nil
	}

	text := strings.TrimSpace(msg.Text)
	switch state.stage {
	case stageName:
		if text == "" {
			_, err := b.sendWithReplyMarkup(msg.Chat.ID, "The name can't be empty. What is it called?", cancelKeyboard())
			return err
		}
		state.input.Name = text
		state.stage = stageDosage
		_, err := b.sendWithReplyMarkup(msg.Chat.ID, "💊 <b>Step 2:</b> dosage, e.g. <code>1 tablet</code> (or «Skip»).", skipKeyboard())
		return err
	case stageDosage:
		if !isSkipInput(text) {
			state.input.Dosage = text
		}
		state.stage = stageTimes
		_, err := b.sendWithReplyMarkup(msg.Chat.ID, "🕒 <b>Step 3:</b> times of day, e.g. <code>08:00, 20:00</code>. «Skip» makes it as-needed.", skipKeyboard())
		return err
	case stageTimes:
		if isSkipInput(text) {
			state.input.ScheduleType = model.ScheduleAsNeeded
		} else {
			state.input.TimeLabels = parseTimes(text)
		}
		return b.finishMedicationCreation(ctx, msg, state)
	case stageEditTimes:
		return b.finishTimesEdit(ctx, msg, state, parseTimes(text))
	default:
		b.clearConversation(msg.From.ID)
		return b.sendText(msg.Chat.ID, "Let's start over: /add.")
	}
}

func (b *Bot) finishMedicationCreation(ctx context.Context, msg *tgbotapi.Message, state *conversationState) error {
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		b.clearConversation(msg.From.ID)
		return b.reportError(msg.Chat.ID, "Could not save the medication", err)
	}

	med, err := b.svc.Medications.CreateMedication(ctx, user, state.input)
	if err != nil {
		if service.IsOffline(err) {
			b.clearConversation(msg.From.ID)
			return b.reportError(msg.Chat.ID, "Could not save the medication", err)
		}
		// Validation problems keep the conversation on the times step.
		_, serr := b.sendWithReplyMarkup(msg.Chat.ID, fmt.Sprintf("⚠️ %s\nTry again, e.g. <code>08:00, 20:00</code>.", escape(err.Error())), skipKeyboard())
		return serr
	}
	b.clearConversation(msg.From.ID)

	log.Printf("[info] medication created id=%s user=%s times=%v", med.ID, user.ID, []string(med.TimeLabels))
	return b.sendText(msg.Chat.ID, "✅ <b>Saved</b>\n"+service.FormatMedication(*med))
}

func (b *Bot) finishTimesEdit(ctx context.Context, msg *tgbotapi.Message, state *conversationState, labels []string) error {
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		b.clearConversation(msg.From.ID)
		return b.reportError(msg.Chat.ID, "Could not update the medication", err)
	}
	id, err := uuid.Parse(state.medicationID)
	if err != nil {
		b.clearConversation(msg.From.ID)
		return nil
	}

	med, err := b.svc.Medications.EditMedication(ctx, user, id, service.MedicationInput{TimeLabels: labels})
	if err != nil {
		if service.IsOffline(err) || errors.Is(err, service.ErrNotFound) {
			b.clearConversation(msg.From.ID)
			return b.reportError(msg.Chat.ID, "Could not update the medication", err)
		}
		_, serr := b.sendWithReplyMarkup(msg.Chat.ID, fmt.Sprintf("⚠️ %s\nTry again, e.g. <code>08:00, 20:00</code>.", escape(err.Error())), cancelKeyboard())
		return serr
	}
	b.clearConversation(msg.From.ID)
	return b.sendText(msg.Chat.ID, "✅ <b>Updated</b>\n"+service.FormatMedication(*med))
}

func (b *Bot) handleListMedications(ctx context.Context, msg *tgbotapi.Message) error {
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return b.reportError(msg.Chat.ID, "Could not load medications", err)
	}
	return b.sendMedicationList(ctx, msg.Chat.ID, user)
}

func (b *Bot) sendMedicationList(ctx context.Context, chatID int64, user *model.User) error {
	meds, err := b.svc.Medications.ListMedications(ctx, user, true)
	if err != nil {
		return b.reportError(chatID, "Could not load medications", err)
	}
	if len(meds) == 0 {
		return b.sendText(chatID, "You have no medications yet. Add one with /add.")
	}

	var builder strings.Builder
	builder.WriteString("💊 <b>Your medications</b>\n\n")
	for _, med := range meds {
		builder.WriteString(service.FormatMedication(med))
		builder.WriteString("\n\n")
	}
	_, err = b.sendWithReplyMarkup(chatID, strings.TrimSpace(builder.String()), medicationsKeyboard(meds))
	return err
}

func (b *Bot) handleToday(ctx context.Context, msg *tgbotapi.Message) error {
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return b.reportError(msg.Chat.ID, "Could not build the summary", err)
	}
	text, err := b.svc.Reminders.DailySummary(ctx, user, time.Now())
	if err != nil {
		return b.reportError(msg.Chat.ID, "Could not build the summary", err)
	}
	return b.sendText(msg.Chat.ID, text)
}

func (b *Bot) handleInvite(ctx context.Context, msg *tgbotapi.Message) error {
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return b.reportError(msg.Chat.ID, "Could not create an invite", err)
	}
	link, err := b.svc.CareLinks.Invite(ctx, user)
	if err != nil {
		return b.reportError(msg.Chat.ID, "Could not create an invite", err)
	}
	text := fmt.Sprintf(
		"🤝 Your invite code: <code>%s</code>\nAsk the person you care for to send <code>/redeem %s</code>.\nValid until %s.",
		link.InviteCode, link.InviteCode, link.ExpiresAt.In(b.location(user)).Format("02 Jan 15:04"),
	)
	return b.sendText(msg.Chat.ID, text)
}

func (b *Bot) handleRedeem(ctx context.Context, msg *tgbotapi.Message) error {
	code := strings.TrimSpace(msg.CommandArguments())
	if code == "" {
		return b.sendText(msg.Chat.ID, "Send the code with the command, e.g. <code>/redeem ABCD1234</code>.")
	}
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return b.reportError(msg.Chat.ID, "Could not redeem the code", err)
	}

	link, err := b.svc.CareLinks.Redeem(ctx, user, code)
	switch {
	case errors.Is(err, service.ErrNotFound):
		return b.sendText(msg.Chat.ID, "No invite with that code.")
	case errors.Is(err, service.ErrInviteExpired):
		return b.sendText(msg.Chat.ID, "That code has expired. Ask for a new one.")
	case errors.Is(err, service.ErrInviteUsed):
		return b.sendText(msg.Chat.ID, "That code was already used.")
	case errors.Is(err, service.ErrSelfInvite):
		return b.sendText(msg.Chat.ID, "That's your own code. Send it to the person you care for.")
	case err != nil:
		return b.reportError(msg.Chat.ID, "Could not redeem the code", err)
	}

	log.Printf("[info] care link %s accepted by %s", link.ID, user.ID)
	return b.sendText(msg.Chat.ID, "✅ Linked. Your caregiver can now follow your doses. Use /links to revoke.")
}

func (b *Bot) handleLinks(ctx context.Context, msg *tgbotapi.Message) error {
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return b.reportError(msg.Chat.ID, "Could not load links", err)
	}
	links, err := b.svc.CareLinks.List(ctx, user)
	if err != nil {
		return b.reportError(msg.Chat.ID, "Could not load links", err)
	}

	var builder strings.Builder
	builder.WriteString("🤝 <b>Care links</b>\n")
	var live []model.CareLink
	for _, l := range links {
		if l.Status == model.CareLinkRevoked {
			continue
		}
		live = append(live, l)
		builder.WriteString(b.describeLink(ctx, user, l))
		builder.WriteByte('\n')
	}
	if len(live) == 0 {
		return b.sendText(msg.Chat.ID, "No care links yet. Create one with /invite.")
	}
	_, err = b.sendWithReplyMarkup(msg.Chat.ID, strings.TrimSpace(builder.String()), linksKeyboard(live))
	return err
}

func (b *Bot) describeLink(ctx context.Context, me *model.User, l model.CareLink) string {
	switch {
	case l.Status == model.CareLinkPending:
		return fmt.Sprintf("⏳ invite <code>%s</code>, waiting until %s", l.InviteCode, l.ExpiresAt.In(b.location(me)).Format("02 Jan 15:04"))
	case l.CaregiverID == me.ID && l.UserID != nil:
		return fmt.Sprintf("👀 you follow %s", escape(b.displayName(ctx, *l.UserID)))
	default:
		return fmt.Sprintf("🫶 %s follows you", escape(b.displayName(ctx, l.CaregiverID)))
	}
}

func (b *Bot) displayName(ctx context.Context, id uuid.UUID) string {
	u, err := b.svc.Users.FindByID(ctx, id)
	if err != nil {
		return "someone"
	}
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" && u.Username != "" {
		name = "@" + u.Username
	}
	if name == "" {
		name = "someone"
	}
	return name
}

func (b *Bot) handleTimezone(ctx context.Context, msg *tgbotapi.Message) error {
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return b.reportError(msg.Chat.ID, "Could not change the time zone", err)
	}
	zone := strings.TrimSpace(msg.CommandArguments())
	if zone == "" {
		current := user.Timezone
		if current == "" {
			current = b.config.Location().String() + " (default)"
		}
		return b.sendText(msg.Chat.ID, fmt.Sprintf("Your time zone: %s. Change it with e.g. <code>/tz Europe/Berlin</code>.", escape(current)))
	}
	if _, err := time.LoadLocation(zone); err != nil {
		return b.sendText(msg.Chat.ID, fmt.Sprintf("Unknown time zone %q.", escape(zone)))
	}

	if err := b.svc.Retrier.Do(ctx, "set timezone", func(ctx context.Context) error {
		return b.svc.Users.SetTimezone(ctx, user.ID, zone)
	}); err != nil {
		return b.reportError(msg.Chat.ID, "Could not change the time zone", err)
	}
	user.Timezone = zone
	if err := b.svc.Medications.SyncUser(ctx, user); err != nil {
		log.Printf("[warn] resync after tz change for %s: %v", user.ID, err)
	}
	return b.sendText(msg.Chat.ID, fmt.Sprintf("🌍 Time zone set to %s. Reminders were rescheduled.", escape(zone)))
}

func (b *Bot) handleStop(ctx context.Context, msg *tgbotapi.Message) error {
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return b.reportError(msg.Chat.ID, "Could not pause reminders", err)
	}
	b.stopWatch(msg.Chat.ID)
	if err := b.svc.Medications.StopUser(ctx, user); err != nil {
		return b.reportError(msg.Chat.ID, "Could not pause reminders", err)
	}
	return b.sendText(msg.Chat.ID, "🔕 Reminders paused. Send /start to turn them back on.")
}

func (b *Bot) handleRetry(ctx context.Context, msg *tgbotapi.Message) error {
	if err := b.CheckStore(ctx); err != nil {
		return b.sendTextWithRemove(msg.Chat.ID, storageDownText)
	}
	return b.sendText(msg.Chat.ID, "✅ Storage is reachable again.")
}

func (b *Bot) handleMenuAlias(ctx context.Context, msg *tgbotapi.Message) (bool, error) {
	text := strings.TrimSpace(strings.ToLower(msg.Text))
	switch text {
	case strings.ToLower(menuLabelAdd):
		return true, b.startAddConversation(ctx, msg)
	case strings.ToLower(menuLabelMeds):
		return true, b.handleListMedications(ctx, msg)
	case strings.ToLower(menuLabelToday):
		return true, b.handleToday(ctx, msg)
	case strings.ToLower(menuLabelHelp):
		return true, b.handleHelp(msg)
	default:
		return false, nil
	}
}
