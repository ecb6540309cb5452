package bot

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mayahealth/maya-bot/internal/completion"
	"github.com/mayahealth/maya-bot/internal/gate"
	"github.com/mayahealth/maya-bot/internal/history"
	"github.com/mayahealth/maya-bot/internal/relay"
	"github.com/mayahealth/maya-bot/internal/telegram"
	"github.com/mayahealth/maya-bot/internal/usage"
)

func (b *Bot) startHandler(ctx context.Context, msg *telegram.Message) error {
	if err := b.store.Touch(msg.From.ID); err != nil {
		return err
	}
	if _, err := b.store.StartNewDialog(msg.From.ID); err != nil {
		return err
	}
	b.replyHTML(ctx, msg.Chat.ID, 0, textStartReturning)
	return nil
}

func (b *Bot) helpHandler(ctx context.Context, msg *telegram.Message) error {
	if err := b.store.Touch(msg.From.ID); err != nil {
		return err
	}
	b.replyHTML(ctx, msg.Chat.ID, 0, textHelp)
	return nil
}

func (b *Bot) newDialogHandler(ctx context.Context, msg *telegram.Message) error {
	if b.gates.Busy(msg.From.ID) {
		b.replyHTML(ctx, msg.Chat.ID, msg.MessageID, textBusy)
		return nil
	}
	if err := b.store.Touch(msg.From.ID); err != nil {
		return err
	}
	if _, err := b.store.StartNewDialog(msg.From.ID); err != nil {
		return err
	}
	b.replyHTML(ctx, msg.Chat.ID, 0, textNewDialog)
	return nil
}

func (b *Bot) cancelHandler(ctx context.Context, msg *telegram.Message) error {
	userID := msg.From.ID
	if err := b.store.Touch(userID); err != nil {
		return err
	}
	if b.flows.abort(userID) {
		b.replyHTML(ctx, msg.Chat.ID, 0, textRegisterAborted)
		return nil
	}
	if !b.gates.Cancel(userID) {
		b.replyHTML(ctx, msg.Chat.ID, 0, textNothingToCancel)
	}
	// The cancelled task's own exit path sends the "Canceled" notice.
	return nil
}

func (b *Bot) retryHandler(ctx context.Context, msg *telegram.Message) error {
	userID := msg.From.ID
	if b.gates.Busy(userID) {
		b.replyHTML(ctx, msg.Chat.ID, msg.MessageID, textBusy)
		return nil
	}
	if err := b.store.Touch(userID); err != nil {
		return err
	}

	last, ok, err := b.store.DropLastTurn(userID)
	if err != nil {
		return err
	}
	if !ok {
		b.replyHTML(ctx, msg.Chat.ID, 0, textNothingToRetry)
		return nil
	}
	b.handleMessage(ctx, msg, last.User, false)
	return nil
}

func (b *Bot) balanceHandler(ctx context.Context, msg *telegram.Message) error {
	userID := msg.From.ID
	if err := b.store.Touch(userID); err != nil {
		return err
	}
	ledger, err := b.store.UsageLedger(userID)
	if err != nil {
		return err
	}

	models := make([]string, 0, len(ledger))
	for model := range ledger {
		models = append(models, model)
	}
	sort.Strings(models)

	var details strings.Builder
	details.WriteString("🏷️ Details:\n")
	for _, model := range models {
		m := ledger[model]
		cost := usage.CalculateCost(m.InputTokens, m.OutputTokens, usage.GetModelPricing(model))
		fmt.Fprintf(&details, "- %s: <b>%.3f$</b> / <b>%d tokens</b>\n", model, cost, m.Total())
	}

	text := fmt.Sprintf("You spent <b>%.3f$</b>\nYou used <b>%d</b> tokens\n\n%s",
		ledger.TotalCost(), ledger.TotalTokens(), details.String())
	b.replyHTML(ctx, msg.Chat.ID, 0, text)
	return nil
}

const setModelCallbackPrefix = "set_model|"

func (b *Bot) modelHandler(ctx context.Context, msg *telegram.Message) error {
	userID := msg.From.ID
	if b.gates.Busy(userID) {
		b.replyHTML(ctx, msg.Chat.ID, msg.MessageID, textBusy)
		return nil
	}
	if err := b.store.Touch(userID); err != nil {
		return err
	}

	text, markup, err := b.modelMenu(userID)
	if err != nil {
		return err
	}
	_, err = b.tg.SendMessage(ctx, msg.Chat.ID, text, &telegram.SendOptions{
		ParseMode:   telegram.ParseModeHTML,
		ReplyMarkup: markup,
	})
	return err
}

// modelMenu builds the model-selection text and inline keyboard.
func (b *Bot) modelMenu(userID int64) (string, *telegram.InlineKeyboardMarkup, error) {
	current, err := b.store.CurrentModel(userID)
	if err != nil {
		return "", nil, err
	}

	var row []telegram.InlineKeyboardButton
	for _, model := range b.cfg.Model.Available {
		title := model
		if model == current {
			title = "✅ " + title
		}
		row = append(row, telegram.InlineKeyboardButton{
			Text:         title,
			CallbackData: setModelCallbackPrefix + model,
		})
	}
	text := fmt.Sprintf("Current model: <b>%s</b>\n\nSelect <b>model</b>:", current)
	return text, &telegram.InlineKeyboardMarkup{InlineKeyboard: [][]telegram.InlineKeyboardButton{row}}, nil
}

// handleCallback applies a model selection from the inline keyboard and
// refreshes the menu in place.
func (b *Bot) handleCallback(ctx context.Context, q *telegram.CallbackQuery) {
	if q.From == nil || !strings.HasPrefix(q.Data, setModelCallbackPrefix) {
		return
	}
	if err := b.tg.AnswerCallbackQuery(ctx, q.ID); err != nil {
		log.Warn().Err(err).Msg("bot: answer callback failed")
	}

	userID := q.From.ID
	model := strings.TrimPrefix(q.Data, setModelCallbackPrefix)
	if !b.modelAvailable(model) {
		log.Warn().Str("model", model).Int64("user_id", userID).Msg("bot: callback for unavailable model")
		return
	}
	if err := b.store.SetCurrentModel(userID, model); err != nil {
		log.Error().Err(err).Msg("bot: set model failed")
		return
	}
	// A model switch restarts the conversation; histories are not portable
	// across context windows.
	if _, err := b.store.StartNewDialog(userID); err != nil {
		log.Error().Err(err).Msg("bot: start dialog failed")
		return
	}

	if q.Message == nil {
		return
	}
	text, _, err := b.modelMenu(userID)
	if err != nil {
		log.Error().Err(err).Msg("bot: rebuild model menu failed")
		return
	}
	err = b.tg.EditMessageText(ctx, q.Message.Chat.ID, q.Message.MessageID, text, telegram.ParseModeHTML)
	if err != nil && !errors.Is(err, telegram.ErrMessageNotModified) {
		log.Warn().Err(err).Msg("bot: edit model menu failed")
	}
}

func (b *Bot) modelAvailable(model string) bool {
	for _, m := range b.cfg.Model.Available {
		if m == model {
			return true
		}
	}
	return false
}

func (b *Bot) extractHandler(ctx context.Context, msg *telegram.Message) error {
	if err := b.store.Touch(msg.From.ID); err != nil {
		return err
	}
	data, err := b.store.ExportPromptCompletions()
	if err != nil {
		return err
	}
	return b.tg.SendDocument(ctx, msg.Chat.ID, "prompt_completion_data.jsonl", data, textExtractCaption)
}

// handleMessage runs the full completion flow for one user message under
// the per-user gate. overrideText, when non-empty, replaces the message
// text (used by /retry).
func (b *Bot) handleMessage(ctx context.Context, msg *telegram.Message, overrideText string, useTimeout bool) {
	userID := msg.From.ID
	if b.gates.Busy(userID) {
		b.replyHTML(ctx, msg.Chat.ID, msg.MessageID, textBusy)
		return
	}

	text := msg.Text
	if overrideText != "" {
		text = overrideText
	}

	err := b.gates.Run(ctx, userID, func(taskCtx context.Context) error {
		return b.answer(taskCtx, msg, text, useTimeout)
	})
	switch {
	case err == nil:
	case errors.Is(err, gate.ErrBusy):
		b.replyHTML(ctx, msg.Chat.ID, msg.MessageID, textBusy)
	case errors.Is(err, gate.ErrCanceled):
		b.replyHTML(ctx, msg.Chat.ID, 0, textCanceled)
	case errors.Is(err, history.ErrContextExhausted):
		b.replyHTML(ctx, msg.Chat.ID, 0, textContextExhausted)
	default:
		b.reportFailure(ctx, msg, err)
	}
}

// answer is the body of one gated completion task. Token usage is recorded
// exactly once on every exit path, including cancellation, with the last
// counts known at that point.
func (b *Bot) answer(ctx context.Context, msg *telegram.Message, text string, useTimeout bool) error {
	userID := msg.From.ID

	if useTimeout {
		if err := b.maybeExpireDialog(ctx, msg); err != nil {
			return err
		}
	}
	if err := b.store.Touch(userID); err != nil {
		return err
	}
	model, err := b.store.CurrentModel(userID)
	if err != nil {
		return err
	}

	var finalUsage completion.Usage
	recorded := false
	record := func() {
		if recorded {
			return
		}
		recorded = true
		if err := b.store.RecordUsage(userID, model, finalUsage.InputTokens, finalUsage.OutputTokens); err != nil {
			log.Error().Err(err).Int64("user_id", userID).Msg("bot: record usage failed")
		}
		if b.tracker != nil {
			b.tracker.Record(userID, model, finalUsage.InputTokens, finalUsage.OutputTokens)
		}
	}
	defer record()

	placeholder, err := b.tg.SendMessage(ctx, msg.Chat.ID, textPlaceholder,
		&telegram.SendOptions{ReplyToMessageID: msg.MessageID})
	if err != nil {
		return err
	}
	if err := b.tg.SendChatAction(ctx, msg.Chat.ID, telegram.ChatActionTyping); err != nil {
		log.Debug().Err(err).Msg("bot: typing action failed")
	}

	turns, err := b.store.DialogTurns(userID)
	if err != nil {
		return err
	}

	var stream completion.Stream
	dropped, err := history.Fit(ctx, turns, func(ctx context.Context, fitted []history.Turn) error {
		messages := history.BuildMessages(b.cfg.Chat.SystemPrompt, fitted, text)
		if b.cfg.Chat.Streaming() {
			s, err := b.backend.StreamCompletion(ctx, model, messages)
			if err != nil {
				return err
			}
			stream = s
			return nil
		}
		answerText, used, err := b.backend.Complete(ctx, model, messages)
		if err != nil {
			return err
		}
		stream = completion.Single(answerText, used, 0)
		return nil
	})
	if err != nil {
		return err
	}
	defer func() { _ = stream.Close() }()

	final, err := relay.Run(ctx, completion.WithTurnsDropped(stream, dropped), &placeholderEditor{
		tg:        b.tg,
		chatID:    placeholder.Chat.ID,
		messageID: placeholder.MessageID,
		parseMode: telegram.ParseModeHTML,
	}, relay.Config{
		MaxMessageLen:   b.cfg.Stream.MaxMessageLen,
		QuiescenceChars: b.cfg.Stream.QuiescenceChars,
		PublishDelay:    b.cfg.Stream.PublishDelay(),
	})
	finalUsage = final.Usage
	if err != nil {
		// Cancellation and transport failures land here; the deferred
		// record() still accounts the partial usage.
		return err
	}

	if err := b.store.AppendTurn(userID, history.Turn{User: text, Bot: final.Text}); err != nil {
		return err
	}
	if err := b.store.InsertPromptCompletion(text, final.Text); err != nil {
		log.Error().Err(err).Msg("bot: capture prompt/completion failed")
	}
	record()

	if final.TurnsDropped > 0 {
		b.replyHTML(ctx, msg.Chat.ID, 0, trimmedNotice(final.TurnsDropped))
	}
	return nil
}

// maybeExpireDialog starts a new dialog when the user has been idle past
// the configured window and the current dialog has history.
func (b *Bot) maybeExpireDialog(ctx context.Context, msg *telegram.Message) error {
	userID := msg.From.ID
	last, err := b.store.LastInteraction(userID)
	if err != nil {
		return err
	}
	if last.IsZero() || time.Since(last) <= b.cfg.Chat.NewDialogTimeout() {
		return nil
	}
	turns, err := b.store.DialogTurns(userID)
	if err != nil {
		return err
	}
	if len(turns) == 0 {
		return nil
	}
	if _, err := b.store.StartNewDialog(userID); err != nil {
		return err
	}
	b.replyHTML(ctx, msg.Chat.ID, 0, textTimeoutDialog)
	return nil
}

func trimmedNotice(n int) string {
	if n == 1 {
		return "✍️ <i>Note:</i> Your current dialog is too long, so your <b>first message</b> was removed from the context.\n" +
			"Send /new command to start new dialog"
	}
	return fmt.Sprintf("✍️ <i>Note:</i> Your current dialog is too long, so <b>%d first messages</b> were removed from the context.\n"+
		"Send /new command to start new dialog", n)
}
