// Package bot wires the Telegram update feed to the completion backend.
//
// DESIGN: Request flow for a free-text message:
//   - admission:  the per-user gate rejects a message while one is in flight
//   - assembly:   dialog history is loaded and trimmed until the backend
//     accepts the prompt
//   - relay:      partial answers stream into one placeholder message
//   - bookkeeping: the finished turn is appended and token usage recorded
//     exactly once, on every outcome including cancellation
//
// Commands, the registration flow and the model menu sit on top of the same
// store and transport. Handler errors are caught at the dispatch boundary,
// logged with the update context, and reported to the user; they never take
// down the poll loop or leak a locked user slot.
package bot

import (
	"context"
	"runtime/debug"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mayahealth/maya-bot/internal/completion"
	"github.com/mayahealth/maya-bot/internal/config"
	"github.com/mayahealth/maya-bot/internal/gate"
	"github.com/mayahealth/maya-bot/internal/store"
	"github.com/mayahealth/maya-bot/internal/telegram"
	"github.com/mayahealth/maya-bot/internal/usage"
)

// pollRetryDelay is the pause after a failed getUpdates call.
const pollRetryDelay = 3 * time.Second

// Messenger is the slice of the Telegram client the bot uses. Tests provide
// a fake; production passes *telegram.Client.
type Messenger interface {
	GetUpdates(ctx context.Context, offset int64, timeoutSeconds int) ([]telegram.Update, error)
	SendMessage(ctx context.Context, chatID int64, text string, opts *telegram.SendOptions) (telegram.Message, error)
	EditMessageText(ctx context.Context, chatID, messageID int64, text, parseMode string) error
	SendChatAction(ctx context.Context, chatID int64, action string) error
	SendDocument(ctx context.Context, chatID int64, filename string, data []byte, caption string) error
	SetMyCommands(ctx context.Context, commands []telegram.BotCommand) error
	AnswerCallbackQuery(ctx context.Context, callbackID string) error
}

// Completer is the completion backend. Tests provide a fake; production
// passes *openai.Client.
type Completer interface {
	Complete(ctx context.Context, model string, messages []completion.Message) (string, completion.Usage, error)
	StreamCompletion(ctx context.Context, model string, messages []completion.Message) (completion.Stream, error)
}

// Bot owns all per-process bot state.
type Bot struct {
	cfg     *config.Config
	store   *store.Store
	tg      Messenger
	backend Completer
	gates   *gate.Registry
	tracker *usage.Tracker
	flows   *flowRegistry
}

// New assembles a bot from its collaborators.
func New(cfg *config.Config, st *store.Store, tg Messenger, backend Completer, tracker *usage.Tracker) *Bot {
	return &Bot{
		cfg:     cfg,
		store:   st,
		tg:      tg,
		backend: backend,
		gates:   gate.NewRegistry(),
		tracker: tracker,
		flows:   newFlowRegistry(),
	}
}

// RunPolling long-polls for updates until ctx is done. Updates are handled
// concurrently; per-user ordering is enforced by the request gate, not the
// dispatch order.
func (b *Bot) RunPolling(ctx context.Context) error {
	if err := b.tg.SetMyCommands(ctx, botCommands); err != nil {
		log.Warn().Err(err).Msg("bot: set command menu failed")
	}

	var offset int64
	for {
		updates, err := b.tg.GetUpdates(ctx, offset, b.cfg.Telegram.PollTimeoutSec)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Error().Err(err).Msg("bot: getUpdates failed")
			select {
			case <-time.After(pollRetryDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		for _, u := range updates {
			if u.UpdateID >= offset {
				offset = u.UpdateID + 1
			}
			go b.Dispatch(ctx, u)
		}
	}
}

// Dispatch routes one update to its handler, with the outermost error
// boundary: unexpected failures are logged with a stack and reported to the
// user as a generic failure.
func (b *Bot) Dispatch(ctx context.Context, u telegram.Update) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).
				Int64("update_id", u.UpdateID).Msg("bot: handler panicked")
		}
	}()

	switch {
	case u.CallbackQuery != nil:
		b.handleCallback(ctx, u.CallbackQuery)
	case u.EditedMessage != nil:
		b.replyHTML(ctx, u.EditedMessage.Chat.ID, 0, textEditedNotSupported)
	case u.Message != nil:
		b.handleIncoming(ctx, u.Message)
	}
}

// handleIncoming applies the user filter, ensures the user exists, then
// routes commands, registration-flow answers and free-text messages.
func (b *Bot) handleIncoming(ctx context.Context, msg *telegram.Message) {
	if msg.From == nil {
		return
	}
	if !b.userAllowed(msg.From) {
		log.Debug().Str("username", msg.From.Username).Msg("bot: user not in allow list")
		return
	}

	greeted, err := b.ensureUser(ctx, msg)
	if err != nil {
		b.reportFailure(ctx, msg, err)
		return
	}
	if greeted && !strings.HasPrefix(msg.Text, "/start") {
		// First contact: the greeting already asked the user to /register.
		return
	}

	if strings.TrimSpace(msg.Text) == "" {
		// Photos, stickers, voice notes: nothing to proxy.
		b.replyHTML(ctx, msg.Chat.ID, 0, textTextOnly)
		return
	}

	if cmd, ok := parseCommand(msg.Text); ok {
		b.handleCommand(ctx, msg, cmd)
		return
	}
	if b.flows.active(msg.From.ID) {
		b.handleFlowAnswer(ctx, msg)
		return
	}
	b.handleMessage(ctx, msg, "", true)
}

// userAllowed checks the optional username allow list; an empty list admits
// everyone.
func (b *Bot) userAllowed(u *telegram.User) bool {
	allowed := b.cfg.Telegram.AllowedUsernames
	if len(allowed) == 0 {
		return true
	}
	for _, name := range allowed {
		if strings.EqualFold(strings.TrimPrefix(name, "@"), u.Username) {
			return true
		}
	}
	return false
}

// ensureUser creates the user record, first dialog and default model on
// first contact. Returns true when the welcome message was sent.
func (b *Bot) ensureUser(ctx context.Context, msg *telegram.Message) (bool, error) {
	userID := msg.From.ID
	exists, err := b.store.UserExists(userID)
	if err != nil {
		return false, err
	}
	if !exists {
		if err := b.store.CreateUser(store.Profile{
			ID:        userID,
			ChatID:    msg.Chat.ID,
			Username:  msg.From.Username,
			FirstName: msg.From.FirstName,
			LastName:  msg.From.LastName,
		}); err != nil {
			return false, err
		}
		if _, err := b.store.StartNewDialog(userID); err != nil {
			return false, err
		}
		if err := b.store.SetCurrentModel(userID, b.cfg.Model.Default); err != nil {
			return false, err
		}
		b.replyHTML(ctx, msg.Chat.ID, msg.MessageID, textWelcome)
		return true, nil
	}

	dialogID, err := b.store.CurrentDialogID(userID)
	if err != nil {
		return false, err
	}
	if dialogID == "" {
		if _, err := b.store.StartNewDialog(userID); err != nil {
			return false, err
		}
	}
	model, err := b.store.CurrentModel(userID)
	if err != nil {
		return false, err
	}
	if model == "" {
		if err := b.store.SetCurrentModel(userID, b.cfg.Model.Default); err != nil {
			return false, err
		}
	}
	return false, nil
}

// replyHTML sends an HTML-formatted message, logging instead of failing the
// handler when the transport rejects it.
func (b *Bot) replyHTML(ctx context.Context, chatID, replyTo int64, text string) {
	opts := &telegram.SendOptions{ParseMode: telegram.ParseModeHTML}
	if replyTo != 0 {
		opts.ReplyToMessageID = replyTo
	}
	if _, err := b.tg.SendMessage(ctx, chatID, text, opts); err != nil {
		log.Warn().Err(err).Int64("chat_id", chatID).Msg("bot: send reply failed")
	}
}

// reportFailure logs an unexpected handler error and tells the user.
func (b *Bot) reportFailure(ctx context.Context, msg *telegram.Message, err error) {
	log.Error().Err(err).Int64("user_id", msg.From.ID).Msg("bot: handler failed")
	b.replyHTML(ctx, msg.Chat.ID, 0, textGenericFailure)
}

func parseCommand(text string) (string, bool) {
	if !strings.HasPrefix(text, "/") {
		return "", false
	}
	cmd := strings.Fields(text)[0]
	// Strip the @botname suffix used in group chats.
	if i := strings.IndexByte(cmd, '@'); i > 0 {
		cmd = cmd[:i]
	}
	return cmd, true
}

func (b *Bot) handleCommand(ctx context.Context, msg *telegram.Message, cmd string) {
	var err error
	switch cmd {
	case "/start":
		err = b.startHandler(ctx, msg)
	case "/help":
		err = b.helpHandler(ctx, msg)
	case "/new":
		err = b.newDialogHandler(ctx, msg)
	case "/cancel":
		err = b.cancelHandler(ctx, msg)
	case "/retry":
		err = b.retryHandler(ctx, msg)
	case "/balance":
		err = b.balanceHandler(ctx, msg)
	case "/model":
		err = b.modelHandler(ctx, msg)
	case "/extract":
		err = b.extractHandler(ctx, msg)
	case "/register":
		err = b.registerHandler(ctx, msg)
	default:
		b.replyHTML(ctx, msg.Chat.ID, 0, textUnknownCommand)
		return
	}
	if err != nil {
		b.reportFailure(ctx, msg, err)
	}
}
