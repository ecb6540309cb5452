package bot

import (
	"context"
	"errors"
	"fmt"

	"github.com/mayahealth/maya-bot/internal/relay"
	"github.com/mayahealth/maya-bot/internal/telegram"
)

// placeholderEditor adapts the Telegram client to the relay's Editor. Rich
// publishes use the configured parse mode; the plain retry drops it, since
// a half-streamed answer is often not valid markup yet.
type placeholderEditor struct {
	tg        Messenger
	chatID    int64
	messageID int64
	parseMode string
}

func (e *placeholderEditor) Edit(ctx context.Context, text string, richText bool) error {
	mode := ""
	if richText {
		mode = e.parseMode
	}
	err := e.tg.EditMessageText(ctx, e.chatID, e.messageID, text, mode)
	if errors.Is(err, telegram.ErrMessageNotModified) {
		return fmt.Errorf("%w: %w", relay.ErrNotModified, err)
	}
	return err
}
