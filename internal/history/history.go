// Package history models dialog history and adapts it to the backend's
// context window.
//
// DESIGN: A dialog is an ordered sequence of turns (user text + bot answer).
// Prompt assembly is system prompt, then every turn as a user/assistant pair,
// then the new user message. Fit() owns the trim-and-retry loop: when the
// backend rejects a request as too large, the oldest turn is dropped and the
// request re-issued, so the most recent exchange is always the last to go.
package history

import (
	"context"
	"errors"
	"fmt"

	"github.com/mayahealth/maya-bot/internal/completion"
)

// ErrContextExhausted means the new message alone, with no history at all,
// is still too large for the backend. Trimming cannot make progress; the
// request fails rather than looping.
var ErrContextExhausted = errors.New("history: dialog reduced to zero turns but request still exceeds context window")

// Turn is one user-message/bot-answer exchange in a dialog.
type Turn struct {
	User string
	Bot  string
}

// BuildMessages assembles the full prompt: system prompt, each history turn
// as a user/assistant pair, and the new user message last.
func BuildMessages(systemPrompt string, turns []Turn, userMessage string) []completion.Message {
	messages := make([]completion.Message, 0, 2*len(turns)+2)
	messages = append(messages, completion.Message{Role: completion.RoleSystem, Content: systemPrompt})
	for _, t := range turns {
		messages = append(messages, completion.Message{Role: completion.RoleUser, Content: t.User})
		messages = append(messages, completion.Message{Role: completion.RoleAssistant, Content: t.Bot})
	}
	messages = append(messages, completion.Message{Role: completion.RoleUser, Content: userMessage})
	return messages
}

// TryFunc issues one completion attempt against the given (possibly trimmed)
// history. It returns completion.ErrRequestTooLarge when the backend rejects
// the request for size; any successful result is captured by the closure.
type TryFunc func(ctx context.Context, turns []Turn) error

// Fit repeatedly invokes try, dropping the oldest turn after each
// too-large rejection, until the request fits or the history is exhausted.
// It returns the number of turns dropped. Errors other than
// completion.ErrRequestTooLarge pass through unchanged.
func Fit(ctx context.Context, turns []Turn, try TryFunc) (int, error) {
	dropped := 0
	for {
		err := try(ctx, turns)
		if err == nil {
			return dropped, nil
		}
		if !errors.Is(err, completion.ErrRequestTooLarge) {
			return dropped, err
		}
		if len(turns) == 0 {
			return dropped, fmt.Errorf("%w: %w", ErrContextExhausted, err)
		}
		turns = turns[1:]
		dropped++
	}
}
