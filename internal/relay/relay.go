// Package relay turns an unbounded stream of partial-answer snapshots into
// a bounded number of in-place edits of one outbound message.
//
// DESIGN: The transport caps message bodies (Telegram: 4096 chars) and
// throttles edits, so the relay:
//  1. truncates every snapshot to the cap, keeping the head so the start of
//     the answer stabilizes first
//  2. publishes a snapshot only when it is the first, the last, or has grown
//     by at least the quiescence window since the last published one
//  3. swallows "not modified" edit rejections, retries other rejections once
//     without rich-text formatting, and surfaces a second failure
//  4. pauses briefly after each successful edit to stay under the
//     transport's own rate limit
//
// Cancellation mid-stream propagates to the caller together with the last
// token counts seen, so partial usage is never lost.
package relay

import (
	"context"
	"errors"
	"io"
	"time"
	"unicode/utf8"

	"github.com/mayahealth/maya-bot/internal/completion"
)

// ErrNotModified is returned by an Editor when the transport rejected an
// edit because the content is unchanged. The relay treats it as a no-op.
var ErrNotModified = errors.New("relay: message not modified")

// Editor applies one in-place edit to the placeholder message. richText
// selects the transport's formatted mode; the relay retries without it when
// the transport rejects formatted content.
type Editor interface {
	Edit(ctx context.Context, text string, richText bool) error
}

// Config holds the relay's transport-tuning knobs. The quiescence window and
// publish delay encode a rate-limit assumption about the transport, so they
// are configuration rather than constants.
type Config struct {
	MaxMessageLen   int
	QuiescenceChars int
	PublishDelay    time.Duration
}

// Final is the relay's result. On error (including cancellation) Usage and
// TurnsDropped still carry the last values seen before the stream stopped.
type Final struct {
	Text         string
	Usage        completion.Usage
	TurnsDropped int
}

// Run consumes the stream and edits the placeholder through editor until the
// finished snapshot is published. The finished snapshot is always published,
// regardless of the quiescence window.
func Run(ctx context.Context, stream completion.Stream, editor Editor, cfg Config) (Final, error) {
	var final Final
	lastPublished := -1 // length of the last published snapshot; -1 = none yet

	for {
		ev, err := stream.Recv(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				// The producer contract ends every stream with a finished
				// event; a bare EOF means it broke the contract.
				return final, io.ErrUnexpectedEOF
			}
			return final, err
		}

		text := truncate(ev.Text, cfg.MaxMessageLen)
		final.Usage = ev.Usage
		final.TurnsDropped = ev.TurnsDropped

		if !ev.Finished && lastPublished >= 0 && abs(len(text)-lastPublished) < cfg.QuiescenceChars {
			continue
		}

		if err := editor.Edit(ctx, text, true); err != nil {
			if errors.Is(err, ErrNotModified) {
				// Quiescence window raced with identical text. Not an error.
				if ev.Finished {
					final.Text = text
					return final, nil
				}
				continue
			}
			// Transport rejected the formatted content. Degrade to plain
			// text once rather than dropping the answer.
			if err := editor.Edit(ctx, text, false); err != nil {
				return final, err
			}
		}
		lastPublished = len(text)

		if ev.Finished {
			final.Text = text
			return final, nil
		}

		// Deliberate backoff between edits to avoid transport rate limiting.
		select {
		case <-time.After(cfg.PublishDelay):
		case <-ctx.Done():
			return final, ctx.Err()
		}
	}
}

// truncate keeps at most max bytes of s, backing off to a rune boundary so
// the transport never receives a partial UTF-8 sequence. The trailing
// overflow is dropped so a live-updating message never rewrites its
// beginning.
func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
