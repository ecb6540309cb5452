// Package completion defines the contract between the bot core and a
// chat-completion backend.
//
// DESIGN: The backend is consumed through two shapes:
//   - Stream:       pull-based sequence of cumulative-answer snapshots
//   - Single():     one-shot stream wrapping a non-streaming answer, so the
//     relay handles both modes through the same code path
//
// Every event carries the full accumulated answer so far, never a delta.
// The last event of a stream has Finished set; all prior events do not.
package completion

import (
	"context"
	"errors"
	"io"
)

// Chat message roles understood by the backend.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrRequestTooLarge is returned when the assembled prompt exceeds the
// backend's context window. The history trimmer reacts to it by dropping
// the oldest dialog turn and retrying.
var ErrRequestTooLarge = errors.New("completion: request exceeds model context window")

// Message is a single chat message in a completion request.
type Message struct {
	Role    string
	Content string
}

// Usage holds token counts for one request.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Total returns the combined token count.
func (u Usage) Total() int {
	return u.InputTokens + u.OutputTokens
}

// Add accumulates another usage sample into u.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// Event is one snapshot from a completion stream. Text is the full answer
// accumulated so far. Usage reflects the backend's best current estimate;
// on a Finished event it is the final count for the request.
type Event struct {
	Finished     bool
	Text         string
	Usage        Usage
	TurnsDropped int
}

// Stream is a finite, pull-based sequence of events produced by exactly one
// completion call. Recv blocks until the next event is available or ctx is
// done; after the Finished event it returns io.EOF. Context cancellation
// must surface as ctx.Err() so callers can unwind promptly.
type Stream interface {
	Recv(ctx context.Context) (Event, error)
	Close() error
}

// single is a one-item stream around an already-complete answer.
type single struct {
	event Event
	done  bool
}

// Single wraps a non-streaming completion result as a one-event stream with
// Finished set, so the non-streaming mode reuses the streaming relay path.
func Single(text string, usage Usage, turnsDropped int) Stream {
	return &single{event: Event{
		Finished:     true,
		Text:         text,
		Usage:        usage,
		TurnsDropped: turnsDropped,
	}}
}

func (s *single) Recv(ctx context.Context) (Event, error) {
	if err := ctx.Err(); err != nil {
		return Event{}, err
	}
	if s.done {
		return Event{}, io.EOF
	}
	s.done = true
	return s.event, nil
}

func (s *single) Close() error { return nil }

// droppedStream stamps every event with the number of dialog turns the
// trimmer removed before the request fit the context window.
type droppedStream struct {
	Stream
	n int
}

// WithTurnsDropped decorates a stream so each event reports n dropped turns.
// The trimmer, not the backend client, knows that number.
func WithTurnsDropped(s Stream, n int) Stream {
	if n == 0 {
		return s
	}
	return &droppedStream{Stream: s, n: n}
}

func (d *droppedStream) Recv(ctx context.Context) (Event, error) {
	ev, err := d.Stream.Recv(ctx)
	if err != nil {
		return ev, err
	}
	ev.TurnsDropped = d.n
	return ev, nil
}
