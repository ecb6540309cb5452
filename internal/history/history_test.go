package history

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mayahealth/maya-bot/internal/completion"
)

func TestBuildMessages_Order(t *testing.T) {
	turns := []Turn{
		{User: "q1", Bot: "a1"},
		{User: "q2", Bot: "a2"},
	}
	msgs := BuildMessages("be helpful", turns, "q3")

	require.Len(t, msgs, 6)
	assert.Equal(t, completion.Message{Role: completion.RoleSystem, Content: "be helpful"}, msgs[0])
	assert.Equal(t, completion.Message{Role: completion.RoleUser, Content: "q1"}, msgs[1])
	assert.Equal(t, completion.Message{Role: completion.RoleAssistant, Content: "a1"}, msgs[2])
	assert.Equal(t, completion.Message{Role: completion.RoleUser, Content: "q2"}, msgs[3])
	assert.Equal(t, completion.Message{Role: completion.RoleAssistant, Content: "a2"}, msgs[4])
	assert.Equal(t, completion.Message{Role: completion.RoleUser, Content: "q3"}, msgs[5])
}

func TestBuildMessages_EmptyHistory(t *testing.T) {
	msgs := BuildMessages("sys", nil, "hello")
	require.Len(t, msgs, 2)
	assert.Equal(t, completion.RoleSystem, msgs[0].Role)
	assert.Equal(t, completion.RoleUser, msgs[1].Role)
}

func TestFit_NoTrimNeeded(t *testing.T) {
	turns := []Turn{{User: "q", Bot: "a"}}
	calls := 0

	dropped, err := Fit(context.Background(), turns, func(ctx context.Context, got []Turn) error {
		calls++
		assert.Equal(t, turns, got)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 0, dropped)
	assert.Equal(t, 1, calls)
}

func TestFit_DropsOldestFirst(t *testing.T) {
	turns := []Turn{
		{User: "A", Bot: "a"},
		{User: "B", Bot: "b"},
		{User: "C", Bot: "c"},
	}

	var seen [][]Turn
	dropped, err := Fit(context.Background(), turns, func(ctx context.Context, got []Turn) error {
		seen = append(seen, append([]Turn(nil), got...))
		if len(got) > 1 {
			return completion.ErrRequestTooLarge
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, dropped)

	// Oldest turns go first; the most recent exchange survives longest.
	require.Len(t, seen, 3)
	assert.Equal(t, "A", seen[0][0].User)
	assert.Equal(t, "B", seen[1][0].User)
	assert.Equal(t, []Turn{{User: "C", Bot: "c"}}, seen[2])
}

func TestFit_ContextExhausted(t *testing.T) {
	turns := []Turn{{User: "A", Bot: "a"}}
	calls := 0

	dropped, err := Fit(context.Background(), turns, func(ctx context.Context, got []Turn) error {
		calls++
		return completion.ErrRequestTooLarge
	})
	assert.ErrorIs(t, err, ErrContextExhausted)
	assert.ErrorIs(t, err, completion.ErrRequestTooLarge)
	assert.Equal(t, 1, dropped)
	// One try with the turn, one with empty history, then give up.
	assert.Equal(t, 2, calls)
}

func TestFit_OtherErrorsPassThrough(t *testing.T) {
	transport := errors.New("connection refused")
	turns := []Turn{{User: "A", Bot: "a"}, {User: "B", Bot: "b"}}

	dropped, err := Fit(context.Background(), turns, func(ctx context.Context, got []Turn) error {
		if len(got) == 2 {
			return completion.ErrRequestTooLarge
		}
		return transport
	})
	assert.ErrorIs(t, err, transport)
	assert.NotErrorIs(t, err, ErrContextExhausted)
	assert.Equal(t, 1, dropped)
}
