package openai

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/mayahealth/maya-bot/internal/completion"
)

func TestBuildBody(t *testing.T) {
	messages := []completion.Message{
		{Role: completion.RoleSystem, Content: "be helpful"},
		{Role: completion.RoleUser, Content: "hi"},
	}
	body, err := buildBody("gpt-3.5-turbo", messages, true)
	require.NoError(t, err)

	assert.Equal(t, "gpt-3.5-turbo", gjson.GetBytes(body, "model").String())
	assert.Equal(t, int64(2), gjson.GetBytes(body, "messages.#").Int())
	assert.Equal(t, "system", gjson.GetBytes(body, "messages.0.role").String())
	assert.Equal(t, "hi", gjson.GetBytes(body, "messages.1.content").String())
	assert.True(t, gjson.GetBytes(body, "stream").Bool())
	assert.Equal(t, 0.7, gjson.GetBytes(body, "temperature").Float())

	body, err = buildBody("gpt-4", messages, false)
	require.NoError(t, err)
	assert.False(t, gjson.GetBytes(body, "stream").Exists())
}

func TestCheckError_ContextLengthExceeded(t *testing.T) {
	byCode := []byte(`{"error":{"code":"context_length_exceeded","message":"too big"}}`)
	err := checkError(http.StatusBadRequest, byCode)
	assert.ErrorIs(t, err, completion.ErrRequestTooLarge)

	byMessage := []byte(`{"error":{"message":"This model's maximum context length is 4097 tokens."}}`)
	err = checkError(http.StatusBadRequest, byMessage)
	assert.ErrorIs(t, err, completion.ErrRequestTooLarge)
}

func TestCheckError_OtherErrorsNotTooLarge(t *testing.T) {
	body := []byte(`{"error":{"code":"rate_limit_exceeded","message":"slow down"}}`)
	err := checkError(http.StatusTooManyRequests, body)
	require.Error(t, err)
	assert.NotErrorIs(t, err, completion.ErrRequestTooLarge)
	assert.Contains(t, err.Error(), "slow down")
}

func TestComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "gpt-3.5-turbo", gjson.GetBytes(body, "model").String())

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"choices":[{"message":{"content":"  Drink water.  "}}],
			"usage":{"prompt_tokens":42,"completion_tokens":7}
		}`))
	}))
	defer srv.Close()

	c := NewClient("test-key", srv.URL)
	answer, used, err := c.Complete(context.Background(), "gpt-3.5-turbo",
		[]completion.Message{{Role: completion.RoleUser, Content: "headache"}})
	require.NoError(t, err)
	assert.Equal(t, "Drink water.", answer)
	assert.Equal(t, completion.Usage{InputTokens: 42, OutputTokens: 7}, used)
}

func TestComplete_TooLarge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":"context_length_exceeded","message":"too big"}}`))
	}))
	defer srv.Close()

	c := NewClient("test-key", srv.URL)
	_, _, err := c.Complete(context.Background(), "gpt-3.5-turbo", nil)
	assert.ErrorIs(t, err, completion.ErrRequestTooLarge)
}

func TestStreamCompletion_CumulativeSnapshots(t *testing.T) {
	requireEncoding(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"role\":\"assistant\"}}]}\n\n")
		_, _ = io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Drink \"}}]}\n\n")
		_, _ = io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"water.\"}}]}\n\n")
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	c := NewClient("test-key", srv.URL)
	stream, err := c.StreamCompletion(context.Background(), "gpt-3.5-turbo",
		[]completion.Message{{Role: completion.RoleUser, Content: "headache"}})
	require.NoError(t, err)
	defer func() { _ = stream.Close() }()

	ctx := context.Background()

	ev, err := stream.Recv(ctx)
	require.NoError(t, err)
	assert.False(t, ev.Finished)
	assert.Equal(t, "Drink ", ev.Text)
	assert.Greater(t, ev.Usage.InputTokens, 0)

	ev, err = stream.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Drink water.", ev.Text)

	ev, err = stream.Recv(ctx)
	require.NoError(t, err)
	assert.True(t, ev.Finished)
	assert.Equal(t, "Drink water.", ev.Text)
	assert.Greater(t, ev.Usage.OutputTokens, 0)

	_, err = stream.Recv(ctx)
	assert.ErrorIs(t, err, io.EOF)
}

func TestStreamCompletion_EOFWithoutDoneFinishes(t *testing.T) {
	requireEncoding(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"partial\"}}]}\n\n")
	}))
	defer srv.Close()

	c := NewClient("test-key", srv.URL)
	stream, err := c.StreamCompletion(context.Background(), "gpt-3.5-turbo",
		[]completion.Message{{Role: completion.RoleUser, Content: "hi"}})
	require.NoError(t, err)
	defer func() { _ = stream.Close() }()

	ev, err := stream.Recv(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "partial", ev.Text)

	ev, err = stream.Recv(context.Background())
	require.NoError(t, err)
	assert.True(t, ev.Finished)
	assert.Equal(t, "partial", ev.Text)
}

func TestStreamCompletion_TooLargeBeforeFirstEvent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":"context_length_exceeded","message":"too big"}}`))
	}))
	defer srv.Close()

	c := NewClient("test-key", srv.URL)
	_, err := c.StreamCompletion(context.Background(), "gpt-3.5-turbo", nil)
	assert.ErrorIs(t, err, completion.ErrRequestTooLarge)
}

func TestTokenCounter_MessageFraming(t *testing.T) {
	requireEncoding(t)

	counter, err := newTokenCounter("gpt-3.5-turbo")
	require.NoError(t, err)

	// Empty prompt still pays the reply priming.
	assert.Equal(t, tokensReplyPrime, counter.countMessages(nil))

	// One message pays the per-message framing plus role and content tokens.
	n := counter.countMessages([]completion.Message{{Role: "user", Content: "hello"}})
	assert.Greater(t, n, tokensPerMessage+tokensReplyPrime)

	assert.Equal(t, 1, counter.countAnswer(""))
	assert.Greater(t, counter.countAnswer("hello world"), 1)
}

// requireEncoding skips when the tiktoken BPE data is not available, e.g.
// in a sandbox without network access or a cache.
func requireEncoding(t *testing.T) {
	t.Helper()
	if _, err := newTokenCounter("gpt-3.5-turbo"); err != nil {
		t.Skipf("token encoding unavailable: %v", err)
	}
}
