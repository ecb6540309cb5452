// Package openai is the chat-completion backend client.
//
// DESIGN: Two request shapes against /v1/chat/completions:
//   - Complete():         blocking request, answer + authoritative usage
//   - StreamCompletion(): SSE stream of content deltas, republished as
//     cumulative-answer events with tiktoken-estimated usage (the backend
//     only reports usage on non-streaming responses)
//
// A 400 response for an oversized prompt maps to completion.ErrRequestTooLarge
// so the history trimmer can react; everything else surfaces as-is.
package openai

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/mayahealth/maya-bot/internal/completion"
)

const defaultBaseURL = "https://api.openai.com"

// Completion sampling options, carried over unchanged between requests.
const (
	optTemperature      = 0.7
	optMaxTokens        = 1000
	optTopP             = 1
	optFrequencyPenalty = 0
	optPresencePenalty  = 0
)

// Client talks to an OpenAI-compatible chat-completion API.
type Client struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient builds a client. baseURL may be empty for the public API.
func NewClient(apiKey, baseURL string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Minute},
	}
}

// buildBody assembles the chat-completion request JSON.
func buildBody(model string, messages []completion.Message, stream bool) ([]byte, error) {
	body := []byte(`{}`)
	var err error
	set := func(path string, value any) {
		if err != nil {
			return
		}
		body, err = sjson.SetBytes(body, path, value)
	}

	set("model", model)
	for i, m := range messages {
		set(fmt.Sprintf("messages.%d.role", i), m.Role)
		set(fmt.Sprintf("messages.%d.content", i), m.Content)
	}
	set("temperature", optTemperature)
	set("max_tokens", optMaxTokens)
	set("top_p", optTopP)
	set("frequency_penalty", optFrequencyPenalty)
	set("presence_penalty", optPresencePenalty)
	if stream {
		set("stream", true)
	}
	if err != nil {
		return nil, fmt.Errorf("openai: build request body: %w", err)
	}
	return body, nil
}

func (c *Client) newRequest(ctx context.Context, body []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/chat/completions", strings.NewReader(string(body)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	return req, nil
}

// checkError maps a non-200 response to an error, distinguishing the
// oversized-prompt rejection the trimmer recovers from.
func checkError(status int, body []byte) error {
	msg := gjson.GetBytes(body, "error.message").String()
	code := gjson.GetBytes(body, "error.code").String()
	if status == http.StatusBadRequest &&
		(code == "context_length_exceeded" || strings.Contains(msg, "maximum context length")) {
		return fmt.Errorf("%w: %s", completion.ErrRequestTooLarge, msg)
	}
	if msg == "" {
		msg = string(body)
	}
	return fmt.Errorf("openai: api error (status %d): %s", status, msg)
}

// Complete performs a non-streaming completion and returns the answer with
// the backend's reported usage.
func (c *Client) Complete(ctx context.Context, model string, messages []completion.Message) (string, completion.Usage, error) {
	body, err := buildBody(model, messages, false)
	if err != nil {
		return "", completion.Usage{}, err
	}
	req, err := c.newRequest(ctx, body)
	if err != nil {
		return "", completion.Usage{}, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", completion.Usage{}, fmt.Errorf("openai: request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", completion.Usage{}, fmt.Errorf("openai: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", completion.Usage{}, checkError(resp.StatusCode, respBody)
	}

	answer := strings.TrimSpace(gjson.GetBytes(respBody, "choices.0.message.content").String())
	used := completion.Usage{
		InputTokens:  int(gjson.GetBytes(respBody, "usage.prompt_tokens").Int()),
		OutputTokens: int(gjson.GetBytes(respBody, "usage.completion_tokens").Int()),
	}
	return answer, used, nil
}

// StreamCompletion opens a streaming completion. An oversized prompt is
// reported here, before any event is produced, so the trimmer can retry with
// a shorter history without consuming the stream.
func (c *Client) StreamCompletion(ctx context.Context, model string, messages []completion.Message) (completion.Stream, error) {
	body, err := buildBody(model, messages, true)
	if err != nil {
		return nil, err
	}
	req, err := c.newRequest(ctx, body)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openai: request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer func() { _ = resp.Body.Close() }()
		respBody, _ := io.ReadAll(resp.Body)
		return nil, checkError(resp.StatusCode, respBody)
	}

	counter, err := newTokenCounter(model)
	if err != nil {
		_ = resp.Body.Close()
		return nil, err
	}

	return &sseStream{
		body:        resp.Body,
		scanner:     bufio.NewScanner(resp.Body),
		counter:     counter,
		inputTokens: counter.countMessages(messages),
	}, nil
}

// sseStream converts the SSE delta stream into cumulative-answer events.
type sseStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	counter *tokenCounter

	answer      string
	inputTokens int
	drained     bool
}

func (s *sseStream) usage() completion.Usage {
	return completion.Usage{
		InputTokens:  s.inputTokens,
		OutputTokens: s.counter.countAnswer(s.answer),
	}
}

// Recv returns the next cumulative snapshot. The terminating [DONE] marker
// produces the finished event; afterwards Recv returns io.EOF.
func (s *sseStream) Recv(ctx context.Context) (completion.Event, error) {
	if err := ctx.Err(); err != nil {
		return completion.Event{}, err
	}
	if s.drained {
		return completion.Event{}, io.EOF
	}

	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			s.drained = true
			return completion.Event{Finished: true, Text: strings.TrimSpace(s.answer), Usage: s.usage()}, nil
		}
		delta := gjson.Get(data, "choices.0.delta.content")
		if !delta.Exists() {
			continue
		}
		s.answer += delta.String()
		return completion.Event{Text: s.answer, Usage: s.usage()}, nil
	}

	if err := s.scanner.Err(); err != nil {
		// Reads fail with the context's error once the request is cancelled.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return completion.Event{}, ctxErr
		}
		return completion.Event{}, fmt.Errorf("openai: read stream: %w", err)
	}

	// Stream closed without [DONE]; treat what we have as the final answer.
	s.drained = true
	return completion.Event{Finished: true, Text: strings.TrimSpace(s.answer), Usage: s.usage()}, nil
}

func (s *sseStream) Close() error {
	return s.body.Close()
}
