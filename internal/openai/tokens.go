package openai

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"

	"github.com/mayahealth/maya-bot/internal/completion"
)

// Per-message token framing for the chat completion format: every message
// follows <im_start>{role/name}\n{content}<im_end>\n, and the reply is
// primed with <im_start>assistant.
const (
	tokensPerMessage = 4
	tokensReplyPrime = 2
)

// tokenCounter estimates token usage while a response is still streaming,
// when the backend has not reported authoritative counts yet.
type tokenCounter struct {
	enc *tiktoken.Tiktoken
}

func newTokenCounter(model string) (*tokenCounter, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		// Unknown model names fall back to the chat-completion encoding.
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("openai: load token encoding: %w", err)
		}
	}
	return &tokenCounter{enc: enc}, nil
}

// countMessages estimates the input token count for a prompt.
func (c *tokenCounter) countMessages(messages []completion.Message) int {
	n := 0
	for _, m := range messages {
		n += tokensPerMessage
		n += len(c.enc.Encode(m.Role, nil, nil))
		n += len(c.enc.Encode(m.Content, nil, nil))
	}
	n += tokensReplyPrime
	return n
}

// countAnswer estimates the output token count for a partial answer.
func (c *tokenCounter) countAnswer(answer string) int {
	return 1 + len(c.enc.Encode(answer, nil, nil))
}
