// Package telegram is a minimal Bot API client: long polling plus the
// message operations the bot needs (send, in-place edit, typing indicator,
// document upload, command menu, inline keyboards).
//
// DESIGN: Every call is a JSON POST to /bot<token>/<method>. The API wraps
// results in {"ok":bool,...}; failures carry a "description". The one
// failure with meaning for callers is "message is not modified" on edits,
// which maps to ErrMessageNotModified so the streaming relay can ignore it.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const defaultBaseURL = "https://api.telegram.org"

// ErrMessageNotModified is the Bot API rejection of an edit whose content is
// identical to the current message. Expected during streaming; not a failure.
var ErrMessageNotModified = errors.New("telegram: message not modified")

// Client is a Telegram Bot API client.
type Client struct {
	token   string
	baseURL string
	http    *http.Client
}

// NewClient builds a client for the given bot token. baseURL may be empty
// for the public API.
func NewClient(token, baseURL string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		token:   token,
		baseURL: strings.TrimRight(baseURL, "/"),
		// Long polling holds requests open; the timeout only guards against
		// a wedged connection.
		http: &http.Client{Timeout: 2 * time.Minute},
	}
}

// call POSTs a JSON body to a Bot API method and returns the "result" value.
func (c *Client) call(ctx context.Context, method string, body []byte) (gjson.Result, error) {
	url := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return gjson.Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("telegram: %s failed: %w", method, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("telegram: read %s response: %w", method, err)
	}
	return parseResponse(method, respBody)
}

func parseResponse(method string, respBody []byte) (gjson.Result, error) {
	if !gjson.GetBytes(respBody, "ok").Bool() {
		desc := gjson.GetBytes(respBody, "description").String()
		if strings.Contains(desc, "message is not modified") {
			return gjson.Result{}, ErrMessageNotModified
		}
		return gjson.Result{}, fmt.Errorf("telegram: %s rejected: %s", method, desc)
	}
	return gjson.GetBytes(respBody, "result"), nil
}

// GetUpdates long-polls for updates after offset, waiting up to timeout
// seconds server-side before returning an empty batch.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeoutSeconds int) ([]Update, error) {
	body := []byte(`{}`)
	body, _ = sjson.SetBytes(body, "offset", offset)
	body, _ = sjson.SetBytes(body, "timeout", timeoutSeconds)

	result, err := c.call(ctx, "getUpdates", body)
	if err != nil {
		return nil, err
	}
	var updates []Update
	if err := json.Unmarshal([]byte(result.Raw), &updates); err != nil {
		return nil, fmt.Errorf("telegram: decode updates: %w", err)
	}
	return updates, nil
}

// SendOptions are the optional knobs of SendMessage.
type SendOptions struct {
	ParseMode        string
	ReplyToMessageID int64
	ReplyMarkup      *InlineKeyboardMarkup
}

// SendMessage sends a new message and returns it (the caller keeps the
// message id to edit it in place later).
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string, opts *SendOptions) (Message, error) {
	body := []byte(`{}`)
	body, _ = sjson.SetBytes(body, "chat_id", chatID)
	body, _ = sjson.SetBytes(body, "text", text)
	if opts != nil {
		if opts.ParseMode != "" {
			body, _ = sjson.SetBytes(body, "parse_mode", opts.ParseMode)
		}
		if opts.ReplyToMessageID != 0 {
			body, _ = sjson.SetBytes(body, "reply_to_message_id", opts.ReplyToMessageID)
		}
		if opts.ReplyMarkup != nil {
			body, _ = sjson.SetBytes(body, "reply_markup", opts.ReplyMarkup)
		}
	}

	result, err := c.call(ctx, "sendMessage", body)
	if err != nil {
		return Message{}, err
	}
	var msg Message
	if err := json.Unmarshal([]byte(result.Raw), &msg); err != nil {
		return Message{}, fmt.Errorf("telegram: decode sent message: %w", err)
	}
	return msg, nil
}

// EditMessageText replaces the text of an existing message. parseMode may be
// empty for plain text.
func (c *Client) EditMessageText(ctx context.Context, chatID, messageID int64, text, parseMode string) error {
	body := []byte(`{}`)
	body, _ = sjson.SetBytes(body, "chat_id", chatID)
	body, _ = sjson.SetBytes(body, "message_id", messageID)
	body, _ = sjson.SetBytes(body, "text", text)
	if parseMode != "" {
		body, _ = sjson.SetBytes(body, "parse_mode", parseMode)
	}
	_, err := c.call(ctx, "editMessageText", body)
	return err
}

// SendChatAction shows a chat action (e.g. the typing indicator).
func (c *Client) SendChatAction(ctx context.Context, chatID int64, action string) error {
	body := []byte(`{}`)
	body, _ = sjson.SetBytes(body, "chat_id", chatID)
	body, _ = sjson.SetBytes(body, "action", action)
	_, err := c.call(ctx, "sendChatAction", body)
	return err
}

// AnswerCallbackQuery acknowledges an inline keyboard press.
func (c *Client) AnswerCallbackQuery(ctx context.Context, callbackID string) error {
	body := []byte(`{}`)
	body, _ = sjson.SetBytes(body, "callback_query_id", callbackID)
	_, err := c.call(ctx, "answerCallbackQuery", body)
	return err
}

// SetMyCommands publishes the bot's command menu.
func (c *Client) SetMyCommands(ctx context.Context, commands []BotCommand) error {
	body := []byte(`{}`)
	body, _ = sjson.SetBytes(body, "commands", commands)
	_, err := c.call(ctx, "setMyCommands", body)
	return err
}

// SendDocument uploads a file as a document with an optional caption.
func (c *Client) SendDocument(ctx context.Context, chatID int64, filename string, data []byte, caption string) error {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("chat_id", fmt.Sprintf("%d", chatID)); err != nil {
		return err
	}
	if caption != "" {
		if err := w.WriteField("caption", caption); err != nil {
			return err
		}
	}
	part, err := w.CreateFormFile("document", filename)
	if err != nil {
		return err
	}
	if _, err := part.Write(data); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}

	url := fmt.Sprintf("%s/bot%s/sendDocument", c.baseURL, c.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: sendDocument failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("telegram: read sendDocument response: %w", err)
	}
	_, err = parseResponse("sendDocument", respBody)
	return err
}
