// Package telegram provides a Telegram Bot API client for taskbridge.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	telegramAPIURL  = "https://api.telegram.org/bot"
	telegramFileURL = "https://api.telegram.org/file/bot"
)

// ErrConflict indicates another bot instance is already polling getUpdates.
var ErrConflict = errors.New("another bot instance is already running")

// Client is a Telegram Bot API client
type Client struct {
	apiURL     string
	fileURL    string
	botToken   string
	httpClient *http.Client
}

// NewClient creates a new Telegram client
func NewClient(botToken string) *Client {
	return &Client{
		apiURL:   telegramAPIURL,
		fileURL:  telegramFileURL,
		botToken: botToken,
		httpClient: &http.Client{
			Timeout: 45 * time.Second, // Must exceed the long-poll timeout
		},
	}
}

// NewClientWithBaseURL creates a client against a custom API base URL (for testing)
func NewClientWithBaseURL(apiURL, fileURL, botToken string) *Client {
	c := NewClient(botToken)
	c.apiURL = apiURL
	c.fileURL = fileURL
	return c
}

// apiEnvelope is the common Telegram Bot API response wrapper
type apiEnvelope struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result,omitempty"`
	Description string          `json:"description,omitempty"`
	ErrorCode   int             `json:"error_code,omitempty"`
}

// call performs a Bot API method call and unmarshals the result into out.
func (c *Client) call(ctx context.Context, method string, body interface{}, out interface{}) error {
	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	url := c.apiURL + c.botToken + "/" + method
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to call %s: %w", method, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	var envelope apiEnvelope
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if !envelope.OK {
		if envelope.ErrorCode == http.StatusConflict {
			return fmt.Errorf("%w: %s", ErrConflict, envelope.Description)
		}
		return fmt.Errorf("telegram API error: %s (code: %d)", envelope.Description, envelope.ErrorCode)
	}

	if out != nil && len(envelope.Result) > 0 {
		if err := json.Unmarshal(envelope.Result, out); err != nil {
			return fmt.Errorf("failed to parse %s result: %w", method, err)
		}
	}

	return nil
}

// GetUpdates retrieves updates using long polling
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout int) ([]*Update, error) {
	req := map[string]interface{}{
		"offset":  offset,
		"timeout": timeout,
	}

	var updates []*Update
	if err := c.call(ctx, "getUpdates", req, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

// SendMessage sends a message to a chat
func (c *Client) SendMessage(ctx context.Context, chatID int64, text, parseMode string) (*Message, error) {
	req := SendMessageRequest{
		ChatID:    chatID,
		Text:      text,
		ParseMode: parseMode,
	}

	var msg Message
	if err := c.call(ctx, "sendMessage", req, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// SendMessageWithKeyboard sends a message with an inline keyboard
func (c *Client) SendMessageWithKeyboard(ctx context.Context, chatID int64, text, parseMode string, keyboard [][]InlineKeyboardButton) (*Message, error) {
	req := SendMessageRequest{
		ChatID:      chatID,
		Text:        text,
		ParseMode:   parseMode,
		ReplyMarkup: &InlineKeyboardMarkup{InlineKeyboard: keyboard},
	}

	var msg Message
	if err := c.call(ctx, "sendMessage", req, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// SendMessageWithReplyKeyboard sends a message with a one-time reply keyboard
func (c *Client) SendMessageWithReplyKeyboard(ctx context.Context, chatID int64, text string, keyboard [][]string) (*Message, error) {
	rows := make([][]KeyboardButton, 0, len(keyboard))
	for _, row := range keyboard {
		buttons := make([]KeyboardButton, 0, len(row))
		for _, label := range row {
			buttons = append(buttons, KeyboardButton{Text: label})
		}
		rows = append(rows, buttons)
	}

	req := SendMessageRequest{
		ChatID: chatID,
		Text:   text,
		ReplyMarkup: &ReplyKeyboardMarkup{
			Keyboard:        rows,
			ResizeKeyboard:  true,
			OneTimeKeyboard: true,
		},
	}

	var msg Message
	if err := c.call(ctx, "sendMessage", req, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// EditMessage edits the text of a previously sent message
func (c *Client) EditMessage(ctx context.Context, chatID, messageID int64, text, parseMode string) error {
	req := map[string]interface{}{
		"chat_id":    chatID,
		"message_id": messageID,
		"text":       text,
	}
	if parseMode != "" {
		req["parse_mode"] = parseMode
	}

	return c.call(ctx, "editMessageText", req, nil)
}

// AnswerCallback answers a callback query to remove the loading state
func (c *Client) AnswerCallback(ctx context.Context, callbackID, text string) error {
	req := map[string]interface{}{
		"callback_query_id": callbackID,
	}
	if text != "" {
		req["text"] = text
	}

	return c.call(ctx, "answerCallbackQuery", req, nil)
}

// SetMyCommands registers the bot command menu
func (c *Client) SetMyCommands(ctx context.Context, commands []BotCommand) error {
	req := map[string]interface{}{
		"commands": commands,
	}
	return c.call(ctx, "setMyCommands", req, nil)
}

// GetFile fetches file metadata for a file ID
func (c *Client) GetFile(ctx context.Context, fileID string) (*File, error) {
	req := map[string]interface{}{
		"file_id": fileID,
	}

	var file File
	if err := c.call(ctx, "getFile", req, &file); err != nil {
		return nil, err
	}
	return &file, nil
}

// DownloadFile downloads file content by the path returned from GetFile
func (c *Client) DownloadFile(ctx context.Context, filePath string) ([]byte, error) {
	url := c.fileURL + c.botToken + "/" + filePath

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to download file: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("file download failed (status %d)", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read file content: %w", err)
	}
	return data, nil
}

// FetchFile resolves a file ID and downloads its content in one step
func (c *Client) FetchFile(ctx context.Context, fileID string) ([]byte, error) {
	file, err := c.GetFile(ctx, fileID)
	if err != nil {
		return nil, fmt.Errorf("getFile failed: %w", err)
	}
	if file.FilePath == "" {
		return nil, fmt.Errorf("file path not available for %s", fileID)
	}
	return c.DownloadFile(ctx, file.FilePath)
}

// CheckSingleton verifies no other bot instance is already polling.
// Returns ErrConflict if another instance is detected.
func (c *Client) CheckSingleton(ctx context.Context) error {
	_, err := c.GetUpdates(ctx, 0, 0)
	return err
}
