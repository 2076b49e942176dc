// Package telegram talks to the Telegram Bot API: it delivers reports,
// polls for commands and notifies the operator.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/couchcryptid/corona-report-bot/internal/dispatch"
	"github.com/couchcryptid/corona-report-bot/internal/domain"
)

// maxMessageRunes is Telegram's limit for one text message.
const maxMessageRunes = 4096

// APIError is an unsuccessful Bot API response.
type APIError struct {
	Method      string
	StatusCode  int
	Description string
	RetryAfter  time.Duration
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("telegram %s: %d %s", e.Method, e.StatusCode, e.Description)
	if e.RetryAfter > 0 {
		msg += fmt.Sprintf(" (retry after %s)", e.RetryAfter)
	}
	return msg
}

// Client is a minimal Bot API client.
// It implements dispatch.Sender.
type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a client for the bot identified by token. baseURL is
// normally https://api.telegram.org.
func NewClient(token, baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		token:   token,
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

type sendMessageRequest struct {
	ChatID             int64  `json:"chat_id"`
	Text               string `json:"text"`
	ParseMode          string `json:"parse_mode,omitempty"`
	LinkPreviewOptions struct {
		IsDisabled bool `json:"is_disabled"`
	} `json:"link_preview_options"`
}

// Send delivers an HTML message, split on line boundaries when it exceeds
// Telegram's length limit. Chats that blocked the bot or no longer exist
// yield an error wrapping dispatch.ErrUnreachable.
func (c *Client) Send(ctx context.Context, to domain.SubscriberID, text string) error {
	for _, chunk := range splitMessage(text) {
		req := sendMessageRequest{ChatID: int64(to), Text: chunk, ParseMode: "HTML"}
		req.LinkPreviewOptions.IsDisabled = true
		if err := c.call(ctx, "sendMessage", req, nil); err != nil {
			return classify(err)
		}
	}
	return nil
}

// Update is the subset of a Bot API update the bot reacts to.
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message"`
}

// Message is an incoming chat message.
type Message struct {
	MessageID int64  `json:"message_id"`
	Chat      Chat   `json:"chat"`
	Text      string `json:"text"`
}

// Chat identifies the conversation a message belongs to.
type Chat struct {
	ID        int64  `json:"id"`
	Type      string `json:"type"`
	Title     string `json:"title"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// GreetingName is how the bot addresses the chat.
func (c Chat) GreetingName() string {
	switch {
	case c.FirstName != "":
		return c.FirstName
	case c.LastName != "":
		return c.LastName
	case c.Title != "":
		return c.Title
	}
	return "du"
}

type getUpdatesRequest struct {
	Offset         int64    `json:"offset,omitempty"`
	Timeout        int      `json:"timeout"`
	AllowedUpdates []string `json:"allowed_updates"`
}

// GetUpdates long-polls for updates after offset. wait must stay below the
// client's HTTP timeout.
func (c *Client) GetUpdates(ctx context.Context, offset int64, wait time.Duration) ([]Update, error) {
	var updates []Update
	req := getUpdatesRequest{Offset: offset, Timeout: int(wait.Seconds()), AllowedUpdates: []string{"message"}}
	if err := c.call(ctx, "getUpdates", req, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
	Parameters  struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

func (c *Client) call(ctx context.Context, method string, args, result any) error {
	body, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode %s: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/bot"+c.token+"/"+method, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// The URL embeds the token; never surface it.
		return fmt.Errorf("telegram %s: %w", method, scrub(err, c.token))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("read %s response: %w", method, err)
	}

	var ar apiResponse
	if err := json.Unmarshal(data, &ar); err != nil {
		return &APIError{Method: method, StatusCode: resp.StatusCode, Description: http.StatusText(resp.StatusCode)}
	}
	if !ar.OK {
		code := ar.ErrorCode
		if code == 0 {
			code = resp.StatusCode
		}
		return &APIError{
			Method:      method,
			StatusCode:  code,
			Description: ar.Description,
			RetryAfter:  time.Duration(ar.Parameters.RetryAfter) * time.Second,
		}
	}
	if result != nil {
		if err := json.Unmarshal(ar.Result, result); err != nil {
			return fmt.Errorf("decode %s result: %w", method, err)
		}
	}
	return nil
}

// classify marks errors that will never go away for this chat.
func classify(err error) error {
	apiErr, ok := err.(*APIError)
	if !ok {
		return err
	}
	desc := strings.ToLower(apiErr.Description)
	if apiErr.StatusCode == http.StatusForbidden ||
		(apiErr.StatusCode == http.StatusBadRequest && (strings.Contains(desc, "chat not found") || strings.Contains(desc, "user is deactivated"))) {
		return fmt.Errorf("%w: %w", dispatch.ErrUnreachable, apiErr)
	}
	return apiErr
}

func scrub(err error, token string) error {
	if token == "" {
		return err
	}
	msg := strings.ReplaceAll(err.Error(), token, "<token>")
	if msg == err.Error() {
		return err
	}
	return fmt.Errorf("%s", msg)
}

// splitMessage cuts text into chunks of at most maxMessageRunes, preferring
// newlines, then other whitespace.
func splitMessage(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var chunks []string
	for text != "" {
		if utf8.RuneCountInString(text) <= maxMessageRunes {
			chunks = append(chunks, text)
			break
		}

		lastNewline, lastSpace, byteCap, runes := -1, -1, len(text), 0
		for i, r := range text {
			if runes == maxMessageRunes {
				byteCap = i
				break
			}
			runes++
			if r == '\n' {
				lastNewline = i
			} else if unicode.IsSpace(r) {
				lastSpace = i
			}
		}

		splitAt := byteCap
		switch {
		case lastNewline > 0:
			splitAt = lastNewline
		case lastSpace > 0:
			splitAt = lastSpace
		}

		if chunk := strings.TrimSpace(text[:splitAt]); chunk != "" {
			chunks = append(chunks, chunk)
		}
		text = strings.TrimSpace(text[splitAt:])
	}
	return chunks
}

func chatLabel(c Chat) string {
	parts := []string{strconv.FormatInt(c.ID, 10)}
	if c.Username != "" {
		parts = append(parts, "@"+c.Username)
	}
	if name := strings.TrimSpace(c.FirstName + " " + c.LastName); name != "" {
		parts = append(parts, name)
	}
	if c.Title != "" {
		parts = append(parts, c.Title)
	}
	return strings.Join(parts, " ")
}
