package operator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	telegramAPIBase     = "https://api.telegram.org"
	telegramPollTimeout = 25 * time.Second
)

// TelegramInteractor asks questions over a Telegram chat and long-polls
// getUpdates for the answer. Only messages from the configured chat count.
type TelegramInteractor struct {
	BaseURL string
	token   string
	chatID  string
	client  *http.Client

	offset int64
}

func NewTelegramInteractor(token, chatID string) *TelegramInteractor {
	return &TelegramInteractor{
		BaseURL: telegramAPIBase,
		token:   token,
		chatID:  chatID,
		// Client timeout above the long-poll window.
		client: &http.Client{Timeout: telegramPollTimeout + 10*time.Second},
	}
}

type telegramUpdate struct {
	UpdateID int64 `json:"update_id"`
	Message  struct {
		Text string `json:"text"`
		Chat struct {
			ID int64 `json:"id"`
		} `json:"chat"`
	} `json:"message"`
}

type telegramUpdatesResponse struct {
	OK     bool             `json:"ok"`
	Result []telegramUpdate `json:"result"`
}

// Decide sends the question to the chat and polls until the operator
// replies /yes or /no, or ctx expires.
func (t *TelegramInteractor) Decide(ctx context.Context, question string) (bool, error) {
	if err := t.Send(ctx, question+" [/yes | /no]"); err != nil {
		return false, err
	}
	for {
		updates, err := t.fetchUpdates(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			return false, err
		}
		for _, u := range updates {
			if strconv.FormatInt(u.Message.Chat.ID, 10) != t.chatID {
				continue
			}
			switch strings.TrimSpace(u.Message.Text) {
			case "/yes":
				return true, nil
			case "/no":
				return false, nil
			}
		}
	}
}

func (t *TelegramInteractor) fetchUpdates(ctx context.Context) ([]telegramUpdate, error) {
	url := fmt.Sprintf("%s/bot%s/getUpdates?timeout=%d&offset=%d",
		t.BaseURL, t.token, int(telegramPollTimeout.Seconds()), t.offset)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("telegram: create request: %w", err)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telegram: get updates: %w", err)
	}
	defer resp.Body.Close()

	var parsed telegramUpdatesResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("telegram: decode updates: %w", err)
	}
	if !parsed.OK {
		return nil, fmt.Errorf("telegram: getUpdates not ok")
	}
	for _, u := range parsed.Result {
		if u.UpdateID >= t.offset {
			t.offset = u.UpdateID + 1
		}
	}
	return parsed.Result, nil
}

// Send pushes a one-way message to the chat.
func (t *TelegramInteractor) Send(ctx context.Context, message string) error {
	payload := map[string]string{
		"chat_id": t.chatID,
		"text":    message,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("telegram: marshal payload: %w", err)
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", t.BaseURL, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: send message: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("telegram: unexpected status %d: %s", resp.StatusCode, string(raw))
	}
	return nil
}
