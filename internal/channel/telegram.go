package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const telegramAPIBase = "https://api.telegram.org"

// Telegram talks to the Bot API directly: sendMessage for outbound and
// getUpdates long polling for inbound. No webhook, no public IP.
type Telegram struct {
	Token   string
	BaseURL string

	HTTPClient *http.Client

	log    *slog.Logger
	offset int64
}

func NewTelegram(token string) *Telegram {
	return &Telegram{
		Token: strings.TrimSpace(token),
		HTTPClient: &http.Client{
			Timeout: 65 * time.Second,
		},
		log: slog.Default().With("component", "telegram"),
	}
}

func (t *Telegram) Name() string { return "telegram" }

func (t *Telegram) apiURL(method string) string {
	base := t.BaseURL
	if base == "" {
		base = telegramAPIBase
	}
	return fmt.Sprintf("%s/bot%s/%s", strings.TrimRight(base, "/"), t.Token, method)
}

type telegramResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	Description string          `json:"description"`
}

type telegramUpdate struct {
	UpdateID int64 `json:"update_id"`
	Message  *struct {
		MessageID int64 `json:"message_id"`
		From      *struct {
			ID       int64  `json:"id"`
			Username string `json:"username"`
		} `json:"from"`
		Chat struct {
			ID int64 `json:"id"`
		} `json:"chat"`
		Text string `json:"text"`
	} `json:"message"`
}

func (t *Telegram) call(ctx context.Context, method string, payload any, result any) error {
	if t.Token == "" {
		return errors.New("telegram bot token is not configured")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", method, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.apiURL(method), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("telegram %s failed: %w", method, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s response: %w", method, err)
	}
	var wrapper telegramResponse
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	if !wrapper.OK {
		return fmt.Errorf("telegram %s: %s", method, wrapper.Description)
	}
	if result != nil {
		if err := json.Unmarshal(wrapper.Result, result); err != nil {
			return fmt.Errorf("decode %s result: %w", method, err)
		}
	}
	return nil
}

func (t *Telegram) Send(ctx context.Context, chatID, text string) error {
	if strings.TrimSpace(chatID) == "" {
		return errors.New("chat id is required")
	}
	return t.call(ctx, "sendMessage", map[string]any{
		"chat_id": chatID,
		"text":    text,
	}, nil)
}

// Run long-polls getUpdates until ctx is cancelled. Transient API errors
// back off briefly instead of tearing the loop down.
func (t *Telegram) Run(ctx context.Context, inbox chan<- InboundMessage) error {
	if t.Token == "" {
		return errors.New("telegram bot token is not configured")
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		var updates []telegramUpdate
		err := t.call(ctx, "getUpdates", map[string]any{
			"offset":  t.offset,
			"timeout": 50,
		}, &updates)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			t.log.Warn("getUpdates failed", "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(5 * time.Second):
			}
			continue
		}

		for _, u := range updates {
			if u.UpdateID >= t.offset {
				t.offset = u.UpdateID + 1
			}
			if u.Message == nil || strings.TrimSpace(u.Message.Text) == "" {
				continue
			}
			msg := InboundMessage{
				Channel: t.Name(),
				ChatID:  strconv.FormatInt(u.Message.Chat.ID, 10),
				Text:    u.Message.Text,
			}
			if u.Message.From != nil {
				msg.Sender = u.Message.From.Username
			}
			select {
			case inbox <- msg:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}
