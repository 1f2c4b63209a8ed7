// Package telegram implements domain.Sender against the Telegram Bot API.
// The inbound webhook lives in package bot.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"digestbot/internal/domain"
	"digestbot/internal/infra/metrics"
)

const sendTimeout = 20 * time.Second

// Sender posts one already-formatted message per call to sendMessage and
// classifies the response per spec §4.5.
type Sender struct {
	client  *http.Client
	baseURL string // e.g. https://api.telegram.org/bot<token>
}

// NewSender builds a Sender for the given bot token.
func NewSender(token string) *Sender {
	return &Sender{
		client:  &http.Client{Timeout: sendTimeout},
		baseURL: fmt.Sprintf("https://api.telegram.org/bot%s", token),
	}
}

type sendMessageRequest struct {
	ChatID    int64  `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

type sendMessageResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	Parameters  *struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

// Send implements domain.Sender.
func (s *Sender) Send(ctx context.Context, chatID int64, text string) (domain.SendResult, error) {
	body, err := json.Marshal(sendMessageRequest{ChatID: chatID, Text: text, ParseMode: "extended-markdown"})
	if err != nil {
		return domain.SendResult{}, fmt.Errorf("marshal sendMessage body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/sendMessage", bytes.NewReader(body))
	if err != nil {
		return domain.SendResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := s.client.Do(req)
	metrics.ObserveNetworkRequest("telegram", "send_message", "sendMessage", start, err)
	if err != nil {
		return domain.SendResult{Outcome: domain.OutcomeTransient, Description: err.Error()}, nil
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	var parsed sendMessageResponse
	_ = json.Unmarshal(raw, &parsed)

	return classify(resp.StatusCode, parsed), nil
}

func classify(status int, resp sendMessageResponse) domain.SendResult {
	if status >= 200 && status < 300 && resp.OK {
		return domain.SendResult{Outcome: domain.OutcomeOK}
	}

	desc := strings.ToLower(resp.Description)

	if status == http.StatusTooManyRequests {
		retryAfter := 1
		if resp.Parameters != nil && resp.Parameters.RetryAfter > 0 {
			retryAfter = resp.Parameters.RetryAfter
		}
		return domain.SendResult{Outcome: domain.OutcomeRateLimited, RetryAfterSecs: retryAfter, Description: resp.Description}
	}

	if status == http.StatusForbidden || status == http.StatusBadRequest {
		for _, marker := range []string{
			"bot was blocked by the user",
			"user is deactivated",
			"chat not found",
			"bot was kicked",
		} {
			if strings.Contains(desc, marker) {
				return domain.SendResult{Outcome: domain.OutcomeRecipientGone, Description: resp.Description}
			}
		}
	}

	if status == http.StatusBadRequest && strings.Contains(desc, "can't parse entities") {
		return domain.SendResult{Outcome: domain.OutcomeMarkupError, Description: resp.Description}
	}

	return domain.SendResult{Outcome: domain.OutcomeTransient, Description: resp.Description}
}
