package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"metalledger/internal/pricing"
)

// maxListed caps the rejections rendered into one message.
const maxListed = 20

// RejectionNotification summarises the observations a tick rejected.
type RejectionNotification struct {
	RequestID  string
	At         time.Time
	Fetched    int
	Rejections []pricing.Rejection
}

// Notifier delivers rejection summaries.
type Notifier interface {
	Notify(ctx context.Context, notification RejectionNotification) error
}

// TelegramNotifier posts summaries through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier constructs a Telegram notifier.
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify calls sendMessage. Empty summaries are not sent.
func (n *TelegramNotifier) Notify(ctx context.Context, note RejectionNotification) error {
	if len(note.Rejections) == 0 {
		return nil
	}

	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(note),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram unexpected status: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram returned ok=false")
		}
	}

	n.logger.Info().
		Str("request_id", note.RequestID).
		Int("rejected", len(note.Rejections)).
		Msg("rejection alert sent (telegram)")
	return nil
}

func renderMessage(note RejectionNotification) string {
	builder := strings.Builder{}
	builder.WriteString("[MetalLedger] Rejected prices\n")
	builder.WriteString(fmt.Sprintf("Tick: %s UTC\n", note.At.UTC().Format(time.RFC3339)))
	if note.RequestID != "" {
		builder.WriteString(fmt.Sprintf("Request: %s\n", note.RequestID))
	}
	builder.WriteString(fmt.Sprintf("Rejected: %d of %d\n", len(note.Rejections), note.Fetched))

	for i, r := range note.Rejections {
		if i == maxListed {
			builder.WriteString(fmt.Sprintf("... and %d more\n", len(note.Rejections)-maxListed))
			break
		}
		builder.WriteString(fmt.Sprintf("- %s from %s (%s): %s\n",
			r.Observation.Metal, r.Observation.Source, r.Observation.Venue, r.Reason.String()))
	}
	return builder.String()
}

var _ Notifier = (*TelegramNotifier)(nil)
