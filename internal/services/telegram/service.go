// Package telegram provides Telegram notification services.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/fgeck/gowake-homelab/internal/models"
	"github.com/rs/zerolog"
)

// Service defines the interface for Telegram notification operations.
type Service interface {
	SendNotification(ctx context.Context, cfg models.TelegramConfig, msg models.TelegramMessage) (*models.TelegramResult, error)
}

// HTTPClient allows mocking HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Impl implements the Telegram Service interface.
type Impl struct {
	httpClient HTTPClient
	logger     zerolog.Logger
	baseURL    string
}

// New creates a new Telegram service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger:  logger,
		baseURL: "https://api.telegram.org",
	}
}

// NewWithClient creates a new Telegram service with a custom HTTP client (for testing).
func NewWithClient(logger zerolog.Logger, httpClient HTTPClient, baseURL string) *Impl {
	return &Impl{
		httpClient: httpClient,
		logger:     logger,
		baseURL:    baseURL,
	}
}

// sendMessageRequest is the request body for Telegram sendMessage API.
type sendMessageRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

// SendNotification sends a wake run summary via Telegram.
func (s *Impl) SendNotification(ctx context.Context, cfg models.TelegramConfig, msg models.TelegramMessage) (*models.TelegramResult, error) {
	result := &models.TelegramResult{}

	s.logger.Info().
		Str("chat_id", cfg.ChatID).
		Bool("success", msg.Success).
		Msg("sending Telegram notification")

	reqBody := sendMessageRequest{
		ChatID:    cfg.ChatID,
		Text:      formatMessage(msg),
		ParseMode: "HTML",
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		result.Error = fmt.Errorf("failed to marshal request: %w", err)
		return result, nil
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", s.baseURL, cfg.BotToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		result.Error = fmt.Errorf("failed to create request: %w", err)
		return result, nil
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		result.Error = fmt.Errorf("failed to send request: %w", err)
		return result, nil
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		result.Error = fmt.Errorf("telegram API returned status %d", resp.StatusCode)
		return result, nil
	}

	result.MessageSent = true
	s.logger.Info().Msg("Telegram notification sent successfully")

	return result, nil
}

// NewMessage summarizes a run result, listing devices in wake order first and
// the never-woken ones after them in graph order.
func NewMessage(result *models.RunResult, names []string) models.TelegramMessage {
	msg := models.TelegramMessage{
		Success:   result.Success,
		RunID:     result.RunID,
		StartTime: result.StartTime,
		Duration:  result.Duration,
	}

	seen := make(map[string]bool, len(names))
	add := func(name string) {
		if seen[name] {
			return
		}
		seen[name] = true
		summary := models.DeviceSummary{Name: name, Status: result.Statuses[name]}
		if err := result.Errors[name]; err != nil {
			summary.Error = err.Error()
		}
		msg.Devices = append(msg.Devices, summary)
	}

	for _, name := range result.WakeOrder {
		add(name)
	}
	for _, name := range names {
		add(name)
	}

	return msg
}

func formatMessage(msg models.TelegramMessage) string {
	var b bytes.Buffer

	if msg.Success {
		b.WriteString("✅ <b>Homelab Awake</b>\n\n")
	} else {
		b.WriteString("❌ <b>Wake Run Failed</b>\n\n")
	}

	b.WriteString(fmt.Sprintf("🆔 <b>Run:</b> <code>%s</code>\n", escapeHTML(msg.RunID)))
	b.WriteString(fmt.Sprintf("⏰ <b>Started:</b> %s\n", msg.StartTime.Format("2006-01-02 15:04:05")))
	b.WriteString(fmt.Sprintf("⏱ <b>Duration:</b> %s\n", msg.Duration.Round(time.Second)))

	if len(msg.Devices) == 0 {
		return b.String()
	}

	b.WriteString("\n<b>🖥 Devices:</b>\n")
	for _, d := range msg.Devices {
		b.WriteString(fmt.Sprintf("  %s %s: %s\n", statusIcon(d.Status), escapeHTML(d.Name), d.Status))
		if d.Error != "" {
			b.WriteString(fmt.Sprintf("      <code>%s</code>\n", escapeHTML(d.Error)))
		}
	}

	return b.String()
}

func statusIcon(status models.DeviceStatus) string {
	switch status {
	case models.StatusHealthy:
		return "🟢"
	case models.StatusFailed:
		return "🔴"
	case models.StatusBlocked:
		return "⛔"
	default:
		return "⚪"
	}
}

// escapeHTML escapes HTML special characters.
func escapeHTML(s string) string {
	var b bytes.Buffer
	for _, r := range s {
		switch r {
		case '<':
			b.WriteString("&lt;")
		case '>':
			b.WriteString("&gt;")
		case '&':
			b.WriteString("&amp;")
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
