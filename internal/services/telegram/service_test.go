package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/fgeck/gowake-homelab/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockHTTPClient struct {
	doFunc func(req *http.Request) (*http.Response, error)
}

func (m *mockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	if m.doFunc != nil {
		return m.doFunc(req)
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader("{}")),
	}, nil
}

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func testConfig() models.TelegramConfig {
	return models.TelegramConfig{
		BotToken: "123456:ABC-DEF",
		ChatID:   "-100123456789",
	}
}

func TestSendNotification_Success(t *testing.T) {
	var capturedRequest *http.Request
	var capturedBody sendMessageRequest

	httpClient := &mockHTTPClient{
		doFunc: func(req *http.Request) (*http.Response, error) {
			capturedRequest = req
			body, _ := io.ReadAll(req.Body)
			_ = json.Unmarshal(body, &capturedBody)
			return &http.Response{
				StatusCode: http.StatusOK,
				Body:       io.NopCloser(strings.NewReader("{\"ok\":true}")),
			}, nil
		},
	}

	svc := NewWithClient(testLogger(), httpClient, "https://api.telegram.org")

	msg := models.TelegramMessage{
		Success:   true,
		RunID:     "run-1",
		StartTime: time.Now().Add(-2 * time.Minute),
		Duration:  2 * time.Minute,
		Devices: []models.DeviceSummary{
			{Name: "nas", Status: models.StatusHealthy},
		},
	}

	result, err := svc.SendNotification(context.Background(), testConfig(), msg)

	require.NoError(t, err)
	assert.True(t, result.MessageSent)
	assert.Nil(t, result.Error)

	assert.Equal(t, http.MethodPost, capturedRequest.Method)
	assert.Contains(t, capturedRequest.URL.String(), "/bot123456:ABC-DEF/sendMessage")
	assert.Equal(t, "application/json", capturedRequest.Header.Get("Content-Type"))

	assert.Equal(t, "-100123456789", capturedBody.ChatID)
	assert.Equal(t, "HTML", capturedBody.ParseMode)
	assert.Contains(t, capturedBody.Text, "Homelab Awake")
	assert.Contains(t, capturedBody.Text, "nas: healthy")
}

func TestSendNotification_FailureMessage(t *testing.T) {
	var capturedBody sendMessageRequest

	httpClient := &mockHTTPClient{
		doFunc: func(req *http.Request) (*http.Response, error) {
			body, _ := io.ReadAll(req.Body)
			_ = json.Unmarshal(body, &capturedBody)
			return &http.Response{
				StatusCode: http.StatusOK,
				Body:       io.NopCloser(strings.NewReader("{}")),
			}, nil
		},
	}

	svc := NewWithClient(testLogger(), httpClient, "https://api.telegram.org")

	msg := models.TelegramMessage{
		Success:   false,
		StartTime: time.Now(),
		Duration:  time.Minute,
		Devices: []models.DeviceSummary{
			{Name: "nas", Status: models.StatusFailed, Error: "connection refused"},
			{Name: "app", Status: models.StatusBlocked, Error: "app blocked by nas"},
		},
	}

	result, err := svc.SendNotification(context.Background(), testConfig(), msg)

	require.NoError(t, err)
	assert.True(t, result.MessageSent)

	assert.Contains(t, capturedBody.Text, "Wake Run Failed")
	assert.Contains(t, capturedBody.Text, "nas: failed")
	assert.Contains(t, capturedBody.Text, "connection refused")
	assert.Contains(t, capturedBody.Text, "app blocked by nas")
}

func TestSendNotification_HTTPError(t *testing.T) {
	httpClient := &mockHTTPClient{
		doFunc: func(req *http.Request) (*http.Response, error) {
			return nil, errors.New("network error")
		},
	}

	svc := NewWithClient(testLogger(), httpClient, "https://api.telegram.org")
	result, err := svc.SendNotification(context.Background(), testConfig(), models.TelegramMessage{Success: true})

	require.NoError(t, err)
	assert.False(t, result.MessageSent)
	assert.NotNil(t, result.Error)
	assert.Contains(t, result.Error.Error(), "failed to send request")
}

func TestSendNotification_APIError(t *testing.T) {
	httpClient := &mockHTTPClient{
		doFunc: func(req *http.Request) (*http.Response, error) {
			return &http.Response{
				StatusCode: http.StatusBadRequest,
				Body:       io.NopCloser(strings.NewReader("{\"ok\":false}")),
			}, nil
		},
	}

	svc := NewWithClient(testLogger(), httpClient, "https://api.telegram.org")
	result, err := svc.SendNotification(context.Background(), testConfig(), models.TelegramMessage{Success: true})

	require.NoError(t, err)
	assert.False(t, result.MessageSent)
	assert.NotNil(t, result.Error)
	assert.Contains(t, result.Error.Error(), "status 400")
}

func TestSendNotification_ContextCancelled(t *testing.T) {
	httpClient := &mockHTTPClient{
		doFunc: func(req *http.Request) (*http.Response, error) {
			return nil, context.Canceled
		},
	}

	svc := NewWithClient(testLogger(), httpClient, "https://api.telegram.org")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := svc.SendNotification(ctx, testConfig(), models.TelegramMessage{Success: true})

	require.NoError(t, err)
	assert.False(t, result.MessageSent)
	assert.NotNil(t, result.Error)
}

func TestFormatMessage_Success(t *testing.T) {
	msg := models.TelegramMessage{
		Success:   true,
		RunID:     "0b0e9f5c-8a43-4f55-9d52-3a6b7d7c1e2f",
		StartTime: time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC),
		Duration:  3*time.Minute + 45*time.Second,
		Devices: []models.DeviceSummary{
			{Name: "router", Status: models.StatusHealthy},
			{Name: "nas", Status: models.StatusHealthy},
		},
	}

	result := formatMessage(msg)

	assert.Contains(t, result, "Homelab Awake")
	assert.Contains(t, result, "0b0e9f5c-8a43-4f55-9d52-3a6b7d7c1e2f")
	assert.Contains(t, result, "2024-01-15 10:30:00")
	assert.Contains(t, result, "3m45s")
	assert.Less(t, strings.Index(result, "router"), strings.Index(result, "nas"))
	assert.NotContains(t, result, "<code></code>")
}

func TestFormatMessage_EscapesDetails(t *testing.T) {
	msg := models.TelegramMessage{
		Devices: []models.DeviceSummary{
			{Name: "<nas>", Status: models.StatusFailed, Error: "body does not match \"<ok>\""},
		},
	}

	result := formatMessage(msg)

	assert.Contains(t, result, "Wake Run Failed")
	assert.Contains(t, result, "&lt;nas&gt;")
	assert.Contains(t, result, "&lt;ok&gt;")
	assert.NotContains(t, result, "<nas>")
}

func TestNewMessage(t *testing.T) {
	result := &models.RunResult{
		RunID:    "run-1",
		Duration: time.Minute,
		Statuses: map[string]models.DeviceStatus{
			"router": models.StatusHealthy,
			"nas":    models.StatusFailed,
			"app":    models.StatusBlocked,
		},
		Errors: map[string]error{
			"nas": errors.New("timed out"),
			"app": &models.BlockedError{Device: "app", By: "nas"},
		},
		WakeOrder: []string{"router", "nas"},
	}

	msg := NewMessage(result, []string{"app", "nas", "router"})

	assert.False(t, msg.Success)
	assert.Equal(t, "run-1", msg.RunID)
	require.Len(t, msg.Devices, 3)
	assert.Equal(t, "router", msg.Devices[0].Name)
	assert.Equal(t, "nas", msg.Devices[1].Name)
	assert.Equal(t, "timed out", msg.Devices[1].Error)
	assert.Equal(t, "app", msg.Devices[2].Name)
	assert.Equal(t, models.StatusBlocked, msg.Devices[2].Status)
	assert.Equal(t, "app blocked by nas", msg.Devices[2].Error)
}

func TestEscapeHTML(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"hello", "hello"},
		{"<script>", "&lt;script&gt;"},
		{"a & b", "a &amp; b"},
		{"<>&", "&lt;&gt;&amp;"},
		{"normal text", "normal text"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := escapeHTML(tt.input)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestStatusIcon(t *testing.T) {
	assert.Equal(t, "🟢", statusIcon(models.StatusHealthy))
	assert.Equal(t, "🔴", statusIcon(models.StatusFailed))
	assert.Equal(t, "⛔", statusIcon(models.StatusBlocked))
	assert.Equal(t, "⚪", statusIcon(models.StatusPending))
}
