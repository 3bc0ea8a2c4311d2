package models

import "time"

// TelegramConfig holds Telegram notification configuration.
type TelegramConfig struct {
	BotToken string
	ChatID   string
}

// TelegramMessage holds the data for a run notification.
type TelegramMessage struct {
	Success   bool
	RunID     string
	StartTime time.Time
	Duration  time.Duration
	Devices   []DeviceSummary
}

// DeviceSummary is one line of a run report.
type DeviceSummary struct {
	Name   string
	Status DeviceStatus
	Error  string
}

// TelegramResult holds the result of a Telegram notification.
type TelegramResult struct {
	MessageSent bool
	Error       error
}
