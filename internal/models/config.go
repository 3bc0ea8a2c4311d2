// Package models contains the data structures used throughout gowake-homelab.
package models

// Config holds the complete configuration for a wake run.
type Config struct {
	Devices  []DeviceSpec
	Telegram *TelegramConfig // nil if not configured
	History  *HistoryConfig  // nil if not configured
}

// HistoryConfig controls where run history is persisted.
type HistoryConfig struct {
	Path string
}
