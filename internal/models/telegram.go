package models

import "time"

// TelegramConfig holds Telegram notification configuration.
type TelegramConfig struct {
	BotToken string `validate:"required"`
	ChatID   string `validate:"required"`
}

// TelegramMessage holds the data for a switch notification.
type TelegramMessage struct {
	Source string
	Action string // "on" or "off"
	On     bool
	Value  string
	Time   time.Time

	// Error info (if the action failed).
	ErrorMessage string
}

// TelegramResult holds the result of a Telegram notification.
type TelegramResult struct {
	MessageSent bool
	Error       error
}
