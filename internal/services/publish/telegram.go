package publish

import (
	"context"
	"fmt"

	"github.com/fgeck/sshsource/internal/models"
	"github.com/fgeck/sshsource/internal/services/telegram"
)

// Telegram notifies a chat about switch actuations and actuation failures.
// Sensor samples and state refreshes are not sent.
type Telegram struct {
	svc telegram.Service
	cfg models.TelegramConfig
}

// NewTelegram creates a Telegram publisher.
func NewTelegram(svc telegram.Service, cfg models.TelegramConfig) *Telegram {
	return &Telegram{svc: svc, cfg: cfg}
}

// Publish sends a message for actuation updates only.
func (t *Telegram) Publish(ctx context.Context, update models.Update) error {
	switch update.Kind {
	case models.UpdateTurnOn, models.UpdateTurnOff, models.UpdateFailure:
	default:
		return nil
	}

	msg := models.TelegramMessage{
		Source:       update.Source,
		Action:       update.Action,
		On:           update.On,
		Value:        update.Value,
		Time:         update.Time,
		ErrorMessage: update.Error,
	}

	result, err := t.svc.SendNotification(ctx, t.cfg, msg)
	if err != nil {
		return fmt.Errorf("telegram notification failed: %w", err)
	}
	if result.Error != nil {
		return fmt.Errorf("telegram notification failed: %w", result.Error)
	}

	return nil
}
