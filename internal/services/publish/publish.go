// Package publish pushes source updates to the owning layer.
package publish

import (
	"context"
	"errors"
	"io"

	"github.com/fgeck/sshsource/internal/models"
	"github.com/rs/zerolog"
)

// Publisher receives every update a source produces.
type Publisher interface {
	Publish(ctx context.Context, update models.Update) error
}

// Log writes updates to a zerolog logger.
type Log struct {
	logger zerolog.Logger
}

// NewLog creates a log publisher.
func NewLog(logger zerolog.Logger) *Log {
	return &Log{logger: logger}
}

// Publish logs the update.
func (l *Log) Publish(_ context.Context, update models.Update) error {
	event := l.logger.Info().
		Str("id", update.ID).
		Str("source", update.Source).
		Str("kind", string(update.Kind))

	if update.Action != "" {
		event = event.Str("action", update.Action)
	}
	if update.HasValue {
		event = event.Str("value", update.Value)
	}
	if update.HasState {
		event = event.Bool("on", update.On)
	}
	if update.Error != "" {
		event = event.Str("error", update.Error)
	}

	event.Msg("update published")
	return nil
}

// Multi fans an update out to several publishers. One failing publisher
// does not stop the others.
type Multi []Publisher

// Publish sends update to every publisher and joins their errors.
func (m Multi) Publish(ctx context.Context, update models.Update) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, update); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every publisher that holds resources.
func (m Multi) Close() error {
	var errs []error
	for _, p := range m {
		if c, ok := p.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Discard drops every update.
type Discard struct{}

// Publish does nothing.
func (Discard) Publish(context.Context, models.Update) error { return nil }
