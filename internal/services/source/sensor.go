package source

import (
	"context"
	"errors"
	"sync"

	"github.com/fgeck/sshsource/internal/models"
	"github.com/fgeck/sshsource/internal/services/worker"
	"github.com/rs/zerolog"
)

// ErrBusy is returned by Poll when a previous poll has not finished.
var ErrBusy = worker.ErrBusy

// ErrMalformedCommand is returned at construction for an empty command.
var ErrMalformedCommand = errors.New("command must not be empty")

// Sensor periodically runs one command and publishes its transformed output.
type Sensor struct {
	c    *core
	spec models.CommandSpec

	mu       sync.RWMutex
	value    string
	hasValue bool
}

// NewSensor creates a sensor that runs spec on every poll.
func NewSensor(logger zerolog.Logger, name string, spec models.CommandSpec, deps Deps) (*Sensor, error) {
	if spec.Command == "" {
		return nil, ErrMalformedCommand
	}

	c, err := newCore(logger, name, deps)
	if err != nil {
		return nil, err
	}

	return &Sensor{c: c, spec: spec}, nil
}

// Name returns the sensor name.
func (s *Sensor) Name() string {
	return s.c.name
}

// Tick schedules a poll unless one is already queued or running. It never
// blocks and reports whether the poll was scheduled.
func (s *Sensor) Tick() bool {
	if _, err := s.c.worker.TrySubmit(s.poll); err != nil {
		if errors.Is(err, worker.ErrBusy) {
			s.c.logger.Debug().Msg("previous poll still running, skipping tick")
		}
		return false
	}
	return true
}

// Poll runs one poll and waits for it. It returns ErrBusy if a poll is
// already in progress.
func (s *Sensor) Poll(ctx context.Context) error {
	done, err := s.c.worker.TrySubmit(s.poll)
	if err != nil {
		return err
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Value returns the last published value.
func (s *Sensor) Value() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.value, s.hasValue
}

// Close stops polling and releases the session.
func (s *Sensor) Close() error {
	return s.c.close()
}

func (s *Sensor) poll(ctx context.Context) error {
	out, err := s.c.execute(ctx, s.spec)
	if err != nil {
		s.c.logPollError(err, "poll failed")
		return err
	}

	value, err := s.c.transform.Apply(out.Text())
	if err != nil {
		s.c.logPollError(err, "poll failed")
		return err
	}

	s.mu.Lock()
	s.value = value
	s.hasValue = true
	s.mu.Unlock()

	s.c.publish(ctx, models.Update{
		Kind:     models.UpdateSample,
		Value:    value,
		HasValue: true,
	})

	return nil
}
