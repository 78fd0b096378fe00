package source

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/fgeck/sshsource/internal/models"
	"github.com/fgeck/sshsource/internal/services/worker"
	"github.com/rs/zerolog"
)

// ActuationError reports a failed TurnOn or TurnOff.
type ActuationError struct {
	Action string
	Err    error
}

func (e *ActuationError) Error() string {
	return fmt.Sprintf("turn %s failed: %v", e.Action, e.Err)
}

func (e *ActuationError) Unwrap() error { return e.Err }

// SwitchCommands are the commands a switch runs. State is optional.
type SwitchCommands struct {
	On    models.CommandSpec
	Off   models.CommandSpec
	State *models.CommandSpec
}

// Switch runs on/off commands on request and optionally polls a state
// command. On only changes through TurnOn and TurnOff; the state command
// output is published as Value but never interpreted.
type Switch struct {
	c        *core
	commands SwitchCommands

	mu    sync.RWMutex
	on    bool
	value *string
}

// NewSwitch creates a switch. It starts in the on state.
func NewSwitch(logger zerolog.Logger, name string, commands SwitchCommands, deps Deps) (*Switch, error) {
	if commands.On.Command == "" || commands.Off.Command == "" {
		return nil, ErrMalformedCommand
	}
	if commands.State != nil && commands.State.Command == "" {
		return nil, ErrMalformedCommand
	}

	c, err := newCore(logger, name, deps)
	if err != nil {
		return nil, err
	}

	return &Switch{c: c, commands: commands, on: true}, nil
}

// Name returns the switch name.
func (s *Switch) Name() string {
	return s.c.name
}

// HasStateCommand reports whether the switch refreshes its value periodically.
func (s *Switch) HasStateCommand() bool {
	return s.commands.State != nil
}

// TurnOn runs the activation command and waits for it. Actuations are queued
// behind any running poll, never dropped.
func (s *Switch) TurnOn(ctx context.Context) error {
	return s.actuate(ctx, "on", s.commands.On, true)
}

// TurnOff runs the deactivation command and waits for it.
func (s *Switch) TurnOff(ctx context.Context) error {
	return s.actuate(ctx, "off", s.commands.Off, false)
}

// Tick schedules a state refresh unless one is already queued or running,
// or no state command is configured.
func (s *Switch) Tick() bool {
	if s.commands.State == nil {
		return false
	}

	if _, err := s.c.worker.TrySubmit(s.refresh); err != nil {
		if errors.Is(err, worker.ErrBusy) {
			s.c.logger.Debug().Msg("switch busy, skipping state refresh")
		}
		return false
	}
	return true
}

// Refresh runs the state command and waits for it.
func (s *Switch) Refresh(ctx context.Context) error {
	if s.commands.State == nil {
		return nil
	}

	done, err := s.c.worker.TrySubmit(s.refresh)
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

// State returns the logical on/off state and the last state command value.
func (s *Switch) State() models.ActuationState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state := models.ActuationState{On: s.on}
	if s.value != nil {
		v := *s.value
		state.Value = &v
	}
	return state
}

// Close stops the switch and releases the session.
func (s *Switch) Close() error {
	return s.c.close()
}

func (s *Switch) actuate(ctx context.Context, action string, spec models.CommandSpec, on bool) error {
	done, err := s.c.worker.Submit(ctx, func(workerCtx context.Context) error {
		// A caller that gave up while queued must not actuate late.
		if err := ctx.Err(); err != nil {
			return err
		}

		jobCtx, cancel := context.WithCancel(workerCtx)
		defer cancel()
		stop := context.AfterFunc(ctx, cancel)
		defer stop()

		return s.runActuation(jobCtx, action, spec, on)
	})
	if err != nil {
		return &ActuationError{Action: action, Err: err}
	}

	select {
	case err := <-done:
		if err != nil {
			return &ActuationError{Action: action, Err: err}
		}
		return nil
	case <-ctx.Done():
		return &ActuationError{Action: action, Err: ctx.Err()}
	}
}

func (s *Switch) runActuation(ctx context.Context, action string, spec models.CommandSpec, on bool) error {
	logger := s.c.logger.With().Str("action", action).Logger()

	out, err := s.c.execute(ctx, spec)
	if err != nil {
		logger.Error().Err(err).Msg("actuation failed")

		current := s.State()
		s.c.publish(ctx, models.Update{
			Kind:     models.UpdateFailure,
			Action:   action,
			On:       current.On,
			HasState: true,
			Error:    err.Error(),
		})
		return err
	}

	if out.ExitStatus != nil && *out.ExitStatus != 0 {
		logger.Warn().Int("exit_status", *out.ExitStatus).Msg("actuation command exited with non-zero status")
	}

	s.mu.Lock()
	s.on = on
	s.mu.Unlock()

	logger.Info().Bool("on", on).Msg("switch actuated")

	kind := models.UpdateTurnOff
	if on {
		kind = models.UpdateTurnOn
	}

	update := models.Update{Kind: kind, Action: action, On: on, HasState: true}
	if current := s.State(); current.Value != nil {
		update.Value = *current.Value
		update.HasValue = true
	}
	s.c.publish(ctx, update)

	return nil
}

func (s *Switch) refresh(ctx context.Context) error {
	out, err := s.c.execute(ctx, *s.commands.State)
	if err != nil {
		s.c.logPollError(err, "state refresh failed")
		return err
	}

	value, err := s.c.transform.Apply(out.Text())
	if err != nil {
		s.c.logPollError(err, "state refresh failed")
		return err
	}

	s.mu.Lock()
	s.value = &value
	on := s.on
	s.mu.Unlock()

	s.c.publish(ctx, models.Update{
		Kind:     models.UpdateRefresh,
		Value:    value,
		HasValue: true,
		On:       on,
		HasState: true,
	})

	return nil
}
