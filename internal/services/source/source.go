// Package source implements pollable sensors and on/off switches backed by
// commands on a remote host.
package source

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fgeck/sshsource/internal/models"
	"github.com/fgeck/sshsource/internal/services/publish"
	"github.com/fgeck/sshsource/internal/services/ssh"
	"github.com/fgeck/sshsource/internal/services/transform"
	"github.com/fgeck/sshsource/internal/services/worker"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Session is the connection a source runs its commands on.
type Session interface {
	EnsureConnected(ctx context.Context) (ssh.SSHClient, error)
	Close() error
}

// Runner executes a single command over a client.
type Runner interface {
	Run(ctx context.Context, client ssh.SSHClient, spec models.CommandSpec) (*models.CapturedOutput, error)
}

// Deps bundles what every source needs.
type Deps struct {
	Session   Session
	Runner    Runner
	Transform *transform.Transform
	Publisher publish.Publisher
}

// core holds the plumbing shared by sensors and switches. All session work
// runs on the worker goroutine, so at most one command is in flight.
type core struct {
	name      string
	session   Session
	runner    Runner
	transform *transform.Transform
	publisher publish.Publisher
	worker    *worker.Worker
	logger    zerolog.Logger
	now       func() time.Time

	closeOnce sync.Once
	closeErr  error
}

func newCore(logger zerolog.Logger, name string, deps Deps) (*core, error) {
	if deps.Session == nil || deps.Runner == nil {
		return nil, fmt.Errorf("source %q: session and runner are required", name)
	}

	publisher := deps.Publisher
	if publisher == nil {
		publisher = publish.Discard{}
	}

	logger = logger.With().Str("source", name).Logger()

	return &core{
		name:      name,
		session:   deps.Session,
		runner:    deps.Runner,
		transform: deps.Transform,
		publisher: publisher,
		worker:    worker.New(logger),
		logger:    logger,
		now:       time.Now,
	}, nil
}

// execute runs spec on the session and returns the raw output. An exec
// failure tears the session down; the next call performs a fresh handshake.
func (c *core) execute(ctx context.Context, spec models.CommandSpec) (*models.CapturedOutput, error) {
	logger := c.logger.With().
		Str("exec_id", uuid.NewString()).
		Str("command", spec.Command).
		Logger()

	client, err := c.session.EnsureConnected(ctx)
	if err != nil {
		return nil, err
	}

	start := c.now()
	out, err := c.runner.Run(ctx, client, spec)
	if err != nil {
		var execErr *ssh.ExecError
		if errors.As(err, &execErr) {
			logger.Debug().Str("kind", execErr.Kind.String()).Msg("invalidating session")
			if closeErr := c.session.Close(); closeErr != nil {
				logger.Warn().Err(closeErr).Msg("failed to close session")
			}
		}
		return nil, err
	}

	event := logger.Debug().Dur("duration", c.now().Sub(start)).Int("bytes", len(out.Stdout))
	if out.ExitStatus != nil {
		event = event.Int("exit_status", *out.ExitStatus)
	}
	event.Msg("command finished")

	return out, nil
}

func (c *core) publish(ctx context.Context, update models.Update) {
	update.ID = uuid.NewString()
	update.Source = c.name
	update.Time = c.now()

	if err := c.publisher.Publish(ctx, update); err != nil {
		c.logger.Warn().Err(err).Str("kind", string(update.Kind)).Msg("failed to publish update")
	}
}

// close stops the worker, cancelling any in-flight command, then releases
// the session.
func (c *core) close() error {
	c.closeOnce.Do(func() {
		c.worker.Stop()
		if err := c.session.Close(); err != nil {
			c.closeErr = fmt.Errorf("failed to close source %s: %w", c.name, err)
		}
		c.logger.Debug().Msg("source closed")
	})
	return c.closeErr
}

// logPollError logs a failed poll at a level matching how expected it is.
func (c *core) logPollError(err error, msg string) {
	var (
		connErr      *ssh.ConnectError
		keyErr       *ssh.KeyLoadError
		transformErr *transform.TransformError
	)

	switch {
	case errors.Is(err, ssh.ErrReconnectDeferred):
		c.logger.Debug().Err(err).Msg(msg)
	case errors.As(err, &keyErr):
		c.logger.Error().Err(err).Str("key", keyErr.Path).Msg(msg)
	case errors.As(err, &transformErr):
		c.logger.Warn().Err(err).Msg(msg + ", keeping previous value")
	case errors.As(err, &connErr), ssh.IsTimeout(err):
		c.logger.Warn().Err(err).Msg(msg)
	default:
		c.logger.Error().Err(err).Msg(msg)
	}
}
