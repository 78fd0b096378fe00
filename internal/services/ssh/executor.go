package ssh

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fgeck/sshsource/internal/models"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
)

// Executor runs one command per call over an established client.
type Executor struct {
	logger zerolog.Logger
}

// NewExecutor creates a new command executor.
func NewExecutor(logger zerolog.Logger) *Executor {
	return &Executor{logger: logger}
}

// Run executes spec.Command on a fresh channel of client and reads stdout to
// completion. A non-zero exit status is reported in the output, not as an
// error. Any returned *ExecError means the session must be discarded.
func (e *Executor) Run(ctx context.Context, client SSHClient, spec models.CommandSpec) (*models.CapturedOutput, error) {
	session, err := client.NewSession()
	if err != nil {
		return nil, &ExecError{
			Kind:    ExecSessionLost,
			Command: spec.Command,
			Err:     fmt.Errorf("failed to create session: %w", err),
		}
	}
	defer func() { _ = session.Close() }()

	e.logger.Debug().
		Str("command", spec.Command).
		Dur("timeout", spec.Timeout).
		Msg("executing command")

	type outputResult struct {
		out []byte
		err error
	}

	resultChan := make(chan outputResult, 1)

	go func() {
		out, err := session.Output(spec.Command)
		resultChan <- outputResult{out, err}
	}()

	var timeout <-chan time.Time
	if spec.Timeout > 0 {
		timer := time.NewTimer(spec.Timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case res := <-resultChan:
		return e.capture(spec, res.out, res.err)
	case <-timeout:
		abort(session)
		return nil, &ExecError{
			Kind:    ExecTimeout,
			Command: spec.Command,
			Err:     fmt.Errorf("no result after %s", spec.Timeout),
		}
	case <-ctx.Done():
		abort(session)
		return nil, &ExecError{Kind: ExecCancelled, Command: spec.Command, Err: ctx.Err()}
	}
}

func (e *Executor) capture(spec models.CommandSpec, out []byte, err error) (*models.CapturedOutput, error) {
	if err == nil {
		status := 0
		return &models.CapturedOutput{Stdout: out, ExitStatus: &status}, nil
	}

	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		status := exitErr.ExitStatus()
		e.logger.Debug().
			Str("command", spec.Command).
			Int("exit_status", status).
			Msg("command exited with non-zero status")
		return &models.CapturedOutput{Stdout: out, ExitStatus: &status}, nil
	}

	var missingErr *ssh.ExitMissingError
	if errors.As(err, &missingErr) {
		return &models.CapturedOutput{Stdout: out}, nil
	}

	return nil, &ExecError{Kind: ExecSessionLost, Command: spec.Command, Err: err}
}

// abort kills the remote command and closes the channel so the reader
// goroutine returns.
func abort(session SSHSession) {
	_ = session.Signal(ssh.SIGKILL)
	_ = session.Close()
}
