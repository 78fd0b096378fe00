package ssh

import (
	"errors"
	"fmt"
)

// ErrCredentialMissing is returned at construction when neither a password
// nor a private key path is configured.
var ErrCredentialMissing = errors.New("credential missing: one of key_path or password is required")

// ErrReconnectDeferred is wrapped in a ConnectError when the reconnect
// backoff has not elapsed yet.
var ErrReconnectDeferred = errors.New("reconnect deferred by backoff")

// KeyLoadError reports an unreadable or malformed private key.
type KeyLoadError struct {
	Path string
	Err  error
}

func (e *KeyLoadError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e *KeyLoadError) Unwrap() error { return e.Err }

// ConnectError reports a failed handshake. It is transient: the next tick
// tries again.
type ConnectError struct {
	Host string
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("failed to connect to %s: %v", e.Host, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// ExecErrorKind classifies command execution failures.
type ExecErrorKind int

const (
	// ExecTimeout means the command did not finish within its timeout.
	ExecTimeout ExecErrorKind = iota
	// ExecSessionLost means the transport failed underneath the command.
	ExecSessionLost
	// ExecCancelled means the caller's context ended first.
	ExecCancelled
)

func (k ExecErrorKind) String() string {
	switch k {
	case ExecTimeout:
		return "timeout"
	case ExecSessionLost:
		return "session lost"
	case ExecCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// ExecError reports a failed command execution. Every ExecError means the
// session must be discarded before the next attempt.
type ExecError struct {
	Kind    ExecErrorKind
	Command string
	Err     error
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("command %q: %s: %v", e.Command, e.Kind, e.Err)
}

func (e *ExecError) Unwrap() error { return e.Err }

// IsTimeout reports whether err is an ExecError of kind ExecTimeout.
func IsTimeout(err error) bool {
	var execErr *ExecError
	return errors.As(err, &execErr) && execErr.Kind == ExecTimeout
}
