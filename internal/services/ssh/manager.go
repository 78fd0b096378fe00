package ssh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/fgeck/sshsource/internal/models"
	"github.com/fgeck/sshsource/internal/services/wol"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

const (
	defaultPort           = 22
	defaultConnectTimeout = 10 * time.Second
)

// State is the lifecycle state of a managed session.
type State int

const (
	// StateDisconnected means no handle is held.
	StateDisconnected State = iota
	// StateConnected means the handle is authenticated and usable.
	StateConnected
	// StateFailed means the last handshake failed; no handle is held.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	default:
		return "disconnected"
	}
}

// Option configures a Manager.
type Option func(*Manager)

// WithClientFactory replaces the dialer (for testing).
func WithClientFactory(factory ClientFactory) Option {
	return func(m *Manager) { m.factory = factory }
}

// WithWaker sends a Wake-on-LAN packet after a failed connect when the
// target has a wake_on_lan block.
func WithWaker(waker wol.Service) Option {
	return func(m *Manager) { m.waker = waker }
}

// WithClock overrides the time source used by the reconnect backoff.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// Manager owns exactly one session to one target. The client handle is
// non-nil if and only if the state is StateConnected.
type Manager struct {
	target   models.RemoteTarget
	addr     string
	factory  ClientFactory
	waker    wol.Service
	logger   zerolog.Logger
	now      func() time.Time
	hostKeys ssh.HostKeyCallback

	mu          sync.Mutex
	state       State
	client      SSHClient
	signer      ssh.Signer
	backoff     *backoff.ExponentialBackOff
	nextAttempt time.Time
}

// NewManager validates the credential and prepares authentication. A missing
// credential is fatal. An unreadable key is logged and the manager is still
// returned; connects fail until the key file is fixed.
func NewManager(logger zerolog.Logger, target models.RemoteTarget, opts ...Option) (*Manager, error) {
	switch target.Credential.Kind {
	case models.CredentialPassword:
		if target.Credential.Password == "" {
			return nil, ErrCredentialMissing
		}
	case models.CredentialPrivateKey:
		if target.Credential.KeyPath == "" {
			return nil, ErrCredentialMissing
		}
	default:
		return nil, ErrCredentialMissing
	}

	if target.Port == 0 {
		target.Port = defaultPort
	}
	if target.ConnectTimeout == 0 {
		target.ConnectTimeout = defaultConnectTimeout
	}

	m := &Manager{
		target:   target,
		addr:     net.JoinHostPort(target.Host, strconv.Itoa(target.Port)),
		factory:  &DefaultClientFactory{},
		logger:   logger.With().Str("host", target.Host).Int("port", target.Port).Logger(),
		now:      time.Now,
		hostKeys: ssh.InsecureIgnoreHostKey(), //nolint:gosec // matches the auto-add policy unless known_hosts is set
		state:    StateDisconnected,
	}

	for _, opt := range opts {
		opt(m)
	}

	if target.KnownHostsPath != "" {
		callback, err := knownhosts.New(target.KnownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load known_hosts %s: %w", target.KnownHostsPath, err)
		}
		m.hostKeys = callback
	}

	if target.Reconnect != nil {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = target.Reconnect.InitialInterval
		b.MaxInterval = target.Reconnect.MaxInterval
		b.MaxElapsedTime = 0
		b.RandomizationFactor = 0
		b.Reset()
		m.backoff = b
	}

	if target.Credential.Kind == models.CredentialPrivateKey {
		signer, err := loadSigner(target.Credential.KeyPath)
		if err != nil {
			m.logger.Error().Err(err).Msg("SSH key not loaded, connects will fail until it is fixed")
		}
		m.signer = signer
	}

	return m, nil
}

// Target returns the target this manager connects to.
func (m *Manager) Target() models.RemoteTarget {
	return m.target
}

// State returns the current session state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// EnsureConnected returns the live client, connecting first if needed. A
// connected session is returned unchanged without re-authentication.
func (m *Manager) EnsureConnected(ctx context.Context) (SSHClient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateConnected {
		return m.client, nil
	}

	if m.backoff != nil && m.now().Before(m.nextAttempt) {
		return nil, &ConnectError{Host: m.addr, Err: ErrReconnectDeferred}
	}

	config, err := m.clientConfig()
	if err != nil {
		return nil, m.failLocked(ctx, err, false)
	}

	m.logger.Debug().
		Str("user", m.target.Username).
		Str("auth", m.target.Credential.Kind.String()).
		Msg("connecting")

	client, err := m.dial(ctx, config)
	if err != nil {
		return nil, m.failLocked(ctx, err, true)
	}

	m.client = client
	m.state = StateConnected
	if m.backoff != nil {
		m.backoff.Reset()
		m.nextAttempt = time.Time{}
	}

	m.logger.Info().Str("user", m.target.Username).Msg("SSH session established")

	return client, nil
}

// Close releases the session. Closing an already closed handle counts as
// success. The state is always StateDisconnected afterwards.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeLocked()
}

func (m *Manager) closeLocked() error {
	client := m.client
	m.client = nil
	m.state = StateDisconnected

	if client == nil {
		return nil
	}

	if err := client.Close(); err != nil && !isAlreadyClosed(err) {
		m.logger.Warn().Err(err).Msg("failed to close SSH session")
		return fmt.Errorf("failed to close session: %w", err)
	}

	m.logger.Debug().Msg("SSH session closed")
	return nil
}

func (m *Manager) failLocked(ctx context.Context, cause error, wake bool) error {
	m.client = nil
	m.state = StateFailed

	if m.backoff != nil {
		m.nextAttempt = m.now().Add(m.backoff.NextBackOff())
	}

	if wake && m.waker != nil && m.target.WakeOnLAN != nil {
		result, err := m.waker.Wake(ctx, *m.target.WakeOnLAN)
		switch {
		case err != nil:
			m.logger.Warn().Err(err).Msg("failed to wake target")
		case result.Error != nil:
			m.logger.Warn().Err(result.Error).Msg("failed to wake target")
		case result.PacketSent:
			m.logger.Info().Str("mac", m.target.WakeOnLAN.MACAddress).Msg("sent WOL packet to unreachable target")
		}
	}

	return &ConnectError{Host: m.addr, Err: cause}
}

func (m *Manager) clientConfig() (*ssh.ClientConfig, error) {
	var auth ssh.AuthMethod

	switch m.target.Credential.Kind {
	case models.CredentialPassword:
		auth = ssh.Password(m.target.Credential.Password)
	case models.CredentialPrivateKey:
		if m.signer == nil {
			signer, err := loadSigner(m.target.Credential.KeyPath)
			if err != nil {
				return nil, err
			}
			m.logger.Info().Str("key", m.target.Credential.KeyPath).Msg("SSH key loaded")
			m.signer = signer
		}
		auth = ssh.PublicKeys(m.signer)
	default:
		return nil, ErrCredentialMissing
	}

	return &ssh.ClientConfig{
		User:            m.target.Username,
		Auth:            []ssh.AuthMethod{auth},
		HostKeyCallback: m.hostKeys,
		Timeout:         m.target.ConnectTimeout,
	}, nil
}

func (m *Manager) dial(ctx context.Context, config *ssh.ClientConfig) (SSHClient, error) {
	type dialResult struct {
		client SSHClient
		err    error
	}

	resultChan := make(chan dialResult, 1)

	go func() {
		client, err := m.factory.NewClient("tcp", m.addr, config)
		resultChan <- dialResult{client, err}
	}()

	select {
	case <-ctx.Done():
		// The handshake may still complete; release it when it does.
		go func() {
			if res := <-resultChan; res.client != nil {
				_ = res.client.Close()
			}
		}()
		return nil, ctx.Err()
	case res := <-resultChan:
		return res.client, res.err
	}
}

func loadSigner(path string) (ssh.Signer, error) {
	key, err := os.ReadFile(path)
	if err != nil {
		return nil, &KeyLoadError{Path: path, Err: fmt.Errorf("failed to read private key: %w", err)}
	}

	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, &KeyLoadError{Path: path, Err: fmt.Errorf("failed to parse private key: %w", err)}
	}

	return signer, nil
}

func isAlreadyClosed(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF)
}
