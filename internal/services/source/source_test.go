package source

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fgeck/sshsource/internal/models"
	"github.com/fgeck/sshsource/internal/services/ssh"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	cryptossh "golang.org/x/crypto/ssh"
)

type mockSSHClient struct{}

func (m *mockSSHClient) NewSession() (ssh.SSHSession, error) {
	return nil, errors.New("not used")
}

func (m *mockSSHClient) Close() error { return nil }

type mockSession struct {
	mu                  sync.Mutex
	ensureConnectedFunc func(ctx context.Context) (ssh.SSHClient, error)
	connects            int
	closes              int
}

func (m *mockSession) EnsureConnected(ctx context.Context) (ssh.SSHClient, error) {
	m.mu.Lock()
	m.connects++
	m.mu.Unlock()
	if m.ensureConnectedFunc != nil {
		return m.ensureConnectedFunc(ctx)
	}
	return &mockSSHClient{}, nil
}

func (m *mockSession) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closes++
	return nil
}

func (m *mockSession) counts() (connects, closes int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connects, m.closes
}

type mockRunner struct {
	mu      sync.Mutex
	runFunc func(ctx context.Context, spec models.CommandSpec) (*models.CapturedOutput, error)
	calls   []string
}

func (m *mockRunner) Run(ctx context.Context, _ ssh.SSHClient, spec models.CommandSpec) (*models.CapturedOutput, error) {
	m.mu.Lock()
	m.calls = append(m.calls, spec.Command)
	m.mu.Unlock()
	if m.runFunc != nil {
		return m.runFunc(ctx, spec)
	}
	status := 0
	return &models.CapturedOutput{Stdout: []byte("ok\n"), ExitStatus: &status}, nil
}

func (m *mockRunner) commands() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

type recordingPublisher struct {
	mu      sync.Mutex
	updates []models.Update
}

func (p *recordingPublisher) Publish(_ context.Context, update models.Update) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updates = append(p.updates, update)
	return nil
}

func (p *recordingPublisher) all() []models.Update {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.Update(nil), p.updates...)
}

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func output(text string) *models.CapturedOutput {
	status := 0
	return &models.CapturedOutput{Stdout: []byte(text), ExitStatus: &status}
}

// writeTestKey writes an OpenSSH ed25519 private key and returns its path.
func writeTestKey(t *testing.T) string {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	block, err := cryptossh.MarshalPrivateKey(priv, "")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "id")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(block), 0o600))
	return path
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond)
}
