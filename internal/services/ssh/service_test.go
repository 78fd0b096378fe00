package ssh

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/fgeck/sshsource/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

// Mock implementations
type mockSSHSession struct {
	outputFunc func(cmd string) ([]byte, error)
	signalFunc func(sig ssh.Signal) error
	closeFunc  func() error
}

func (m *mockSSHSession) Output(cmd string) ([]byte, error) {
	if m.outputFunc != nil {
		return m.outputFunc(cmd)
	}
	return []byte(""), nil
}

func (m *mockSSHSession) Signal(sig ssh.Signal) error {
	if m.signalFunc != nil {
		return m.signalFunc(sig)
	}
	return nil
}

func (m *mockSSHSession) Close() error {
	if m.closeFunc != nil {
		return m.closeFunc()
	}
	return nil
}

type mockSSHClient struct {
	newSessionFunc func() (SSHSession, error)
	closeFunc      func() error
	closed         atomic.Int32
}

func (m *mockSSHClient) NewSession() (SSHSession, error) {
	if m.newSessionFunc != nil {
		return m.newSessionFunc()
	}
	return &mockSSHSession{}, nil
}

func (m *mockSSHClient) Close() error {
	m.closed.Add(1)
	if m.closeFunc != nil {
		return m.closeFunc()
	}
	return nil
}

type mockClientFactory struct {
	newClientFunc func(network, addr string, config *ssh.ClientConfig) (SSHClient, error)

	mu      sync.Mutex
	calls   int
	addrs   []string
	configs []*ssh.ClientConfig
}

func (m *mockClientFactory) NewClient(network, addr string, config *ssh.ClientConfig) (SSHClient, error) {
	m.mu.Lock()
	m.calls++
	m.addrs = append(m.addrs, addr)
	m.configs = append(m.configs, config)
	m.mu.Unlock()

	if m.newClientFunc != nil {
		return m.newClientFunc(network, addr, config)
	}
	return &mockSSHClient{}, nil
}

func (m *mockClientFactory) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

// generateTestKey generates a valid ed25519 key for testing using crypto/ed25519.
func generateTestKey(t *testing.T) []byte {
	t.Helper()

	_, privateKey, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	pemBlock, err := ssh.MarshalPrivateKey(privateKey, "")
	require.NoError(t, err)

	return pem.EncodeToMemory(pemBlock)
}

func writeTestKey(t *testing.T) string {
	t.Helper()

	keyPath := filepath.Join(t.TempDir(), "id_ed25519")
	require.NoError(t, os.WriteFile(keyPath, generateTestKey(t), 0o600))
	return keyPath
}

func keyTarget(t *testing.T) models.RemoteTarget {
	return models.RemoteTarget{
		Host:       "10.0.0.5",
		Port:       22,
		Username:   "cumulus",
		Credential: models.PrivateKeyCredential(writeTestKey(t)),
	}
}

func passwordTarget() models.RemoteTarget {
	return models.RemoteTarget{
		Host:       "10.0.0.5",
		Port:       2222,
		Username:   "admin",
		Credential: models.PasswordCredential("secret"),
	}
}
