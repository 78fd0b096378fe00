//go:build integration

package integration

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/fgeck/sshsource/internal/models"
	"github.com/fgeck/sshsource/internal/services/source"
	"github.com/fgeck/sshsource/internal/services/ssh"
	"github.com/fgeck/sshsource/internal/services/transform"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	sshdImage    = "lscr.io/linuxserver/openssh-server:latest"
	sshdPort     = "2222/tcp"
	sshdUser     = "cumulus"
	sshdPassword = "secret"
)

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
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

func setupSSHD(t *testing.T, ctx context.Context) models.RemoteTarget {
	t.Helper()

	req := testcontainers.ContainerRequest{
		Image:        sshdImage,
		ExposedPorts: []string{sshdPort},
		Env: map[string]string{
			"PASSWORD_ACCESS": "true",
			"USER_NAME":       sshdUser,
			"USER_PASSWORD":   sshdPassword,
		},
		WaitingFor: wait.ForAll(
			wait.ForListeningPort(sshdPort),
			wait.ForLog("done."),
		).WithDeadline(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err, "failed to start sshd container")

	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)

	port, err := container.MappedPort(ctx, sshdPort)
	require.NoError(t, err)

	return models.RemoteTarget{
		Host:           host,
		Port:           port.Int(),
		Username:       sshdUser,
		Credential:     models.PasswordCredential(sshdPassword),
		ConnectTimeout: 10 * time.Second,
	}
}

func newSensor(t *testing.T, target models.RemoteTarget, spec models.CommandSpec, template string, pub *recordingPublisher) (*source.Sensor, *ssh.Manager) {
	t.Helper()

	manager, err := ssh.NewManager(testLogger(), target)
	require.NoError(t, err)

	tr, err := transform.New(template)
	require.NoError(t, err)

	sensor, err := source.NewSensor(testLogger(), "it", spec,
		source.Deps{Session: manager, Runner: ssh.NewExecutor(testLogger()), Transform: tr, Publisher: pub})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sensor.Close() })

	return sensor, manager
}

func TestSSHD_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	ctx := context.Background()
	target := setupSSHD(t, ctx)

	t.Run("SensorVerbatimOutput", func(t *testing.T) {
		pub := &recordingPublisher{}
		sensor, manager := newSensor(t, target, models.CommandSpec{Command: "echo hello", Timeout: 10 * time.Second}, "", pub)

		require.NoError(t, sensor.Poll(ctx))

		value, ok := sensor.Value()
		assert.True(t, ok)
		assert.Equal(t, "hello\n", value)
		assert.Equal(t, ssh.StateConnected, manager.State())
		require.Len(t, pub.updates, 1)
	})

	t.Run("SessionReusedAcrossPolls", func(t *testing.T) {
		sensor, manager := newSensor(t, target, models.CommandSpec{Command: "echo $PPID", Timeout: 10 * time.Second}, "", &recordingPublisher{})

		require.NoError(t, sensor.Poll(ctx))
		client, err := manager.EnsureConnected(ctx)
		require.NoError(t, err)

		require.NoError(t, sensor.Poll(ctx))
		again, err := manager.EnsureConnected(ctx)
		require.NoError(t, err)

		assert.Same(t, client, again)
	})

	t.Run("NonZeroExitKeepsOutput", func(t *testing.T) {
		sensor, _ := newSensor(t, target, models.CommandSpec{Command: "echo partial; exit 3", Timeout: 10 * time.Second}, "", &recordingPublisher{})

		require.NoError(t, sensor.Poll(ctx))

		value, _ := sensor.Value()
		assert.Equal(t, "partial\n", value)
	})

	t.Run("TemplateApplied", func(t *testing.T) {
		sensor, _ := newSensor(t, target, models.CommandSpec{Command: "printf '  42  \\n'", Timeout: 10 * time.Second}, "{{ trim .Value }}", &recordingPublisher{})

		require.NoError(t, sensor.Poll(ctx))

		value, _ := sensor.Value()
		assert.Equal(t, "42", value)
	})

	t.Run("TimeoutInvalidatesSession", func(t *testing.T) {
		sensor, manager := newSensor(t, target, models.CommandSpec{Command: "sleep 30", Timeout: time.Second}, "", &recordingPublisher{})

		start := time.Now()
		err := sensor.Poll(ctx)

		assert.True(t, ssh.IsTimeout(err))
		assert.Less(t, time.Since(start), 5*time.Second)
		assert.Equal(t, ssh.StateDisconnected, manager.State())

		_, err = manager.EnsureConnected(ctx)
		require.NoError(t, err)
		assert.Equal(t, ssh.StateConnected, manager.State())
	})

	t.Run("WrongPassword", func(t *testing.T) {
		bad := target
		bad.Credential = models.PasswordCredential("wrong")

		manager, err := ssh.NewManager(testLogger(), bad)
		require.NoError(t, err)

		_, err = manager.EnsureConnected(ctx)

		var connErr *ssh.ConnectError
		require.True(t, errors.As(err, &connErr))
		assert.Equal(t, ssh.StateFailed, manager.State())
	})

	t.Run("SwitchActuation", func(t *testing.T) {
		manager, err := ssh.NewManager(testLogger(), target)
		require.NoError(t, err)

		state := models.CommandSpec{Command: "cat /tmp/relay", Timeout: 10 * time.Second}
		sw, err := source.NewSwitch(testLogger(), "relay", source.SwitchCommands{
			On:    models.CommandSpec{Command: "echo closed > /tmp/relay", Timeout: 10 * time.Second},
			Off:   models.CommandSpec{Command: "echo open > /tmp/relay", Timeout: 10 * time.Second},
			State: &state,
		}, source.Deps{Session: manager, Runner: ssh.NewExecutor(testLogger()), Publisher: &recordingPublisher{}})
		require.NoError(t, err)
		defer sw.Close()

		require.NoError(t, sw.TurnOff(ctx))
		require.NoError(t, sw.Refresh(ctx))

		got := sw.State()
		assert.False(t, got.On)
		require.NotNil(t, got.Value)
		assert.Equal(t, "open\n", *got.Value)

		require.NoError(t, sw.TurnOn(ctx))
		require.NoError(t, sw.Refresh(ctx))

		got = sw.State()
		assert.True(t, got.On)
		assert.Equal(t, "closed\n", *got.Value)
	})
}
