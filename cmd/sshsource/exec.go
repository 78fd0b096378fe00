package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fgeck/sshsource/internal/models"
	"github.com/fgeck/sshsource/internal/services/publish"
	"github.com/fgeck/sshsource/internal/services/runner"
	"github.com/fgeck/sshsource/internal/services/source"
	"github.com/fgeck/sshsource/internal/services/ssh"
	"github.com/fgeck/sshsource/internal/services/transform"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	execHost        string
	execPort        int
	execUser        string
	execKey         string
	execAskPassword bool
	execKnownHosts  string
	execTimeout     int
	execTemplate    string
)

var execCmd = &cobra.Command{
	Use:   "exec [sensor | -- command]",
	Short: "Poll a sensor once and print its value",
	Long: `Poll a configured sensor once and print the published value:

  sshsource exec -c config.yaml uptime

Or run an ad-hoc command without a configuration file:

  sshsource exec --host 10.0.0.5 --user cumulus --key ~/.ssh/id_ed25519 -- uptime
  sshsource exec --host 10.0.0.5 --ask-password -- cat /proc/loadavg`,
	Args: cobra.MinimumNArgs(1),
	RunE: execSensor,
}

func init() {
	execCmd.Flags().StringVar(&execHost, "host", "", "target host for an ad-hoc command")
	execCmd.Flags().IntVar(&execPort, "port", 22, "target SSH port")
	execCmd.Flags().StringVar(&execUser, "user", "root", "SSH username")
	execCmd.Flags().StringVar(&execKey, "key", "", "private key file")
	execCmd.Flags().BoolVar(&execAskPassword, "ask-password", false, "prompt for the SSH password")
	execCmd.Flags().StringVar(&execKnownHosts, "known-hosts", "", "known_hosts file for host key verification")
	execCmd.Flags().IntVar(&execTimeout, "timeout", 30, "command timeout in seconds")
	execCmd.Flags().StringVar(&execTemplate, "template", "", "value template applied to the output")
}

func execSensor(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		sensor  *source.Sensor
		cleanup func() error
		err     error
	)

	if execHost != "" {
		sensor, err = adHocSensor(strings.Join(args, " "))
		if err != nil {
			return err
		}
		cleanup = sensor.Close
	} else {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		sources, err := runner.New(log.Logger).Build(*cfg)
		if err != nil {
			log.Error().Err(err).Msg("failed to build sources")
			return err
		}
		cleanup = sources.Close

		var ok bool
		sensor, ok = sources.Sensor(args[0])
		if !ok {
			_ = cleanup()
			return fmt.Errorf("no sensor named %q", args[0])
		}
	}
	defer func() { _ = cleanup() }()

	if err := sensor.Poll(ctx); err != nil {
		log.Error().Err(err).Msg("poll failed")
		return err
	}

	value, _ := sensor.Value()
	fmt.Print(value)
	if !strings.HasSuffix(value, "\n") {
		fmt.Println()
	}

	return nil
}

func adHocSensor(command string) (*source.Sensor, error) {
	target := models.RemoteTarget{
		Host:           execHost,
		Port:           execPort,
		Username:       execUser,
		KnownHostsPath: execKnownHosts,
	}

	switch {
	case execAskPassword:
		password, err := readPassword(fmt.Sprintf("%s@%s's password: ", execUser, execHost))
		if err != nil {
			return nil, err
		}
		target.Credential = models.PasswordCredential(password)
	case execKey != "":
		target.Credential = models.PrivateKeyCredential(execKey)
	default:
		return nil, fmt.Errorf("--key or --ask-password is required: %w", ssh.ErrCredentialMissing)
	}

	tr, err := transform.New(execTemplate)
	if err != nil {
		return nil, err
	}

	manager, err := ssh.NewManager(log.Logger, target)
	if err != nil {
		return nil, err
	}

	spec := models.CommandSpec{Command: command, Timeout: time.Duration(execTimeout) * time.Second}
	sensor, err := source.NewSensor(log.Logger, "exec", spec, source.Deps{
		Session:   manager,
		Runner:    ssh.NewExecutor(log.Logger),
		Transform: tr,
		Publisher: publish.Discard{},
	})
	if err != nil {
		_ = manager.Close()
		return nil, err
	}

	return sensor, nil
}

func readPassword(prompt string) (string, error) {
	fd := int(os.Stdin.Fd()) //nolint:gosec // file descriptors fit in int
	if !term.IsTerminal(fd) {
		return "", errors.New("--ask-password needs an interactive terminal")
	}

	fmt.Fprint(os.Stderr, prompt)
	password, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}

	return string(password), nil
}
