package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/fgeck/sshsource/internal/services/runner"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var switchCmd = &cobra.Command{
	Use:       "switch on|off <name>",
	Short:     "Turn a configured switch on or off",
	Long:      `Run the command_on or command_off of a configured switch once and report the result.`,
	Args:      cobra.ExactArgs(2),
	ValidArgs: []string{"on", "off"},
	RunE:      actuateSwitch,
}

func actuateSwitch(cmd *cobra.Command, args []string) error {
	action, name := args[0], args[1]
	if action != "on" && action != "off" {
		return fmt.Errorf("unknown action %q, expected on or off", action)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	sources, err := runner.New(log.Logger).Build(*cfg)
	if err != nil {
		log.Error().Err(err).Msg("failed to build sources")
		return err
	}
	defer func() { _ = sources.Close() }()

	sw, ok := sources.Switch(name)
	if !ok {
		return fmt.Errorf("no switch named %q", name)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if action == "on" {
		err = sw.TurnOn(ctx)
	} else {
		err = sw.TurnOff(ctx)
	}
	if err != nil {
		log.Error().Err(err).Str("switch", name).Msg("actuation failed")
		return err
	}

	state := sw.State()
	log.Info().Str("switch", name).Bool("on", state.On).Msg("switch actuated")

	return nil
}
