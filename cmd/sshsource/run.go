package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/fgeck/sshsource/internal/services/runner"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Poll all configured sources until interrupted",
	Long: `Build every configured sensor and switch and poll them:
1. Each source opens its own SSH session on first use
2. Sensors poll immediately, then every poll_interval
3. Switches with a command_state refresh every poll_interval
4. Every update is published to the configured sinks
5. SIGINT/SIGTERM stops polling and closes all sessions`,
	RunE: runSources,
}

func runSources(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	log.Info().
		Str("config", configFile).
		Int("sensors", len(cfg.Sensors)).
		Int("switches", len(cfg.Switches)).
		Msg("configuration loaded")

	// Set up context with signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Warn().Str("signal", sig.String()).Msg("received signal, shutting down")
		cancel()
	}()

	runnerSvc := runner.New(log.Logger)
	if err := runnerSvc.Run(ctx, *cfg); err != nil {
		log.Error().Err(err).Msg("run failed")
		return err
	}

	log.Info().Msg("shutdown complete")
	return nil
}
