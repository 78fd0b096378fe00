// Package runner builds sources from configuration and drives their polling.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fgeck/sshsource/internal/models"
	"github.com/fgeck/sshsource/internal/services/publish"
	"github.com/fgeck/sshsource/internal/services/source"
	"github.com/fgeck/sshsource/internal/services/ssh"
	"github.com/fgeck/sshsource/internal/services/telegram"
	"github.com/fgeck/sshsource/internal/services/transform"
	"github.com/fgeck/sshsource/internal/services/wol"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Service defines the interface for the source runner.
type Service interface {
	Run(ctx context.Context, cfg models.Config) error
}

// Impl implements the runner Service interface.
type Impl struct {
	wolSvc      wol.Service
	telegramSvc telegram.Service
	factory     ssh.ClientFactory
	kafkaWriter func(cfg models.KafkaConfig) publish.MessageWriter
	logger      zerolog.Logger
}

// New creates a new runner service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		wolSvc:      wol.New(logger),
		telegramSvc: telegram.New(logger),
		logger:      logger,
	}
}

// NewWithServices creates a new runner service with custom services (for testing).
// A nil factory or kafkaWriter selects the real implementation.
func NewWithServices(
	logger zerolog.Logger,
	wolSvc wol.Service,
	telegramSvc telegram.Service,
	factory ssh.ClientFactory,
	kafkaWriter func(cfg models.KafkaConfig) publish.MessageWriter,
) *Impl {
	return &Impl{
		wolSvc:      wolSvc,
		telegramSvc: telegramSvc,
		factory:     factory,
		kafkaWriter: kafkaWriter,
		logger:      logger,
	}
}

// Run builds every configured source and polls until ctx is cancelled.
// Sensors poll immediately and then every poll interval. Switches poll only
// when they have a state command.
func (s *Impl) Run(ctx context.Context, cfg models.Config) error {
	sources, err := s.Build(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := sources.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("failed to close sources")
		}
	}()

	s.logger.Info().
		Int("sensors", len(sources.sensors)).
		Int("switches", len(sources.switches)).
		Msg("starting sources")

	g, gctx := errgroup.WithContext(ctx)

	for _, e := range sources.sensors {
		e := e
		g.Go(func() error {
			s.schedule(gctx, e.Name(), e.interval, e.Tick)
			return nil
		})
	}

	for _, e := range sources.switches {
		if !e.HasStateCommand() {
			continue
		}
		e := e
		g.Go(func() error {
			s.schedule(gctx, e.Name(), e.interval, e.Tick)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	s.logger.Info().Msg("sources stopped")
	return nil
}

func (s *Impl) schedule(ctx context.Context, name string, interval time.Duration, tick func() bool) {
	logger := s.logger.With().Str("source", name).Dur("interval", interval).Logger()
	logger.Debug().Msg("polling started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	tick()
	for {
		select {
		case <-ctx.Done():
			logger.Debug().Msg("polling stopped")
			return
		case <-ticker.C:
			tick()
		}
	}
}

// Build constructs every source in cfg together with its session. Sources
// are not polled until Run schedules them. On error everything built so
// far is closed again.
func (s *Impl) Build(cfg models.Config) (*Sources, error) {
	sources := &Sources{publisher: s.publisher(cfg.Publish)}

	for _, sc := range cfg.Sensors {
		deps, err := s.deps(sc.Name, sc.Connection, sc.ValueTemplate, sources.publisher)
		if err != nil {
			_ = sources.Close()
			return nil, fmt.Errorf("sensor %s: %w", sc.Name, err)
		}

		sensor, err := source.NewSensor(s.logger, sc.Name, sc.ReadSpec(), deps)
		if err != nil {
			_ = deps.Session.Close()
			_ = sources.Close()
			return nil, fmt.Errorf("sensor %s: %w", sc.Name, err)
		}

		sources.sensors = append(sources.sensors, sensorEntry{Sensor: sensor, interval: sc.PollInterval})
	}

	for _, sc := range cfg.Switches {
		deps, err := s.deps(sc.Name, sc.Connection, sc.ValueTemplate, sources.publisher)
		if err != nil {
			_ = sources.Close()
			return nil, fmt.Errorf("switch %s: %w", sc.Name, err)
		}

		commands := source.SwitchCommands{On: sc.OnSpec(), Off: sc.OffSpec()}
		if state, ok := sc.StateSpec(); ok {
			commands.State = &state
		}

		sw, err := source.NewSwitch(s.logger, sc.Name, commands, deps)
		if err != nil {
			_ = deps.Session.Close()
			_ = sources.Close()
			return nil, fmt.Errorf("switch %s: %w", sc.Name, err)
		}

		sources.switches = append(sources.switches, switchEntry{Switch: sw, interval: sc.PollInterval})
	}

	return sources, nil
}

func (s *Impl) deps(name string, conn models.ConnectionConfig, valueTemplate string, publisher publish.Publisher) (source.Deps, error) {
	tr, err := transform.New(valueTemplate)
	if err != nil {
		return source.Deps{}, err
	}

	logger := s.logger.With().Str("source", name).Logger()

	opts := []ssh.Option{ssh.WithWaker(s.wolSvc)}
	if s.factory != nil {
		opts = append(opts, ssh.WithClientFactory(s.factory))
	}

	manager, err := ssh.NewManager(logger, conn.Target(), opts...)
	if err != nil {
		return source.Deps{}, err
	}

	return source.Deps{
		Session:   manager,
		Runner:    ssh.NewExecutor(logger),
		Transform: tr,
		Publisher: publisher,
	}, nil
}

func (s *Impl) publisher(cfg models.PublishConfig) publish.Multi {
	var m publish.Multi

	if cfg.Log {
		m = append(m, publish.NewLog(s.logger.With().Str("component", "publish").Logger()))
	}

	if cfg.Kafka != nil {
		if s.kafkaWriter != nil {
			m = append(m, publish.NewKafkaWithWriter(s.logger, s.kafkaWriter(*cfg.Kafka), cfg.Kafka.Topic))
		} else {
			m = append(m, publish.NewKafka(s.logger, *cfg.Kafka))
		}
	}

	if cfg.Telegram != nil {
		m = append(m, publish.NewTelegram(s.telegramSvc, *cfg.Telegram))
	}

	return m
}

type sensorEntry struct {
	*source.Sensor
	interval time.Duration
}

type switchEntry struct {
	*source.Switch
	interval time.Duration
}

// Sources holds the sources built from one configuration.
type Sources struct {
	sensors   []sensorEntry
	switches  []switchEntry
	publisher publish.Multi
}

// Sensor returns the sensor called name.
func (s *Sources) Sensor(name string) (*source.Sensor, bool) {
	for _, e := range s.sensors {
		if e.Name() == name {
			return e.Sensor, true
		}
	}
	return nil, false
}

// Switch returns the switch called name.
func (s *Sources) Switch(name string) (*source.Switch, bool) {
	for _, e := range s.switches {
		if e.Name() == name {
			return e.Switch, true
		}
	}
	return nil, false
}

// Close closes every source and publisher.
func (s *Sources) Close() error {
	var errs []error
	for _, e := range s.sensors {
		if err := e.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	for _, e := range s.switches {
		if err := e.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.publisher.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
