package main

import (
	"fmt"
	"os"

	"github.com/fgeck/sshsource/internal/models"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var printResolved bool

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long: `Validate the configuration file without connecting to any host.

With --print the resolved configuration (defaults applied, secrets redacted)
is written to stdout as YAML.`,
	RunE: validateConfig,
}

func init() {
	validateCmd.Flags().BoolVar(&printResolved, "print", false, "print the resolved configuration as YAML")
}

func validateConfig(cmd *cobra.Command, args []string) error {
	// Check if file exists
	if configFile != "" {
		if _, err := os.Stat(configFile); os.IsNotExist(err) {
			log.Error().Str("file", configFile).Msg("config file not found")
			return fmt.Errorf("config file not found: %s", configFile)
		}
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if printResolved {
		out, err := yaml.Marshal(resolvedView(cfg))
		if err != nil {
			return fmt.Errorf("failed to encode configuration: %w", err)
		}
		_, err = os.Stdout.Write(out)
		return err
	}

	// Print configuration summary
	fmt.Println("Configuration is valid!")
	fmt.Println()
	fmt.Printf("Sensors: %d\n", len(cfg.Sensors))
	for _, s := range cfg.Sensors {
		fmt.Printf("  %s: %q on %s@%s:%d every %s (timeout %s)\n",
			s.Name, s.Command, s.Connection.Username, s.Connection.Host, s.Connection.Port,
			s.PollInterval, s.Timeout)
	}

	fmt.Println()
	fmt.Printf("Switches: %d\n", len(cfg.Switches))
	for _, s := range cfg.Switches {
		state := "none"
		if s.CommandState != "" {
			state = fmt.Sprintf("%q every %s", s.CommandState, s.PollInterval)
		}
		fmt.Printf("  %s: on=%q off=%q state=%s on %s@%s:%d\n",
			s.Name, s.CommandOn, s.CommandOff, state,
			s.Connection.Username, s.Connection.Host, s.Connection.Port)
	}

	fmt.Println()
	fmt.Println("Publishers:")
	fmt.Printf("  Log: %v\n", cfg.Publish.Log)
	fmt.Printf("  Kafka: %v\n", cfg.Publish.Kafka != nil)
	fmt.Printf("  Telegram: %v\n", cfg.Publish.Telegram != nil)

	if cfg.Publish.Kafka != nil {
		fmt.Println()
		fmt.Println("Kafka Configuration:")
		fmt.Printf("  Brokers: %v\n", cfg.Publish.Kafka.Brokers)
		fmt.Printf("  Topic: %s\n", cfg.Publish.Kafka.Topic)
	}

	if cfg.Publish.Telegram != nil {
		fmt.Println()
		fmt.Println("Telegram Configuration:")
		fmt.Printf("  Chat ID: %s\n", cfg.Publish.Telegram.ChatID)
		fmt.Printf("  Bot Token: (configured)\n")
	}

	return nil
}

const redacted = "(redacted)"

type connectionView struct {
	Host           string            `yaml:"host"`
	Port           int               `yaml:"port"`
	Username       string            `yaml:"username"`
	KeyPath        string            `yaml:"key_path,omitempty"`
	Password       string            `yaml:"password,omitempty"`
	KnownHosts     string            `yaml:"known_hosts,omitempty"`
	ConnectTimeout string            `yaml:"connect_timeout"`
	Reconnect      map[string]string `yaml:"reconnect,omitempty"`
	WakeOnLAN      map[string]string `yaml:"wake_on_lan,omitempty"`
}

type sensorView struct {
	Name           string `yaml:"name"`
	connectionView `yaml:",inline"`
	Command        string `yaml:"command"`
	CommandTimeout int    `yaml:"command_timeout"`
	PollInterval   string `yaml:"poll_interval"`
	ValueTemplate  string `yaml:"value_template,omitempty"`
}

type switchView struct {
	Name           string `yaml:"name"`
	connectionView `yaml:",inline"`
	CommandOn      string `yaml:"command_on"`
	CommandOff     string `yaml:"command_off"`
	CommandState   string `yaml:"command_state,omitempty"`
	CommandTimeout int    `yaml:"command_timeout"`
	PollInterval   string `yaml:"poll_interval"`
	ValueTemplate  string `yaml:"value_template,omitempty"`
}

type publishView struct {
	Log      bool                `yaml:"log"`
	Kafka    *models.KafkaConfig `yaml:"kafka,omitempty"`
	Telegram map[string]string   `yaml:"telegram,omitempty"`
}

type configView struct {
	Sensors  []sensorView `yaml:"sensors,omitempty"`
	Switches []switchView `yaml:"switches,omitempty"`
	Publish  publishView  `yaml:"publish"`
}

func resolvedView(cfg *models.Config) configView {
	view := configView{Publish: publishView{Log: cfg.Publish.Log, Kafka: cfg.Publish.Kafka}}

	for _, s := range cfg.Sensors {
		view.Sensors = append(view.Sensors, sensorView{
			Name:           s.Name,
			connectionView: connView(s.Connection),
			Command:        s.Command,
			CommandTimeout: int(s.Timeout.Seconds()),
			PollInterval:   s.PollInterval.String(),
			ValueTemplate:  s.ValueTemplate,
		})
	}

	for _, s := range cfg.Switches {
		view.Switches = append(view.Switches, switchView{
			Name:           s.Name,
			connectionView: connView(s.Connection),
			CommandOn:      s.CommandOn,
			CommandOff:     s.CommandOff,
			CommandState:   s.CommandState,
			CommandTimeout: int(s.Timeout.Seconds()),
			PollInterval:   s.PollInterval.String(),
			ValueTemplate:  s.ValueTemplate,
		})
	}

	if cfg.Publish.Telegram != nil {
		view.Publish.Telegram = map[string]string{
			"bot_token": redacted,
			"chat_id":   cfg.Publish.Telegram.ChatID,
		}
	}

	return view
}

func connView(c models.ConnectionConfig) connectionView {
	view := connectionView{
		Host:           c.Host,
		Port:           c.Port,
		Username:       c.Username,
		KeyPath:        c.KeyPath,
		KnownHosts:     c.KnownHosts,
		ConnectTimeout: c.ConnectTimeout.String(),
	}
	if c.Password != "" {
		view.Password = redacted
	}
	if c.Reconnect != nil {
		view.Reconnect = map[string]string{
			"initial_interval": c.Reconnect.InitialInterval.String(),
			"max_interval":     c.Reconnect.MaxInterval.String(),
		}
	}
	if c.WakeOnLAN != nil {
		view.WakeOnLAN = map[string]string{
			"mac_address":  c.WakeOnLAN.MACAddress,
			"broadcast_ip": c.WakeOnLAN.BroadcastIP,
			"min_interval": c.WakeOnLAN.MinInterval.String(),
		}
	}
	return view
}
