// Package config provides configuration file parsing.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fgeck/sshsource/internal/models"
	"github.com/fgeck/sshsource/internal/services/ssh"
	"github.com/fgeck/sshsource/internal/services/transform"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

const (
	defaultPort               = 22
	defaultUsername           = "root"
	defaultConnectTimeout     = 10 * time.Second
	defaultSensorTimeout      = 30 // seconds
	defaultSensorPollInterval = 60 * time.Second
	defaultSwitchTimeout      = 60 // seconds
	defaultSwitchPollInterval = 30 * time.Second
	defaultSwitchCommand      = "true"
)

var validate = validator.New()

func init() {
	_ = validate.RegisterValidation("gotemplate", validateTemplate)
}

func validateTemplate(fl validator.FieldLevel) bool {
	_, err := transform.New(fl.Field().String())
	return err == nil
}

// Parser handles configuration file parsing.
type Parser struct {
	v *viper.Viper
}

// NewParser creates a new configuration parser.
func NewParser() *Parser {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetDefault("publish.log", true)
	return &Parser{v: v}
}

// LoadFile loads configuration from a file path.
func (p *Parser) LoadFile(path string) (*models.Config, error) {
	p.v.SetConfigFile(path)

	if err := p.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return p.parse()
}

// LoadReader loads configuration from a reader (useful for testing).
func (p *Parser) LoadReader(content string) (*models.Config, error) {
	if err := p.v.ReadConfig(strings.NewReader(content)); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	return p.parse()
}

type rawReconnect struct {
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
}

type rawWOL struct {
	MACAddress  string        `mapstructure:"mac_address"`
	BroadcastIP string        `mapstructure:"broadcast_ip"`
	MinInterval time.Duration `mapstructure:"min_interval"`
}

type rawConnection struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	Username       string        `mapstructure:"username"`
	KeyPath        string        `mapstructure:"key_path"`
	Password       string        `mapstructure:"password"`
	KnownHosts     string        `mapstructure:"known_hosts"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	Reconnect      *rawReconnect `mapstructure:"reconnect"`
	WakeOnLAN      *rawWOL       `mapstructure:"wake_on_lan"`
}

type rawSensor struct {
	Name           string        `mapstructure:"name"`
	Connection     rawConnection `mapstructure:",squash"`
	Command        string        `mapstructure:"command"`
	CommandTimeout int           `mapstructure:"command_timeout"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	ValueTemplate  string        `mapstructure:"value_template"`
}

type rawSwitch struct {
	Name           string        `mapstructure:"name"`
	Connection     rawConnection `mapstructure:",squash"`
	CommandOn      string        `mapstructure:"command_on"`
	CommandOff     string        `mapstructure:"command_off"`
	CommandState   string        `mapstructure:"command_state"`
	CommandTimeout int           `mapstructure:"command_timeout"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	ValueTemplate  string        `mapstructure:"value_template"`
}

func (p *Parser) parse() (*models.Config, error) {
	cfg := &models.Config{}

	var sensors []rawSensor
	if err := p.v.UnmarshalKey("sensors", &sensors); err != nil {
		return nil, fmt.Errorf("parsing sensors: %w", err)
	}

	var switches []rawSwitch
	if err := p.v.UnmarshalKey("switches", &switches); err != nil {
		return nil, fmt.Errorf("parsing switches: %w", err)
	}

	if len(sensors) == 0 && len(switches) == 0 {
		return nil, fmt.Errorf("at least one sensor or switch is required")
	}

	for i, raw := range sensors {
		if raw.Name == "" {
			return nil, fmt.Errorf("sensors[%d].name is required", i)
		}
		if raw.Command == "" {
			return nil, fmt.Errorf("sensor %s: command is required", raw.Name)
		}

		conn, err := p.connection(raw.Connection)
		if err != nil {
			return nil, fmt.Errorf("sensor %s: %w", raw.Name, err)
		}

		timeout := raw.CommandTimeout
		if timeout == 0 {
			timeout = defaultSensorTimeout
		}
		interval := raw.PollInterval
		if interval == 0 {
			interval = defaultSensorPollInterval
		}

		cfg.Sensors = append(cfg.Sensors, models.SensorConfig{
			Name:          raw.Name,
			Connection:    conn,
			Command:       raw.Command,
			Timeout:       time.Duration(timeout) * time.Second,
			PollInterval:  interval,
			ValueTemplate: raw.ValueTemplate,
		})
	}

	for i, raw := range switches {
		if raw.Name == "" {
			return nil, fmt.Errorf("switches[%d].name is required", i)
		}

		conn, err := p.connection(raw.Connection)
		if err != nil {
			return nil, fmt.Errorf("switch %s: %w", raw.Name, err)
		}

		sw := models.SwitchConfig{
			Name:          raw.Name,
			Connection:    conn,
			CommandOn:     raw.CommandOn,
			CommandOff:    raw.CommandOff,
			CommandState:  raw.CommandState,
			Timeout:       time.Duration(raw.CommandTimeout) * time.Second,
			PollInterval:  raw.PollInterval,
			ValueTemplate: raw.ValueTemplate,
		}

		if sw.CommandOn == "" {
			sw.CommandOn = defaultSwitchCommand
		}
		if sw.CommandOff == "" {
			sw.CommandOff = defaultSwitchCommand
		}
		if sw.Timeout == 0 {
			sw.Timeout = defaultSwitchTimeout * time.Second
		}
		if sw.PollInterval == 0 {
			sw.PollInterval = defaultSwitchPollInterval
		}

		cfg.Switches = append(cfg.Switches, sw)
	}

	cfg.Publish = models.PublishConfig{
		Log: p.v.GetBool("publish.log"),
	}

	// Parse optional Kafka config.
	if p.v.IsSet("publish.kafka") {
		cfg.Publish.Kafka = &models.KafkaConfig{
			Brokers: p.v.GetStringSlice("publish.kafka.brokers"),
			Topic:   p.expandEnv(p.v.GetString("publish.kafka.topic")),
		}

		if len(cfg.Publish.Kafka.Brokers) == 0 {
			return nil, fmt.Errorf("publish.kafka.brokers is required when kafka is configured")
		}
		if cfg.Publish.Kafka.Topic == "" {
			return nil, fmt.Errorf("publish.kafka.topic is required when kafka is configured")
		}
	}

	// Parse optional Telegram config.
	if p.v.IsSet("publish.telegram") {
		cfg.Publish.Telegram = &models.TelegramConfig{
			BotToken: p.expandEnv(p.v.GetString("publish.telegram.bot_token")),
			ChatID:   p.expandEnv(p.v.GetString("publish.telegram.chat_id")),
		}

		if cfg.Publish.Telegram.BotToken == "" {
			return nil, fmt.Errorf("publish.telegram.bot_token is required when telegram is configured")
		}
		if cfg.Publish.Telegram.ChatID == "" {
			return nil, fmt.Errorf("publish.telegram.chat_id is required when telegram is configured")
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (p *Parser) connection(raw rawConnection) (models.ConnectionConfig, error) {
	conn := models.ConnectionConfig{
		Host:           raw.Host,
		Port:           raw.Port,
		Username:       raw.Username,
		KeyPath:        p.expandEnv(raw.KeyPath),
		Password:       p.expandEnv(raw.Password),
		KnownHosts:     p.expandEnv(raw.KnownHosts),
		ConnectTimeout: raw.ConnectTimeout,
	}

	if conn.Host == "" {
		return conn, fmt.Errorf("host is required")
	}
	if conn.KeyPath == "" && conn.Password == "" {
		return conn, fmt.Errorf("one of key_path or password is required: %w", ssh.ErrCredentialMissing)
	}
	if conn.KeyPath != "" && conn.Password != "" {
		return conn, fmt.Errorf("key_path and password are mutually exclusive")
	}

	if conn.Port == 0 {
		conn.Port = defaultPort
	}
	if conn.Username == "" {
		conn.Username = defaultUsername
	}
	if conn.ConnectTimeout == 0 {
		conn.ConnectTimeout = defaultConnectTimeout
	}

	if raw.Reconnect != nil {
		conn.Reconnect = &models.ReconnectConfig{
			InitialInterval: raw.Reconnect.InitialInterval,
			MaxInterval:     raw.Reconnect.MaxInterval,
		}
	}

	if raw.WakeOnLAN != nil {
		if raw.WakeOnLAN.MACAddress == "" {
			return conn, fmt.Errorf("wake_on_lan.mac_address is required when wake_on_lan is configured")
		}

		conn.WakeOnLAN = &models.WOLConfig{
			MACAddress:  raw.WakeOnLAN.MACAddress,
			BroadcastIP: raw.WakeOnLAN.BroadcastIP,
			MinInterval: raw.WakeOnLAN.MinInterval,
		}

		if conn.WakeOnLAN.BroadcastIP == "" {
			conn.WakeOnLAN.BroadcastIP = "255.255.255.255"
		}
	}

	return conn, nil
}

// expandEnv expands environment variables in the format ${VAR} or $VAR.
func (p *Parser) expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Validate performs validation on the loaded configuration.
func Validate(cfg *models.Config) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}

	if len(cfg.Sensors) == 0 && len(cfg.Switches) == 0 {
		return fmt.Errorf("at least one sensor or switch is required")
	}

	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return fmt.Errorf("invalid configuration: %s", formatValidationErrors(verrs))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}

	seen := make(map[string]string, len(cfg.Sensors)+len(cfg.Switches))
	for _, s := range cfg.Sensors {
		if kind, ok := seen[s.Name]; ok {
			return fmt.Errorf("duplicate source name %q (already used by a %s)", s.Name, kind)
		}
		seen[s.Name] = "sensor"
	}
	for _, s := range cfg.Switches {
		if kind, ok := seen[s.Name]; ok {
			return fmt.Errorf("duplicate source name %q (already used by a %s)", s.Name, kind)
		}
		seen[s.Name] = "switch"
	}

	return nil
}

func formatValidationErrors(verrs validator.ValidationErrors) string {
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "Config.")
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s failed %s=%s", field, fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s failed %s", field, fe.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}
