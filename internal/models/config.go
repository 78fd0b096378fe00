// Package models contains the data structures used throughout sshsource.
package models

import "time"

// Config holds the complete configuration for a sshsource process.
type Config struct {
	Sensors  []SensorConfig `validate:"dive"`
	Switches []SwitchConfig `validate:"dive"`
	Publish  PublishConfig
}

// ConnectionConfig holds the SSH connection settings of a single source.
// Every source owns its own session; nothing is shared between sources.
type ConnectionConfig struct {
	Host           string           `validate:"required"`
	Port           int              `validate:"min=1,max=65535"`
	Username       string           `validate:"required"`
	KeyPath        string           `validate:"required_without=Password,excluded_with=Password"`
	Password       string           `validate:"required_without=KeyPath"`
	KnownHosts     string           // optional known_hosts file
	ConnectTimeout time.Duration    `validate:"min=0"`
	Reconnect      *ReconnectConfig // nil if not configured
	WakeOnLAN      *WOLConfig       // nil if not configured
}

// Credential returns the credential selected by the configuration.
// A password wins over a key path, matching the original lookup order.
func (c ConnectionConfig) Credential() Credential {
	if c.Password != "" {
		return PasswordCredential(c.Password)
	}
	if c.KeyPath != "" {
		return PrivateKeyCredential(c.KeyPath)
	}
	return Credential{}
}

// Target converts the connection settings into a RemoteTarget.
func (c ConnectionConfig) Target() RemoteTarget {
	return RemoteTarget{
		Host:           c.Host,
		Port:           c.Port,
		Username:       c.Username,
		Credential:     c.Credential(),
		KnownHostsPath: c.KnownHosts,
		ConnectTimeout: c.ConnectTimeout,
		Reconnect:      c.Reconnect,
		WakeOnLAN:      c.WakeOnLAN,
	}
}

// SensorConfig configures a read-only source.
type SensorConfig struct {
	Name          string `validate:"required"`
	Connection    ConnectionConfig
	Command       string        `validate:"required"`
	Timeout       time.Duration `validate:"gt=0"`
	PollInterval  time.Duration `validate:"gt=0"`
	ValueTemplate string        `validate:"gotemplate"`
}

// ReadSpec returns the command run on every poll.
func (c SensorConfig) ReadSpec() CommandSpec {
	return CommandSpec{Command: c.Command, Timeout: c.Timeout}
}

// SwitchConfig configures an on/off source.
type SwitchConfig struct {
	Name          string `validate:"required"`
	Connection    ConnectionConfig
	CommandOn     string        `validate:"required"`
	CommandOff    string        `validate:"required"`
	CommandState  string        // optional; enables state refresh polling
	Timeout       time.Duration `validate:"gt=0"`
	PollInterval  time.Duration `validate:"gt=0"`
	ValueTemplate string        `validate:"gotemplate"`
}

// OnSpec returns the activation command.
func (c SwitchConfig) OnSpec() CommandSpec {
	return CommandSpec{Command: c.CommandOn, Timeout: c.Timeout}
}

// OffSpec returns the deactivation command.
func (c SwitchConfig) OffSpec() CommandSpec {
	return CommandSpec{Command: c.CommandOff, Timeout: c.Timeout}
}

// StateSpec returns the state check command, if configured.
func (c SwitchConfig) StateSpec() (CommandSpec, bool) {
	if c.CommandState == "" {
		return CommandSpec{}, false
	}
	return CommandSpec{Command: c.CommandState, Timeout: c.Timeout}, true
}

// PublishConfig selects where updates are pushed.
type PublishConfig struct {
	Log      bool
	Kafka    *KafkaConfig    // nil if not configured
	Telegram *TelegramConfig // nil if not configured
}

// KafkaConfig holds the Kafka sink configuration.
type KafkaConfig struct {
	Brokers []string `validate:"required,min=1,dive,hostname_port"`
	Topic   string   `validate:"required"`
}
