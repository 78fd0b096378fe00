package models

import (
	"strings"
	"time"
)

// CredentialKind selects the authentication strategy for a target.
type CredentialKind int

const (
	// CredentialNone is the zero value and never valid.
	CredentialNone CredentialKind = iota
	// CredentialPassword authenticates with a password.
	CredentialPassword
	// CredentialPrivateKey authenticates with a private key file.
	CredentialPrivateKey
)

func (k CredentialKind) String() string {
	switch k {
	case CredentialPassword:
		return "password"
	case CredentialPrivateKey:
		return "private_key"
	default:
		return "none"
	}
}

// Credential holds exactly one authentication secret. Only the field that
// matches Kind is meaningful.
type Credential struct {
	Kind     CredentialKind
	Password string
	KeyPath  string
}

// PasswordCredential returns a password credential.
func PasswordCredential(secret string) Credential {
	return Credential{Kind: CredentialPassword, Password: secret}
}

// PrivateKeyCredential returns a private key credential read from path.
func PrivateKeyCredential(path string) Credential {
	return Credential{Kind: CredentialPrivateKey, KeyPath: path}
}

// RemoteTarget describes one SSH endpoint.
type RemoteTarget struct {
	Host           string
	Port           int
	Username       string
	Credential     Credential
	KnownHostsPath string        // empty disables host key verification
	ConnectTimeout time.Duration // handshake timeout
	Reconnect      *ReconnectConfig
	WakeOnLAN      *WOLConfig
}

// ReconnectConfig throttles connect attempts after failures.
type ReconnectConfig struct {
	InitialInterval time.Duration `validate:"gt=0"`
	MaxInterval     time.Duration `validate:"gtefield=InitialInterval"`
}

// CommandSpec is a fixed command with its execution timeout.
type CommandSpec struct {
	Command string
	Timeout time.Duration
}

// CapturedOutput holds the result of one command execution.
type CapturedOutput struct {
	Stdout     []byte
	ExitStatus *int // nil when the remote side did not report one
}

// Text decodes Stdout as UTF-8, replacing invalid sequences.
func (o *CapturedOutput) Text() string {
	if o == nil {
		return ""
	}
	return strings.ToValidUTF8(string(o.Stdout), "�")
}
