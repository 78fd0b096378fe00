// Package wol provides Wake-on-LAN operations for targets that may be asleep.
package wol

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/fgeck/sshsource/internal/models"
	"github.com/mdlayher/wol"
	"github.com/rs/zerolog"
)

// Service defines the interface for Wake-on-LAN operations.
type Service interface {
	Wake(ctx context.Context, cfg models.WOLConfig) (*models.WOLResult, error)
}

// Client wraps the wol library for mocking.
type Client interface {
	Wake(broadcastIP string, mac net.HardwareAddr) error
}

// DefaultClient is the default implementation using mdlayher/wol.
type DefaultClient struct{}

// Wake sends a magic packet to the specified MAC address.
func (c *DefaultClient) Wake(broadcastIP string, mac net.HardwareAddr) error {
	client, err := wol.NewClient()
	if err != nil {
		return fmt.Errorf("failed to create WOL client: %w", err)
	}
	defer func() { _ = client.Close() }()

	ip := net.ParseIP(broadcastIP)
	if ip == nil {
		return fmt.Errorf("invalid broadcast IP: %s", broadcastIP)
	}

	if err := client.Wake(net.JoinHostPort(ip.String(), "9"), mac); err != nil {
		return fmt.Errorf("failed to send WOL packet: %w", err)
	}

	return nil
}

// Impl implements the WOL Service interface. It remembers when the last
// packet went out per MAC address so repeated connect failures do not flood
// the network.
type Impl struct {
	client Client
	logger zerolog.Logger
	now    func() time.Time

	mu       sync.Mutex
	lastSent map[string]time.Time
}

// New creates a new WOL service.
func New(logger zerolog.Logger) *Impl {
	return NewWithClient(logger, &DefaultClient{})
}

// NewWithClient creates a new WOL service with a custom client (for testing).
func NewWithClient(logger zerolog.Logger, client Client) *Impl {
	return &Impl{
		client:   client,
		logger:   logger,
		now:      time.Now,
		lastSent: make(map[string]time.Time),
	}
}

// Wake sends a magic packet unless one was sent to the same MAC address
// within cfg.MinInterval.
func (s *Impl) Wake(ctx context.Context, cfg models.WOLConfig) (*models.WOLResult, error) {
	result := &models.WOLResult{}

	mac, err := net.ParseMAC(cfg.MACAddress)
	if err != nil {
		result.Error = fmt.Errorf("invalid MAC address %q: %w", cfg.MACAddress, err)
		return result, nil
	}

	if err := ctx.Err(); err != nil {
		result.Error = err
		return result, nil
	}

	broadcast := cfg.BroadcastIP
	if broadcast == "" {
		broadcast = "255.255.255.255"
	}

	key := mac.String()
	s.mu.Lock()
	last, seen := s.lastSent[key]
	if seen && cfg.MinInterval > 0 && s.now().Sub(last) < cfg.MinInterval {
		s.mu.Unlock()
		result.Skipped = true
		s.logger.Debug().
			Str("mac", key).
			Dur("min_interval", cfg.MinInterval).
			Msg("WOL packet rate limited")
		return result, nil
	}
	s.lastSent[key] = s.now()
	s.mu.Unlock()

	s.logger.Info().
		Str("mac", key).
		Str("broadcast", broadcast).
		Msg("sending WOL packet")

	if err := s.client.Wake(broadcast, mac); err != nil {
		result.Error = err
		return result, nil //nolint:nilerr // error is stored in result struct by design
	}

	result.PacketSent = true
	return result, nil
}
