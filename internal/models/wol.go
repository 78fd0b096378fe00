package models

import "time"

// WOLConfig holds Wake-on-LAN configuration for a target that may be asleep.
type WOLConfig struct {
	MACAddress  string        `validate:"required,mac"`
	BroadcastIP string        `validate:"omitempty,ip"`
	MinInterval time.Duration `validate:"min=0"` // minimum time between two magic packets
}

// WOLResult holds the result of a Wake-on-LAN operation.
type WOLResult struct {
	PacketSent bool
	Skipped    bool // rate limited by MinInterval
	Error      error
}
