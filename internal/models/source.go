package models

import "time"

// ActuationState is the externally visible state of a switch.
type ActuationState struct {
	On    bool    // last commanded direction, not verified remote truth
	Value *string // last transformed state check output, nil until first refresh
}

// UpdateKind tells publishers what produced an update.
type UpdateKind string

const (
	UpdateSample  UpdateKind = "sample"
	UpdateTurnOn  UpdateKind = "turn_on"
	UpdateTurnOff UpdateKind = "turn_off"
	UpdateRefresh UpdateKind = "refresh"
	UpdateFailure UpdateKind = "failure"
)

// Update is what a source pushes to its publishers.
type Update struct {
	ID       string     `json:"id"`
	Source   string     `json:"source"`
	Kind     UpdateKind `json:"kind"`
	Action   string     `json:"action,omitempty"` // "on" or "off" for actuation updates
	Value    string     `json:"value,omitempty"`
	HasValue bool       `json:"has_value"`
	On       bool       `json:"on,omitempty"`
	HasState bool       `json:"has_state"`
	Error    string     `json:"error,omitempty"`
	Time     time.Time  `json:"time"`
}
