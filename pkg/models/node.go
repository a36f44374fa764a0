package models

import "time"

// Node is the persisted record for a mesh node, keyed by its integer mesh
// address. Attribute fields are pointers because most packets only carry a
// subset of them; nil means "never observed".
type Node struct {
	ID                 uint32     `json:"node_id"`
	LongName           *string    `json:"long_name,omitempty"`
	ShortName          *string    `json:"short_name,omitempty"`
	HWModel            *string    `json:"hw_model,omitempty"`
	Role               *string    `json:"role,omitempty"`
	FirstSeen          time.Time  `json:"first_seen"`
	LastSeen           time.Time  `json:"last_seen"`
	Latitude           *float64   `json:"latitude,omitempty"`
	Longitude          *float64   `json:"longitude,omitempty"`
	Altitude           *int32     `json:"altitude,omitempty"`
	PositionTime       *time.Time `json:"position_time,omitempty"`
	BatteryLevel       *int64     `json:"battery_level,omitempty"`
	Voltage            *float64   `json:"voltage,omitempty"`
	ChannelUtilization *float64   `json:"channel_utilization,omitempty"`
	AirUtilTx          *float64   `json:"air_util_tx,omitempty"`
}

// NodeObservation carries the node attributes learned from a single packet.
// Only non-nil fields are applied, and only when ObservedAt is newer than the
// stored last-seen timestamp.
type NodeObservation struct {
	ID                 uint32
	ObservedAt         time.Time
	LongName           *string
	ShortName          *string
	HWModel            *string
	Role               *string
	Latitude           *float64
	Longitude          *float64
	Altitude           *int32
	PositionTime       *time.Time
	BatteryLevel       *int64
	Voltage            *float64
	ChannelUtilization *float64
	AirUtilTx          *float64
}

// NodeFilter narrows node listings for the read side.
type NodeFilter struct {
	ActiveSince time.Time
	Role        string
	Limit       int
}
