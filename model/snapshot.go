package model

import "time"

// GroundContact is the visibility of the configured ground station.
type GroundContact struct {
	Station      string  `json:"station"`
	ElevationDeg float64 `json:"elevation_deg"`
	InContact    bool    `json:"in_contact"`
}

// PowerSummary is the electrical state reported alongside each packet.
type PowerSummary struct {
	BatteryChargePct float64 `json:"battery_charge_pct"`
	BatteryVoltage   float64 `json:"battery_voltage"`
	BalanceW         float64 `json:"balance_w"`
	SolarW           float64 `json:"solar_w"`
	LoadW            float64 `json:"load_w"`
}

// Snapshot is the decoded spacecraft state at one simulation tick.
type Snapshot struct {
	Tick               uint64        `json:"tick"`
	Time               time.Time     `json:"time"`
	MissionElapsedSec  uint32        `json:"met"`
	Orbit              OrbitState    `json:"orbit"`
	Attitude           AttitudeState `json:"attitude"`
	AtmosphericDensity float64       `json:"atmospheric_density_kg_m3"`
	Ground             GroundContact `json:"ground"`
	Power              PowerSummary  `json:"power"`
	SequenceCount      uint16        `json:"sequence_count"`
	PacketBytes        int           `json:"packet_bytes"`
	QueuedCommands     int           `json:"queued_commands"`
}
