package model

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"
)

// ADCSMode is the commanded pointing mode.
type ADCSMode uint8

const (
	ModeOff ADCSMode = iota
	ModeLock
	ModeSunPointing
	ModeNadir
	ModeDownload
)

// MaxADCSMode is the highest valid mode value.
const MaxADCSMode = ModeDownload

func (m ADCSMode) String() string {
	switch m {
	case ModeOff:
		return "OFF"
	case ModeLock:
		return "LOCK"
	case ModeSunPointing:
		return "SUNPOINTING"
	case ModeNadir:
		return "NADIR"
	case ModeDownload:
		return "DOWNLOAD"
	default:
		return fmt.Sprintf("ADCSMode(%d)", uint8(m))
	}
}

// Valid reports whether m is one of the defined modes.
func (m ADCSMode) Valid() bool { return m <= MaxADCSMode }

// ADCSStatus reports pointing progress.
type ADCSStatus uint8

const (
	StatusUncontrolled ADCSStatus = iota
	StatusSlewing
	StatusPointingAchieved
)

func (s ADCSStatus) String() string {
	switch s {
	case StatusUncontrolled:
		return "UNCONTROLLED"
	case StatusSlewing:
		return "SLEWING"
	case StatusPointingAchieved:
		return "POINTING_ACHIEVED"
	default:
		return fmt.Sprintf("ADCSStatus(%d)", uint8(s))
	}
}

// Quaternion is a scalar-last unit quaternion [x, y, z, w] rotating body
// vectors into the inertial frame.
type Quaternion [4]float64

// IdentityQuaternion is the zero rotation.
var IdentityQuaternion = Quaternion{0, 0, 0, 1}

// AttitudeState is the ADCS snapshot published each tick.
type AttitudeState struct {
	Mode            ADCSMode   `json:"mode"`
	Status          ADCSStatus `json:"status"`
	Quaternion      Quaternion `json:"quaternion"`
	AngularVelocity r3.Vec     `json:"angular_velocity_deg_s"`
	ErrorAngleDeg   float64    `json:"error_angle_deg"`
}
