// Package housekeeping holds the state every subsystem reports (power state,
// temperature, heater) together with the big-endian record and parameter
// codecs shared by the subsystem command handlers.
package housekeeping

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/signalsfoundry/smallsat-twin/model"
)

var (
	// ErrMalformedPayload is returned when a command payload has the wrong
	// length for its parameters.
	ErrMalformedPayload = errors.New("malformed command payload")
	// ErrInvalidParameter is returned when a decoded parameter is out of range.
	ErrInvalidParameter = errors.New("invalid command parameter")
	// ErrUnknownCommand is returned for an unassigned ID inside a subsystem's
	// decade.
	ErrUnknownCommand = errors.New("unknown command")
)

// Config is the initial housekeeping state of a subsystem.
type Config struct {
	State          uint8   `mapstructure:"state"`
	Temperature    float64 `mapstructure:"temperature"`
	HeaterOn       bool    `mapstructure:"heater_on"`
	HeaterSetpoint float64 `mapstructure:"heater_setpoint"`
	PowerDraw      float64 `mapstructure:"power_draw"`
}

// Thermal relaxation constants.
const (
	thermalTimeConstant = 600.0 // seconds
	sunlitAmbient       = 20.0  // °C
	eclipseAmbient      = -10.0 // °C
)

// Housekeeping is the common per-subsystem state.
type Housekeeping struct {
	State          uint8
	Temperature    float64
	HeaterOn       bool
	HeaterSetpoint float64
	PowerDraw      float64
}

// New returns housekeeping initialised from cfg.
func New(cfg Config) Housekeeping {
	return Housekeeping(cfg)
}

// HandleCommon applies the SET_STATE, SET_HEATER and SET_HEATER_SETPOINT
// commands found at offsets 0..2 of every decade. It reports whether the
// command was one of them.
func (h *Housekeeping) HandleCommon(id uint16, payload []byte) (bool, error) {
	switch int(id % 10) {
	case model.OffsetSetState:
		v, err := U8(payload)
		if err != nil {
			return true, err
		}
		h.State = v
	case model.OffsetSetHeater:
		v, err := U8(payload)
		if err != nil {
			return true, err
		}
		h.HeaterOn = v != 0
	case model.OffsetSetHeaterSetpoint:
		v, err := F32(payload)
		if err != nil {
			return true, err
		}
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return true, fmt.Errorf("%w: heater setpoint %v", ErrInvalidParameter, v)
		}
		h.HeaterSetpoint = float64(v)
	default:
		return false, nil
	}
	return true, nil
}

// Step relaxes the temperature toward the heater setpoint when the heater is
// on, or toward the sunlit/eclipse ambient otherwise.
func (h *Housekeeping) Step(dt time.Duration, eclipse bool) {
	target := sunlitAmbient
	if eclipse {
		target = eclipseAmbient
	}
	if h.HeaterOn && h.HeaterSetpoint > target {
		target = h.HeaterSetpoint
	}
	k := 1 - math.Exp(-dt.Seconds()/thermalTimeConstant)
	h.Temperature += (target - h.Temperature) * k
}

// AppendCommon appends state, temperature, heater setpoint and power draw in
// the BBBf layout shared by most subsystems.
func (h Housekeeping) AppendCommon(r *Record) {
	r.U8(h.State).I8(h.Temperature).I8(h.HeaterSetpoint).F32(h.PowerDraw)
}
