// Package subsystems holds the housekeeping models of the bus subsystems
// other than ADCS and CDH: on-board computer, electrical power,
// communications, payload and datastore. Each owns one command decade and
// one fixed-layout telemetry record.
package subsystems

import (
	"context"
	"fmt"
	"time"

	"github.com/signalsfoundry/smallsat-twin/internal/housekeeping"
	"github.com/signalsfoundry/smallsat-twin/internal/logging"
	"github.com/signalsfoundry/smallsat-twin/model"
)

// OBC operating modes.
const (
	OBCModeSafe    uint8 = 0
	OBCModeNominal uint8 = 1
	OBCModePayload uint8 = 2
)

// OBCConfig is the initial OBC state.
type OBCConfig struct {
	Housekeeping housekeeping.Config `mapstructure:",squash"`
	Mode         uint8               `mapstructure:"mode"`
}

// OBC is the on-board computer.
type OBC struct {
	hk   housekeeping.Housekeeping
	mode uint8
	log  logging.Logger
}

// NewOBC returns an OBC initialised from cfg.
func NewOBC(cfg OBCConfig, log logging.Logger) *OBC {
	if log == nil {
		log = logging.Noop()
	}
	return &OBC{
		hk:   housekeeping.New(cfg.Housekeeping),
		mode: cfg.Mode,
		log:  log.With(logging.String("subsystem", model.SubsystemOBC.String())),
	}
}

func (o *OBC) Mode() uint8                             { return o.mode }
func (o *OBC) Housekeeping() housekeeping.Housekeeping { return o.hk }

// Step advances the board temperature.
func (o *OBC) Step(dt time.Duration, eclipse bool) { o.hk.Step(dt, eclipse) }

// ProcessCommand applies an OBC command (IDs 10-19).
func (o *OBC) ProcessCommand(ctx context.Context, id uint16, payload []byte) error {
	if handled, err := o.hk.HandleCommon(id, payload); handled {
		return err
	}
	switch id {
	case model.CmdOBCSetMode:
		v, err := housekeeping.U8(payload)
		if err != nil {
			return err
		}
		if v > OBCModePayload {
			return fmt.Errorf("%w: obc mode %d", housekeeping.ErrInvalidParameter, v)
		}
		o.mode = v
		o.log.Info(ctx, "obc mode set", logging.Int("mode", int(v)))
		return nil
	case model.CmdOBCReset:
		if err := housekeeping.Empty(payload); err != nil {
			return err
		}
		o.hk.State = 0
		o.hk.HeaterOn = false
		o.hk.HeaterSetpoint = 0
		o.mode = OBCModeSafe
		o.log.Warn(ctx, "obc reset")
		return nil
	}
	return fmt.Errorf("%w: obc %d", housekeeping.ErrUnknownCommand, id)
}

// Telemetry packs state, temperature, heater setpoint, power draw, mode.
func (o *OBC) Telemetry() []byte {
	r := housekeeping.NewRecord(8)
	o.hk.AppendCommon(r)
	return r.U8(o.mode).Bytes()
}
