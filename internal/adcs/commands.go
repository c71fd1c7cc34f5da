package adcs

import (
	"context"
	"fmt"

	"github.com/signalsfoundry/smallsat-twin/internal/housekeeping"
	"github.com/signalsfoundry/smallsat-twin/internal/logging"
	"github.com/signalsfoundry/smallsat-twin/model"
)

// telemetryLen is the size of the >BbbfBBffffffffffB record.
const telemetryLen = 50

// ProcessCommand applies an ADCS command (IDs 30-39).
func (m *Module) ProcessCommand(ctx context.Context, id uint16, payload []byte) error {
	if handled, err := m.hk.HandleCommon(id, payload); handled {
		if err == nil {
			m.log.Info(ctx, "housekeeping command applied", logging.Uint("command_id", uint64(id)))
		}
		return err
	}

	switch id {
	case model.CmdADCSSetMode:
		v, err := housekeeping.U8(payload)
		if err != nil {
			return err
		}
		mode := model.ADCSMode(v)
		if !mode.Valid() {
			return fmt.Errorf("%w: adcs mode %d", housekeeping.ErrInvalidParameter, v)
		}
		m.state.Mode = mode
		m.state.Status = model.StatusSlewing
		m.lock = nil
		m.log.Info(ctx, "beginning slew to requested mode", logging.String("mode", mode.String()))
		return nil

	case model.CmdADCSSetQuaternion:
		v, err := housekeeping.F32s(payload, 4)
		if err != nil {
			return err
		}
		// Stored as received; the next kinematic update renormalises.
		m.state.Quaternion = model.Quaternion{float64(v[0]), float64(v[1]), float64(v[2]), float64(v[3])}
		m.log.Info(ctx, "quaternion overwritten", logging.Any("quaternion", m.state.Quaternion))
		return nil
	}
	return fmt.Errorf("%w: adcs %d", housekeeping.ErrUnknownCommand, id)
}

// Telemetry packs the ADCS record:
// state u8, temperature i8, heater setpoint i8, power draw f32, mode u8,
// status u8, quaternion 4×f32, angular velocity 3×f32 (deg/s),
// latitude f32, longitude f32, altitude f32, eclipse u8.
func (m *Module) Telemetry() []byte {
	s := m.state
	r := housekeeping.NewRecord(telemetryLen)
	m.hk.AppendCommon(r)
	r.U8(uint8(s.Mode)).U8(uint8(s.Status))
	for _, v := range s.Quaternion {
		r.F32(v)
	}
	r.F32(s.AngularVelocity.X).F32(s.AngularVelocity.Y).F32(s.AngularVelocity.Z)
	r.F32(m.orbit.LatitudeDeg).F32(m.orbit.LongitudeDeg).F32(m.orbit.AltitudeKm)
	r.Bool(m.orbit.Eclipse)
	return r.Bytes()
}
