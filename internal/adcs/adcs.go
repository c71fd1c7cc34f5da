// Package adcs models the attitude determination and control subsystem:
// the pointing-mode state machine, slew kinematics and its telemetry record.
package adcs

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/signalsfoundry/smallsat-twin/internal/housekeeping"
	"github.com/signalsfoundry/smallsat-twin/internal/logging"
	"github.com/signalsfoundry/smallsat-twin/model"
)

// Reason classifies an attitude update failure.
type Reason string

const (
	ReasonDegenerateTarget Reason = "degenerate_target"
	ReasonNonFinite        Reason = "non_finite_attitude"
)

// UpdateError is returned by Update when the attitude could not be advanced.
// The module is left UNCONTROLLED.
type UpdateError struct {
	Reason Reason
	Detail string
}

func (e *UpdateError) Error() string {
	return fmt.Sprintf("adcs update: %s: %s", e.Reason, e.Detail)
}

// Config holds the ADCS initial state and pointing requirements.
type Config struct {
	Housekeeping housekeeping.Config

	Mode                 model.ADCSMode
	Status               model.ADCSStatus
	Quaternion           model.Quaternion
	AngularVelocity      r3.Vec // deg/s
	AccuracyThresholdDeg float64
	NominalSlewRateDegS  float64
	MaxSlewRateDegS      float64
	TimeStep             time.Duration
}

// Module is the attitude control subsystem. All methods must be called from
// the simulation thread.
type Module struct {
	hk     housekeeping.Housekeeping
	cfg    Config
	log    logging.Logger
	noise  Noise
	dt     float64
	state  model.AttitudeState
	lock   *model.Quaternion
	orbit  model.OrbitState
	primed bool
}

// Option configures a Module.
type Option func(*Module)

// WithNoise replaces the random jitter source.
func WithNoise(n Noise) Option {
	return func(m *Module) {
		if n != nil {
			m.noise = n
		}
	}
}

// New constructs the ADCS module from cfg.
func New(cfg Config, log logging.Logger, opts ...Option) (*Module, error) {
	if log == nil {
		log = logging.Noop()
	}
	if !cfg.Mode.Valid() {
		return nil, fmt.Errorf("adcs: invalid initial mode %d", cfg.Mode)
	}
	if cfg.TimeStep <= 0 {
		return nil, errors.New("adcs: time step must be positive")
	}
	if cfg.NominalSlewRateDegS <= 0 || cfg.AccuracyThresholdDeg <= 0 {
		return nil, errors.New("adcs: slew rate and accuracy threshold must be positive")
	}
	if cfg.MaxSlewRateDegS < cfg.NominalSlewRateDegS {
		cfg.MaxSlewRateDegS = cfg.NominalSlewRateDegS + 0.1
	}
	q := cfg.Quaternion
	if q == (model.Quaternion{}) {
		q = model.IdentityQuaternion
	}

	m := &Module{
		hk:    housekeeping.New(cfg.Housekeeping),
		cfg:   cfg,
		log:   log.With(logging.String("subsystem", model.SubsystemADCS.String())),
		noise: NewNoise(uint64(time.Now().UnixNano())),
		dt:    cfg.TimeStep.Seconds(),
		state: model.AttitudeState{
			Mode:            cfg.Mode,
			Status:          cfg.Status,
			Quaternion:      q,
			AngularVelocity: cfg.AngularVelocity,
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// State returns the current attitude snapshot.
func (m *Module) State() model.AttitudeState { return m.state }

// Quaternion returns the current body-to-inertial attitude.
func (m *Module) Quaternion() model.Quaternion { return m.state.Quaternion }

// Position returns the latitude, longitude (deg) and altitude (km) from the
// last orbit state seen by Update.
func (m *Module) Position() (lat, lon, alt float64) {
	return m.orbit.LatitudeDeg, m.orbit.LongitudeDeg, m.orbit.AltitudeKm
}

// Eclipse reports the eclipse flag from the last orbit state.
func (m *Module) Eclipse() bool { return m.orbit.Eclipse }

// Housekeeping returns the common subsystem state.
func (m *Module) Housekeeping() housekeeping.Housekeeping { return m.hk }

// Update advances the attitude state machine by one tick using the orbit
// state for the same instant. On failure the module transitions to
// UNCONTROLLED and the returned state reflects that.
func (m *Module) Update(ctx context.Context, orbit model.OrbitState) (model.AttitudeState, error) {
	if m.primed && orbit.Time.Equal(m.orbit.Time) {
		return m.state, nil
	}
	if m.primed && m.orbit.Eclipse != orbit.Eclipse {
		m.log.Info(ctx, "eclipse state changed", logging.Bool("eclipse", orbit.Eclipse))
	}
	m.orbit, m.primed = orbit, true
	m.hk.Step(m.cfg.TimeStep, orbit.Eclipse)

	next, err := m.step(orbit)
	if err == nil && !finite(next.Quaternion) {
		err = &UpdateError{Reason: ReasonNonFinite, Detail: fmt.Sprintf("quaternion %v", next.Quaternion)}
	}
	if err != nil {
		m.state.Status = model.StatusUncontrolled
		m.log.Error(ctx, "attitude update failed; attitude uncontrolled",
			logging.String("mode", m.state.Mode.String()),
			logging.Err(err),
		)
		return m.state, err
	}

	if next.Status != m.state.Status {
		m.log.Info(ctx, "adcs status changed",
			logging.String("from", m.state.Status.String()),
			logging.String("to", next.Status.String()),
			logging.Float("error_angle_deg", next.ErrorAngleDeg),
		)
	}
	m.state = next
	return m.state, nil
}

func (m *Module) step(orbit model.OrbitState) (model.AttitudeState, error) {
	cur := m.state
	if cur.Mode == model.ModeOff {
		return m.drift(cur), nil
	}
	if !finite(cur.Quaternion) || Norm(cur.Quaternion) < degenerateNorm {
		return cur, &UpdateError{Reason: ReasonNonFinite, Detail: fmt.Sprintf("current quaternion %v", cur.Quaternion)}
	}

	desired, err := m.target(cur, orbit)
	if err != nil {
		return cur, err
	}

	if cur.Status == model.StatusPointingAchieved {
		return m.hold(cur, desired), nil
	}
	return m.slew(cur, desired), nil
}

func (m *Module) target(cur model.AttitudeState, orbit model.OrbitState) (model.Quaternion, error) {
	switch cur.Mode {
	case model.ModeLock:
		if m.lock == nil {
			q := Normalize(cur.Quaternion)
			m.lock = &q
		}
		return *m.lock, nil
	case model.ModeSunPointing:
		return sunPointingTarget(orbit.Sun)
	case model.ModeNadir, model.ModeDownload:
		return earthPointingTarget(orbit.Position, cur.Mode)
	default:
		return model.Quaternion{}, &UpdateError{Reason: ReasonDegenerateTarget, Detail: "no target for mode " + cur.Mode.String()}
	}
}

// slew moves each Euler axis toward the target at the nominal rate plus
// jitter without overshooting.
func (m *Module) slew(cur model.AttitudeState, desired model.Quaternion) model.AttitudeState {
	c := eulerOf(cur.Quaternion)
	d := eulerOf(desired)

	var rates, residual [3]float64
	for i := range c {
		errDeg := wrapDegrees(d[i] - c[i])
		rate := math.Min(math.Max(m.cfg.NominalSlewRateDegS+m.noise.Uniform(-0.1, 0.1), 0), m.cfg.MaxSlewRateDegS)
		step := math.Copysign(math.Min(rate*m.dt, math.Abs(errDeg)), errDeg)
		c[i] += step
		rates[i] = step / m.dt
		residual[i] = wrapDegrees(d[i] - c[i])
	}

	next := cur
	next.Quaternion = EulerToQuaternion(c[0], c[1], c[2])
	next.AngularVelocity = r3.Vec{X: rates[0], Y: rates[1], Z: rates[2]}
	next.ErrorAngleDeg = ErrorAngle(next.Quaternion, desired)
	next.Status = model.StatusSlewing

	limit := 2 * m.cfg.AccuracyThresholdDeg
	if math.Abs(residual[0]) <= limit && math.Abs(residual[1]) <= limit && math.Abs(residual[2]) <= limit {
		next.Status = model.StatusPointingAchieved
		next.AngularVelocity = r3.Vec{
			X: m.noise.Uniform(-0.001, 0.001),
			Y: m.noise.Uniform(-0.001, 0.001),
			Z: m.noise.Uniform(-0.001, 0.001),
		}
	}
	return next
}

// hold keeps the target attitude with ±0.1° jitter per axis.
func (m *Module) hold(cur model.AttitudeState, desired model.Quaternion) model.AttitudeState {
	d := eulerOf(desired)
	jitter := r3.Vec{
		X: m.noise.Uniform(-0.1, 0.1),
		Y: m.noise.Uniform(-0.1, 0.1),
		Z: m.noise.Uniform(-0.1, 0.1),
	}
	next := cur
	next.Quaternion = EulerToQuaternion(d[0]+jitter.X, d[1]+jitter.Y, d[2]+jitter.Z)
	next.AngularVelocity = jitter
	next.ErrorAngleDeg = ErrorAngle(next.Quaternion, desired)
	return next
}

// drift applies small positive body rates with no target tracking.
func (m *Module) drift(cur model.AttitudeState) model.AttitudeState {
	next := cur
	next.Status = model.StatusUncontrolled
	next.ErrorAngleDeg = 0
	if !finite(cur.Quaternion) || Norm(cur.Quaternion) < degenerateNorm {
		// Nothing to integrate from; report the invalid attitude.
		return next
	}
	c := eulerOf(cur.Quaternion)
	rates := r3.Vec{
		X: m.noise.Uniform(0.001, 0.1),
		Y: m.noise.Uniform(0.001, 0.1),
		Z: m.noise.Uniform(0.001, 0.1),
	}
	next.Quaternion = EulerToQuaternion(c[0]+rates.X*m.dt, c[1]+rates.Y*m.dt, c[2]+rates.Z*m.dt)
	next.AngularVelocity = rates
	return next
}

func eulerOf(q model.Quaternion) [3]float64 {
	r, p, y := QuaternionToEuler(q)
	return [3]float64{r, p, y}
}

// wrapDegrees maps an angle difference into [-180, 180).
func wrapDegrees(a float64) float64 {
	a = math.Mod(a+180, 360)
	if a < 0 {
		a += 360
	}
	return a - 180
}
