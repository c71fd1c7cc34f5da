package core

import (
	"errors"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/signalsfoundry/smallsat-twin/model"
)

// keplerIterations is the fixed number of fixed-point iterations used to
// solve Kepler's equation.
const keplerIterations = 10

var (
	// ErrInvalidElements is returned for element sets that do not describe a
	// closed orbit above the Earth's centre.
	ErrInvalidElements = errors.New("invalid orbital elements")
)

// OrbitPropagator advances a Keplerian orbit with a first-order J2 position
// correction. It is not safe for concurrent use; the simulation thread owns
// it.
type OrbitPropagator struct {
	elements model.OrbitalElements
	sun      Ephemeris

	meanMotion   float64 // rad/s
	meanAnomaly0 float64 // rad at epoch
	period       time.Duration
	rotation     *mat.Dense // perifocal -> ECI
	j2Step       float64    // seconds

	lastTime  time.Time
	lastState model.OrbitState
	haveLast  bool
}

// PropagatorOption configures an OrbitPropagator.
type PropagatorOption func(*OrbitPropagator)

// WithJ2Step sets the time horizon used for the J2 position correction.
// A zero or negative step disables the correction.
func WithJ2Step(d time.Duration) PropagatorOption {
	return func(p *OrbitPropagator) {
		p.j2Step = d.Seconds()
	}
}

// WithSun overrides the Sun model used for eclipse detection.
func WithSun(e Ephemeris) PropagatorOption {
	return func(p *OrbitPropagator) {
		if e != nil {
			p.sun = e
		}
	}
}

// NewOrbitPropagator validates the element set and precomputes the mean
// motion, period and perifocal rotation.
func NewOrbitPropagator(el model.OrbitalElements, opts ...PropagatorOption) (*OrbitPropagator, error) {
	if !(el.SemiMajorAxisKm > 0) || math.IsInf(el.SemiMajorAxisKm, 0) {
		return nil, fmt.Errorf("%w: semi-major axis %v km", ErrInvalidElements, el.SemiMajorAxisKm)
	}
	if !(el.Eccentricity >= 0 && el.Eccentricity < 1) {
		return nil, fmt.Errorf("%w: eccentricity %v outside [0, 1)", ErrInvalidElements, el.Eccentricity)
	}

	a := el.SemiMajorAxisKm
	n := math.Sqrt(EarthMu / (a * a * a))
	p := &OrbitPropagator{
		elements:     el,
		sun:          CircularSun{},
		meanMotion:   n,
		meanAnomaly0: trueToMeanAnomaly(el.TrueAnomaly, el.Eccentricity),
		period:       time.Duration(2 * math.Pi / n * float64(time.Second)),
		rotation:     perifocalToECI(el.RAAN, el.Inclination, el.ArgOfPerigee),
		j2Step:       1,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Elements returns the element set the propagator was built from.
func (p *OrbitPropagator) Elements() model.OrbitalElements { return p.elements }

// Period returns the orbital period 2π·sqrt(a³/μ).
func (p *OrbitPropagator) Period() time.Duration { return p.period }

// Propagate returns the orbit state at t. Repeated queries for the same
// instant return the memoised state.
func (p *OrbitPropagator) Propagate(t time.Time) model.OrbitState {
	if p.haveLast && t.Equal(p.lastTime) {
		return p.lastState
	}

	e := p.elements.Eccentricity
	a := p.elements.SemiMajorAxisKm
	dt := t.Sub(p.elements.Epoch).Seconds()

	m := math.Mod(p.meanAnomaly0+p.meanMotion*dt, 2*math.Pi)
	if m < 0 {
		m += 2 * math.Pi
	}
	ecc := solveKepler(m, e)
	nu := 2 * math.Atan(math.Sqrt((1+e)/(1-e))*math.Tan(ecc/2))
	r := a * (1 - e*math.Cos(ecc))

	sinNu, cosNu := math.Sincos(nu)
	semiLatus := a * (1 - e*e)
	h := math.Sqrt(EarthMu / semiLatus)

	pos := p.toECI(r3.Vec{X: r * cosNu, Y: r * sinNu})
	vel := p.toECI(r3.Vec{X: -h * sinNu, Y: h * (e + cosNu)})

	if p.j2Step > 0 {
		acc := J2Acceleration(pos)
		pos = r3.Add(pos, r3.Scale(0.5*p.j2Step*p.j2Step, acc))
	}

	sun := p.sun.PositionAt(t)
	rn := r3.Norm(pos)
	state := model.OrbitState{
		Time:         t,
		Position:     pos,
		Velocity:     vel,
		LatitudeDeg:  deg(math.Asin(clampUnit(pos.Z / rn))),
		LongitudeDeg: deg(math.Atan2(pos.Y, pos.X)),
		AltitudeKm:   rn - EarthRadiusKm,
		Eclipse:      InEclipse(pos, sun),
		Sun:          sun,
	}

	p.lastTime, p.lastState, p.haveLast = t, state, true
	return state
}

// InEclipse reports whether the angle between the spacecraft and Sun
// position vectors exceeds 90 degrees.
func InEclipse(pos, sun r3.Vec) bool {
	return AngleBetween(pos, sun) > 90
}

// J2Acceleration returns the J2 perturbing acceleration (km/s²) at pos.
func J2Acceleration(pos r3.Vec) r3.Vec {
	r := r3.Norm(pos)
	if r < degenerateNorm {
		return r3.Vec{}
	}
	r2 := r * r
	j2term := -1.5 * EarthJ2 * EarthMu * EarthRadiusKm * EarthRadiusKm / (r2 * r2)
	zz := 5 * pos.Z * pos.Z / r2
	return r3.Vec{
		X: j2term * pos.X / r * (1 - zz),
		Y: j2term * pos.Y / r * (1 - zz),
		Z: j2term * pos.Z / r * (3 - zz),
	}
}

func (p *OrbitPropagator) toECI(v r3.Vec) r3.Vec {
	var out mat.VecDense
	out.MulVec(p.rotation, mat.NewVecDense(3, []float64{v.X, v.Y, v.Z}))
	return r3.Vec{X: out.AtVec(0), Y: out.AtVec(1), Z: out.AtVec(2)}
}

func solveKepler(m, e float64) float64 {
	ecc := m
	for i := 0; i < keplerIterations; i++ {
		ecc = m + e*math.Sin(ecc)
	}
	return ecc
}

func trueToMeanAnomaly(nu, e float64) float64 {
	ecc := 2 * math.Atan(math.Sqrt((1-e)/(1+e))*math.Tan(nu/2))
	return ecc - e*math.Sin(ecc)
}

// perifocalToECI returns R3(Ω)·R1(i)·R3(ω).
func perifocalToECI(raan, inc, argp float64) *mat.Dense {
	var tmp, out mat.Dense
	tmp.Mul(rotZ(raan), rotX(inc))
	out.Mul(&tmp, rotZ(argp))
	return &out
}

func rotZ(a float64) *mat.Dense {
	s, c := math.Sincos(a)
	return mat.NewDense(3, 3, []float64{
		c, -s, 0,
		s, c, 0,
		0, 0, 1,
	})
}

func rotX(a float64) *mat.Dense {
	s, c := math.Sincos(a)
	return mat.NewDense(3, 3, []float64{
		1, 0, 0,
		0, c, -s,
		0, s, c,
	})
}
