package core

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/spatial/r3"
)

// Physical constants shared by the propagation and environment models.
const (
	// GravitationalConstant in m^3 kg^-1 s^-2.
	GravitationalConstant = 6.67430e-11

	// EarthMu is the geocentric gravitational parameter in km^3/s^2.
	EarthMu = 398600.4418
	// EarthRadiusKm is the equatorial radius used for altitude and J2.
	EarthRadiusKm = 6378.137
	// EarthJ2 is the second zonal harmonic.
	EarthJ2 = 1.08263e-3

	// AstronomicalUnitKm is one AU in kilometres.
	AstronomicalUnitKm = 149597870.7
	// MoonDistanceKm is the mean Earth-Moon distance.
	MoonDistanceKm = 384400.0

	secondsPerDay = 86400.0
	julianYear    = 365.25 * secondsPerDay
	siderealMonth = 27.32 * secondsPerDay

	moonInclinationDeg = 5.145
)

// J2000 is the reference epoch for the closed-form Sun and Moon models.
var J2000 = time.Date(2000, time.January, 1, 12, 0, 0, 0, time.UTC)

// CelestialBody describes a gravitating body. Radius is in kilometres and
// Mass in kilograms.
type CelestialBody struct {
	Name     string
	Mass     float64
	RadiusKm float64
	J2       float64
}

// GM returns the gravitational parameter G*M in m^3/s^2.
func (b CelestialBody) GM() float64 { return GravitationalConstant * b.Mass }

var (
	Earth = CelestialBody{Name: "Earth", Mass: 5.972e24, RadiusKm: EarthRadiusKm, J2: EarthJ2}
	Sun   = CelestialBody{Name: "Sun", Mass: 1.989e30, RadiusKm: 696340.0}
	Moon  = CelestialBody{Name: "Moon", Mass: 7.342e22, RadiusKm: 1737.4}
)

// Ephemeris yields the inertial position of a body (km, Earth-centred).
type Ephemeris interface {
	PositionAt(t time.Time) r3.Vec
}

// EphemerisFunc adapts a plain function to the Ephemeris interface.
type EphemerisFunc func(t time.Time) r3.Vec

// PositionAt calls f(t).
func (f EphemerisFunc) PositionAt(t time.Time) r3.Vec { return f(t) }

// CircularSun places the Sun on a circular orbit of radius 1 AU in the
// equatorial plane, phase zero at J2000.
type CircularSun struct{}

// PositionAt returns the Sun position at t.
func (CircularSun) PositionAt(t time.Time) r3.Vec {
	theta := 2 * math.Pi * t.Sub(J2000).Seconds() / julianYear
	return r3.Vec{
		X: AstronomicalUnitKm * math.Cos(theta),
		Y: AstronomicalUnitKm * math.Sin(theta),
	}
}

// CircularMoon places the Moon on a circular orbit of 384400 km with a
// 27.32 day period, inclined 5.145 degrees about the X axis.
type CircularMoon struct{}

// PositionAt returns the Moon position at t.
func (CircularMoon) PositionAt(t time.Time) r3.Vec {
	theta := 2 * math.Pi * t.Sub(J2000).Seconds() / siderealMonth
	inc := moonInclinationDeg * math.Pi / 180
	x := MoonDistanceKm * math.Cos(theta)
	y := MoonDistanceKm * math.Sin(theta)
	return r3.Vec{X: x, Y: y * math.Cos(inc), Z: y * math.Sin(inc)}
}

// EarthPosition is the origin of the inertial frame.
var EarthPosition = EphemerisFunc(func(time.Time) r3.Vec { return r3.Vec{} })

// Ephemeris model names accepted by NewEphemerides.
const (
	EphemerisCircular = "circular"
	EphemerisMeeus    = "meeus"
)

// Ephemerides bundles the Sun and Moon models used by a simulation.
type Ephemerides struct {
	Sun  Ephemeris
	Moon Ephemeris
}

// NewEphemerides returns the Sun and Moon models for the named model.
func NewEphemerides(name string) (Ephemerides, error) {
	switch name {
	case "", EphemerisCircular:
		return Ephemerides{Sun: CircularSun{}, Moon: CircularMoon{}}, nil
	case EphemerisMeeus:
		return Ephemerides{Sun: MeeusSun{}, Moon: MeeusMoon{}}, nil
	default:
		return Ephemerides{}, fmt.Errorf("unknown ephemeris model %q", name)
	}
}
