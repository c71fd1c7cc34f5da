package core

import (
	"math"
	"time"

	"github.com/soniakeys/meeus/v3/base"
	"github.com/soniakeys/meeus/v3/julian"
	"github.com/soniakeys/meeus/v3/moonposition"
	"github.com/soniakeys/meeus/v3/nutation"
	"github.com/soniakeys/meeus/v3/solar"
	"gonum.org/v1/gonum/spatial/r3"
)

// MeeusSun computes the apparent geocentric Sun position from the low
// precision solar theory in Meeus, Astronomical Algorithms ch. 25.
type MeeusSun struct{}

// PositionAt returns the Sun position at t in equatorial coordinates (km).
func (MeeusSun) PositionAt(t time.Time) r3.Vec {
	jde := julian.TimeToJD(t.UTC())
	ra, dec := solar.TrueEquatorial(jde)
	dist := solar.Radius(base.J2000Century(jde)) * AstronomicalUnitKm
	return sphericalToCartesian(ra.Rad(), dec.Rad(), dist)
}

// MeeusMoon computes the geocentric Moon position from Meeus ch. 47.
type MeeusMoon struct{}

// PositionAt returns the Moon position at t in equatorial coordinates (km).
func (MeeusMoon) PositionAt(t time.Time) r3.Vec {
	jde := julian.TimeToJD(t.UTC())
	lon, lat, dist := moonposition.Position(jde)
	ecl := sphericalToCartesian(lon.Rad(), lat.Rad(), dist)

	eps := nutation.MeanObliquity(jde).Rad()
	sinE, cosE := math.Sincos(eps)
	return r3.Vec{
		X: ecl.X,
		Y: ecl.Y*cosE - ecl.Z*sinE,
		Z: ecl.Y*sinE + ecl.Z*cosE,
	}
}

func sphericalToCartesian(lon, lat, r float64) r3.Vec {
	sinLat, cosLat := math.Sincos(lat)
	sinLon, cosLon := math.Sincos(lon)
	return r3.Vec{X: r * cosLat * cosLon, Y: r * cosLat * sinLon, Z: r * sinLat}
}
