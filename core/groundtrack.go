package core

import (
	"math"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"
	"gonum.org/v1/gonum/spatial/r3"
)

// GMST returns the Greenwich mean sidereal angle (radians) at t.
func GMST(t time.Time) float64 {
	t = t.UTC()
	year, month, day := t.Date()
	hour, min, sec := t.Clock()
	jd := satellite.JDay(year, int(month), day, hour, min, sec)
	return satellite.ThetaG_JD(jd)
}

// EarthFixed rotates an inertial position (km) into the Earth-fixed frame.
func EarthFixed(t time.Time, posECI r3.Vec) r3.Vec {
	ecef := satellite.ECIToECEF(satellite.Vector3{X: posECI.X, Y: posECI.Y, Z: posECI.Z}, GMST(t))
	return r3.Vec{X: ecef.X, Y: ecef.Y, Z: ecef.Z}
}

// SubSatellitePoint is the geodetic point beneath the spacecraft.
type SubSatellitePoint struct {
	LatitudeDeg  float64 `json:"latitude_deg"`
	LongitudeDeg float64 `json:"longitude_deg"`
	AltitudeKm   float64 `json:"altitude_km"`
}

// GroundTrack returns the geodetic sub-satellite point for an inertial
// position, accounting for Earth rotation.
func GroundTrack(t time.Time, posECI r3.Vec) SubSatellitePoint {
	alt, _, ll := satellite.ECIToLLA(satellite.Vector3{X: posECI.X, Y: posECI.Y, Z: posECI.Z}, GMST(t))
	ll = satellite.LatLongDeg(ll)
	return SubSatellitePoint{
		LatitudeDeg:  ll.Latitude,
		LongitudeDeg: wrapLongitude(ll.Longitude),
		AltitudeKm:   alt,
	}
}

func wrapLongitude(lon float64) float64 {
	lon = math.Mod(lon+180, 360)
	if lon < 0 {
		lon += 360
	}
	return lon - 180
}

// GroundStation is a fixed site on a spherical Earth.
type GroundStation struct {
	Name            string
	LatitudeDeg     float64
	LongitudeDeg    float64
	AltitudeKm      float64
	MinElevationDeg float64
}

// Position returns the station's Earth-fixed position (km).
func (g GroundStation) Position() r3.Vec {
	r := EarthRadiusKm + g.AltitudeKm
	return sphericalToCartesian(rad(g.LongitudeDeg), rad(g.LatitudeDeg), r)
}

// Visibility returns the spacecraft elevation seen from the station and
// whether it is above the station's elevation mask with a clear line of
// sight.
func (g GroundStation) Visibility(t time.Time, posECI r3.Vec) (float64, bool) {
	site := g.Position()
	sc := EarthFixed(t, posECI)
	elev := ElevationDegrees(site, sc)
	// Lift the site just above the sphere so the segment test does not
	// clip on the station itself.
	lifted := r3.Scale(1+1e-6, site)
	return elev, elev >= g.MinElevationDeg && hasLineOfSight(lifted, sc)
}
