package model

import (
	"time"

	"gonum.org/v1/gonum/spatial/r3"
)

// OrbitalElements is a classical Keplerian element set. Angles are stored in
// radians and distances in kilometres.
type OrbitalElements struct {
	SemiMajorAxisKm float64
	Eccentricity    float64
	Inclination     float64
	RAAN            float64
	ArgOfPerigee    float64
	TrueAnomaly     float64
	Epoch           time.Time
}

// OrbitState is the propagated spacecraft state at a single instant.
// Position and velocity are Earth-centred inertial (km, km/s). Latitude and
// longitude are degrees derived directly from the inertial position.
type OrbitState struct {
	Time         time.Time `json:"time"`
	Position     r3.Vec    `json:"position_km"`
	Velocity     r3.Vec    `json:"velocity_km_s"`
	LatitudeDeg  float64   `json:"latitude_deg"`
	LongitudeDeg float64   `json:"longitude_deg"`
	AltitudeKm   float64   `json:"altitude_km"`
	Eclipse      bool      `json:"eclipse"`

	// Sun is the Sun position used for the eclipse test (km, ECI).
	Sun r3.Vec `json:"sun_km"`
}
