package core

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/signalsfoundry/smallsat-twin/model"
)

const (
	seaLevelDensity = 1.225 // kg/m^3
	scaleHeightKm   = 7.249
)

// ErrDegenerateSunVector is returned when the spacecraft and Sun positions
// coincide and no Sun direction can be formed.
var ErrDegenerateSunVector = errors.New("degenerate sun vector")

// AtmosphericDensity returns the exponential-model density (kg/m³) at the
// given altitude in kilometres.
func AtmosphericDensity(altitudeKm float64) float64 {
	return seaLevelDensity * math.Exp(-altitudeKm/scaleHeightKm)
}

// FaceAngles are the Sun incidence angles (degrees) on the four side panels.
type FaceAngles struct {
	PlusX  float64
	MinusX float64
	PlusY  float64
	MinusY float64
}

// Illuminated reports whether a face with the given incidence angle
// receives direct light.
func Illuminated(angleDeg float64) bool { return angleDeg < 90 }

// SolarIllumination returns the Sun incidence angle for each body face given
// the spacecraft and Sun inertial positions (km) and the body-to-inertial
// attitude quaternion.
func SolarIllumination(scPos, sunPos r3.Vec, q model.Quaternion) (FaceAngles, error) {
	d := r3.Sub(sunPos, scPos)
	n := r3.Norm(d)
	if n < degenerateNorm || math.IsNaN(n) {
		return FaceAngles{}, ErrDegenerateSunVector
	}
	s := r3.Scale(1/n, d)

	var body mat.VecDense
	body.MulVec(AttitudeMatrix(q).T(), mat.NewVecDense(3, []float64{s.X, s.Y, s.Z}))
	sx, sy := body.AtVec(0), body.AtVec(1)

	return FaceAngles{
		PlusX:  deg(math.Acos(clampUnit(sx))),
		MinusX: deg(math.Acos(clampUnit(-sx))),
		PlusY:  deg(math.Acos(clampUnit(sy))),
		MinusY: deg(math.Acos(clampUnit(-sy))),
	}, nil
}

// AttitudeMatrix returns the body-to-inertial rotation matrix of the
// scalar-last quaternion q. q is used as given, without normalisation.
func AttitudeMatrix(q model.Quaternion) *mat.Dense {
	x, y, z, w := q[0], q[1], q[2], q[3]
	return mat.NewDense(3, 3, []float64{
		1 - 2*(y*y+z*z), 2 * (x*y - z*w), 2 * (x*z + y*w),
		2 * (x*y + z*w), 1 - 2*(x*x+z*z), 2 * (y*z - x*w),
		2 * (x*z - y*w), 2 * (y*z + x*w), 1 - 2*(x*x+y*y),
	})
}
