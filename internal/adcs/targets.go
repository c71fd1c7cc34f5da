package adcs

import (
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/signalsfoundry/smallsat-twin/model"
)

const degenerateNorm = 1e-10

var (
	zAxis = r3.Vec{Z: 1}
	yAxis = r3.Vec{Y: 1}
)

// sunPointingTarget aligns body +X with the Sun direction.
func sunPointingTarget(sun r3.Vec) (model.Quaternion, error) {
	if r3.Norm(sun) < degenerateNorm {
		return model.Quaternion{}, &UpdateError{Reason: ReasonDegenerateTarget, Detail: "sun vector"}
	}
	x := r3.Unit(sun)
	y := r3.Cross(zAxis, x)
	if r3.Norm(y) < degenerateNorm {
		return model.Quaternion{}, &UpdateError{Reason: ReasonDegenerateTarget, Detail: "sun parallel to inertial Z"}
	}
	y = r3.Unit(y)
	z := r3.Cross(x, y)
	return frameQuaternion(x, y, z), nil
}

// earthPointingTarget aligns body -Z (nadir) or body +Z (download) with the
// Earth-centre direction.
func earthPointingTarget(pos r3.Vec, mode model.ADCSMode) (model.Quaternion, error) {
	if r3.Norm(pos) < degenerateNorm {
		return model.Quaternion{}, &UpdateError{Reason: ReasonDegenerateTarget, Detail: "position vector"}
	}
	earth := r3.Unit(r3.Scale(-1, pos))
	z := r3.Scale(-1, earth)
	if mode == model.ModeDownload {
		z = earth
	}

	x := r3.Cross(z, zAxis)
	if r3.Norm(x) < degenerateNorm {
		x = r3.Cross(z, yAxis)
	}
	x = r3.Unit(x)
	y := r3.Unit(r3.Cross(z, x))
	return frameQuaternion(x, y, z), nil
}

// frameQuaternion returns the attitude whose body axes are the given
// inertial unit vectors.
func frameQuaternion(x, y, z r3.Vec) model.Quaternion {
	r := mat.NewDense(3, 3, []float64{
		x.X, y.X, z.X,
		x.Y, y.Y, z.Y,
		x.Z, y.Z, z.Z,
	})
	return FromRotationMatrix(r)
}
