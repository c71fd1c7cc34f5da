package adcs

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"

	"github.com/signalsfoundry/smallsat-twin/model"
)

func toNumber(q model.Quaternion) quat.Number {
	return quat.Number{Real: q[3], Imag: q[0], Jmag: q[1], Kmag: q[2]}
}

func fromNumber(n quat.Number) model.Quaternion {
	return model.Quaternion{n.Imag, n.Jmag, n.Kmag, n.Real}
}

// Multiply returns the Hamilton product a·b.
func Multiply(a, b model.Quaternion) model.Quaternion {
	return fromNumber(quat.Mul(toNumber(a), toNumber(b)))
}

// Conjugate returns the conjugate of q.
func Conjugate(q model.Quaternion) model.Quaternion {
	return fromNumber(quat.Conj(toNumber(q)))
}

// Norm returns the Euclidean norm of q.
func Norm(q model.Quaternion) float64 {
	return quat.Abs(toNumber(q))
}

// Normalize scales q to unit length. A zero quaternion yields NaN components.
func Normalize(q model.Quaternion) model.Quaternion {
	n := Norm(q)
	return model.Quaternion{q[0] / n, q[1] / n, q[2] / n, q[3] / n}
}

// EulerToQuaternion converts ZYX Euler angles in degrees to a unit
// quaternion.
func EulerToQuaternion(rollDeg, pitchDeg, yawDeg float64) model.Quaternion {
	sr, cr := math.Sincos(rollDeg * math.Pi / 360)
	sp, cp := math.Sincos(pitchDeg * math.Pi / 360)
	sy, cy := math.Sincos(yawDeg * math.Pi / 360)

	return Normalize(model.Quaternion{
		sr*cp*cy - cr*sp*sy,
		cr*sp*cy + sr*cp*sy,
		cr*cp*sy - sr*sp*cy,
		cr*cp*cy + sr*sp*sy,
	})
}

// QuaternionToEuler returns the ZYX Euler angles (roll, pitch, yaw) of q in
// degrees. q is normalised first; pitch saturates at ±90°.
func QuaternionToEuler(q model.Quaternion) (roll, pitch, yaw float64) {
	q = Normalize(q)
	x, y, z, w := q[0], q[1], q[2], q[3]

	roll = math.Atan2(2*(w*x+y*z), 1-2*(x*x+y*y))

	sinp := 2 * (w*y - z*x)
	if math.Abs(sinp) >= 1 {
		pitch = math.Copysign(math.Pi/2, sinp)
	} else {
		pitch = math.Asin(sinp)
	}

	yaw = math.Atan2(2*(w*z+x*y), 1-2*(y*y+z*z))

	const toDeg = 180 / math.Pi
	return roll * toDeg, pitch * toDeg, yaw * toDeg
}

// FromRotationMatrix converts a body-to-inertial rotation matrix to a unit
// quaternion using Shepperd's method.
func FromRotationMatrix(r mat.Matrix) model.Quaternion {
	at := r.At
	var x, y, z, w float64
	switch tr := mat.Trace(r); {
	case tr > 0:
		s := math.Sqrt(tr+1) * 2
		w = 0.25 * s
		x = (at(2, 1) - at(1, 2)) / s
		y = (at(0, 2) - at(2, 0)) / s
		z = (at(1, 0) - at(0, 1)) / s
	case at(0, 0) > at(1, 1) && at(0, 0) > at(2, 2):
		s := math.Sqrt(1+at(0, 0)-at(1, 1)-at(2, 2)) * 2
		w = (at(2, 1) - at(1, 2)) / s
		x = 0.25 * s
		y = (at(0, 1) + at(1, 0)) / s
		z = (at(0, 2) + at(2, 0)) / s
	case at(1, 1) > at(2, 2):
		s := math.Sqrt(1+at(1, 1)-at(0, 0)-at(2, 2)) * 2
		w = (at(0, 2) - at(2, 0)) / s
		x = (at(0, 1) + at(1, 0)) / s
		y = 0.25 * s
		z = (at(1, 2) + at(2, 1)) / s
	default:
		s := math.Sqrt(1+at(2, 2)-at(0, 0)-at(1, 1)) * 2
		w = (at(1, 0) - at(0, 1)) / s
		x = (at(0, 2) + at(2, 0)) / s
		y = (at(1, 2) + at(2, 1)) / s
		z = 0.25 * s
	}
	return Normalize(model.Quaternion{x, y, z, w})
}

// ErrorAngle returns the rotation angle in degrees between the current and
// desired attitudes.
func ErrorAngle(current, desired model.Quaternion) float64 {
	qe := Multiply(Conjugate(Normalize(current)), Normalize(desired))
	w := math.Abs(qe[3])
	if w > 1 {
		w = 1
	}
	return 2 * math.Acos(w) * 180 / math.Pi
}

func finite(q model.Quaternion) bool {
	for _, v := range q {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
