package core

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// degenerateNorm is the smallest vector norm treated as a usable direction.
const degenerateNorm = 1e-10

func deg(rad float64) float64 { return rad * 180 / math.Pi }
func rad(deg float64) float64 { return deg * math.Pi / 180 }

func clampUnit(x float64) float64 {
	if x > 1 {
		return 1
	}
	if x < -1 {
		return -1
	}
	return x
}

// AngleBetween returns the angle between a and b in degrees. It returns NaN
// when either vector is degenerate.
func AngleBetween(a, b r3.Vec) float64 {
	na, nb := r3.Norm(a), r3.Norm(b)
	if na < degenerateNorm || nb < degenerateNorm {
		return math.NaN()
	}
	return deg(math.Acos(clampUnit(r3.Dot(a, b) / (na * nb))))
}

// hasLineOfSight checks whether the straight segment between p1 and p2
// intersects the Earth sphere. If it does, the Earth blocks the line-of-sight
// and the function returns false.
func hasLineOfSight(p1, p2 r3.Vec) bool {
	v := r3.Sub(p2, p1)
	a := r3.Dot(v, v)
	if a == 0 {
		return r3.Dot(p1, p1) > EarthRadiusKm*EarthRadiusKm
	}

	// t* minimises |p1 + t v|^2 over t in [0, 1].
	t := -r3.Dot(p1, v) / a
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}

	closest := r3.Add(p1, r3.Scale(t, v))
	return r3.Dot(closest, closest) > EarthRadiusKm*EarthRadiusKm
}

// ElevationDegrees returns the elevation angle of the target as seen from
// the observer, in degrees. 0° = geometric horizon, 90° = overhead.
func ElevationDegrees(observer, target r3.Vec) float64 {
	v := r3.Sub(target, observer)
	if r3.Norm(v) == 0 || r3.Norm(observer) == 0 {
		return 90
	}
	// Local zenith is the observer's position direction.
	return 90.0 - AngleBetween(v, observer)
}
