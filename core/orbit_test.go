package core

import (
	"errors"
	"math"
	"testing"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/signalsfoundry/smallsat-twin/model"
)

var missionStart = time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)

func ssoElements() model.OrbitalElements {
	return model.OrbitalElements{
		SemiMajorAxisKm: 6878.137,
		Eccentricity:    0.0001,
		Inclination:     rad(97.4),
		RAAN:            rad(22.5),
		Epoch:           missionStart,
	}
}

func TestPropagateSunSynchronousLEO(t *testing.T) {
	p, err := NewOrbitPropagator(ssoElements())
	if err != nil {
		t.Fatalf("NewOrbitPropagator: %v", err)
	}

	minutes := p.Period().Minutes()
	if minutes < 94 || minutes > 95.5 {
		t.Fatalf("period = %.2f min, want ~94.6", minutes)
	}

	for i := 0; i <= 100; i++ {
		at := missionStart.Add(time.Duration(i) * p.Period() / 100)
		st := p.Propagate(at)
		if st.AltitudeKm < 495 || st.AltitudeKm > 505 {
			t.Fatalf("altitude at step %d = %.2f km, want ~500", i, st.AltitudeKm)
		}
		if math.Abs(st.LatitudeDeg) > 82.7 {
			t.Fatalf("latitude %.2f exceeds inclination bound", st.LatitudeDeg)
		}
		speed := r3.Norm(st.Velocity)
		if speed < 7.5 || speed > 7.7 {
			t.Fatalf("speed = %.3f km/s, want ~7.6", speed)
		}
	}
}

func TestPropagateReturnsToStartAfterOnePeriod(t *testing.T) {
	p, err := NewOrbitPropagator(ssoElements(), WithJ2Step(0))
	if err != nil {
		t.Fatalf("NewOrbitPropagator: %v", err)
	}
	a := p.Propagate(missionStart).Position
	b := p.Propagate(missionStart.Add(p.Period())).Position
	if d := r3.Norm(r3.Sub(a, b)); d > 1e-3 {
		t.Fatalf("position after one period differs by %.6f km", d)
	}
}

func TestPropagateMemoisesLastQuery(t *testing.T) {
	p, err := NewOrbitPropagator(ssoElements())
	if err != nil {
		t.Fatalf("NewOrbitPropagator: %v", err)
	}
	at := missionStart.Add(90 * time.Second)
	first := p.Propagate(at)
	second := p.Propagate(at)
	if first != second {
		t.Fatalf("repeated query returned different states: %+v vs %+v", first, second)
	}
}

func TestPropagateEclipse(t *testing.T) {
	// At J2000 the circular Sun sits on +X.
	base := model.OrbitalElements{SemiMajorAxisKm: 7000, Epoch: J2000}

	sunSide, err := NewOrbitPropagator(base)
	if err != nil {
		t.Fatalf("NewOrbitPropagator: %v", err)
	}
	if st := sunSide.Propagate(J2000); st.Eclipse {
		t.Fatalf("spacecraft on +X should be sunlit, got eclipse (pos=%v)", st.Position)
	}

	base.TrueAnomaly = math.Pi
	nightSide, err := NewOrbitPropagator(base)
	if err != nil {
		t.Fatalf("NewOrbitPropagator: %v", err)
	}
	st := nightSide.Propagate(J2000)
	if !st.Eclipse {
		t.Fatalf("spacecraft on -X should be eclipsed (pos=%v)", st.Position)
	}
	if st.Position.X > -6999 {
		t.Fatalf("position = %v, want near (-7000, 0, 0)", st.Position)
	}
}

func TestNewOrbitPropagatorRejectsInvalidElements(t *testing.T) {
	cases := []model.OrbitalElements{
		{SemiMajorAxisKm: 7000, Eccentricity: 1},
		{SemiMajorAxisKm: 7000, Eccentricity: -0.1},
		{SemiMajorAxisKm: 0},
		{SemiMajorAxisKm: math.NaN()},
	}
	for _, el := range cases {
		if _, err := NewOrbitPropagator(el); !errors.Is(err, ErrInvalidElements) {
			t.Fatalf("elements %+v: err = %v, want ErrInvalidElements", el, err)
		}
	}
}

func TestJ2AccelerationPointsInward(t *testing.T) {
	acc := J2Acceleration(r3.Vec{X: 7000})
	// On the equator J2 adds an inward radial pull.
	if acc.X >= 0 || acc.Y != 0 || acc.Z != 0 {
		t.Fatalf("J2 acceleration on equator = %v, want negative X only", acc)
	}
}

func TestSolveKeplerFixedIterationsResidual(t *testing.T) {
	cases := []struct {
		e   float64
		tol float64
	}{
		{e: 0.0001, tol: 1e-6},
		// Contraction factor e: ten steps from E0 = M leave at most e^11.
		{e: 0.1, tol: 1e-10},
	}
	for _, tc := range cases {
		for _, m := range []float64{0, 0.5, 1, math.Pi / 2, 2, math.Pi, 4, 3 * math.Pi / 2, 5.5, 2*math.Pi - 1e-3} {
			ecc := solveKepler(m, tc.e)
			if res := math.Abs(ecc - (m + tc.e*math.Sin(ecc))); res >= tc.tol {
				t.Fatalf("e=%v M=%v: residual %g after %d iterations, want < %g", tc.e, m, res, keplerIterations, tc.tol)
			}
		}
	}
}
