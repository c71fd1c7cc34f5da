package adcs

import (
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// Noise draws the uniform jitter applied to slew rates and held attitudes.
type Noise interface {
	Uniform(min, max float64) float64
}

type sourceNoise struct {
	src rand.Source
}

// NewNoise returns a Noise seeded with seed.
func NewNoise(seed uint64) Noise {
	return &sourceNoise{src: rand.NewSource(seed)}
}

func (n *sourceNoise) Uniform(min, max float64) float64 {
	return distuv.Uniform{Min: min, Max: max, Src: n.src}.Rand()
}

// MidpointNoise always returns the centre of the requested interval.
type MidpointNoise struct{}

func (MidpointNoise) Uniform(min, max float64) float64 { return (min + max) / 2 }
