package dip

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatisticUniformIsNonNegative(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	xs := make([]float64, 400)
	for i := range xs {
		xs[i] = r.Float64()
	}
	d := Statistic(xs)
	assert.True(t, d >= 0)
}

func bimodalSample(r *rand.Rand, n int) []float64 {
	xs := make([]float64, n)
	for i := range xs {
		if i%2 == 0 {
			xs[i] = r.NormFloat64() - 2
		} else {
			xs[i] = r.NormFloat64() + 2
		}
	}
	return xs
}

func TestStatisticBimodalExceedsUniform(t *testing.T) {
	r := rand.New(rand.NewSource(2))
	bimodal := bimodalSample(r, 400)
	uniform := make([]float64, 400)
	for i := range uniform {
		uniform[i] = r.Float64()
	}
	assert.True(t, Statistic(bimodal) >= Statistic(uniform))
}

func TestBootstrapPValueRange(t *testing.T) {
	r := rand.New(rand.NewSource(3))
	uniform := make([]float64, 400)
	for i := range uniform {
		uniform[i] = r.Float64()
	}
	p := BootstrapPValue(uniform, 50, r.Float64)
	assert.True(t, p >= 0 && p <= 1)
}

func TestBootstrapPValueTooFewSamples(t *testing.T) {
	p := BootstrapPValue([]float64{1, 2}, 50, rand.Float64)
	assert.Equal(t, 1.0, p)
}
