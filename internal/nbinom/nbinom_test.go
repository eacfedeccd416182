package nbinom

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromMomentsClampsRatio(t *testing.T) {
	d := FromMoments(10, 10) // variance == mean, degenerate Poisson-like input
	assert.True(t, d.Variance() >= MinVarianceRatio*10-1e-9)
}

func TestLogPMFSumsToOne(t *testing.T) {
	d := Dist{Mu: 5, R: 3}
	var total float64
	for k := 0; k < 2000; k++ {
		total += math.Exp(d.LogPMF(k))
	}
	assert.InDelta(t, 1.0, total, 1e-3)
}

func TestLogPMFDegenerateAtZero(t *testing.T) {
	d := Dist{Mu: 0, R: 5}
	assert.Equal(t, 0.0, d.LogPMF(0))
	assert.True(t, math.IsInf(d.LogPMF(1), -1))
}

func TestLogSumExpMatchesDirect(t *testing.T) {
	xs := []float64{-1, -2, -3}
	got := LogSumExp(xs)
	want := math.Log(math.Exp(-1) + math.Exp(-2) + math.Exp(-3))
	assert.InDelta(t, want, got, 1e-9)
}

func TestLogSumExpAllNegInf(t *testing.T) {
	assert.True(t, math.IsInf(LogSumExp([]float64{math.Inf(-1), math.Inf(-1)}), -1))
}

func TestPoissonLogSurvivalZeroIsCertain(t *testing.T) {
	assert.Equal(t, 0.0, PoissonLogSurvival(0, 5))
}

func TestPoissonLogSurvivalMonotoneDecreasing(t *testing.T) {
	a := PoissonLogSurvival(5, 10)
	b := PoissonLogSurvival(15, 10)
	assert.True(t, a > b)
}

func TestPoissonLogSurvivalZeroLambda(t *testing.T) {
	assert.Equal(t, 0.0, PoissonLogSurvival(0, 0))
	assert.True(t, math.IsInf(PoissonLogSurvival(1, 0), -1))
}

func TestKahanSumMatchesNaiveForWellConditioned(t *testing.T) {
	xs := []float64{1.0, 2.0, 3.0, 4.5}
	assert.InDelta(t, 10.5, KahanSum(xs), 1e-9)
}

func TestMeanVariance(t *testing.T) {
	mean, variance := MeanVariance([]float64{1, 2, 3, 4, 5}, nil)
	assert.InDelta(t, 3.0, mean, 1e-9)
	assert.True(t, variance > 0)
}
