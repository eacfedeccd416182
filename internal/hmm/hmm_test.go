package hmm

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func syntheticBins() []int32 {
	bins := make([]int32, 0, 300)
	for i := 0; i < 100; i++ {
		bins = append(bins, 0)
	}
	for i := 0; i < 50; i++ {
		bins = append(bins, 20)
	}
	for i := 0; i < 150; i++ {
		bins = append(bins, 1)
	}
	return bins
}

func TestNewSeedsEmissionsFromPercentiles(t *testing.T) {
	m := New(Analyze, syntheticBins(), DefaultFitConfig())
	assert.Equal(t, 0.0, m.Emissions[StateZ].Mu)
	assert.True(t, m.Emissions[StateH].Mu > m.Emissions[StateL].Mu)
}

func TestDecodeProducesValidPosteriors(t *testing.T) {
	m := New(Analyze, syntheticBins(), DefaultFitConfig())
	res := m.Decode(syntheticBins())
	n := len(m.Priors)
	T := len(syntheticBins())
	require.Len(t, res.LogPosterior, n)
	for t2 := 0; t2 < T; t2++ {
		var sum float64
		for s := 0; s < n; s++ {
			sum += math.Exp(res.LogPosterior[s][t2])
		}
		assert.InDelta(t, 1.0, sum, 1e-6)
	}
	assert.Len(t, res.LogNull, T)
}

func TestFitReturnsFiniteLogLikelihood(t *testing.T) {
	bins := syntheticBins()
	m, _, res := Fit(bins, Analyze, DefaultFitConfig())
	assert.NotNil(t, m.Emissions)
	assert.False(t, math.IsInf(res.LogLikelihood, 0))
}

func TestFitOrdersStatesByMean(t *testing.T) {
	bins := syntheticBins()
	m, _, _ := Fit(bins, Analyze, DefaultFitConfig())
	assert.True(t, m.Emissions[StateH].Mu >= m.Emissions[StateL].Mu)
}

func TestLogEmissionDegenerateZero(t *testing.T) {
	m := New(Analyze, syntheticBins(), DefaultFitConfig())
	assert.Equal(t, 0.0, m.logEmission(StateZ, 0))
	assert.True(t, math.IsInf(m.logEmission(StateZ, 5), -1))
}

func TestCompareStateSetHasFiveStates(t *testing.T) {
	m := New(Compare, syntheticBins(), DefaultFitConfig())
	assert.Len(t, m.Priors, 5)
	assert.Len(t, m.Transition, 5)
	for _, row := range m.Transition {
		assert.Len(t, row, 5)
	}
}

func TestNullStatesExcludesOnlyForegroundStates(t *testing.T) {
	assert.Equal(t, []State{StateZ, StateL}, Analyze.NullStates())
	assert.Equal(t, []State{StateZ, StateL, StateH}, Compare.NullStates())
}
