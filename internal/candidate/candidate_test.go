package candidate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskFromThresholdAndSetBins(t *testing.T) {
	logNull := []float64{-5, -1, -0.1, -6, -7, -0.2}
	m := MaskFromThreshold(logNull, -2)
	assert.Equal(t, []int{0, 3, 4}, m.SetBins())
}

func TestBuildMergesWithinGap(t *testing.T) {
	m := NewMask(20)
	for _, i := range []int{0, 1, 5, 6, 15} {
		m.Set(i)
	}
	ivs := Build(m, Options{Gap: 3, BinSize: 100})
	assert.Equal(t, []Interval{{Start: 0, End: 7}, {Start: 15, End: 16}}, ivs)
}

func TestBuildEmptyMask(t *testing.T) {
	m := NewMask(10)
	assert.Nil(t, Build(m, Options{Gap: 1}))
}

func TestEstimateGapNonNegative(t *testing.T) {
	bins := []int{0, 1, 2, 10, 11, 12, 30}
	gap := EstimateGap(bins, 500, 100)
	assert.True(t, gap >= 0)
}

func TestIsAlternateContig(t *testing.T) {
	assert.True(t, IsAlternateContig("chr1_random"))
	assert.True(t, IsAlternateContig("chrUn_gl000220"))
	assert.False(t, IsAlternateContig("chr1"))
}

func TestFilterChromosomes(t *testing.T) {
	got := FilterChromosomes([]string{"chr1", "chr2", "chr1_random", "chrUn"})
	assert.Equal(t, []string{"chr1", "chr2"}, got)
}

func TestSplitSummitsSingleModeReturnsOriginal(t *testing.T) {
	iv := Interval{Start: 0, End: 10}
	signal := []float64{1, 2, 3, 4, 5, 4, 3, 2, 1, 0}
	out := SplitSummits(iv, signal, 2)
	assert.Equal(t, []Interval{iv}, out)
}

func TestSplitSummitsMismatchedLengthReturnsOriginal(t *testing.T) {
	iv := Interval{Start: 0, End: 10}
	out := SplitSummits(iv, []float64{1, 2}, 2)
	assert.Equal(t, []Interval{iv}, out)
}
