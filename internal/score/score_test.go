package score

import (
	"math"
	"testing"

	"github.com/JetBrains-Research/omnipeak/internal/blacklist"
	"github.com/JetBrains-Research/omnipeak/internal/candidate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecomposeBlocksSingleBlockWhenAllBinsQualify(t *testing.T) {
	iv := candidate.Interval{Start: 0, End: 4}
	logNull := []float64{-5, -5, -5, -5}
	blocks := DecomposeBlocks(iv, logNull, 3)
	assert.Len(t, blocks, 1)
	assert.Equal(t, iv, blocks[0])
}

func TestDecomposeBlocksSplitsOnGapBetweenLowPercentileBins(t *testing.T) {
	iv := candidate.Interval{Start: 0, End: 20}
	logNull := make([]float64, 20)
	for i := range logNull {
		logNull[i] = -0.1
	}
	// Two dense runs of strongly non-null bins, far enough apart that a
	// gap of 3 bins does not bridge them. Together they are half the
	// candidate, so the 50th percentile is -10 and only they qualify.
	for i := 0; i < 5; i++ {
		logNull[i] = -10
	}
	for i := 15; i < 20; i++ {
		logNull[i] = -10
	}
	blocks := DecomposeBlocks(iv, logNull, 3)
	require.Len(t, blocks, 2)
	assert.Equal(t, 0, blocks[0].Start)
	assert.Equal(t, 5, blocks[0].End)
	assert.Equal(t, 15, blocks[1].Start)
	assert.Equal(t, 20, blocks[1].End)
}

func TestModelLogPNegativeOrZero(t *testing.T) {
	logNull := []float64{-5, -4, -3}
	p := ModelLogP(Block{Start: 0, End: 3}, logNull)
	assert.True(t, p <= 0)
}

func TestSignalLogPZeroSignalIsZero(t *testing.T) {
	treatment := []int32{0, 0, 0}
	p := SignalLogP(Block{Start: 0, End: 3}, treatment, 1)
	assert.Equal(t, 0.0, p)
}

func TestCombineBlockScoreNonPositive(t *testing.T) {
	s := CombineBlockScore(-2, -3)
	assert.True(t, s <= 0)
	assert.InDelta(t, -math.Sqrt(6), s, 1e-9)
}

func TestCorrectLogPBHMonotone(t *testing.T) {
	logP := []float64{-10, -5, -1, -0.1}
	logQ := CorrectLogP(logP, "bh")
	for i := 1; i < len(logQ); i++ {
		assert.True(t, logQ[i] >= logQ[i-1]-1e-9 || logP[i] < logP[i-1])
	}
	for _, q := range logQ {
		assert.True(t, q <= 0)
	}
}

func TestCorrectLogPBonferroni(t *testing.T) {
	logP := []float64{-10, -1}
	logQ := CorrectLogP(logP, "bonferroni")
	assert.InDelta(t, -10+math.Log(2), logQ[0], 1e-9)
}

func TestClipBoundaryKeepsDenseCore(t *testing.T) {
	iv := candidate.Interval{Start: 0, End: 20}
	treatment := make([]int32, 20)
	for i := 5; i < 15; i++ {
		treatment[i] = 100
	}
	cfg := DefaultConfig()
	signal, noise := GlobalDensities([]candidate.Interval{iv}, treatment)
	maxClippedDensity := noise + cfg.ClipFraction*(signal-noise)
	clipped := ClipBoundary(iv, treatment, maxClippedDensity, cfg)
	assert.True(t, clipped.Start >= iv.Start)
	assert.True(t, clipped.End <= iv.End)
}

func TestBuildPeaksWithEmptyBlacklistEmitsValidPeaks(t *testing.T) {
	candidates := []candidate.Interval{{Start: 0, End: 5}, {Start: 10, End: 15}}
	treatment := make([]int32, 20)
	for i := range treatment {
		treatment[i] = 5
	}
	logNull := make([]float64, 20)
	for i := range logNull {
		logNull[i] = -3
	}
	empty := blacklist.Empty()
	peaks := BuildPeaks("chr1", candidates, treatment, logNull, 1.0, 100, empty, DefaultConfig())
	assert.True(t, len(peaks) <= len(candidates))
	for _, p := range peaks {
		assert.Equal(t, "chr1", p.Chrom)
		assert.True(t, p.Score >= 0 && p.Score <= 1000)
	}
}
