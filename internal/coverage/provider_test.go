package coverage

import (
	"testing"

	"github.com/JetBrains-Research/omnipeak/internal/genome"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSummaryReader struct {
	values map[string]map[[2]int]float64
}

func (f *fakeSummaryReader) SumOverRange(chrom string, start, end int) (float64, error) {
	return f.values[chrom][[2]int{start, end}], nil
}
func (f *fakeSummaryReader) Close() error { return nil }

func TestBuildSummaryBasedScalesToBand(t *testing.T) {
	layout, err := genome.New(map[string]int{"chr1": 500}, 100)
	require.NoError(t, err)
	r := &fakeSummaryReader{values: map[string]map[[2]int]float64{
		"chr1": {
			{0, 100}:   1000,
			{100, 200}: 1000,
			{200, 300}: 1000,
			{300, 400}: 1000,
			{400, 500}: 1000,
		},
	}}
	tr, err := BuildSummaryBased(r, layout)
	require.NoError(t, err)
	for _, v := range tr.Bin("chr1") {
		assert.True(t, float64(v) >= 0.2*100 && float64(v) <= 2.0*100)
	}
}

func TestBuildSummaryBasedRejectsNegative(t *testing.T) {
	layout, err := genome.New(map[string]int{"chr1": 100}, 100)
	require.NoError(t, err)
	r := &fakeSummaryReader{values: map[string]map[[2]int]float64{
		"chr1": {{0, 100}: -5},
	}}
	_, err = BuildSummaryBased(r, layout)
	assert.Error(t, err)
}

func TestNewProviderWithoutControl(t *testing.T) {
	layout, err := genome.New(map[string]int{"chr1": 200}, 100)
	require.NoError(t, err)
	tr := NewTrack(layout)
	tr.Add("chr1", 10)
	p, err := NewProvider(tr, nil, false)
	require.NoError(t, err)
	assert.False(t, p.ControlAvailable())
	score, err := p.Score("chr1", 0, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(1), score)
	normalized, err := p.ControlNormalizedScore("chr1", 0, 100)
	require.NoError(t, err)
	assert.Equal(t, score, normalized)
}

func TestNewProviderRegressesControl(t *testing.T) {
	layout, err := genome.New(map[string]int{"chr1": 200}, 100)
	require.NoError(t, err)
	treat := NewTrack(layout)
	ctrl := NewTrack(layout)
	for i := 0; i < 20; i++ {
		treat.Add("chr1", i)
		ctrl.Add("chr1", i)
	}
	for i := 0; i < 5; i++ {
		treat.Add("chr1", 100+i)
	}
	p, err := NewProvider(treat, &ctrl, true)
	require.NoError(t, err)
	assert.True(t, p.ControlAvailable())
	normalized, err := p.ControlNormalizedScore("chr1", 100, 200)
	require.NoError(t, err)
	assert.True(t, normalized >= 0)
}

func TestGlobalScaleRejectsZeroControl(t *testing.T) {
	layout, err := genome.New(map[string]int{"chr1": 100}, 100)
	require.NoError(t, err)
	treat := NewTrack(layout)
	treat.Add("chr1", 1)
	ctrl := NewTrack(layout)
	_, err = NewProvider(treat, &ctrl, true)
	assert.Error(t, err)
}
