package readsource

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadBedGraphAndSum(t *testing.T) {
	r, err := LoadBedGraph(strings.NewReader("chr1\t0\t100\t2.0\nchr1\t100\t200\t4.0\n"))
	require.NoError(t, err)
	sum, err := r.SumOverRange("chr1", 50, 150)
	require.NoError(t, err)
	assert.InDelta(t, 50*2.0+50*4.0, sum, 1e-9)
}

func TestSumOverRangeMissingChromosome(t *testing.T) {
	r, err := LoadBedGraph(strings.NewReader("chr1\t0\t100\t1.0\n"))
	require.NoError(t, err)
	sum, err := r.SumOverRange("chr2", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 0.0, sum)
}

func TestLoadBedGraphRejectsMalformed(t *testing.T) {
	_, err := LoadBedGraph(strings.NewReader("chr1\t0\tnotanumber\t1.0\n"))
	assert.Error(t, err)
}

func TestGuessFormat(t *testing.T) {
	assert.Equal(t, ReadAlignment, GuessFormat("sample.bam"))
	assert.Equal(t, ContinuousCoverage, GuessFormat("sample.bw"))
	assert.Equal(t, IntervalList, GuessFormat("sample.bed"))
	assert.Equal(t, Unknown, GuessFormat("sample.xyz"))
}
