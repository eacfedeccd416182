package engine

import (
	"context"
	"testing"

	"github.com/JetBrains-Research/omnipeak/internal/coverage"
	"github.com/JetBrains-Research/omnipeak/internal/genome"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildTrack(t *testing.T, layout genome.Layout, enrich map[string][2]int) coverage.Track {
	tr := coverage.NewTrack(layout)
	for chrom, rng := range enrich {
		bins := tr.Bin(chrom)
		for i := rng[0]; i < rng[1]; i++ {
			bins[i] = 50
		}
	}
	for _, chrom := range layout.Names() {
		bins := tr.Bin(chrom)
		for i := range bins {
			if bins[i] == 0 {
				bins[i] = 1
			}
		}
	}
	return tr
}

func TestAnalyzeProducesOutcomesPerChromosome(t *testing.T) {
	layout, err := genome.New(map[string]int{"chr1": 2000, "chr2": 2000}, 10)
	require.NoError(t, err)
	tr := buildTrack(t, layout, map[string][2]int{"chr1": {50, 70}})
	provider, err := coverage.NewProvider(tr, nil, false)
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.Parallelism = 2
	_, outcomes, err := Analyze(context.Background(), provider, layout, cfg)
	require.NoError(t, err)
	assert.Len(t, outcomes, 2)
	names := map[string]bool{}
	for _, o := range outcomes {
		names[o.Chromosome] = true
	}
	assert.True(t, names["chr1"])
	assert.True(t, names["chr2"])
}

func TestAnalyzeRespectsCancellation(t *testing.T) {
	layout, err := genome.New(map[string]int{"chr1": 1000}, 10)
	require.NoError(t, err)
	tr := buildTrack(t, layout, nil)
	provider, err := coverage.NewProvider(tr, nil, false)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err = Analyze(ctx, provider, layout, DefaultConfig())
	assert.Error(t, err)
}

func TestCompareTagsGainAndLoss(t *testing.T) {
	layout, err := genome.New(map[string]int{"chr1": 2000}, 10)
	require.NoError(t, err)
	a := buildTrack(t, layout, map[string][2]int{"chr1": {50, 70}})
	b := buildTrack(t, layout, nil)
	pa, err := coverage.NewProvider(a, nil, false)
	require.NoError(t, err)
	pb, err := coverage.NewProvider(b, nil, false)
	require.NoError(t, err)

	peaks, outcomes, err := Compare(context.Background(), pa, pb, layout, DefaultConfig())
	require.NoError(t, err)
	assert.Len(t, outcomes, 1)
	for _, p := range peaks {
		assert.Contains(t, []string{"gain", "loss"}, p.Name)
	}
}
