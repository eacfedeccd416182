package modelio

import (
	"bytes"
	"testing"

	"github.com/JetBrains-Research/omnipeak/internal/hmm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleArtifact() Artifact {
	return Artifact{
		Manifest: Manifest{
			Kind:        KindAnalyze,
			BinSize:     200,
			StateSet:    hmm.Analyze,
			Priors:      []float64{0.75, 0.249, 0.001},
			Means:       []float64{0, 2, 20},
			Dispersions: []float64{0, 3, 5},
			Chromosomes: []string{"chr1", "chr2"},
			FitInfo: []FitInfo{
				{Chromosome: "chr1", Converged: true, Iterations: 4, LogLikelihood: -123.4},
			},
		},
		LogNull: map[string][]float32{
			"chr1": {-1, -2, -3},
			"chr2": {-0.5, -0.25},
		},
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	art := sampleArtifact()
	var buf bytes.Buffer
	require.NoError(t, Save(&buf, art))

	loaded, err := Load(&buf)
	require.NoError(t, err)
	assert.Equal(t, art.Manifest.Kind, loaded.Manifest.Kind)
	assert.Equal(t, art.Manifest.BinSize, loaded.Manifest.BinSize)
	assert.Equal(t, art.LogNull["chr1"], loaded.LogNull["chr1"])
	assert.NotEmpty(t, loaded.Manifest.Identifier)
}

func TestIdentifierIsDeterministic(t *testing.T) {
	art := sampleArtifact()
	id1 := Identifier(art.Manifest, art.LogNull)
	id2 := Identifier(art.Manifest, art.LogNull)
	assert.Equal(t, id1, id2)
}

func TestIdentifierChangesWithContent(t *testing.T) {
	art := sampleArtifact()
	id1 := Identifier(art.Manifest, art.LogNull)
	art.LogNull["chr1"][0] = -99
	id2 := Identifier(art.Manifest, art.LogNull)
	assert.NotEqual(t, id1, id2)
}

func TestLoadRejectsMissingManifest(t *testing.T) {
	var buf bytes.Buffer
	_, err := Load(&buf)
	assert.Error(t, err)
}

func TestDiffDetectsMismatch(t *testing.T) {
	a := Manifest{Kind: KindAnalyze, BinSize: 200, StateSet: hmm.Analyze}
	b := Manifest{Kind: KindAnalyze, BinSize: 100, StateSet: hmm.Analyze}
	assert.NotEqual(t, "", Diff(a, b))
	assert.Equal(t, "", Diff(a, a))
}
