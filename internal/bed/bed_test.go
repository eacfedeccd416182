package bed

import (
	"bytes"
	"testing"

	"github.com/JetBrains-Research/omnipeak/internal/score"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func samplePeaks() []score.Peak {
	return []score.Peak{
		{Chrom: "chr2", Start: 100, End: 200, Name: "peak_2", Score: 500, Strand: '.', Value: 12.5, NegLog10P: 3.1, NegLog10Q: 2.2},
		{Chrom: "chr1", Start: 500, End: 600, Name: "peak_1", Score: 999, Strand: '.', Value: 40.0, NegLog10P: 9.9, NegLog10Q: 8.8},
	}
}

func TestWriteSortsByChromThenPosition(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, samplePeaks()))
	lines := splitLines(buf.String())
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "chr1")
	assert.Contains(t, lines[1], "chr2")
}

func TestRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	peaks := samplePeaks()
	require.NoError(t, Write(&buf, peaks))
	parsed, err := Read(&buf)
	require.NoError(t, err)
	require.Len(t, parsed, 2)
	assert.Equal(t, "chr1", parsed[0].Chrom)
	assert.Equal(t, 500, parsed[0].Start)
	assert.Equal(t, 999, parsed[0].Score)
}

func TestReadRejectsShortLines(t *testing.T) {
	_, err := Read(bytes.NewBufferString("chr1\t1\t2\n"))
	assert.Error(t, err)
}

func splitLines(s string) []string {
	var out []string
	start := 0
	for i, r := range s {
		if r == '\n' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}
