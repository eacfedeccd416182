package blacklist

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMergesOverlaps(t *testing.T) {
	data := "chr1\t100\t200\nchr1\t150\t250\nchr1\t400\t500\nchr2\t10\t20\n"
	s, err := Load(strings.NewReader(data))
	require.NoError(t, err)

	assert.True(t, s.Intersects("chr1", 0, 101))
	assert.True(t, s.Intersects("chr1", 190, 210))
	assert.True(t, s.Intersects("chr1", 240, 260))
	assert.False(t, s.Intersects("chr1", 250, 400))
	assert.True(t, s.Intersects("chr1", 450, 460))
	assert.False(t, s.Intersects("chr1", 500, 600))
	assert.True(t, s.Intersects("chr2", 15, 16))
	assert.False(t, s.Intersects("chr3", 0, 10))
}

func TestEmptySet(t *testing.T) {
	s := Empty()
	assert.True(t, s.IsEmpty())
	assert.False(t, s.Intersects("chr1", 0, 100))
}

func TestLoadSkipsMalformedAndComments(t *testing.T) {
	data := "# comment\ntrack name=x\nchr1\t5\t10\nchr1\nchr1\t20\t15\n"
	s, err := Load(strings.NewReader(data))
	require.NoError(t, err)
	assert.True(t, s.Intersects("chr1", 5, 6))
	assert.False(t, s.Intersects("chr1", 14, 21))
}
