package sensitivity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func monotoneCounter(t float64) (int, float64) {
	// Larger threshold -> fewer, longer candidates (a plausible elbow
	// shape: steep drop-off then a long permissive plateau).
	if t < 1 {
		return 1000, 50
	}
	if t < 10 {
		return int(1000 / t), 100 / t
	}
	return 20, 500
}

func TestSweepProducesSweepSizePoints(t *testing.T) {
	points := Sweep(0.01, 100, monotoneCounter)
	assert.True(t, len(points) >= SweepSize)
}

func TestSweepWidensOnSaturation(t *testing.T) {
	flat := func(t float64) (int, float64) { return 5, 1 }
	points := Sweep(0.01, 100, flat)
	assert.True(t, len(points) >= SweepSize)
	// The re-sweep extends the permissive end from 100 to 100+(100-0.01).
	assert.True(t, points[len(points)-1].Threshold > 100)
}

func TestEstimateReturnsAPoint(t *testing.T) {
	points := Sweep(0.01, 100, monotoneCounter)
	chosen, idx := Estimate(points, 0.05)
	require.True(t, idx >= 0 && idx < len(points))
	assert.True(t, chosen.Count >= 0)
}

func TestSensitivityTriangleDegenerateFlatCurve(t *testing.T) {
	points := make([]Point, 10)
	for i := range points {
		points[i] = Point{Threshold: float64(i), Count: 10, AvgLength: 5}
	}
	_, _, _, ok := sensitivityTriangle(points)
	assert.False(t, ok)
}

func TestFdrFallbackPicksAnIndex(t *testing.T) {
	points := Sweep(0.01, 100, monotoneCounter)
	idx := fdrFallback(points, 0.05)
	assert.True(t, idx >= 0 && idx < len(points))
}
