// Package sensitivity implements the sensitivity-threshold search: given
// a genome-wide per-bin log-null-probability track, it sweeps a
// log-spaced grid of thresholds, builds the resulting (candidate count,
// average candidate length) curve, and picks the threshold sitting at
// the curve's elbow via a "sensitivity triangle" area search, falling
// back to a direct FDR-controlled cutoff when the curve has no usable
// elbow.
package sensitivity

import (
	"math"

	"github.com/JetBrains-Research/omnipeak/internal/nbinom"
)

// SweepSize is the number of log-spaced thresholds swept by default.
const SweepSize = 100

// degenerateRun is the number of consecutive equal candidate counts at
// the stringent (low-candidate-count) end of the sweep that triggers a
// widened re-sweep.
const degenerateRun = 5

// Point is one sample of the (candidate count, average candidate
// length) curve at a given log-null threshold.
type Point struct {
	Threshold float64
	Count     int
	AvgLength float64
}

// CandidateCounter builds candidates at a given log-null threshold and
// reports their count and mean length. It is supplied by the caller
// (the candidate/gap builder) so this package stays independent of the
// concrete interval representation.
type CandidateCounter func(threshold float64) (count int, avgLength float64)

// Sweep evaluates counter at SweepSize log-spaced thresholds between
// lo and hi (inclusive), re-running over an extended range if the
// stringent end of the sweep saturates (more than degenerateRun
// consecutive equal counts).
func Sweep(lo, hi float64, counter CandidateCounter) []Point {
	points := sweepOnce(lo, hi, counter)
	if saturatedAtStringentEnd(points) {
		// Stringent end (lowest threshold magnitude, i.e. least
		// permissive) is flat: widen the permissive end and re-run so
		// the elbow search has a real curve to work with.
		span := hi - lo
		points = sweepOnce(lo, hi+span, counter)
	}
	return points
}

func sweepOnce(lo, hi float64, counter CandidateCounter) []Point {
	points := make([]Point, SweepSize)
	logLo, logHi := math.Log(math.Max(lo, 1e-300)), math.Log(math.Max(hi, 1e-300))
	if logHi < logLo {
		logLo, logHi = logHi, logLo
	}
	for i := 0; i < SweepSize; i++ {
		frac := float64(i) / float64(SweepSize-1)
		t := math.Exp(logLo + frac*(logHi-logLo))
		count, avgLen := counter(t)
		points[i] = Point{Threshold: t, Count: count, AvgLength: avgLen}
	}
	return points
}

func saturatedAtStringentEnd(points []Point) bool {
	if len(points) < degenerateRun+1 {
		return false
	}
	run := 1
	for i := 1; i < len(points); i++ {
		if points[i].Count == points[i-1].Count {
			run++
			if run > degenerateRun {
				return true
			}
		} else {
			break
		}
	}
	return false
}

// Estimate picks the sensitivity threshold from a swept curve. It
// first searches for a "sensitivity triangle": three indices
// i1 < i2 < i3 that maximize the geometric mean of the trapezoidal
// areas under the (count, avgLength) curve over [i1, i2] and [i2, i3]
// (see sensitivityTriangle), then reports the index refine picks in
// [i1, i2] as the elbow. If no non-degenerate triangle exists (e.g. the curve is
// monotone and collinear, or has fewer than 3 distinct points), it
// falls back to the first threshold (scanning from the permissive end)
// whose implied false discovery rate is at or below fdrTarget.
func Estimate(points []Point, fdrTarget float64) (chosen Point, index int) {
	if i1, i2, i3, ok := sensitivityTriangle(points); ok {
		i2 = refine(points, i1, i2, i3)
		return points[i2], i2
	}
	idx := fdrFallback(points, fdrTarget)
	return points[idx], idx
}

// sensitivityTriangle finds the index triple maximizing the geometric
// mean of the two triangle-leg areas: sqrt(area(i1,i2) * area(i2,i3)),
// where area(a,b) is the trapezoidal area under the (count, avgLength)
// curve between a and b. This favors an elbow that is a pronounced
// inflection rather than merely the single largest jump.
func sensitivityTriangle(points []Point) (i1, i2, i3 int, ok bool) {
	n := len(points)
	if n < 3 {
		return 0, 0, 0, false
	}
	bestScore := -math.Inf(1)
	bestI1, bestI2, bestI3 := -1, -1, -1
	for a := 0; a < n-2; a++ {
		for c := a + 2; c < n; c++ {
			for b := a + 1; b < c; b++ {
				left := trapArea(points, a, b)
				right := trapArea(points, b, c)
				if left <= 0 || right <= 0 {
					continue
				}
				score := math.Sqrt(left * right)
				if score > bestScore {
					bestScore = score
					bestI1, bestI2, bestI3 = a, b, c
				}
			}
		}
	}
	if bestI2 < 0 {
		return 0, 0, 0, false
	}
	return bestI1, bestI2, bestI3, true
}

func trapArea(points []Point, a, b int) float64 {
	x0, y0 := float64(points[a].Count), points[a].AvgLength
	x1, y1 := float64(points[b].Count), points[b].AvgLength
	return math.Abs((x1 - x0) * (y0 + y1) / 2)
}

// refine performs the additive-candidate sub-sweep over [i1, i2):
// among indices in that half-open range, pick the one minimizing the
// fraction of candidates newly introduced relative to the total count
// at i2, which tightens the elbow estimate beyond the coarse triangle
// search's grid resolution.
func refine(points []Point, i1, i2, i3 int) int {
	_ = i3
	if i2-i1 < 2 {
		return i2
	}
	total := points[i2].Count
	if total <= 0 {
		return i2
	}
	best, bestRatio := i2, math.Inf(1)
	for i := i1; i < i2; i++ {
		newCandidates := total - points[i].Count
		if newCandidates < 0 {
			continue
		}
		ratio := float64(newCandidates) / float64(total)
		if ratio < bestRatio {
			bestRatio = ratio
			best = i
		}
	}
	return best
}

// fdrFallback scans from the most permissive end of the sweep (last
// index) toward the most stringent, returning the first index whose
// ln(FDR) estimate (computed from the Poisson-tail proxy below) is at
// or below ln(fdrTarget). If none qualifies, it returns the most
// stringent index.
func fdrFallback(points []Point, fdrTarget float64) int {
	logTarget := math.Log(math.Max(fdrTarget, 1e-300))
	for i := len(points) - 1; i >= 0; i-- {
		if points[i].Count <= 0 {
			continue
		}
		logFDR := estimateLogFDR(points, i)
		if logFDR <= logTarget {
			return i
		}
	}
	return 0
}

// estimateLogFDR approximates ln(FDR) at sweep index i as the
// log-ratio of expected false candidates (Poisson tail mass at the
// threshold) to observed candidates, giving a monotone proxy suitable
// only for picking a fallback index, not for final peak-level q-values
// (that is PSF's job).
func estimateLogFDR(points []Point, i int) float64 {
	p := points[i]
	if p.Count <= 0 {
		return 0
	}
	expectedFalse := math.Exp(nbinom.PoissonLogSurvival(1, p.Threshold)) * float64(p.Count)
	if expectedFalse <= 0 {
		return math.Inf(-1)
	}
	return math.Log(expectedFalse / float64(p.Count))
}
