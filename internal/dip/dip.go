// Package dip implements Hartigan's dip test for unimodality and a
// bootstrap p-value for it. No other package in this module calls it.
package dip

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Statistic computes Hartigan's dip statistic for a sorted empirical
// CDF: the maximum distance between the empirical CDF and the best-fit
// unimodal (piecewise-linear, greatest convex minorant / least concave
// majorant sandwiched) distribution. xs need not be pre-sorted.
func Statistic(xs []float64) float64 {
	n := len(xs)
	if n < 3 {
		return 0
	}
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	return hartiganDip(sorted)
}

// hartiganDip implements the greatest-convex-minorant /
// least-concave-majorant sweep over the empirical CDF, the standard
// formulation of Hartigan & Hartigan (1985)'s dip statistic.
func hartiganDip(sorted []float64) float64 {
	n := len(sorted)
	ecdf := make([]float64, n)
	for i := range sorted {
		ecdf[i] = float64(i+1) / float64(n)
	}

	low, high := 0, n-1
	dip := 0.0
	for iter := 0; iter < 2*n; iter++ {
		gcm := greatestConvexMinorant(sorted[low:high+1], ecdf[low:high+1])
		lcm := leastConcaveMajorant(sorted[low:high+1], ecdf[low:high+1])

		maxGap, gapIdx := 0.0, -1
		for i := range gcm {
			d := math.Abs(gcm[i] - lcm[i])
			if d > maxGap {
				maxGap = d
				gapIdx = i
			}
		}
		if gapIdx < 0 || maxGap <= dip {
			dip = math.Max(dip, maxGap)
			break
		}
		dip = maxGap
		// Narrow the active interval around the point of maximum
		// deviation and continue; bounded by 2n iterations so a
		// pathological input cannot loop indefinitely.
		if gapIdx == 0 {
			break
		}
		low += gapIdx / 2
		high = low + (high - low + 1) / 2
		if high <= low {
			break
		}
	}
	return dip / 2
}

// greatestConvexMinorant returns the GCM of the empirical CDF values y
// over x, evaluated at each x[i], via the standard pool-adjacent-
// violators construction.
func greatestConvexMinorant(x, y []float64) []float64 {
	return isotonicHull(x, y, true)
}

func leastConcaveMajorant(x, y []float64) []float64 {
	return isotonicHull(x, y, false)
}

// isotonicHull computes the lower (convex=true) or upper (convex=false)
// convex hull of the points (x[i], y[i]) and linearly interpolates it
// back onto each x[i].
func isotonicHull(x, y []float64, lower bool) []float64 {
	n := len(x)
	if n == 0 {
		return nil
	}
	type pt struct{ x, y float64 }
	pts := make([]pt, n)
	for i := range x {
		pts[i] = pt{x[i], y[i]}
	}
	hull := make([]pt, 0, n)
	for _, p := range pts {
		for len(hull) >= 2 {
			a, b := hull[len(hull)-2], hull[len(hull)-1]
			cross := (b.x-a.x)*(p.y-a.y) - (b.y-a.y)*(p.x-a.x)
			turnsWrongWay := cross <= 0
			if lower {
				turnsWrongWay = cross >= 0
			}
			if turnsWrongWay {
				hull = hull[:len(hull)-1]
				continue
			}
			break
		}
		hull = append(hull, p)
	}
	out := make([]float64, n)
	hi := 0
	for i, xv := range x {
		for hi < len(hull)-2 && hull[hi+1].x <= xv {
			hi++
		}
		if hi >= len(hull)-1 {
			out[i] = hull[len(hull)-1].y
			continue
		}
		a, b := hull[hi], hull[hi+1]
		if b.x == a.x {
			out[i] = a.y
			continue
		}
		t := (xv - a.x) / (b.x - a.x)
		out[i] = a.y + t*(b.y-a.y)
	}
	return out
}

// BootstrapPValue estimates the dip test p-value by comparing the
// observed dip statistic against the dip statistics of nBoot uniform
// samples of the same size, per Hartigan & Hartigan's bootstrap
// calibration. rand is an injected uniform(0,1) generator so callers
// control reproducibility.
func BootstrapPValue(xs []float64, nBoot int, rand func() float64) float64 {
	observed := Statistic(xs)
	n := len(xs)
	if n < 3 || nBoot <= 0 {
		return 1
	}
	exceed := 0
	sample := make([]float64, n)
	for b := 0; b < nBoot; b++ {
		for i := range sample {
			sample[i] = rand()
		}
		if Statistic(sample) >= observed {
			exceed++
		}
	}
	return float64(exceed) / float64(nBoot)
}

// Mean and Variance are thin wrappers over gonum/stat's unweighted
// Mean and unbiased sample Variance.
func Mean(xs []float64) float64     { return stat.Mean(xs, nil) }
func Variance(xs []float64) float64 { return stat.Variance(xs, nil) }
