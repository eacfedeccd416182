// Package nbinom implements the mean/failures parametrization of the
// negative binomial distribution used by the HMM's emission model, plus
// the Poisson upper-tail and log-space summation helpers the scorer
// needs. Moments follow gonum/stat's conventions for mean/variance
// where applicable.
package nbinom

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// MinVarianceRatio is the minimum variance/mean ratio of a fitted
// negative binomial component; FromMoments raises a lower variance
// (at or below Poisson dispersion, ratio 1) to this ratio.
const MinVarianceRatio = 1 + 1e-3

// Dist is a negative binomial distribution parametrized by its mean mu
// and failure count r (sometimes called "size" or "dispersion"):
// variance = mu + mu^2/r.
type Dist struct {
	Mu float64
	R  float64
}

// FromMoments derives (mu, r) from a sample mean and variance, clamping
// the variance to at least MinVarianceRatio*mean to avoid a
// non-positive or infinite r.
func FromMoments(mean, variance float64) Dist {
	if mean <= 0 {
		return Dist{Mu: 0, R: math.Inf(1)}
	}
	minVar := MinVarianceRatio * mean
	if variance < minVar {
		variance = minVar
	}
	r := mean * mean / (variance - mean)
	return Dist{Mu: mean, R: r}
}

// Variance returns mu + mu^2/r.
func (d Dist) Variance() float64 {
	if math.IsInf(d.R, 1) {
		return d.Mu
	}
	return d.Mu + d.Mu*d.Mu/d.R
}

// SuccessProb returns the "p" parameter of the standard
// (r, p)-parametrization of the negative binomial, p = r/(r+mu).
func (d Dist) SuccessProb() float64 {
	if math.IsInf(d.R, 1) {
		return 1
	}
	return d.R / (d.R + d.Mu)
}

// LogPMF returns ln P(X = k) for k >= 0.
func (d Dist) LogPMF(k int) float64 {
	if d.Mu <= 0 {
		if k == 0 {
			return 0
		}
		return math.Inf(-1)
	}
	if math.IsInf(d.R, 1) {
		return poissonLogPMF(float64(k), d.Mu)
	}
	p := d.SuccessProb()
	kf := float64(k)
	return lgamma(kf+d.R) - lgamma(d.R) - lgamma(kf+1) + d.R*math.Log(p) + kf*math.Log(1-p)
}

func lgamma(x float64) float64 {
	v, _ := math.Lgamma(x)
	return v
}

func poissonLogPMF(k, lambda float64) float64 {
	return k*math.Log(lambda) - lambda - lgamma(k+1)
}

// MeanVariance computes the weighted mean and the unbiased (n-1) sample
// variance of xs, delegating to gonum/stat.
func MeanVariance(xs []float64, weights []float64) (mean, variance float64) {
	mean = stat.Mean(xs, weights)
	variance = stat.Variance(xs, weights)
	return mean, variance
}

// maxLogFactorial bounds the cached ln(k!) prefix sum table; beyond it,
// PoissonLogSurvival falls back to Stirling's approximation via
// math.Lgamma.
const maxLogFactorial = 10001

var logFactorialCache = buildLogFactorialCache()

func buildLogFactorialCache() []float64 {
	table := make([]float64, maxLogFactorial+1)
	sum := 0.0
	for i := 1; i <= maxLogFactorial; i++ {
		sum += math.Log(float64(i))
		table[i] = sum
	}
	return table
}

func logFactorial(k int) float64 {
	if k < 0 {
		return math.Inf(1)
	}
	if k <= maxLogFactorial {
		return logFactorialCache[k]
	}
	return lgamma(float64(k) + 1)
}

// LogSumExp returns ln(sum(exp(xs))), computed in a numerically stable
// way by factoring out the maximum element.
func LogSumExp(xs []float64) float64 {
	if len(xs) == 0 {
		return math.Inf(-1)
	}
	max := math.Inf(-1)
	for _, x := range xs {
		if x > max {
			max = x
		}
	}
	if math.IsInf(max, -1) {
		return math.Inf(-1)
	}
	var sum float64
	for _, x := range xs {
		sum += math.Exp(x - max)
	}
	return max + math.Log(sum)
}

// PoissonLogSurvival returns ln P(X >= k) for X ~ Poisson(lambda), via
// the recurrence term_i = i*ln(lambda) - lambda - lnFactorial(i) summed
// with LogSumExp over i in [k, k+window), extending the window until
// additional terms no longer change the running logsumexp by more than
// tol.
func PoissonLogSurvival(k int, lambda float64) float64 {
	if lambda <= 0 {
		if k <= 0 {
			return 0
		}
		return math.Inf(-1)
	}
	if k <= 0 {
		return 0
	}
	const tol = 1e-12
	const batch = 64
	i := k
	acc := math.Inf(-1)
	for {
		terms := make([]float64, 0, batch+1)
		terms = append(terms, acc)
		for j := 0; j < batch; j++ {
			terms = append(terms, float64(i)*math.Log(lambda)-lambda-logFactorial(i))
			i++
		}
		next := LogSumExp(terms)
		converged := !math.IsInf(acc, -1) && next-acc < tol
		acc = next
		if converged {
			break
		}
		lastTerm := terms[len(terms)-1]
		if lastTerm < acc-40 {
			break
		}
	}
	return acc
}

// KahanSum adds xs together using Kahan compensated summation, the
// precision discipline needed for length-weighted candidate log-p
// accumulation.
func KahanSum(xs []float64) float64 {
	var sum, c float64
	for _, x := range xs {
		y := x - c
		t := sum + y
		c = (t - sum) - y
		sum = t
	}
	return sum
}
