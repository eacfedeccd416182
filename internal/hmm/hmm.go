// Package hmm implements the zero-inflated multi-state negative-binomial
// hidden Markov model used to separate enriched signal from background
// along a binned coverage track. It supports two state alphabets: a
// 3-state Analyze model (Z, L, H) for single-track peak calling and a
// 5-state Compare model (Z, L, H, I, D) for differential calling.
//
// The forward-backward recursion and EM fitting loop follow the
// log-space bookkeeping style of this codebase's other dynamic
// programming recurrences (see nbinom.LogSumExp), generalized from a
// single best-path score to a full posterior over states and bins.
package hmm

import (
	"math"
	"sort"

	"github.com/JetBrains-Research/omnipeak/internal/nbinom"
	"github.com/grailbio/base/log"
)

// StateSet selects which tagged state alphabet a Model uses.
type StateSet int

const (
	// Analyze is the 3-state {Z, L, H} alphabet used for single-track
	// peak calling.
	Analyze StateSet = iota
	// Compare is the 5-state {Z, L, H, I, D} alphabet used for
	// differential calling between two tracks.
	Compare
)

// State indexes into a Model's per-state parameter slices.
type State int

const (
	StateZ State = iota // zero / background, degenerate point mass at 0
	StateL              // low enrichment
	StateH              // high enrichment
	StateI              // increased, Compare only
	StateD              // decreased, Compare only
)

func (s StateSet) numStates() int {
	if s == Compare {
		return 5
	}
	return 3
}

// NullStates returns the indices of states that do not count as
// "signal" for the purposes of the null log-probability track: Analyze
// treats Z and L as null (only H is foreground); Compare additionally
// treats H as null, since it is the "same enrichment in both groups"
// state and only I/D mark a difference.
func (s StateSet) NullStates() []State {
	if s == Compare {
		return []State{StateZ, StateL, StateH}
	}
	return []State{StateZ, StateL}
}

// DefaultPriors returns the Analyze model's default initial-state
// distribution (Z, L, H) = (0.75, 0.249, 0.001).
func DefaultPriors() []float64 { return []float64{0.75, 0.249, 0.001} }

// DefaultTransition returns the Analyze model's default 3x3 transition
// matrix: strong self-persistence, with most residual mass flowing to
// the neighbouring state (Z and L to each other, H to L).
func DefaultTransition() [][]float64 {
	return [][]float64{
		{0.75, 0.2499, 0.0001},
		{0.2, 0.798, 0.002},
		{0.005, 0.015, 0.98},
	}
}

// FitConfig configures Baum-Welch EM.
type FitConfig struct {
	// ConvergenceThreshold is the minimum relative log-likelihood gain
	// between EM iterations below which fitting stops. Default 1e-4.
	ConvergenceThreshold float64
	// MaxIterations bounds EM iterations. Default 10.
	MaxIterations int
	// LowPercentile / HighPercentile select the percentile-of-nonzero-bins
	// used to seed the L/H state means. Defaults 10 and 50.
	LowPercentile, HighPercentile float64
	// MinSNR, if > 0, makes Fit log an error when the high-state mean
	// does not exceed the low-state mean by at least this ratio (the
	// "SNR guard"). The fit is returned unchanged: means are not clamped
	// and the model is not flagged.
	MinSNR float64
}

// DefaultFitConfig returns the default Baum-Welch settings.
func DefaultFitConfig() FitConfig {
	return FitConfig{
		ConvergenceThreshold: 1e-4,
		MaxIterations:        10,
		LowPercentile:        10,
		HighPercentile:       50,
	}
}

// Model is a fitted (or about-to-be-fitted) zero-inflated
// negative-binomial HMM over one state alphabet.
type Model struct {
	Set        StateSet
	Priors     []float64      // length numStates, sums to 1
	Transition [][]float64    // numStates x numStates row-stochastic
	Emissions  []nbinom.Dist  // per-state NB emission; StateZ is the Mu=0 degenerate case
	LowQuality bool           // set if post-fit state reordering only partially validated
}

// logFloor guards log-probabilities from drifting fractionally above 0
// due to floating point error: clampLogProb sets any value above it to
// exactly 0.
const logFloor = -1e-10

func clampLogProb(x float64) float64 {
	if x > logFloor {
		return 0
	}
	return x
}

// New builds an unfit Model with the default priors/transition for the
// given state set and emission means seeded from bins via percentile
// initialization (spec's mean-initialization rule).
func New(set StateSet, bins []int32, cfg FitConfig) Model {
	n := set.numStates()
	priors := make([]float64, n)
	trans := make([][]float64, n)
	copy(priors, DefaultPriors())
	for len(priors) < n {
		priors = append(priors, 0.001)
	}
	base := DefaultTransition()
	for i := 0; i < n; i++ {
		trans[i] = make([]float64, n)
		if i < len(base) {
			copy(trans[i], base[i])
			for len(trans[i]) < n {
				trans[i] = append(trans[i], 0.001)
			}
		} else {
			trans[i][i] = 0.9
			for j := 0; j < n; j++ {
				if j != i {
					trans[i][j] = 0.1 / float64(n-1)
				}
			}
		}
	}
	normalizeRows(trans)
	normalize(priors)

	emissions := make([]nbinom.Dist, n)
	emissions[StateZ] = nbinom.Dist{Mu: 0, R: math.Inf(1)}
	lowMean := percentileOfNonzero(bins, cfg.LowPercentile)
	highMean := percentileOfNonzero(bins, cfg.HighPercentile)
	if highMean <= lowMean {
		highMean = lowMean + 1
	}
	emissions[StateL] = nbinom.FromMoments(lowMean, lowMean*2)
	emissions[StateH] = nbinom.FromMoments(highMean, highMean*2)
	if n > 3 {
		emissions[StateI] = nbinom.FromMoments(highMean, highMean*2)
		emissions[StateD] = nbinom.FromMoments(lowMean, lowMean*2)
	}
	return Model{Set: set, Priors: priors, Transition: trans, Emissions: emissions}
}

func normalize(xs []float64) {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	if sum <= 0 {
		return
	}
	for i := range xs {
		xs[i] /= sum
	}
}

func normalizeRows(m [][]float64) {
	for _, row := range m {
		normalize(row)
	}
}

// percentileOfNonzero returns the p-th percentile (0-100) of the
// nonzero elements of bins, or 1 if there are none.
func percentileOfNonzero(bins []int32, p float64) float64 {
	var vals []float64
	for _, b := range bins {
		if b > 0 {
			vals = append(vals, float64(b))
		}
	}
	if len(vals) == 0 {
		return 1
	}
	sort.Float64s(vals)
	idx := int(p / 100 * float64(len(vals)-1))
	if idx < 0 {
		idx = 0
	}
	if idx >= len(vals) {
		idx = len(vals) - 1
	}
	return vals[idx]
}

// logEmission returns ln P(bins[t] | state).
func (m Model) logEmission(state State, count int32) float64 {
	d := m.Emissions[state]
	if state == StateZ {
		if count == 0 {
			return 0
		}
		return math.Inf(-1)
	}
	return d.LogPMF(int(count))
}

// Result holds the output of Forward-Backward / a fitted pass: the
// per-state, per-bin log-posterior and the per-bin log-null
// probability (logsumexp over null states).
type Result struct {
	LogPosterior [][]float64 // [state][bin]
	LogNull      []float64   // [bin]
	LogLikelihood float64

	// alpha/beta/logTrans are retained from the forward-backward pass so
	// the M-step can recompute the exact xi_t(i,j) transition statistic
	// instead of approximating it from consecutive posteriors.
	alpha, beta [][]float64 // [bin][state]
	logTrans    [][]float64 // [state][state]
}

// Decode runs log-space forward-backward over bins using m's current
// parameters and returns the posterior decoding.
func (m Model) Decode(bins []int32) Result {
	n := len(m.Priors)
	T := len(bins)
	logPriors := logVec(m.Priors)
	logTrans := make([][]float64, n)
	for i := range m.Transition {
		logTrans[i] = logVec(m.Transition[i])
	}

	alpha := make([][]float64, T)
	for t := 0; t < T; t++ {
		alpha[t] = make([]float64, n)
		for s := 0; s < n; s++ {
			emit := m.logEmission(State(s), bins[t])
			if t == 0 {
				alpha[t][s] = logPriors[s] + emit
				continue
			}
			terms := make([]float64, n)
			for prev := 0; prev < n; prev++ {
				terms[prev] = alpha[t-1][prev] + logTrans[prev][s]
			}
			alpha[t][s] = nbinom.LogSumExp(terms) + emit
		}
	}

	beta := make([][]float64, T)
	beta[T-1] = make([]float64, n) // all zero in log-space (ln 1)
	for t := T - 2; t >= 0; t-- {
		beta[t] = make([]float64, n)
		for s := 0; s < n; s++ {
			terms := make([]float64, n)
			for next := 0; next < n; next++ {
				emit := m.logEmission(State(next), bins[t+1])
				terms[next] = logTrans[s][next] + emit + beta[t+1][next]
			}
			beta[t][s] = nbinom.LogSumExp(terms)
		}
	}

	logLikelihood := nbinom.LogSumExp(alpha[T-1])

	posterior := make([][]float64, n)
	for s := 0; s < n; s++ {
		posterior[s] = make([]float64, T)
	}
	for t := 0; t < T; t++ {
		for s := 0; s < n; s++ {
			posterior[s][t] = clampLogProb(alpha[t][s] + beta[t][s] - logLikelihood)
		}
	}

	logNull := make([]float64, T)
	nullStates := m.Set.NullStates()
	for t := 0; t < T; t++ {
		terms := make([]float64, len(nullStates))
		for i, s := range nullStates {
			terms[i] = posterior[s][t]
		}
		logNull[t] = clampLogProb(nbinom.LogSumExp(terms))
	}

	return Result{
		LogPosterior:  posterior,
		LogNull:       logNull,
		LogLikelihood: logLikelihood,
		alpha:         alpha,
		beta:          beta,
		logTrans:      logTrans,
	}
}

func logVec(xs []float64) []float64 {
	out := make([]float64, len(xs))
	for i, x := range xs {
		out[i] = math.Log(x)
	}
	return out
}

// Fit runs Baum-Welch EM on bins starting from the parameters New
// builds for set and bins,
// returning the refit model, whether it converged within
// cfg.MaxIterations, and the final decoding.
func Fit(bins []int32, set StateSet, cfg FitConfig) (Model, bool, Result) {
	if cfg.ConvergenceThreshold <= 0 {
		cfg.ConvergenceThreshold = DefaultFitConfig().ConvergenceThreshold
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultFitConfig().MaxIterations
	}
	m := New(set, bins, cfg)
	prevLL := math.Inf(-1)
	converged := false
	var result Result

	for iter := 0; iter < cfg.MaxIterations; iter++ {
		result = m.Decode(bins)
		m = reestimate(m, bins, result)
		ll := result.LogLikelihood
		if prevLL != math.Inf(-1) {
			delta := math.Abs(ll-prevLL) / math.Max(1, math.Abs(prevLL))
			if delta < cfg.ConvergenceThreshold {
				converged = true
				prevLL = ll
				break
			}
		}
		prevLL = ll
	}
	if !converged {
		log.Debug.Printf("hmm: Baum-Welch did not converge within %d iterations", cfg.MaxIterations)
	}
	result = m.Decode(bins)
	m, flipped, lowQuality := reorderStates(m, set)
	if flipped {
		result = m.Decode(bins)
	}
	m.LowQuality = lowQuality

	if cfg.MinSNR > 0 && set != Compare {
		if m.Emissions[StateH].Mu < cfg.MinSNR*math.Max(m.Emissions[StateL].Mu, 1) {
			log.Error.Printf("hmm: fit failed SNR guard (H mean %.3f, L mean %.3f, min ratio %.3f)",
				m.Emissions[StateH].Mu, m.Emissions[StateL].Mu, cfg.MinSNR)
		}
	}

	return m, converged, result
}

// reestimate performs the M-step: given a Model's current
// forward-backward posterior over bins, recompute priors, transition
// matrix and per-state NB moments.
func reestimate(m Model, bins []int32, res Result) Model {
	n := len(m.Priors)
	T := len(bins)

	newPriors := make([]float64, n)
	for s := 0; s < n; s++ {
		newPriors[s] = math.Exp(res.LogPosterior[s][0])
	}
	normalize(newPriors)

	newTrans := make([][]float64, n)
	for i := range newTrans {
		newTrans[i] = make([]float64, n)
	}
	// Forward-backward's xi_t(i,j) = P(state_t=i, state_t+1=j | bins),
	// computed directly from the retained alpha/beta/logTrans rather than
	// approximated from the product of consecutive marginals.
	for t := 0; t < T-1; t++ {
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				emit := m.logEmission(State(j), bins[t+1])
				logXi := res.alpha[t][i] + res.logTrans[i][j] + emit + res.beta[t+1][j] - res.LogLikelihood
				newTrans[i][j] += math.Exp(logXi)
			}
		}
	}
	normalizeRows(newTrans)

	newEmissions := make([]nbinom.Dist, n)
	newEmissions[StateZ] = nbinom.Dist{Mu: 0, R: math.Inf(1)}
	for s := 1; s < n; s++ {
		var sumW, sumWX float64
		for t := 0; t < T; t++ {
			w := math.Exp(res.LogPosterior[s][t])
			sumW += w
			sumWX += w * float64(bins[t])
		}
		if sumW <= 0 {
			newEmissions[s] = m.Emissions[s]
			continue
		}
		mean := sumWX / sumW
		var sumWVar float64
		for t := 0; t < T; t++ {
			w := math.Exp(res.LogPosterior[s][t])
			d := float64(bins[t]) - mean
			sumWVar += w * d * d
		}
		variance := sumWVar / sumW
		newEmissions[s] = nbinom.FromMoments(mean, variance)
	}

	return Model{Set: m.Set, Priors: newPriors, Transition: newTrans, Emissions: newEmissions}
}

// reorderStates ensures emission means increase monotonically with
// state index for the Analyze signal states (L before H). Compare
// models are returned unchanged; their states are not reordered. EM
// can converge with L/H swapped; this flips rows/columns back when both
// the mean ordering and the NB success-probability ordering indicate a
// swap, and flags the model low-quality if only one of the two does.
func reorderStates(m Model, set StateSet) (Model, bool, bool) {
	if set == Compare {
		return m, false, false
	}
	l, h := m.Emissions[StateL], m.Emissions[StateH]
	meanAgrees := h.Mu < l.Mu
	probAgrees := h.SuccessProb() > l.SuccessProb()
	if !meanAgrees {
		return m, false, probAgrees
	}
	if !probAgrees {
		return m, false, true
	}
	swapped := m
	swapped.Emissions = append([]nbinom.Dist(nil), m.Emissions...)
	swapped.Emissions[StateL], swapped.Emissions[StateH] = swapped.Emissions[StateH], swapped.Emissions[StateL]
	swapped.Priors = append([]float64(nil), m.Priors...)
	swapped.Priors[StateL], swapped.Priors[StateH] = swapped.Priors[StateH], swapped.Priors[StateL]
	swapped.Transition = swapRowsCols(m.Transition, int(StateL), int(StateH))
	return swapped, true, false
}

func swapRowsCols(m [][]float64, a, b int) [][]float64 {
	n := len(m)
	out := make([][]float64, n)
	for i := range m {
		out[i] = append([]float64(nil), m[i]...)
	}
	out[a], out[b] = out[b], out[a]
	for i := range out {
		out[i][a], out[i][b] = out[i][b], out[i][a]
	}
	return out
}
