// Package score implements the Peak Scorer & Filter (PSF): it turns
// candidate bin intervals into ranked, scored peaks. Each candidate is
// split into scoring blocks, each block gets a model-based and a
// signal-based log-p-value that are combined geometrically, block
// log-p-values are length-weighted and Kahan-summed into a candidate
// log-p-value, candidates are corrected for multiple testing in
// log-space, boundaries are clipped to the locally dense sub-interval,
// and blacklisted candidates are dropped.
package score

import (
	"math"
	"sort"

	"github.com/JetBrains-Research/omnipeak/internal/blacklist"
	"github.com/JetBrains-Research/omnipeak/internal/candidate"
	"github.com/JetBrains-Research/omnipeak/internal/nbinom"
)

// Config collects the PSF's tunable parameters, all defaulted to the
// values used throughout the rest of this package's tests.
type Config struct {
	// BlockGapBins is the largest run of non-qualifying bins that is
	// bridged inside one scoring block; blocks are separated by more
	// than this many bins. Default 3.
	BlockGapBins int
	// ClipFraction bounds how much of a candidate's length may be
	// trimmed from either side during boundary clipping. Default 0.4.
	ClipFraction float64
	// ShrinkFractions are the candidate shrink ratios tried during
	// boundary clipping; ClipBoundary tries them largest first,
	// whatever their order here.
	ShrinkFractions []float64
	// FDRMethod selects the multiple-testing correction: "bh" (default)
	// or "bonferroni".
	FDRMethod string
	// FDRTarget is the FDR threshold candidates are filtered against:
	// any candidate whose log-p or log-q exceeds ln(FDRTarget) is
	// dropped. Default 0.05.
	FDRTarget float64
}

// DefaultConfig returns the PSF's default tuning.
func DefaultConfig() Config {
	return Config{
		BlockGapBins: 3,
		ClipFraction: 0.4,
		ShrinkFractions: []float64{
			0.05, 0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.8, 1.0, 1.5, 2.0, 5.0, 10.0,
		},
		FDRMethod: "bh",
		FDRTarget: 0.05,
	}
}

// Block is one scoring sub-interval of a candidate.
type Block struct {
	Start, End int // bin indices, half-open, relative to the chromosome's bin vector
}

// DecomposeBlocks splits iv into scoring blocks: the bins whose log_null
// is at or below the 50th percentile of log_null over the candidate,
// aggregated into runs separated by no more than gap background bins.
// If no bin qualifies, the whole candidate becomes a single block.
func DecomposeBlocks(iv candidate.Interval, logNull []float64, gap int) []Block {
	n := iv.Len()
	if n == 0 {
		return nil
	}
	vals := make([]float64, 0, n)
	for i := iv.Start; i < iv.End && i < len(logNull); i++ {
		vals = append(vals, logNull[i])
	}
	if len(vals) == 0 {
		return []Block{{Start: iv.Start, End: iv.End}}
	}
	threshold := percentile(vals, 50)

	var selected []int
	for i := 0; i < n; i++ {
		idx := iv.Start + i
		if idx < len(logNull) && logNull[idx] <= threshold {
			selected = append(selected, i)
		}
	}
	if len(selected) == 0 {
		return []Block{{Start: iv.Start, End: iv.End}}
	}

	var blocks []Block
	start, prev := selected[0], selected[0]
	for _, i := range selected[1:] {
		if i-prev-1 <= gap {
			prev = i
			continue
		}
		blocks = append(blocks, Block{Start: iv.Start + start, End: iv.Start + prev + 1})
		start, prev = i, i
	}
	blocks = append(blocks, Block{Start: iv.Start + start, End: iv.Start + prev + 1})
	return blocks
}

// percentile returns the p-th percentile (0-100) of xs, nearest-rank on
// the sorted copy.
func percentile(xs []float64, p float64) float64 {
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	idx := int(p / 100 * float64(len(sorted)-1))
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// ModelLogP returns the block's model log-p-value: the sum of log_null
// over the block's bins, the HMM's aggregate confidence that this
// block sits outside the background state.
func ModelLogP(block Block, logNull []float64) float64 {
	terms := make([]float64, 0, block.End-block.Start)
	for i := block.Start; i < block.End && i < len(logNull); i++ {
		terms = append(terms, logNull[i])
	}
	if len(terms) == 0 {
		return 0
	}
	return nbinom.KahanSum(terms)
}

// SignalLogP returns the block's signal log-p-value: the Poisson
// upper-tail probability of observing at least the block's total
// treatment signal under a background rate of lambda counts/bin.
func SignalLogP(block Block, treatment []int32, lambdaPerBin float64) float64 {
	var sum int64
	n := 0
	for i := block.Start; i < block.End && i < len(treatment); i++ {
		sum += int64(treatment[i])
		n++
	}
	if n == 0 {
		return 0
	}
	lambda := lambdaPerBin * float64(n)
	return nbinom.PoissonLogSurvival(int(sum), lambda)
}

// CombineBlockScore geometrically combines a block's model and signal
// log-p-values: -sqrt(modelLogP * signalLogP), both of which are <= 0,
// so the product is >= 0 and the combined score is <= 0, same sign
// convention as its inputs.
func CombineBlockScore(modelLogP, signalLogP float64) float64 {
	product := modelLogP * signalLogP
	if product < 0 {
		product = 0
	}
	return -math.Sqrt(product)
}

// CandidateLogP combines a candidate's per-block scores into one
// length-weighted, Kahan-summed log-p-value. Blocks are sorted
// ascending by score (most significant first) before summation so
// compensated summation accumulates the dominant terms first.
func CandidateLogP(blocks []Block, blockScores []float64) float64 {
	type weighted struct {
		score  float64
		weight float64
	}
	ws := make([]weighted, len(blocks))
	for i, b := range blocks {
		ws[i] = weighted{score: blockScores[i], weight: float64(b.End - b.Start)}
	}
	sort.Slice(ws, func(i, j int) bool { return ws[i].score < ws[j].score })

	var totalWeight float64
	terms := make([]float64, len(ws))
	for i, w := range ws {
		terms[i] = w.score * w.weight
		totalWeight += w.weight
	}
	if totalWeight == 0 {
		return 0
	}
	return nbinom.KahanSum(terms) / totalWeight
}

// CorrectLogP applies Benjamini-Hochberg (method "bh") or Bonferroni
// (method "bonferroni") multiple-testing correction to a set of
// log-p-values, entirely in log-space, returning log-q-values in the
// same order as logP.
func CorrectLogP(logP []float64, method string) []float64 {
	n := len(logP)
	logQ := make([]float64, n)
	if n == 0 {
		return logQ
	}
	if method == "bonferroni" {
		logN := math.Log(float64(n))
		for i, p := range logP {
			q := p + logN
			if q > 0 {
				q = 0
			}
			logQ[i] = q
		}
		return logQ
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return logP[order[a]] < logP[order[b]] })

	logN := math.Log(float64(n))
	running := math.Inf(1)
	for rank := n; rank >= 1; rank-- {
		idx := order[rank-1]
		q := logP[idx] + logN - math.Log(float64(rank))
		if q > 0 {
			q = 0
		}
		if q < running {
			running = q
		}
		logQ[idx] = running
	}
	return logQ
}

// GlobalDensities computes the mean treatment signal over bins that
// fall inside any candidate (signal) versus bins that fall outside all
// of them (noise), across the whole chromosome.
func GlobalDensities(candidates []candidate.Interval, treatment []int32) (signal, noise float64) {
	inside := make([]bool, len(treatment))
	for _, iv := range candidates {
		for i := iv.Start; i < iv.End && i < len(inside); i++ {
			inside[i] = true
		}
	}
	var sumIn, sumOut float64
	var nIn, nOut int
	for i, v := range treatment {
		if inside[i] {
			sumIn += float64(v)
			nIn++
		} else {
			sumOut += float64(v)
			nOut++
		}
	}
	if nIn > 0 {
		signal = sumIn / float64(nIn)
	}
	if nOut > 0 {
		noise = sumOut / float64(nOut)
	}
	return signal, noise
}

// ClipBoundary shrinks iv from each side independently, trying the
// largest shrink fraction in cfg.ShrinkFractions first and accepting a
// shrink step as soon as the density of the sliver it trims away stays
// below maxClippedDensity (noise + clip*(signal-noise)), never trimming
// more than cfg.ClipFraction of the original length from either side.
func ClipBoundary(iv candidate.Interval, treatment []int32, maxClippedDensity float64, cfg Config) candidate.Interval {
	n := iv.Len()
	if n == 0 {
		return iv
	}
	maxTrim := int(math.Floor(cfg.ClipFraction * float64(n)))

	fractions := append([]float64(nil), cfg.ShrinkFractions...)
	sort.Sort(sort.Reverse(sort.Float64Slice(fractions)))

	trimLeft := 0
	for _, frac := range fractions {
		trim := int(math.Round(frac * float64(n) / 2))
		if trim <= trimLeft || trim > maxTrim || trim >= n-trimLeft {
			continue
		}
		var sliver float64
		for i := trimLeft; i < trim; i++ {
			sliver += float64(treatment[iv.Start+i])
		}
		if sliver/float64(trim-trimLeft) < maxClippedDensity {
			trimLeft = trim
		}
	}

	trimRight := 0
	for _, frac := range fractions {
		trim := int(math.Round(frac * float64(n) / 2))
		if trim <= trimRight || trim > maxTrim || trim >= n-trimRight-trimLeft {
			continue
		}
		var sliver float64
		for i := 0; i < trim-trimRight; i++ {
			sliver += float64(treatment[iv.Start+n-trim+i])
		}
		if sliver/float64(trim-trimRight) < maxClippedDensity {
			trimRight = trim
		}
	}

	if trimLeft+trimRight >= n {
		return iv
	}
	return candidate.Interval{Start: iv.Start + trimLeft, End: iv.End - trimRight}
}

// Peak is one entry of the final BED6+3 output.
type Peak struct {
	Chrom      string
	Start, End int // base pairs
	Name       string
	Score      int // 0..1000, floor(min(1000, -log10(q)))
	Strand     byte
	Value      float64
	NegLog10P  float64
	NegLog10Q  float64
}

// BuildPeaks scores every candidate on chrom, applies multiple-testing
// correction across all candidates passed in, clips boundaries, drops
// candidates intersecting bl, and returns the surviving peaks. binSize
// converts bin indices to base-pair coordinates.
func BuildPeaks(
	chrom string,
	candidates []candidate.Interval,
	treatment []int32,
	logNull []float64,
	lambdaPerBin float64,
	binSize int,
	bl blacklist.Set,
	cfg Config,
) []Peak {
	if cfg.FDRTarget <= 0 {
		cfg.FDRTarget = DefaultConfig().FDRTarget
	}
	logPs := make([]float64, len(candidates))
	for i, iv := range candidates {
		blocks := DecomposeBlocks(iv, logNull, cfg.BlockGapBins)
		blockScores := make([]float64, len(blocks))
		for j, b := range blocks {
			model := ModelLogP(b, logNull)
			signal := SignalLogP(b, treatment, lambdaPerBin)
			blockScores[j] = CombineBlockScore(model, signal)
		}
		logPs[i] = CandidateLogP(blocks, blockScores)
	}
	logQs := CorrectLogP(logPs, cfg.FDRMethod)
	logFDR := math.Log(cfg.FDRTarget)

	signalDensity, noiseDensity := GlobalDensities(candidates, treatment)
	clipEnabled := signalDensity > noiseDensity
	maxClippedDensity := noiseDensity + cfg.ClipFraction*(signalDensity-noiseDensity)

	var peaks []Peak
	for i, iv := range candidates {
		if logPs[i] > logFDR || logQs[i] > logFDR {
			continue
		}
		clipped := iv
		if clipEnabled {
			clipped = ClipBoundary(iv, treatment, maxClippedDensity, cfg)
		}
		startBp, endBp := clipped.Start*binSize, clipped.End*binSize
		if bl.Intersects(chrom, startBp, endBp) {
			continue
		}
		negLogP := -logPs[i] / math.Ln10
		negLogQ := -logQs[i] / math.Ln10
		score := int(math.Min(1000, negLogQ))
		if score < 0 {
			score = 0
		}
		var rawSignal float64
		for b := clipped.Start; b < clipped.End; b++ {
			rawSignal += float64(treatment[b])
		}
		modelLogP := ModelLogP(Block{Start: clipped.Start, End: clipped.End}, logNull)
		value := peakValue(rawSignal, noiseDensity, clipped.Len(), modelLogP)
		peaks = append(peaks, Peak{
			Chrom:     chrom,
			Start:     startBp,
			End:       endBp,
			Name:      "peak",
			Score:     score,
			Strand:    '.',
			Value:     value,
			NegLog10P: negLogP,
			NegLog10Q: negLogQ,
		})
	}
	return peaks
}

// peakValue computes the BED Value field: (ceil(rawSignal)+1) /
// (noiseDensity*length+1) when a background noise density estimate is
// available, falling back to -modelLogP otherwise. This pipeline never
// scores against a separate control track at this stage (control is
// already folded into treatment upstream by coverage.Provider), so the
// controlScore branch of the documented fallback chain never applies
// here.
func peakValue(rawSignal, noiseDensity float64, length int, modelLogP float64) float64 {
	if noiseDensity > 0 {
		return (math.Ceil(rawSignal) + 1) / (noiseDensity*float64(length) + 1)
	}
	return -modelLogP
}
